package vm

import (
	"go.uber.org/zap"

	"hlvm/src/code"
	"hlvm/src/native"
	"hlvm/src/runtime"
	"hlvm/src/util"
)

// ---------------------
// ----- Functions -----
// ---------------------

// Call invokes the function with the given function index. Each args[i] is a
// storage cell holding the argument value as encoded for argTypes[i]; the
// result lands in the return box, whose type must be preset to the expected
// return type. Defined functions run in the dispatch loop, natives go
// through the FFI caller.
func (c *Context) Call(findex int, args [][]byte, argTypes []*code.Type, ret *runtime.Dynamic) {
	if findex < 0 || findex >= len(c.m.FunctionsIndexes) {
		util.Fatalf("call to unknown function index %d", findex)
	}
	if c.opt.Trace {
		c.log.Debug("call", zap.Int("findex", findex), zap.Int("nargs", len(args)))
	}
	physical := c.m.FunctionsIndexes[findex]
	if physical >= len(c.m.Code.Functions) {
		c.nativeCall(c.m.FunctionsPtrs[findex], args, argTypes, ret)
		return
	}
	c.bytecodeCall(&c.m.Code.Functions[physical], args, argTypes, ret)
}

// CallBoxed is the host-facing entry: it invokes a function with boxed
// arguments, using each box's type as the argument type.
func (c *Context) CallBoxed(findex int, args []*runtime.Dynamic, ret *runtime.Dynamic) {
	cells := make([][]byte, len(args))
	types := make([]*code.Type, len(args))
	for i, a := range args {
		cells[i] = a.V[:]
		types[i] = a.T
	}
	c.Call(findex, cells, types, ret)
}

// bytecodeCall allocates the callee's register frame, places the arguments
// in the leading slots and runs the dispatch loop. The rest of the frame
// starts zeroed.
func (c *Context) bytecodeCall(f *code.Function, args [][]byte, argTypes []*code.Type, ret *runtime.Dynamic) {
	if ret.T.Kind != f.Type.Fun.Ret.Kind {
		util.Fatalf("return kind mismatch calling function %d: %s expected, %s given",
			f.FIndex, f.Type.Fun.Ret.Kind, ret.T.Kind)
	}
	offsets := c.FrameOffsets(f.FIndex)
	frame := make([]byte, offsets[len(f.Regs)])
	for i := range args {
		copyValue(frame[offsets[i]:], args[i], argTypes[i])
	}
	c.run(f, frame, ret)
}

// nativeCall builds the FFI call descriptor and routes the call through the
// configured caller.
func (c *Context) nativeCall(fn uintptr, args [][]byte, argTypes []*code.Type, ret *runtime.Dynamic) {
	if fn == 0 {
		util.Fatal("call to unresolved native")
	}
	spec := native.BuildSpec(argTypes, ret.T)
	c.caller.Call(fn, spec, args, ret.V[:])
}

// callbackC2HL is the re-entry point native code uses to call back into
// bytecode. Argument types come from the function type; the return box type
// is set from it as well.
func (c *Context) callbackC2HL(fun *code.Function, t *code.Type, args [][]byte, ret *runtime.Dynamic) {
	funType := t.Fun
	ret.T = funType.Ret
	c.Call(fun.FIndex, args, funType.Args, ret)
}
