// Package vm is the execution core: the interpreter context with its
// per-function register frame layouts, the call bridge between bytecode and
// native functions, and the opcode dispatch loop.
package vm

import (
	"fmt"

	"go.uber.org/zap"

	"hlvm/src/code"
	"hlvm/src/native"
	"hlvm/src/runtime"
	"hlvm/src/util"
)

// ----------------------------
// ----- Type definitions -----
// ----------------------------

// Context is one interpreter instance: a linked module, its heap, and the
// register frame layout of every defined function. A context is
// single-threaded; nothing in it may be shared across goroutines.
type Context struct {
	opt          util.Options
	log          *zap.Logger
	m            *code.Module
	heap         *runtime.Heap
	fregsOffsets [][]int          // Per physical function index: register byte offsets, plus the frame size at [nregs].
	ustrings     []runtime.Handle // Lazily interned string constants.
	bytesVals    []runtime.Handle // Lazily created byte blob constants.
	caller       native.Caller
}

// ---------------------
// ----- Functions -----
// ---------------------

// Alloc creates an empty interpreter context.
func Alloc(opt util.Options) *Context {
	return &Context{
		opt:    opt,
		log:    opt.BuildLogger(),
		heap:   runtime.NewHeap(),
		caller: native.SyscallCaller{},
	}
}

// Init binds the context to a linked module: it plans the register frame
// layout of every defined function and installs the C→bytecode callback.
func (c *Context) Init(m *code.Module) error {
	if m == nil || m.Code == nil {
		return fmt.Errorf("cannot initialise interpreter without a module")
	}
	c.m = m
	cde := m.Code

	c.fregsOffsets = make([][]int, len(cde.Functions))
	for i := range cde.Functions {
		f := &cde.Functions[i]
		offsets := make([]int, len(f.Regs)+1)
		offset := 0
		for j, reg := range f.Regs {
			offset += reg.Pad(offset)
			offsets[j] = offset
			offset += reg.Size()
		}
		offsets[len(f.Regs)] = offset
		c.fregsOffsets[i] = offsets
		c.log.Debug("planned register frame",
			zap.Int("findex", f.FIndex),
			zap.Int("nregs", len(f.Regs)),
			zap.Int("size", offset))
	}

	c.ustrings = make([]runtime.Handle, len(cde.Strings))
	c.bytesVals = make([]runtime.Handle, len(cde.BytesPos))

	native.SetupCallback(c.callbackC2HL)
	c.log.Debug("interpreter initialised",
		zap.Int("functions", len(cde.Functions)),
		zap.Int("natives", len(cde.Natives)))
	return nil
}

// Free releases the context's module bindings. With canReset the context can
// be initialised again with a fresh heap; without it the context is dead.
func (c *Context) Free(canReset bool) {
	c.m = nil
	c.fregsOffsets = nil
	c.ustrings = nil
	c.bytesVals = nil
	if canReset {
		c.heap = runtime.NewHeap()
	} else {
		c.heap = nil
	}
}

// Heap returns the context's heap.
func (c *Context) Heap() *runtime.Heap {
	return c.heap
}

// SetCaller overrides the native call implementation. The default is the
// purego syscall caller.
func (c *Context) SetCaller(caller native.Caller) {
	c.caller = caller
}

// FrameOffsets returns the planned register byte offsets of a defined
// function; the last entry is the frame byte count.
func (c *Context) FrameOffsets(findex int) []int {
	physical := c.m.FunctionsIndexes[findex]
	if physical < 0 || physical >= len(c.fregsOffsets) {
		util.Fatalf("no frame layout for function index %d", findex)
	}
	return c.fregsOffsets[physical]
}

// ustring returns the interned string constant with the given index.
func (c *Context) ustring(i int) runtime.Handle {
	if c.ustrings[i] == 0 {
		c.ustrings[i] = runtime.AllocUString(c.heap, c.m.Code.Strings[i])
	}
	return c.ustrings[i]
}

// bytesVal returns the byte blob constant with the given index.
func (c *Context) bytesVal(i int) runtime.Handle {
	if c.bytesVals[i] == 0 {
		cde := c.m.Code
		c.bytesVals[i] = c.heap.Alloc(&runtime.Bytes{Data: cde.Bytes[cde.BytesPos[i]:]})
	}
	return c.bytesVals[i]
}
