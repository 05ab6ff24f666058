package vm

import (
	"math"

	"hlvm/src/code"
	"hlvm/src/runtime"
	"hlvm/src/util"
)

// ---------------------
// ----- Functions -----
// ---------------------

// run executes a function over its register frame until Ret copies a result
// into the return box. Every reference-holding slot is registered as a GC
// root for the whole frame lifetime and released on any exit path, fatal
// unwinds included.
func (c *Context) run(f *code.Function, frame []byte, ret *runtime.Dynamic) {
	cde := c.m.Code
	h := c.heap
	offsets := c.FrameOffsets(f.FIndex)
	regs := f.Regs

	// slot returns the byte view of register i.
	slot := func(i int) []byte {
		return frame[offsets[i] : offsets[i]+regs[i].Size()]
	}

	for i, t := range regs {
		if runtime.IsPtr(t) {
			h.AddRoot(slot(i))
		}
	}
	defer func() {
		for i, t := range regs {
			if runtime.IsPtr(t) {
				h.RemoveRoot(slot(i))
			}
		}
	}()

	ops := f.Ops
	pc := 0
	for pc >= 0 && pc < len(ops) {
		op := &ops[pc]
		switch op.Op {
		case code.OpMov:
			dt, st := regs[op.P1], regs[op.P2]
			if dt.Kind != st.Kind {
				util.Fatalf("Mov between %s and %s registers", st.Kind, dt.Kind)
			}
			copyValue(slot(op.P1), slot(op.P2), dt)

		case code.OpInt:
			dt := regs[op.P1]
			v := cde.Ints[op.P2]
			switch dt.Kind {
			case code.KUI8, code.KUI16, code.KI32:
				storeI32(slot(op.P1), dt, v)
			case code.KI64:
				storeI64(slot(op.P1), int64(v))
			default:
				util.Fatalf("Int into %s register", dt.Kind)
			}

		case code.OpFloat:
			dt := regs[op.P1]
			v := cde.Floats[op.P2]
			switch dt.Kind {
			case code.KF32:
				storeF32(slot(op.P1), float32(v))
			case code.KF64:
				storeF64(slot(op.P1), v)
			default:
				util.Fatalf("Float into %s register", dt.Kind)
			}

		case code.OpBool:
			dt := regs[op.P1]
			if dt.Kind != code.KBool {
				util.Fatalf("Bool into %s register", dt.Kind)
			}
			slot(op.P1)[0] = byte(op.P2 & 1)

		case code.OpBytes:
			dt := regs[op.P1]
			if dt.Kind != code.KBytes {
				util.Fatalf("Bytes into %s register", dt.Kind)
			}
			storePtr(slot(op.P1), c.bytesVal(op.P2))

		case code.OpString:
			dt := regs[op.P1]
			if dt.Kind != code.KBytes {
				util.Fatalf("String into %s register", dt.Kind)
			}
			storePtr(slot(op.P1), c.ustring(op.P2))

		case code.OpNull:
			dt := regs[op.P1]
			if !dt.CanBeNull() {
				util.Fatalf("Null into %s register", dt.Kind)
			}
			storePtr(slot(op.P1), 0)

		case code.OpAdd, code.OpSub, code.OpMul, code.OpSDiv, code.OpUDiv,
			code.OpSMod, code.OpUMod:
			c.arith(op, regs, slot)

		case code.OpShl, code.OpSShr, code.OpUShr, code.OpAnd, code.OpOr,
			code.OpXor:
			c.bitop(op, regs, slot)

		case code.OpNeg:
			dt, st := regs[op.P1], regs[op.P2]
			if !dt.IsNumber() || dt.Kind != st.Kind {
				util.Fatalf("Neg of %s into %s register", st.Kind, dt.Kind)
			}
			switch dt.Kind {
			case code.KUI8, code.KUI16, code.KI32:
				storeI32(slot(op.P1), dt, -loadI32(slot(op.P2), st))
			case code.KI64:
				storeI64(slot(op.P1), -loadI64(slot(op.P2)))
			case code.KF32:
				storeF32(slot(op.P1), -loadF32(slot(op.P2)))
			case code.KF64:
				storeF64(slot(op.P1), -loadF64(slot(op.P2)))
			}

		case code.OpNot:
			dt, st := regs[op.P1], regs[op.P2]
			if dt.Kind != code.KBool || st.Kind != code.KBool {
				util.Fatalf("Not of %s into %s register", st.Kind, dt.Kind)
			}
			if slot(op.P2)[0] == 0 {
				slot(op.P1)[0] = 1
			} else {
				slot(op.P1)[0] = 0
			}

		case code.OpIncr, code.OpDecr:
			dt := regs[op.P1]
			delta := int64(1)
			if op.Op == code.OpDecr {
				delta = -1
			}
			switch dt.Kind {
			case code.KUI8, code.KUI16, code.KI32:
				storeI32(slot(op.P1), dt, loadI32(slot(op.P1), dt)+int32(delta))
			case code.KI64:
				storeI64(slot(op.P1), loadI64(slot(op.P1))+delta)
			default:
				util.Fatalf("%s of %s register", op.Op, dt.Kind)
			}

		case code.OpCall0, code.OpCall1, code.OpCall2, code.OpCall3,
			code.OpCall4, code.OpCallN:
			dt := regs[op.P1]
			var argRegs []int
			switch op.Op {
			case code.OpCall1:
				argRegs = []int{op.P3}
			case code.OpCall2:
				argRegs = []int{op.P3, op.Extra[0]}
			case code.OpCall3:
				argRegs = []int{op.P3, op.Extra[0], op.Extra[1]}
			case code.OpCall4:
				argRegs = []int{op.P3, op.Extra[0], op.Extra[1], op.Extra[2]}
			case code.OpCallN:
				argRegs = op.Extra[:op.P3]
			}
			args := make([][]byte, len(argRegs))
			types := make([]*code.Type, len(argRegs))
			for i, r := range argRegs {
				args[i] = slot(r)
				types[i] = regs[r]
			}
			calleeRet := &runtime.Dynamic{T: dt}
			c.Call(op.P2, args, types, calleeRet)
			copyValue(slot(op.P1), calleeRet.V[:], dt)

		case code.OpCallMethod, code.OpCallThis:
			c.callMethod(op, regs, slot)

		case code.OpCallClosure:
			c.callClosure(op, regs, slot)

		case code.OpInstanceClosure:
			dt := regs[op.P1]
			if dt.Kind != code.KFun {
				util.Fatalf("InstanceClosure into %s register", dt.Kind)
			}
			callee := c.m.FunctionByIndex(op.P2)
			if callee == nil {
				util.Fatalf("InstanceClosure over native function %d", op.P2)
			}
			obj := loadPtr(slot(op.P3))
			storePtr(slot(op.P1), runtime.AllocClosure(h, callee.Type, op.P2, obj, true))

		case code.OpGetGlobal:
			dt := regs[op.P1]
			gt := cde.Globals[op.P2]
			if dt.Kind != gt.Kind {
				util.Fatalf("GetGlobal of %s into %s register", gt.Kind, dt.Kind)
			}
			copyValue(slot(op.P1), c.m.GlobalsData[c.m.GlobalsIndexes[op.P2]:], dt)

		case code.OpSetGlobal:
			gt := cde.Globals[op.P1]
			st := regs[op.P2]
			if gt.Kind != st.Kind {
				util.Fatalf("SetGlobal of %s into %s global", st.Kind, gt.Kind)
			}
			copyValue(c.m.GlobalsData[c.m.GlobalsIndexes[op.P1]:], slot(op.P2), st)

		case code.OpField, code.OpGetThis:
			c.getField(op, regs, slot)

		case code.OpSetField, code.OpSetThis:
			c.setField(op, regs, slot)

		case code.OpDynSet:
			if regs[op.P1].Kind != code.KDynObj {
				util.Fatalf("DynSet on %s register", regs[op.P1].Kind)
			}
			obj := loadPtr(slot(op.P1))
			if obj == 0 {
				util.Fatal("null access")
			}
			hash := runtime.HashName(cde.Strings[op.P2])
			st := regs[op.P3]
			src := slot(op.P3)
			switch st.Kind {
			case code.KBool, code.KUI8, code.KUI16, code.KI32:
				runtime.DynSetI(h, obj, hash, st, loadI32(src, st))
			case code.KI64:
				runtime.DynSetI64(h, obj, hash, loadI64(src))
			case code.KF32:
				runtime.DynSetF(h, obj, hash, loadF32(src))
			case code.KF64:
				runtime.DynSetD(h, obj, hash, loadF64(src))
			default:
				runtime.DynSetP(h, obj, hash, st, loadPtr(src))
			}

		case code.OpJTrue, code.OpJFalse:
			st := regs[op.P1]
			if st.Kind != code.KBool {
				util.Fatalf("%s on %s register", op.Op, st.Kind)
			}
			taken := slot(op.P1)[0] != 0
			if op.Op == code.OpJFalse {
				taken = !taken
			}
			if taken {
				pc += op.P2
			}

		case code.OpJNull, code.OpJNotNull:
			st := regs[op.P1]
			if !st.CanBeNull() {
				util.Fatalf("%s on %s register", op.Op, st.Kind)
			}
			taken := loadPtr(slot(op.P1)) == 0
			if op.Op == code.OpJNotNull {
				taken = !taken
			}
			if taken {
				pc += op.P2
			}

		case code.OpJSLt, code.OpJSGte, code.OpJSLte, code.OpJSGt,
			code.OpJULt, code.OpJUGte:
			if c.compare(op, regs, slot) {
				pc += op.P3
			}

		case code.OpJNotLt, code.OpJNotGte:
			// Signed/unsigned intent is unresolved upstream; no compiler is
			// known to emit these.
			util.Fatalf("unimplemented opcode %s", op.Op)

		case code.OpJEq, code.OpJNotEq:
			taken := c.equals(op, regs, slot)
			if op.Op == code.OpJNotEq {
				taken = !taken
			}
			if taken {
				pc += op.P3
			}

		case code.OpJAlways:
			pc += op.P1

		case code.OpToDyn:
			c.toDyn(op, regs, slot)

		case code.OpToSFloat, code.OpToUFloat:
			c.toFloat(op, regs, slot)

		case code.OpSafeCast:
			c.safeCast(op, regs, slot)

		case code.OpToVirtual:
			dt, st := regs[op.P1], regs[op.P2]
			if dt.Kind != code.KVirtual || !st.CanBeNull() {
				util.Fatalf("ToVirtual of %s into %s register", st.Kind, dt.Kind)
			}
			if st.Kind == code.KObj {
				runtime.GetObjRT(st) // ensure the layout exists
			}
			storePtr(slot(op.P1), runtime.ToVirtual(h, dt, loadPtr(slot(op.P2))))

		case code.OpLabel:
			// NOP, kept for debuggers.

		case code.OpRet:
			st := regs[op.P1]
			if ret.T.Kind != st.Kind {
				util.Fatalf("Ret of %s register, %s expected", st.Kind, ret.T.Kind)
			}
			copyValue(ret.V[:], slot(op.P1), st)
			return

		case code.OpSwitch:
			st := regs[op.P1]
			if !st.IsInt() {
				util.Fatalf("Switch on %s register", st.Kind)
			}
			index := loadUint(slot(op.P1), st)
			if index < uint64(op.P2) {
				pc += op.Extra[index]
			}

		case code.OpNullCheck:
			st := regs[op.P1]
			if !st.CanBeNull() {
				util.Fatalf("NullCheck on %s register", st.Kind)
			}
			if loadPtr(slot(op.P1)) == 0 {
				util.Fatal("null access")
			}

		case code.OpGetArray:
			c.getArray(op, regs, slot)

		case code.OpSetArray:
			c.setArray(op, regs, slot)

		case code.OpSetI8, code.OpSetI16, code.OpSetMem:
			c.setMem(op, regs, slot)

		case code.OpNew:
			dt := regs[op.P1]
			var obj runtime.Handle
			switch dt.Kind {
			case code.KObj, code.KStruct:
				obj = runtime.AllocObj(h, dt)
			case code.KDynObj:
				obj = runtime.AllocDynObj(h)
			case code.KVirtual:
				obj = runtime.AllocVirtual(h, dt)
			default:
				util.Fatalf("New of %s register", dt.Kind)
			}
			storePtr(slot(op.P1), obj)

		case code.OpArraySize:
			dt, at := regs[op.P1], regs[op.P2]
			if at.Kind != code.KArray || !dt.IsInt() {
				util.Fatalf("ArraySize of %s into %s register", at.Kind, dt.Kind)
			}
			arr := c.arrayAt(op.P2, slot)
			if dt.Kind == code.KI64 {
				storeI64(slot(op.P1), int64(arr.Len))
			} else {
				storeI32(slot(op.P1), dt, int32(arr.Len))
			}

		case code.OpType:
			dt := regs[op.P1]
			if dt.Kind != code.KType {
				util.Fatalf("Type into %s register", dt.Kind)
			}
			storePtr(slot(op.P1), h.TypeHandle(cde.Types[op.P2]))

		case code.OpRef:
			dt, st := regs[op.P1], regs[op.P2]
			if dt.Kind != code.KRef {
				util.Fatalf("Ref into %s register", dt.Kind)
			}
			storePtr(slot(op.P1), h.Alloc(&runtime.Ref{T: st, Cell: slot(op.P2)}))

		case code.OpUnref:
			dt, st := regs[op.P1], regs[op.P2]
			if st.Kind != code.KRef {
				util.Fatalf("Unref of %s register", st.Kind)
			}
			hd := loadPtr(slot(op.P2))
			if hd == 0 {
				util.Fatal("null access")
			}
			ref, ok := h.Get(hd).(*runtime.Ref)
			if !ok {
				util.Fatalf("Unref of non-reference value")
			}
			copyValue(slot(op.P1), ref.Cell, dt)

		case code.OpEnumAlloc:
			dt := regs[op.P1]
			if dt.Kind != code.KEnum {
				util.Fatalf("EnumAlloc into %s register", dt.Kind)
			}
			storePtr(slot(op.P1), runtime.AllocEnum(h, dt, op.P2))

		case code.OpEnumIndex:
			dt, st := regs[op.P1], regs[op.P2]
			if st.Kind != code.KEnum || !dt.IsInt() || dt.Kind == code.KI64 {
				util.Fatalf("EnumIndex of %s into %s register", st.Kind, dt.Kind)
			}
			storeI32(slot(op.P1), dt, int32(c.enumAt(op.P2, slot).Index))

		case code.OpEnumField:
			dt, st := regs[op.P1], regs[op.P2]
			if st.Kind != code.KEnum {
				util.Fatalf("EnumField of %s register", st.Kind)
			}
			offset, ft := runtime.EnumFieldOffset(st, op.P3, op.Extra[0])
			if ft.Kind != dt.Kind {
				util.Fatalf("EnumField of %s into %s register", ft.Kind, dt.Kind)
			}
			copyValue(slot(op.P1), c.enumAt(op.P2, slot).Data[offset:], dt)

		case code.OpSetEnumField:
			dt, st := regs[op.P1], regs[op.P3]
			if dt.Kind != code.KEnum {
				util.Fatalf("SetEnumField on %s register", dt.Kind)
			}
			offset, ft := runtime.EnumFieldOffset(dt, 0, op.P2)
			if ft.Kind != st.Kind {
				util.Fatalf("SetEnumField of %s into %s field", st.Kind, ft.Kind)
			}
			copyValue(c.enumAt(op.P1, slot).Data[offset:], slot(op.P3), st)

		default:
			util.Fatal(op.Op.String())
		}
		pc++
	}
	util.Fatalf("function %d ran past its last opcode", f.FIndex)
}

// arith implements the Add..UMod family. All three operands must share a
// numeric kind; division and modulo by zero yield zero.
func (c *Context) arith(op *code.Opcode, regs []*code.Type, slot func(int) []byte) {
	dt, at, bt := regs[op.P1], regs[op.P2], regs[op.P3]
	if !dt.IsNumber() || dt.Kind != at.Kind || at.Kind != bt.Kind {
		util.Fatalf("%s over %s, %s, %s registers", op.Op, dt.Kind, at.Kind, bt.Kind)
	}
	switch dt.Kind {
	case code.KUI8, code.KUI16, code.KI32:
		a := loadI32(slot(op.P2), at)
		b := loadI32(slot(op.P3), bt)
		var r int32
		switch op.Op {
		case code.OpAdd:
			r = a + b
		case code.OpSub:
			r = a - b
		case code.OpMul:
			r = a * b
		case code.OpSDiv:
			switch {
			case b == 0:
				r = 0
			case a == math.MinInt32 && b == -1:
				r = a
			default:
				r = a / b
			}
		case code.OpUDiv:
			if b != 0 {
				r = int32(uint32(a) / uint32(b))
			}
		case code.OpSMod:
			switch {
			case b == 0 || (a == math.MinInt32 && b == -1):
				r = 0
			default:
				r = a % b
			}
		case code.OpUMod:
			if b != 0 {
				r = int32(uint32(a) % uint32(b))
			}
		}
		storeI32(slot(op.P1), dt, r)
	case code.KI64:
		a := loadI64(slot(op.P2))
		b := loadI64(slot(op.P3))
		var r int64
		switch op.Op {
		case code.OpAdd:
			r = a + b
		case code.OpSub:
			r = a - b
		case code.OpMul:
			r = a * b
		case code.OpSDiv:
			switch {
			case b == 0:
				r = 0
			case a == math.MinInt64 && b == -1:
				r = a
			default:
				r = a / b
			}
		case code.OpUDiv:
			if b != 0 {
				r = int64(uint64(a) / uint64(b))
			}
		case code.OpSMod:
			switch {
			case b == 0 || (a == math.MinInt64 && b == -1):
				r = 0
			default:
				r = a % b
			}
		case code.OpUMod:
			if b != 0 {
				r = int64(uint64(a) % uint64(b))
			}
		}
		storeI64(slot(op.P1), r)
	case code.KF32:
		a := loadF32(slot(op.P2))
		b := loadF32(slot(op.P3))
		var r float32
		switch op.Op {
		case code.OpAdd:
			r = a + b
		case code.OpSub:
			r = a - b
		case code.OpMul:
			r = a * b
		case code.OpSDiv:
			if b != 0 {
				r = a / b
			}
		case code.OpSMod:
			if b != 0 {
				r = float32(math.Mod(float64(a), float64(b)))
			}
		default:
			util.Fatalf("%s over f32 registers", op.Op)
		}
		storeF32(slot(op.P1), r)
	case code.KF64:
		a := loadF64(slot(op.P2))
		b := loadF64(slot(op.P3))
		var r float64
		switch op.Op {
		case code.OpAdd:
			r = a + b
		case code.OpSub:
			r = a - b
		case code.OpMul:
			r = a * b
		case code.OpSDiv:
			if b != 0 {
				r = a / b
			}
		case code.OpSMod:
			if b != 0 {
				r = math.Mod(a, b)
			}
		default:
			util.Fatalf("%s over f64 registers", op.Op)
		}
		storeF64(slot(op.P1), r)
	}
}

// bitop implements the Shl..Xor family over integer registers. Shift counts
// are masked to 31 for registers up to 32 bits wide and to 63 for i64.
func (c *Context) bitop(op *code.Opcode, regs []*code.Type, slot func(int) []byte) {
	dt, at, bt := regs[op.P1], regs[op.P2], regs[op.P3]
	if !dt.IsInt() || dt.Kind != at.Kind || at.Kind != bt.Kind {
		util.Fatalf("%s over %s, %s, %s registers", op.Op, dt.Kind, at.Kind, bt.Kind)
	}
	switch dt.Kind {
	case code.KUI8, code.KUI16, code.KI32:
		a := loadI32(slot(op.P2), at)
		b := loadI32(slot(op.P3), bt)
		shift := uint32(b) & 31
		var r int32
		switch op.Op {
		case code.OpShl:
			r = a << shift
		case code.OpSShr:
			r = a >> shift
		case code.OpUShr:
			r = int32(uint32(a) >> shift)
		case code.OpAnd:
			r = a & b
		case code.OpOr:
			r = a | b
		case code.OpXor:
			r = a ^ b
		}
		storeI32(slot(op.P1), dt, r)
	case code.KI64:
		a := loadI64(slot(op.P2))
		b := loadI64(slot(op.P3))
		shift := uint64(b) & 63
		var r int64
		switch op.Op {
		case code.OpShl:
			r = a << shift
		case code.OpSShr:
			r = a >> shift
		case code.OpUShr:
			r = int64(uint64(a) >> shift)
		case code.OpAnd:
			r = a & b
		case code.OpOr:
			r = a | b
		case code.OpXor:
			r = a ^ b
		}
		storeI64(slot(op.P1), r)
	}
}

// compare implements the signed/unsigned ordered branches. Unsigned
// comparison is only defined over integer kinds.
func (c *Context) compare(op *code.Opcode, regs []*code.Type, slot func(int) []byte) bool {
	at, bt := regs[op.P1], regs[op.P2]
	if !at.IsNumber() || at.Kind != bt.Kind {
		util.Fatalf("%s over %s and %s registers", op.Op, at.Kind, bt.Kind)
	}
	switch at.Kind {
	case code.KUI8, code.KUI16, code.KI32:
		a := loadI32(slot(op.P1), at)
		b := loadI32(slot(op.P2), bt)
		switch op.Op {
		case code.OpJSLt:
			return a < b
		case code.OpJSGte:
			return a >= b
		case code.OpJSLte:
			return a <= b
		case code.OpJSGt:
			return a > b
		case code.OpJULt:
			return uint32(a) < uint32(b)
		case code.OpJUGte:
			return uint32(a) >= uint32(b)
		}
	case code.KI64:
		a := loadI64(slot(op.P1))
		b := loadI64(slot(op.P2))
		switch op.Op {
		case code.OpJSLt:
			return a < b
		case code.OpJSGte:
			return a >= b
		case code.OpJSLte:
			return a <= b
		case code.OpJSGt:
			return a > b
		case code.OpJULt:
			return uint64(a) < uint64(b)
		case code.OpJUGte:
			return uint64(a) >= uint64(b)
		}
	case code.KF32:
		a := loadF32(slot(op.P1))
		b := loadF32(slot(op.P2))
		switch op.Op {
		case code.OpJSLt:
			return a < b
		case code.OpJSGte:
			return a >= b
		case code.OpJSLte:
			return a <= b
		case code.OpJSGt:
			return a > b
		}
	case code.KF64:
		a := loadF64(slot(op.P1))
		b := loadF64(slot(op.P2))
		switch op.Op {
		case code.OpJSLt:
			return a < b
		case code.OpJSGte:
			return a >= b
		case code.OpJSLte:
			return a <= b
		case code.OpJSGt:
			return a > b
		}
	}
	util.Fatalf("%s over %s registers", op.Op, at.Kind)
	return false
}

// equals implements JEq/JNotEq: value equality for primitives, reference
// equality for reference kinds, delegated dynamic equality for dyn and fun
// operands. Float equality is raw; NaN never compares equal.
func (c *Context) equals(op *code.Opcode, regs []*code.Type, slot func(int) []byte) bool {
	at, bt := regs[op.P1], regs[op.P2]
	if at.Kind == code.KDyn || bt.Kind == code.KDyn ||
		at.Kind == code.KFun || bt.Kind == code.KFun {
		return runtime.ValueEquals(c.heap, loadPtr(slot(op.P1)), loadPtr(slot(op.P2)))
	}
	if at.Kind != bt.Kind {
		util.Fatalf("%s over %s and %s registers", op.Op, at.Kind, bt.Kind)
	}
	switch at.Kind {
	case code.KBool, code.KUI8, code.KUI16, code.KI32:
		return loadI32(slot(op.P1), at) == loadI32(slot(op.P2), bt)
	case code.KI64:
		return loadI64(slot(op.P1)) == loadI64(slot(op.P2))
	case code.KF32:
		return loadF32(slot(op.P1)) == loadF32(slot(op.P2))
	case code.KF64:
		return loadF64(slot(op.P1)) == loadF64(slot(op.P2))
	default:
		if !at.CanBeNull() {
			util.Fatalf("%s over %s registers", op.Op, at.Kind)
		}
		return loadPtr(slot(op.P1)) == loadPtr(slot(op.P2))
	}
}

// callMethod implements CallMethod and CallThis: the method table entry of
// the receiver's object type picks the function index, the receiver is
// prepended to the declared arguments and the call goes through the bridge.
func (c *Context) callMethod(op *code.Opcode, regs []*code.Type, slot func(int) []byte) {
	objReg, proto := op.P2, op.P3
	if op.Op == code.OpCallThis {
		objReg, proto = 0, op.P2
	}
	ot := regs[objReg]
	if ot.Kind != code.KObj && ot.Kind != code.KStruct {
		util.Fatalf("%s on %s receiver", op.Op, ot.Kind)
	}
	if loadPtr(slot(objReg)) == 0 {
		util.Fatal("null access")
	}
	findex := runtime.GetObjRT(ot).MethodFIndex(proto)

	args := make([][]byte, 1+len(op.Extra))
	types := make([]*code.Type, 1+len(op.Extra))
	args[0] = slot(objReg)
	types[0] = ot
	for i, r := range op.Extra {
		args[i+1] = slot(r)
		types[i+1] = regs[r]
	}
	dt := regs[op.P1]
	calleeRet := &runtime.Dynamic{T: dt}
	c.Call(findex, args, types, calleeRet)
	copyValue(slot(op.P1), calleeRet.V[:], dt)
}

// callClosure implements CallClosure: a bound receiver, if any, is prepended
// as a dyn-typed argument before the declared ones.
func (c *Context) callClosure(op *code.Opcode, regs []*code.Type, slot func(int) []byte) {
	ft := regs[op.P2]
	if ft.Kind != code.KFun {
		util.Fatalf("CallClosure on %s register", ft.Kind)
	}
	hd := loadPtr(slot(op.P2))
	if hd == 0 {
		util.Fatal("null access")
	}
	cl, ok := c.heap.Get(hd).(*runtime.Closure)
	if !ok {
		util.Fatalf("CallClosure on non-closure value")
	}

	nargs := op.P3
	total := nargs
	if cl.HasValue {
		total++
	}
	args := make([][]byte, total)
	types := make([]*code.Type, total)
	base := 0
	if cl.HasValue {
		recv := make([]byte, code.WordSize)
		runtime.PutHandle(recv, cl.Value)
		args[0] = recv
		types[0] = code.TypeDyn
		base = 1
	}
	for i := 0; i < nargs; i++ {
		r := op.Extra[i]
		args[base+i] = slot(r)
		types[base+i] = regs[r]
	}
	dt := regs[op.P1]
	calleeRet := &runtime.Dynamic{T: dt}
	c.Call(cl.FIndex, args, types, calleeRet)
	copyValue(slot(op.P1), calleeRet.V[:], dt)
}

// getField implements Field and GetThis over object, struct and virtual
// receivers. Virtual reads prefer the fast field cell and fall back to
// hashed dynamic access.
func (c *Context) getField(op *code.Opcode, regs []*code.Type, slot func(int) []byte) {
	h := c.heap
	objReg, fieldIdx := op.P2, op.P3
	if op.Op == code.OpGetThis {
		objReg, fieldIdx = 0, op.P2
	}
	dt, st := regs[op.P1], regs[objReg]
	switch st.Kind {
	case code.KObj, code.KStruct:
		rt := runtime.GetObjRT(st)
		field := rt.FieldFetch(fieldIdx)
		if dt.Kind != field.T.Kind {
			util.Fatalf("%s of %s field into %s register", op.Op, field.T.Kind, dt.Kind)
		}
		obj := c.objAt(objReg, slot)
		copyValue(slot(op.P1), obj.Data[rt.FieldsIndexes[fieldIdx]:], dt)
	case code.KVirtual:
		hd := loadPtr(slot(objReg))
		if hd == 0 {
			util.Fatal("null access")
		}
		virt, ok := h.Get(hd).(*runtime.Virtual)
		if !ok {
			util.Fatalf("%s on non-virtual value", op.Op)
		}
		field := st.Virt.Fields[fieldIdx]
		if dt.Kind != field.T.Kind {
			util.Fatalf("%s of %s field into %s register", op.Op, field.T.Kind, dt.Kind)
		}
		if cell := virt.VFields[fieldIdx]; cell != nil {
			copyValue(slot(op.P1), cell.Data, dt)
			return
		}
		hash := runtime.VirtHash(st, fieldIdx)
		switch dt.Kind {
		case code.KBool, code.KUI8, code.KUI16, code.KI32:
			storeI32(slot(op.P1), dt, runtime.DynGetI(h, hd, hash, dt))
		case code.KI64:
			storeI64(slot(op.P1), runtime.DynGetI64(h, hd, hash))
		case code.KF32:
			storeF32(slot(op.P1), runtime.DynGetF(h, hd, hash))
		case code.KF64:
			storeF64(slot(op.P1), runtime.DynGetD(h, hd, hash))
		default:
			storePtr(slot(op.P1), runtime.DynGetP(h, hd, hash, dt))
		}
	case code.KDyn:
		// A dyn receiver leaves the destination untouched; dynamic reads go
		// through explicit DynGet sequences.
	default:
		util.Fatalf("%s on %s receiver", op.Op, st.Kind)
	}
}

// setField implements SetField and SetThis, mirroring getField. Virtual
// writes consult the destination register's virtual layout.
func (c *Context) setField(op *code.Opcode, regs []*code.Type, slot func(int) []byte) {
	h := c.heap
	objReg, fieldIdx, srcReg := op.P1, op.P2, op.P3
	if op.Op == code.OpSetThis {
		objReg, fieldIdx, srcReg = 0, op.P1, op.P2
	}
	dt, st := regs[objReg], regs[srcReg]
	switch dt.Kind {
	case code.KObj, code.KStruct:
		rt := runtime.GetObjRT(dt)
		field := rt.FieldFetch(fieldIdx)
		if st.Kind != field.T.Kind {
			util.Fatalf("%s of %s register into %s field", op.Op, st.Kind, field.T.Kind)
		}
		obj := c.objAt(objReg, slot)
		copyValue(obj.Data[rt.FieldsIndexes[fieldIdx]:], slot(srcReg), st)
	case code.KVirtual:
		hd := loadPtr(slot(objReg))
		if hd == 0 {
			util.Fatal("null access")
		}
		virt, ok := h.Get(hd).(*runtime.Virtual)
		if !ok {
			util.Fatalf("%s on non-virtual value", op.Op)
		}
		field := dt.Virt.Fields[fieldIdx]
		if st.Kind != field.T.Kind {
			util.Fatalf("%s of %s register into %s field", op.Op, st.Kind, field.T.Kind)
		}
		if cell := virt.VFields[fieldIdx]; cell != nil {
			copyValue(cell.Data, slot(srcReg), st)
			return
		}
		hash := runtime.VirtHash(dt, fieldIdx)
		src := slot(srcReg)
		switch st.Kind {
		case code.KBool, code.KUI8, code.KUI16, code.KI32:
			runtime.DynSetI(h, hd, hash, st, loadI32(src, st))
		case code.KI64:
			runtime.DynSetI64(h, hd, hash, loadI64(src))
		case code.KF32:
			runtime.DynSetF(h, hd, hash, loadF32(src))
		case code.KF64:
			runtime.DynSetD(h, hd, hash, loadF64(src))
		default:
			runtime.DynSetP(h, hd, hash, st, loadPtr(src))
		}
	default:
		util.Fatalf("%s on %s receiver", op.Op, dt.Kind)
	}
}

// toDyn implements ToDyn: booleans use the canonical boxes, null references
// stay null, everything else is boxed with its register type.
func (c *Context) toDyn(op *code.Opcode, regs []*code.Type, slot func(int) []byte) {
	h := c.heap
	dt, st := regs[op.P1], regs[op.P2]
	if dt.Kind != code.KDyn && dt.Kind != code.KNull {
		util.Fatalf("ToDyn into %s register", dt.Kind)
	}
	var dyn runtime.Handle
	switch {
	case st.Kind == code.KBool:
		dyn = runtime.AllocDynBool(h, slot(op.P2)[0] != 0)
	case st.CanBeNull() && loadPtr(slot(op.P2)) == 0:
		dyn = 0
	default:
		box := &runtime.Dynamic{T: st}
		copyValue(box.V[:], slot(op.P2), st)
		dyn = h.Alloc(box)
	}
	storePtr(slot(op.P1), dyn)
}

// toFloat implements ToSFloat and ToUFloat: numeric conversion into a float
// register, reading the integer source with signed or unsigned
// interpretation.
func (c *Context) toFloat(op *code.Opcode, regs []*code.Type, slot func(int) []byte) {
	unsigned := op.Op == code.OpToUFloat
	dt, st := regs[op.P1], regs[op.P2]
	if !dt.IsFloat() || !st.IsNumber() {
		util.Fatalf("%s of %s into %s register", op.Op, st.Kind, dt.Kind)
	}
	if dt.Kind == st.Kind {
		copyValue(slot(op.P1), slot(op.P2), dt)
		return
	}
	var v float64
	switch st.Kind {
	case code.KUI8, code.KUI16, code.KI32:
		iv := loadI32(slot(op.P2), st)
		if unsigned {
			v = float64(uint32(iv))
		} else {
			v = float64(iv)
		}
	case code.KI64:
		iv := loadI64(slot(op.P2))
		if unsigned {
			v = float64(uint64(iv))
		} else {
			v = float64(iv)
		}
	case code.KF32:
		if unsigned {
			util.Fatalf("%s of %s register", op.Op, st.Kind)
		}
		v = float64(loadF32(slot(op.P2)))
	case code.KF64:
		if unsigned {
			util.Fatalf("%s of %s register", op.Op, st.Kind)
		}
		v = loadF64(slot(op.P2))
	}
	if dt.Kind == code.KF32 {
		storeF32(slot(op.P1), float32(v))
	} else {
		storeF64(slot(op.P1), v)
	}
}

// safeCast implements SafeCast by delegating to the dynamic runtime's typed
// cast family, selected by the destination kind.
func (c *Context) safeCast(op *code.Opcode, regs []*code.Type, slot func(int) []byte) {
	h := c.heap
	dt, st := regs[op.P1], regs[op.P2]
	src := slot(op.P2)
	switch dt.Kind {
	case code.KBool, code.KUI8, code.KUI16, code.KI32:
		storeI32(slot(op.P1), dt, runtime.CastI(h, src, st, dt))
	case code.KI64:
		storeI64(slot(op.P1), runtime.CastI64(h, src, st))
	case code.KF32:
		storeF32(slot(op.P1), runtime.CastF(h, src, st))
	case code.KF64:
		storeF64(slot(op.P1), runtime.CastD(h, src, st))
	default:
		storePtr(slot(op.P1), runtime.CastP(h, src, st, dt))
	}
}

// getArray implements GetArray over typed arrays. The index register is read
// as a host-sized unsigned value.
func (c *Context) getArray(op *code.Opcode, regs []*code.Type, slot func(int) []byte) {
	dt, at, it := regs[op.P1], regs[op.P2], regs[op.P3]
	if !it.IsInt() {
		util.Fatalf("GetArray with %s index register", it.Kind)
	}
	if at.Kind != code.KArray {
		util.Fatalf("GetArray on %s register", at.Kind)
	}
	arr := c.arrayAt(op.P2, slot)
	if arr.At.Kind != dt.Kind {
		util.Fatalf("GetArray of %s element into %s register", arr.At.Kind, dt.Kind)
	}
	index := loadUint(slot(op.P3), it)
	if index >= uint64(arr.Len) {
		util.Fatalf("array access out of bounds (%d >= %d)", index, arr.Len)
	}
	copyValue(slot(op.P1), arr.Data[int(index)*arr.At.Size():], arr.At)
}

// setArray implements SetArray, mirroring getArray.
func (c *Context) setArray(op *code.Opcode, regs []*code.Type, slot func(int) []byte) {
	at, it, st := regs[op.P1], regs[op.P2], regs[op.P3]
	if !it.IsInt() {
		util.Fatalf("SetArray with %s index register", it.Kind)
	}
	if at.Kind != code.KArray {
		util.Fatalf("SetArray on %s register", at.Kind)
	}
	arr := c.arrayAt(op.P1, slot)
	if arr.At.Kind != st.Kind {
		util.Fatalf("SetArray of %s register into %s array", st.Kind, arr.At.Kind)
	}
	index := loadUint(slot(op.P2), it)
	if index >= uint64(arr.Len) {
		util.Fatalf("array access out of bounds (%d >= %d)", index, arr.Len)
	}
	copyValue(arr.Data[int(index)*arr.At.Size():], slot(op.P3), arr.At)
}

// setMem implements SetI8, SetI16 and SetMem: byte, half and typed stores
// into a raw byte buffer at an integer offset.
func (c *Context) setMem(op *code.Opcode, regs []*code.Type, slot func(int) []byte) {
	dt, it, st := regs[op.P1], regs[op.P2], regs[op.P3]
	if dt.Kind != code.KBytes || !it.IsInt() || !st.IsNumber() || st.Kind == code.KI64 {
		util.Fatalf("%s over %s, %s, %s registers", op.Op, dt.Kind, it.Kind, st.Kind)
	}
	hd := loadPtr(slot(op.P1))
	if hd == 0 {
		util.Fatal("null access")
	}
	bts, ok := c.heap.Get(hd).(*runtime.Bytes)
	if !ok {
		util.Fatalf("%s on non-bytes value", op.Op)
	}
	offset := loadUint(slot(op.P2), it)
	switch op.Op {
	case code.OpSetI8, code.OpSetI16:
		if !st.IsInt() {
			util.Fatalf("%s of %s register", op.Op, st.Kind)
		}
		v := loadI32(slot(op.P3), st)
		if op.Op == code.OpSetI8 {
			bts.Data[offset] = byte(v)
		} else {
			bts.Data[offset] = byte(v)
			bts.Data[offset+1] = byte(v >> 8)
		}
	case code.OpSetMem:
		copyValue(bts.Data[offset:], slot(op.P3), st)
	}
}

// objAt loads the non-null object behind register i.
func (c *Context) objAt(i int, slot func(int) []byte) *runtime.Obj {
	hd := loadPtr(slot(i))
	if hd == 0 {
		util.Fatal("null access")
	}
	obj, ok := c.heap.Get(hd).(*runtime.Obj)
	if !ok {
		util.Fatalf("object access on non-object value")
	}
	return obj
}

// arrayAt loads the non-null array behind register i.
func (c *Context) arrayAt(i int, slot func(int) []byte) *runtime.Array {
	hd := loadPtr(slot(i))
	if hd == 0 {
		util.Fatal("null access")
	}
	arr, ok := c.heap.Get(hd).(*runtime.Array)
	if !ok {
		util.Fatalf("array access on non-array value")
	}
	return arr
}

// enumAt loads the non-null enum value behind register i.
func (c *Context) enumAt(i int, slot func(int) []byte) *runtime.Enum {
	hd := loadPtr(slot(i))
	if hd == 0 {
		util.Fatal("null access")
	}
	e, ok := c.heap.Get(hd).(*runtime.Enum)
	if !ok {
		util.Fatalf("enum access on non-enum value")
	}
	return e
}
