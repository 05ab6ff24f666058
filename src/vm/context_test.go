package vm

import (
	"reflect"
	"testing"

	"hlvm/src/code"
	"hlvm/src/util"
)

// TestFrameLayout verifies the planned register offsets of a mixed-width
// register file, alignment padding included.
func TestFrameLayout(t *testing.T) {
	objType := &code.Type{Kind: code.KObj, Obj: &code.TypeObj{Name: "T"}}
	c := &code.Code{Functions: []code.Function{{
		FIndex: 0,
		Type:   funType(code.TypeVoid),
		Regs: []*code.Type{
			code.TypeUI8,  // 0
			code.TypeI64,  // pad to 8
			code.TypeBool, // 16
			code.TypeF64,  // pad to 24
			objType,       // 32
			code.TypeUI16, // 40
			code.TypeI32,  // pad to 44
		},
		Ops: []code.Opcode{{Op: code.OpRet, P1: 0}},
	}}}
	ctx := newCtx(t, c)
	exp := []int{0, 8, 16, 24, 32, 40, 44, 48}
	if got := ctx.FrameOffsets(0); !reflect.DeepEqual(got, exp) {
		t.Errorf("frame offsets: expected %v, got %v", exp, got)
	}
}

// TestFrameLayoutStability verifies that re-planning a module yields
// byte-identical offsets (P4).
func TestFrameLayoutStability(t *testing.T) {
	c := &code.Code{Functions: []code.Function{{
		FIndex: 0,
		Type:   funType(code.TypeI32, code.TypeI32),
		Regs:   []*code.Type{code.TypeI32, code.TypeUI8, code.TypeF64, code.TypeI64},
		Ops:    []code.Opcode{{Op: code.OpRet, P1: 0}},
	}}}
	m, err := c.Link(nil)
	if err != nil {
		t.Fatalf("link failed: %s", err)
	}
	a := Alloc(util.Options{})
	if err := a.Init(m); err != nil {
		t.Fatalf("init failed: %s", err)
	}
	b := Alloc(util.Options{})
	if err := b.Init(m); err != nil {
		t.Fatalf("init failed: %s", err)
	}
	if !reflect.DeepEqual(a.FrameOffsets(0), b.FrameOffsets(0)) {
		t.Errorf("offsets differ across plans: %v vs %v", a.FrameOffsets(0), b.FrameOffsets(0))
	}
}

// TestVoidRegisterTakesNoSpace verifies that void registers add nothing to
// the frame (I4).
func TestVoidRegisterTakesNoSpace(t *testing.T) {
	c := &code.Code{Functions: []code.Function{{
		FIndex: 0,
		Type:   funType(code.TypeVoid),
		Regs:   []*code.Type{code.TypeVoid, code.TypeI32, code.TypeVoid},
		Ops:    []code.Opcode{{Op: code.OpRet, P1: 0}},
	}}}
	ctx := newCtx(t, c)
	exp := []int{0, 0, 4, 4}
	if got := ctx.FrameOffsets(0); !reflect.DeepEqual(got, exp) {
		t.Errorf("frame offsets: expected %v, got %v", exp, got)
	}
}

// TestFreeAndReset verifies that a reset context can be initialised again.
func TestFreeAndReset(t *testing.T) {
	c := &code.Code{Functions: []code.Function{{
		FIndex: 0,
		Type:   funType(code.TypeI32, code.TypeI32),
		Regs:   []*code.Type{code.TypeI32},
		Ops:    []code.Opcode{{Op: code.OpRet, P1: 0}},
	}}}
	m, err := c.Link(nil)
	if err != nil {
		t.Fatalf("link failed: %s", err)
	}
	ctx := Alloc(util.Options{})
	if err := ctx.Init(m); err != nil {
		t.Fatalf("init failed: %s", err)
	}
	ctx.Free(true)
	if err := ctx.Init(m); err != nil {
		t.Fatalf("re-init after reset failed: %s", err)
	}
	if got := callI32(t, ctx, 0, 3); got != 3 {
		t.Errorf("call after reset: expected 3, got %d", got)
	}
}
