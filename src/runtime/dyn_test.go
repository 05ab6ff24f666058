package runtime

import (
	"encoding/binary"
	"math"
	"testing"

	"hlvm/src/code"
)

// TestHashName verifies that field hashes are stable, non-zero and distinct
// for distinct names.
func TestHashName(t *testing.T) {
	names := []string{"x", "y", "position", "velocity", "a_rather_long_field_name"}
	seen := make(map[int32]string)
	for _, n := range names {
		h := HashName(n)
		if h == 0 {
			t.Errorf("hash of %q is zero", n)
		}
		if h != HashName(n) {
			t.Errorf("hash of %q is not stable", n)
		}
		if prev, ok := seen[h]; ok {
			t.Errorf("hash collision between %q and %q", prev, n)
		}
		seen[h] = n
	}
}

// TestDynFieldRoundTrip verifies hashed set/get on a dynamic object for every
// numeric width, including cross-kind conversion.
func TestDynFieldRoundTrip(t *testing.T) {
	h := NewHeap()
	obj := AllocDynObj(h)

	DynSetI(h, obj, HashName("i"), code.TypeI32, -42)
	if got := DynGetI(h, obj, HashName("i"), code.TypeI32); got != -42 {
		t.Errorf("i32 round trip: expected -42, got %d", got)
	}

	DynSetI64(h, obj, HashName("l"), 1<<40)
	if got := DynGetI64(h, obj, HashName("l")); got != 1<<40 {
		t.Errorf("i64 round trip: expected 1<<40, got %d", got)
	}

	DynSetF(h, obj, HashName("f"), 1.5)
	if got := DynGetF(h, obj, HashName("f")); got != 1.5 {
		t.Errorf("f32 round trip: expected 1.5, got %g", got)
	}

	DynSetD(h, obj, HashName("d"), 2.25)
	if got := DynGetD(h, obj, HashName("d")); got != 2.25 {
		t.Errorf("f64 round trip: expected 2.25, got %g", got)
	}

	// A float-typed field read as an integer converts.
	if got := DynGetI(h, obj, HashName("d"), code.TypeI32); got != 2 {
		t.Errorf("float field as integer: expected 2, got %d", got)
	}

	// A missing field reads as zero.
	if got := DynGetI(h, obj, HashName("missing"), code.TypeI32); got != 0 {
		t.Errorf("missing field: expected 0, got %d", got)
	}
}

// TestDynBoolCanonical verifies the canonical pre-boxed booleans.
func TestDynBoolCanonical(t *testing.T) {
	h := NewHeap()
	if AllocDynBool(h, true) != AllocDynBool(h, true) {
		t.Errorf("boxed true must be canonical")
	}
	if AllocDynBool(h, false) != AllocDynBool(h, false) {
		t.Errorf("boxed false must be canonical")
	}
	if AllocDynBool(h, true) == AllocDynBool(h, false) {
		t.Errorf("boxed true and false must differ")
	}
}

// TestBoxingRoundTrip verifies that boxing a primitive and casting it back
// reproduces the value for every primitive kind.
func TestBoxingRoundTrip(t *testing.T) {
	h := NewHeap()
	exp := []struct {
		t    *code.Type
		bits uint64
	}{
		{code.TypeUI8, 0xab},
		{code.TypeUI16, 0xbeef},
		{code.TypeI32, uint64(uint32(0x80000001))},
		{code.TypeI64, 0x123456789abcdef0},
		{code.TypeBool, 1},
	}
	for _, e1 := range exp {
		box := &Dynamic{T: e1.t}
		binary.LittleEndian.PutUint64(box.V[:], e1.bits)
		cell := make([]byte, code.WordSize)
		PutHandle(cell, h.Alloc(box))

		got := CastI64(h, cell, code.TypeDyn)
		want := loadInt(box.V[:], e1.t)
		if got != want {
			t.Errorf("boxed %s round trip: expected %d, got %d", e1.t.Kind, want, got)
		}
	}

	fbox := &Dynamic{T: code.TypeF64}
	binary.LittleEndian.PutUint64(fbox.V[:], math.Float64bits(3.75))
	cell := make([]byte, code.WordSize)
	PutHandle(cell, h.Alloc(fbox))
	if got := CastD(h, cell, code.TypeDyn); got != 3.75 {
		t.Errorf("boxed f64 round trip: expected 3.75, got %g", got)
	}
	if got := CastI(h, cell, code.TypeDyn, code.TypeI32); got != 3 {
		t.Errorf("boxed f64 as i32: expected 3, got %d", got)
	}
}

// TestCastNullYieldsZero verifies that casting a null reference produces the
// zero value.
func TestCastNullYieldsZero(t *testing.T) {
	h := NewHeap()
	cell := make([]byte, code.WordSize)
	if got := CastI(h, cell, code.TypeDyn, code.TypeI32); got != 0 {
		t.Errorf("null cast to i32: expected 0, got %d", got)
	}
	if got := CastD(h, cell, code.TypeDyn); got != 0 {
		t.Errorf("null cast to f64: expected 0, got %g", got)
	}
	if got := CastP(h, cell, code.TypeDyn, code.TypeDynObj); got != 0 {
		t.Errorf("null cast to reference: expected null, got %d", got)
	}
}

// TestToVirtualFastAndFallback verifies the two field access paths of a
// virtual projection: a kind-matched underlying cell binds a fast slot, a
// differently shaped one falls back to hashed access with conversion.
func TestToVirtualFastAndFallback(t *testing.T) {
	h := NewHeap()
	vt := &code.Type{Kind: code.KVirtual, Virt: &code.TypeVirtual{
		Fields: []code.Field{{Name: "x", T: code.TypeI32}},
	}}

	fast := AllocDynObj(h)
	DynSetI(h, fast, HashName("x"), code.TypeI32, 13)
	fastV := h.Get(ToVirtual(h, vt, fast)).(*Virtual)
	if fastV.VFields[0] == nil {
		t.Fatalf("kind-matched field must bind a fast slot")
	}
	if got := loadInt(fastV.VFields[0].Data, code.TypeI32); got != 13 {
		t.Errorf("fast slot read: expected 13, got %d", got)
	}

	slow := AllocDynObj(h)
	DynSetD(h, slow, HashName("x"), 13)
	slowH := ToVirtual(h, vt, slow)
	slowV := h.Get(slowH).(*Virtual)
	if slowV.VFields[0] != nil {
		t.Fatalf("kind-mismatched field must not bind a fast slot")
	}
	if got := DynGetI(h, slowH, HashName("x"), code.TypeI32); got != 13 {
		t.Errorf("hashed fallback read: expected 13, got %d", got)
	}
}

// TestToVirtualOverObject verifies field projection over a typed object.
func TestToVirtualOverObject(t *testing.T) {
	h := NewHeap()
	ot := &code.Type{Kind: code.KObj, Obj: &code.TypeObj{
		Name:   "Point",
		Fields: []code.Field{{Name: "x", T: code.TypeI32}, {Name: "y", T: code.TypeI32}},
	}}
	vt := &code.Type{Kind: code.KVirtual, Virt: &code.TypeVirtual{
		Fields: []code.Field{{Name: "y", T: code.TypeI32}},
	}}

	obj := AllocObj(h, ot)
	rt := GetObjRT(ot)
	storeInt(h.Get(obj).(*Obj).Data[rt.FieldsIndexes[1]:], code.TypeI32, 7)

	v := h.Get(ToVirtual(h, vt, obj)).(*Virtual)
	if v.VFields[0] == nil {
		t.Fatalf("object field must bind a fast slot")
	}
	if got := loadInt(v.VFields[0].Data, code.TypeI32); got != 7 {
		t.Errorf("projected field read: expected 7, got %d", got)
	}
}

// TestObjLayout verifies flattened field offsets across a super chain.
func TestObjLayout(t *testing.T) {
	super := &code.Type{Kind: code.KObj, Obj: &code.TypeObj{
		Name:   "Base",
		Fields: []code.Field{{Name: "tag", T: code.TypeUI8}},
	}}
	sub := &code.Type{Kind: code.KObj, Obj: &code.TypeObj{
		Name:   "Sub",
		Super:  super,
		Fields: []code.Field{{Name: "value", T: code.TypeI64}, {Name: "flag", T: code.TypeBool}},
	}}

	rt := GetObjRT(sub)
	if len(rt.Fields) != 3 {
		t.Fatalf("expected 3 flattened fields, got %d", len(rt.Fields))
	}
	if exp := []int{0, 8, 16}; rt.FieldsIndexes[0] != exp[0] ||
		rt.FieldsIndexes[1] != exp[1] || rt.FieldsIndexes[2] != exp[2] {
		t.Errorf("field offsets: expected %v, got %v", exp, rt.FieldsIndexes)
	}
	if rt.Size != 17 {
		t.Errorf("layout size: expected 17, got %d", rt.Size)
	}
}

// TestEnumLayout verifies per-constructor parameter offsets.
func TestEnumLayout(t *testing.T) {
	et := &code.Type{Kind: code.KEnum, Enum: &code.TypeEnum{
		Name: "Shape",
		Constructs: []code.EnumConstruct{
			{Name: "Point", Params: nil},
			{Name: "Circle", Params: []*code.Type{code.TypeUI8, code.TypeF64}},
		},
	}}
	offset, ft := EnumFieldOffset(et, 1, 1)
	if offset != 8 || ft.Kind != code.KF64 {
		t.Errorf("second parameter of Circle: expected offset 8 f64, got %d %s", offset, ft.Kind)
	}

	h := NewHeap()
	e := h.Get(AllocEnum(h, et, 1)).(*Enum)
	if e.Index != 1 || len(e.Data) != 16 {
		t.Errorf("Circle storage: expected index 1 and 16 bytes, got %d and %d", e.Index, len(e.Data))
	}
}

// TestValueEquals verifies dynamic equality on handles and boxes.
func TestValueEquals(t *testing.T) {
	h := NewHeap()
	a := AllocDynObj(h)
	if !ValueEquals(h, a, a) {
		t.Errorf("a value equals itself")
	}
	if ValueEquals(h, a, AllocDynObj(h)) {
		t.Errorf("distinct dynamic objects are not equal")
	}

	boxA := &Dynamic{T: code.TypeI32}
	storeInt(boxA.V[:], code.TypeI32, 7)
	boxB := &Dynamic{T: code.TypeI32}
	storeInt(boxB.V[:], code.TypeI32, 7)
	if !ValueEquals(h, h.Alloc(boxA), h.Alloc(boxB)) {
		t.Errorf("same-kind boxes compare by value")
	}
}
