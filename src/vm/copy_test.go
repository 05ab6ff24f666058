package vm

import (
	"testing"

	"hlvm/src/code"
)

// TestCopyValueWidths verifies that copyValue moves exactly the slot width.
func TestCopyValueWidths(t *testing.T) {
	exp := []struct {
		t *code.Type
		n int
	}{
		{code.TypeUI8, 1},
		{code.TypeBool, 1},
		{code.TypeUI16, 2},
		{code.TypeI32, 4},
		{code.TypeF32, 4},
		{code.TypeI64, 8},
		{code.TypeF64, 8},
		{code.TypeDyn, code.WordSize},
		{code.TypeBytes, code.WordSize},
	}
	for _, e1 := range exp {
		src := make([]byte, 8)
		for i := range src {
			src[i] = byte(0xa0 + i)
		}
		dst := make([]byte, 8)
		copyValue(dst, src, e1.t)
		for i := 0; i < 8; i++ {
			want := byte(0)
			if i < e1.n {
				want = src[i]
			}
			if dst[i] != want {
				t.Errorf("%s copy: byte %d is %#x, expected %#x", e1.t.Kind, i, dst[i], want)
			}
		}
	}

	// Void copies nothing.
	dst := []byte{0xff}
	copyValue(dst, []byte{1}, code.TypeVoid)
	if dst[0] != 0xff {
		t.Errorf("void copy must not touch the destination")
	}
}

// TestCopyMinZeroExtends verifies the length-bounded copy used for indexing:
// narrow integers land zero-extended in a wider zeroed destination.
func TestCopyMinZeroExtends(t *testing.T) {
	src := make([]byte, 8)
	src[0] = 0xfe
	dst := make([]byte, 8)
	copyMin(dst, src, code.TypeUI8, 8)
	if loadI64(dst) != 0xfe {
		t.Errorf("u8 into word: expected 0xfe, got %#x", loadI64(dst))
	}

	wide := make([]byte, 8)
	storeI64(wide, 0x1122334455667788)
	narrow := make([]byte, 8)
	copyMin(narrow, wide, code.TypeI64, 4)
	if loadI64(narrow) != 0x55667788 {
		t.Errorf("i64 into 4 bytes: expected low half, got %#x", loadI64(narrow))
	}
}

// TestLoadStoreRoundTrip verifies the width-correct slot accessors.
func TestLoadStoreRoundTrip(t *testing.T) {
	b := make([]byte, 8)

	storeI32(b, code.TypeUI8, 0x1ff)
	if got := loadI32(b, code.TypeUI8); got != 0xff {
		t.Errorf("u8 narrows: expected 0xff, got %#x", got)
	}

	storeI32(b, code.TypeUI16, -1)
	if got := loadI32(b, code.TypeUI16); got != 0xffff {
		t.Errorf("u16 is unsigned: expected 0xffff, got %#x", got)
	}

	storeI32(b, code.TypeI32, -5)
	if got := loadI32(b, code.TypeI32); got != -5 {
		t.Errorf("i32 keeps sign: expected -5, got %d", got)
	}

	storeF32(b, 1.5)
	if got := loadF32(b); got != 1.5 {
		t.Errorf("f32 round trip: expected 1.5, got %g", got)
	}

	storeF64(b, -2.25)
	if got := loadF64(b); got != -2.25 {
		t.Errorf("f64 round trip: expected -2.25, got %g", got)
	}

	storePtr(b, 77)
	if got := loadPtr(b); got != 77 {
		t.Errorf("handle round trip: expected 77, got %d", got)
	}
}
