package runtime

import (
	"testing"

	"hlvm/src/code"
)

// TestRootRegistry verifies that root registration and removal are balanced
// and keyed by slot address.
func TestRootRegistry(t *testing.T) {
	h := NewHeap()
	frame := make([]byte, 32)
	a := frame[0:8]
	b := frame[8:16]

	h.AddRoot(a)
	h.AddRoot(b)
	if h.NumRoots() != 2 {
		t.Fatalf("expected 2 roots, got %d", h.NumRoots())
	}

	// Re-adding the same slot must not duplicate the root.
	h.AddRoot(frame[0:8])
	if h.NumRoots() != 2 {
		t.Fatalf("expected 2 roots after re-add, got %d", h.NumRoots())
	}

	h.RemoveRoot(a)
	h.RemoveRoot(frame[8:16])
	if h.NumRoots() != 0 {
		t.Fatalf("expected no roots after removal, got %d", h.NumRoots())
	}
}

// TestMark verifies that the mark pass follows handles from root slots
// through value references.
func TestMark(t *testing.T) {
	h := NewHeap()

	inner := AllocDynamic(h, code.TypeI32)
	obj := AllocDynObj(h)
	DynSetP(h, obj, HashName("child"), code.TypeDyn, inner)
	orphan := AllocDynamic(h, code.TypeI32)

	slot := make([]byte, code.WordSize)
	PutHandle(slot, obj)
	h.AddRoot(slot)

	live := h.Mark()
	if !live[obj] || !live[inner] {
		t.Errorf("rooted object and its field must be live: %v", live)
	}
	if live[orphan] {
		t.Errorf("unrooted value must not be live")
	}

	h.RemoveRoot(slot)
	if len(h.Mark()) != 0 {
		t.Errorf("no roots means nothing is live")
	}
}

// TestIsPtr verifies the collector's pointer classification.
func TestIsPtr(t *testing.T) {
	if IsPtr(code.TypeI32) || IsPtr(code.TypeF64) || IsPtr(code.TypeBool) || IsPtr(code.TypeVoid) {
		t.Errorf("primitives and void are not traceable")
	}
	if !IsPtr(code.TypeDyn) || !IsPtr(code.TypeBytes) || !IsPtr(code.TypeArray) {
		t.Errorf("reference kinds are traceable")
	}
}
