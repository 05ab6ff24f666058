package vm

import (
	"encoding/binary"
	"math"

	"hlvm/src/code"
	"hlvm/src/runtime"
	"hlvm/src/util"
)

// ---------------------
// ----- Functions -----
// ---------------------

// copyValue copies exactly one slot of type t from src to dst. Void copies
// nothing; packed has no slot representation and is fatal.
func copyValue(dst, src []byte, t *code.Type) {
	switch t.Kind {
	case code.KUI8, code.KBool:
		dst[0] = src[0]
	case code.KUI16:
		copy(dst[:2], src[:2])
	case code.KI32, code.KF32:
		copy(dst[:4], src[:4])
	case code.KI64, code.KF64:
		copy(dst[:8], src[:8])
	case code.KBytes, code.KDyn, code.KFun, code.KObj, code.KArray,
		code.KType, code.KRef, code.KVirtual, code.KDynObj, code.KAbstract,
		code.KEnum, code.KNull, code.KMethod, code.KStruct:
		copy(dst[:code.WordSize], src[:code.WordSize])
	case code.KVoid:
	default:
		util.Fatalf("copy of unsupported type kind %s", t.Kind)
	}
}

// copyMin copies at most max bytes of a slot of type t from src to dst.
// Slots are little-endian, so copying the low bytes of a wider integer into
// a zeroed destination zero-extends it.
func copyMin(dst, src []byte, t *code.Type, max int) {
	n := t.Size()
	if t.Kind == code.KPacked {
		util.Fatalf("copy of unsupported type kind %s", t.Kind)
	}
	if n > max {
		n = max
	}
	copy(dst[:n], src[:n])
}

// loadI32 reads a 32-bit-or-narrower integer or boolean slot, zero-extending
// the narrow unsigned widths.
func loadI32(b []byte, t *code.Type) int32 {
	switch t.Kind {
	case code.KUI8, code.KBool:
		return int32(b[0])
	case code.KUI16:
		return int32(binary.LittleEndian.Uint16(b))
	case code.KI32:
		return int32(binary.LittleEndian.Uint32(b))
	default:
		util.Fatalf("32-bit load from %s register", t.Kind)
		return 0
	}
}

// storeI32 writes v into a 32-bit-or-narrower integer or boolean slot,
// truncating to the slot width.
func storeI32(b []byte, t *code.Type, v int32) {
	switch t.Kind {
	case code.KUI8, code.KBool:
		b[0] = byte(v)
	case code.KUI16:
		binary.LittleEndian.PutUint16(b, uint16(v))
	case code.KI32:
		binary.LittleEndian.PutUint32(b, uint32(v))
	default:
		util.Fatalf("32-bit store into %s register", t.Kind)
	}
}

// loadUint reads any integer slot as a zero-extended host-sized unsigned
// value, the indexing form used by Switch and array access.
func loadUint(b []byte, t *code.Type) uint64 {
	switch t.Kind {
	case code.KUI8:
		return uint64(b[0])
	case code.KUI16:
		return uint64(binary.LittleEndian.Uint16(b))
	case code.KI32:
		return uint64(binary.LittleEndian.Uint32(b))
	case code.KI64:
		return binary.LittleEndian.Uint64(b)
	default:
		util.Fatalf("unsigned load from %s register", t.Kind)
		return 0
	}
}

func loadI64(b []byte) int64     { return int64(binary.LittleEndian.Uint64(b)) }
func storeI64(b []byte, v int64) { binary.LittleEndian.PutUint64(b, uint64(v)) }

func loadF32(b []byte) float32     { return math.Float32frombits(binary.LittleEndian.Uint32(b)) }
func storeF32(b []byte, v float32) { binary.LittleEndian.PutUint32(b, math.Float32bits(v)) }

func loadF64(b []byte) float64     { return math.Float64frombits(binary.LittleEndian.Uint64(b)) }
func storeF64(b []byte, v float64) { binary.LittleEndian.PutUint64(b, math.Float64bits(v)) }

func loadPtr(b []byte) runtime.Handle     { return runtime.GetHandle(b) }
func storePtr(b []byte, h runtime.Handle) { runtime.PutHandle(b, h) }
