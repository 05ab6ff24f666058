// Package native is the C-ABI side of the interpreter: the mapping from
// bytecode types to FFI types, call descriptors, a purego-backed caller for
// native entry points, symbol resolution and the registration point for the
// C→bytecode callback.
package native

import (
	"encoding/binary"

	"github.com/ebitengine/purego"

	"hlvm/src/code"
	"hlvm/src/util"
)

// ----------------------------
// ----- Type definitions -----
// ----------------------------

// FFIType is the primitive/pointer encoding a bytecode type marshals as on a
// native call boundary.
type FFIType int

// CallSpec is a call descriptor: the FFI encoding of every argument and of
// the return value.
type CallSpec struct {
	Args []FFIType // Argument encodings in call order.
	Ret  FFIType   // Return value encoding.
}

// Caller performs a native call described by a CallSpec. Each args[i] is a
// storage cell holding the argument value as encoded for its type; the
// return value lands in ret.
type Caller interface {
	Call(fn uintptr, spec CallSpec, args [][]byte, ret []byte)
}

// SyscallCaller is the default Caller, built on purego.SyscallN. It places
// integer and pointer argument words directly; float-class arguments are not
// classified portably by SyscallN and are rejected.
type SyscallCaller struct{}

// ---------------------
// ----- Constants -----
// ---------------------

// FFI type encodings.
const (
	FFIVoid FFIType = iota
	FFIUInt8
	FFIUInt16
	FFIInt32
	FFIInt64
	FFIFloat
	FFIDouble
	FFIPointer
)

// ---------------------
// ----- Functions -----
// ---------------------

// TypeToFFI maps a bytecode type to its FFI encoding. Booleans marshal as
// unsigned bytes, references as pointers and void as the FFI void.
func TypeToFFI(t *code.Type) FFIType {
	switch t.Kind {
	case code.KUI8, code.KBool:
		return FFIUInt8
	case code.KUI16:
		return FFIUInt16
	case code.KI32:
		return FFIInt32
	case code.KI64:
		return FFIInt64
	case code.KF32:
		return FFIFloat
	case code.KF64:
		return FFIDouble
	case code.KBytes, code.KDyn, code.KFun, code.KObj, code.KArray,
		code.KType, code.KRef, code.KVirtual, code.KDynObj, code.KAbstract,
		code.KEnum, code.KNull, code.KMethod, code.KStruct:
		return FFIPointer
	case code.KVoid:
		return FFIVoid
	default:
		util.Fatalf("no FFI encoding for %s type", t.Kind)
		return FFIVoid
	}
}

// BuildSpec builds a call descriptor from argument types and a return type.
func BuildSpec(argTypes []*code.Type, ret *code.Type) CallSpec {
	spec := CallSpec{
		Args: make([]FFIType, len(argTypes)),
		Ret:  TypeToFFI(ret),
	}
	for i, t := range argTypes {
		spec.Args[i] = TypeToFFI(t)
	}
	return spec
}

// Call invokes the native entry point fn, loading each argument word from
// its storage cell and storing the returned word into ret.
func (SyscallCaller) Call(fn uintptr, spec CallSpec, args [][]byte, ret []byte) {
	words := make([]uintptr, len(spec.Args))
	for i, ft := range spec.Args {
		words[i] = argWord(ft, args[i])
	}
	r1, _, _ := purego.SyscallN(fn, words...)
	storeRet(spec.Ret, ret, r1)
}

// argWord loads one argument cell as a call word.
func argWord(ft FFIType, cell []byte) uintptr {
	switch ft {
	case FFIUInt8:
		return uintptr(cell[0])
	case FFIUInt16:
		return uintptr(binary.LittleEndian.Uint16(cell))
	case FFIInt32:
		return uintptr(binary.LittleEndian.Uint32(cell))
	case FFIInt64, FFIPointer:
		return uintptr(binary.LittleEndian.Uint64(cell))
	default:
		util.Fatalf("unsupported %s argument in syscall-based native call", ffiName(ft))
		return 0
	}
}

// storeRet stores the returned word into the return cell.
func storeRet(ft FFIType, ret []byte, word uintptr) {
	switch ft {
	case FFIVoid:
	case FFIUInt8:
		ret[0] = byte(word)
	case FFIUInt16:
		binary.LittleEndian.PutUint16(ret, uint16(word))
	case FFIInt32:
		binary.LittleEndian.PutUint32(ret, uint32(word))
	case FFIInt64, FFIPointer:
		binary.LittleEndian.PutUint64(ret, uint64(word))
	default:
		util.Fatalf("unsupported %s return in syscall-based native call", ffiName(ft))
	}
}

// ffiName returns a printable name for an FFI encoding.
func ffiName(ft FFIType) string {
	switch ft {
	case FFIVoid:
		return "void"
	case FFIUInt8:
		return "uint8"
	case FFIUInt16:
		return "uint16"
	case FFIInt32:
		return "int32"
	case FFIInt64:
		return "int64"
	case FFIFloat:
		return "float"
	case FFIDouble:
		return "double"
	case FFIPointer:
		return "pointer"
	}
	return "unknown"
}

// RegisterGoNative turns a Go function into a C-callable entry point usable
// in a module's native table. The function must use integer-sized parameter
// and result types.
func RegisterGoNative(fn interface{}) uintptr {
	return purego.NewCallback(fn)
}
