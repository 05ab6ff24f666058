package runtime

import (
	"hlvm/src/code"
)

// ----------------------------
// ----- Type definitions -----
// ----------------------------

// Cell is one typed storage cell: the backing bytes of a field. Virtual fast
// slots point straight at cells, so a cell's address must stay stable for the
// lifetime of its owner.
type Cell struct {
	T    *code.Type // Cell type.
	Data []byte     // Backing bytes, len == T.Size().
}

// Dynamic is a boxed value: a type descriptor plus a word-sized value cell.
// Reference kinds store a handle in the cell; primitives store their bytes
// little-endian.
type Dynamic struct {
	T *code.Type // Boxed type.
	V [8]byte    // Value cell.
}

// Bytes is a raw byte buffer value, used for byte-blob constants, interned
// strings and SetI8/SetI16/SetMem targets.
type Bytes struct {
	Data []byte
}

// Closure binds a function index to an optional receiver value.
type Closure struct {
	T        *code.Type // Function type of the closure.
	FIndex   int        // Function index invoked by CallClosure.
	HasValue bool       // True when a receiver is bound.
	Value    Handle     // Bound receiver, meaningful when HasValue.
}

// Array is a typed homogeneous array: element type, length and packed
// element storage.
type Array struct {
	At   *code.Type // Element type.
	Len  int        // Element count.
	Data []byte     // Packed elements, len == Len*At.Size().
}

// Enum is an enum value: the constructor index and the constructor's field
// storage laid out at the offsets of its enum type.
type Enum struct {
	T     *code.Type // Enum type.
	Index int        // Constructor index.
	Data  []byte     // Field storage of the constructor.
}

// Obj is an object or struct instance with its fields packed at the offsets
// of the type's runtime layout.
type Obj struct {
	T    *code.Type // Object or struct type.
	Data []byte     // Field storage.
}

// DynObj is an untyped heap value supporting hashed get/set of named fields.
type DynObj struct {
	Fields map[int32]*Cell // Field cells keyed by hashed name.
}

// Virtual is a statically-typed projection over a dynamic value: an ordered
// field list where each entry either has a fast cell or falls back to hashed
// dynamic access on the underlying value.
type Virtual struct {
	T       *code.Type // Virtual type.
	Value   Handle     // Underlying dynamic value.
	VFields []*Cell    // Fast field cells; nil entries use the hashed fallback.
}

// TypeValue is a first-class type descriptor value, produced by the Type
// opcode.
type TypeValue struct {
	Pointee *code.Type // The described type.
}

// Ref is a reference to a register slot: a typed view aliasing the frame
// bytes of the source register.
type Ref struct {
	T    *code.Type // Pointee type.
	Cell []byte     // Aliased slot bytes.
}

// ---------------------
// ----- Functions -----
// ---------------------

// Type returns the boxed type.
func (d *Dynamic) Type() *code.Type { return d.T }

// References reports the boxed handle when the box holds a reference kind.
func (d *Dynamic) References() []Handle {
	if d.T.CanBeNull() {
		if hd := GetHandle(d.V[:]); hd != 0 {
			return []Handle{hd}
		}
	}
	return nil
}

func (b *Bytes) Type() *code.Type     { return code.TypeBytes }
func (b *Bytes) References() []Handle { return nil }

func (c *Closure) Type() *code.Type { return c.T }

// References reports the bound receiver, if any.
func (c *Closure) References() []Handle {
	if c.HasValue && c.Value != 0 {
		return []Handle{c.Value}
	}
	return nil
}

func (a *Array) Type() *code.Type { return code.TypeArray }

// References decodes every element slot when the element type is a
// reference kind.
func (a *Array) References() []Handle {
	if !a.At.CanBeNull() {
		return nil
	}
	var refs []Handle
	size := a.At.Size()
	for i := 0; i < a.Len; i++ {
		if hd := GetHandle(a.Data[i*size:]); hd != 0 {
			refs = append(refs, hd)
		}
	}
	return refs
}

func (e *Enum) Type() *code.Type { return e.T }

// References decodes the reference-kind fields of the value's constructor.
func (e *Enum) References() []Handle {
	construct := &e.T.Enum.Constructs[e.Index]
	layout := getEnumLayout(e.T)
	var refs []Handle
	for i, p := range construct.Params {
		if !p.CanBeNull() {
			continue
		}
		if hd := GetHandle(e.Data[layout.offsets[e.Index][i]:]); hd != 0 {
			refs = append(refs, hd)
		}
	}
	return refs
}

func (o *Obj) Type() *code.Type { return o.T }

// References decodes the reference-kind fields of the object layout.
func (o *Obj) References() []Handle {
	rt := GetObjRT(o.T)
	var refs []Handle
	for i, f := range rt.Fields {
		if !f.T.CanBeNull() {
			continue
		}
		if hd := GetHandle(o.Data[rt.FieldsIndexes[i]:]); hd != 0 {
			refs = append(refs, hd)
		}
	}
	return refs
}

func (d *DynObj) Type() *code.Type { return code.TypeDynObj }

// References decodes every reference-kind field cell.
func (d *DynObj) References() []Handle {
	var refs []Handle
	for _, cell := range d.Fields {
		if !cell.T.CanBeNull() {
			continue
		}
		if hd := GetHandle(cell.Data); hd != 0 {
			refs = append(refs, hd)
		}
	}
	return refs
}

func (v *Virtual) Type() *code.Type { return v.T }

// References reports the underlying value; its field cells alias the
// underlying storage and need no separate trace.
func (v *Virtual) References() []Handle {
	if v.Value != 0 {
		return []Handle{v.Value}
	}
	return nil
}

func (t *TypeValue) Type() *code.Type     { return code.TypeTypeV }
func (t *TypeValue) References() []Handle { return nil }

func (r *Ref) Type() *code.Type { return &code.Type{Kind: code.KRef, Elem: r.T} }

// References decodes the aliased slot when the pointee is a reference kind.
func (r *Ref) References() []Handle {
	if r.T.CanBeNull() {
		if hd := GetHandle(r.Cell); hd != 0 {
			return []Handle{hd}
		}
	}
	return nil
}
