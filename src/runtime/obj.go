package runtime

import (
	"hlvm/src/code"
	"hlvm/src/util"
)

// ----------------------------
// ----- Type definitions -----
// ----------------------------

// ObjRT is the runtime layout of an object or struct type: the flattened
// field list (super chain first), the byte offset of each field, the hashed
// field names and the flattened method table.
type ObjRT struct {
	Fields        []code.Field // Flattened fields, super chain first.
	FieldsIndexes []int        // Byte offset of each flattened field.
	Hashes        []int32      // Stable hash of each flattened field name.
	Protos        []code.Proto // Flattened method table, super chain first.
	Size          int          // Total byte size of the field storage.
}

// enumLayout caches the per-constructor field offsets and storage sizes of
// an enum type.
type enumLayout struct {
	offsets [][]int // Per constructor, byte offset of each parameter.
	sizes   []int   // Per constructor, total storage size.
}

// -------------------
// ----- Globals -----
// -------------------

// Layout caches. The module is read-only after linking and the interpreter
// is single-threaded, so plain maps suffice.
var objLayouts = make(map[*code.Type]*ObjRT)
var enumLayouts = make(map[*code.Type]*enumLayout)
var virtHashes = make(map[*code.Type][]int32)

// ---------------------
// ----- Functions -----
// ---------------------

// GetObjRT returns the runtime layout of an object or struct type, computing
// and caching it on first use.
func GetObjRT(t *code.Type) *ObjRT {
	if t.Kind != code.KObj && t.Kind != code.KStruct {
		util.Fatalf("runtime layout requested for %s type", t.Kind)
	}
	if rt, ok := objLayouts[t]; ok {
		return rt
	}
	rt := &ObjRT{}
	if t.Obj.Super != nil {
		super := GetObjRT(t.Obj.Super)
		rt.Fields = append(rt.Fields, super.Fields...)
		rt.Protos = append(rt.Protos, super.Protos...)
	}
	rt.Fields = append(rt.Fields, t.Obj.Fields...)
	rt.Protos = append(rt.Protos, t.Obj.Protos...)

	rt.FieldsIndexes = make([]int, len(rt.Fields))
	rt.Hashes = make([]int32, len(rt.Fields))
	offset := 0
	for i, f := range rt.Fields {
		offset += f.T.Pad(offset)
		rt.FieldsIndexes[i] = offset
		rt.Hashes[i] = HashName(f.Name)
		offset += f.T.Size()
	}
	rt.Size = offset
	objLayouts[t] = rt
	return rt
}

// FieldFetch returns the flattened field with the given index.
func (rt *ObjRT) FieldFetch(i int) *code.Field {
	if i < 0 || i >= len(rt.Fields) {
		util.Fatalf("object field index %d out of range", i)
	}
	return &rt.Fields[i]
}

// FieldByHash returns the flattened index of the field with the given hashed
// name, or -1.
func (rt *ObjRT) FieldByHash(hash int32) int {
	for i, h := range rt.Hashes {
		if h == hash {
			return i
		}
	}
	return -1
}

// MethodFIndex returns the function index bound to the given method table
// entry.
func (rt *ObjRT) MethodFIndex(proto int) int {
	if proto < 0 || proto >= len(rt.Protos) {
		util.Fatalf("method index %d out of range", proto)
	}
	return rt.Protos[proto].FIndex
}

// AllocObj allocates a zeroed instance of an object or struct type.
func AllocObj(h *Heap, t *code.Type) Handle {
	rt := GetObjRT(t)
	return h.Alloc(&Obj{T: t, Data: make([]byte, rt.Size)})
}

// getEnumLayout computes and caches the constructor layouts of an enum type.
func getEnumLayout(t *code.Type) *enumLayout {
	if t.Kind != code.KEnum {
		util.Fatalf("enum layout requested for %s type", t.Kind)
	}
	if l, ok := enumLayouts[t]; ok {
		return l
	}
	l := &enumLayout{
		offsets: make([][]int, len(t.Enum.Constructs)),
		sizes:   make([]int, len(t.Enum.Constructs)),
	}
	for ci, construct := range t.Enum.Constructs {
		offsets := make([]int, len(construct.Params))
		offset := 0
		for pi, p := range construct.Params {
			offset += p.Pad(offset)
			offsets[pi] = offset
			offset += p.Size()
		}
		l.offsets[ci] = offsets
		l.sizes[ci] = offset
	}
	enumLayouts[t] = l
	return l
}

// EnumFieldOffset returns the byte offset and type of a constructor
// parameter.
func EnumFieldOffset(t *code.Type, construct, field int) (int, *code.Type) {
	l := getEnumLayout(t)
	if construct < 0 || construct >= len(l.offsets) {
		util.Fatalf("enum constructor %d out of range", construct)
	}
	params := t.Enum.Constructs[construct].Params
	if field < 0 || field >= len(params) {
		util.Fatalf("enum field %d out of range", field)
	}
	return l.offsets[construct][field], params[field]
}

// AllocEnum allocates an enum value of the given constructor with all fields
// zeroed.
func AllocEnum(h *Heap, t *code.Type, construct int) Handle {
	l := getEnumLayout(t)
	if construct < 0 || construct >= len(l.sizes) {
		util.Fatalf("enum constructor %d out of range", construct)
	}
	return h.Alloc(&Enum{T: t, Index: construct, Data: make([]byte, l.sizes[construct])})
}

// VirtHash returns the stable hash of the i'th field of a virtual type,
// caching the hash list per type.
func VirtHash(t *code.Type, i int) int32 {
	hashes, ok := virtHashes[t]
	if !ok {
		hashes = make([]int32, len(t.Virt.Fields))
		for fi, f := range t.Virt.Fields {
			hashes[fi] = HashName(f.Name)
		}
		virtHashes[t] = hashes
	}
	return hashes[i]
}
