package runtime

import (
	"encoding/binary"
	"math"

	"github.com/cespare/xxhash/v2"

	"hlvm/src/code"
	"hlvm/src/util"
)

// ----------------------------
// ----- Type definitions -----
// ----------------------------

// ---------------------
// ----- Functions -----
// ---------------------

// HashName returns the stable non-zero 32-bit hash of a field name. All
// hashed field access (dynamic objects, virtual fallback, DynSet) uses this
// function, so the value only has to be stable within a process.
func HashName(name string) int32 {
	sum := xxhash.Sum64String(name)
	h := int32(uint32(sum) ^ uint32(sum>>32))
	if h == 0 {
		h = 1
	}
	return h
}

// loadInt reads an integer or boolean cell as a sign-correct 64-bit value.
func loadInt(b []byte, t *code.Type) int64 {
	switch t.Kind {
	case code.KUI8, code.KBool:
		return int64(b[0])
	case code.KUI16:
		return int64(binary.LittleEndian.Uint16(b))
	case code.KI32:
		return int64(int32(binary.LittleEndian.Uint32(b)))
	case code.KI64:
		return int64(binary.LittleEndian.Uint64(b))
	default:
		util.Fatalf("integer load from %s cell", t.Kind)
		return 0
	}
}

// storeInt writes v into an integer or boolean cell, narrowing to the cell
// width.
func storeInt(b []byte, t *code.Type, v int64) {
	switch t.Kind {
	case code.KUI8, code.KBool:
		b[0] = byte(v)
	case code.KUI16:
		binary.LittleEndian.PutUint16(b, uint16(v))
	case code.KI32:
		binary.LittleEndian.PutUint32(b, uint32(v))
	case code.KI64:
		binary.LittleEndian.PutUint64(b, uint64(v))
	default:
		util.Fatalf("integer store into %s cell", t.Kind)
	}
}

// loadFloat reads a floating point cell.
func loadFloat(b []byte, t *code.Type) float64 {
	switch t.Kind {
	case code.KF32:
		return float64(math.Float32frombits(binary.LittleEndian.Uint32(b)))
	case code.KF64:
		return math.Float64frombits(binary.LittleEndian.Uint64(b))
	default:
		util.Fatalf("float load from %s cell", t.Kind)
		return 0
	}
}

// storeFloat writes v into a floating point cell.
func storeFloat(b []byte, t *code.Type, v float64) {
	switch t.Kind {
	case code.KF32:
		binary.LittleEndian.PutUint32(b, math.Float32bits(float32(v)))
	case code.KF64:
		binary.LittleEndian.PutUint64(b, math.Float64bits(v))
	default:
		util.Fatalf("float store into %s cell", t.Kind)
	}
}

// numCell reads any numeric or boolean cell as a float64.
func numCell(cell *Cell) float64 {
	if cell.T.IsFloat() {
		return loadFloat(cell.Data, cell.T)
	}
	return float64(loadInt(cell.Data, cell.T))
}

// AllocDynamic allocates a zeroed box of the given type.
func AllocDynamic(h *Heap, t *code.Type) Handle {
	return h.Alloc(&Dynamic{T: t})
}

// AllocDynBool returns the canonical boxed boolean for b. The two booleans
// are allocated once per heap.
func AllocDynBool(h *Heap, b bool) Handle {
	if b {
		if h.dynTrue == 0 {
			d := &Dynamic{T: code.TypeBool}
			d.V[0] = 1
			h.dynTrue = h.Alloc(d)
		}
		return h.dynTrue
	}
	if h.dynFalse == 0 {
		h.dynFalse = h.Alloc(&Dynamic{T: code.TypeBool})
	}
	return h.dynFalse
}

// AllocDynObj allocates an empty dynamic object.
func AllocDynObj(h *Heap) Handle {
	return h.Alloc(&DynObj{Fields: make(map[int32]*Cell)})
}

// AllocVirtual allocates a fresh virtual instance with its own backing
// dynamic object; every field gets a fast cell of its declared type.
func AllocVirtual(h *Heap, t *code.Type) Handle {
	if t.Kind != code.KVirtual {
		util.Fatalf("virtual allocation for %s type", t.Kind)
	}
	dyn := &DynObj{Fields: make(map[int32]*Cell)}
	vfields := make([]*Cell, len(t.Virt.Fields))
	for i, f := range t.Virt.Fields {
		cell := &Cell{T: f.T, Data: make([]byte, f.T.Size())}
		dyn.Fields[VirtHash(t, i)] = cell
		vfields[i] = cell
	}
	underlying := h.Alloc(dyn)
	return h.Alloc(&Virtual{T: t, Value: underlying, VFields: vfields})
}

// AllocClosure allocates a closure over the function with the given index,
// optionally binding a receiver.
func AllocClosure(h *Heap, t *code.Type, findex int, value Handle, hasValue bool) Handle {
	return h.Alloc(&Closure{T: t, FIndex: findex, HasValue: hasValue, Value: value})
}

// AllocArray allocates a zeroed typed array of n elements.
func AllocArray(h *Heap, at *code.Type, n int) Handle {
	return h.Alloc(&Array{At: at, Len: n, Data: make([]byte, n*at.Size())})
}

// TypeHandle returns the interned type value for a descriptor.
func (h *Heap) TypeHandle(t *code.Type) Handle {
	if hd, ok := h.typeVals[t]; ok {
		return hd
	}
	hd := h.Alloc(&TypeValue{Pointee: t})
	h.typeVals[t] = hd
	return hd
}

// dynFieldCell resolves the storage cell of a hashed field on a dynamic
// receiver. Virtual receivers resolve through their underlying value, object
// receivers through their runtime layout. A nil return means the field is
// absent.
func dynFieldCell(h *Heap, v Handle, hash int32) *Cell {
	switch val := h.Get(v).(type) {
	case nil:
		return nil
	case *DynObj:
		return val.Fields[hash]
	case *Virtual:
		return dynFieldCell(h, val.Value, hash)
	case *Obj:
		rt := GetObjRT(val.T)
		i := rt.FieldByHash(hash)
		if i < 0 {
			return nil
		}
		f := rt.FieldFetch(i)
		offset := rt.FieldsIndexes[i]
		return &Cell{T: f.T, Data: val.Data[offset : offset+f.T.Size()]}
	default:
		return nil
	}
}

// dynSetCell resolves the storage cell for a hashed field write, creating
// the field on dynamic objects when absent. t is the type of the value being
// written and becomes the type of a newly created field.
func dynSetCell(h *Heap, v Handle, hash int32, t *code.Type) *Cell {
	switch val := h.Get(v).(type) {
	case *DynObj:
		if cell, ok := val.Fields[hash]; ok {
			return cell
		}
		cell := &Cell{T: t, Data: make([]byte, t.Size())}
		val.Fields[hash] = cell
		return cell
	case *Virtual:
		return dynSetCell(h, val.Value, hash, t)
	case *Obj:
		if cell := dynFieldCell(h, v, hash); cell != nil {
			return cell
		}
		util.Fatalf("no such field on %s", val.T.Obj.Name)
		return nil
	default:
		util.Fatalf("dynamic field write on non-dynamic value")
		return nil
	}
}

// DynGetI reads a hashed field as a 32-bit integer of kind t.
func DynGetI(h *Heap, v Handle, hash int32, t *code.Type) int32 {
	cell := dynFieldCell(h, v, hash)
	if cell == nil {
		return 0
	}
	if cell.T.IsFloat() {
		return int32(loadFloat(cell.Data, cell.T))
	}
	return int32(loadInt(cell.Data, cell.T))
}

// DynGetI64 reads a hashed field as a 64-bit integer.
func DynGetI64(h *Heap, v Handle, hash int32) int64 {
	cell := dynFieldCell(h, v, hash)
	if cell == nil {
		return 0
	}
	if cell.T.IsFloat() {
		return int64(loadFloat(cell.Data, cell.T))
	}
	return loadInt(cell.Data, cell.T)
}

// DynGetF reads a hashed field as a 32-bit float.
func DynGetF(h *Heap, v Handle, hash int32) float32 {
	cell := dynFieldCell(h, v, hash)
	if cell == nil {
		return 0
	}
	return float32(numCell(cell))
}

// DynGetD reads a hashed field as a 64-bit float.
func DynGetD(h *Heap, v Handle, hash int32) float64 {
	cell := dynFieldCell(h, v, hash)
	if cell == nil {
		return 0
	}
	return numCell(cell)
}

// DynGetP reads a hashed field as a reference of kind t. A primitive field
// is boxed on the fly.
func DynGetP(h *Heap, v Handle, hash int32, t *code.Type) Handle {
	cell := dynFieldCell(h, v, hash)
	if cell == nil {
		return 0
	}
	if cell.T.CanBeNull() {
		return GetHandle(cell.Data)
	}
	d := &Dynamic{T: cell.T}
	copy(d.V[:], cell.Data)
	return h.Alloc(d)
}

// DynSetI writes a 32-bit integer of kind t into a hashed field.
func DynSetI(h *Heap, v Handle, hash int32, t *code.Type, val int32) {
	cell := dynSetCell(h, v, hash, t)
	if cell.T.IsFloat() {
		storeFloat(cell.Data, cell.T, float64(val))
		return
	}
	storeInt(cell.Data, cell.T, int64(val))
}

// DynSetI64 writes a 64-bit integer into a hashed field.
func DynSetI64(h *Heap, v Handle, hash int32, val int64) {
	cell := dynSetCell(h, v, hash, code.TypeI64)
	if cell.T.IsFloat() {
		storeFloat(cell.Data, cell.T, float64(val))
		return
	}
	storeInt(cell.Data, cell.T, val)
}

// DynSetF writes a 32-bit float into a hashed field.
func DynSetF(h *Heap, v Handle, hash int32, val float32) {
	cell := dynSetCell(h, v, hash, code.TypeF32)
	if cell.T.IsFloat() {
		storeFloat(cell.Data, cell.T, float64(val))
		return
	}
	storeInt(cell.Data, cell.T, int64(val))
}

// DynSetD writes a 64-bit float into a hashed field.
func DynSetD(h *Heap, v Handle, hash int32, val float64) {
	cell := dynSetCell(h, v, hash, code.TypeF64)
	if cell.T.IsFloat() {
		storeFloat(cell.Data, cell.T, val)
		return
	}
	storeInt(cell.Data, cell.T, int64(val))
}

// DynSetP writes a reference of kind t into a hashed field.
func DynSetP(h *Heap, v Handle, hash int32, t *code.Type, val Handle) {
	cell := dynSetCell(h, v, hash, t)
	if !cell.T.CanBeNull() {
		util.Fatalf("reference write into %s field", cell.T.Kind)
	}
	PutHandle(cell.Data, val)
}

// castNum reads the source cell of a cast as a float64, unwrapping boxed
// numbers behind references. The boolean result is false when the source is
// a null reference.
func castNum(h *Heap, src []byte, st *code.Type) (float64, bool) {
	if st.IsNumber() || st.Kind == code.KBool {
		if st.IsFloat() {
			return loadFloat(src, st), true
		}
		return float64(loadInt(src, st)), true
	}
	if !st.CanBeNull() {
		util.Fatalf("invalid cast from %s", st.Kind)
	}
	hd := GetHandle(src)
	if hd == 0 {
		return 0, false
	}
	if d, ok := h.Get(hd).(*Dynamic); ok && (d.T.IsNumber() || d.T.Kind == code.KBool) {
		if d.T.IsFloat() {
			return loadFloat(d.V[:], d.T), true
		}
		return float64(loadInt(d.V[:], d.T)), true
	}
	util.Fatalf("invalid cast from %s", st.Kind)
	return 0, false
}

// CastI converts the source cell to a 32-bit integer of kind dt.
func CastI(h *Heap, src []byte, st, dt *code.Type) int32 {
	v, ok := castNum(h, src, st)
	if !ok {
		return 0
	}
	return int32(v)
}

// CastI64 converts the source cell to a 64-bit integer. Integer sources,
// boxed or not, keep full precision.
func CastI64(h *Heap, src []byte, st *code.Type) int64 {
	if st.IsInt() {
		return loadInt(src, st)
	}
	if st.CanBeNull() {
		hd := GetHandle(src)
		if hd == 0 {
			return 0
		}
		if d, ok := h.Get(hd).(*Dynamic); ok && d.T.IsInt() {
			return loadInt(d.V[:], d.T)
		}
	}
	v, ok := castNum(h, src, st)
	if !ok {
		return 0
	}
	return int64(v)
}

// CastF converts the source cell to a 32-bit float.
func CastF(h *Heap, src []byte, st *code.Type) float32 {
	v, _ := castNum(h, src, st)
	return float32(v)
}

// CastD converts the source cell to a 64-bit float.
func CastD(h *Heap, src []byte, st *code.Type) float64 {
	v, _ := castNum(h, src, st)
	return v
}

// CastP converts the source cell to a reference of kind dt. Primitives box;
// references must already match the destination kind or be dynamic.
func CastP(h *Heap, src []byte, st, dt *code.Type) Handle {
	if !st.CanBeNull() {
		if dt.Kind != code.KDyn && dt.Kind != code.KNull {
			util.Fatalf("invalid cast from %s to %s", st.Kind, dt.Kind)
		}
		d := &Dynamic{T: st}
		copy(d.V[:], src[:st.Size()])
		return h.Alloc(d)
	}
	hd := GetHandle(src)
	if hd == 0 {
		return 0
	}
	if dt.Kind == code.KDyn || dt.Kind == code.KNull {
		return hd
	}
	if h.Get(hd).Type().Kind == dt.Kind {
		return hd
	}
	if dt.Kind == code.KVirtual {
		return ToVirtual(h, dt, hd)
	}
	util.Fatalf("invalid cast from %s to %s", st.Kind, dt.Kind)
	return 0
}

// ToVirtual obtains or constructs a projection of value v against the
// virtual type vt. Dynamic objects bind fast cells for every field whose
// stored kind matches the declared one; objects bind views into their field
// storage; an existing projection of the same type is reused.
func ToVirtual(h *Heap, vt *code.Type, v Handle) Handle {
	if v == 0 {
		return 0
	}
	switch val := h.Get(v).(type) {
	case *Virtual:
		if val.T == vt {
			return v
		}
		return ToVirtual(h, vt, val.Value)
	case *DynObj:
		vfields := make([]*Cell, len(vt.Virt.Fields))
		for i, f := range vt.Virt.Fields {
			if cell, ok := val.Fields[VirtHash(vt, i)]; ok && cell.T.Kind == f.T.Kind {
				vfields[i] = cell
			}
		}
		return h.Alloc(&Virtual{T: vt, Value: v, VFields: vfields})
	case *Obj:
		rt := GetObjRT(val.T)
		vfields := make([]*Cell, len(vt.Virt.Fields))
		for i, f := range vt.Virt.Fields {
			oi := rt.FieldByHash(VirtHash(vt, i))
			if oi < 0 || rt.Fields[oi].T.Kind != f.T.Kind {
				continue
			}
			offset := rt.FieldsIndexes[oi]
			vfields[i] = &Cell{T: rt.Fields[oi].T, Data: val.Data[offset : offset+rt.Fields[oi].T.Size()]}
		}
		return h.Alloc(&Virtual{T: vt, Value: v, VFields: vfields})
	case *Dynamic:
		return h.Alloc(&Virtual{T: vt, Value: v, VFields: make([]*Cell, len(vt.Virt.Fields))})
	default:
		util.Fatalf("virtual projection of %s value", h.Get(v).Type().Kind)
		return 0
	}
}

// ValueEquals implements dynamic equality: identical handles are equal, and
// two boxes of the same kind compare by value.
func ValueEquals(h *Heap, a, b Handle) bool {
	if a == b {
		return true
	}
	if a == 0 || b == 0 {
		return false
	}
	da, aok := h.Get(a).(*Dynamic)
	db, bok := h.Get(b).(*Dynamic)
	if !aok || !bok || da.T.Kind != db.T.Kind {
		return false
	}
	size := da.T.Size()
	for i := 0; i < size; i++ {
		if da.V[i] != db.V[i] {
			return false
		}
	}
	return true
}
