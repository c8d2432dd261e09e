package vm

import "encoding/binary"

// Heap object body layouts, in cells.
//
//	instance:   [class anchor][field 0]...[field N-1]
//	prim array: [class anchor][length][packed elements...]
//	ref array:  [class anchor][length][element 0]...[element N-1]
//	string:     [class anchor][chars ref][offset][length]
//	interned:   [class anchor][chars ref][offset][length][utf id]
//
// A weak reference is an ordinary instance whose chunk carries the
// WeakReference alloc type; the collector treats its referent field
// specially.
const (
	objClassCell  = 0
	objFieldBase  = 1
	arrLengthCell = 1
	arrDataBase   = 2

	strCharsCell  = 1
	strOffsetCell = 2
	strLengthCell = 3
	strUTFCell    = 4

	strCells         = 4
	strInternedCells = 5
)

// ---------------------------------------------------------------------------
// Instances
// ---------------------------------------------------------------------------

// NewInstance allocates a zeroed instance of cl. Instances of
// java/lang/ref/WeakReference and subclasses are tagged for the
// collector's weak-reference treatment.
func (vm *VM) NewInstance(cl *Class) (Ref, error) {
	t := AllocObject
	if vm.weakRefClass != nil && cl.subclassOf(vm.weakRefClass) {
		t = AllocWeakReference
	}
	ref, err := vm.heap.AllocateCells(objFieldBase+uint32(cl.instanceCells), t)
	if err != nil {
		return NullRef, err
	}
	vm.heap.setCell(ref, objClassCell, cl.anchor)
	return ref, nil
}

// classOf resolves the class of a heap object via its anchor cell. It
// returns nil for a mirror allocated before java/lang/Class was loaded.
func (vm *VM) classOf(ref Ref) *Class {
	anchor := vm.heap.cell(ref, objClassCell)
	if anchor == NullRef {
		return nil
	}
	return vm.classes.lookup(vm.heap.cell(anchor, anchorHandleCell))
}

// classAt maps a class anchor chunk back to its Go-side class.
func (vm *VM) classAt(anchor Ref) *Class {
	return vm.classes.lookup(vm.heap.cell(anchor, anchorHandleCell))
}

// fieldCell returns the arena offset holding an instance field of obj.
func (vm *VM) fieldCellIndex(f *Field) uint32 {
	return objFieldBase + uint32(f.offset)
}

// GetField reads a one-cell instance field.
func (vm *VM) GetField(obj Ref, f *Field) Cell {
	return vm.heap.cell(obj, vm.fieldCellIndex(f))
}

// SetField writes a one-cell instance field.
func (vm *VM) SetField(obj Ref, f *Field, v Cell) {
	vm.heap.setCell(obj, vm.fieldCellIndex(f), v)
}

// GetFieldWide reads a two-cell instance field.
func (vm *VM) GetFieldWide(obj Ref, f *Field) int64 {
	return vm.heap.long(obj, vm.fieldCellIndex(f))
}

// SetFieldWide writes a two-cell instance field.
func (vm *VM) SetFieldWide(obj Ref, f *Field, v int64) {
	vm.heap.setLong(obj, vm.fieldCellIndex(f), v)
}

// GetStatic reads a one-cell static field from the declaring class's
// anchor chunk.
func (vm *VM) GetStatic(f *Field) Cell {
	return vm.heap.cell(f.class.anchor, anchorStaticBase+uint32(f.offset))
}

// SetStatic writes a one-cell static field.
func (vm *VM) SetStatic(f *Field, v Cell) {
	vm.heap.setCell(f.class.anchor, anchorStaticBase+uint32(f.offset), v)
}

// GetStaticWide reads a static long/double routed through the class's
// wide-static storage.
func (vm *VM) GetStaticWide(f *Field) int64 {
	return f.class.wideStatics[f.wideIdx]
}

// SetStaticWide writes a static long/double.
func (vm *VM) SetStaticWide(f *Field, v int64) {
	f.class.wideStatics[f.wideIdx] = v
}

// ---------------------------------------------------------------------------
// Arrays
// ---------------------------------------------------------------------------

// NewPrimArray allocates a zeroed primitive array. The element class is
// synthesized on first use.
func (vm *VM) NewPrimArray(elem JType, length int32) (Ref, error) {
	if length < 0 {
		return NullRef, vm.ThrowNegativeArraySize(length)
	}
	bytes := uint64(arrDataBase*wordBytes) + uint64(elem.width())*uint64(length)
	if bytes >= maxArrayBytes {
		return NullRef, vm.throwPrebuiltOOM()
	}
	cl, err := vm.arrayClassOf(elem, nil, NullRef)
	if err != nil {
		return NullRef, err
	}
	ref, err := vm.heap.Allocate(uint32(bytes), AllocArrayOfPrim)
	if err != nil {
		return NullRef, err
	}
	vm.heap.setCell(ref, objClassCell, cl.anchor)
	vm.heap.setCell(ref, arrLengthCell, Cell(length))
	return ref, nil
}

// NewRefArray allocates a zeroed reference array with the given component
// class.
func (vm *VM) NewRefArray(component *Class, length int32) (Ref, error) {
	if length < 0 {
		return NullRef, vm.ThrowNegativeArraySize(length)
	}
	bytes := uint64(arrDataBase+uint32(length)) * wordBytes
	if bytes >= maxArrayBytes {
		return NullRef, vm.throwPrebuiltOOM()
	}
	cl, err := vm.arrayClassOf(JTypeReference, component, component.loader)
	if err != nil {
		return NullRef, err
	}
	ref, err := vm.heap.Allocate(uint32(bytes), AllocArrayOfObject)
	if err != nil {
		return NullRef, err
	}
	vm.heap.setCell(ref, objClassCell, cl.anchor)
	vm.heap.setCell(ref, arrLengthCell, Cell(length))
	return ref, nil
}

// NewMultiArray allocates a rectangular multi-dimensional array. A zero
// length at any dimension leaves the remaining dimensions unallocated.
func (vm *VM) NewMultiArray(cl *Class, lengths []int32) (Ref, error) {
	length := lengths[0]
	if length < 0 {
		return NullRef, vm.ThrowNegativeArraySize(length)
	}
	if len(lengths) == 1 || cl.elemType != JTypeReference {
		if cl.elemType != JTypeReference {
			return vm.NewPrimArray(cl.elemType, length)
		}
		return vm.NewRefArray(cl.elemClass, length)
	}
	ref, err := vm.NewRefArray(cl.elemClass, length)
	if err != nil {
		return NullRef, err
	}
	if length == 0 {
		return ref, nil
	}
	scope := vm.TransientScope()
	defer scope.Close()
	vm.PushTransient(ref)
	for i := int32(0); i < length; i++ {
		inner, err := vm.NewMultiArray(cl.elemClass, lengths[1:])
		if err != nil {
			return NullRef, err
		}
		vm.RefArraySet(ref, i, inner)
	}
	return ref, nil
}

// ArrayLength returns the length cell of any array.
func (vm *VM) ArrayLength(ref Ref) int32 {
	return int32(vm.heap.cell(ref, arrLengthCell))
}

// primElemOffset computes the arena byte offset of element i.
func (vm *VM) primElemOffset(ref Ref, elem JType, i int32) uint32 {
	return ref + arrDataBase*wordBytes + uint32(i)*elem.width()
}

// PrimArrayGet reads element i of a primitive array, widened to int64.
func (vm *VM) PrimArrayGet(ref Ref, elem JType, i int32) int64 {
	off := vm.primElemOffset(ref, elem, i)
	switch elem.width() {
	case 1:
		return int64(int8(vm.heap.arena[off]))
	case 2:
		v := binary.LittleEndian.Uint16(vm.heap.arena[off:])
		if elem == JTypeChar {
			return int64(v)
		}
		return int64(int16(v))
	case 4:
		return int64(int32(binary.LittleEndian.Uint32(vm.heap.arena[off:])))
	default:
		return int64(binary.LittleEndian.Uint64(vm.heap.arena[off:]))
	}
}

// PrimArraySet writes element i of a primitive array from an int64.
func (vm *VM) PrimArraySet(ref Ref, elem JType, i int32, v int64) {
	off := vm.primElemOffset(ref, elem, i)
	switch elem.width() {
	case 1:
		vm.heap.arena[off] = byte(v)
	case 2:
		binary.LittleEndian.PutUint16(vm.heap.arena[off:], uint16(v))
	case 4:
		binary.LittleEndian.PutUint32(vm.heap.arena[off:], uint32(v))
	default:
		binary.LittleEndian.PutUint64(vm.heap.arena[off:], uint64(v))
	}
}

// RefArrayGet reads element i of a reference array.
func (vm *VM) RefArrayGet(ref Ref, i int32) Ref {
	return vm.heap.cell(ref, arrDataBase+uint32(i))
}

// RefArraySet writes element i of a reference array.
func (vm *VM) RefArraySet(ref Ref, i int32, v Ref) {
	vm.heap.setCell(ref, arrDataBase+uint32(i), v)
}

// ---------------------------------------------------------------------------
// Strings
// ---------------------------------------------------------------------------

// NewString builds a java/lang/String over a fresh char[] decoded from a
// UTF-8 source. The result is not interned.
func (vm *VM) NewString(s string) (Ref, error) {
	return vm.newString(s, false)
}

func (vm *VM) newString(s string, interned bool) (Ref, error) {
	cl, err := vm.stringClass()
	if err != nil {
		return NullRef, err
	}
	units := utf8ToUTF16(s)
	chars, err := vm.NewPrimArray(JTypeChar, int32(len(units)))
	if err != nil {
		return NullRef, err
	}
	scope := vm.TransientScope()
	defer scope.Close()
	vm.PushTransient(chars)
	for i, u := range units {
		vm.PrimArraySet(chars, JTypeChar, int32(i), int64(u))
	}
	cells := uint32(strCells)
	if interned {
		cells = strInternedCells
	}
	ref, err := vm.heap.AllocateCells(cells, AllocString)
	if err != nil {
		return NullRef, err
	}
	vm.heap.setCell(ref, objClassCell, cl.anchor)
	vm.heap.setCell(ref, strCharsCell, chars)
	vm.heap.setCell(ref, strOffsetCell, 0)
	vm.heap.setCell(ref, strLengthCell, Cell(len(units)))
	return ref, nil
}

// Intern returns the canonical String object for s, building and pooling
// one on first use. Interned strings are collector roots and never die.
func (vm *VM) Intern(s string) (Ref, error) {
	id := vm.utf.Intern(s)
	if ref, ok := vm.internPool[id]; ok {
		return ref, nil
	}
	ref, err := vm.newString(s, true)
	if err != nil {
		return NullRef, err
	}
	vm.heap.setCell(ref, strUTFCell, Cell(id))
	vm.internPool[id] = ref
	return ref, nil
}

// stringIsInterned distinguishes the five-cell interned layout from the
// plain four-cell one by chunk size.
func (vm *VM) stringIsInterned(ref Ref) bool {
	return vm.heap.bodyCells(ref) >= strInternedCells
}

// StringValue decodes a String object back to UTF-8.
func (vm *VM) StringValue(ref Ref) string {
	chars := vm.heap.cell(ref, strCharsCell)
	off := int32(vm.heap.cell(ref, strOffsetCell))
	n := int32(vm.heap.cell(ref, strLengthCell))
	units := make([]uint16, n)
	for i := int32(0); i < n; i++ {
		units[i] = uint16(vm.PrimArrayGet(chars, JTypeChar, off+i))
	}
	return utf16ToUTF8(units)
}

// stringClass loads java/lang/String on first use.
func (vm *VM) stringClass() (*Class, error) {
	if vm.classString != nil {
		return vm.classString, nil
	}
	cl, err := vm.LoadClass(NullRef, "java/lang/String")
	if err != nil {
		return nil, err
	}
	vm.classString = cl
	return cl, nil
}

// ---------------------------------------------------------------------------
// Wide cell pairs
// ---------------------------------------------------------------------------

// long reads the two-cell value at body cells i, i+1 (low word first).
func (h *Heap) long(ref Ref, i uint32) int64 {
	lo := uint64(h.cell(ref, i))
	hi := uint64(h.cell(ref, i+1))
	return int64(hi<<32 | lo)
}

// setLong writes a two-cell value at body cells i, i+1.
func (h *Heap) setLong(ref Ref, i uint32, v int64) {
	h.setCell(ref, i, Cell(uint64(v)))
	h.setCell(ref, i+1, Cell(uint64(v)>>32))
}
