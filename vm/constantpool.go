package vm

import "math"

// Class-file constant pool tags (JVMS 4.4).
const (
	cpUTF8               = 1
	cpInteger            = 3
	cpFloat              = 4
	cpLong               = 5
	cpDouble             = 6
	cpClass              = 7
	cpString             = 8
	cpFieldRef           = 9
	cpMethodRef          = 10
	cpInterfaceMethodRef = 11
	cpNameAndType        = 12

	// cpResolved marks an entry whose slot has been rewritten to its
	// runtime form: class handle, interned string ref, method handle,
	// or packed field locator.
	cpResolved = 0x80
)

// ConstantPool is the runtime pool of one class. Entries are 1-based as
// in the class file. Slot encodings before resolution:
//
//	UTF8                utf id (interned at parse time)
//	Integer, Float      raw 32-bit value
//	Long, Double        raw 64-bit value, second index unused
//	Class               name entry index
//	String              utf entry index
//	*Ref                class index << 16 | name-and-type index
//	NameAndType         name index << 16 | descriptor index
//
// Resolution (see resolve.go) replaces the slot and sets cpResolved on
// the tag, so each symbolic reference is chased at most once.
type ConstantPool struct {
	tags  []uint8
	slots []uint64
}

func newConstantPool(count uint16) *ConstantPool {
	return &ConstantPool{
		tags:  make([]uint8, count),
		slots: make([]uint64, count),
	}
}

// Count reports the class-file constant_pool_count, one greater than the
// highest valid index.
func (cp *ConstantPool) Count() uint16 { return uint16(len(cp.tags)) }

// Tag returns the class-file tag of entry i with the resolved bit
// stripped.
func (cp *ConstantPool) Tag(i uint16) uint8 { return cp.tags[i] &^ cpResolved }

func (cp *ConstantPool) isResolved(i uint16) bool { return cp.tags[i]&cpResolved != 0 }

func (cp *ConstantPool) markResolved(i uint16, slot uint64) {
	cp.slots[i] = slot
	cp.tags[i] |= cpResolved
}

func (cp *ConstantPool) set(i uint16, tag uint8, slot uint64) {
	cp.tags[i] = tag
	cp.slots[i] = slot
}

// UTF returns the interned utf id of a UTF8 entry.
func (cp *ConstantPool) UTF(i uint16) UTFID { return UTFID(cp.slots[i]) }

// Int returns the value of an Integer entry.
func (cp *ConstantPool) Int(i uint16) int32 { return int32(cp.slots[i]) }

// Float returns the value of a Float entry.
func (cp *ConstantPool) Float(i uint16) float32 {
	return math.Float32frombits(uint32(cp.slots[i]))
}

// Long returns the value of a Long entry.
func (cp *ConstantPool) Long(i uint16) int64 { return int64(cp.slots[i]) }

// Double returns the value of a Double entry.
func (cp *ConstantPool) Double(i uint16) float64 {
	return math.Float64frombits(cp.slots[i])
}

// classNameUTF returns the name utf id of an unresolved Class entry.
func (cp *ConstantPool) classNameUTF(i uint16) UTFID {
	return cp.UTF(uint16(cp.slots[i]))
}

// stringUTF returns the utf id of an unresolved String entry.
func (cp *ConstantPool) stringUTF(i uint16) UTFID {
	return cp.UTF(uint16(cp.slots[i]))
}

// refParts splits a Fieldref/Methodref/InterfaceMethodref entry into its
// class and name-and-type indices.
func (cp *ConstantPool) refParts(i uint16) (classIdx, natIdx uint16) {
	return uint16(cp.slots[i] >> 16), uint16(cp.slots[i])
}

// natParts splits a NameAndType entry into name and descriptor utf ids.
func (cp *ConstantPool) natParts(i uint16) (name, desc UTFID) {
	return cp.UTF(uint16(cp.slots[i] >> 16)), cp.UTF(uint16(cp.slots[i]))
}

// packRef builds the unresolved slot of a *Ref or NameAndType entry.
func packRef(hi, lo uint16) uint64 { return uint64(hi)<<16 | uint64(lo) }

// packFieldLocator builds the resolved slot of a Fieldref: the declaring
// class handle and the index into its fields slice.
func packFieldLocator(classHandle uint32, fieldIdx int) uint64 {
	return uint64(classHandle)<<32 | uint64(uint32(fieldIdx))
}

func unpackFieldLocator(slot uint64) (classHandle uint32, fieldIdx int) {
	return uint32(slot >> 32), int(uint32(slot))
}
