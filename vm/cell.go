package vm

// Cell is the universal storage slot: one 32-bit machine word. Every stack
// slot, instance field, static field, and reference-array element is one
// cell. A Java long or double occupies two adjacent cells.
//
// A cell holds, depending on context, a signed integer, a heap reference
// (byte offset into the arena), a packed stack address, or a handle into
// one of the VM's side tables (classes, methods). The interpretation is
// carried by the surrounding structure, never by the cell itself.
type Cell = uint32

// Ref is a heap reference: the byte offset of a chunk body within the
// arena. NullRef is 0, which falls inside the head sentinel chunk and can
// never address user data.
type Ref = uint32

// NullRef is the null heap reference.
const NullRef Ref = 0

// Word geometry and chunk limits.
const (
	wordBytes = 4 // one cell

	// chunkHdrBytes is the fixed chunk header preceding every body.
	chunkHdrBytes = 4

	// minChunkBytes covers header, the two free-list links a free chunk
	// overlays on its body, and the back-pointer in its last word.
	minChunkBytes = 16

	// maxChunkBytes is the largest encodable chunk: the header stores
	// sizes in 24 bits.
	maxChunkBytes = 1 << 24

	// maxArrayBytes guards array length arithmetic against overflow. It
	// happens to equal the heap ceiling but is a distinct limit.
	maxArrayBytes = 0x1000000
)

// AllocType tags every chunk with the shape the collector must trace.
type AllocType uint8

// Allocation types, in header-tag order. Types at or below
// AllocWeakReference are object-like: a thread-stack cell may legitimately
// reference them and the conservative scan accepts them.
const (
	AllocObject        AllocType = 0
	AllocArrayOfPrim   AllocType = 1
	AllocArrayOfObject AllocType = 2
	AllocString        AllocType = 3
	AllocWeakReference AllocType = 4
	AllocData          AllocType = 5
	AllocInstanceClazz AllocType = 6
	AllocArrayClazz    AllocType = 7
	AllocPrimitiveClazz AllocType = 8
	AllocStatic        AllocType = 9 // never collected

	allocTypeMax = AllocStatic

	// maxObjectType bounds the alloc types the stack scanner treats as
	// candidate heap references.
	maxObjectType = AllocWeakReference
)

func (t AllocType) String() string {
	switch t {
	case AllocObject:
		return "object"
	case AllocArrayOfPrim:
		return "array-of-primitive"
	case AllocArrayOfObject:
		return "array-of-object"
	case AllocString:
		return "string"
	case AllocWeakReference:
		return "weak-reference"
	case AllocData:
		return "data"
	case AllocInstanceClazz:
		return "instance-class"
	case AllocArrayClazz:
		return "array-class"
	case AllocPrimitiveClazz:
		return "primitive-class"
	case AllocStatic:
		return "static"
	default:
		return "invalid"
	}
}

// Colour is the tri-colour marking state of a chunk.
type Colour uint8

const (
	ColourWhite Colour = 0 // unvisited; condemned at sweep
	ColourGrey  Colour = 1 // reached, children not yet scanned
	ColourBlack Colour = 2 // reached and fully scanned
)

func (c Colour) String() string {
	switch c {
	case ColourWhite:
		return "white"
	case ColourGrey:
		return "grey"
	case ColourBlack:
		return "black"
	default:
		return "invalid"
	}
}

// Chunk header layout, one uint32 immediately before the body:
//
//	bits 31..8  chunk size in bytes, header included (24 bits)
//	bits  7..4  allocation type
//	bits  3..2  GC colour
//	bit      1  previous chunk in the arena walk is free
//	bit      0  in use
const (
	hdrSizeShift   = 8
	hdrTypeShift   = 4
	hdrTypeMask    = 0xF
	hdrColourShift = 2
	hdrColourMask  = 0x3
	hdrPrevFreeBit = 0x2
	hdrInUseBit    = 0x1
)

func packHeader(size uint32, t AllocType, c Colour, prevFree, inUse bool) uint32 {
	h := size<<hdrSizeShift | uint32(t)<<hdrTypeShift | uint32(c)<<hdrColourShift
	if prevFree {
		h |= hdrPrevFreeBit
	}
	if inUse {
		h |= hdrInUseBit
	}
	return h
}

func hdrSize(h uint32) uint32      { return h >> hdrSizeShift }
func hdrType(h uint32) AllocType   { return AllocType(h >> hdrTypeShift & hdrTypeMask) }
func hdrColour(h uint32) Colour    { return Colour(h >> hdrColourShift & hdrColourMask) }
func hdrPrevFree(h uint32) bool    { return h&hdrPrevFreeBit != 0 }
func hdrInUse(h uint32) bool       { return h&hdrInUseBit != 0 }

// roundChunk rounds a body payload size up to a whole word-aligned chunk
// size including the header, never below the minimum chunk.
func roundChunk(payload uint32) uint32 {
	n := payload + chunkHdrBytes
	n = (n + wordBytes - 1) &^ uint32(wordBytes-1)
	if n < minChunkBytes {
		n = minChunkBytes
	}
	return n
}

// classMagic sits in the first cell of every class anchor chunk. The
// stack scanner keys on it when deciding whether a cell is a reference.
const classMagic uint32 = 0xCAFEBABE

// packStackAddr encodes a (segment index, cell offset) pair into one cell
// for the saved-caller slots of a stack frame.
func packStackAddr(seg int, off uint32) Cell {
	return Cell(seg)<<24 | off&0xFFFFFF
}

func unpackStackAddr(c Cell) (seg int, off uint32) {
	return int(c >> 24), c & 0xFFFFFF
}
