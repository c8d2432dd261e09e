package vm

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/tliron/commonlog"
)

var heapLog = commonlog.GetLogger("babevm.heap")

// Heap size bounds. The ceiling follows from the 24-bit size field in the
// chunk header.
const (
	HeapSizeMin uint32 = 64 * 1024
	HeapSizeMax uint32 = 1 << 24
)

// ErrOutOfMemory is returned by Allocate when the free list cannot satisfy
// a request even after collection. The VM replaces it with the pre-built
// OutOfMemoryError once booted.
var ErrOutOfMemory = errors.New("heap exhausted")

// ErrHeapSize rejects arena sizes outside the platform bounds.
var ErrHeapSize = errors.New("heap size out of bounds")

// Heap is the single contiguous arena all Java-visible storage lives in.
// Every allocation is a chunk: a 4-byte header followed by the body. Free
// chunks are threaded onto a doubly-linked list sorted ascending by size
// and bracketed by two in-use sentinel chunks, so allocation walks from
// the smallest end and the first fit is the best fit.
type Heap struct {
	arena []byte
	size  uint32

	headFree Ref // body ref of the head sentinel
	tailFree Ref // body ref of the tail sentinel

	// onExhausted runs the collector when the free list comes up empty.
	// outOfMemory produces the error for a second failure. Both are wired
	// by the VM; the zero values keep the allocator testable on its own.
	onExhausted func()
	outOfMemory func() error
	exit        func(int)

	allocs      uint64
	frees       uint64
	collections uint64
}

// NewHeap allocates an arena of the given size. Size must be word-aligned
// and within [HeapSizeMin, HeapSizeMax].
func NewHeap(size uint32) (*Heap, error) {
	if size < HeapSizeMin || size > HeapSizeMax || size%wordBytes != 0 {
		return nil, fmt.Errorf("%w: %d", ErrHeapSize, size)
	}
	h := &Heap{
		arena: make([]byte, size),
		size:  size,
		exit:  defaultExit,
	}
	h.outOfMemory = func() error { return ErrOutOfMemory }

	// Head sentinel, one maximal free chunk, tail sentinel. The sentinels
	// are in-use Static chunks: never allocated, never coalesced, never
	// swept. Offset 0 lies inside the head sentinel, which is what makes
	// NullRef safe.
	h.headFree = chunkHdrBytes
	h.tailFree = size - minChunkBytes + chunkHdrBytes
	h.setHeader(h.headFree, packHeader(minChunkBytes, AllocStatic, ColourWhite, false, true))
	h.setHeader(h.tailFree, packHeader(minChunkBytes, AllocStatic, ColourWhite, true, true))
	h.setFreeNext(h.headFree, h.tailFree)
	h.setFreePrev(h.tailFree, h.headFree)

	mid := h.headFree + minChunkBytes
	h.setHeader(mid, packHeader(size-2*minChunkBytes, AllocData, ColourWhite, false, false))
	h.insertFree(mid)
	return h, nil
}

// Size returns the arena size in bytes.
func (h *Heap) Size() uint32 { return h.size }

// ---------------------------------------------------------------------------
// Cell and header access
// ---------------------------------------------------------------------------

func (h *Heap) cellAt(off uint32) Cell {
	return binary.LittleEndian.Uint32(h.arena[off:])
}

func (h *Heap) setCellAt(off uint32, v Cell) {
	binary.LittleEndian.PutUint32(h.arena[off:], v)
}

// cell reads the i-th body cell of the chunk at ref.
func (h *Heap) cell(ref Ref, i uint32) Cell { return h.cellAt(ref + i*wordBytes) }

// setCell writes the i-th body cell of the chunk at ref.
func (h *Heap) setCell(ref Ref, i uint32, v Cell) { h.setCellAt(ref+i*wordBytes, v) }

func (h *Heap) header(ref Ref) uint32       { return h.cellAt(ref - chunkHdrBytes) }
func (h *Heap) setHeader(ref Ref, v uint32) { h.setCellAt(ref-chunkHdrBytes, v) }

func (h *Heap) chunkSize(ref Ref) uint32    { return hdrSize(h.header(ref)) }
func (h *Heap) allocType(ref Ref) AllocType { return hdrType(h.header(ref)) }
func (h *Heap) inUse(ref Ref) bool          { return hdrInUse(h.header(ref)) }

func (h *Heap) colour(ref Ref) Colour { return hdrColour(h.header(ref)) }

func (h *Heap) setColour(ref Ref, c Colour) {
	hdr := h.header(ref)
	hdr = hdr&^uint32(hdrColourMask<<hdrColourShift) | uint32(c)<<hdrColourShift
	h.setHeader(ref, hdr)
}

// SetAllocType rewrites the allocation-type tag of an in-use chunk.
func (h *Heap) SetAllocType(ref Ref, t AllocType) {
	hdr := h.header(ref)
	hdr = hdr&^uint32(hdrTypeMask<<hdrTypeShift) | uint32(t)<<hdrTypeShift
	h.setHeader(ref, hdr)
}

// bodyCells returns the number of cells in the chunk body.
func (h *Heap) bodyCells(ref Ref) uint32 {
	return (h.chunkSize(ref) - chunkHdrBytes) / wordBytes
}

// bytes returns the chunk body as a slice.
func (h *Heap) bytes(ref Ref) []byte {
	return h.arena[ref : ref-chunkHdrBytes+h.chunkSize(ref)]
}

// ---------------------------------------------------------------------------
// Free list
// ---------------------------------------------------------------------------

// Free chunks overlay their first two body cells with list links and keep
// a back-pointer to their own body in the last word of the chunk, which
// is how a successor finds them during coalescing.

func (h *Heap) freePrev(ref Ref) Ref         { return h.cell(ref, 0) }
func (h *Heap) freeNext(ref Ref) Ref         { return h.cell(ref, 1) }
func (h *Heap) setFreePrev(ref Ref, to Ref)  { h.setCell(ref, 0, to) }
func (h *Heap) setFreeNext(ref Ref, to Ref)  { h.setCell(ref, 1, to) }

func (h *Heap) insertFree(ref Ref) {
	size := h.chunkSize(ref)
	at := h.freeNext(h.headFree)
	for at != h.tailFree && h.chunkSize(at) < size {
		at = h.freeNext(at)
	}
	prev := h.freePrev(at)
	h.setFreeNext(prev, ref)
	h.setFreePrev(ref, prev)
	h.setFreeNext(ref, at)
	h.setFreePrev(at, ref)
	h.setCellAt(ref+size-2*wordBytes, ref) // back-pointer in the tail word
}

func (h *Heap) unlinkFree(ref Ref) {
	prev, next := h.freePrev(ref), h.freeNext(ref)
	h.setFreeNext(prev, next)
	h.setFreePrev(next, prev)
}

// ---------------------------------------------------------------------------
// Allocation
// ---------------------------------------------------------------------------

// Allocate carves an in-use chunk with a body of at least payload bytes,
// painted white and zero-filled. When the free list cannot satisfy the
// request it runs the collector once and retries; a second failure
// surfaces the out-of-memory error.
func (h *Heap) Allocate(payload uint32, t AllocType) (Ref, error) {
	if payload > maxChunkBytes-chunkHdrBytes {
		return NullRef, h.outOfMemory()
	}
	need := roundChunk(payload)
	ref := h.takeFree(need, t)
	if ref == NullRef && h.onExhausted != nil {
		h.collections++
		h.onExhausted()
		ref = h.takeFree(need, t)
	}
	if ref == NullRef {
		heapLog.Errorf("allocation of %d bytes (%v) failed after collection", need, t)
		return NullRef, h.outOfMemory()
	}
	h.allocs++
	return ref, nil
}

// AllocateCells is Allocate with the payload given in cells.
func (h *Heap) AllocateCells(cells uint32, t AllocType) (Ref, error) {
	return h.Allocate(cells*wordBytes, t)
}

func (h *Heap) takeFree(need uint32, t AllocType) Ref {
	for ref := h.freeNext(h.headFree); ref != h.tailFree; ref = h.freeNext(ref) {
		hdr := h.header(ref)
		size := hdrSize(hdr)
		if size < need {
			continue
		}
		h.unlinkFree(ref)
		prevFree := hdrPrevFree(hdr)
		if size-need >= minChunkBytes {
			// Split the tail back onto the free list. The split point is
			// in-use, so the tail's prev-free bit is clear; the tail is
			// free, so its successor's bit was set already and stays set.
			tail := ref + need
			h.setHeader(tail, packHeader(size-need, AllocData, ColourWhite, false, false))
			h.insertFree(tail)
			size = need
		} else {
			// Handing over the whole chunk: the successor's predecessor
			// is no longer free.
			succ := ref + size
			if succ-chunkHdrBytes < h.size {
				h.setHeader(succ, h.header(succ)&^uint32(hdrPrevFreeBit))
			}
		}
		h.setHeader(ref, packHeader(size, t, ColourWhite, prevFree, true))
		clear(h.arena[ref : ref-chunkHdrBytes+size])
		return ref
	}
	return NullRef
}

// ---------------------------------------------------------------------------
// Freeing
// ---------------------------------------------------------------------------

// Free returns a chunk to the free list, coalescing with free neighbours.
// Freeing a chunk that is not in use or fails validity is heap corruption
// and exits fatally.
func (h *Heap) Free(ref Ref) {
	if !h.ChunkValid(ref) || !h.inUse(ref) {
		h.corrupt("free of invalid chunk", ref)
		return
	}
	hdr := h.header(ref)
	size := hdrSize(hdr)
	start := ref
	prevFree := hdrPrevFree(hdr)

	if prevFree {
		// The predecessor's back-pointer sits in the word before our
		// header.
		pred := h.cellAt(ref - 2*wordBytes)
		h.unlinkFree(pred)
		size += h.chunkSize(pred)
		prevFree = hdrPrevFree(h.header(pred))
		start = pred
	}
	succ := start + size
	if succ-chunkHdrBytes < h.size && !h.inUse(succ) {
		h.unlinkFree(succ)
		size += h.chunkSize(succ)
	}

	h.setHeader(start, packHeader(size, AllocData, ColourWhite, prevFree, false))
	h.insertFree(start)

	next := start + size
	if next-chunkHdrBytes < h.size {
		h.setHeader(next, h.header(next)|hdrPrevFreeBit)
	}
	h.frees++
}

// Clone allocates a chunk of the same size and type as ref and copies the
// body bytes.
func (h *Heap) Clone(ref Ref) (Ref, error) {
	size := h.chunkSize(ref)
	dup, err := h.Allocate(size-chunkHdrBytes, h.allocType(ref))
	if err != nil {
		return NullRef, err
	}
	copy(h.bytes(dup), h.bytes(ref))
	return dup, nil
}

// ---------------------------------------------------------------------------
// Validity and walking
// ---------------------------------------------------------------------------

// ChunkValid sanity-checks that ref plausibly addresses a chunk body:
// in-arena, aligned, header size within bounds, successor within bounds,
// type and colour within range.
func (h *Heap) ChunkValid(ref Ref) bool {
	if ref < chunkHdrBytes || ref >= h.size || ref%wordBytes != 0 {
		return false
	}
	hdr := h.header(ref)
	size := hdrSize(hdr)
	if size < minChunkBytes || size%wordBytes != 0 {
		return false
	}
	if ref-chunkHdrBytes+size > h.size {
		return false
	}
	if hdrType(hdr) > allocTypeMax {
		return false
	}
	return hdrColour(hdr) <= ColourBlack
}

func (h *Heap) corrupt(msg string, ref Ref) {
	heapLog.Criticalf("heap corruption: %s (ref=%#x header=%#x)", msg, ref, h.header(ref))
	h.exit(ExitInvalidChunk)
	panic(fmt.Sprintf("heap corruption: %s", msg))
}

// firstChunk starts the arena walk at the head sentinel.
func (h *Heap) firstChunk() Ref { return chunkHdrBytes }

// nextChunk steps the arena walk. The walk ends when walkDone reports
// true for the returned ref.
func (h *Heap) nextChunk(ref Ref) Ref { return ref + h.chunkSize(ref) }

func (h *Heap) walkDone(ref Ref) bool { return ref-chunkHdrBytes >= h.size }

func (h *Heap) isSentinel(ref Ref) bool { return ref == h.headFree || ref == h.tailFree }

// ---------------------------------------------------------------------------
// Statistics
// ---------------------------------------------------------------------------

// HeapStats is a point-in-time summary of arena occupancy.
type HeapStats struct {
	Size        uint32
	InUseBytes  uint32
	FreeBytes   uint32
	InUseChunks uint32
	FreeChunks  uint32
	LargestFree uint32
	Allocs      uint64
	Frees       uint64
	Collections uint64
}

// Stats walks the arena and tallies occupancy.
func (h *Heap) Stats() HeapStats {
	s := HeapStats{
		Size:        h.size,
		Allocs:      h.allocs,
		Frees:       h.frees,
		Collections: h.collections,
	}
	for ref := h.firstChunk(); !h.walkDone(ref); ref = h.nextChunk(ref) {
		size := h.chunkSize(ref)
		if h.inUse(ref) {
			s.InUseChunks++
			s.InUseBytes += size
		} else {
			s.FreeChunks++
			s.FreeBytes += size
			if size > s.LargestFree {
				s.LargestFree = size
			}
		}
	}
	return s
}

// FreeRunSizes returns the sizes along the free list, smallest first.
func (h *Heap) FreeRunSizes() []uint32 {
	var runs []uint32
	for ref := h.freeNext(h.headFree); ref != h.tailFree; ref = h.freeNext(ref) {
		runs = append(runs, h.chunkSize(ref))
	}
	return runs
}
