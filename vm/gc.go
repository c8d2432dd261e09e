package vm

import (
	"time"

	"github.com/tliron/commonlog"
)

var gcLog = commonlog.GetLogger("babevm.gc")

// GCStats summarizes one collection cycle.
type GCStats struct {
	ChunksFreed     uint32
	BytesFreed      uint32
	WeakCleared     uint32
	ClassesUnloaded uint32
	Duration        time.Duration
}

// Collect runs a full tri-colour mark-and-sweep cycle. The collector is
// stop-the-world: the scheduler is cooperative, so the cycle simply runs
// to completion inside whatever allocation triggered it.
func (vm *VM) Collect() GCStats {
	start := time.Now()
	var weak []Ref

	// Root sets, permanent first.
	for _, ref := range vm.permanent {
		vm.mark(ref, &weak)
	}
	for _, ref := range vm.transient {
		vm.mark(ref, &weak)
	}
	for _, ref := range vm.internPool {
		// Interned strings never die; blacken them and their characters
		// without a full trace.
		vm.heap.setColour(ref, ColourBlack)
		if chars := vm.heap.cell(ref, strCharsCell); chars != NullRef {
			vm.heap.setColour(chars, ColourBlack)
		}
	}
	for _, t := range vm.sched.threads {
		vm.markThread(t, &weak)
	}
	for ref := range vm.debugger.pins {
		vm.mark(ref, &weak)
	}

	cleared := vm.clearWeakReferents(weak)
	stats := vm.sweep()
	stats.WeakCleared = cleared
	stats.Duration = time.Since(start)

	gcLog.Infof("collected %d chunks (%d bytes), %d weak cleared, %d classes unloaded in %v",
		stats.ChunksFreed, stats.BytesFreed, stats.WeakCleared, stats.ClassesUnloaded, stats.Duration)
	vm.lastGC = stats
	return stats
}

// LastGC returns the statistics of the most recent collection.
func (vm *VM) LastGC() GCStats { return vm.lastGC }

// ---------------------------------------------------------------------------
// Marking
// ---------------------------------------------------------------------------

// mark greys a chunk, traces its children by allocation type, then
// blackens it. Weak references defer their referent to the post-mark
// phase instead of tracing it.
func (vm *VM) mark(ref Ref, weak *[]Ref) {
	if ref == NullRef || !vm.heap.ChunkValid(ref) || !vm.heap.inUse(ref) {
		return
	}
	if vm.heap.colour(ref) != ColourWhite {
		return
	}
	vm.heap.setColour(ref, ColourGrey)

	switch vm.heap.allocType(ref) {
	case AllocObject:
		vm.markObject(ref, weak, UTFNone)
		// A registered class loader anchors everything it defined.
		vm.markLoaderInfo(ref, weak)

	case AllocWeakReference:
		// The referent stays unmarked; every other field traces
		// normally. The weak list is visited after marking completes.
		vm.markObject(ref, weak, vm.utf.Intern("referent"))
		*weak = append(*weak, ref)

	case AllocArrayOfObject:
		vm.mark(vm.heap.cell(ref, objClassCell), weak)
		n := uint32(vm.ArrayLength(ref))
		for i := uint32(0); i < n; i++ {
			vm.mark(vm.heap.cell(ref, arrDataBase+i), weak)
		}

	case AllocString:
		vm.mark(vm.heap.cell(ref, objClassCell), weak)
		if chars := vm.heap.cell(ref, strCharsCell); chars != NullRef {
			vm.heap.setColour(chars, ColourBlack)
		}

	case AllocInstanceClazz:
		vm.markInstanceClass(ref, weak)

	case AllocArrayClazz, AllocPrimitiveClazz:
		vm.markLoader(vm.heap.cell(ref, anchorLoaderCell), weak)

	case AllocArrayOfPrim, AllocData, AllocStatic:
		// Leaves: no children.
	}

	vm.heap.setColour(ref, ColourBlack)
}

// markObject traces an instance: its class anchor (which keeps the
// defining loader, and through it the class, alive), then every
// reference field of the class chain, minus the skipped field.
func (vm *VM) markObject(ref Ref, weak *[]Ref, skip UTFID) {
	anchor := vm.heap.cell(ref, objClassCell)
	vm.mark(anchor, weak)
	cl := vm.classAt(anchor)
	for k := cl; k != nil; k = k.super {
		for i := range k.fields {
			f := &k.fields[i]
			if f.IsStatic() || !f.isRef {
				continue
			}
			if skip != UTFNone && f.name == skip {
				continue
			}
			vm.mark(vm.GetField(ref, f), weak)
		}
	}
	// A class mirror carries the mirrored class's anchor past the
	// declared fields; tracing it keeps the class alive while any code
	// holds the mirror.
	if cl != nil && cl == vm.classClass {
		vm.mark(vm.heap.cell(ref, vm.heap.bodyCells(ref)-1), weak)
	}
}

// markInstanceClass traces a class anchor: the defining loaders of the
// class and its superclasses, then the reference statics.
func (vm *VM) markInstanceClass(anchor Ref, weak *[]Ref) {
	c := vm.classAt(anchor)
	if c == nil {
		return
	}
	for k := c; k != nil; k = k.super {
		vm.markLoader(k.loader, weak)
	}
	for i := range c.fields {
		f := &c.fields[i]
		if f.IsStatic() && f.isRef {
			vm.mark(vm.GetStatic(f), weak)
		}
	}
}

// markLoader marks a classloader and, transitively, every class the
// loader owns: each anchor, each mirror, and the mirror array. Bootstrap
// classes are pinned permanently, so the bootstrap loader is a no-op.
func (vm *VM) markLoader(loader Ref, weak *[]Ref) {
	if loader == NullRef {
		return
	}
	vm.mark(loader, weak)
	vm.markLoaderInfo(loader, weak)
}

// markLoaderInfo traces a loader's registration: the classes it
// defined and its mirror array. A ref with no registration is not a
// loader and traces nothing.
func (vm *VM) markLoaderInfo(loader Ref, weak *[]Ref) {
	info := vm.loaderOf(loader)
	if info == nil {
		return
	}
	if info.mirrors != NullRef {
		vm.mark(info.mirrors, weak)
	}
	for _, c := range info.classes {
		vm.mark(c.anchor, weak)
		vm.mark(c.mirror, weak)
	}
}

// markThread scans a thread's stack conservatively frame by frame, plus
// its pending exception and Java mirror.
func (vm *VM) markThread(t *Thread, weak *[]Ref) {
	vm.mark(t.mirror, weak)
	vm.mark(t.pending, weak)

	// The segments are Data chunks; without this the sweep would free a
	// live stack.
	for _, segRef := range t.segments {
		vm.heap.setColour(segRef, ColourBlack)
	}

	if t.is(StateTerminated) || t.method == nil {
		return
	}

	seg, locals, sp := t.seg, t.locals, t.sp
	for {
		segRef := t.segments[seg]
		for off := locals; off < sp; off++ {
			v := vm.heap.cell(segRef, off)
			if vm.looksLikeRef(v) {
				vm.mark(v, weak)
			}
		}
		base := locals - frameSavedCells
		callerMethod := vm.heap.cell(segRef, base+savedMethodSlot)
		if callerMethod == vm.wedgeHandle {
			return
		}
		nextSeg, nextLocals := unpackStackAddr(vm.heap.cell(segRef, base+savedLocalsSlot))
		_, nextSP := unpackStackAddr(vm.heap.cell(segRef, base+savedSPSlot))
		seg, locals, sp = nextSeg, nextLocals, nextSP
		if callerMethod != vm.barrierHandle && vm.methods.lookup(callerMethod) == nil {
			return
		}
	}
}

// looksLikeRef is the conservative stack-scan heuristic: the cell must
// address a valid in-use object-like chunk whose first cell points at a
// class anchor carrying the magic.
func (vm *VM) looksLikeRef(v Cell) bool {
	if v == NullRef || !vm.heap.ChunkValid(v) || !vm.heap.inUse(v) {
		return false
	}
	if vm.heap.allocType(v) > maxObjectType {
		return false
	}
	anchor := vm.heap.cell(v, objClassCell)
	if anchor == NullRef {
		// Mirrors allocated before java/lang/Class loaded.
		return vm.heap.allocType(v) == AllocObject
	}
	if !vm.heap.ChunkValid(anchor) || !vm.heap.inUse(anchor) {
		return false
	}
	switch vm.heap.allocType(anchor) {
	case AllocInstanceClazz, AllocArrayClazz, AllocPrimitiveClazz:
		return vm.heap.cell(anchor, anchorMagicCell) == classMagic
	}
	return false
}

// ---------------------------------------------------------------------------
// Weak references
// ---------------------------------------------------------------------------

// clearWeakReferents nulls the referent of every weak reference whose
// referent stayed white through marking.
func (vm *VM) clearWeakReferents(weak []Ref) uint32 {
	var cleared uint32
	for _, ref := range weak {
		cl := vm.classOf(ref)
		f := vm.referentField(cl)
		if f == nil {
			continue
		}
		referent := vm.GetField(ref, f)
		if referent == NullRef {
			continue
		}
		if vm.heap.ChunkValid(referent) && vm.heap.inUse(referent) &&
			vm.heap.colour(referent) == ColourWhite {
			vm.SetField(ref, f, NullRef)
			cleared++
		}
	}
	return cleared
}

func (vm *VM) referentField(cl *Class) *Field {
	id := vm.utf.Intern("referent")
	for k := cl; k != nil; k = k.super {
		for i := range k.fields {
			if k.fields[i].name == id && !k.fields[i].IsStatic() {
				return &k.fields[i]
			}
		}
	}
	return nil
}

// ---------------------------------------------------------------------------
// Sweeping
// ---------------------------------------------------------------------------

// sweep frees every white in-use chunk and repaints survivors white. The
// condemned set is gathered first so that coalescing during Free never
// disturbs the walk. Class chunks additionally unregister from the class
// pool; loader and throwable side tables are kept in step.
func (vm *VM) sweep() GCStats {
	var stats GCStats
	var condemned []Ref

	for ref := vm.heap.firstChunk(); !vm.heap.walkDone(ref); ref = vm.heap.nextChunk(ref) {
		if !vm.heap.inUse(ref) || vm.heap.isSentinel(ref) {
			continue
		}
		if vm.heap.allocType(ref) == AllocStatic {
			continue
		}
		if vm.heap.colour(ref) == ColourWhite {
			condemned = append(condemned, ref)
		} else {
			vm.heap.setColour(ref, ColourWhite)
		}
	}

	for _, ref := range condemned {
		switch vm.heap.allocType(ref) {
		case AllocInstanceClazz, AllocArrayClazz, AllocPrimitiveClazz:
			if c := vm.classAt(ref); c != nil {
				vm.unregisterClass(c)
				stats.ClassesUnloaded++
			}
		}
		delete(vm.traces, ref)
		delete(vm.loaders, ref)
		stats.BytesFreed += vm.heap.chunkSize(ref)
		vm.heap.Free(ref)
		stats.ChunksFreed++
	}

	vm.monitorSweep()
	return stats
}
