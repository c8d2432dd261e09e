package vm

// Segmented thread stacks. A frame is a region of one segment:
//
//	base+0  saved caller method handle (wedge/barrier sentinels included)
//	base+1  saved caller pc
//	base+2  saved caller locals base, packed (segment, offset)
//	base+3  saved caller sp, packed (segment, offset)
//	base+4  locals (maxLocals cells), arguments copied in front
//	...     operand stack (maxStack cells)
//
// A frame never straddles segments: when the current segment cannot hold
// a push, a new segment is allocated and the frame starts at its base.
const frameSavedCells = 4

const (
	savedMethodSlot = 0
	savedPCSlot     = 1
	savedLocalsSlot = 2
	savedSPSlot     = 3
)

// frameCells returns the full frame size of a method.
func frameCells(m *Method) uint32 {
	return frameSavedCells + uint32(m.maxLocals) + uint32(m.maxStack)
}

// pushEntryFrame wedges the stack bottom and pushes the thread's first
// frame.
func (vm *VM) pushEntryFrame(t *Thread, m *Method, args []Cell) error {
	return vm.pushFrame(t, m, args, vm.wedgeHandle)
}

// pushFrame enters a Java method: finds room for the frame, saves the
// caller's registers into the conventional slots, copies the arguments
// into the leading locals, and points the registers at the new frame.
// callerSlot overrides the saved method handle for boundary frames.
func (vm *VM) pushFrame(t *Thread, m *Method, args []Cell, callerSlot uint32) error {
	need := frameCells(m)
	if need > maxStackFrameCells {
		return vm.ThrowStackOverflow()
	}

	seg, base, err := vm.frameRoom(t, need)
	if err != nil {
		return err
	}

	segRef := t.segments[seg]
	vm.heap.setCell(segRef, base+savedMethodSlot, callerSlot)
	vm.heap.setCell(segRef, base+savedPCSlot, Cell(t.pc))
	vm.heap.setCell(segRef, base+savedLocalsSlot, packStackAddr(t.seg, t.locals))
	vm.heap.setCell(segRef, base+savedSPSlot, packStackAddr(t.seg, t.sp))

	locals := base + frameSavedCells
	for i := uint32(0); i < uint32(m.maxLocals); i++ {
		var v Cell
		if i < uint32(len(args)) {
			v = args[i]
		}
		vm.heap.setCell(segRef, locals+i, v)
	}

	t.seg = seg
	t.locals = locals
	t.sp = locals + uint32(m.maxLocals)
	t.pc = 0
	t.method = m
	return nil
}

// maxStackFrameCells bounds one frame to the packed-address offset width.
const maxStackFrameCells = 1 << 24

// frameRoom finds a segment with room for a frame, growing the stack on
// demand and enforcing the per-thread ceiling.
func (vm *VM) frameRoom(t *Thread, need uint32) (int, uint32, error) {
	if len(t.segments) > 0 && t.sp+need <= t.segCells[t.seg] {
		return t.seg, t.sp, nil
	}
	// Reuse an already grown overflow segment before allocating another.
	if t.seg+1 < len(t.segments) && need <= t.segCells[t.seg+1] {
		return t.seg + 1, 0, nil
	}

	var used uint32
	for _, cells := range t.segCells {
		used += cells
	}
	if used+need > vm.opts.StackCells {
		return 0, 0, vm.ThrowStackOverflow()
	}

	cells := vm.opts.StackSegmentCells
	if cells < need {
		cells = need
	}
	seg, err := vm.heap.AllocateCells(cells, AllocData)
	if err != nil {
		return 0, 0, err
	}
	t.segments = append(t.segments, seg)
	t.segCells = append(t.segCells, cells)
	return len(t.segments) - 1, 0, nil
}

// popResult says what a frame pop uncovered.
type popResult uint8

const (
	poppedFrame   popResult = iota // back in the caller, registers restored
	poppedWedge                    // the stack bottom: the thread is done
	poppedBarrier                  // the bound of a nested run
)

// popFrame leaves the current frame, restoring the caller's registers.
// The frame's segment is kept for reuse; segments are only released at
// thread termination.
func (vm *VM) popFrame(t *Thread) popResult {
	segRef := t.segments[t.seg]
	base := t.locals - frameSavedCells
	callerMethod := vm.heap.cell(segRef, base+savedMethodSlot)

	switch callerMethod {
	case vm.wedgeHandle:
		return poppedWedge
	case vm.barrierHandle:
		// The nested-run driver restores the real registers; hand back
		// the saved locals/sp so the operand stack is balanced.
		seg, locals := unpackStackAddr(vm.heap.cell(segRef, base+savedLocalsSlot))
		_, sp := unpackStackAddr(vm.heap.cell(segRef, base+savedSPSlot))
		t.seg, t.locals, t.sp = seg, locals, sp
		return poppedBarrier
	}

	pc := int(vm.heap.cell(segRef, base+savedPCSlot))
	seg, locals := unpackStackAddr(vm.heap.cell(segRef, base+savedLocalsSlot))
	_, sp := unpackStackAddr(vm.heap.cell(segRef, base+savedSPSlot))

	t.method = vm.methods.lookup(callerMethod)
	t.pc = pc
	t.seg, t.locals, t.sp = seg, locals, sp
	return poppedFrame
}

// ---------------------------------------------------------------------------
// Operand stack
// ---------------------------------------------------------------------------

func (vm *VM) push(t *Thread, v Cell) {
	vm.heap.setCell(t.segments[t.seg], t.sp, v)
	t.sp++
}

func (vm *VM) pop(t *Thread) Cell {
	t.sp--
	return vm.heap.cell(t.segments[t.seg], t.sp)
}

// peek reads the cell n slots below the top without popping.
func (vm *VM) peek(t *Thread, n uint32) Cell {
	return vm.heap.cell(t.segments[t.seg], t.sp-1-n)
}

func (vm *VM) pushWide(t *Thread, v int64) {
	vm.push(t, Cell(uint64(v)))
	vm.push(t, Cell(uint64(v)>>32))
}

func (vm *VM) popWide(t *Thread) int64 {
	hi := uint64(vm.pop(t))
	lo := uint64(vm.pop(t))
	return int64(hi<<32 | lo)
}

// local reads local variable slot i of the current frame.
func (vm *VM) local(t *Thread, i uint32) Cell {
	return vm.heap.cell(t.segments[t.seg], t.locals+i)
}

func (vm *VM) setLocal(t *Thread, i uint32, v Cell) {
	vm.heap.setCell(t.segments[t.seg], t.locals+i, v)
}

func (vm *VM) localWide(t *Thread, i uint32) int64 {
	lo := uint64(vm.local(t, i))
	hi := uint64(vm.local(t, i+1))
	return int64(hi<<32 | lo)
}

func (vm *VM) setLocalWide(t *Thread, i uint32, v int64) {
	vm.setLocal(t, i, Cell(uint64(v)))
	vm.setLocal(t, i+1, Cell(uint64(v)>>32))
}

// clearOperands resets the operand stack of the current frame, for
// exception handler entry.
func (vm *VM) clearOperands(t *Thread) {
	t.sp = t.locals + uint32(t.method.maxLocals)
}

// ---------------------------------------------------------------------------
// Backtraces
// ---------------------------------------------------------------------------

// captureBacktrace walks the thread's frames top to bottom. Frames whose
// class is a Throwable subclass are skipped so user-visible traces start
// at the throw site rather than inside exception constructors.
func (vm *VM) captureBacktrace(t *Thread) []TraceFrame {
	var frames []TraceFrame
	method := t.method
	seg, locals := t.seg, t.locals
	pc := t.pc

	for method != nil {
		skip := vm.throwable != nil && method.class != nil &&
			method.class.subclassOf(vm.throwable)
		if !skip {
			frames = append(frames, vm.traceFrame(method, pc))
		}

		segRef := t.segments[seg]
		base := locals - frameSavedCells
		callerMethod := vm.heap.cell(segRef, base+savedMethodSlot)
		if callerMethod == vm.wedgeHandle || callerMethod == vm.barrierHandle {
			break
		}
		pc = int(vm.heap.cell(segRef, base+savedPCSlot))
		seg, locals = unpackStackAddr(vm.heap.cell(segRef, base+savedLocalsSlot))
		method = vm.methods.lookup(callerMethod)
	}
	return frames
}

func (vm *VM) traceFrame(m *Method, pc int) TraceFrame {
	f := TraceFrame{
		ClassName:  vm.utf.Name(m.class.name),
		MethodName: vm.utf.Name(m.name),
		Native:     m.IsNative(),
	}
	if !f.Native {
		f.SourceFile = vm.utf.Name(m.class.sourceFile)
		f.Line = m.line(pc)
	}
	return f
}
