package vm

import "math"

// runResult says why a quantum of interpretation ended.
type runResult uint8

const (
	ranQuantum    runResult = iota // quantum exhausted, thread still runnable
	ranBlocked                     // thread parked on a monitor or timer
	ranTerminated                  // bottom frame popped or uncaught throwable
	ranBarrier                     // nested-run bound reached (CallSynchronous)
)

// Big-endian code-stream readers.
func codeU2(code []byte, pc int) uint16 {
	return uint16(code[pc])<<8 | uint16(code[pc+1])
}

func codeS2(code []byte, pc int) int16 { return int16(codeU2(code, pc)) }

func codeS4(code []byte, pc int) int32 {
	return int32(code[pc])<<24 | int32(code[pc+1])<<16 | int32(code[pc+2])<<8 | int32(code[pc+3])
}

// Typed operand-stack accessors over the raw cell stack.
func (vm *VM) pushInt(t *Thread, v int32)     { vm.push(t, Cell(v)) }
func (vm *VM) popInt(t *Thread) int32         { return int32(vm.pop(t)) }
func (vm *VM) pushFloat(t *Thread, v float32) { vm.push(t, Cell(math.Float32bits(v))) }
func (vm *VM) popFloat(t *Thread) float32     { return math.Float32frombits(uint32(vm.pop(t))) }
func (vm *VM) pushDouble(t *Thread, v float64) {
	vm.pushWide(t, int64(math.Float64bits(v)))
}
func (vm *VM) popDouble(t *Thread) float64 {
	return math.Float64frombits(uint64(vm.popWide(t)))
}

// Narrowing float-to-int conversions saturate and map NaN to zero
// (JVMS 2.8.1).
func f2i32(v float64) int32 {
	switch {
	case math.IsNaN(v):
		return 0
	case v >= float64(math.MaxInt32):
		return math.MaxInt32
	case v <= float64(math.MinInt32):
		return math.MinInt32
	}
	return int32(v)
}

func f2i64(v float64) int64 {
	switch {
	case math.IsNaN(v):
		return 0
	case v >= float64(math.MaxInt64):
		return math.MaxInt64
	case v <= float64(math.MinInt64):
		return math.MinInt64
	}
	return int64(v)
}

// methodLock returns the monitor object of the current synchronized
// method: the receiver for instance methods, the class mirror for
// static ones.
func (vm *VM) methodLock(t *Thread) Ref {
	if t.method.IsStatic() {
		return t.method.class.mirror
	}
	return vm.local(t, 0)
}

// findHandler scans the current method's exception table for a handler
// covering t.pc that catches th, returning its target pc or -1. A
// throwable whose class could not be instantiated matches catch-all
// entries and name-identical catch types only.
func (vm *VM) findHandler(t *Thread, th *Thrown) int {
	m := t.method
	if m == nil || m.code == nil {
		return -1
	}
	var thrownClass *Class
	if th.Object != NullRef {
		thrownClass = vm.classOf(th.Object)
	}
	for i := range m.handlers {
		h := &m.handlers[i]
		if t.pc < int(h.Start) || t.pc >= int(h.End) {
			continue
		}
		if h.CatchType == 0 {
			return int(h.Handler)
		}
		catch, err := vm.ResolveClassConst(m.class, h.CatchType)
		if err != nil {
			continue
		}
		if thrownClass != nil {
			if vm.CanAssign(thrownClass, catch) {
				return int(h.Handler)
			}
		} else if vm.utf.Name(catch.name) == th.ClassName {
			return int(h.Handler)
		}
	}
	return -1
}

// raise dispatches err as a Java exception on t: the stack unwinds
// frame by frame until a handler catches it, releasing synchronized
// methods' monitors on the way. stop is false when a handler was
// entered and interpretation continues.
func (vm *VM) raise(t *Thread, err error) (stop bool, res runResult) {
	th, ok := AsThrown(err)
	if !ok {
		th = &Thrown{ClassName: ExInternal, Message: err.Error()}
	}
	for {
		if h := vm.findHandler(t, th); h >= 0 {
			vm.clearOperands(t)
			vm.push(t, th.Object)
			t.pc = h
			return false, 0
		}
		if t.method != nil && t.method.IsSynchronized() {
			lock := vm.methodLock(t)
			if m := vm.findMonitor(lock, false); m != nil && m.owner == t {
				_ = vm.MonitorRelease(lock, t)
			}
		}
		switch vm.popFrame(t) {
		case poppedFrame:
			// keep unwinding in the caller
		case poppedWedge:
			t.pending = th.Object
			t.pendingName = th.ClassName
			return true, ranTerminated
		case poppedBarrier:
			t.nested = th
			return true, ranBarrier
		}
	}
}

// nativeParked reports whether a native call left t parked (wait,
// sleep, join); the interpreter must then yield without re-executing
// the invoke.
func nativeParked(t *Thread) bool {
	return t.state&(StateBlocked|StateWaiting|StateTimedWaiting) != 0
}

// invoke transfers control into target; the argument cells are on top
// of t's operand stack. blocked is true when a synchronized target's
// monitor is contended or a native call parked the thread. For the
// contended case the stack and pc are untouched so the invoke simply
// re-executes when the monitor is granted.
func (vm *VM) invoke(t *Thread, target *Method, npc int) (blocked bool, err error) {
	total := uint32(target.invokeCells())

	var lock Ref
	if target.IsSynchronized() {
		if target.IsStatic() {
			lock = target.class.mirror
		} else {
			lock = vm.peek(t, total-1)
		}
		if !vm.MonitorAcquire(lock, t) {
			return true, nil
		}
	}

	if target.IsNative() {
		fn, ferr := vm.nativeFor(target)
		if ferr != nil {
			if target.IsSynchronized() {
				_ = vm.MonitorRelease(lock, t)
			}
			return false, ferr
		}
		args := make([]Cell, total)
		for i := uint32(0); i < total; i++ {
			args[i] = vm.peek(t, total-1-i)
		}
		// Arguments stay on the stack during the call so a collection
		// triggered inside the native still sees them as roots.
		rets, cerr := fn(vm, t, args)
		t.sp -= total
		if target.IsSynchronized() {
			_ = vm.MonitorRelease(lock, t)
		}
		if cerr != nil {
			return false, cerr
		}
		t.pc = npc
		if nativeParked(t) {
			return true, nil
		}
		for _, r := range rets {
			vm.push(t, r)
		}
		return false, nil
	}

	args := make([]Cell, total)
	for i := uint32(0); i < total; i++ {
		args[i] = vm.peek(t, total-1-i)
	}
	ipc := t.pc
	t.sp -= total
	t.pc = npc

	// The args have left the scanned stack region; pin the
	// reference-looking ones while the new frame may allocate.
	scope := vm.TransientScope()
	for _, a := range args {
		if vm.looksLikeRef(a) {
			vm.PushTransient(a)
		}
	}
	perr := vm.pushFrame(t, target, args, t.method.handle)
	scope.Close()
	if perr != nil {
		t.pc = ipc
		if target.IsSynchronized() {
			_ = vm.MonitorRelease(lock, t)
		}
		return false, perr
	}
	return false, nil
}

// CallSynchronous runs m to completion on t's stack, bounded by a
// barrier frame, and returns its result cells. The scheduler never sees
// the nested run: an exhausted quantum is replenished in place. Class
// initialisers and VM-internal upcalls run through here.
func (vm *VM) CallSynchronous(t *Thread, m *Method, args []Cell) ([]Cell, error) {
	if m.IsAbstract() {
		return nil, vm.Throw(ExAbstractMethod, vm.utf.Name(m.name))
	}

	var lock Ref
	if m.IsSynchronized() {
		if m.IsStatic() {
			lock = m.class.mirror
		} else {
			lock = args[0]
		}
		// A bounded run cannot park, so a contended lock is fatal here
		// rather than a reason to queue the thread.
		if mon := vm.findMonitor(lock, false); t.granted != lock &&
			mon != nil && mon.owner != nil && mon.owner != t {
			return nil, vm.Throw(ExInternal, "contended monitor inside a bounded run")
		}
		vm.MonitorAcquire(lock, t)
	}

	if m.IsNative() {
		fn, err := vm.nativeFor(m)
		if err == nil {
			var rets []Cell
			rets, err = fn(vm, t, args)
			if m.IsSynchronized() {
				_ = vm.MonitorRelease(lock, t)
			}
			return rets, err
		}
		if m.IsSynchronized() {
			_ = vm.MonitorRelease(lock, t)
		}
		return nil, err
	}

	savedPC, savedMethod := t.pc, t.method
	if err := vm.pushFrame(t, m, args, vm.barrierHandle); err != nil {
		if m.IsSynchronized() {
			_ = vm.MonitorRelease(lock, t)
		}
		return nil, err
	}

	for {
		switch vm.interpret(t) {
		case ranQuantum:
			t.quantum = vm.opts.Quantum
		case ranBarrier:
			t.pc, t.method = savedPC, savedMethod
			if th := t.nested; th != nil {
				t.nested = nil
				return nil, th
			}
			n := int(m.retCells)
			rets := make([]Cell, n)
			for i := n - 1; i >= 0; i-- {
				rets[i] = vm.pop(t)
			}
			return rets, nil
		case ranBlocked:
			// A nested run cannot yield to the scheduler; a blocking
			// wait inside <clinit> would deadlock the whole VM.
			t.pc, t.method = savedPC, savedMethod
			return nil, vm.Throw(ExInternal, "thread parked inside a bounded run")
		case ranTerminated:
			t.pc, t.method = savedPC, savedMethod
			return nil, vm.Throw(ExInternal, "bounded run unwound past its barrier")
		}
	}
}

// interpret executes bytecodes on t until its quantum expires, it
// parks, or its bottom frame pops. pc is left at the faulting or
// blocking instruction where re-execution is required.
func (vm *VM) interpret(t *Thread) runResult {
	if t.interruptWake {
		t.interruptWake = false
		t.interrupted = false
		if stop, res := vm.raise(t, vm.Throw(ExInterrupted, "interrupted")); stop {
			return res
		}
	}

	for {
		if t.quantum <= 0 {
			return ranQuantum
		}
		t.quantum--

		m := t.method
		code := m.code
		pc := t.pc
		op := code[pc]

		switch op {
		case opNop:
			t.pc++

		// ---- constants ------------------------------------------------
		case opAconstNull:
			vm.push(t, NullRef)
			t.pc++
		case opIconstM1, opIconst0, opIconst1, opIconst2, opIconst3, opIconst4, opIconst5:
			vm.pushInt(t, int32(op)-int32(opIconst0))
			t.pc++
		case opLconst0, opLconst1:
			vm.pushWide(t, int64(op-opLconst0))
			t.pc++
		case opFconst0, opFconst1, opFconst2:
			vm.pushFloat(t, float32(op-opFconst0))
			t.pc++
		case opDconst0, opDconst1:
			vm.pushDouble(t, float64(op-opDconst0))
			t.pc++
		case opBipush:
			vm.pushInt(t, int32(int8(code[pc+1])))
			t.pc += 2
		case opSipush:
			vm.pushInt(t, int32(codeS2(code, pc+1)))
			t.pc += 3

		case opLdc:
			if stop, res, ok := vm.ldc(t, uint16(code[pc+1]), 2); !ok {
				if stop {
					return res
				}
			}
		case opLdcW:
			if stop, res, ok := vm.ldc(t, codeU2(code, pc+1), 3); !ok {
				if stop {
					return res
				}
			}
		case opLdc2W:
			idx := codeU2(code, pc+1)
			cp := m.class.pool
			switch cp.Tag(idx) {
			case cpLong:
				vm.pushWide(t, cp.Long(idx))
			case cpDouble:
				vm.pushDouble(t, cp.Double(idx))
			default:
				if stop, res := vm.raise(t, vm.Throw(ExVerify, "ldc2_w on a narrow constant")); stop {
					return res
				}
				continue
			}
			t.pc += 3

		// ---- loads ----------------------------------------------------
		case opIload, opFload, opAload:
			vm.push(t, vm.local(t, uint32(code[pc+1])))
			t.pc += 2
		case opLload, opDload:
			vm.pushWide(t, vm.localWide(t, uint32(code[pc+1])))
			t.pc += 2
		case opIload0, opIload1, opIload2, opIload3:
			vm.push(t, vm.local(t, uint32(op-opIload0)))
			t.pc++
		case opLload0, opLload1, opLload2, opLload3:
			vm.pushWide(t, vm.localWide(t, uint32(op-opLload0)))
			t.pc++
		case opFload0, opFload1, opFload2, opFload3:
			vm.push(t, vm.local(t, uint32(op-opFload0)))
			t.pc++
		case opDload0, opDload1, opDload2, opDload3:
			vm.pushWide(t, vm.localWide(t, uint32(op-opDload0)))
			t.pc++
		case opAload0, opAload1, opAload2, opAload3:
			vm.push(t, vm.local(t, uint32(op-opAload0)))
			t.pc++

		// ---- stores ---------------------------------------------------
		case opIstore, opFstore, opAstore:
			vm.setLocal(t, uint32(code[pc+1]), vm.pop(t))
			t.pc += 2
		case opLstore, opDstore:
			vm.setLocalWide(t, uint32(code[pc+1]), vm.popWide(t))
			t.pc += 2
		case opIstore0, opIstore1, opIstore2, opIstore3:
			vm.setLocal(t, uint32(op-opIstore0), vm.pop(t))
			t.pc++
		case opLstore0, opLstore1, opLstore2, opLstore3:
			vm.setLocalWide(t, uint32(op-opLstore0), vm.popWide(t))
			t.pc++
		case opFstore0, opFstore1, opFstore2, opFstore3:
			vm.setLocal(t, uint32(op-opFstore0), vm.pop(t))
			t.pc++
		case opDstore0, opDstore1, opDstore2, opDstore3:
			vm.setLocalWide(t, uint32(op-opDstore0), vm.popWide(t))
			t.pc++
		case opAstore0, opAstore1, opAstore2, opAstore3:
			vm.setLocal(t, uint32(op-opAstore0), vm.pop(t))
			t.pc++

		// ---- array loads/stores ----------------------------------------
		case opIaload, opLaload, opFaload, opDaload, opAaload, opBaload, opCaload, opSaload:
			idx := vm.popInt(t)
			arr := vm.pop(t)
			if err := vm.arrayCheck(arr, idx); err != nil {
				if stop, res := vm.raise(t, err); stop {
					return res
				}
				continue
			}
			if op == opAaload {
				vm.push(t, vm.RefArrayGet(arr, idx))
			} else {
				et := vm.classOf(arr).elemType
				v := vm.PrimArrayGet(arr, et, idx)
				if et.wide() {
					vm.pushWide(t, v)
				} else {
					vm.pushInt(t, int32(v))
				}
			}
			t.pc++

		case opIastore, opFastore, opBastore, opCastore, opSastore:
			v := vm.pop(t)
			idx := vm.popInt(t)
			arr := vm.pop(t)
			if err := vm.arrayCheck(arr, idx); err != nil {
				if stop, res := vm.raise(t, err); stop {
					return res
				}
				continue
			}
			vm.PrimArraySet(arr, vm.classOf(arr).elemType, idx, int64(int32(v)))
			t.pc++
		case opLastore, opDastore:
			v := vm.popWide(t)
			idx := vm.popInt(t)
			arr := vm.pop(t)
			if err := vm.arrayCheck(arr, idx); err != nil {
				if stop, res := vm.raise(t, err); stop {
					return res
				}
				continue
			}
			vm.PrimArraySet(arr, vm.classOf(arr).elemType, idx, v)
			t.pc++
		case opAastore:
			v := vm.pop(t)
			idx := vm.popInt(t)
			arr := vm.pop(t)
			err := vm.arrayCheck(arr, idx)
			if err == nil && v != NullRef {
				comp := vm.classOf(arr).elemClass
				if !vm.CanAssign(vm.classOf(v), comp) {
					err = vm.ThrowArrayStore(vm.utf.Name(vm.classOf(v).name))
				}
			}
			if err != nil {
				if stop, res := vm.raise(t, err); stop {
					return res
				}
				continue
			}
			vm.RefArraySet(arr, idx, v)
			t.pc++

		// ---- stack shuffles --------------------------------------------
		case opPop:
			vm.pop(t)
			t.pc++
		case opPop2:
			vm.pop(t)
			vm.pop(t)
			t.pc++
		case opDup:
			vm.push(t, vm.peek(t, 0))
			t.pc++
		case opDupX1:
			a := vm.pop(t)
			b := vm.pop(t)
			vm.push(t, a)
			vm.push(t, b)
			vm.push(t, a)
			t.pc++
		case opDupX2:
			a := vm.pop(t)
			b := vm.pop(t)
			c := vm.pop(t)
			vm.push(t, a)
			vm.push(t, c)
			vm.push(t, b)
			vm.push(t, a)
			t.pc++
		case opDup2:
			a := vm.peek(t, 0)
			b := vm.peek(t, 1)
			vm.push(t, b)
			vm.push(t, a)
			t.pc++
		case opDup2X1:
			a := vm.pop(t)
			b := vm.pop(t)
			c := vm.pop(t)
			vm.push(t, b)
			vm.push(t, a)
			vm.push(t, c)
			vm.push(t, b)
			vm.push(t, a)
			t.pc++
		case opDup2X2:
			a := vm.pop(t)
			b := vm.pop(t)
			c := vm.pop(t)
			d := vm.pop(t)
			vm.push(t, b)
			vm.push(t, a)
			vm.push(t, d)
			vm.push(t, c)
			vm.push(t, b)
			vm.push(t, a)
			t.pc++
		case opSwap:
			a := vm.pop(t)
			b := vm.pop(t)
			vm.push(t, a)
			vm.push(t, b)
			t.pc++

		// ---- arithmetic -------------------------------------------------
		case opIadd:
			b, a := vm.popInt(t), vm.popInt(t)
			vm.pushInt(t, a+b)
			t.pc++
		case opIsub:
			b, a := vm.popInt(t), vm.popInt(t)
			vm.pushInt(t, a-b)
			t.pc++
		case opImul:
			b, a := vm.popInt(t), vm.popInt(t)
			vm.pushInt(t, a*b)
			t.pc++
		case opIdiv, opIrem:
			b, a := vm.popInt(t), vm.popInt(t)
			if b == 0 {
				if stop, res := vm.raise(t, vm.ThrowArithmetic("/ by zero")); stop {
					return res
				}
				continue
			}
			if op == opIdiv {
				vm.pushInt(t, a/b)
			} else {
				vm.pushInt(t, a%b)
			}
			t.pc++
		case opIneg:
			vm.pushInt(t, -vm.popInt(t))
			t.pc++
		case opLadd:
			b, a := vm.popWide(t), vm.popWide(t)
			vm.pushWide(t, a+b)
			t.pc++
		case opLsub:
			b, a := vm.popWide(t), vm.popWide(t)
			vm.pushWide(t, a-b)
			t.pc++
		case opLmul:
			b, a := vm.popWide(t), vm.popWide(t)
			vm.pushWide(t, a*b)
			t.pc++
		case opLdiv, opLrem:
			b, a := vm.popWide(t), vm.popWide(t)
			if b == 0 {
				if stop, res := vm.raise(t, vm.ThrowArithmetic("/ by zero")); stop {
					return res
				}
				continue
			}
			if op == opLdiv {
				vm.pushWide(t, a/b)
			} else {
				vm.pushWide(t, a%b)
			}
			t.pc++
		case opLneg:
			vm.pushWide(t, -vm.popWide(t))
			t.pc++
		case opFadd:
			b, a := vm.popFloat(t), vm.popFloat(t)
			vm.pushFloat(t, a+b)
			t.pc++
		case opFsub:
			b, a := vm.popFloat(t), vm.popFloat(t)
			vm.pushFloat(t, a-b)
			t.pc++
		case opFmul:
			b, a := vm.popFloat(t), vm.popFloat(t)
			vm.pushFloat(t, a*b)
			t.pc++
		case opFdiv:
			b, a := vm.popFloat(t), vm.popFloat(t)
			vm.pushFloat(t, a/b)
			t.pc++
		case opFrem:
			b, a := vm.popFloat(t), vm.popFloat(t)
			vm.pushFloat(t, float32(math.Mod(float64(a), float64(b))))
			t.pc++
		case opFneg:
			vm.pushFloat(t, -vm.popFloat(t))
			t.pc++
		case opDadd:
			b, a := vm.popDouble(t), vm.popDouble(t)
			vm.pushDouble(t, a+b)
			t.pc++
		case opDsub:
			b, a := vm.popDouble(t), vm.popDouble(t)
			vm.pushDouble(t, a-b)
			t.pc++
		case opDmul:
			b, a := vm.popDouble(t), vm.popDouble(t)
			vm.pushDouble(t, a*b)
			t.pc++
		case opDdiv:
			b, a := vm.popDouble(t), vm.popDouble(t)
			vm.pushDouble(t, a/b)
			t.pc++
		case opDrem:
			b, a := vm.popDouble(t), vm.popDouble(t)
			vm.pushDouble(t, math.Mod(a, b))
			t.pc++
		case opDneg:
			vm.pushDouble(t, -vm.popDouble(t))
			t.pc++

		// ---- shifts and logic -------------------------------------------
		case opIshl:
			s, a := vm.popInt(t), vm.popInt(t)
			vm.pushInt(t, a<<(uint32(s)&31))
			t.pc++
		case opIshr:
			s, a := vm.popInt(t), vm.popInt(t)
			vm.pushInt(t, a>>(uint32(s)&31))
			t.pc++
		case opIushr:
			s, a := vm.popInt(t), vm.popInt(t)
			vm.pushInt(t, int32(uint32(a)>>(uint32(s)&31)))
			t.pc++
		case opLshl:
			s, a := vm.popInt(t), vm.popWide(t)
			vm.pushWide(t, a<<(uint32(s)&63))
			t.pc++
		case opLshr:
			s, a := vm.popInt(t), vm.popWide(t)
			vm.pushWide(t, a>>(uint32(s)&63))
			t.pc++
		case opLushr:
			s, a := vm.popInt(t), vm.popWide(t)
			vm.pushWide(t, int64(uint64(a)>>(uint32(s)&63)))
			t.pc++
		case opIand:
			b, a := vm.popInt(t), vm.popInt(t)
			vm.pushInt(t, a&b)
			t.pc++
		case opIor:
			b, a := vm.popInt(t), vm.popInt(t)
			vm.pushInt(t, a|b)
			t.pc++
		case opIxor:
			b, a := vm.popInt(t), vm.popInt(t)
			vm.pushInt(t, a^b)
			t.pc++
		case opLand:
			b, a := vm.popWide(t), vm.popWide(t)
			vm.pushWide(t, a&b)
			t.pc++
		case opLor:
			b, a := vm.popWide(t), vm.popWide(t)
			vm.pushWide(t, a|b)
			t.pc++
		case opLxor:
			b, a := vm.popWide(t), vm.popWide(t)
			vm.pushWide(t, a^b)
			t.pc++

		case opIinc:
			i := uint32(code[pc+1])
			vm.setLocal(t, i, Cell(int32(vm.local(t, i))+int32(int8(code[pc+2]))))
			t.pc += 3

		// ---- conversions -------------------------------------------------
		case opI2l:
			vm.pushWide(t, int64(vm.popInt(t)))
			t.pc++
		case opI2f:
			vm.pushFloat(t, float32(vm.popInt(t)))
			t.pc++
		case opI2d:
			vm.pushDouble(t, float64(vm.popInt(t)))
			t.pc++
		case opL2i:
			vm.pushInt(t, int32(vm.popWide(t)))
			t.pc++
		case opL2f:
			vm.pushFloat(t, float32(vm.popWide(t)))
			t.pc++
		case opL2d:
			vm.pushDouble(t, float64(vm.popWide(t)))
			t.pc++
		case opF2i:
			vm.pushInt(t, f2i32(float64(vm.popFloat(t))))
			t.pc++
		case opF2l:
			vm.pushWide(t, f2i64(float64(vm.popFloat(t))))
			t.pc++
		case opF2d:
			vm.pushDouble(t, float64(vm.popFloat(t)))
			t.pc++
		case opD2i:
			vm.pushInt(t, f2i32(vm.popDouble(t)))
			t.pc++
		case opD2l:
			vm.pushWide(t, f2i64(vm.popDouble(t)))
			t.pc++
		case opD2f:
			vm.pushFloat(t, float32(vm.popDouble(t)))
			t.pc++
		case opI2b:
			vm.pushInt(t, int32(int8(vm.popInt(t))))
			t.pc++
		case opI2c:
			vm.pushInt(t, int32(uint16(vm.popInt(t))))
			t.pc++
		case opI2s:
			vm.pushInt(t, int32(int16(vm.popInt(t))))
			t.pc++

		// ---- comparisons ---------------------------------------------------
		case opLcmp:
			b, a := vm.popWide(t), vm.popWide(t)
			vm.pushInt(t, cmpOrder(a > b, a == b))
			t.pc++
		case opFcmpl, opFcmpg:
			b, a := vm.popFloat(t), vm.popFloat(t)
			vm.pushInt(t, fcmp(float64(a), float64(b), op == opFcmpg))
			t.pc++
		case opDcmpl, opDcmpg:
			b, a := vm.popDouble(t), vm.popDouble(t)
			vm.pushInt(t, fcmp(a, b, op == opDcmpg))
			t.pc++

		// ---- branches -------------------------------------------------------
		case opIfeq, opIfne, opIflt, opIfge, opIfgt, opIfle:
			v := vm.popInt(t)
			var taken bool
			switch op {
			case opIfeq:
				taken = v == 0
			case opIfne:
				taken = v != 0
			case opIflt:
				taken = v < 0
			case opIfge:
				taken = v >= 0
			case opIfgt:
				taken = v > 0
			case opIfle:
				taken = v <= 0
			}
			t.pc = branchTarget(pc, code, taken, 3)
		case opIfIcmpeq, opIfIcmpne, opIfIcmplt, opIfIcmpge, opIfIcmpgt, opIfIcmple:
			b, a := vm.popInt(t), vm.popInt(t)
			var taken bool
			switch op {
			case opIfIcmpeq:
				taken = a == b
			case opIfIcmpne:
				taken = a != b
			case opIfIcmplt:
				taken = a < b
			case opIfIcmpge:
				taken = a >= b
			case opIfIcmpgt:
				taken = a > b
			case opIfIcmple:
				taken = a <= b
			}
			t.pc = branchTarget(pc, code, taken, 3)
		case opIfAcmpeq, opIfAcmpne:
			b, a := vm.pop(t), vm.pop(t)
			t.pc = branchTarget(pc, code, (a == b) == (op == opIfAcmpeq), 3)
		case opIfnull, opIfnonnull:
			v := vm.pop(t)
			t.pc = branchTarget(pc, code, (v == NullRef) == (op == opIfnull), 3)
		case opGoto:
			t.pc = pc + int(codeS2(code, pc+1))
		case opGotoW:
			t.pc = pc + int(codeS4(code, pc+1))

		case opTableswitch:
			p := (pc + 4) &^ 3
			def := int(codeS4(code, p))
			low := int(codeS4(code, p+4))
			high := int(codeS4(code, p+8))
			idx := int(vm.popInt(t))
			if idx < low || idx > high {
				t.pc = pc + def
			} else {
				t.pc = pc + int(codeS4(code, p+12+(idx-low)*4))
			}
		case opLookupswitch:
			p := (pc + 4) &^ 3
			def := int(codeS4(code, p))
			n := int(codeS4(code, p+4))
			key := vm.popInt(t)
			target := def
			for i := 0; i < n; i++ {
				if codeS4(code, p+8+i*8) == key {
					target = int(codeS4(code, p+12+i*8))
					break
				}
			}
			t.pc = pc + target

		case opJsr, opRet:
			if stop, res := vm.raise(t, vm.Throw(ExVerify, "jsr/ret subroutines are not supported")); stop {
				return res
			}

		// ---- returns ----------------------------------------------------------
		case opIreturn, opLreturn, opFreturn, opDreturn, opAreturn, opReturn:
			n := int(m.retCells)
			var rets [2]Cell
			for i := n - 1; i >= 0; i-- {
				rets[i] = vm.pop(t)
			}
			if m.IsSynchronized() {
				if err := vm.MonitorRelease(vm.methodLock(t), t); err != nil {
					if stop, res := vm.raise(t, err); stop {
						return res
					}
					continue
				}
			}
			switch vm.popFrame(t) {
			case poppedFrame:
				for i := 0; i < n; i++ {
					vm.push(t, rets[i])
				}
			case poppedWedge:
				return ranTerminated
			case poppedBarrier:
				for i := 0; i < n; i++ {
					vm.push(t, rets[i])
				}
				return ranBarrier
			}

		// ---- field access ------------------------------------------------------
		case opGetstatic, opPutstatic:
			f, err := vm.ResolveFieldConst(m.class, codeU2(code, pc+1))
			if err == nil && !f.IsStatic() {
				err = vm.Throw(ExIncompatibleClassChange, "expected a static field")
			}
			if err == nil {
				err = vm.EnsureInitialised(t, f.class)
			}
			if err != nil {
				if stop, res := vm.raise(t, err); stop {
					return res
				}
				continue
			}
			if op == opGetstatic {
				if f.IsWide() {
					vm.pushWide(t, vm.GetStaticWide(f))
				} else {
					vm.push(t, vm.GetStatic(f))
				}
			} else {
				if f.IsWide() {
					vm.SetStaticWide(f, vm.popWide(t))
				} else {
					vm.SetStatic(f, vm.pop(t))
				}
			}
			t.pc += 3
		case opGetfield:
			f, err := vm.ResolveFieldConst(m.class, codeU2(code, pc+1))
			if err == nil && f.IsStatic() {
				err = vm.Throw(ExIncompatibleClassChange, "expected an instance field")
			}
			var obj Ref
			if err == nil {
				if obj = vm.pop(t); obj == NullRef {
					err = vm.ThrowNullPointer()
				}
			}
			if err != nil {
				if stop, res := vm.raise(t, err); stop {
					return res
				}
				continue
			}
			if f.IsWide() {
				vm.pushWide(t, vm.GetFieldWide(obj, f))
			} else {
				vm.push(t, vm.GetField(obj, f))
			}
			t.pc += 3
		case opPutfield:
			f, err := vm.ResolveFieldConst(m.class, codeU2(code, pc+1))
			if err == nil && f.IsStatic() {
				err = vm.Throw(ExIncompatibleClassChange, "expected an instance field")
			}
			if err != nil {
				if stop, res := vm.raise(t, err); stop {
					return res
				}
				continue
			}
			if f.IsWide() {
				v := vm.popWide(t)
				obj := vm.pop(t)
				if obj == NullRef {
					if stop, res := vm.raise(t, vm.ThrowNullPointer()); stop {
						return res
					}
					continue
				}
				vm.SetFieldWide(obj, f, v)
			} else {
				v := vm.pop(t)
				obj := vm.pop(t)
				if obj == NullRef {
					if stop, res := vm.raise(t, vm.ThrowNullPointer()); stop {
						return res
					}
					continue
				}
				vm.SetField(obj, f, v)
			}
			t.pc += 3

		// ---- invocation -----------------------------------------------------------
		case opInvokestatic:
			target, err := vm.ResolveMethodConst(m.class, codeU2(code, pc+1))
			if err == nil && !target.IsStatic() {
				err = vm.Throw(ExIncompatibleClassChange, "expected a static method")
			}
			if err == nil {
				err = vm.EnsureInitialised(t, target.class)
			}
			if err != nil {
				if stop, res := vm.raise(t, err); stop {
					return res
				}
				continue
			}
			blocked, ierr := vm.invoke(t, target, pc+3)
			if ierr != nil {
				if stop, res := vm.raise(t, ierr); stop {
					return res
				}
				continue
			}
			if blocked {
				return ranBlocked
			}
		case opInvokespecial:
			target, err := vm.ResolveMethodConst(m.class, codeU2(code, pc+1))
			if err == nil {
				if recv := vm.peek(t, uint32(target.invokeCells())-1); recv == NullRef {
					err = vm.ThrowNullPointer()
				}
			}
			if err != nil {
				if stop, res := vm.raise(t, err); stop {
					return res
				}
				continue
			}
			blocked, ierr := vm.invoke(t, target, pc+3)
			if ierr != nil {
				if stop, res := vm.raise(t, ierr); stop {
					return res
				}
				continue
			}
			if blocked {
				return ranBlocked
			}
		case opInvokevirtual, opInvokeinterface:
			npc := pc + 3
			if op == opInvokeinterface {
				npc = pc + 5
			}
			resolved, err := vm.ResolveMethodConst(m.class, codeU2(code, pc+1))
			var target *Method
			if err == nil {
				recv := vm.peek(t, uint32(resolved.invokeCells())-1)
				if recv == NullRef {
					err = vm.ThrowNullPointer()
				} else {
					target = vm.selectVirtual(vm.classOf(recv), resolved)
					if target == nil || target.IsAbstract() {
						err = vm.Throw(ExAbstractMethod, vm.utf.Name(resolved.name))
					}
				}
			}
			if err != nil {
				if stop, res := vm.raise(t, err); stop {
					return res
				}
				continue
			}
			blocked, ierr := vm.invoke(t, target, npc)
			if ierr != nil {
				if stop, res := vm.raise(t, ierr); stop {
					return res
				}
				continue
			}
			if blocked {
				return ranBlocked
			}

		// ---- allocation ------------------------------------------------------------
		case opNew:
			cl, err := vm.ResolveClassConst(m.class, codeU2(code, pc+1))
			if err == nil && (cl.IsInterface() || cl.access&AccAbstract != 0) {
				err = vm.Throw(ExInstantiation, vm.utf.Name(cl.name))
			}
			if err == nil {
				err = vm.EnsureInitialised(t, cl)
			}
			var ref Ref
			if err == nil {
				ref, err = vm.NewInstance(cl)
			}
			if err != nil {
				if stop, res := vm.raise(t, err); stop {
					return res
				}
				continue
			}
			vm.push(t, ref)
			t.pc += 3
		case opNewarray:
			count := vm.popInt(t)
			var ref Ref
			var err error
			if count < 0 {
				err = vm.ThrowNegativeArraySize(count)
			} else {
				ref, err = vm.NewPrimArray(JType(code[pc+1]), count)
			}
			if err != nil {
				if stop, res := vm.raise(t, err); stop {
					return res
				}
				continue
			}
			vm.push(t, ref)
			t.pc += 2
		case opAnewarray:
			count := vm.popInt(t)
			comp, err := vm.ResolveClassConst(m.class, codeU2(code, pc+1))
			var ref Ref
			if err == nil && count < 0 {
				err = vm.ThrowNegativeArraySize(count)
			}
			if err == nil {
				ref, err = vm.NewRefArray(comp, count)
			}
			if err != nil {
				if stop, res := vm.raise(t, err); stop {
					return res
				}
				continue
			}
			vm.push(t, ref)
			t.pc += 3
		case opMultianewarray:
			cl, err := vm.ResolveClassConst(m.class, codeU2(code, pc+1))
			dims := int(code[pc+3])
			lengths := make([]int32, dims)
			for i := dims - 1; i >= 0; i-- {
				lengths[i] = vm.popInt(t)
			}
			for _, l := range lengths {
				if err == nil && l < 0 {
					err = vm.ThrowNegativeArraySize(l)
				}
			}
			var ref Ref
			if err == nil {
				ref, err = vm.NewMultiArray(cl, lengths)
			}
			if err != nil {
				if stop, res := vm.raise(t, err); stop {
					return res
				}
				continue
			}
			vm.push(t, ref)
			t.pc += 4
		case opArraylength:
			arr := vm.pop(t)
			if arr == NullRef {
				if stop, res := vm.raise(t, vm.ThrowNullPointer()); stop {
					return res
				}
				continue
			}
			vm.pushInt(t, vm.ArrayLength(arr))
			t.pc++

		// ---- exceptions and casts -----------------------------------------------------
		case opAthrow:
			obj := vm.pop(t)
			var err error
			if obj == NullRef {
				err = vm.ThrowNullPointer()
			} else {
				if _, ok := vm.traces[obj]; !ok {
					vm.traces[obj] = vm.captureBacktrace(t)
				}
				err = &Thrown{Object: obj, ClassName: vm.utf.Name(vm.classOf(obj).name)}
			}
			if stop, res := vm.raise(t, err); stop {
				return res
			}
		case opCheckcast:
			cl, err := vm.ResolveClassConst(m.class, codeU2(code, pc+1))
			if err == nil {
				if obj := vm.peek(t, 0); obj != NullRef && !vm.CanAssign(vm.classOf(obj), cl) {
					err = vm.ThrowClassCast(vm.utf.Name(vm.classOf(obj).name), vm.utf.Name(cl.name))
				}
			}
			if err != nil {
				if stop, res := vm.raise(t, err); stop {
					return res
				}
				continue
			}
			t.pc += 3
		case opInstanceof:
			cl, err := vm.ResolveClassConst(m.class, codeU2(code, pc+1))
			if err != nil {
				if stop, res := vm.raise(t, err); stop {
					return res
				}
				continue
			}
			obj := vm.pop(t)
			if obj != NullRef && vm.CanAssign(vm.classOf(obj), cl) {
				vm.pushInt(t, 1)
			} else {
				vm.pushInt(t, 0)
			}
			t.pc += 3

		// ---- monitors ----------------------------------------------------------------
		case opMonitorenter:
			obj := vm.peek(t, 0)
			if obj == NullRef {
				vm.pop(t)
				if stop, res := vm.raise(t, vm.ThrowNullPointer()); stop {
					return res
				}
				continue
			}
			// The object stays on the stack while blocked so the
			// instruction re-executes cleanly when granted.
			if !vm.MonitorAcquire(obj, t) {
				return ranBlocked
			}
			vm.pop(t)
			t.pc++
		case opMonitorexit:
			obj := vm.pop(t)
			var err error
			if obj == NullRef {
				err = vm.ThrowNullPointer()
			} else {
				err = vm.MonitorRelease(obj, t)
			}
			if err != nil {
				if stop, res := vm.raise(t, err); stop {
					return res
				}
				continue
			}
			t.pc++

		case opWide:
			wop := code[pc+1]
			idx := uint32(codeU2(code, pc+2))
			switch wop {
			case opIload, opFload, opAload:
				vm.push(t, vm.local(t, idx))
				t.pc += 4
			case opLload, opDload:
				vm.pushWide(t, vm.localWide(t, idx))
				t.pc += 4
			case opIstore, opFstore, opAstore:
				vm.setLocal(t, idx, vm.pop(t))
				t.pc += 4
			case opLstore, opDstore:
				vm.setLocalWide(t, idx, vm.popWide(t))
				t.pc += 4
			case opIinc:
				vm.setLocal(t, idx, Cell(int32(vm.local(t, idx))+int32(codeS2(code, pc+4))))
				t.pc += 6
			default:
				if stop, res := vm.raise(t, vm.Throw(ExVerify, "bad wide form")); stop {
					return res
				}
			}

		default:
			if stop, res := vm.raise(t, vm.Throw(ExVerify, "unknown opcode")); stop {
				return res
			}
		}
	}
}

// ldc pushes a narrow constant-pool entry. ok is false when the entry
// could not be produced; stop/res then carry the raise outcome.
func (vm *VM) ldc(t *Thread, idx uint16, oplen int) (stop bool, res runResult, ok bool) {
	cp := t.method.class.pool
	var err error
	switch cp.Tag(idx) {
	case cpInteger:
		vm.pushInt(t, cp.Int(idx))
	case cpFloat:
		vm.pushFloat(t, cp.Float(idx))
	case cpString:
		var ref Ref
		if ref, err = vm.ResolveStringConst(t.method.class, idx); err == nil {
			vm.push(t, ref)
		}
	case cpClass:
		var cl *Class
		if cl, err = vm.ResolveClassConst(t.method.class, idx); err == nil {
			vm.push(t, cl.mirror)
		}
	default:
		err = vm.Throw(ExVerify, "ldc on a wide constant")
	}
	if err != nil {
		stop, res = vm.raise(t, err)
		return stop, res, false
	}
	t.pc += oplen
	return false, 0, true
}

// arrayCheck validates an array access: non-null and index in range.
func (vm *VM) arrayCheck(arr Ref, idx int32) error {
	if arr == NullRef {
		return vm.ThrowNullPointer()
	}
	if length := vm.ArrayLength(arr); idx < 0 || idx >= length {
		return vm.ThrowArrayIndex(idx, length)
	}
	return nil
}

func branchTarget(pc int, code []byte, taken bool, oplen int) int {
	if taken {
		return pc + int(codeS2(code, pc+1))
	}
	return pc + oplen
}

func cmpOrder(gt, eq bool) int32 {
	switch {
	case gt:
		return 1
	case eq:
		return 0
	}
	return -1
}

// fcmp implements the fcmpl/fcmpg family: NaN sorts per the g flag.
func fcmp(a, b float64, nanIsOne bool) int32 {
	switch {
	case math.IsNaN(a) || math.IsNaN(b):
		if nanIsOne {
			return 1
		}
		return -1
	case a > b:
		return 1
	case a == b:
		return 0
	}
	return -1
}
