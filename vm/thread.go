package vm

// ThreadState is a bit set: Blocked may combine with Waiting or
// TimedWaiting while a woken waiter contends for the monitor again.
type ThreadState uint8

const (
	StateNew          ThreadState = 1 << 0
	StateRunnable     ThreadState = 1 << 1
	StateBlocked      ThreadState = 1 << 2
	StateWaiting      ThreadState = 1 << 3
	StateTimedWaiting ThreadState = 1 << 4
	StateDbgSuspended ThreadState = 1 << 5
	StateTerminated   ThreadState = 1 << 6
)

func (s ThreadState) String() string {
	switch {
	case s&StateTerminated != 0:
		return "terminated"
	case s&StateDbgSuspended != 0:
		return "dbg-suspended"
	case s&StateTimedWaiting != 0:
		return "timed-waiting"
	case s&StateWaiting != 0:
		return "waiting"
	case s&StateBlocked != 0:
		return "blocked"
	case s&StateRunnable != 0:
		return "runnable"
	case s&StateNew != 0:
		return "new"
	default:
		return "invalid"
	}
}

// Thread is one green thread. Its stack lives in the arena as a list of
// Data chunks; the saved registers point into the current segment and are
// only meaningful while the thread is not running.
type Thread struct {
	id     uint64
	state  ThreadState
	mirror Ref // the java/lang/Thread object, NullRef for VM-internal threads

	segments []Ref    // stack segment chunks, in growth order
	segCells []uint32 // usable cells per segment

	// Saved registers: current segment index, stack pointer and locals
	// base as cell offsets within it, pc, and the running method.
	seg    int
	sp     uint32
	locals uint32
	pc     int
	method *Method

	quantum int

	pending     Ref     // in-flight exception object, a GC root
	pendingName string  // class name when the object could not be built
	waitingOn   Ref     // monitor object during wait/blocked
	savedDepth  uint32  // lock depth to restore after wait
	granted     Ref     // monitor handed over while blocked; consume on resume
	resumeAcquire bool  // resuming thread will retry a monitor acquire
	deadline    uint64  // wake time for timed waits, clock nanos
	interrupted bool
	interruptWake bool // woken by interrupt; throw InterruptedException on resume

	nested *Thrown // throwable that escaped a nested run's barrier

	onTerminate func(*Thread)
}

// ID returns the thread's unique, monotonically increasing id.
func (t *Thread) ID() uint64 { return t.id }

// State returns the thread's lifecycle state bits.
func (t *Thread) State() ThreadState { return t.state }

// Mirror returns the java/lang/Thread object, NullRef for VM-internal
// threads.
func (t *Thread) Mirror() Ref { return t.mirror }

// Interrupted reports the interrupt flag without clearing it.
func (t *Thread) Interrupted() bool { return t.interrupted }

// ClearInterrupt clears and returns the interrupt flag.
func (t *Thread) ClearInterrupt() bool {
	was := t.interrupted
	t.interrupted = false
	return was
}

// SegmentCount reports how many stack segments the thread has grown.
func (t *Thread) SegmentCount() int { return len(t.segments) }

func (t *Thread) is(s ThreadState) bool { return t.state&s != 0 }

// SpawnThread creates a thread that will enter the given method with the
// given arguments when the scheduler first runs it. The bottom of the
// stack is wedged so that returning from the entry frame terminates the
// thread.
func (vm *VM) SpawnThread(m *Method, args []Cell, mirror Ref) (*Thread, error) {
	t := &Thread{
		id:     vm.sched.nextID(),
		state:  StateNew,
		mirror: mirror,
	}
	if err := vm.pushEntryFrame(t, m, args); err != nil {
		return nil, err
	}
	t.state = StateRunnable
	vm.sched.admit(t)
	return t, nil
}

// OnTerminate registers a callback invoked after the thread's stack is
// released.
func (t *Thread) OnTerminate(fn func(*Thread)) { t.onTerminate = fn }

// terminate releases the thread's stack segments and splices it out of
// the scheduler.
func (vm *VM) terminate(t *Thread) {
	for _, seg := range t.segments {
		vm.heap.Free(seg)
	}
	t.segments = nil
	t.segCells = nil
	t.method = nil
	t.state = StateTerminated
	vm.sched.remove(t)
	if t.onTerminate != nil {
		t.onTerminate(t)
	}
	schedLog.Debugf("thread %d terminated", t.id)
}

// Interrupt sets the thread's interrupt flag. A thread parked in wait is
// pulled off the wait queue, re-acquires the monitor at its saved depth,
// and observes an InterruptedException when it resumes; a runnable
// thread just sees the flag.
func (vm *VM) Interrupt(t *Thread) {
	t.interrupted = true
	if !t.is(StateWaiting | StateTimedWaiting) {
		return
	}
	mon := vm.findMonitor(t.waitingOn, false)
	if mon == nil {
		// Timed sleep, not a monitor wait.
		vm.sched.removeTimed(t)
		t.state = StateRunnable
		vm.sched.unpark(t)
		t.interruptWake = true
		return
	}
	mon.removeWaiter(t)
	t.interruptWake = true
	vm.sched.removeTimed(t)
	vm.contend(mon, t)
}
