package vm

import (
	"sort"
	"time"

	"github.com/aristanetworks/goarista/monotime"
	"github.com/tliron/commonlog"
)

var schedLog = commonlog.GetLogger("babevm.sched")

// Clock abstracts monotonic time so the scheduler's timed waits are
// testable without real sleeping.
type Clock interface {
	// Now returns monotonic nanoseconds.
	Now() uint64
	// Sleep blocks until at least the given monotonic time.
	Sleep(until uint64)
}

// realClock reads the platform monotonic clock.
type realClock struct{}

func (realClock) Now() uint64 { return monotime.Now() }

func (realClock) Sleep(until uint64) {
	now := monotime.Now()
	if until > now {
		time.Sleep(time.Duration(until - now))
	}
}

// ManualClock is a test clock that only moves when told to.
type ManualClock struct {
	now uint64
}

func (c *ManualClock) Now() uint64        { return c.now }
func (c *ManualClock) Sleep(until uint64) { c.now = until }

// Advance moves the clock forward by d nanoseconds.
func (c *ManualClock) Advance(d uint64) { c.now += d }

// Scheduler drives the VM's green threads: one OS thread, round-robin
// over the runnable set, a quantum measured in executed bytecodes, and a
// deadline-ordered list of timed waiters.
type Scheduler struct {
	vm      *VM
	clock   Clock
	threads []*Thread // every live thread, for the collector
	runq    []*Thread // runnable, FIFO
	timed   []*Thread // timed waiters ordered by deadline
	current *Thread
	idSeq   uint64
}

func newScheduler(vm *VM, clock Clock) *Scheduler {
	return &Scheduler{vm: vm, clock: clock}
}

// SetClock replaces the scheduler clock; tests install a ManualClock.
func (vm *VM) SetClock(c Clock) { vm.sched.clock = c }

// Threads returns the live threads, the running one included.
func (vm *VM) Threads() []*Thread { return vm.sched.threads }

func (s *Scheduler) nextID() uint64 {
	s.idSeq++
	return s.idSeq
}

func (s *Scheduler) admit(t *Thread) {
	s.threads = append(s.threads, t)
	s.runq = append(s.runq, t)
}

func (s *Scheduler) unpark(t *Thread) {
	for _, q := range s.runq {
		if q == t {
			return
		}
	}
	s.runq = append(s.runq, t)
}

// block drops a thread out of the run queue; whatever queue now holds it
// (monitor lock/wait queue, timed list) is responsible for waking it.
func (s *Scheduler) block(t *Thread) {
	for i, q := range s.runq {
		if q == t {
			s.runq = append(s.runq[:i], s.runq[i+1:]...)
			return
		}
	}
}

func (s *Scheduler) remove(t *Thread) {
	s.block(t)
	s.removeTimed(t)
	for i, q := range s.threads {
		if q == t {
			s.threads = append(s.threads[:i], s.threads[i+1:]...)
			return
		}
	}
}

// parkTimed blocks a thread until a deadline millis from now.
func (s *Scheduler) parkTimed(t *Thread, millis int64) {
	t.deadline = s.clock.Now() + uint64(millis)*uint64(time.Millisecond)
	s.block(t)
	s.timed = append(s.timed, t)
	sort.SliceStable(s.timed, func(i, j int) bool {
		return s.timed[i].deadline < s.timed[j].deadline
	})
}

func (s *Scheduler) removeTimed(t *Thread) {
	for i, q := range s.timed {
		if q == t {
			s.timed = append(s.timed[:i], s.timed[i+1:]...)
			return
		}
	}
}

// expireTimed wakes every timed waiter whose deadline has passed.
func (s *Scheduler) expireTimed() {
	now := s.clock.Now()
	for len(s.timed) > 0 && s.timed[0].deadline <= now {
		t := s.timed[0]
		s.timed = s.timed[1:]
		s.wakeTimed(t)
	}
}

// wakeTimed resumes a thread whose timed wait expired: a monitor waiter
// goes back into contention for the monitor; a plain sleeper becomes
// runnable.
func (s *Scheduler) wakeTimed(t *Thread) {
	if t.waitingOn != NullRef {
		if m := s.vm.findMonitor(t.waitingOn, false); m != nil {
			m.removeWaiter(t)
			s.vm.contend(m, t)
			return
		}
	}
	t.state = StateRunnable
	s.unpark(t)
}

// Sleep parks the current thread for millis without a monitor, the
// Thread.sleep entry point.
func (vm *VM) Sleep(t *Thread, millis int64) {
	if millis <= 0 {
		return
	}
	t.state = StateTimedWaiting
	t.waitingOn = NullRef
	vm.sched.parkTimed(t, millis)
}

// Run drives threads until none remain. It returns the first uncaught
// throwable that terminated a thread, nil when every thread ended
// normally. Deadlock (live threads, none runnable, none timed) also
// returns.
func (vm *VM) Run() error {
	s := vm.sched
	var uncaught error

	for len(s.threads) > 0 {
		s.expireTimed()

		if len(s.runq) == 0 {
			if len(s.timed) == 0 {
				if s.liveCount() == 0 {
					return uncaught
				}
				schedLog.Error("deadlock: threads alive but none runnable")
				return uncaught
			}
			// Nothing to run: advance the clock to the earliest wake-up.
			s.clock.Sleep(s.timed[0].deadline)
			continue
		}

		t := s.runq[0]
		s.runq = s.runq[1:]
		if t.is(StateDbgSuspended) {
			continue
		}

		quantum := vm.opts.Quantum
		if vm.debugger.active {
			quantum = vm.opts.DebugQuantum
		}
		t.quantum = quantum
		s.current = t
		result := vm.interpret(t)
		s.current = nil

		switch result {
		case ranQuantum:
			s.runq = append(s.runq, t)
		case ranBlocked:
			// Parked on a monitor or the timed list; woken from there.
		case ranTerminated:
			if t.pendingName != "" || t.pending != NullRef {
				if uncaught == nil {
					uncaught = &Thrown{Object: t.pending, ClassName: t.pendingName}
				}
				if vm.opts.ExitOnUncaught {
					vm.exit(ExitUncaught)
				}
			}
			vm.terminate(t)
		}
	}
	return uncaught
}

// liveCount counts threads not terminated and not debugger-suspended.
func (s *Scheduler) liveCount() int {
	n := 0
	for _, t := range s.threads {
		if !t.is(StateTerminated | StateDbgSuspended) {
			n++
		}
	}
	return n
}
