package vm

import "github.com/tliron/commonlog"

var dbgLog = commonlog.GetLogger("babevm.debugger")

// Debugger is the minimal in-process debugging hook: it can suspend and
// resume the green-thread world and pin heap objects so they survive
// collection while under inspection. While a debugger is attached the
// scheduler shortens the bytecode quantum to keep suspension latency
// low.
type Debugger struct {
	vm     *VM
	active bool
	pins   map[Ref]int // pin counts; each Pin needs a matching Unpin
}

func newDebugger(vm *VM) *Debugger {
	return &Debugger{vm: vm, pins: make(map[Ref]int)}
}

// Debugger returns the VM's debugging hook.
func (vm *VM) Debugger() *Debugger { return vm.debugger }

// Attach marks a debugger present; Detach drops the mark and all pins.
func (d *Debugger) Attach() {
	d.active = true
	dbgLog.Info("debugger attached")
}

func (d *Debugger) Detach() {
	d.active = false
	d.pins = make(map[Ref]int)
	dbgLog.Info("debugger detached")
}

// Pin roots ref until the matching Unpin; pins nest.
func (d *Debugger) Pin(ref Ref) {
	if ref == NullRef {
		return
	}
	d.pins[ref]++
}

// Unpin releases one pin on ref.
func (d *Debugger) Unpin(ref Ref) {
	if n, ok := d.pins[ref]; ok {
		if n <= 1 {
			delete(d.pins, ref)
		} else {
			d.pins[ref] = n - 1
		}
	}
}

// Pinned reports whether ref currently has live pins.
func (d *Debugger) Pinned(ref Ref) bool { return d.pins[ref] > 0 }

// SuspendAll parks every live thread for inspection. The current
// thread, if any, still finishes its quantum; it parks at the next
// scheduling point.
func (d *Debugger) SuspendAll() {
	for _, t := range d.vm.sched.threads {
		if !t.is(StateTerminated) {
			t.state |= StateDbgSuspended
		}
	}
	dbgLog.Info("all threads suspended")
}

// ResumeAll lifts debugger suspension; runnable threads re-enter the
// run queue.
func (d *Debugger) ResumeAll() {
	for _, t := range d.vm.sched.threads {
		if t.is(StateDbgSuspended) {
			t.state &^= StateDbgSuspended
			if t.state == StateRunnable {
				d.vm.sched.unpark(t)
			}
		}
	}
	dbgLog.Info("all threads resumed")
}
