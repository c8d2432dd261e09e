package vm

// Monitor is the synchronization primitive backing synchronized blocks
// and Object.wait/notify. Monitors live on a process-wide list, keyed by
// owning object, and are recycled once fully released with no waiters.
// Both queues are FIFO.
type Monitor struct {
	object Ref
	owner  *Thread
	depth  uint32
	lockQ  []*Thread // threads waiting to enter
	waitQ  []*Thread // threads parked in wait()
	inUse  bool
	next   *Monitor
}

// Object returns the object this monitor guards.
func (m *Monitor) Object() Ref { return m.object }

// Owner returns the owning thread, nil when free.
func (m *Monitor) Owner() *Thread { return m.owner }

// Depth returns the recursive lock depth.
func (m *Monitor) Depth() uint32 { return m.depth }

// InUse reports whether the monitor is currently bound to an object.
func (m *Monitor) InUse() bool { return m.inUse }

func (m *Monitor) removeWaiter(t *Thread) {
	for i, w := range m.waitQ {
		if w == t {
			m.waitQ = append(m.waitQ[:i], m.waitQ[i+1:]...)
			return
		}
	}
}

// findMonitor returns the monitor bound to obj. With create set, a free
// monitor is recycled (or a new one appended to the global list) and
// bound.
func (vm *VM) findMonitor(obj Ref, create bool) *Monitor {
	var free *Monitor
	for m := vm.monitors; m != nil; m = m.next {
		if m.inUse && m.object == obj {
			return m
		}
		if !m.inUse && free == nil {
			free = m
		}
	}
	if !create {
		return nil
	}
	if free == nil {
		free = &Monitor{next: vm.monitors}
		vm.monitors = free
	}
	free.object = obj
	free.owner = nil
	free.depth = 0
	free.inUse = true
	return free
}

// MonitorAcquire enters obj's monitor on behalf of t. It returns false
// when the monitor is owned elsewhere: t is then enqueued FIFO on the
// lock queue and blocked, and the caller must yield without advancing.
func (vm *VM) MonitorAcquire(obj Ref, t *Thread) bool {
	// A handoff from a releasing owner arrives before the thread resumes.
	if t.granted == obj {
		t.granted = NullRef
		return true
	}
	m := vm.findMonitor(obj, true)
	switch {
	case m.owner == nil:
		m.owner = t
		m.depth = 1
		return true
	case m.owner == t:
		m.depth++
		return true
	default:
		m.lockQ = append(m.lockQ, t)
		t.state = StateBlocked
		t.waitingOn = obj
		t.resumeAcquire = true
		vm.sched.block(t)
		return false
	}
}

// MonitorRelease leaves obj's monitor once. On the final release the
// head of the lock queue, if any, becomes the new owner at depth 1;
// otherwise the monitor is unbound and recycled.
func (vm *VM) MonitorRelease(obj Ref, t *Thread) error {
	m := vm.findMonitor(obj, false)
	if m == nil || m.owner != t {
		return vm.ThrowIllegalMonitorState("release of unowned monitor")
	}
	m.depth--
	if m.depth > 0 {
		return nil
	}
	m.owner = nil
	vm.handoff(m)
	return nil
}

// handoff promotes the head of the lock queue to owner, or unbinds the
// monitor when nobody is waiting on it in any way.
func (vm *VM) handoff(m *Monitor) {
	if len(m.lockQ) > 0 {
		next := m.lockQ[0]
		m.lockQ = m.lockQ[1:]
		m.owner = next
		m.depth = 1
		vm.grant(m, next)
		return
	}
	if len(m.waitQ) == 0 {
		m.inUse = false
		m.object = NullRef
	}
}

// grant resumes a thread that has just been made owner.
func (vm *VM) grant(m *Monitor, t *Thread) {
	if t.savedDepth > 0 {
		m.depth = t.savedDepth
		t.savedDepth = 0
	}
	// Only a thread that will retry its acquire needs the handoff note;
	// a wait returner already owns the monitor when it resumes.
	if t.resumeAcquire {
		t.granted = m.object
		t.resumeAcquire = false
	}
	t.state = StateRunnable
	t.waitingOn = NullRef
	vm.sched.unpark(t)
}

// contend puts a woken waiter back in contention: immediate ownership if
// the monitor is free, otherwise the lock queue, keeping Blocked
// combined with the wait state until ownership returns.
func (vm *VM) contend(m *Monitor, t *Thread) {
	if m.owner == nil && len(m.lockQ) == 0 {
		m.owner = t
		m.depth = 1
		vm.grant(m, t)
		return
	}
	m.lockQ = append(m.lockQ, t)
	t.state |= StateBlocked
}

// MonitorWait implements Object.wait: the caller must own the monitor;
// its entire lock depth is released and remembered, and it parks on the
// wait queue. millis of zero waits without a timeout.
func (vm *VM) MonitorWait(obj Ref, t *Thread, millis int64) error {
	m := vm.findMonitor(obj, false)
	if m == nil || m.owner != t {
		return vm.ThrowIllegalMonitorState("wait on unowned monitor")
	}
	t.savedDepth = m.depth
	m.depth = 0
	m.owner = nil

	m.waitQ = append(m.waitQ, t)
	t.waitingOn = obj
	if millis > 0 {
		t.state = StateTimedWaiting
		vm.sched.parkTimed(t, millis)
	} else {
		t.state = StateWaiting
		vm.sched.block(t)
	}
	vm.handoff(m)
	return nil
}

// MonitorNotify implements Object.notify and notifyAll: waiters move off
// the wait queue in FIFO order; the first moves straight to ownership if
// the monitor would otherwise go unowned, the rest join the lock queue.
func (vm *VM) MonitorNotify(obj Ref, t *Thread, all bool) error {
	m := vm.findMonitor(obj, false)
	if m == nil || m.owner != t {
		return vm.ThrowIllegalMonitorState("notify on unowned monitor")
	}
	for len(m.waitQ) > 0 {
		w := m.waitQ[0]
		m.waitQ = m.waitQ[1:]
		vm.sched.removeTimed(w)
		vm.contend(m, w)
		if !all {
			break
		}
	}
	return nil
}

// monitorSweep unbinds monitors whose object died in the last collection.
func (vm *VM) monitorSweep() {
	for m := vm.monitors; m != nil; m = m.next {
		if m.inUse && m.owner == nil && len(m.lockQ) == 0 && len(m.waitQ) == 0 &&
			(!vm.heap.ChunkValid(m.object) || !vm.heap.inUse(m.object)) {
			m.inUse = false
			m.object = NullRef
		}
	}
}
