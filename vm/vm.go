package vm

import (
	"fmt"

	cmap "github.com/orcaman/concurrent-map"

	"github.com/chazu/babevm/platform"
)

// Options configures a VM instance. The zero value is not usable; start
// from DefaultOptions.
type Options struct {
	HeapSize uint32 // arena bytes, within [HeapSizeMin, HeapSizeMax]

	StackCells        uint32 // per-thread ceiling, in cells
	StackSegmentCells uint32 // cells per stack segment

	TransientDepth int // initial transient-root stack capacity
	PermanentDepth int // initial permanent-root stack capacity

	UTFPoolHint    int
	InternPoolHint int
	ClassPoolHint  int

	Quantum      int // bytecodes per timeslice
	DebugQuantum int // timeslice while a debug session is active

	BootClasspath []platform.Entry

	Assertions     bool
	ExitOnUncaught bool
}

// DefaultOptions returns the baseline configuration: a 1 MiB heap and the
// conventional quanta.
func DefaultOptions() Options {
	return Options{
		HeapSize:          1 << 20,
		StackCells:        16 * 1024,
		StackSegmentCells: 512,
		TransientDepth:    64,
		PermanentDepth:    64,
		UTFPoolHint:       256,
		InternPoolHint:    64,
		ClassPoolHint:     64,
		Quantum:           300,
		DebugQuantum:      100,
	}
}

// classKey identifies a class pool entry. A class is unique per
// (defining loader, name) pair.
type classKey struct {
	loader Ref
	name   UTFID
}

// loaderInfo is the VM-side record of one classloader namespace. The
// bootstrap loader is the entry under NullRef; user loaders are keyed by
// their Java classloader object. Mirrors of user-loaded classes live in
// an auto-growing reference array on the heap so that a reachable loader
// keeps every class it defined reachable.
type loaderInfo struct {
	parent  Ref
	path    []platform.Entry
	classes []*Class
	mirrors Ref // reference array of class mirrors, NullRef until first use
	filled  int32
}

// VM is one virtual machine instance. All state is per-instance; embedders
// may run several VMs side by side. The VM is single-threaded: Java
// threads are green threads driven by the cooperative scheduler, so none
// of this state needs locking beyond the handle tables shared with
// embedder goroutines.
type VM struct {
	opts Options

	heap    *Heap
	utf     *UTFPool
	classes *classTable
	methods *methodTable

	pool       map[classKey]*Class
	loaders    map[Ref]*loaderInfo
	internPool map[UTFID]Ref
	natives    cmap.ConcurrentMap

	permanent []Ref
	transient []Ref

	sched    *Scheduler
	monitors *Monitor // head of the process-wide monitor list

	traces map[Ref][]TraceFrame // throwable → captured backtrace

	debugger *Debugger

	// Classes the core keys behaviour on, cached as they load.
	classObject  *Class
	classClass   *Class
	classString  *Class
	throwable    *Class
	weakRefClass *Class
	cloneable    *Class
	serializable *Class
	primClasses  map[JType]*Class

	oomSingleton Ref
	booted       bool
	exit         func(int)
	lastGC       GCStats

	wedgeHandle   uint32 // saved-method sentinel marking a stack bottom
	barrierHandle uint32 // saved-method sentinel bounding a nested run
}

// New creates a VM with the given options. The arena is allocated here;
// Boot must run before classes load or threads start.
func New(opts Options) (*VM, error) {
	heap, err := NewHeap(opts.HeapSize)
	if err != nil {
		return nil, err
	}
	vm := &VM{
		opts:        opts,
		heap:        heap,
		utf:         NewUTFPool(opts.UTFPoolHint),
		classes:     newClassTable(),
		methods:     newMethodTable(),
		pool:        make(map[classKey]*Class, opts.ClassPoolHint),
		loaders:     make(map[Ref]*loaderInfo),
		internPool:  make(map[UTFID]Ref, opts.InternPoolHint),
		natives:     cmap.New(),
		permanent:   make([]Ref, 0, opts.PermanentDepth),
		transient:   make([]Ref, 0, opts.TransientDepth),
		traces:      make(map[Ref][]TraceFrame),
		primClasses: make(map[JType]*Class),
		exit:        defaultExit,
	}
	vm.heap.exit = func(code int) { vm.exit(code) }
	vm.heap.onExhausted = func() { vm.Collect() }
	vm.heap.outOfMemory = vm.throwPrebuiltOOM
	vm.loaders[NullRef] = &loaderInfo{parent: NullRef, path: opts.BootClasspath}
	vm.sched = newScheduler(vm, realClock{})
	vm.debugger = newDebugger(vm)

	// Sentinel methods for the saved-method slot of boundary frames.
	vm.wedgeHandle = vm.methods.register(&Method{name: vm.utf.Intern("<wedge>")})
	vm.barrierHandle = vm.methods.register(&Method{name: vm.utf.Intern("<barrier>")})
	vm.registerCoreNatives()
	return vm, nil
}

// Boot brings the VM to the point where classes load and code runs:
// java/lang/Object comes off the boot classpath, the eight primitive
// classes are synthesized, and the out-of-memory singleton is pre-built
// when its class is available. Classes the core keys on but that a
// minimal classpath may omit (String, Class, the throwables) stay lazy.
func (vm *VM) Boot() error {
	obj, err := vm.LoadClass(NullRef, "java/lang/Object")
	if err != nil {
		return fmt.Errorf("boot: cannot load java/lang/Object: %w", err)
	}
	vm.classObject = obj

	for _, name := range []string{"byte", "boolean", "char", "short", "int", "long", "float", "double"} {
		if _, err := vm.LoadClass(NullRef, name); err != nil {
			return fmt.Errorf("boot: cannot synthesize primitive %s: %w", name, err)
		}
	}

	// Best effort: a classpath carrying only Object still boots.
	if cl, err := vm.loadClassQuiet(NullRef, ExOutOfMemory); err == nil {
		if ref, err := vm.NewInstance(cl); err == nil {
			vm.oomSingleton = ref
			vm.PushPermanent(ref)
		}
	}

	vm.booted = true
	return nil
}

// Options returns the configuration the VM was created with.
func (vm *VM) Options() Options { return vm.opts }

// Heap exposes the arena, mainly to tests and the snapshot layer.
func (vm *VM) Heap() *Heap { return vm.heap }

// UTF exposes the UTF string pool.
func (vm *VM) UTF() *UTFPool { return vm.utf }

// ClassPoolSize reports the number of loaded classes across all loaders.
func (vm *VM) ClassPoolSize() int { return len(vm.pool) }

// Classes returns every pooled class, in no particular order.
func (vm *VM) Classes() []*Class {
	out := make([]*Class, 0, len(vm.pool))
	for _, c := range vm.pool {
		out = append(out, c)
	}
	return out
}

// CurrentThread returns the thread the scheduler is running, nil between
// quanta and before any thread starts.
func (vm *VM) CurrentThread() *Thread { return vm.sched.current }

// SetExit replaces the process-exit hook, for embedders and tests.
func (vm *VM) SetExit(fn func(int)) { vm.exit = fn }

// ---------------------------------------------------------------------------
// GC roots: permanent and transient stacks
// ---------------------------------------------------------------------------

// PushPermanent pins a reference for the life of the VM.
func (vm *VM) PushPermanent(ref Ref) {
	vm.permanent = append(vm.permanent, ref)
}

// PushTransient pins a reference until the enclosing scope closes.
func (vm *VM) PushTransient(ref Ref) {
	vm.transient = append(vm.transient, ref)
}

// Scope restores the transient-root stack to its opening extent. Close is
// safe on both normal and error paths, which is what lets multi-step
// allocators hold intermediate references across a collection.
type Scope struct {
	vm  *VM
	top int
}

// TransientScope opens a transient-root extent.
func (vm *VM) TransientScope() Scope {
	return Scope{vm: vm, top: len(vm.transient)}
}

// Close pops every transient root pushed since the scope opened.
func (s Scope) Close() {
	s.vm.transient = s.vm.transient[:s.top]
}

// ---------------------------------------------------------------------------
// User classloaders
// ---------------------------------------------------------------------------

// RegisterLoader introduces a Java classloader object to the VM: its
// delegation parent (NullRef for the bootstrap loader) and the classpath
// it searches after delegation fails. The loader object itself lives on
// the heap; when it becomes unreachable every class it defined is
// unloaded.
func (vm *VM) RegisterLoader(loader, parent Ref, path []platform.Entry) {
	vm.loaders[loader] = &loaderInfo{parent: parent, path: path}
}

// loaderOf returns the record for a loader, nil when the object was never
// registered.
func (vm *VM) loaderOf(loader Ref) *loaderInfo { return vm.loaders[loader] }

// ---------------------------------------------------------------------------
// Shutdown
// ---------------------------------------------------------------------------

// Shutdown releases the VM. With assertions enabled it sweeps the whole
// heap and treats surviving non-static chunks as a leak.
func (vm *VM) Shutdown() {
	if !vm.opts.Assertions {
		return
	}
	vm.permanent = vm.permanent[:0]
	vm.transient = vm.transient[:0]
	for key := range vm.internPool {
		delete(vm.internPool, key)
	}
	vm.Collect()
	stats := vm.heap.Stats()
	// The two sentinels are the only chunks that legitimately survive.
	if stats.InUseChunks > 2 {
		vmLog.Criticalf("heap leak: %d chunks (%d bytes) in use at shutdown",
			stats.InUseChunks-2, stats.InUseBytes)
		vm.exit(ExitHeapLeak)
	}
}
