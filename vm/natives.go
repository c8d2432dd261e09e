package vm

import (
	"fmt"
	"time"
)

// The native pool maps "Class.name(descriptor)V" keys to Go functions.
// Embedders register natives before or after boot from any goroutine;
// lookups happen on the interpreter goroutine at first call and are
// cached on the method.

func nativeKey(className, name, desc string) string {
	return className + "." + name + desc
}

// RegisterNative binds a Go function to a native method by class name,
// method name, and descriptor.
func (vm *VM) RegisterNative(className, name, desc string, fn NativeFunc) {
	vm.natives.Set(nativeKey(className, name, desc), fn)
}

// nativeFor resolves m's implementation from the pool, caching it on
// the method. An unbound native raises UnsatisfiedLinkError.
func (vm *VM) nativeFor(m *Method) (NativeFunc, error) {
	if m.native != nil {
		return m.native, nil
	}
	key := nativeKey(vm.utf.Name(m.class.name), vm.utf.Name(m.name), vm.utf.Name(m.desc))
	v, ok := vm.natives.Get(key)
	if !ok {
		return nil, vm.Throw(ExUnsatisfiedLink, key)
	}
	fn := v.(NativeFunc)
	m.native = fn
	return fn, nil
}

// Wide values cross the native boundary as two cells, low word first,
// matching the operand-stack layout.
func wideFromCells(lo, hi Cell) int64 {
	return int64(uint64(hi)<<32 | uint64(lo))
}

func cellsFromWide(v int64) (lo, hi Cell) {
	return Cell(uint64(v)), Cell(uint64(v) >> 32)
}

// registerCoreNatives binds the natives the core runtime supplies
// itself: monitor operations on Object, thread control, and the small
// System surface. Registration is unconditional; a classpath without
// the matching classes simply never calls them.
func (vm *VM) registerCoreNatives() {
	vm.RegisterNative("java/lang/Object", "wait", "()V",
		func(vm *VM, t *Thread, args []Cell) ([]Cell, error) {
			return nil, vm.MonitorWait(args[0], t, 0)
		})
	vm.RegisterNative("java/lang/Object", "wait", "(J)V",
		func(vm *VM, t *Thread, args []Cell) ([]Cell, error) {
			return nil, vm.MonitorWait(args[0], t, wideFromCells(args[1], args[2]))
		})
	vm.RegisterNative("java/lang/Object", "notify", "()V",
		func(vm *VM, t *Thread, args []Cell) ([]Cell, error) {
			return nil, vm.MonitorNotify(args[0], t, false)
		})
	vm.RegisterNative("java/lang/Object", "notifyAll", "()V",
		func(vm *VM, t *Thread, args []Cell) ([]Cell, error) {
			return nil, vm.MonitorNotify(args[0], t, true)
		})
	vm.RegisterNative("java/lang/Object", "hashCode", "()I",
		func(vm *VM, t *Thread, args []Cell) ([]Cell, error) {
			// The arena offset is stable for the object's lifetime
			// between collections; this VM's GC does not move chunks.
			return []Cell{args[0]}, nil
		})
	vm.RegisterNative("java/lang/Object", "getClass", "()Ljava/lang/Class;",
		func(vm *VM, t *Thread, args []Cell) ([]Cell, error) {
			return []Cell{vm.classOf(args[0]).mirror}, nil
		})

	vm.RegisterNative("java/lang/Thread", "sleep", "(J)V",
		func(vm *VM, t *Thread, args []Cell) ([]Cell, error) {
			millis := wideFromCells(args[0], args[1])
			if millis < 0 {
				return nil, vm.Throw("java/lang/IllegalArgumentException", "negative sleep")
			}
			if t.interrupted {
				t.interrupted = false
				return nil, vm.Throw(ExInterrupted, "sleep interrupted")
			}
			vm.Sleep(t, millis)
			return nil, nil
		})
	vm.RegisterNative("java/lang/Thread", "yield", "()V",
		func(vm *VM, t *Thread, args []Cell) ([]Cell, error) {
			t.quantum = 0
			return nil, nil
		})
	vm.RegisterNative("java/lang/Thread", "currentThread", "()Ljava/lang/Thread;",
		func(vm *VM, t *Thread, args []Cell) ([]Cell, error) {
			return []Cell{t.mirror}, nil
		})
	vm.RegisterNative("java/lang/Thread", "interrupted", "()Z",
		func(vm *VM, t *Thread, args []Cell) ([]Cell, error) {
			was := Cell(0)
			if t.interrupted {
				was = 1
				t.interrupted = false
			}
			return []Cell{was}, nil
		})

	vm.RegisterNative("java/lang/System", "gc", "()V",
		func(vm *VM, t *Thread, args []Cell) ([]Cell, error) {
			vm.Collect()
			return nil, nil
		})
	vm.RegisterNative("java/lang/System", "currentTimeMillis", "()J",
		func(vm *VM, t *Thread, args []Cell) ([]Cell, error) {
			lo, hi := cellsFromWide(int64(vm.sched.clock.Now() / uint64(time.Millisecond)))
			return []Cell{lo, hi}, nil
		})
	vm.RegisterNative("java/lang/System", "arraycopy",
		"(Ljava/lang/Object;ILjava/lang/Object;II)V", nativeArraycopy)

	vm.RegisterNative("java/lang/String", "intern", "()Ljava/lang/String;",
		func(vm *VM, t *Thread, args []Cell) ([]Cell, error) {
			ref, err := vm.Intern(vm.StringValue(args[0]))
			if err != nil {
				return nil, err
			}
			return []Cell{ref}, nil
		})

	vm.RegisterNative("java/lang/Throwable", "fillInStackTrace", "()Ljava/lang/Throwable;",
		func(vm *VM, t *Thread, args []Cell) ([]Cell, error) {
			vm.traces[args[0]] = vm.captureBacktrace(t)
			return []Cell{args[0]}, nil
		})
}

// nativeArraycopy implements System.arraycopy: bounds-checked, with a
// per-element assignability check when reference array types differ.
func nativeArraycopy(vm *VM, t *Thread, args []Cell) ([]Cell, error) {
	src, dst := args[0], args[2]
	srcPos, dstPos, count := int32(args[1]), int32(args[3]), int32(args[4])

	if src == NullRef || dst == NullRef {
		return nil, vm.ThrowNullPointer()
	}
	sc, dc := vm.classOf(src), vm.classOf(dst)
	if !sc.IsArray() || !dc.IsArray() {
		return nil, vm.ThrowArrayStore("arraycopy of a non-array")
	}
	if (sc.elemType == JTypeReference) != (dc.elemType == JTypeReference) ||
		(sc.elemType != JTypeReference && sc.elemType != dc.elemType) {
		return nil, vm.ThrowArrayStore(fmt.Sprintf("%s into %s",
			vm.utf.Name(sc.name), vm.utf.Name(dc.name)))
	}
	if srcPos < 0 || dstPos < 0 || count < 0 ||
		srcPos+count > vm.ArrayLength(src) || dstPos+count > vm.ArrayLength(dst) {
		return nil, vm.ThrowArrayIndex(srcPos+count, vm.ArrayLength(src))
	}

	if sc.elemType != JTypeReference {
		w := sc.elemType.width()
		copy(vm.heap.arena[vm.primElemOffset(dst, dc.elemType, dstPos):vm.primElemOffset(dst, dc.elemType, dstPos+count)],
			vm.heap.arena[vm.primElemOffset(src, sc.elemType, srcPos):vm.primElemOffset(src, sc.elemType, srcPos)+uint32(count)*w])
		return nil, nil
	}

	checked := !vm.CanAssign(sc.elemClass, dc.elemClass)
	if src == dst && dstPos > srcPos {
		for i := count - 1; i >= 0; i-- {
			vm.RefArraySet(dst, dstPos+i, vm.RefArrayGet(src, srcPos+i))
		}
		return nil, nil
	}
	for i := int32(0); i < count; i++ {
		v := vm.RefArrayGet(src, srcPos+i)
		if checked && v != NullRef && !vm.CanAssign(vm.classOf(v), dc.elemClass) {
			return nil, vm.ThrowArrayStore(vm.utf.Name(vm.classOf(v).name))
		}
		vm.RefArraySet(dst, dstPos+i, v)
	}
	return nil, nil
}
