package vm

// EnsureInitialised drives a class to the Initialised state before its
// first active use: superclasses first (interfaces are not initialised
// through this path), then <clinit>()V run to completion on the current
// thread. Re-entry by the initialising thread is a no-op; a class that
// previously failed raises NoClassDefFoundError.
func (vm *VM) EnsureInitialised(t *Thread, c *Class) error {
	if c == nil || c.state == ClassInitialised {
		return nil
	}
	switch c.state {
	case ClassError:
		return vm.ThrowNoClassDef(vm.utf.Name(c.name))
	case ClassInitialising:
		if c.initThread == t {
			return nil
		}
		// Another green thread is mid-<clinit>. With cooperative
		// scheduling the initializer cannot be preempted inside the
		// nested run, so this only happens if <clinit> itself yielded;
		// treat the class as usable in its in-progress state.
		return nil
	}

	c.state = ClassInitialising
	c.initThread = t

	if !c.IsInterface() && c.super != nil {
		if err := vm.EnsureInitialised(t, c.super); err != nil {
			c.state = ClassError
			c.initThread = nil
			return err
		}
	}

	clinit := c.findMethod(vm.utf.Intern("<clinit>"), vm.utf.Intern("()V"))
	if clinit != nil {
		if _, err := vm.CallSynchronous(t, clinit, nil); err != nil {
			c.state = ClassError
			c.initThread = nil
			return err
		}
	}

	c.state = ClassInitialised
	c.initThread = nil
	return nil
}
