package vm

// LookupMethod finds a declared or inherited method by name and
// descriptor strings, nil when absent.
func (vm *VM) LookupMethod(cl *Class, name, desc string) *Method {
	nameID, ok := vm.utf.Lookup(name)
	if !ok {
		return nil
	}
	descID, ok := vm.utf.Lookup(desc)
	if !ok {
		return nil
	}
	return vm.lookupMethod(cl, nameID, descID)
}

// RunMain loads className through the bootstrap loader, spawns the main
// thread on its main(String[]) method, runs the class initialiser, and
// drives the scheduler until every thread ends. The argument array is
// built when java/lang/String is on the classpath and passed null
// otherwise, so classlib-free images still launch.
func (vm *VM) RunMain(className string, args []string) error {
	cl, err := vm.LoadClass(NullRef, className)
	if err != nil {
		return err
	}
	main := vm.LookupMethod(cl, "main", "([Ljava/lang/String;)V")
	if main == nil || !main.IsStatic() {
		return vm.Throw(ExNoSuchMethod, className+".main([Ljava/lang/String;)V")
	}

	scope := vm.TransientScope()
	defer scope.Close()

	argv := NullRef
	if sc, serr := vm.loadClassQuiet(NullRef, "java/lang/String"); serr == nil {
		if arr, aerr := vm.NewRefArray(sc, int32(len(args))); aerr == nil {
			vm.PushTransient(arr)
			ok := true
			for i, a := range args {
				s, werr := vm.NewString(a)
				if werr != nil {
					ok = false
					break
				}
				vm.RefArraySet(arr, int32(i), s)
			}
			if ok {
				argv = arr
			}
		}
	}

	t, err := vm.SpawnThread(main, []Cell{argv}, NullRef)
	if err != nil {
		return err
	}
	if err := vm.EnsureInitialised(t, cl); err != nil {
		return err
	}
	return vm.Run()
}
