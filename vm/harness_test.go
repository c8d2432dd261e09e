package vm

import (
	"testing"

	"github.com/chazu/babevm/platform"
)

// objectClassBytes builds the minimal java/lang/Object every booted VM
// needs on its classpath.
func objectClassBytes() []byte {
	b := newClassBuilder("java/lang/Object", "")
	b.addMethod(AccPublic, "<init>", "()V", 1, 1, []byte{opReturn})
	return b.build()
}

// stringClassBytes builds a bare java/lang/String; the string layout is
// fixed cells, so no declared fields are needed.
func stringClassBytes() []byte {
	b := newClassBuilder("java/lang/String", "java/lang/Object")
	b.addMethod(AccPublic, "<init>", "()V", 1, 1, []byte{opReturn})
	return b.build()
}

// bootVM creates and boots a VM over an in-memory classpath. Object is
// supplied when the caller's map omits it.
func bootVM(t *testing.T, classes map[string][]byte) *VM {
	t.Helper()
	if classes == nil {
		classes = map[string][]byte{}
	}
	if _, ok := classes["java/lang/Object"]; !ok {
		classes["java/lang/Object"] = objectClassBytes()
	}
	opts := DefaultOptions()
	opts.BootClasspath = []platform.Entry{platform.NewMemEntry("test", classes)}
	v, err := New(opts)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	v.SetExit(func(code int) {
		t.Fatalf("unexpected VM exit with code %d", code)
	})
	if err := v.Boot(); err != nil {
		t.Fatalf("Boot: %v", err)
	}
	return v
}

func mustLoadClass(t *testing.T, v *VM, name string) *Class {
	t.Helper()
	cl, err := v.LoadClass(NullRef, name)
	if err != nil {
		t.Fatalf("LoadClass(%s): %v", name, err)
	}
	return cl
}

// hostThread spawns a thread wedged on Object.<init> without running
// it; tests drive nested execution on it through CallSynchronous.
func hostThread(t *testing.T, v *VM) *Thread {
	t.Helper()
	cl := mustLoadClass(t, v, "java/lang/Object")
	init := v.LookupMethod(cl, "<init>", "()V")
	if init == nil {
		t.Fatal("Object.<init> not found")
	}
	obj, err := v.NewInstance(cl)
	if err != nil {
		t.Fatalf("NewInstance: %v", err)
	}
	th, err := v.SpawnThread(init, []Cell{obj}, NullRef)
	if err != nil {
		t.Fatalf("SpawnThread: %v", err)
	}
	return th
}

// callStatic runs a static method to completion on a fresh host thread.
func callStatic(t *testing.T, v *VM, className, name, desc string, args ...Cell) ([]Cell, error) {
	t.Helper()
	cl := mustLoadClass(t, v, className)
	m := v.LookupMethod(cl, name, desc)
	if m == nil {
		t.Fatalf("method %s.%s%s not found", className, name, desc)
	}
	th := hostThread(t, v)
	if err := v.EnsureInitialised(th, cl); err != nil {
		return nil, err
	}
	return v.CallSynchronous(th, m, args)
}

// wantThrown asserts that err carries a Java throwable of the given
// class name.
func wantThrown(t *testing.T, err error, className string) *Thrown {
	t.Helper()
	if err == nil {
		t.Fatalf("err = nil, want %s", className)
	}
	th, ok := AsThrown(err)
	if !ok {
		t.Fatalf("err = %v, want a Thrown", err)
	}
	if th.ClassName != className {
		t.Fatalf("thrown class = %s, want %s", th.ClassName, className)
	}
	return th
}

func classNameOf(v *VM, cl *Class) string {
	return v.UTF().Name(cl.NameID())
}
