package vm

import "testing"

func TestClinitRunsOnce(t *testing.T) {
	b := newClassBuilder("app/Init", "java/lang/Object")
	b.addField(AccPublic|AccStatic, "x", "I")
	f := b.fieldRef("app/Init", "x", "I")
	hi, lo := u2code(f)
	b.addMethod(AccStatic, "<clinit>", "()V", 3, 0, []byte{
		opGetstatic, hi, lo,
		opBipush, 42, opIadd,
		opPutstatic, hi, lo,
		opReturn,
	})
	v := bootVM(t, map[string][]byte{"app/Init": b.build()})
	cl := mustLoadClass(t, v, "app/Init")
	th := hostThread(t, v)

	if err := v.EnsureInitialised(th, cl); err != nil {
		t.Fatalf("EnsureInitialised: %v", err)
	}
	if cl.State() != ClassInitialised {
		t.Errorf("state = %v, want %v", cl.State(), ClassInitialised)
	}
	x := cl.findField(v.utf.Intern("x"), v.utf.Intern("I"))
	if got := int32(v.GetStatic(x)); got != 42 {
		t.Errorf("x = %d, want 42", got)
	}

	// A second call must not rerun <clinit>.
	if err := v.EnsureInitialised(th, cl); err != nil {
		t.Fatalf("second EnsureInitialised: %v", err)
	}
	if got := int32(v.GetStatic(x)); got != 42 {
		t.Errorf("x after re-init = %d, want 42", got)
	}
}

func TestClinitSuperFirst(t *testing.T) {
	base := newClassBuilder("app/IBase", "java/lang/Object")
	base.addField(AccPublic|AccStatic, "x", "I")
	bf := base.fieldRef("app/IBase", "x", "I")
	bfHi, bfLo := u2code(bf)
	base.addMethod(AccStatic, "<clinit>", "()V", 1, 0, []byte{
		opIconst1, opPutstatic, bfHi, bfLo, opReturn,
	})

	// The subclass initializer reads the superclass static; super-first
	// ordering makes it observe 1.
	sub := newClassBuilder("app/ISub", "app/IBase")
	sub.addField(AccPublic|AccStatic, "y", "I")
	sx := sub.fieldRef("app/IBase", "x", "I")
	sxHi, sxLo := u2code(sx)
	sy := sub.fieldRef("app/ISub", "y", "I")
	syHi, syLo := u2code(sy)
	sub.addMethod(AccStatic, "<clinit>", "()V", 2, 0, []byte{
		opGetstatic, sxHi, sxLo,
		opIconst1, opIadd,
		opPutstatic, syHi, syLo,
		opReturn,
	})
	v := bootVM(t, map[string][]byte{
		"app/IBase": base.build(),
		"app/ISub":  sub.build(),
	})
	subCl := mustLoadClass(t, v, "app/ISub")
	th := hostThread(t, v)

	if err := v.EnsureInitialised(th, subCl); err != nil {
		t.Fatalf("EnsureInitialised: %v", err)
	}
	if subCl.Super().State() != ClassInitialised {
		t.Error("superclass not initialised first")
	}
	y := subCl.findField(v.utf.Intern("y"), v.utf.Intern("I"))
	if got := int32(v.GetStatic(y)); got != 2 {
		t.Errorf("y = %d, want 2", got)
	}
}

func TestClinitSelfReferenceDoesNotRecurse(t *testing.T) {
	// <clinit> touching its own statics re-enters EnsureInitialised on
	// the initialising thread, which must be a no-op.
	b := newClassBuilder("app/SelfInit", "java/lang/Object")
	b.addField(AccPublic|AccStatic, "x", "I")
	f := b.fieldRef("app/SelfInit", "x", "I")
	hi, lo := u2code(f)
	b.addMethod(AccStatic, "<clinit>", "()V", 1, 0, []byte{
		opIconst5, opPutstatic, hi, lo, opReturn,
	})
	v := bootVM(t, map[string][]byte{"app/SelfInit": b.build()})
	cl := mustLoadClass(t, v, "app/SelfInit")
	th := hostThread(t, v)

	if err := v.EnsureInitialised(th, cl); err != nil {
		t.Fatalf("EnsureInitialised: %v", err)
	}
	x := cl.findField(v.utf.Intern("x"), v.utf.Intern("I"))
	if got := int32(v.GetStatic(x)); got != 5 {
		t.Errorf("x = %d, want 5", got)
	}
}

func TestClinitFailureMarksClassErroneous(t *testing.T) {
	b := newClassBuilder("app/BadInit", "java/lang/Object")
	b.addMethod(AccStatic, "<clinit>", "()V", 2, 0, []byte{
		opIconst1, opIconst0, opIdiv, opPop, opReturn,
	})
	b.addMethod(AccPublic|AccStatic, "f", "()I", 1, 0,
		[]byte{opIconst1, opIreturn})
	v := bootVM(t, map[string][]byte{"app/BadInit": b.build()})
	cl := mustLoadClass(t, v, "app/BadInit")
	th := hostThread(t, v)

	err := v.EnsureInitialised(th, cl)
	wantThrown(t, err, ExArithmetic)
	if cl.State() != ClassError {
		t.Errorf("state = %v, want %v", cl.State(), ClassError)
	}

	// Later uses observe NoClassDefFoundError, not a <clinit> rerun.
	err = v.EnsureInitialised(th, cl)
	wantThrown(t, err, ExNoClassDefFound)
}

func TestGetstaticTriggersInit(t *testing.T) {
	target := newClassBuilder("app/Lazy", "java/lang/Object")
	target.addField(AccPublic|AccStatic, "x", "I")
	tf := target.fieldRef("app/Lazy", "x", "I")
	tfHi, tfLo := u2code(tf)
	target.addMethod(AccStatic, "<clinit>", "()V", 1, 0, []byte{
		opBipush, 9, opPutstatic, tfHi, tfLo, opReturn,
	})

	reader := newClassBuilder("app/Reader", "java/lang/Object")
	rf := reader.fieldRef("app/Lazy", "x", "I")
	rfHi, rfLo := u2code(rf)
	reader.addMethod(AccPublic|AccStatic, "read", "()I", 1, 0,
		[]byte{opGetstatic, rfHi, rfLo, opIreturn})

	v := bootVM(t, map[string][]byte{
		"app/Lazy":   target.build(),
		"app/Reader": reader.build(),
	})

	rets, err := callStatic(t, v, "app/Reader", "read", "()I")
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if got := int32(rets[0]); got != 9 {
		t.Errorf("read() = %d, want 9 after lazy init", got)
	}
	lazy := mustLoadClass(t, v, "app/Lazy")
	if lazy.State() != ClassInitialised {
		t.Errorf("Lazy state = %v, want %v", lazy.State(), ClassInitialised)
	}
}
