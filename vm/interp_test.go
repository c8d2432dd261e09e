package vm

import "testing"

func u2code(idx uint16) (byte, byte) { return byte(idx >> 8), byte(idx) }

func s4code(v int32) []byte {
	return []byte{byte(v >> 24), byte(v >> 16), byte(v >> 8), byte(v)}
}

func TestIntArithmetic(t *testing.T) {
	b := newClassBuilder("app/Math", "java/lang/Object")
	b.addMethod(AccPublic|AccStatic, "add", "(II)I", 2, 2,
		[]byte{opIload0, opIload1, opIadd, opIreturn})
	b.addMethod(AccPublic|AccStatic, "mul", "(II)I", 2, 2,
		[]byte{opIload0, opIload1, opImul, opIreturn})
	v := bootVM(t, map[string][]byte{"app/Math": b.build()})

	rets, err := callStatic(t, v, "app/Math", "add", "(II)I", Cell(2), Cell(3))
	if err != nil {
		t.Fatalf("add: %v", err)
	}
	if got := int32(rets[0]); got != 5 {
		t.Errorf("add(2, 3) = %d, want 5", got)
	}

	negFour := int32(-4)
	rets, err = callStatic(t, v, "app/Math", "mul", "(II)I", Cell(negFour), Cell(7))
	if err != nil {
		t.Fatalf("mul: %v", err)
	}
	if got := int32(rets[0]); got != -28 {
		t.Errorf("mul(-4, 7) = %d, want -28", got)
	}
}

func TestLongArithmeticAndCompare(t *testing.T) {
	b := newClassBuilder("app/Longs", "java/lang/Object")
	b.addMethod(AccPublic|AccStatic, "add", "(JJ)J", 4, 4,
		[]byte{opLload0, opLload2, opLadd, opLreturn})
	b.addMethod(AccPublic|AccStatic, "cmp", "(JJ)I", 4, 4,
		[]byte{opLload0, opLload2, opLcmp, opIreturn})
	v := bootVM(t, map[string][]byte{"app/Longs": b.build()})

	x, y := int64(1)<<33+5, int64(1)<<34+7
	xl, xh := cellsFromWide(x)
	yl, yh := cellsFromWide(y)
	rets, err := callStatic(t, v, "app/Longs", "add", "(JJ)J", xl, xh, yl, yh)
	if err != nil {
		t.Fatalf("add: %v", err)
	}
	if got := wideFromCells(rets[0], rets[1]); got != x+y {
		t.Errorf("add = %d, want %d", got, x+y)
	}

	rets, err = callStatic(t, v, "app/Longs", "cmp", "(JJ)I", xl, xh, yl, yh)
	if err != nil {
		t.Fatalf("cmp: %v", err)
	}
	if got := int32(rets[0]); got != -1 {
		t.Errorf("cmp(smaller, larger) = %d, want -1", got)
	}
}

// sum(n) adds 0..n-1 with a counted loop, long enough that the nested
// run's quantum must be replenished at least once.
func TestBranchLoopAcrossQuanta(t *testing.T) {
	b := newClassBuilder("app/Loop", "java/lang/Object")
	b.addMethod(AccPublic|AccStatic, "sum", "(I)I", 2, 3, []byte{
		opIconst0, opIstore1, // acc = 0
		opIconst0, opIstore2, // i = 0
		opIload2, opIload0, // pc 4
		opIfIcmpge, 0x00, 0x0D, // -> 19
		opIload1, opIload2, opIadd, opIstore1,
		opIinc, 2, 1,
		opGoto, 0xFF, 0xF4, // -> 4
		opIload1, opIreturn, // pc 19
	})
	v := bootVM(t, map[string][]byte{"app/Loop": b.build()})

	rets, err := callStatic(t, v, "app/Loop", "sum", "(I)I", Cell(200))
	if err != nil {
		t.Fatalf("sum: %v", err)
	}
	if got := int32(rets[0]); got != 19900 {
		t.Errorf("sum(200) = %d, want 19900", got)
	}
}

func TestDivideByZero(t *testing.T) {
	b := newClassBuilder("app/Div", "java/lang/Object")
	b.addMethod(AccPublic|AccStatic, "div", "(II)I", 2, 2,
		[]byte{opIload0, opIload1, opIdiv, opIreturn})
	v := bootVM(t, map[string][]byte{"app/Div": b.build()})

	_, err := callStatic(t, v, "app/Div", "div", "(II)I", Cell(1), Cell(0))
	wantThrown(t, err, ExArithmetic)
}

func TestCatchAllHandler(t *testing.T) {
	b := newClassBuilder("app/Safe", "java/lang/Object")
	mi := b.addMethod(AccPublic|AccStatic, "div", "(II)I", 2, 2, []byte{
		opIload0, opIload1, opIdiv, opIreturn,
		opPop, opIconstM1, opIreturn, // handler at pc 4
	})
	b.addHandler(mi, 0, 4, 4, "")
	v := bootVM(t, map[string][]byte{"app/Safe": b.build()})

	rets, err := callStatic(t, v, "app/Safe", "div", "(II)I", Cell(1), Cell(0))
	if err != nil {
		t.Fatalf("div: %v", err)
	}
	if got := int32(rets[0]); got != -1 {
		t.Errorf("div(1, 0) = %d, want -1 from the handler", got)
	}
}

func TestTypedHandlerDispatch(t *testing.T) {
	b := newClassBuilder("app/Typed", "java/lang/Object")
	mi := b.addMethod(AccPublic|AccStatic, "f", "()I", 1, 1, []byte{
		opAconstNull, opAthrow, // throwing athrow on null raises NPE
		opPop, opIconst1, opIreturn, // pc 2: wrong type, must not run
		opPop, opBipush, 7, opIreturn, // pc 5: matching type
	})
	b.addHandler(mi, 0, 2, 2, "java/lang/ArithmeticException")
	b.addHandler(mi, 0, 2, 5, "java/lang/NullPointerException")
	v := bootVM(t, map[string][]byte{
		"app/Typed":                        b.build(),
		"java/lang/ArithmeticException":    newClassBuilder("java/lang/ArithmeticException", "java/lang/Object").build(),
		"java/lang/NullPointerException":   newClassBuilder("java/lang/NullPointerException", "java/lang/Object").build(),
	})

	rets, err := callStatic(t, v, "app/Typed", "f", "()I")
	if err != nil {
		t.Fatalf("f: %v", err)
	}
	if got := int32(rets[0]); got != 7 {
		t.Errorf("f() = %d, want 7 from the NPE handler", got)
	}
}

func TestHandlerCatchesCalleeFault(t *testing.T) {
	b := newClassBuilder("app/Unwind", "java/lang/Object")
	inner := b.methodRef("app/Unwind", "inner", "(II)I")
	hi, lo := u2code(inner)
	mi := b.addMethod(AccPublic|AccStatic, "outer", "(II)I", 2, 2, []byte{
		opIload0, opIload1,
		opInvokestatic, hi, lo,
		opIreturn,
		opPop, opIconstM1, opIreturn, // handler at pc 6
	})
	b.addHandler(mi, 0, 6, 6, "")
	b.addMethod(AccPublic|AccStatic, "inner", "(II)I", 2, 2,
		[]byte{opIload0, opIload1, opIdiv, opIreturn})
	v := bootVM(t, map[string][]byte{"app/Unwind": b.build()})

	rets, err := callStatic(t, v, "app/Unwind", "outer", "(II)I", Cell(1), Cell(0))
	if err != nil {
		t.Fatalf("outer: %v", err)
	}
	if got := int32(rets[0]); got != -1 {
		t.Errorf("outer(1, 0) = %d, want -1", got)
	}

	rets, err = callStatic(t, v, "app/Unwind", "outer", "(II)I", Cell(10), Cell(2))
	if err != nil {
		t.Fatalf("outer: %v", err)
	}
	if got := int32(rets[0]); got != 5 {
		t.Errorf("outer(10, 2) = %d, want 5", got)
	}
}

func TestStaticFieldBytecodes(t *testing.T) {
	b := newClassBuilder("app/Counter", "java/lang/Object")
	b.addField(AccPublic|AccStatic, "count", "I")
	f := b.fieldRef("app/Counter", "count", "I")
	hi, lo := u2code(f)
	b.addMethod(AccPublic|AccStatic, "bump", "()I", 3, 0, []byte{
		opGetstatic, hi, lo,
		opIconst1, opIadd, opDup,
		opPutstatic, hi, lo,
		opIreturn,
	})
	v := bootVM(t, map[string][]byte{"app/Counter": b.build()})

	for want := int32(1); want <= 3; want++ {
		rets, err := callStatic(t, v, "app/Counter", "bump", "()I")
		if err != nil {
			t.Fatalf("bump: %v", err)
		}
		if got := int32(rets[0]); got != want {
			t.Errorf("bump #%d = %d, want %d", want, got, want)
		}
	}
}

func TestNewInvokespecialInvokevirtual(t *testing.T) {
	pair := newClassBuilder("app/Pair", "java/lang/Object")
	objInit := pair.methodRef("java/lang/Object", "<init>", "()V")
	oiHi, oiLo := u2code(objInit)
	fx := pair.fieldRef("app/Pair", "x", "I")
	fxHi, fxLo := u2code(fx)
	fy := pair.fieldRef("app/Pair", "y", "I")
	fyHi, fyLo := u2code(fy)
	pair.addField(AccPublic, "x", "I")
	pair.addField(AccPublic, "y", "I")
	pair.addMethod(AccPublic, "<init>", "(II)V", 2, 3, []byte{
		opAload0, opInvokespecial, oiHi, oiLo,
		opAload0, opIload1, opPutfield, fxHi, fxLo,
		opAload0, opIload2, opPutfield, fyHi, fyLo,
		opReturn,
	})
	pair.addMethod(AccPublic, "sum", "()I", 2, 1, []byte{
		opAload0, opGetfield, fxHi, fxLo,
		opAload0, opGetfield, fyHi, fyLo,
		opIadd, opIreturn,
	})

	use := newClassBuilder("app/Use", "java/lang/Object")
	pairClass := use.classConst("app/Pair")
	pcHi, pcLo := u2code(pairClass)
	pairInit := use.methodRef("app/Pair", "<init>", "(II)V")
	piHi, piLo := u2code(pairInit)
	pairSum := use.methodRef("app/Pair", "sum", "()I")
	psHi, psLo := u2code(pairSum)
	use.addMethod(AccPublic|AccStatic, "make", "(II)I", 4, 2, []byte{
		opNew, pcHi, pcLo,
		opDup, opIload0, opIload1,
		opInvokespecial, piHi, piLo,
		opInvokevirtual, psHi, psLo,
		opIreturn,
	})
	v := bootVM(t, map[string][]byte{
		"app/Pair": pair.build(),
		"app/Use":  use.build(),
	})

	rets, err := callStatic(t, v, "app/Use", "make", "(II)I", Cell(3), Cell(4))
	if err != nil {
		t.Fatalf("make: %v", err)
	}
	if got := int32(rets[0]); got != 7 {
		t.Errorf("make(3, 4) = %d, want 7", got)
	}
}

func TestInvokeVirtualPicksOverride(t *testing.T) {
	base := newClassBuilder("app/Base", "java/lang/Object")
	base.addMethod(AccPublic, "f", "()I", 1, 1, []byte{opIconst1, opIreturn})
	baseF := base.methodRef("app/Base", "f", "()I")
	bfHi, bfLo := u2code(baseF)
	base.addMethod(AccPublic|AccStatic, "call", "(Lapp/Base;)I", 1, 1,
		[]byte{opAload0, opInvokevirtual, bfHi, bfLo, opIreturn})

	sub := newClassBuilder("app/Sub", "app/Base")
	sub.addMethod(AccPublic, "f", "()I", 1, 1, []byte{opIconst2, opIreturn})

	v := bootVM(t, map[string][]byte{
		"app/Base": base.build(),
		"app/Sub":  sub.build(),
	})
	subCl := mustLoadClass(t, v, "app/Sub")
	obj, err := v.NewInstance(subCl)
	if err != nil {
		t.Fatalf("NewInstance: %v", err)
	}
	v.PushPermanent(obj)

	rets, err := callStatic(t, v, "app/Base", "call", "(Lapp/Base;)I", obj)
	if err != nil {
		t.Fatalf("call: %v", err)
	}
	if got := int32(rets[0]); got != 2 {
		t.Errorf("call(Sub) = %d, want 2 from the override", got)
	}
}

func TestIntArrayBytecodes(t *testing.T) {
	b := newClassBuilder("app/Arr", "java/lang/Object")
	b.addMethod(AccPublic|AccStatic, "rw", "()I", 4, 0, []byte{
		opBipush, 5,
		opNewarray, byte(JTypeInt),
		opDup, opIconst0, opBipush, 7, opIastore,
		opIconst0, opIaload,
		opIreturn,
	})
	b.addMethod(AccPublic|AccStatic, "oob", "()I", 2, 0, []byte{
		opIconst1,
		opNewarray, byte(JTypeInt),
		opIconst3, opIaload,
		opIreturn,
	})
	b.addMethod(AccPublic|AccStatic, "npe", "()I", 1, 0,
		[]byte{opAconstNull, opArraylength, opIreturn})
	v := bootVM(t, map[string][]byte{"app/Arr": b.build()})

	rets, err := callStatic(t, v, "app/Arr", "rw", "()I")
	if err != nil {
		t.Fatalf("rw: %v", err)
	}
	if got := int32(rets[0]); got != 7 {
		t.Errorf("rw() = %d, want 7", got)
	}

	_, err = callStatic(t, v, "app/Arr", "oob", "()I")
	wantThrown(t, err, ExArrayIndexOutOfBounds)

	_, err = callStatic(t, v, "app/Arr", "npe", "()I")
	wantThrown(t, err, ExNullPointer)
}

func TestCheckcastInstanceof(t *testing.T) {
	b := newClassBuilder("app/Casts", "java/lang/Object")
	aClass := b.classConst("app/A")
	aHi, aLo := u2code(aClass)
	b.addMethod(AccPublic|AccStatic, "inst", "(Ljava/lang/Object;)I", 1, 1,
		[]byte{opAload0, opInstanceof, aHi, aLo, opIreturn})
	b.addMethod(AccPublic|AccStatic, "cast", "(Ljava/lang/Object;)Lapp/A;", 1, 1,
		[]byte{opAload0, opCheckcast, aHi, aLo, opAreturn})
	v := bootVM(t, map[string][]byte{
		"app/Casts": b.build(),
		"app/A":     newClassBuilder("app/A", "java/lang/Object").build(),
		"app/B":     newClassBuilder("app/B", "app/A").build(),
	})

	bObj, err := v.NewInstance(mustLoadClass(t, v, "app/B"))
	if err != nil {
		t.Fatalf("NewInstance: %v", err)
	}
	v.PushPermanent(bObj)
	plain, err := v.NewInstance(mustLoadClass(t, v, "java/lang/Object"))
	if err != nil {
		t.Fatalf("NewInstance: %v", err)
	}
	v.PushPermanent(plain)

	rets, err := callStatic(t, v, "app/Casts", "inst", "(Ljava/lang/Object;)I", bObj)
	if err != nil {
		t.Fatalf("inst: %v", err)
	}
	if got := int32(rets[0]); got != 1 {
		t.Errorf("inst(B) = %d, want 1", got)
	}

	rets, err = callStatic(t, v, "app/Casts", "inst", "(Ljava/lang/Object;)I", plain)
	if err != nil {
		t.Fatalf("inst: %v", err)
	}
	if got := int32(rets[0]); got != 0 {
		t.Errorf("inst(Object) = %d, want 0", got)
	}

	// instanceof and checkcast both pass null through.
	rets, err = callStatic(t, v, "app/Casts", "inst", "(Ljava/lang/Object;)I", NullRef)
	if err != nil {
		t.Fatalf("inst(null): %v", err)
	}
	if got := int32(rets[0]); got != 0 {
		t.Errorf("inst(null) = %d, want 0", got)
	}
	rets, err = callStatic(t, v, "app/Casts", "cast", "(Ljava/lang/Object;)Lapp/A;", NullRef)
	if err != nil {
		t.Fatalf("cast(null): %v", err)
	}
	if rets[0] != NullRef {
		t.Errorf("cast(null) = %#x, want null", rets[0])
	}

	rets, err = callStatic(t, v, "app/Casts", "cast", "(Ljava/lang/Object;)Lapp/A;", bObj)
	if err != nil {
		t.Fatalf("cast(B): %v", err)
	}
	if rets[0] != bObj {
		t.Errorf("cast(B) = %#x, want %#x", rets[0], bObj)
	}

	_, err = callStatic(t, v, "app/Casts", "cast", "(Ljava/lang/Object;)Lapp/A;", plain)
	wantThrown(t, err, ExClassCast)
}

func TestTableswitch(t *testing.T) {
	code := []byte{opIload0, opTableswitch, 0, 0}
	code = append(code, s4code(36)...) // default -> 37
	code = append(code, s4code(0)...)  // low
	code = append(code, s4code(2)...)  // high
	code = append(code, s4code(27)...) // 0 -> 28
	code = append(code, s4code(30)...) // 1 -> 31
	code = append(code, s4code(33)...) // 2 -> 34
	code = append(code,
		opBipush, 10, opIreturn, // pc 28
		opBipush, 20, opIreturn, // pc 31
		opBipush, 30, opIreturn, // pc 34
		opIconstM1, opIreturn, // pc 37
	)
	b := newClassBuilder("app/Tsw", "java/lang/Object")
	b.addMethod(AccPublic|AccStatic, "pick", "(I)I", 1, 1, code)
	v := bootVM(t, map[string][]byte{"app/Tsw": b.build()})

	cases := map[int32]int32{0: 10, 1: 20, 2: 30, 5: -1, -1: -1}
	for in, want := range cases {
		rets, err := callStatic(t, v, "app/Tsw", "pick", "(I)I", Cell(in))
		if err != nil {
			t.Fatalf("pick(%d): %v", in, err)
		}
		if got := int32(rets[0]); got != want {
			t.Errorf("pick(%d) = %d, want %d", in, got, want)
		}
	}
}

func TestLookupswitch(t *testing.T) {
	code := []byte{opIload0, opLookupswitch, 0, 0}
	code = append(code, s4code(33)...) // default -> 34
	code = append(code, s4code(2)...)  // npairs
	code = append(code, s4code(5)...)
	code = append(code, s4code(27)...) // 5 -> 28
	code = append(code, s4code(100)...)
	code = append(code, s4code(30)...) // 100 -> 31
	code = append(code,
		opBipush, 50, opIreturn, // pc 28
		opBipush, 99, opIreturn, // pc 31
		opIconst0, opIreturn, // pc 34
	)
	b := newClassBuilder("app/Lsw", "java/lang/Object")
	b.addMethod(AccPublic|AccStatic, "pick", "(I)I", 1, 1, code)
	v := bootVM(t, map[string][]byte{"app/Lsw": b.build()})

	cases := map[int32]int32{5: 50, 100: 99, 6: 0}
	for in, want := range cases {
		rets, err := callStatic(t, v, "app/Lsw", "pick", "(I)I", Cell(in))
		if err != nil {
			t.Fatalf("pick(%d): %v", in, err)
		}
		if got := int32(rets[0]); got != want {
			t.Errorf("pick(%d) = %d, want %d", in, got, want)
		}
	}
}

func TestWideIinc(t *testing.T) {
	b := newClassBuilder("app/Wide", "java/lang/Object")
	b.addMethod(AccPublic|AccStatic, "w", "(I)I", 1, 1, []byte{
		opWide, opIinc, 0, 0, 0x03, 0xE8, // += 1000
		opIload0, opIreturn,
	})
	v := bootVM(t, map[string][]byte{"app/Wide": b.build()})

	rets, err := callStatic(t, v, "app/Wide", "w", "(I)I", Cell(5))
	if err != nil {
		t.Fatalf("w: %v", err)
	}
	if got := int32(rets[0]); got != 1005 {
		t.Errorf("w(5) = %d, want 1005", got)
	}
}

func TestLdcConstants(t *testing.T) {
	b := newClassBuilder("app/Consts", "java/lang/Object")
	ic := b.intConst(123456)
	b.addMethod(AccPublic|AccStatic, "i", "()I", 1, 0,
		[]byte{opLdc, byte(ic), opIreturn})
	lc := b.longConst(1 << 40)
	lHi, lLo := u2code(lc)
	b.addMethod(AccPublic|AccStatic, "l", "()J", 2, 0,
		[]byte{opLdc2W, lHi, lLo, opLreturn})
	sc := b.stringConst("hi")
	b.addMethod(AccPublic|AccStatic, "s", "()Ljava/lang/String;", 1, 0,
		[]byte{opLdc, byte(sc), opAreturn})
	v := bootVM(t, map[string][]byte{
		"app/Consts":       b.build(),
		"java/lang/String": stringClassBytes(),
	})

	rets, err := callStatic(t, v, "app/Consts", "i", "()I")
	if err != nil {
		t.Fatalf("i: %v", err)
	}
	if got := int32(rets[0]); got != 123456 {
		t.Errorf("i() = %d, want 123456", got)
	}

	rets, err = callStatic(t, v, "app/Consts", "l", "()J")
	if err != nil {
		t.Fatalf("l: %v", err)
	}
	if got := wideFromCells(rets[0], rets[1]); got != 1<<40 {
		t.Errorf("l() = %d, want %d", got, int64(1)<<40)
	}

	rets, err = callStatic(t, v, "app/Consts", "s", "()Ljava/lang/String;")
	if err != nil {
		t.Fatalf("s: %v", err)
	}
	if got := v.StringValue(rets[0]); got != "hi" {
		t.Errorf("s() = %q, want %q", got, "hi")
	}
	// ldc of the same String constant yields the interned object.
	again, err := callStatic(t, v, "app/Consts", "s", "()Ljava/lang/String;")
	if err != nil {
		t.Fatalf("s again: %v", err)
	}
	if again[0] != rets[0] {
		t.Error("two ldc of one String constant produced distinct objects")
	}
}

func TestMultianewarray(t *testing.T) {
	b := newClassBuilder("app/Multi", "java/lang/Object")
	cc := b.classConst("[[I")
	cHi, cLo := u2code(cc)
	b.addMethod(AccPublic|AccStatic, "m", "()I", 2, 0, []byte{
		opIconst2, opIconst3,
		opMultianewarray, cHi, cLo, 2,
		opIconst0, opAaload,
		opArraylength,
		opIreturn,
	})
	b.addMethod(AccPublic|AccStatic, "zero", "()I", 2, 0, []byte{
		opIconst0, opIconst3,
		opMultianewarray, cHi, cLo, 2,
		opArraylength,
		opIreturn,
	})
	v := bootVM(t, map[string][]byte{"app/Multi": b.build()})

	rets, err := callStatic(t, v, "app/Multi", "m", "()I")
	if err != nil {
		t.Fatalf("m: %v", err)
	}
	if got := int32(rets[0]); got != 3 {
		t.Errorf("inner length = %d, want 3", got)
	}

	// A zero outer length leaves the inner dimension unallocated.
	rets, err = callStatic(t, v, "app/Multi", "zero", "()I")
	if err != nil {
		t.Fatalf("zero: %v", err)
	}
	if got := int32(rets[0]); got != 0 {
		t.Errorf("zero-length outer = %d, want 0", got)
	}
}

func TestSynchronizedMethodReleasesOnReturn(t *testing.T) {
	b := newClassBuilder("app/Sync", "java/lang/Object")
	b.addMethod(AccPublic|AccStatic|AccSynchronized, "one", "()I", 1, 0,
		[]byte{opIconst1, opIreturn})
	v := bootVM(t, map[string][]byte{"app/Sync": b.build()})

	rets, err := callStatic(t, v, "app/Sync", "one", "()I")
	if err != nil {
		t.Fatalf("one: %v", err)
	}
	if got := int32(rets[0]); got != 1 {
		t.Errorf("one() = %d, want 1", got)
	}
	cl := mustLoadClass(t, v, "app/Sync")
	if m := v.findMonitor(cl.Mirror(), false); m != nil {
		t.Error("class mirror monitor still bound after return")
	}

	// A bounded run cannot queue on a contended method lock.
	intruder := hostThread(t, v)
	if !v.MonitorAcquire(cl.Mirror(), intruder) {
		t.Fatal("uncontended acquire failed")
	}
	_, err = callStatic(t, v, "app/Sync", "one", "()I")
	wantThrown(t, err, ExInternal)
	if err := v.MonitorRelease(cl.Mirror(), intruder); err != nil {
		t.Fatalf("release: %v", err)
	}

	// With the intruder gone the method runs again.
	if _, err := callStatic(t, v, "app/Sync", "one", "()I"); err != nil {
		t.Fatalf("one after release: %v", err)
	}
}

func TestMonitorBytecodes(t *testing.T) {
	b := newClassBuilder("app/Mon", "java/lang/Object")
	b.addMethod(AccPublic|AccStatic, "enterExit", "(Ljava/lang/Object;)I", 2, 1, []byte{
		opAload0, opDup,
		opMonitorenter, opMonitorexit,
		opIconst1, opIreturn,
	})
	b.addMethod(AccPublic|AccStatic, "exitUnowned", "(Ljava/lang/Object;)V", 1, 1,
		[]byte{opAload0, opMonitorexit, opReturn})
	v := bootVM(t, map[string][]byte{"app/Mon": b.build()})

	obj, err := v.NewInstance(mustLoadClass(t, v, "java/lang/Object"))
	if err != nil {
		t.Fatalf("NewInstance: %v", err)
	}
	v.PushPermanent(obj)

	rets, err := callStatic(t, v, "app/Mon", "enterExit", "(Ljava/lang/Object;)I", obj)
	if err != nil {
		t.Fatalf("enterExit: %v", err)
	}
	if got := int32(rets[0]); got != 1 {
		t.Errorf("enterExit = %d, want 1", got)
	}
	if m := v.findMonitor(obj, false); m != nil {
		t.Error("monitor still bound after balanced enter/exit")
	}

	_, err = callStatic(t, v, "app/Mon", "exitUnowned", "(Ljava/lang/Object;)V", obj)
	wantThrown(t, err, ExIllegalMonitorState)
}

func TestJsrRejected(t *testing.T) {
	b := newClassBuilder("app/Jsr", "java/lang/Object")
	b.addMethod(AccPublic|AccStatic, "f", "()V", 1, 1,
		[]byte{opJsr, 0, 3, opReturn})
	v := bootVM(t, map[string][]byte{"app/Jsr": b.build()})

	_, err := callStatic(t, v, "app/Jsr", "f", "()V")
	wantThrown(t, err, ExVerify)
}

func TestAbstractInvokeFails(t *testing.T) {
	b := newClassBuilder("app/Abs", "java/lang/Object")
	b.access = AccPublic | AccAbstract | AccSuper
	b.addBodyless(AccPublic|AccAbstract, "f", "()I")
	v := bootVM(t, map[string][]byte{"app/Abs": b.build()})

	cl := mustLoadClass(t, v, "app/Abs")
	m := v.LookupMethod(cl, "f", "()I")
	if m == nil {
		t.Fatal("abstract f not found")
	}
	th := hostThread(t, v)
	_, err := v.CallSynchronous(th, m, nil)
	wantThrown(t, err, ExAbstractMethod)
}
