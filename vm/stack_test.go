package vm

import (
	"testing"

	"github.com/chazu/babevm/platform"
)

// bootSmallStack boots a VM with tight stack limits so growth and
// overflow happen quickly.
func bootSmallStack(t *testing.T, classes map[string][]byte, stackCells, segCells uint32) *VM {
	t.Helper()
	if classes == nil {
		classes = map[string][]byte{}
	}
	if _, ok := classes["java/lang/Object"]; !ok {
		classes["java/lang/Object"] = objectClassBytes()
	}
	opts := DefaultOptions()
	opts.StackCells = stackCells
	opts.StackSegmentCells = segCells
	opts.BootClasspath = []platform.Entry{platform.NewMemEntry("test", classes)}
	v, err := New(opts)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	v.SetExit(func(code int) { t.Fatalf("unexpected exit %d", code) })
	if err := v.Boot(); err != nil {
		t.Fatalf("Boot: %v", err)
	}
	return v
}

func TestStackSegmentGrowth(t *testing.T) {
	b := newClassBuilder("app/Deep", "java/lang/Object")
	b.addMethod(AccPublic|AccStatic, "big", "()I", 1, 80,
		[]byte{opIconst1, opIreturn})
	v := bootSmallStack(t, map[string][]byte{"app/Deep": b.build()}, 4096, 64)

	th := hostThread(t, v)
	if th.SegmentCount() != 1 {
		t.Fatalf("segments before call = %d, want 1", th.SegmentCount())
	}
	cl := mustLoadClass(t, v, "app/Deep")
	m := v.LookupMethod(cl, "big", "()I")
	rets, err := v.CallSynchronous(th, m, nil)
	if err != nil {
		t.Fatalf("CallSynchronous: %v", err)
	}
	if got := int32(rets[0]); got != 1 {
		t.Errorf("big() = %d, want 1", got)
	}
	// An 85-cell frame cannot fit a 64-cell segment; the stack must
	// have grown.
	if th.SegmentCount() < 2 {
		t.Errorf("segments after call = %d, want at least 2", th.SegmentCount())
	}
}

func TestStackOverflow(t *testing.T) {
	b := newClassBuilder("app/Rec", "java/lang/Object")
	self := b.methodRef("app/Rec", "r", "()V")
	hi, lo := u2code(self)
	b.addMethod(AccPublic|AccStatic, "r", "()V", 1, 0,
		[]byte{opInvokestatic, hi, lo, opReturn})
	v := bootSmallStack(t, map[string][]byte{"app/Rec": b.build()}, 1024, 128)

	cl := mustLoadClass(t, v, "app/Rec")
	m := v.LookupMethod(cl, "r", "()V")
	if _, err := v.SpawnThread(m, nil, NullRef); err != nil {
		t.Fatalf("SpawnThread: %v", err)
	}
	err := v.Run()
	wantThrown(t, err, ExStackOverflow)
}

func TestOversizedFrameRejected(t *testing.T) {
	b := newClassBuilder("app/Fat", "java/lang/Object")
	b.addMethod(AccPublic|AccStatic, "f", "()V", 1, 600, []byte{opReturn})
	v := bootSmallStack(t, map[string][]byte{"app/Fat": b.build()}, 512, 128)

	cl := mustLoadClass(t, v, "app/Fat")
	m := v.LookupMethod(cl, "f", "()V")
	_, err := v.SpawnThread(m, nil, NullRef)
	wantThrown(t, err, ExStackOverflow)
}

func TestTerminationReleasesSegments(t *testing.T) {
	b := newClassBuilder("app/Deep", "java/lang/Object")
	b.addMethod(AccPublic|AccStatic, "big", "()V", 1, 80, []byte{opReturn})
	v := bootSmallStack(t, map[string][]byte{"app/Deep": b.build()}, 4096, 64)
	cl := mustLoadClass(t, v, "app/Deep")
	m := v.LookupMethod(cl, "big", "()V")
	before := v.Heap().Stats().InUseChunks

	th, err := v.SpawnThread(m, nil, NullRef)
	if err != nil {
		t.Fatalf("SpawnThread: %v", err)
	}
	if err := v.Run(); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if th.SegmentCount() != 0 {
		t.Errorf("segments after termination = %d, want 0", th.SegmentCount())
	}
	if got := v.Heap().Stats().InUseChunks; got != before {
		t.Errorf("in-use chunks = %d, want %d", got, before)
	}
}

func TestBacktraceFramesAndLines(t *testing.T) {
	b := newClassBuilder("app/Trace", "java/lang/Object")
	b.sourceFile("Trace.java")
	inner := b.methodRef("app/Trace", "inner", "()V")
	inHi, inLo := u2code(inner)
	outerIdx := b.addMethod(AccPublic|AccStatic, "outer", "()V", 1, 0,
		[]byte{opInvokestatic, inHi, inLo, opReturn})
	b.addLine(outerIdx, 0, 10)
	errClass := b.classConst("app/Err")
	ecHi, ecLo := u2code(errClass)
	errInit := b.methodRef("app/Err", "<init>", "()V")
	eiHi, eiLo := u2code(errInit)
	innerIdx := b.addMethod(AccPublic|AccStatic, "inner", "()V", 2, 0, []byte{
		opNew, ecHi, ecLo,
		opDup,
		opInvokespecial, eiHi, eiLo,
		opAthrow,
	})
	b.addLine(innerIdx, 0, 20)
	b.addLine(innerIdx, 7, 21)

	errB := newClassBuilder("app/Err", "java/lang/Object")
	objInit := errB.methodRef("java/lang/Object", "<init>", "()V")
	oiHi, oiLo := u2code(objInit)
	errB.addMethod(AccPublic, "<init>", "()V", 1, 1,
		[]byte{opAload0, opInvokespecial, oiHi, oiLo, opReturn})

	v := bootVM(t, map[string][]byte{
		"app/Trace": b.build(),
		"app/Err":   errB.build(),
	})
	cl := mustLoadClass(t, v, "app/Trace")
	m := v.LookupMethod(cl, "outer", "()V")
	if _, err := v.SpawnThread(m, nil, NullRef); err != nil {
		t.Fatalf("SpawnThread: %v", err)
	}
	err := v.Run()
	th := wantThrown(t, err, "app/Err")

	frames := v.Backtrace(th.Object)
	if len(frames) < 2 {
		t.Fatalf("backtrace has %d frames, want at least 2", len(frames))
	}
	if frames[0].MethodName != "inner" || frames[0].ClassName != "app/Trace" {
		t.Errorf("top frame = %v, want app/Trace.inner", frames[0])
	}
	if frames[0].SourceFile != "Trace.java" {
		t.Errorf("top frame source = %q, want Trace.java", frames[0].SourceFile)
	}
	if frames[0].Line != 21 {
		t.Errorf("top frame line = %d, want 21", frames[0].Line)
	}
	if frames[1].MethodName != "outer" {
		t.Errorf("second frame = %v, want outer", frames[1])
	}
}
