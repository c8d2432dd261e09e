package vm

import (
	"errors"
	"fmt"
	"os"

	"github.com/tliron/commonlog"
)

var vmLog = commonlog.GetLogger("babevm.vm")

// Fatal exit codes. These are the only ways the VM terminates the host
// process; everything else surfaces as a Java throwable or a Go error.
const (
	ExitHeapSizeBounds    = 10 // heap size outside platform bounds
	ExitCannotAllocate    = 11 // arena allocation failed at startup
	ExitOutOfMemoryBoot   = 12 // heap exhausted before the VM finished booting
	ExitInvalidChunk      = 13 // heap corruption detected
	ExitCannotReportClass = 14 // a failure's exception class cannot itself be loaded
	ExitHeapLeak          = 15 // chunks still in use at shutdown (debug builds)
	ExitUncaught          = 16 // uncaught exception with exit-on-uncaught set
)

// defaultExit is the process exit used when the embedder does not
// inject one.
var defaultExit = os.Exit

// Java exception class names thrown by the core.
const (
	ExClassFormat              = "java/lang/ClassFormatError"
	ExClassCircularity         = "java/lang/ClassCircularityError"
	ExIncompatibleClassChange  = "java/lang/IncompatibleClassChangeError"
	ExNoClassDefFound          = "java/lang/NoClassDefFoundError"
	ExClassNotFound            = "java/lang/ClassNotFoundException"
	ExVerify                   = "java/lang/VerifyError"
	ExIllegalAccess            = "java/lang/IllegalAccessError"
	ExNoSuchField              = "java/lang/NoSuchFieldError"
	ExNoSuchMethod             = "java/lang/NoSuchMethodError"
	ExNullPointer              = "java/lang/NullPointerException"
	ExArrayIndexOutOfBounds    = "java/lang/ArrayIndexOutOfBoundsException"
	ExNegativeArraySize        = "java/lang/NegativeArraySizeException"
	ExArithmetic               = "java/lang/ArithmeticException"
	ExArrayStore               = "java/lang/ArrayStoreException"
	ExClassCast                = "java/lang/ClassCastException"
	ExOutOfMemory              = "java/lang/OutOfMemoryError"
	ExStackOverflow            = "java/lang/StackOverflowError"
	ExInterrupted              = "java/lang/InterruptedException"
	ExIllegalMonitorState      = "java/lang/IllegalMonitorStateException"
	ExAbstractMethod           = "java/lang/AbstractMethodError"
	ExUnsatisfiedLink          = "java/lang/UnsatisfiedLinkError"
	ExInstantiation            = "java/lang/InstantiationError"
	ExInternal                 = "java/lang/InternalError"
)

// Thrown is a Java throwable in flight, carried on the Go error channel.
// Object is the heap reference of the throwable instance, or NullRef when
// the throwable class is not on the classpath (the name and message still
// identify the fault). The interpreter consumes Thrown errors by
// exception-table search; an embedder receives one when a fault escapes.
type Thrown struct {
	Object    Ref
	ClassName string
	Message   string
}

func (e *Thrown) Error() string {
	if e.Message == "" {
		return e.ClassName
	}
	return e.ClassName + ": " + e.Message
}

// AsThrown extracts a Java throwable from an error chain.
func AsThrown(err error) (*Thrown, bool) {
	var t *Thrown
	if errors.As(err, &t) {
		return t, true
	}
	return nil, false
}

// TraceFrame is one entry of a captured backtrace.
type TraceFrame struct {
	ClassName  string
	MethodName string
	SourceFile string
	Line       uint16
	Native     bool
}

func (f TraceFrame) String() string {
	if f.Native {
		return fmt.Sprintf("%s.%s(Native Method)", f.ClassName, f.MethodName)
	}
	if f.SourceFile == "" {
		return fmt.Sprintf("%s.%s", f.ClassName, f.MethodName)
	}
	return fmt.Sprintf("%s.%s(%s:%d)", f.ClassName, f.MethodName, f.SourceFile, f.Line)
}

// Throw raises a Java exception by class name. The throwable object is
// instantiated when the class is loadable; the backtrace is captured at
// the throw site and kept in the trace side table until the object dies.
func (vm *VM) Throw(className, msg string) error {
	th := &Thrown{ClassName: className, Message: msg}
	cl, err := vm.loadClassQuiet(NullRef, className)
	if err != nil && !vm.booted {
		// A failure this early cannot be reported as a throwable; bail
		// out before the reporting attempt recurses.
		vmLog.Criticalf("cannot load %s to report a failure before VM initialization", className)
		vm.exit(ExitCannotReportClass)
	}
	if err == nil {
		scope := vm.TransientScope()
		ref, aerr := vm.NewInstance(cl)
		if aerr == nil {
			th.Object = ref
			if t := vm.CurrentThread(); t != nil {
				vm.traces[ref] = vm.captureBacktrace(t)
			}
		}
		scope.Close()
	}
	return th
}

// throwPrebuiltOOM surfaces the out-of-memory singleton. The object is
// allocated at boot precisely so that this path never allocates.
func (vm *VM) throwPrebuiltOOM() error {
	if vm.oomSingleton != NullRef {
		return &Thrown{Object: vm.oomSingleton, ClassName: ExOutOfMemory}
	}
	if !vm.booted {
		vmLog.Critical("out of memory before VM initialization")
		vm.exit(ExitOutOfMemoryBoot)
	}
	return &Thrown{ClassName: ExOutOfMemory}
}

func (vm *VM) ThrowNullPointer() error {
	return vm.Throw(ExNullPointer, "")
}

func (vm *VM) ThrowNegativeArraySize(length int32) error {
	return vm.Throw(ExNegativeArraySize, fmt.Sprintf("%d", length))
}

func (vm *VM) ThrowArrayIndex(index, length int32) error {
	return vm.Throw(ExArrayIndexOutOfBounds, fmt.Sprintf("index %d, length %d", index, length))
}

func (vm *VM) ThrowArithmetic(msg string) error {
	return vm.Throw(ExArithmetic, msg)
}

func (vm *VM) ThrowClassCast(from, to string) error {
	return vm.Throw(ExClassCast, from+" cannot be cast to "+to)
}

func (vm *VM) ThrowArrayStore(msg string) error {
	return vm.Throw(ExArrayStore, msg)
}

func (vm *VM) ThrowIllegalMonitorState(msg string) error {
	return vm.Throw(ExIllegalMonitorState, msg)
}

func (vm *VM) ThrowStackOverflow() error {
	return vm.Throw(ExStackOverflow, "")
}

// ThrowNoClassDef reports a failed non-reflective load. The same failure
// surfaces as ClassNotFoundException through ThrowClassNotFound when the
// request was reflective.
func (vm *VM) ThrowNoClassDef(name string) error {
	return vm.Throw(ExNoClassDefFound, name)
}

func (vm *VM) ThrowClassNotFound(name string) error {
	return vm.Throw(ExClassNotFound, name)
}

// Backtrace returns the captured stack trace of a throwable object, nil
// when none was recorded.
func (vm *VM) Backtrace(ref Ref) []TraceFrame {
	return vm.traces[ref]
}
