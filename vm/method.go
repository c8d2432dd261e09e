package vm

import "fmt"

// ---------------------------------------------------------------------------
// Java types and access flags
// ---------------------------------------------------------------------------

// JType tags a Java primitive type. The numeric values are the newarray
// atype codes from the class-file format; JTypeReference is 0, which the
// format never uses.
type JType uint8

const (
	JTypeReference JType = 0
	JTypeBoolean   JType = 4
	JTypeChar      JType = 5
	JTypeFloat     JType = 6
	JTypeDouble    JType = 7
	JTypeByte      JType = 8
	JTypeShort     JType = 9
	JTypeInt       JType = 10
	JTypeLong      JType = 11
)

// width returns the packed byte width of an array element of this type.
func (t JType) width() uint32 {
	switch t {
	case JTypeBoolean, JTypeByte:
		return 1
	case JTypeChar, JTypeShort:
		return 2
	case JTypeInt, JTypeFloat, JTypeReference:
		return 4
	case JTypeLong, JTypeDouble:
		return 8
	default:
		return 0
	}
}

// wide reports whether the type occupies two cells.
func (t JType) wide() bool { return t == JTypeLong || t == JTypeDouble }

// descriptorByte returns the field-descriptor letter for a primitive type.
func (t JType) descriptorByte() byte {
	switch t {
	case JTypeBoolean:
		return 'Z'
	case JTypeChar:
		return 'C'
	case JTypeFloat:
		return 'F'
	case JTypeDouble:
		return 'D'
	case JTypeByte:
		return 'B'
	case JTypeShort:
		return 'S'
	case JTypeInt:
		return 'I'
	case JTypeLong:
		return 'J'
	default:
		return 0
	}
}

var primitiveNames = map[string]JType{
	"boolean": JTypeBoolean,
	"char":    JTypeChar,
	"float":   JTypeFloat,
	"double":  JTypeDouble,
	"byte":    JTypeByte,
	"short":   JTypeShort,
	"int":     JTypeInt,
	"long":    JTypeLong,
}

func jtypeFromDescriptor(b byte) JType {
	switch b {
	case 'Z':
		return JTypeBoolean
	case 'C':
		return JTypeChar
	case 'F':
		return JTypeFloat
	case 'D':
		return JTypeDouble
	case 'B':
		return JTypeByte
	case 'S':
		return JTypeShort
	case 'I':
		return JTypeInt
	case 'J':
		return JTypeLong
	default:
		return JTypeReference
	}
}

// Class-file access flags.
const (
	AccPublic       = 0x0001
	AccPrivate      = 0x0002
	AccProtected    = 0x0004
	AccStatic       = 0x0008
	AccFinal        = 0x0010
	AccSynchronized = 0x0020
	AccSuper        = 0x0020
	AccVolatile     = 0x0040
	AccTransient    = 0x0080
	AccNative       = 0x0100
	AccInterface    = 0x0200
	AccAbstract     = 0x0400
)

// ---------------------------------------------------------------------------
// Field
// ---------------------------------------------------------------------------

// Field is one declared field. For instance fields, offset is the cell
// offset within the object body after the class-anchor cell, assigned
// monotonically from the end of the superclass's range. For static
// fields, offset indexes the anchor chunk's static area; wide statics
// store an index into the class's wideStatics array in their cell.
type Field struct {
	access   uint16
	name     UTFID
	desc     UTFID
	offset   uint16
	wideIdx  uint16 // index into the class's wide-static storage
	isRef    bool   // descriptor begins with L or [
	wide     bool   // long or double
	constIdx uint16 // ConstantValue attribute pool index, 0 if none
	class    *Class
}

// NameID returns the UTF pool id of the field name.
func (f *Field) NameID() UTFID { return f.name }

// DescID returns the UTF pool id of the field descriptor.
func (f *Field) DescID() UTFID { return f.desc }

// Offset returns the assigned slot offset; see the type comment.
func (f *Field) Offset() uint16 { return f.offset }

// Class returns the declaring class.
func (f *Field) Class() *Class { return f.class }

func (f *Field) IsStatic() bool    { return f.access&AccStatic != 0 }
func (f *Field) IsFinal() bool     { return f.access&AccFinal != 0 }
func (f *Field) IsReference() bool { return f.isRef }
func (f *Field) IsWide() bool      { return f.wide }

// ---------------------------------------------------------------------------
// Method
// ---------------------------------------------------------------------------

// NativeFunc implements a native method. Arguments arrive as cells in
// descriptor order, the receiver first for instance methods; results are
// returned as cells (nil, one, or two for long/double). A Java exception
// is returned as a *Thrown error.
type NativeFunc func(vm *VM, t *Thread, args []Cell) ([]Cell, error)

// Method is one declared method. Code is the raw bytecode for Java
// methods and nil for native or abstract ones; a native method's function
// is resolved from the natives pool on first call and cached.
type Method struct {
	handle   uint32
	class    *Class
	access   uint16
	name     UTFID
	desc     UTFID
	argCells uint16 // from the descriptor, receiver not included
	retCells uint16 // 0, 1, or 2

	maxStack  uint16
	maxLocals uint16
	code      []byte
	native    NativeFunc
	handlers  []ExceptionHandler
	lines     []LineEntry
}

// ExceptionHandler is one exception-table entry. CatchType is a constant
// pool class index, 0 for a catch-all (finally) entry.
type ExceptionHandler struct {
	Start, End, Handler, CatchType uint16
}

// LineEntry maps a bytecode offset to a source line.
type LineEntry struct {
	PC, Line uint16
}

// Handle returns the id cells use to reference this method.
func (m *Method) Handle() uint32 { return m.handle }

// Class returns the declaring class.
func (m *Method) Class() *Class { return m.class }

// NameID returns the UTF pool id of the method name.
func (m *Method) NameID() UTFID { return m.name }

// DescID returns the UTF pool id of the method descriptor.
func (m *Method) DescID() UTFID { return m.desc }

// ArgCells returns the argument slot count from the descriptor, the
// receiver not included.
func (m *Method) ArgCells() uint16 { return m.argCells }

// RetCells returns the return slot count: 0, 1, or 2.
func (m *Method) RetCells() uint16 { return m.retCells }

// Code returns the bytecode, nil for native and abstract methods.
func (m *Method) Code() []byte { return m.code }

func (m *Method) IsStatic() bool       { return m.access&AccStatic != 0 }
func (m *Method) IsNative() bool       { return m.access&AccNative != 0 }
func (m *Method) IsAbstract() bool     { return m.access&AccAbstract != 0 }
func (m *Method) IsSynchronized() bool { return m.access&AccSynchronized != 0 }

// invokeCells returns the stack slots an invocation consumes: the
// argument cells plus one for the receiver of instance methods.
func (m *Method) invokeCells() uint16 {
	if m.IsStatic() {
		return m.argCells
	}
	return m.argCells + 1
}

// line returns the source line for a bytecode offset, or 0 when no
// line-number table was recorded.
func (m *Method) line(pc int) uint16 {
	var best uint16
	for _, e := range m.lines {
		if int(e.PC) <= pc {
			best = e.Line
		} else {
			break
		}
	}
	return best
}

// ---------------------------------------------------------------------------
// Descriptor parsing
// ---------------------------------------------------------------------------

// descriptorCells computes the argument and return slot counts of a
// method descriptor such as (I[Ljava/lang/String;J)V.
func descriptorCells(desc string) (args, rets uint16, err error) {
	if len(desc) < 3 || desc[0] != '(' {
		return 0, 0, fmt.Errorf("malformed method descriptor %q", desc)
	}
	i := 1
	for i < len(desc) && desc[i] != ')' {
		switch desc[i] {
		case 'J', 'D':
			args += 2
			i++
		case 'B', 'C', 'F', 'I', 'S', 'Z':
			args++
			i++
		case 'L':
			args++
			j := i + 1
			for j < len(desc) && desc[j] != ';' {
				j++
			}
			if j == len(desc) {
				return 0, 0, fmt.Errorf("unterminated class type in descriptor %q", desc)
			}
			i = j + 1
		case '[':
			args++
			j := i
			for j < len(desc) && desc[j] == '[' {
				j++
			}
			if j == len(desc) {
				return 0, 0, fmt.Errorf("truncated array type in descriptor %q", desc)
			}
			if desc[j] == 'L' {
				for j < len(desc) && desc[j] != ';' {
					j++
				}
				if j == len(desc) {
					return 0, 0, fmt.Errorf("unterminated class type in descriptor %q", desc)
				}
			}
			i = j + 1
		default:
			return 0, 0, fmt.Errorf("bad type char %q in descriptor %q", desc[i], desc)
		}
	}
	if i >= len(desc) || desc[i] != ')' || i+1 >= len(desc) {
		return 0, 0, fmt.Errorf("malformed method descriptor %q", desc)
	}
	switch desc[i+1] {
	case 'V':
		rets = 0
	case 'J', 'D':
		rets = 2
	default:
		rets = 1
	}
	return args, rets, nil
}
