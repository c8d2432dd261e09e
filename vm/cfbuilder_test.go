package vm

import (
	"bytes"
	"fmt"
	"math"
)

// ---------------------------------------------------------------------------
// Test helpers: building class files
// ---------------------------------------------------------------------------

// classBuilder constructs class file images for parser, linker, and
// interpreter tests. Constant pool entries are deduplicated; wide
// entries occupy two indices as in a real file.
type classBuilder struct {
	pool    []cpTestEntry
	dedup   map[string]uint16
	access  uint16
	this    uint16
	super   uint16
	ifaces  []uint16
	fields  []testField
	methods []testMethod
	attrs   []testAttr
	major   uint16
}

type cpTestEntry struct {
	tag  uint8
	str  string
	u64  uint64
	a, b uint16
}

type testField struct {
	access   uint16
	name     uint16
	desc     uint16
	constIdx uint16
}

type testMethod struct {
	access    uint16
	name      uint16
	desc      uint16
	maxStack  uint16
	maxLocals uint16
	code      []byte
	handlers  []testHandler
	lines     [][2]uint16
}

type testHandler struct {
	start, end, handler, catchType uint16
}

type testAttr struct {
	name uint16
	data []byte
}

func newClassBuilder(name, super string) *classBuilder {
	b := &classBuilder{
		pool:   make([]cpTestEntry, 1),
		dedup:  make(map[string]uint16),
		access: AccPublic | AccSuper,
		major:  49,
	}
	b.this = b.classConst(name)
	if super != "" {
		b.super = b.classConst(super)
	}
	return b
}

func (b *classBuilder) add(key string, e cpTestEntry) uint16 {
	if idx, ok := b.dedup[key]; ok {
		return idx
	}
	idx := uint16(len(b.pool))
	b.pool = append(b.pool, e)
	if e.tag == cpLong || e.tag == cpDouble {
		b.pool = append(b.pool, cpTestEntry{})
	}
	b.dedup[key] = idx
	return idx
}

func (b *classBuilder) utf8(s string) uint16 {
	return b.add("u:"+s, cpTestEntry{tag: cpUTF8, str: s})
}

func (b *classBuilder) classConst(name string) uint16 {
	nameIdx := b.utf8(name)
	return b.add(fmt.Sprintf("c:%d", nameIdx), cpTestEntry{tag: cpClass, a: nameIdx})
}

func (b *classBuilder) stringConst(s string) uint16 {
	idx := b.utf8(s)
	return b.add(fmt.Sprintf("s:%d", idx), cpTestEntry{tag: cpString, a: idx})
}

func (b *classBuilder) intConst(v int32) uint16 {
	return b.add(fmt.Sprintf("i:%d", v), cpTestEntry{tag: cpInteger, u64: uint64(uint32(v))})
}

func (b *classBuilder) floatConst(v float32) uint16 {
	return b.add(fmt.Sprintf("f:%x", math.Float32bits(v)),
		cpTestEntry{tag: cpFloat, u64: uint64(math.Float32bits(v))})
}

func (b *classBuilder) longConst(v int64) uint16 {
	return b.add(fmt.Sprintf("j:%d", v), cpTestEntry{tag: cpLong, u64: uint64(v)})
}

func (b *classBuilder) doubleConst(v float64) uint16 {
	return b.add(fmt.Sprintf("d:%x", math.Float64bits(v)),
		cpTestEntry{tag: cpDouble, u64: math.Float64bits(v)})
}

func (b *classBuilder) nameAndType(name, desc string) uint16 {
	n, d := b.utf8(name), b.utf8(desc)
	return b.add(fmt.Sprintf("n:%d:%d", n, d), cpTestEntry{tag: cpNameAndType, a: n, b: d})
}

func (b *classBuilder) fieldRef(class, name, desc string) uint16 {
	c, nat := b.classConst(class), b.nameAndType(name, desc)
	return b.add(fmt.Sprintf("F:%d:%d", c, nat), cpTestEntry{tag: cpFieldRef, a: c, b: nat})
}

func (b *classBuilder) methodRef(class, name, desc string) uint16 {
	c, nat := b.classConst(class), b.nameAndType(name, desc)
	return b.add(fmt.Sprintf("M:%d:%d", c, nat), cpTestEntry{tag: cpMethodRef, a: c, b: nat})
}

func (b *classBuilder) ifaceMethodRef(class, name, desc string) uint16 {
	c, nat := b.classConst(class), b.nameAndType(name, desc)
	return b.add(fmt.Sprintf("I:%d:%d", c, nat), cpTestEntry{tag: cpInterfaceMethodRef, a: c, b: nat})
}

func (b *classBuilder) addInterface(name string) {
	b.ifaces = append(b.ifaces, b.classConst(name))
}

func (b *classBuilder) addField(access uint16, name, desc string) {
	b.fields = append(b.fields, testField{
		access: access,
		name:   b.utf8(name),
		desc:   b.utf8(desc),
	})
}

func (b *classBuilder) addConstField(access uint16, name, desc string, constIdx uint16) {
	b.fields = append(b.fields, testField{
		access:   access,
		name:     b.utf8(name),
		desc:     b.utf8(desc),
		constIdx: constIdx,
	})
}

// addMethod appends a method with a Code attribute and returns its
// index into b.methods for adding handlers or line tables.
func (b *classBuilder) addMethod(access uint16, name, desc string, maxStack, maxLocals uint16, code []byte) int {
	b.methods = append(b.methods, testMethod{
		access:    access,
		name:      b.utf8(name),
		desc:      b.utf8(desc),
		maxStack:  maxStack,
		maxLocals: maxLocals,
		code:      code,
	})
	return len(b.methods) - 1
}

// addBodyless appends a method with no Code attribute (abstract or
// native).
func (b *classBuilder) addBodyless(access uint16, name, desc string) {
	b.methods = append(b.methods, testMethod{
		access: access,
		name:   b.utf8(name),
		desc:   b.utf8(desc),
	})
}

func (b *classBuilder) addHandler(method int, start, end, handler uint16, catchClass string) {
	var ct uint16
	if catchClass != "" {
		ct = b.classConst(catchClass)
	}
	m := &b.methods[method]
	m.handlers = append(m.handlers, testHandler{start, end, handler, ct})
}

func (b *classBuilder) addLine(method int, pc, line uint16) {
	m := &b.methods[method]
	m.lines = append(m.lines, [2]uint16{pc, line})
}

// addRawAttr attaches an arbitrary class-level attribute, for testing
// that unknown attributes are skipped.
func (b *classBuilder) addRawAttr(name string, data []byte) {
	b.attrs = append(b.attrs, testAttr{name: b.utf8(name), data: data})
}

func (b *classBuilder) sourceFile(name string) {
	b.attrs = append(b.attrs, testAttr{name: b.utf8("SourceFile"), data: u2bytes(b.utf8(name))})
}

func u2bytes(v uint16) []byte { return []byte{byte(v >> 8), byte(v)} }

// ---------------------------------------------------------------------------
// Serialization
// ---------------------------------------------------------------------------

type cfWriter struct {
	buf bytes.Buffer
}

func (w *cfWriter) u1(v uint8)  { w.buf.WriteByte(v) }
func (w *cfWriter) u2(v uint16) { w.buf.Write([]byte{byte(v >> 8), byte(v)}) }
func (w *cfWriter) u4(v uint32) {
	w.buf.Write([]byte{byte(v >> 24), byte(v >> 16), byte(v >> 8), byte(v)})
}
func (w *cfWriter) raw(b []byte) { w.buf.Write(b) }

func (b *classBuilder) build() []byte {
	// Attribute names must be in the pool before its count is written.
	for _, f := range b.fields {
		if f.constIdx != 0 {
			b.utf8("ConstantValue")
		}
	}
	for _, m := range b.methods {
		if m.code != nil {
			b.utf8("Code")
		}
		if len(m.lines) > 0 {
			b.utf8("LineNumberTable")
		}
	}

	w := &cfWriter{}
	w.u4(classMagic)
	w.u2(0)
	w.u2(b.major)

	w.u2(uint16(len(b.pool)))
	for i := 1; i < len(b.pool); i++ {
		e := b.pool[i]
		if e.tag == 0 {
			continue // second index of a wide constant
		}
		w.u1(e.tag)
		switch e.tag {
		case cpUTF8:
			w.u2(uint16(len(e.str)))
			w.raw([]byte(e.str))
		case cpInteger, cpFloat:
			w.u4(uint32(e.u64))
		case cpLong, cpDouble:
			w.u4(uint32(e.u64 >> 32))
			w.u4(uint32(e.u64))
		case cpClass, cpString:
			w.u2(e.a)
		default:
			w.u2(e.a)
			w.u2(e.b)
		}
	}

	w.u2(b.access)
	w.u2(b.this)
	w.u2(b.super)
	w.u2(uint16(len(b.ifaces)))
	for _, idx := range b.ifaces {
		w.u2(idx)
	}

	w.u2(uint16(len(b.fields)))
	for _, f := range b.fields {
		w.u2(f.access)
		w.u2(f.name)
		w.u2(f.desc)
		if f.constIdx != 0 {
			w.u2(1)
			w.u2(b.utf8("ConstantValue"))
			w.u4(2)
			w.u2(f.constIdx)
		} else {
			w.u2(0)
		}
	}

	w.u2(uint16(len(b.methods)))
	for _, m := range b.methods {
		w.u2(m.access)
		w.u2(m.name)
		w.u2(m.desc)
		if m.code == nil {
			w.u2(0)
			continue
		}
		w.u2(1)
		w.u2(b.utf8("Code"))

		lineBytes := 0
		if len(m.lines) > 0 {
			lineBytes = 6 + 2 + 4*len(m.lines)
		}
		w.u4(uint32(2 + 2 + 4 + len(m.code) + 2 + 8*len(m.handlers) + 2 + lineBytes))
		w.u2(m.maxStack)
		w.u2(m.maxLocals)
		w.u4(uint32(len(m.code)))
		w.raw(m.code)
		w.u2(uint16(len(m.handlers)))
		for _, h := range m.handlers {
			w.u2(h.start)
			w.u2(h.end)
			w.u2(h.handler)
			w.u2(h.catchType)
		}
		if len(m.lines) > 0 {
			w.u2(1)
			w.u2(b.utf8("LineNumberTable"))
			w.u4(uint32(2 + 4*len(m.lines)))
			w.u2(uint16(len(m.lines)))
			for _, ln := range m.lines {
				w.u2(ln[0])
				w.u2(ln[1])
			}
		} else {
			w.u2(0)
		}
	}

	w.u2(uint16(len(b.attrs)))
	for _, a := range b.attrs {
		w.u2(a.name)
		w.u4(uint32(len(a.data)))
		w.raw(a.data)
	}

	return w.buf.Bytes()
}
