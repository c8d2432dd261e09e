package vm

import (
	"sync"
)

// ---------------------------------------------------------------------------
// ClassState
// ---------------------------------------------------------------------------

// ClassState is the lifecycle of a class. Error and Loading can reach each
// other; the rest move strictly forward. Primitive and array classes are
// born Initialised.
type ClassState uint8

const (
	ClassError ClassState = iota
	ClassLoading
	ClassLoaded
	ClassInitialising
	ClassInitialised
)

func (s ClassState) String() string {
	switch s {
	case ClassError:
		return "error"
	case ClassLoading:
		return "loading"
	case ClassLoaded:
		return "loaded"
	case ClassInitialising:
		return "initialising"
	case ClassInitialised:
		return "initialised"
	default:
		return "invalid"
	}
}

type classKind uint8

const (
	classKindInstance classKind = iota
	classKindArray
	classKindPrimitive
)

// Class anchor chunk body layout. Cell 0 carries the magic the stack
// scanner keys on; static field cells follow the fixed cells.
const (
	anchorMagicCell  = 0
	anchorHandleCell = 1
	anchorLoaderCell = 2
	anchorStaticBase = 3
)

// ---------------------------------------------------------------------------
// Class
// ---------------------------------------------------------------------------

// Class is the internal form of a loaded class. The Go-side struct holds
// the parsed metadata; its anchor chunk in the arena holds the magic, the
// handle back to this struct, the defining-loader reference, and the
// static field cells, which is what lets the collector trace statics and
// unload classes together with their loader.
type Class struct {
	handle uint32
	state  ClassState
	access uint16
	name   UTFID
	pkg    UTFID
	super  *Class
	loader Ref // defining classloader object, NullRef for bootstrap
	mirror Ref // the java/lang/Class instance
	anchor Ref

	kind       classKind
	initThread *Thread // set while <clinit> runs, for re-entry detection

	// Instance classes.
	pool          *ConstantPool
	interfaces    []*Class
	fields        []Field // statics first, instance fields after
	methods       []Method
	instanceCells uint16 // cumulative, inherited fields included
	staticCells   uint16
	wideStatics   []int64 // storage for static long/double fields
	sourceFile    UTFID
	signature     UTFID

	// Array classes.
	elemType  JType  // component primitive tag, JTypeReference otherwise
	elemClass *Class // component class for reference/array components

	// Primitive classes.
	prim JType
}

// Handle returns the id cells use to reference this class.
func (c *Class) Handle() uint32 { return c.handle }

// State returns the lifecycle state.
func (c *Class) State() ClassState { return c.state }

// NameID returns the UTF pool id of the class name.
func (c *Class) NameID() UTFID { return c.name }

// Super returns the superclass, nil for java/lang/Object, interfaces, and
// primitives.
func (c *Class) Super() *Class { return c.super }

// Loader returns the defining classloader object, NullRef for bootstrap.
func (c *Class) Loader() Ref { return c.loader }

// Mirror returns the java/lang/Class instance for this class.
func (c *Class) Mirror() Ref { return c.mirror }

// Anchor returns the class's arena chunk.
func (c *Class) Anchor() Ref { return c.anchor }

func (c *Class) IsArray() bool     { return c.kind == classKindArray }
func (c *Class) IsPrimitive() bool { return c.kind == classKindPrimitive }
func (c *Class) IsInterface() bool { return c.access&AccInterface != 0 }
func (c *Class) IsPublic() bool    { return c.access&AccPublic != 0 }

// Methods returns the methods declared by this class.
func (c *Class) Methods() []Method { return c.methods }

// Fields returns the fields declared by this class, statics first.
func (c *Class) Fields() []Field { return c.fields }

// InstanceCells returns the body size of an instance in cells, not
// counting the leading class-anchor cell.
func (c *Class) InstanceCells() uint16 { return c.instanceCells }

// findMethod returns the method declared by c with the given name and
// descriptor, or nil. It does not walk the hierarchy; resolution does.
func (c *Class) findMethod(name, desc UTFID) *Method {
	for i := range c.methods {
		m := &c.methods[i]
		if m.name == name && m.desc == desc {
			return m
		}
	}
	return nil
}

// findField returns the field declared by c with the given name and
// descriptor, or nil.
func (c *Class) findField(name, desc UTFID) *Field {
	for i := range c.fields {
		f := &c.fields[i]
		if f.name == name && f.desc == desc {
			return f
		}
	}
	return nil
}

// subclassOf walks the superclass chain, c itself included.
func (c *Class) subclassOf(of *Class) bool {
	for k := c; k != nil; k = k.super {
		if k == of {
			return true
		}
	}
	return false
}

// implements reports whether c or any superclass lists iface, directly or
// through a superinterface.
func (c *Class) implements(iface *Class) bool {
	for k := c; k != nil; k = k.super {
		for _, i := range k.interfaces {
			if i == iface || i.implements(iface) {
				return true
			}
		}
	}
	return false
}

// samePackage reports whether two classes share a runtime package. The
// loader is part of the package identity.
func (c *Class) samePackage(other *Class) bool {
	return c.pkg == other.pkg && c.loader == other.loader
}

// ---------------------------------------------------------------------------
// Handle tables
// ---------------------------------------------------------------------------

// classTable maps cell-sized handles to class structs. Handle 0 is never
// issued, so a zero cell stays unambiguous.
type classTable struct {
	mu       sync.RWMutex
	byHandle map[uint32]*Class
	next     uint32
}

func newClassTable() *classTable {
	return &classTable{byHandle: make(map[uint32]*Class), next: 1}
}

func (t *classTable) register(c *Class) uint32 {
	t.mu.Lock()
	defer t.mu.Unlock()
	h := t.next
	t.next++
	c.handle = h
	t.byHandle[h] = c
	return h
}

func (t *classTable) lookup(h uint32) *Class {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.byHandle[h]
}

func (t *classTable) release(h uint32) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.byHandle, h)
}

func (t *classTable) len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.byHandle)
}

// methodTable maps cell-sized handles to method structs, for the saved
// method slots in stack frames and for backtrace arrays.
type methodTable struct {
	mu       sync.RWMutex
	byHandle map[uint32]*Method
	next     uint32
}

func newMethodTable() *methodTable {
	return &methodTable{byHandle: make(map[uint32]*Method), next: 1}
}

func (t *methodTable) register(m *Method) uint32 {
	t.mu.Lock()
	defer t.mu.Unlock()
	h := t.next
	t.next++
	m.handle = h
	t.byHandle[h] = m
	return h
}

func (t *methodTable) lookup(h uint32) *Method {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.byHandle[h]
}

func (t *methodTable) release(h uint32) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.byHandle, h)
}
