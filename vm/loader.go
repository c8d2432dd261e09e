package vm

import (
	"errors"
	"fmt"
	"strings"

	"github.com/tliron/commonlog"
)

var loaderLog = commonlog.GetLogger("babevm.loader")

// errClassNotFound reports that no classpath entry supplied bytes for a
// name. Callers translate it into NoClassDefFoundError or
// ClassNotFoundException depending on how the request arrived.
var errClassNotFound = errors.New("class not found")

// LoadClass finds or defines the class of the given name in the namespace
// of the given loader, delegating parent-first. Failure to locate the
// class surfaces as NoClassDefFoundError; use LoadClassReflective for the
// reflective variant.
func (vm *VM) LoadClass(loader Ref, name string) (*Class, error) {
	cl, err := vm.loadClass0(loader, name)
	if errors.Is(err, errClassNotFound) {
		return nil, vm.ThrowNoClassDef(name)
	}
	return cl, err
}

// LoadClassReflective is LoadClass for reflective requests
// (Class.forName, loadClass): the same failure surfaces as
// ClassNotFoundException.
func (vm *VM) LoadClassReflective(loader Ref, name string) (*Class, error) {
	cl, err := vm.loadClass0(loader, name)
	if errors.Is(err, errClassNotFound) {
		return nil, vm.ThrowClassNotFound(name)
	}
	return cl, err
}

// loadClassQuiet is LoadClass without throwable construction: a missing
// class comes back as the errClassNotFound sentinel. The throw paths use
// it to load exception classes without recursing.
func (vm *VM) loadClassQuiet(loader Ref, name string) (*Class, error) {
	return vm.loadClass0(loader, name)
}

func (vm *VM) loadClass0(loader Ref, name string) (*Class, error) {
	if name == "" {
		return nil, errClassNotFound
	}

	// Reserved namespaces always belong to the bootstrap loader, no
	// matter who asks. This is a security boundary, not an optimization.
	if strings.HasPrefix(name, "java/") || strings.HasPrefix(name, "babe/") {
		loader = NullRef
	}

	if name[0] == '[' {
		return vm.loadArrayClass(loader, name)
	}
	if prim, ok := primitiveNames[name]; ok && !strings.ContainsRune(name, '/') {
		return vm.loadPrimitiveClass(name, prim)
	}

	id := vm.utf.Intern(name)
	if cl, ok := vm.pool[classKey{loader, id}]; ok {
		return vm.poolHit(cl, name)
	}

	info := vm.loaderOf(loader)
	if info == nil {
		return nil, fmt.Errorf("%w: unregistered classloader %#x", errClassNotFound, loader)
	}

	// Parent-first delegation: only when the whole parent chain misses
	// does this loader search its own classpath.
	if loader != NullRef {
		cl, err := vm.loadClass0(info.parent, name)
		if err == nil {
			return cl, nil
		}
		if !errors.Is(err, errClassNotFound) {
			return nil, err
		}
	}

	data := vm.locateClassBytes(info, name)
	if data == nil {
		return nil, fmt.Errorf("%w: %s", errClassNotFound, name)
	}
	return vm.DefineClass(loader, name, data)
}

// poolHit applies the lifecycle rules to a class already in the pool.
func (vm *VM) poolHit(cl *Class, name string) (*Class, error) {
	switch cl.state {
	case ClassError:
		return nil, vm.ThrowNoClassDef(name)
	case ClassLoading:
		// The VM is single-threaded, so a Loading entry can only mean the
		// current load chain re-entered itself.
		return nil, vm.Throw(ExClassCircularity, name)
	default:
		return cl, nil
	}
}

// locateClassBytes walks the loader's classpath in order; the first entry
// that produces a buffer wins.
func (vm *VM) locateClassBytes(info *loaderInfo, name string) []byte {
	for _, entry := range info.path {
		data, err := entry.ClassBytes(name)
		if err != nil {
			loaderLog.Warningf("classpath entry %v: %s: %v", entry, name, err)
			continue
		}
		if data != nil {
			return data
		}
	}
	return nil
}

// ---------------------------------------------------------------------------
// Defining classes from bytes
// ---------------------------------------------------------------------------

// DefineClass parses, links, and registers a class from a class-file
// image in the namespace of the given loader. The partially built class
// is a transient root throughout, and is left in the pool in the Error
// state if any phase fails.
func (vm *VM) DefineClass(loader Ref, name string, data []byte) (*Class, error) {
	cf, err := parseClassFile(data, vm.utf)
	if err != nil {
		return nil, vm.Throw(ExClassFormat, err.Error())
	}

	ownName := vm.utf.Name(cf.pool.classNameUTF(cf.thisClass))
	if name != "" && ownName != name {
		return nil, vm.ThrowNoClassDef(
			fmt.Sprintf("%s (wrong name: %s)", name, ownName))
	}

	id := vm.utf.Intern(ownName)
	if _, ok := vm.pool[classKey{loader, id}]; ok {
		return nil, vm.Throw(ExNoClassDefFound, ownName+" (duplicate definition)")
	}

	c := &Class{
		state:      ClassLoading,
		access:     cf.access,
		name:       id,
		pkg:        vm.utf.Intern(packageOf(ownName)),
		loader:     loader,
		kind:       classKindInstance,
		pool:       cf.pool,
		sourceFile: cf.sourceFile,
		signature:  cf.signature,
	}
	vm.classes.register(c)
	vm.pool[classKey{loader, id}] = c

	scope := vm.TransientScope()
	defer scope.Close()

	if err := vm.linkClass(c, cf, ownName); err != nil {
		c.state = ClassError
		return nil, err
	}

	c.state = ClassLoaded
	vm.noteWellKnown(c, ownName)
	loaderLog.Debugf("loaded %s (loader=%#x, %d fields, %d methods)",
		ownName, loader, len(c.fields), len(c.methods))
	return c, nil
}

func (vm *VM) linkClass(c *Class, cf *classFile, ownName string) error {
	// Superclass first; everything below may reach through it.
	if cf.superClass == 0 {
		if ownName != "java/lang/Object" {
			return vm.Throw(ExClassFormat, ownName+" has no superclass")
		}
	} else {
		superName := vm.utf.Name(cf.pool.classNameUTF(cf.superClass))
		super, err := vm.LoadClass(c.loader, superName)
		if err != nil {
			return err
		}
		if super.IsInterface() {
			return vm.Throw(ExIncompatibleClassChange, ownName+" extends interface "+superName)
		}
		c.super = super
	}

	c.interfaces = make([]*Class, len(cf.interfaces))
	for i, idx := range cf.interfaces {
		ifaceName := vm.utf.Name(cf.pool.classNameUTF(idx))
		iface, err := vm.LoadClass(c.loader, ifaceName)
		if err != nil {
			return err
		}
		if !iface.IsInterface() {
			return vm.Throw(ExIncompatibleClassChange, ifaceName+" is not an interface")
		}
		c.interfaces[i] = iface
	}

	if err := vm.layoutFields(c, cf); err != nil {
		return err
	}
	if err := vm.buildMethods(c, cf); err != nil {
		return err
	}

	// The anchor chunk carries the magic, the handle back to the Go
	// struct, the loader, and the static cells; it is what the collector
	// traces and what instances point at.
	anchor, err := vm.heap.AllocateCells(anchorStaticBase+uint32(c.staticCells), AllocInstanceClazz)
	if err != nil {
		return err
	}
	c.anchor = anchor
	vm.heap.setCell(anchor, anchorMagicCell, classMagic)
	vm.heap.setCell(anchor, anchorHandleCell, c.handle)
	vm.heap.setCell(anchor, anchorLoaderCell, c.loader)
	vm.PushTransient(anchor)

	if err := vm.assignConstantValues(c); err != nil {
		return err
	}
	return vm.adoptClass(c)
}

// packageOf returns the package prefix of a slash-separated class name.
func packageOf(name string) string {
	if i := strings.LastIndexByte(name, '/'); i >= 0 {
		return name[:i]
	}
	return ""
}

// layoutFields assigns field offsets: statics lead the field array and
// index the anchor's static area; instance fields follow, their offsets
// continuing from the end of the superclass's range. Wide instance
// fields take two cells; wide statics take one anchor cell routing into
// the class's wide-static storage.
func (vm *VM) layoutFields(c *Class, cf *classFile) error {
	instanceBase := uint16(0)
	if c.super != nil {
		instanceBase = c.super.instanceCells
	}

	c.fields = make([]Field, 0, len(cf.fields))
	for _, m := range cf.fields {
		if m.access&AccStatic != 0 {
			c.fields = append(c.fields, vm.makeField(c, m))
		}
	}
	for _, m := range cf.fields {
		if m.access&AccStatic == 0 {
			c.fields = append(c.fields, vm.makeField(c, m))
		}
	}

	var static, instance uint16
	for i := range c.fields {
		f := &c.fields[i]
		if f.IsStatic() {
			f.offset = static
			static++
			if f.wide {
				// Wide statics route through the class's auxiliary long
				// storage; the anchor cell stays reserved but unused.
				f.wideIdx = uint16(len(c.wideStatics))
				c.wideStatics = append(c.wideStatics, 0)
			}
		} else {
			f.offset = instanceBase + instance
			if f.wide {
				instance += 2
			} else {
				instance++
			}
		}
	}
	c.staticCells = static
	c.instanceCells = instanceBase + instance
	return nil
}

func (vm *VM) makeField(c *Class, m memberInfo) Field {
	desc := vm.utf.Name(m.desc)
	return Field{
		access:   m.access,
		name:     m.name,
		desc:     m.desc,
		isRef:    len(desc) > 0 && (desc[0] == 'L' || desc[0] == '['),
		wide:     desc == "J" || desc == "D",
		constIdx: m.constIdx,
		class:    c,
	}
}

func (vm *VM) buildMethods(c *Class, cf *classFile) error {
	c.methods = make([]Method, len(cf.methods))
	for i, m := range cf.methods {
		args, rets, err := descriptorCells(vm.utf.Name(m.desc))
		if err != nil {
			return vm.Throw(ExClassFormat, err.Error())
		}
		mm := &c.methods[i]
		*mm = Method{
			class:    c,
			access:   m.access,
			name:     m.name,
			desc:     m.desc,
			argCells: args,
			retCells: rets,
		}
		if m.code != nil {
			if m.access&(AccNative|AccAbstract) != 0 {
				return vm.Throw(ExClassFormat, "native or abstract method with Code")
			}
			mm.maxStack = m.code.maxStack
			mm.maxLocals = m.code.maxLocals
			mm.code = m.code.code
			mm.handlers = m.code.handlers
			mm.lines = m.code.lines
		} else if m.access&(AccNative|AccAbstract) == 0 {
			return vm.Throw(ExClassFormat, "method without Code")
		}
		vm.methods.register(mm)
	}
	return nil
}

// assignConstantValues writes load-time constants into static final
// fields: primitives from the pool, strings interned.
func (vm *VM) assignConstantValues(c *Class) error {
	for i := range c.fields {
		f := &c.fields[i]
		if !f.IsStatic() || !f.IsFinal() || f.constIdx == 0 {
			continue
		}
		switch c.pool.Tag(f.constIdx) {
		case cpInteger, cpFloat:
			vm.SetStatic(f, Cell(c.pool.slots[f.constIdx]))
		case cpLong, cpDouble:
			vm.SetStaticWide(f, int64(c.pool.slots[f.constIdx]))
		case cpString:
			ref, err := vm.Intern(vm.utf.Name(c.pool.stringUTF(f.constIdx)))
			if err != nil {
				return err
			}
			vm.SetStatic(f, ref)
		default:
			return vm.Throw(ExClassFormat, "bad ConstantValue tag")
		}
	}
	return nil
}

// noteWellKnown caches classes the core keys behaviour on as they load.
func (vm *VM) noteWellKnown(c *Class, name string) {
	switch name {
	case "java/lang/Object":
		vm.classObject = c
	case "java/lang/Class":
		vm.classClass = c
		vm.retrofitMirrors()
	case "java/lang/String":
		vm.classString = c
	case "java/lang/Throwable":
		vm.throwable = c
	case "java/lang/ref/WeakReference":
		vm.weakRefClass = c
	case "java/lang/Cloneable":
		vm.cloneable = c
	case "java/io/Serializable":
		vm.serializable = c
	}
}

// retrofitMirrors stamps the real java/lang/Class anchor into mirrors
// allocated before that class was loadable.
func (vm *VM) retrofitMirrors() {
	for _, c := range vm.pool {
		if c.mirror != NullRef && vm.heap.cell(c.mirror, objClassCell) == NullRef {
			vm.heap.setCell(c.mirror, objClassCell, vm.classClass.anchor)
		}
	}
}

// ---------------------------------------------------------------------------
// Mirrors and registration
// ---------------------------------------------------------------------------

// adoptClass gives a linked class its mirror and roots it: bootstrap
// classes pin their anchor and mirror permanently; user-loader classes
// enter the loader's auto-growing mirror array, so they live exactly as
// long as the loader.
func (vm *VM) adoptClass(c *Class) error {
	mirror, err := vm.newMirror(c)
	if err != nil {
		return err
	}
	c.mirror = mirror
	vm.PushTransient(mirror)

	info := vm.loaderOf(c.loader)
	info.classes = append(info.classes, c)
	if c.loader == NullRef {
		vm.PushPermanent(c.anchor)
		vm.PushPermanent(mirror)
		return nil
	}
	return vm.appendMirror(info, mirror)
}

// newMirror allocates the java/lang/Class instance for a class. The
// mirrored class's anchor sits in one extra cell after the declared
// fields; mirrors allocated before java/lang/Class loads get a null
// class cell, fixed up by retrofitMirrors.
func (vm *VM) newMirror(c *Class) (Ref, error) {
	var fieldCells uint32
	var classAnchor Ref
	if vm.classClass != nil {
		fieldCells = uint32(vm.classClass.instanceCells)
		classAnchor = vm.classClass.anchor
	}
	ref, err := vm.heap.AllocateCells(objFieldBase+fieldCells+1, AllocObject)
	if err != nil {
		return NullRef, err
	}
	vm.heap.setCell(ref, objClassCell, classAnchor)
	vm.heap.setCell(ref, objFieldBase+fieldCells, c.anchor)
	return ref, nil
}

// MirrorClass maps a java/lang/Class instance back to the class it
// mirrors. The anchor is the last body cell, past the declared fields.
func (vm *VM) MirrorClass(mirror Ref) *Class {
	anchor := vm.heap.cell(mirror, vm.heap.bodyCells(mirror)-1)
	if anchor == NullRef {
		return nil
	}
	return vm.classAt(anchor)
}

// appendMirror grows the loader's mirror array by doubling when full.
func (vm *VM) appendMirror(info *loaderInfo, mirror Ref) error {
	capacity := int32(0)
	if info.mirrors != NullRef {
		capacity = vm.ArrayLength(info.mirrors)
	}
	if info.filled == capacity {
		newCap := capacity * 2
		if newCap == 0 {
			newCap = 4
		}
		grown, err := vm.NewRefArray(vm.classObject, newCap)
		if err != nil {
			return err
		}
		for i := int32(0); i < info.filled; i++ {
			vm.RefArraySet(grown, i, vm.RefArrayGet(info.mirrors, i))
		}
		info.mirrors = grown
	}
	vm.RefArraySet(info.mirrors, info.filled, mirror)
	info.filled++
	return nil
}

// unregisterClass drops a dead class from the pool and the handle
// tables. The collector calls it while sweeping the class's anchor.
func (vm *VM) unregisterClass(c *Class) {
	delete(vm.pool, classKey{c.loader, c.name})
	vm.classes.release(c.handle)
	for i := range c.methods {
		vm.methods.release(c.methods[i].handle)
	}
	if info := vm.loaderOf(c.loader); info != nil {
		for i, k := range info.classes {
			if k == c {
				info.classes = append(info.classes[:i], info.classes[i+1:]...)
				break
			}
		}
	}
	loaderLog.Debugf("unloaded %s", vm.utf.Name(c.name))
}

// ---------------------------------------------------------------------------
// Primitive classes
// ---------------------------------------------------------------------------

// loadPrimitiveClass synthesizes the class of a primitive type. All
// primitive classes belong to the bootstrap loader and are born
// initialised.
func (vm *VM) loadPrimitiveClass(name string, prim JType) (*Class, error) {
	id := vm.utf.Intern(name)
	if cl, ok := vm.pool[classKey{NullRef, id}]; ok {
		return cl, nil
	}

	c := &Class{
		state:  ClassInitialised,
		access: AccPublic | AccFinal,
		name:   id,
		loader: NullRef,
		kind:   classKindPrimitive,
		prim:   prim,
	}
	vm.classes.register(c)

	scope := vm.TransientScope()
	defer scope.Close()

	anchor, err := vm.heap.AllocateCells(anchorStaticBase, AllocPrimitiveClazz)
	if err != nil {
		vm.classes.release(c.handle)
		return nil, err
	}
	c.anchor = anchor
	vm.heap.setCell(anchor, anchorMagicCell, classMagic)
	vm.heap.setCell(anchor, anchorHandleCell, c.handle)
	vm.PushTransient(anchor)

	vm.pool[classKey{NullRef, id}] = c
	if err := vm.adoptClass(c); err != nil {
		c.state = ClassError
		return nil, err
	}
	vm.primClasses[prim] = c
	return c, nil
}

// ---------------------------------------------------------------------------
// Array classes
// ---------------------------------------------------------------------------

// loadArrayClass synthesizes an array class from a descriptor-form name
// beginning with '['. Arrays of primitive component belong to the
// bootstrap loader; reference arrays are defined by the component's
// defining loader.
func (vm *VM) loadArrayClass(loader Ref, name string) (*Class, error) {
	rest := name[1:]
	if rest == "" {
		return nil, fmt.Errorf("%w: %s", errClassNotFound, name)
	}

	var elemType JType
	var elemClass *Class
	switch {
	case rest[0] == '[':
		inner, err := vm.loadClass0(loader, rest)
		if err != nil {
			return nil, err
		}
		elemType, elemClass, loader = JTypeReference, inner, inner.loader
	case rest[0] == 'L' && strings.HasSuffix(rest, ";"):
		inner, err := vm.loadClass0(loader, rest[1:len(rest)-1])
		if err != nil {
			return nil, err
		}
		elemType, elemClass, loader = JTypeReference, inner, inner.loader
	default:
		elemType = jtypeFromDescriptor(rest[0])
		if elemType == JTypeReference || len(rest) != 1 {
			return nil, fmt.Errorf("%w: %s", errClassNotFound, name)
		}
		loader = NullRef
	}

	id := vm.utf.Intern(name)
	if cl, ok := vm.pool[classKey{loader, id}]; ok {
		return cl, nil
	}

	c := &Class{
		state:     ClassInitialised,
		access:    AccPublic | AccFinal,
		name:      id,
		loader:    loader,
		kind:      classKindArray,
		super:     vm.classObject,
		elemType:  elemType,
		elemClass: elemClass,
	}
	vm.classes.register(c)

	scope := vm.TransientScope()
	defer scope.Close()

	anchor, err := vm.heap.AllocateCells(anchorStaticBase, AllocArrayClazz)
	if err != nil {
		vm.classes.release(c.handle)
		return nil, err
	}
	c.anchor = anchor
	vm.heap.setCell(anchor, anchorMagicCell, classMagic)
	vm.heap.setCell(anchor, anchorHandleCell, c.handle)
	vm.heap.setCell(anchor, anchorLoaderCell, loader)
	vm.PushTransient(anchor)

	vm.pool[classKey{loader, id}] = c
	if err := vm.adoptClass(c); err != nil {
		c.state = ClassError
		return nil, err
	}
	return c, nil
}

// arrayClassOf finds or synthesizes the array class for a component,
// mangling the descriptor-form name.
func (vm *VM) arrayClassOf(elem JType, component *Class, loader Ref) (*Class, error) {
	var name string
	if elem != JTypeReference {
		name = "[" + string(elem.descriptorByte())
	} else {
		compName := vm.utf.Name(component.name)
		if compName[0] == '[' {
			name = "[" + compName
		} else {
			name = "[L" + compName + ";"
		}
	}
	return vm.LoadClass(loader, name)
}
