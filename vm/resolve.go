package vm

// Lazy resolution of symbolic constant pool references. Every entry is
// chased at most once: the first successful resolution rewrites the slot
// to its runtime form and sets the resolved bit on the tag.

// ResolveClassConst resolves a Class constant of `from` to a loaded
// class, checking that `from` may access it.
func (vm *VM) ResolveClassConst(from *Class, idx uint16) (*Class, error) {
	cp := from.pool
	if cp.isResolved(idx) {
		return vm.classes.lookup(uint32(cp.slots[idx])), nil
	}
	name := vm.utf.Name(cp.classNameUTF(idx))
	target, err := vm.LoadClass(from.loader, name)
	if err != nil {
		return nil, err
	}
	if !vm.canAccessClass(from, target) {
		return nil, vm.Throw(ExIllegalAccess,
			vm.utf.Name(from.name)+" cannot access "+name)
	}
	cp.markResolved(idx, uint64(target.handle))
	return target, nil
}

// ResolveMethodConst resolves a Methodref or InterfaceMethodref. Methods
// named on array or primitive classes resolve against java/lang/Object.
func (vm *VM) ResolveMethodConst(from *Class, idx uint16) (*Method, error) {
	cp := from.pool
	if cp.isResolved(idx) {
		return vm.methods.lookup(uint32(cp.slots[idx])), nil
	}
	classIdx, natIdx := cp.refParts(idx)
	target, err := vm.ResolveClassConst(from, classIdx)
	if err != nil {
		return nil, err
	}
	if target.IsArray() || target.IsPrimitive() {
		target = vm.classObject
	}
	name, desc := cp.natParts(natIdx)
	m := vm.lookupMethod(target, name, desc)
	if m == nil {
		return nil, vm.Throw(ExNoSuchMethod,
			vm.utf.Name(target.name)+"."+vm.utf.Name(name)+vm.utf.Name(desc))
	}
	if !vm.canAccessMember(from, m.class, m.access) {
		return nil, vm.Throw(ExIllegalAccess,
			vm.utf.Name(from.name)+" cannot access "+vm.utf.Name(target.name)+"."+vm.utf.Name(name))
	}
	cp.markResolved(idx, uint64(m.handle))
	return m, nil
}

// ResolveFieldConst resolves a Fieldref. The static/instance kind check
// belongs to the use site, where the opcode says which is wanted.
func (vm *VM) ResolveFieldConst(from *Class, idx uint16) (*Field, error) {
	cp := from.pool
	if cp.isResolved(idx) {
		handle, fieldIdx := unpackFieldLocator(cp.slots[idx])
		return &vm.classes.lookup(handle).fields[fieldIdx], nil
	}
	classIdx, natIdx := cp.refParts(idx)
	target, err := vm.ResolveClassConst(from, classIdx)
	if err != nil {
		return nil, err
	}
	name, desc := cp.natParts(natIdx)
	f := vm.lookupField(target, name, desc)
	if f == nil {
		return nil, vm.Throw(ExNoSuchField,
			vm.utf.Name(target.name)+"."+vm.utf.Name(name))
	}
	if !vm.canAccessMember(from, f.class, f.access) {
		return nil, vm.Throw(ExIllegalAccess,
			vm.utf.Name(from.name)+" cannot access "+vm.utf.Name(target.name)+"."+vm.utf.Name(name))
	}
	for i := range f.class.fields {
		if &f.class.fields[i] == f {
			cp.markResolved(idx, packFieldLocator(f.class.handle, i))
			break
		}
	}
	return f, nil
}

// ResolveStringConst resolves a String constant to its interned object.
func (vm *VM) ResolveStringConst(from *Class, idx uint16) (Ref, error) {
	cp := from.pool
	if cp.isResolved(idx) {
		return Ref(cp.slots[idx]), nil
	}
	ref, err := vm.Intern(vm.utf.Name(cp.stringUTF(idx)))
	if err != nil {
		return NullRef, err
	}
	cp.markResolved(idx, uint64(ref))
	return ref, nil
}

// lookupMethod walks class, then its interfaces, then the superclass, at
// each level matching name and descriptor.
func (vm *VM) lookupMethod(cl *Class, name, desc UTFID) *Method {
	for k := cl; k != nil; k = k.super {
		if m := k.findMethod(name, desc); m != nil {
			return m
		}
		for _, iface := range k.interfaces {
			if m := vm.lookupMethodInterface(iface, name, desc); m != nil {
				return m
			}
		}
	}
	return nil
}

func (vm *VM) lookupMethodInterface(iface *Class, name, desc UTFID) *Method {
	if m := iface.findMethod(name, desc); m != nil {
		return m
	}
	for _, super := range iface.interfaces {
		if m := vm.lookupMethodInterface(super, name, desc); m != nil {
			return m
		}
	}
	return nil
}

// lookupField walks the same order as method resolution.
func (vm *VM) lookupField(cl *Class, name, desc UTFID) *Field {
	for k := cl; k != nil; k = k.super {
		if f := k.findField(name, desc); f != nil {
			return f
		}
		for _, iface := range k.interfaces {
			if f := vm.lookupFieldInterface(iface, name, desc); f != nil {
				return f
			}
		}
	}
	return nil
}

func (vm *VM) lookupFieldInterface(iface *Class, name, desc UTFID) *Field {
	if f := iface.findField(name, desc); f != nil {
		return f
	}
	for _, super := range iface.interfaces {
		if f := vm.lookupFieldInterface(super, name, desc); f != nil {
			return f
		}
	}
	return nil
}

// selectVirtual picks the implementation of a resolved method for the
// runtime class of the receiver.
func (vm *VM) selectVirtual(receiver *Class, resolved *Method) *Method {
	if m := vm.lookupMethod(receiver, resolved.name, resolved.desc); m != nil {
		return m
	}
	return resolved
}

// ---------------------------------------------------------------------------
// Accessibility
// ---------------------------------------------------------------------------

// canAccessClass reports whether from may reference to: itself, any
// public class, or a class in the same runtime package.
func (vm *VM) canAccessClass(from, to *Class) bool {
	return from == to || to.IsPublic() || from.samePackage(to)
}

// canAccessMember applies JVMS member access: public always; private
// only within the declaring class; protected from subclasses or the same
// package; default within the package.
func (vm *VM) canAccessMember(from, declaring *Class, access uint16) bool {
	switch {
	case access&AccPublic != 0:
		return true
	case access&AccPrivate != 0:
		return from == declaring
	case access&AccProtected != 0:
		return from.subclassOf(declaring) || from.samePackage(declaring)
	default:
		return from.samePackage(declaring)
	}
}

// ---------------------------------------------------------------------------
// Assignability
// ---------------------------------------------------------------------------

// CanAssign reports whether a value of class src may be stored where dst
// is expected, per the JVMS assignability rules.
func (vm *VM) CanAssign(src, dst *Class) bool {
	if src == dst || dst == vm.classObject {
		return true
	}
	if src.IsPrimitive() || dst.IsPrimitive() {
		return false
	}
	if src.IsArray() {
		// Arrays implement exactly these two marker interfaces.
		switch vm.utf.Name(dst.name) {
		case "java/lang/Cloneable", "java/io/Serializable":
			return true
		}
		if !dst.IsArray() {
			return false
		}
		if src.elemType != JTypeReference || dst.elemType != JTypeReference {
			return src.elemType == dst.elemType
		}
		return vm.CanAssign(src.elemClass, dst.elemClass)
	}
	if dst.IsArray() {
		return false
	}
	if dst.IsInterface() {
		return src.implements(dst)
	}
	return src.subclassOf(dst)
}
