package vm

import (
	"errors"
	"fmt"
)

// Class file version range accepted by the linker. 45 is JDK 1.0.2; 52
// is Java 8, the last version before the constant pool grew forms this
// interpreter does not execute.
const (
	// JVMS 4.7.3: code_length must be less than 65536.
	maxCodeBytes = 65535
)

var (
	ErrClassMagic     = errors.New("bad class file magic")
	ErrClassTruncated = errors.New("class file truncated")
	ErrClassFormat    = errors.New("malformed class file")
)

// classFile is the raw parse result handed to the linker. Indices are
// constant pool indices; names and descriptors are already interned.
type classFile struct {
	minor, major uint16
	pool         *ConstantPool
	access       uint16
	thisClass    uint16
	superClass   uint16
	interfaces   []uint16
	fields       []memberInfo
	methods      []memberInfo
	sourceFile   UTFID
	signature    UTFID
}

type memberInfo struct {
	access    uint16
	name      UTFID
	desc      UTFID
	constIdx  uint16
	signature UTFID
	code      *codeInfo
}

type codeInfo struct {
	maxStack  uint16
	maxLocals uint16
	code      []byte
	handlers  []ExceptionHandler
	lines     []LineEntry
}

// classReader walks a class file image with bounds checks. All
// quantities are big-endian per JVMS 4.1.
type classReader struct {
	data   []byte
	offset int
	utf    *UTFPool
}

func (r *classReader) u1() (uint8, error) {
	if r.offset+1 > len(r.data) {
		return 0, ErrClassTruncated
	}
	v := r.data[r.offset]
	r.offset++
	return v, nil
}

func (r *classReader) u2() (uint16, error) {
	if r.offset+2 > len(r.data) {
		return 0, ErrClassTruncated
	}
	v := uint16(r.data[r.offset])<<8 | uint16(r.data[r.offset+1])
	r.offset += 2
	return v, nil
}

func (r *classReader) u4() (uint32, error) {
	if r.offset+4 > len(r.data) {
		return 0, ErrClassTruncated
	}
	v := uint32(r.data[r.offset])<<24 | uint32(r.data[r.offset+1])<<16 |
		uint32(r.data[r.offset+2])<<8 | uint32(r.data[r.offset+3])
	r.offset += 4
	return v, nil
}

func (r *classReader) bytes(n int) ([]byte, error) {
	if n < 0 || r.offset+n > len(r.data) {
		return nil, ErrClassTruncated
	}
	b := r.data[r.offset : r.offset+n]
	r.offset += n
	return b, nil
}

func (r *classReader) skip(n int) error {
	if n < 0 || r.offset+n > len(r.data) {
		return ErrClassTruncated
	}
	r.offset += n
	return nil
}

// parseClassFile parses and structurally validates a class file image.
// Names and descriptors are interned into utf as they are read; all
// constant pool cross-references are checked here so the interpreter
// and resolver can index the pool without rechecking.
func parseClassFile(data []byte, utf *UTFPool) (*classFile, error) {
	r := &classReader{data: data, utf: utf}

	magic, err := r.u4()
	if err != nil {
		return nil, fmt.Errorf("failed to read magic: %w", err)
	}
	if magic != classMagic {
		return nil, fmt.Errorf("%w: got 0x%08X", ErrClassMagic, magic)
	}

	cf := &classFile{}
	if cf.minor, err = r.u2(); err != nil {
		return nil, fmt.Errorf("failed to read minor version: %w", err)
	}
	if cf.major, err = r.u2(); err != nil {
		return nil, fmt.Errorf("failed to read major version: %w", err)
	}
	// The version pair is recorded but never enforced; only debugger
	// tooling is interested in it.

	if cf.pool, err = r.readConstantPool(); err != nil {
		return nil, err
	}

	if cf.access, err = r.u2(); err != nil {
		return nil, fmt.Errorf("failed to read access flags: %w", err)
	}
	if cf.thisClass, err = r.u2(); err != nil {
		return nil, fmt.Errorf("failed to read this_class: %w", err)
	}
	if err := checkPoolTag(cf.pool, cf.thisClass, cpClass); err != nil {
		return nil, fmt.Errorf("this_class: %w", err)
	}
	if cf.superClass, err = r.u2(); err != nil {
		return nil, fmt.Errorf("failed to read super_class: %w", err)
	}
	if cf.superClass != 0 {
		if err := checkPoolTag(cf.pool, cf.superClass, cpClass); err != nil {
			return nil, fmt.Errorf("super_class: %w", err)
		}
	}

	ifCount, err := r.u2()
	if err != nil {
		return nil, fmt.Errorf("failed to read interfaces count: %w", err)
	}
	cf.interfaces = make([]uint16, ifCount)
	for i := range cf.interfaces {
		idx, err := r.u2()
		if err != nil {
			return nil, fmt.Errorf("failed to read interface %d: %w", i, err)
		}
		if err := checkPoolTag(cf.pool, idx, cpClass); err != nil {
			return nil, fmt.Errorf("interface %d: %w", i, err)
		}
		cf.interfaces[i] = idx
	}

	if cf.fields, err = r.readMembers(cf.pool, "field"); err != nil {
		return nil, err
	}
	if cf.methods, err = r.readMembers(cf.pool, "method"); err != nil {
		return nil, err
	}

	attrCount, err := r.u2()
	if err != nil {
		return nil, fmt.Errorf("failed to read class attribute count: %w", err)
	}
	for i := uint16(0); i < attrCount; i++ {
		name, length, err := r.attrHeader(cf.pool)
		if err != nil {
			return nil, fmt.Errorf("class attribute %d: %w", i, err)
		}
		switch utf.Name(name) {
		case "SourceFile":
			idx, err := r.u2()
			if err != nil {
				return nil, fmt.Errorf("SourceFile: %w", err)
			}
			if err := checkPoolTag(cf.pool, idx, cpUTF8); err != nil {
				return nil, fmt.Errorf("SourceFile: %w", err)
			}
			cf.sourceFile = cf.pool.UTF(idx)
		case "Signature":
			idx, err := r.u2()
			if err != nil {
				return nil, fmt.Errorf("Signature: %w", err)
			}
			if err := checkPoolTag(cf.pool, idx, cpUTF8); err != nil {
				return nil, fmt.Errorf("Signature: %w", err)
			}
			cf.signature = cf.pool.UTF(idx)
		default:
			if err := r.skip(int(length)); err != nil {
				return nil, fmt.Errorf("class attribute %d: %w", i, err)
			}
		}
	}

	if r.offset != len(r.data) {
		return nil, fmt.Errorf("%w: %d trailing bytes", ErrClassFormat, len(r.data)-r.offset)
	}
	return cf, nil
}

// readConstantPool reads the pool in two passes: entries first, with
// UTF8 interned as read, then cross-reference validation once every
// index's tag is known.
func (r *classReader) readConstantPool() (*ConstantPool, error) {
	count, err := r.u2()
	if err != nil {
		return nil, fmt.Errorf("failed to read constant pool count: %w", err)
	}
	if count == 0 {
		return nil, fmt.Errorf("%w: zero constant pool count", ErrClassFormat)
	}
	pool := newConstantPool(count)

	for i := uint16(1); i < count; i++ {
		tag, err := r.u1()
		if err != nil {
			return nil, fmt.Errorf("failed to read constant %d tag: %w", i, err)
		}
		switch tag {
		case cpUTF8:
			n, err := r.u2()
			if err != nil {
				return nil, fmt.Errorf("failed to read constant %d length: %w", i, err)
			}
			b, err := r.bytes(int(n))
			if err != nil {
				return nil, fmt.Errorf("failed to read constant %d bytes: %w", i, err)
			}
			pool.set(i, tag, uint64(r.utf.Intern(string(b))))
		case cpInteger, cpFloat:
			v, err := r.u4()
			if err != nil {
				return nil, fmt.Errorf("failed to read constant %d: %w", i, err)
			}
			pool.set(i, tag, uint64(v))
		case cpLong, cpDouble:
			hi, err := r.u4()
			if err != nil {
				return nil, fmt.Errorf("failed to read constant %d: %w", i, err)
			}
			lo, err := r.u4()
			if err != nil {
				return nil, fmt.Errorf("failed to read constant %d: %w", i, err)
			}
			pool.set(i, tag, uint64(hi)<<32|uint64(lo))
			// Longs and doubles take two indices; the second stays tag 0.
			i++
			if i >= count {
				return nil, fmt.Errorf("%w: wide constant at last pool index", ErrClassFormat)
			}
		case cpClass, cpString:
			idx, err := r.u2()
			if err != nil {
				return nil, fmt.Errorf("failed to read constant %d: %w", i, err)
			}
			pool.set(i, tag, uint64(idx))
		case cpFieldRef, cpMethodRef, cpInterfaceMethodRef, cpNameAndType:
			hi, err := r.u2()
			if err != nil {
				return nil, fmt.Errorf("failed to read constant %d: %w", i, err)
			}
			lo, err := r.u2()
			if err != nil {
				return nil, fmt.Errorf("failed to read constant %d: %w", i, err)
			}
			pool.set(i, tag, packRef(hi, lo))
		default:
			return nil, fmt.Errorf("%w: constant %d has tag %d", ErrClassFormat, i, tag)
		}
	}

	for i := uint16(1); i < count; i++ {
		switch pool.Tag(i) {
		case cpClass, cpString:
			if err := checkPoolTag(pool, uint16(pool.slots[i]), cpUTF8); err != nil {
				return nil, fmt.Errorf("constant %d: %w", i, err)
			}
		case cpFieldRef, cpMethodRef, cpInterfaceMethodRef:
			classIdx, natIdx := pool.refParts(i)
			if err := checkPoolTag(pool, classIdx, cpClass); err != nil {
				return nil, fmt.Errorf("constant %d: %w", i, err)
			}
			if err := checkPoolTag(pool, natIdx, cpNameAndType); err != nil {
				return nil, fmt.Errorf("constant %d: %w", i, err)
			}
		case cpNameAndType:
			if err := checkPoolTag(pool, uint16(pool.slots[i]>>16), cpUTF8); err != nil {
				return nil, fmt.Errorf("constant %d: %w", i, err)
			}
			if err := checkPoolTag(pool, uint16(pool.slots[i]), cpUTF8); err != nil {
				return nil, fmt.Errorf("constant %d: %w", i, err)
			}
		}
	}
	return pool, nil
}

func checkPoolTag(pool *ConstantPool, i uint16, tag uint8) error {
	if i == 0 || i >= pool.Count() {
		return fmt.Errorf("%w: constant index %d out of range", ErrClassFormat, i)
	}
	if pool.Tag(i) != tag {
		return fmt.Errorf("%w: constant %d has tag %d, want %d", ErrClassFormat, i, pool.Tag(i), tag)
	}
	return nil
}

// readMembers reads a fields or methods table.
func (r *classReader) readMembers(pool *ConstantPool, kind string) ([]memberInfo, error) {
	count, err := r.u2()
	if err != nil {
		return nil, fmt.Errorf("failed to read %s count: %w", kind, err)
	}
	members := make([]memberInfo, count)
	for i := range members {
		m := &members[i]
		if m.access, err = r.u2(); err != nil {
			return nil, fmt.Errorf("failed to read %s %d access: %w", kind, i, err)
		}
		nameIdx, err := r.u2()
		if err != nil {
			return nil, fmt.Errorf("failed to read %s %d name: %w", kind, i, err)
		}
		if err := checkPoolTag(pool, nameIdx, cpUTF8); err != nil {
			return nil, fmt.Errorf("%s %d name: %w", kind, i, err)
		}
		m.name = pool.UTF(nameIdx)
		descIdx, err := r.u2()
		if err != nil {
			return nil, fmt.Errorf("failed to read %s %d descriptor: %w", kind, i, err)
		}
		if err := checkPoolTag(pool, descIdx, cpUTF8); err != nil {
			return nil, fmt.Errorf("%s %d descriptor: %w", kind, i, err)
		}
		m.desc = pool.UTF(descIdx)

		attrCount, err := r.u2()
		if err != nil {
			return nil, fmt.Errorf("failed to read %s %d attribute count: %w", kind, i, err)
		}
		for j := uint16(0); j < attrCount; j++ {
			name, length, err := r.attrHeader(pool)
			if err != nil {
				return nil, fmt.Errorf("%s %d attribute %d: %w", kind, i, j, err)
			}
			switch r.utf.Name(name) {
			case "Code":
				if m.code != nil {
					return nil, fmt.Errorf("%w: %s %d has two Code attributes", ErrClassFormat, kind, i)
				}
				code, err := r.readCode(pool, int(length))
				if err != nil {
					return nil, fmt.Errorf("%s %d Code: %w", kind, i, err)
				}
				m.code = code
			case "ConstantValue":
				idx, err := r.u2()
				if err != nil {
					return nil, fmt.Errorf("%s %d ConstantValue: %w", kind, i, err)
				}
				m.constIdx = idx
			case "Signature":
				idx, err := r.u2()
				if err != nil {
					return nil, fmt.Errorf("%s %d Signature: %w", kind, i, err)
				}
				if err := checkPoolTag(pool, idx, cpUTF8); err != nil {
					return nil, fmt.Errorf("%s %d Signature: %w", kind, i, err)
				}
				m.signature = pool.UTF(idx)
			default:
				if err := r.skip(int(length)); err != nil {
					return nil, fmt.Errorf("%s %d attribute %d: %w", kind, i, j, err)
				}
			}
		}
	}
	return members, nil
}

// attrHeader reads an attribute's name index and byte length.
func (r *classReader) attrHeader(pool *ConstantPool) (UTFID, uint32, error) {
	nameIdx, err := r.u2()
	if err != nil {
		return UTFNone, 0, fmt.Errorf("failed to read attribute name: %w", err)
	}
	if err := checkPoolTag(pool, nameIdx, cpUTF8); err != nil {
		return UTFNone, 0, err
	}
	length, err := r.u4()
	if err != nil {
		return UTFNone, 0, fmt.Errorf("failed to read attribute length: %w", err)
	}
	return pool.UTF(nameIdx), length, nil
}

// readCode parses a Code attribute body of the given declared length.
func (r *classReader) readCode(pool *ConstantPool, length int) (*codeInfo, error) {
	end := r.offset + length
	if end > len(r.data) {
		return nil, ErrClassTruncated
	}

	ci := &codeInfo{}
	var err error
	if ci.maxStack, err = r.u2(); err != nil {
		return nil, fmt.Errorf("failed to read max_stack: %w", err)
	}
	if ci.maxLocals, err = r.u2(); err != nil {
		return nil, fmt.Errorf("failed to read max_locals: %w", err)
	}
	codeLen, err := r.u4()
	if err != nil {
		return nil, fmt.Errorf("failed to read code_length: %w", err)
	}
	if codeLen == 0 || codeLen > maxCodeBytes {
		return nil, fmt.Errorf("%w: code_length %d", ErrClassFormat, codeLen)
	}
	if ci.code, err = r.bytes(int(codeLen)); err != nil {
		return nil, fmt.Errorf("failed to read code: %w", err)
	}

	exCount, err := r.u2()
	if err != nil {
		return nil, fmt.Errorf("failed to read exception table count: %w", err)
	}
	ci.handlers = make([]ExceptionHandler, exCount)
	for i := range ci.handlers {
		h := &ci.handlers[i]
		if h.Start, err = r.u2(); err != nil {
			return nil, fmt.Errorf("failed to read handler %d: %w", i, err)
		}
		if h.End, err = r.u2(); err != nil {
			return nil, fmt.Errorf("failed to read handler %d: %w", i, err)
		}
		if h.Handler, err = r.u2(); err != nil {
			return nil, fmt.Errorf("failed to read handler %d: %w", i, err)
		}
		if h.CatchType, err = r.u2(); err != nil {
			return nil, fmt.Errorf("failed to read handler %d: %w", i, err)
		}
		if uint32(h.Start) >= codeLen || uint32(h.End) > codeLen || h.Start >= h.End || uint32(h.Handler) >= codeLen {
			return nil, fmt.Errorf("%w: handler %d range [%d,%d)->%d outside code of %d bytes",
				ErrClassFormat, i, h.Start, h.End, h.Handler, codeLen)
		}
		if h.CatchType != 0 {
			if err := checkPoolTag(pool, h.CatchType, cpClass); err != nil {
				return nil, fmt.Errorf("handler %d catch type: %w", i, err)
			}
		}
	}

	attrCount, err := r.u2()
	if err != nil {
		return nil, fmt.Errorf("failed to read code attribute count: %w", err)
	}
	for i := uint16(0); i < attrCount; i++ {
		name, alen, err := r.attrHeader(pool)
		if err != nil {
			return nil, fmt.Errorf("code attribute %d: %w", i, err)
		}
		switch r.utf.Name(name) {
		case "LineNumberTable":
			n, err := r.u2()
			if err != nil {
				return nil, fmt.Errorf("LineNumberTable: %w", err)
			}
			lines := make([]LineEntry, n)
			for j := range lines {
				if lines[j].PC, err = r.u2(); err != nil {
					return nil, fmt.Errorf("LineNumberTable entry %d: %w", j, err)
				}
				if lines[j].Line, err = r.u2(); err != nil {
					return nil, fmt.Errorf("LineNumberTable entry %d: %w", j, err)
				}
			}
			// Methods compiled in parts may carry several tables; keep
			// them all, concatenated in file order.
			ci.lines = append(ci.lines, lines...)
		default:
			if err := r.skip(int(alen)); err != nil {
				return nil, fmt.Errorf("code attribute %d: %w", i, err)
			}
		}
	}

	if r.offset != end {
		return nil, fmt.Errorf("%w: Code attribute length %d does not match content", ErrClassFormat, length)
	}
	return ci, nil
}
