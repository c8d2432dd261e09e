package vm

import (
	"sync"
	"unicode/utf16"
)

// ---------------------------------------------------------------------------
// UTFPool: interned UTF strings
// ---------------------------------------------------------------------------

// UTFID identifies an interned UTF entry. Every class, method, field, and
// descriptor name obtained from a class file flows through the pool, so
// name comparison across the VM is id comparison. Id 0 is reserved for the
// empty string and doubles as "no name". Entries are never collected.
type UTFID uint32

// UTFNone is the id of the reserved empty entry.
const UTFNone UTFID = 0

// UTFPool deduplicates UTF strings to unique ids.
type UTFPool struct {
	mu     sync.RWMutex
	byName map[string]UTFID
	byID   []string
}

// NewUTFPool creates a pool pre-sized for hint entries.
func NewUTFPool(hint int) *UTFPool {
	if hint < 16 {
		hint = 16
	}
	p := &UTFPool{
		byName: make(map[string]UTFID, hint),
		byID:   make([]string, 0, hint),
	}
	p.byName[""] = UTFNone
	p.byID = append(p.byID, "")
	return p
}

// Intern returns the id for a UTF string, creating a new entry if needed.
func (p *UTFPool) Intern(name string) UTFID {
	// Fast path: read-only lookup
	p.mu.RLock()
	if id, ok := p.byName[name]; ok {
		p.mu.RUnlock()
		return id
	}
	p.mu.RUnlock()

	p.mu.Lock()
	defer p.mu.Unlock()

	// Double-check after acquiring write lock
	if id, ok := p.byName[name]; ok {
		return id
	}

	id := UTFID(len(p.byID))
	p.byName[name] = id
	p.byID = append(p.byID, name)
	return id
}

// Lookup returns the id for a UTF string without interning it.
func (p *UTFPool) Lookup(name string) (UTFID, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	id, ok := p.byName[name]
	return id, ok
}

// Name returns the string for an id, or "" if invalid.
func (p *UTFPool) Name(id UTFID) string {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if int(id) >= len(p.byID) {
		return ""
	}
	return p.byID[id]
}

// Len returns the number of interned entries, the reserved empty entry
// included.
func (p *UTFPool) Len() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.byID)
}

// ---------------------------------------------------------------------------
// UTF-8 / UTF-16 conversion
// ---------------------------------------------------------------------------

// JavaHash computes the java.lang.String hash (h = 31*h + c over UTF-16
// code units) of a UTF-8 string.
func JavaHash(s string) int32 {
	var h int32
	for _, u := range utf16.Encode([]rune(s)) {
		h = 31*h + int32(u)
	}
	return h
}

// utf8ToUTF16 decodes a UTF-8 string into UTF-16 code units, the element
// type of Java char arrays.
func utf8ToUTF16(s string) []uint16 {
	return utf16.Encode([]rune(s))
}

// utf16ToUTF8 re-encodes UTF-16 code units as a UTF-8 string.
func utf16ToUTF8(units []uint16) string {
	return string(utf16.Decode(units))
}
