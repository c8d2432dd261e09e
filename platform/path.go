package platform

import (
	"strings"

	lru "github.com/hashicorp/golang-lru"
)

// DefaultCacheSize is the buffer-cache capacity in class files.
const DefaultCacheSize = 256

// Path is an ordered classpath with a whole-file LRU buffer cache and
// an optional persistent location index. It implements Entry itself, so
// a loader's search path can be a single Path.
type Path struct {
	entries []Entry
	cache   *lru.Cache
	index   *Index
}

// NewPath builds a Path over the entries with a cache of cacheSize
// class files (DefaultCacheSize when zero or negative).
func NewPath(entries []Entry, cacheSize int) *Path {
	if cacheSize <= 0 {
		cacheSize = DefaultCacheSize
	}
	cache, _ := lru.New(cacheSize)
	return &Path{entries: entries, cache: cache}
}

// WithIndex attaches a persistent location index.
func (p *Path) WithIndex(ix *Index) *Path {
	p.index = ix
	return p
}

// Entries returns the underlying entries in search order.
func (p *Path) Entries() []Entry { return p.entries }

// ClassBytes searches the entries in order, first-win. A cached buffer
// is returned as-is; an index hit skips straight to the recorded entry
// and falls back to the ordered walk when the recording went stale.
func (p *Path) ClassBytes(name string) ([]byte, error) {
	if v, ok := p.cache.Get(name); ok {
		return v.([]byte), nil
	}

	if p.index != nil {
		if i, ok := p.index.Lookup(name); ok && i < len(p.entries) {
			data, err := p.entries[i].ClassBytes(name)
			if err != nil {
				return nil, err
			}
			if data != nil {
				p.cache.Add(name, data)
				return data, nil
			}
		}
	}

	var firstErr error
	for i, e := range p.entries {
		data, err := e.ClassBytes(name)
		if err != nil {
			if firstErr == nil {
				firstErr = err
			}
			log.Warningf("classpath entry %s: %s: %v", e, name, err)
			continue
		}
		if data != nil {
			p.cache.Add(name, data)
			if p.index != nil {
				p.index.Record(name, i)
			}
			return data, nil
		}
	}
	return nil, firstErr
}

func (p *Path) String() string {
	labels := make([]string, len(p.entries))
	for i, e := range p.entries {
		labels[i] = e.String()
	}
	return strings.Join(labels, ":")
}
