// Package platform is the resource layer under the class loader: ordered
// classpath entries backed by directories, jar files, or in-memory maps,
// a whole-file buffer cache, and an optional persistent location index
// for large classpaths.
package platform

import (
	"archive/zip"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/tliron/commonlog"
)

var log = commonlog.GetLogger("babevm.platform")

// Entry is one classpath element. ClassBytes returns the whole class
// file for a binary name like "java/lang/Object", nil with a nil error
// when the entry simply does not have it.
type Entry interface {
	ClassBytes(name string) ([]byte, error)
	String() string
}

// classFile forms the file path of a binary class name under a root:
// the separator is inserted only when the root does not already end
// with one.
func classFile(root, name string) string {
	if root == "" || strings.HasSuffix(root, "/") || strings.HasSuffix(root, string(os.PathSeparator)) {
		return root + name + ".class"
	}
	return root + "/" + name + ".class"
}

// DirEntry serves class files from a directory tree.
type DirEntry struct {
	root string
}

// NewDirEntry builds a directory entry; the directory need not exist
// yet, missing files are plain misses.
func NewDirEntry(root string) *DirEntry {
	return &DirEntry{root: filepath.Clean(root)}
}

func (e *DirEntry) ClassBytes(name string) ([]byte, error) {
	data, err := os.ReadFile(filepath.FromSlash(classFile(e.root, name)))
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("classpath dir %s: %w", e.root, err)
	}
	return data, nil
}

func (e *DirEntry) String() string { return e.root }

// JarEntry serves class files from a jar (zip) archive. The central
// directory is read once; file bodies are read on demand.
type JarEntry struct {
	path  string
	zr    *zip.ReadCloser
	files map[string]*zip.File
}

// NewJarEntry opens the archive and indexes its members.
func NewJarEntry(path string) (*JarEntry, error) {
	zr, err := zip.OpenReader(path)
	if err != nil {
		return nil, fmt.Errorf("classpath jar %s: %w", path, err)
	}
	files := make(map[string]*zip.File, len(zr.File))
	for _, f := range zr.File {
		files[f.Name] = f
	}
	return &JarEntry{path: path, zr: zr, files: files}, nil
}

func (e *JarEntry) ClassBytes(name string) ([]byte, error) {
	f, ok := e.files[name+".class"]
	if !ok {
		return nil, nil
	}
	rc, err := f.Open()
	if err != nil {
		return nil, fmt.Errorf("classpath jar %s: %s: %w", e.path, name, err)
	}
	defer rc.Close()
	data, err := io.ReadAll(rc)
	if err != nil {
		return nil, fmt.Errorf("classpath jar %s: %s: %w", e.path, name, err)
	}
	return data, nil
}

func (e *JarEntry) Close() error { return e.zr.Close() }

func (e *JarEntry) String() string { return e.path }

// MemEntry serves class files from memory, for tests and embedders that
// generate classes at run time.
type MemEntry struct {
	label   string
	classes map[string][]byte
}

// NewMemEntry builds an in-memory entry over name → class-file bytes.
func NewMemEntry(label string, classes map[string][]byte) *MemEntry {
	return &MemEntry{label: label, classes: classes}
}

// Put adds or replaces one class image.
func (e *MemEntry) Put(name string, data []byte) {
	if e.classes == nil {
		e.classes = make(map[string][]byte)
	}
	e.classes[name] = data
}

func (e *MemEntry) ClassBytes(name string) ([]byte, error) {
	return e.classes[name], nil
}

func (e *MemEntry) String() string { return e.label }

// ParseClasspath splits an os.PathListSeparator-joined classpath string
// into entries: elements ending in ".jar" open as archives, everything
// else is a directory. Unopenable jars are skipped with a warning so a
// stale classpath element does not take the VM down.
func ParseClasspath(s string) []Entry {
	var entries []Entry
	for _, elem := range filepath.SplitList(s) {
		if elem == "" {
			continue
		}
		if strings.HasSuffix(elem, ".jar") {
			jar, err := NewJarEntry(elem)
			if err != nil {
				log.Warningf("skipping classpath element: %v", err)
				continue
			}
			entries = append(entries, jar)
			continue
		}
		entries = append(entries, NewDirEntry(elem))
	}
	return entries
}
