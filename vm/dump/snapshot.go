// Package dump captures a point-in-time VM snapshot as canonical CBOR:
// heap occupancy, free-list shape, loaded classes, thread states, and
// the last collection's numbers. Tooling decodes the same structures
// back with Unmarshal.
package dump

import (
	"fmt"
	"os"
	"time"

	"github.com/fxamacker/cbor/v2"

	"github.com/chazu/babevm/vm"
)

var cborEncMode cbor.EncMode

func init() {
	em, err := cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		panic(err)
	}
	cborEncMode = em
}

// Snapshot is the wire root.
type Snapshot struct {
	TakenAt int64        `cbor:"1,keyasint"` // unix nanoseconds
	Heap    HeapInfo     `cbor:"2,keyasint"`
	Classes []ClassInfo  `cbor:"3,keyasint,omitempty"`
	Threads []ThreadInfo `cbor:"4,keyasint,omitempty"`
	LastGC  GCInfo       `cbor:"5,keyasint"`
}

// HeapInfo mirrors vm.HeapStats plus the free-list run sizes.
type HeapInfo struct {
	Size        uint32   `cbor:"1,keyasint"`
	InUseBytes  uint32   `cbor:"2,keyasint"`
	FreeBytes   uint32   `cbor:"3,keyasint"`
	InUseChunks uint32   `cbor:"4,keyasint"`
	FreeChunks  uint32   `cbor:"5,keyasint"`
	LargestFree uint32   `cbor:"6,keyasint"`
	Allocs      uint64   `cbor:"7,keyasint"`
	Frees       uint64   `cbor:"8,keyasint"`
	Collections uint64   `cbor:"9,keyasint"`
	FreeRuns    []uint32 `cbor:"10,keyasint,omitempty"`
}

// ClassInfo is one pooled class.
type ClassInfo struct {
	Name      string `cbor:"1,keyasint"`
	State     string `cbor:"2,keyasint"`
	Loader    uint32 `cbor:"3,keyasint"` // defining loader ref, 0 for bootstrap
	Interface bool   `cbor:"4,keyasint,omitempty"`
	Array     bool   `cbor:"5,keyasint,omitempty"`
	Primitive bool   `cbor:"6,keyasint,omitempty"`
}

// ThreadInfo is one live green thread.
type ThreadInfo struct {
	ID       uint64 `cbor:"1,keyasint"`
	State    string `cbor:"2,keyasint"`
	Segments int    `cbor:"3,keyasint"`
}

// GCInfo mirrors vm.GCStats.
type GCInfo struct {
	ChunksFreed     uint32 `cbor:"1,keyasint"`
	BytesFreed      uint32 `cbor:"2,keyasint"`
	WeakCleared     uint32 `cbor:"3,keyasint"`
	ClassesUnloaded uint32 `cbor:"4,keyasint"`
	DurationNanos   int64  `cbor:"5,keyasint"`
}

// Capture reads the machine's current state. It must run on the VM
// goroutine, between quanta.
func Capture(m *vm.VM) Snapshot {
	hs := m.Heap().Stats()
	snap := Snapshot{
		TakenAt: time.Now().UnixNano(),
		Heap: HeapInfo{
			Size:        hs.Size,
			InUseBytes:  hs.InUseBytes,
			FreeBytes:   hs.FreeBytes,
			InUseChunks: hs.InUseChunks,
			FreeChunks:  hs.FreeChunks,
			LargestFree: hs.LargestFree,
			Allocs:      hs.Allocs,
			Frees:       hs.Frees,
			Collections: hs.Collections,
			FreeRuns:    m.Heap().FreeRunSizes(),
		},
	}

	for _, c := range m.Classes() {
		snap.Classes = append(snap.Classes, ClassInfo{
			Name:      m.UTF().Name(c.NameID()),
			State:     c.State().String(),
			Loader:    c.Loader(),
			Interface: c.IsInterface(),
			Array:     c.IsArray(),
			Primitive: c.IsPrimitive(),
		})
	}
	for _, t := range m.Threads() {
		snap.Threads = append(snap.Threads, ThreadInfo{
			ID:       t.ID(),
			State:    t.State().String(),
			Segments: t.SegmentCount(),
		})
	}

	gc := m.LastGC()
	snap.LastGC = GCInfo{
		ChunksFreed:     gc.ChunksFreed,
		BytesFreed:      gc.BytesFreed,
		WeakCleared:     gc.WeakCleared,
		ClassesUnloaded: gc.ClassesUnloaded,
		DurationNanos:   int64(gc.Duration),
	}
	return snap
}

// Marshal encodes a snapshot canonically.
func (s Snapshot) Marshal() ([]byte, error) {
	return cborEncMode.Marshal(s)
}

// Unmarshal decodes a snapshot.
func Unmarshal(data []byte) (Snapshot, error) {
	var s Snapshot
	if err := cbor.Unmarshal(data, &s); err != nil {
		return Snapshot{}, fmt.Errorf("decode snapshot: %w", err)
	}
	return s, nil
}

// WriteFile captures and writes a snapshot in one step.
func WriteFile(m *vm.VM, path string) error {
	data, err := Capture(m).Marshal()
	if err != nil {
		return fmt.Errorf("encode snapshot: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write snapshot: %w", err)
	}
	return nil
}
