// Package config handles babe.toml VM configuration: a TOML file merged
// over defaults, validated against an embedded CUE schema, and converted
// into vm.Options plus a resolved classpath.
package config

import (
	"fmt"
	"os"

	"github.com/BurntSushi/toml"

	"github.com/chazu/babevm/platform"
	"github.com/chazu/babevm/vm"
)

// Config is the on-disk shape of babe.toml.
type Config struct {
	Heap      Heap      `toml:"heap" json:"heap"`
	Stack     Stack     `toml:"stack" json:"stack"`
	Scheduler Scheduler `toml:"scheduler" json:"scheduler"`
	Pools     Pools     `toml:"pools" json:"pools"`
	Roots     Roots     `toml:"roots" json:"roots"`
	Classpath Classpath `toml:"classpath" json:"classpath"`
	Log       Log       `toml:"log" json:"log"`

	Assertions     bool `toml:"assertions" json:"assertions"`
	ExitOnUncaught bool `toml:"exit-on-uncaught" json:"exit-on-uncaught"`
}

// Heap sizes the object arena.
type Heap struct {
	Size uint32 `toml:"size" json:"size"`
}

// Stack sizes the per-thread segmented stacks, in cells.
type Stack struct {
	Cells        uint32 `toml:"cells" json:"cells"`
	SegmentCells uint32 `toml:"segment-cells" json:"segment-cells"`
}

// Scheduler sets the bytecode timeslices.
type Scheduler struct {
	Quantum      int `toml:"quantum" json:"quantum"`
	DebugQuantum int `toml:"debug-quantum" json:"debug-quantum"`
}

// Pools gives initial size hints for the interned tables.
type Pools struct {
	UTF    int `toml:"utf" json:"utf"`
	Intern int `toml:"intern" json:"intern"`
	Class  int `toml:"class" json:"class"`
}

// Roots sizes the GC root stacks.
type Roots struct {
	Transient int `toml:"transient" json:"transient"`
	Permanent int `toml:"permanent" json:"permanent"`
}

// Classpath names the boot and user search paths, both in the
// platform-native list syntax, plus the buffer-cache capacity and the
// optional persistent location index.
type Classpath struct {
	Boot      string `toml:"boot" json:"boot"`
	User      string `toml:"user" json:"user"`
	CacheSize int    `toml:"cache-size" json:"cache-size"`
	IndexPath string `toml:"index-path" json:"index-path"`
}

// Log holds the commonlog verbosity, -4 (quiet) to 2 (most verbose)
// relative to the default.
type Log struct {
	Verbosity int `toml:"verbosity" json:"verbosity"`
}

// Default returns the configuration mirroring vm.DefaultOptions.
func Default() Config {
	o := vm.DefaultOptions()
	return Config{
		Heap:      Heap{Size: o.HeapSize},
		Stack:     Stack{Cells: o.StackCells, SegmentCells: o.StackSegmentCells},
		Scheduler: Scheduler{Quantum: o.Quantum, DebugQuantum: o.DebugQuantum},
		Pools:     Pools{UTF: o.UTFPoolHint, Intern: o.InternPoolHint, Class: o.ClassPoolHint},
		Roots:     Roots{Transient: o.TransientDepth, Permanent: o.PermanentDepth},
		Classpath: Classpath{CacheSize: platform.DefaultCacheSize},
	}
}

// Load reads a babe.toml file over the defaults and validates the
// result.
func Load(path string) (Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("cannot read %s: %w", path, err)
	}
	if err := toml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse error in %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// Options converts the configuration into vm.Options with the boot
// classpath resolved through the platform layer. The caller should have
// validated first.
func (c Config) Options() (vm.Options, error) {
	opts := vm.DefaultOptions()
	opts.HeapSize = c.Heap.Size
	opts.StackCells = c.Stack.Cells
	opts.StackSegmentCells = c.Stack.SegmentCells
	opts.Quantum = c.Scheduler.Quantum
	opts.DebugQuantum = c.Scheduler.DebugQuantum
	opts.UTFPoolHint = c.Pools.UTF
	opts.InternPoolHint = c.Pools.Intern
	opts.ClassPoolHint = c.Pools.Class
	opts.TransientDepth = c.Roots.Transient
	opts.PermanentDepth = c.Roots.Permanent
	opts.Assertions = c.Assertions
	opts.ExitOnUncaught = c.ExitOnUncaught

	boot, err := c.bootPath()
	if err != nil {
		return opts, err
	}
	if boot != nil {
		opts.BootClasspath = []platform.Entry{boot}
	}
	return opts, nil
}

// bootPath assembles the boot classpath with its cache and optional
// index.
func (c Config) bootPath() (*platform.Path, error) {
	entries := platform.ParseClasspath(c.Classpath.Boot)
	if len(entries) == 0 {
		return nil, nil
	}
	path := platform.NewPath(entries, c.Classpath.CacheSize)
	if c.Classpath.IndexPath != "" {
		ix, err := platform.OpenIndex(c.Classpath.IndexPath, entries)
		if err != nil {
			return nil, err
		}
		path = path.WithIndex(ix)
	}
	return path, nil
}

// UserPath assembles the user classpath the same way, for the launcher's
// application loader.
func (c Config) UserPath() *platform.Path {
	entries := platform.ParseClasspath(c.Classpath.User)
	if len(entries) == 0 {
		return nil
	}
	return platform.NewPath(entries, c.Classpath.CacheSize)
}
