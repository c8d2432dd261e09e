package config

import (
	"os"
	"path/filepath"
	"testing"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "babe.toml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestDefaultIsValid(t *testing.T) {
	if err := Default().Validate(); err != nil {
		t.Fatalf("Validate(Default()) = %v", err)
	}
}

func TestLoadMergesOverDefaults(t *testing.T) {
	path := writeConfig(t, `
[heap]
size = 131072

[scheduler]
quantum = 500
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Heap.Size != 131072 {
		t.Errorf("Heap.Size = %d, want 131072", cfg.Heap.Size)
	}
	if cfg.Scheduler.Quantum != 500 {
		t.Errorf("Quantum = %d, want 500", cfg.Scheduler.Quantum)
	}
	// Untouched sections keep their defaults.
	def := Default()
	if cfg.Stack != def.Stack {
		t.Errorf("Stack = %+v, want default %+v", cfg.Stack, def.Stack)
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "absent.toml")); err == nil {
		t.Error("Load of a missing file succeeded")
	}
}

func TestLoadMalformedTOML(t *testing.T) {
	path := writeConfig(t, "[heap\nsize = 1")
	if _, err := Load(path); err == nil {
		t.Error("Load of malformed TOML succeeded")
	}
}

func TestValidateRejectsOutOfRange(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"heap too small", func(c *Config) { c.Heap.Size = 1024 }},
		{"heap too large", func(c *Config) { c.Heap.Size = 1 << 25 }},
		{"zero quantum", func(c *Config) { c.Scheduler.Quantum = 0 }},
		{"zero stack", func(c *Config) { c.Stack.Cells = 0 }},
		{"negative pool hint", func(c *Config) { c.Pools.UTF = -1 }},
		{"zero root depth", func(c *Config) { c.Roots.Transient = 0 }},
		{"verbosity out of range", func(c *Config) { c.Log.Verbosity = 5 }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := Default()
			tc.mutate(&cfg)
			if err := cfg.Validate(); err == nil {
				t.Error("Validate accepted an out-of-range value")
			}
		})
	}
}

func TestOptionsMapping(t *testing.T) {
	cfg := Default()
	cfg.Heap.Size = 1 << 20
	cfg.Stack.Cells = 2048
	cfg.Stack.SegmentCells = 256
	cfg.Scheduler.Quantum = 750
	cfg.Pools.UTF = 512
	cfg.Roots.Transient = 128
	cfg.ExitOnUncaught = true

	opts, err := cfg.Options()
	if err != nil {
		t.Fatalf("Options: %v", err)
	}
	if opts.HeapSize != 1<<20 {
		t.Errorf("HeapSize = %d", opts.HeapSize)
	}
	if opts.StackCells != 2048 || opts.StackSegmentCells != 256 {
		t.Errorf("stack = %d/%d", opts.StackCells, opts.StackSegmentCells)
	}
	if opts.Quantum != 750 {
		t.Errorf("Quantum = %d", opts.Quantum)
	}
	if opts.UTFPoolHint != 512 || opts.TransientDepth != 128 {
		t.Errorf("pool/root mapping = %d/%d", opts.UTFPoolHint, opts.TransientDepth)
	}
	if !opts.ExitOnUncaught {
		t.Error("ExitOnUncaught not carried over")
	}
	if opts.BootClasspath != nil {
		t.Errorf("BootClasspath = %v, want nil for an empty boot path", opts.BootClasspath)
	}
}

func TestOptionsResolvesBootClasspath(t *testing.T) {
	cfg := Default()
	cfg.Classpath.Boot = t.TempDir()

	opts, err := cfg.Options()
	if err != nil {
		t.Fatalf("Options: %v", err)
	}
	if len(opts.BootClasspath) != 1 {
		t.Fatalf("BootClasspath entries = %d, want 1", len(opts.BootClasspath))
	}
}

func TestUserPath(t *testing.T) {
	cfg := Default()
	if cfg.UserPath() != nil {
		t.Error("UserPath() non-nil for an empty user classpath")
	}
	cfg.Classpath.User = t.TempDir()
	if cfg.UserPath() == nil {
		t.Error("UserPath() nil for a set user classpath")
	}
}
