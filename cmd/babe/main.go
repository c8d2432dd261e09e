// babe - embedded JVM launcher
//
// Boots a VM from babe.toml plus flag overrides and runs the main class
// given on the command line:
//
//	babe -cp ./classes:app.jar Hello arg1 arg2
//	babe -config babe.toml -Xmx 8m -ea Hello
//	babe -cp app.jar -dump-snapshot vm.cbor Hello
package main

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/tliron/commonlog"
	_ "github.com/tliron/commonlog/simple"

	"github.com/chazu/babevm/config"
	"github.com/chazu/babevm/platform"
	"github.com/chazu/babevm/vm"
	"github.com/chazu/babevm/vm/dump"
)

func main() {
	configPath := flag.String("config", "", "Path to a babe.toml configuration file")
	cp := flag.String("cp", "", "Application classpath (dirs and .jar files)")
	bootCP := flag.String("Xbootcp", "", "Boot classpath, searched before -cp")
	maxHeap := flag.String("Xmx", "", "Heap size, e.g. 512k, 8m, or bytes")
	verbosity := flag.Int("verbosity", 0, "Log verbosity, -4 (quiet) to 2")
	snapshotPath := flag.String("dump-snapshot", "", "Write a CBOR VM snapshot here on exit")
	assertions := flag.Bool("ea", false, "Enable VM assertions (leak check on shutdown)")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: babe [options] <main-class> [args...]\n\n")
		fmt.Fprintf(os.Stderr, "Runs <main-class>'s main(String[]) on the embedded VM.\n\n")
		fmt.Fprintf(os.Stderr, "Options:\n")
		flag.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nExamples:\n")
		fmt.Fprintf(os.Stderr, "  babe -cp ./classes Hello               # run Hello.main\n")
		fmt.Fprintf(os.Stderr, "  babe -cp app.jar -Xmx 8m Hello a b     # bigger heap, two args\n")
		fmt.Fprintf(os.Stderr, "  babe -config babe.toml Hello           # options from TOML\n")
	}
	flag.Parse()

	commonlog.Configure(*verbosity, nil)

	if flag.NArg() == 0 {
		flag.Usage()
		os.Exit(2)
	}
	mainClass := strings.ReplaceAll(flag.Arg(0), ".", "/")
	appArgs := flag.Args()[1:]

	cfg := config.Default()
	if *configPath != "" {
		loaded, err := config.Load(*configPath)
		if err != nil {
			fail(err)
		}
		cfg = loaded
	}
	if *bootCP != "" {
		cfg.Classpath.Boot = *bootCP
	}
	if *cp != "" {
		cfg.Classpath.User = *cp
	}
	if *maxHeap != "" {
		size, err := parseSize(*maxHeap)
		if err != nil {
			fail(err)
		}
		cfg.Heap.Size = size
	}
	if *assertions {
		cfg.Assertions = true
	}
	if err := cfg.Validate(); err != nil {
		fail(err)
	}

	opts, err := cfg.Options()
	if err != nil {
		fail(err)
	}
	// Without a Java classlib there is no user loader object to hang the
	// application classpath on; it joins the bootstrap search path after
	// the boot entries.
	if user := cfg.UserPath(); user != nil {
		opts.BootClasspath = append(opts.BootClasspath, platform.Entry(user))
	}

	m, err := vm.New(opts)
	if err != nil {
		fmt.Fprintf(os.Stderr, "babe: %v\n", err)
		os.Exit(creationExitCode(err))
	}
	if err := m.Boot(); err != nil {
		fail(err)
	}

	runErr := m.RunMain(mainClass, appArgs)

	if *snapshotPath != "" {
		if err := dump.WriteFile(m, *snapshotPath); err != nil {
			fmt.Fprintf(os.Stderr, "babe: %v\n", err)
		}
	}
	m.Shutdown()

	if runErr != nil {
		fmt.Fprintf(os.Stderr, "babe: uncaught: %v\n", runErr)
		os.Exit(1)
	}
}

func fail(err error) {
	fmt.Fprintf(os.Stderr, "babe: %v\n", err)
	os.Exit(2)
}

// creationExitCode distinguishes a rejected heap size from an arena
// that could not be allocated.
func creationExitCode(err error) int {
	if errors.Is(err, vm.ErrHeapSize) {
		return vm.ExitHeapSizeBounds
	}
	return vm.ExitCannotAllocate
}

// parseSize reads a byte count with an optional k/m suffix.
func parseSize(s string) (uint32, error) {
	mult := uint64(1)
	switch {
	case strings.HasSuffix(s, "k"), strings.HasSuffix(s, "K"):
		mult = 1 << 10
		s = s[:len(s)-1]
	case strings.HasSuffix(s, "m"), strings.HasSuffix(s, "M"):
		mult = 1 << 20
		s = s[:len(s)-1]
	}
	n, err := strconv.ParseUint(s, 10, 32)
	if err != nil {
		return 0, fmt.Errorf("bad size %q: %w", s, err)
	}
	v := n * mult
	if v > uint64(vm.HeapSizeMax) {
		return 0, fmt.Errorf("size %q exceeds the %d byte heap ceiling", s, vm.HeapSizeMax)
	}
	return uint32(v), nil
}
