// Package vm implements the babe virtual machine, an embedded JVM.
//
// This package contains:
//   - The managed heap: a single arena with coalescing best-fit allocation
//   - Tri-colour mark-and-sweep garbage collection with weak references
//   - The class loader and linker, including lazy constant resolution
//   - Cooperatively scheduled green threads and object monitors
//   - Segmented thread stacks and backtrace capture
//   - A bytecode interpreter sufficient to drive class initialization
package vm
