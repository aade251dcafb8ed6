//go:build !amd64

package jit

import "unsafe"

// Stubs for non-amd64 hosts: Compile refuses before any of these can be
// reached (see nativeSupported and compile.go), they exist only so the
// package still builds and the VM degrades to interpreter-only.

const nativeSupported = false

var (
	asmHelperTrampolineAddr uintptr
	asmTrampolineShimAddr   uintptr
)

func asmEnterCompiled(entry uintptr, st unsafe.Pointer, argv *uint64, argc uint64) uint64 {
	panic("jit: native execution requires an amd64 host")
}
