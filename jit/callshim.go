package jit

import (
	"unsafe"

	"galevm/bytecode"
)

// asmEnterCompiled is implemented in asm_amd64.s: it loads entry, st,
// argv and argc into RDI/RSI/RDX (the System V registers the compiled
// prologue reads, see compile.go's emitPrologue) and calls straight into
// the JIT-emitted machine code at entry. Declaring it here with no body
// lets the Go compiler emit the ordinary ABIInternal->ABI0 call-site
// glue for us; only the reverse direction (compiled code calling back
// into Go, see runtime.go/trampoline.go) needs a hand-written shim on
// the callee side, because there the caller is our own raw bytes, not
// something the Go compiler generated.
func asmEnterCompiled(entry uintptr, st unsafe.Pointer, argv *uint64, argc uint64) uint64

// callCompiled calls into the native code at entry with the same
// (&State, &argv[0], argc) triple the compiled prologue expects in
// RDI/RSI/RDX. Earlier revisions of this file reinterpreted entry as a
// Go func value and called it directly; that only ever reaches a
// func value's ABIInternal entry point, not the System V entry the
// emitted prologue actually expects, so every invocation faulted on its
// first instruction. asmEnterCompiled is the real System-V entry point,
// handwritten so no Go-generated calling convention sits between it and
// the raw bytes Compile produced.
func callCompiled(entry uintptr, st *bytecode.State, argv *uint64, argc uint64) uint64 {
	return asmEnterCompiled(entry, unsafe.Pointer(st), argv, argc)
}
