package jit

// nativeSupported gates Compile: only amd64 hosts have the assembly
// bridges and instruction encodings this package emits. Everywhere else
// the VM runs interpreter-only (Compile refuses, callers fall back).
const nativeSupported = true

// asmHelperTrampolineAddr and asmTrampolineShimAddr cache the real
// (ABI0) entry addresses of asm_amd64.s's two call shims, resolved once
// via asmHelperTrampolineEntry/asmTrampolineShimEntry below: CallRuntime
// and TrampolineCall (state.go) bake these addresses into their emitted
// `call` sites. Resolving them this way, rather than via
// reflect.ValueOf(fn).Pointer(), is what makes them usable from
// hand-emitted machine code - a Go func value's Pointer() always
// resolves to the ABIInternal wrapper every funcval points at, which
// expects arguments in Go's own register assignment, not the fixed
// RDI/RSI/RDX/RCX layout this engine's emitter stages (see DESIGN.md).
var (
	asmHelperTrampolineAddr = asmHelperTrampolineEntry()
	asmTrampolineShimAddr   = asmTrampolineShimEntry()
)

// asmHelperTrampolineEntry and asmTrampolineShimEntry are implemented in
// asm_amd64.s: each just loads its own shim's symbol address and returns
// it, so the package vars above can be ordinary globals instead of
// needing an explicit init func.
func asmHelperTrampolineEntry() uintptr

func asmTrampolineShimEntry() uintptr

// asmHelperTrampoline and asmTrampolineShim (asm_amd64.s) are never
// called from Go directly - only via raw CALL from JIT-emitted machine
// code - but still need Go declarations so the assembler/linker can
// generate correct stack metadata for them.
func asmHelperTrampoline()

func asmTrampolineShim()
