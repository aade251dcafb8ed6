package jit

import (
	"fmt"

	"galevm/bytecode"
	"galevm/value"
)

// helperFn is the fixed shape every RuntimeHelper is implemented with:
// the interpreter state plus up to two raw 8-byte operand words in, one
// raw 8-byte result word out. Restricting every helper to this shape lets
// CallRuntime's emitted call site be identical regardless of which helper
// is being invoked (spec.md §4.J).
type helperFn func(st *bytecode.State, a0, a1 uint64) uint64

// trapFault records an error raised by a helper invoked from compiled
// code. JIT-compiled code has no room in its register-based call
// convention to propagate a full Go error (see DESIGN.md), so a fault
// is instead latched here and surfaced by the Go-side driver the next
// time a compiled function returns control - later than the interpreter,
// which aborts at the faulting instruction, but adequate for an engine
// whose Non-goals already exclude precise JIT fault recovery.
//
// This is a package-level variable, not a per-State field, because
// exactly one compiled function runs at a time per VM and this engine
// never runs two VMs concurrently on JIT-compiled code (SPEC_FULL.md §5).
var trapFault error

func clearFault() { trapFault = nil }

func latch(err error) uint64 {
	if trapFault == nil {
		trapFault = err
	}
	return 0
}

func helperAlloc(st *bytecode.State, a0, a1 uint64) uint64 {
	// a0 is the allocated type's total size in bytes (Type.Size, which
	// includes an array's or string's length header); the emitter only
	// ever issues this for a statically sized type (Alloc.Emit rejects
	// unsized ones).
	ptr, err := st.Heap.Allocate(a0)
	if err != nil {
		return latch(err)
	}
	return ptr
}

func helperLoad8(st *bytecode.State, a0, a1 uint64) uint64 {
	v, err := st.Heap.LoadU8(a0)
	if err != nil {
		return latch(err)
	}
	return uint64(v)
}

func helperLoad16(st *bytecode.State, a0, a1 uint64) uint64 {
	v, err := st.Heap.LoadU16(a0)
	if err != nil {
		return latch(err)
	}
	return uint64(v)
}

func helperLoad32(st *bytecode.State, a0, a1 uint64) uint64 {
	v, err := st.Heap.LoadU32(a0)
	if err != nil {
		return latch(err)
	}
	return uint64(v)
}

func helperLoad64(st *bytecode.State, a0, a1 uint64) uint64 {
	v, err := st.Heap.LoadU64(a0)
	if err != nil {
		return latch(err)
	}
	return v
}

func helperStore8(st *bytecode.State, a0, a1 uint64) uint64 {
	if err := st.Heap.StoreU8(a0, uint8(a1)); err != nil {
		return latch(err)
	}
	return 0
}

func helperStore16(st *bytecode.State, a0, a1 uint64) uint64 {
	if err := st.Heap.StoreU16(a0, uint16(a1)); err != nil {
		return latch(err)
	}
	return 0
}

func helperStore32(st *bytecode.State, a0, a1 uint64) uint64 {
	if err := st.Heap.StoreU32(a0, uint32(a1)); err != nil {
		return latch(err)
	}
	return 0
}

func helperStore64(st *bytecode.State, a0, a1 uint64) uint64 {
	if err := st.Heap.StoreU64(a0, a1); err != nil {
		return latch(err)
	}
	return 0
}

// helperLoadConst reads back a module constant. a0 carries the constant
// table index: the Emitter interface has no room for a plain integer
// operand alongside Vars, so CallRuntime recovers it from the LoadC
// instruction currently being lowered (State.curInstr) and bakes it into
// the emitted call site as an immediate.
func helperLoadConst(st *bytecode.State, a0, a1 uint64) uint64 {
	m, err := st.CurrentModule()
	if err != nil {
		return latch(err)
	}
	idx := int(a0)
	if idx < 0 || idx >= len(m.Conts) {
		return latch(fmt.Errorf("jit: unknown constant index %d", idx))
	}
	// A string constant's Scalar is already the heap pointer its bytes
	// were materialized at by the loader (installConsts); a bool or ui64
	// constant's Scalar is its raw value directly. Both cases are the
	// same word at this level - the only thing that distinguishes a
	// pointer from a scalar is the static Kind the caller already knows
	// from typechecking, so this helper always hands back the raw word
	// unconditionally and lets the caller retag it.
	return m.Conts[idx].Scalar
}

func helperPrint(st *bytecode.State, a0, a1 uint64) uint64 {
	// a0 is the printed value's raw word and a1 its value.Kind tag
	// (CallRuntime's emitted call site passes both - see state.go).
	v := value.FromRaw(value.Kind(a1), a0)
	fmt.Fprintln(st.Stdout, v.String())
	return 0
}

func helperPanic(st *bytecode.State, a0, a1 uint64) uint64 {
	return latch(bytecode.ErrUserPanic)
}

// helperIndex implements the Pointer arm of dialect.Idx (a0 = base
// address, a1 = element index). The Tuple arm never reaches compiled
// code: a tuple value is never register- or stack-word-resident (see
// dialect.Tup.Emit), so a Var typed as tuple can only flow into idx via
// the interpreter, which never calls this helper.
func helperIndex(st *bytecode.State, a0, a1 uint64) uint64 {
	addr, err := st.Heap.IndexBytes(a0, a1*8)
	if err != nil {
		return latch(err)
	}
	return addr
}

var helperTable = [...]helperFn{
	bytecode.HelperAlloc:      helperAlloc,
	bytecode.HelperLoad8:      helperLoad8,
	bytecode.HelperLoad16:     helperLoad16,
	bytecode.HelperLoad32:     helperLoad32,
	bytecode.HelperLoad64:     helperLoad64,
	bytecode.HelperStore8:     helperStore8,
	bytecode.HelperStore16:    helperStore16,
	bytecode.HelperStore32:    helperStore32,
	bytecode.HelperStore64:    helperStore64,
	bytecode.HelperLoadConst:  helperLoadConst,
	bytecode.HelperPrint:      helperPrint,
	bytecode.HelperPanic:      helperPanic,
	bytecode.HelperIndex:      helperIndex,
}

// dispatchHelper is the single Go-side landing point asmHelperTrampoline
// (asm_amd64.s) calls by symbol: compiled code never addresses a helper
// directly (see state.go's CallRuntime), it always enters
// asmHelperTrampoline with the helper's table index in RCX, which the
// shim re-stages onto the stack and forwards here.
func dispatchHelper(idx bytecode.RuntimeHelper, st *bytecode.State, a0, a1 uint64) uint64 {
	return helperTable[idx](st, a0, a1)
}
