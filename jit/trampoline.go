package jit

import (
	"fmt"
	"unsafe"

	"galevm/bytecode"
	"galevm/value"
)

// compiledFns is the dispatcher-visible registry of every function
// Compile has successfully lowered (spec.md §5: "the JIT state's
// compiled_fns map may be mutated only at compile time; the
// interpreter/JIT dispatcher only reads it"). Package-level for the
// same reason trapFault is: one VM runs JIT-compiled code at a time,
// and compilation happens strictly before execution begins.
var compiledFns = make(map[*bytecode.Function]*CompiledFn)

func registerCompiled(fn *bytecode.Function, cf *CompiledFn) {
	compiledFns[fn] = cf
}

// Compiled reports the committed native code for fn, if any exists.
func Compiled(fn *bytecode.Function) (*CompiledFn, bool) {
	cf, ok := compiledFns[fn]
	return cf, ok
}

// trampolineDispatch is the Go-side landing pad every compiled
// TrampolineCall site reaches indirectly, through asmTrampolineShim
// (asm_amd64.s, see state.go's TrampolineCall and runtime.go's
// dispatchHelper for the matching CallRuntime path): it resolves the
// call target and dispatches to whichever of spec.md §4.J's three
// cases applies - the native implementation, the callee's own compiled
// code if Compile has produced some, or the tree-walking interpreter.
func trampolineDispatch(st *bytecode.State, argv *uint64, argc uint64, a, b uint64) uint64 {
	mod, fnIdx, err := resolveTarget(a, b)
	if err != nil {
		return latch(err)
	}
	m, err := st.Modules.Module(mod)
	if err != nil {
		return latch(err)
	}
	fn, err := m.Function(fnIdx)
	if err != nil {
		return latch(err)
	}

	// A compiled callee takes the raw argument words as-is: its prologue
	// copies them out of argv itself, no Value marshalling needed.
	if cf, ok := compiledFns[fn]; ok && !fn.HasNativeImpl() {
		return callCompiled(cf.entry, st, argv, argc)
	}

	words := unsafe.Slice(argv, int(argc))
	args := make([]value.Value, argc)
	for i, w := range words {
		args[i] = value.FromRaw(toValueKind(paramKind(fn, i, int(argc))), w)
	}

	if fn.HasNativeImpl() {
		res, err := st.CallNative(mod, fnIdx, args)
		if err != nil {
			return latch(err)
		}
		return res.Raw()
	}

	// A managed callee that hasn't itself been JIT-compiled is driven
	// to completion the same way a native embedder would: push a
	// CalledByNative frame and step the tree-walking interpreter until
	// it unwinds back out, the same Step loop vm.Finish runs.
	slot, err := st.CallFromNative(mod, fnIdx, args)
	if err != nil {
		return latch(err)
	}
	depth := len(st.Calls)
	for len(st.Calls) >= depth {
		cont, err := st.Step()
		if err != nil {
			return latch(err)
		}
		if !cont {
			break
		}
	}
	return st.ReadResultSlot(slot).Raw()
}

// resolveTarget decodes TrampolineCall's (a, b) register pair: a direct
// call site passes (module, fn) directly, an indirect call site packs
// b to the all-ones sentinel and a to a CallTarget value's raw word (see
// value.Value.Raw's module/fn packing).
func resolveTarget(a, b uint64) (mod, fn int, err error) {
	if b == ^uint64(0) {
		t := value.FromRaw(value.CallTarget, a)
		target, err := t.AsCallTarget()
		if err != nil {
			return 0, 0, err
		}
		return target.Module, target.Fn, nil
	}
	return int(a), int(b), nil
}

// paramKind reports the i'th of a function's n declared parameter types'
// Kind, unpacking the loader's single-vs-tuple encoding of arity (see
// loader/load.go's functionType).
func paramKind(fn *bytecode.Function, i, n int) bytecode.Kind {
	if fn.Typ.In == nil {
		return bytecode.KAny
	}
	if n <= 1 {
		return fn.Typ.In.Kind
	}
	if fn.Typ.In.Kind == bytecode.KTuple && i < len(fn.Typ.In.Elems) {
		return fn.Typ.In.Elems[i].Kind
	}
	return bytecode.KAny
}

// CompiledFn is the callable produced by Compile: a function pointer
// into the mmap'd code buffer that owns it, matching the
// (&State, &argv[0], argc) landing-pad convention TrampolineCall's
// callees are entered with.
type CompiledFn struct {
	buf   *codeBuffer
	entry uintptr

	// Code is the exact machine code Compile emitted, before the
	// mmap'd buffer's rounding/padding - kept around so a disassembler
	// (see jit_test.go) can walk precisely the instructions this
	// function runs, not whatever garbage trails it in the page.
	Code []byte
}

// Invoke calls into compiled native code, marshaling args into a scratch
// word array the same way TrampolineCall does for a managed caller, and
// returns the raw result word reinterpreted via the callee's declared
// result type.
func (c *CompiledFn) Invoke(st *bytecode.State, resultKind value.Kind, args []value.Value) (value.Value, error) {
	clearFault()
	words := make([]uint64, len(args))
	for i, a := range args {
		words[i] = a.Raw()
	}
	var argv *uint64
	if len(words) > 0 {
		argv = &words[0]
	}
	raw := callCompiled(c.entry, st, argv, uint64(len(words)))
	if trapFault != nil {
		err := trapFault
		trapFault = nil
		return value.Value{}, fmt.Errorf("jit: fault in compiled code: %w", err)
	}
	return value.FromRaw(resultKind, raw), nil
}
