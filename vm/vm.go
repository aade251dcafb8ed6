// Package vm wires the heap, loader, dialect registry, interpreter
// driver, and JIT compilation cache behind one embedder-facing type
// (SPEC_FULL.md §0): the engine's counterpart to the teacher's gvm.VM -
// one heap, one set of loaded modules, one interpreter state, and
// (optionally) one JIT cache, all owned by a single VM instance per
// spec.md §5's "multiple VM instances share nothing" model.
package vm

import (
	"fmt"
	"io"
	"strconv"
	"strings"

	"galevm/bytecode"
	"galevm/dialect"
	"galevm/heap"
	"galevm/jit"
	"galevm/loader"
	"galevm/value"
)

// VM owns everything one loaded program needs to run, either interpreted
// or JIT-compiled.
type VM struct {
	Heap     *heap.Heap
	Modules  *bytecode.ModuleSet
	Registry *dialect.Registry
	State    *bytecode.State

	// UseJIT selects JIT compilation for main (and, transitively, every
	// function it calls through TrampolineCall); a function that fails
	// to compile falls back to the interpreter for that call only
	// (spec.md §4.F/J).
	UseJIT bool
	// Trace enables the step-by-step read/write tracing of spec.md §4.F.
	Trace bool

	compiled map[*bytecode.Function]*jit.CompiledFn
}

// New creates a VM with a heap of the given capacity (heap.DefaultCapacity
// if zero) and the built-in std dialect registered.
func New(heapCap uint64, stdout io.Writer, stdin io.Reader) *VM {
	h := heap.New(heapCap)
	ms := bytecode.NewModuleSet()
	reg := dialect.NewStandardRegistry()
	st := bytecode.NewState(h, ms, stdout, stdin)
	return &VM{
		Heap:     h,
		Modules:  ms,
		Registry: reg,
		State:    st,
		compiled: make(map[*bytecode.Function]*jit.CompiledFn),
	}
}

// LoadFile loads the module stored at path and installs this VM's native
// runtime collaborators (parse_ui64, ...) into it.
func (vm *VM) LoadFile(path string) (*bytecode.Module, error) {
	m, err := loader.LoadFile(vm.Modules, vm.Registry, vm.Heap, path)
	if err != nil {
		return nil, err
	}
	vm.installRuntime(m)
	return m, nil
}

// LoadSource is LoadFile's in-memory counterpart, used by tests and by
// any embedder that already has the module's text (name is used only for
// diagnostics).
func (vm *VM) LoadSource(name, src string) (*bytecode.Module, error) {
	m, err := loader.LoadSource(vm.Modules, vm.Registry, vm.Heap, name, src)
	if err != nil {
		return nil, err
	}
	vm.installRuntime(m)
	return m, nil
}

// Link resolves every symbolic call target across every module currently
// loaded (spec.md §4.C compute_direct_function_calls). Call it once,
// after every module that might be referenced has been loaded; calling
// it again is a no-op (spec.md §8 idempotence).
func (vm *VM) Link() error {
	return bytecode.ComputeDirectFunctionCalls(vm.Modules)
}

// installRuntime wires this VM's native collaborators into m under the
// names the §8 scenarios call them by: a program-supplied bytecode
// module gets to treat `@parse_ui64` as an ordinary unqualified sibling
// function, just as if the loader had materialized it from text, even
// though its implementation is embedder-native Go (spec.md §4.F
// managed->native convention; see loader.DeclareNative). Installing it
// per-module (rather than once into a separate "runtime" module reached
// through a qualified `@rt:parse_ui64`) keeps the single-segment call
// syntax spec.md §8's scenario 1 literally uses valid (see DESIGN.md).
func (vm *VM) installRuntime(m *bytecode.Module) {
	if _, ok := m.FunctionByName("parse_ui64"); ok {
		return
	}
	// The argument arrives as a plain ui64, not a Pointer-kind Value: a
	// program reaches the string's address via idx (a pointer to the
	// argv slot) followed by std:load, and std:load always tags its
	// result UI64 regardless of what the loaded word actually encodes
	// (see DESIGN.md). parse_ui64 reinterprets that word as a heap
	// address itself.
	typ := bytecode.Fn(bytecode.U64(), bytecode.U64())
	loader.DeclareNative(m, "parse_ui64", typ, 1, nativeParseUI64)
}

// nativeParseUI64 implements the one native collaborator every §8
// scenario's main relies on: parse the NUL-terminated string at the
// address argument into an unsigned integer.
func nativeParseUI64(st *bytecode.State, args []value.Value) (value.Value, error) {
	addr, err := args[0].AsUI64()
	if err != nil {
		return value.Value{}, fmt.Errorf("vm: parse_ui64: %w", err)
	}
	s, err := st.Heap.LoadString(addr)
	if err != nil {
		return value.Value{}, err
	}
	n, err := strconv.ParseUint(strings.TrimSpace(s), 10, 64)
	if err != nil {
		return value.Value{}, fmt.Errorf("vm: parse_ui64: %w", err)
	}
	return value.UI64Val(n), nil
}

// BuildArgv writes each of cliArgs as a length-prefixed, NUL-terminated
// string onto the heap (heap.StoreString) and assembles a flat array of
// their pointers, one 8-byte word per argument, terminated by a null
// sentinel word. spec.md §6 specifies that main's $0 receives this
// array's address but is silent on how a program learns its length; this
// engine resolves that by making the array null-terminated (see
// DESIGN.md), the same convention a C argv array uses.
func (vm *VM) BuildArgv(cliArgs []string) (uint64, error) {
	ptrs := make([]uint64, 0, len(cliArgs)+1)
	for _, a := range cliArgs {
		p, err := vm.Heap.Allocate(8 + uint64(len(a)) + 1)
		if err != nil {
			return 0, err
		}
		if err := vm.Heap.StoreString(p, a); err != nil {
			return 0, err
		}
		ptrs = append(ptrs, p)
	}
	ptrs = append(ptrs, 0)

	arr, err := vm.Heap.Allocate(uint64(len(ptrs)) * 8)
	if err != nil {
		return 0, err
	}
	for i, p := range ptrs {
		if err := vm.Heap.StoreU64(arr+uint64(i)*8, p); err != nil {
			return 0, err
		}
	}
	return arr, nil
}

// Run executes mod's main to completion with cliArgs as its argv, under
// the JIT if vm.UseJIT (falling back to the interpreter if main fails to
// compile) or the tree-walking interpreter otherwise.
func (vm *VM) Run(mod *bytecode.Module, cliArgs []string) (value.Value, error) {
	fnIdx, ok := mod.FunctionByName("main")
	if !ok {
		return value.Value{}, fmt.Errorf("vm: module %q has no main function", mod.Name)
	}
	fn, err := mod.Function(fnIdx)
	if err != nil {
		return value.Value{}, err
	}

	argvPtr, err := vm.BuildArgv(cliArgs)
	if err != nil {
		return value.Value{}, err
	}
	args := []value.Value{value.PointerVal(argvPtr)}

	defer vm.State.Stdout.Flush()

	if vm.UseJIT {
		// Compile the whole module up front: compilation is the only time
		// the dispatcher-visible compiled-code registry may change
		// (spec.md §5), so by the time any native code runs, every
		// function that can be compiled already has been, and the
		// trampoline dispatches compiled-to-compiled wherever possible.
		vm.compileModule(mod)
		if cf, ok := vm.compiled[fn]; ok {
			resultKind := toValueKind(fn.Typ.Out.Kind)
			return cf.Invoke(vm.State, resultKind, args)
		}
		// main itself failed to compile: fall back to the interpreter for
		// it (spec.md §4.F/J); its callees still run compiled when the
		// trampoline finds them in the registry.
	}
	return vm.runInterpreted(mod.ID, fnIdx, args)
}

// compileModule attempts to compile every AST function in mod, caching
// what succeeds. A function that refuses to lower (a type error, an
// instruction with no native form) is simply skipped - the interpreter
// covers it at dispatch time.
func (vm *VM) compileModule(mod *bytecode.Module) {
	for _, fn := range mod.Fns {
		if !fn.HasASTImpl() {
			continue
		}
		vm.compileCached(fn)
	}
}

func (vm *VM) runInterpreted(modID, fnIdx int, args []value.Value) (value.Value, error) {
	slot, err := vm.State.CallFromNative(modID, fnIdx, args)
	if err != nil {
		return value.Value{}, err
	}
	if err := vm.Finish(); err != nil {
		return value.Value{}, err
	}
	return vm.State.ReadResultSlot(slot), nil
}

func (vm *VM) compileCached(fn *bytecode.Function) (*jit.CompiledFn, error) {
	if cf, ok := vm.compiled[fn]; ok {
		return cf, nil
	}
	cf, err := jit.Compile(fn)
	if err != nil {
		return nil, err
	}
	vm.compiled[fn] = cf
	return cf, nil
}

// toValueKind maps a function's declared result Kind onto the runtime
// value.Kind tag CompiledFn.Invoke needs to reinterpret its raw result
// word with - the vm package's own copy of jit's unexported helper of
// the same name, since that one is compile-time-only plumbing private to
// the emitter (see DESIGN.md).
func toValueKind(k bytecode.Kind) value.Kind {
	switch k {
	case bytecode.KBool:
		return value.Bool
	case bytecode.KPointer, bytecode.KStr, bytecode.KArray:
		return value.Pointer
	case bytecode.KUnit:
		return value.Unit
	case bytecode.KFn:
		return value.CallTarget
	default:
		return value.UI64
	}
}
