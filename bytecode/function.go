package bytecode

import (
	"fmt"

	"galevm/value"
)

// ImplKind enumerates the three ways a Function may be implemented
// (spec.md §3). A Function holds a non-empty set drawn from these.
type ImplKind int

const (
	ImplAST ImplKind = 1 << iota
	ImplBytecode
	ImplNative
)

// ASTImpl is a function implemented as a vector of Instruction values -
// what the loader produces and what the interpreter and JIT both consume
// (spec.md §3).
type ASTImpl struct {
	Instructions []Instruction
	NumVars      int
	Labels       map[Label]int // label -> instruction index
}

// BytecodeImpl is a function implemented as a flat encoded byte buffer
// (the `bytecode` variant of spec.md §3's Function). This engine's loader
// never produces one, and nothing in this package converts an ASTImpl
// into one.
type BytecodeImpl struct {
	Bytes []byte
}

// NativeFn is a function body supplied directly by the embedder (e.g.
// parse_ui64 in the §8 scenarios). It receives its arguments already
// materialized (mirroring the teacher's C-ABI "native implementation"
// contract without requiring cgo) and returns its result directly,
// rather than writing into a reserved stack slot itself: a
// managed->native call (spec.md §4.F) pushes no frame at all, so there
// is no slot for it to write into until the caller's own instruction
// places the result.
type NativeFn func(st *State, args []value.Value) (value.Value, error)

// NativeImpl holds a native implementation and its arity.
type NativeImpl struct {
	Fn    NativeFn
	Arity int
}

// Function is one named, independently addressable unit (spec.md §3).
type Function struct {
	Name   string
	Module int
	Index  int  // stable location index within its module
	Typ    Type // Fn(in, out)

	Kind     ImplKind
	AST      *ASTImpl
	BC       *BytecodeImpl
	NativeFn *NativeImpl

	// TypeEnv caches the result of a prior Typecheck pass (spec.md §3:
	// "typechecked functions additionally cache a TypeEnvironment").
	TypeEnv *TypeEnv
}

func (f *Function) HasASTImpl() bool      { return f.Kind&ImplAST != 0 }
func (f *Function) HasBytecodeImpl() bool { return f.Kind&ImplBytecode != 0 }
func (f *Function) HasNativeImpl() bool   { return f.Kind&ImplNative != 0 }

// FrameSize returns max(writes ∪ reads ∪ params) + 1, computed by the
// loader at materialization time (spec.md §4.E step 4) and cached on
// AST.NumVars.
func (f *Function) FrameSize() int {
	if f.AST == nil {
		return 0
	}
	return f.AST.NumVars
}

// ASTInstructions returns this function's instruction vector, or an
// error if it has no AST implementation.
func (f *Function) ASTInstructions() ([]Instruction, error) {
	if !f.HasASTImpl() {
		return nil, fmt.Errorf("bytecode: function %q has no AST implementation", f.Name)
	}
	return f.AST.Instructions, nil
}

// ComputeDirectFunctionCalls resolves every `call`-behaved instruction's
// symbolic (module-name, function-name) target into numeric ids, once
// every module's function ids are known (spec.md §4.C). Applying it
// twice is a no-op (spec.md §8 idempotence): CallResolver.ResolveCalls is
// written to be safe to call again since it only ever replaces an
// unresolved placeholder, never an already-resolved CallSite.
type CallResolver interface {
	ResolveCalls(ms *ModuleSet) error
}

func ComputeDirectFunctionCalls(ms *ModuleSet) error {
	for _, m := range ms.All() {
		for _, fn := range m.Fns {
			if !fn.HasASTImpl() {
				continue
			}
			for _, instr := range fn.AST.Instructions {
				if resolver, ok := instr.(CallResolver); ok {
					if err := resolver.ResolveCalls(ms); err != nil {
						return fmt.Errorf("bytecode: resolving calls in %s:%s: %w", m.Name, fn.Name, err)
					}
				}
			}
		}
	}
	return nil
}
