// Package jit compiles one function's AST instruction vector directly to
// x86-64 machine code (spec.md §4.I/§4.J): build its control-flow graph
// (package cfg), solve per-Var liveness over it (package dataflow),
// assign registers/stack slots with linear-scan (package regalloc), then
// walk the instructions once more calling each one's Instruction.Emit
// against this package's bytecode.Emitter implementation (state.go).
package jit

import (
	"galevm/bytecode"
	"galevm/cfg"
	"galevm/dataflow"
	"galevm/regalloc"
)

// Compile lowers fn to native code and returns a callable CompiledFn. It
// fails - falling the caller back to interpretation for this function -
// if typechecking fails, or if any instruction's Emit refuses to lower
// (e.g. dialect.Tup, whose tuple result is never register-resident).
func Compile(fn *bytecode.Function) (*CompiledFn, error) {
	if !nativeSupported {
		return nil, notCompilable(fn, "requires an amd64 host")
	}
	if !fn.HasASTImpl() {
		return nil, notCompilable(fn, "has no AST implementation to compile")
	}
	if _, err := typecheckFunction(fn); err != nil {
		return nil, err
	}

	instrs := fn.AST.Instructions
	g := cfg.Build(instrs, fn.AST.Labels)
	intervals := dataflow.Liveness(instrs, g)
	alloc := regalloc.Allocate(intervals)

	s := newState(fn, alloc)
	s.selfEntry = 0

	numParams := numParamsOf(fn)
	emitPrologue(s, numParams)

	for pc, instr := range instrs {
		s.curInstr = instr
		s.curPC = pc
		if instr.Behaviour() == bytecode.Target {
			for _, lbl := range instr.Targets() {
				s.labelPos[lbl] = s.Pos()
			}
		}
		if err := instr.Emit(s, fn, pc); err != nil {
			return nil, err
		}
	}
	if err := s.resolveFixups(); err != nil {
		return nil, err
	}

	buf, err := allocExecutable(len(s.code))
	if err != nil {
		return nil, err
	}
	copy(buf.bytes(), s.code)
	if err := buf.makeExecutable(); err != nil {
		return nil, err
	}
	cf := &CompiledFn{buf: buf, entry: buf.entry(), Code: s.code}
	registerCompiled(fn, cf)
	return cf, nil
}

func notCompilable(fn *bytecode.Function, msg string) error {
	return &compileError{fn: fn.Name, msg: msg}
}

type compileError struct {
	fn  string
	msg string
}

func (e *compileError) Error() string { return "jit: " + e.fn + " " + e.msg }

// typecheckFunction runs a single linear pass of Instruction.Typecheck
// over fn's instruction stream and caches the result on fn.TypeEnv
// (spec.md §3's "typechecked functions cache a TypeEnvironment"). Unlike
// a dataflow-correct checker this doesn't merge types at control-flow
// join points; every program this engine loads assigns each Var a single
// static type for its whole lifetime (the loader's two-operand ui32/mov/
// arithmetic opcodes never retype a Var), so a straight-line pass over
// program order already sees every Var's type before its first use.
func typecheckFunction(fn *bytecode.Function) (*bytecode.TypeEnv, error) {
	if fn.TypeEnv != nil {
		return fn.TypeEnv, nil
	}
	env := bytecode.NewTypeEnv()
	seedParamTypes(env, fn.Typ)
	for _, instr := range fn.AST.Instructions {
		if err := instr.Typecheck(env); err != nil {
			return nil, err
		}
	}
	fn.TypeEnv = env
	return env, nil
}

func seedParamTypes(env *bytecode.TypeEnv, typ bytecode.Type) {
	if typ.In == nil || typ.In.Kind == bytecode.KUnit {
		return
	}
	if typ.In.Kind == bytecode.KTuple {
		for i, e := range typ.In.Elems {
			env.Set(bytecode.Var(i), e)
		}
		return
	}
	env.Set(bytecode.Var(0), *typ.In)
}

func numParamsOf(fn *bytecode.Function) int {
	if fn.Typ.In == nil {
		return 0
	}
	switch fn.Typ.In.Kind {
	case bytecode.KUnit:
		return 0
	case bytecode.KTuple:
		return len(fn.Typ.In.Elems)
	default:
		return 1
	}
}

func align16(n int32) int32 { return (n + 15) &^ 15 }

// emitPrologue writes the standard frame-setup sequence: push rbp, mov
// rbp,rsp, reserve this function's locals (one slot for the *State this
// invocation runs against, plus whatever regalloc spilled), then copy the
// incoming (argv, argc) pair - per the (&State, &argv[0], argc) landing
// convention every compiled entry and TrampolineCall/CompiledFn.Invoke
// caller agrees on - into each parameter Var's assigned home. It returns
// the total reserved frame size so the caller can account for it.
func emitPrologue(s *State, numParams int) int32 {
	s.stateSlot = -int32(s.alloc.StackSlots+1) * wordSize
	// One extra slot below stateSlot stays reserved for Loc's
	// dead-variable fallback, so even that path never addresses memory
	// outside the frame.
	frameSize := align16(-s.stateSlot + wordSize)

	pushRegRaw(&s.code, rRBP)
	movRegRegRaw(&s.code, rRBP, rRSP)
	subRspImm32(&s.code, uint32(frameSize))

	movStackRegRaw(&s.code, rRBP, s.stateSlot, rRDI)

	for i := 0; i < numParams; i++ {
		movRegStackRaw(&s.code, rRAX, rRSI, int32(i)*wordSize)
		storeResultRaw(s, bytecode.Var(i), rRAX)
	}
	return frameSize
}
