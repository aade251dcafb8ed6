package jit

import (
	"fmt"

	"galevm/bytecode"
	"galevm/dialect"
	"galevm/regalloc"
	"galevm/value"
)

// wordSize is the size in bytes of one Var slot, matching every other
// package's 8-byte-word convention (see value.Value.Raw).
const wordSize = 8

// fixup records a forward jump whose 4-byte rel32 displacement couldn't
// be resolved when it was emitted.
type fixup struct {
	at    int
	label bytecode.Label
}

// State is the compile-time Emitter (bytecode.Emitter) for one function
// being compiled. It owns the growing code buffer and everything needed
// to lower a single instruction: the register/stack assignment from
// package regalloc, the label/fixup bookkeeping, and a pointer to the
// instruction currently being lowered (so CallRuntime can recover
// compile-time-only operands - a constant index, an allocation size -
// that don't fit the Var-only args list the Emitter interface exposes).
type State struct {
	code []byte

	fn    *bytecode.Function
	alloc *regalloc.Allocation

	labelPos map[bytecode.Label]int
	fixups   []fixup

	curInstr bytecode.Instruction
	curPC    int

	// stateSlot is the RBP-relative offset of the one reserved stack slot
	// holding this invocation's *bytecode.State, written once in the
	// prologue (see compile.go) and reread by every CallRuntime/
	// TrampolineCall site - the Emitter interface has no Var for it since
	// it is never a program-visible value.
	stateSlot int32
	// selfEntry is the code offset of this function's own prologue, for
	// TrampolineCall's direct-recursive-call fast path.
	selfEntry int

	failed error
}

func newState(fn *bytecode.Function, alloc *regalloc.Allocation) *State {
	return &State{
		fn:       fn,
		alloc:    alloc,
		labelPos: make(map[bytecode.Label]int),
	}
}

func (s *State) Emit(b ...byte) { s.code = append(s.code, b...) }

func (s *State) EmitU32(v uint32) { emitU32(&s.code, v) }

func (s *State) EmitU64(v uint64) { emitU64(&s.code, v) }

func (s *State) Pos() int { return len(s.code) }

func (s *State) PatchRel32(at int, target int) {
	rel := int32(target - (at + 4))
	s.code[at], s.code[at+1], s.code[at+2], s.code[at+3] =
		byte(rel), byte(rel >> 8), byte(rel >> 16), byte(rel >> 24)
}

func (s *State) Loc(v bytecode.Var) bytecode.VarLoc {
	loc, ok := s.alloc.Locs[v]
	if !ok {
		// A Var the allocator never saw an interval for (e.g. it's read
		// before any write reaches this path) is dead on this path;
		// callers only ever read a location for an operand Reads()
		// reported, so this indicates a liveness bug rather than a
		// reachable runtime condition. Default it to a stack slot past
		// the allocated frame so emission can proceed; Typecheck (run
		// before Emit, see compile.go) is what actually guards against
		// uninitialized reads reaching here.
		return bytecode.VarLoc{InRegister: false, StackOff: s.stateSlot - wordSize}
	}
	return loc
}

// Scratch returns the JIT's two reserved-from-the-pool registers (see
// regalloc.Pool's doc comment): never a Var's home, always free for an
// instruction's Emit to stage a stack-to-stack operation or compute an
// intermediate value in.
func (s *State) Scratch() (bytecode.Reg, bytecode.Reg) { return bytecode.RSI, bytecode.RDI }

func (s *State) LabelPos(label bytecode.Label) (int, bool) {
	p, ok := s.labelPos[label]
	return p, ok
}

func (s *State) RecordFixup(at int, label bytecode.Label) {
	s.fixups = append(s.fixups, fixup{at: at, label: label})
}

func (s *State) SelfEntry() int { return s.selfEntry }

func (s *State) Fail(format string, args ...any) error {
	err := fmt.Errorf("jit: "+format, args...)
	s.failed = err
	return err
}

// resolveFixups patches every forward jump recorded during emission now
// that every label in the function has a known code offset. Called once
// after the last instruction has been emitted (see compile.go).
func (s *State) resolveFixups() error {
	for _, fx := range s.fixups {
		pos, ok := s.labelPos[fx.label]
		if !ok {
			return fmt.Errorf("jit: unresolved label %q in %s", fx.label, s.fn.Name)
		}
		s.PatchRel32(fx.at, pos)
	}
	return nil
}

// liveRegsAt returns the subset of regalloc.Pool() occupied by some Var
// whose liveness interval covers pc, in a fixed order (so the push/pop
// sequence CallRuntime emits is deterministic).
func (s *State) liveRegsAt(pc int) []bytecode.Reg {
	var live []bytecode.Reg
	for _, r := range regalloc.Pool() {
		if _, ok := s.alloc.RegUsedAt(r, pc); ok {
			live = append(live, r)
		}
	}
	return live
}

// CallRuntime implements the cross-call spill discipline of spec.md
// §4.J: every live pool register other than dest's own is pushed before
// the call and popped after (with one padding push if the count is odd,
// to preserve 16-byte stack alignment across the `call`), arguments are
// staged into RSI/RDX, &State is reloaded from its reserved frame slot
// into RDI, the helper index into RCX, and the call lands on
// asmHelperTrampoline - a small hand-written assembly shim (asm_amd64.s)
// that re-stages those four registers onto the stack and calls the
// actual Go helper by symbol, the one ABI-stable way to enter a
// normal Go function from machine code emitted at runtime (see
// jit/runtime.go and DESIGN.md).
func (s *State) CallRuntime(helper bytecode.RuntimeHelper, args []bytecode.Var, dest bytecode.Var) error {
	pc := s.curPC
	destReg, destInReg := bytecode.RegNone, false
	if dest != bytecode.NoVar {
		if loc := s.Loc(dest); loc.InRegister {
			destReg, destInReg = loc.Reg, true
		}
	}

	var saved []bytecode.Reg
	for _, r := range s.liveRegsAt(pc) {
		if destInReg && r == destReg {
			continue
		}
		saved = append(saved, r)
	}
	if len(saved)%2 != 0 {
		subRspImm32(&s.code, 8)
	}
	for _, r := range saved {
		pushRegRaw(&s.code, regEnc(r))
	}

	// Stage arguments before touching RDI/RSI/RDX with fixed roles: an
	// operand already resident in one of those registers must be read
	// before it's overwritten by a later step.
	switch helper {
	case bytecode.HelperAlloc:
		a, ok := s.curInstr.(*dialect.Alloc)
		if !ok {
			return s.Fail("HelperAlloc emitted from non-Alloc instruction")
		}
		size, _ := a.Typ.Size()
		movRegImm64Raw(&s.code, rRSI, size)
	case bytecode.HelperLoadConst:
		l, ok := s.curInstr.(*dialect.LoadC)
		if !ok {
			return s.Fail("HelperLoadConst emitted from non-LoadC instruction")
		}
		movRegImm64Raw(&s.code, rRSI, uint64(l.ConstIdx))
	default:
		if len(args) >= 1 {
			loadOperandRaw(s, args[0], rRSI)
		}
	}
	if helper == bytecode.HelperPrint {
		// a1 carries the printed Var's static Kind, recovered from the
		// function's cached TypeEnv: the raw word alone (what args would
		// otherwise supply) can't distinguish e.g. bool from ui64.
		k := bytecode.KAny
		if t, ok := s.fn.TypeEnv.Get(args[0]); ok {
			k = t.Kind
		}
		movRegImm64Raw(&s.code, rRDX, uint64(toValueKind(k)))
	} else if len(args) >= 2 {
		loadOperandRaw(s, args[1], rRDX)
	}

	movRegStackRaw(&s.code, rRDI, rRBP, s.stateSlot)
	// RCX carries the helper table index: asmHelperTrampoline (asm_amd64.s)
	// reads RDI/RSI/RDX/RCX and re-stages them onto the stack in
	// dispatchHelper's argument order before calling it by symbol, which is
	// the only way to reach a plain Go function's real entry point from
	// hand-emitted machine code (see DESIGN.md - a raw call through a
	// reflect-resolved *func* address lands on the ABIInternal register
	// convention, not the fixed RDI/RSI/RDX/RCX layout this emitter stages).
	movRegImm64Raw(&s.code, rRCX, uint64(helper))
	movRegImm64Raw(&s.code, rRAX, uint64(asmHelperTrampolineAddr))
	callRegRaw(&s.code, rRAX)

	if dest != bytecode.NoVar {
		storeResultRaw(s, dest, rRAX)
	}

	for i := len(saved) - 1; i >= 0; i-- {
		popRegRaw(&s.code, regEnc(saved[i]))
	}
	if len(saved)%2 != 0 {
		addRspImm32(&s.code, 8)
	}
	return nil
}

// TrampolineCall emits a call to another managed function, direct or
// indirect (spec.md §4.J): a direct intra-module recursive call reaches
// the callee's own prologue via SelfEntry, everything else is dispatched
// through the shared native trampoline (see trampoline.go), which knows
// how to cross between compiled, interpreted, and native callees.
func (s *State) TrampolineCall(target bytecode.CallSite, args []bytecode.Var, dest bytecode.Var) error {
	pc := s.curPC
	destReg, destInReg := bytecode.RegNone, false
	if dest != bytecode.NoVar {
		if loc := s.Loc(dest); loc.InRegister {
			destReg, destInReg = loc.Reg, true
		}
	}
	var saved []bytecode.Reg
	for _, r := range s.liveRegsAt(pc) {
		if destInReg && r == destReg {
			continue
		}
		saved = append(saved, r)
	}
	if len(saved)%2 != 0 {
		subRspImm32(&s.code, 8)
	}
	for _, r := range saved {
		pushRegRaw(&s.code, regEnc(r))
	}

	// Argument words are packed into a small on-stack array the
	// trampoline reads by address, rather than threaded through fixed
	// registers: calls are arbitrary arity but x86-64's integer argument
	// registers are not, so this engine always marshals managed call
	// arguments through memory (see DESIGN.md). RDI is the staging
	// register here because it is never a Var's home (the allocator pool
	// withholds it as a scratch) - staging through a pool register would
	// clobber a later argument still living in it.
	argBytes := int32(len(args)) * wordSize
	subRspImm32(&s.code, uint32(argBytes))
	for i, a := range args {
		loadOperandRaw(s, a, rRDI)
		movStackRegRaw(&s.code, rRSP, int32(i)*wordSize, rRDI)
	}

	// The target registers RCX/R8 are allocator pool members, so the
	// indirect target Var must be read out before anything else lands in
	// them; RDI/RSI/RDX are staged last (RDX is a pool member too, hence
	// argc goes in only after the target has been read).
	selfCall := target.Direct && target.Module == s.fn.Module && target.Fn == s.fn.Index
	if !selfCall {
		if target.Direct {
			movRegImm64Raw(&s.code, rRCX, uint64(target.Module))
			movRegImm64Raw(&s.code, rR8, uint64(target.Fn))
		} else {
			loadOperandRaw(s, target.ArgVar, rRCX) // packed (module<<32|fn), see value.Value.Raw
			movRegImm64Raw(&s.code, rR8, ^uint64(0))
		}
	}
	movRegStackRaw(&s.code, rRDI, rRBP, s.stateSlot)
	movRegRegRaw(&s.code, rRSI, rRSP) // &argv[0]
	movRegImm64Raw(&s.code, rRDX, uint64(len(args)))
	if selfCall {
		// Direct recursion skips the trampoline entirely and calls this
		// function's own prologue (spec.md §4.J "_self"): the
		// (&State, &argv[0], argc) triple is already staged in exactly
		// the registers the prologue reads.
		emit(&s.code, 0xE8)
		at := s.Pos()
		s.EmitU32(0)
		s.PatchRel32(at, s.selfEntry)
	} else {
		// asmTrampolineShim (asm_amd64.s) re-stages RDI/RSI/RDX/RCX/R8
		// onto the stack in trampolineDispatch's argument order and calls
		// it by symbol, for the same ABI reason CallRuntime routes through
		// asmHelperTrampoline instead of a reflect-resolved address.
		movRegImm64Raw(&s.code, rRAX, uint64(asmTrampolineShimAddr))
		callRegRaw(&s.code, rRAX)
	}

	addRspImm32(&s.code, uint32(argBytes))
	if dest != bytecode.NoVar {
		storeResultRaw(s, dest, rRAX)
	}

	for i := len(saved) - 1; i >= 0; i-- {
		popRegRaw(&s.code, regEnc(saved[i]))
	}
	if len(saved)%2 != 0 {
		addRspImm32(&s.code, 8)
	}
	return nil
}

// toValueKind maps a static bytecode.Kind to the runtime value.Kind tag
// used by Value.FromRaw, for helperPrint's benefit. Kinds that are never
// register/stack-word resident (Tuple) cannot reach here: such a Var's
// defining instruction already failed compilation (see dialect.Tup.Emit),
// which falls the whole function back to the interpreter before any Emit
// call involving it runs.
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

// loadOperandRaw/storeResultRaw mirror dialect's loadOperand/storeResult
// but operate on this file's raw register encodings (rRSI etc.), since
// CallRuntime/TrampolineCall need to address argument registers outside
// the bytecode.Reg enum the dialect package's copy is restricted to.
func loadOperandRaw(s *State, v bytecode.Var, dst byte) {
	loc := s.Loc(v)
	if loc.InRegister {
		if regEnc(loc.Reg) != dst {
			movRegRegRaw(&s.code, dst, regEnc(loc.Reg))
		}
		return
	}
	movRegStackRaw(&s.code, dst, rRBP, loc.StackOff)
}

func storeResultRaw(s *State, dest bytecode.Var, src byte) {
	loc := s.Loc(dest)
	if loc.InRegister {
		if regEnc(loc.Reg) != src {
			movRegRegRaw(&s.code, regEnc(loc.Reg), src)
		}
		return
	}
	movStackRegRaw(&s.code, rRBP, loc.StackOff, src)
}
