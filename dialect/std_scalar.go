package dialect

import (
	"fmt"

	"galevm/bytecode"
	"galevm/value"
)

// ConstU64 loads an immediate ui64 into Dest (std:ui32 in source, named
// for the teacher's instruction even though the payload is a full 64-bit
// word - see SPEC_FULL.md §4 on `sizeof` folding to this same node).
type ConstU64 struct {
	Dest bytecode.Var
	Val  uint64
}

func (c *ConstU64) Reads() []bytecode.Var  { return nil }
func (c *ConstU64) Writes() []bytecode.Var { return []bytecode.Var{c.Dest} }
func (c *ConstU64) Behaviour() bytecode.Behaviour { return bytecode.Linear }
func (c *ConstU64) Targets() []bytecode.Label      { return nil }

func (c *ConstU64) Interpret(st *bytecode.State) (bool, error) {
	st.SetVar(c.Dest, value.UI64Val(c.Val))
	st.IP++
	return true, nil
}

func (c *ConstU64) Emit(e bytecode.Emitter, fn *bytecode.Function, pc int) error {
	loc := e.Loc(c.Dest)
	if loc.InRegister {
		movRegImm64(e, loc.Reg, c.Val)
		return nil
	}
	scratch, _ := e.Scratch()
	movRegImm64(e, scratch, c.Val)
	storeResult(e, c.Dest, scratch)
	return nil
}

func (c *ConstU64) Typecheck(env *bytecode.TypeEnv) error {
	env.Set(c.Dest, bytecode.U64())
	return nil
}

func (c *ConstU64) Display() string { return fmt.Sprintf("std:ui32 $%d, %d", c.Dest, c.Val) }
func (c *ConstU64) OpSize() int     { return 8 }
func (c *ConstU64) Emplace(buf []byte) {
	buf[0], buf[1] = opConstU64, byte(c.Dest)
	putU32(buf[4:8], uint32(c.Val))
}

// ConstBool loads an immediate bool into Dest.
type ConstBool struct {
	Dest bytecode.Var
	Val  bool
}

func (c *ConstBool) Reads() []bytecode.Var         { return nil }
func (c *ConstBool) Writes() []bytecode.Var        { return []bytecode.Var{c.Dest} }
func (c *ConstBool) Behaviour() bytecode.Behaviour  { return bytecode.Linear }
func (c *ConstBool) Targets() []bytecode.Label      { return nil }

func (c *ConstBool) Interpret(st *bytecode.State) (bool, error) {
	st.SetVar(c.Dest, value.BoolVal(c.Val))
	st.IP++
	return true, nil
}

func (c *ConstBool) Emit(e bytecode.Emitter, fn *bytecode.Function, pc int) error {
	v := uint64(0)
	if c.Val {
		v = 1
	}
	loc := e.Loc(c.Dest)
	if loc.InRegister {
		movRegImm64(e, loc.Reg, v)
		return nil
	}
	scratch, _ := e.Scratch()
	movRegImm64(e, scratch, v)
	storeResult(e, c.Dest, scratch)
	return nil
}

func (c *ConstBool) Typecheck(env *bytecode.TypeEnv) error {
	env.Set(c.Dest, bytecode.Bool())
	return nil
}

func (c *ConstBool) Display() string { return fmt.Sprintf("std:bool $%d, %t", c.Dest, c.Val) }
func (c *ConstBool) OpSize() int     { return 8 }
func (c *ConstBool) Emplace(buf []byte) {
	buf[0], buf[1] = opConstBool, byte(c.Dest)
	if c.Val {
		buf[2] = 1
	}
}

// Mov copies Src into Dest.
type Mov struct {
	Dest, Src bytecode.Var
}

func (m *Mov) Reads() []bytecode.Var        { return []bytecode.Var{m.Src} }
func (m *Mov) Writes() []bytecode.Var       { return []bytecode.Var{m.Dest} }
func (m *Mov) Behaviour() bytecode.Behaviour { return bytecode.Linear }
func (m *Mov) Targets() []bytecode.Label     { return nil }

func (m *Mov) Interpret(st *bytecode.State) (bool, error) {
	st.SetVar(m.Dest, st.GetVar(m.Src))
	st.IP++
	return true, nil
}

func (m *Mov) Emit(e bytecode.Emitter, fn *bytecode.Function, pc int) error {
	srcLoc, dstLoc := e.Loc(m.Src), e.Loc(m.Dest)
	if srcLoc.InRegister && dstLoc.InRegister {
		movRegReg(e, dstLoc.Reg, srcLoc.Reg)
		return nil
	}
	scratch, _ := e.Scratch()
	loadOperand(e, m.Src, scratch)
	storeResult(e, m.Dest, scratch)
	return nil
}

func (m *Mov) Typecheck(env *bytecode.TypeEnv) error {
	t, ok := env.Get(m.Src)
	if !ok {
		return fmt.Errorf("dialect: mov reads uninitialized $%d", m.Src)
	}
	env.Set(m.Dest, t)
	return nil
}

func (m *Mov) Display() string { return fmt.Sprintf("std:mov $%d, $%d", m.Dest, m.Src) }
func (m *Mov) OpSize() int     { return 8 }
func (m *Mov) Emplace(buf []byte) {
	buf[0], buf[1], buf[2] = opMov, byte(m.Dest), byte(m.Src)
}

// LoadFnAddr materializes the address of a statically named function as a
// CallTarget value in Dest (std:movi), enabling the fn-as-parameter
// pattern: pass the result to another function's call site as an
// indirect target.
type LoadFnAddr struct {
	Dest        bytecode.Var
	Segments    []string
	resolveFrom int

	resolved bool
	target   value.Target
}

func (l *LoadFnAddr) Reads() []bytecode.Var         { return nil }
func (l *LoadFnAddr) Writes() []bytecode.Var        { return []bytecode.Var{l.Dest} }
func (l *LoadFnAddr) Behaviour() bytecode.Behaviour  { return bytecode.Linear }
func (l *LoadFnAddr) Targets() []bytecode.Label      { return nil }

// ResolveCalls implements bytecode.CallResolver: it resolves Segments
// against ms exactly once, defaulting an unqualified name to the module
// this instruction was parsed in. Calling it again is a no-op, which is
// the idempotence ComputeDirectFunctionCalls relies on.
func (l *LoadFnAddr) ResolveCalls(ms *bytecode.ModuleSet) error {
	if l.resolved {
		return nil
	}
	mod, fn, err := resolveName(ms, l.resolveFrom, l.Segments)
	if err != nil {
		return err
	}
	l.target = value.Target{Module: mod, Fn: fn}
	l.resolved = true
	return nil
}

// NewLoadFnAddr constructs a movi instruction bound to the module it was
// parsed in, so ResolveCalls can default an unqualified name to that
// module.
func NewLoadFnAddr(dest bytecode.Var, fromModule int, segs []string) *LoadFnAddr {
	return &LoadFnAddr{Dest: dest, Segments: segs, resolveFrom: fromModule}
}

func (l *LoadFnAddr) Interpret(st *bytecode.State) (bool, error) {
	if !l.resolved {
		return false, fmt.Errorf("dialect: movi $%d unresolved at run time", l.Dest)
	}
	st.SetVar(l.Dest, value.CallTargetVal(l.target))
	st.IP++
	return true, nil
}

func (l *LoadFnAddr) Emit(e bytecode.Emitter, fn *bytecode.Function, pc int) error {
	if !l.resolved {
		return e.Fail("movi $%d unresolved", l.Dest)
	}
	raw := uint64(uint32(l.target.Module)) | uint64(uint32(l.target.Fn))<<32
	loc := e.Loc(l.Dest)
	if loc.InRegister {
		movRegImm64(e, loc.Reg, raw)
		return nil
	}
	scratch, _ := e.Scratch()
	movRegImm64(e, scratch, raw)
	storeResult(e, l.Dest, scratch)
	return nil
}

func (l *LoadFnAddr) Typecheck(env *bytecode.TypeEnv) error {
	env.Set(l.Dest, bytecode.Fn(bytecode.Any(), bytecode.Any()))
	return nil
}

func (l *LoadFnAddr) Display() string {
	return fmt.Sprintf("std:movi $%d, @%s", l.Dest, joinSegments(l.Segments))
}
func (l *LoadFnAddr) OpSize() int { return 0 } // not representable compactly
func (l *LoadFnAddr) Emplace(buf []byte) {}

func joinSegments(segs []string) string {
	s := ""
	for i, seg := range segs {
		if i > 0 {
			s += ":"
		}
		s += seg
	}
	return s
}

// binOp is the shared shape of eq/lt/sub/add/mul.
type binOp struct {
	Dest, A, B bytecode.Var
}

func (b binOp) Reads() []bytecode.Var         { return []bytecode.Var{b.A, b.B} }
func (b binOp) Writes() []bytecode.Var        { return []bytecode.Var{b.Dest} }
func (b binOp) Behaviour() bytecode.Behaviour  { return bytecode.Linear }
func (b binOp) Targets() []bytecode.Label      { return nil }

func (b binOp) typecheckArith(env *bytecode.TypeEnv) error {
	for _, v := range []bytecode.Var{b.A, b.B} {
		t, ok := env.Get(v)
		if !ok {
			return fmt.Errorf("dialect: arithmetic reads uninitialized $%d", v)
		}
		if t.Kind != bytecode.KU64 {
			return fmt.Errorf("dialect: arithmetic expects ui64, $%d has %s", v, t)
		}
	}
	env.Set(b.Dest, bytecode.U64())
	return nil
}

// Eq compares A and B for equality, writing a bool to Dest.
type Eq struct{ binOp }
type Lt struct{ binOp }
type Sub struct{ binOp }
type Add struct{ binOp }
type Mul struct{ binOp }

func (e *Eq) Interpret(st *bytecode.State) (bool, error) { return binInterpret(st, e.binOp, func(a, b uint64) value.Value { return value.BoolVal(a == b) }) }
func (l *Lt) Interpret(st *bytecode.State) (bool, error) { return binInterpret(st, l.binOp, func(a, b uint64) value.Value { return value.BoolVal(a < b) }) }
func (s *Sub) Interpret(st *bytecode.State) (bool, error) { return binInterpret(st, s.binOp, func(a, b uint64) value.Value { return value.UI64Val(a - b) }) }
func (a *Add) Interpret(st *bytecode.State) (bool, error) { return binInterpret(st, a.binOp, func(x, y uint64) value.Value { return value.UI64Val(x + y) }) }
func (m *Mul) Interpret(st *bytecode.State) (bool, error) { return binInterpret(st, m.binOp, func(a, b uint64) value.Value { return value.UI64Val(a * b) }) }

func binInterpret(st *bytecode.State, b binOp, f func(a, c uint64) value.Value) (bool, error) {
	a, err := st.GetVar(b.A).AsUI64()
	if err != nil {
		return false, err
	}
	c, err := st.GetVar(b.B).AsUI64()
	if err != nil {
		return false, err
	}
	st.SetVar(b.Dest, f(a, c))
	st.IP++
	return true, nil
}

func (e *Eq) Typecheck(env *bytecode.TypeEnv) error {
	if err := e.binOp.typecheckArith(env); err != nil {
		return err
	}
	env.Set(e.Dest, bytecode.Bool())
	return nil
}
func (l *Lt) Typecheck(env *bytecode.TypeEnv) error {
	if err := l.binOp.typecheckArith(env); err != nil {
		return err
	}
	env.Set(l.Dest, bytecode.Bool())
	return nil
}
func (s *Sub) Typecheck(env *bytecode.TypeEnv) error { return s.binOp.typecheckArith(env) }
func (a *Add) Typecheck(env *bytecode.TypeEnv) error { return a.binOp.typecheckArith(env) }
func (m *Mul) Typecheck(env *bytecode.TypeEnv) error { return m.binOp.typecheckArith(env) }

func (e *Eq) Display() string  { return fmt.Sprintf("std:eq $%d, $%d, $%d", e.Dest, e.A, e.B) }
func (l *Lt) Display() string  { return fmt.Sprintf("std:lt $%d, $%d, $%d", l.Dest, l.A, l.B) }
func (s *Sub) Display() string { return fmt.Sprintf("std:sub $%d, $%d, $%d", s.Dest, s.A, s.B) }
func (a *Add) Display() string { return fmt.Sprintf("std:add $%d, $%d, $%d", a.Dest, a.A, a.B) }
func (m *Mul) Display() string { return fmt.Sprintf("std:mul $%d, $%d, $%d", m.Dest, m.A, m.B) }

func (e *Eq) OpSize() int  { return 8 }
func (l *Lt) OpSize() int  { return 8 }
func (s *Sub) OpSize() int { return 8 }
func (a *Add) OpSize() int { return 8 }
func (m *Mul) OpSize() int { return 8 }

func (b binOp) emplace(buf []byte, op byte) {
	buf[0], buf[1], buf[2], buf[3] = op, byte(b.Dest), byte(b.A), byte(b.B)
}
func (e *Eq) Emplace(buf []byte)  { e.binOp.emplace(buf, opEq) }
func (l *Lt) Emplace(buf []byte)  { l.binOp.emplace(buf, opLt) }
func (s *Sub) Emplace(buf []byte) { s.binOp.emplace(buf, opSub) }
func (a *Add) Emplace(buf []byte) { a.binOp.emplace(buf, opAdd) }
func (m *Mul) Emplace(buf []byte) { m.binOp.emplace(buf, opMul) }

func (e *Eq) Emit(em bytecode.Emitter, fn *bytecode.Function, pc int) error {
	return emitBinFlagOp(em, e.binOp, ccEqual)
}
func (l *Lt) Emit(em bytecode.Emitter, fn *bytecode.Function, pc int) error {
	return emitBinFlagOp(em, l.binOp, ccLess)
}
func (s *Sub) Emit(em bytecode.Emitter, fn *bytecode.Function, pc int) error {
	return emitBinArith(em, s.binOp, subRegReg)
}
func (a *Add) Emit(em bytecode.Emitter, fn *bytecode.Function, pc int) error {
	return emitBinArith(em, a.binOp, addRegReg)
}
func (m *Mul) Emit(em bytecode.Emitter, fn *bytecode.Function, pc int) error {
	return emitBinArith(em, m.binOp, imulRegReg)
}

func emitBinArith(e bytecode.Emitter, b binOp, op func(e bytecode.Emitter, dst, src bytecode.Reg)) error {
	r1, r2 := e.Scratch()
	loadOperand(e, b.A, r1)
	loadOperand(e, b.B, r2)
	op(e, r1, r2)
	storeResult(e, b.Dest, r1)
	return nil
}

func emitBinFlagOp(e bytecode.Emitter, b binOp, cc byte) error {
	r1, r2 := e.Scratch()
	loadOperand(e, b.A, r1)
	loadOperand(e, b.B, r2)
	cmpRegReg(e, r1, r2)
	setccReg(e, cc, r1)
	storeResult(e, b.Dest, r1)
	return nil
}

// Not computes the logical negation of Src's bool into Dest.
type Not struct {
	Dest, Src bytecode.Var
}

func (n *Not) Reads() []bytecode.Var        { return []bytecode.Var{n.Src} }
func (n *Not) Writes() []bytecode.Var       { return []bytecode.Var{n.Dest} }
func (n *Not) Behaviour() bytecode.Behaviour { return bytecode.Linear }
func (n *Not) Targets() []bytecode.Label     { return nil }

func (n *Not) Interpret(st *bytecode.State) (bool, error) {
	b, err := st.GetVar(n.Src).AsBool()
	if err != nil {
		return false, err
	}
	st.SetVar(n.Dest, value.BoolVal(!b))
	st.IP++
	return true, nil
}

func (n *Not) Emit(e bytecode.Emitter, fn *bytecode.Function, pc int) error {
	scratch, _ := e.Scratch()
	loadOperand(e, n.Src, scratch)
	notReg(e, scratch)
	storeResult(e, n.Dest, scratch)
	return nil
}

func (n *Not) Typecheck(env *bytecode.TypeEnv) error {
	t, ok := env.Get(n.Src)
	if !ok || t.Kind != bytecode.KBool {
		return fmt.Errorf("dialect: not expects bool, $%d has %s", n.Src, t)
	}
	env.Set(n.Dest, bytecode.Bool())
	return nil
}

func (n *Not) Display() string { return fmt.Sprintf("std:not $%d, $%d", n.Dest, n.Src) }
func (n *Not) OpSize() int     { return 8 }
func (n *Not) Emplace(buf []byte) {
	buf[0], buf[1], buf[2] = opNot, byte(n.Dest), byte(n.Src)
}
