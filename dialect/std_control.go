package dialect

import (
	"fmt"

	"galevm/bytecode"
)

// Nop does nothing; it is built only from an explicit std:nop. The loader
// attaches a label on an ordinary instruction by inserting a Lbl, not a
// Nop.
type Nop struct{}

func (*Nop) Reads() []bytecode.Var         { return nil }
func (*Nop) Writes() []bytecode.Var        { return nil }
func (*Nop) Behaviour() bytecode.Behaviour  { return bytecode.Linear }
func (*Nop) Targets() []bytecode.Label      { return nil }
func (*Nop) Interpret(st *bytecode.State) (bool, error) { st.IP++; return true, nil }
func (*Nop) Emit(bytecode.Emitter, *bytecode.Function, int) error { return nil }
func (*Nop) Typecheck(*bytecode.TypeEnv) error { return nil }
func (*Nop) Display() string                   { return "std:nop" }
func (*Nop) OpSize() int                        { return 8 }
func (*Nop) Emplace(buf []byte)                 { buf[0] = opNop }

// Lbl marks this instruction index as a jump target named Name. It never
// executes any effect of its own.
type Lbl struct {
	Name bytecode.Label
}

func (*Lbl) Reads() []bytecode.Var  { return nil }
func (*Lbl) Writes() []bytecode.Var { return nil }
func (*Lbl) Behaviour() bytecode.Behaviour { return bytecode.Target }
func (l *Lbl) Targets() []bytecode.Label   { return []bytecode.Label{l.Name} }
func (*Lbl) Interpret(st *bytecode.State) (bool, error) { st.IP++; return true, nil }
func (*Lbl) Emit(bytecode.Emitter, *bytecode.Function, int) error { return nil }
func (*Lbl) Typecheck(*bytecode.TypeEnv) error { return nil }
func (l *Lbl) Display() string                 { return fmt.Sprintf("%s: std:lbl", l.Name) }
func (*Lbl) OpSize() int                        { return 8 }
func (*Lbl) Emplace(buf []byte)                 { buf[0] = opLbl }

// Ret returns from the current function with the value held in Src,
// implementing both halves of spec.md §4.F's calling conventions via
// State.DoReturn.
type Ret struct {
	Src bytecode.Var
}

func (r *Ret) Reads() []bytecode.Var        { return []bytecode.Var{r.Src} }
func (r *Ret) Writes() []bytecode.Var       { return nil }
func (r *Ret) Behaviour() bytecode.Behaviour { return bytecode.Linear }
func (r *Ret) Targets() []bytecode.Label     { return nil }

func (r *Ret) Interpret(st *bytecode.State) (bool, error) {
	return st.DoReturn(st.GetVar(r.Src))
}

func (r *Ret) Emit(e bytecode.Emitter, fn *bytecode.Function, pc int) error {
	scratch, _ := e.Scratch()
	loadOperand(e, r.Src, scratch)
	if scratch != bytecode.RAX {
		movRegReg(e, bytecode.RAX, scratch)
	}
	e.Emit(0xC9, 0xC3) // leave; ret
	return nil
}

func (r *Ret) Typecheck(env *bytecode.TypeEnv) error {
	if _, ok := env.Get(r.Src); !ok {
		return fmt.Errorf("dialect: ret reads uninitialized $%d", r.Src)
	}
	return nil
}

func (r *Ret) Display() string { return fmt.Sprintf("std:ret $%d", r.Src) }
func (r *Ret) OpSize() int     { return 8 }
func (r *Ret) Emplace(buf []byte) {
	buf[0], buf[1] = opRet, byte(r.Src)
}

// Print writes Src's value followed by a newline to the VM's stdout.
type Print struct {
	Src bytecode.Var
}

func (p *Print) Reads() []bytecode.Var        { return []bytecode.Var{p.Src} }
func (p *Print) Writes() []bytecode.Var       { return nil }
func (p *Print) Behaviour() bytecode.Behaviour { return bytecode.Linear }
func (p *Print) Targets() []bytecode.Label     { return nil }

func (p *Print) Interpret(st *bytecode.State) (bool, error) {
	fmt.Fprintln(st.Stdout, st.GetVar(p.Src).String())
	st.IP++
	return true, nil
}

func (p *Print) Emit(e bytecode.Emitter, fn *bytecode.Function, pc int) error {
	return e.CallRuntime(bytecode.HelperPrint, []bytecode.Var{p.Src}, bytecode.NoVar)
}

func (p *Print) Typecheck(env *bytecode.TypeEnv) error {
	if _, ok := env.Get(p.Src); !ok {
		return fmt.Errorf("dialect: print reads uninitialized $%d", p.Src)
	}
	return nil
}

func (p *Print) Display() string { return fmt.Sprintf("std:print $%d", p.Src) }
func (p *Print) OpSize() int     { return 8 }
func (p *Print) Emplace(buf []byte) {
	buf[0], buf[1] = opPrint, byte(p.Src)
}

// Jmp transfers control unconditionally to Label.
type Jmp struct {
	Label bytecode.Label
}

func (j *Jmp) Reads() []bytecode.Var        { return nil }
func (j *Jmp) Writes() []bytecode.Var       { return nil }
func (j *Jmp) Behaviour() bytecode.Behaviour { return bytecode.Jump }
func (j *Jmp) Targets() []bytecode.Label     { return []bytecode.Label{j.Label} }

func (j *Jmp) Interpret(st *bytecode.State) (bool, error) {
	return jumpTo(st, j.Label)
}

func (j *Jmp) Emit(e bytecode.Emitter, fn *bytecode.Function, pc int) error {
	emitJumpTo(e, j.Label)
	return nil
}

func (j *Jmp) Typecheck(*bytecode.TypeEnv) error { return nil }
func (j *Jmp) Display() string                    { return fmt.Sprintf("std:jmp @%s", j.Label) }
func (j *Jmp) OpSize() int                         { return 0 } // resolved label target doesn't fit compactly pre-link
func (j *Jmp) Emplace(buf []byte)                  {}

// JmpIf transfers control to Label if Cond is true, otherwise falls
// through.
type JmpIf struct {
	Label bytecode.Label
	Cond  bytecode.Var
}

func (j *JmpIf) Reads() []bytecode.Var        { return []bytecode.Var{j.Cond} }
func (j *JmpIf) Writes() []bytecode.Var       { return nil }
func (j *JmpIf) Behaviour() bytecode.Behaviour { return bytecode.ConditionalJump }
func (j *JmpIf) Targets() []bytecode.Label     { return []bytecode.Label{j.Label} }

func (j *JmpIf) Interpret(st *bytecode.State) (bool, error) {
	b, err := st.GetVar(j.Cond).AsBool()
	if err != nil {
		return false, err
	}
	if b {
		return jumpTo(st, j.Label)
	}
	st.IP++
	return true, nil
}

func (j *JmpIf) Emit(e bytecode.Emitter, fn *bytecode.Function, pc int) error {
	scratch, _ := e.Scratch()
	loadOperand(e, j.Cond, scratch)
	testRegReg(e, scratch, scratch)
	at := jccRel32(e, jccJNE)
	resolveFixup(e, at, j.Label)
	return nil
}

func (j *JmpIf) Typecheck(env *bytecode.TypeEnv) error {
	t, ok := env.Get(j.Cond)
	if !ok || t.Kind != bytecode.KBool {
		return fmt.Errorf("dialect: jmpif expects bool, $%d has %s", j.Cond, t)
	}
	return nil
}

func (j *JmpIf) Display() string { return fmt.Sprintf("std:jmpif @%s, $%d", j.Label, j.Cond) }
func (j *JmpIf) OpSize() int     { return 0 }
func (j *JmpIf) Emplace(buf []byte) {}

// JmpIfNot transfers control to Label if Cond is false, otherwise falls
// through.
type JmpIfNot struct {
	Label bytecode.Label
	Cond  bytecode.Var
}

func (j *JmpIfNot) Reads() []bytecode.Var        { return []bytecode.Var{j.Cond} }
func (j *JmpIfNot) Writes() []bytecode.Var       { return nil }
func (j *JmpIfNot) Behaviour() bytecode.Behaviour { return bytecode.ConditionalJump }
func (j *JmpIfNot) Targets() []bytecode.Label     { return []bytecode.Label{j.Label} }

func (j *JmpIfNot) Interpret(st *bytecode.State) (bool, error) {
	b, err := st.GetVar(j.Cond).AsBool()
	if err != nil {
		return false, err
	}
	if !b {
		return jumpTo(st, j.Label)
	}
	st.IP++
	return true, nil
}

func (j *JmpIfNot) Emit(e bytecode.Emitter, fn *bytecode.Function, pc int) error {
	scratch, _ := e.Scratch()
	loadOperand(e, j.Cond, scratch)
	testRegReg(e, scratch, scratch)
	at := jccRel32(e, jccJE)
	resolveFixup(e, at, j.Label)
	return nil
}

func (j *JmpIfNot) Typecheck(env *bytecode.TypeEnv) error {
	t, ok := env.Get(j.Cond)
	if !ok || t.Kind != bytecode.KBool {
		return fmt.Errorf("dialect: jmpifn expects bool, $%d has %s", j.Cond, t)
	}
	return nil
}

func (j *JmpIfNot) Display() string { return fmt.Sprintf("std:jmpifn @%s, $%d", j.Label, j.Cond) }
func (j *JmpIfNot) OpSize() int     { return 0 }
func (j *JmpIfNot) Emplace(buf []byte) {}

func jumpTo(st *bytecode.State, label bytecode.Label) (bool, error) {
	fn, err := st.CurrentFunction()
	if err != nil {
		return false, err
	}
	idx, ok := fn.AST.Labels[label]
	if !ok {
		return false, fmt.Errorf("dialect: unknown label %q", label)
	}
	st.IP = int64(idx)
	return true, nil
}

func emitJumpTo(e bytecode.Emitter, label bytecode.Label) {
	at := jmpRel32(e)
	resolveFixup(e, at, label)
}

func resolveFixup(e bytecode.Emitter, at int, label bytecode.Label) {
	if pos, ok := e.LabelPos(label); ok {
		e.PatchRel32(at, pos)
		return
	}
	e.RecordFixup(at, label)
}

// Panic aborts execution with a user-supplied message (spec.md/original_source
// `panic` builtin - see SPEC_FULL.md §4).
type Panic struct {
	Msg string
}

func (*Panic) Reads() []bytecode.Var         { return nil }
func (*Panic) Writes() []bytecode.Var        { return nil }
func (*Panic) Behaviour() bytecode.Behaviour  { return bytecode.Linear }
func (*Panic) Targets() []bytecode.Label      { return nil }

func (p *Panic) Interpret(st *bytecode.State) (bool, error) {
	if p.Msg == "" {
		return false, bytecode.ErrUserPanic
	}
	return false, fmt.Errorf("%w: %s", bytecode.ErrUserPanic, p.Msg)
}

func (p *Panic) Emit(e bytecode.Emitter, fn *bytecode.Function, pc int) error {
	return e.CallRuntime(bytecode.HelperPanic, nil, bytecode.NoVar)
}

func (p *Panic) Typecheck(*bytecode.TypeEnv) error { return nil }
func (p *Panic) Display() string {
	if p.Msg == "" {
		return "std:panic"
	}
	return fmt.Sprintf("std:panic @%s", p.Msg)
}
func (p *Panic) OpSize() int       { return 0 }
func (p *Panic) Emplace(buf []byte) {}
