package dialect

import (
	"fmt"
	"strings"

	"galevm/bytecode"
	"galevm/term"
	"galevm/value"
)

// Call invokes another function, either a statically named direct target
// or one held as a CallTarget value in IndirectVar (spec.md §4.F / the
// fn_as_param scenario of spec.md §8).
type Call struct {
	Dest        bytecode.Var
	Args        []bytecode.Var
	Direct      bool
	Segments    []string
	IndirectVar bytecode.Var
	resolveFrom int

	resolved bool
	site     bytecode.CallSite
	// out is the direct callee's declared result type, recorded by
	// ResolveCalls for Typecheck.
	out *bytecode.Type
}

func (c *Call) Reads() []bytecode.Var {
	rs := append([]bytecode.Var{}, c.Args...)
	if !c.Direct {
		rs = append(rs, c.IndirectVar)
	}
	return rs
}
func (c *Call) Writes() []bytecode.Var       { return []bytecode.Var{c.Dest} }
func (c *Call) Behaviour() bytecode.Behaviour { return bytecode.Linear }
func (c *Call) Targets() []bytecode.Label     { return nil }

// ResolveCalls implements bytecode.CallResolver for the direct case; an
// indirect call is already "resolved" (its target is read at run time).
func (c *Call) ResolveCalls(ms *bytecode.ModuleSet) error {
	if c.resolved {
		return nil
	}
	if !c.Direct {
		c.resolved = true
		return nil
	}
	mod, fn, err := resolveName(ms, c.resolveFrom, c.Segments)
	if err != nil {
		return err
	}
	c.site = bytecode.CallSite{Direct: true, Module: mod, Fn: fn}
	if m, merr := ms.Module(mod); merr == nil {
		if f, ferr := m.Function(fn); ferr == nil {
			c.out = f.Typ.Out
		}
	}
	c.resolved = true
	return nil
}

func (c *Call) target(st *bytecode.State) (mod, fn int, err error) {
	if c.Direct {
		return c.site.Module, c.site.Fn, nil
	}
	t, err := st.GetVar(c.IndirectVar).AsCallTarget()
	if err != nil {
		return 0, 0, err
	}
	return t.Module, t.Fn, nil
}

func (c *Call) Interpret(st *bytecode.State) (bool, error) {
	if !c.resolved {
		return false, fmt.Errorf("dialect: call $%d unresolved at run time", c.Dest)
	}
	mod, fnIdx, err := c.target(st)
	if err != nil {
		return false, err
	}
	args := make([]value.Value, len(c.Args))
	for i, v := range c.Args {
		args[i] = st.GetVar(v)
	}
	m, err := st.Modules.Module(mod)
	if err != nil {
		return false, err
	}
	fn, err := m.Function(fnIdx)
	if err != nil {
		return false, err
	}
	if fn.HasNativeImpl() {
		result, err := st.CallNative(mod, fnIdx, args)
		if err != nil {
			return false, err
		}
		st.SetVar(c.Dest, result)
		st.IP++
		return true, nil
	}
	if err := st.PushManagedFrame(mod, fnIdx, args, c.Dest); err != nil {
		return false, err
	}
	return true, nil
}

func (c *Call) Emit(e bytecode.Emitter, fn *bytecode.Function, pc int) error {
	if !c.resolved {
		return e.Fail("call $%d unresolved", c.Dest)
	}
	site := c.site
	if !c.Direct {
		site = bytecode.CallSite{Direct: false, ArgVar: c.IndirectVar}
	}
	return e.TrampolineCall(site, c.Args, c.Dest)
}

func (c *Call) Typecheck(env *bytecode.TypeEnv) error {
	for _, v := range c.Args {
		if _, ok := env.Get(v); !ok {
			return fmt.Errorf("dialect: call argument $%d is uninitialized", v)
		}
	}
	out := c.out
	if !c.Direct {
		t, ok := env.Get(c.IndirectVar)
		if !ok || t.Kind != bytecode.KFn {
			return fmt.Errorf("dialect: call target $%d is not a function value", c.IndirectVar)
		}
		out = t.Out
	}
	if out == nil {
		env.Set(c.Dest, bytecode.Any())
		return nil
	}
	env.Set(c.Dest, *out)
	return nil
}

func (c *Call) Display() string {
	target := "$" + fmt.Sprint(c.IndirectVar)
	if c.Direct {
		target = "@" + joinSegments(c.Segments)
	}
	return fmt.Sprintf("std:call $%d, %s, %s", c.Dest, target, varTuple(c.Args))
}

// varTuple renders a list of Vars in the grammar's tuple-operand syntax,
// so Display output reparses (the round-trip property of the assembler).
func varTuple(vars []bytecode.Var) string {
	parts := make([]string, len(vars))
	for i, v := range vars {
		parts[i] = fmt.Sprintf("$%d", v)
	}
	return "(" + strings.Join(parts, ", ") + ")"
}
func (c *Call) OpSize() int       { return 0 } // a call's (module,fn,argc) tuple never fits 8 bytes
func (c *Call) Emplace(buf []byte) {}

func makeCall(module *bytecode.Module, it term.Instr) (bytecode.Instruction, error) {
	if len(it.Args) != 3 {
		return nil, fmt.Errorf("dialect: call expects (dest, target, (args...))")
	}
	dest, err := argVar(it.Args[0])
	if err != nil {
		return nil, err
	}
	if it.Args[2].Kind != term.OpTuple {
		return nil, fmt.Errorf("dialect: call's third operand must be a tuple of arguments")
	}
	args := make([]bytecode.Var, len(it.Args[2].Tuple))
	for i, a := range it.Args[2].Tuple {
		v, err := argVar(a)
		if err != nil {
			return nil, err
		}
		args[i] = v
	}
	switch it.Args[1].Kind {
	case term.OpName:
		return &Call{Dest: dest, Args: args, Direct: true, Segments: it.Args[1].Segments, resolveFrom: module.ID}, nil
	case term.OpVar:
		return &Call{Dest: dest, Args: args, Direct: false, IndirectVar: bytecode.Var(it.Args[1].Var)}, nil
	default:
		return nil, fmt.Errorf("dialect: call's target operand must be @name or a variable")
	}
}
