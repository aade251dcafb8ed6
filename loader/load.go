package loader

import (
	"fmt"
	"os"

	"galevm/bytecode"
	"galevm/dialect"
	"galevm/heap"
	"galevm/term"
)

// LoadError reports a load-time failure (spec.md §7 category 1):
// file-not-found, parse failure (with position), unknown dialect, unknown
// opcode within a dialect, or a malformed operand. All are recoverable at
// the embedder level - callers get one of these back rather than a panic.
type LoadError struct {
	File string
	Line int
	Msg  string
}

func (e *LoadError) Error() string {
	if e.Line > 0 {
		return fmt.Sprintf("%s:%d: %s", e.File, e.Line, e.Msg)
	}
	return fmt.Sprintf("%s: %s", e.File, e.Msg)
}

func wrap(file string, err error) error {
	if le, ok := err.(*LexError); ok {
		return &LoadError{File: file, Line: le.Line, Msg: le.Msg}
	}
	return &LoadError{File: file, Msg: err.Error()}
}

// LoadFile reads and materializes the module stored at path, per spec.md
// §4.E. h receives any string constants this module declares, pre-encoded
// onto the heap (see loadConsts).
func LoadFile(ms *bytecode.ModuleSet, reg *dialect.Registry, h *heap.Heap, path string) (*bytecode.Module, error) {
	src, err := os.ReadFile(path)
	if err != nil {
		return nil, &LoadError{File: path, Msg: err.Error()}
	}
	return LoadSource(ms, reg, h, path, string(src))
}

// LoadSource parses textual bytecode module src (spec.md §6 grammar) and
// materializes it into ms:
//
//  1. parse to a term.Module;
//  2. declare every function's interface (name, type, stable index)
//     before any implementation exists, so mutually dependent modules can
//     forward-reference each other (spec.md §4.E step 5);
//  3. install the constant table, pre-encoding strings onto h;
//  4. materialize each function's instruction vector via the dialect
//     registry, computing its label map and frame size.
//
// Symbolic call targets (`call`/`movi`) are left unresolved; the caller
// must run bytecode.ComputeDirectFunctionCalls(ms) once every module that
// might be referenced has been loaded.
func LoadSource(ms *bytecode.ModuleSet, reg *dialect.Registry, h *heap.Heap, file, src string) (*bytecode.Module, error) {
	tm, err := parseModule(src)
	if err != nil {
		return nil, wrap(file, err)
	}

	m := ms.Declare(tm.Name)

	for _, tf := range tm.Functions {
		typ, err := functionType(tf)
		if err != nil {
			return nil, &LoadError{File: file, Line: tf.Line, Msg: err.Error()}
		}
		m.DeclareFunction(&bytecode.Function{Name: tf.Name, Typ: typ})
	}

	if err := loadConsts(m, h, tm.Consts); err != nil {
		return nil, &LoadError{File: file, Msg: err.Error()}
	}

	ctx := &dialect.BuildContext{Registry: reg, ModuleName: m.Name, DefaultTag: reg.DefaultTag()}
	for i, tf := range tm.Functions {
		if err := materializeFunction(ctx, m, m.Fns[i], tf); err != nil {
			return nil, &LoadError{File: file, Line: tf.Line, Msg: err.Error()}
		}
	}

	return m, nil
}

// functionType translates a function's syntactic parameter list and
// result into a bytecode.Type (spec.md §4.E step 2). A single parameter's
// type is used directly as the Fn's input type; more than one parameter is
// wrapped in a Tuple, matching how `call`'s argument list is itself a
// tuple of operands (spec.md §6 grammar).
func functionType(tf term.Function) (bytecode.Type, error) {
	out, err := bytecode.ResolveType(tf.Result)
	if err != nil {
		return bytecode.Type{}, err
	}
	switch len(tf.Params) {
	case 0:
		return bytecode.Fn(bytecode.Unit(), out), nil
	case 1:
		in, err := bytecode.ResolveType(tf.Params[0].Typ)
		if err != nil {
			return bytecode.Type{}, err
		}
		return bytecode.Fn(in, out), nil
	default:
		elems := make([]bytecode.Type, len(tf.Params))
		for i, p := range tf.Params {
			t, err := bytecode.ResolveType(p.Typ)
			if err != nil {
				return bytecode.Type{}, err
			}
			elems[i] = t
		}
		return bytecode.Fn(bytecode.TupleOf(elems), out), nil
	}
}

// loadConsts installs m's constant table, pre-materializing every string
// constant onto h exactly once at load time: `loadc` (dialect.LoadC) reads
// back Const.Scalar as an already-valid heap pointer rather than
// re-encoding the string on every execution (spec.md §4.C/§6).
func loadConsts(m *bytecode.Module, h *heap.Heap, decls []term.ConstDecl) error {
	for _, cd := range decls {
		typ, err := bytecode.ResolveType(cd.Typ)
		if err != nil {
			return err
		}
		c := bytecode.Const{Name: cd.Name, Typ: typ}
		switch {
		case cd.Str != nil:
			s := *cd.Str
			ptr, err := h.Allocate(8 + uint64(len(s)) + 1)
			if err != nil {
				return fmt.Errorf("loader: constant %q: %w", cd.Name, err)
			}
			if err := h.StoreString(ptr, s); err != nil {
				return err
			}
			c.IsStr = true
			c.Scalar = ptr
		case cd.IsBool:
			if cd.Bool {
				c.Scalar = 1
			}
		default:
			c.Scalar = cd.Number
		}
		m.Conts = append(m.Conts, c)
	}
	return nil
}

// materializeFunction runs spec.md §4.E steps 2-4 for one function: build
// each instruction via the named (or module-default) dialect, collect the
// Target-behaviour label map, and compute the frame size as
// max(writes ∪ reads ∪ params) + 1.
func materializeFunction(ctx *dialect.BuildContext, m *bytecode.Module, fn *bytecode.Function, tf term.Function) error {
	instrs := make([]bytecode.Instruction, 0, len(tf.Instrs))
	labels := make(map[bytecode.Label]int)
	maxVar := -1

	for _, p := range tf.Params {
		if int(p.Var) > maxVar {
			maxVar = int(p.Var)
		}
	}

	for _, it := range tf.Instrs {
		d, err := ctx.Registry.Lookup(it.Dialect)
		if err != nil {
			return fmt.Errorf("line %d: %w", it.Line, err)
		}
		instr, err := d.MakeInstruction(ctx, m, it)
		if err != nil {
			return fmt.Errorf("line %d: %w", it.Line, err)
		}
		if it.Label != "" && instr.Behaviour() != bytecode.Target {
			// A label prefix on an ordinary instruction: attach it by
			// inserting a standalone label marker in front, so the CFG's
			// Target-based block partition sees it (spec.md §4.G).
			labels[it.Label] = len(instrs)
			instrs = append(instrs, &dialect.Lbl{Name: it.Label})
		}
		idx := len(instrs)
		if instr.Behaviour() == bytecode.Target {
			for _, lbl := range instr.Targets() {
				labels[lbl] = idx
			}
		}
		for _, v := range instr.Reads() {
			if int(v) > maxVar {
				maxVar = int(v)
			}
		}
		for _, v := range instr.Writes() {
			if int(v) > maxVar {
				maxVar = int(v)
			}
		}
		instrs = append(instrs, instr)
	}

	fn.Kind |= bytecode.ImplAST
	fn.AST = &bytecode.ASTImpl{
		Instructions: instrs,
		NumVars:      maxVar + 1,
		Labels:       labels,
	}
	return nil
}

// DeclareNative installs fn as mod's native implementation named name,
// callable from managed code the way any module function is (spec.md
// §4.F managed->native convention). It is how the embedder wires in
// functions like parse_ui64 (spec.md §8 scenario 1) that have no textual
// bytecode body at all.
func DeclareNative(m *bytecode.Module, name string, typ bytecode.Type, arity int, nf bytecode.NativeFn) {
	m.DeclareFunction(&bytecode.Function{
		Name:     name,
		Typ:      typ,
		Kind:     bytecode.ImplNative,
		NativeFn: &bytecode.NativeImpl{Fn: nf, Arity: arity},
	})
}
