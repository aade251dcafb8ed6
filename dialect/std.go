package dialect

import (
	"fmt"

	"galevm/bytecode"
	"galevm/term"
)

// stdDialect is the engine's built-in instruction set (spec.md §4.D).
type stdDialect struct{}

// NewStdDialect returns the built-in `std` dialect.
func NewStdDialect() Dialect { return stdDialect{} }

func (stdDialect) Tag() string { return "std" }

func (stdDialect) MakeInstruction(ctx *BuildContext, module *bytecode.Module, it term.Instr) (bytecode.Instruction, error) {
	switch it.Op {
	case "nop":
		return &Nop{}, nil
	case "lbl":
		return &Lbl{Name: it.Label}, nil
	case "ui32":
		dest, val, err := destAndNumber(it)
		if err != nil {
			return nil, err
		}
		return &ConstU64{Dest: dest, Val: val}, nil
	case "bool":
		dest, b, err := destAndBool(it)
		if err != nil {
			return nil, err
		}
		return &ConstBool{Dest: dest, Val: b}, nil
	case "mov":
		dest, src, err := destAndSrc(it)
		if err != nil {
			return nil, err
		}
		return &Mov{Dest: dest, Src: src}, nil
	case "movi":
		dest, name, err := destAndName(it)
		if err != nil {
			return nil, err
		}
		return NewLoadFnAddr(dest, module.ID, name), nil
	case "eq", "lt", "sub", "add", "mul":
		dest, a, b, err := destAndTwoArgs(it)
		if err != nil {
			return nil, err
		}
		switch it.Op {
		case "eq":
			return &Eq{binOp{Dest: dest, A: a, B: b}}, nil
		case "lt":
			return &Lt{binOp{Dest: dest, A: a, B: b}}, nil
		case "sub":
			return &Sub{binOp{Dest: dest, A: a, B: b}}, nil
		case "add":
			return &Add{binOp{Dest: dest, A: a, B: b}}, nil
		default:
			return &Mul{binOp{Dest: dest, A: a, B: b}}, nil
		}
	case "not":
		dest, src, err := destAndSrc(it)
		if err != nil {
			return nil, err
		}
		return &Not{Dest: dest, Src: src}, nil
	case "ret":
		src, err := singleVar(it)
		if err != nil {
			return nil, err
		}
		return &Ret{Src: src}, nil
	case "print":
		src, err := singleVar(it)
		if err != nil {
			return nil, err
		}
		return &Print{Src: src}, nil
	case "call":
		return makeCall(module, it)
	case "jmp":
		label, err := singleLabel(it)
		if err != nil {
			return nil, err
		}
		return &Jmp{Label: label}, nil
	case "jmpif":
		label, cond, err := labelAndVar(it)
		if err != nil {
			return nil, err
		}
		return &JmpIf{Label: label, Cond: cond}, nil
	case "jmpifn":
		label, cond, err := labelAndVar(it)
		if err != nil {
			return nil, err
		}
		return &JmpIfNot{Label: label, Cond: cond}, nil
	case "tup":
		return makeTup(it)
	case "idx":
		dest, base, index, err := destAndTwoArgs(it)
		if err != nil {
			return nil, err
		}
		return &Idx{Dest: dest, Base: base, Index: index}, nil
	case "alloc":
		return makeAlloc(it)
	case "load":
		dest, ptr, err := destAndSrc(it)
		if err != nil {
			return nil, err
		}
		return &Load{Dest: dest, Ptr: ptr}, nil
	case "store":
		ptr, val, err := destAndSrc(it)
		if err != nil {
			return nil, err
		}
		return &Store{Ptr: ptr, Val: val}, nil
	case "loadc":
		return makeLoadC(module, it)
	case "sizeof":
		return makeSizeof(it)
	case "panic":
		return makePanic(it)
	default:
		return nil, fmt.Errorf("dialect: std has no opcode %q", it.Op)
	}
}

func argVar(op term.Operand) (bytecode.Var, error) {
	if op.Kind != term.OpVar {
		return 0, fmt.Errorf("dialect: expected a variable operand, got kind %d", op.Kind)
	}
	return bytecode.Var(op.Var), nil
}

func singleVar(it term.Instr) (bytecode.Var, error) {
	if len(it.Args) != 1 {
		return 0, fmt.Errorf("dialect: %s expects exactly one operand", it.Op)
	}
	return argVar(it.Args[0])
}

func singleLabel(it term.Instr) (string, error) {
	if len(it.Args) != 1 || it.Args[0].Kind != term.OpName || len(it.Args[0].Segments) != 1 {
		return "", fmt.Errorf("dialect: %s expects exactly one label operand", it.Op)
	}
	return it.Args[0].Segments[0], nil
}

func labelAndVar(it term.Instr) (string, bytecode.Var, error) {
	if len(it.Args) != 2 {
		return "", 0, fmt.Errorf("dialect: %s expects (label, var)", it.Op)
	}
	label, err := singleLabel(term.Instr{Op: it.Op, Args: it.Args[:1]})
	if err != nil {
		return "", 0, err
	}
	v, err := argVar(it.Args[1])
	if err != nil {
		return "", 0, err
	}
	return label, v, nil
}

func destAndSrc(it term.Instr) (bytecode.Var, bytecode.Var, error) {
	if len(it.Args) != 2 {
		return 0, 0, fmt.Errorf("dialect: %s expects (dest, src)", it.Op)
	}
	dest, err := argVar(it.Args[0])
	if err != nil {
		return 0, 0, err
	}
	src, err := argVar(it.Args[1])
	if err != nil {
		return 0, 0, err
	}
	return dest, src, nil
}

func destAndTwoArgs(it term.Instr) (bytecode.Var, bytecode.Var, bytecode.Var, error) {
	if len(it.Args) != 3 {
		return 0, 0, 0, fmt.Errorf("dialect: %s expects (dest, a, b)", it.Op)
	}
	dest, err := argVar(it.Args[0])
	if err != nil {
		return 0, 0, 0, err
	}
	a, err := argVar(it.Args[1])
	if err != nil {
		return 0, 0, 0, err
	}
	b, err := argVar(it.Args[2])
	if err != nil {
		return 0, 0, 0, err
	}
	return dest, a, b, nil
}

func destAndNumber(it term.Instr) (bytecode.Var, uint64, error) {
	if len(it.Args) != 2 || it.Args[1].Kind != term.OpNumber {
		return 0, 0, fmt.Errorf("dialect: %s expects (dest, number)", it.Op)
	}
	dest, err := argVar(it.Args[0])
	if err != nil {
		return 0, 0, err
	}
	return dest, it.Args[1].Number, nil
}

func destAndBool(it term.Instr) (bytecode.Var, bool, error) {
	if len(it.Args) != 2 || it.Args[1].Kind != term.OpBool {
		return 0, false, fmt.Errorf("dialect: %s expects (dest, bool)", it.Op)
	}
	dest, err := argVar(it.Args[0])
	if err != nil {
		return 0, false, err
	}
	return dest, it.Args[1].Bool, nil
}

func destAndName(it term.Instr) (bytecode.Var, []string, error) {
	if len(it.Args) != 2 || it.Args[1].Kind != term.OpName {
		return 0, nil, fmt.Errorf("dialect: %s expects (dest, @name)", it.Op)
	}
	dest, err := argVar(it.Args[0])
	if err != nil {
		return 0, nil, err
	}
	return dest, it.Args[1].Segments, nil
}

// resolveName looks up a 1- or 2-segment symbolic name against ms,
// defaulting an unqualified name to fromModule.
func resolveName(ms *bytecode.ModuleSet, fromModule int, segs []string) (mod int, fn int, err error) {
	switch len(segs) {
	case 1:
		m, err := ms.Module(fromModule)
		if err != nil {
			return 0, 0, err
		}
		idx, ok := m.FunctionByName(segs[0])
		if !ok {
			return 0, 0, fmt.Errorf("dialect: %s has no function %q", m.Name, segs[0])
		}
		return fromModule, idx, nil
	case 2:
		modID, ok := ms.ModuleByName(segs[0])
		if !ok {
			return 0, 0, fmt.Errorf("dialect: unknown module %q", segs[0])
		}
		m, err := ms.Module(modID)
		if err != nil {
			return 0, 0, err
		}
		idx, ok := m.FunctionByName(segs[1])
		if !ok {
			return 0, 0, fmt.Errorf("dialect: %s has no function %q", segs[0], segs[1])
		}
		return modID, idx, nil
	default:
		return 0, 0, fmt.Errorf("dialect: malformed function name %v", segs)
	}
}
