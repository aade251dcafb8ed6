package bytecode

import (
	"fmt"
	"strings"

	"galevm/term"
)

// Kind enumerates the closed sum of types spec.md §3 defines.
type Kind uint8

const (
	KU64 Kind = iota
	KBool
	KAny
	KUnit
	KPointer
	KArray
	KTuple
	KFn
	KStr
)

// ArraySize describes the `{unsized | sized N}` qualifier shared by Array
// and Str.
type ArraySize struct {
	Unsized bool
	N       uint64
}

// Type is a closed sum over spec.md §3's variants. Only one of Elem,
// Elems, (In,Out) is meaningful depending on Kind.
type Type struct {
	Kind  Kind
	Elem  *Type     // Pointer(T), Array(T, _)
	Sz    ArraySize // Array, Str
	Elems []Type    // Tuple
	In    *Type     // Fn(In, _)
	Out   *Type     // Fn(_, Out)
}

func U64() Type   { return Type{Kind: KU64} }
func Bool() Type  { return Type{Kind: KBool} }
func Any() Type   { return Type{Kind: KAny} }
func Unit() Type  { return Type{Kind: KUnit} }
func Ptr(t Type) Type {
	e := t
	return Type{Kind: KPointer, Elem: &e}
}
func ArrayOf(t Type, sz ArraySize) Type {
	e := t
	return Type{Kind: KArray, Elem: &e, Sz: sz}
}
func Str(sz ArraySize) Type { return Type{Kind: KStr, Sz: sz} }
func TupleOf(ts []Type) Type { return Type{Kind: KTuple, Elems: ts} }
func Fn(in, out Type) Type  { return Type{Kind: KFn, In: &in, Out: &out} }

// Size returns the byte footprint of t, if it is a sized variant.
// Array/String sizes include an 8-byte length header slot, and sized
// strings additionally reserve a trailing NUL byte (spec.md §3).
func (t Type) Size() (uint64, bool) {
	switch t.Kind {
	case KU64, KPointer, KFn:
		return 8, true
	case KBool:
		return 1, true
	case KUnit:
		return 0, true
	case KAny:
		return 0, false
	case KArray:
		if t.Sz.Unsized {
			return 0, false
		}
		elemSz, ok := t.Elem.Size()
		if !ok {
			return 0, false
		}
		return 8 + t.Sz.N*elemSz, true
	case KStr:
		if t.Sz.Unsized {
			return 0, false
		}
		return 8 + t.Sz.N + 1, true
	case KTuple:
		var total uint64
		for _, e := range t.Elems {
			sz, ok := e.Size()
			if !ok {
				return 0, false
			}
			total += sz
		}
		return total, true
	default:
		return 0, false
	}
}

func (t Type) String() string {
	switch t.Kind {
	case KU64:
		return "ui64"
	case KBool:
		return "bool"
	case KAny:
		return "_"
	case KUnit:
		return "()"
	case KPointer:
		return "&" + t.Elem.String()
	case KArray:
		if !t.Sz.Unsized {
			return fmt.Sprintf("[%s; %d]", t.Elem, t.Sz.N)
		}
		return "[" + t.Elem.String() + "]"
	case KStr:
		return "str"
	case KTuple:
		parts := make([]string, len(t.Elems))
		for i, e := range t.Elems {
			parts[i] = e.String()
		}
		return "(" + strings.Join(parts, ", ") + ")"
	case KFn:
		return fmt.Sprintf("(%s -> %s)", t.In, t.Out)
	default:
		return "?unknown-type?"
	}
}

// Equal reports structural equality, used by the typechecker.
func (t Type) Equal(o Type) bool {
	return t.String() == o.String()
}

// ResolveType translates a parsed type term (package term) into a
// materialized Type, per the loader's step 2 (spec.md §4.E).
func ResolveType(tt term.Type) (Type, error) {
	switch tt.Kind {
	case term.TUI64:
		return U64(), nil
	case term.TBool:
		return Bool(), nil
	case term.TAny:
		return Any(), nil
	case term.TUnit:
		return Unit(), nil
	case term.TStr:
		return Str(ArraySize{Unsized: !tt.Sized, N: tt.N}), nil
	case term.TPointer:
		elem, err := ResolveType(*tt.Elem)
		if err != nil {
			return Type{}, err
		}
		return Ptr(elem), nil
	case term.TArray:
		elem, err := ResolveType(*tt.Elem)
		if err != nil {
			return Type{}, err
		}
		return ArrayOf(elem, ArraySize{Unsized: !tt.Sized, N: tt.N}), nil
	case term.TTuple:
		elems := make([]Type, len(tt.Elems))
		for i, e := range tt.Elems {
			r, err := ResolveType(e)
			if err != nil {
				return Type{}, err
			}
			elems[i] = r
		}
		return TupleOf(elems), nil
	case term.TFn:
		in, err := ResolveType(*tt.In)
		if err != nil {
			return Type{}, err
		}
		out, err := ResolveType(*tt.Out)
		if err != nil {
			return Type{}, err
		}
		return Fn(in, out), nil
	default:
		return Type{}, fmt.Errorf("bytecode: unknown type term kind %d", tt.Kind)
	}
}

// TypeEnv maps a function's local variables to their inferred/declared
// type. Typechecked functions cache one of these (spec.md §3 Function).
type TypeEnv struct {
	vars map[Var]Type
}

func NewTypeEnv() *TypeEnv { return &TypeEnv{vars: make(map[Var]Type)} }

func (e *TypeEnv) Get(v Var) (Type, bool) {
	t, ok := e.vars[v]
	return t, ok
}

func (e *TypeEnv) Set(v Var, t Type) { e.vars[v] = t }

func (e *TypeEnv) Clone() *TypeEnv {
	n := NewTypeEnv()
	for k, v := range e.vars {
		n.vars[k] = v
	}
	return n
}
