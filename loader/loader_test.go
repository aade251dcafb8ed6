package loader

import (
	"fmt"
	"strings"
	"testing"

	"galevm/bytecode"
	"galevm/dialect"
	"galevm/heap"
)

func assert(t *testing.T, cond bool, format string, args ...any) {
	t.Helper()
	if !cond {
		t.Fatalf(fmt.Sprintf("%s", format), args...)
	}
}

func load(t *testing.T, src string) (*bytecode.ModuleSet, *bytecode.Module) {
	t.Helper()
	ms := bytecode.NewModuleSet()
	m, err := LoadSource(ms, dialect.NewStandardRegistry(), heap.New(0), "t.txt", src)
	assert(t, err == nil, "load: %v", err)
	return ms, m
}

var addSource = `
mod add

fn add($0: ui64, $1: ui64) -> ui64 {
    std: add $2, $0, $1
    std: ret $2
}
`

func TestFrameSize(t *testing.T) {
	_, m := load(t, addSource)
	idx, ok := m.FunctionByName("add")
	assert(t, ok, "add not found")
	fn, _ := m.Function(idx)
	// max(writes ∪ reads ∪ params) + 1 = max($0,$1,$2) + 1
	assert(t, fn.FrameSize() == 3, "frame size = %d, want 3", fn.FrameSize())
}

func TestLabelOnOrdinaryInstruction(t *testing.T) {
	_, m := load(t, `
mod lbl

fn spin($0: ui64) -> ui64 {
    std: ui32 $1, 1
top: std: sub $0, $0, $1
    std: jmpifn @top, $0
    std: ret $0
}
`)
	idx, _ := m.FunctionByName("spin")
	fn, _ := m.Function(idx)
	// The label lands on an inserted marker directly in front of the sub.
	li, ok := fn.AST.Labels["top"]
	assert(t, ok, "label top not collected")
	assert(t, fn.AST.Instructions[li].Behaviour() == bytecode.Target, "label index %d is not a Target", li)
	assert(t, li == 1, "label top at %d, want 1", li)
	assert(t, len(fn.AST.Instructions) == 5, "got %d instructions, want 5", len(fn.AST.Instructions))
}

func TestLoadErrors(t *testing.T) {
	cases := []struct {
		name, src, want string
	}{
		{"parse", `mod broken fn oops(`, "expected"},
		{"dialect", "mod broken\nfn f() -> ui64 {\n  bogus: nop\n}", "unknown dialect"},
		{"opcode", "mod broken\nfn f() -> ui64 {\n  std: frobnicate\n}", "no opcode"},
		{"constant", "mod broken\nfn f() -> ui64 {\n  std: loadc $0, @missing\n}", "no constant"},
	}
	for _, tc := range cases {
		ms := bytecode.NewModuleSet()
		_, err := LoadSource(ms, dialect.NewStandardRegistry(), heap.New(0), "t.txt", tc.src)
		assert(t, err != nil, "%s: expected an error", tc.name)
		assert(t, strings.Contains(err.Error(), tc.want), "%s: error %q does not mention %q", tc.name, err, tc.want)
	}
}

func TestLoadFileNotFound(t *testing.T) {
	ms := bytecode.NewModuleSet()
	_, err := LoadFile(ms, dialect.NewStandardRegistry(), heap.New(0), "no/such/module.txt")
	assert(t, err != nil, "expected an error for a missing file")
	le, ok := err.(*LoadError)
	assert(t, ok, "want *LoadError, got %T", err)
	assert(t, le.File == "no/such/module.txt", "error names file %q", le.File)
}

func TestStringConstOnHeap(t *testing.T) {
	h := heap.New(0)
	ms := bytecode.NewModuleSet()
	m, err := LoadSource(ms, dialect.NewStandardRegistry(), h, "t.txt", `
mod consts

const greeting: str = "hi there"

fn f() -> ui64 {
    std: loadc $0, @greeting
    std: ret $0
}
`)
	assert(t, err == nil, "load: %v", err)
	assert(t, len(m.Conts) == 1, "got %d constants, want 1", len(m.Conts))
	c := m.Conts[0]
	assert(t, c.IsStr, "constant not marked as string")
	s, err := h.LoadString(c.Scalar)
	assert(t, err == nil, "read back: %v", err)
	assert(t, s == "hi there", "read back %q", s)
}

// render reconstructs module source from the loaded form via each
// instruction's Display, for the round-trip check below. Parameter lists
// are rebuilt from the function type the loader computed ($0..$n-1, the
// same convention every module in this repo's tests uses).
func render(m *bytecode.Module) string {
	var b strings.Builder
	fmt.Fprintf(&b, "mod %s\n", m.Name)
	for _, fn := range m.Fns {
		if !fn.HasASTImpl() {
			continue
		}
		var params []string
		in := fn.Typ.In
		switch {
		case in == nil || in.Kind == bytecode.KUnit:
		case in.Kind == bytecode.KTuple:
			for i, e := range in.Elems {
				params = append(params, fmt.Sprintf("$%d: %s", i, e))
			}
		default:
			params = append(params, fmt.Sprintf("$0: %s", in))
		}
		fmt.Fprintf(&b, "fn %s(%s) -> %s {\n", fn.Name, strings.Join(params, ", "), fn.Typ.Out)
		for _, instr := range fn.AST.Instructions {
			fmt.Fprintf(&b, "    %s\n", instr.Display())
		}
		b.WriteString("}\n")
	}
	return b.String()
}

// TestRoundTrip parses a module, pretty-prints it back to source, parses
// the result, and checks the two are semantically identical: same
// instruction stream (by Display), same label maps, same frame sizes.
func TestRoundTrip(t *testing.T) {
	_, m1 := load(t, `
mod fib

fn main($0: &ui64) -> ui64 {
    std: ui32 $1, 0
    std: idx $2, $0, $1
    std: load $3, $2
    std: call $4, @fib, ($3)
    std: print $4
    std: ret $4
}

fn fib($0: ui64) -> ui64 {
    std: ui32 $1, 1
    std: lt $2, $0, $1
    std: jmpif @base_case, $2
    std: eq $3, $0, $1
    std: jmpif @base_case, $3
    std: sub $4, $0, $1
    std: call $5, @fib, ($4)
    std: ui32 $6, 2
    std: sub $7, $0, $6
    std: call $8, @fib, ($7)
    std: add $9, $5, $8
    std: ret $9
base_case: std: lbl
    std: ui32 $10, 1
    std: ret $10
}
`)
	_, m2 := load(t, render(m1))

	assert(t, len(m1.Fns) == len(m2.Fns), "function count changed: %d -> %d", len(m1.Fns), len(m2.Fns))
	for i, f1 := range m1.Fns {
		f2 := m2.Fns[i]
		assert(t, f1.Name == f2.Name, "function %d renamed %q -> %q", i, f1.Name, f2.Name)
		assert(t, f1.FrameSize() == f2.FrameSize(), "%s frame size changed: %d -> %d", f1.Name, f1.FrameSize(), f2.FrameSize())
		assert(t, len(f1.AST.Instructions) == len(f2.AST.Instructions),
			"%s instruction count changed: %d -> %d", f1.Name, len(f1.AST.Instructions), len(f2.AST.Instructions))
		for pc := range f1.AST.Instructions {
			d1 := f1.AST.Instructions[pc].Display()
			d2 := f2.AST.Instructions[pc].Display()
			assert(t, d1 == d2, "%s pc %d changed: %q -> %q", f1.Name, pc, d1, d2)
		}
		assert(t, len(f1.AST.Labels) == len(f2.AST.Labels), "%s label map changed", f1.Name)
		for lbl, at := range f1.AST.Labels {
			assert(t, f2.AST.Labels[lbl] == at, "%s label %q moved %d -> %d", f1.Name, lbl, at, f2.AST.Labels[lbl])
		}
	}
}
