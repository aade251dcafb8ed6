package dialect_test

import (
	"fmt"
	"strings"
	"testing"

	"galevm/bytecode"
	"galevm/dialect"
	"galevm/heap"
	"galevm/loader"
)

func assert(t *testing.T, cond bool, format string, args ...any) {
	t.Helper()
	if !cond {
		t.Fatalf(fmt.Sprintf("%s", format), args...)
	}
}

// kitchenSink touches every std opcode that has a compact encoding, plus
// the ones that legitimately refuse one (call, jmp, jmpif, jmpifn, alloc,
// tup, movi, panic).
var kitchenSink = `
mod sink

const greeting: str = "hey"

fn helper($0: ui64) -> ui64 {
    std: ret $0
}

fn main($0: ui64) -> ui64 {
    std: nop
    std: ui32 $1, 7
    std: bool $2, true
    std: mov $3, $1
    std: movi $4, @helper
    std: eq $5, $1, $3
    std: lt $5, $1, $3
    std: sub $6, $1, $3
    std: add $6, $1, $3
    std: mul $6, $1, $3
    std: not $7, $2
    std: sizeof $8, [ui64; 4]
    std: alloc $9, [ui64; 4]
    std: idx $10, $9, $1
    std: store $10, $6
    std: load $11, $10
    std: loadc $12, @greeting
    std: tup $13, ($1, $6)
    std: print $11
    std: jmpif @done, $2
    std: jmpifn @done, $2
    std: call $14, @helper, ($1)
    std: call $14, $4, ($1)
    std: jmp @done
done: std: lbl
    std: panic
}
`

// TestOpSizeBound pins the §8-style instruction size bound: every
// instruction's compact in-buffer representation is at most 8 bytes, and
// whatever reports a size emplaces into exactly that many bytes.
func TestOpSizeBound(t *testing.T) {
	ms := bytecode.NewModuleSet()
	m, err := loader.LoadSource(ms, dialect.NewStandardRegistry(), heap.New(0), "t.txt", kitchenSink)
	assert(t, err == nil, "load: %v", err)
	assert(t, bytecode.ComputeDirectFunctionCalls(ms) == nil, "link failed")

	for _, fn := range m.Fns {
		if !fn.HasASTImpl() {
			continue
		}
		for pc, instr := range fn.AST.Instructions {
			sz := instr.OpSize()
			assert(t, sz <= 8, "%s pc %d (%s): OpSize %d exceeds 8", fn.Name, pc, instr.Display(), sz)
			if sz > 0 {
				buf := make([]byte, sz)
				instr.Emplace(buf) // must not index past len(buf)
			}
		}
	}
}

// TestDisplayReparses checks that every instruction the sink module
// produces renders back to surface syntax the parser accepts (the same
// property loader's round-trip test checks end to end; here it runs per
// instruction so a failure names the offending opcode). Instructions
// whose Display is a diagnostic form rather than surface syntax (loadc's
// constant index) are skipped by name.
func TestDisplayReparses(t *testing.T) {
	ms := bytecode.NewModuleSet()
	m, err := loader.LoadSource(ms, dialect.NewStandardRegistry(), heap.New(0), "t.txt", kitchenSink)
	assert(t, err == nil, "load: %v", err)

	idx, _ := m.FunctionByName("main")
	fn, _ := m.Function(idx)
	for pc, instr := range fn.AST.Instructions {
		d := instr.Display()
		assert(t, d != "", "pc %d has empty Display", pc)
		if strings.Contains(d, "const#") {
			continue
		}
		src := fmt.Sprintf("mod probe\n\nfn probe($0: ui64) -> ui64 {\n    %s\n}\n", d)
		ms2 := bytecode.NewModuleSet()
		_, err := loader.LoadSource(ms2, dialect.NewStandardRegistry(), heap.New(0), "probe.txt", src)
		assert(t, err == nil, "pc %d: Display %q does not reparse: %v", pc, d, err)
	}
}
