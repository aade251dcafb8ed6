package cfg

import (
	"fmt"
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

var branchSource = `
mod branch

fn pick($0: ui64) -> ui64 {
    std: ui32 $1, 10
    std: lt $2, $0, $1
    std: jmpif @small, $2
    std: ui32 $3, 0
    std: ret $3
small: std: lbl
    std: ui32 $3, 1
    std: ret $3
}
`

func loadFn(t *testing.T, src, name string) *bytecode.Function {
	t.Helper()
	ms := bytecode.NewModuleSet()
	m, err := loader.LoadSource(ms, dialect.NewStandardRegistry(), heap.New(0), "t.txt", src)
	assert(t, err == nil, "load: %v", err)
	idx, ok := m.FunctionByName(name)
	assert(t, ok, "%s not found", name)
	fn, err := m.Function(idx)
	assert(t, err == nil, "function: %v", err)
	return fn
}

// TestBuildPartition checks the block boundaries for a two-armed branch:
// the conditional jump ends its block, the label opens one, and the two
// arms are separate blocks.
func TestBuildPartition(t *testing.T) {
	fn := loadFn(t, branchSource, "pick")
	g := Build(fn.AST.Instructions, fn.AST.Labels)

	// 0: ui32  1: lt  2: jmpif | 3: ui32  4: ret | 5: lbl  6: ui32  7: ret
	assert(t, len(g.Blocks) == 3, "got %d blocks, want 3", len(g.Blocks))
	assert(t, g.Blocks[0].First == 0 && g.Blocks[0].Last == 2, "block 0 = [%d,%d]", g.Blocks[0].First, g.Blocks[0].Last)
	assert(t, g.Blocks[1].First == 3 && g.Blocks[1].Last == 4, "block 1 = [%d,%d]", g.Blocks[1].First, g.Blocks[1].Last)
	assert(t, g.Blocks[2].First == 5 && g.Blocks[2].Last == 7, "block 2 = [%d,%d]", g.Blocks[2].First, g.Blocks[2].Last)

	// The conditional jump has both its label target and the fall-through.
	kids := g.Blocks[0].Children
	assert(t, len(kids) == 2, "block 0 has %d children, want 2", len(kids))
	assert(t, (kids[0] == 1 && kids[1] == 2) || (kids[0] == 2 && kids[1] == 1), "block 0 children = %v", kids)
	assert(t, len(g.Blocks[1].Children) == 1 && g.Blocks[1].Children[0] == 2, "block 1 children = %v", g.Blocks[1].Children)
}

// TestBuildSoundness checks the §8-style structural invariants over a
// loop-shaped function: blocks tile the instruction stream in order with
// no gaps, and every instruction that is not a block's last has exactly
// one successor, the next instruction (it stays inside its block).
func TestBuildSoundness(t *testing.T) {
	fn := loadFn(t, `
mod loop

fn spin($0: ui64) -> ui64 {
    std: ui32 $1, 0
    std: ui32 $2, 1
top: std: lbl
    std: lt $3, $1, $0
    std: jmpifn @done, $3
    std: add $1, $1, $2
    std: jmp @top
done: std: lbl
    std: ret $1
}
`, "spin")
	g := Build(fn.AST.Instructions, fn.AST.Labels)

	next := 0
	for bi, b := range g.Blocks {
		assert(t, b.First == next, "block %d starts at %d, want %d", bi, b.First, next)
		assert(t, b.First <= b.Last, "block %d is empty [%d,%d]", bi, b.First, b.Last)
		next = b.Last + 1

		for i := b.First; i < b.Last; i++ {
			assert(t, g.BlockOf(i) == bi, "instruction %d escaped block %d", i, bi)
			assert(t, g.BlockOf(i+1) == bi, "instruction %d's successor %d left block %d", i, i+1, bi)
		}
	}
	assert(t, next == len(fn.AST.Instructions), "blocks cover %d of %d instructions", next, len(fn.AST.Instructions))

	// Edge symmetry: every child edge has the matching parent edge.
	for bi, b := range g.Blocks {
		for _, c := range b.Children {
			found := false
			for _, p := range g.Blocks[c].Parents {
				if p == bi {
					found = true
				}
			}
			assert(t, found, "edge %d->%d has no parent backlink", bi, c)
		}
	}
}
