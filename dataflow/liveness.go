package dataflow

import (
	"galevm/bytecode"
	"galevm/cfg"
)

// Interval is the inclusive-begin, exclusive-end program-counter range
// across which one Var is live (SPEC_FULL.md §3 Open Questions: liveness
// "end" is stored exclusive throughout this module, so an interval
// [b, e) covers instructions b..e-1 and two Vars whose intervals only
// touch at a shared boundary point do not conflict).
type Interval struct {
	Begin, End int
}

// blockGraph adapts one function's instruction list + CFG into the
// generic Graph the worklist solver consumes, treating each basic block
// as a single dataflow node (spec.md §4.H runs block-granular, then
// liveness per-instruction is derived from the per-block fixpoint below).
type blockGraph struct {
	instrs []bytecode.Instruction
	g      *cfg.CFG
}

func (b *blockGraph) NumNodes() int { return len(b.g.Blocks) }

func (b *blockGraph) Predecessors(n int) []int { return b.g.Blocks[n].Parents }
func (b *blockGraph) Successors(n int) []int   { return b.g.Blocks[n].Children }

func (b *blockGraph) Reads(n int) Set {
	return blockVarSet(b.instrs, b.g.Blocks[n], func(i bytecode.Instruction) []bytecode.Var { return i.Reads() })
}

func (b *blockGraph) Writes(n int) Set {
	return blockVarSet(b.instrs, b.g.Blocks[n], func(i bytecode.Instruction) []bytecode.Var { return i.Writes() })
}

func blockVarSet(instrs []bytecode.Instruction, blk cfg.BasicBlock, sel func(bytecode.Instruction) []bytecode.Var) Set {
	s := Set{}
	for i := blk.First; i <= blk.Last; i++ {
		for _, v := range sel(instrs[i]) {
			s[int(v)] = true
		}
	}
	return s
}

// Liveness runs the block-level solver over instrs/g, then refines each
// block's live-out set into per-instruction intervals by walking the
// block backward once more, producing one Interval per Var that appears
// anywhere in the function (spec.md §4.H/§4.I - the regalloc package's
// sole input).
func Liveness(instrs []bytecode.Instruction, g *cfg.CFG) map[bytecode.Var]Interval {
	bg := &blockGraph{instrs: instrs, g: g}
	liveOut := Solve(bg) // values[n] holds live-out(n) per the Solve contract

	intervals := make(map[bytecode.Var]Interval)
	touch := func(v bytecode.Var, pc int) {
		iv, ok := intervals[v]
		if !ok {
			intervals[v] = Interval{Begin: pc, End: pc + 1}
			return
		}
		if pc < iv.Begin {
			iv.Begin = pc
		}
		if pc+1 > iv.End {
			iv.End = pc + 1
		}
		intervals[v] = iv
	}

	for bi, blk := range g.Blocks {
		live := liveOut[bi].Clone()
		for v := range live {
			touch(bytecode.Var(v), blk.Last)
		}
		for pc := blk.Last; pc >= blk.First; pc-- {
			instr := instrs[pc]
			// Writes are removed before reads are added back: the same
			// GEN ∪ (OUT \ KILL) order as the block-level transfer, so a
			// self-referential instruction keeps its operand live (see
			// dataflow.go's transfer).
			for _, v := range instr.Writes() {
				delete(live, int(v))
			}
			for _, v := range instr.Reads() {
				live[int(v)] = true
				touch(v, pc)
			}
			for v := range live {
				touch(bytecode.Var(v), pc)
			}
		}
	}
	return intervals
}
