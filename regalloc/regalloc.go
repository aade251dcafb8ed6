// Package regalloc implements the simplified linear-scan register
// allocator of spec.md §4.I (Poletto & Sarkar), over the liveness
// intervals package dataflow produces.
package regalloc

import (
	"sort"

	"galevm/bytecode"
	"galevm/dataflow"
)

// pool is the fixed set of registers the allocator hands out. RSI/RDI are
// withheld for the JIT emitter's own Scratch() pair and RBX is left
// unallocated (see DESIGN.md); that leaves these seven, matching spec.md
// §4.I's "the code uses {RCX, RDX, R8, R9, R10, R11, RAX} as volatile".
var pool = []bytecode.Reg{
	bytecode.RCX, bytecode.RDX, bytecode.R8, bytecode.R9,
	bytecode.R10, bytecode.R11, bytecode.RAX,
}

// wordSize is the stack slot size for a spilled Var (every Var is one
// 64-bit word, per spec.md §3).
const wordSize = 8

// Pool returns a copy of the fixed register set Allocate draws from, for
// the emitter's cross-call spill discipline (it needs to enumerate every
// allocator-visible register, not just the ones a particular Allocation
// happened to use).
func Pool() []bytecode.Reg { return append([]bytecode.Reg(nil), pool...) }

// Allocation is the result of running the allocator over one function: a
// location for every Var, plus the originating intervals (the JIT emitter
// needs both - Locs to lower operands, Intervals to ask "is register R
// live at pc" when deciding what to spill around a runtime/trampoline
// call).
type Allocation struct {
	Locs      map[bytecode.Var]bytecode.VarLoc
	Intervals map[bytecode.Var]dataflow.Interval
	// StackSlots is the number of 8-byte slots reserved for spilled Vars,
	// for the emitter's prologue to size the native frame.
	StackSlots int
}

// RegUsedAt reports whether register r is occupied by some Var whose
// interval covers pc, and if so which Var. Used by the JIT's cross-call
// spill discipline (spec.md §4.J) to decide which registers must be saved
// around a call.
func (a *Allocation) RegUsedAt(r bytecode.Reg, pc int) (bytecode.Var, bool) {
	for v, loc := range a.Locs {
		if !loc.InRegister || loc.Reg != r {
			continue
		}
		iv := a.Intervals[v]
		if pc >= iv.Begin && pc < iv.End {
			return v, true
		}
	}
	return 0, false
}

type active struct {
	v  bytecode.Var
	iv dataflow.Interval
	r  bytecode.Reg
}

// Allocate runs linear-scan over intervals: process Vars in increasing
// order of interval start, keep an "active" list sorted by interval end,
// expire anything ending at or before the current interval's start (its
// register becomes free), then either take a free register from the pool
// or - if the pool is exhausted - spill the active interval whose end is
// furthest away (the standard Poletto & Sarkar heuristic: spilling the
// longest-remaining interval frees the most future register pressure).
func Allocate(intervals map[bytecode.Var]dataflow.Interval) *Allocation {
	vars := make([]bytecode.Var, 0, len(intervals))
	for v := range intervals {
		vars = append(vars, v)
	}
	sort.Slice(vars, func(i, j int) bool {
		return intervals[vars[i]].Begin < intervals[vars[j]].Begin
	})

	alloc := &Allocation{
		Locs:      make(map[bytecode.Var]bytecode.VarLoc, len(vars)),
		Intervals: intervals,
	}

	var active_ []active
	free := append([]bytecode.Reg(nil), pool...)
	nextStackSlot := 0

	takeFree := func() (bytecode.Reg, bool) {
		if len(free) == 0 {
			return bytecode.RegNone, false
		}
		r := free[len(free)-1]
		free = free[:len(free)-1]
		return r, true
	}
	releaseReg := func(r bytecode.Reg) { free = append(free, r) }

	expireOldIntervals := func(cur dataflow.Interval) {
		kept := active_[:0]
		for _, a := range active_ {
			if a.iv.End <= cur.Begin {
				releaseReg(a.r)
				continue
			}
			kept = append(kept, a)
		}
		active_ = kept
	}

	spillSlot := func(v bytecode.Var) int32 {
		nextStackSlot++
		return -int32(nextStackSlot * wordSize)
	}

	for _, v := range vars {
		iv := intervals[v]
		expireOldIntervals(iv)

		if r, ok := takeFree(); ok {
			alloc.Locs[v] = bytecode.VarLoc{InRegister: true, Reg: r}
			active_ = append(active_, active{v: v, iv: iv, r: r})
			sort.Slice(active_, func(i, j int) bool { return active_[i].iv.End < active_[j].iv.End })
			continue
		}

		// Pool exhausted: spill either v itself or the active interval
		// whose end is furthest in the future, whichever frees the most
		// pressure (Poletto & Sarkar).
		if len(active_) > 0 {
			last := active_[len(active_)-1]
			if last.iv.End > iv.End {
				alloc.Locs[v] = bytecode.VarLoc{InRegister: true, Reg: last.r}
				alloc.Locs[last.v] = bytecode.VarLoc{InRegister: false, StackOff: spillSlot(last.v)}
				active_[len(active_)-1] = active{v: v, iv: iv, r: last.r}
				sort.Slice(active_, func(i, j int) bool { return active_[i].iv.End < active_[j].iv.End })
				continue
			}
		}
		alloc.Locs[v] = bytecode.VarLoc{InRegister: false, StackOff: spillSlot(v)}
	}

	alloc.StackSlots = nextStackSlot
	return alloc
}
