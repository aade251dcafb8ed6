package regalloc

import (
	"fmt"
	"testing"

	"galevm/bytecode"
	"galevm/dataflow"
)

func assert(t *testing.T, cond bool, format string, args ...any) {
	t.Helper()
	if !cond {
		t.Fatalf(fmt.Sprintf("%s", format), args...)
	}
}

func overlap(a, b dataflow.Interval) bool {
	return a.Begin < b.End && b.Begin < a.End
}

// checkDisjoint asserts the §8 disjointness property: two register
// resident Vars with overlapping intervals never share a register.
func checkDisjoint(t *testing.T, a *Allocation) {
	t.Helper()
	for u, lu := range a.Locs {
		for v, lv := range a.Locs {
			if u == v || !lu.InRegister || !lv.InRegister {
				continue
			}
			if overlap(a.Intervals[u], a.Intervals[v]) {
				assert(t, lu.Reg != lv.Reg,
					"$%d and $%d overlap but share register %d", u, v, lu.Reg)
			}
		}
	}
}

// TestAllocateFitsInPool gives the allocator fewer simultaneously live
// intervals than registers: everything must land in a register, nothing
// on the stack.
func TestAllocateFitsInPool(t *testing.T) {
	intervals := map[bytecode.Var]dataflow.Interval{
		0: {Begin: 0, End: 10},
		1: {Begin: 1, End: 4},
		2: {Begin: 4, End: 9},
		3: {Begin: 5, End: 7},
	}
	a := Allocate(intervals)
	for v, loc := range a.Locs {
		assert(t, loc.InRegister, "$%d spilled with a non-full pool", v)
	}
	assert(t, a.StackSlots == 0, "reserved %d stack slots, want 0", a.StackSlots)
	checkDisjoint(t, a)
}

// TestAllocateSpillsUnderPressure makes more intervals simultaneously
// live than the pool holds: the allocator must spill, and what it keeps
// in registers must stay disjoint.
func TestAllocateSpillsUnderPressure(t *testing.T) {
	intervals := make(map[bytecode.Var]dataflow.Interval)
	n := len(pool) + 3
	for i := 0; i < n; i++ {
		// All n intervals overlap over [n-1, n+1).
		intervals[bytecode.Var(i)] = dataflow.Interval{Begin: i, End: 2*n - i}
	}
	a := Allocate(intervals)

	regs := 0
	for _, loc := range a.Locs {
		if loc.InRegister {
			regs++
		}
	}
	assert(t, regs == len(pool), "kept %d in registers, want the full pool %d", regs, len(pool))
	assert(t, a.StackSlots == n-len(pool), "reserved %d stack slots, want %d", a.StackSlots, n-len(pool))
	checkDisjoint(t, a)

	// Spilled Vars get distinct stack offsets.
	seen := make(map[int32]bytecode.Var)
	for v, loc := range a.Locs {
		if loc.InRegister {
			continue
		}
		prev, dup := seen[loc.StackOff]
		assert(t, !dup, "$%d and $%d share stack offset %d", v, prev, loc.StackOff)
		seen[loc.StackOff] = v
	}
}

// TestAllocateReusesExpiredRegisters chains non-overlapping intervals:
// far more Vars than registers, but never more than one live at a time,
// so every Var must still get a register.
func TestAllocateReusesExpiredRegisters(t *testing.T) {
	intervals := make(map[bytecode.Var]dataflow.Interval)
	for i := 0; i < 4*len(pool); i++ {
		intervals[bytecode.Var(i)] = dataflow.Interval{Begin: i, End: i + 1}
	}
	a := Allocate(intervals)
	for v, loc := range a.Locs {
		assert(t, loc.InRegister, "$%d spilled despite serial intervals", v)
	}
	checkDisjoint(t, a)
}

// TestRegUsedAt cross-checks the emit-time liveness query against the
// allocation it came from.
func TestRegUsedAt(t *testing.T) {
	intervals := map[bytecode.Var]dataflow.Interval{
		0: {Begin: 0, End: 8},
		1: {Begin: 2, End: 5},
	}
	a := Allocate(intervals)
	for v, loc := range a.Locs {
		iv := a.Intervals[v]
		got, ok := a.RegUsedAt(loc.Reg, iv.Begin)
		assert(t, ok && got == v, "RegUsedAt(%d, %d) = (%d, %t), want $%d", loc.Reg, iv.Begin, got, ok, v)
		// End is exclusive: at iv.End the register may only be held by a
		// different Var, never by v itself.
		other, stillUsed := a.RegUsedAt(loc.Reg, iv.End)
		assert(t, !stillUsed || other != v, "register %d still owned by $%d at its own end", loc.Reg, v)
	}
}
