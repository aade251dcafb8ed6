package vm

import (
	"errors"
	"fmt"
	"strings"

	"galevm/bytecode"
)

// Finish drives the interpreter's single-instruction Step loop to
// completion - spec.md §4.F's finish_function, used here as the VM's
// top-level driver rather than only for native code's nested
// invocations, since the embedder has nothing else that steps it.
func (vm *VM) Finish() error {
	for {
		cont, err := vm.step()
		if err != nil {
			if errors.Is(err, bytecode.ErrProgramFinished) {
				return nil
			}
			return err
		}
		if !cont {
			return nil
		}
	}
}

// step fetches and executes the current instruction exactly as
// bytecode.State.Step does, but wraps it with spec.md §4.F's tracing
// hook: "each step prints the read-set (pre) and write-set (post) values
// around the instruction" when vm.Trace is set. State.Step itself stays
// trace-free since it is also the JIT trampoline's nested-call driver
// (jit/trampoline.go), where tracing would double-print every compiled
// call's managed callees. An instruction that switches frames (a call
// into a managed callee, ret) gets no write line, since once Interpret
// returns the current frame is no longer the one its vars belong to.
func (vm *VM) step() (bool, error) {
	fn, err := vm.State.CurrentFunction()
	if err != nil {
		return false, err
	}
	instrs, err := fn.ASTInstructions()
	if err != nil {
		return false, err
	}
	if vm.State.IP < 0 || int(vm.State.IP) >= len(instrs) {
		return false, bytecode.ErrProgramFinished
	}
	instr := instrs[vm.State.IP]

	if vm.Trace {
		vm.traceReads(instr)
	}
	depth, base := len(vm.State.Calls), vm.State.VarBase
	cont, err := instr.Interpret(vm.State)
	if vm.Trace && err == nil && len(vm.State.Calls) == depth && vm.State.VarBase == base {
		vm.traceWrites(instr)
	}
	return cont, err
}

func (vm *VM) traceReads(instr bytecode.Instruction) {
	pre := formatVars(vm.State, instr.Reads())
	fmt.Fprintf(vm.State.Stdout, "-- %-40s reads[%s]\n", instr.Display(), pre)
	vm.State.Stdout.Flush()
}

func (vm *VM) traceWrites(instr bytecode.Instruction) {
	post := formatVars(vm.State, instr.Writes())
	fmt.Fprintf(vm.State.Stdout, "   %-40s writes[%s]\n", "", post)
	vm.State.Stdout.Flush()
}

func formatVars(st *bytecode.State, vars []bytecode.Var) string {
	parts := make([]string, len(vars))
	for i, v := range vars {
		parts[i] = fmt.Sprintf("$%d=%s", v, st.GetVar(v))
	}
	return strings.Join(parts, ", ")
}
