package vm

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"

	"galevm/bytecode"
	"galevm/value"
)

// RunDebug drives mod's main exactly like Run's interpreted path, but
// pauses before every instruction for one line of the debugger protocol
// spec.md §6 defines: a blank line single-steps, "q" quits, "memdump"
// prints the whole heap, a bare variable number prints that variable's
// current value, and "*EXPR" dereferences it (one heap load per leading
// '*', e.g. "**3" loads twice) before printing. RunDebug never uses the
// JIT, since the debugger needs per-instruction vantage the compiled
// path doesn't stop to offer.
func (vm *VM) RunDebug(mod *bytecode.Module, cliArgs []string, in io.Reader, out io.Writer) (value.Value, error) {
	fnIdx, ok := mod.FunctionByName("main")
	if !ok {
		return value.Value{}, fmt.Errorf("vm: module %q has no main function", mod.Name)
	}

	argvPtr, err := vm.BuildArgv(cliArgs)
	if err != nil {
		return value.Value{}, err
	}
	args := []value.Value{value.PointerVal(argvPtr)}

	slot, err := vm.State.CallFromNative(mod.ID, fnIdx, args)
	if err != nil {
		return value.Value{}, err
	}
	defer vm.State.Stdout.Flush()

	reader := bufio.NewReader(in)
	fmt.Fprintln(out, "commands: <enter>=step, q=quit, memdump, N=print var N, *EXPR=dereference")

	running := true
	for {
		fn, ferr := vm.State.CurrentFunction()
		if ferr != nil {
			return value.Value{}, ferr
		}
		instrs, ierr := fn.ASTInstructions()
		if ierr != nil {
			return value.Value{}, ierr
		}
		if vm.State.IP >= 0 && int(vm.State.IP) < len(instrs) {
			fmt.Fprintf(out, "%04d: %s\n", vm.State.IP, instrs[vm.State.IP].Display())
		}

		if running {
			line, rerr := reader.ReadString('\n')
			line = strings.TrimSpace(line)
			if rerr != nil && line == "" {
				running = false
			} else {
				switch {
				case line == "q":
					return value.Value{}, nil
				case line == "":
					// single step, fall through
				case line == "memdump":
					fmt.Fprint(out, vm.Heap.HeapDump())
					continue
				case strings.HasPrefix(line, "*"):
					fmt.Fprintln(out, vm.evalDeref(line))
					continue
				default:
					if n, perr := strconv.Atoi(line); perr == nil {
						fmt.Fprintln(out, vm.State.GetVar(bytecode.Var(n)))
						continue
					}
					fmt.Fprintln(out, "unrecognized command")
					continue
				}
			}
		}

		cont, err := vm.step()
		if err != nil {
			if err == bytecode.ErrProgramFinished {
				break
			}
			return value.Value{}, err
		}
		if !cont {
			break
		}
	}

	return vm.State.ReadResultSlot(slot), nil
}

// evalDeref implements spec.md §6's "*EXPR" debugger command: one or more
// leading '*' characters, then a decimal variable index. Each '*' loads
// one more 64-bit word starting from the previous result, so "**3" reads
// var 3's pointer, then reads the pointer stored at that address.
func (vm *VM) evalDeref(expr string) string {
	stars := 0
	for stars < len(expr) && expr[stars] == '*' {
		stars++
	}
	n, err := strconv.Atoi(strings.TrimSpace(expr[stars:]))
	if err != nil {
		return fmt.Sprintf("bad expression %q: %v", expr, err)
	}

	addr, err := vm.State.GetVar(bytecode.Var(n)).AsPointer()
	if err != nil {
		return fmt.Sprintf("var %d is not a pointer: %v", n, err)
	}
	for i := 1; i < stars; i++ {
		addr, err = vm.Heap.LoadU64(addr)
		if err != nil {
			return fmt.Sprintf("dereference failed: %v", err)
		}
	}
	word, err := vm.Heap.LoadU64(addr)
	if err != nil {
		return fmt.Sprintf("dereference failed: %v", err)
	}
	return fmt.Sprintf("*0x%x = %d (0x%x)", addr, word, word)
}
