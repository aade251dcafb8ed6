// Command galevm loads and runs a single bytecode module: the
// engine's counterpart to the teacher's gvm CLI driver.
package main

import (
	"flag"
	"fmt"
	"os"
	"runtime/debug"
	"strconv"
	"strings"
	"time"

	"galevm/vm"
)

func main() {
	var (
		input   = flag.String("input", "", "path to the bytecode module to run")
		argsStr = flag.String("args", "", "space-separated argv passed to main")
		useJIT  = flag.Bool("jit", false, "compile main (and its callees) with the JIT instead of interpreting")
		debugFl = flag.Bool("debug", false, "enter the line-based single-step debugger")
		timeFl  = flag.Bool("time", false, "disable the garbage collector and print wall-clock run time")
		verbose = flag.Bool("v", false, "trace every instruction's read/write sets")
	)
	flag.Parse()

	if *input == "" {
		fmt.Fprintln(os.Stderr, "galevm: -input is required")
		os.Exit(1)
	}

	cliArgs := strings.Fields(*argsStr)

	machine := vm.New(0, os.Stdout, os.Stdin)
	machine.UseJIT = *useJIT
	machine.Trace = *verbose

	mod, err := machine.LoadFile(*input)
	if err != nil {
		fmt.Fprintln(os.Stderr, "galevm:", err)
		os.Exit(1)
	}
	if err := machine.Link(); err != nil {
		fmt.Fprintln(os.Stderr, "galevm:", err)
		os.Exit(1)
	}

	if *timeFl {
		defer restoreGC(disableGC())
	}

	var (
		result interface{ String() string }
		start  = time.Now()
	)

	if *debugFl {
		v, err := machine.RunDebug(mod, cliArgs, os.Stdin, os.Stdout)
		if err != nil {
			fmt.Fprintln(os.Stderr, "galevm:", err)
			os.Exit(1)
		}
		result = v
	} else {
		v, err := machine.Run(mod, cliArgs)
		if err != nil {
			fmt.Fprintln(os.Stderr, "galevm:", err)
			os.Exit(1)
		}
		result = v
	}

	elapsed := time.Since(start)
	fmt.Println(result)
	if *timeFl {
		fmt.Fprintf(os.Stderr, "galevm: ran in %s\n", elapsed)
	}
}

// disableGC implements the teacher's run.go pattern: the interpreter's
// tight per-instruction loop and the JIT's hot path both allocate far
// less per call than a general Go program, so the collector's usual
// pacing just adds overhead to a single-shot CLI run. GOGC is read back
// out so a post-run restore (irrelevant for a CLI process, but kept for
// parity with embedding this VM in a longer-lived host) leaves the
// runtime's chosen percentage rather than hardcoding 100.
func disableGC() int {
	pct := 100
	if v, ok := os.LookupEnv("GOGC"); ok {
		if n, err := strconv.Atoi(v); err == nil {
			pct = n
		}
	}
	debug.SetGCPercent(-1)
	return pct
}

func restoreGC(pct int) {
	debug.SetGCPercent(pct)
}
