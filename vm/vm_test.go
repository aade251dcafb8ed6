package vm

import (
	"bytes"
	"fmt"
	"testing"
)

func assert(t *testing.T, cond bool, format string, args ...any) {
	t.Helper()
	if !cond {
		t.Fatalf(fmt.Sprintf("%s", format), args...)
	}
}

func runInterpreted(t *testing.T, src string, cliArgs []string) (string, uint64) {
	t.Helper()
	var out bytes.Buffer
	m := New(0, &out, bytes.NewReader(nil))
	mod, err := m.LoadSource("t.txt", src)
	assert(t, err == nil, "load: %v", err)
	assert(t, m.Link() == nil, "link failed")

	result, err := m.Run(mod, cliArgs)
	assert(t, err == nil, "run: %v", err)
	n, err := result.AsUI64()
	assert(t, err == nil, "result not ui64: %v", err)
	return out.String(), n
}

var identitySource = `
mod identity

fn main($0: &ui64) -> ui64 {
    std: ui32 $1, 0
    std: idx $2, $0, $1
    std: load $3, $2
    std: call $4, @parse_ui64, ($3)
    std: call $5, @identity, ($4)
    std: print $5
    std: ret $5
}

fn identity($0: ui64) -> ui64 {
    std: ret $0
}
`

func TestIdentity(t *testing.T) {
	_, n := runInterpreted(t, identitySource, []string{"42"})
	assert(t, n == 42, "identity(42) = %d, want 42", n)
}

var fibSource = `
mod fib

fn main($0: &ui64) -> ui64 {
    std: ui32 $1, 0
    std: idx $2, $0, $1
    std: load $3, $2
    std: call $4, @parse_ui64, ($3)
    std: call $5, @fib, ($4)
    std: print $5
    std: ret $5
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
`

func TestFib(t *testing.T) {
	_, n := runInterpreted(t, fibSource, []string{"15"})
	assert(t, n == 987, "fib(15) = %d, want 987", n)
}

var nestedCallsSource = `
mod nested_calls

fn inc($0: ui64) -> ui64 {
    std: ui32 $1, 1
    std: add $2, $0, $1
    std: ret $2
}

fn helper($0: ui64) -> ui64 {
    std: call $1, @inc, ($0)
    std: ret $1
}

fn main($0: &ui64) -> ui64 {
    std: ui32 $1, 0
    std: idx $2, $0, $1
    std: load $3, $2
    std: call $4, @parse_ui64, ($3)
    std: call $5, @helper, ($4)
    std: print $5
    std: ret $5
}
`

func TestNestedCalls(t *testing.T) {
	_, n := runInterpreted(t, nestedCallsSource, []string{"42"})
	assert(t, n == 43, "nested_calls(42) = %d, want 43", n)
}

var heapSource = `
mod heap

fn heap($0: ui64) -> ui64 {
    std: alloc $1, [ui64;3]
    std: ui32 $2, 1
    std: ui32 $3, 1
    std: idx $4, $1, $2
    std: store $4, $3
    std: ui32 $5, 2
    std: ui32 $6, 2
    std: idx $7, $1, $5
    std: store $7, $6
    std: ui32 $8, 3
    std: ui32 $9, 3
    std: idx $10, $1, $8
    std: store $10, $9
    std: idx $11, $1, $2
    std: load $12, $11
    std: idx $13, $1, $5
    std: load $14, $13
    std: add $15, $12, $14
    std: idx $16, $1, $8
    std: load $17, $16
    std: add $18, $15, $17
    std: add $19, $18, $0
    std: ret $19
}

fn main($0: &ui64) -> ui64 {
    std: ui32 $1, 0
    std: idx $2, $0, $1
    std: load $3, $2
    std: call $4, @parse_ui64, ($3)
    std: call $5, @heap, ($4)
    std: print $5
    std: ret $5
}
`

func TestHeap(t *testing.T) {
	_, n := runInterpreted(t, heapSource, []string{"42"})
	assert(t, n == 48, "heap(42) = %d, want 48", n)
}

// fib_until parses every CLI argument into a heap array (slot 0 is the
// array's length header, so element i lives at index i+1), then scans
// for an earlier element equal to the last one and returns a 0/1 flag.
var fibUntilSource = `
mod fib_until

fn main($0: &ui64) -> ui64 {
    std: alloc $1, [ui64; 16]
    std: ui32 $2, 0
    std: ui32 $3, 1
    std: ui32 $4, 0
read: std: lbl
    std: idx $5, $0, $2
    std: load $6, $5
    std: eq $7, $6, $4
    std: jmpif @scan, $7
    std: call $8, @parse_ui64, ($6)
    std: add $9, $2, $3
    std: idx $10, $1, $9
    std: store $10, $8
    std: mov $2, $9
    std: jmp @read
scan: std: lbl
    std: idx $11, $1, $2
    std: load $12, $11
    std: ui32 $13, 1
loop: std: lbl
    std: lt $14, $13, $2
    std: jmpifn @miss, $14
    std: idx $15, $1, $13
    std: load $16, $15
    std: eq $17, $16, $12
    std: jmpif @hit, $17
    std: add $13, $13, $3
    std: jmp @loop
hit: std: lbl
    std: ui32 $18, 1
    std: print $18
    std: ret $18
miss: std: lbl
    std: ui32 $19, 0
    std: print $19
    std: ret $19
}
`

var fibUntilArgs = []string{"1", "1", "2", "3", "5", "8", "13", "21", "34", "55", "55"}

func TestFibUntil(t *testing.T) {
	_, n := runInterpreted(t, fibUntilSource, fibUntilArgs)
	assert(t, n == 1, "fib_until(%v) = %d, want 1", fibUntilArgs, n)
}

var fnAsParamSource = `
mod fn_as_param

fn two() -> ui64 {
    std: ui32 $0, 2
    std: ret $0
}

fn apply($0: (ui64 -> ui64)) -> ui64 {
    std: call $1, $0, ()
    std: ret $1
}

fn main($0: &ui64) -> ui64 {
    std: movi $1, @two
    std: call $2, @apply, ($1)
    std: print $2
    std: ret $2
}
`

func TestFnAsParam(t *testing.T) {
	_, n := runInterpreted(t, fnAsParamSource, nil)
	assert(t, n == 2, "fn_as_param() = %d, want 2", n)
}

func runJIT(t *testing.T, src string, cliArgs []string) (string, uint64) {
	t.Helper()
	var out bytes.Buffer
	m := New(0, &out, bytes.NewReader(nil))
	m.UseJIT = true
	mod, err := m.LoadSource("t.txt", src)
	assert(t, err == nil, "load: %v", err)
	assert(t, m.Link() == nil, "link failed")

	result, err := m.Run(mod, cliArgs)
	assert(t, err == nil, "run: %v", err)
	n, err := result.AsUI64()
	assert(t, err == nil, "result not ui64: %v", err)
	return out.String(), n
}

// TestScenariosJITMatchesInterpreter runs every end-to-end scenario under
// both execution modes and requires identical return values and stdout -
// the interpreter/JIT equivalence property. On hosts where the JIT
// refuses to compile, Run falls back to the interpreter and the check
// degenerates to interpreter-vs-interpreter, which still must hold.
func TestScenariosJITMatchesInterpreter(t *testing.T) {
	cases := []struct {
		name string
		src  string
		args []string
		want uint64
	}{
		{"identity", identitySource, []string{"42"}, 42},
		{"fib", fibSource, []string{"15"}, 987},
		{"nested_calls", nestedCallsSource, []string{"42"}, 43},
		{"heap", heapSource, []string{"42"}, 48},
		{"fib_until", fibUntilSource, fibUntilArgs, 1},
		{"fn_as_param", fnAsParamSource, nil, 2},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			iOut, iN := runInterpreted(t, tc.src, tc.args)
			jOut, jN := runJIT(t, tc.src, tc.args)
			assert(t, iN == tc.want, "%s interpreted = %d, want %d", tc.name, iN, tc.want)
			assert(t, jN == iN, "%s: jit returned %d, interpreter %d", tc.name, jN, iN)
			assert(t, jOut == iOut, "%s: stdout diverged\njit:\n%s\ninterp:\n%s", tc.name, jOut, iOut)
		})
	}
}

func TestTraceDoesNotCrash(t *testing.T) {
	var out bytes.Buffer
	m := New(0, &out, bytes.NewReader(nil))
	m.Trace = true
	mod, err := m.LoadSource("t.txt", identitySource)
	assert(t, err == nil, "load: %v", err)
	assert(t, m.Link() == nil, "link failed")
	_, err = m.Run(mod, []string{"7"})
	assert(t, err == nil, "run: %v", err)
	assert(t, out.Len() > 0, "expected trace output")
}
