package jit

import (
	"bytes"
	"fmt"
	"strings"
	"testing"

	"galevm/bytecode"
	"galevm/dialect"
	"galevm/heap"
	"galevm/loader"
	"galevm/value"
)

func assert(t *testing.T, cond bool, format string, args ...any) {
	t.Helper()
	if !cond {
		t.Fatalf(fmt.Sprintf("%s", format), args...)
	}
}

func requireNative(t *testing.T) {
	t.Helper()
	if !nativeSupported {
		t.Skip("native execution requires an amd64 host")
	}
}

func loadModule(t *testing.T, src string) (*bytecode.ModuleSet, *bytecode.Module) {
	t.Helper()
	ms := bytecode.NewModuleSet()
	reg := dialect.NewStandardRegistry()
	h := heap.New(0)
	m, err := loader.LoadSource(ms, reg, h, "t.txt", src)
	assert(t, err == nil, "load: %v", err)
	assert(t, bytecode.ComputeDirectFunctionCalls(ms) == nil, "link failed")
	return ms, m
}

var addSource = `
mod add

fn add($0: ui64, $1: ui64) -> ui64 {
    std: add $2, $0, $1
    std: ret $2
}
`

// TestCompileAndInvoke round-trips a purely arithmetic function through
// the full CFG -> liveness -> regalloc -> emit pipeline and calls the
// result directly, bypassing the interpreter entirely.
func TestCompileAndInvoke(t *testing.T) {
	requireNative(t)
	ms, m := loadModule(t, addSource)
	fnIdx, ok := m.FunctionByName("add")
	assert(t, ok, "add not found")
	fn, err := m.Function(fnIdx)
	assert(t, err == nil, "function: %v", err)

	cf, err := Compile(fn)
	assert(t, err == nil, "compile: %v", err)

	h := heap.New(0)
	st := bytecode.NewState(h, ms, &bytes.Buffer{}, bytes.NewReader(nil))
	result, err := cf.Invoke(st, value.UI64, []value.Value{value.UI64Val(19), value.UI64Val(23)})
	assert(t, err == nil, "invoke: %v", err)
	n, err := result.AsUI64()
	assert(t, err == nil, "result: %v", err)
	assert(t, n == 42, "add(19,23) = %d, want 42", n)
}

// TestFibCompiledMatchesInterpreted compiles the doubly-recursive
// Fibonacci function and checks its compiled result against the known
// value the interpreted test in package vm also checks, exercising
// recursive self-calls through SelfEntry rather than the trampoline.
func TestFibCompiledMatchesInterpreted(t *testing.T) {
	requireNative(t)
	ms, m := loadModule(t, `
mod fib

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
	fnIdx, ok := m.FunctionByName("fib")
	assert(t, ok, "fib not found")
	fn, err := m.Function(fnIdx)
	assert(t, err == nil, "function: %v", err)

	cf, err := Compile(fn)
	assert(t, err == nil, "compile: %v", err)

	h := heap.New(0)
	st := bytecode.NewState(h, ms, &bytes.Buffer{}, bytes.NewReader(nil))
	result, err := cf.Invoke(st, value.UI64, []value.Value{value.UI64Val(15)})
	assert(t, err == nil, "invoke: %v", err)
	n, err := result.AsUI64()
	assert(t, err == nil, "result: %v", err)
	assert(t, n == 987, "fib(15) = %d, want 987", n)
}

// TestEmittedCodeDisassembles feeds add's compiled machine code through
// Disassemble, the same sanity check a JIT author runs by hand against
// objdump output: every byte Compile emitted must decode as a valid
// 64-bit instruction, with nothing left over, and the prologue's first
// line must be the push-rbp every compiled function starts with.
func TestEmittedCodeDisassembles(t *testing.T) {
	requireNative(t)
	_, m := loadModule(t, addSource)
	fnIdx, ok := m.FunctionByName("add")
	assert(t, ok, "add not found")
	fn, err := m.Function(fnIdx)
	assert(t, err == nil, "function: %v", err)

	cf, err := Compile(fn)
	assert(t, err == nil, "compile: %v", err)
	assert(t, len(cf.Code) > 0, "compiled code is empty")

	lines, err := Disassemble(cf.Code)
	assert(t, err == nil, "disassemble: %v", err)
	assert(t, len(lines) > 0, "no instructions decoded")
	assert(t, strings.Contains(lines[0], "push"), "expected prologue to start with push, got %q", lines[0])
}
