package bytecode

import (
	"bufio"
	"fmt"
	"io"

	"galevm/heap"
	"galevm/value"
)

// Status is the interpreter's run state (spec.md "State machines").
type Status int

const (
	Created Status = iota
	Running
	Finished
)

// CallInfo records everything needed to resume the caller once the
// callee returns (spec.md §3).
type CallInfo struct {
	// CalledByNative marks a sentinel frame pushed on behalf of native
	// (Go) code calling into managed code, rather than a managed->managed
	// call.
	CalledByNative bool
	// FrameSize is the callee's frame size, needed to truncate the value
	// stack on return.
	FrameSize int
	// CallerVarBase is the restored frame's base index in the value
	// stack.
	CallerVarBase int
	// ResultVar is the Var in the restored (caller) frame that should
	// receive the return value, for a managed caller.
	ResultVar Var
	// ResultSlot is the absolute stack index of the one-slot reservation
	// made just beneath the callee's frame, for a CalledByNative caller
	// (spec.md §4.F).
	ResultSlot int

	PrevIP  int64
	PrevFn  int
	PrevMod int
}

// State is the interpreter's mutable execution state, shared verbatim by
// the tree-walking interpreter and (via the Emitter/CallRuntime bridge)
// JIT-compiled code (spec.md §3 InterpreterState).
type State struct {
	Stack   *value.Stack
	Calls   []CallInfo
	IP      int64
	FnID    int
	ModID   int
	VarBase int

	Status Status
	Result value.Value

	Heap    *heap.Heap
	Modules *ModuleSet

	Trace  bool
	Stdout *bufio.Writer
	Stdin  *bufio.Reader

	// JITFault carries an error raised by a runtime helper invoked from
	// JIT-compiled code back to the Go-side caller, since the direct
	// native-to-Go call package jit uses for these helpers (see
	// jit/runtime.go) has no room in its register-based return convention
	// for a full Go error value (see DESIGN.md).
	JITFault error
}

// NewState creates a fresh, Created-status interpreter state over the
// given heap and module registry.
func NewState(h *heap.Heap, ms *ModuleSet, stdout io.Writer, stdin io.Reader) *State {
	return &State{
		Stack:   value.NewStack(4096),
		Heap:    h,
		Modules: ms,
		Status:  Created,
		Stdout:  bufio.NewWriter(stdout),
		Stdin:   bufio.NewReader(stdin),
	}
}

// Step executes the single instruction at the current IP against st,
// exactly as Interpret defines (the interpreter's and the JIT
// trampoline's nested-invocation drivers are both just a loop around
// this - spec.md §4.F/§6). It returns false once the outermost
// managed/native-caller frame has returned.
func (st *State) Step() (bool, error) {
	fn, err := st.CurrentFunction()
	if err != nil {
		return false, err
	}
	instrs, err := fn.ASTInstructions()
	if err != nil {
		return false, err
	}
	if st.IP < 0 || int(st.IP) >= len(instrs) {
		return false, ErrProgramFinished
	}
	return instrs[st.IP].Interpret(st)
}

// GetVar reads the current frame's slot v.
func (st *State) GetVar(v Var) value.Value {
	return st.Stack.Get(st.VarBase, int(v))
}

// SetVar writes the current frame's slot v.
func (st *State) SetVar(v Var, val value.Value) {
	st.Stack.Set(st.VarBase, int(v), val)
}

// CurrentModule resolves the module currently executing.
func (st *State) CurrentModule() (*Module, error) {
	return st.Modules.Module(st.ModID)
}

// CurrentFunction resolves the function currently executing.
func (st *State) CurrentFunction() (*Function, error) {
	m, err := st.CurrentModule()
	if err != nil {
		return nil, err
	}
	return m.Function(st.FnID)
}

// PushManagedFrame implements the managed->managed calling convention of
// spec.md §4.F: allocate the callee's frame above the caller's, write
// args into [0, n), push a CallInfo, and switch ip/fn/module to the
// callee.
func (st *State) PushManagedFrame(calleeMod, calleeFn int, args []value.Value, resultVar Var) error {
	m, err := st.Modules.Module(calleeMod)
	if err != nil {
		return err
	}
	fn, err := m.Function(calleeFn)
	if err != nil {
		return err
	}
	if !fn.HasASTImpl() {
		return fmt.Errorf("bytecode: %s:%s has no AST implementation to step into", m.Name, fn.Name)
	}
	frameSize := fn.FrameSize()
	ci := CallInfo{
		FrameSize:     frameSize,
		CallerVarBase: st.VarBase,
		ResultVar:     resultVar,
		PrevIP:        st.IP,
		PrevFn:        st.FnID,
		PrevMod:       st.ModID,
	}
	newBase := st.Stack.Alloc(frameSize)
	for i, a := range args {
		st.Stack.Set(newBase, i, a)
	}
	st.Calls = append(st.Calls, ci)
	st.VarBase = newBase
	st.ModID = calleeMod
	st.FnID = calleeFn
	st.IP = 0
	return nil
}

// CallFromNative implements push_native_caller_frame (spec.md §4.F): it
// reserves a one-slot result cell beneath a fresh callee frame, pushes a
// CalledByNative CallInfo, and switches execution into the callee. The
// caller is expected to drive execution (e.g. via a Step/Finish loop)
// until len(st.Calls) returns to its pre-call depth, then read the result
// out of the returned slot index and deallocate it.
//
// SPEC_FULL.md §3 records the resolution of the source's
// `panic!("Need to deref this var")` stub here: arguments are passed by
// value, already materialized into args, rather than re-derived from a
// pointer at call time.
func (st *State) CallFromNative(mod, fnIdx int, args []value.Value) (resultSlot int, err error) {
	m, err := st.Modules.Module(mod)
	if err != nil {
		return 0, err
	}
	fn, err := m.Function(fnIdx)
	if err != nil {
		return 0, err
	}
	if !fn.HasASTImpl() {
		return 0, fmt.Errorf("bytecode: %s:%s has no AST implementation to step into", m.Name, fn.Name)
	}
	frameSize := fn.FrameSize()
	resultSlot = st.Stack.Alloc(1)
	newBase := st.Stack.Alloc(frameSize)
	for i, a := range args {
		st.Stack.Set(newBase, i, a)
	}
	ci := CallInfo{
		CalledByNative: true,
		FrameSize:      frameSize,
		CallerVarBase:  st.VarBase,
		ResultSlot:     resultSlot,
		PrevIP:         st.IP,
		PrevFn:         st.FnID,
		PrevMod:        st.ModID,
	}
	st.Calls = append(st.Calls, ci)
	st.VarBase = newBase
	st.ModID = mod
	st.FnID = fnIdx
	st.IP = 0
	if st.Status == Created {
		st.Status = Running
	}
	return resultSlot, nil
}

// CallNative implements the managed->native calling convention of
// spec.md §4.F: no frame is pushed at all, the native Go function runs
// to completion synchronously and hands back its result directly.
func (st *State) CallNative(mod, fnIdx int, args []value.Value) (value.Value, error) {
	m, err := st.Modules.Module(mod)
	if err != nil {
		return value.Value{}, err
	}
	fn, err := m.Function(fnIdx)
	if err != nil {
		return value.Value{}, err
	}
	if !fn.HasNativeImpl() {
		return value.Value{}, fmt.Errorf("bytecode: %s:%s has no native implementation", m.Name, fn.Name)
	}
	return fn.NativeFn.Fn(st, args)
}

// ReadResultSlot reads back the value CallFromNative's caller reserved,
// then frees it. Call this only after the call-info stack has unwound
// past the CallFromNative frame.
func (st *State) ReadResultSlot(slot int) value.Value {
	v := st.Stack.Get(slot, 0)
	st.Stack.Dealloc(1)
	return v
}

// DoReturn implements the `ret` half of both calling conventions (spec.md
// §4.F): pop the top CallInfo, truncate the stack by its frame size,
// restore ip/fn/module, and write the return value into either the
// restored managed caller's result var or the CalledByNative reserved
// slot. It returns false once the call-info stack empties (the outermost
// frame has returned), matching the interpreter state machine's
// Running -> Finished transition.
func (st *State) DoReturn(v value.Value) (bool, error) {
	if len(st.Calls) == 0 {
		return false, fmt.Errorf("%w: ret with empty call-info stack", ErrIllegalOperation)
	}
	ci := st.Calls[len(st.Calls)-1]
	st.Calls = st.Calls[:len(st.Calls)-1]
	st.Stack.Dealloc(ci.FrameSize)
	st.ModID, st.FnID, st.VarBase = ci.PrevMod, ci.PrevFn, ci.CallerVarBase
	st.IP = ci.PrevIP + 1
	st.Result = v

	if ci.CalledByNative {
		st.Stack.Set(ci.ResultSlot, 0, v)
	} else {
		st.Stack.Set(ci.CallerVarBase, int(ci.ResultVar), v)
	}

	if len(st.Calls) == 0 {
		st.Status = Finished
		return false, nil
	}
	return true, nil
}
