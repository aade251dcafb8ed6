package dialect

import (
	"fmt"

	"galevm/bytecode"
	"galevm/term"
	"galevm/value"
)

// Tup builds a tuple value out of its element variables.
type Tup struct {
	Dest  bytecode.Var
	Elems []bytecode.Var
}

func (t *Tup) Reads() []bytecode.Var        { return t.Elems }
func (t *Tup) Writes() []bytecode.Var       { return []bytecode.Var{t.Dest} }
func (t *Tup) Behaviour() bytecode.Behaviour { return bytecode.Linear }
func (t *Tup) Targets() []bytecode.Label     { return nil }

func (t *Tup) Interpret(st *bytecode.State) (bool, error) {
	elems := make([]value.Value, len(t.Elems))
	for i, v := range t.Elems {
		elems[i] = st.GetVar(v)
	}
	st.SetVar(t.Dest, value.TupleVal(elems))
	st.IP++
	return true, nil
}

func (t *Tup) Emit(e bytecode.Emitter, fn *bytecode.Function, pc int) error {
	return e.Fail("tup $%d cannot be JIT compiled: tuples are not register-resident", t.Dest)
}

func (t *Tup) Typecheck(env *bytecode.TypeEnv) error {
	elemTypes := make([]bytecode.Type, len(t.Elems))
	for i, v := range t.Elems {
		ty, ok := env.Get(v)
		if !ok {
			return fmt.Errorf("dialect: tup element $%d is uninitialized", v)
		}
		elemTypes[i] = ty
	}
	env.Set(t.Dest, bytecode.TupleOf(elemTypes))
	return nil
}

func (t *Tup) Display() string { return fmt.Sprintf("std:tup $%d, %s", t.Dest, varTuple(t.Elems)) }
func (t *Tup) OpSize() int     { return 0 } // arbitrary arity doesn't fit 8 bytes
func (t *Tup) Emplace(buf []byte) {}

func makeTup(it term.Instr) (bytecode.Instruction, error) {
	if len(it.Args) != 2 || it.Args[1].Kind != term.OpTuple {
		return nil, fmt.Errorf("dialect: tup expects (dest, (elems...))")
	}
	dest, err := argVar(it.Args[0])
	if err != nil {
		return nil, err
	}
	elems := make([]bytecode.Var, len(it.Args[1].Tuple))
	for i, a := range it.Args[1].Tuple {
		v, err := argVar(a)
		if err != nil {
			return nil, err
		}
		elems[i] = v
	}
	return &Tup{Dest: dest, Elems: elems}, nil
}

// Idx indexes into Base by Index: a tuple yields its i'th element value
// directly, a pointer yields a new pointer offset by i*8 bytes (spec.md
// §4.A `index<T>` - every Var slot is treated as one 8-byte word, see
// value.Value.Raw).
type Idx struct {
	Dest, Base, Index bytecode.Var
}

func (x *Idx) Reads() []bytecode.Var        { return []bytecode.Var{x.Base, x.Index} }
func (x *Idx) Writes() []bytecode.Var       { return []bytecode.Var{x.Dest} }
func (x *Idx) Behaviour() bytecode.Behaviour { return bytecode.Linear }
func (x *Idx) Targets() []bytecode.Label     { return nil }

func (x *Idx) Interpret(st *bytecode.State) (bool, error) {
	base := st.GetVar(x.Base)
	i, err := st.GetVar(x.Index).AsUI64()
	if err != nil {
		return false, err
	}
	switch base.Kind() {
	case value.Tuple:
		elems, _ := base.AsTuple()
		if i >= uint64(len(elems)) {
			return false, fmt.Errorf("%w: tuple index %d out of %d", bytecode.ErrSegmentationFault, i, len(elems))
		}
		st.SetVar(x.Dest, elems[i])
	case value.Pointer:
		ptr, _ := base.AsPointer()
		addr, err := st.Heap.IndexBytes(ptr, i*8)
		if err != nil {
			return false, err
		}
		st.SetVar(x.Dest, value.PointerVal(addr))
	default:
		return false, fmt.Errorf("%w: idx expects tuple or pointer, got %s", bytecode.ErrIllegalOperation, base.Kind())
	}
	st.IP++
	return true, nil
}

func (x *Idx) Emit(e bytecode.Emitter, fn *bytecode.Function, pc int) error {
	return e.CallRuntime(bytecode.HelperIndex, []bytecode.Var{x.Base, x.Index}, x.Dest)
}

func (x *Idx) Typecheck(env *bytecode.TypeEnv) error {
	base, ok := env.Get(x.Base)
	if !ok {
		return fmt.Errorf("dialect: idx base $%d is uninitialized", x.Base)
	}
	if t, ok := env.Get(x.Index); !ok || t.Kind != bytecode.KU64 {
		return fmt.Errorf("dialect: idx index $%d must be ui64", x.Index)
	}
	switch {
	case base.Kind == bytecode.KPointer && base.Elem.Kind == bytecode.KArray:
		// Stepping into an array lands on one of its elements.
		env.Set(x.Dest, bytecode.Ptr(*base.Elem.Elem))
	case base.Kind == bytecode.KPointer:
		env.Set(x.Dest, base)
	default:
		// A tuple's element type depends on the runtime index value.
		env.Set(x.Dest, bytecode.Any())
	}
	return nil
}

func (x *Idx) Display() string { return fmt.Sprintf("std:idx $%d, $%d, $%d", x.Dest, x.Base, x.Index) }
func (x *Idx) OpSize() int     { return 8 }
func (x *Idx) Emplace(buf []byte) {
	buf[0], buf[1], buf[2], buf[3] = opIdx, byte(x.Dest), byte(x.Base), byte(x.Index)
}

// Alloc reserves heap space for one value of type Typ, writing its
// pointer into Dest.
type Alloc struct {
	Dest bytecode.Var
	Typ  bytecode.Type
}

func (a *Alloc) Reads() []bytecode.Var        { return nil }
func (a *Alloc) Writes() []bytecode.Var       { return []bytecode.Var{a.Dest} }
func (a *Alloc) Behaviour() bytecode.Behaviour { return bytecode.Linear }
func (a *Alloc) Targets() []bytecode.Label     { return nil }

func (a *Alloc) Interpret(st *bytecode.State) (bool, error) {
	ptr, err := bytecode.AllocateType(st.Heap, a.Typ)
	if err != nil {
		return false, err
	}
	st.SetVar(a.Dest, value.PointerVal(ptr))
	st.IP++
	return true, nil
}

func (a *Alloc) Emit(e bytecode.Emitter, fn *bytecode.Function, pc int) error {
	if _, ok := a.Typ.Size(); !ok {
		return e.Fail("alloc $%d: unsized type %s", a.Dest, a.Typ)
	}
	return e.CallRuntime(bytecode.HelperAlloc, nil, a.Dest)
}

func (a *Alloc) Typecheck(env *bytecode.TypeEnv) error {
	env.Set(a.Dest, bytecode.Ptr(a.Typ))
	return nil
}

func (a *Alloc) Display() string { return fmt.Sprintf("std:alloc $%d, %s", a.Dest, a.Typ) }
func (a *Alloc) OpSize() int     { return 0 } // a full Type doesn't fit 8 bytes
func (a *Alloc) Emplace(buf []byte) {}

func makeAlloc(it term.Instr) (bytecode.Instruction, error) {
	if len(it.Args) != 2 || it.Args[1].Kind != term.OpType {
		return nil, fmt.Errorf("dialect: alloc expects (dest, type)")
	}
	dest, err := argVar(it.Args[0])
	if err != nil {
		return nil, err
	}
	t, err := bytecode.ResolveType(it.Args[1].Type)
	if err != nil {
		return nil, err
	}
	return &Alloc{Dest: dest, Typ: t}, nil
}

// Load reads one 8-byte word from the address in Ptr into Dest.
type Load struct {
	Dest, Ptr bytecode.Var
}

func (l *Load) Reads() []bytecode.Var        { return []bytecode.Var{l.Ptr} }
func (l *Load) Writes() []bytecode.Var       { return []bytecode.Var{l.Dest} }
func (l *Load) Behaviour() bytecode.Behaviour { return bytecode.Linear }
func (l *Load) Targets() []bytecode.Label     { return nil }

func (l *Load) Interpret(st *bytecode.State) (bool, error) {
	ptr, err := st.GetVar(l.Ptr).AsPointer()
	if err != nil {
		return false, err
	}
	v, err := st.Heap.LoadU64(ptr)
	if err != nil {
		return false, err
	}
	st.SetVar(l.Dest, value.UI64Val(v))
	st.IP++
	return true, nil
}

func (l *Load) Emit(e bytecode.Emitter, fn *bytecode.Function, pc int) error {
	return e.CallRuntime(bytecode.HelperLoad64, []bytecode.Var{l.Ptr}, l.Dest)
}

func (l *Load) Typecheck(env *bytecode.TypeEnv) error {
	t, ok := env.Get(l.Ptr)
	if !ok || t.Kind != bytecode.KPointer {
		return fmt.Errorf("dialect: load expects a pointer, $%d has %s", l.Ptr, t)
	}
	env.Set(l.Dest, *t.Elem)
	return nil
}

func (l *Load) Display() string { return fmt.Sprintf("std:load $%d, $%d", l.Dest, l.Ptr) }
func (l *Load) OpSize() int     { return 8 }
func (l *Load) Emplace(buf []byte) {
	buf[0], buf[1], buf[2] = opLoad, byte(l.Dest), byte(l.Ptr)
}

// Store writes Val's raw 8-byte word to the address in Ptr.
type Store struct {
	Ptr, Val bytecode.Var
}

func (s *Store) Reads() []bytecode.Var        { return []bytecode.Var{s.Ptr, s.Val} }
func (s *Store) Writes() []bytecode.Var       { return nil }
func (s *Store) Behaviour() bytecode.Behaviour { return bytecode.Linear }
func (s *Store) Targets() []bytecode.Label     { return nil }

func (s *Store) Interpret(st *bytecode.State) (bool, error) {
	ptr, err := st.GetVar(s.Ptr).AsPointer()
	if err != nil {
		return false, err
	}
	if err := st.Heap.StoreU64(ptr, st.GetVar(s.Val).Raw()); err != nil {
		return false, err
	}
	st.IP++
	return true, nil
}

func (s *Store) Emit(e bytecode.Emitter, fn *bytecode.Function, pc int) error {
	return e.CallRuntime(bytecode.HelperStore64, []bytecode.Var{s.Ptr, s.Val}, bytecode.NoVar)
}

func (s *Store) Typecheck(env *bytecode.TypeEnv) error {
	if t, ok := env.Get(s.Ptr); !ok || t.Kind != bytecode.KPointer {
		return fmt.Errorf("dialect: store expects a pointer, $%d has %s", s.Ptr, t)
	}
	if _, ok := env.Get(s.Val); !ok {
		return fmt.Errorf("dialect: store value $%d is uninitialized", s.Val)
	}
	return nil
}

func (s *Store) Display() string { return fmt.Sprintf("std:store $%d, $%d", s.Ptr, s.Val) }
func (s *Store) OpSize() int     { return 8 }
func (s *Store) Emplace(buf []byte) {
	buf[0], buf[1], buf[2] = opStore, byte(s.Ptr), byte(s.Val)
}

// LoadC materializes module constant ConstIdx into Dest: a scalar
// constant's value directly, a string constant's heap pointer (strings
// are pre-materialized onto the heap once at load time - see loader's
// installConsts).
type LoadC struct {
	Dest     bytecode.Var
	ConstIdx int
}

func (l *LoadC) Reads() []bytecode.Var        { return nil }
func (l *LoadC) Writes() []bytecode.Var       { return []bytecode.Var{l.Dest} }
func (l *LoadC) Behaviour() bytecode.Behaviour { return bytecode.Linear }
func (l *LoadC) Targets() []bytecode.Label     { return nil }

func (l *LoadC) constant(st *bytecode.State) (bytecode.Const, error) {
	m, err := st.CurrentModule()
	if err != nil {
		return bytecode.Const{}, err
	}
	if l.ConstIdx < 0 || l.ConstIdx >= len(m.Conts) {
		return bytecode.Const{}, fmt.Errorf("dialect: unknown constant index %d", l.ConstIdx)
	}
	return m.Conts[l.ConstIdx], nil
}

func (l *LoadC) Interpret(st *bytecode.State) (bool, error) {
	c, err := l.constant(st)
	if err != nil {
		return false, err
	}
	switch {
	case c.IsStr:
		st.SetVar(l.Dest, value.PointerVal(c.Scalar))
	case c.Typ.Kind == bytecode.KBool:
		st.SetVar(l.Dest, value.BoolVal(c.Scalar != 0))
	default:
		st.SetVar(l.Dest, value.UI64Val(c.Scalar))
	}
	st.IP++
	return true, nil
}

func (l *LoadC) Emit(e bytecode.Emitter, fn *bytecode.Function, pc int) error {
	return e.CallRuntime(bytecode.HelperLoadConst, nil, l.Dest)
}

func (l *LoadC) Typecheck(env *bytecode.TypeEnv) error {
	env.Set(l.Dest, bytecode.Any())
	return nil
}

func (l *LoadC) Display() string { return fmt.Sprintf("std:loadc $%d, const#%d", l.Dest, l.ConstIdx) }
func (l *LoadC) OpSize() int     { return 8 }
func (l *LoadC) Emplace(buf []byte) {
	buf[0], buf[1] = opLoadC, byte(l.Dest)
	putU32(buf[4:8], uint32(l.ConstIdx))
}

func makeLoadC(module *bytecode.Module, it term.Instr) (bytecode.Instruction, error) {
	if len(it.Args) != 2 || it.Args[1].Kind != term.OpName || len(it.Args[1].Segments) != 1 {
		return nil, fmt.Errorf("dialect: loadc expects (dest, name)")
	}
	dest, err := argVar(it.Args[0])
	if err != nil {
		return nil, err
	}
	name := it.Args[1].Segments[0]
	for i, c := range module.Conts {
		if c.Name == name {
			return &LoadC{Dest: dest, ConstIdx: i}, nil
		}
	}
	return nil, fmt.Errorf("dialect: module %q has no constant %q", module.Name, name)
}

// makeSizeof folds `sizeof $dest, T` into a plain constant load at build
// time rather than a dynamic instruction, since a type's size is always
// known once parsed (SPEC_FULL.md §4).
func makeSizeof(it term.Instr) (bytecode.Instruction, error) {
	if len(it.Args) != 2 || it.Args[1].Kind != term.OpType {
		return nil, fmt.Errorf("dialect: sizeof expects (dest, type)")
	}
	dest, err := argVar(it.Args[0])
	if err != nil {
		return nil, err
	}
	t, err := bytecode.ResolveType(it.Args[1].Type)
	if err != nil {
		return nil, err
	}
	size, ok := t.Size()
	if !ok {
		return nil, fmt.Errorf("dialect: sizeof on unsized type %s", t)
	}
	return &ConstU64{Dest: dest, Val: size}, nil
}

func makePanic(it term.Instr) (bytecode.Instruction, error) {
	if len(it.Args) == 0 {
		return &Panic{}, nil
	}
	if len(it.Args) != 1 || it.Args[0].Kind != term.OpName || len(it.Args[0].Segments) != 1 {
		return nil, fmt.Errorf("dialect: panic takes zero or one constant-name operand")
	}
	return &Panic{Msg: it.Args[0].Segments[0]}, nil
}
