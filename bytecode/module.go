package bytecode

import "fmt"

// Const is one entry in a module's constant table. Strings are stored
// pre-encoded (header + bytes + NUL) so `loadc` can push them onto the
// heap without re-deriving their layout at run time.
type Const struct {
	Name string
	Typ  Type
	// Bytes holds the constant's heap-ready encoding for String/Array
	// constants; Scalar holds a UI64/Bool constant's raw value.
	Bytes  []byte
	Scalar uint64
	IsStr  bool
}

// Module is one loaded unit, identified by a numeric id assigned at load
// time (spec.md §3).
type Module struct {
	ID    int
	Name  string
	Types []Type
	Conts []Const
	Fns   []*Function

	byName map[string]int // function name -> index into Fns
}

// NewModule creates an empty module with the given id/name.
func NewModule(id int, name string) *Module {
	return &Module{ID: id, Name: name, byName: make(map[string]int)}
}

// DeclareFunction installs fn's interface (name/type/location) in the
// module without requiring an implementation to exist yet, so that
// mutually dependent modules can be resolved in two passes (spec.md
// §4.E).
func (m *Module) DeclareFunction(fn *Function) {
	fn.Module = m.ID
	fn.Index = len(m.Fns)
	m.Fns = append(m.Fns, fn)
	m.byName[fn.Name] = fn.Index
}

// Function looks up a function by its stable index.
func (m *Module) Function(idx int) (*Function, error) {
	if idx < 0 || idx >= len(m.Fns) {
		return nil, fmt.Errorf("bytecode: module %q has no function index %d", m.Name, idx)
	}
	return m.Fns[idx], nil
}

// FunctionByName looks up a function's index by name.
func (m *Module) FunctionByName(name string) (int, bool) {
	idx, ok := m.byName[name]
	return idx, ok
}

// ModuleSet is the VM-wide registry of loaded modules - the "install the
// module interface, then install the implementation" table spec.md §4.E
// describes. It is built up by package loader and consulted by the
// interpreter, CFG/liveness/regalloc passes, and the JIT's trampoline.
type ModuleSet struct {
	mods   []*Module
	byName map[string]int
}

func NewModuleSet() *ModuleSet {
	return &ModuleSet{byName: make(map[string]int)}
}

// Declare reserves the next module id and registers name -> id, without
// requiring the module's functions to be populated yet.
func (ms *ModuleSet) Declare(name string) *Module {
	if id, ok := ms.byName[name]; ok {
		return ms.mods[id]
	}
	id := len(ms.mods)
	m := NewModule(id, name)
	ms.mods = append(ms.mods, m)
	ms.byName[name] = id
	return m
}

// Module returns the module with the given id.
func (ms *ModuleSet) Module(id int) (*Module, error) {
	if id < 0 || id >= len(ms.mods) {
		return nil, fmt.Errorf("bytecode: unknown module id %d", id)
	}
	return ms.mods[id], nil
}

// ModuleByName looks up a module's id by name.
func (ms *ModuleSet) ModuleByName(name string) (int, bool) {
	id, ok := ms.byName[name]
	return id, ok
}

// Len reports how many modules are registered.
func (ms *ModuleSet) Len() int { return len(ms.mods) }

// All returns every registered module, in declaration order.
func (ms *ModuleSet) All() []*Module { return ms.mods }
