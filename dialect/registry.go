// Package dialect implements the pluggable instruction-set registry
// spec.md §4.D describes, plus the built-in `std` dialect's opcodes.
package dialect

import (
	"fmt"

	"galevm/bytecode"
	"galevm/term"
)

// BuildContext is threaded through MakeInstruction calls for one module
// being loaded; it gives a dialect access to sibling dialects (an
// instruction in one dialect may want to delegate part of its own
// construction to another) without handing it the whole loader.
type BuildContext struct {
	Registry    *Registry
	ModuleName  string
	DefaultTag  string
}

// Dialect is a named, pluggable instruction set (spec.md §4.D).
type Dialect interface {
	// Tag is the name used in source text to select this dialect
	// ("std", ...).
	Tag() string
	// MakeInstruction converts one parsed instruction term into an
	// Instruction value.
	MakeInstruction(ctx *BuildContext, module *bytecode.Module, it term.Instr) (bytecode.Instruction, error)
}

// Registry holds every known dialect, keyed by tag, plus the tag applied
// to instructions whose syntax omits a dialect prefix.
type Registry struct {
	dialects   map[string]Dialect
	defaultTag string
}

// NewRegistry creates a registry whose default dialect tag is
// defaultTag.
func NewRegistry(defaultTag string) *Registry {
	return &Registry{dialects: make(map[string]Dialect), defaultTag: defaultTag}
}

// Register installs d, indexed by d.Tag().
func (r *Registry) Register(d Dialect) {
	r.dialects[d.Tag()] = d
}

// Lookup resolves a tag to its Dialect ("" resolves to the registry's
// default tag).
func (r *Registry) Lookup(tag string) (Dialect, error) {
	if tag == "" {
		tag = r.defaultTag
	}
	d, ok := r.dialects[tag]
	if !ok {
		return nil, fmt.Errorf("dialect: unknown dialect %q", tag)
	}
	return d, nil
}

// DefaultTag returns the tag applied when an instruction's syntax omits
// a dialect prefix.
func (r *Registry) DefaultTag() string { return r.defaultTag }

// NewStandardRegistry returns a Registry with the built-in `std` dialect
// registered and selected as the default.
func NewStandardRegistry() *Registry {
	r := NewRegistry("std")
	r.Register(NewStdDialect())
	return r
}
