package types

import "github.com/dolthub/swiss"

// A Binding associates a name with its scheme and mutability in a type
// environment.
type Binding struct {
	Scheme  *Scheme
	Mutable bool
}

// An Env is a lexically nested mapping of names to schemes. Lookups walk
// parent links; Define inserts into the innermost scope.
type Env struct {
	parent   *Env
	bindings *swiss.Map[string, *Binding]
}

// NewEnv creates an environment nested inside parent; a nil parent creates
// the root environment.
func NewEnv(parent *Env) *Env {
	return &Env{
		parent:   parent,
		bindings: swiss.NewMap[string, *Binding](8),
	}
}

// Parent returns the enclosing environment, nil for the root.
func (e *Env) Parent() *Env { return e.parent }

// Define binds name in the innermost scope, replacing any binding with the
// same name in this scope.
func (e *Env) Define(name string, b *Binding) {
	e.bindings.Put(name, b)
}

// Lookup searches innermost-out for name. It returns nil if the name is not
// bound anywhere.
func (e *Env) Lookup(name string) *Binding {
	for env := e; env != nil; env = env.parent {
		if b, ok := env.bindings.Get(name); ok {
			return b
		}
	}
	return nil
}

// LookupLocal searches only the innermost scope.
func (e *Env) LookupLocal(name string) *Binding {
	b, _ := e.bindings.Get(name)
	return b
}
