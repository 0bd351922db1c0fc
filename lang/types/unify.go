package types

import "fmt"

// A Unifier owns the union-find nodes for the type variables of one
// compilation unit and implements unification over arena types. Nodes are
// addressed by integer ids; parent and instance references are id- and
// pointer-valued fields mutated by path compression, the arena handles
// lifetime.
type Unifier struct {
	arena *Arena
	nodes []varNode
}

// varNode is one union-find node. Invariants: find(v) is its own parent; if
// instance is set it is either a non-Var type or a Var pointing to another
// union-find root.
type varNode struct {
	parent   VarID
	instance *Type
}

// NewUnifier creates a unifier allocating from the provided arena.
func NewUnifier(arena *Arena) *Unifier {
	return &Unifier{arena: arena}
}

// Arena returns the arena the unifier allocates from.
func (u *Unifier) Arena() *Arena { return u.arena }

// NewVar allocates a fresh unbound type variable.
func (u *Unifier) NewVar() *Type {
	id := VarID(len(u.nodes))
	u.nodes = append(u.nodes, varNode{parent: id})
	return u.arena.newType(Type{Kind: KindVar, Var: id})
}

// NumVars returns the number of variables allocated so far.
func (u *Unifier) NumVars() int { return len(u.nodes) }

// find returns the root of the node's class, compressing the path on the
// way.
func (u *Unifier) find(id VarID) VarID {
	root := id
	for u.nodes[root].parent != root {
		root = u.nodes[root].parent
	}
	for u.nodes[id].parent != id {
		next := u.nodes[id].parent
		u.nodes[id].parent = root
		id = next
	}
	return root
}

// Prune follows instance chains until it reaches a non-variable type or an
// unbound variable, compressing the chains so later prunes are O(1).
func (u *Unifier) Prune(t *Type) *Type {
	if t.Kind != KindVar {
		return t
	}
	root := u.find(t.Var)
	inst := u.nodes[root].instance
	if inst == nil {
		return t
	}
	pruned := u.Prune(inst)
	u.nodes[root].instance = pruned
	return pruned
}

// UnifyErrorKind discriminates unification failures.
type UnifyErrorKind uint8

// List of unification failure kinds.
const (
	ArityMismatch UnifyErrorKind = iota
	Occurs
	HeadMismatch
)

var unifyErrorKindNames = [...]string{
	ArityMismatch: "arity mismatch",
	Occurs:        "occurs check",
	HeadMismatch:  "type mismatch",
}

func (k UnifyErrorKind) String() string {
	if int(k) >= len(unifyErrorKindNames) {
		return "<invalid unify error>"
	}
	return unifyErrorKindNames[k]
}

// A UnifyError reports why two types failed to unify. Callers convert it to
// a diagnostic with a source location.
type UnifyError struct {
	Kind  UnifyErrorKind
	Left  *Type
	Right *Type
}

func (e *UnifyError) Error() string {
	return fmt.Sprintf("%s: %s vs %s", e.Kind, e.Left, e.Right)
}

// Unify makes a and b equal, binding variables as needed. On failure the
// unifier may have performed partial bindings; inference treats any failure
// as a type error for the whole unit, so no rollback is needed.
func (u *Unifier) Unify(a, b *Type) *UnifyError {
	a, b = u.Prune(a), u.Prune(b)

	if a.Kind == KindVar {
		if b.Kind == KindVar && u.find(a.Var) == u.find(b.Var) {
			return nil
		}
		if u.occurs(u.find(a.Var), b) {
			return &UnifyError{Kind: Occurs, Left: a, Right: b}
		}
		u.nodes[u.find(a.Var)].instance = b
		return nil
	}
	if b.Kind == KindVar {
		return u.Unify(b, a)
	}

	switch {
	case a.Kind == KindPrimitive && b.Kind == KindPrimitive:
		if a.Prim != b.Prim {
			return &UnifyError{Kind: HeadMismatch, Left: a, Right: b}
		}
		return nil

	case a.Kind == KindFunction && b.Kind == KindFunction:
		if len(a.Params) != len(b.Params) {
			return &UnifyError{Kind: ArityMismatch, Left: a, Right: b}
		}
		for i := range a.Params {
			if err := u.Unify(a.Params[i], b.Params[i]); err != nil {
				return err
			}
		}
		return u.Unify(a.Ret, b.Ret)

	case a.Kind == KindArray && b.Kind == KindArray:
		return u.Unify(a.Elem, b.Elem)
	}
	return &UnifyError{Kind: HeadMismatch, Left: a, Right: b}
}

// occurs reports whether the variable root appears anywhere inside t,
// following pruned representatives. It prevents construction of infinite
// types.
func (u *Unifier) occurs(root VarID, t *Type) bool {
	t = u.Prune(t)
	switch t.Kind {
	case KindVar:
		return u.find(t.Var) == root
	case KindFunction:
		for _, p := range t.Params {
			if u.occurs(root, p) {
				return true
			}
		}
		return u.occurs(root, t.Ret)
	case KindArray:
		return u.occurs(root, t.Elem)
	}
	return false
}

// Resolve returns t with every bound variable replaced by its
// representative, allocating new composite types in the arena as needed.
// Unbound variables are returned as-is.
func (u *Unifier) Resolve(t *Type) *Type {
	t = u.Prune(t)
	switch t.Kind {
	case KindFunction:
		params := make([]*Type, len(t.Params))
		changed := false
		for i, p := range t.Params {
			params[i] = u.Resolve(p)
			changed = changed || params[i] != p
		}
		ret := u.Resolve(t.Ret)
		if !changed && ret == t.Ret {
			return t
		}
		return u.arena.NewFunction(params, ret)
	case KindArray:
		elem := u.Resolve(t.Elem)
		if elem == t.Elem {
			return t
		}
		return u.arena.NewArray(elem)
	}
	return t
}

// Equal reports whether a and b are structurally equal after pruning.
// Unbound variables are equal only if they share a root.
func (u *Unifier) Equal(a, b *Type) bool {
	a, b = u.Prune(a), u.Prune(b)
	if a.Kind != b.Kind {
		return false
	}
	switch a.Kind {
	case KindPrimitive:
		return a.Prim == b.Prim
	case KindVar:
		return u.find(a.Var) == u.find(b.Var)
	case KindFunction:
		if len(a.Params) != len(b.Params) {
			return false
		}
		for i := range a.Params {
			if !u.Equal(a.Params[i], b.Params[i]) {
				return false
			}
		}
		return u.Equal(a.Ret, b.Ret)
	case KindArray:
		return u.Equal(a.Elem, b.Elem)
	}
	return false
}
