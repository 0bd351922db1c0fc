package types

// A Scheme is a ∀-quantified type, produced by generalization and consumed
// by instantiation. An unquantified scheme (no bound variables) simply wraps
// a monotype.
type Scheme struct {
	BoundVars []VarID
	Body      *Type
}

// MonoScheme wraps a monotype in an unquantified scheme.
func MonoScheme(t *Type) *Scheme {
	return &Scheme{Body: t}
}

// Generalize produces a scheme from t. Quantification over the free
// variables not bound in env is deliberately not performed: let-bindings
// stay monomorphic, which is what the language ships with today. The env
// parameter is kept so that enabling quantification later does not change
// any call site.
func (u *Unifier) Generalize(t *Type, env *Env) *Scheme {
	_ = env
	return &Scheme{Body: u.Resolve(t)}
}

// Instantiate produces a fresh monotype from the scheme, substituting a new
// unification variable for each bound variable.
func (u *Unifier) Instantiate(s *Scheme) *Type {
	if len(s.BoundVars) == 0 {
		return s.Body
	}
	fresh := make(map[VarID]*Type, len(s.BoundVars))
	for _, id := range s.BoundVars {
		fresh[id] = u.NewVar()
	}
	return u.substitute(s.Body, fresh)
}

func (u *Unifier) substitute(t *Type, fresh map[VarID]*Type) *Type {
	t = u.Prune(t)
	switch t.Kind {
	case KindVar:
		if nt, ok := fresh[u.find(t.Var)]; ok {
			return nt
		}
		return t
	case KindFunction:
		params := make([]*Type, len(t.Params))
		changed := false
		for i, p := range t.Params {
			params[i] = u.substitute(p, fresh)
			changed = changed || params[i] != p
		}
		ret := u.substitute(t.Ret, fresh)
		if !changed && ret == t.Ret {
			return t
		}
		return u.arena.NewFunction(params, ret)
	case KindArray:
		elem := u.substitute(t.Elem, fresh)
		if elem == t.Elem {
			return t
		}
		return u.arena.NewArray(elem)
	}
	return t
}
