package compiler

import "github.com/mna/vetiver/lang/types"

// SymbolRefKind discriminates what a symbol is bound to.
type SymbolRefKind uint8

// List of symbol reference kinds.
const (
	// RefLocal is an index into the unit's function table; function names
	// are module-level slots, not registers.
	RefLocal SymbolRefKind = iota
	// RefRegister binds the name directly to an allocated register
	// (variables, unrolled loop iterations, LICM temporaries).
	RefRegister
)

// A SymbolRef is the tagged binding target of a symbol: a local slot index
// or a register id. Consumers must handle both forms.
type SymbolRef struct {
	Kind  SymbolRefKind
	Index uint16
}

// LocalRef returns a reference to a function table slot.
func LocalRef(i uint16) SymbolRef { return SymbolRef{Kind: RefLocal, Index: i} }

// RegisterRef returns a reference to a register.
func RegisterRef(r Reg) SymbolRef { return SymbolRef{Kind: RefRegister, Index: uint16(r)} }

// Register returns the register id of a RefRegister reference.
func (r SymbolRef) Register() Reg { return Reg(r.Index) }

// A Symbol is one named binding in the symbol table.
type Symbol struct {
	Name    string
	Ref     SymbolRef
	Type    *types.Type
	Mutable bool
	Depth   int

	// ownsReg marks symbols whose register is released when their scope
	// ends; parameters and rebound loop variables do not own theirs.
	ownsReg bool
}

// A SymbolTable is the scope-stacked mapping of names to their symbols
// during lowering. Declare inserts in the current scope; Resolve searches
// innermost-out.
type SymbolTable struct {
	alloc *Allocator
	syms  []*Symbol
	marks []int // stack of scope start indices
	depth int
}

// NewSymbolTable creates a symbol table releasing registers through the
// provided allocator.
func NewSymbolTable(alloc *Allocator) *SymbolTable {
	return &SymbolTable{alloc: alloc}
}

// Depth returns the current scope depth.
func (st *SymbolTable) Depth() int { return st.depth }

// BeginScope pushes a new scope.
func (st *SymbolTable) BeginScope() {
	st.depth++
	st.marks = append(st.marks, len(st.syms))
}

// EndScope pops the current scope, freeing the registers of the locals
// declared in it.
func (st *SymbolTable) EndScope() {
	mark := st.marks[len(st.marks)-1]
	st.marks = st.marks[:len(st.marks)-1]
	for i := len(st.syms) - 1; i >= mark; i-- {
		s := st.syms[i]
		if s.ownsReg && s.Ref.Kind == RefRegister {
			st.alloc.Free(s.Ref.Register())
		}
	}
	st.syms = st.syms[:mark]
	st.depth--
}

// Declare inserts a symbol in the current scope. The symbol owns its
// register unless own is false.
func (st *SymbolTable) Declare(name string, ref SymbolRef, t *types.Type, mutable, own bool) *Symbol {
	s := &Symbol{Name: name, Ref: ref, Type: t, Mutable: mutable, Depth: st.depth, ownsReg: own}
	st.syms = append(st.syms, s)
	return s
}

// Resolve searches innermost-out for the symbol bound to name, nil if none.
func (st *SymbolTable) Resolve(name string) *Symbol {
	for i := len(st.syms) - 1; i >= 0; i-- {
		if st.syms[i].Name == name {
			return st.syms[i]
		}
	}
	return nil
}

// Rebind points an existing symbol at a new reference and returns the
// previous one, so loop unrolling can bind the loop variable to a fresh
// register per iteration and restore it afterwards.
func (st *SymbolTable) Rebind(s *Symbol, ref SymbolRef) SymbolRef {
	old := s.Ref
	s.Ref = ref
	return old
}

// Len returns the number of live symbols, for optimizer rollback.
func (st *SymbolTable) Len() int { return len(st.syms) }

// Truncate drops symbols declared after a previously captured length,
// without freeing their registers (the allocator snapshot handles those).
func (st *SymbolTable) Truncate(n int) {
	if n < len(st.syms) {
		st.syms = st.syms[:n]
	}
}
