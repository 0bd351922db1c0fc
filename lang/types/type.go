package types

import "strings"

// Kind discriminates the variants of a Type.
type Kind uint8

// List of type kinds.
const (
	KindPrimitive Kind = iota
	KindFunction
	KindArray
	KindVar
)

// PrimKind identifies one of the primitive types.
type PrimKind uint8

// List of primitive kinds.
const (
	PrimI32 PrimKind = iota
	PrimI64
	PrimU32
	PrimU64
	PrimF64
	PrimBool
	PrimString
	PrimVoid
	PrimUnknown
	PrimError
	PrimAny
)

var primNames = [...]string{
	PrimI32:     "i32",
	PrimI64:     "i64",
	PrimU32:     "u32",
	PrimU64:     "u64",
	PrimF64:     "f64",
	PrimBool:    "bool",
	PrimString:  "string",
	PrimVoid:    "void",
	PrimUnknown: "unknown",
	PrimError:   "<error>",
	PrimAny:     "any",
}

func (p PrimKind) String() string {
	if int(p) >= len(primNames) {
		return "<invalid prim>"
	}
	return primNames[p]
}

// VarID identifies a union-find node owned by a Unifier.
type VarID uint32

// A Type is one type object. Primitive types are process-wide singletons
// (use the package-level variables, never construct them); function, array
// and variable types live in an inference arena and must not outlive it.
type Type struct {
	Kind Kind

	Prim PrimKind // KindPrimitive

	Params []*Type // KindFunction
	Ret    *Type   // KindFunction

	Elem *Type // KindArray

	Var VarID // KindVar
}

// Primitive type singletons, initialized at startup and never mutated.
var (
	I32     = &Type{Kind: KindPrimitive, Prim: PrimI32}
	I64     = &Type{Kind: KindPrimitive, Prim: PrimI64}
	U32     = &Type{Kind: KindPrimitive, Prim: PrimU32}
	U64     = &Type{Kind: KindPrimitive, Prim: PrimU64}
	F64     = &Type{Kind: KindPrimitive, Prim: PrimF64}
	Bool    = &Type{Kind: KindPrimitive, Prim: PrimBool}
	String  = &Type{Kind: KindPrimitive, Prim: PrimString}
	Void    = &Type{Kind: KindPrimitive, Prim: PrimVoid}
	Unknown = &Type{Kind: KindPrimitive, Prim: PrimUnknown}
	ErrType = &Type{Kind: KindPrimitive, Prim: PrimError}
	Any     = &Type{Kind: KindPrimitive, Prim: PrimAny}
)

// Primitive returns the singleton for the provided primitive kind.
func Primitive(p PrimKind) *Type {
	switch p {
	case PrimI32:
		return I32
	case PrimI64:
		return I64
	case PrimU32:
		return U32
	case PrimU64:
		return U64
	case PrimF64:
		return F64
	case PrimBool:
		return Bool
	case PrimString:
		return String
	case PrimVoid:
		return Void
	case PrimUnknown:
		return Unknown
	case PrimError:
		return ErrType
	default:
		return Any
	}
}

// NewFunction allocates a function type in the arena.
func (a *Arena) NewFunction(params []*Type, ret *Type) *Type {
	return a.newType(Type{Kind: KindFunction, Params: params, Ret: ret})
}

// NewArray allocates an array type in the arena.
func (a *Arena) NewArray(elem *Type) *Type {
	return a.newType(Type{Kind: KindArray, Elem: elem})
}

// IsPrimitive reports whether t is the primitive p.
func (t *Type) IsPrimitive(p PrimKind) bool {
	return t.Kind == KindPrimitive && t.Prim == p
}

// IsNumeric reports whether t is one of the numeric primitives.
func (t *Type) IsNumeric() bool {
	if t.Kind != KindPrimitive {
		return false
	}
	switch t.Prim {
	case PrimI32, PrimI64, PrimU32, PrimU64, PrimF64:
		return true
	}
	return false
}

// IsInteger reports whether t is one of the integer primitives.
func (t *Type) IsInteger() bool {
	if t.Kind != KindPrimitive {
		return false
	}
	switch t.Prim {
	case PrimI32, PrimI64, PrimU32, PrimU64:
		return true
	}
	return false
}

// String renders the type for diagnostics. Unbound variables render as
// "'tN" with their id.
func (t *Type) String() string {
	var sb strings.Builder
	t.write(&sb)
	return sb.String()
}

func (t *Type) write(sb *strings.Builder) {
	switch t.Kind {
	case KindPrimitive:
		sb.WriteString(t.Prim.String())
	case KindFunction:
		sb.WriteString("fn(")
		for i, p := range t.Params {
			if i > 0 {
				sb.WriteString(", ")
			}
			p.write(sb)
		}
		sb.WriteString(") -> ")
		t.Ret.write(sb)
	case KindArray:
		sb.WriteString("[]")
		t.Elem.write(sb)
	case KindVar:
		sb.WriteString("'t")
		writeUint(sb, uint32(t.Var))
	default:
		sb.WriteString("<invalid type>")
	}
}

func writeUint(sb *strings.Builder, v uint32) {
	if v >= 10 {
		writeUint(sb, v/10)
	}
	sb.WriteByte(byte('0' + v%10))
}
