// Package ast defines the types to represent the abstract syntax tree (AST)
// consumed by the compiler backend. The tree is produced by an external
// front end; the backend never modifies it. AST nodes carry no type field:
// the inference engine keeps resolved types in its own table and copies them
// onto the separate typed tree it builds.
//
// Every node carries a file id and a start position so that diagnostics and
// emitted bytecode can map back to source.
package ast

import "github.com/mna/vetiver/lang/token"

// Node represents any node in the AST.
type Node interface {
	// Span reports the start and end position of the node.
	Span() (start, end token.Pos)

	// FileID returns the id of the source file this node belongs to.
	FileID() token.FileID

	// Walk enters each node inside itself to implement the Visitor pattern.
	Walk(v Visitor)
}

// Expr represents an expression in the AST.
type Expr interface {
	Node
	expr()
}

// Stmt represents a statement in the AST.
type Stmt interface {
	Node
	stmt()
}

// Op identifies a unary or binary operator.
type Op uint8

// List of operators.
const (
	OpIllegal Op = iota

	// binary arithmetic
	OpAdd // +
	OpSub // -
	OpMul // *
	OpDiv // /
	OpMod // %

	// binary comparisons
	OpEq  // ==
	OpNeq // !=
	OpLt  // <
	OpLe  // <=
	OpGt  // >
	OpGe  // >=

	// binary logical
	OpAnd // and
	OpOr  // or

	// unary
	OpNeg // -x
	OpPos // +x
	OpNot // not x
)

var opNames = [...]string{
	OpIllegal: "<illegal>",
	OpAdd:     "+",
	OpSub:     "-",
	OpMul:     "*",
	OpDiv:     "/",
	OpMod:     "%",
	OpEq:      "==",
	OpNeq:     "!=",
	OpLt:      "<",
	OpLe:      "<=",
	OpGt:      ">",
	OpGe:      ">=",
	OpAnd:     "and",
	OpOr:      "or",
	OpNeg:     "-",
	OpPos:     "+",
	OpNot:     "not",
}

func (o Op) String() string {
	if int(o) >= len(opNames) {
		return "<invalid op>"
	}
	return opNames[o]
}

// IsArithmetic returns true for +, -, *, / and %.
func (o Op) IsArithmetic() bool { return o >= OpAdd && o <= OpMod }

// IsComparison returns true for the six comparison operators.
func (o Op) IsComparison() bool { return o >= OpEq && o <= OpGe }

// IsLogical returns true for and/or.
func (o Op) IsLogical() bool { return o == OpAnd || o == OpOr }
