// Package infer implements Hindley-Milner type inference (syntax-directed
// Algorithm W) over the AST, and the construction of the typed AST that the
// optimizer and the code generator consume.
//
// Inference collects every type error in the unit before halting: when any
// error was reported, no typed AST is produced and compilation stops.
package infer

import (
	"github.com/mna/vetiver/lang/ast"
	"github.com/mna/vetiver/lang/types"
)

// A Node is one node of the typed AST. The tree mirrors the AST: each typed
// node references its original AST node, holds the resolved type, and
// exclusively owns its typed children, in the same order the AST node walks
// them.
type Node struct {
	// Orig is the AST node this typed node mirrors.
	Orig ast.Node

	// Type is the resolved type of the node. Statements are Void, except
	// variable declarations and range/iterator loops (the variable's type)
	// and function declarations (the function type).
	Type *types.Type

	// TypeResolved is false only if inference left the node untyped, which
	// does not happen on the success path.
	TypeResolved bool

	// HasTypeError and ErrMsg record a per-node error. A unit with any
	// erroneous node never reaches the optimizer or the code generator.
	HasTypeError bool
	ErrMsg       string

	// Children are the typed children, in AST walk order:
	//   VarDecl:      [init?]
	//   AssignStmt:   [target, value]
	//   PrintStmt:    args...
	//   IfStmt:       [cond, then, else?]
	//   WhileStmt:    [cond, body]
	//   ForRangeStmt: [from, to, step?, body]
	//   ForIterStmt:  [iter, body]
	//   FuncStmt:     [body]
	//   ReturnStmt:   [value?]
	//   ExprStmt:     [expr]
	//   BinaryExpr:   [left, right]
	//   UnaryExpr:    [operand]
	//   TernaryExpr:  [cond, then, else]
	//   CastExpr:     [operand]
	//   CallExpr:     [fn, args...]
	//   ArrayLitExpr: elems...
	//   IndexExpr:    [prefix, index]
	// Blocks and Program hold their statements.
	Children []*Node
}

// Child returns the i-th typed child, nil if out of range.
func (n *Node) Child(i int) *Node {
	if i < 0 || i >= len(n.Children) {
		return nil
	}
	return n.Children[i]
}

// IsLiteral reports whether the node mirrors a literal expression.
func (n *Node) IsLiteral() bool {
	_, ok := n.Orig.(*ast.LiteralExpr)
	return ok
}
