package ast

import (
	"github.com/mna/vetiver/lang/machine"
	"github.com/mna/vetiver/lang/token"
)

type (
	// Program is the root node of a compilation unit.
	Program struct {
		File  token.FileID
		Start token.Pos
		End   token.Pos
		Stmts []Stmt
	}

	// Block represents a braced (or indented) block of statements.
	Block struct {
		File  token.FileID
		Start token.Pos
		End   token.Pos
		Stmts []Stmt
	}

	// VarDecl represents a variable declaration, e.g. "let x: i32 = 1" or
	// "mut s = 0". At least one of Type and Init is set.
	VarDecl struct {
		File    token.FileID
		Start   token.Pos
		Name    string
		Mutable bool
		Type    *TypeAnnotation // nil if inferred
		Init    Expr            // nil if only declared
	}

	// AssignStmt represents an assignment to an existing binding or an array
	// element, e.g. "x = 1" or "a[i] = v". Target is an *IdentExpr or an
	// *IndexExpr.
	AssignStmt struct {
		File   token.FileID
		Start  token.Pos
		Target Expr
		Value  Expr
	}

	// PrintStmt represents the builtin print statement.
	PrintStmt struct {
		File    token.FileID
		Start   token.Pos
		Args    []Expr
		Newline bool
	}

	// IfStmt represents a conditional statement. Else may be nil.
	IfStmt struct {
		File  token.FileID
		Start token.Pos
		Cond  Expr
		Then  *Block
		Else  *Block
	}

	// WhileStmt represents a while loop.
	WhileStmt struct {
		File  token.FileID
		Start token.Pos
		Cond  Expr
		Body  *Block
	}

	// ForRangeStmt represents a range loop "for i in start..end [step s]".
	// Step may be nil, meaning 1.
	ForRangeStmt struct {
		File    token.FileID
		Start   token.Pos
		VarName string
		From    Expr
		To      Expr
		Step    Expr
		Body    *Block
	}

	// ForIterStmt represents an iterator loop "for x in expr".
	ForIterStmt struct {
		File    token.FileID
		Start   token.Pos
		VarName string
		Iter    Expr
		Body    *Block
	}

	// BreakStmt represents a break statement; it targets the innermost
	// enclosing loop.
	BreakStmt struct {
		File  token.FileID
		Start token.Pos
	}

	// ContinueStmt represents a continue statement; it targets the innermost
	// enclosing loop.
	ContinueStmt struct {
		File  token.FileID
		Start token.Pos
	}

	// FuncStmt represents a function declaration.
	FuncStmt struct {
		File   token.FileID
		Start  token.Pos
		Name   string
		Params []Param
		Ret    *TypeAnnotation // nil means void
		Body   *Block
	}

	// Param is a function parameter; Type may be nil (defaults to i32).
	Param struct {
		Name  string
		Start token.Pos
		Type  *TypeAnnotation
	}

	// ReturnStmt represents a return statement; Value may be nil.
	ReturnStmt struct {
		File  token.FileID
		Start token.Pos
		Value Expr
	}

	// ExprStmt represents an expression used as a statement, which is only
	// meaningful for calls.
	ExprStmt struct {
		File token.FileID
		Expr Expr
	}
)

type (
	// LiteralExpr represents a literal value. The value's kind records the
	// literal's default type: integer literals default to i32, floats to f64.
	LiteralExpr struct {
		File  token.FileID
		Start token.Pos
		Value machine.Value
	}

	// IdentExpr represents a use of a name.
	IdentExpr struct {
		File  token.FileID
		Start token.Pos
		Name  string
	}

	// BinaryExpr represents a binary operation.
	BinaryExpr struct {
		File  token.FileID
		OpPos token.Pos // position of the operator token
		Op    Op
		Left  Expr
		Right Expr
	}

	// UnaryExpr represents a unary operation.
	UnaryExpr struct {
		File    token.FileID
		Start   token.Pos
		Op      Op
		Operand Expr
	}

	// TernaryExpr represents a conditional expression "cond ? a : b".
	TernaryExpr struct {
		File token.FileID
		Cond Expr
		Then Expr
		Else Expr
	}

	// CastExpr represents an explicit conversion "expr as type".
	CastExpr struct {
		File  token.FileID
		Start token.Pos
		Expr  Expr
		Type  *TypeAnnotation
	}

	// CallExpr represents a function call.
	CallExpr struct {
		File token.FileID
		Fn   Expr
		Args []Expr
		End  token.Pos // position of the closing parenthesis
	}

	// ArrayLitExpr represents an array literal "[a, b, c]".
	ArrayLitExpr struct {
		File  token.FileID
		Start token.Pos
		End   token.Pos
		Elems []Expr
	}

	// IndexExpr represents an index expression "prefix[index]". The compiler
	// may mark individual index sites as not requiring a runtime bounds
	// check when loop analysis proves the index in range.
	IndexExpr struct {
		File   token.FileID
		Prefix Expr
		Index  Expr
		End    token.Pos // position of the closing bracket
	}

	// TypeAnnotation names a type in source: a primitive name or an array of
	// an element annotation.
	TypeAnnotation struct {
		File  token.FileID
		Start token.Pos
		Name  string          // "i32", "f64", ..., or "array"
		Elem  *TypeAnnotation // set when Name is "array"
	}
)

func (n *Program) Span() (start, end token.Pos) { return n.Start, n.End }
func (n *Program) FileID() token.FileID         { return n.File }
func (n *Program) Walk(v Visitor) {
	for _, s := range n.Stmts {
		Walk(v, s)
	}
}

func (n *Block) Span() (start, end token.Pos) { return n.Start, n.End }
func (n *Block) FileID() token.FileID         { return n.File }
func (n *Block) Walk(v Visitor) {
	for _, s := range n.Stmts {
		Walk(v, s)
	}
}

func (n *VarDecl) Span() (start, end token.Pos) {
	if n.Init != nil {
		_, end = n.Init.Span()
		return n.Start, end
	}
	return n.Start, n.Start
}
func (n *VarDecl) FileID() token.FileID { return n.File }
func (n *VarDecl) Walk(v Visitor) {
	if n.Type != nil {
		Walk(v, n.Type)
	}
	if n.Init != nil {
		Walk(v, n.Init)
	}
}

func (n *AssignStmt) Span() (start, end token.Pos) {
	start, _ = n.Target.Span()
	_, end = n.Value.Span()
	return start, end
}
func (n *AssignStmt) FileID() token.FileID { return n.File }
func (n *AssignStmt) Walk(v Visitor) {
	Walk(v, n.Target)
	Walk(v, n.Value)
}

func (n *PrintStmt) Span() (start, end token.Pos) {
	end = n.Start
	if len(n.Args) > 0 {
		_, end = n.Args[len(n.Args)-1].Span()
	}
	return n.Start, end
}
func (n *PrintStmt) FileID() token.FileID { return n.File }
func (n *PrintStmt) Walk(v Visitor) {
	for _, a := range n.Args {
		Walk(v, a)
	}
}

func (n *IfStmt) Span() (start, end token.Pos) {
	if n.Else != nil {
		return n.Start, n.Else.End
	}
	return n.Start, n.Then.End
}
func (n *IfStmt) FileID() token.FileID { return n.File }
func (n *IfStmt) Walk(v Visitor) {
	Walk(v, n.Cond)
	Walk(v, n.Then)
	if n.Else != nil {
		Walk(v, n.Else)
	}
}

func (n *WhileStmt) Span() (start, end token.Pos) { return n.Start, n.Body.End }
func (n *WhileStmt) FileID() token.FileID         { return n.File }
func (n *WhileStmt) Walk(v Visitor) {
	Walk(v, n.Cond)
	Walk(v, n.Body)
}

func (n *ForRangeStmt) Span() (start, end token.Pos) { return n.Start, n.Body.End }
func (n *ForRangeStmt) FileID() token.FileID         { return n.File }
func (n *ForRangeStmt) Walk(v Visitor) {
	Walk(v, n.From)
	Walk(v, n.To)
	if n.Step != nil {
		Walk(v, n.Step)
	}
	Walk(v, n.Body)
}

func (n *ForIterStmt) Span() (start, end token.Pos) { return n.Start, n.Body.End }
func (n *ForIterStmt) FileID() token.FileID         { return n.File }
func (n *ForIterStmt) Walk(v Visitor) {
	Walk(v, n.Iter)
	Walk(v, n.Body)
}

func (n *BreakStmt) Span() (start, end token.Pos) { return n.Start, n.Start }
func (n *BreakStmt) FileID() token.FileID         { return n.File }
func (n *BreakStmt) Walk(_ Visitor)               {}

func (n *ContinueStmt) Span() (start, end token.Pos) { return n.Start, n.Start }
func (n *ContinueStmt) FileID() token.FileID         { return n.File }
func (n *ContinueStmt) Walk(_ Visitor)               {}

func (n *FuncStmt) Span() (start, end token.Pos) { return n.Start, n.Body.End }
func (n *FuncStmt) FileID() token.FileID         { return n.File }
func (n *FuncStmt) Walk(v Visitor) {
	for _, p := range n.Params {
		if p.Type != nil {
			Walk(v, p.Type)
		}
	}
	if n.Ret != nil {
		Walk(v, n.Ret)
	}
	Walk(v, n.Body)
}

func (n *ReturnStmt) Span() (start, end token.Pos) {
	end = n.Start
	if n.Value != nil {
		_, end = n.Value.Span()
	}
	return n.Start, end
}
func (n *ReturnStmt) FileID() token.FileID { return n.File }
func (n *ReturnStmt) Walk(v Visitor) {
	if n.Value != nil {
		Walk(v, n.Value)
	}
}

func (n *ExprStmt) Span() (start, end token.Pos) { return n.Expr.Span() }
func (n *ExprStmt) FileID() token.FileID         { return n.File }
func (n *ExprStmt) Walk(v Visitor)               { Walk(v, n.Expr) }

func (n *LiteralExpr) Span() (start, end token.Pos) { return n.Start, n.Start }
func (n *LiteralExpr) FileID() token.FileID         { return n.File }
func (n *LiteralExpr) Walk(_ Visitor)               {}

func (n *IdentExpr) Span() (start, end token.Pos) {
	return n.Start, n.Start + token.Pos(len(n.Name))
}
func (n *IdentExpr) FileID() token.FileID { return n.File }
func (n *IdentExpr) Walk(_ Visitor)       {}

func (n *BinaryExpr) Span() (start, end token.Pos) {
	start, _ = n.Left.Span()
	_, end = n.Right.Span()
	return start, end
}
func (n *BinaryExpr) FileID() token.FileID { return n.File }
func (n *BinaryExpr) Walk(v Visitor) {
	Walk(v, n.Left)
	Walk(v, n.Right)
}

func (n *UnaryExpr) Span() (start, end token.Pos) {
	_, end = n.Operand.Span()
	return n.Start, end
}
func (n *UnaryExpr) FileID() token.FileID { return n.File }
func (n *UnaryExpr) Walk(v Visitor)       { Walk(v, n.Operand) }

func (n *TernaryExpr) Span() (start, end token.Pos) {
	start, _ = n.Cond.Span()
	_, end = n.Else.Span()
	return start, end
}
func (n *TernaryExpr) FileID() token.FileID { return n.File }
func (n *TernaryExpr) Walk(v Visitor) {
	Walk(v, n.Cond)
	Walk(v, n.Then)
	Walk(v, n.Else)
}

func (n *CastExpr) Span() (start, end token.Pos) {
	_, end = n.Type.Span()
	return n.Start, end
}
func (n *CastExpr) FileID() token.FileID { return n.File }
func (n *CastExpr) Walk(v Visitor) {
	Walk(v, n.Expr)
	Walk(v, n.Type)
}

func (n *CallExpr) Span() (start, end token.Pos) {
	start, _ = n.Fn.Span()
	return start, n.End
}
func (n *CallExpr) FileID() token.FileID { return n.File }
func (n *CallExpr) Walk(v Visitor) {
	Walk(v, n.Fn)
	for _, a := range n.Args {
		Walk(v, a)
	}
}

func (n *ArrayLitExpr) Span() (start, end token.Pos) { return n.Start, n.End }
func (n *ArrayLitExpr) FileID() token.FileID         { return n.File }
func (n *ArrayLitExpr) Walk(v Visitor) {
	for _, e := range n.Elems {
		Walk(v, e)
	}
}

func (n *IndexExpr) Span() (start, end token.Pos) {
	start, _ = n.Prefix.Span()
	return start, n.End
}
func (n *IndexExpr) FileID() token.FileID { return n.File }
func (n *IndexExpr) Walk(v Visitor) {
	Walk(v, n.Prefix)
	Walk(v, n.Index)
}

func (n *TypeAnnotation) Span() (start, end token.Pos) {
	if n.Elem != nil {
		_, end = n.Elem.Span()
		return n.Start, end
	}
	return n.Start, n.Start + token.Pos(len(n.Name))
}
func (n *TypeAnnotation) FileID() token.FileID { return n.File }
func (n *TypeAnnotation) Walk(v Visitor) {
	if n.Elem != nil {
		Walk(v, n.Elem)
	}
}

func (*VarDecl) stmt()      {}
func (*AssignStmt) stmt()   {}
func (*PrintStmt) stmt()    {}
func (*IfStmt) stmt()       {}
func (*WhileStmt) stmt()    {}
func (*ForRangeStmt) stmt() {}
func (*ForIterStmt) stmt()  {}
func (*BreakStmt) stmt()    {}
func (*ContinueStmt) stmt() {}
func (*FuncStmt) stmt()     {}
func (*ReturnStmt) stmt()   {}
func (*ExprStmt) stmt()     {}
func (*Block) stmt()        {}

func (*LiteralExpr) expr()    {}
func (*IdentExpr) expr()      {}
func (*BinaryExpr) expr()     {}
func (*UnaryExpr) expr()      {}
func (*TernaryExpr) expr()    {}
func (*CastExpr) expr()       {}
func (*CallExpr) expr()       {}
func (*ArrayLitExpr) expr()   {}
func (*IndexExpr) expr()      {}
func (*TypeAnnotation) expr() {}
