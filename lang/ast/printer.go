package ast

import (
	"fmt"

	"github.com/xlab/treeprint"
)

// Print renders the tree rooted at node as an indented textual tree, for the
// AST visualization flag. The output is purely diagnostic.
func Print(node Node) string {
	root := treeprint.NewWithRoot(label(node))
	p := &printer{branches: []treeprint.Tree{root}}
	node.Walk(p)
	return root.String()
}

type printer struct {
	branches []treeprint.Tree
}

func (p *printer) Visit(n Node, dir VisitDirection) Visitor {
	if dir == VisitExit {
		p.branches = p.branches[:len(p.branches)-1]
		return p
	}
	cur := p.branches[len(p.branches)-1]
	p.branches = append(p.branches, cur.AddBranch(label(n)))
	return p
}

func label(n Node) string {
	switch n := n.(type) {
	case *Program:
		return fmt.Sprintf("program [%d stmts]", len(n.Stmts))
	case *Block:
		return fmt.Sprintf("block [%d stmts]", len(n.Stmts))
	case *VarDecl:
		kw := "let"
		if n.Mutable {
			kw = "mut"
		}
		return fmt.Sprintf("%s %s", kw, n.Name)
	case *AssignStmt:
		return "assign"
	case *PrintStmt:
		return fmt.Sprintf("print [%d args]", len(n.Args))
	case *IfStmt:
		return "if"
	case *WhileStmt:
		return "while"
	case *ForRangeStmt:
		return fmt.Sprintf("for %s in range", n.VarName)
	case *ForIterStmt:
		return fmt.Sprintf("for %s in iter", n.VarName)
	case *BreakStmt:
		return "break"
	case *ContinueStmt:
		return "continue"
	case *FuncStmt:
		return fmt.Sprintf("fn %s/%d", n.Name, len(n.Params))
	case *ReturnStmt:
		return "return"
	case *ExprStmt:
		return "expr stmt"
	case *LiteralExpr:
		return fmt.Sprintf("literal %s", n.Value)
	case *IdentExpr:
		return fmt.Sprintf("ident %s", n.Name)
	case *BinaryExpr:
		return fmt.Sprintf("binary %s", n.Op)
	case *UnaryExpr:
		return fmt.Sprintf("unary %s", n.Op)
	case *TernaryExpr:
		return "ternary"
	case *CastExpr:
		return fmt.Sprintf("cast as %s", typeLabel(n.Type))
	case *CallExpr:
		return fmt.Sprintf("call [%d args]", len(n.Args))
	case *ArrayLitExpr:
		return fmt.Sprintf("array [%d elems]", len(n.Elems))
	case *IndexExpr:
		return "index"
	case *TypeAnnotation:
		return "type " + typeLabel(n)
	default:
		return fmt.Sprintf("%T", n)
	}
}

func typeLabel(t *TypeAnnotation) string {
	if t == nil {
		return "void"
	}
	if t.Elem != nil {
		return "[]" + typeLabel(t.Elem)
	}
	return t.Name
}
