package infer

import (
	"fmt"

	"github.com/mna/vetiver/lang/ast"
	"github.com/mna/vetiver/lang/types"
)

// buildProgram walks the AST once more after a successful decoration pass
// and creates the parallel typed tree, copying the resolved type onto each
// node.
func (in *inferencer) buildProgram(prog *ast.Program) *Node {
	n := in.node(prog)
	for _, s := range prog.Stmts {
		n.Children = append(n.Children, in.buildStmt(s))
	}
	return n
}

func (in *inferencer) node(orig ast.Node, children ...*Node) *Node {
	t, ok := in.nodeTypes[orig]
	if !ok {
		t = types.Void
	}
	return &Node{
		Orig:         orig,
		Type:         in.unifier.Resolve(t),
		TypeResolved: true,
		Children:     children,
	}
}

func (in *inferencer) buildStmt(stmt ast.Stmt) *Node {
	switch stmt := stmt.(type) {
	case *ast.VarDecl:
		if stmt.Init != nil {
			return in.node(stmt, in.buildExpr(stmt.Init))
		}
		return in.node(stmt)

	case *ast.AssignStmt:
		return in.node(stmt, in.buildExpr(stmt.Target), in.buildExpr(stmt.Value))

	case *ast.PrintStmt:
		n := in.node(stmt)
		for _, a := range stmt.Args {
			n.Children = append(n.Children, in.buildExpr(a))
		}
		return n

	case *ast.IfStmt:
		n := in.node(stmt, in.buildExpr(stmt.Cond), in.buildBlock(stmt.Then))
		if stmt.Else != nil {
			n.Children = append(n.Children, in.buildBlock(stmt.Else))
		}
		return n

	case *ast.WhileStmt:
		return in.node(stmt, in.buildExpr(stmt.Cond), in.buildBlock(stmt.Body))

	case *ast.ForRangeStmt:
		n := in.node(stmt, in.buildExpr(stmt.From), in.buildExpr(stmt.To))
		if stmt.Step != nil {
			n.Children = append(n.Children, in.buildExpr(stmt.Step))
		}
		n.Children = append(n.Children, in.buildBlock(stmt.Body))
		return n

	case *ast.ForIterStmt:
		return in.node(stmt, in.buildExpr(stmt.Iter), in.buildBlock(stmt.Body))

	case *ast.BreakStmt, *ast.ContinueStmt:
		return in.node(stmt)

	case *ast.FuncStmt:
		return in.node(stmt, in.buildBlock(stmt.Body))

	case *ast.ReturnStmt:
		if stmt.Value != nil {
			return in.node(stmt, in.buildExpr(stmt.Value))
		}
		return in.node(stmt)

	case *ast.ExprStmt:
		return in.node(stmt, in.buildExpr(stmt.Expr))

	case *ast.Block:
		return in.buildBlock(stmt)

	default:
		panic(fmt.Sprintf("unexpected stmt %T", stmt))
	}
}

func (in *inferencer) buildBlock(b *ast.Block) *Node {
	n := in.node(b)
	for _, s := range b.Stmts {
		n.Children = append(n.Children, in.buildStmt(s))
	}
	return n
}

func (in *inferencer) buildExpr(expr ast.Expr) *Node {
	switch expr := expr.(type) {
	case *ast.LiteralExpr, *ast.IdentExpr:
		return in.node(expr)

	case *ast.BinaryExpr:
		return in.node(expr, in.buildExpr(expr.Left), in.buildExpr(expr.Right))

	case *ast.UnaryExpr:
		return in.node(expr, in.buildExpr(expr.Operand))

	case *ast.TernaryExpr:
		return in.node(expr, in.buildExpr(expr.Cond), in.buildExpr(expr.Then), in.buildExpr(expr.Else))

	case *ast.CastExpr:
		return in.node(expr, in.buildExpr(expr.Expr))

	case *ast.CallExpr:
		n := in.node(expr, in.buildExpr(expr.Fn))
		for _, a := range expr.Args {
			n.Children = append(n.Children, in.buildExpr(a))
		}
		return n

	case *ast.ArrayLitExpr:
		n := in.node(expr)
		for _, e := range expr.Elems {
			n.Children = append(n.Children, in.buildExpr(e))
		}
		return n

	case *ast.IndexExpr:
		return in.node(expr, in.buildExpr(expr.Prefix), in.buildExpr(expr.Index))

	default:
		panic(fmt.Sprintf("unexpected expr %T", expr))
	}
}
