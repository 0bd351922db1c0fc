package infer

import (
	"context"
	"fmt"

	"github.com/mna/vetiver/internal/debuglog"
	"github.com/mna/vetiver/lang/ast"
	"github.com/mna/vetiver/lang/diag"
	"github.com/mna/vetiver/lang/machine"
	"github.com/mna/vetiver/lang/token"
	"github.com/mna/vetiver/lang/types"
)

// Program runs type inference on the unit and, on success, returns the typed
// AST. On failure it returns a nil tree and the collected diagnostics as the
// error (guaranteed to be a diag.List); every type error in the unit is
// collected before halting.
func Program(ctx context.Context, fset *token.FileSet, u *types.Unifier, prog *ast.Program) (*Node, error) {
	_ = ctx

	in := &inferencer{
		fset:      fset,
		unifier:   u,
		arena:     u.Arena(),
		env:       types.NewEnv(nil),
		nodeTypes: make(map[ast.Node]*types.Type),
	}
	for _, s := range prog.Stmts {
		in.stmt(s)
	}
	in.errors.Sort()
	if err := in.errors.Err(); err != nil {
		return nil, err
	}
	debuglog.Logf(debuglog.Infer, "inferred %d node(s), %d type var(s)",
		len(in.nodeTypes), u.NumVars())
	return in.buildProgram(prog), nil
}

type inferencer struct {
	fset    *token.FileSet
	unifier *types.Unifier
	arena   *types.Arena
	env     *types.Env
	errors  diag.List

	// nodeTypes is the decoration produced by the inference pass; the typed
	// AST construction copies it onto the mirrored tree.
	nodeTypes map[ast.Node]*types.Type

	// curRet is the declared return type of the function being inferred,
	// nil at the top level.
	curRet *types.Type
}

func (in *inferencer) pos(n ast.Node) token.Position {
	start, _ := n.Span()
	return in.fset.Position(n.FileID(), start)
}

func (in *inferencer) errorf(code diag.Code, n ast.Node, format string, args ...interface{}) {
	in.errors.Add(code, in.pos(n), format, args...)
}

func (in *inferencer) set(n ast.Node, t *types.Type) *types.Type {
	in.nodeTypes[n] = t
	return t
}

// ---- statements ----

func (in *inferencer) stmt(stmt ast.Stmt) {
	switch stmt := stmt.(type) {
	case *ast.VarDecl:
		in.varDecl(stmt)

	case *ast.AssignStmt:
		in.assign(stmt)

	case *ast.PrintStmt:
		for _, a := range stmt.Args {
			in.expr(a)
		}

	case *ast.IfStmt:
		ct := in.expr(stmt.Cond)
		if err := in.unifier.Unify(ct, types.Bool); err != nil {
			in.unifyError(stmt.Cond, err)
		}
		in.blockInChild(stmt.Then)
		if stmt.Else != nil {
			in.blockInChild(stmt.Else)
		}

	case *ast.WhileStmt:
		ct := in.expr(stmt.Cond)
		if err := in.unifier.Unify(ct, types.Bool); err != nil {
			in.unifyError(stmt.Cond, err)
		}
		in.blockInChild(stmt.Body)

	case *ast.ForRangeStmt:
		in.forRange(stmt)

	case *ast.ForIterStmt:
		in.forIter(stmt)

	case *ast.BreakStmt, *ast.ContinueStmt:
		// loop nesting is validated during lowering

	case *ast.FuncStmt:
		in.function(stmt)

	case *ast.ReturnStmt:
		var vt *types.Type = types.Void
		if stmt.Value != nil {
			vt = in.expr(stmt.Value)
		}
		if in.curRet == nil {
			in.errorf(diag.UnsupportedOperation, stmt, "return outside function")
			break
		}
		if err := in.unifier.Unify(vt, in.curRet); err != nil {
			in.unifyError(stmt, err)
		}

	case *ast.ExprStmt:
		in.expr(stmt.Expr)

	case *ast.Block:
		in.blockInChild(stmt)

	default:
		panic(fmt.Sprintf("unexpected stmt %T", stmt))
	}
	// statements are Void unless the case recorded something more precise
	// (variable declarations and range loops record the variable's type).
	if _, ok := in.nodeTypes[stmt]; !ok {
		in.set(stmt, types.Void)
	}
}

func (in *inferencer) blockInChild(b *ast.Block) {
	outer := in.env
	in.env = types.NewEnv(outer)
	for _, s := range b.Stmts {
		in.stmt(s)
	}
	in.env = outer
}

func (in *inferencer) varDecl(stmt *ast.VarDecl) {
	var declared *types.Type
	if stmt.Type != nil {
		declared = in.annotated(stmt.Type)
	}

	var vt *types.Type
	switch {
	case stmt.Init != nil && declared != nil:
		it := in.expr(stmt.Init)
		// literal adaptation: the declared type wins over a literal
		// initializer's default type.
		if adapted := in.adaptLiteral(stmt.Init, it, declared); adapted != nil {
			it = adapted
		}
		if err := in.unifier.Unify(declared, it); err != nil {
			in.unifyError(stmt, err)
		}
		vt = declared
	case stmt.Init != nil:
		vt = in.expr(stmt.Init)
	case declared != nil:
		vt = declared
	default:
		in.errorf(diag.TypeAnnotationRequired, stmt,
			"cannot infer type of %s: no initializer and no annotation", stmt.Name)
		vt = types.ErrType
	}

	in.env.Define(stmt.Name, &types.Binding{
		Scheme:  in.unifier.Generalize(vt, in.env),
		Mutable: stmt.Mutable,
	})
	in.set(stmt, vt)
}

func (in *inferencer) assign(stmt *ast.AssignStmt) {
	vt := in.expr(stmt.Value)

	switch target := stmt.Target.(type) {
	case *ast.IdentExpr:
		b := in.env.Lookup(target.Name)
		if b == nil {
			// assignment to an unknown name declares a mutable binding
			in.env.Define(target.Name, &types.Binding{
				Scheme:  types.MonoScheme(vt),
				Mutable: true,
			})
			in.set(target, vt)
			return
		}
		if !b.Mutable {
			in.errorf(diag.ImmutableAssignment, target,
				"cannot assign to immutable variable %s", target.Name)
			return
		}
		tt := in.unifier.Instantiate(b.Scheme)
		if adapted := in.adaptLiteral(stmt.Value, vt, tt); adapted != nil {
			vt = adapted
		}
		if err := in.unifier.Unify(tt, vt); err != nil {
			in.unifyError(stmt, err)
		}
		in.set(target, tt)

	case *ast.IndexExpr:
		et := in.indexExpr(target)
		if err := in.unifier.Unify(et, vt); err != nil {
			in.unifyError(stmt, err)
		}

	default:
		in.errorf(diag.UnsupportedOperation, stmt.Target, "invalid assignment target")
	}
}

func (in *inferencer) forRange(stmt *ast.ForRangeStmt) {
	ft := in.expr(stmt.From)
	tt := in.expr(stmt.To)
	if err := in.unifier.Unify(ft, tt); err != nil {
		in.unifyError(stmt, err)
	}
	if stmt.Step != nil {
		st := in.expr(stmt.Step)
		if err := in.unifier.Unify(ft, st); err != nil {
			in.unifyError(stmt, err)
		}
	}

	// the loop variable is an integer; an unconstrained range defaults to i32
	iv := in.unifier.Prune(ft)
	if iv.Kind == types.KindVar {
		if err := in.unifier.Unify(iv, types.I32); err != nil {
			in.unifyError(stmt, err)
		}
		iv = types.I32
	}
	if !iv.IsInteger() {
		in.errorf(diag.UnsupportedOperation, stmt,
			"range bounds must be integers, got %s", iv)
		iv = types.ErrType
	}

	in.set(stmt, iv)

	outer := in.env
	in.env = types.NewEnv(outer)
	in.env.Define(stmt.VarName, &types.Binding{Scheme: types.MonoScheme(iv)})
	for _, s := range stmt.Body.Stmts {
		in.stmt(s)
	}
	in.env = outer
}

func (in *inferencer) forIter(stmt *ast.ForIterStmt) {
	it := in.expr(stmt.Iter)
	elem := in.unifier.NewVar()
	if err := in.unifier.Unify(it, in.arena.NewArray(elem)); err != nil {
		in.unifyError(stmt.Iter, err)
		elem = types.ErrType
	}

	in.set(stmt, elem)

	outer := in.env
	in.env = types.NewEnv(outer)
	in.env.Define(stmt.VarName, &types.Binding{Scheme: types.MonoScheme(elem)})
	for _, s := range stmt.Body.Stmts {
		in.stmt(s)
	}
	in.env = outer
}

func (in *inferencer) function(stmt *ast.FuncStmt) {
	params := make([]*types.Type, len(stmt.Params))
	for i, p := range stmt.Params {
		if p.Type != nil {
			params[i] = in.annotated(p.Type)
		} else {
			params[i] = types.I32
		}
	}
	ret := types.Void
	if stmt.Ret != nil {
		ret = in.annotated(stmt.Ret)
	}
	fnType := in.arena.NewFunction(params, ret)

	// register in the outer env first so the body can recurse
	in.env.Define(stmt.Name, &types.Binding{Scheme: in.unifier.Generalize(fnType, in.env)})
	in.set(stmt, fnType)

	outer, outerRet := in.env, in.curRet
	in.env = types.NewEnv(outer)
	in.curRet = ret
	for i, p := range stmt.Params {
		in.env.Define(p.Name, &types.Binding{Scheme: types.MonoScheme(params[i]), Mutable: true})
	}
	for _, s := range stmt.Body.Stmts {
		in.stmt(s)
	}
	in.env, in.curRet = outer, outerRet
}

// ---- expressions ----

func (in *inferencer) expr(expr ast.Expr) *types.Type {
	switch expr := expr.(type) {
	case *ast.LiteralExpr:
		return in.set(expr, literalType(expr))

	case *ast.IdentExpr:
		b := in.env.Lookup(expr.Name)
		if b == nil {
			in.errorf(diag.UnboundVariable, expr, "undefined: %s", expr.Name)
			return in.set(expr, types.ErrType)
		}
		return in.set(expr, in.unifier.Instantiate(b.Scheme))

	case *ast.BinaryExpr:
		return in.set(expr, in.binary(expr))

	case *ast.UnaryExpr:
		return in.set(expr, in.unary(expr))

	case *ast.TernaryExpr:
		ct := in.expr(expr.Cond)
		if err := in.unifier.Unify(ct, types.Bool); err != nil {
			in.unifyError(expr.Cond, err)
		}
		tt := in.expr(expr.Then)
		et := in.expr(expr.Else)
		if err := in.unifier.Unify(tt, et); err != nil {
			in.unifyError(expr, err)
			return in.set(expr, types.ErrType)
		}
		return in.set(expr, tt)

	case *ast.CastExpr:
		// the operand is inferred but not unified: casts are explicit
		// coercions.
		ot := in.expr(expr.Expr)
		target := in.annotated(expr.Type)
		op, tp := in.unifier.Prune(ot), target
		if op.Kind == types.KindPrimitive && !op.IsNumeric() && !op.IsPrimitive(types.PrimBool) &&
			tp.IsNumeric() {
			in.errorf(diag.UnsupportedOperation, expr, "cannot cast %s to %s", op, tp)
		}
		return in.set(expr, target)

	case *ast.CallExpr:
		return in.set(expr, in.call(expr))

	case *ast.ArrayLitExpr:
		elem := in.unifier.NewVar()
		for _, e := range expr.Elems {
			et := in.expr(e)
			if adapted := in.adaptLiteral(e, et, in.unifier.Prune(elem)); adapted != nil {
				et = adapted
			}
			if err := in.unifier.Unify(elem, et); err != nil {
				in.unifyError(e, err)
			}
		}
		return in.set(expr, in.arena.NewArray(elem))

	case *ast.IndexExpr:
		return in.set(expr, in.indexExpr(expr))

	default:
		panic(fmt.Sprintf("unexpected expr %T", expr))
	}
}

func (in *inferencer) binary(expr *ast.BinaryExpr) *types.Type {
	lt := in.expr(expr.Left)
	rt := in.expr(expr.Right)

	switch {
	case expr.Op.IsArithmetic():
		// literal adaptation: when exactly one operand is a literal, its
		// default type is coerced to the other operand's type instead of
		// unifying.
		lLit, rLit := isLiteral(expr.Left), isLiteral(expr.Right)
		switch {
		case lLit && !rLit:
			if adapted := in.adaptLiteral(expr.Left, lt, rt); adapted != nil {
				return adapted
			}
		case rLit && !lLit:
			if adapted := in.adaptLiteral(expr.Right, rt, lt); adapted != nil {
				return adapted
			}
		}
		if err := in.unifier.Unify(lt, rt); err != nil {
			in.opError(expr, err)
			return types.ErrType
		}
		return lt

	case expr.Op.IsComparison():
		if err := in.unifier.Unify(lt, rt); err != nil {
			in.opError(expr, err)
		}
		return types.Bool

	case expr.Op.IsLogical():
		if err := in.unifier.Unify(lt, types.Bool); err != nil {
			in.unifyError(expr.Left, err)
		}
		if err := in.unifier.Unify(rt, types.Bool); err != nil {
			in.unifyError(expr.Right, err)
		}
		return types.Bool
	}
	in.errorf(diag.UnsupportedOperation, expr, "invalid binary operator %s", expr.Op)
	return types.ErrType
}

func (in *inferencer) unary(expr *ast.UnaryExpr) *types.Type {
	ot := in.expr(expr.Operand)
	switch expr.Op {
	case ast.OpNeg, ast.OpPos:
		p := in.unifier.Prune(ot)
		if p.Kind == types.KindPrimitive && !p.IsNumeric() && !p.IsPrimitive(types.PrimError) {
			in.errorf(diag.UnsupportedOperation, expr, "operator %s requires a numeric operand, got %s", expr.Op, p)
			return types.ErrType
		}
		return ot
	case ast.OpNot:
		if err := in.unifier.Unify(ot, types.Bool); err != nil {
			in.unifyError(expr, err)
			return types.ErrType
		}
		return types.Bool
	}
	in.errorf(diag.UnsupportedOperation, expr, "invalid unary operator %s", expr.Op)
	return types.ErrType
}

func (in *inferencer) call(expr *ast.CallExpr) *types.Type {
	// named function with a known function scheme: arity-check and unify
	// each argument against its parameter, for precise per-argument errors.
	if id, ok := expr.Fn.(*ast.IdentExpr); ok {
		if b := in.env.Lookup(id.Name); b != nil {
			ft := in.unifier.Prune(in.unifier.Instantiate(b.Scheme))
			if ft.Kind == types.KindFunction {
				in.set(expr.Fn, ft)
				if len(expr.Args) != len(ft.Params) {
					in.errorf(diag.ArityMismatch, expr,
						"%s expects %d argument(s), got %d", id.Name, len(ft.Params), len(expr.Args))
					return types.ErrType
				}
				for i, arg := range expr.Args {
					at := in.expr(arg)
					if err := in.unifier.Unify(at, ft.Params[i]); err != nil {
						in.unifyError(arg, err)
					}
				}
				return ft.Ret
			}
		}
	}

	// general case: unify the callee with a fresh function type built from
	// the argument types.
	ct := in.expr(expr.Fn)
	args := make([]*types.Type, len(expr.Args))
	for i, arg := range expr.Args {
		args[i] = in.expr(arg)
	}
	ret := in.unifier.NewVar()
	if err := in.unifier.Unify(ct, in.arena.NewFunction(args, ret)); err != nil {
		in.unifyError(expr, err)
		return types.ErrType
	}
	return ret
}

func (in *inferencer) indexExpr(expr *ast.IndexExpr) *types.Type {
	pt := in.expr(expr.Prefix)
	it := in.expr(expr.Index)

	elem := in.unifier.NewVar()
	if err := in.unifier.Unify(pt, in.arena.NewArray(elem)); err != nil {
		in.unifyError(expr.Prefix, err)
		return in.set(expr, types.ErrType)
	}
	ip := in.unifier.Prune(it)
	if ip.Kind == types.KindVar {
		if err := in.unifier.Unify(ip, types.I32); err != nil {
			in.unifyError(expr.Index, err)
		}
	} else if !ip.IsInteger() && !ip.IsPrimitive(types.PrimError) {
		in.errorf(diag.TypeMismatch, expr.Index, "index must be an integer, got %s", ip)
	}
	return in.set(expr, elem)
}

// ---- helpers ----

// adaptLiteral implements the literal-adaptation rule: if e is a literal
// node whose default numeric type differs from the numeric target, the
// literal's type is coerced to the target. It returns the adapted type, or
// nil when the rule does not apply.
func (in *inferencer) adaptLiteral(e ast.Expr, lt, target *types.Type) *types.Type {
	if !isLiteral(e) {
		return nil
	}
	lp, tp := in.unifier.Prune(lt), in.unifier.Prune(target)
	if !lp.IsNumeric() || !tp.IsNumeric() {
		return nil
	}
	in.set(e, tp)
	return tp
}

func isLiteral(e ast.Expr) bool {
	_, ok := e.(*ast.LiteralExpr)
	return ok
}

func literalType(e *ast.LiteralExpr) *types.Type {
	switch e.Value.Kind() {
	case machine.KindBool:
		return types.Bool
	case machine.KindI32:
		return types.I32
	case machine.KindI64:
		return types.I64
	case machine.KindU32:
		return types.U32
	case machine.KindU64:
		return types.U64
	case machine.KindF64:
		return types.F64
	case machine.KindString:
		return types.String
	default:
		return types.Any
	}
}

func (in *inferencer) annotated(ta *ast.TypeAnnotation) *types.Type {
	if ta.Elem != nil {
		return in.arena.NewArray(in.annotated(ta.Elem))
	}
	switch ta.Name {
	case "i32":
		return types.I32
	case "i64":
		return types.I64
	case "u32":
		return types.U32
	case "u64":
		return types.U64
	case "f64":
		return types.F64
	case "bool":
		return types.Bool
	case "string":
		return types.String
	case "void":
		return types.Void
	case "any":
		return types.Any
	default:
		in.errorf(diag.UnsupportedOperation, ta, "unknown type %s", ta.Name)
		return types.ErrType
	}
}

func (in *inferencer) unifyError(n ast.Node, err *types.UnifyError) {
	code := diag.TypeMismatch
	switch err.Kind {
	case types.Occurs:
		code = diag.OccursCheck
	case types.ArityMismatch:
		code = diag.ArityMismatch
	}
	in.errorf(code, n, "%s", err)
}

// opError reports a binary operand mismatch at the operator position.
func (in *inferencer) opError(expr *ast.BinaryExpr, err *types.UnifyError) {
	code := diag.TypeMismatch
	if err.Kind == types.Occurs {
		code = diag.OccursCheck
	}
	in.errors.Add(code, in.fset.Position(expr.File, expr.OpPos),
		"operator %s: %s", expr.Op, err)
}
