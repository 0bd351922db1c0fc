package optimizer_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mna/vetiver/lang/ast"
	"github.com/mna/vetiver/lang/infer"
	"github.com/mna/vetiver/lang/machine"
	"github.com/mna/vetiver/lang/optimizer"
	"github.com/mna/vetiver/lang/token"
	"github.com/mna/vetiver/lang/types"
)

var nextLine int

func pos() token.Pos {
	nextLine++
	return token.MakePos(nextLine, 1)
}

func lit(v int32) *ast.LiteralExpr {
	return &ast.LiteralExpr{Start: pos(), Value: machine.I32(v)}
}

func id(name string) *ast.IdentExpr {
	return &ast.IdentExpr{Start: pos(), Name: name}
}

func bin(op ast.Op, l, r ast.Expr) *ast.BinaryExpr {
	return &ast.BinaryExpr{OpPos: pos(), Op: op, Left: l, Right: r}
}

func block(stmts ...ast.Stmt) *ast.Block {
	return &ast.Block{Start: pos(), End: pos(), Stmts: stmts}
}

// analyzeLoop builds a program around the loop, infers it and analyzes the
// single loop statement.
func analyzeLoop(t *testing.T, pre []ast.Stmt, loop *ast.ForRangeStmt) *optimizer.Analysis {
	t.Helper()
	p := &ast.Program{Start: token.MakePos(1, 1), End: token.MakePos(1000, 1),
		Stmts: append(pre, loop)}
	fset := token.NewFileSet()
	fset.AddFile("test.vtv")
	u := types.NewUnifier(types.NewArena())
	typed, err := infer.Program(context.Background(), fset, u, p)
	require.NoError(t, err)
	return optimizer.AnalyzeLoop(typed.Children[len(typed.Children)-1], nil)
}

func TestConstantRange(t *testing.T) {
	cases := []struct {
		desc       string
		from, to   int32
		step       *int32
		iterations int64
		constant   bool
	}{
		{"ascending", 0, 4, nil, 4, true},
		{"ascending with step", 0, 10, i32p(3), 4, true},
		{"descending", 10, 0, i32p(-2), 5, true},
		{"empty ascending", 5, 5, nil, 0, true},
		{"wrong direction", 10, 0, nil, 0, true},
		{"zero step", 0, 10, i32p(0), 0, false},
	}
	for _, c := range cases {
		t.Run(c.desc, func(t *testing.T) {
			loop := &ast.ForRangeStmt{Start: pos(), VarName: "i",
				From: lit(c.from), To: lit(c.to), Body: block()}
			if c.step != nil {
				loop.Step = lit(*c.step)
			}
			a := analyzeLoop(t, nil, loop)
			assert.Equal(t, c.constant, a.IsConstantRange)
			if c.constant {
				assert.Equal(t, c.iterations, a.IterationCount)
			}
		})
	}
}

func i32p(v int32) *int32 { return &v }

func TestNonConstantRangeNotUnrollable(t *testing.T) {
	pre := []ast.Stmt{&ast.VarDecl{Start: pos(), Name: "n", Init: lit(4)}}
	loop := &ast.ForRangeStmt{Start: pos(), VarName: "i",
		From: lit(0), To: id("n"), Body: block()}
	a := analyzeLoop(t, pre, loop)
	assert.False(t, a.IsConstantRange)
	assert.False(t, a.CanUnroll)
}

func TestUnrollabilityLimit(t *testing.T) {
	small := analyzeLoop(t, nil, &ast.ForRangeStmt{Start: pos(), VarName: "i",
		From: lit(0), To: lit(64), Body: block()})
	assert.True(t, small.CanUnroll)

	big := analyzeLoop(t, nil, &ast.ForRangeStmt{Start: pos(), VarName: "i",
		From: lit(0), To: lit(65), Body: block()})
	assert.False(t, big.CanUnroll)
}

func TestBreakDisablesUnroll(t *testing.T) {
	loop := &ast.ForRangeStmt{Start: pos(), VarName: "i",
		From: lit(0), To: lit(4),
		Body: block(&ast.BreakStmt{Start: pos()})}
	a := analyzeLoop(t, nil, loop)
	assert.True(t, a.HasBreakContinue)
	assert.False(t, a.CanUnroll)
	assert.False(t, a.CanEliminateBounds)
}

func TestNestedLoopBreakDoesNotCount(t *testing.T) {
	inner := &ast.ForRangeStmt{Start: pos(), VarName: "j",
		From: lit(0), To: lit(2),
		Body: block(&ast.BreakStmt{Start: pos()})}
	loop := &ast.ForRangeStmt{Start: pos(), VarName: "i",
		From: lit(0), To: lit(4), Body: block(inner)}
	a := analyzeLoop(t, nil, loop)
	assert.False(t, a.HasBreakContinue)
}

func TestInvariantDiscovery(t *testing.T) {
	// let k = 10; mut s = 0; for i in 0..100 { s = s + (k*k + 7) }
	pre := []ast.Stmt{
		&ast.VarDecl{Start: pos(), Name: "k", Init: lit(10)},
		&ast.VarDecl{Start: pos(), Name: "s", Mutable: true, Init: lit(0)},
	}
	expr := bin(ast.OpAdd, bin(ast.OpMul, id("k"), id("k")), lit(7))
	loop := &ast.ForRangeStmt{Start: pos(), VarName: "i",
		From: lit(0), To: lit(100),
		Body: block(&ast.AssignStmt{Start: pos(), Target: id("s"),
			Value: bin(ast.OpAdd, id("s"), expr)})}

	a := analyzeLoop(t, pre, loop)
	require.Len(t, a.Invariants, 1)
	inv := a.Invariants[0]
	assert.Equal(t, 1, inv.UseCount)
	assert.True(t, inv.CanHoist)
	assert.True(t, a.CanApplyLICM)

	// the recorded expression is k*k + 7
	orig, ok := inv.Expr.Orig.(*ast.BinaryExpr)
	require.True(t, ok)
	assert.Equal(t, ast.OpAdd, orig.Op)
}

func TestLoopVarExpressionsNotInvariant(t *testing.T) {
	// for i in 0..100 { s = s + i*2 } — i*2 depends on the induction var
	pre := []ast.Stmt{
		&ast.VarDecl{Start: pos(), Name: "s", Mutable: true, Init: lit(0)},
	}
	loop := &ast.ForRangeStmt{Start: pos(), VarName: "i",
		From: lit(0), To: lit(100),
		Body: block(&ast.AssignStmt{Start: pos(), Target: id("s"),
			Value: bin(ast.OpAdd, id("s"), bin(ast.OpMul, id("i"), lit(2)))})}

	a := analyzeLoop(t, pre, loop)
	assert.Empty(t, a.Invariants)
}

func TestInvariantDeduplication(t *testing.T) {
	pre := []ast.Stmt{
		&ast.VarDecl{Start: pos(), Name: "k", Init: lit(10)},
		&ast.VarDecl{Start: pos(), Name: "s", Mutable: true, Init: lit(0)},
	}
	// the same k+1 appears twice in the body
	loop := &ast.ForRangeStmt{Start: pos(), VarName: "i",
		From: lit(0), To: lit(100),
		Body: block(
			&ast.AssignStmt{Start: pos(), Target: id("s"),
				Value: bin(ast.OpAdd, id("s"), bin(ast.OpAdd, id("k"), lit(1)))},
			&ast.AssignStmt{Start: pos(), Target: id("s"),
				Value: bin(ast.OpAdd, id("s"), bin(ast.OpAdd, id("k"), lit(1)))},
		)}

	a := analyzeLoop(t, pre, loop)
	require.Len(t, a.Invariants, 1)
	assert.Equal(t, 2, a.Invariants[0].UseCount)
}

func TestStrengthReduction(t *testing.T) {
	loop := &ast.ForRangeStmt{Start: pos(), VarName: "i",
		From: lit(0), To: lit(100),
		Body: block(&ast.AssignStmt{Start: pos(), Target: id("s"),
			Value: bin(ast.OpMul, id("i"), lit(8))})}

	a := analyzeLoop(t, nil, loop)
	require.Len(t, a.Reductions, 1)
	red := a.Reductions[0]
	assert.Equal(t, int64(8), red.Multiplier)
	assert.Equal(t, 3, red.ShiftAmount)
	assert.True(t, red.CanOptimize)
	assert.True(t, a.CanStrengthReduce)
}

func TestStrengthReductionRequiresPowerOfTwo(t *testing.T) {
	loop := &ast.ForRangeStmt{Start: pos(), VarName: "i",
		From: lit(0), To: lit(100),
		Body: block(&ast.AssignStmt{Start: pos(), Target: id("s"),
			Value: bin(ast.OpMul, id("i"), lit(3))})}
	a := analyzeLoop(t, nil, loop)
	assert.Empty(t, a.Reductions)
}

func TestStrengthReductionCommutes(t *testing.T) {
	loop := &ast.ForRangeStmt{Start: pos(), VarName: "i",
		From: lit(0), To: lit(100),
		Body: block(&ast.AssignStmt{Start: pos(), Target: id("s"),
			Value: bin(ast.OpMul, lit(16), id("i"))})}
	a := analyzeLoop(t, nil, loop)
	require.Len(t, a.Reductions, 1)
	assert.Equal(t, 4, a.Reductions[0].ShiftAmount)
}

func TestConstIntArithmetic(t *testing.T) {
	p := &ast.Program{Start: token.MakePos(1, 1), End: token.MakePos(1000, 1), Stmts: []ast.Stmt{
		&ast.PrintStmt{Start: pos(), Args: []ast.Expr{
			bin(ast.OpAdd, bin(ast.OpMul, lit(3), lit(4)), lit(2)),
		}},
	}}
	fset := token.NewFileSet()
	fset.AddFile("test.vtv")
	u := types.NewUnifier(types.NewArena())
	typed, err := infer.Program(context.Background(), fset, u, p)
	require.NoError(t, err)

	v, ok := optimizer.ConstInt(typed.Children[0].Child(0))
	require.True(t, ok)
	assert.Equal(t, int64(14), v)
}
