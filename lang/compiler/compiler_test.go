package compiler_test

import (
	"context"
	"testing"

	"github.com/kylelemons/godebug/diff"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mna/vetiver/lang/ast"
	"github.com/mna/vetiver/lang/compiler"
	"github.com/mna/vetiver/lang/diag"
	"github.com/mna/vetiver/lang/machine"
	"github.com/mna/vetiver/lang/token"
)

var nextLine int

func pos() token.Pos {
	nextLine++
	return token.MakePos(nextLine, 1)
}

func lit(v int32) *ast.LiteralExpr {
	return &ast.LiteralExpr{Start: pos(), Value: machine.I32(v)}
}

func litB(v bool) *ast.LiteralExpr {
	return &ast.LiteralExpr{Start: pos(), Value: machine.Bool(v)}
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

func prog(stmts ...ast.Stmt) *ast.Program {
	return &ast.Program{Start: token.MakePos(1, 1), End: token.MakePos(1000, 1), Stmts: stmts}
}

func annot(name string) *ast.TypeAnnotation {
	return &ast.TypeAnnotation{Start: pos(), Name: name}
}

func compile(t *testing.T, p *ast.Program) *compiler.Result {
	t.Helper()
	res, err := compileOpts(t, p, compiler.DefaultOptions())
	require.NoError(t, err)
	return res
}

func compileOpts(t *testing.T, p *ast.Program, opts compiler.Options) (*compiler.Result, error) {
	t.Helper()
	fset := token.NewFileSet()
	fset.AddFile("test.vtv")
	return compiler.Compile(context.Background(), fset, p, opts)
}

// assertMaps checks that the line/column/file maps stay parallel to the
// code of the chunk and its functions.
func assertMaps(t *testing.T, ch *machine.Chunk) {
	t.Helper()
	assert.Len(t, ch.Lines, len(ch.Code))
	assert.Len(t, ch.Cols, len(ch.Code))
	assert.Len(t, ch.Files, len(ch.Code))
	for _, fn := range ch.Functions {
		assertMaps(t, fn)
	}
}

func findAll(ch *machine.Chunk, op compiler.Opcode) []compiler.Instr {
	var found []compiler.Instr
	for _, in := range compiler.Decode(ch) {
		if in.Op == op {
			found = append(found, in)
		}
	}
	return found
}

// loadedValues returns the pooled values of every 8-bit constant load, in
// stream order.
func loadedValues(ch *machine.Chunk) []machine.Value {
	var vals []machine.Value
	for _, in := range compiler.Decode(ch) {
		switch in.Op {
		case compiler.LOADK_I32, compiler.LOADK_I64, compiler.LOADK_U32, compiler.LOADK_U64,
			compiler.LOADK_F64, compiler.LOADK_BOOL, compiler.LOADK_STR, compiler.LOADK_FUNC:
			idx := int(in.Operands[1])<<8 | int(in.Operands[2])
			vals = append(vals, ch.Constants[idx])
		}
	}
	return vals
}

// ---- end-to-end scenarios ----

func TestConstantFoldedUnroll(t *testing.T) {
	// for i in 0..4 { print(i * 2) }
	res := compile(t, prog(
		&ast.ForRangeStmt{Start: pos(), VarName: "i",
			From: lit(0), To: lit(4),
			Body: block(&ast.PrintStmt{Start: pos(), Newline: true,
				Args: []ast.Expr{bin(ast.OpMul, id("i"), lit(2))}})},
	))
	ch := res.Chunk

	// four LoadConst+Print pairs for 0, 2, 4, 6; no loop header, no
	// back-edge, then HALT
	assert.Equal(t, []compiler.Opcode{
		compiler.LOADK_I32, compiler.PRINT_R,
		compiler.LOADK_I32, compiler.PRINT_R,
		compiler.LOADK_I32, compiler.PRINT_R,
		compiler.LOADK_I32, compiler.PRINT_R,
		compiler.HALT,
	}, compiler.Opcodes(ch), "disassembly:\n%s", compiler.Disassemble(ch))

	vals := loadedValues(ch)
	require.Len(t, vals, 4)
	for i, want := range []int32{0, 2, 4, 6} {
		assert.Equal(t, machine.I32(want), vals[i])
	}
	assert.Equal(t, 1, res.Stats.LoopsUnrolled)
	assertMaps(t, ch)
}

func TestLICMHoist(t *testing.T) {
	// let k = 10; mut s = 0; for i in 0..100 { s = s + (k*k + 7) }
	res := compile(t, prog(
		&ast.VarDecl{Start: pos(), Name: "k", Init: lit(10)},
		&ast.VarDecl{Start: pos(), Name: "s", Mutable: true, Init: lit(0)},
		&ast.ForRangeStmt{Start: pos(), VarName: "i",
			From: lit(0), To: lit(100),
			Body: block(&ast.AssignStmt{Start: pos(), Target: id("s"),
				Value: bin(ast.OpAdd, id("s"),
					bin(ast.OpAdd, bin(ast.OpMul, id("k"), id("k")), lit(7)))})},
	))
	ch := res.Chunk

	// k*k happens exactly once, before the loop header
	muls := findAll(ch, compiler.MUL_I32)
	require.Len(t, muls, 1)
	header := findAll(ch, compiler.LT_I32)
	require.Len(t, header, 1)
	assert.Less(t, muls[0].Off, header[0].Off)

	// the loop body adds the hoisted register into s in place
	adds := findAll(ch, compiler.ADD_I32)
	require.Len(t, adds, 2)
	hoist, body := adds[0], adds[1]
	assert.Equal(t, body.Operands[0], body.Operands[1], "body add is s = s + r_inv")
	assert.Equal(t, hoist.Operands[0], body.Operands[2], "body reads the hoisted register")
	assert.Greater(t, header[0].Off, hoist.Off)
	assert.Greater(t, body.Off, header[0].Off)

	// exactly one LoadConst of 7 in the whole stream
	sevens := 0
	for _, v := range loadedValues(ch) {
		if v == machine.I32(7) {
			sevens++
		}
	}
	assert.Equal(t, 1, sevens)

	assert.Equal(t, 1, res.Stats.InvariantsHoisted)
	require.Len(t, findAll(ch, compiler.LOOP), 1)
	assertMaps(t, ch)
}

func TestUnboundVariableProducesNoBytecode(t *testing.T) {
	undef := id("undef")
	_, err := compileOpts(t, prog(
		&ast.PrintStmt{Start: pos(), Args: []ast.Expr{undef}},
	), compiler.DefaultOptions())

	require.Error(t, err)
	list, ok := err.(diag.List)
	require.True(t, ok)
	require.Len(t, list, 1)
	assert.Equal(t, diag.UnboundVariable, list[0].Code)
	l, _ := undef.Start.LineCol()
	assert.Equal(t, l, list[0].Pos.Line)
}

func TestTypeMismatchProducesNoBytecode(t *testing.T) {
	plus := bin(ast.OpAdd, id("x"), id("y"))
	_, err := compileOpts(t, prog(
		&ast.VarDecl{Start: pos(), Name: "x", Type: annot("i32"), Init: lit(1)},
		&ast.VarDecl{Start: pos(), Name: "y", Type: annot("f64"),
			Init: &ast.LiteralExpr{Start: pos(), Value: machine.F64(2)}},
		&ast.PrintStmt{Start: pos(), Args: []ast.Expr{plus}},
	), compiler.DefaultOptions())

	require.Error(t, err)
	list, ok := err.(diag.List)
	require.True(t, ok)
	require.Len(t, list, 1)
	assert.Equal(t, diag.TypeMismatch, list[0].Code)
	l, _ := plus.OpPos.LineCol()
	assert.Equal(t, l, list[0].Pos.Line, "diagnostic points at the operator")
}

func TestBreakPatching(t *testing.T) {
	// mut i = 0; while i < 10 { if i == 5 { break }; i = i + 1 }
	res := compile(t, prog(
		&ast.VarDecl{Start: pos(), Name: "i", Mutable: true, Init: lit(0)},
		&ast.WhileStmt{Start: pos(),
			Cond: bin(ast.OpLt, id("i"), lit(10)),
			Body: block(
				&ast.IfStmt{Start: pos(),
					Cond: bin(ast.OpEq, id("i"), lit(5)),
					Then: block(&ast.BreakStmt{Start: pos()})},
				&ast.AssignStmt{Start: pos(), Target: id("i"),
					Value: bin(ast.OpAdd, id("i"), lit(1))},
			)},
	))
	ch := res.Chunk

	loops := findAll(ch, compiler.LOOP)
	require.Len(t, loops, 1)
	exit := loops[0].Off + 3

	breaks := findAll(ch, compiler.JUMP)
	require.Len(t, breaks, 1, "one unconditional jump for the break")
	tgt, ok := breaks[0].Target()
	require.True(t, ok)
	assert.Equal(t, exit, tgt, "break lands immediately after the backward LOOP")

	conds := findAll(ch, compiler.JUMP_IF_NOT_R)
	require.NotEmpty(t, conds)
	tgt, ok = conds[0].Target()
	require.True(t, ok)
	assert.Equal(t, exit, tgt, "the while condition exits to the same offset")

	// the back-edge targets the loop header (the condition evaluation)
	htgt, ok := loops[0].Target()
	require.True(t, ok)
	assert.Less(t, htgt, conds[0].Off)
	assertMaps(t, ch)
}

func TestBreakOutsideLoop(t *testing.T) {
	_, err := compileOpts(t, prog(&ast.BreakStmt{Start: pos()}), compiler.DefaultOptions())
	require.Error(t, err)
	list, ok := err.(diag.List)
	require.True(t, ok)
	assert.Equal(t, diag.ControlFlowOutsideLoop, list[0].Code)
}

// ---- optimizer behavior ----

func TestBreakPreventsUnrolling(t *testing.T) {
	res := compile(t, prog(
		&ast.ForRangeStmt{Start: pos(), VarName: "i",
			From: lit(0), To: lit(4),
			Body: block(&ast.IfStmt{Start: pos(),
				Cond: bin(ast.OpEq, id("i"), lit(2)),
				Then: block(&ast.BreakStmt{Start: pos()})})},
	))
	assert.NotEmpty(t, findAll(res.Chunk, compiler.LOOP), "loop with break stays a loop")
	assert.Zero(t, res.Stats.LoopsUnrolled)
}

func TestLargeConstantRangeNotUnrolled(t *testing.T) {
	res := compile(t, prog(
		&ast.ForRangeStmt{Start: pos(), VarName: "i",
			From: lit(0), To: lit(20),
			Body: block(&ast.PrintStmt{Start: pos(), Args: []ast.Expr{id("i")}})},
	))
	assert.NotEmpty(t, findAll(res.Chunk, compiler.LOOP))
	assert.Zero(t, res.Stats.LoopsUnrolled)
}

func TestStrengthReductionLowersToShift(t *testing.T) {
	// mut s = 0; for i in 0..100 { s = i * 8 }
	res := compile(t, prog(
		&ast.VarDecl{Start: pos(), Name: "s", Mutable: true, Init: lit(0)},
		&ast.ForRangeStmt{Start: pos(), VarName: "i",
			From: lit(0), To: lit(100),
			Body: block(&ast.AssignStmt{Start: pos(), Target: id("s"),
				Value: bin(ast.OpMul, id("i"), lit(8))})},
	))
	ch := res.Chunk

	shifts := findAll(ch, compiler.SHL_I32_IMM)
	require.Len(t, shifts, 1)
	assert.Equal(t, byte(3), shifts[0].Operands[2])
	assert.Empty(t, findAll(ch, compiler.MUL_I32), "the multiply was replaced")
	assert.Equal(t, 1, res.Stats.ReductionsApplied)
}

func TestBoundsCheckElimination(t *testing.T) {
	// let a = [1,2,3]; mut s = 0; for i in 0..100 { s = s + a[i] }
	res := compile(t, prog(
		&ast.VarDecl{Start: pos(), Name: "a",
			Init: &ast.ArrayLitExpr{Start: pos(), End: pos(),
				Elems: []ast.Expr{lit(1), lit(2), lit(3)}}},
		&ast.VarDecl{Start: pos(), Name: "s", Mutable: true, Init: lit(0)},
		&ast.ForRangeStmt{Start: pos(), VarName: "i",
			From: lit(0), To: lit(100),
			Body: block(&ast.AssignStmt{Start: pos(), Target: id("s"),
				Value: bin(ast.OpAdd, id("s"),
					&ast.IndexExpr{Prefix: id("a"), Index: id("i"), End: pos()})})},
	))
	ch := res.Chunk

	assert.NotEmpty(t, findAll(ch, compiler.INDEX_GET_UNSAFE))
	assert.Empty(t, findAll(ch, compiler.INDEX_GET))
	assert.Positive(t, res.Stats.BoundsChecksElided)
}

func TestOptimizationsCanBeDisabled(t *testing.T) {
	p := prog(
		&ast.ForRangeStmt{Start: pos(), VarName: "i",
			From: lit(0), To: lit(4),
			Body: block(&ast.PrintStmt{Start: pos(), Args: []ast.Expr{id("i")}})},
	)
	res, err := compileOpts(t, p, compiler.Options{})
	require.NoError(t, err)
	assert.NotEmpty(t, findAll(res.Chunk, compiler.LOOP), "unrolling disabled keeps the loop")
	assert.Zero(t, res.Stats.LoopsUnrolled)
}

// ---- codegen surface ----

func TestFunctionDeclarationAndCall(t *testing.T) {
	res := compile(t, prog(
		&ast.FuncStmt{Start: pos(), Name: "add",
			Params: []ast.Param{
				{Name: "a", Start: pos(), Type: annot("i32")},
				{Name: "b", Start: pos(), Type: annot("i32")},
			},
			Ret:  annot("i32"),
			Body: block(&ast.ReturnStmt{Start: pos(), Value: bin(ast.OpAdd, id("a"), id("b"))})},
		&ast.PrintStmt{Start: pos(), Args: []ast.Expr{
			&ast.CallExpr{Fn: id("add"), Args: []ast.Expr{lit(2), lit(3)}, End: pos()},
		}},
	))
	ch := res.Chunk

	require.Len(t, ch.Functions, 1)
	fn := ch.Functions[0]
	assert.Equal(t, "add", fn.Name)
	assert.Equal(t, 2, fn.NumParams)

	// parameters live in registers 0 and 1
	adds := findAll(fn, compiler.ADD_I32)
	require.Len(t, adds, 1)
	assert.Equal(t, []byte{0, 1}, []byte{adds[0].Operands[1], adds[0].Operands[2]})
	require.Len(t, findAll(fn, compiler.RETURN_R), 1)

	calls := findAll(ch, compiler.CALL)
	require.Len(t, calls, 1)
	assert.Equal(t, byte(2), calls[0].Operands[2], "argc")
	funcLoads := findAll(ch, compiler.LOADK_FUNC)
	require.Len(t, funcLoads, 1)
	assertMaps(t, ch)
}

func TestForIterLoweredAsIndexLoop(t *testing.T) {
	res := compile(t, prog(
		&ast.VarDecl{Start: pos(), Name: "a",
			Init: &ast.ArrayLitExpr{Start: pos(), End: pos(),
				Elems: []ast.Expr{lit(1), lit(2), lit(3)}}},
		&ast.ForIterStmt{Start: pos(), VarName: "x", Iter: id("a"),
			Body: block(&ast.PrintStmt{Start: pos(), Args: []ast.Expr{id("x")}})},
	))
	ch := res.Chunk

	assert.NotEmpty(t, findAll(ch, compiler.MAKE_ARRAY))
	assert.NotEmpty(t, findAll(ch, compiler.ARRAY_LEN))
	assert.NotEmpty(t, findAll(ch, compiler.INDEX_GET_UNSAFE))
	assert.NotEmpty(t, findAll(ch, compiler.LOOP))
	assertMaps(t, ch)
}

func TestPrintMulti(t *testing.T) {
	res := compile(t, prog(
		&ast.PrintStmt{Start: pos(), Newline: true, Args: []ast.Expr{lit(1), lit(2)}},
	))
	prints := findAll(res.Chunk, compiler.PRINT_MULTI_R)
	require.Len(t, prints, 1)
	assert.Equal(t, byte(2), prints[0].Operands[1])
	assert.Equal(t, byte(1), prints[0].Operands[2])
}

func TestCastEmitsConvert(t *testing.T) {
	res := compile(t, prog(
		&ast.VarDecl{Start: pos(), Name: "x", Init: lit(1)},
		&ast.PrintStmt{Start: pos(), Args: []ast.Expr{
			&ast.CastExpr{Start: pos(), Expr: id("x"), Type: annot("f64")},
		}},
	))
	convs := findAll(res.Chunk, compiler.CONVERT)
	require.Len(t, convs, 1)
	srcKind := machine.Kind(convs[0].Operands[2] >> 4)
	dstKind := machine.Kind(convs[0].Operands[2] & 0x0f)
	assert.Equal(t, machine.KindI32, srcKind)
	assert.Equal(t, machine.KindF64, dstKind)
}

func TestTernary(t *testing.T) {
	res := compile(t, prog(
		&ast.VarDecl{Start: pos(), Name: "b", Init: litB(true)},
		&ast.PrintStmt{Start: pos(), Args: []ast.Expr{
			&ast.TernaryExpr{Cond: id("b"), Then: lit(1), Else: lit(2)},
		}},
	))
	assert.NotEmpty(t, findAll(res.Chunk, compiler.JUMP_IF_NOT_R))
	assertMaps(t, res.Chunk)
}

// ---- determinism and idempotence ----

func TestCompileIsDeterministic(t *testing.T) {
	build := func() *ast.Program {
		saved := nextLine
		defer func() { nextLine = saved }()
		return prog(
			&ast.VarDecl{Start: pos(), Name: "k", Init: lit(10)},
			&ast.VarDecl{Start: pos(), Name: "s", Mutable: true, Init: lit(0)},
			&ast.ForRangeStmt{Start: pos(), VarName: "i",
				From: lit(0), To: lit(100),
				Body: block(&ast.AssignStmt{Start: pos(), Target: id("s"),
					Value: bin(ast.OpAdd, id("s"),
						bin(ast.OpAdd, bin(ast.OpMul, id("k"), id("k")), lit(7)))})},
		)
	}

	r1 := compile(t, build())
	r2 := compile(t, build())
	d1, d2 := compiler.Disassemble(r1.Chunk), compiler.Disassemble(r2.Chunk)
	require.Equal(t, r1.Chunk.Code, r2.Chunk.Code, "diff:\n%s", diff.Diff(d1, d2))
}

func TestPeepholeIdempotentOnCompiledChunk(t *testing.T) {
	res := compile(t, prog(
		&ast.VarDecl{Start: pos(), Name: "x", Mutable: true, Init: lit(1)},
		&ast.AssignStmt{Start: pos(), Target: id("x"),
			Value: bin(ast.OpAdd, id("x"), lit(1))},
		&ast.PrintStmt{Start: pos(), Args: []ast.Expr{id("x")}},
	))
	once := append([]byte(nil), res.Chunk.Code...)
	compiler.Peephole(res.Chunk)
	assert.Equal(t, once, res.Chunk.Code)
	assertMaps(t, res.Chunk)
}
