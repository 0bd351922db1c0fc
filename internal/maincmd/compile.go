package maincmd

import (
	"context"
	"fmt"

	"github.com/mna/mainer"

	"github.com/mna/vetiver/internal/config"
	"github.com/mna/vetiver/lang/ast"
	"github.com/mna/vetiver/lang/compiler"
	"github.com/mna/vetiver/lang/machine"
	"github.com/mna/vetiver/lang/token"
)

// Selfcheck compiles a built-in sample program through the full pipeline
// and prints the resulting disassembly; it exercises inference, the loop
// optimizations and the peephole pass.
func (c *Cmd) Selfcheck(ctx context.Context, stdio mainer.Stdio, args []string) error {
	if len(args) != 0 {
		err := fmt.Errorf("selfcheck: unexpected argument(s): %v", args)
		fmt.Fprintln(stdio.Stderr, err)
		return err
	}
	fset := token.NewFileSet()
	file := fset.AddFile("<selfcheck>")
	return CompileProgram(ctx, stdio, fset, sampleProgram(file))
}

// CompileProgram runs the backend pipeline on the program, honoring the
// environment configuration for dumps, statistics and optimization
// toggles. Diagnostics print to stderr, dumps to stdout.
func CompileProgram(ctx context.Context, stdio mainer.Stdio, fset *token.FileSet, prog *ast.Program) error {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(stdio.Stderr, err)
		return err
	}

	if cfg.DumpAST {
		fmt.Fprint(stdio.Stdout, ast.Print(prog))
	}

	res, err := compiler.Compile(ctx, fset, prog, cfg.CompilerOptions())
	if err != nil {
		fmt.Fprintln(stdio.Stderr, err)
		return err
	}

	if cfg.DumpBytecode || (!cfg.DumpAST && !cfg.Stats) {
		fmt.Fprint(stdio.Stdout, compiler.Disassemble(res.Chunk))
	}
	if cfg.Stats {
		fmt.Fprint(stdio.Stdout, res.Stats.String())
	}
	return nil
}

// sampleProgram builds the selfcheck unit:
//
//	let k = 10
//	mut s = 0
//	for i in 0..4 {
//	    s = s + (k * k + 7)
//	    print(s)
//	}
//	print(s * 2)
func sampleProgram(file token.FileID) *ast.Program {
	pos := func(line, col int) token.Pos { return token.MakePos(line, col) }
	ident := func(line, col int, name string) *ast.IdentExpr {
		return &ast.IdentExpr{File: file, Start: pos(line, col), Name: name}
	}
	lit := func(line, col int, v int32) *ast.LiteralExpr {
		return &ast.LiteralExpr{File: file, Start: pos(line, col), Value: machine.I32(v)}
	}

	kk := &ast.BinaryExpr{File: file, OpPos: pos(4, 15), Op: ast.OpMul,
		Left: ident(4, 13, "k"), Right: ident(4, 17, "k")}
	inv := &ast.BinaryExpr{File: file, OpPos: pos(4, 19), Op: ast.OpAdd,
		Left: kk, Right: lit(4, 21, 7)}
	sum := &ast.BinaryExpr{File: file, OpPos: pos(4, 11), Op: ast.OpAdd,
		Left: ident(4, 9, "s"), Right: inv}

	return &ast.Program{
		File:  file,
		Start: pos(1, 1),
		End:   pos(7, 1),
		Stmts: []ast.Stmt{
			&ast.VarDecl{File: file, Start: pos(1, 1), Name: "k", Init: lit(1, 9, 10)},
			&ast.VarDecl{File: file, Start: pos(2, 1), Name: "s", Mutable: true, Init: lit(2, 9, 0)},
			&ast.ForRangeStmt{
				File: file, Start: pos(3, 1), VarName: "i",
				From: lit(3, 10, 0), To: lit(3, 13, 4),
				Body: &ast.Block{File: file, Start: pos(3, 15), End: pos(6, 1), Stmts: []ast.Stmt{
					&ast.AssignStmt{File: file, Start: pos(4, 5),
						Target: ident(4, 5, "s"), Value: sum},
					&ast.PrintStmt{File: file, Start: pos(5, 5), Newline: true,
						Args: []ast.Expr{ident(5, 11, "s")}},
				}},
			},
			&ast.PrintStmt{File: file, Start: pos(7, 1), Newline: true,
				Args: []ast.Expr{&ast.BinaryExpr{File: file, OpPos: pos(7, 9), Op: ast.OpMul,
					Left: ident(7, 7, "s"), Right: lit(7, 11, 2)}}},
		},
	}
}
