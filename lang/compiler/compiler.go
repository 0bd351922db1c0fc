package compiler

import (
	"context"
	"fmt"

	"github.com/mna/vetiver/internal/debuglog"
	"github.com/mna/vetiver/lang/ast"
	"github.com/mna/vetiver/lang/diag"
	"github.com/mna/vetiver/lang/infer"
	"github.com/mna/vetiver/lang/machine"
	"github.com/mna/vetiver/lang/optimizer"
	"github.com/mna/vetiver/lang/token"
	"github.com/mna/vetiver/lang/types"
)

// Options configures the optimizations applied during lowering. The flags
// only affect which optimizations run; disabling them never changes program
// behavior, only the shape of the emitted bytecode.
type Options struct {
	Unroll            bool
	LICM              bool
	StrengthReduction bool
	BoundsElimination bool
	Peephole          bool
}

// DefaultOptions enables every optimization.
func DefaultOptions() Options {
	return Options{
		Unroll:            true,
		LICM:              true,
		StrengthReduction: true,
		BoundsElimination: true,
		Peephole:          true,
	}
}

// Result is the outcome of compiling one unit: the top-level chunk with the
// unit's function table, and the optimizer statistics.
type Result struct {
	Chunk *machine.Chunk
	Stats optimizer.Stats
}

// Compile runs the full backend pipeline on the unit: type inference,
// loop analysis and optimization, code generation and the peephole pass.
// A unit either produces a complete executable chunk or zero bytecode plus
// at least one diagnostic; partial chunks are never returned.
//
// The returned error, if non-nil, is guaranteed to be a diag.List.
func Compile(ctx context.Context, fset *token.FileSet, prog *ast.Program, opts Options) (*Result, error) {
	arena := types.NewArena()
	defer arena.Reset()

	unifier := types.NewUnifier(arena)
	typed, err := infer.Program(ctx, fset, unifier, prog)
	if err != nil {
		return nil, err
	}

	pc := &pcomp{
		fset: fset,
		opts: opts,
	}
	top := pc.function("<main>", typed, nil, nil, types.Void)
	if err := pc.errors.Err(); err != nil {
		pc.errors.Sort()
		return nil, pc.errors
	}
	top.Functions = pc.funcs
	debuglog.Logf(debuglog.Codegen, "compiled %s: %d function(s), %d byte(s) top-level",
		top.Name, len(pc.funcs), len(top.Code))
	return &Result{Chunk: top, Stats: pc.stats}, nil
}

// A pcomp holds the compiler state for one unit.
type pcomp struct {
	fset   *token.FileSet
	opts   Options
	errors diag.List
	stats  optimizer.Stats

	// funcs is the unit's function table, appended to as function
	// declarations are lowered.
	funcs []*machine.Chunk

	// moduleFuncs maps function names to their table index for the
	// module-level symbol bindings of nested compilations.
	moduleFuncs map[string]uint16
}

// function compiles one function body (or the top-level program) into a
// chunk. params carry the parameter names; paramTypes their resolved types,
// bound to registers 0..len-1.
func (pc *pcomp) function(name string, body *infer.Node, params []ast.Param, paramTypes []*types.Type, ret *types.Type) *machine.Chunk {
	fc := &fcomp{
		pcomp: pc,
		name:  name,
		buf:   NewBuffer(),
		pool:  NewConstantPool(),
		ra:    NewAllocator(),
		ret:   ret,
	}
	fc.st = NewSymbolTable(fc.ra)

	fc.ra.ReserveParams(len(params))
	for i, p := range params {
		fc.st.Declare(p.Name, RegisterRef(Reg(i)), paramTypes[i], true, false)
	}

	topLevel := name == "<main>"
	for _, s := range body.Children {
		if fc.fatal {
			break
		}
		fc.stmt(s)
	}

	if !fc.fatal {
		switch {
		case topLevel:
			fc.buf.Emit(HALT)
		case ret == types.Void || ret.IsPrimitive(types.PrimVoid):
			// implicit return for void functions
			fc.buf.Emit(RETURN_VOID)
		default:
			// a well-typed non-void function ends every path with a return;
			// emit a trailing void return as the VM-level backstop.
			fc.buf.Emit(RETURN_VOID)
		}
	}

	if err := fc.buf.Finalize(); err != nil {
		pc.errors.Add(diag.CompilerBug, token.Position{}, "%s: %s", name, err)
	}

	chunk := &machine.Chunk{
		Name:       name,
		Code:       fc.buf.Code(),
		Constants:  fc.pool.Values(),
		NumParams:  len(params),
		FrameSize:  fc.ra.FrameSize(),
		SpillSlots: fc.ra.SpillSlots(),
	}
	chunk.Lines, chunk.Cols, chunk.Files = fc.buf.Maps()

	if pc.opts.Peephole && !fc.fatal {
		Peephole(chunk)
	}
	return chunk
}

func (pc *pcomp) errorf(code diag.Code, pos token.Position, format string, args ...interface{}) {
	pc.errors.Add(code, pos, format, args...)
}

// bug reports an internal invariant violation as a CompilerBug diagnostic.
func (pc *pcomp) bug(pos token.Position, format string, args ...interface{}) {
	pc.errors.Add(diag.CompilerBug, pos, "internal error: %s", fmt.Sprintf(format, args...))
}
