package compiler

import (
	"errors"

	"github.com/mna/vetiver/lang/ast"
	"github.com/mna/vetiver/lang/diag"
	"github.com/mna/vetiver/lang/infer"
	"github.com/mna/vetiver/lang/machine"
	"github.com/mna/vetiver/lang/optimizer"
	"github.com/mna/vetiver/lang/token"
	"github.com/mna/vetiver/lang/types"
)

// An fcomp holds the lowering state for one function chunk.
type fcomp struct {
	pcomp *pcomp
	name  string
	buf   *Buffer
	pool  *ConstantPool
	ra    *Allocator
	st    *SymbolTable
	ret   *types.Type

	// loops is the stack of enclosing loops for break/continue resolution;
	// the innermost loop wins.
	loops []*loopFrame

	// licm is the stack of active hoisted-expression replacements: when the
	// lowerer encounters an expression structurally equal to a hoisted one,
	// it references the hoisted register instead of recomputing.
	licm []licmRepl

	// reductions is the stack of active strength reductions for the loops
	// being lowered.
	reductions []*optimizer.Reduction

	// boundsSafe is the stack of loop variables whose range is proven
	// constant; indexing with them skips the runtime bounds check.
	boundsSafe []string

	// fatal is set on the first fatal lowering error; the rest of the
	// function is skipped to avoid cascading garbage.
	fatal bool

	scratch int // round-robin shuttle scratch selector
}

type loopFrame struct {
	breakLbl       *Label
	continueLbl    *Label
	continueTarget int // -1 while the target is not yet known
}

type licmRepl struct {
	expr *infer.Node
	reg  Reg
}

// ---- positions and errors ----

func (fc *fcomp) pos(n *infer.Node) token.Position {
	start, _ := n.Orig.Span()
	return fc.pcomp.fset.Position(n.Orig.FileID(), start)
}

// setPos tags subsequent emissions with the node's source location and
// advances the lifetime clock.
func (fc *fcomp) setPos(n *infer.Node) {
	start, _ := n.Orig.Span()
	fc.buf.SetPos(n.Orig.FileID(), start)
	fc.ra.Advance(fc.buf.Len())
}

func (fc *fcomp) errorf(code diag.Code, n *infer.Node, format string, args ...interface{}) {
	fc.pcomp.errorf(code, fc.pos(n), format, args...)
	fc.fatal = true
}

func (fc *fcomp) bug(n *infer.Node, format string, args ...interface{}) {
	fc.pcomp.bug(fc.pos(n), format, args...)
	fc.fatal = true
}

// patch resolves a jump patch, converting patch failures to diagnostics.
func (fc *fcomp) patch(p *JumpPatch, target int, n *infer.Node) {
	if err := fc.buf.Patch(p, target); err != nil {
		if errors.Is(err, errJumpOutOfRange) {
			fc.errorf(diag.JumpOutOfRange, n, "%s", err)
			return
		}
		fc.bug(n, "%s", err)
	}
}

func (fc *fcomp) patchHere(p *JumpPatch, n *infer.Node) {
	fc.patch(p, fc.buf.Len(), n)
}

func (fc *fcomp) bind(l *Label, n *infer.Node) {
	for _, p := range l.patches {
		fc.patchHere(p, n)
	}
	l.patches = nil
}

// ---- register helpers ----

func (fc *fcomp) allocTemp(n *infer.Node, k machine.Kind) (Reg, bool) {
	r, err := fc.ra.Alloc(PurposeTemp, k)
	if err != nil {
		fc.errorf(diag.RegisterPressureExhausted, n, "no temporary register available")
		return 0, false
	}
	return r, true
}

// nextScratch rotates through the reserved shuttle registers used to
// address operands living in extended tiers.
func (fc *fcomp) nextScratch() Reg {
	r := ScratchMin + Reg(fc.scratch%3)
	fc.scratch++
	return r
}

// readOperand returns an 8-bit addressable register holding r's value,
// shuttling through a scratch register when r lives in an extended tier.
func (fc *fcomp) readOperand(r Reg) byte {
	if r <= 255 {
		return byte(r)
	}
	s := fc.nextScratch()
	fc.buf.Emit(MOVE_EXT, byte(s>>8), byte(s), byte(r>>8), byte(r))
	return byte(s)
}

// emitMove moves src into dst, using the extended form when either side
// lives beyond the 8-bit range.
func (fc *fcomp) emitMove(dst, src Reg) {
	if dst <= 255 && src <= 255 {
		fc.buf.Emit(MOVE, byte(dst), byte(src))
		return
	}
	fc.buf.Emit(MOVE_EXT, byte(dst>>8), byte(dst), byte(src>>8), byte(src))
}

// emitLoadK loads the pooled constant v into dst with the type-specialized
// opcode, or the extended form for extended registers.
func (fc *fcomp) emitLoadK(n *infer.Node, dst Reg, v machine.Value) {
	idx, ok := fc.pool.Add(v)
	if !ok {
		fc.bug(n, "constant pool overflow")
		return
	}
	if dst <= 255 {
		fc.buf.Emit(loadOpcode(v.Kind()), byte(dst), byte(idx>>8), byte(idx))
		return
	}
	fc.buf.Emit(LOADK_EXT, byte(dst>>8), byte(dst), byte(idx>>8), byte(idx))
}

// emit3 emits a three-register instruction, shuttling extended operands.
func (fc *fcomp) emit3(op Opcode, dst, a, b Reg) {
	ra, rb := fc.readOperand(a), fc.readOperand(b)
	if dst <= 255 {
		fc.buf.Emit(op, byte(dst), ra, rb)
		return
	}
	s := ScratchMax
	fc.buf.Emit(op, byte(s), ra, rb)
	fc.emitMove(dst, s)
}

// emit2 emits a two-register instruction, shuttling extended operands.
func (fc *fcomp) emit2(op Opcode, dst, src Reg) {
	rs := fc.readOperand(src)
	if dst <= 255 {
		fc.buf.Emit(op, byte(dst), rs)
		return
	}
	s := ScratchMax
	fc.buf.Emit(op, byte(s), rs)
	fc.emitMove(dst, s)
}

func (fc *fcomp) freeIf(owned bool, r Reg) {
	if owned {
		fc.ra.Free(r)
	}
}

// ---- statements ----

func (fc *fcomp) stmt(n *infer.Node) {
	if fc.fatal {
		return
	}
	fc.setPos(n)

	switch orig := n.Orig.(type) {
	case *ast.VarDecl:
		fc.varDecl(n, orig)

	case *ast.AssignStmt:
		fc.assign(n, orig)

	case *ast.PrintStmt:
		fc.print(n, orig)

	case *ast.IfStmt:
		fc.ifStmt(n, orig)

	case *ast.WhileStmt:
		fc.whileStmt(n)

	case *ast.ForRangeStmt:
		fc.forRange(n, orig)

	case *ast.ForIterStmt:
		fc.forIter(n, orig)

	case *ast.BreakStmt:
		if len(fc.loops) == 0 {
			fc.errorf(diag.ControlFlowOutsideLoop, n, "break outside loop")
			return
		}
		p := fc.buf.EmitJump(JUMP)
		fc.loops[len(fc.loops)-1].breakLbl.Add(p)

	case *ast.ContinueStmt:
		if len(fc.loops) == 0 {
			fc.errorf(diag.ControlFlowOutsideLoop, n, "continue outside loop")
			return
		}
		lf := fc.loops[len(fc.loops)-1]
		p := fc.buf.EmitJump(JUMP)
		if lf.continueTarget >= 0 {
			fc.patch(p, lf.continueTarget, n)
		} else {
			lf.continueLbl.Add(p)
		}

	case *ast.FuncStmt:
		fc.funcDecl(n, orig)

	case *ast.ReturnStmt:
		if len(n.Children) > 0 {
			r, owned := fc.expr(n.Child(0))
			fc.buf.Emit(RETURN_R, fc.readOperand(r))
			fc.freeIf(owned, r)
			return
		}
		fc.buf.Emit(RETURN_VOID)

	case *ast.ExprStmt:
		r, owned := fc.expr(n.Child(0))
		fc.freeIf(owned, r)

	case *ast.Block:
		fc.st.BeginScope()
		for _, c := range n.Children {
			fc.stmt(c)
		}
		fc.st.EndScope()

	default:
		fc.bug(n, "unexpected statement %T", orig)
	}
}

func (fc *fcomp) varDecl(n *infer.Node, orig *ast.VarDecl) {
	k := kindOf(n.Type)

	var rhs Reg
	var owned bool
	if len(n.Children) > 0 {
		rhs, owned = fc.expr(n.Child(0))
	} else {
		var ok bool
		if rhs, ok = fc.allocTemp(n, k); !ok {
			return
		}
		owned = true
		fc.emitLoadK(n, rhs, zeroValue(k))
	}

	reg, err := fc.ra.AllocNamed(PurposeFrame, k, orig.Name)
	if err != nil {
		fc.errorf(diag.TooManyLocals, n, "too many locals declaring %s", orig.Name)
		return
	}
	fc.st.Declare(orig.Name, RegisterRef(reg), n.Type, orig.Mutable, true)
	fc.emitMove(reg, rhs)
	fc.freeIf(owned, rhs)
}

func (fc *fcomp) assign(n *infer.Node, orig *ast.AssignStmt) {
	target, value := n.Child(0), n.Child(1)

	switch t := orig.Target.(type) {
	case *ast.IdentExpr:
		sym := fc.st.Resolve(t.Name)
		if sym == nil {
			// assignment to an unknown name declares a mutable binding
			k := kindOf(target.Type)
			reg, err := fc.ra.AllocNamed(PurposeFrame, k, t.Name)
			if err != nil {
				fc.errorf(diag.TooManyLocals, n, "too many locals declaring %s", t.Name)
				return
			}
			sym = fc.st.Declare(t.Name, RegisterRef(reg), target.Type, true, true)
		}
		if sym.Ref.Kind != RefRegister {
			fc.bug(n, "assignment to non-register binding %s", t.Name)
			return
		}
		rhs, owned := fc.expr(value)
		fc.emitMove(sym.Ref.Register(), rhs)
		fc.ra.Touch(sym.Ref.Register())
		fc.freeIf(owned, rhs)

	case *ast.IndexExpr:
		arr, arrOwned := fc.expr(target.Child(0))
		idx, idxOwned := fc.expr(target.Child(1))
		val, valOwned := fc.expr(value)
		op := INDEX_SET
		if fc.indexIsBoundsSafe(target.Child(1)) {
			op = INDEX_SET_UNSAFE
			fc.pcomp.stats.BoundsChecksElided++
		}
		fc.buf.Emit(op, fc.readOperand(arr), fc.readOperand(idx), fc.readOperand(val))
		fc.freeIf(valOwned, val)
		fc.freeIf(idxOwned, idx)
		fc.freeIf(arrOwned, arr)

	default:
		fc.bug(n, "invalid assignment target %T", t)
	}
}

func (fc *fcomp) print(n *infer.Node, orig *ast.PrintStmt) {
	if len(n.Children) == 1 {
		r, owned := fc.expr(n.Child(0))
		fc.buf.Emit(PRINT_R, fc.readOperand(r))
		fc.freeIf(owned, r)
		return
	}

	// move all arguments into contiguous temporaries
	base, regs, ok := fc.contiguous(n, n.Children)
	if !ok {
		return
	}
	nl := byte(0)
	if orig.Newline {
		nl = 1
	}
	fc.buf.Emit(PRINT_MULTI_R, byte(base), byte(len(n.Children)), nl)
	for _, r := range regs {
		fc.ra.Free(r)
	}
}

// contiguous lowers the provided expressions into a fresh block of adjacent
// temporaries and returns the base register and the block for freeing.
func (fc *fcomp) contiguous(n *infer.Node, exprs []*infer.Node) (Reg, []Reg, bool) {
	srcs := make([]Reg, len(exprs))
	owned := make([]bool, len(exprs))
	for i, e := range exprs {
		srcs[i], owned[i] = fc.expr(e)
		if fc.fatal {
			return 0, nil, false
		}
	}
	base, err := fc.ra.AllocContiguous(PurposeTemp, len(exprs), machine.KindNil)
	if err != nil {
		fc.errorf(diag.RegisterPressureExhausted, n, "no contiguous registers for %d value(s)", len(exprs))
		return 0, nil, false
	}
	regs := make([]Reg, len(exprs))
	for i := range exprs {
		regs[i] = base + Reg(i)
		fc.emitMove(regs[i], srcs[i])
	}
	for i := range exprs {
		fc.freeIf(owned[i], srcs[i])
	}
	return base, regs, true
}

func (fc *fcomp) ifStmt(n *infer.Node, orig *ast.IfStmt) {
	cond, owned := fc.expr(n.Child(0))
	pElse := fc.buf.EmitJump(JUMP_IF_NOT_R, fc.readOperand(cond))
	fc.freeIf(owned, cond)

	fc.st.BeginScope()
	for _, c := range n.Child(1).Children {
		fc.stmt(c)
	}
	fc.st.EndScope()

	if orig.Else == nil {
		fc.patchHere(pElse, n)
		return
	}
	pEnd := fc.buf.EmitJump(JUMP)
	fc.patchHere(pElse, n)
	fc.st.BeginScope()
	for _, c := range n.Child(2).Children {
		fc.stmt(c)
	}
	fc.st.EndScope()
	fc.patchHere(pEnd, n)
}

func (fc *fcomp) funcDecl(n *infer.Node, orig *ast.FuncStmt) {
	fnType := n.Type
	if fnType.Kind != types.KindFunction {
		fc.bug(n, "function %s has non-function type %s", orig.Name, fnType)
		return
	}

	pc := fc.pcomp
	if pc.moduleFuncs == nil {
		pc.moduleFuncs = make(map[string]uint16)
	}
	idx := uint16(len(pc.funcs))
	pc.funcs = append(pc.funcs, nil) // reserve the slot so the body can recurse
	pc.moduleFuncs[orig.Name] = idx
	fc.st.Declare(orig.Name, LocalRef(idx), fnType, false, false)

	pc.funcs[idx] = pc.function(orig.Name, n.Child(0), orig.Params, fnType.Params, fnType.Ret)
}

// ---- expressions ----

// expr lowers an expression and returns the register holding its value; the
// owned result tells the caller whether it must free the register when done.
// Variables return their resident register without emission.
func (fc *fcomp) expr(n *infer.Node) (Reg, bool) {
	if fc.fatal {
		return 0, false
	}
	fc.setPos(n)

	// a hoisted loop-invariant expression lowers to its pinned register
	for i := len(fc.licm) - 1; i >= 0; i-- {
		if optimizer.SameExpr(fc.licm[i].expr, n) {
			fc.ra.Touch(fc.licm[i].reg)
			return fc.licm[i].reg, false
		}
	}

	switch orig := n.Orig.(type) {
	case *ast.LiteralExpr:
		k := kindOf(n.Type)
		r, ok := fc.allocTemp(n, k)
		if !ok {
			return 0, false
		}
		fc.emitLoadK(n, r, convertValue(orig.Value, k))
		return r, true

	case *ast.IdentExpr:
		return fc.ident(n, orig)

	case *ast.BinaryExpr:
		return fc.binary(n, orig)

	case *ast.UnaryExpr:
		return fc.unary(n, orig)

	case *ast.TernaryExpr:
		return fc.ternary(n)

	case *ast.CastExpr:
		return fc.cast(n)

	case *ast.CallExpr:
		return fc.call(n)

	case *ast.ArrayLitExpr:
		base, regs, ok := fc.contiguous(n, n.Children)
		if !ok {
			return 0, false
		}
		dst, ok := fc.allocTemp(n, machine.KindArray)
		if !ok {
			return 0, false
		}
		fc.buf.Emit(MAKE_ARRAY, fc.readOperand(dst), byte(base), byte(len(n.Children)))
		for _, r := range regs {
			fc.ra.Free(r)
		}
		return dst, true

	case *ast.IndexExpr:
		arr, arrOwned := fc.expr(n.Child(0))
		idx, idxOwned := fc.expr(n.Child(1))
		op := INDEX_GET
		if fc.indexIsBoundsSafe(n.Child(1)) {
			op = INDEX_GET_UNSAFE
			fc.pcomp.stats.BoundsChecksElided++
		}
		dst, ok := fc.allocTemp(n, kindOf(n.Type))
		if !ok {
			return 0, false
		}
		fc.emit3(op, dst, arr, idx)
		fc.freeIf(idxOwned, idx)
		fc.freeIf(arrOwned, arr)
		return dst, true

	default:
		fc.bug(n, "unexpected expression %T", orig)
		return 0, false
	}
}

func (fc *fcomp) ident(n *infer.Node, orig *ast.IdentExpr) (Reg, bool) {
	if sym := fc.st.Resolve(orig.Name); sym != nil {
		switch sym.Ref.Kind {
		case RefRegister:
			r := sym.Ref.Register()
			fc.ra.Touch(r)
			return r, false
		case RefLocal:
			return fc.loadFunc(n, sym.Ref.Index)
		}
	}
	// nested functions see module-level functions through the unit table
	if idx, ok := fc.pcomp.moduleFuncs[orig.Name]; ok {
		return fc.loadFunc(n, idx)
	}
	fc.bug(n, "unresolved identifier %s", orig.Name)
	return 0, false
}

func (fc *fcomp) loadFunc(n *infer.Node, idx uint16) (Reg, bool) {
	r, ok := fc.allocTemp(n, machine.KindFunction)
	if !ok {
		return 0, false
	}
	fc.emitLoadK(n, r, machine.FuncRef(uint32(idx)))
	return r, true
}

func (fc *fcomp) binary(n *infer.Node, orig *ast.BinaryExpr) (Reg, bool) {
	// apply a marked strength reduction when lowering its multiply
	if red := fc.activeReduction(n); red != nil {
		ind, indOwned := fc.expr(red.InductionVar)
		k := kindOf(n.Type)
		dst, ok := fc.allocTemp(n, k)
		if !ok {
			return 0, false
		}
		op := SHL_I32_IMM
		if k == machine.KindI64 || k == machine.KindU64 {
			op = SHL_I64_IMM
		}
		fc.buf.Emit(op, fc.readOperand(dst), fc.readOperand(ind), byte(red.ShiftAmount))
		fc.freeIf(indOwned, ind)
		red.IsApplied = true
		fc.pcomp.stats.ReductionsApplied++
		return dst, true
	}

	left, leftOwned := fc.expr(n.Child(0))
	right, rightOwned := fc.expr(n.Child(1))

	var op Opcode
	switch {
	case orig.Op.IsArithmetic():
		k := kindOf(n.Child(0).Type)
		var ok bool
		if op, ok = arithOpcode(orig.Op, k); !ok {
			fc.errorf(diag.UnsupportedOperation, n, "operator %s not supported for %s", orig.Op, k)
			return 0, false
		}
	case orig.Op.IsComparison():
		op = compareOpcode(orig.Op)
	case orig.Op == ast.OpAnd:
		op = AND_BOOL
	case orig.Op == ast.OpOr:
		op = OR_BOOL
	default:
		fc.bug(n, "unexpected binary operator %s", orig.Op)
		return 0, false
	}

	dst, ok := fc.allocTemp(n, kindOf(n.Type))
	if !ok {
		return 0, false
	}
	fc.emit3(op, dst, left, right)
	fc.freeIf(rightOwned, right)
	fc.freeIf(leftOwned, left)
	return dst, true
}

func (fc *fcomp) activeReduction(n *infer.Node) *optimizer.Reduction {
	for _, red := range fc.reductions {
		if red.Expr == n && red.CanOptimize {
			return red
		}
	}
	return nil
}

func (fc *fcomp) unary(n *infer.Node, orig *ast.UnaryExpr) (Reg, bool) {
	src, owned := fc.expr(n.Child(0))
	switch orig.Op {
	case ast.OpPos:
		return src, owned

	case ast.OpNeg:
		k := kindOf(n.Type)
		op, ok := negOpcode(k)
		if !ok {
			fc.errorf(diag.UnsupportedOperation, n, "operator - not supported for %s", k)
			return 0, false
		}
		dst, okr := fc.allocTemp(n, k)
		if !okr {
			return 0, false
		}
		fc.emit2(op, dst, src)
		fc.freeIf(owned, src)
		return dst, true

	case ast.OpNot:
		dst, ok := fc.allocTemp(n, machine.KindBool)
		if !ok {
			return 0, false
		}
		fc.emit2(NOT_BOOL, dst, src)
		fc.freeIf(owned, src)
		return dst, true
	}
	fc.bug(n, "unexpected unary operator %s", orig.Op)
	return 0, false
}

func (fc *fcomp) ternary(n *infer.Node) (Reg, bool) {
	dst, ok := fc.allocTemp(n, kindOf(n.Type))
	if !ok {
		return 0, false
	}

	cond, condOwned := fc.expr(n.Child(0))
	pElse := fc.buf.EmitJump(JUMP_IF_NOT_R, fc.readOperand(cond))
	fc.freeIf(condOwned, cond)

	thenR, thenOwned := fc.expr(n.Child(1))
	fc.emitMove(dst, thenR)
	fc.freeIf(thenOwned, thenR)
	pEnd := fc.buf.EmitJump(JUMP)

	fc.patchHere(pElse, n)
	elseR, elseOwned := fc.expr(n.Child(2))
	fc.emitMove(dst, elseR)
	fc.freeIf(elseOwned, elseR)
	fc.patchHere(pEnd, n)
	return dst, true
}

func (fc *fcomp) cast(n *infer.Node) (Reg, bool) {
	src, owned := fc.expr(n.Child(0))
	from, to := kindOf(n.Child(0).Type), kindOf(n.Type)
	if from == to {
		return src, owned
	}
	dst, ok := fc.allocTemp(n, to)
	if !ok {
		return 0, false
	}
	fc.buf.Emit(CONVERT, fc.readOperand(dst), fc.readOperand(src), convTag(from, to))
	fc.freeIf(owned, src)
	return dst, true
}

func (fc *fcomp) call(n *infer.Node) (Reg, bool) {
	callee, calleeOwned := fc.expr(n.Child(0))

	args := n.Children[1:]
	base, regs, ok := fc.contiguous(n, args)
	if !ok {
		return 0, false
	}

	result, ok := fc.allocTemp(n, kindOf(n.Type))
	if !ok {
		return 0, false
	}
	fc.buf.Emit(CALL, fc.readOperand(callee), byte(base), byte(len(args)), fc.readOperand(result))
	for _, r := range regs {
		fc.ra.Free(r)
	}
	fc.freeIf(calleeOwned, callee)
	return result, true
}

// indexIsBoundsSafe reports whether the index expression is a loop variable
// with a proven constant range.
func (fc *fcomp) indexIsBoundsSafe(idx *infer.Node) bool {
	id, ok := idx.Orig.(*ast.IdentExpr)
	if !ok {
		return false
	}
	for _, name := range fc.boundsSafe {
		if name == id.Name {
			return true
		}
	}
	return false
}
