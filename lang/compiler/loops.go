package compiler

import (
	"github.com/mna/vetiver/internal/debuglog"
	"github.com/mna/vetiver/lang/ast"
	"github.com/mna/vetiver/lang/diag"
	"github.com/mna/vetiver/lang/infer"
	"github.com/mna/vetiver/lang/machine"
	"github.com/mna/vetiver/lang/optimizer"
)

// ---- while ----

func (fc *fcomp) whileStmt(n *infer.Node) {
	header := fc.buf.Len()
	cond, owned := fc.expr(n.Child(0))
	pExit := fc.buf.EmitJump(JUMP_IF_NOT_R, fc.readOperand(cond))
	fc.freeIf(owned, cond)

	// continue jumps re-test the condition; they resolve backward to the
	// header and are rewritten to the LOOP form when patched.
	lf := &loopFrame{breakLbl: &Label{}, continueTarget: header}
	fc.loops = append(fc.loops, lf)

	fc.st.BeginScope()
	for _, c := range n.Child(1).Children {
		fc.stmt(c)
	}
	fc.st.EndScope()

	if err := fc.buf.EmitLoop(header); err != nil {
		fc.errorf(diag.JumpOutOfRange, n, "%s", err)
		return
	}
	// the exit and every break land immediately after the backward LOOP
	fc.patchHere(pExit, n)
	fc.bind(lf.breakLbl, n)
	fc.loops = fc.loops[:len(fc.loops)-1]
}

// ---- range loops ----

func (fc *fcomp) forRange(n *infer.Node, orig *ast.ForRangeStmt) {
	analysis := optimizer.AnalyzeLoop(n, &fc.pcomp.stats)
	opts := fc.pcomp.opts
	body := n.Child(len(n.Children) - 1)
	k := kindOf(n.Type) // the loop variable's kind

	if opts.Unroll && analysis.CanUnroll && analysis.IterationCount <= optimizer.MaxUnrollFactor {
		if fc.unrollLoop(n, orig, analysis, body, k) {
			return
		}
		// unrolling rolled back; lower the loop unchanged below
	}

	fc.st.BeginScope()

	// the loop variable is the iterator register, pinned for the extent of
	// the loop
	iterReg, err := fc.ra.AllocNamed(PurposeFrame, k, orig.VarName)
	if err != nil {
		fc.errorf(diag.TooManyLocals, n, "too many locals declaring %s", orig.VarName)
		return
	}
	from, fromOwned := fc.expr(n.Child(0))
	fc.emitMove(iterReg, from)
	fc.freeIf(fromOwned, from)
	fc.ra.Pin(iterReg)
	fc.st.Declare(orig.VarName, RegisterRef(iterReg), n.Type, false, true)

	// capture the end in a hidden local so the body cannot clobber it
	endReg, err := fc.ra.Alloc(PurposeFrame, k)
	if err != nil {
		fc.errorf(diag.TooManyLocals, n, "too many locals in range loop")
		return
	}
	to, toOwned := fc.expr(n.Child(1))
	fc.emitMove(endReg, to)
	fc.freeIf(toOwned, to)
	fc.ra.Pin(endReg)

	// the step is either a compile-time constant or a hidden register
	stepVal := int64(1)
	stepReg, stepIsReg := Reg(0), false
	if orig.Step != nil {
		if v, ok := optimizer.ConstInt(n.Child(2)); ok {
			stepVal = v
		} else {
			if stepReg, err = fc.ra.Alloc(PurposeFrame, k); err != nil {
				fc.errorf(diag.TooManyLocals, n, "too many locals in range loop")
				return
			}
			sv, svOwned := fc.expr(n.Child(2))
			fc.emitMove(stepReg, sv)
			fc.freeIf(svOwned, sv)
			fc.ra.Pin(stepReg)
			stepIsReg = true
		}
	}

	licmCount := 0
	if opts.LICM {
		licmCount = fc.hoistInvariants(analysis)
	}
	redCount := 0
	if opts.StrengthReduction {
		for _, red := range analysis.Reductions {
			if red.CanOptimize {
				fc.reductions = append(fc.reductions, red)
				redCount++
			}
		}
	}

	header := fc.buf.Len()
	cond, ok := fc.allocTemp(n, machine.KindBool)
	if !ok {
		return
	}
	fc.emit3(rangeCompareOpcode(k, stepVal, stepIsReg), cond, iterReg, endReg)
	pExit := fc.buf.EmitJump(JUMP_IF_NOT_R, fc.readOperand(cond))
	fc.ra.Free(cond)

	lf := &loopFrame{breakLbl: &Label{}, continueLbl: &Label{}, continueTarget: -1}
	fc.loops = append(fc.loops, lf)
	if opts.BoundsElimination && analysis.CanEliminateBounds {
		fc.boundsSafe = append(fc.boundsSafe, orig.VarName)
		defer func() { fc.boundsSafe = fc.boundsSafe[:len(fc.boundsSafe)-1] }()
	}

	fc.st.BeginScope()
	for _, c := range body.Children {
		fc.stmt(c)
	}
	fc.st.EndScope()

	// continue lands at the increment
	fc.bind(lf.continueLbl, n)
	fc.emitIncrement(n, iterReg, k, stepVal, stepReg, stepIsReg)
	if err := fc.buf.EmitLoop(header); err != nil {
		fc.errorf(diag.JumpOutOfRange, n, "%s", err)
		return
	}
	fc.patchHere(pExit, n)
	fc.bind(lf.breakLbl, n)
	fc.loops = fc.loops[:len(fc.loops)-1]

	fc.reductions = fc.reductions[:len(fc.reductions)-redCount]
	fc.releaseHoisted(licmCount)
	fc.ra.Unpin(iterReg)
	fc.ra.Unpin(endReg)
	fc.ra.Free(endReg)
	if stepIsReg {
		fc.ra.Unpin(stepReg)
		fc.ra.Free(stepReg)
	}
	fc.st.EndScope()
}

// rangeCompareOpcode selects the typed loop-header comparison: iteration
// continues while iter < end for ascending ranges and iter > end for
// descending ones. A non-constant step assumes an ascending range.
func rangeCompareOpcode(k machine.Kind, stepVal int64, stepIsReg bool) Opcode {
	descending := !stepIsReg && stepVal < 0
	if k == machine.KindI64 || k == machine.KindU64 {
		if descending {
			return GT_I64
		}
		return LT_I64
	}
	if descending {
		return GT_I32
	}
	return LT_I32
}

func (fc *fcomp) emitIncrement(n *infer.Node, iter Reg, k machine.Kind, stepVal int64, stepReg Reg, stepIsReg bool) {
	wide := k == machine.KindI64 || k == machine.KindU64
	switch {
	case !stepIsReg && stepVal == 1 && !wide:
		fc.buf.Emit(INC_I32, fc.readOperand(iter))
	case !stepIsReg && stepVal == 1 && wide:
		fc.buf.Emit(INC_I64, fc.readOperand(iter))
	default:
		addOp, _ := arithOpcode(ast.OpAdd, k)
		src := stepReg
		if !stepIsReg {
			tmp, ok := fc.allocTemp(n, k)
			if !ok {
				return
			}
			fc.emitLoadK(n, tmp, intValue(k, stepVal))
			defer fc.ra.Free(tmp)
			src = tmp
		}
		fc.emit3(addOp, iter, iter, src)
	}
}

// ---- unrolling ----

// unrollLoop replaces the loop with its body repeated once per iteration,
// the loop variable bound to a fresh constant-loaded register each time. It
// returns false after rolling everything back if any step fails; the caller
// then lowers the loop unchanged.
func (fc *fcomp) unrollLoop(n *infer.Node, orig *ast.ForRangeStmt, analysis *optimizer.Analysis, body *infer.Node, k machine.Kind) bool {
	snap := fc.snapshot()

	// pre-unroll LICM: hoist invariants so every unrolled copy references
	// the hoisted register
	licmCount := 0
	if fc.pcomp.opts.LICM {
		licmCount = fc.hoistInvariants(analysis)
	}

	fc.st.BeginScope()
	sym := fc.st.Declare(orig.VarName, RegisterRef(0), n.Type, false, false)
	saved := sym.Ref

	for i := int64(0); i < analysis.IterationCount && !fc.fatal; i++ {
		val := analysis.Start + i*analysis.Step
		r, err := fc.ra.Alloc(PurposeTemp, k)
		if err != nil {
			fc.fatal = true
			break
		}
		fc.emitLoadK(n, r, intValue(k, val))
		fc.st.Rebind(sym, RegisterRef(r))
		fc.st.BeginScope()
		for _, c := range body.Children {
			fc.stmt(c)
		}
		fc.st.EndScope()
		fc.ra.Free(r)
	}
	fc.st.Rebind(sym, saved)
	fc.st.EndScope()
	fc.releaseHoisted(licmCount)

	if fc.fatal {
		fc.restore(snap)
		fc.pcomp.stats.OptimizationsRolledBack++
		debuglog.Logf(debuglog.Optimizer, "unroll of %s rolled back", orig.VarName)
		return false
	}
	fc.pcomp.stats.LoopsUnrolled++
	return true
}

// ---- LICM ----

// hoistInvariants emits the hoistable invariant computations before the
// loop header, each into a pinned register, and activates the structural
// replacements consulted during body lowering. It returns the number of
// hoisted expressions, to be released with releaseHoisted.
func (fc *fcomp) hoistInvariants(analysis *optimizer.Analysis) int {
	count := 0
	for _, inv := range analysis.Invariants {
		if !inv.CanHoist {
			continue
		}
		snap := fc.snapshot()
		r, owned := fc.expr(inv.Expr)
		if fc.fatal {
			// optimization failures are never surfaced: roll back and lower
			// the expression in place instead
			fc.restore(snap)
			fc.pcomp.stats.OptimizationsRolledBack++
			continue
		}
		if !owned {
			// the invariant resolved to a resident register (another hoist
			// or a variable); keep the computation in place, pin the result
			// into a dedicated register
			dst, err := fc.ra.Alloc(PurposeTemp, kindOf(inv.Expr.Type))
			if err != nil {
				fc.restore(snap)
				fc.pcomp.stats.OptimizationsRolledBack++
				continue
			}
			fc.emitMove(dst, r)
			r = dst
		}
		fc.ra.Pin(r)

		inv.IsHoisted = true
		inv.TempReg = uint16(r)
		fc.licm = append(fc.licm, licmRepl{expr: inv.Expr, reg: r})
		fc.pcomp.stats.InvariantsHoisted++
		count++
	}
	return count
}

func (fc *fcomp) releaseHoisted(count int) {
	for i := 0; i < count; i++ {
		repl := fc.licm[len(fc.licm)-1]
		fc.licm = fc.licm[:len(fc.licm)-1]
		fc.ra.Unpin(repl.reg)
		fc.ra.Free(repl.reg)
	}
}

// ---- iterator loops ----

// forIter lowers "for x in arr" as an index loop over the array's length;
// the hidden index is bounded by the length so element loads skip the
// bounds check.
func (fc *fcomp) forIter(n *infer.Node, orig *ast.ForIterStmt) {
	fc.st.BeginScope()

	arr, arrOwned := fc.expr(n.Child(0))
	if arr < SpillBase {
		fc.ra.Pin(arr)
	}

	lenReg, err := fc.ra.Alloc(PurposeFrame, machine.KindI32)
	if err != nil {
		fc.errorf(diag.TooManyLocals, n, "too many locals in iterator loop")
		return
	}
	fc.emit2(ARRAY_LEN, lenReg, arr)
	fc.ra.Pin(lenReg)

	idxReg, err := fc.ra.Alloc(PurposeFrame, machine.KindI32)
	if err != nil {
		fc.errorf(diag.TooManyLocals, n, "too many locals in iterator loop")
		return
	}
	fc.emitLoadK(n, idxReg, machine.I32(0))
	fc.ra.Pin(idxReg)

	elemReg, err := fc.ra.AllocNamed(PurposeFrame, kindOf(n.Type), orig.VarName)
	if err != nil {
		fc.errorf(diag.TooManyLocals, n, "too many locals declaring %s", orig.VarName)
		return
	}
	fc.st.Declare(orig.VarName, RegisterRef(elemReg), n.Type, false, true)

	header := fc.buf.Len()
	cond, ok := fc.allocTemp(n, machine.KindBool)
	if !ok {
		return
	}
	fc.emit3(LT_I32, cond, idxReg, lenReg)
	pExit := fc.buf.EmitJump(JUMP_IF_NOT_R, fc.readOperand(cond))
	fc.ra.Free(cond)

	fc.emit3(INDEX_GET_UNSAFE, elemReg, arr, idxReg)

	lf := &loopFrame{breakLbl: &Label{}, continueLbl: &Label{}, continueTarget: -1}
	fc.loops = append(fc.loops, lf)

	fc.st.BeginScope()
	for _, c := range n.Child(1).Children {
		fc.stmt(c)
	}
	fc.st.EndScope()

	fc.bind(lf.continueLbl, n)
	fc.buf.Emit(INC_I32, fc.readOperand(idxReg))
	if err := fc.buf.EmitLoop(header); err != nil {
		fc.errorf(diag.JumpOutOfRange, n, "%s", err)
		return
	}
	fc.patchHere(pExit, n)
	fc.bind(lf.breakLbl, n)
	fc.loops = fc.loops[:len(fc.loops)-1]

	fc.ra.Unpin(idxReg)
	fc.ra.Free(idxReg)
	fc.ra.Unpin(lenReg)
	fc.ra.Free(lenReg)
	if arr < SpillBase {
		fc.ra.Unpin(arr)
	}
	fc.freeIf(arrOwned, arr)
	fc.st.EndScope()
}

// ---- rollback ----

// optSnapshot captures everything a speculative optimization may mutate, so
// a failed attempt can be rolled back and the loop lowered unchanged.
type optSnapshot struct {
	bufLen    int
	ra        Snapshot
	stLen     int
	licmLen   int
	redLen    int
	boundsLen int
	errsLen   int
	wasFatal  bool
}

func (fc *fcomp) snapshot() optSnapshot {
	return optSnapshot{
		bufLen:    fc.buf.Len(),
		ra:        fc.ra.Snapshot(),
		stLen:     fc.st.Len(),
		licmLen:   len(fc.licm),
		redLen:    len(fc.reductions),
		boundsLen: len(fc.boundsSafe),
		errsLen:   len(fc.pcomp.errors),
		wasFatal:  fc.fatal,
	}
}

func (fc *fcomp) restore(s optSnapshot) {
	fc.buf.Truncate(s.bufLen)
	fc.ra.Restore(s.ra)
	fc.st.Truncate(s.stLen)
	fc.licm = fc.licm[:s.licmLen]
	fc.reductions = fc.reductions[:s.redLen]
	fc.boundsSafe = fc.boundsSafe[:s.boundsLen]
	fc.pcomp.errors = fc.pcomp.errors[:s.errsLen]
	fc.fatal = s.wasFatal
}
