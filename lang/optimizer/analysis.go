// Package optimizer implements the loop-centric analysis that runs on the
// typed AST between inference and code generation: constant-range detection,
// loop-invariant discovery, strength-reduction discovery and bounds-check
// elimination. The analysis only annotates; the transformations (unrolling,
// hoisting, shift substitution) are applied by the code generator when it
// lowers the loop, consulting the analysis attached to it.
package optimizer

import (
	"github.com/mna/vetiver/lang/ast"
	"github.com/mna/vetiver/lang/infer"
	"github.com/mna/vetiver/lang/machine"
)

const (
	// MaxConstantIterations is the largest constant iteration count that is
	// considered for unrolling at all.
	MaxConstantIterations = 64

	// MaxUnrollFactor is the largest iteration count that actually gets
	// unrolled.
	MaxUnrollFactor = 16
)

// An Analysis holds everything the code generator needs to know to optimize
// one range loop.
type Analysis struct {
	// Constant range values, valid only when IsConstantRange.
	Start, End, Step int64
	IterationCount   int64

	IsConstantRange    bool
	CanUnroll          bool
	CanStrengthReduce  bool
	CanApplyLICM       bool
	CanEliminateBounds bool
	HasBreakContinue   bool

	Invariants []*Invariant
	Reductions []*Reduction
}

// An Invariant is a loop-invariant expression candidate for hoisting.
type Invariant struct {
	Expr     *infer.Node
	UseCount int
	CanHoist bool

	// IsHoisted and TempReg are set by the code generator when the hoist is
	// applied.
	IsHoisted bool
	TempReg   uint16
}

// A Reduction is a strength-reduction candidate: a multiplication of the
// induction variable by a constant power of two.
type Reduction struct {
	Expr         *infer.Node // the multiply node
	InductionVar *infer.Node // the operand that is the loop variable
	Multiplier   int64
	ShiftAmount  int
	CanOptimize  bool

	// IsApplied is set by the code generator when the matching multiply is
	// lowered as a shift.
	IsApplied bool
}

// AnalyzeLoop analyzes one range loop of the typed AST. The node's original
// AST node must be a *ast.ForRangeStmt.
func AnalyzeLoop(loop *infer.Node, stats *Stats) *Analysis {
	fr := loop.Orig.(*ast.ForRangeStmt)
	body := loop.Child(len(loop.Children) - 1)

	a := &Analysis{}
	a.HasBreakContinue = hasBreakContinue(body)

	from, to := loop.Child(0), loop.Child(1)
	var step *infer.Node
	if fr.Step != nil {
		step = loop.Child(2)
	}
	a.analyzeRange(from, to, step)
	a.CanUnroll = a.IsConstantRange && a.IterationCount > 0 &&
		a.IterationCount <= MaxConstantIterations && !a.HasBreakContinue

	mutated := mutatedNames(body)
	mutated[fr.VarName] = true
	a.findInvariants(body, mutated)
	a.CanApplyLICM = len(a.Invariants) > 0

	a.findReductions(body, fr.VarName)
	a.CanStrengthReduce = len(a.Reductions) > 0

	a.CanEliminateBounds = a.IsConstantRange && !a.HasBreakContinue

	if stats != nil {
		stats.LoopsAnalyzed++
		if a.IsConstantRange {
			stats.ConstantRanges++
		}
		stats.InvariantsFound += len(a.Invariants)
		stats.ReductionsFound += len(a.Reductions)
	}
	return a
}

// analyzeRange computes the constant iteration count when start, end and
// step are all constant integer expressions.
func (a *Analysis) analyzeRange(from, to, step *infer.Node) {
	start, ok := constInt(from)
	if !ok {
		return
	}
	end, ok := constInt(to)
	if !ok {
		return
	}
	stp := int64(1)
	if step != nil {
		if stp, ok = constInt(step); !ok {
			return
		}
	}
	if stp == 0 {
		return
	}

	a.Start, a.End, a.Step = start, end, stp
	a.IsConstantRange = true
	switch {
	case stp > 0 && end > start:
		a.IterationCount = (end - start + stp - 1) / stp
	case stp < 0 && end < start:
		a.IterationCount = (start - end + (-stp) - 1) / (-stp)
	default:
		a.IterationCount = 0
	}
}

// ConstInt evaluates a constant integer expression: a literal, or unary and
// binary arithmetic over constant integer expressions.
func ConstInt(n *infer.Node) (int64, bool) {
	return constInt(n)
}

func constInt(n *infer.Node) (int64, bool) {
	switch orig := n.Orig.(type) {
	case *ast.LiteralExpr:
		switch orig.Value.Kind() {
		case machine.KindI32:
			return int64(orig.Value.AsI32()), true
		case machine.KindI64:
			return orig.Value.AsI64(), true
		case machine.KindU32:
			return int64(orig.Value.AsU32()), true
		case machine.KindU64:
			return int64(orig.Value.AsU64()), true
		}
		return 0, false

	case *ast.UnaryExpr:
		v, ok := constInt(n.Child(0))
		if !ok {
			return 0, false
		}
		switch orig.Op {
		case ast.OpNeg:
			return -v, true
		case ast.OpPos:
			return v, true
		}
		return 0, false

	case *ast.BinaryExpr:
		l, ok := constInt(n.Child(0))
		if !ok {
			return 0, false
		}
		r, ok := constInt(n.Child(1))
		if !ok {
			return 0, false
		}
		switch orig.Op {
		case ast.OpAdd:
			return l + r, true
		case ast.OpSub:
			return l - r, true
		case ast.OpMul:
			return l * r, true
		case ast.OpDiv:
			if r == 0 {
				return 0, false
			}
			return l / r, true
		case ast.OpMod:
			if r == 0 {
				return 0, false
			}
			return l % r, true
		}
		return 0, false
	}
	return 0, false
}

// hasBreakContinue recursively searches the body for break or continue
// statements, without descending into nested loops (their break/continue
// target the nested loop, not this one) or nested functions.
func hasBreakContinue(n *infer.Node) bool {
	switch n.Orig.(type) {
	case *ast.BreakStmt, *ast.ContinueStmt:
		return true
	case *ast.ForRangeStmt, *ast.ForIterStmt, *ast.WhileStmt, *ast.FuncStmt:
		return false
	}
	for _, c := range n.Children {
		if hasBreakContinue(c) {
			return true
		}
	}
	return false
}

// mutatedNames collects the names assigned anywhere in the body (assignment
// targets, declarations and nested loop variables); identifiers naming them
// cannot be loop-invariant.
func mutatedNames(body *infer.Node) map[string]bool {
	names := make(map[string]bool)
	var walk func(n *infer.Node)
	walk = func(n *infer.Node) {
		switch orig := n.Orig.(type) {
		case *ast.AssignStmt:
			if id, ok := orig.Target.(*ast.IdentExpr); ok {
				names[id.Name] = true
			}
		case *ast.VarDecl:
			names[orig.Name] = true
		case *ast.ForRangeStmt:
			names[orig.VarName] = true
		case *ast.ForIterStmt:
			names[orig.VarName] = true
		}
		for _, c := range n.Children {
			walk(c)
		}
	}
	walk(body)
	return names
}

// findInvariants performs a stack-based traversal of the body and collects
// the maximal invariant expressions, structurally deduplicated, with their
// use counts.
func (a *Analysis) findInvariants(body *infer.Node, mutated map[string]bool) {
	stack := []*infer.Node{body}
	for len(stack) > 0 {
		n := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		if isCandidate(n) && isInvariant(n, mutated) {
			a.recordInvariant(n, body)
			// children of a recorded invariant are covered by the parent
			continue
		}
		for i := len(n.Children) - 1; i >= 0; i-- {
			stack = append(stack, n.Children[i])
		}
	}
}

// isCandidate restricts hoisting candidates to composite expressions; a bare
// literal or identifier is invariant but costs nothing to rematerialize.
func isCandidate(n *infer.Node) bool {
	switch n.Orig.(type) {
	case *ast.BinaryExpr, *ast.UnaryExpr:
		return true
	}
	return false
}

// isInvariant reports whether the expression is loop-invariant: a literal,
// an identifier that is neither the loop variable nor assigned in the body,
// or a unary/binary expression of invariants. Calls are conservatively
// rejected (callee purity is unknown).
func isInvariant(n *infer.Node, mutated map[string]bool) bool {
	switch orig := n.Orig.(type) {
	case *ast.LiteralExpr:
		return true
	case *ast.IdentExpr:
		return !mutated[orig.Name]
	case *ast.UnaryExpr, *ast.BinaryExpr:
		for _, c := range n.Children {
			if !isInvariant(c, mutated) {
				return false
			}
		}
		return true
	}
	return false
}

func (a *Analysis) recordInvariant(n *infer.Node, body *infer.Node) {
	for _, inv := range a.Invariants {
		if SameExpr(inv.Expr, n) {
			return
		}
	}
	inv := &Invariant{Expr: n}
	inv.UseCount = countUses(body, n)
	inv.CanHoist = inv.UseCount >= 1 || isExpensive(n)
	a.Invariants = append(a.Invariants, inv)
}

// countUses counts the structural occurrences of target in the subtree;
// counting a match terminates recursion into that subtree.
func countUses(n, target *infer.Node) int {
	if SameExpr(n, target) {
		return 1
	}
	count := 0
	for _, c := range n.Children {
		count += countUses(c, target)
	}
	return count
}

// isExpensive reports whether the expression contains a division, a modulo
// or a call.
func isExpensive(n *infer.Node) bool {
	switch orig := n.Orig.(type) {
	case *ast.BinaryExpr:
		if orig.Op == ast.OpDiv || orig.Op == ast.OpMod {
			return true
		}
	case *ast.CallExpr:
		return true
	}
	for _, c := range n.Children {
		if isExpensive(c) {
			return true
		}
	}
	return false
}

// findReductions collects multiplications of the loop variable by a
// constant power of two.
func (a *Analysis) findReductions(body *infer.Node, loopVar string) {
	var walk func(n *infer.Node)
	walk = func(n *infer.Node) {
		if bin, ok := n.Orig.(*ast.BinaryExpr); ok && bin.Op == ast.OpMul {
			left, right := n.Child(0), n.Child(1)
			if red := reductionOf(n, left, right, loopVar); red != nil {
				a.Reductions = append(a.Reductions, red)
			} else if red := reductionOf(n, right, left, loopVar); red != nil {
				a.Reductions = append(a.Reductions, red)
			}
		}
		for _, c := range n.Children {
			walk(c)
		}
	}
	walk(body)
}

func reductionOf(mul, ind, k *infer.Node, loopVar string) *Reduction {
	id, ok := ind.Orig.(*ast.IdentExpr)
	if !ok || id.Name != loopVar {
		return nil
	}
	v, ok := constInt(k)
	if !ok || v <= 0 || v&(v-1) != 0 {
		return nil
	}
	shift := 0
	for m := v; m > 1; m >>= 1 {
		shift++
	}
	return &Reduction{
		Expr:         mul,
		InductionVar: ind,
		Multiplier:   v,
		ShiftAmount:  shift,
		CanOptimize:  true,
	}
}

// SameExpr reports whether two typed expressions are structurally equal:
// same node kind, same operator/name/literal value, and structurally equal
// children.
func SameExpr(a, b *infer.Node) bool {
	switch ao := a.Orig.(type) {
	case *ast.LiteralExpr:
		bo, ok := b.Orig.(*ast.LiteralExpr)
		return ok && ao.Value == bo.Value
	case *ast.IdentExpr:
		bo, ok := b.Orig.(*ast.IdentExpr)
		return ok && ao.Name == bo.Name
	case *ast.BinaryExpr:
		bo, ok := b.Orig.(*ast.BinaryExpr)
		if !ok || ao.Op != bo.Op {
			return false
		}
	case *ast.UnaryExpr:
		bo, ok := b.Orig.(*ast.UnaryExpr)
		if !ok || ao.Op != bo.Op {
			return false
		}
	case *ast.CastExpr:
		bo, ok := b.Orig.(*ast.CastExpr)
		if !ok || typeName(ao.Type) != typeName(bo.Type) {
			return false
		}
	case *ast.IndexExpr:
		if _, ok := b.Orig.(*ast.IndexExpr); !ok {
			return false
		}
	default:
		return false
	}
	if len(a.Children) != len(b.Children) {
		return false
	}
	for i := range a.Children {
		if !SameExpr(a.Children[i], b.Children[i]) {
			return false
		}
	}
	return true
}

func typeName(t *ast.TypeAnnotation) string {
	if t == nil {
		return ""
	}
	if t.Elem != nil {
		return "[]" + typeName(t.Elem)
	}
	return t.Name
}
