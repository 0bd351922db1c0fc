package compiler

import (
	"fmt"

	"github.com/mna/vetiver/lang/ast"
	"github.com/mna/vetiver/lang/machine"
	"github.com/mna/vetiver/lang/types"
)

// kindOf maps a resolved type to the machine kind used for opcode selection
// and register type tags.
func kindOf(t *types.Type) machine.Kind {
	switch t.Kind {
	case types.KindPrimitive:
		switch t.Prim {
		case types.PrimI32:
			return machine.KindI32
		case types.PrimI64:
			return machine.KindI64
		case types.PrimU32:
			return machine.KindU32
		case types.PrimU64:
			return machine.KindU64
		case types.PrimF64:
			return machine.KindF64
		case types.PrimBool:
			return machine.KindBool
		case types.PrimString:
			return machine.KindString
		}
		return machine.KindNil
	case types.KindArray:
		return machine.KindArray
	case types.KindFunction:
		return machine.KindFunction
	}
	return machine.KindNil
}

// loadOpcode selects the type-specialized constant load for a value kind.
func loadOpcode(k machine.Kind) Opcode {
	switch k {
	case machine.KindI32:
		return LOADK_I32
	case machine.KindI64:
		return LOADK_I64
	case machine.KindU32:
		return LOADK_U32
	case machine.KindU64:
		return LOADK_U64
	case machine.KindF64:
		return LOADK_F64
	case machine.KindBool:
		return LOADK_BOOL
	case machine.KindString:
		return LOADK_STR
	case machine.KindFunction:
		return LOADK_FUNC
	}
	return LOADK_I32
}

// arithOpcode selects the typed opcode of a binary arithmetic operation.
// The bool result is false when the operand type does not support the
// operation.
func arithOpcode(op ast.Op, k machine.Kind) (Opcode, bool) {
	if k == machine.KindString {
		if op == ast.OpAdd {
			return CONCAT_STR, true
		}
		return 0, false
	}

	o, ok := arithOpcodes[opKindKey{op, k}]
	return o, ok
}

type opKindKey struct {
	op ast.Op
	k  machine.Kind
}

var arithOpcodes = map[opKindKey]Opcode{
	{ast.OpAdd, machine.KindI32}: ADD_I32, {ast.OpSub, machine.KindI32}: SUB_I32,
	{ast.OpMul, machine.KindI32}: MUL_I32, {ast.OpDiv, machine.KindI32}: DIV_I32,
	{ast.OpMod, machine.KindI32}: MOD_I32,
	{ast.OpAdd, machine.KindI64}: ADD_I64, {ast.OpSub, machine.KindI64}: SUB_I64,
	{ast.OpMul, machine.KindI64}: MUL_I64, {ast.OpDiv, machine.KindI64}: DIV_I64,
	{ast.OpMod, machine.KindI64}: MOD_I64,
	{ast.OpAdd, machine.KindU32}: ADD_U32, {ast.OpSub, machine.KindU32}: SUB_U32,
	{ast.OpMul, machine.KindU32}: MUL_U32, {ast.OpDiv, machine.KindU32}: DIV_U32,
	{ast.OpMod, machine.KindU32}: MOD_U32,
	{ast.OpAdd, machine.KindU64}: ADD_U64, {ast.OpSub, machine.KindU64}: SUB_U64,
	{ast.OpMul, machine.KindU64}: MUL_U64, {ast.OpDiv, machine.KindU64}: DIV_U64,
	{ast.OpMod, machine.KindU64}: MOD_U64,
	{ast.OpAdd, machine.KindF64}: ADD_F64, {ast.OpSub, machine.KindF64}: SUB_F64,
	{ast.OpMul, machine.KindF64}: MUL_F64, {ast.OpDiv, machine.KindF64}: DIV_F64,
}

// compareOpcode selects the generic comparison opcode.
func compareOpcode(op ast.Op) Opcode {
	switch op {
	case ast.OpEq:
		return EQ_R
	case ast.OpNeq:
		return NEQ_R
	case ast.OpLt:
		return LT_R
	case ast.OpLe:
		return LE_R
	case ast.OpGt:
		return GT_R
	case ast.OpGe:
		return GE_R
	}
	panic(fmt.Sprintf("compiler: not a comparison: %s", op))
}

// negOpcode selects the typed negation opcode.
func negOpcode(k machine.Kind) (Opcode, bool) {
	switch k {
	case machine.KindI32, machine.KindU32:
		return NEG_I32, true
	case machine.KindI64, machine.KindU64:
		return NEG_I64, true
	case machine.KindF64:
		return NEG_F64, true
	}
	return 0, false
}

// convertValue rewrites a literal value to the kind its node was adapted
// to by inference (e.g. an integer literal used in f64 arithmetic).
func convertValue(v machine.Value, to machine.Kind) machine.Value {
	if v.Kind() == to {
		return v
	}
	var n int64
	var f float64
	switch v.Kind() {
	case machine.KindI32:
		n, f = int64(v.AsI32()), float64(v.AsI32())
	case machine.KindI64:
		n, f = v.AsI64(), float64(v.AsI64())
	case machine.KindU32:
		n, f = int64(v.AsU32()), float64(v.AsU32())
	case machine.KindU64:
		n, f = int64(v.AsU64()), float64(v.AsU64())
	case machine.KindF64:
		n, f = int64(v.AsF64()), v.AsF64()
	default:
		return v
	}
	switch to {
	case machine.KindI32:
		return machine.I32(int32(n))
	case machine.KindI64:
		return machine.I64(n)
	case machine.KindU32:
		return machine.U32(uint32(n))
	case machine.KindU64:
		return machine.U64(uint64(n))
	case machine.KindF64:
		return machine.F64(f)
	}
	return v
}

// zeroValue returns the zero value of a kind, for declarations without an
// initializer.
func zeroValue(k machine.Kind) machine.Value {
	switch k {
	case machine.KindBool:
		return machine.Bool(false)
	case machine.KindI32:
		return machine.I32(0)
	case machine.KindI64:
		return machine.I64(0)
	case machine.KindU32:
		return machine.U32(0)
	case machine.KindU64:
		return machine.U64(0)
	case machine.KindF64:
		return machine.F64(0)
	case machine.KindString:
		return machine.String("")
	}
	return machine.Nil()
}

// convTag encodes the source and destination kinds of a CONVERT operand.
func convTag(from, to machine.Kind) byte {
	return byte(from)<<4 | byte(to)
}

// intValue builds a loop iteration constant of the loop variable's kind.
func intValue(k machine.Kind, v int64) machine.Value {
	switch k {
	case machine.KindI64:
		return machine.I64(v)
	case machine.KindU32:
		return machine.U32(uint32(v))
	case machine.KindU64:
		return machine.U64(uint64(v))
	}
	return machine.I32(int32(v))
}
