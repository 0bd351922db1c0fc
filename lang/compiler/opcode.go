// Package compiler takes the typed AST produced by inference and compiles
// it to bytecode for the register-based virtual machine: tiered register
// allocation with lifetime reuse, loop optimization applied at lowering
// time, jump patching and a peephole pass over the emitted stream.
package compiler

import "fmt"

// Increment this to force recompilation of saved bytecode files.
const Version = 0

// Opcode is one bytecode instruction opcode. The byte layout of each
// instruction is one opcode byte followed by the operand bytes listed in the
// opcode comment; each named operand is one byte, and a value split into
// _hi/_lo operands is 16 bits wide, high byte first.
type Opcode uint8

//nolint:revive
const (
	HALT Opcode = iota // HALT

	// constant loads, type-specialized (op, reg, idx_hi, idx_lo)
	LOADK_I32
	LOADK_I64
	LOADK_U32
	LOADK_U64
	LOADK_F64
	LOADK_BOOL
	LOADK_STR
	LOADK_FUNC

	// constant load targeting an extended register
	// (op, reg_hi, reg_lo, idx_hi, idx_lo)
	LOADK_EXT

	// moves
	MOVE     // op, dst, src
	MOVE_EXT // op, dst_hi, dst_lo, src_hi, src_lo

	// binary arithmetic, typed (op, dst, lhs, rhs)
	ADD_I32
	SUB_I32
	MUL_I32
	DIV_I32
	MOD_I32
	ADD_I64
	SUB_I64
	MUL_I64
	DIV_I64
	MOD_I64
	ADD_U32
	SUB_U32
	MUL_U32
	DIV_U32
	MOD_U32
	ADD_U64
	SUB_U64
	MUL_U64
	DIV_U64
	MOD_U64
	ADD_F64
	SUB_F64
	MUL_F64
	DIV_F64

	// string concatenation (op, dst, lhs, rhs)
	CONCAT_STR

	// shifts with an immediate amount (op, dst, src, imm)
	SHL_I32_IMM
	SHL_I64_IMM

	// typed negation (op, dst, src)
	NEG_I32
	NEG_I64
	NEG_F64

	// comparisons are generic: the VM dispatches on the operand values
	// (op, dst, lhs, rhs)
	EQ_R
	NEQ_R
	LT_R
	LE_R
	GT_R
	GE_R

	// typed comparisons used by range-loop headers (op, dst, lhs, rhs)
	LT_I32
	GT_I32
	LT_I64
	GT_I64

	// boolean operations
	AND_BOOL // op, dst, lhs, rhs
	OR_BOOL  // op, dst, lhs, rhs
	NOT_BOOL // op, dst, src

	// increment, used by range loops (op, reg)
	INC_I32
	INC_I64

	// numeric conversion; tag is src_kind<<4 | dst_kind of machine kinds
	// (op, dst, src, tag)
	CONVERT

	// arrays
	MAKE_ARRAY       // op, dst, first, count
	ARRAY_LEN        // op, dst, arr
	INDEX_GET        // op, dst, arr, idx    (bounds-checked)
	INDEX_GET_UNSAFE // op, dst, arr, idx    (bounds check elided)
	INDEX_SET        // op, arr, idx, val    (bounds-checked)
	INDEX_SET_UNSAFE // op, arr, idx, val    (bounds check elided)

	// control flow; forward offsets are unsigned target-(next_ip),
	// backward LOOP offsets are (next_ip)-target
	JUMP_SHORT    // op, off
	JUMP          // op, off_hi, off_lo
	JUMP_IF_NOT_R // op, cond, off_hi, off_lo
	JUMP_IF_R     // op, cond, off_hi, off_lo
	LOOP          // op, off_hi, off_lo

	// calls; arguments are in contiguous registers first_arg..first_arg+argc-1
	CALL        // op, callee, first_arg, argc, result
	RETURN_R    // op, reg
	RETURN_VOID // op

	// print
	PRINT_R       // op, reg
	PRINT_MULTI_R // op, first, count, newline_flag

	opcodeMax = PRINT_MULTI_R
)

var opcodeNames = [...]string{
	HALT:             "HALT",
	LOADK_I32:        "LOADK_I32",
	LOADK_I64:        "LOADK_I64",
	LOADK_U32:        "LOADK_U32",
	LOADK_U64:        "LOADK_U64",
	LOADK_F64:        "LOADK_F64",
	LOADK_BOOL:       "LOADK_BOOL",
	LOADK_STR:        "LOADK_STR",
	LOADK_FUNC:       "LOADK_FUNC",
	LOADK_EXT:        "LOADK_EXT",
	MOVE:             "MOVE",
	MOVE_EXT:         "MOVE_EXT",
	ADD_I32:          "ADD_I32",
	SUB_I32:          "SUB_I32",
	MUL_I32:          "MUL_I32",
	DIV_I32:          "DIV_I32",
	MOD_I32:          "MOD_I32",
	ADD_I64:          "ADD_I64",
	SUB_I64:          "SUB_I64",
	MUL_I64:          "MUL_I64",
	DIV_I64:          "DIV_I64",
	MOD_I64:          "MOD_I64",
	ADD_U32:          "ADD_U32",
	SUB_U32:          "SUB_U32",
	MUL_U32:          "MUL_U32",
	DIV_U32:          "DIV_U32",
	MOD_U32:          "MOD_U32",
	ADD_U64:          "ADD_U64",
	SUB_U64:          "SUB_U64",
	MUL_U64:          "MUL_U64",
	DIV_U64:          "DIV_U64",
	MOD_U64:          "MOD_U64",
	ADD_F64:          "ADD_F64",
	SUB_F64:          "SUB_F64",
	MUL_F64:          "MUL_F64",
	DIV_F64:          "DIV_F64",
	CONCAT_STR:       "CONCAT_STR",
	SHL_I32_IMM:      "SHL_I32_IMM",
	SHL_I64_IMM:      "SHL_I64_IMM",
	NEG_I32:          "NEG_I32",
	NEG_I64:          "NEG_I64",
	NEG_F64:          "NEG_F64",
	EQ_R:             "EQ_R",
	NEQ_R:            "NEQ_R",
	LT_R:             "LT_R",
	LE_R:             "LE_R",
	GT_R:             "GT_R",
	GE_R:             "GE_R",
	LT_I32:           "LT_I32",
	GT_I32:           "GT_I32",
	LT_I64:           "LT_I64",
	GT_I64:           "GT_I64",
	AND_BOOL:         "AND_BOOL",
	OR_BOOL:          "OR_BOOL",
	NOT_BOOL:         "NOT_BOOL",
	INC_I32:          "INC_I32",
	INC_I64:          "INC_I64",
	CONVERT:          "CONVERT",
	MAKE_ARRAY:       "MAKE_ARRAY",
	ARRAY_LEN:        "ARRAY_LEN",
	INDEX_GET:        "INDEX_GET",
	INDEX_GET_UNSAFE: "INDEX_GET_UNSAFE",
	INDEX_SET:        "INDEX_SET",
	INDEX_SET_UNSAFE: "INDEX_SET_UNSAFE",
	JUMP_SHORT:       "JUMP_SHORT",
	JUMP:             "JUMP",
	JUMP_IF_NOT_R:    "JUMP_IF_NOT_R",
	JUMP_IF_R:        "JUMP_IF_R",
	LOOP:             "LOOP",
	CALL:             "CALL",
	RETURN_R:         "RETURN_R",
	RETURN_VOID:      "RETURN_VOID",
	PRINT_R:          "PRINT_R",
	PRINT_MULTI_R:    "PRINT_MULTI_R",
}

func (op Opcode) String() string {
	if op <= opcodeMax {
		if name := opcodeNames[op]; name != "" {
			return name
		}
	}
	return fmt.Sprintf("illegal op (%d)", uint8(op))
}

// operandLen records the number of operand bytes for each opcode; the total
// encoded size of an instruction is 1 + operandLen.
var operandLen = [...]int{
	HALT:             0,
	LOADK_I32:        3,
	LOADK_I64:        3,
	LOADK_U32:        3,
	LOADK_U64:        3,
	LOADK_F64:        3,
	LOADK_BOOL:       3,
	LOADK_STR:        3,
	LOADK_FUNC:       3,
	LOADK_EXT:        4,
	MOVE:             2,
	MOVE_EXT:         4,
	ADD_I32:          3,
	SUB_I32:          3,
	MUL_I32:          3,
	DIV_I32:          3,
	MOD_I32:          3,
	ADD_I64:          3,
	SUB_I64:          3,
	MUL_I64:          3,
	DIV_I64:          3,
	MOD_I64:          3,
	ADD_U32:          3,
	SUB_U32:          3,
	MUL_U32:          3,
	DIV_U32:          3,
	MOD_U32:          3,
	ADD_U64:          3,
	SUB_U64:          3,
	MUL_U64:          3,
	DIV_U64:          3,
	MOD_U64:          3,
	ADD_F64:          3,
	SUB_F64:          3,
	MUL_F64:          3,
	DIV_F64:          3,
	CONCAT_STR:       3,
	SHL_I32_IMM:      3,
	SHL_I64_IMM:      3,
	NEG_I32:          2,
	NEG_I64:          2,
	NEG_F64:          2,
	EQ_R:             3,
	NEQ_R:            3,
	LT_R:             3,
	LE_R:             3,
	GT_R:             3,
	GE_R:             3,
	LT_I32:           3,
	GT_I32:           3,
	LT_I64:           3,
	GT_I64:           3,
	AND_BOOL:         3,
	OR_BOOL:          3,
	NOT_BOOL:         2,
	INC_I32:          1,
	INC_I64:          1,
	CONVERT:          3,
	MAKE_ARRAY:       3,
	ARRAY_LEN:        2,
	INDEX_GET:        3,
	INDEX_GET_UNSAFE: 3,
	INDEX_SET:        3,
	INDEX_SET_UNSAFE: 3,
	JUMP_SHORT:       1,
	JUMP:             2,
	JUMP_IF_NOT_R:    3,
	JUMP_IF_R:        3,
	LOOP:             2,
	CALL:             4,
	RETURN_R:         1,
	RETURN_VOID:      0,
	PRINT_R:          1,
	PRINT_MULTI_R:    3,
}

// encodedSize returns the full encoded size of an instruction with the
// provided opcode.
func encodedSize(op Opcode) int {
	return 1 + operandLen[op]
}

// isLoadK reports whether the opcode is one of the 8-bit-register constant
// loads.
func isLoadK(op Opcode) bool {
	return op >= LOADK_I32 && op <= LOADK_FUNC
}
