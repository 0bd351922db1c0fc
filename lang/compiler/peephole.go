package compiler

import (
	"math"

	"github.com/mna/vetiver/internal/debuglog"
	"github.com/mna/vetiver/lang/machine"
)

// Peephole runs the post-codegen linear rewrites over a chunk until a pass
// changes nothing, for at most 8 passes: load+move fusion, self-move elimination and
// redundant constant-load elimination. Deletions compact the line, column
// and file maps identically, and every surviving jump operand is recomputed
// against the compacted offsets.
func Peephole(ch *machine.Chunk) {
	before := len(ch.Code)
	for pass := 0; pass < 8; pass++ {
		if !peepholePass(ch) {
			break
		}
	}
	if saved := before - len(ch.Code); saved > 0 {
		debuglog.Logf(debuglog.Peephole, "%s: removed %d byte(s)", ch.Name, saved)
	}
}

// noConst marks a register with no tracked constant.
const noConst = -1

// a deletion marks one instruction removed by the peephole pass.
type deletion struct{ off, size int }

func peepholePass(ch *machine.Chunk) bool {
	code := ch.Code
	targets := jumpTargets(code)
	changed := false

	var dels []deletion
	rewrites := make(map[int]byte) // single operand byte replacements

	// known tracks, per 8-bit register, the pool index of the last constant
	// loaded into it; any opcode outside the modeled set resets everything.
	var known [256]int
	reset := func() {
		for i := range known {
			known[i] = noConst
		}
	}
	reset()

	// tryFuse fuses "op r_tmp, ...; MOVE r_dst, r_tmp" into a single
	// instruction writing r_dst directly, when r_tmp is otherwise dead. It
	// returns the offset to resume scanning at, or -1 if no fusion applies.
	tryFuse := func(i, size int, dst byte) (moveDst byte, resume int) {
		j := i + size
		if j+2 < len(code) && Opcode(code[j]) == MOVE && !targets[j] &&
			code[j+2] == dst && code[j+1] != dst &&
			regDeadFrom(code, targets, j+3, dst) {
			rewrites[i+1] = code[j+1]
			dels = append(dels, deletion{j, encodedSize(MOVE)})
			return code[j+1], j + encodedSize(MOVE)
		}
		return 0, -1
	}

	for i := 0; i < len(code); {
		// another path may enter here with different register contents
		if targets[i] {
			reset()
		}
		op := Opcode(code[i])
		size := encodedSize(op)

		switch {
		case op == MOVE:
			dst, src := code[i+1], code[i+2]
			if dst == src {
				dels = append(dels, deletion{i, size})
			} else {
				known[dst] = known[src]
			}

		case isLoadK(op):
			dst := code[i+1]
			idx := int(code[i+2])<<8 | int(code[i+3])
			if known[dst] == idx {
				// reloading the same constant into the same register
				dels = append(dels, deletion{i, size})
				break
			}
			// a load whose register is rewritten before any read is dead
			if regDeadFrom(code, targets, i+size, dst) {
				dels = append(dels, deletion{i, size})
				break
			}
			if moveDst, resume := tryFuse(i, size, dst); resume >= 0 {
				known[moveDst] = idx
				i = resume
				continue
			}
			known[dst] = idx

		case writesFirstOperand(op):
			dst := code[i+1]
			if folded, ok := foldConstArith(ch, code, i, &known); ok {
				// the instruction was rewritten in place to a constant load
				changed = true
				known[dst] = folded
				break
			}
			if moveDst, resume := tryFuse(i, size, dst); resume >= 0 {
				known[moveDst] = noConst
				i = resume
				continue
			}
			known[dst] = noConst

		case op == INC_I32 || op == INC_I64:
			known[code[i+1]] = noConst

		case op == INDEX_SET, op == INDEX_SET_UNSAFE,
			op == PRINT_R, op == PRINT_MULTI_R,
			op == RETURN_R, op == RETURN_VOID:
			// no register writes

		default:
			// jumps, calls, extended forms and anything else invalidate all
			// tracked state
			reset()
		}
		i += size
	}

	if len(dels) > 0 || len(rewrites) > 0 {
		compact(ch, dels, rewrites)
		changed = true
	}
	return changed
}

// foldConstArith folds a typed arithmetic instruction whose source
// registers both hold tracked constants, rewriting it in place to the
// equivalent constant load (both encode as op + 3 operand bytes). Only
// temporary registers are trusted for folding; named variables keep their
// runtime computation. It returns the pool index of the folded constant.
func foldConstArith(ch *machine.Chunk, code []byte, i int, known *[256]int) (int, bool) {
	op := Opcode(code[i])
	if op < ADD_I32 || op > DIV_F64 {
		return 0, false
	}
	a, b := code[i+2], code[i+3]
	if Reg(a) < TempBase || Reg(b) < TempBase {
		return 0, false
	}
	ka, kb := known[a], known[b]
	if ka == noConst || kb == noConst || ka >= len(ch.Constants) || kb >= len(ch.Constants) {
		return 0, false
	}
	v, ok := foldArith(op, ch.Constants[ka], ch.Constants[kb])
	if !ok {
		return 0, false
	}
	idx, ok := chunkConstant(ch, v)
	if !ok {
		return 0, false
	}
	code[i] = byte(loadOpcode(v.Kind()))
	// code[i+1] (the destination) is unchanged
	code[i+2], code[i+3] = byte(idx>>8), byte(idx)
	return idx, true
}

// chunkConstant returns the pool index of v in the chunk's constants,
// appending it if absent.
func chunkConstant(ch *machine.Chunk, v machine.Value) (int, bool) {
	for i, c := range ch.Constants {
		if c == v {
			return i, true
		}
	}
	if len(ch.Constants) >= maxConstants {
		return 0, false
	}
	ch.Constants = append(ch.Constants, v)
	return len(ch.Constants) - 1, true
}

// foldArith computes a binary arithmetic opcode over two constant values.
func foldArith(op Opcode, a, b machine.Value) (machine.Value, bool) {
	switch op {
	case ADD_I32, SUB_I32, MUL_I32, DIV_I32, MOD_I32:
		return foldI64(op-ADD_I32, int64(a.AsI32()), int64(b.AsI32()), machine.KindI32)
	case ADD_I64, SUB_I64, MUL_I64, DIV_I64, MOD_I64:
		return foldI64(op-ADD_I64, a.AsI64(), b.AsI64(), machine.KindI64)
	case ADD_U32, SUB_U32, MUL_U32, DIV_U32, MOD_U32:
		return foldU64(op-ADD_U32, uint64(a.AsU32()), uint64(b.AsU32()), machine.KindU32)
	case ADD_U64, SUB_U64, MUL_U64, DIV_U64, MOD_U64:
		return foldU64(op-ADD_U64, a.AsU64(), b.AsU64(), machine.KindU64)
	case ADD_F64, SUB_F64, MUL_F64, DIV_F64:
		x, y := a.AsF64(), b.AsF64()
		switch op {
		case ADD_F64:
			return machine.F64(x + y), true
		case SUB_F64:
			return machine.F64(x - y), true
		case MUL_F64:
			return machine.F64(x * y), true
		default:
			if y == 0 {
				return machine.Value{}, false
			}
			return machine.F64(x / y), true
		}
	}
	return machine.Value{}, false
}

func foldI64(rel Opcode, x, y int64, k machine.Kind) (machine.Value, bool) {
	var v int64
	switch rel {
	case 0:
		v = x + y
	case 1:
		v = x - y
	case 2:
		v = x * y
	case 3:
		if y == 0 || (y == -1 && x == math.MinInt64) {
			return machine.Value{}, false
		}
		v = x / y
	case 4:
		if y == 0 || (y == -1 && x == math.MinInt64) {
			return machine.Value{}, false
		}
		v = x % y
	}
	if k == machine.KindI32 {
		return machine.I32(int32(v)), true
	}
	return machine.I64(v), true
}

func foldU64(rel Opcode, x, y uint64, k machine.Kind) (machine.Value, bool) {
	var v uint64
	switch rel {
	case 0:
		v = x + y
	case 1:
		v = x - y
	case 2:
		v = x * y
	case 3:
		if y == 0 {
			return machine.Value{}, false
		}
		v = x / y
	case 4:
		if y == 0 {
			return machine.Value{}, false
		}
		v = x % y
	}
	if k == machine.KindU32 {
		return machine.U32(uint32(v)), true
	}
	return machine.U64(v), true
}

// writesFirstOperand reports whether the opcode's first operand byte is a
// plain destination register (and its only write).
func writesFirstOperand(op Opcode) bool {
	switch op {
	case CONCAT_STR, SHL_I32_IMM, SHL_I64_IMM,
		NEG_I32, NEG_I64, NEG_F64,
		EQ_R, NEQ_R, LT_R, LE_R, GT_R, GE_R,
		LT_I32, GT_I32, LT_I64, GT_I64,
		AND_BOOL, OR_BOOL, NOT_BOOL,
		CONVERT, MAKE_ARRAY, ARRAY_LEN,
		INDEX_GET, INDEX_GET_UNSAFE:
		return true
	}
	return op >= ADD_I32 && op <= DIV_F64
}

// jumpTargets collects the offsets every jump in the stream resolves to.
func jumpTargets(code []byte) map[int]bool {
	targets := make(map[int]bool)
	for i := 0; i < len(code); {
		op := Opcode(code[i])
		switch op {
		case JUMP_SHORT:
			targets[i+2+int(code[i+1])] = true
		case JUMP:
			targets[i+3+(int(code[i+1])<<8|int(code[i+2]))] = true
		case JUMP_IF_NOT_R, JUMP_IF_R:
			targets[i+4+(int(code[i+2])<<8|int(code[i+3]))] = true
		case LOOP:
			targets[i+3-(int(code[i+1])<<8|int(code[i+2]))] = true
		}
		i += encodedSize(op)
	}
	return targets
}

// regDeadFrom scans forward from off and reports whether the register is
// written before any read. Control flow and jump targets end the scan
// conservatively: a register that might be live across a jump is treated as
// live. The one exception is a backward LOOP when the register is a
// statement-local temporary: the code generator frees temporaries at the
// end of each statement, so a temp never carries a value across a loop
// back-edge.
func regDeadFrom(code []byte, targets map[int]bool, off int, reg byte) bool {
	for i := off; i < len(code); {
		if targets[i] {
			return false
		}
		op := Opcode(code[i])
		size := encodedSize(op)

		switch op {
		case JUMP, JUMP_SHORT, JUMP_IF_NOT_R, JUMP_IF_R, CALL,
			LOADK_EXT, MOVE_EXT:
			return false
		case LOOP:
			return Reg(reg) >= TempBase && Reg(reg) < ScratchMin
		case RETURN_VOID, HALT:
			// the frame ends; nothing reads the register anymore
			return true
		case RETURN_R:
			return code[i+1] != reg
		}

		reads, writes := regOperands(code, i)
		for _, r := range reads {
			if r == reg {
				return false
			}
		}
		for _, w := range writes {
			if w == reg {
				return true
			}
		}
		i += size
	}
	return true
}

// regOperands decodes the 8-bit register reads and writes of the
// instruction at off.
func regOperands(code []byte, off int) (reads, writes []byte) {
	op := Opcode(code[off])
	o := func(i int) byte { return code[off+1+i] }

	switch {
	case isLoadK(op):
		return nil, []byte{o(0)}
	case op == MOVE:
		return []byte{o(1)}, []byte{o(0)}
	case op >= ADD_I32 && op <= DIV_F64, op == CONCAT_STR,
		op == EQ_R, op == NEQ_R, op == LT_R, op == LE_R, op == GT_R, op == GE_R,
		op == LT_I32, op == GT_I32, op == LT_I64, op == GT_I64,
		op == AND_BOOL, op == OR_BOOL,
		op == INDEX_GET, op == INDEX_GET_UNSAFE:
		return []byte{o(1), o(2)}, []byte{o(0)}
	case op == SHL_I32_IMM, op == SHL_I64_IMM, op == CONVERT,
		op == NEG_I32, op == NEG_I64, op == NEG_F64,
		op == NOT_BOOL, op == ARRAY_LEN:
		return []byte{o(1)}, []byte{o(0)}
	case op == INC_I32, op == INC_I64:
		return []byte{o(0)}, []byte{o(0)}
	case op == INDEX_SET, op == INDEX_SET_UNSAFE:
		return []byte{o(0), o(1), o(2)}, nil
	case op == MAKE_ARRAY:
		reads = rangeRegs(o(1), o(2))
		return reads, []byte{o(0)}
	case op == CALL:
		reads = append([]byte{o(0)}, rangeRegs(o(1), o(2))...)
		return reads, []byte{o(3)}
	case op == PRINT_R, op == RETURN_R:
		return []byte{o(0)}, nil
	case op == PRINT_MULTI_R:
		return rangeRegs(o(0), o(1)), nil
	case op == JUMP_IF_NOT_R, op == JUMP_IF_R:
		return []byte{o(0)}, nil
	}
	return nil, nil
}

func rangeRegs(first, count byte) []byte {
	regs := make([]byte, 0, count)
	for i := byte(0); i < count; i++ {
		regs = append(regs, first+i)
	}
	return regs
}

// compact rebuilds the chunk's code and parallel maps with the deletions
// and operand rewrites applied, then recomputes every jump operand against
// the new offsets.
func compact(ch *machine.Chunk, dels []deletion, rewrites map[int]byte) {
	deleted := make(map[int]int, len(dels)) // instruction offset -> size
	for _, d := range dels {
		deleted[d.off] = d.size
	}

	// resolve every jump target in old coordinates before moving bytes
	type jumpInfo struct {
		oldOff int
		target int // old coordinates
	}
	var jumps []jumpInfo
	for i := 0; i < len(ch.Code); {
		op := Opcode(ch.Code[i])
		size := encodedSize(op)
		if _, gone := deleted[i]; !gone {
			switch op {
			case JUMP_SHORT:
				rel := int(ch.Code[i+1])
				jumps = append(jumps, jumpInfo{i, i + 2 + rel})
			case JUMP:
				rel := int(ch.Code[i+1])<<8 | int(ch.Code[i+2])
				jumps = append(jumps, jumpInfo{i, i + 3 + rel})
			case JUMP_IF_NOT_R, JUMP_IF_R:
				rel := int(ch.Code[i+2])<<8 | int(ch.Code[i+3])
				jumps = append(jumps, jumpInfo{i, i + 4 + rel})
			case LOOP:
				dist := int(ch.Code[i+1])<<8 | int(ch.Code[i+2])
				jumps = append(jumps, jumpInfo{i, i + 3 - dist})
			}
		}
		i += size
	}

	// rebuild, tracking old-offset -> new-offset
	newOff := make([]int, len(ch.Code)+1)
	newCode := make([]byte, 0, len(ch.Code))
	newLines := make([]int32, 0, len(ch.Lines))
	newCols := make([]int32, 0, len(ch.Cols))
	newFiles := ch.Files[:0:0]
	for i := 0; i < len(ch.Code); {
		op := Opcode(ch.Code[i])
		size := encodedSize(op)
		newOff[i] = len(newCode)
		if skip, gone := deleted[i]; gone {
			i += skip
			continue
		}
		for b := i; b < i+size; b++ {
			v := ch.Code[b]
			if rv, ok := rewrites[b]; ok {
				v = rv
			}
			newCode = append(newCode, v)
			newLines = append(newLines, ch.Lines[b])
			newCols = append(newCols, ch.Cols[b])
			newFiles = append(newFiles, ch.Files[b])
		}
		i += size
	}
	newOff[len(ch.Code)] = len(newCode)

	// recompute jump operands in the compacted stream
	for _, j := range jumps {
		op := Opcode(ch.Code[j.oldOff])
		no := newOffAt(newOff, j.oldOff)
		nt := newOffAt(newOff, j.target)
		switch op {
		case JUMP_SHORT:
			newCode[no+1] = byte(nt - (no + 2))
		case JUMP:
			rel := nt - (no + 3)
			newCode[no+1], newCode[no+2] = byte(rel>>8), byte(rel)
		case JUMP_IF_NOT_R, JUMP_IF_R:
			rel := nt - (no + 4)
			newCode[no+2], newCode[no+3] = byte(rel>>8), byte(rel)
		case LOOP:
			dist := (no + 3) - nt
			newCode[no+1], newCode[no+2] = byte(dist>>8), byte(dist)
		}
	}

	ch.Code = newCode
	ch.Lines = newLines
	ch.Cols = newCols
	ch.Files = newFiles
}

func newOffAt(newOff []int, old int) int {
	if old < 0 {
		return 0
	}
	if old >= len(newOff) {
		return newOff[len(newOff)-1]
	}
	return newOff[old]
}
