package compiler

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mna/vetiver/lang/machine"
	"github.com/mna/vetiver/lang/token"
)

// buildChunk assembles a chunk from instructions, with uniform line maps.
func buildChunk(constants []machine.Value, instrs ...[]byte) *machine.Chunk {
	ch := &machine.Chunk{Name: "test", Constants: constants}
	for _, in := range instrs {
		for range in {
			ch.Lines = append(ch.Lines, 1)
			ch.Cols = append(ch.Cols, 1)
			ch.Files = append(ch.Files, token.FileID(0))
		}
		ch.Code = append(ch.Code, in...)
	}
	return ch
}

func ins(op Opcode, operands ...byte) []byte {
	return append([]byte{byte(op)}, operands...)
}

func TestPeepholeSelfMove(t *testing.T) {
	ch := buildChunk(nil,
		ins(MOVE, 5, 5),
		ins(HALT),
	)
	Peephole(ch)
	assert.Equal(t, []byte{byte(HALT)}, ch.Code)
	assert.Len(t, ch.Lines, len(ch.Code))
}

func TestPeepholeLoadMoveFusion(t *testing.T) {
	// LOAD_I32_CONST r192, 5; MOVE r64, r192 with r192 otherwise dead
	ch := buildChunk([]machine.Value{machine.I32(5)},
		ins(LOADK_I32, 192, 0, 0),
		ins(MOVE, 64, 192),
		ins(PRINT_R, 64),
		ins(HALT),
	)
	before := len(ch.Code)
	Peephole(ch)

	// a single fused load; the byte count decreased by one MOVE
	assert.Equal(t, before-3, len(ch.Code))
	require.Equal(t, byte(LOADK_I32), ch.Code[0])
	assert.Equal(t, byte(64), ch.Code[1])
	assert.Equal(t, []Opcode{LOADK_I32, PRINT_R, HALT}, Opcodes(ch))
	assert.Len(t, ch.Lines, len(ch.Code))
}

func TestPeepholeFusionKeepsLiveTemp(t *testing.T) {
	// r192 is read again after the move: no fusion
	ch := buildChunk([]machine.Value{machine.I32(5)},
		ins(LOADK_I32, 192, 0, 0),
		ins(MOVE, 64, 192),
		ins(PRINT_R, 192),
		ins(HALT),
	)
	Peephole(ch)
	assert.Equal(t, []Opcode{LOADK_I32, MOVE, PRINT_R, HALT}, Opcodes(ch))
}

func TestPeepholeConstantDedup(t *testing.T) {
	ch := buildChunk([]machine.Value{machine.I32(5)},
		ins(LOADK_I32, 7, 0, 0),
		ins(PRINT_R, 7),
		ins(LOADK_I32, 7, 0, 0),
		ins(PRINT_R, 7),
		ins(HALT),
	)
	Peephole(ch)
	assert.Equal(t, []Opcode{LOADK_I32, PRINT_R, PRINT_R, HALT}, Opcodes(ch))
}

func TestPeepholeMovePropagatesConstant(t *testing.T) {
	// MOVE copies the tracked constant: the second load of k0 into r8 after
	// MOVE r8, r7 is redundant
	ch := buildChunk([]machine.Value{machine.I32(5)},
		ins(LOADK_I32, 7, 0, 0),
		ins(PRINT_R, 7),
		ins(MOVE, 8, 7),
		ins(LOADK_I32, 8, 0, 0),
		ins(PRINT_R, 8),
		ins(PRINT_R, 7),
		ins(HALT),
	)
	Peephole(ch)
	assert.Equal(t, []Opcode{LOADK_I32, PRINT_R, MOVE, PRINT_R, PRINT_R, HALT}, Opcodes(ch))
}

func TestPeepholeWriteInvalidatesTracking(t *testing.T) {
	ch := buildChunk([]machine.Value{machine.I32(5), machine.I32(9)},
		ins(LOADK_I32, 7, 0, 0),
		ins(PRINT_R, 7),
		ins(LOADK_I32, 7, 0, 1), // different constant: kept
		ins(PRINT_R, 7),
		ins(LOADK_I32, 7, 0, 0), // 5 again, but 7 now holds 9: kept
		ins(PRINT_R, 7),
		ins(HALT),
	)
	Peephole(ch)
	assert.Equal(t, []Opcode{
		LOADK_I32, PRINT_R, LOADK_I32, PRINT_R, LOADK_I32, PRINT_R, HALT,
	}, Opcodes(ch))
}

func TestPeepholeJumpInvalidatesTracking(t *testing.T) {
	// the second load is behind a jump target: it must be kept
	ch := buildChunk([]machine.Value{machine.I32(5)},
		ins(LOADK_I32, 7, 0, 0),
		ins(JUMP, 0, 0), // falls through to the next instruction
		ins(LOADK_I32, 7, 0, 0),
		ins(PRINT_R, 7),
		ins(HALT),
	)
	Peephole(ch)
	ops := Opcodes(ch)
	assert.Equal(t, []Opcode{LOADK_I32, JUMP, LOADK_I32, PRINT_R, HALT}, ops)
}

func TestPeepholeDeadLoadElimination(t *testing.T) {
	// r9 is rewritten before any read: the first load is dead
	ch := buildChunk([]machine.Value{machine.I32(1), machine.I32(2)},
		ins(LOADK_I32, 9, 0, 0),
		ins(LOADK_I32, 9, 0, 1),
		ins(PRINT_R, 9),
		ins(HALT),
	)
	Peephole(ch)
	assert.Equal(t, []Opcode{LOADK_I32, PRINT_R, HALT}, Opcodes(ch))
	assert.Equal(t, byte(1), ch.Code[3]) // the surviving load is k1
}

func TestPeepholeConstantFolding(t *testing.T) {
	// both operands are known-constant temporaries: the multiply folds and
	// its operand loads become dead
	ch := buildChunk([]machine.Value{machine.I32(3), machine.I32(4)},
		ins(LOADK_I32, 192, 0, 0),
		ins(LOADK_I32, 193, 0, 1),
		ins(MUL_I32, 194, 192, 193),
		ins(PRINT_R, 194),
		ins(HALT),
	)
	Peephole(ch)
	require.Equal(t, []Opcode{LOADK_I32, PRINT_R, HALT}, Opcodes(ch))
	idx := int(ch.Code[2])<<8 | int(ch.Code[3])
	assert.Equal(t, machine.I32(12), ch.Constants[idx])
}

func TestPeepholeNoFoldingForVariables(t *testing.T) {
	// source registers below the temporary window are named variables;
	// their arithmetic is not folded
	ch := buildChunk([]machine.Value{machine.I32(3), machine.I32(4)},
		ins(LOADK_I32, 64, 0, 0),
		ins(LOADK_I32, 65, 0, 1),
		ins(MUL_I32, 194, 64, 65),
		ins(PRINT_R, 194),
		ins(PRINT_R, 64),
		ins(PRINT_R, 65),
		ins(HALT),
	)
	Peephole(ch)
	assert.Contains(t, Opcodes(ch), MUL_I32)
}

func TestPeepholePreservesJumpTargetsAcrossDeletion(t *testing.T) {
	// a forward jump spans a deleted self-move; its offset must shrink
	ch := buildChunk([]machine.Value{machine.I32(5)},
		ins(JUMP, 0, 7), // over the next two instructions, to PRINT at 10
		ins(MOVE, 5, 5), // deleted
		ins(LOADK_I32, 7, 0, 0),
		ins(PRINT_R, 7),
		ins(HALT),
	)
	// sanity: target before peephole
	instrs := Decode(ch)
	tgt, ok := instrs[0].Target()
	require.True(t, ok)
	require.Equal(t, 10, tgt)

	Peephole(ch)
	instrs = Decode(ch)
	require.Equal(t, JUMP, instrs[0].Op)
	tgt, ok = instrs[0].Target()
	require.True(t, ok)
	// the LOADK survives (it is behind a jump target... the jump target is
	// the PRINT), and the deleted MOVE shrank the span by 3
	var printOff int
	for _, in := range instrs {
		if in.Op == PRINT_R {
			printOff = in.Off
		}
	}
	assert.Equal(t, printOff, tgt)
	assert.Len(t, ch.Lines, len(ch.Code))
}

func TestPeepholeIdempotent(t *testing.T) {
	ch := buildChunk([]machine.Value{machine.I32(5)},
		ins(LOADK_I32, 192, 0, 0),
		ins(MOVE, 64, 192),
		ins(MOVE, 3, 3),
		ins(PRINT_R, 64),
		ins(HALT),
	)
	Peephole(ch)
	once := append([]byte(nil), ch.Code...)
	Peephole(ch)
	assert.Equal(t, once, ch.Code)
}
