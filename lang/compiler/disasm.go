package compiler

import (
	"fmt"
	"strings"

	"github.com/mna/vetiver/lang/machine"
)

// Disassemble renders the chunk's bytecode as text, one instruction per
// line: offset, opcode, operands, and for constant loads and jumps a
// comment with the pooled value or the resolved target. The output is the
// textual form printed by the selfcheck command and used by tests.
func Disassemble(ch *machine.Chunk) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "%s: %d byte(s), %d constant(s)\n", ch.Name, len(ch.Code), len(ch.Constants))
	code := ch.Code
	for i := 0; i < len(code); {
		op := Opcode(code[i])
		size := encodedSize(op)
		if i+size > len(code) {
			fmt.Fprintf(&sb, "%04d  <truncated %s>\n", i, op)
			break
		}
		fmt.Fprintf(&sb, "%04d  %s", i, op)
		for b := i + 1; b < i+size; b++ {
			fmt.Fprintf(&sb, " %d", code[b])
		}
		if c := instrComment(ch, i, op); c != "" {
			fmt.Fprintf(&sb, "  ; %s", c)
		}
		sb.WriteByte('\n')
		i += size
	}
	for _, fn := range ch.Functions {
		sb.WriteByte('\n')
		sb.WriteString(Disassemble(fn))
	}
	return sb.String()
}

func instrComment(ch *machine.Chunk, off int, op Opcode) string {
	code := ch.Code
	switch {
	case isLoadK(op):
		idx := int(code[off+2])<<8 | int(code[off+3])
		if idx < len(ch.Constants) {
			return ch.Constants[idx].String()
		}
	case op == LOADK_EXT:
		idx := int(code[off+3])<<8 | int(code[off+4])
		if idx < len(ch.Constants) {
			return ch.Constants[idx].String()
		}
	case op == JUMP_SHORT:
		return fmt.Sprintf("-> %04d", off+2+int(code[off+1]))
	case op == JUMP:
		return fmt.Sprintf("-> %04d", off+3+(int(code[off+1])<<8|int(code[off+2])))
	case op == JUMP_IF_NOT_R || op == JUMP_IF_R:
		return fmt.Sprintf("-> %04d", off+4+(int(code[off+2])<<8|int(code[off+3])))
	case op == LOOP:
		return fmt.Sprintf("-> %04d", off+3-(int(code[off+1])<<8|int(code[off+2])))
	}
	return ""
}

// An Instr is one decoded instruction of a chunk.
type Instr struct {
	Off      int
	Op       Opcode
	Operands []byte
}

// Decode splits the chunk's byte stream into instructions.
func Decode(ch *machine.Chunk) []Instr {
	var instrs []Instr
	for i := 0; i < len(ch.Code); {
		op := Opcode(ch.Code[i])
		size := encodedSize(op)
		instrs = append(instrs, Instr{Off: i, Op: op, Operands: ch.Code[i+1 : i+size]})
		i += size
	}
	return instrs
}

// Target resolves a decoded jump instruction to its absolute target offset;
// ok is false for non-jump instructions.
func (in Instr) Target() (target int, ok bool) {
	switch in.Op {
	case JUMP_SHORT:
		return in.Off + 2 + int(in.Operands[0]), true
	case JUMP:
		return in.Off + 3 + (int(in.Operands[0])<<8 | int(in.Operands[1])), true
	case JUMP_IF_NOT_R, JUMP_IF_R:
		return in.Off + 4 + (int(in.Operands[1])<<8 | int(in.Operands[2])), true
	case LOOP:
		return in.Off + 3 - (int(in.Operands[0])<<8 | int(in.Operands[1])), true
	}
	return 0, false
}

// Opcodes returns the decoded opcode sequence of the chunk, for tests that
// assert on instruction shape rather than exact bytes.
func Opcodes(ch *machine.Chunk) []Opcode {
	var ops []Opcode
	for i := 0; i < len(ch.Code); i += encodedSize(Opcode(ch.Code[i])) {
		ops = append(ops, Opcode(ch.Code[i]))
	}
	return ops
}
