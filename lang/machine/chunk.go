package machine

import "github.com/mna/vetiver/lang/token"

// A Chunk is the executable form of one compiled function (or of the
// top-level program, which behaves as a zero-parameter function). The
// compiler transfers ownership of the chunk to the VM once compilation of
// the unit succeeds; a unit that produced any diagnostic transfers nothing.
type Chunk struct {
	// Name of the function, "<main>" for the top-level chunk.
	Name string

	// Code is the linear bytecode stream: one opcode byte followed by its
	// operand bytes.
	Code []byte

	// Constants is the deduplicated literal pool referenced by the load
	// instructions. Indices are 16-bit.
	Constants []Value

	// Lines, Cols and Files are parallel to Code, one entry per byte;
	// operand bytes repeat the owning instruction's location.
	Lines []int32
	Cols  []int32
	Files []token.FileID

	// NumParams is the number of declared parameters, bound to the first
	// frame registers on call.
	NumParams int

	// FrameSize is the high-water mark of frame registers used by the chunk.
	FrameSize int

	// SpillSlots is the number of spill slots the VM must back with memory
	// for this chunk. Zero for most programs.
	SpillSlots int

	// Functions is the unit's function table; populated only on the
	// top-level chunk, in declaration order. CALL resolves function constant
	// references through this table.
	Functions []*Chunk
}

// PositionAt resolves the source position of the instruction byte at offset
// off, using the provided file set for the name.
func (c *Chunk) PositionAt(fs *token.FileSet, off int) token.Position {
	if off < 0 || off >= len(c.Lines) {
		return token.Position{}
	}
	return token.Position{
		Filename: fs.Name(c.Files[off]),
		Line:     int(c.Lines[off]),
		Col:      int(c.Cols[off]),
	}
}
