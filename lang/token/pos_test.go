package token

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPosRoundTrip(t *testing.T) {
	cases := []struct{ line, col int }{
		{1, 1},
		{123, 45},
		{MaxLines, MaxCols},
	}
	for _, c := range cases {
		p := MakePos(c.line, c.col)
		l, col := p.LineCol()
		assert.Equal(t, c.line, l)
		assert.Equal(t, c.col, col)
		assert.False(t, p.Unknown())
	}

	assert.True(t, Pos(0).Unknown())
	assert.True(t, MakePos(0, 3).Unknown())
	assert.True(t, MakePos(3, 0).Unknown())
}

func TestPositionString(t *testing.T) {
	assert.Equal(t, "a.vtv:3:7", Position{Filename: "a.vtv", Line: 3, Col: 7}.String())
	assert.Equal(t, "a.vtv:3", Position{Filename: "a.vtv", Line: 3}.String())
	assert.Equal(t, "a.vtv", Position{Filename: "a.vtv"}.String())
	assert.Equal(t, "3:7", Position{Line: 3, Col: 7}.String())
	assert.Equal(t, "-", Position{}.String())
}

func TestPositionBefore(t *testing.T) {
	a := Position{Filename: "a", Line: 2, Col: 2}
	assert.True(t, a.Before(Position{Filename: "b", Line: 1, Col: 1}))
	assert.True(t, a.Before(Position{Filename: "a", Line: 3, Col: 1}))
	assert.True(t, a.Before(Position{Filename: "a", Line: 2, Col: 3}))
	assert.False(t, a.Before(a))
}

func TestFileSet(t *testing.T) {
	fs := NewFileSet()
	id1 := fs.AddFile("main.vtv")
	id2 := fs.AddFile("lib.vtv")

	assert.Equal(t, "main.vtv", fs.Name(id1))
	assert.Equal(t, "lib.vtv", fs.Name(id2))
	assert.Equal(t, "", fs.Name(FileID(99)))

	pos := fs.Position(id2, MakePos(4, 9))
	assert.Equal(t, Position{Filename: "lib.vtv", Line: 4, Col: 9}, pos)
}
