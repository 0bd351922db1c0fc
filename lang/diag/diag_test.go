package diag

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mna/vetiver/lang/token"
)

func TestListCollectsAndSorts(t *testing.T) {
	var l List
	l.Add(TypeMismatch, token.Position{Filename: "a.vtv", Line: 5, Col: 1}, "later")
	l.Add(UnboundVariable, token.Position{Filename: "a.vtv", Line: 2, Col: 3}, "undefined: %s", "x")

	l.Sort()
	require.Len(t, l, 2)
	assert.Equal(t, UnboundVariable, l[0].Code)
	assert.Equal(t, "undefined: x", l[0].Message)
	assert.Equal(t, TypeMismatch, l[1].Code)
}

func TestListErr(t *testing.T) {
	var l List
	assert.NoError(t, l.Err())

	l.Report(Diagnostic{Code: UnboundVariable, Severity: Warning})
	assert.NoError(t, l.Err(), "warnings alone are not an error")

	l.Add(TypeMismatch, token.Position{}, "boom")
	err := l.Err()
	require.Error(t, err)
	assert.True(t, l.HasErrors())
	assert.Contains(t, err.Error(), "boom")
	assert.Contains(t, err.Error(), "[TypeMismatch]")
}

func TestReporterFunc(t *testing.T) {
	var got []Diagnostic
	r := ReporterFunc(func(d Diagnostic) { got = append(got, d) })
	r.Report(Diagnostic{Code: CompilerBug, Message: "x"})
	require.Len(t, got, 1)
	assert.Equal(t, CompilerBug, got[0].Code)
}

func TestDiagnosticError(t *testing.T) {
	d := Diagnostic{
		Code:     JumpOutOfRange,
		Severity: Error,
		Pos:      token.Position{Filename: "m.vtv", Line: 9, Col: 2},
		Message:  "jump offset out of range",
	}
	assert.Equal(t, "m.vtv:9:2: error: jump offset out of range [JumpOutOfRange]", d.Error())
}
