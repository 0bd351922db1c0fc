// Package diag defines the diagnostic data model produced by the compiler.
// The compiler never renders diagnostics itself; it hands them to an external
// reporter with a stable code taxonomy, a severity, a source position and the
// message parts. A sortable List collects multiple diagnostics so that type
// inference can report every error in a unit before halting.
package diag

import (
	"fmt"
	"sort"
	"strings"

	"github.com/mna/vetiver/lang/token"
)

// Code identifies the kind of a diagnostic. Codes are stable across
// releases; tooling may match on them.
type Code string

// Type-level diagnostic codes.
const (
	UnboundVariable        Code = "UnboundVariable"
	TypeMismatch           Code = "TypeMismatch"
	ArityMismatch          Code = "ArityMismatch"
	OccursCheck            Code = "OccursCheck"
	ImmutableAssignment    Code = "ImmutableAssignment"
	UnsupportedOperation   Code = "UnsupportedOperation"
	TypeAnnotationRequired Code = "TypeAnnotationRequired"
)

// Lowering diagnostic codes.
const (
	TooManyLocals             Code = "TooManyLocals"
	RegisterPressureExhausted Code = "RegisterPressureExhausted"
	JumpOutOfRange            Code = "JumpOutOfRange"
	ControlFlowOutsideLoop    Code = "ControlFlowOutsideLoop"
	UndefinedLabel            Code = "UndefinedLabel"
)

// CompilerBug reports an internal invariant violation.
const CompilerBug Code = "CompilerBug"

// Severity of a diagnostic.
type Severity uint8

// List of severities.
const (
	Error Severity = iota
	Warning
	Note
)

var severityNames = [...]string{
	Error:   "error",
	Warning: "warning",
	Note:    "note",
}

func (s Severity) String() string {
	if int(s) >= len(severityNames) {
		return fmt.Sprintf("<invalid Severity %d>", s)
	}
	return severityNames[s]
}

// A Diagnostic is a single compiler message tied to a source position.
type Diagnostic struct {
	Code     Code
	Severity Severity
	Pos      token.Position
	Message  string

	// Help and Note are optional secondary messages; Help suggests a fix,
	// Note adds context.
	Help string
	Note string
}

// Error implements the error interface; the rendering is deliberately plain,
// full rendering belongs to the host's reporter.
func (d Diagnostic) Error() string {
	return fmt.Sprintf("%s: %s: %s [%s]", d.Pos, d.Severity, d.Message, d.Code)
}

// A Reporter receives diagnostics as they are produced. Implementations are
// provided by the embedding host (CLI, LSP, tests).
type Reporter interface {
	Report(d Diagnostic)
}

// ReporterFunc adapts a function to the Reporter interface.
type ReporterFunc func(d Diagnostic)

// Report implements Reporter.
func (f ReporterFunc) Report(d Diagnostic) { f(d) }

// A List is a collection of diagnostics that both records and implements
// error. The zero value is ready to use.
type List []Diagnostic

var _ Reporter = (*List)(nil)

// Report implements Reporter by appending to the list.
func (l *List) Report(d Diagnostic) { *l = append(*l, d) }

// Add appends an error-severity diagnostic built from the arguments.
func (l *List) Add(code Code, pos token.Position, format string, args ...interface{}) {
	*l = append(*l, Diagnostic{
		Code:     code,
		Severity: Error,
		Pos:      pos,
		Message:  fmt.Sprintf(format, args...),
	})
}

// Sort orders the list by source position, then by code for diagnostics at
// the same position.
func (l List) Sort() {
	sort.SliceStable(l, func(i, j int) bool {
		if l[i].Pos != l[j].Pos {
			return l[i].Pos.Before(l[j].Pos)
		}
		return l[i].Code < l[j].Code
	})
}

// HasErrors returns true if at least one diagnostic has Error severity.
func (l List) HasErrors() bool {
	for _, d := range l {
		if d.Severity == Error {
			return true
		}
	}
	return false
}

// Err returns the list as an error, or nil if it contains no error-severity
// diagnostic.
func (l List) Err() error {
	if !l.HasErrors() {
		return nil
	}
	return l
}

// Error implements the error interface, one diagnostic per line.
func (l List) Error() string {
	var sb strings.Builder
	for i, d := range l {
		if i > 0 {
			sb.WriteByte('\n')
		}
		sb.WriteString(d.Error())
	}
	return sb.String()
}
