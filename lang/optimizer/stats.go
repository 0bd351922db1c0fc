package optimizer

import (
	"fmt"
	"strings"

	"github.com/dustin/go-humanize"
)

// Stats accumulates optimization counters for one compilation. It is owned
// by the compiler context and exposed through the Stats field of the
// compilation result; nothing global.
type Stats struct {
	LoopsAnalyzed           int
	ConstantRanges          int
	LoopsUnrolled           int
	InvariantsFound         int
	InvariantsHoisted       int
	ReductionsFound         int
	ReductionsApplied       int
	BoundsChecksElided      int
	OptimizationsRolledBack int
}

// String renders the counters for the statistics flag.
func (s *Stats) String() string {
	var sb strings.Builder
	line := func(label string, v int) {
		fmt.Fprintf(&sb, "%-28s %s\n", label, humanize.Comma(int64(v)))
	}
	line("loops analyzed:", s.LoopsAnalyzed)
	line("constant ranges:", s.ConstantRanges)
	line("loops unrolled:", s.LoopsUnrolled)
	line("invariants found:", s.InvariantsFound)
	line("invariants hoisted:", s.InvariantsHoisted)
	line("reductions found:", s.ReductionsFound)
	line("reductions applied:", s.ReductionsApplied)
	line("bounds checks elided:", s.BoundsChecksElided)
	line("optimizations rolled back:", s.OptimizationsRolledBack)
	return sb.String()
}
