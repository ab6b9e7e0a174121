package grade

import (
	"fmt"
	"sort"

	"github.com/markbook/markbook/pkg/types"
)

// Issue kinds reported by Check.
const (
	IssueGap      = "gap"
	IssueOverlap  = "overlap"
	IssueInverted = "inverted"
	IssueEmpty    = "empty"
)

// Issue is one coverage problem in a band table.
type Issue struct {
	Kind   string   `json:"kind"`
	Grades []string `json:"grades,omitempty"`
	From   float64  `json:"from"`
	To     float64  `json:"to"`
}

// String renders the issue for logs and diagnostics.
func (i Issue) String() string {
	switch i.Kind {
	case IssueGap:
		return fmt.Sprintf("no band covers (%.2f, %.2f)", i.From, i.To)
	case IssueOverlap:
		return fmt.Sprintf("bands %v overlap on [%.2f, %.2f]", i.Grades, i.From, i.To)
	case IssueInverted:
		return fmt.Sprintf("band %v has min %.2f above max %.2f", i.Grades, i.From, i.To)
	default:
		return "no grade bands configured"
	}
}

// Coverage is the result of Check.
type Coverage struct {
	Issues []Issue `json:"issues"`
}

// OK reports whether the table covers [0, 100] without overlaps.
func (c Coverage) OK() bool { return len(c.Issues) == 0 }

// gapTolerance absorbs the conventional 0.01 step between adjacent bands,
// e.g. "A: 80–89.99" followed by "A+: 90–100".
const gapTolerance = 0.01 + 1e-9

// Check inspects bands for gaps in [0, 100], overlaps and inverted ranges.
// Resolution works regardless; Check only feeds diagnostics.
func Check(bands []types.GradeBand) Coverage {
	var cov Coverage
	if len(bands) == 0 {
		cov.Issues = append(cov.Issues, Issue{Kind: IssueEmpty, From: 0, To: 100})
		return cov
	}

	valid := make([]types.GradeBand, 0, len(bands))
	for _, b := range bands {
		if b.MinPercentage > b.MaxPercentage {
			cov.Issues = append(cov.Issues, Issue{
				Kind:   IssueInverted,
				Grades: []string{b.Grade},
				From:   b.MinPercentage,
				To:     b.MaxPercentage,
			})
			continue
		}
		valid = append(valid, b)
	}

	sort.SliceStable(valid, func(i, j int) bool {
		return valid[i].MinPercentage < valid[j].MinPercentage
	})

	covered := 0.0
	var prev *types.GradeBand
	for i := range valid {
		b := valid[i]
		if b.MinPercentage-covered > gapTolerance {
			cov.Issues = append(cov.Issues, Issue{Kind: IssueGap, From: covered, To: b.MinPercentage})
		}
		if prev != nil && b.MinPercentage <= prev.MaxPercentage {
			cov.Issues = append(cov.Issues, Issue{
				Kind:   IssueOverlap,
				Grades: []string{prev.Grade, b.Grade},
				From:   b.MinPercentage,
				To:     minFloat(prev.MaxPercentage, b.MaxPercentage),
			})
		}
		if b.MaxPercentage > covered {
			covered = b.MaxPercentage
			prev = &valid[i]
		}
	}
	if len(valid) > 0 && 100-covered > gapTolerance {
		cov.Issues = append(cov.Issues, Issue{Kind: IssueGap, From: covered, To: 100})
	}
	return cov
}

func minFloat(a, b float64) float64 {
	if a < b {
		return a
	}
	return b
}
