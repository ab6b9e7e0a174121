// Package grade resolves percentages to letter grades using a tenant's
// grade-band table.
//
// Bands are ordered by MinPercentage descending, and the first band whose
// inclusive [min, max] range covers the percentage wins. That ordering is the
// tie-break: where two bands overlap, the one with the higher minimum is
// chosen; bands with equal minima keep their input order. No covering band
// means "ungraded", which is not an error.
package grade

import (
	"sort"

	"github.com/markbook/markbook/pkg/types"
)

// Table is a band set sorted once for repeated resolution.
// The zero Table has no bands and resolves nothing.
type Table struct {
	bands []types.GradeBand
}

// NewTable copies bands and sorts the copy by MinPercentage descending.
// The caller's slice is not modified.
func NewTable(bands []types.GradeBand) Table {
	sorted := make([]types.GradeBand, len(bands))
	copy(sorted, bands)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].MinPercentage > sorted[j].MinPercentage
	})
	return Table{bands: sorted}
}

// Lookup returns the first band covering percentage.
func (t Table) Lookup(percentage float64) (types.GradeBand, bool) {
	for _, b := range t.bands {
		if b.MinPercentage <= percentage && percentage <= b.MaxPercentage {
			return b, true
		}
	}
	return types.GradeBand{}, false
}

// Resolve returns the grade of the first band covering percentage, or
// ("", false) when no band covers it.
func (t Table) Resolve(percentage float64) (string, bool) {
	b, ok := t.Lookup(percentage)
	if !ok {
		return "", false
	}
	return b.Grade, true
}

// Len returns the number of bands in the table.
func (t Table) Len() int { return len(t.bands) }

// Bands returns a copy of the bands in resolution order.
func (t Table) Bands() []types.GradeBand {
	out := make([]types.GradeBand, len(t.bands))
	copy(out, t.bands)
	return out
}

// Resolve maps percentage to a grade using bands.
// Out-of-range percentages are resolved like any other; NaN never matches.
func Resolve(percentage float64, bands []types.GradeBand) (string, bool) {
	return NewTable(bands).Resolve(percentage)
}
