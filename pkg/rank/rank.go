// Package rank assigns standard competition ranks ("1224" ranking) to the
// scores of one exam×subject group.
//
// The result equals SQL RANK() OVER (ORDER BY marks DESC): an entry's rank is
// one plus the number of entries with strictly greater marks, so ties share a
// rank and the next rank skips by the size of the tie group.
//
//	marks  95  95  90  80
//	rank    1   1   3   4
//
// Ranks are only meaningful for a complete group. Callers must rank the whole
// group again whenever any member is added, changed or removed.
package rank

import (
	"sort"
)

// Score is one rankable entry. Absentees have no score and must not be
// passed in. Marks must not be NaN.
type Score struct {
	ID    string
	Marks float64
}

// Placement is the rank assigned to one Score.
type Placement struct {
	ID   string `json:"id"`
	Rank int    `json:"rank"`
}

// Competition ranks scores in O(n log n).
//
// The output is ordered by rank; entries sharing a rank are ordered by ID so
// repeated calls on the same input produce identical output. The input slice
// is not modified.
func Competition(scores []Score) []Placement {
	if len(scores) == 0 {
		return []Placement{}
	}

	sorted := make([]Score, len(scores))
	copy(sorted, scores)
	sort.Slice(sorted, func(i, j int) bool {
		if sorted[i].Marks != sorted[j].Marks {
			return sorted[i].Marks > sorted[j].Marks
		}
		return sorted[i].ID < sorted[j].ID
	})

	out := make([]Placement, len(sorted))
	for i, s := range sorted {
		r := i + 1
		if i > 0 && s.Marks == sorted[i-1].Marks {
			// Same marks as the previous entry: share its rank. i entries
			// precede this one, and the tie group started at out[i-1].
			r = out[i-1].Rank
		}
		out[i] = Placement{ID: s.ID, Rank: r}
	}
	return out
}

// Index maps each placement ID to its rank.
func Index(placements []Placement) map[string]int {
	m := make(map[string]int, len(placements))
	for _, p := range placements {
		m[p.ID] = p.Rank
	}
	return m
}
