package pipeline

import (
	"sort"

	"github.com/markbook/markbook/pkg/attendance"
	"github.com/markbook/markbook/pkg/risk"
	"github.com/markbook/markbook/pkg/types"
)

// AverageScores returns each student's mean percentage over results with a
// defined percentage, rounded to types.ScorePlaces. Students whose results
// all lack a percentage map to nil.
func AverageScores(results []types.EnrichedExamResult) map[string]*float64 {
	byStudent := make(map[string][]float64)
	for _, r := range results {
		vals := byStudent[r.StudentID]
		if r.Percentage != nil {
			vals = append(vals, *r.Percentage)
		}
		byStudent[r.StudentID] = vals
	}

	out := make(map[string]*float64, len(byStudent))
	for id, vals := range byStudent {
		out[id] = types.Mean(vals, types.ScorePlaces)
	}
	return out
}

// Assess classifies every student that appears in results or summaries,
// sorted by student ID. A student missing from one side gets a nil signal for
// it. Several summaries for one student are pooled.
func Assess(results []types.EnrichedExamResult, summaries []types.AttendanceSummary, th risk.Thresholds) []types.RiskAssessment {
	avg := AverageScores(results)

	att := make(map[string]types.AttendanceSummary, len(summaries))
	for _, s := range summaries {
		if cur, ok := att[s.StudentID]; ok {
			s = attendance.Merge(cur, s)
		}
		att[s.StudentID] = s
	}

	ids := make([]string, 0, len(avg)+len(att))
	for id := range avg {
		ids = append(ids, id)
	}
	for id := range att {
		if _, ok := avg[id]; !ok {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)

	out := make([]types.RiskAssessment, 0, len(ids))
	for _, id := range ids {
		var attPct *float64
		if s, ok := att[id]; ok {
			attPct = s.Percentage
		}
		out = append(out, th.Assess(id, attPct, avg[id]))
	}
	return out
}
