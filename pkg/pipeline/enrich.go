// Package pipeline composes the grade, rank, attendance and risk packages
// into one aggregation pass over a tenant's records.
//
// Every pass recomputes whole exam×subject groups from the rows it is given;
// nothing is cached between calls. Input.Students narrows the report only
// after ranking, so a scoped report still carries whole-group ranks.
package pipeline

import (
	"math"
	"sort"

	"golang.org/x/sync/errgroup"

	"github.com/markbook/markbook/pkg/grade"
	"github.com/markbook/markbook/pkg/rank"
	"github.com/markbook/markbook/pkg/types"
)

// EnrichGroup derives percentage, grade and rank for every row of a single
// exam×subject group. Output rows keep input order.
//
// Rows are rejected with an error matching types.ErrInvalidInput when an ID is
// empty, marks or max marks are negative or not finite, a student appears
// twice, or the rows span more than one group. MaxMarks == 0 is not an error:
// percentage and grade are nil. Absentees get nil percentage, grade and rank
// and are excluded from ranking.
func EnrichGroup(rows []types.ExamResultInput, bands []types.GradeBand) ([]types.EnrichedExamResult, error) {
	return enrichGroup(rows, grade.NewTable(bands))
}

func enrichGroup(rows []types.ExamResultInput, tbl grade.Table) ([]types.EnrichedExamResult, error) {
	if len(rows) == 0 {
		return []types.EnrichedExamResult{}, nil
	}
	if err := validateGroup(rows); err != nil {
		return nil, err
	}

	out := make([]types.EnrichedExamResult, len(rows))
	scores := make([]rank.Score, 0, len(rows))
	for i, r := range rows {
		e := types.EnrichedExamResult{ExamResultInput: r}
		if !r.Absent() {
			scores = append(scores, rank.Score{ID: r.StudentID, Marks: *r.MarksObtained})
			e.Percentage = types.Percent(*r.MarksObtained, r.MaxMarks, types.ScorePlaces)
			if e.Percentage != nil {
				if g, ok := tbl.Resolve(*e.Percentage); ok {
					e.Grade = &g
				}
			}
		}
		out[i] = e
	}

	idx := rank.Index(rank.Competition(scores))
	for i := range out {
		if out[i].Absent() {
			continue
		}
		r := idx[out[i].StudentID]
		out[i].Rank = &r
	}
	return out, nil
}

func validateGroup(rows []types.ExamResultInput) error {
	key := rows[0].Key()
	seen := make(map[string]struct{}, len(rows))
	for _, r := range rows {
		fail := func(field string, v any, reason string) error {
			err := types.Invalid("EnrichGroup", field, v, reason)
			err.Ref = r.StudentID
			return err
		}
		switch {
		case r.StudentID == "":
			return fail("student_id", r.StudentID, "must not be empty")
		case r.ExamID == "":
			return fail("exam_id", r.ExamID, "must not be empty")
		case r.SubjectID == "":
			return fail("subject_id", r.SubjectID, "must not be empty")
		case r.Key() != key:
			return fail("group", r.Key().String(), "row belongs to another group than "+key.String())
		case !finite(r.MaxMarks) || r.MaxMarks < 0:
			return fail("max_marks", r.MaxMarks, "must be a non-negative number")
		case r.MarksObtained != nil && (!finite(*r.MarksObtained) || *r.MarksObtained < 0):
			return fail("marks_obtained", *r.MarksObtained, "must be a non-negative number")
		}
		if _, dup := seen[r.StudentID]; dup {
			return fail("student_id", r.StudentID, "duplicate entry in group "+key.String())
		}
		seen[r.StudentID] = struct{}{}
	}
	return nil
}

// Enrich splits rows into exam×subject groups and enriches each group
// independently, running up to parallelism groups at once. The result lists
// groups in key order with rows in input order inside each group. The first
// group error is returned.
func Enrich(rows []types.ExamResultInput, bands []types.GradeBand, parallelism int) ([]types.EnrichedExamResult, error) {
	groups := make(map[types.GroupKey][]types.ExamResultInput)
	for _, r := range rows {
		k := r.Key()
		groups[k] = append(groups[k], r)
	}
	keys := make([]types.GroupKey, 0, len(groups))
	for k := range groups {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i].Less(keys[j]) })

	if parallelism < 1 {
		parallelism = 1
	}
	tbl := grade.NewTable(bands)
	enriched := make([][]types.EnrichedExamResult, len(keys))

	var g errgroup.Group
	g.SetLimit(parallelism)
	for i, k := range keys {
		g.Go(func() error {
			res, err := enrichGroup(groups[k], tbl)
			if err != nil {
				return err
			}
			enriched[i] = res
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	out := make([]types.EnrichedExamResult, 0, len(rows))
	for _, res := range enriched {
		out = append(out, res...)
	}
	return out, nil
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
