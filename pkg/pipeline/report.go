package pipeline

import (
	"fmt"
	"sort"

	"github.com/markbook/markbook/pkg/attendance"
	"github.com/markbook/markbook/pkg/grade"
	"github.com/markbook/markbook/pkg/risk"
	"github.com/markbook/markbook/pkg/types"
)

// Input is one tenant's records for a full pass. Results must hold every row
// of each exam×subject group present, even when only part of the group is in
// scope.
type Input struct {
	Bands      []types.GradeBand
	Results    []types.ExamResultInput
	Attendance []types.AttendanceEvent

	// Students limits the report to these student IDs after ranking. Nil
	// keeps everyone; an empty non-nil slice keeps no one.
	Students []string

	// Thresholds for risk classification. The zero value selects
	// risk.Default().
	Thresholds risk.Thresholds

	// Parallelism bounds concurrent group enrichment. Values below 1 mean 1.
	Parallelism int
}

// DayTotals is the calendar view of one student's attendance.
type DayTotals struct {
	StudentID string `json:"student_id"`
	attendance.CalendarTotals
}

// Report is the output of Build.
type Report struct {
	Results     []types.EnrichedExamResult `json:"results" validate:"dive"`
	Attendance  []types.AttendanceSummary  `json:"attendance" validate:"dive"`
	Days        []DayTotals                `json:"days,omitempty"`
	Risk        []types.RiskAssessment     `json:"risk" validate:"dive"`
	Diagnostics []grade.Issue              `json:"diagnostics,omitempty"`
}

// Build runs enrichment, attendance aggregation and risk classification over
// in. Band coverage problems are reported in Diagnostics and never fail the
// pass.
func Build(in Input) (*Report, error) {
	th := in.Thresholds
	if th == (risk.Thresholds{}) {
		th = risk.Default()
	}
	if err := th.Validate(); err != nil {
		return nil, fmt.Errorf("pipeline: thresholds: %w", err)
	}

	results, err := Enrich(in.Results, in.Bands, in.Parallelism)
	if err != nil {
		return nil, fmt.Errorf("pipeline: enrich: %w", err)
	}
	events := in.Attendance
	if in.Students != nil {
		results, events = onlyStudents(in.Students, results, events)
	}
	summaries, err := attendance.SummarizeStudents(events)
	if err != nil {
		return nil, fmt.Errorf("pipeline: attendance: %w", err)
	}

	rep := &Report{
		Results:     results,
		Attendance:  summaries,
		Days:        dayTotals(events),
		Risk:        Assess(results, summaries, th),
		Diagnostics: grade.Check(in.Bands).Issues,
	}
	return rep, nil
}

// onlyStudents drops rows of students outside ids. Ranks on the kept rows
// are the ones computed over the whole group.
func onlyStudents(ids []string, results []types.EnrichedExamResult, events []types.AttendanceEvent) ([]types.EnrichedExamResult, []types.AttendanceEvent) {
	keep := make(map[string]bool, len(ids))
	for _, id := range ids {
		keep[id] = true
	}
	rs := []types.EnrichedExamResult{}
	for _, r := range results {
		if keep[r.StudentID] {
			rs = append(rs, r)
		}
	}
	evs := []types.AttendanceEvent{}
	for _, ev := range events {
		if keep[ev.StudentID] {
			evs = append(evs, ev)
		}
	}
	return rs, evs
}

func dayTotals(events []types.AttendanceEvent) []DayTotals {
	days := attendance.Calendar(events)
	out := []DayTotals{}
	for start := 0; start < len(days); {
		end := start
		for end < len(days) && days[end].StudentID == days[start].StudentID {
			end++
		}
		out = append(out, DayTotals{
			StudentID:      days[start].StudentID,
			CalendarTotals: attendance.CalendarSummary(days[start:end]),
		})
		start = end
	}
	return out
}

// Groups returns the exam×subject groups present in the report, in key order.
func (r *Report) Groups() []types.GroupKey {
	seen := make(map[types.GroupKey]struct{})
	var keys []types.GroupKey
	for _, res := range r.Results {
		k := res.Key()
		if _, ok := seen[k]; ok {
			continue
		}
		seen[k] = struct{}{}
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i].Less(keys[j]) })
	return keys
}

// RankList returns the rows of one group ordered by rank, ties by student ID,
// absentees last.
func (r *Report) RankList(key types.GroupKey) []types.EnrichedExamResult {
	var out []types.EnrichedExamResult
	for _, res := range r.Results {
		if res.Key() == key {
			out = append(out, res)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i].Rank, out[j].Rank
		switch {
		case a == nil && b == nil:
			return out[i].StudentID < out[j].StudentID
		case a == nil:
			return false
		case b == nil:
			return true
		case *a != *b:
			return *a < *b
		}
		return out[i].StudentID < out[j].StudentID
	})
	return out
}

// Student returns one student's results, attendance summary and assessment.
// ok is false when the student does not appear in the report.
func (r *Report) Student(id string) (card StudentCard, ok bool) {
	card.StudentID = id
	for _, res := range r.Results {
		if res.StudentID == id {
			card.Results = append(card.Results, res)
			ok = true
		}
	}
	for i := range r.Attendance {
		if r.Attendance[i].StudentID == id {
			card.Attendance = &r.Attendance[i]
			ok = true
		}
	}
	for i := range r.Days {
		if r.Days[i].StudentID == id {
			card.Days = &r.Days[i].CalendarTotals
		}
	}
	for i := range r.Risk {
		if r.Risk[i].StudentID == id {
			card.Risk = &r.Risk[i]
			ok = true
		}
	}
	return card, ok
}

// StudentCard is the report-card view of one student.
type StudentCard struct {
	StudentID  string                     `json:"student_id"`
	Results    []types.EnrichedExamResult `json:"results"`
	Attendance *types.AttendanceSummary   `json:"attendance"`
	Days       *attendance.CalendarTotals `json:"days,omitempty"`
	Risk       *types.RiskAssessment      `json:"risk"`
}

// AtRisk returns the Warning and Critical assessments, Critical first, then
// by student ID.
func (r *Report) AtRisk() []types.RiskAssessment {
	var out []types.RiskAssessment
	for _, a := range r.Risk {
		if a.RiskLevel.IsAtRisk() {
			out = append(out, a)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		si, sj := out[i].RiskLevel.Severity(), out[j].RiskLevel.Severity()
		if si != sj {
			return si > sj
		}
		return out[i].StudentID < out[j].StudentID
	})
	return out
}

// RiskCounts counts assessments per level.
func (r *Report) RiskCounts() map[types.RiskLevel]int {
	c := map[types.RiskLevel]int{types.RiskOk: 0, types.RiskWarning: 0, types.RiskCritical: 0}
	for _, a := range r.Risk {
		c[a.RiskLevel]++
	}
	return c
}
