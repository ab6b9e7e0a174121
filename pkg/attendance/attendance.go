// Package attendance reduces attendance events to per-student summaries.
//
// Two views exist and must not be confused:
//
//   - Summarize and its variants count events per status. The percentage is
//     present/total; late events are counted in their own bucket and do not
//     count as attended.
//   - Calendar classifies whole days. A day with any present or late event is
//     a present day. CalendarSummary reports present days over total days.
//
// Both are pure: callers scope the events (student, date range, subject)
// before passing them in.
package attendance

import (
	"sort"
	"time"

	"github.com/markbook/markbook/pkg/types"
)

// Summarize counts one student's events.
//
// Every event must belong to studentID and carry a known status; otherwise an
// error matching types.ErrInvalidInput is returned. The summary's SubjectID is
// set only when every event shares the same non-empty subject.
func Summarize(studentID string, events []types.AttendanceEvent) (types.AttendanceSummary, error) {
	if studentID == "" {
		return types.AttendanceSummary{}, types.Invalid("Summarize", "student_id", studentID, "must not be empty")
	}
	s := types.AttendanceSummary{StudentID: studentID}
	for i, ev := range events {
		if ev.StudentID != studentID {
			err := types.Invalid("Summarize", "student_id", ev.StudentID, "event belongs to another student")
			err.Ref = studentID
			return types.AttendanceSummary{}, err
		}
		if err := count(&s, ev.Status); err != nil {
			err.Ref = studentID
			return types.AttendanceSummary{}, err
		}
		if i == 0 {
			s.SubjectID = ev.SubjectID
		} else if s.SubjectID != ev.SubjectID {
			s.SubjectID = ""
		}
	}
	s.Percentage = types.Percent(float64(s.Present), float64(s.Total), types.AttendancePlaces)
	return s, nil
}

// SummarizeBySubject summarizes one student's events per subject, sorted by
// subject ID. Events without a subject are summarized under the empty ID.
func SummarizeBySubject(studentID string, events []types.AttendanceEvent) ([]types.AttendanceSummary, error) {
	bySubject := make(map[string][]types.AttendanceEvent)
	for _, ev := range events {
		bySubject[ev.SubjectID] = append(bySubject[ev.SubjectID], ev)
	}

	out := make([]types.AttendanceSummary, 0, len(bySubject))
	for subject, evs := range bySubject {
		s, err := Summarize(studentID, evs)
		if err != nil {
			return nil, err
		}
		s.SubjectID = subject
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SubjectID < out[j].SubjectID })
	return out, nil
}

// SummarizeStudents summarizes a class-wide event list, one summary per
// student sorted by student ID.
func SummarizeStudents(events []types.AttendanceEvent) ([]types.AttendanceSummary, error) {
	byStudent := make(map[string][]types.AttendanceEvent)
	for _, ev := range events {
		if ev.StudentID == "" {
			return nil, types.Invalid("SummarizeStudents", "student_id", ev.StudentID, "must not be empty")
		}
		byStudent[ev.StudentID] = append(byStudent[ev.StudentID], ev)
	}

	out := make([]types.AttendanceSummary, 0, len(byStudent))
	for id, evs := range byStudent {
		s, err := Summarize(id, evs)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StudentID < out[j].StudentID })
	return out, nil
}

// Merge pools the counts of two summaries of the same student and recomputes
// the percentage. The subject is kept only when both agree.
func Merge(a, b types.AttendanceSummary) types.AttendanceSummary {
	m := types.AttendanceSummary{
		StudentID: a.StudentID,
		Total:     a.Total + b.Total,
		Present:   a.Present + b.Present,
		Absent:    a.Absent + b.Absent,
		Late:      a.Late + b.Late,
		Excused:   a.Excused + b.Excused,
	}
	if a.SubjectID == b.SubjectID {
		m.SubjectID = a.SubjectID
	}
	m.Percentage = types.Percent(float64(m.Present), float64(m.Total), types.AttendancePlaces)
	return m
}

// Between returns the events dated within [from, to], compared by calendar
// date. A zero from or to leaves that side open.
func Between(events []types.AttendanceEvent, from, to time.Time) []types.AttendanceEvent {
	out := make([]types.AttendanceEvent, 0, len(events))
	for _, ev := range events {
		d := day(ev.Date)
		if !from.IsZero() && d.Before(day(from)) {
			continue
		}
		if !to.IsZero() && d.After(day(to)) {
			continue
		}
		out = append(out, ev)
	}
	return out
}

func count(s *types.AttendanceSummary, st types.AttendanceStatus) *types.InputError {
	switch st {
	case types.Present:
		s.Present++
	case types.Absent:
		s.Absent++
	case types.Late:
		s.Late++
	case types.Excused:
		s.Excused++
	default:
		return types.Invalid("Summarize", "status", string(st), "unknown attendance status")
	}
	s.Total++
	return nil
}

// day truncates t to midnight UTC of its own calendar date.
func day(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
