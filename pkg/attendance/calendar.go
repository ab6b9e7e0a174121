package attendance

import (
	"sort"
	"time"

	"github.com/markbook/markbook/pkg/types"
)

// DayStatus is the day-level classification used by the calendar view.
type DayStatus string

const (
	DayPresent DayStatus = "present"
	DayAbsent  DayStatus = "absent"
	DayExcused DayStatus = "excused"
)

// Day is one calendar date for one student.
type Day struct {
	StudentID string    `json:"student_id"`
	Date      time.Time `json:"date"`
	Status    DayStatus `json:"status"`
}

// CalendarTotals counts classified days. Percentage is present days over
// total days, nil when there are none.
type CalendarTotals struct {
	Total      int      `json:"total"`
	Present    int      `json:"present"`
	Absent     int      `json:"absent"`
	Excused    int      `json:"excused"`
	Percentage *float64 `json:"percentage"`
}

// Calendar folds events into one Day per student and date, ordered by student
// then date. Precedence within a day: present or late, then absent, then
// excused. Events with an unknown status are ignored.
func Calendar(events []types.AttendanceEvent) []Day {
	type key struct {
		student string
		date    time.Time
	}
	days := make(map[key]DayStatus)
	for _, ev := range events {
		st, ok := dayStatus(ev.Status)
		if !ok {
			continue
		}
		k := key{student: ev.StudentID, date: day(ev.Date)}
		if cur, seen := days[k]; !seen || precedence(st) > precedence(cur) {
			days[k] = st
		}
	}

	out := make([]Day, 0, len(days))
	for k, st := range days {
		out = append(out, Day{StudentID: k.student, Date: k.date, Status: st})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].StudentID != out[j].StudentID {
			return out[i].StudentID < out[j].StudentID
		}
		return out[i].Date.Before(out[j].Date)
	})
	return out
}

// CalendarSummary totals days produced by Calendar.
func CalendarSummary(days []Day) CalendarTotals {
	var t CalendarTotals
	for _, d := range days {
		switch d.Status {
		case DayPresent:
			t.Present++
		case DayAbsent:
			t.Absent++
		case DayExcused:
			t.Excused++
		default:
			continue
		}
		t.Total++
	}
	t.Percentage = types.Percent(float64(t.Present), float64(t.Total), types.AttendancePlaces)
	return t
}

func dayStatus(s types.AttendanceStatus) (DayStatus, bool) {
	switch s {
	case types.Present, types.Late:
		return DayPresent, true
	case types.Absent:
		return DayAbsent, true
	case types.Excused:
		return DayExcused, true
	}
	return "", false
}

func precedence(s DayStatus) int {
	switch s {
	case DayPresent:
		return 3
	case DayAbsent:
		return 2
	case DayExcused:
		return 1
	}
	return 0
}
