package source

import (
	"fmt"
	"sort"
	"strconv"

	"github.com/markbook/markbook/pkg/types"
)

// Kind selects which students of a tenant a pass covers.
type Kind string

const (
	AllTenant Kind = "all"
	ByClass   Kind = "class"
	ByStudent Kind = "student"
	ByTeacher Kind = "teacher"
)

// Scope is AllTenant, or one of the by-ID kinds together with its ID.
type Scope struct {
	Kind Kind
	ID   string
}

// ParseScope builds a Scope from config values. An empty kind means
// AllTenant.
func ParseScope(kind, id string) (Scope, error) {
	k := Kind(kind)
	if k == "" {
		k = AllTenant
	}
	switch k {
	case AllTenant:
		return Scope{Kind: AllTenant}, nil
	case ByClass, ByStudent, ByTeacher:
		if id == "" {
			return Scope{}, fmt.Errorf("source: scope %q requires an id", k)
		}
		return Scope{Kind: k, ID: id}, nil
	}
	return Scope{}, fmt.Errorf("source: unknown scope kind %q", kind)
}

// String renders "all" or "kind:id".
func (s Scope) String() string {
	if s.Whole() {
		return string(AllTenant)
	}
	return string(s.Kind) + ":" + s.ID
}

// Whole reports whether s covers every student of the tenant.
func (s Scope) Whole() bool {
	return s.Kind == AllTenant || s.Kind == ""
}

// members resolves s against roster to sorted student IDs. A student scope
// names its student directly.
func (s Scope) members(roster []Enrolment) []string {
	if s.Kind == ByStudent {
		return []string{s.ID}
	}
	ids := []string{}
	seen := make(map[string]bool)
	for _, e := range roster {
		if seen[e.StudentID] {
			continue
		}
		if (s.Kind == ByClass && e.ClassID == s.ID) || (s.Kind == ByTeacher && e.TeacherID == s.ID) {
			seen[e.StudentID] = true
			ids = append(ids, e.StudentID)
		}
	}
	sort.Strings(ids)
	return ids
}

// touchedGroups keeps every row of the exam×subject groups in which at least
// one of students has a row.
func touchedGroups(rows []types.ExamResultInput, students []string) []types.ExamResultInput {
	in := set(students)
	touched := make(map[types.GroupKey]bool)
	for _, r := range rows {
		if in[r.StudentID] {
			touched[types.GroupKey{ExamID: r.ExamID, SubjectID: r.SubjectID}] = true
		}
	}
	out := []types.ExamResultInput{}
	for _, r := range rows {
		if touched[types.GroupKey{ExamID: r.ExamID, SubjectID: r.SubjectID}] {
			out = append(out, r)
		}
	}
	return out
}

func attendanceOf(events []types.AttendanceEvent, students []string) []types.AttendanceEvent {
	in := set(students)
	out := []types.AttendanceEvent{}
	for _, ev := range events {
		if in[ev.StudentID] {
			out = append(out, ev)
		}
	}
	return out
}

func set(ids []string) map[string]bool {
	m := make(map[string]bool, len(ids))
	for _, id := range ids {
		m[id] = true
	}
	return m
}

// studentFilter returns a boolean SQL expression over the students alias st
// and its arguments. next is the number of the first free placeholder; the
// tenant is always $1.
func (s Scope) studentFilter(next int) (string, []any) {
	p := "$" + strconv.Itoa(next)
	switch s.Kind {
	case ByClass:
		return "st.class_id = " + p, []any{s.ID}
	case ByStudent:
		return "st.id = " + p, []any{s.ID}
	case ByTeacher:
		return "st.class_id IN (SELECT c.id FROM classes c WHERE c.tenant_id = $1 AND c.teacher_id = " + p + ")", []any{s.ID}
	}
	return "TRUE", nil
}
