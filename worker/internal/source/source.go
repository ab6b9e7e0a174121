package source

import (
	"context"
	"time"

	"github.com/markbook/markbook/pkg/attendance"
	"github.com/markbook/markbook/pkg/types"
)

// Request describes the records one pass needs.
type Request struct {
	TenantID     string
	AcademicYear string
	Scope        Scope

	// From and To bound attendance events by date, inclusive. Zero values
	// leave that side open.
	From, To time.Time
}

// Records are one tenant's raw inputs, read from a single snapshot.
//
// Results hold every row of each exam×subject group that an in-scope student
// sat, so ranks are always computed over the whole group. Attendance covers
// in-scope students only.
type Records struct {
	Bands      []types.GradeBand
	Results    []types.ExamResultInput
	Attendance []types.AttendanceEvent

	// Students lists the in-scope student IDs in order. It is nil for an
	// AllTenant scope.
	Students []string

	// Roster is class membership. Static resolves class and teacher scopes
	// from it; Postgres reads the students table instead and leaves it empty.
	Roster []Enrolment
}

// Enrolment places a student in a class taught by a teacher.
type Enrolment struct {
	StudentID string
	ClassID   string
	TeacherID string
}

// Source loads records for a Request.
type Source interface {
	Snapshot(ctx context.Context, req Request) (*Records, error)
}

// Static serves fixed records per tenant, narrowed to the request's scope and
// attendance window the same way Postgres narrows them.
type Static map[string]Records

// Snapshot implements Source.
func (s Static) Snapshot(ctx context.Context, req Request) (*Records, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	rec, ok := s[req.TenantID]
	if !ok {
		return &Records{}, nil
	}
	out := Records{
		Bands:      append([]types.GradeBand(nil), rec.Bands...),
		Results:    append([]types.ExamResultInput(nil), rec.Results...),
		Attendance: attendance.Between(rec.Attendance, req.From, req.To),
	}
	if !req.Scope.Whole() {
		out.Students = req.Scope.members(rec.Roster)
		out.Results = touchedGroups(out.Results, out.Students)
		out.Attendance = attendanceOf(out.Attendance, out.Students)
	}
	return &out, nil
}
