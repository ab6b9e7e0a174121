package source

import (
	"context"
	"os"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/markbook/markbook/pkg/types"
)

func TestParseScope(t *testing.T) {
	tests := []struct {
		kind, id string
		want     Scope
		wantErr  bool
	}{
		{"", "", Scope{Kind: AllTenant}, false},
		{"all", "ignored", Scope{Kind: AllTenant}, false},
		{"class", "7A", Scope{Kind: ByClass, ID: "7A"}, false},
		{"student", "stu-1", Scope{Kind: ByStudent, ID: "stu-1"}, false},
		{"teacher", "t-9", Scope{Kind: ByTeacher, ID: "t-9"}, false},
		{"class", "", Scope{}, true},
		{"district", "d1", Scope{}, true},
	}
	for _, tt := range tests {
		got, err := ParseScope(tt.kind, tt.id)
		if tt.wantErr {
			assert.Error(t, err, "kind=%q id=%q", tt.kind, tt.id)
			continue
		}
		require.NoError(t, err)
		assert.Equal(t, tt.want, got)
	}
}

func TestScope_String(t *testing.T) {
	assert.Equal(t, "all", Scope{}.String())
	assert.Equal(t, "class:7A", Scope{Kind: ByClass, ID: "7A"}.String())
}

func TestResultsQuery_Parameterised(t *testing.T) {
	req := Request{
		TenantID:     "inst-1",
		AcademicYear: "2025-26",
		Scope:        Scope{Kind: ByTeacher, ID: "t'; DROP TABLE students; --"},
	}
	sql, args := resultsQuery(req)

	assert.NotContains(t, sql, "DROP TABLE")
	assert.Equal(t, []any{"inst-1", "2025-26", req.Scope.ID}, args)
	assert.Contains(t, sql, "e.academic_year = $2")
	assert.Contains(t, sql, "c.teacher_id = $3")
}

func TestResultsQuery_ScopeSelectsWholeGroups(t *testing.T) {
	sql, args := resultsQuery(Request{TenantID: "inst", Scope: Scope{Kind: ByStudent, ID: "s3"}})
	assert.Equal(t, []any{"inst", "s3"}, args)

	// The student filter lives only inside the group subquery; outer rows
	// are every student's.
	outer, sub, found := strings.Cut(sql, "IN (")
	require.True(t, found, sql)
	assert.NotContains(t, outer, "st.")
	assert.Contains(t, outer, "(r.exam_id, r.subject_id)")
	assert.Contains(t, sub, "st.id = $2")

	whole, args := resultsQuery(Request{TenantID: "inst"})
	assert.Equal(t, []any{"inst"}, args)
	assert.NotContains(t, whole, "IN (")
	assert.NotContains(t, whole, "students")
}

func TestMembersQuery(t *testing.T) {
	sql, args := membersQuery(Request{TenantID: "inst", Scope: Scope{Kind: ByClass, ID: "7A"}})
	assert.Equal(t, []any{"inst", "7A"}, args)
	assert.Contains(t, sql, "st.tenant_id = $1 AND st.class_id = $2")
}

func TestAttendanceQuery_Placeholders(t *testing.T) {
	from := time.Date(2025, 4, 1, 0, 0, 0, 0, time.UTC)
	to := time.Date(2025, 6, 30, 0, 0, 0, 0, time.UTC)

	tests := []struct {
		name    string
		req     Request
		nArgs   int
		snippet string
	}{
		{"tenant only", Request{TenantID: "t"}, 1, "TRUE"},
		{"window", Request{TenantID: "t", From: from, To: to}, 3, "a.date <= $3::date"},
		{"window and class", Request{TenantID: "t", From: from, To: to, Scope: Scope{Kind: ByClass, ID: "7A"}}, 4, "st.class_id = $4"},
		{"open start, student", Request{TenantID: "t", To: to, Scope: Scope{Kind: ByStudent, ID: "s"}}, 3, "st.id = $3"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sql, args := attendanceQuery(tt.req)
			assert.Len(t, args, tt.nArgs)
			assert.Contains(t, sql, tt.snippet)
			assert.Contains(t, sql, "$"+strconv.Itoa(tt.nArgs))
			assert.NotContains(t, sql, "$"+strconv.Itoa(tt.nArgs+1))
		})
	}
}

func TestStatic_Snapshot(t *testing.T) {
	day := func(d int) time.Time { return time.Date(2025, 5, d, 8, 30, 0, 0, time.UTC) }
	src := Static{
		"inst-1": {
			Bands:   []types.GradeBand{{Grade: "A", MinPercentage: 0, MaxPercentage: 100}},
			Results: []types.ExamResultInput{{StudentID: "s", ExamID: "e", SubjectID: "x", MaxMarks: 10}},
			Attendance: []types.AttendanceEvent{
				{StudentID: "s", Date: day(1), Status: types.Present},
				{StudentID: "s", Date: day(5), Status: types.Absent},
				{StudentID: "s", Date: day(9), Status: types.Late},
			},
		},
	}

	rec, err := src.Snapshot(context.Background(), Request{
		TenantID: "inst-1",
		From:     time.Date(2025, 5, 2, 0, 0, 0, 0, time.UTC),
		To:       time.Date(2025, 5, 9, 0, 0, 0, 0, time.UTC),
	})
	require.NoError(t, err)
	assert.Len(t, rec.Bands, 1)
	assert.Len(t, rec.Results, 1)
	require.Len(t, rec.Attendance, 2)
	assert.Equal(t, types.Absent, rec.Attendance[0].Status)
	assert.Equal(t, types.Late, rec.Attendance[1].Status)

	empty, err := src.Snapshot(context.Background(), Request{TenantID: "unknown"})
	require.NoError(t, err)
	assert.Empty(t, empty.Results)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = src.Snapshot(ctx, Request{TenantID: "inst-1"})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestStatic_ScopeKeepsWholeGroups(t *testing.T) {
	day := time.Date(2025, 5, 1, 8, 30, 0, 0, time.UTC)
	row := func(student, exam, subject string) types.ExamResultInput {
		return types.ExamResultInput{StudentID: student, ExamID: exam, SubjectID: subject, MarksObtained: types.Float(5), MaxMarks: 10}
	}
	src := Static{
		"inst": {
			Results: []types.ExamResultInput{
				row("s1", "mid", "math"), row("s2", "mid", "math"), row("s3", "mid", "math"),
				row("s1", "mid", "art"), row("s2", "mid", "art"),
			},
			Attendance: []types.AttendanceEvent{
				{StudentID: "s1", Date: day, Status: types.Present},
				{StudentID: "s3", Date: day, Status: types.Absent},
			},
			Roster: []Enrolment{
				{StudentID: "s1", ClassID: "7A", TeacherID: "t1"},
				{StudentID: "s2", ClassID: "7A", TeacherID: "t1"},
				{StudentID: "s3", ClassID: "7B", TeacherID: "t2"},
			},
		},
	}
	ctx := context.Background()

	rec, err := src.Snapshot(ctx, Request{TenantID: "inst", Scope: Scope{Kind: ByStudent, ID: "s3"}})
	require.NoError(t, err)
	assert.Equal(t, []string{"s3"}, rec.Students)
	assert.Len(t, rec.Results, 3, "all of mid/math, none of mid/art")
	require.Len(t, rec.Attendance, 1)
	assert.Equal(t, "s3", rec.Attendance[0].StudentID)

	rec, err = src.Snapshot(ctx, Request{TenantID: "inst", Scope: Scope{Kind: ByTeacher, ID: "t1"}})
	require.NoError(t, err)
	assert.Equal(t, []string{"s1", "s2"}, rec.Students)
	assert.Len(t, rec.Results, 5)

	rec, err = src.Snapshot(ctx, Request{TenantID: "inst", Scope: Scope{Kind: ByClass, ID: "9Z"}})
	require.NoError(t, err)
	assert.NotNil(t, rec.Students)
	assert.Empty(t, rec.Students)
	assert.Empty(t, rec.Results)

	rec, err = src.Snapshot(ctx, Request{TenantID: "inst"})
	require.NoError(t, err)
	assert.Nil(t, rec.Students)
	assert.Len(t, rec.Results, 5)
}

// TestPostgres_Snapshot runs against a real database when
// MARKBOOK_TEST_DATABASE_URL is set.
func TestPostgres_Snapshot(t *testing.T) {
	dsn := os.Getenv("MARKBOOK_TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("MARKBOOK_TEST_DATABASE_URL not set")
	}
	ctx := context.Background()
	pg, err := Open(ctx, dsn, 2)
	require.NoError(t, err)
	defer pg.Close()

	rec, err := pg.Snapshot(ctx, Request{TenantID: "test-tenant"})
	require.NoError(t, err)
	for _, ev := range rec.Attendance {
		assert.True(t, ev.Status.Valid())
	}

	_, err = pg.Snapshot(ctx, Request{})
	assert.Error(t, err)
}
