package types

import (
	"fmt"
	"strings"
	"time"
)

// GradeBand maps an inclusive percentage range to a letter grade.
// Bands belong to one tenant and should not overlap, but the engine tolerates
// overlaps and gaps.
type GradeBand struct {
	Grade         string   `json:"grade" yaml:"grade" validate:"required"`
	MinPercentage float64  `json:"min_percentage" yaml:"min_percentage"`
	MaxPercentage float64  `json:"max_percentage" yaml:"max_percentage"`
	GradePoint    *float64 `json:"grade_point,omitempty" yaml:"grade_point,omitempty"`
}

// GroupKey identifies one exam×subject ranking group.
type GroupKey struct {
	ExamID    string `json:"exam_id"`
	SubjectID string `json:"subject_id"`
}

// String returns "exam/subject".
func (k GroupKey) String() string {
	return k.ExamID + "/" + k.SubjectID
}

// Less orders keys by exam, then subject.
func (k GroupKey) Less(o GroupKey) bool {
	if k.ExamID != o.ExamID {
		return k.ExamID < o.ExamID
	}
	return k.SubjectID < o.SubjectID
}

// ExamResultInput is one raw mark as supplied by persistence.
// MarksObtained is nil for an absentee entry.
type ExamResultInput struct {
	StudentID     string   `json:"student_id" validate:"required"`
	SubjectID     string   `json:"subject_id" validate:"required"`
	ExamID        string   `json:"exam_id" validate:"required"`
	MarksObtained *float64 `json:"marks_obtained"`
	MaxMarks      float64  `json:"max_marks"`
}

// Key returns the ranking group of the row.
func (r ExamResultInput) Key() GroupKey {
	return GroupKey{ExamID: r.ExamID, SubjectID: r.SubjectID}
}

// Absent reports whether the row carries no score.
func (r ExamResultInput) Absent() bool {
	return r.MarksObtained == nil
}

// EnrichedExamResult is an ExamResultInput plus the derived metrics.
// Percentage, Grade and Rank are nil when undefined.
type EnrichedExamResult struct {
	ExamResultInput
	Percentage *float64 `json:"percentage"`
	Grade      *string  `json:"grade"`
	Rank       *int     `json:"rank"`
}

// AttendanceStatus is the recorded state of one attendance event.
type AttendanceStatus string

const (
	Present AttendanceStatus = "present"
	Absent  AttendanceStatus = "absent"
	Late    AttendanceStatus = "late"
	Excused AttendanceStatus = "excused"
)

// Valid reports whether s is one of the four known statuses.
func (s AttendanceStatus) Valid() bool {
	switch s {
	case Present, Absent, Late, Excused:
		return true
	}
	return false
}

// ParseAttendanceStatus parses a status case-insensitively.
func ParseAttendanceStatus(s string) (AttendanceStatus, error) {
	st := AttendanceStatus(strings.ToLower(strings.TrimSpace(s)))
	if !st.Valid() {
		return "", &InputError{Op: "ParseAttendanceStatus", Field: "status", Value: s, Reason: "unknown attendance status"}
	}
	return st, nil
}

// AttendanceEvent is one daily (or per-subject) attendance mark.
// SubjectID is empty for day-scoped attendance.
type AttendanceEvent struct {
	StudentID string           `json:"student_id"`
	SubjectID string           `json:"subject_id,omitempty"`
	Date      time.Time        `json:"date"`
	Status    AttendanceStatus `json:"status"`
}

// AttendanceSummary is the per-student reduction of attendance events.
// Present+Absent+Late+Excused always equals Total. Percentage is nil when
// Total is zero.
type AttendanceSummary struct {
	StudentID  string   `json:"student_id" validate:"required"`
	SubjectID  string   `json:"subject_id,omitempty"`
	Total      int      `json:"total" validate:"gte=0"`
	Present    int      `json:"present" validate:"gte=0"`
	Absent     int      `json:"absent" validate:"gte=0"`
	Late       int      `json:"late" validate:"gte=0"`
	Excused    int      `json:"excused" validate:"gte=0"`
	Percentage *float64 `json:"percentage" validate:"omitempty,gte=0,lte=100"`
}

// RiskLevel is the three-tier at-risk classification.
type RiskLevel string

const (
	RiskOk       RiskLevel = "ok"
	RiskWarning  RiskLevel = "warning"
	RiskCritical RiskLevel = "critical"
)

// Severity orders levels: ok=0, warning=1, critical=2. Unknown levels are -1.
func (l RiskLevel) Severity() int {
	switch l {
	case RiskOk:
		return 0
	case RiskWarning:
		return 1
	case RiskCritical:
		return 2
	}
	return -1
}

// IsAtRisk reports whether l belongs on an at-risk list.
func (l RiskLevel) IsAtRisk() bool {
	return l == RiskWarning || l == RiskCritical
}

// ParseRiskLevel parses a level case-insensitively.
func ParseRiskLevel(s string) (RiskLevel, error) {
	l := RiskLevel(strings.ToLower(strings.TrimSpace(s)))
	if l.Severity() < 0 {
		return "", fmt.Errorf("unknown risk level %q", s)
	}
	return l, nil
}

// RiskAssessment is the classification of one student.
type RiskAssessment struct {
	StudentID              string    `json:"student_id" validate:"required"`
	AttendancePercentage   *float64  `json:"attendance_percentage"`
	AverageScorePercentage *float64  `json:"average_score_percentage"`
	RiskLevel              RiskLevel `json:"risk_level" validate:"oneof=ok warning critical"`
}
