package api

import (
	"github.com/markbook/markbook/pkg/pipeline"
	"github.com/markbook/markbook/pkg/types"
	"github.com/markbook/markbook/server/internal/alerts"
)

// HealthResponse is the payload for GET /api/v1/health. State is the worst
// risk level across tenants, or "unknown" when no tenant has reported.
type HealthResponse struct {
	State         string `json:"state"`
	TenantCount   int    `json:"tenant_count"`
	StudentCount  int    `json:"student_count"`
	OkCount       int    `json:"ok_count"`
	WarningCount  int    `json:"warning_count"`
	CriticalCount int    `json:"critical_count"`
	AlertCount    int    `json:"alert_count"`
	IssueCount    int    `json:"issue_count"` // warning and critical diagnostics
}

// TenantResponse is one tenant entry in GET /api/v1/tenants or
// GET /api/v1/tenants/{tenant}.
type TenantResponse struct {
	TenantID     string                  `json:"tenant_id"`
	ReportID     string                  `json:"report_id"`
	AcademicYear string                  `json:"academic_year,omitempty"`
	Scope        string                  `json:"scope,omitempty"`
	GeneratedAt  string                  `json:"generated_at"` // RFC3339
	LastSeen     string                  `json:"last_seen"`    // RFC3339
	Students     int                     `json:"students"`
	Results      int                     `json:"results"`
	RiskCounts   map[types.RiskLevel]int `json:"risk_counts"`
	Groups       []types.GroupKey        `json:"groups"`
	Diagnostics  []DiagnosticHint        `json:"diagnostics"`
}

// RankRow is one student's line in a rank list.
type RankRow struct {
	Rank          *int     `json:"rank"`
	StudentID     string   `json:"student_id"`
	MarksObtained *float64 `json:"marks_obtained"`
	MaxMarks      float64  `json:"max_marks"`
	Marks         string   `json:"marks"` // "42/50" or "absent/50"
	Percentage    *float64 `json:"percentage"`
	Grade         *string  `json:"grade"`
}

// RankListResponse is the payload for GET /api/v1/tenants/{tenant}/ranklist.
type RankListResponse struct {
	TenantID  string    `json:"tenant_id"`
	ExamID    string    `json:"exam_id"`
	SubjectID string    `json:"subject_id"`
	Source    string    `json:"source"` // "store" | "cache"
	Rows      []RankRow `json:"rows"`
}

// StudentResponse is the payload for GET /api/v1/tenants/{tenant}/students/{student}.
type StudentResponse struct {
	TenantID string `json:"tenant_id"`
	pipeline.StudentCard
	Alerts []*alerts.Alert `json:"alerts"`
}

// AttendanceResponse is the payload for GET /api/v1/tenants/{tenant}/attendance.
type AttendanceResponse struct {
	TenantID  string                    `json:"tenant_id"`
	Summaries []types.AttendanceSummary `json:"summaries"`
	Days      []pipeline.DayTotals      `json:"days"`
}

// AtRiskResponse is the payload for GET /api/v1/tenants/{tenant}/at-risk.
type AtRiskResponse struct {
	TenantID string                 `json:"tenant_id"`
	Students []types.RiskAssessment `json:"students"`
}

type errorResponse struct {
	Error string `json:"error"`
}
