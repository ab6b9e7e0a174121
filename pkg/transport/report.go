package transport

import (
	"time"

	"github.com/google/uuid"

	"github.com/markbook/markbook/pkg/pipeline"
)

// Report is one tenant's aggregation pass as shipped by the worker.
type Report struct {
	ID           string           `json:"id" validate:"required,uuid"`
	TenantID     string           `json:"tenant_id" validate:"required"`
	AcademicYear string           `json:"academic_year,omitempty"`
	Scope        string           `json:"scope,omitempty"`
	GeneratedAt  time.Time        `json:"generated_at" validate:"required"`
	Data         *pipeline.Report `json:"data" validate:"required"`
}

// NewReport wraps data in a Report with a fresh ID and the current time.
func NewReport(tenantID, academicYear, scope string, data *pipeline.Report) *Report {
	return &Report{
		ID:           uuid.NewString(),
		TenantID:     tenantID,
		AcademicYear: academicYear,
		Scope:        scope,
		GeneratedAt:  time.Now().UTC(),
		Data:         data,
	}
}

// SendResponse acknowledges a Report.
type SendResponse struct {
	OK      bool   `json:"ok"`
	Message string `json:"message,omitempty"`
}
