package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/markbook/markbook/pkg/pipeline"
	"github.com/markbook/markbook/pkg/types"
	"github.com/markbook/markbook/server/internal/alerts"
	"github.com/markbook/markbook/server/internal/cache"
	"github.com/markbook/markbook/server/internal/store"
)

// AlertSource lists recent alerts, optionally for one tenant.
type AlertSource interface {
	Active(tenant string) []*alerts.Alert
}

// RankListCache serves rank lists for tenants no longer held in the store.
type RankListCache interface {
	RankList(ctx context.Context, tenant string, key types.GroupKey) ([]types.EnrichedExamResult, error)
}

// Option configures a Handler.
type Option func(*Handler)

// WithAlerts exposes alerts on /api/v1/alerts and on student cards.
func WithAlerts(a AlertSource) Option { return func(h *Handler) { h.alerts = a } }

// WithCache enables the rank-list fallback to the shared cache.
func WithCache(c RankListCache) Option { return func(h *Handler) { h.cache = c } }

// Handler is the HTTP handler for all /api/v1/* endpoints.
// It reads tenant reports from the store and returns JSON responses.
type Handler struct {
	store  *store.Store
	alerts AlertSource
	cache  RankListCache
	mux    *http.ServeMux
	now    func() time.Time
}

// New creates a Handler wired to the given store and registers all routes.
func New(st *store.Store, opts ...Option) http.Handler {
	h := &Handler{store: st, mux: http.NewServeMux(), now: time.Now}
	for _, o := range opts {
		o(h)
	}

	h.route("/api/v1/health", h.health)
	h.route("/api/v1/tenants", h.listTenants)
	h.route("/api/v1/tenants/{tenant}", h.getTenant)
	h.route("/api/v1/tenants/{tenant}/ranklist", h.rankList)
	h.route("/api/v1/tenants/{tenant}/students/{student}", h.student)
	h.route("/api/v1/tenants/{tenant}/attendance", h.attendance)
	h.route("/api/v1/tenants/{tenant}/at-risk", h.atRisk)
	h.route("/api/v1/tenants/{tenant}/diagnostics", h.diagnostics)
	h.route("/api/v1/tenants/{tenant}/report", h.report)
	h.route("/api/v1/alerts", h.listAlerts)
	h.mux.HandleFunc("/api/", func(w http.ResponseWriter, r *http.Request) {
		jsonErr(w, http.StatusNotFound, "not found")
	})

	return h
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mux.ServeHTTP(w, r)
}

// route registers a GET-only endpoint.
func (h *Handler) route(pattern string, fn http.HandlerFunc) {
	h.mux.HandleFunc(pattern, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			jsonErr(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}
		fn(w, r)
	})
}

// tenant resolves the {tenant} path value, writing a 404 when it has no live report.
func (h *Handler) tenant(w http.ResponseWriter, r *http.Request) (*store.Entry, bool) {
	e, ok := h.store.Get(r.PathValue("tenant"))
	if !ok {
		jsonErr(w, http.StatusNotFound, "tenant not found")
		return nil, false
	}
	return e, true
}

// --- route handlers ---------------------------------------------------------

// health returns GET /api/v1/health: student risk counts across tenants.
func (h *Handler) health(w http.ResponseWriter, r *http.Request) {
	entries := h.store.List()
	resp := HealthResponse{TenantCount: len(entries), State: "unknown"}
	if h.alerts != nil {
		for _, a := range h.alerts.Active("") {
			if a.State == alerts.StateFiring {
				resp.AlertCount++
			}
		}
	}
	if len(entries) == 0 {
		jsonResp(w, http.StatusOK, resp)
		return
	}

	now := h.now()
	for _, e := range entries {
		counts := e.Report.Data.RiskCounts()
		resp.OkCount += counts[types.RiskOk]
		resp.WarningCount += counts[types.RiskWarning]
		resp.CriticalCount += counts[types.RiskCritical]
		resp.StudentCount += len(e.Report.Data.Risk)
		resp.IssueCount += countIssues(computeDiagnostics(e.Report, now))
	}
	switch {
	case resp.CriticalCount > 0:
		resp.State = string(types.RiskCritical)
	case resp.WarningCount > 0:
		resp.State = string(types.RiskWarning)
	default:
		resp.State = string(types.RiskOk)
	}
	jsonResp(w, http.StatusOK, resp)
}

// listTenants returns GET /api/v1/tenants: all tenants with a live report.
func (h *Handler) listTenants(w http.ResponseWriter, r *http.Request) {
	entries := h.store.List()
	out := make([]TenantResponse, 0, len(entries))
	for _, e := range entries {
		out = append(out, h.toTenantResponse(e))
	}
	jsonResp(w, http.StatusOK, out)
}

// getTenant returns GET /api/v1/tenants/{tenant}.
func (h *Handler) getTenant(w http.ResponseWriter, r *http.Request) {
	e, ok := h.tenant(w, r)
	if !ok {
		return
	}
	jsonResp(w, http.StatusOK, h.toTenantResponse(e))
}

// rankList returns GET /api/v1/tenants/{tenant}/ranklist?exam=&subject=.
// Tenants missing from the store are served from the cache when one is set.
func (h *Handler) rankList(w http.ResponseWriter, r *http.Request) {
	tenant := r.PathValue("tenant")
	key := types.GroupKey{ExamID: r.URL.Query().Get("exam"), SubjectID: r.URL.Query().Get("subject")}
	if key.ExamID == "" || key.SubjectID == "" {
		jsonErr(w, http.StatusBadRequest, "exam and subject are required")
		return
	}

	resp := RankListResponse{TenantID: tenant, ExamID: key.ExamID, SubjectID: key.SubjectID, Rows: []RankRow{}}
	var rows []types.EnrichedExamResult
	if e, ok := h.store.Get(tenant); ok {
		resp.Source = "store"
		rows = e.Report.Data.RankList(key)
	} else if h.cache != nil {
		resp.Source = "cache"
		var err error
		rows, err = h.cache.RankList(r.Context(), tenant, key)
		switch {
		case errors.Is(err, cache.ErrMiss):
		case err != nil:
			slog.Warn("api: rank list cache read failed", "tenant", tenant, "group", key.String(), "err", err)
			jsonErr(w, http.StatusServiceUnavailable, "rank list cache unavailable")
			return
		}
	}
	if len(rows) == 0 {
		jsonErr(w, http.StatusNotFound, "rank list not found")
		return
	}

	for _, row := range rows {
		resp.Rows = append(resp.Rows, RankRow{
			Rank:          row.Rank,
			StudentID:     row.StudentID,
			MarksObtained: row.MarksObtained,
			MaxMarks:      row.MaxMarks,
			Marks:         types.FormatMarks(row.MarksObtained, row.MaxMarks),
			Percentage:    row.Percentage,
			Grade:         row.Grade,
		})
	}
	jsonResp(w, http.StatusOK, resp)
}

// student returns GET /api/v1/tenants/{tenant}/students/{student}: the
// student's report card and recent alerts.
func (h *Handler) student(w http.ResponseWriter, r *http.Request) {
	e, ok := h.tenant(w, r)
	if !ok {
		return
	}
	id := r.PathValue("student")
	card, ok := e.Report.Data.Student(id)
	if !ok {
		jsonErr(w, http.StatusNotFound, "student not found")
		return
	}
	if card.Results == nil {
		card.Results = []types.EnrichedExamResult{}
	}

	resp := StudentResponse{TenantID: e.Report.TenantID, StudentCard: card, Alerts: []*alerts.Alert{}}
	if h.alerts != nil {
		for _, a := range h.alerts.Active(e.Report.TenantID) {
			if a.StudentID == id {
				resp.Alerts = append(resp.Alerts, a)
			}
		}
	}
	jsonResp(w, http.StatusOK, resp)
}

// attendance returns GET /api/v1/tenants/{tenant}/attendance.
func (h *Handler) attendance(w http.ResponseWriter, r *http.Request) {
	e, ok := h.tenant(w, r)
	if !ok {
		return
	}
	resp := AttendanceResponse{
		TenantID:  e.Report.TenantID,
		Summaries: e.Report.Data.Attendance,
		Days:      e.Report.Data.Days,
	}
	if resp.Summaries == nil {
		resp.Summaries = []types.AttendanceSummary{}
	}
	if resp.Days == nil {
		resp.Days = []pipeline.DayTotals{}
	}
	jsonResp(w, http.StatusOK, resp)
}

// atRisk returns GET /api/v1/tenants/{tenant}/at-risk, optionally filtered
// by ?level=warning|critical.
func (h *Handler) atRisk(w http.ResponseWriter, r *http.Request) {
	var level types.RiskLevel
	if s := r.URL.Query().Get("level"); s != "" {
		l, err := types.ParseRiskLevel(s)
		if err != nil || !l.IsAtRisk() {
			jsonErr(w, http.StatusBadRequest, "level must be warning or critical")
			return
		}
		level = l
	}
	e, ok := h.tenant(w, r)
	if !ok {
		return
	}

	out := []types.RiskAssessment{}
	for _, a := range e.Report.Data.AtRisk() {
		if level == "" || a.RiskLevel == level {
			out = append(out, a)
		}
	}
	jsonResp(w, http.StatusOK, AtRiskResponse{TenantID: e.Report.TenantID, Students: out})
}

// diagnostics returns GET /api/v1/tenants/{tenant}/diagnostics.
func (h *Handler) diagnostics(w http.ResponseWriter, r *http.Request) {
	e, ok := h.tenant(w, r)
	if !ok {
		return
	}
	jsonResp(w, http.StatusOK, computeDiagnostics(e.Report, h.now()))
}

// report returns GET /api/v1/tenants/{tenant}/report: the full stored report.
func (h *Handler) report(w http.ResponseWriter, r *http.Request) {
	e, ok := h.tenant(w, r)
	if !ok {
		return
	}
	jsonResp(w, http.StatusOK, e.Report)
}

// listAlerts returns GET /api/v1/alerts: firing and recently resolved
// alerts, optionally filtered by ?tenant=.
func (h *Handler) listAlerts(w http.ResponseWriter, r *http.Request) {
	if h.alerts == nil {
		jsonResp(w, http.StatusOK, []*alerts.Alert{})
		return
	}
	jsonResp(w, http.StatusOK, h.alerts.Active(r.URL.Query().Get("tenant")))
}

// --- helpers ----------------------------------------------------------------

func jsonResp(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v) //nolint:errcheck
}

func jsonErr(w http.ResponseWriter, code int, msg string) {
	jsonResp(w, code, errorResponse{Error: msg})
}

// toTenantResponse maps a store.Entry to its JSON representation.
func (h *Handler) toTenantResponse(e *store.Entry) TenantResponse {
	rep := e.Report
	return TenantResponse{
		TenantID:     rep.TenantID,
		ReportID:     rep.ID,
		AcademicYear: rep.AcademicYear,
		Scope:        rep.Scope,
		GeneratedAt:  rep.GeneratedAt.UTC().Format(time.RFC3339),
		LastSeen:     e.UpdatedAt.UTC().Format(time.RFC3339),
		Students:     len(rep.Data.Risk),
		Results:      len(rep.Data.Results),
		RiskCounts:   rep.Data.RiskCounts(),
		Groups:       append([]types.GroupKey{}, rep.Data.Groups()...),
		Diagnostics:  computeDiagnostics(rep, h.now()),
	}
}
