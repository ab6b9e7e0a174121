package api_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/markbook/markbook/pkg/pipeline"
	"github.com/markbook/markbook/pkg/transport"
	"github.com/markbook/markbook/pkg/types"
	"github.com/markbook/markbook/server/internal/alerts"
	"github.com/markbook/markbook/server/internal/api"
	"github.com/markbook/markbook/server/internal/cache"
	"github.com/markbook/markbook/server/internal/store"
)

// --- test helpers -----------------------------------------------------------

var bands = []types.GradeBand{
	{Grade: "A", MinPercentage: 80, MaxPercentage: 100},
	{Grade: "B", MinPercentage: 50, MaxPercentage: 79.99},
	{Grade: "F", MinPercentage: 0, MaxPercentage: 49.99},
}

func mark(student string, marks *float64) types.ExamResultInput {
	return types.ExamResultInput{StudentID: student, ExamID: "mid", SubjectID: "math", MarksObtained: marks, MaxMarks: 50}
}

func days(student string, present, absent int) []types.AttendanceEvent {
	start := time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)
	var out []types.AttendanceEvent
	for i := 0; i < present+absent; i++ {
		st := types.Present
		if i >= present {
			st = types.Absent
		}
		out = append(out, types.AttendanceEvent{StudentID: student, Date: start.AddDate(0, 0, i), Status: st})
	}
	return out
}

// buildReport produces a report where s1 and s2 are Ok, s3 is Critical and
// s4 was absent from the only exam.
func buildReport(t *testing.T, tenant string) *transport.Report {
	t.Helper()
	var events []types.AttendanceEvent
	events = append(events, days("s1", 10, 0)...)
	events = append(events, days("s2", 8, 2)...)
	events = append(events, days("s3", 5, 5)...)
	data, err := pipeline.Build(pipeline.Input{
		Bands: bands,
		Results: []types.ExamResultInput{
			mark("s1", types.Float(45)),
			mark("s2", types.Float(40)),
			mark("s3", types.Float(10)),
			mark("s4", nil),
		},
		Attendance: events,
	})
	if err != nil {
		t.Fatalf("pipeline.Build: %v", err)
	}
	return transport.NewReport(tenant, "2025-26", "term-2", data)
}

func newStore(reps ...*transport.Report) *store.Store {
	st := store.New(5 * time.Minute)
	for _, r := range reps {
		st.Put(r)
	}
	return st
}

func get(t *testing.T, h http.Handler, path string) *httptest.ResponseRecorder {
	t.Helper()
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, path, nil))
	return rr
}

func decode(t *testing.T, rr *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	if err := json.NewDecoder(rr.Body).Decode(v); err != nil {
		t.Fatalf("decode JSON: %v (body: %s)", err, rr.Body.String())
	}
}

type fakeAlerts []*alerts.Alert

func (f fakeAlerts) Active(tenant string) []*alerts.Alert {
	var out []*alerts.Alert
	for _, a := range f {
		if tenant == "" || a.TenantID == tenant {
			out = append(out, a)
		}
	}
	return out
}

type fakeCache struct {
	rows map[string][]types.EnrichedExamResult
	err  error
}

func (f *fakeCache) RankList(_ context.Context, tenant string, k types.GroupKey) ([]types.EnrichedExamResult, error) {
	if f.err != nil {
		return nil, f.err
	}
	rows, ok := f.rows[cache.Key(tenant, k)]
	if !ok {
		return nil, cache.ErrMiss
	}
	return rows, nil
}

// --- /api/v1/health ---------------------------------------------------------

func TestHealth_EmptyStore(t *testing.T) {
	h := api.New(newStore())
	rr := get(t, h, "/api/v1/health")

	if rr.Code != http.StatusOK {
		t.Fatalf("status: got %d, want 200", rr.Code)
	}
	var resp map[string]interface{}
	decode(t, rr, &resp)

	if resp["state"] != "unknown" {
		t.Errorf("state: got %v, want unknown", resp["state"])
	}
	if resp["tenant_count"].(float64) != 0 {
		t.Errorf("tenant_count: got %v, want 0", resp["tenant_count"])
	}
}

func TestHealth_Counts(t *testing.T) {
	fired := fakeAlerts{
		{TenantID: "t1", StudentID: "s3", State: alerts.StateFiring},
		{TenantID: "t1", StudentID: "s2", State: alerts.StateResolved},
	}
	h := api.New(newStore(buildReport(t, "t1"), buildReport(t, "t2")), api.WithAlerts(fired))
	var resp api.HealthResponse
	decode(t, get(t, h, "/api/v1/health"), &resp)

	if resp.State != "critical" {
		t.Errorf("state: got %q, want critical", resp.State)
	}
	if resp.TenantCount != 2 || resp.StudentCount != 8 {
		t.Errorf("tenants/students: got %d/%d, want 2/8", resp.TenantCount, resp.StudentCount)
	}
	if resp.OkCount != 6 || resp.CriticalCount != 2 || resp.WarningCount != 0 {
		t.Errorf("counts: got %+v", resp)
	}
	if resp.AlertCount != 1 {
		t.Errorf("alert_count: got %d, want 1", resp.AlertCount)
	}
	// One critical-share hint per tenant.
	if resp.IssueCount != 2 {
		t.Errorf("issue_count: got %d, want 2", resp.IssueCount)
	}
}

func TestMethodNotAllowed(t *testing.T) {
	h := api.New(newStore(buildReport(t, "t1")))
	for _, path := range []string{"/api/v1/health", "/api/v1/tenants", "/api/v1/tenants/t1/at-risk"} {
		rr := httptest.NewRecorder()
		h.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, path, nil))
		if rr.Code != http.StatusMethodNotAllowed {
			t.Errorf("POST %s: got %d, want 405", path, rr.Code)
		}
	}
}

// --- /api/v1/tenants --------------------------------------------------------

func TestListTenants_Empty(t *testing.T) {
	h := api.New(newStore())
	rr := get(t, h, "/api/v1/tenants")
	if rr.Body.String() != "[]\n" {
		t.Errorf("body: got %q, want []", rr.Body.String())
	}
}

func TestListTenants_SortedWithFields(t *testing.T) {
	h := api.New(newStore(buildReport(t, "zeta"), buildReport(t, "alpha")))
	var out []api.TenantResponse
	decode(t, get(t, h, "/api/v1/tenants"), &out)

	if len(out) != 2 || out[0].TenantID != "alpha" || out[1].TenantID != "zeta" {
		t.Fatalf("tenants: got %+v", out)
	}
	ten := out[0]
	if ten.Students != 4 || ten.Results != 4 || ten.AcademicYear != "2025-26" || ten.Scope != "term-2" {
		t.Errorf("tenant: got %+v", ten)
	}
	if ten.RiskCounts[types.RiskCritical] != 1 {
		t.Errorf("risk_counts: got %v", ten.RiskCounts)
	}
	if len(ten.Groups) != 1 || ten.Groups[0] != (types.GroupKey{ExamID: "mid", SubjectID: "math"}) {
		t.Errorf("groups: got %v", ten.Groups)
	}
	if len(ten.Diagnostics) == 0 || ten.Diagnostics[0].Key != "critical_share" {
		t.Errorf("diagnostics: got %+v", ten.Diagnostics)
	}
}

func TestGetTenant_NotFound(t *testing.T) {
	h := api.New(newStore())
	if rr := get(t, h, "/api/v1/tenants/ghost"); rr.Code != http.StatusNotFound {
		t.Errorf("status: got %d, want 404", rr.Code)
	}
}

// --- /api/v1/tenants/{tenant}/ranklist --------------------------------------

func TestRankList_FromStore(t *testing.T) {
	h := api.New(newStore(buildReport(t, "t1")))
	rr := get(t, h, "/api/v1/tenants/t1/ranklist?exam=mid&subject=math")
	if rr.Code != http.StatusOK {
		t.Fatalf("status: got %d (%s)", rr.Code, rr.Body.String())
	}
	var resp api.RankListResponse
	decode(t, rr, &resp)

	if resp.Source != "store" || len(resp.Rows) != 4 {
		t.Fatalf("resp: got %+v", resp)
	}
	wantOrder := []string{"s1", "s2", "s3", "s4"}
	for i, row := range resp.Rows {
		if row.StudentID != wantOrder[i] {
			t.Errorf("row %d: got %s, want %s", i, row.StudentID, wantOrder[i])
		}
	}
	first, last := resp.Rows[0], resp.Rows[3]
	if first.Rank == nil || *first.Rank != 1 || first.Grade == nil || *first.Grade != "A" || first.Marks != "45/50" {
		t.Errorf("first row: got %+v", first)
	}
	if last.Rank != nil || last.Percentage != nil || last.Marks != "absent/50" {
		t.Errorf("absentee row: got %+v", last)
	}
}

func TestRankList_MissingParams(t *testing.T) {
	h := api.New(newStore(buildReport(t, "t1")))
	if rr := get(t, h, "/api/v1/tenants/t1/ranklist?exam=mid"); rr.Code != http.StatusBadRequest {
		t.Errorf("status: got %d, want 400", rr.Code)
	}
}

func TestRankList_UnknownGroup(t *testing.T) {
	h := api.New(newStore(buildReport(t, "t1")))
	if rr := get(t, h, "/api/v1/tenants/t1/ranklist?exam=final&subject=math"); rr.Code != http.StatusNotFound {
		t.Errorf("status: got %d, want 404", rr.Code)
	}
}

func TestRankList_CacheFallback(t *testing.T) {
	key := types.GroupKey{ExamID: "mid", SubjectID: "math"}
	rep := buildReport(t, "t1")
	fc := &fakeCache{rows: map[string][]types.EnrichedExamResult{
		cache.Key("archived", key): rep.Data.RankList(key),
	}}
	h := api.New(newStore(rep), api.WithCache(fc))

	var resp api.RankListResponse
	decode(t, get(t, h, "/api/v1/tenants/archived/ranklist?exam=mid&subject=math"), &resp)
	if resp.Source != "cache" || len(resp.Rows) != 4 {
		t.Errorf("resp: got %+v", resp)
	}

	if rr := get(t, h, "/api/v1/tenants/ghost/ranklist?exam=mid&subject=math"); rr.Code != http.StatusNotFound {
		t.Errorf("cache miss: got %d, want 404", rr.Code)
	}
}

func TestRankList_CacheError(t *testing.T) {
	h := api.New(newStore(), api.WithCache(&fakeCache{err: errors.New("connection refused")}))
	if rr := get(t, h, "/api/v1/tenants/t1/ranklist?exam=mid&subject=math"); rr.Code != http.StatusServiceUnavailable {
		t.Errorf("status: got %d, want 503", rr.Code)
	}
}

// --- students, attendance, at-risk ------------------------------------------

func TestStudent_Card(t *testing.T) {
	fired := fakeAlerts{
		{TenantID: "t1", StudentID: "s3", RuleName: "crit", State: alerts.StateFiring},
		{TenantID: "t1", StudentID: "s1", RuleName: "crit", State: alerts.StateFiring},
		{TenantID: "t2", StudentID: "s3", RuleName: "crit", State: alerts.StateFiring},
	}
	h := api.New(newStore(buildReport(t, "t1")), api.WithAlerts(fired))
	var resp api.StudentResponse
	decode(t, get(t, h, "/api/v1/tenants/t1/students/s3"), &resp)

	if resp.StudentID != "s3" || len(resp.Results) != 1 {
		t.Fatalf("card: got %+v", resp)
	}
	if resp.Risk == nil || resp.Risk.RiskLevel != types.RiskCritical {
		t.Errorf("risk: got %+v", resp.Risk)
	}
	if resp.Attendance == nil || resp.Attendance.Percentage == nil || *resp.Attendance.Percentage != 50 {
		t.Errorf("attendance: got %+v", resp.Attendance)
	}
	if len(resp.Alerts) != 1 || resp.Alerts[0].TenantID != "t1" {
		t.Errorf("alerts: got %+v", resp.Alerts)
	}
}

func TestStudent_NotFound(t *testing.T) {
	h := api.New(newStore(buildReport(t, "t1")))
	if rr := get(t, h, "/api/v1/tenants/t1/students/nobody"); rr.Code != http.StatusNotFound {
		t.Errorf("status: got %d, want 404", rr.Code)
	}
}

func TestAttendance(t *testing.T) {
	h := api.New(newStore(buildReport(t, "t1")))
	var resp api.AttendanceResponse
	decode(t, get(t, h, "/api/v1/tenants/t1/attendance"), &resp)
	if len(resp.Summaries) != 3 || len(resp.Days) != 3 {
		t.Errorf("attendance: got %d summaries, %d days", len(resp.Summaries), len(resp.Days))
	}
}

func TestAtRisk(t *testing.T) {
	h := api.New(newStore(buildReport(t, "t1")))

	var resp api.AtRiskResponse
	decode(t, get(t, h, "/api/v1/tenants/t1/at-risk"), &resp)
	if len(resp.Students) != 1 || resp.Students[0].StudentID != "s3" {
		t.Errorf("at-risk: got %+v", resp.Students)
	}

	decode(t, get(t, h, "/api/v1/tenants/t1/at-risk?level=warning"), &resp)
	if len(resp.Students) != 0 {
		t.Errorf("warning filter: got %+v", resp.Students)
	}

	if rr := get(t, h, "/api/v1/tenants/t1/at-risk?level=ok"); rr.Code != http.StatusBadRequest {
		t.Errorf("level=ok: got %d, want 400", rr.Code)
	}
}

// --- diagnostics, report, alerts --------------------------------------------

func TestDiagnostics_Ordered(t *testing.T) {
	h := api.New(newStore(buildReport(t, "t1")))
	var hints []api.DiagnosticHint
	decode(t, get(t, h, "/api/v1/tenants/t1/diagnostics"), &hints)

	if len(hints) != 2 {
		t.Fatalf("hints: got %+v", hints)
	}
	if hints[0].Level != "critical" || hints[1].Key != "absentees_mid_math" {
		t.Errorf("order: got %s then %s", hints[0].Key, hints[1].Key)
	}
}

func TestReport_FullDump(t *testing.T) {
	rep := buildReport(t, "t1")
	h := api.New(newStore(rep))
	var got transport.Report
	decode(t, get(t, h, "/api/v1/tenants/t1/report"), &got)
	if got.ID != rep.ID || got.Data == nil || len(got.Data.Results) != 4 {
		t.Errorf("report: got %+v", got)
	}
}

func TestAlerts_NoEngine(t *testing.T) {
	h := api.New(newStore())
	rr := get(t, h, "/api/v1/alerts")
	if rr.Code != http.StatusOK || rr.Body.String() != "[]\n" {
		t.Errorf("alerts: got %d %q", rr.Code, rr.Body.String())
	}
}

func TestAlerts_TenantFilter(t *testing.T) {
	fired := fakeAlerts{{TenantID: "t1", StudentID: "a"}, {TenantID: "t2", StudentID: "b"}}
	h := api.New(newStore(), api.WithAlerts(fired))
	var out []alerts.Alert
	decode(t, get(t, h, "/api/v1/alerts?tenant=t2"), &out)
	if len(out) != 1 || out[0].StudentID != "b" {
		t.Errorf("alerts: got %+v", out)
	}
}

func TestUnknownRoute(t *testing.T) {
	h := api.New(newStore())
	rr := get(t, h, "/api/v1/pipelines")
	if rr.Code != http.StatusNotFound {
		t.Errorf("status: got %d, want 404", rr.Code)
	}
}

func TestContentTypeJSON(t *testing.T) {
	h := api.New(newStore(buildReport(t, "t1")))
	for _, path := range []string{"/api/v1/health", "/api/v1/tenants", "/api/v1/tenants/t1/diagnostics", "/api/v1/alerts"} {
		rr := get(t, h, path)
		if ct := rr.Header().Get("Content-Type"); ct != "application/json" {
			t.Errorf("%s: Content-Type %q", path, ct)
		}
	}
}
