package metrics

import (
	"log/slog"
	"net/http"
	"sort"
	"sync"
	"time"

	dto "github.com/prometheus/client_model/go"
	"github.com/prometheus/common/expfmt"

	"github.com/markbook/markbook/pkg/types"
	"github.com/markbook/markbook/server/internal/store"
)

// Metric family names.
const (
	ReportsReceived = "markbook_reports_received_total"
	ReportsRejected = "markbook_reports_rejected_total"
	AlertsFired     = "markbook_alerts_fired_total"
	CacheErrors     = "markbook_cache_errors_total"
	Students        = "markbook_students"
	ReportAge       = "markbook_report_age_seconds"
	BandIssues      = "markbook_grade_band_issues"
)

// Metrics collects counters for the server.
// Metrics is safe for concurrent use.
type Metrics struct {
	mu       sync.Mutex
	received map[string]float64 // tenant
	rejected map[string]float64 // reason
	alerts   map[[2]string]float64
	cacheErr float64

	now func() time.Time
}

// New returns an empty Metrics.
func New() *Metrics {
	return &Metrics{
		received: make(map[string]float64),
		rejected: make(map[string]float64),
		alerts:   make(map[[2]string]float64),
		now:      time.Now,
	}
}

// ReportAccepted counts a stored report for tenant.
func (m *Metrics) ReportAccepted(tenant string) {
	m.mu.Lock()
	m.received[tenant]++
	m.mu.Unlock()
}

// ReportRejected counts a report refused for reason ("invalid", "stale").
func (m *Metrics) ReportRejected(reason string) {
	m.mu.Lock()
	m.rejected[reason]++
	m.mu.Unlock()
}

// AlertFired counts one alert firing.
func (m *Metrics) AlertFired(rule, severity string) {
	m.mu.Lock()
	m.alerts[[2]string{rule, severity}]++
	m.mu.Unlock()
}

// CacheError counts one failed cache write.
func (m *Metrics) CacheError() {
	m.mu.Lock()
	m.cacheErr++
	m.mu.Unlock()
}

// Families returns every non-empty metric family, sorted by name. entries
// supply the per-tenant gauges.
func (m *Metrics) Families(entries []*store.Entry) []*dto.MetricFamily {
	m.mu.Lock()
	fams := []*dto.MetricFamily{
		counterFamily(ReportsReceived, "Reports accepted from workers.", "tenant", m.received),
		counterFamily(ReportsRejected, "Reports refused by the receiver.", "reason", m.rejected),
		alertFamily(m.alerts),
		{
			Name:   strp(CacheErrors),
			Help:   strp("Failed rank-list cache writes."),
			Type:   dto.MetricType_COUNTER.Enum(),
			Metric: []*dto.Metric{{Counter: &dto.Counter{Value: f64p(m.cacheErr)}}},
		},
	}
	m.mu.Unlock()

	fams = append(fams, tenantFamilies(entries, m.now())...)

	// The text format rejects families without samples.
	out := fams[:0]
	for _, mf := range fams {
		if len(mf.Metric) > 0 {
			out = append(out, mf)
		}
	}
	fams = out
	sort.Slice(fams, func(i, j int) bool { return fams[i].GetName() < fams[j].GetName() })
	return fams
}

// Handler serves the text exposition built from st.
func (m *Metrics) Handler(st *store.Store) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		format := expfmt.NewFormat(expfmt.TypeTextPlain)
		w.Header().Set("Content-Type", string(format))
		enc := expfmt.NewEncoder(w, format)
		for _, mf := range m.Families(st.List()) {
			if err := enc.Encode(mf); err != nil {
				slog.Error("metrics: encode failed", "family", mf.GetName(), "err", err)
				return
			}
		}
	})
}

func tenantFamilies(entries []*store.Entry, now time.Time) []*dto.MetricFamily {
	students := &dto.MetricFamily{
		Name: strp(Students),
		Help: strp("Assessed students per tenant and risk level in the latest report."),
		Type: dto.MetricType_GAUGE.Enum(),
	}
	age := &dto.MetricFamily{
		Name: strp(ReportAge),
		Help: strp("Seconds since the latest report was generated."),
		Type: dto.MetricType_GAUGE.Enum(),
	}
	issues := &dto.MetricFamily{
		Name: strp(BandIssues),
		Help: strp("Grade band coverage problems in the latest report."),
		Type: dto.MetricType_GAUGE.Enum(),
	}
	levels := []types.RiskLevel{types.RiskOk, types.RiskWarning, types.RiskCritical}
	for _, e := range entries {
		rep := e.Report
		counts := rep.Data.RiskCounts()
		for _, l := range levels {
			students.Metric = append(students.Metric, &dto.Metric{
				Label: labels("tenant", rep.TenantID, "risk_level", string(l)),
				Gauge: &dto.Gauge{Value: f64p(float64(counts[l]))},
			})
		}
		age.Metric = append(age.Metric, &dto.Metric{
			Label: labels("tenant", rep.TenantID),
			Gauge: &dto.Gauge{Value: f64p(now.Sub(rep.GeneratedAt).Seconds())},
		})
		issues.Metric = append(issues.Metric, &dto.Metric{
			Label: labels("tenant", rep.TenantID),
			Gauge: &dto.Gauge{Value: f64p(float64(len(rep.Data.Diagnostics)))},
		})
	}
	return []*dto.MetricFamily{students, age, issues}
}

func counterFamily(name, help, label string, vals map[string]float64) *dto.MetricFamily {
	keys := make([]string, 0, len(vals))
	for k := range vals {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	mf := &dto.MetricFamily{Name: strp(name), Help: strp(help), Type: dto.MetricType_COUNTER.Enum()}
	for _, k := range keys {
		mf.Metric = append(mf.Metric, &dto.Metric{
			Label:   labels(label, k),
			Counter: &dto.Counter{Value: f64p(vals[k])},
		})
	}
	return mf
}

func alertFamily(vals map[[2]string]float64) *dto.MetricFamily {
	keys := make([][2]string, 0, len(vals))
	for k := range vals {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i][0] != keys[j][0] {
			return keys[i][0] < keys[j][0]
		}
		return keys[i][1] < keys[j][1]
	})

	mf := &dto.MetricFamily{Name: strp(AlertsFired), Help: strp("Alerts fired per rule."), Type: dto.MetricType_COUNTER.Enum()}
	for _, k := range keys {
		mf.Metric = append(mf.Metric, &dto.Metric{
			Label:   labels("rule", k[0], "severity", k[1]),
			Counter: &dto.Counter{Value: f64p(vals[k])},
		})
	}
	return mf
}

// labels builds label pairs from alternating names and values.
func labels(kv ...string) []*dto.LabelPair {
	out := make([]*dto.LabelPair, 0, len(kv)/2)
	for i := 0; i+1 < len(kv); i += 2 {
		out = append(out, &dto.LabelPair{Name: strp(kv[i]), Value: strp(kv[i+1])})
	}
	return out
}

func strp(s string) *string     { return &s }
func f64p(v float64) *float64 { return &v }
