package ws

import (
	"encoding/json"
	"time"

	"github.com/markbook/markbook/pkg/types"
	"github.com/markbook/markbook/server/internal/store"
)

// Message is the envelope every frame carries.
type Message struct {
	Event string    `json:"event"`
	Data  Dashboard `json:"data"`
}

// Dashboard is the live risk overview pushed to clients.
type Dashboard struct {
	GeneratedAt string                  `json:"generated_at"` // RFC3339
	Totals      map[types.RiskLevel]int `json:"totals"`
	Tenants     []TenantSummary         `json:"tenants"`
}

// TenantSummary is one tenant's row on the dashboard. AtRisk lists critical
// students before warning ones.
type TenantSummary struct {
	TenantID    string                  `json:"tenant_id"`
	GeneratedAt string                  `json:"generated_at"` // RFC3339
	Students    int                     `json:"students"`
	RiskCounts  map[types.RiskLevel]int `json:"risk_counts"`
	AtRisk      []string                `json:"at_risk"`
}

func encodeDashboard(st *store.Store, tenant string) ([]byte, error) {
	return json.Marshal(Message{Event: "dashboard", Data: BuildDashboard(st, tenant)})
}

// BuildDashboard summarises the live reports in st. A non-empty tenant
// restricts the result to that tenant.
func BuildDashboard(st *store.Store, tenant string) Dashboard {
	d := Dashboard{
		GeneratedAt: time.Now().UTC().Format(time.RFC3339),
		Totals:      map[types.RiskLevel]int{types.RiskOk: 0, types.RiskWarning: 0, types.RiskCritical: 0},
		Tenants:     []TenantSummary{},
	}
	for _, e := range st.List() {
		rep := e.Report
		if tenant != "" && rep.TenantID != tenant {
			continue
		}
		counts := rep.Data.RiskCounts()
		for level, n := range counts {
			d.Totals[level] += n
		}
		atRisk := []string{}
		for _, a := range rep.Data.AtRisk() {
			atRisk = append(atRisk, a.StudentID)
		}
		d.Tenants = append(d.Tenants, TenantSummary{
			TenantID:    rep.TenantID,
			GeneratedAt: rep.GeneratedAt.UTC().Format(time.RFC3339),
			Students:    len(rep.Data.Risk),
			RiskCounts:  counts,
			AtRisk:      atRisk,
		})
	}
	return d
}
