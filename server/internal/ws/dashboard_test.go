package ws_test

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/markbook/markbook/pkg/pipeline"
	"github.com/markbook/markbook/pkg/transport"
	"github.com/markbook/markbook/pkg/types"
	"github.com/markbook/markbook/server/internal/store"
	"github.com/markbook/markbook/server/internal/ws"
)

func newStore(reps ...*transport.Report) *store.Store {
	st := store.New(5 * time.Minute)
	for _, r := range reps {
		st.Put(r)
	}
	return st
}

// report builds a tenant report whose students a, b, c... carry levels in
// order.
func report(tenant string, levels ...types.RiskLevel) *transport.Report {
	data := &pipeline.Report{}
	for i, l := range levels {
		data.Risk = append(data.Risk, types.RiskAssessment{StudentID: string(rune('a' + i)), RiskLevel: l})
	}
	return transport.NewReport(tenant, "", "", data)
}

func TestBuildDashboard(t *testing.T) {
	st := newStore(
		report("t2", types.RiskCritical),
		report("t1", types.RiskOk, types.RiskWarning, types.RiskCritical),
	)

	d := ws.BuildDashboard(st, "")
	require.Len(t, d.Tenants, 2)
	assert.Equal(t, "t1", d.Tenants[0].TenantID)
	assert.Equal(t, map[types.RiskLevel]int{types.RiskOk: 1, types.RiskWarning: 1, types.RiskCritical: 2}, d.Totals)

	t1 := d.Tenants[0]
	assert.Equal(t, 3, t1.Students)
	assert.Equal(t, []string{"c", "b"}, t1.AtRisk, "critical before warning")
	_, err := time.Parse(time.RFC3339, d.GeneratedAt)
	assert.NoError(t, err)
}

func TestBuildDashboard_TenantFilter(t *testing.T) {
	st := newStore(report("t1", types.RiskOk), report("t2", types.RiskWarning))

	d := ws.BuildDashboard(st, "t2")
	require.Len(t, d.Tenants, 1)
	assert.Equal(t, "t2", d.Tenants[0].TenantID)
	assert.Equal(t, 0, d.Totals[types.RiskOk])
	assert.Equal(t, 1, d.Totals[types.RiskWarning])

	assert.Empty(t, ws.BuildDashboard(st, "nobody").Tenants)
}

func TestBuildDashboard_EmptyEncodesArrays(t *testing.T) {
	raw, err := json.Marshal(ws.BuildDashboard(newStore(report("t", types.RiskOk)), ""))
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"at_risk":[]`)

	raw, err = json.Marshal(ws.BuildDashboard(newStore(), ""))
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"tenants":[]`)
	assert.Contains(t, string(raw), `"critical":0`)
}
