package runner

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/markbook/markbook/pkg/pipeline"
	"github.com/markbook/markbook/pkg/transport"
	"github.com/markbook/markbook/pkg/types"
	"github.com/markbook/markbook/worker/internal/config"
	"github.com/markbook/markbook/worker/internal/source"
)

// Shipper accepts finished reports. Ship must not block.
type Shipper interface {
	Ship(*transport.Report)
}

// TenantState is the run history of one tenant.
type TenantState struct {
	LastAttempt         time.Time
	LastSuccess         time.Time
	ConsecutiveFailures int
	LastError           string
	LastReportID        string
	Students            int
	AtRisk              int
}

// Runner maintains per-tenant state across passes.
//
// All exported methods are safe for concurrent use.
type Runner struct {
	src  source.Source
	ship Shipper

	mu     sync.Mutex
	cfg    config.WorkerConfig
	states map[string]*TenantState

	// now is injectable for tests.
	now func() time.Time
}

// New returns a Runner reading from src and shipping to ship.
func New(src source.Source, ship Shipper, cfg config.WorkerConfig) *Runner {
	return &Runner{
		src:    src,
		ship:   ship,
		cfg:    cfg,
		states: make(map[string]*TenantState),
		now:    time.Now,
	}
}

// Update swaps in a new configuration for subsequent passes. State of
// tenants that are no longer configured is dropped.
func (r *Runner) Update(cfg config.WorkerConfig) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.cfg = cfg
	keep := make(map[string]bool, len(cfg.Tenants))
	for _, t := range cfg.Tenants {
		keep[t.ID] = true
	}
	for id := range r.states {
		if !keep[id] {
			delete(r.states, id)
		}
	}
}

// RunOnce runs one pass for every configured tenant and returns the joined
// errors of the tenants that failed.
func (r *Runner) RunOnce(ctx context.Context) error {
	r.mu.Lock()
	cfg := r.cfg
	r.mu.Unlock()

	if len(cfg.Tenants) == 0 {
		slog.Warn("runner: no tenants configured, nothing to do")
		return nil
	}

	var errs []error
	for _, t := range cfg.Tenants {
		if ctx.Err() != nil {
			errs = append(errs, ctx.Err())
			break
		}
		if _, err := r.Pass(ctx, t, cfg.Parallelism); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Pass aggregates one tenant and ships the report.
func (r *Runner) Pass(ctx context.Context, t config.Tenant, parallelism int) (*transport.Report, error) {
	start := r.now()
	rep, err := r.build(ctx, t, parallelism)
	failures := r.record(t.ID, start, rep, err)
	if err != nil {
		slog.Error("runner: pass failed", "tenant", t.ID, "consecutive_failures", failures, "err", err)
		return nil, err
	}

	for _, issue := range rep.Data.Diagnostics {
		slog.Warn("runner: grade band coverage", "tenant", t.ID, "issue", issue.String())
	}
	r.ship.Ship(rep)

	counts := rep.Data.RiskCounts()
	slog.Info("runner: pass complete",
		"tenant", t.ID,
		"report_id", rep.ID,
		"results", len(rep.Data.Results),
		"students", len(rep.Data.Risk),
		"warning", counts[types.RiskWarning],
		"critical", counts[types.RiskCritical],
		"took", r.now().Sub(start),
	)
	return rep, nil
}

func (r *Runner) build(ctx context.Context, t config.Tenant, parallelism int) (*transport.Report, error) {
	scope, err := source.ParseScope(t.Scope.Kind, t.Scope.ID)
	if err != nil {
		return nil, err
	}
	rec, err := r.src.Snapshot(ctx, source.Request{
		TenantID:     t.ID,
		AcademicYear: t.AcademicYear,
		Scope:        scope,
		From:         t.AttendanceFrom,
		To:           t.AttendanceTo,
	})
	if err != nil {
		return nil, fmt.Errorf("runner: snapshot: %w", err)
	}

	data, err := pipeline.Build(pipeline.Input{
		Bands:       rec.Bands,
		Results:     rec.Results,
		Attendance:  rec.Attendance,
		Students:    rec.Students,
		Thresholds:  t.Thresholds(),
		Parallelism: parallelism,
	})
	if err != nil {
		return nil, fmt.Errorf("runner: tenant %s: %w", t.ID, err)
	}
	return transport.NewReport(t.ID, t.AcademicYear, scope.String(), data), nil
}

// record updates the tenant's run state and returns its consecutive failures.
func (r *Runner) record(tenant string, at time.Time, rep *transport.Report, err error) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	st, ok := r.states[tenant]
	if !ok {
		st = &TenantState{}
		r.states[tenant] = st
	}
	st.LastAttempt = at
	if err != nil {
		st.ConsecutiveFailures++
		st.LastError = err.Error()
		return st.ConsecutiveFailures
	}
	st.LastSuccess = at
	st.ConsecutiveFailures = 0
	st.LastError = ""
	st.LastReportID = rep.ID
	st.Students = len(rep.Data.Risk)
	st.AtRisk = len(rep.Data.AtRisk())
	return 0
}

// State returns a copy of the run state of tenant.
func (r *Runner) State(tenant string) (TenantState, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	st, ok := r.states[tenant]
	if !ok {
		return TenantState{}, false
	}
	return *st, true
}
