package alerts

import (
	"fmt"
	"log/slog"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/markbook/markbook/pkg/transport"
	"github.com/markbook/markbook/pkg/types"
	"github.com/markbook/markbook/server/internal/config"
)

const (
	defaultCooldown   = 15 * time.Minute
	maxHistoryLen     = 200
	recentWindowHours = 1
)

// Alert states.
const (
	StateFiring   = "firing"
	StateResolved = "resolved"
)

// Alert represents a single alert event produced by the rule engine.
type Alert struct {
	ID         string     `json:"id"`
	RuleName   string     `json:"rule_name"`
	TenantID   string     `json:"tenant_id"`
	StudentID  string     `json:"student_id"`
	Severity   string     `json:"severity"`
	Message    string     `json:"message"`
	Value      *float64   `json:"value"`
	FiredAt    time.Time  `json:"fired_at"`
	ResolvedAt *time.Time `json:"resolved_at,omitempty"`
	State      string     `json:"state"`
}

type rule struct {
	config.AlertRule
	cond condition
}

// Engine evaluates alert rules against incoming reports and delivers webhook
// notifications when rules fire or resolve.
//
// Engine is safe for concurrent use.
type Engine struct {
	rules    []rule
	webhooks []config.WebhookConfig

	mu       sync.Mutex
	active   map[string]*Alert    // key: "rule|tenant|student"
	lastFire map[string]time.Time // last fire time per key (for cooldown)
	history  []*Alert             // recently resolved alerts
	client   *http.Client
	now      func() time.Time
	send     func(*Alert) // delivery hook; webhooks by default
}

// New creates an Engine from the server alert configuration.
// An Engine with empty rules is valid; Evaluate becomes a no-op.
func New(cfg config.AlertsConfig) (*Engine, error) {
	e := &Engine{
		webhooks: cfg.Webhooks,
		active:   make(map[string]*Alert),
		lastFire: make(map[string]time.Time),
		client:   &http.Client{Timeout: 10 * time.Second},
		now:      time.Now,
	}
	e.send = func(a *Alert) { go e.deliver(a) }
	for _, r := range cfg.Rules {
		c, err := parseCondition(r.Condition)
		if err != nil {
			return nil, fmt.Errorf("alerts: rule %q: %w", r.Name, err)
		}
		if r.Cooldown <= 0 {
			r.Cooldown = defaultCooldown
		}
		if r.Severity == "" {
			r.Severity = "warning"
		}
		e.rules = append(e.rules, rule{AlertRule: r, cond: c})
	}
	return e, nil
}

func alertKey(rule, tenant, student string) string {
	return rule + "|" + tenant + "|" + student
}

// Evaluate tests all rules against every assessment in rep and returns the
// alerts that fired. Firing alerts for the tenant whose condition no longer
// holds, or whose student left the report, are resolved.
func (e *Engine) Evaluate(rep *transport.Report) []*Alert {
	if len(e.rules) == 0 || rep == nil || rep.Data == nil {
		return nil
	}
	now := e.now()

	e.mu.Lock()
	var fired, notify []*Alert
	seen := make(map[string]bool)
	for _, r := range e.rules {
		for _, a := range rep.Data.Risk {
			ok, value := r.cond.eval(a)
			if !ok {
				continue
			}
			key := alertKey(r.Name, rep.TenantID, a.StudentID)
			seen[key] = true
			if now.Sub(e.lastFire[key]) <= r.Cooldown {
				continue
			}
			al := &Alert{
				ID:        uuid.NewString(),
				RuleName:  r.Name,
				TenantID:  rep.TenantID,
				StudentID: a.StudentID,
				Severity:  r.Severity,
				Value:     value,
				Message:   message(r, rep.TenantID, a),
				FiredAt:   now,
				State:     StateFiring,
			}
			e.active[key] = al
			e.lastFire[key] = now
			cp := *al
			fired = append(fired, &cp)
			notify = append(notify, &cp)
		}
	}
	for key, al := range e.active {
		if al.TenantID != rep.TenantID || seen[key] {
			continue
		}
		resolved := now
		al.State = StateResolved
		al.ResolvedAt = &resolved
		delete(e.active, key)
		e.history = append(e.history, al)
		cp := *al
		notify = append(notify, &cp)
	}
	if len(e.history) > maxHistoryLen {
		e.history = e.history[len(e.history)-maxHistoryLen:]
	}
	e.mu.Unlock()

	for _, al := range notify {
		if al.State == StateFiring {
			slog.Warn("alert fired",
				"rule", al.RuleName,
				"tenant", al.TenantID,
				"student", al.StudentID,
				"severity", al.Severity,
			)
		} else {
			slog.Info("alert resolved",
				"rule", al.RuleName,
				"tenant", al.TenantID,
				"student", al.StudentID,
			)
		}
		e.send(al)
	}
	return fired
}

// message renders the human-readable alert text.
func message(r rule, tenant string, a types.RiskAssessment) string {
	return fmt.Sprintf("[%s] %s fired for student %s in %s: %s (risk %s, attendance %s, average score %s)",
		r.Severity, r.Name, a.StudentID, tenant, r.Condition, a.RiskLevel,
		types.FormatPercent(a.AttendancePercentage, types.AttendancePlaces),
		types.FormatPercent(a.AverageScorePercentage, types.ScorePlaces))
}

// Active returns copies of all currently firing alerts plus any alerts
// resolved within the past hour, newest first. A non-empty tenant filters
// by tenant.
func (e *Engine) Active(tenant string) []*Alert {
	e.mu.Lock()
	defer e.mu.Unlock()

	cutoff := e.now().Add(-recentWindowHours * time.Hour)
	out := make([]*Alert, 0, len(e.active))

	for _, a := range e.active {
		if tenant == "" || a.TenantID == tenant {
			cp := *a
			out = append(out, &cp)
		}
	}
	for _, a := range e.history {
		if a.ResolvedAt != nil && a.ResolvedAt.After(cutoff) && (tenant == "" || a.TenantID == tenant) {
			cp := *a
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].FiredAt.Equal(out[j].FiredAt) {
			return out[i].FiredAt.After(out[j].FiredAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// Firing returns the number of currently firing alerts.
func (e *Engine) Firing() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.active)
}
