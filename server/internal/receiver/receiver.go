package receiver

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-playground/validator/v10"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/markbook/markbook/pkg/transport"
	"github.com/markbook/markbook/server/internal/alerts"
	"github.com/markbook/markbook/server/internal/store"
)

const cacheTimeout = 5 * time.Second

// Evaluator runs alert rules over a stored report.
type Evaluator interface {
	Evaluate(rep *transport.Report) []*alerts.Alert
}

// RankCache receives every stored report's rank lists.
type RankCache interface {
	PutReport(ctx context.Context, rep *transport.Report) error
}

// Recorder counts receiver outcomes.
type Recorder interface {
	ReportAccepted(tenant string)
	ReportRejected(reason string)
	AlertFired(rule, severity string)
	CacheError()
}

// Option configures a Receiver.
type Option func(*Receiver)

// WithAlerts evaluates alert rules on every stored report.
func WithAlerts(e Evaluator) Option { return func(r *Receiver) { r.alerts = e } }

// WithCache writes rank lists of every stored report to c.
func WithCache(c RankCache) Option { return func(r *Receiver) { r.cache = c } }

// WithMetrics records outcomes in m.
func WithMetrics(m Recorder) Option { return func(r *Receiver) { r.metrics = m } }

// Receiver implements transport.ReportServiceServer.
// It validates each incoming Report and stores it in the state store.
type Receiver struct {
	store    *store.Store
	validate *validator.Validate
	alerts   Evaluator
	cache    RankCache
	metrics  Recorder
}

// New creates a Receiver that writes accepted reports to st.
func New(st *store.Store, opts ...Option) *Receiver {
	r := &Receiver{
		store:    st,
		validate: validator.New(validator.WithRequiredStructEnabled()),
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// SendReport is the unary RPC handler called by markbook-worker instances.
// Authentication is enforced by the gRPC server interceptor before this is called.
func (r *Receiver) SendReport(ctx context.Context, rep *transport.Report) (*transport.SendResponse, error) {
	if rep == nil || rep.TenantID == "" {
		r.reject("invalid")
		return nil, status.Error(codes.InvalidArgument, "tenant_id is required")
	}
	if err := r.validate.Struct(rep); err != nil {
		r.reject("invalid")
		return nil, status.Error(codes.InvalidArgument, describe(err))
	}

	if !r.store.Put(rep) {
		r.reject("stale")
		slog.Info("receiver: ignored out-of-order report",
			"tenant", rep.TenantID, "report_id", rep.ID, "generated_at", rep.GeneratedAt)
		return &transport.SendResponse{OK: true, Message: "a newer report is already stored"}, nil
	}
	if r.metrics != nil {
		r.metrics.ReportAccepted(rep.TenantID)
	}

	if r.cache != nil {
		cctx, cancel := context.WithTimeout(ctx, cacheTimeout)
		err := r.cache.PutReport(cctx, rep)
		cancel()
		if err != nil {
			// The local store already holds the report; other replicas catch
			// up on the next pass.
			slog.Error("receiver: cache write failed", "tenant", rep.TenantID, "err", err)
			if r.metrics != nil {
				r.metrics.CacheError()
			}
		}
	}

	if r.alerts != nil {
		for _, a := range r.alerts.Evaluate(rep) {
			if r.metrics != nil {
				r.metrics.AlertFired(a.RuleName, a.Severity)
			}
		}
	}

	slog.Debug("receiver: report stored",
		"tenant", rep.TenantID,
		"report_id", rep.ID,
		"results", len(rep.Data.Results),
		"students", len(rep.Data.Risk),
		"diagnostics", len(rep.Data.Diagnostics),
	)

	return &transport.SendResponse{OK: true}, nil
}

func (r *Receiver) reject(reason string) {
	if r.metrics != nil {
		r.metrics.ReportRejected(reason)
	}
}

// describe flattens validation errors into one message naming each field.
func describe(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err.Error()
	}
	msg := "invalid report:"
	for _, fe := range verrs {
		msg += fmt.Sprintf(" %s failed %s;", fe.Namespace(), fe.Tag())
	}
	return msg
}
