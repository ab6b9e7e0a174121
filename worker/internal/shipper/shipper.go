package shipper

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"github.com/markbook/markbook/pkg/transport"
	"github.com/markbook/markbook/worker/internal/config"
)

const sendTimeout = 10 * time.Second

// errRejected marks a report the server refused for good. It is never retried.
var errRejected = errors.New("report rejected")

// dialFunc opens the connection used by Run. Tests swap in a dialer for an
// in-process server.
type dialFunc func(ctx context.Context, endpoint string, cfg config.WorkerConfig) (*grpc.ClientConn, error)

// Shipper holds reports per tenant until they reach markbook-server.
//
// At most one report per tenant is queued: a newer report for the same tenant
// takes the place of the queued one, since the server only keeps the latest.
// When the queue holds limit tenants the longest-waiting one is dropped.
type Shipper struct {
	cfg    config.WorkerConfig
	dialFn dialFunc
	limit  int

	mu    sync.Mutex
	queue []*transport.Report
	wake  chan struct{}
}

// New returns a Shipper for cfg. Run must be started for anything to be sent.
func New(cfg config.WorkerConfig) *Shipper {
	limit := cfg.BufferSize
	if limit <= 0 {
		limit = config.DefaultBufferSize
	}
	return &Shipper{
		cfg:    cfg,
		dialFn: defaultDial,
		limit:  limit,
		wake:   make(chan struct{}, 1),
	}
}

// Ship queues rep without blocking.
func (s *Shipper) Ship(rep *transport.Report) {
	s.mu.Lock()
	if i := s.indexOf(rep.TenantID); i >= 0 {
		slog.Debug("shipper: superseded queued report",
			"tenant", rep.TenantID, "old_report_id", s.queue[i].ID, "report_id", rep.ID)
		s.queue[i] = rep
	} else {
		if len(s.queue) >= s.limit {
			old := s.queue[0]
			s.queue = s.queue[1:]
			slog.Warn("shipper: queue full, dropped oldest report",
				"tenant", old.TenantID, "report_id", old.ID, "limit", s.limit)
		}
		s.queue = append(s.queue, rep)
	}
	s.mu.Unlock()
	s.signal()
}

// Pending returns the number of queued reports.
func (s *Shipper) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.queue)
}

func (s *Shipper) indexOf(tenant string) int {
	for i, r := range s.queue {
		if r.TenantID == tenant {
			return i
		}
	}
	return -1
}

func (s *Shipper) signal() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// pop removes the head of the queue, or returns nil when it is empty.
func (s *Shipper) pop() *transport.Report {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.queue) == 0 {
		return nil
	}
	rep := s.queue[0]
	s.queue = s.queue[1:]
	return rep
}

// requeue puts rep back at the head unless its tenant was shipped again
// while it was in flight.
func (s *Shipper) requeue(rep *transport.Report) {
	s.mu.Lock()
	if s.indexOf(rep.TenantID) < 0 && len(s.queue) < s.limit {
		s.queue = append([]*transport.Report{rep}, s.queue...)
	}
	s.mu.Unlock()
	s.signal()
}

// Run connects to the server and sends queued reports until ctx is done.
// A failed dial or a broken connection is retried after a growing delay.
func (s *Shipper) Run(ctx context.Context) {
	endpoint := s.cfg.ServerEndpoint
	attempt := 0
	for ctx.Err() == nil {
		conn, err := s.dialFn(ctx, endpoint, s.cfg)
		if err == nil {
			slog.Info("shipper: connected", "endpoint", endpoint)
			attempt = 0
			err = s.drain(ctx, transport.NewReportServiceClient(conn))
			conn.Close()
			if ctx.Err() != nil {
				return
			}
		}
		wait := retryDelay(attempt)
		attempt++
		slog.Warn("shipper: server unreachable, retrying",
			"endpoint", endpoint, "err", err, "attempt", attempt, "retry_in", wait)
		select {
		case <-ctx.Done():
			return
		case <-time.After(wait):
		}
	}
}

// drain sends queued reports on client until a send fails with a retryable
// error or ctx is done.
func (s *Shipper) drain(ctx context.Context, client transport.ReportServiceClient) error {
	for {
		rep := s.pop()
		if rep == nil {
			select {
			case <-ctx.Done():
				return nil
			case <-s.wake:
				continue
			}
		}
		err := s.send(ctx, client, rep)
		switch {
		case err == nil:
		case errors.Is(err, errRejected):
			slog.Error("shipper: discarding report",
				"tenant", rep.TenantID, "report_id", rep.ID, "err", err)
		default:
			s.requeue(rep)
			return err
		}
	}
}

func (s *Shipper) send(ctx context.Context, client transport.ReportServiceClient, rep *transport.Report) error {
	ctx, cancel := context.WithTimeout(ctx, sendTimeout)
	defer cancel()

	if auth := s.cfg.ServerAuth; auth.Mode == "apikey" && auth.KeyEnv != "" {
		ctx = metadata.AppendToOutgoingContext(ctx, auth.Header, auth.Key())
	}

	resp, err := client.SendReport(ctx, rep)
	if err != nil {
		if isPermanentError(err) {
			return fmt.Errorf("%w: %w", errRejected, err)
		}
		return fmt.Errorf("send report %s: %w", rep.ID, err)
	}
	if !resp.OK {
		slog.Warn("shipper: server did not accept report",
			"tenant", rep.TenantID, "report_id", rep.ID, "message", resp.Message)
		return nil
	}
	slog.Debug("shipper: report delivered", "tenant", rep.TenantID, "report_id", rep.ID)
	return nil
}

// isPermanentError reports whether a gRPC error is about the report or our
// credentials rather than the connection.
func isPermanentError(err error) bool {
	switch status.Code(err) {
	case codes.InvalidArgument, codes.Unauthenticated, codes.PermissionDenied:
		return true
	}
	return false
}
