package shipper

import (
	"context"
	"fmt"
	"net"
	"sync"
	"testing"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"github.com/markbook/markbook/pkg/pipeline"
	"github.com/markbook/markbook/pkg/transport"
	"github.com/markbook/markbook/worker/internal/config"
)

// mockServer implements transport.ReportServiceServer for testing.
type mockServer struct {
	mu       sync.Mutex
	received []*transport.Report
	keys     []string
	failWith codes.Code // zero value never fails
	failN    int        // calls to fail with failWith; <0 means all
	calls    int
}

func (m *mockServer) SendReport(ctx context.Context, rep *transport.Report) (*transport.SendResponse, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++

	if md, ok := metadata.FromIncomingContext(ctx); ok {
		m.keys = append(m.keys, md.Get("x-api-key")...)
	}
	if m.failWith != codes.OK && (m.failN < 0 || m.failN > 0) {
		if m.failN > 0 {
			m.failN--
		}
		return nil, status.Error(m.failWith, "mock failure")
	}
	m.received = append(m.received, rep)
	return &transport.SendResponse{OK: true}, nil
}

func (m *mockServer) reports() []*transport.Report {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*transport.Report, len(m.received))
	copy(out, m.received)
	return out
}

func (m *mockServer) callCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

// startTestServer starts an in-process gRPC server and returns a dial
// function that connects to it.
func startTestServer(t *testing.T, srv *mockServer) dialFunc {
	t.Helper()

	lis, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}

	gs := grpc.NewServer()
	transport.RegisterReportServiceServer(gs, srv)

	go gs.Serve(lis) //nolint:errcheck
	t.Cleanup(gs.Stop)

	addr := lis.Addr().String()
	return func(ctx context.Context, _ string, _ config.WorkerConfig) (*grpc.ClientConn, error) {
		return grpc.DialContext(ctx, addr, //nolint:staticcheck
			grpc.WithTransportCredentials(insecure.NewCredentials()))
	}
}

func makeReport(tenant string) *transport.Report {
	return transport.NewReport(tenant, "2025-26", "all", &pipeline.Report{})
}

func workerCfg() config.WorkerConfig {
	return config.WorkerConfig{
		ServerEndpoint: "unused-overridden-by-dialFn",
		BufferSize:     10,
	}
}

// waitFor polls cond for up to two seconds.
func waitFor(cond func() bool) {
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) && !cond() {
		time.Sleep(20 * time.Millisecond)
	}
}

// --- Tests ---

func TestShipper_DeliversReport(t *testing.T) {
	srv := &mockServer{}
	s := New(workerCfg())
	s.dialFn = startTestServer(t, srv)

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	go s.Run(ctx)

	want := makeReport("inst-1")
	s.Ship(want)

	waitFor(func() bool { return len(srv.reports()) > 0 })

	got := srv.reports()
	if len(got) != 1 {
		t.Fatalf("server received %d reports, want 1", len(got))
	}
	if got[0].TenantID != "inst-1" || got[0].ID != want.ID {
		t.Errorf("received %+v, want tenant inst-1 id %s", got[0], want.ID)
	}
}

func TestShipper_MultipleTenants(t *testing.T) {
	srv := &mockServer{}
	s := New(workerCfg())
	s.dialFn = startTestServer(t, srv)

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	go s.Run(ctx)

	for i := 0; i < 5; i++ {
		s.Ship(makeReport(fmt.Sprintf("t%d", i)))
	}

	waitFor(func() bool { return len(srv.reports()) >= 5 })
	if got := len(srv.reports()); got != 5 {
		t.Errorf("server received %d reports, want 5", got)
	}
}

func TestShipper_InjectsAPIKey(t *testing.T) {
	t.Setenv("TEST_WORKER_KEY", "s3cret")
	srv := &mockServer{}
	cfg := workerCfg()
	cfg.ServerAuth = config.AuthConfig{Mode: "apikey", Header: "x-api-key", KeyEnv: "TEST_WORKER_KEY"}
	s := New(cfg)
	s.dialFn = startTestServer(t, srv)

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	go s.Run(ctx)

	s.Ship(makeReport("t"))
	waitFor(func() bool { return len(srv.reports()) > 0 })

	srv.mu.Lock()
	defer srv.mu.Unlock()
	if len(srv.keys) != 1 || srv.keys[0] != "s3cret" {
		t.Errorf("api keys seen = %v, want [s3cret]", srv.keys)
	}
}

func TestShipper_PermanentErrorDiscards(t *testing.T) {
	srv := &mockServer{failWith: codes.InvalidArgument, failN: 1}
	s := New(workerCfg())
	s.dialFn = startTestServer(t, srv)

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	go s.Run(ctx)

	bad := makeReport("bad")
	good := makeReport("good")
	s.Ship(bad)
	s.Ship(good)

	waitFor(func() bool { return len(srv.reports()) > 0 })

	got := srv.reports()
	if len(got) != 1 || got[0].ID != good.ID {
		t.Fatalf("received %d reports, want only the second", len(got))
	}
	if n := srv.callCount(); n != 2 {
		t.Errorf("server calls = %d, want 2 (no retry of rejected report)", n)
	}
}

func TestShipper_TransientErrorRequeues(t *testing.T) {
	srv := &mockServer{failWith: codes.Unavailable, failN: 1}
	s := New(workerCfg())
	s.dialFn = startTestServer(t, srv)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	go s.Run(ctx)

	rep := makeReport("t")
	s.Ship(rep)

	// First attempt fails, the reconnect backoff is about one second.
	deadline := time.Now().Add(4 * time.Second)
	for time.Now().Before(deadline) && len(srv.reports()) == 0 {
		time.Sleep(50 * time.Millisecond)
	}
	got := srv.reports()
	if len(got) != 1 || got[0].ID != rep.ID {
		t.Fatalf("report not redelivered after transient error: %d received", len(got))
	}
}

func TestShipper_QueueDropsOldestTenant(t *testing.T) {
	s := New(config.WorkerConfig{BufferSize: 3})

	var ids []string
	for i := 0; i < 5; i++ {
		rep := makeReport(fmt.Sprintf("t%d", i))
		ids = append(ids, rep.ID)
		s.Ship(rep)
	}
	if s.Pending() != 3 {
		t.Fatalf("Pending() = %d, want 3", s.Pending())
	}
	for i, want := range ids[2:] {
		if got := s.pop(); got.ID != want {
			t.Errorf("queue[%d] = %s, want %s", i, got.ID, want)
		}
	}
	if s.pop() != nil {
		t.Error("queue not empty")
	}
}

func TestShipper_NewerReportSupersedes(t *testing.T) {
	s := New(workerCfg())

	first := makeReport("a")
	other := makeReport("b")
	newer := makeReport("a")
	s.Ship(first)
	s.Ship(other)
	s.Ship(newer)

	if s.Pending() != 2 {
		t.Fatalf("Pending() = %d, want 2", s.Pending())
	}
	if got := s.pop(); got.ID != newer.ID {
		t.Errorf("head = %s, want the newer report for tenant a in its original slot", got.ID)
	}
	if got := s.pop(); got.ID != other.ID {
		t.Errorf("second = %s, want tenant b", got.ID)
	}
}

func TestShipper_RequeueYieldsToNewerReport(t *testing.T) {
	s := New(workerCfg())

	inFlight := makeReport("a")
	s.Ship(inFlight)
	s.pop()

	fresh := makeReport("a")
	s.Ship(fresh)
	s.requeue(inFlight)

	if s.Pending() != 1 {
		t.Fatalf("Pending() = %d, want 1", s.Pending())
	}
	if got := s.pop(); got.ID != fresh.ID {
		t.Errorf("queued = %s, want the fresh report", got.ID)
	}

	s.requeue(inFlight)
	s.Ship(makeReport("b"))
	if got := s.pop(); got.ID != inFlight.ID {
		t.Errorf("requeued report not at head: %s", got.ID)
	}
}

func TestShipper_DefaultBufferSize(t *testing.T) {
	s := New(config.WorkerConfig{})
	if s.limit != config.DefaultBufferSize {
		t.Errorf("limit = %d, want %d", s.limit, config.DefaultBufferSize)
	}
}

func TestIsPermanentError(t *testing.T) {
	tests := []struct {
		code codes.Code
		want bool
	}{
		{codes.InvalidArgument, true},
		{codes.Unauthenticated, true},
		{codes.PermissionDenied, true},
		{codes.Unavailable, false},
		{codes.DeadlineExceeded, false},
	}
	for _, tt := range tests {
		if got := isPermanentError(status.Error(tt.code, "x")); got != tt.want {
			t.Errorf("isPermanentError(%v) = %v, want %v", tt.code, got, tt.want)
		}
	}
}

func TestRetryDelay(t *testing.T) {
	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{0, time.Second},
		{1, 2 * time.Second},
		{3, 8 * time.Second},
		{6, time.Minute},
		{50, time.Minute},
	}
	for _, tt := range tests {
		for i := 0; i < 20; i++ {
			d := retryDelay(tt.attempt)
			lo, hi := tt.want*3/4, tt.want*5/4
			if d < lo || d > hi {
				t.Errorf("retryDelay(%d) = %v, want within [%v, %v]", tt.attempt, d, lo, hi)
				break
			}
		}
	}
}

func TestTransportCreds(t *testing.T) {
	creds, err := transportCreds(config.AuthConfig{Mode: "apikey"})
	if err != nil || creds.Info().SecurityProtocol != "insecure" {
		t.Errorf("apikey creds = %v, %v; want insecure", creds, err)
	}
	if _, err := transportCreds(config.AuthConfig{Mode: "mtls", CertFile: "/nonexistent.crt", KeyFile: "/nonexistent.key"}); err == nil {
		t.Error("expected error for missing client certificate")
	}
}

func TestShipper_GracefulShutdown(t *testing.T) {
	srv := &mockServer{}
	s := New(workerCfg())
	s.dialFn = startTestServer(t, srv)

	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	go func() {
		s.Run(ctx)
		close(done)
	}()

	// Give it time to connect, then cancel.
	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run() did not return after context cancellation")
	}
}
