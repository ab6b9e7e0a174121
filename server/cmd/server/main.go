package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"google.golang.org/grpc"

	"github.com/markbook/markbook/pkg/transport"
	"github.com/markbook/markbook/server/internal/alerts"
	"github.com/markbook/markbook/server/internal/api"
	"github.com/markbook/markbook/server/internal/auth"
	"github.com/markbook/markbook/server/internal/cache"
	"github.com/markbook/markbook/server/internal/config"
	"github.com/markbook/markbook/server/internal/metrics"
	"github.com/markbook/markbook/server/internal/receiver"
	"github.com/markbook/markbook/server/internal/store"
	"github.com/markbook/markbook/server/internal/ws"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to config file")
	envPath := flag.String("env", ".env", "optional dotenv file with secrets")
	uiDir := flag.String("ui-dir", "", "serve dashboard static files from this directory; leave empty to disable")
	flag.Parse()

	var level slog.LevelVar
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: &level}))
	slog.SetDefault(logger)

	if err := godotenv.Load(*envPath); err != nil && !errors.Is(err, fs.ErrNotExist) {
		slog.Error("failed to load env file", "path", *envPath, "err", err)
		os.Exit(1)
	}

	slog.Info("markbook-server starting", "config", *configPath)

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("failed to load config", "err", err)
		os.Exit(1)
	}
	level.Set(cfg.Server.Level())

	slog.Info("config loaded",
		"grpc_port", cfg.Server.GRPCPort,
		"http_port", cfg.Server.HTTPPort,
		"auth_mode", cfg.Server.Auth.Mode,
		"snapshot_ttl", cfg.Server.Snapshot.TTL,
		"cache", cfg.Server.Cache.Enabled(),
		"alert_rules", len(cfg.Server.Alerts.Rules),
	)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// Report store with background TTL eviction.
	st := store.New(cfg.Server.Snapshot.TTL)
	go st.Run(ctx)

	alertEngine, err := alerts.New(cfg.Server.Alerts)
	if err != nil {
		slog.Error("invalid alert rules", "err", err)
		os.Exit(1)
	}
	m := metrics.New()

	recvOpts := []receiver.Option{receiver.WithAlerts(alertEngine), receiver.WithMetrics(m)}
	apiOpts := []api.Option{api.WithAlerts(alertEngine)}
	if cfg.Server.Cache.Enabled() {
		rc, err := cache.New(ctx, cfg.Server.Cache)
		if err != nil {
			slog.Error("failed to connect rank-list cache", "addr", cfg.Server.Cache.Addr, "err", err)
			os.Exit(1)
		}
		defer rc.Close()
		recvOpts = append(recvOpts, receiver.WithCache(rc))
		apiOpts = append(apiOpts, api.WithCache(rc))
		slog.Info("rank-list cache connected", "addr", cfg.Server.Cache.Addr, "db", cfg.Server.Cache.DB)
	}

	// gRPC server with optional API key authentication interceptor.
	key := cfg.Server.Auth.Key()
	header := cfg.Server.Auth.EffectiveHeader()
	interceptor := auth.APIKeyInterceptor(cfg.Server.Auth.Mode, header, key)
	grpcSrv := grpc.NewServer(grpc.UnaryInterceptor(interceptor))
	transport.RegisterReportServiceServer(grpcSrv, receiver.New(st, recvOpts...))

	lis, err := net.Listen("tcp", fmt.Sprintf(":%d", cfg.Server.GRPCPort))
	if err != nil {
		slog.Error("failed to listen on gRPC port",
			"port", cfg.Server.GRPCPort, "err", err)
		os.Exit(1)
	}

	go func() {
		slog.Info("gRPC receiver listening", "port", cfg.Server.GRPCPort)
		if err := grpcSrv.Serve(lis); err != nil {
			slog.Error("gRPC server stopped", "err", err)
		}
	}()

	hub := ws.New(st, cfg.Server.Dashboard.Interval)
	go hub.Run(ctx)

	// Combined HTTP server: REST API, WebSocket hub and /metrics on HTTPPort.
	httpMux := http.NewServeMux()
	httpMux.Handle("/api/", auth.Middleware(cfg.Server.Auth.Mode, header, key, api.New(st, apiOpts...)))
	httpMux.Handle("/ws/stream", auth.Middleware(cfg.Server.Auth.Mode, header, key, hub))
	httpMux.Handle("/metrics", m.Handler(st))

	// The "/" catch-all serves index.html for unknown paths (SPA routing).
	if *uiDir != "" {
		files := http.FileServer(http.Dir(*uiDir))
		httpMux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
			path := *uiDir + r.URL.Path
			if _, err := os.Stat(path); os.IsNotExist(err) {
				http.ServeFile(w, r, *uiDir+"/index.html")
				return
			}
			files.ServeHTTP(w, r)
		})
		slog.Info("serving UI static files", "dir", *uiDir)
	}

	httpSrv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.HTTPPort),
		Handler:           httpMux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		slog.Info("HTTP server listening", "port", cfg.Server.HTTPPort)
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("HTTP server stopped", "err", err)
		}
	}()

	<-ctx.Done()
	slog.Info("markbook-server shutting down")
	grpcSrv.GracefulStop()
	shutdownCtx, done := context.WithTimeout(context.Background(), 10*time.Second)
	defer done()
	httpSrv.Shutdown(shutdownCtx) //nolint:errcheck
}
