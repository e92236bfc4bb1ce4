package main

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/net/netutil"

	httpadapter "github.com/kirillkom/essay-grading-pipeline/internal/adapters/http"
	"github.com/kirillkom/essay-grading-pipeline/internal/bootstrap"
	"github.com/kirillkom/essay-grading-pipeline/internal/config"
	"github.com/kirillkom/essay-grading-pipeline/internal/observability/logging"
	"github.com/kirillkom/essay-grading-pipeline/internal/observability/metrics"
)

const serviceName = "essay-api"

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("config_load_failed", "error", err)
		os.Exit(1)
	}
	slog.SetDefault(logging.NewJSONLogger(serviceName, cfg.LogLevel))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app, err := bootstrap.New(ctx, cfg, serviceName)
	if err != nil {
		slog.Error("bootstrap_failed", "error", err)
		os.Exit(1)
	}
	defer app.Close()

	router := httpadapter.NewRouter(httpadapter.Services{
		Ingest:  app.Ingest,
		Trigger: app.Trigger,
		Confirm: app.Confirm,
		Status:  app.Status,
		Export:  app.Export,
	}, httpadapter.Options{
		Limiter:            app.Limiter,
		TrustUserHeader:    app.Config.StatusRateTrustUserHeader,
		Metrics:            metrics.NewHTTPServerMetrics(serviceName),
		MaxInFlightUploads: 8,
	}).Handler()

	root := http.NewServeMux()
	root.Handle("GET /metrics/pipeline", app.PipelineMetrics.Handler())
	root.Handle("/", router)

	server := &http.Server{
		Handler:           root,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       5 * time.Minute,
		WriteTimeout:      5 * time.Minute,
		IdleTimeout:       60 * time.Second,
	}

	listener, err := net.Listen("tcp", ":"+cfg.APIPort)
	if err != nil {
		slog.Error("api_listen_failed", "port", cfg.APIPort, "error", err)
		os.Exit(1)
	}
	if cfg.APIMaxConnections > 0 {
		listener = netutil.LimitListener(listener, cfg.APIMaxConnections)
	}

	go func() {
		slog.Info("api_listening", "port", cfg.APIPort, "dispatch_mode", cfg.DispatchMode, "max_connections", cfg.APIMaxConnections)
		if err := server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("api_server_failed", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		slog.Warn("api_shutdown_failed", "error", err)
	}
}
