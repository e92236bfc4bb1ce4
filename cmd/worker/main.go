package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/kirillkom/essay-grading-pipeline/internal/bootstrap"
	"github.com/kirillkom/essay-grading-pipeline/internal/config"
	"github.com/kirillkom/essay-grading-pipeline/internal/core/domain"
	"github.com/kirillkom/essay-grading-pipeline/internal/observability/logging"
)

const serviceName = "essay-worker"

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("config_load_failed", "error", err)
		os.Exit(1)
	}
	slog.SetDefault(logging.NewJSONLogger(serviceName, cfg.LogLevel))

	if cfg.DispatchMode != bootstrap.DispatchNATS {
		slog.Error("worker_requires_nats", "dispatch_mode", cfg.DispatchMode)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app, err := bootstrap.New(ctx, cfg, serviceName)
	if err != nil {
		slog.Error("bootstrap_failed", "error", err)
		os.Exit(1)
	}
	defer app.Close()

	metricsMux := http.NewServeMux()
	metricsMux.Handle("GET /metrics", app.PipelineMetrics.Handler())
	metricsServer := &http.Server{
		Addr:              ":" + cfg.WorkerMetricsPort,
		Handler:           metricsMux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("worker_metrics_server_failed", "error", err)
		}
	}()
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = metricsServer.Shutdown(shutdownCtx)
	}()

	slog.Info("worker_subscribed", "subject", cfg.NATSSubject, "workers", cfg.TaskQueueWorkers)
	err = app.NATS.Subscribe(ctx, func(handlerCtx context.Context, job domain.Job) error {
		// Blocks while the local queue is full.
		_, err := app.Queue.SubmitWait(handlerCtx, job.TaskID, job.Name(), func(runCtx context.Context) error {
			return app.Runner.Run(runCtx, job)
		})
		return err
	})
	if err != nil {
		slog.Error("worker_subscribe_failed", "error", err)
	}
}
