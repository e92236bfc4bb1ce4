package nats

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"

	"github.com/kirillkom/essay-grading-pipeline/internal/core/domain"
	"github.com/kirillkom/essay-grading-pipeline/internal/core/ports"
	"github.com/kirillkom/essay-grading-pipeline/internal/infrastructure/resilience"
	"github.com/kirillkom/essay-grading-pipeline/internal/observability/logging"
)

const workerQueueGroup = "workers"

type publisher interface {
	Publish(subject string, data []byte) error
}

// Dispatcher publishes batch jobs for worker processes.
type Dispatcher struct {
	conn     *nats.Conn
	pub      publisher
	subject  string
	store    ports.TaskStore
	executor *resilience.Executor
}

type Options struct {
	ConnectTimeout       time.Duration
	ReconnectWait        time.Duration
	MaxReconnects        int
	RetryOnFailedConnect *bool
	ResilienceExecutor   *resilience.Executor
}

func New(url, subject string, store ports.TaskStore, options Options) (*Dispatcher, error) {
	connectTimeout := options.ConnectTimeout
	if connectTimeout <= 0 {
		connectTimeout = 2 * time.Second
	}
	reconnectWait := options.ReconnectWait
	if reconnectWait <= 0 {
		reconnectWait = 2 * time.Second
	}
	maxReconnects := options.MaxReconnects
	if maxReconnects <= 0 {
		maxReconnects = 60
	}
	retryOnFailedConnect := true
	if options.RetryOnFailedConnect != nil {
		retryOnFailedConnect = *options.RetryOnFailedConnect
	}

	conn, err := nats.Connect(
		url,
		nats.Name("essay-grading-pipeline"),
		nats.Timeout(connectTimeout),
		nats.ReconnectWait(reconnectWait),
		nats.MaxReconnects(maxReconnects),
		nats.RetryOnFailedConnect(retryOnFailedConnect),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			slog.Warn("nats_disconnected", "error", err)
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			slog.Info("nats_reconnected", "url", nc.ConnectedUrl())
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connect nats: %w", err)
	}
	d := newDispatcher(conn, subject, store, options.ResilienceExecutor)
	d.conn = conn
	return d, nil
}

func newDispatcher(pub publisher, subject string, store ports.TaskStore, executor *resilience.Executor) *Dispatcher {
	return &Dispatcher{pub: pub, subject: subject, store: store, executor: executor}
}

func (d *Dispatcher) Close() {
	if d.conn != nil {
		d.conn.Close()
	}
}

// Dispatch records the task as queued and publishes the job. A publish
// failure marks the task failed so pollers do not wait forever.
func (d *Dispatcher) Dispatch(ctx context.Context, job domain.Job) (domain.Task, error) {
	if job.TaskID == "" {
		job.TaskID = uuid.NewString()
	}
	payload, err := json.Marshal(job)
	if err != nil {
		return domain.Task{}, fmt.Errorf("marshal job: %w", err)
	}

	now := time.Now().UTC()
	task := domain.Task{ID: job.TaskID, Name: job.Name(), State: domain.TaskQueued, CreatedAt: now, UpdatedAt: now}
	if err := d.store.Put(ctx, task); err != nil {
		return domain.Task{}, fmt.Errorf("record task: %w", err)
	}

	call := func(_ context.Context) error {
		if err := d.pub.Publish(d.subject, payload); err != nil {
			return fmt.Errorf("nats publish: %w", err)
		}
		return nil
	}
	if d.executor != nil {
		err = d.executor.Execute(ctx, "nats.publish", call, classifyNATSError)
	} else {
		err = call(ctx)
	}
	if err != nil {
		failed := task
		failed.State = domain.TaskFailed
		failed.Error = domain.TruncateMessage(err.Error())
		failed.UpdatedAt = time.Now().UTC()
		if putErr := d.store.Put(context.WithoutCancel(ctx), failed); putErr != nil {
			logging.FromContext(ctx).Warn("task_status_write_failed", "task_id", task.ID, "error", putErr)
		}
		return domain.Task{}, wrapTemporaryIfNeeded(err)
	}
	return task, nil
}

// Subscribe delivers jobs to handler until ctx ends, then drains.
func (d *Dispatcher) Subscribe(ctx context.Context, handler func(context.Context, domain.Job) error) error {
	if d.conn == nil {
		return fmt.Errorf("nats subscribe: no connection")
	}
	sub, err := d.conn.QueueSubscribe(d.subject, workerQueueGroup, func(msg *nats.Msg) {
		if errors.Is(ctx.Err(), context.Canceled) {
			return
		}
		d.deliver(ctx, msg.Data, handler)
	})
	if err != nil {
		return fmt.Errorf("nats subscribe: %w", err)
	}

	if err := d.conn.Flush(); err != nil {
		return fmt.Errorf("nats flush: %w", err)
	}

	<-ctx.Done()
	if err := sub.Drain(); err != nil {
		return fmt.Errorf("nats drain subscription: %w", err)
	}
	if err := d.conn.FlushTimeout(5 * time.Second); err != nil {
		return fmt.Errorf("nats flush after drain: %w", err)
	}
	return nil
}

func (d *Dispatcher) deliver(ctx context.Context, data []byte, handler func(context.Context, domain.Job) error) {
	logger := logging.FromContext(ctx)
	var job domain.Job
	if err := json.Unmarshal(data, &job); err != nil {
		logger.Error("nats_job_decode_failed", "error", err, "payload_bytes", len(data))
		return
	}
	handlerCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	if err := handler(handlerCtx, job); err != nil {
		logger.Error("nats_job_handler_failed", "task_id", job.TaskID, "kind", job.Kind, "error", err)
	}
}
