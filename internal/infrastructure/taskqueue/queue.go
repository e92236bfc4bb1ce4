// Package taskqueue runs batch jobs on a bounded pool of background workers.
package taskqueue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/kirillkom/essay-grading-pipeline/internal/core/domain"
	"github.com/kirillkom/essay-grading-pipeline/internal/core/ports"
	"github.com/kirillkom/essay-grading-pipeline/internal/observability/logging"
)

var errQueueClosed = errors.New("task queue is shut down")

type Func func(ctx context.Context) error

type Options struct {
	Size    int
	Workers int
	// OnDepth observes the number of buffered tasks after every change.
	OnDepth func(depth int)
}

// Handle tracks one submitted task.
type Handle struct {
	queued domain.Task
	done   chan struct{}
	err    error
}

// Task is the task as it was queued.
func (h *Handle) Task() domain.Task {
	return h.queued
}

func (h *Handle) Done() <-chan struct{} {
	return h.done
}

// Wait blocks until the task finished or ctx ends.
func (h *Handle) Wait(ctx context.Context) error {
	select {
	case <-h.done:
		return h.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

type item struct {
	task   domain.Task
	handle *Handle
	fn     Func
	logger *slog.Logger
}

type Queue struct {
	store   ports.TaskStore
	items   chan *item
	onDepth func(int)

	baseCtx context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup

	mu     sync.RWMutex
	closed bool
}

func New(store ports.TaskStore, opts Options) *Queue {
	if opts.Size <= 0 {
		opts.Size = 64
	}
	if opts.Workers <= 0 {
		opts.Workers = 4
	}
	ctx, cancel := context.WithCancel(context.Background())
	q := &Queue{
		store:   store,
		items:   make(chan *item, opts.Size),
		onDepth: opts.OnDepth,
		baseCtx: ctx,
		cancel:  cancel,
	}
	for i := 0; i < opts.Workers; i++ {
		q.wg.Add(1)
		go q.work()
	}
	return q
}

// Submit enqueues fn without blocking; a full buffer yields ErrQueueFull.
func (q *Queue) Submit(ctx context.Context, id, name string, fn Func) (*Handle, error) {
	return q.enqueue(ctx, id, name, fn, false)
}

// SubmitWait enqueues fn, waiting for buffer space until ctx ends.
func (q *Queue) SubmitWait(ctx context.Context, id, name string, fn Func) (*Handle, error) {
	return q.enqueue(ctx, id, name, fn, true)
}

func (q *Queue) enqueue(ctx context.Context, id, name string, fn Func, wait bool) (*Handle, error) {
	if fn == nil {
		return nil, fmt.Errorf("task %s: nil func", name)
	}
	if id == "" {
		id = uuid.NewString()
	}
	now := time.Now().UTC()
	task := domain.Task{ID: id, Name: name, State: domain.TaskQueued, CreatedAt: now, UpdatedAt: now}
	h := &Handle{queued: task, done: make(chan struct{})}
	it := &item{task: task, handle: h, fn: fn, logger: logging.FromContext(ctx).With("task_id", id, "task", name)}

	q.mu.RLock()
	defer q.mu.RUnlock()
	if q.closed {
		return nil, domain.WrapError(domain.ErrTemporary, "submit task", errQueueClosed)
	}

	q.putStatus(ctx, task)
	if wait {
		select {
		case q.items <- it:
		case <-ctx.Done():
			q.finish(ctx, it, ctx.Err())
			return nil, ctx.Err()
		}
	} else {
		select {
		case q.items <- it:
		default:
			err := domain.WrapError(domain.ErrQueueFull, "submit task", fmt.Errorf("%d tasks buffered", cap(q.items)))
			q.finish(ctx, it, err)
			return nil, err
		}
	}
	q.observeDepth()
	return h, nil
}

// Shutdown stops intake and waits for queued tasks to drain. When ctx ends
// first, running tasks are cancelled.
func (q *Queue) Shutdown(ctx context.Context) error {
	q.mu.Lock()
	if !q.closed {
		q.closed = true
		close(q.items)
	}
	q.mu.Unlock()

	done := make(chan struct{})
	go func() {
		q.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		q.cancel()
		return nil
	case <-ctx.Done():
		q.cancel()
		<-done
		return ctx.Err()
	}
}

func (q *Queue) work() {
	defer q.wg.Done()
	for it := range q.items {
		q.observeDepth()
		q.run(it)
	}
}

func (q *Queue) run(it *item) {
	ctx := logging.WithLogger(q.baseCtx, it.logger)

	it.task.State = domain.TaskRunning
	it.task.UpdatedAt = time.Now().UTC()
	q.putStatus(ctx, it.task)

	started := time.Now()
	err := safeCall(ctx, it.fn)
	if err != nil {
		it.logger.Error("task_failed", "error", err, "duration_ms", time.Since(started).Milliseconds())
	} else {
		it.logger.Info("task_succeeded", "duration_ms", time.Since(started).Milliseconds())
	}
	q.finish(ctx, it, err)
}

func (q *Queue) finish(ctx context.Context, it *item, err error) {
	it.task.State = domain.TaskSucceeded
	it.task.Error = ""
	if err != nil {
		it.task.State = domain.TaskFailed
		it.task.Error = domain.TruncateMessage(err.Error())
	}
	it.task.UpdatedAt = time.Now().UTC()
	q.putStatus(context.WithoutCancel(ctx), it.task)
	it.handle.err = err
	close(it.handle.done)
}

func (q *Queue) putStatus(ctx context.Context, task domain.Task) {
	if q.store == nil {
		return
	}
	if err := q.store.Put(ctx, task); err != nil {
		logging.FromContext(ctx).Warn("task_status_write_failed", "task_id", task.ID, "state", task.State, "error", err)
	}
}

func (q *Queue) observeDepth() {
	if q.onDepth != nil {
		q.onDepth(len(q.items))
	}
}

func safeCall(ctx context.Context, fn Func) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("task panicked: %v", r)
		}
	}()
	return fn(ctx)
}
