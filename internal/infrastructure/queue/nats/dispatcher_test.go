package nats

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/kirillkom/essay-grading-pipeline/internal/core/domain"
	"github.com/kirillkom/essay-grading-pipeline/internal/infrastructure/resilience"
	"github.com/kirillkom/essay-grading-pipeline/internal/infrastructure/taskqueue"
)

type fakePublisher struct {
	subject string
	data    []byte
	err     error
	calls   int
}

func (f *fakePublisher) Publish(subject string, data []byte) error {
	f.calls++
	f.subject = subject
	f.data = data
	return f.err
}

func TestDispatchPublishesJobAndRecordsQueuedTask(t *testing.T) {
	pub := &fakePublisher{}
	store := taskqueue.NewMemoryStore(time.Hour)
	d := newDispatcher(pub, "essays.jobs", store, nil)

	task, err := d.Dispatch(context.Background(), domain.Job{Kind: domain.JobProcessEssays, IDs: []int64{4, 5}})
	if err != nil {
		t.Fatalf("Dispatch() error = %v", err)
	}
	if pub.subject != "essays.jobs" {
		t.Fatalf("unexpected subject %q", pub.subject)
	}
	var job domain.Job
	if err := json.Unmarshal(pub.data, &job); err != nil {
		t.Fatalf("decode published job: %v", err)
	}
	if job.TaskID != task.ID || len(job.IDs) != 2 || job.Kind != domain.JobProcessEssays {
		t.Fatalf("unexpected published job %+v", job)
	}
	stored, err := store.Get(context.Background(), task.ID)
	if err != nil || stored.State != domain.TaskQueued {
		t.Fatalf("expected queued task in store, got %+v, %v", stored, err)
	}
}

func TestDispatchFailureMarksTaskFailedAndIsTemporary(t *testing.T) {
	pub := &fakePublisher{err: nats.ErrConnectionClosed}
	store := taskqueue.NewMemoryStore(time.Hour)
	executor := resilience.NewExecutor(resilience.Config{Retry: resilience.RetryPolicy{
		MaxAttempts:    2,
		InitialBackoff: time.Millisecond,
		MaxBackoff:     time.Millisecond,
	}})
	d := newDispatcher(pub, "essays.jobs", store, executor)

	_, err := d.Dispatch(context.Background(), domain.Job{TaskID: "t-1", Kind: domain.JobOCRAssignment, AssignmentID: 3})
	if !domain.IsKind(err, domain.ErrTemporary) {
		t.Fatalf("expected ErrTemporary, got %v", err)
	}
	if pub.calls != 2 {
		t.Fatalf("expected 2 publish attempts, got %d", pub.calls)
	}
	stored, _ := store.Get(context.Background(), "t-1")
	if stored == nil || stored.State != domain.TaskFailed {
		t.Fatalf("expected failed task, got %+v", stored)
	}
}

func TestDeliverDecodesJob(t *testing.T) {
	d := newDispatcher(&fakePublisher{}, "s", taskqueue.NewMemoryStore(time.Hour), nil)
	var got domain.Job
	d.deliver(context.Background(), []byte(`{"task_id":"t","kind":"match_assignment","assignment_id":9}`), func(_ context.Context, job domain.Job) error {
		got = job
		return nil
	})
	if got.Kind != domain.JobMatchAssignment || got.AssignmentID != 9 {
		t.Fatalf("unexpected job %+v", got)
	}

	called := false
	d.deliver(context.Background(), []byte(`not json`), func(context.Context, domain.Job) error {
		called = true
		return nil
	})
	if called {
		t.Fatalf("handler must not run for undecodable payloads")
	}
}
