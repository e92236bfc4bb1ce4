package taskqueue

import (
	"context"

	"github.com/google/uuid"

	"github.com/kirillkom/essay-grading-pipeline/internal/core/domain"
	"github.com/kirillkom/essay-grading-pipeline/internal/core/ports"
)

// Dispatcher runs jobs on the local queue.
type Dispatcher struct {
	queue  *Queue
	runner ports.JobRunner
}

func NewDispatcher(queue *Queue, runner ports.JobRunner) *Dispatcher {
	return &Dispatcher{queue: queue, runner: runner}
}

func (d *Dispatcher) Dispatch(ctx context.Context, job domain.Job) (domain.Task, error) {
	if job.TaskID == "" {
		job.TaskID = uuid.NewString()
	}
	h, err := d.queue.Submit(ctx, job.TaskID, job.Name(), func(runCtx context.Context) error {
		return d.runner.Run(runCtx, job)
	})
	if err != nil {
		return domain.Task{}, err
	}
	return h.Task(), nil
}
