package httpadapter

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/kirillkom/essay-grading-pipeline/internal/core/domain"
)

type ingestFake struct {
	assignmentID int64
	uploaderID   int64
	uploads      []domain.Upload
	deleted      []int64
	err          error
}

func (f *ingestFake) SubmitBatch(_ context.Context, assignmentID, uploaderID int64, uploads []domain.Upload) (*domain.BatchReceipt, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.assignmentID = assignmentID
	f.uploaderID = uploaderID
	f.uploads = uploads
	ids := make([]int64, 0, len(uploads))
	for i := range uploads {
		ids = append(ids, int64(i+1))
	}
	return &domain.BatchReceipt{AssignmentID: assignmentID, SubmissionIDs: ids, TaskID: "task-ocr"}, nil
}

func (f *ingestFake) DeleteSubmission(_ context.Context, id int64) error {
	if f.err != nil {
		return f.err
	}
	f.deleted = append(f.deleted, id)
	return nil
}

type triggerFake struct {
	tasks map[string]domain.Task
	err   error
	calls []string
}

func (f *triggerFake) task(name string, id int64) (domain.Task, error) {
	if f.err != nil {
		return domain.Task{}, f.err
	}
	f.calls = append(f.calls, fmt.Sprintf("%s:%d", name, id))
	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	return domain.Task{ID: "task-" + name, Name: name, State: domain.TaskQueued, CreatedAt: now, UpdatedAt: now}, nil
}

func (f *triggerFake) TriggerOCR(_ context.Context, assignmentID int64) (domain.Task, error) {
	return f.task("ocr", assignmentID)
}

func (f *triggerFake) TriggerMatching(_ context.Context, assignmentID int64) (domain.Task, error) {
	return f.task("matching", assignmentID)
}

func (f *triggerFake) TriggerEssay(_ context.Context, essayID int64) (domain.Task, error) {
	return f.task("essay", essayID)
}

func (f *triggerFake) Task(_ context.Context, taskID string) (*domain.Task, error) {
	task, ok := f.tasks[taskID]
	if !ok {
		return nil, domain.WrapError(domain.ErrNotFound, "get task", fmt.Errorf("id=%s", taskID))
	}
	return &task, nil
}

type confirmFake struct {
	got []domain.Confirmation
}

func (f *confirmFake) ConfirmMatches(_ context.Context, _ int64, confirmations []domain.Confirmation) (*domain.ConfirmResult, error) {
	f.got = confirmations
	ids := make([]int64, 0, len(confirmations))
	for i := range confirmations {
		ids = append(ids, int64(100+i))
	}
	return &domain.ConfirmResult{EssayIDs: ids, Failed: []domain.ConfirmationFail{}, TaskID: "task-essays"}, nil
}

type statusFake struct {
	calls int
}

func (f *statusFake) SubmissionStatus(_ context.Context, ids []int64) ([]domain.StatusView, error) {
	f.calls++
	out := make([]domain.StatusView, 0, len(ids))
	for _, id := range ids {
		out = append(out, domain.NotFoundStatusView(id))
	}
	return out, nil
}

func (f *statusFake) EssayStatus(ctx context.Context, ids []int64) ([]domain.StatusView, error) {
	return f.SubmissionStatus(ctx, ids)
}

type exportFake struct {
	err error
}

func (f exportFake) ExportGradeSheet(_ context.Context, _ int64, w io.Writer) error {
	if f.err != nil {
		return f.err
	}
	_, err := w.Write([]byte("PK-sheet"))
	return err
}

type testServices struct {
	ingest  *ingestFake
	trigger *triggerFake
	confirm *confirmFake
	status  *statusFake
}

func newTestServices() (Services, *testServices) {
	fakes := &testServices{
		ingest:  &ingestFake{},
		trigger: &triggerFake{tasks: map[string]domain.Task{}},
		confirm: &confirmFake{},
		status:  &statusFake{},
	}
	return Services{
		Ingest:  fakes.ingest,
		Trigger: fakes.trigger,
		Confirm: fakes.confirm,
		Status:  fakes.status,
		Export:  exportFake{},
	}, fakes
}
