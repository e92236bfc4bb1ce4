package usecase

import (
	"context"
	"errors"
	"strings"

	"github.com/kirillkom/essay-grading-pipeline/internal/core/domain"
	"github.com/kirillkom/essay-grading-pipeline/internal/core/ports"
)

// TriggerUseCase dispatches pipeline stages on request and reports task state.
type TriggerUseCase struct {
	dispatcher ports.Dispatcher
	tasks      ports.TaskStore
}

func NewTriggerUseCase(dispatcher ports.Dispatcher, tasks ports.TaskStore) *TriggerUseCase {
	return &TriggerUseCase{dispatcher: dispatcher, tasks: tasks}
}

func (uc *TriggerUseCase) TriggerOCR(ctx context.Context, assignmentID int64) (domain.Task, error) {
	if assignmentID <= 0 {
		return domain.Task{}, domain.WrapError(domain.ErrInvalidInput, "trigger ocr", errors.New("assignment id is required"))
	}
	return uc.dispatcher.Dispatch(ctx, domain.Job{Kind: domain.JobOCRAssignment, AssignmentID: assignmentID})
}

func (uc *TriggerUseCase) TriggerMatching(ctx context.Context, assignmentID int64) (domain.Task, error) {
	if assignmentID <= 0 {
		return domain.Task{}, domain.WrapError(domain.ErrInvalidInput, "trigger matching", errors.New("assignment id is required"))
	}
	return uc.dispatcher.Dispatch(ctx, domain.Job{Kind: domain.JobMatchAssignment, AssignmentID: assignmentID})
}

func (uc *TriggerUseCase) TriggerEssay(ctx context.Context, essayID int64) (domain.Task, error) {
	if essayID <= 0 {
		return domain.Task{}, domain.WrapError(domain.ErrInvalidInput, "trigger essay", errors.New("essay id is required"))
	}
	return uc.dispatcher.Dispatch(ctx, domain.Job{Kind: domain.JobProcessEssays, IDs: []int64{essayID}})
}

func (uc *TriggerUseCase) Task(ctx context.Context, taskID string) (*domain.Task, error) {
	if strings.TrimSpace(taskID) == "" {
		return nil, domain.WrapError(domain.ErrInvalidInput, "get task", errors.New("task id is required"))
	}
	return uc.tasks.Get(ctx, taskID)
}
