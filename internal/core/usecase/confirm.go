package usecase

import (
	"context"
	"errors"
	"fmt"

	"github.com/kirillkom/essay-grading-pipeline/internal/core/domain"
	"github.com/kirillkom/essay-grading-pipeline/internal/core/ports"
	"github.com/kirillkom/essay-grading-pipeline/internal/observability/logging"
)

// ConfirmUseCase turns reviewer-confirmed submissions into pending essays.
type ConfirmUseCase struct {
	subs       ports.SubmissionRepository
	essays     ports.EssayRepository
	roster     ports.RosterProvider
	dispatcher ports.Dispatcher
}

func NewConfirmUseCase(
	subs ports.SubmissionRepository,
	essays ports.EssayRepository,
	roster ports.RosterProvider,
	dispatcher ports.Dispatcher,
) *ConfirmUseCase {
	return &ConfirmUseCase{subs: subs, essays: essays, roster: roster, dispatcher: dispatcher}
}

// ConfirmMatches converts each confirmation independently; failures are
// reported per submission. Created essays are dispatched for processing.
func (uc *ConfirmUseCase) ConfirmMatches(ctx context.Context, assignmentID int64, confirmations []domain.Confirmation) (*domain.ConfirmResult, error) {
	if assignmentID <= 0 {
		return nil, domain.WrapError(domain.ErrInvalidInput, "confirm matches", errors.New("assignment id is required"))
	}
	if len(confirmations) == 0 {
		return nil, domain.WrapError(domain.ErrInvalidInput, "confirm matches", errors.New("no confirmations"))
	}
	ctx = logging.With(ctx, "assignment_id", assignmentID)

	result := &domain.ConfirmResult{EssayIDs: []int64{}, Failed: []domain.ConfirmationFail{}}
	for _, c := range confirmations {
		essayID, err := uc.confirm(ctx, assignmentID, c)
		if err != nil {
			logging.FromContext(ctx).Warn("confirmation_failed", "submission_id", c.SubmissionID, "student_id", c.StudentID, "error", err)
			result.Failed = append(result.Failed, domain.ConfirmationFail{SubmissionID: c.SubmissionID, Error: err.Error()})
			continue
		}
		result.EssayIDs = append(result.EssayIDs, essayID)
	}

	if len(result.EssayIDs) == 0 {
		return result, nil
	}
	task, err := uc.dispatcher.Dispatch(ctx, domain.Job{
		Kind:         domain.JobProcessEssays,
		AssignmentID: assignmentID,
		IDs:          result.EssayIDs,
	})
	if err != nil {
		return nil, fmt.Errorf("dispatch essay processing: %w", err)
	}
	result.TaskID = task.ID
	return result, nil
}

func (uc *ConfirmUseCase) confirm(ctx context.Context, assignmentID int64, c domain.Confirmation) (int64, error) {
	sub, err := uc.subs.GetByID(ctx, c.SubmissionID)
	if err != nil {
		return 0, err
	}
	if sub.AssignmentID != assignmentID {
		return 0, domain.WrapError(domain.ErrInvalidInput, "confirm match",
			fmt.Errorf("submission %d belongs to assignment %d", sub.ID, sub.AssignmentID))
	}
	if sub.Status != domain.SubmissionMatchCompleted {
		return 0, domain.WrapError(domain.ErrInvalidTransition, "confirm match",
			fmt.Errorf("submission %d is %s, not %s", sub.ID, sub.Status, domain.SubmissionMatchCompleted))
	}

	enrollmentID, err := uc.roster.ActiveEnrollment(ctx, assignmentID, c.StudentID)
	if err != nil {
		return 0, fmt.Errorf("resolve enrollment for student %d: %w", c.StudentID, err)
	}

	essay := &domain.Essay{
		AssignmentID:      assignmentID,
		EnrollmentID:      enrollmentID,
		Content:           sub.OCRText,
		OriginalOCRText:   sub.OCRText,
		IsFromOCR:         true,
		OriginalImagePath: sub.FilePath,
		Status:            domain.EssayPending,
	}
	id, err := uc.essays.CreateFromSubmission(ctx, sub.ID, essay)
	if err != nil {
		return 0, fmt.Errorf("create essay: %w", err)
	}
	return id, nil
}
