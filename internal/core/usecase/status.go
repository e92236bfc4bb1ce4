package usecase

import (
	"context"
	"errors"
	"fmt"

	"github.com/kirillkom/essay-grading-pipeline/internal/core/domain"
	"github.com/kirillkom/essay-grading-pipeline/internal/core/ports"
	"github.com/kirillkom/essay-grading-pipeline/internal/observability/logging"
)

const maxStatusIDs = 500

type StatusUseCase struct {
	subs   ports.SubmissionRepository
	essays ports.EssayRepository
	roster ports.RosterProvider
}

func NewStatusUseCase(subs ports.SubmissionRepository, essays ports.EssayRepository, roster ports.RosterProvider) *StatusUseCase {
	return &StatusUseCase{subs: subs, essays: essays, roster: roster}
}

// SubmissionStatus returns one view per requested id, in request order.
func (uc *StatusUseCase) SubmissionStatus(ctx context.Context, ids []int64) ([]domain.StatusView, error) {
	ids, err := statusIDs(ids)
	if err != nil {
		return nil, err
	}
	subs, err := uc.subs.ListByIDs(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("list submissions: %w", err)
	}

	byID := make(map[int64]domain.PendingSubmission, len(subs))
	var studentIDs []int64
	for _, sub := range subs {
		byID[sub.ID] = sub
		if sub.MatchedStudentID != nil {
			studentIDs = append(studentIDs, *sub.MatchedStudentID)
		}
	}
	names := uc.studentNames(ctx, studentIDs)

	out := make([]domain.StatusView, 0, len(ids))
	for _, id := range ids {
		sub, ok := byID[id]
		if !ok {
			out = append(out, domain.NotFoundStatusView(id))
			continue
		}
		view := domain.SubmissionStatusView(sub)
		if sub.MatchedStudentID != nil {
			view.MatchedStudentName = names[*sub.MatchedStudentID]
		}
		out = append(out, view)
	}
	return out, nil
}

func (uc *StatusUseCase) EssayStatus(ctx context.Context, ids []int64) ([]domain.StatusView, error) {
	ids, err := statusIDs(ids)
	if err != nil {
		return nil, err
	}
	essays, err := uc.essays.ListByIDs(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("list essays: %w", err)
	}
	byID := make(map[int64]domain.Essay, len(essays))
	for _, essay := range essays {
		byID[essay.ID] = essay
	}

	out := make([]domain.StatusView, 0, len(ids))
	for _, id := range ids {
		if essay, ok := byID[id]; ok {
			out = append(out, domain.EssayStatusView(essay))
		} else {
			out = append(out, domain.NotFoundStatusView(id))
		}
	}
	return out, nil
}

// studentNames is best effort; a failed lookup only drops the display names.
func (uc *StatusUseCase) studentNames(ctx context.Context, ids []int64) map[int64]string {
	if len(ids) == 0 || uc.roster == nil {
		return map[int64]string{}
	}
	names, err := uc.roster.StudentNames(ctx, uniqueIDs(ids))
	if err != nil {
		logging.FromContext(ctx).Warn("student_names_lookup_failed", "error", err)
		return map[int64]string{}
	}
	return names
}

func statusIDs(ids []int64) ([]int64, error) {
	ids = uniqueIDs(ids)
	if len(ids) == 0 {
		return nil, domain.WrapError(domain.ErrInvalidInput, "get status", errors.New("ids are required"))
	}
	if len(ids) > maxStatusIDs {
		return nil, domain.WrapError(domain.ErrInvalidInput, "get status", fmt.Errorf("too many ids: %d > %d", len(ids), maxStatusIDs))
	}
	return ids, nil
}
