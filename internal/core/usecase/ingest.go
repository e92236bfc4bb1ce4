package usecase

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/kirillkom/essay-grading-pipeline/internal/core/domain"
	"github.com/kirillkom/essay-grading-pipeline/internal/core/ports"
	"github.com/kirillkom/essay-grading-pipeline/internal/observability/logging"
)

const maxBatchFiles = 200

type IngestUseCase struct {
	repo       ports.SubmissionRepository
	storage    ports.ObjectStorage
	dispatcher ports.Dispatcher
}

func NewIngestUseCase(
	repo ports.SubmissionRepository,
	storage ports.ObjectStorage,
	dispatcher ports.Dispatcher,
) *IngestUseCase {
	return &IngestUseCase{
		repo:       repo,
		storage:    storage,
		dispatcher: dispatcher,
	}
}

// SubmitBatch stores every upload as an uploaded submission and dispatches
// the OCR stage for the assignment. It does not wait for processing.
func (uc *IngestUseCase) SubmitBatch(
	ctx context.Context,
	assignmentID, uploaderID int64,
	uploads []domain.Upload,
) (*domain.BatchReceipt, error) {
	if err := validateBatch(assignmentID, uploads); err != nil {
		return nil, err
	}

	receipt := &domain.BatchReceipt{
		AssignmentID:  assignmentID,
		SubmissionIDs: make([]int64, 0, len(uploads)),
	}
	// A batch is accepted whole or not at all, so a client retrying after
	// an error never duplicates scans.
	stored := make([]*domain.PendingSubmission, 0, len(uploads))
	for _, upload := range uploads {
		sub, err := uc.store(ctx, assignmentID, uploaderID, upload)
		if err != nil {
			uc.rollback(ctx, stored)
			return nil, err
		}
		stored = append(stored, sub)
		receipt.SubmissionIDs = append(receipt.SubmissionIDs, sub.ID)
	}

	task, err := uc.dispatcher.Dispatch(ctx, domain.Job{
		Kind:         domain.JobOCRAssignment,
		AssignmentID: assignmentID,
	})
	if err != nil {
		uc.rollback(ctx, stored)
		return nil, fmt.Errorf("dispatch ocr stage: %w", err)
	}
	receipt.TaskID = task.ID

	logging.FromContext(ctx).Info("batch_submitted",
		"assignment_id", assignmentID,
		"files", len(uploads),
		"task_id", task.ID,
	)
	return receipt, nil
}

func (uc *IngestUseCase) store(ctx context.Context, assignmentID, uploaderID int64, upload domain.Upload) (*domain.PendingSubmission, error) {
	name := filepath.Base(strings.TrimSpace(upload.Filename))
	storageKey := fmt.Sprintf("%s_%s", uuid.NewString(), sanitizeFilename(name))

	if err := uc.storage.Save(ctx, storageKey, bytes.NewReader(upload.Data)); err != nil {
		return nil, fmt.Errorf("save to object storage: %w", err)
	}

	sub := &domain.PendingSubmission{
		AssignmentID:     assignmentID,
		UploaderID:       uploaderID,
		OriginalFilename: name,
		FilePath:         storageKey,
		Status:           domain.SubmissionUploaded,
		CreatedAt:        time.Now().UTC(),
	}
	if err := uc.repo.Create(ctx, sub); err != nil {
		if delErr := uc.storage.Delete(ctx, storageKey); delErr != nil && !domain.IsKind(delErr, domain.ErrNotFound) {
			logging.FromContext(ctx).Warn("orphan_upload_cleanup_failed", "key", storageKey, "error", delErr)
		}
		return nil, fmt.Errorf("create submission: %w", err)
	}
	return sub, nil
}

// rollback removes the rows and files of a rejected batch. It outlives a
// cancelled request context.
func (uc *IngestUseCase) rollback(ctx context.Context, subs []*domain.PendingSubmission) {
	ctx = context.WithoutCancel(ctx)
	for _, sub := range subs {
		if err := uc.repo.Delete(ctx, sub.ID); err != nil && !domain.IsKind(err, domain.ErrNotFound) {
			logging.FromContext(ctx).Warn("batch_rollback_failed", "submission_id", sub.ID, "error", err)
			continue
		}
		if err := uc.storage.Delete(ctx, sub.FilePath); err != nil && !domain.IsKind(err, domain.ErrNotFound) {
			logging.FromContext(ctx).Warn("orphan_upload_cleanup_failed", "key", sub.FilePath, "error", err)
		}
	}
	if len(subs) > 0 {
		logging.FromContext(ctx).Info("batch_rolled_back", "files", len(subs))
	}
}

// DeleteSubmission removes a pending submission and its stored file.
func (uc *IngestUseCase) DeleteSubmission(ctx context.Context, id int64) error {
	sub, err := uc.repo.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if err := uc.repo.Delete(ctx, id); err != nil {
		return fmt.Errorf("delete submission: %w", err)
	}
	if err := uc.storage.Delete(ctx, sub.FilePath); err != nil && !domain.IsKind(err, domain.ErrNotFound) {
		logging.FromContext(ctx).Warn("submission_file_delete_failed", "submission_id", id, "key", sub.FilePath, "error", err)
	}
	return nil
}

func validateBatch(assignmentID int64, uploads []domain.Upload) error {
	if assignmentID <= 0 {
		return domain.WrapError(domain.ErrInvalidInput, "submit batch", errors.New("assignment id is required"))
	}
	if len(uploads) == 0 {
		return domain.WrapError(domain.ErrInvalidInput, "submit batch", errors.New("no files uploaded"))
	}
	if len(uploads) > maxBatchFiles {
		return domain.WrapError(domain.ErrInvalidInput, "submit batch", fmt.Errorf("too many files: %d > %d", len(uploads), maxBatchFiles))
	}
	for i, upload := range uploads {
		if strings.TrimSpace(upload.Filename) == "" {
			return domain.WrapError(domain.ErrInvalidInput, "submit batch", fmt.Errorf("file %d has no name", i))
		}
		if len(upload.Data) == 0 {
			return domain.WrapError(domain.ErrInvalidInput, "submit batch", fmt.Errorf("file %q is empty", upload.Filename))
		}
	}
	return nil
}

func sanitizeFilename(name string) string {
	base := filepath.Base(name)
	base = strings.ReplaceAll(base, " ", "_")
	base = strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z':
			return r
		case r >= 'A' && r <= 'Z':
			return r
		case r >= '0' && r <= '9':
			return r
		case r == '.', r == '-', r == '_':
			return r
		default:
			return '_'
		}
	}, base)
	if base == "" || base == "." {
		return "upload.bin"
	}
	return base
}
