package usecase

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/kirillkom/essay-grading-pipeline/internal/core/domain"
	"github.com/kirillkom/essay-grading-pipeline/internal/core/ports"
	"github.com/kirillkom/essay-grading-pipeline/internal/observability/logging"
)

const unexpectedOCRMessage = "An unexpected server error occurred."

type OCRStageOptions struct {
	Concurrency  int
	ReadAttempts int
	ReadDelay    time.Duration
}

// OCRStageUseCase drives uploaded submissions through preprocessing and OCR,
// then hands the assignment to the matching stage.
type OCRStageUseCase struct {
	repo         ports.SubmissionRepository
	storage      ports.ObjectStorage
	preprocessor ports.ImagePreprocessor
	ocr          ports.OCRClient
	documents    ports.DocumentTextExtractor
	matcher      ports.StudentMatchService
	metrics      ports.PipelineMetrics
	opts         OCRStageOptions
}

func NewOCRStageUseCase(
	repo ports.SubmissionRepository,
	storage ports.ObjectStorage,
	preprocessor ports.ImagePreprocessor,
	ocr ports.OCRClient,
	documents ports.DocumentTextExtractor,
	matcher ports.StudentMatchService,
	metrics ports.PipelineMetrics,
	opts OCRStageOptions,
) *OCRStageUseCase {
	if opts.Concurrency <= 0 {
		opts.Concurrency = 5
	}
	if opts.ReadAttempts <= 0 {
		opts.ReadAttempts = 3
	}
	if opts.ReadDelay < 0 {
		opts.ReadDelay = 0
	}
	return &OCRStageUseCase{
		repo:         repo,
		storage:      storage,
		preprocessor: preprocessor,
		ocr:          ocr,
		documents:    documents,
		matcher:      matcher,
		metrics:      metricsOrNoop(metrics),
		opts:         opts,
	}
}

func (uc *OCRStageUseCase) ProcessSubmissionsForAssignment(ctx context.Context, assignmentID int64) error {
	ctx = logging.With(ctx, "assignment_id", assignmentID)
	subs, err := uc.repo.ListByAssignment(ctx, assignmentID, domain.SubmissionUploaded)
	if err != nil {
		return fmt.Errorf("list uploaded submissions: %w", err)
	}
	if len(subs) == 0 {
		logging.FromContext(ctx).Info("ocr_stage_nothing_to_do")
	} else {
		uc.run(ctx, subs)
	}
	return uc.match(ctx, assignmentID)
}

// ProcessSubmissions re-drives an explicit id list. Items stuck in
// preprocessing or ocr_processing are picked up again.
func (uc *OCRStageUseCase) ProcessSubmissions(ctx context.Context, ids []int64) error {
	subs, err := uc.repo.ListByIDs(ctx, uniqueIDs(ids))
	if err != nil {
		return fmt.Errorf("list submissions: %w", err)
	}
	eligible := make([]domain.PendingSubmission, 0, len(subs))
	assignments := make([]int64, 0, 1)
	seen := map[int64]bool{}
	for _, sub := range subs {
		if !ocrEligible(sub.Status) {
			continue
		}
		eligible = append(eligible, sub)
		if !seen[sub.AssignmentID] {
			seen[sub.AssignmentID] = true
			assignments = append(assignments, sub.AssignmentID)
		}
	}
	if len(eligible) == 0 {
		return nil
	}
	uc.run(ctx, eligible)

	var errs []error
	for _, assignmentID := range assignments {
		if err := uc.match(logging.With(ctx, "assignment_id", assignmentID), assignmentID); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func ocrEligible(s domain.SubmissionStatus) bool {
	return s == domain.SubmissionUploaded || s == domain.SubmissionPreprocessing || s == domain.SubmissionOCRProcessing
}

func (uc *OCRStageUseCase) match(ctx context.Context, assignmentID int64) error {
	if uc.matcher == nil {
		return nil
	}
	if err := uc.matcher.MatchStudentsForAssignment(ctx, assignmentID); err != nil {
		return fmt.Errorf("match students: %w", err)
	}
	return nil
}

func (uc *OCRStageUseCase) run(ctx context.Context, subs []domain.PendingSubmission) {
	logger := logging.FromContext(ctx)
	logger.Info("ocr_stage_started", "submissions", len(subs))

	token, err := uc.ocr.FetchToken(ctx)
	if err != nil {
		logger.Error("ocr_token_failed", "error", err)
		msg := "Could not start task: " + err.Error()
		for _, sub := range subs {
			uc.fail(ctx, sub.ID, sub.Status, msg)
		}
		return
	}

	tokens := &batchToken{value: token}
	ids := make([]int64, 0, len(subs))
	for _, sub := range subs {
		ids = append(ids, sub.ID)
	}
	fanOut(ctx, ids, uc.opts.Concurrency,
		func(ctx context.Context, id int64) {
			uc.processOne(logging.With(ctx, "submission_id", id), id, tokens)
		},
		func(ctx context.Context, id int64, _ error) {
			uc.failCurrent(ctx, id, unexpectedOCRMessage)
		},
	)
	logger.Info("ocr_stage_finished", "submissions", len(subs))
}

func (uc *OCRStageUseCase) processOne(ctx context.Context, id int64, tokens *batchToken) {
	logger := logging.FromContext(ctx)
	started := time.Now()
	uc.metrics.StageStarted(stageOCR)
	outcome := outcomeFailed
	defer func() {
		uc.metrics.StageFinished(stageOCR, outcome, time.Since(started))
	}()

	sub, err := uc.repo.GetByID(ctx, id)
	if err != nil {
		logger.Error("ocr_stage_fetch_failed", "error", err)
		return
	}
	if !ocrEligible(sub.Status) {
		outcome = outcomeSkipped
		logger.Info("ocr_stage_item_skipped", "status", sub.Status)
		return
	}

	status := sub.Status
	if status == domain.SubmissionUploaded {
		if !uc.advance(ctx, id, domain.SubmissionUploaded, domain.SubmissionPreprocessing) {
			outcome = outcomeSkipped
			return
		}
		status = domain.SubmissionPreprocessing
	}

	text, status, err := uc.recognize(ctx, sub, status, tokens)
	if err != nil {
		if domain.IsKind(err, domain.ErrInvalidTransition) {
			outcome = outcomeSkipped
			logger.Warn("ocr_stage_stale_item", "error", err)
			return
		}
		logger.Error("ocr_stage_item_failed", "status", status, "error", err)
		uc.fail(ctx, id, status, ocrFailureMessage(err))
		return
	}

	err = uc.repo.Update(ctx, id, domain.SubmissionUpdate{
		From:    domain.SubmissionOCRProcessing,
		To:      domain.SubmissionOCRCompleted,
		OCRText: &text,
	})
	if err != nil {
		logger.Error("ocr_stage_commit_failed", "error", err)
		return
	}
	outcome = outcomeSucceeded
	logger.Info("ocr_stage_item_completed", "chars", len([]rune(text)))
}

// recognize reads the upload and extracts its text, committing
// preprocessing -> ocr_processing on the way. It returns the status the item
// is in when it stops.
func (uc *OCRStageUseCase) recognize(ctx context.Context, sub *domain.PendingSubmission, status domain.SubmissionStatus, tokens *batchToken) (string, domain.SubmissionStatus, error) {
	data, err := uc.readUpload(ctx, sub.FilePath)
	if err != nil {
		return "", status, err
	}

	if uc.documents != nil && uc.documents.CanExtract(sub.OriginalFilename, data) {
		if status == domain.SubmissionPreprocessing {
			if err := uc.move(ctx, sub.ID, status, domain.SubmissionOCRProcessing); err != nil {
				return "", status, err
			}
			status = domain.SubmissionOCRProcessing
		}
		text, err := uc.documents.ExtractText(ctx, sub.OriginalFilename, data)
		return text, status, err
	}

	image, err := uc.preprocessor.Preprocess(data)
	if err != nil {
		return "", status, err
	}
	if status == domain.SubmissionPreprocessing {
		if err := uc.move(ctx, sub.ID, status, domain.SubmissionOCRProcessing); err != nil {
			return "", status, err
		}
		status = domain.SubmissionOCRProcessing
	}

	token := tokens.current()
	text, err := uc.ocr.Recognize(ctx, image, token)
	if domain.IsKind(err, domain.ErrOCRTokenExpired) {
		logging.FromContext(ctx).Warn("ocr_token_expired", "error", err)
		fresh, ferr := tokens.refresh(ctx, uc.ocr, token)
		if ferr != nil {
			return "", status, ferr
		}
		text, err = uc.ocr.Recognize(ctx, image, fresh)
	}
	return text, status, err
}

// batchToken is the access token shared by one OCR batch. A rejected token
// is refetched once and the new one reused by every item.
type batchToken struct {
	mu    sync.Mutex
	value string
}

func (t *batchToken) current() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.value
}

func (t *batchToken) refresh(ctx context.Context, client ports.OCRClient, stale string) (string, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.value != stale {
		return t.value, nil
	}
	token, err := client.FetchToken(ctx)
	if err != nil {
		return "", err
	}
	t.value = token
	return token, nil
}

func (uc *OCRStageUseCase) readUpload(ctx context.Context, key string) ([]byte, error) {
	var lastErr error
	for attempt := 1; attempt <= uc.opts.ReadAttempts; attempt++ {
		data, err := uc.readOnce(ctx, key)
		if err == nil && len(data) > 0 {
			return data, nil
		}
		if err == nil {
			err = errors.New("file is empty")
		}
		lastErr = err
		logging.FromContext(ctx).Warn("upload_read_failed", "attempt", attempt, "key", key, "error", err)
		if attempt < uc.opts.ReadAttempts && uc.opts.ReadDelay > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(uc.opts.ReadDelay):
			}
		}
	}
	return nil, domain.WrapError(domain.ErrOCR, "read upload",
		fmt.Errorf("failed to read image file after %d attempts: %s: %w", uc.opts.ReadAttempts, key, lastErr))
}

func (uc *OCRStageUseCase) readOnce(ctx context.Context, key string) ([]byte, error) {
	rc, err := uc.storage.Open(ctx, key)
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	return io.ReadAll(rc)
}

func (uc *OCRStageUseCase) advance(ctx context.Context, id int64, from, to domain.SubmissionStatus) bool {
	if err := uc.move(ctx, id, from, to); err != nil {
		logging.FromContext(ctx).Warn("ocr_stage_transition_failed", "from", from, "to", to, "error", err)
		return false
	}
	return true
}

func (uc *OCRStageUseCase) move(ctx context.Context, id int64, from, to domain.SubmissionStatus) error {
	return uc.repo.Update(ctx, id, domain.SubmissionUpdate{From: from, To: to})
}

func (uc *OCRStageUseCase) fail(ctx context.Context, id int64, from domain.SubmissionStatus, msg string) {
	msg = domain.TruncateMessage(msg)
	err := uc.repo.Update(ctx, id, domain.SubmissionUpdate{
		From:         from,
		To:           domain.SubmissionFailed,
		ErrorMessage: &msg,
	})
	if err != nil {
		logging.FromContext(ctx).Error("ocr_stage_mark_failed_error", "submission_id", id, "error", err)
	}
}

// failCurrent marks the item failed from whatever stage it reached.
func (uc *OCRStageUseCase) failCurrent(ctx context.Context, id int64, msg string) {
	sub, err := uc.repo.GetByID(ctx, id)
	if err != nil || sub.Status.Terminal() {
		return
	}
	uc.fail(ctx, id, sub.Status, msg)
}

func ocrFailureMessage(err error) string {
	if domain.IsKind(err, domain.ErrOCR) || domain.IsKind(err, domain.ErrPreprocess) {
		return err.Error()
	}
	return unexpectedOCRMessage
}
