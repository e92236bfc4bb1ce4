package usecase

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/kirillkom/essay-grading-pipeline/internal/core/domain"
	"github.com/kirillkom/essay-grading-pipeline/internal/core/ports"
	"github.com/kirillkom/essay-grading-pipeline/internal/observability/logging"
)

const (
	matchChunkSize      = 20
	minMatchOCRTextRune = 2
)

const (
	msgOCRTooShort   = "OCR text is empty or too short for matching."
	msgNoRoster      = "Could not generate a student roster for the assignment."
	msgNoRosterMatch = "no roster match"
)

// MatchUseCase attributes OCR'd submissions to roster students in chunks.
type MatchUseCase struct {
	repo    ports.SubmissionRepository
	roster  ports.RosterProvider
	matcher ports.StudentMatcher
	metrics ports.PipelineMetrics
}

func NewMatchUseCase(
	repo ports.SubmissionRepository,
	roster ports.RosterProvider,
	matcher ports.StudentMatcher,
	metrics ports.PipelineMetrics,
) *MatchUseCase {
	return &MatchUseCase{
		repo:    repo,
		roster:  roster,
		matcher: matcher,
		metrics: metricsOrNoop(metrics),
	}
}

func (uc *MatchUseCase) MatchStudentsForAssignment(ctx context.Context, assignmentID int64) error {
	ctx = logging.With(ctx, "assignment_id", assignmentID)
	logger := logging.FromContext(ctx)

	subs, err := uc.repo.ListByAssignment(ctx, assignmentID, domain.SubmissionOCRCompleted)
	if err != nil {
		return fmt.Errorf("list ocr_completed submissions: %w", err)
	}
	if len(subs) == 0 {
		logger.Info("matching_nothing_to_do")
		return nil
	}

	valid := make([]domain.PendingSubmission, 0, len(subs))
	for _, sub := range subs {
		if len([]rune(strings.TrimSpace(sub.OCRText))) < minMatchOCRTextRune {
			logger.Warn("matching_ocr_text_too_short", "submission_id", sub.ID, "filename", sub.OriginalFilename)
			uc.fail(ctx, sub.ID, domain.SubmissionOCRCompleted, msgOCRTooShort)
			continue
		}
		valid = append(valid, sub)
	}
	if len(valid) == 0 {
		return nil
	}

	entries, err := uc.roster.RosterForAssignment(ctx, assignmentID)
	if err != nil {
		for _, sub := range valid {
			uc.fail(ctx, sub.ID, domain.SubmissionOCRCompleted, "Could not load the student roster: "+err.Error())
		}
		return fmt.Errorf("load roster: %w", err)
	}
	roster := domain.NewRoster(entries)
	if roster.Len() == 0 {
		logger.Warn("matching_empty_roster")
		for _, sub := range valid {
			uc.fail(ctx, sub.ID, domain.SubmissionOCRCompleted, msgNoRoster)
		}
		return nil
	}

	chunks := 0
	for start := 0; start < len(valid); start += matchChunkSize {
		end := min(start+matchChunkSize, len(valid))
		chunks++
		uc.matchChunk(logging.With(ctx, "chunk", chunks), valid[start:end], roster)
	}
	logger.Info("matching_finished", "submissions", len(valid), "chunks", chunks)
	return nil
}

func (uc *MatchUseCase) matchChunk(ctx context.Context, chunk []domain.PendingSubmission, roster *domain.Roster) {
	logger := logging.FromContext(ctx)
	started := time.Now()
	uc.metrics.StageStarted(stageMatching)

	claimed := make([]domain.PendingSubmission, 0, len(chunk))
	for _, sub := range chunk {
		err := uc.repo.Update(ctx, sub.ID, domain.SubmissionUpdate{From: domain.SubmissionOCRCompleted, To: domain.SubmissionMatching})
		if err != nil {
			logger.Warn("matching_claim_failed", "submission_id", sub.ID, "error", err)
			continue
		}
		claimed = append(claimed, sub)
	}
	if len(claimed) == 0 {
		uc.metrics.StageFinished(stageMatching, outcomeSkipped, time.Since(started))
		return
	}

	keys := candidateKeys(claimed)
	candidates := make([]domain.MatchCandidate, 0, len(claimed))
	for i, sub := range claimed {
		candidates = append(candidates, domain.MatchCandidate{Filename: keys[i], OCRText: sub.OCRText})
	}

	answer, err := uc.matcher.MatchChunk(ctx, candidates, roster.Entries)
	if err != nil {
		logger.Error("matching_chunk_failed", "submissions", len(claimed), "error", err)
		for _, sub := range claimed {
			uc.fail(ctx, sub.ID, domain.SubmissionMatching, "AI Matching failed for this batch: "+err.Error())
		}
		uc.metrics.StageFinished(stageMatching, outcomeFailed, time.Since(started))
		return
	}

	matched := 0
	for i, sub := range claimed {
		name, ok := answer[keys[i]]
		if !ok || name == nil {
			uc.fail(ctx, sub.ID, domain.SubmissionMatching, msgNoRosterMatch)
			continue
		}
		entry, outcome := roster.Resolve(*name)
		switch outcome {
		case domain.ResolveMatched:
			studentID := entry.StudentID
			err := uc.repo.Update(ctx, sub.ID, domain.SubmissionUpdate{
				From:             domain.SubmissionMatching,
				To:               domain.SubmissionMatchCompleted,
				MatchedStudentID: &studentID,
			})
			if err != nil {
				logger.Error("matching_commit_failed", "submission_id", sub.ID, "error", err)
				continue
			}
			matched++
		case domain.ResolveAmbiguous:
			uc.fail(ctx, sub.ID, domain.SubmissionMatching,
				fmt.Sprintf("ambiguous roster name '%s' matches several students.", *name))
		default:
			uc.fail(ctx, sub.ID, domain.SubmissionMatching,
				fmt.Sprintf("LLM matched to '%s', but this student was not found in the roster map.", *name))
		}
	}

	outcome := outcomeSucceeded
	if matched < len(claimed) {
		outcome = outcomeFailed
	}
	uc.metrics.StageFinished(stageMatching, outcome, time.Since(started))
	logger.Info("matching_chunk_finished", "submissions", len(claimed), "matched", matched)
}

// candidateKeys labels each submission by its original filename. Repeated
// names within a chunk get the submission id appended so answers stay
// unambiguous.
func candidateKeys(subs []domain.PendingSubmission) []string {
	counts := make(map[string]int, len(subs))
	for _, sub := range subs {
		counts[sub.OriginalFilename]++
	}
	keys := make([]string, len(subs))
	for i, sub := range subs {
		key := sub.OriginalFilename
		if key == "" || counts[key] > 1 {
			key = fmt.Sprintf("%s#%d", sub.OriginalFilename, sub.ID)
		}
		keys[i] = key
	}
	return keys
}

func (uc *MatchUseCase) fail(ctx context.Context, id int64, from domain.SubmissionStatus, msg string) {
	msg = domain.TruncateMessage(msg)
	err := uc.repo.Update(ctx, id, domain.SubmissionUpdate{
		From:         from,
		To:           domain.SubmissionFailed,
		ErrorMessage: &msg,
	})
	if err != nil {
		logging.FromContext(ctx).Error("matching_mark_failed_error", "submission_id", id, "error", err)
	}
}
