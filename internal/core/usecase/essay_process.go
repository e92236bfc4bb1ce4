package usecase

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/kirillkom/essay-grading-pipeline/internal/core/domain"
	"github.com/kirillkom/essay-grading-pipeline/internal/core/ports"
	"github.com/kirillkom/essay-grading-pipeline/internal/observability/logging"
)

const (
	msgCorrectionFailed = "AI校对连接失败: "
	msgGradingAPI       = "AI评分服务API请求失败: "
	msgGradingParse     = "解析AI评分服务返回结果失败: "
	msgGradingUnknown   = "AI评分时发生未知错误: "
	msgNoText           = "作文内容为空，无法评分"
	msgNoStandard       = "作业未关联评分标准"
)

// EssayProcessUseCase corrects and grades essays. Every stage re-reads the
// essay and commits its transition before the next one starts.
type EssayProcessUseCase struct {
	essays      ports.EssayRepository
	standards   ports.StandardProvider
	corrector   ports.TextCorrector
	grader      ports.EssayGrader
	metrics     ports.PipelineMetrics
	concurrency int
}

func NewEssayProcessUseCase(
	essays ports.EssayRepository,
	standards ports.StandardProvider,
	corrector ports.TextCorrector,
	grader ports.EssayGrader,
	metrics ports.PipelineMetrics,
	concurrency int,
) *EssayProcessUseCase {
	if concurrency <= 0 {
		concurrency = 10
	}
	return &EssayProcessUseCase{
		essays:      essays,
		standards:   standards,
		corrector:   corrector,
		grader:      grader,
		metrics:     metricsOrNoop(metrics),
		concurrency: concurrency,
	}
}

func (uc *EssayProcessUseCase) ProcessEssays(ctx context.Context, ids []int64) error {
	ids = uniqueIDs(ids)
	if len(ids) == 0 {
		return nil
	}
	logging.FromContext(ctx).Info("essay_batch_started", "essays", len(ids))
	fanOut(ctx, ids, uc.concurrency,
		func(ctx context.Context, id int64) {
			if err := uc.process(logging.With(ctx, "essay_id", id), id); err != nil {
				logging.FromContext(ctx).Error("essay_process_failed", "essay_id", id, "error", err)
			}
		},
		uc.recoverPanic,
	)
	logging.FromContext(ctx).Info("essay_batch_finished", "essays", len(ids))
	return nil
}

func (uc *EssayProcessUseCase) ProcessSingleEssay(ctx context.Context, essayID int64) (err error) {
	ctx = logging.With(ctx, "essay_id", essayID)
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
			uc.recoverPanic(ctx, essayID, err)
		}
	}()
	return uc.process(ctx, essayID)
}

func (uc *EssayProcessUseCase) recoverPanic(ctx context.Context, id int64, cause error) {
	essay, err := uc.essays.GetByID(ctx, id)
	if err != nil || essay.Status.Terminal() {
		return
	}
	uc.fail(ctx, essay, domain.EssayErrorUnknown, msgGradingUnknown+cause.Error(), nil)
}

// process resumes the essay from its current stage. Terminal essays are left alone.
func (uc *EssayProcessUseCase) process(ctx context.Context, id int64) error {
	essay, err := uc.essays.GetByID(ctx, id)
	if err != nil {
		return fmt.Errorf("fetch essay: %w", err)
	}
	if essay.Status.Terminal() {
		logging.FromContext(ctx).Info("essay_already_terminal", "status", essay.Status)
		return nil
	}

	if essay.Status == domain.EssayPending && essay.IsFromOCR {
		if err := uc.essays.Update(ctx, id, domain.EssayUpdate{From: domain.EssayPending, To: domain.EssayCorrecting}); err != nil {
			return staleOrErr(ctx, err)
		}
		essay.Status = domain.EssayCorrecting
	}

	if essay.Status == domain.EssayCorrecting {
		essay, err = uc.correct(ctx, essay)
		if err != nil || essay == nil {
			return err
		}
	}
	return uc.grade(ctx, essay)
}

// correct returns the re-fetched essay carrying the corrected content, or nil
// when the essay failed correction or moved on concurrently.
func (uc *EssayProcessUseCase) correct(ctx context.Context, essay *domain.Essay) (*domain.Essay, error) {
	started := time.Now()
	uc.metrics.StageStarted(stageCorrection)

	source := essay.OriginalOCRText
	if strings.TrimSpace(source) == "" {
		source = essay.Content
	}
	corrected, err := uc.corrector.Correct(ctx, source)
	if err != nil {
		uc.metrics.StageFinished(stageCorrection, outcomeFailed, time.Since(started))
		logging.FromContext(ctx).Error("essay_correction_failed", "error", err)
		uc.fail(ctx, essay, domain.EssayErrorCorrection, msgCorrectionFailed+err.Error(), &source)
		return nil, nil
	}
	uc.metrics.StageFinished(stageCorrection, outcomeSucceeded, time.Since(started))
	if strings.TrimSpace(corrected) == "" {
		corrected = source
	}

	current, err := uc.essays.GetByID(ctx, essay.ID)
	if err != nil {
		return nil, fmt.Errorf("re-fetch essay: %w", err)
	}
	if current.Status != domain.EssayCorrecting {
		logging.FromContext(ctx).Warn("essay_moved_during_correction", "status", current.Status)
		return nil, nil
	}
	current.Content = corrected
	return current, nil
}

func (uc *EssayProcessUseCase) grade(ctx context.Context, essay *domain.Essay) error {
	if strings.TrimSpace(essay.Content) == "" {
		uc.fail(ctx, essay, domain.EssayErrorNoText, msgNoText, nil)
		return nil
	}

	standard, err := uc.resolveStandard(ctx, essay)
	if err != nil {
		if domain.IsKind(err, domain.ErrNotFound) {
			uc.fail(ctx, essay, domain.EssayErrorNoStandard, msgNoStandard, nil)
			return nil
		}
		uc.fail(ctx, essay, domain.EssayErrorUnknown, msgGradingUnknown+err.Error(), nil)
		return nil
	}

	style, err := uc.standards.PromptStyle(ctx, essay.AssignmentID)
	if err != nil {
		logging.FromContext(ctx).Warn("prompt_style_lookup_failed", "error", err)
		style = ""
	}

	if essay.Status != domain.EssayGrading {
		content := essay.Content
		err := uc.essays.Update(ctx, essay.ID, domain.EssayUpdate{From: essay.Status, To: domain.EssayGrading, Content: &content})
		if err != nil {
			return staleOrErr(ctx, err)
		}
		essay.Status = domain.EssayGrading
	}

	started := time.Now()
	uc.metrics.StageStarted(stageGrading)
	result, err := uc.grader.Grade(ctx, ports.GradeRequest{
		Text:        essay.Content,
		Standard:    *standard,
		PromptStyle: style,
		IsFromOCR:   essay.IsFromOCR,
	})
	if err != nil {
		uc.metrics.StageFinished(stageGrading, outcomeFailed, time.Since(started))
		status, prefix := gradingFailure(err)
		logging.FromContext(ctx).Error("essay_grading_failed", "status", status, "error", err)
		uc.fail(ctx, essay, status, prefix+err.Error(), nil)
		return nil
	}

	total := result.TotalScore
	cleared := ""
	err = uc.essays.Update(ctx, essay.ID, domain.EssayUpdate{
		From:         domain.EssayGrading,
		To:           domain.EssayGraded,
		AIScore:      &result,
		FinalScore:   &total,
		ErrorMessage: &cleared,
	})
	if err != nil {
		uc.metrics.StageFinished(stageGrading, outcomeFailed, time.Since(started))
		return staleOrErr(ctx, err)
	}
	uc.metrics.StageFinished(stageGrading, outcomeSucceeded, time.Since(started))
	logging.FromContext(ctx).Info("essay_graded", "final_score", total)
	return nil
}

// resolveStandard prefers the assignment's standard and falls back to the
// one recorded on the essay.
func (uc *EssayProcessUseCase) resolveStandard(ctx context.Context, essay *domain.Essay) (*domain.GradingStandard, error) {
	standard, err := uc.standards.StandardForAssignment(ctx, essay.AssignmentID)
	if err == nil {
		return standard, nil
	}
	if !domain.IsKind(err, domain.ErrNotFound) || essay.GradingStandardID == nil {
		return nil, err
	}
	return uc.standards.StandardByID(ctx, *essay.GradingStandardID)
}

func gradingFailure(err error) (domain.EssayStatus, string) {
	switch {
	case domain.IsKind(err, domain.ErrLLMConnection):
		return domain.EssayErrorAPI, msgGradingAPI
	case domain.IsKind(err, domain.ErrMalformedResult):
		return domain.EssayErrorParsing, msgGradingParse
	default:
		return domain.EssayErrorUnknown, msgGradingUnknown
	}
}

func (uc *EssayProcessUseCase) fail(ctx context.Context, essay *domain.Essay, status domain.EssayStatus, msg string, content *string) {
	msg = domain.TruncateMessage(msg)
	err := uc.essays.Update(ctx, essay.ID, domain.EssayUpdate{
		From:         essay.Status,
		To:           status,
		Content:      content,
		ErrorMessage: &msg,
	})
	if err != nil {
		logging.FromContext(ctx).Error("essay_mark_failed_error", "to", status, "error", err)
		return
	}
	essay.Status = status
}

// staleOrErr swallows lost compare-and-set races: another worker owns the essay.
func staleOrErr(ctx context.Context, err error) error {
	if errors.Is(err, domain.ErrInvalidTransition) {
		logging.FromContext(ctx).Warn("essay_stale_transition", "error", err)
		return nil
	}
	return err
}
