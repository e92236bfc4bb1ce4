package usecase

import (
	"context"
	"fmt"

	"github.com/kirillkom/essay-grading-pipeline/internal/core/domain"
	"github.com/kirillkom/essay-grading-pipeline/internal/core/ports"
	"github.com/kirillkom/essay-grading-pipeline/internal/observability/logging"
)

// Runner executes dispatched jobs against the stage use cases.
type Runner struct {
	ocr    ports.SubmissionProcessor
	match  ports.StudentMatchService
	essays ports.EssayProcessor
}

func NewRunner(ocr ports.SubmissionProcessor, match ports.StudentMatchService, essays ports.EssayProcessor) *Runner {
	return &Runner{ocr: ocr, match: match, essays: essays}
}

func (r *Runner) Run(ctx context.Context, job domain.Job) error {
	ctx = logging.With(ctx, "task_id", job.TaskID, "job", job.Kind)
	switch job.Kind {
	case domain.JobOCRAssignment:
		return r.ocr.ProcessSubmissionsForAssignment(ctx, job.AssignmentID)
	case domain.JobOCRSubmissions:
		return r.ocr.ProcessSubmissions(ctx, job.IDs)
	case domain.JobMatchAssignment:
		return r.match.MatchStudentsForAssignment(ctx, job.AssignmentID)
	case domain.JobProcessEssays:
		if len(job.IDs) == 1 {
			return r.essays.ProcessSingleEssay(ctx, job.IDs[0])
		}
		return r.essays.ProcessEssays(ctx, job.IDs)
	default:
		return domain.WrapError(domain.ErrInvalidInput, "run job", fmt.Errorf("unknown job kind %q", job.Kind))
	}
}
