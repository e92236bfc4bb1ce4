package ports

import (
	"context"
	"io"

	"github.com/kirillkom/essay-grading-pipeline/internal/core/domain"
)

// SubmissionIngestor stores uploaded scans and starts background processing.
type SubmissionIngestor interface {
	SubmitBatch(ctx context.Context, assignmentID, uploaderID int64, uploads []domain.Upload) (*domain.BatchReceipt, error)
	DeleteSubmission(ctx context.Context, id int64) error
}

// SubmissionProcessor drives the OCR stage.
type SubmissionProcessor interface {
	ProcessSubmissionsForAssignment(ctx context.Context, assignmentID int64) error
	ProcessSubmissions(ctx context.Context, ids []int64) error
}

// StudentMatchService drives matching of OCR'd submissions to the roster.
type StudentMatchService interface {
	MatchStudentsForAssignment(ctx context.Context, assignmentID int64) error
}

// MatchConfirmer converts confirmed submissions into essays.
type MatchConfirmer interface {
	ConfirmMatches(ctx context.Context, assignmentID int64, confirmations []domain.Confirmation) (*domain.ConfirmResult, error)
}

// EssayProcessor drives correction and grading.
type EssayProcessor interface {
	ProcessSingleEssay(ctx context.Context, essayID int64) error
	ProcessEssays(ctx context.Context, ids []int64) error
}

// StatusQuery serves polling clients.
type StatusQuery interface {
	SubmissionStatus(ctx context.Context, ids []int64) ([]domain.StatusView, error)
	EssayStatus(ctx context.Context, ids []int64) ([]domain.StatusView, error)
}

type GradeExporter interface {
	ExportGradeSheet(ctx context.Context, assignmentID int64, w io.Writer) error
}

// BatchTrigger starts pipeline stages in the background.
type BatchTrigger interface {
	TriggerOCR(ctx context.Context, assignmentID int64) (domain.Task, error)
	TriggerMatching(ctx context.Context, assignmentID int64) (domain.Task, error)
	TriggerEssay(ctx context.Context, essayID int64) (domain.Task, error)
	Task(ctx context.Context, taskID string) (*domain.Task, error)
}

// JobRunner executes a dispatched job in the current process.
type JobRunner interface {
	Run(ctx context.Context, job domain.Job) error
}
