package ports

import (
	"context"
	"io"
	"time"

	"github.com/kirillkom/essay-grading-pipeline/internal/core/domain"
)

// SubmissionRepository persists pending submissions.
type SubmissionRepository interface {
	Create(ctx context.Context, sub *domain.PendingSubmission) error
	GetByID(ctx context.Context, id int64) (*domain.PendingSubmission, error)
	ListByIDs(ctx context.Context, ids []int64) ([]domain.PendingSubmission, error)
	ListByAssignment(ctx context.Context, assignmentID int64, statuses ...domain.SubmissionStatus) ([]domain.PendingSubmission, error)
	// Update applies a compare-and-set change; a row no longer in u.From yields ErrInvalidTransition.
	Update(ctx context.Context, id int64, u domain.SubmissionUpdate) error
	Delete(ctx context.Context, id int64) error
}

// EssayRepository persists essays.
type EssayRepository interface {
	GetByID(ctx context.Context, id int64) (*domain.Essay, error)
	ListByIDs(ctx context.Context, ids []int64) ([]domain.Essay, error)
	// Update applies a compare-and-set change; a row no longer in u.From yields ErrInvalidTransition.
	Update(ctx context.Context, id int64, u domain.EssayUpdate) error
	// CreateFromSubmission inserts the essay and deletes the submission atomically.
	CreateFromSubmission(ctx context.Context, submissionID int64, essay *domain.Essay) (int64, error)
	ListGradeRows(ctx context.Context, assignmentID int64) ([]domain.GradeRow, error)
}

// RosterProvider resolves the students eligible for an assignment.
type RosterProvider interface {
	RosterForAssignment(ctx context.Context, assignmentID int64) ([]domain.RosterEntry, error)
	ActiveEnrollment(ctx context.Context, assignmentID, studentID int64) (int64, error)
	StudentNames(ctx context.Context, studentIDs []int64) (map[int64]string, error)
}

// StandardProvider resolves grading standards and prompt styles.
type StandardProvider interface {
	StandardForAssignment(ctx context.Context, assignmentID int64) (*domain.GradingStandard, error)
	StandardByID(ctx context.Context, standardID int64) (*domain.GradingStandard, error)
	// PromptStyle returns the assignment template or grade-level default, or "" when neither exists.
	PromptStyle(ctx context.Context, assignmentID int64) (string, error)
}

type ObjectStorage interface {
	Save(ctx context.Context, key string, data io.Reader) error
	Open(ctx context.Context, key string) (io.ReadCloser, error)
	Delete(ctx context.Context, key string) error
}

type ImagePreprocessor interface {
	Preprocess(raw []byte) ([]byte, error)
}

// OCRClient authenticates against and calls a text-recognition service.
type OCRClient interface {
	FetchToken(ctx context.Context) (string, error)
	Recognize(ctx context.Context, image []byte, token string) (string, error)
}

// DocumentTextExtractor reads embedded text from born-digital documents.
type DocumentTextExtractor interface {
	CanExtract(filename string, data []byte) bool
	ExtractText(ctx context.Context, filename string, data []byte) (string, error)
}

type ChatRequest struct {
	Prompt      string
	Temperature float64
	RequireJSON bool
}

// ChatCompleter is a single LLM round trip without retries.
type ChatCompleter interface {
	Complete(ctx context.Context, req ChatRequest) (string, error)
}

type TextCorrector interface {
	Correct(ctx context.Context, text string) (string, error)
}

type StudentMatcher interface {
	// MatchChunk returns filename -> roster name, or nil when the model found no match.
	MatchChunk(ctx context.Context, items []domain.MatchCandidate, roster []domain.RosterEntry) (map[string]*string, error)
}

type GradeRequest struct {
	Text        string
	Standard    domain.GradingStandard
	PromptStyle string
	IsFromOCR   bool
}

type EssayGrader interface {
	Grade(ctx context.Context, req GradeRequest) (domain.GradingResult, error)
}

// Dispatcher starts a batch job in the background and returns its handle.
type Dispatcher interface {
	Dispatch(ctx context.Context, job domain.Job) (domain.Task, error)
}

type TaskStore interface {
	Put(ctx context.Context, task domain.Task) error
	Get(ctx context.Context, id string) (*domain.Task, error)
}

type GradeSheetWriter interface {
	WriteGradeSheet(w io.Writer, standard *domain.GradingStandard, rows []domain.GradeRow) error
}

// PipelineMetrics observes per-item stage outcomes.
type PipelineMetrics interface {
	StageStarted(stage string)
	StageFinished(stage, outcome string, duration time.Duration)
}
