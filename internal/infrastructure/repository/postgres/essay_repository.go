package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/kirillkom/essay-grading-pipeline/internal/core/domain"
)

type EssayRepository struct {
	db *sql.DB
}

func NewEssayRepository(db *sql.DB) *EssayRepository {
	return &EssayRepository{db: db}
}

const essayColumns = `id, assignment_id, enrollment_id, grading_standard_id, content, original_ocr_text, is_from_ocr, original_image_path, status, ai_score, final_score, error_message, created_at`

func (r *EssayRepository) GetByID(ctx context.Context, id int64) (*domain.Essay, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+essayColumns+` FROM essays WHERE id = $1`, id)
	essay, err := scanEssay(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.WrapError(domain.ErrNotFound, "get essay", fmt.Errorf("essay %d", id))
		}
		return nil, fmt.Errorf("scan essay: %w", err)
	}
	return &essay, nil
}

func (r *EssayRepository) ListByIDs(ctx context.Context, ids []int64) ([]domain.Essay, error) {
	if len(ids) == 0 {
		return []domain.Essay{}, nil
	}
	rows, err := r.db.QueryContext(ctx, `SELECT `+essayColumns+` FROM essays WHERE id = ANY($1) ORDER BY id`, ids)
	if err != nil {
		return nil, fmt.Errorf("list essays by ids: %w", err)
	}
	defer rows.Close()

	out := make([]domain.Essay, 0, len(ids))
	for rows.Next() {
		essay, err := scanEssay(rows)
		if err != nil {
			return nil, fmt.Errorf("scan essay: %w", err)
		}
		out = append(out, essay)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate essays: %w", err)
	}
	return out, nil
}

func (r *EssayRepository) Update(ctx context.Context, id int64, u domain.EssayUpdate) error {
	if err := u.Validate(); err != nil {
		return err
	}
	var aiScore any
	if u.AIScore != nil {
		raw, err := json.Marshal(u.AIScore)
		if err != nil {
			return fmt.Errorf("marshal ai score: %w", err)
		}
		aiScore = raw
	}
	var errMessage *string
	if u.ErrorMessage != nil {
		truncated := domain.TruncateMessage(*u.ErrorMessage)
		errMessage = &truncated
	}

	result, err := r.db.ExecContext(ctx, `
UPDATE essays
SET status = $3,
	content = COALESCE($4, content),
	ai_score = COALESCE($5, ai_score),
	final_score = COALESCE($6, final_score),
	error_message = COALESCE($7, error_message),
	updated_at = $8
WHERE id = $1 AND status = $2
`, id, string(u.From), string(u.To), optional(u.Content), aiScore, optional(u.FinalScore), optional(errMessage), time.Now().UTC())
	if err != nil {
		return fmt.Errorf("update essay: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("update essay rows affected: %w", err)
	}
	if rows > 0 {
		return nil
	}

	var current string
	err = r.db.QueryRowContext(ctx, `SELECT status FROM essays WHERE id = $1`, id).Scan(&current)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.WrapError(domain.ErrNotFound, "update essay", fmt.Errorf("essay %d", id))
	}
	if err != nil {
		return fmt.Errorf("read essay status: %w", err)
	}
	return domain.WrapError(domain.ErrInvalidTransition, "update essay",
		&domain.TransitionError{From: current, To: string(u.To)})
}

// CreateFromSubmission turns a matched submission into a pending essay. The
// submission row is locked, consumed and deleted in the same transaction, so
// a submission yields at most one essay.
func (r *EssayRepository) CreateFromSubmission(ctx context.Context, submissionID int64, essay *domain.Essay) (int64, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin confirm tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	var status string
	err = tx.QueryRowContext(ctx, `SELECT status FROM pending_submissions WHERE id = $1 FOR UPDATE`, submissionID).Scan(&status)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, domain.WrapError(domain.ErrNotFound, "confirm submission", fmt.Errorf("submission %d", submissionID))
	}
	if err != nil {
		return 0, fmt.Errorf("lock submission: %w", err)
	}
	if domain.SubmissionStatus(status) != domain.SubmissionMatchCompleted {
		return 0, domain.WrapError(domain.ErrInvalidTransition, "confirm submission",
			fmt.Errorf("submission %d is %s, not %s", submissionID, status, domain.SubmissionMatchCompleted))
	}

	if essay.CreatedAt.IsZero() {
		essay.CreatedAt = time.Now().UTC()
	}
	if essay.Status == "" {
		essay.Status = domain.EssayPending
	}
	err = tx.QueryRowContext(ctx, `
INSERT INTO essays (assignment_id, enrollment_id, grading_standard_id, content, original_ocr_text, is_from_ocr, original_image_path, status, created_at, updated_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$9)
RETURNING id
`, essay.AssignmentID, essay.EnrollmentID, optional(essay.GradingStandardID), essay.Content, essay.OriginalOCRText,
		essay.IsFromOCR, essay.OriginalImagePath, string(essay.Status), essay.CreatedAt).Scan(&essay.ID)
	if err != nil {
		return 0, fmt.Errorf("insert essay: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM pending_submissions WHERE id = $1`, submissionID); err != nil {
		return 0, fmt.Errorf("delete confirmed submission: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit confirm tx: %w", err)
	}
	return essay.ID, nil
}

func (r *EssayRepository) ListGradeRows(ctx context.Context, assignmentID int64) ([]domain.GradeRow, error) {
	rows, err := r.db.QueryContext(ctx, `
SELECT e.id, s.full_name, COALESCE(en.student_number, ''), e.final_score, e.status, e.ai_score
FROM essays e
JOIN enrollments en ON en.id = e.enrollment_id
JOIN students s ON s.id = en.student_id
WHERE e.assignment_id = $1
ORDER BY en.student_number NULLS LAST, s.full_name, e.id
`, assignmentID)
	if err != nil {
		return nil, fmt.Errorf("list grade rows: %w", err)
	}
	defer rows.Close()

	out := make([]domain.GradeRow, 0)
	for rows.Next() {
		var (
			row     domain.GradeRow
			score   sql.NullFloat64
			status  string
			aiScore []byte
		)
		if err := rows.Scan(&row.EssayID, &row.StudentName, &row.StudentNumber, &score, &status, &aiScore); err != nil {
			return nil, fmt.Errorf("scan grade row: %w", err)
		}
		row.FinalScore = nullableFloat64(score)
		row.Status = domain.EssayStatus(status)
		if row.Result, err = decodeAIScore(aiScore); err != nil {
			return nil, err
		}
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate grade rows: %w", err)
	}
	return out, nil
}

func scanEssay(row rowScanner) (domain.Essay, error) {
	var (
		essay      domain.Essay
		standardID sql.NullInt64
		ocrText    sql.NullString
		imagePath  sql.NullString
		status     string
		aiScore    []byte
		finalScore sql.NullFloat64
		errMsg     sql.NullString
	)
	err := row.Scan(
		&essay.ID,
		&essay.AssignmentID,
		&essay.EnrollmentID,
		&standardID,
		&essay.Content,
		&ocrText,
		&essay.IsFromOCR,
		&imagePath,
		&status,
		&aiScore,
		&finalScore,
		&errMsg,
		&essay.CreatedAt,
	)
	if err != nil {
		return domain.Essay{}, err
	}
	essay.GradingStandardID = nullableInt64(standardID)
	essay.OriginalOCRText = nullableString(ocrText)
	essay.OriginalImagePath = nullableString(imagePath)
	essay.Status = domain.EssayStatus(status)
	essay.FinalScore = nullableFloat64(finalScore)
	essay.ErrorMessage = nullableString(errMsg)
	if essay.AIScore, err = decodeAIScore(aiScore); err != nil {
		return domain.Essay{}, err
	}
	return essay, nil
}

func decodeAIScore(raw []byte) (*domain.GradingResult, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	var result domain.GradingResult
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, fmt.Errorf("unmarshal ai score: %w", err)
	}
	return &result, nil
}
