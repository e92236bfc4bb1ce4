package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/kirillkom/essay-grading-pipeline/internal/core/domain"
)

type SubmissionRepository struct {
	db *sql.DB
}

func NewSubmissionRepository(db *sql.DB) *SubmissionRepository {
	return &SubmissionRepository{db: db}
}

const submissionColumns = `id, assignment_id, uploader_id, original_filename, file_path, status, ocr_text, error_message, matched_student_id, created_at`

func (r *SubmissionRepository) Create(ctx context.Context, sub *domain.PendingSubmission) error {
	if sub.Status == "" {
		sub.Status = domain.SubmissionUploaded
	}
	if sub.CreatedAt.IsZero() {
		sub.CreatedAt = time.Now().UTC()
	}
	err := r.db.QueryRowContext(ctx, `
INSERT INTO pending_submissions (assignment_id, uploader_id, original_filename, file_path, status, created_at, updated_at)
VALUES ($1,$2,$3,$4,$5,$6,$6)
RETURNING id
`, sub.AssignmentID, sub.UploaderID, sub.OriginalFilename, sub.FilePath, string(sub.Status), sub.CreatedAt).Scan(&sub.ID)
	if err != nil {
		return fmt.Errorf("insert pending submission: %w", err)
	}
	return nil
}

func (r *SubmissionRepository) GetByID(ctx context.Context, id int64) (*domain.PendingSubmission, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+submissionColumns+` FROM pending_submissions WHERE id = $1`, id)
	sub, err := scanSubmission(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.WrapError(domain.ErrNotFound, "get submission", fmt.Errorf("submission %d", id))
		}
		return nil, fmt.Errorf("scan submission: %w", err)
	}
	return &sub, nil
}

func (r *SubmissionRepository) ListByIDs(ctx context.Context, ids []int64) ([]domain.PendingSubmission, error) {
	if len(ids) == 0 {
		return []domain.PendingSubmission{}, nil
	}
	rows, err := r.db.QueryContext(ctx, `SELECT `+submissionColumns+` FROM pending_submissions WHERE id = ANY($1) ORDER BY id`, ids)
	if err != nil {
		return nil, fmt.Errorf("list submissions by ids: %w", err)
	}
	return collectSubmissions(rows)
}

func (r *SubmissionRepository) ListByAssignment(ctx context.Context, assignmentID int64, statuses ...domain.SubmissionStatus) ([]domain.PendingSubmission, error) {
	query := `SELECT ` + submissionColumns + ` FROM pending_submissions WHERE assignment_id = $1`
	args := []any{assignmentID}
	if len(statuses) > 0 {
		names := make([]string, 0, len(statuses))
		for _, s := range statuses {
			names = append(names, string(s))
		}
		query += ` AND status = ANY($2)`
		args = append(args, names)
	}
	query += ` ORDER BY id`

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list submissions by assignment: %w", err)
	}
	return collectSubmissions(rows)
}

func (r *SubmissionRepository) Update(ctx context.Context, id int64, u domain.SubmissionUpdate) error {
	if err := u.Validate(); err != nil {
		return err
	}
	var errMessage *string
	if u.ErrorMessage != nil {
		truncated := domain.TruncateMessage(*u.ErrorMessage)
		errMessage = &truncated
	}
	result, err := r.db.ExecContext(ctx, `
UPDATE pending_submissions
SET status = $3,
	ocr_text = COALESCE($4, ocr_text),
	error_message = COALESCE($5, error_message),
	matched_student_id = COALESCE($6, matched_student_id),
	updated_at = $7
WHERE id = $1 AND status = $2
`, id, string(u.From), string(u.To), optional(u.OCRText), optional(errMessage), optional(u.MatchedStudentID), time.Now().UTC())
	if err != nil {
		return fmt.Errorf("update submission: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("update submission rows affected: %w", err)
	}
	if rows == 0 {
		return r.staleUpdate(ctx, id, u)
	}
	return nil
}

// staleUpdate explains a compare-and-set miss.
func (r *SubmissionRepository) staleUpdate(ctx context.Context, id int64, u domain.SubmissionUpdate) error {
	var current string
	err := r.db.QueryRowContext(ctx, `SELECT status FROM pending_submissions WHERE id = $1`, id).Scan(&current)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.WrapError(domain.ErrNotFound, "update submission", fmt.Errorf("submission %d", id))
	}
	if err != nil {
		return fmt.Errorf("read submission status: %w", err)
	}
	return domain.WrapError(domain.ErrInvalidTransition, "update submission",
		&domain.TransitionError{From: current, To: string(u.To)})
}

func (r *SubmissionRepository) Delete(ctx context.Context, id int64) error {
	result, err := r.db.ExecContext(ctx, `DELETE FROM pending_submissions WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete submission: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete submission rows affected: %w", err)
	}
	if rows == 0 {
		return domain.WrapError(domain.ErrNotFound, "delete submission", fmt.Errorf("submission %d", id))
	}
	return nil
}

func collectSubmissions(rows *sql.Rows) ([]domain.PendingSubmission, error) {
	defer rows.Close()
	out := make([]domain.PendingSubmission, 0)
	for rows.Next() {
		sub, err := scanSubmission(rows)
		if err != nil {
			return nil, fmt.Errorf("scan submission: %w", err)
		}
		out = append(out, sub)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate submissions: %w", err)
	}
	return out, nil
}

func scanSubmission(row rowScanner) (domain.PendingSubmission, error) {
	var (
		sub       domain.PendingSubmission
		status    string
		ocrText   sql.NullString
		errMsg    sql.NullString
		studentID sql.NullInt64
	)
	err := row.Scan(
		&sub.ID,
		&sub.AssignmentID,
		&sub.UploaderID,
		&sub.OriginalFilename,
		&sub.FilePath,
		&status,
		&ocrText,
		&errMsg,
		&studentID,
		&sub.CreatedAt,
	)
	if err != nil {
		return domain.PendingSubmission{}, err
	}
	sub.Status = domain.SubmissionStatus(status)
	sub.OCRText = nullableString(ocrText)
	sub.ErrorMessage = nullableString(errMsg)
	sub.MatchedStudentID = nullableInt64(studentID)
	return sub, nil
}
