package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/kirillkom/essay-grading-pipeline/internal/core/domain"
)

// RosterRepository resolves assignment rosters from classrooms and direct assignees.
type RosterRepository struct {
	db *sql.DB
}

func NewRosterRepository(db *sql.DB) *RosterRepository {
	return &RosterRepository{db: db}
}

func (r *RosterRepository) RosterForAssignment(ctx context.Context, assignmentID int64) ([]domain.RosterEntry, error) {
	var exists bool
	err := r.db.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM assignments WHERE id = $1)`, assignmentID).Scan(&exists)
	if err != nil {
		return nil, fmt.Errorf("check assignment: %w", err)
	}
	if !exists {
		return nil, domain.WrapError(domain.ErrNotFound, "roster for assignment", fmt.Errorf("assignment %d", assignmentID))
	}

	rows, err := r.db.QueryContext(ctx, `
SELECT s.id, s.full_name, COALESCE(en.student_number, '')
FROM assignment_classrooms ac
JOIN enrollments en ON en.classroom_id = ac.classroom_id AND en.status = 'active'
JOIN students s ON s.id = en.student_id
WHERE ac.assignment_id = $1
UNION ALL
SELECT s.id, s.full_name, ''
FROM assignment_students ast
JOIN students s ON s.id = ast.student_id
WHERE ast.assignment_id = $1
`, assignmentID)
	if err != nil {
		return nil, fmt.Errorf("query roster: %w", err)
	}
	defer rows.Close()

	out := make([]domain.RosterEntry, 0)
	for rows.Next() {
		var entry domain.RosterEntry
		if err := rows.Scan(&entry.StudentID, &entry.Name, &entry.StudentNumber); err != nil {
			return nil, fmt.Errorf("scan roster entry: %w", err)
		}
		out = append(out, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate roster: %w", err)
	}
	return out, nil
}

// ActiveEnrollment prefers an enrollment in one of the assignment's
// classrooms and falls back to any active enrollment of the student.
func (r *RosterRepository) ActiveEnrollment(ctx context.Context, assignmentID, studentID int64) (int64, error) {
	var enrollmentID int64
	err := r.db.QueryRowContext(ctx, `
SELECT en.id
FROM enrollments en
LEFT JOIN assignment_classrooms ac ON ac.classroom_id = en.classroom_id AND ac.assignment_id = $1
WHERE en.student_id = $2 AND en.status = 'active'
ORDER BY (ac.assignment_id IS NULL), en.id
LIMIT 1
`, assignmentID, studentID).Scan(&enrollmentID)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, domain.WrapError(domain.ErrNotFound, "active enrollment",
			fmt.Errorf("student %d has no active enrollment", studentID))
	}
	if err != nil {
		return 0, fmt.Errorf("query enrollment: %w", err)
	}
	return enrollmentID, nil
}

func (r *RosterRepository) StudentNames(ctx context.Context, studentIDs []int64) (map[int64]string, error) {
	out := make(map[int64]string, len(studentIDs))
	if len(studentIDs) == 0 {
		return out, nil
	}
	rows, err := r.db.QueryContext(ctx, `SELECT id, full_name FROM students WHERE id = ANY($1)`, studentIDs)
	if err != nil {
		return nil, fmt.Errorf("query student names: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var (
			id   int64
			name string
		)
		if err := rows.Scan(&id, &name); err != nil {
			return nil, fmt.Errorf("scan student name: %w", err)
		}
		out[id] = name
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate student names: %w", err)
	}
	return out, nil
}
