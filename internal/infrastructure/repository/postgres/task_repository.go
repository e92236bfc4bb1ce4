package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/kirillkom/essay-grading-pipeline/internal/core/domain"
)

// TaskRepository keeps background task status in Postgres so api and
// worker processes share it without a cache.
type TaskRepository struct {
	db *sql.DB
}

func NewTaskRepository(db *sql.DB) *TaskRepository {
	return &TaskRepository{db: db}
}

func (r *TaskRepository) Put(ctx context.Context, task domain.Task) error {
	_, err := r.db.ExecContext(ctx, `
INSERT INTO pipeline_tasks (id, name, state, error, created_at, updated_at)
VALUES ($1,$2,$3,$4,$5,$6)
ON CONFLICT (id) DO UPDATE
SET state = EXCLUDED.state, error = EXCLUDED.error, updated_at = EXCLUDED.updated_at
`, task.ID, task.Name, string(task.State), task.Error, task.CreatedAt, task.UpdatedAt)
	if err != nil {
		return fmt.Errorf("put task: %w", err)
	}
	return nil
}

func (r *TaskRepository) Get(ctx context.Context, id string) (*domain.Task, error) {
	row := r.db.QueryRowContext(ctx, `
SELECT id, name, state, error, created_at, updated_at
FROM pipeline_tasks
WHERE id = $1
`, id)

	task, err := scanTask(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.WrapError(domain.ErrNotFound, "get task", fmt.Errorf("task %s", id))
		}
		return nil, fmt.Errorf("get task by id: %w", err)
	}
	return &task, nil
}

func scanTask(row rowScanner) (domain.Task, error) {
	var task domain.Task
	var state string
	err := row.Scan(
		&task.ID,
		&task.Name,
		&state,
		&task.Error,
		&task.CreatedAt,
		&task.UpdatedAt,
	)
	if err != nil {
		return domain.Task{}, err
	}
	task.State = domain.TaskState(state)
	return task, nil
}
