package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
)

func OpenDB(dsn string) (*sql.DB, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("sql open: %w", err)
	}
	db.SetMaxOpenConns(20)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(30 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("db ping: %w", err)
	}
	return db, nil
}

func EnsureSchema(ctx context.Context, db *sql.DB) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin schema tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	// Serialize bootstrap DDL across api/worker startups.
	if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock($1)`, int64(2026101501)); err != nil {
		return fmt.Errorf("acquire schema lock: %w", err)
	}

	if _, err := tx.ExecContext(ctx, schemaDDL); err != nil {
		return fmt.Errorf("execute schema ddl: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit schema tx: %w", err)
	}
	return nil
}

const schemaDDL = `
CREATE TABLE IF NOT EXISTS students (
	id BIGSERIAL PRIMARY KEY,
	full_name TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS classrooms (
	id BIGSERIAL PRIMARY KEY,
	name TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS enrollments (
	id BIGSERIAL PRIMARY KEY,
	classroom_id BIGINT NOT NULL REFERENCES classrooms(id) ON DELETE CASCADE,
	student_id BIGINT NOT NULL REFERENCES students(id) ON DELETE CASCADE,
	student_number TEXT,
	status TEXT NOT NULL DEFAULT 'active'
);

CREATE TABLE IF NOT EXISTS grade_levels (
	id BIGSERIAL PRIMARY KEY,
	name TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS prompt_styles (
	id BIGSERIAL PRIMARY KEY,
	name TEXT NOT NULL,
	style_instructions TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS grade_level_prompt_styles (
	grade_level_id BIGINT NOT NULL REFERENCES grade_levels(id) ON DELETE CASCADE,
	prompt_style_id BIGINT NOT NULL REFERENCES prompt_styles(id) ON DELETE CASCADE,
	is_default BOOLEAN NOT NULL DEFAULT FALSE,
	PRIMARY KEY (grade_level_id, prompt_style_id)
);

CREATE TABLE IF NOT EXISTS grading_standards (
	id BIGSERIAL PRIMARY KEY,
	title TEXT NOT NULL,
	total_score DOUBLE PRECISION NOT NULL,
	grade_level_id BIGINT REFERENCES grade_levels(id)
);

CREATE TABLE IF NOT EXISTS dimensions (
	id BIGSERIAL PRIMARY KEY,
	standard_id BIGINT NOT NULL REFERENCES grading_standards(id) ON DELETE CASCADE,
	name TEXT NOT NULL,
	max_score DOUBLE PRECISION NOT NULL,
	position INT NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS rubrics (
	id BIGSERIAL PRIMARY KEY,
	dimension_id BIGINT NOT NULL REFERENCES dimensions(id) ON DELETE CASCADE,
	level_name TEXT NOT NULL,
	description TEXT NOT NULL DEFAULT '',
	min_score DOUBLE PRECISION NOT NULL,
	max_score DOUBLE PRECISION NOT NULL
);

CREATE TABLE IF NOT EXISTS assignments (
	id BIGSERIAL PRIMARY KEY,
	title TEXT NOT NULL,
	grading_standard_id BIGINT REFERENCES grading_standards(id),
	prompt_style_id BIGINT REFERENCES prompt_styles(id)
);

CREATE TABLE IF NOT EXISTS assignment_classrooms (
	assignment_id BIGINT NOT NULL REFERENCES assignments(id) ON DELETE CASCADE,
	classroom_id BIGINT NOT NULL REFERENCES classrooms(id) ON DELETE CASCADE,
	PRIMARY KEY (assignment_id, classroom_id)
);

CREATE TABLE IF NOT EXISTS assignment_students (
	assignment_id BIGINT NOT NULL REFERENCES assignments(id) ON DELETE CASCADE,
	student_id BIGINT NOT NULL REFERENCES students(id) ON DELETE CASCADE,
	PRIMARY KEY (assignment_id, student_id)
);

CREATE TABLE IF NOT EXISTS pending_submissions (
	id BIGSERIAL PRIMARY KEY,
	assignment_id BIGINT NOT NULL REFERENCES assignments(id) ON DELETE CASCADE,
	uploader_id BIGINT NOT NULL,
	original_filename TEXT NOT NULL,
	file_path TEXT NOT NULL,
	status TEXT NOT NULL,
	ocr_text TEXT,
	error_message TEXT,
	matched_student_id BIGINT REFERENCES students(id),
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_pending_submissions_assignment_status ON pending_submissions(assignment_id, status);

CREATE TABLE IF NOT EXISTS essays (
	id BIGSERIAL PRIMARY KEY,
	assignment_id BIGINT NOT NULL REFERENCES assignments(id) ON DELETE CASCADE,
	enrollment_id BIGINT NOT NULL REFERENCES enrollments(id),
	grading_standard_id BIGINT REFERENCES grading_standards(id),
	content TEXT NOT NULL DEFAULT '',
	original_ocr_text TEXT,
	is_from_ocr BOOLEAN NOT NULL DEFAULT FALSE,
	original_image_path TEXT,
	status TEXT NOT NULL,
	ai_score JSONB,
	final_score DOUBLE PRECISION,
	error_message TEXT,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_essays_assignment_status ON essays(assignment_id, status);

CREATE TABLE IF NOT EXISTS pipeline_tasks (
	id TEXT PRIMARY KEY,
	name TEXT NOT NULL,
	state TEXT NOT NULL,
	error TEXT NOT NULL DEFAULT '',
	created_at TIMESTAMPTZ NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL
);
`

// optional turns a nil pointer into SQL NULL.
func optional[T any](p *T) any {
	if p == nil {
		return nil
	}
	return *p
}

func nullableString(s sql.NullString) string {
	if !s.Valid {
		return ""
	}
	return s.String
}

func nullableInt64(n sql.NullInt64) *int64 {
	if !n.Valid {
		return nil
	}
	v := n.Int64
	return &v
}

func nullableFloat64(n sql.NullFloat64) *float64 {
	if !n.Valid {
		return nil
	}
	v := n.Float64
	return &v
}

type rowScanner interface {
	Scan(dest ...any) error
}
