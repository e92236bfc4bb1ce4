package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/kirillkom/essay-grading-pipeline/internal/core/domain"
)

// StandardRepository loads grading standards and prompt styles.
type StandardRepository struct {
	db *sql.DB
}

func NewStandardRepository(db *sql.DB) *StandardRepository {
	return &StandardRepository{db: db}
}

func (r *StandardRepository) StandardForAssignment(ctx context.Context, assignmentID int64) (*domain.GradingStandard, error) {
	row := r.db.QueryRowContext(ctx, `
SELECT gs.id, gs.title, gs.total_score, gs.grade_level_id
FROM assignments a
JOIN grading_standards gs ON gs.id = a.grading_standard_id
WHERE a.id = $1
`, assignmentID)
	return r.load(ctx, row, fmt.Sprintf("assignment %d has no grading standard", assignmentID))
}

func (r *StandardRepository) StandardByID(ctx context.Context, standardID int64) (*domain.GradingStandard, error) {
	row := r.db.QueryRowContext(ctx, `
SELECT id, title, total_score, grade_level_id
FROM grading_standards
WHERE id = $1
`, standardID)
	return r.load(ctx, row, fmt.Sprintf("grading standard %d", standardID))
}

func (r *StandardRepository) load(ctx context.Context, row *sql.Row, missing string) (*domain.GradingStandard, error) {
	var (
		standard   domain.GradingStandard
		gradeLevel sql.NullInt64
	)
	if err := row.Scan(&standard.ID, &standard.Title, &standard.TotalScore, &gradeLevel); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.WrapError(domain.ErrNotFound, "load grading standard", errors.New(missing))
		}
		return nil, fmt.Errorf("scan grading standard: %w", err)
	}
	standard.GradeLevelID = nullableInt64(gradeLevel)

	rows, err := r.db.QueryContext(ctx, `
SELECT d.id, d.name, d.max_score, r.level_name, r.description, r.min_score, r.max_score
FROM dimensions d
LEFT JOIN rubrics r ON r.dimension_id = d.id
WHERE d.standard_id = $1
ORDER BY d.position, d.id, r.max_score DESC
`, standard.ID)
	if err != nil {
		return nil, fmt.Errorf("query dimensions: %w", err)
	}
	defer rows.Close()

	index := make(map[int64]int)
	for rows.Next() {
		var (
			dim         domain.Dimension
			level       sql.NullString
			description sql.NullString
			minScore    sql.NullFloat64
			maxScore    sql.NullFloat64
		)
		if err := rows.Scan(&dim.ID, &dim.Name, &dim.MaxScore, &level, &description, &minScore, &maxScore); err != nil {
			return nil, fmt.Errorf("scan dimension: %w", err)
		}
		i, ok := index[dim.ID]
		if !ok {
			i = len(standard.Dimensions)
			index[dim.ID] = i
			standard.Dimensions = append(standard.Dimensions, dim)
		}
		if level.Valid {
			standard.Dimensions[i].Rubrics = append(standard.Dimensions[i].Rubrics, domain.RubricBand{
				LevelName:   level.String,
				Description: nullableString(description),
				MinScore:    minScore.Float64,
				MaxScore:    maxScore.Float64,
			})
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate dimensions: %w", err)
	}
	return &standard, nil
}

// PromptStyle resolves the assignment's own style first, then the default
// style of the standard's grade level.
func (r *StandardRepository) PromptStyle(ctx context.Context, assignmentID int64) (string, error) {
	var style string
	err := r.db.QueryRowContext(ctx, `
SELECT COALESCE(
	(SELECT ps.style_instructions
	 FROM assignments a
	 JOIN prompt_styles ps ON ps.id = a.prompt_style_id
	 WHERE a.id = $1),
	(SELECT ps.style_instructions
	 FROM assignments a
	 JOIN grading_standards gs ON gs.id = a.grading_standard_id
	 JOIN grade_level_prompt_styles gl ON gl.grade_level_id = gs.grade_level_id AND gl.is_default
	 JOIN prompt_styles ps ON ps.id = gl.prompt_style_id
	 WHERE a.id = $1
	 LIMIT 1),
	''
)
`, assignmentID).Scan(&style)
	if err != nil {
		return "", fmt.Errorf("resolve prompt style: %w", err)
	}
	return style, nil
}
