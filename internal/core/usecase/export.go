package usecase

import (
	"context"
	"fmt"
	"io"

	"github.com/kirillkom/essay-grading-pipeline/internal/core/domain"
	"github.com/kirillkom/essay-grading-pipeline/internal/core/ports"
)

type ExportUseCase struct {
	essays    ports.EssayRepository
	standards ports.StandardProvider
	writer    ports.GradeSheetWriter
}

func NewExportUseCase(essays ports.EssayRepository, standards ports.StandardProvider, writer ports.GradeSheetWriter) *ExportUseCase {
	return &ExportUseCase{essays: essays, standards: standards, writer: writer}
}

// ExportGradeSheet writes every essay of the assignment. Without a standard
// the sheet only carries totals.
func (uc *ExportUseCase) ExportGradeSheet(ctx context.Context, assignmentID int64, w io.Writer) error {
	rows, err := uc.essays.ListGradeRows(ctx, assignmentID)
	if err != nil {
		return fmt.Errorf("list grade rows: %w", err)
	}
	standard, err := uc.standards.StandardForAssignment(ctx, assignmentID)
	if err != nil {
		if !domain.IsKind(err, domain.ErrNotFound) {
			return fmt.Errorf("load grading standard: %w", err)
		}
		standard = nil
	}
	if err := uc.writer.WriteGradeSheet(w, standard, rows); err != nil {
		return fmt.Errorf("write grade sheet: %w", err)
	}
	return nil
}
