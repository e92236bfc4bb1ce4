package xlsx

import (
	"fmt"
	"io"

	"github.com/xuri/excelize/v2"

	"github.com/kirillkom/essay-grading-pipeline/internal/core/domain"
)

const sheetName = "成绩"

// Writer renders assignment grade sheets.
type Writer struct{}

func NewWriter() *Writer {
	return &Writer{}
}

// WriteGradeSheet writes one row per essay with a column per standard
// dimension. Essays that are not graded keep empty score cells and their status.
func (w *Writer) WriteGradeSheet(out io.Writer, standard *domain.GradingStandard, rows []domain.GradeRow) error {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", sheetName); err != nil {
		return fmt.Errorf("rename sheet: %w", err)
	}

	header := []any{"学生", "学号"}
	var dims []domain.Dimension
	if standard != nil {
		dims = standard.Dimensions
	}
	for _, dim := range dims {
		header = append(header, fmt.Sprintf("%s (%s)", dim.Name, formatMax(dim.MaxScore)))
	}
	header = append(header, "总分", "状态")
	if err := f.SetSheetRow(sheetName, "A1", &header); err != nil {
		return fmt.Errorf("write header: %w", err)
	}

	for i, row := range rows {
		values := []any{row.StudentName, row.StudentNumber}
		scores := dimensionScores(row.Result)
		for _, dim := range dims {
			if score, ok := scores[dim.Name]; ok {
				values = append(values, score)
			} else {
				values = append(values, nil)
			}
		}
		if row.FinalScore != nil {
			values = append(values, *row.FinalScore)
		} else {
			values = append(values, nil)
		}
		values = append(values, string(row.Status))

		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return fmt.Errorf("row %d: %w", i+2, err)
		}
		if err := f.SetSheetRow(sheetName, cell, &values); err != nil {
			return fmt.Errorf("write row %d: %w", i+2, err)
		}
	}

	if err := f.SetPanes(sheetName, &excelize.Panes{Freeze: true, YSplit: 1, TopLeftCell: "A2", ActivePane: "bottomLeft"}); err != nil {
		return fmt.Errorf("freeze header: %w", err)
	}

	if _, err := f.WriteTo(out); err != nil {
		return fmt.Errorf("write workbook: %w", err)
	}
	return nil
}

func dimensionScores(result *domain.GradingResult) map[string]float64 {
	out := map[string]float64{}
	if result == nil {
		return out
	}
	for _, d := range result.Dimensions {
		out[d.DimensionName] = d.Score
	}
	return out
}

func formatMax(v float64) string {
	if v == float64(int64(v)) {
		return fmt.Sprintf("%d", int64(v))
	}
	return fmt.Sprintf("%g", v)
}
