package domain

import (
	"errors"
	"math"
	"strings"
	"testing"
)

func TestSubmissionTransitionsAreForwardOnly(t *testing.T) {
	order := []SubmissionStatus{
		SubmissionUploaded,
		SubmissionPreprocessing,
		SubmissionOCRProcessing,
		SubmissionOCRCompleted,
		SubmissionMatching,
		SubmissionMatchCompleted,
	}
	for i, from := range order {
		for j, to := range order {
			got := from.CanTransition(to)
			want := j == i+1
			if got != want {
				t.Fatalf("CanTransition(%s -> %s) = %v, want %v", from, to, got, want)
			}
		}
		wantFail := !from.Terminal()
		if got := from.CanTransition(SubmissionFailed); got != wantFail {
			t.Fatalf("CanTransition(%s -> failed) = %v, want %v", from, got, wantFail)
		}
	}
	if SubmissionFailed.CanTransition(SubmissionUploaded) {
		t.Fatalf("failed must be terminal")
	}
}

func TestEssayErrorStatusNeverReachesGraded(t *testing.T) {
	errs := []EssayStatus{EssayErrorCorrection, EssayErrorAPI, EssayErrorParsing, EssayErrorNoText, EssayErrorNoStandard, EssayErrorUnknown}
	for _, s := range errs {
		if s.CanTransition(EssayGraded) || s.CanTransition(EssayGrading) || s.CanTransition(EssayPending) {
			t.Fatalf("%s must be terminal", s)
		}
		if !EssayCorrecting.CanTransition(s) {
			t.Fatalf("correcting must be able to fail into %s", s)
		}
	}
	if EssayPending.CanTransition(EssayGraded) {
		t.Fatalf("pending must not skip to graded")
	}
}

func TestEssayUpdateValidateRejectsIllegalMove(t *testing.T) {
	err := EssayUpdate{From: EssayGraded, To: EssayGrading}.Validate()
	if !IsKind(err, ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition, got %v", err)
	}
	var te *TransitionError
	if !errors.As(err, &te) || te.From != "graded" {
		t.Fatalf("expected transition details, got %v", err)
	}
}

func TestNormalizeSumsDimensionScores(t *testing.T) {
	std := GradingStandard{
		ID:         1,
		TotalScore: 100,
		Dimensions: []Dimension{
			{Name: "内容", MaxScore: 40, Rubrics: []RubricBand{{LevelName: "优", MinScore: 32, MaxScore: 40}, {LevelName: "良", MinScore: 20, MaxScore: 32}}},
			{Name: "结构", MaxScore: 20},
			{Name: "语言", MaxScore: 20},
			{Name: "书写", MaxScore: 20},
		},
	}
	got, err := std.Normalize(GradingResult{
		TotalScore: 99,
		Dimensions: []DimensionResult{
			{DimensionName: "内容", Score: 32, SelectedRubricLevel: "良"},
			{DimensionName: "结构", Score: 17.5},
			{DimensionName: " 语言 ", Score: 25},
			{DimensionName: "书写", Score: -3},
		},
	})
	if err != nil {
		t.Fatalf("Normalize() error = %v", err)
	}
	if math.Abs(got.TotalScore-69.5) > 1e-9 {
		t.Fatalf("expected total 69.5, got %v", got.TotalScore)
	}
	sum := 0.0
	for _, d := range got.Dimensions {
		sum += d.Score
	}
	if math.Abs(sum-got.TotalScore) > 1e-9 {
		t.Fatalf("dimension sum %v != total %v", sum, got.TotalScore)
	}
	if got.Dimensions[0].SelectedRubricLevel != "优" {
		t.Fatalf("expected boundary score to select the higher band, got %q", got.Dimensions[0].SelectedRubricLevel)
	}
	if got.Strengths == nil || got.Improvements == nil {
		t.Fatalf("expected non-nil lists")
	}
}

func TestNormalizeRejectsMissingDimension(t *testing.T) {
	std := GradingStandard{Dimensions: []Dimension{{Name: "内容", MaxScore: 40}, {Name: "结构", MaxScore: 20}}}
	_, err := std.Normalize(GradingResult{Dimensions: []DimensionResult{{DimensionName: "内容", Score: 10}}})
	if err == nil || !strings.Contains(err.Error(), "结构") {
		t.Fatalf("expected missing dimension error, got %v", err)
	}
}

func TestSelectBandFallsBackToNearest(t *testing.T) {
	dim := Dimension{Rubrics: []RubricBand{{LevelName: "A", MinScore: 16, MaxScore: 20}, {LevelName: "C", MinScore: 0, MaxScore: 10}}}
	band, ok := dim.SelectBand(12)
	if !ok || band.LevelName != "C" {
		t.Fatalf("expected nearest band C, got %+v", band)
	}
}

func TestRosterResolve(t *testing.T) {
	roster := NewRoster([]RosterEntry{
		{StudentID: 1, Name: "张三", StudentNumber: "01"},
		{StudentID: 2, Name: "李四", StudentNumber: "02"},
		{StudentID: 3, Name: "李四", StudentNumber: "03"},
		{StudentID: 1, Name: "张三"},
	})
	if roster.Len() != 3 {
		t.Fatalf("expected 3 unique students, got %d", roster.Len())
	}
	if e, outcome := roster.Resolve(" 张三 "); outcome != ResolveMatched || e.StudentID != 1 {
		t.Fatalf("expected 张三 to resolve, got %+v %v", e, outcome)
	}
	if _, outcome := roster.Resolve("李四"); outcome != ResolveAmbiguous {
		t.Fatalf("expected ambiguous, got %v", outcome)
	}
	if e, outcome := roster.Resolve("李四 (学号: 03)"); outcome != ResolveMatched || e.StudentID != 3 {
		t.Fatalf("expected number to disambiguate, got %+v %v", e, outcome)
	}
	if _, outcome := roster.Resolve("王五"); outcome != ResolveUnknown {
		t.Fatalf("expected unknown, got %v", outcome)
	}
}

func TestRosterSharedStudentNumberIsAmbiguous(t *testing.T) {
	roster := NewRoster([]RosterEntry{
		{StudentID: 1, Name: "张三", StudentNumber: "07"},
		{StudentID: 2, Name: "赵六", StudentNumber: "07"},
		{StudentID: 3, Name: "张三", StudentNumber: "07"},
	})
	if _, outcome := roster.Resolve("张三 (学号: 07)"); outcome != ResolveAmbiguous {
		t.Fatalf("expected shared number and name to be ambiguous, got %v", outcome)
	}
	if e, outcome := roster.Resolve("赵六（学号：07）"); outcome != ResolveMatched || e.StudentID != 2 {
		t.Fatalf("expected name to narrow a shared number, got %+v %v", e, outcome)
	}
	if _, outcome := roster.Resolve("王五 (学号: 07)"); outcome != ResolveUnknown {
		t.Fatalf("expected unknown name under a shared number, got %v", outcome)
	}
}

func TestRosterHasDuplicateNames(t *testing.T) {
	unique := NewRoster([]RosterEntry{{StudentID: 1, Name: "张三"}, {StudentID: 2, Name: "李四"}})
	if unique.HasDuplicateNames() {
		t.Fatalf("expected no duplicate names")
	}
	shared := NewRoster([]RosterEntry{{StudentID: 1, Name: "李四"}, {StudentID: 2, Name: "李四"}})
	if !shared.HasDuplicateNames() {
		t.Fatalf("expected duplicate names")
	}
}

func TestTruncateMessageCountsRunes(t *testing.T) {
	long := strings.Repeat("错", 600)
	got := TruncateMessage(long)
	if n := len([]rune(got)); n != MaxErrorMessageRunes {
		t.Fatalf("expected %d runes, got %d", MaxErrorMessageRunes, n)
	}
	if TruncateMessage("short") != "short" {
		t.Fatalf("short messages must be unchanged")
	}
}
