package usecase

import (
	"context"
	"testing"

	"github.com/kirillkom/essay-grading-pipeline/internal/core/domain"
)

func TestSubmissionStatusReportsUnknownIDs(t *testing.T) {
	student := int64(101)
	subs := newSubmissionRepoFake(
		domain.PendingSubmission{ID: 1, Status: domain.SubmissionOCRProcessing},
		domain.PendingSubmission{ID: 2, Status: domain.SubmissionMatchCompleted, MatchedStudentID: &student, OCRText: "text"},
	)
	uc := NewStatusUseCase(subs, newEssayRepoFake(), testRoster(2))

	views, err := uc.SubmissionStatus(context.Background(), []int64{2, 77, 1, 2})
	if err != nil {
		t.Fatalf("SubmissionStatus() error = %v", err)
	}
	if len(views) != 3 {
		t.Fatalf("expected 3 views, got %d", len(views))
	}
	if views[0].ID != 2 || views[0].Progress != 100 || views[0].MatchedStudentName != "学生01" {
		t.Fatalf("unexpected view %+v", views[0])
	}
	if views[1].ID != 77 || views[1].Status != domain.StatusNotFound {
		t.Fatalf("expected not_found for 77, got %+v", views[1])
	}
	if views[2].Status != "ocr_processing" || views[2].Progress != 50 {
		t.Fatalf("unexpected view %+v", views[2])
	}
}

func TestEssayStatusProgress(t *testing.T) {
	score := 88.0
	essays := newEssayRepoFake(
		domain.Essay{ID: 1, Status: domain.EssayGrading},
		domain.Essay{ID: 2, Status: domain.EssayGraded, FinalScore: &score},
		domain.Essay{ID: 3, Status: domain.EssayErrorAPI, ErrorMessage: "AI评分服务API请求失败: 503"},
	)
	uc := NewStatusUseCase(newSubmissionRepoFake(), essays, nil)

	views, err := uc.EssayStatus(context.Background(), []int64{1, 2, 3})
	if err != nil {
		t.Fatalf("EssayStatus() error = %v", err)
	}
	if views[0].Progress != 75 || views[1].Progress != 100 || *views[1].FinalScore != 88 {
		t.Fatalf("unexpected views %+v", views)
	}
	if views[2].ErrorMessage == "" || views[2].Progress != 100 {
		t.Fatalf("expected error details, got %+v", views[2])
	}
	if _, err := uc.EssayStatus(context.Background(), nil); !domain.IsKind(err, domain.ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
}
