package ai

import (
	"context"
	"errors"
	"math"
	"strings"
	"testing"

	"github.com/kirillkom/essay-grading-pipeline/internal/core/domain"
	"github.com/kirillkom/essay-grading-pipeline/internal/core/ports"
	"github.com/kirillkom/essay-grading-pipeline/internal/infrastructure/llm"
)

type fakeCaller struct {
	out      string
	err      error
	requests []llm.Request
}

func (f *fakeCaller) Call(_ context.Context, req llm.Request) (string, error) {
	f.requests = append(f.requests, req)
	return f.out, f.err
}

func TestCorrectorSkipsBlankInput(t *testing.T) {
	caller := &fakeCaller{out: "unused"}
	out, err := NewCorrector(caller).Correct(context.Background(), "  \n ")
	if err != nil {
		t.Fatalf("Correct() error = %v", err)
	}
	if out != "" || len(caller.requests) != 0 {
		t.Fatalf("expected empty result without a call, got %q with %d calls", out, len(caller.requests))
	}
}

func TestCorrectorUsesPlainTextSettings(t *testing.T) {
	caller := &fakeCaller{out: "```\n我昨天看了一本书。\n```"}
	out, err := NewCorrector(caller).Correct(context.Background(), "王小明\n俄昨天看3一本书")
	if err != nil {
		t.Fatalf("Correct() error = %v", err)
	}
	if out != "我昨天看了一本书。" {
		t.Fatalf("unexpected correction %q", out)
	}
	req := caller.requests[0]
	if req.RequireJSON || req.MaxRetries != 2 || req.Temperature != 0.2 {
		t.Fatalf("unexpected request settings %+v", req)
	}
	if !strings.Contains(req.Prompt, "俄昨天看3一本书") {
		t.Fatalf("prompt must carry the OCR text")
	}
}

func TestCorrectorPropagatesConnectionError(t *testing.T) {
	caller := &fakeCaller{err: domain.WrapError(domain.ErrLLMConnection, "llm call", errors.New("down"))}
	_, err := NewCorrector(caller).Correct(context.Background(), "text")
	if !errors.Is(err, domain.ErrLLMConnection) {
		t.Fatalf("expected ErrLLMConnection, got %v", err)
	}
}

func TestMatcherReturnsNamesAndNulls(t *testing.T) {
	caller := &fakeCaller{out: `{"a.jpg": "张三", "b.jpg": null, "c.jpg": "  "}`}
	items := []domain.MatchCandidate{
		{Filename: "a.jpg", OCRText: "张三 作文"},
		{Filename: "b.jpg", OCRText: "???"},
		{Filename: "c.jpg", OCRText: "..."},
		{Filename: "d.jpg", OCRText: "missing"},
	}
	roster := []domain.RosterEntry{{StudentID: 1, Name: "张三", StudentNumber: "202301"}, {StudentID: 2, Name: "李四"}}

	got, err := NewMatcher(caller).MatchChunk(context.Background(), items, roster)
	if err != nil {
		t.Fatalf("MatchChunk() error = %v", err)
	}
	if got["a.jpg"] == nil || *got["a.jpg"] != "张三" {
		t.Fatalf("expected a.jpg matched to 张三, got %v", got["a.jpg"])
	}
	for _, name := range []string{"b.jpg", "c.jpg", "d.jpg"} {
		if v, ok := got[name]; !ok || v != nil {
			t.Fatalf("expected nil entry for %s, got %v (present=%v)", name, v, ok)
		}
	}
	req := caller.requests[0]
	if !req.RequireJSON || req.Temperature != 0.1 {
		t.Fatalf("unexpected request settings %+v", req)
	}
	if !strings.Contains(req.Prompt, "张三 (学号: 202301)") || !strings.Contains(req.Prompt, `"李四"`) {
		t.Fatalf("prompt must list roster labels: %s", req.Prompt)
	}
}

func TestMatchPromptAsksForNumbersWhenNamesRepeat(t *testing.T) {
	items := []domain.MatchCandidate{{Filename: "a.jpg", OCRText: "李四 202302"}}

	plain, err := buildMatchPrompt(items, []domain.RosterEntry{
		{StudentID: 1, Name: "张三", StudentNumber: "202301"},
		{StudentID: 2, Name: "李四", StudentNumber: "202302"},
	})
	if err != nil {
		t.Fatalf("buildMatchPrompt() error = %v", err)
	}
	if !strings.Contains(plain, "不含学号") {
		t.Fatalf("unique names should ask for the bare name:\n%s", plain)
	}

	repeated, err := buildMatchPrompt(items, []domain.RosterEntry{
		{StudentID: 2, Name: "李四", StudentNumber: "202302"},
		{StudentID: 3, Name: "李四", StudentNumber: "202303"},
	})
	if err != nil {
		t.Fatalf("buildMatchPrompt() error = %v", err)
	}
	if strings.Contains(repeated, "不含学号") || !strings.Contains(repeated, "姓名 (学号: 学号)") {
		t.Fatalf("repeated names should ask for the full roster line:\n%s", repeated)
	}

	// The requested format is what Roster.Resolve parses.
	e, outcome := domain.NewRoster([]domain.RosterEntry{
		{StudentID: 2, Name: "李四", StudentNumber: "202302"},
		{StudentID: 3, Name: "李四", StudentNumber: "202303"},
	}).Resolve("李四 (学号: 202303)")
	if outcome != domain.ResolveMatched || e.StudentID != 3 {
		t.Fatalf("expected roster line to resolve to student 3, got %+v %v", e, outcome)
	}
}

func TestMatcherRejectsEmptyRoster(t *testing.T) {
	caller := &fakeCaller{}
	_, err := NewMatcher(caller).MatchChunk(context.Background(), []domain.MatchCandidate{{Filename: "a.jpg"}}, nil)
	if !errors.Is(err, domain.ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
	if len(caller.requests) != 0 {
		t.Fatalf("no model call expected")
	}
}

func hundredPointStandard() domain.GradingStandard {
	band := func(name string, lo, hi float64) domain.RubricBand {
		return domain.RubricBand{LevelName: name, MinScore: lo, MaxScore: hi, Description: name + " band"}
	}
	return domain.GradingStandard{
		ID:         7,
		Title:      "我的家乡",
		TotalScore: 100,
		Dimensions: []domain.Dimension{
			{Name: "内容", MaxScore: 40, Rubrics: []domain.RubricBand{band("C", 0, 23), band("A", 32, 40), band("B", 24, 31)}},
			{Name: "结构", MaxScore: 20, Rubrics: []domain.RubricBand{band("A", 16, 20), band("B", 0, 15)}},
			{Name: "语言", MaxScore: 20, Rubrics: []domain.RubricBand{band("A", 16, 20), band("B", 0, 15)}},
			{Name: "书写", MaxScore: 20, Rubrics: []domain.RubricBand{band("A", 16, 20), band("B", 0, 15)}},
		},
	}
}

func TestGraderSumsDimensionScores(t *testing.T) {
	caller := &fakeCaller{out: `{
		"total_score": 99,
		"overall_comment": "不错",
		"strengths": ["立意清楚"],
		"improvements": [],
		"dimensions": [
			{"dimension_name": "内容", "score": 33.5, "selected_rubric_level": "B", "feedback": "f"},
			{"dimension_name": "结构", "score": "17", "selected_rubric_level": "A", "feedback": "f"},
			{"dimension_name": "语言", "score": 25, "selected_rubric_level": "A", "feedback": "f"},
			{"dimension_name": "书写", "score": 12, "selected_rubric_level": "A", "feedback": "f",
			 "example_improvement_suggestion": {"original": "", "suggested": ""}}
		]
	}`}
	result, err := NewGrader(caller).Grade(context.Background(), ports.GradeRequest{
		Text:     "作文正文",
		Standard: hundredPointStandard(),
	})
	if err != nil {
		t.Fatalf("Grade() error = %v", err)
	}
	sum := 0.0
	for _, d := range result.Dimensions {
		sum += d.Score
	}
	if math.Abs(sum-result.TotalScore) > 1e-9 {
		t.Fatalf("total %v does not equal dimension sum %v", result.TotalScore, sum)
	}
	if math.Abs(result.TotalScore-82.5) > 1e-9 {
		t.Fatalf("expected clamped total 82.5, got %v", result.TotalScore)
	}
	if result.Dimensions[0].SelectedRubricLevel != "A" || result.Dimensions[3].SelectedRubricLevel != "B" {
		t.Fatalf("rubric levels must follow scores: %+v", result.Dimensions)
	}
	if result.Dimensions[3].ExampleImprovementSuggestion != nil {
		t.Fatalf("empty improvement suggestion should be dropped")
	}
	if req := caller.requests[0]; !req.RequireJSON || req.Temperature != 0.5 {
		t.Fatalf("unexpected request settings %+v", req)
	}
}

func TestGraderReportsMalformedResults(t *testing.T) {
	cases := map[string]string{
		"missing dimension": `{"dimensions": [{"dimension_name": "内容", "score": 30}]}`,
		"bad score":         `{"dimensions": [{"dimension_name": "内容", "score": "high"}]}`,
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := NewGrader(&fakeCaller{out: body}).Grade(context.Background(), ports.GradeRequest{
				Text:     "正文",
				Standard: hundredPointStandard(),
			})
			if !errors.Is(err, domain.ErrMalformedResult) {
				t.Fatalf("expected ErrMalformedResult, got %v", err)
			}
			if errors.Is(err, domain.ErrLLMConnection) {
				t.Fatalf("parse failures must not look like connection errors")
			}
		})
	}
}

func TestBuildGradingPromptSections(t *testing.T) {
	prompt := BuildGradingPrompt(ports.GradeRequest{Text: "正文", Standard: hundredPointStandard(), IsFromOCR: true})
	if !strings.HasPrefix(prompt, DefaultPromptStyle) {
		t.Fatalf("fallback style expected at the start")
	}
	if !strings.Contains(prompt, "OCR识别") {
		t.Fatalf("OCR note expected for OCR essays")
	}
	first := strings.Index(prompt, "A (32~40分)")
	second := strings.Index(prompt, "B (24~31分)")
	third := strings.Index(prompt, "C (0~23分)")
	if first < 0 || second < first || third < second {
		t.Fatalf("bands must be listed highest first:\n%s", prompt)
	}

	styled := BuildGradingPrompt(ports.GradeRequest{Text: "正文", Standard: hundredPointStandard(), PromptStyle: "请温和地点评。"})
	if !strings.HasPrefix(styled, "请温和地点评。") || strings.Contains(styled, "OCR识别") {
		t.Fatalf("custom style without OCR note expected")
	}
}
