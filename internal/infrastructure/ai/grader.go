package ai

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/kirillkom/essay-grading-pipeline/internal/core/domain"
	"github.com/kirillkom/essay-grading-pipeline/internal/core/ports"
)

// DefaultPromptStyle is used when neither the assignment nor its grade level sets one.
const DefaultPromptStyle = "请你扮演一位专业、细致、严格的语文老师。"

const ocrToleranceNote = `---
【重要：这篇作文来自OCR识别，请宽容识别错误】
1. 不要因形近字混淆（如“己/已/巳”“日/曰”“末/未”）、中英文标点混用、异常换行与空格、文字粘连或拆分（如“好”被拆成“女子”）、少量漏字而扣分。
2. 评分聚焦思想内容、结构安排、语言表达和创意特色；能从上下文推断原意时，按推断出的正确含义评价。
3. 确实因识别问题无法理解的句子，可以在评语中说明，但除非影响整段理解，不要据此作负面评价。
---`

const gradingSchema = `{
  "total_score": <number: 各维度得分之和>,
  "overall_comment": "<string: 综合评价与鼓励，可使用Markdown>",
  "strengths": ["<string: 全文层面的优点>"],
  "improvements": ["<string: 全文层面的改进建议>"],
  "dimensions": [
    {
      "dimension_name": "<string: 维度名称，与评分标准一致>",
      "score": <number: 该维度得分>,
      "selected_rubric_level": "<string: 得分所在的等级名称>",
      "feedback": "<string: 结合原文说明得分理由，可使用Markdown>",
      "example_good_sentence": "<string: 体现该维度优点的原句，没有则为空字符串>",
      "example_improvement_suggestion": {
        "original": "<string: 有待改进的原句>",
        "suggested": "<string: 修改示范>"
      }
    }
  ]
}`

// Grader scores essays against a structured standard.
type Grader struct {
	caller Caller
}

func NewGrader(caller Caller) *Grader {
	return &Grader{caller: caller}
}

// Grade returns a result normalized against req.Standard: per-dimension
// scores are clamped and the total is their sum.
func (g *Grader) Grade(ctx context.Context, req ports.GradeRequest) (domain.GradingResult, error) {
	if strings.TrimSpace(req.Text) == "" {
		return domain.GradingResult{}, domain.WrapError(domain.ErrInvalidInput, "grade essay", fmt.Errorf("essay text is empty"))
	}
	prompt := BuildGradingPrompt(req)
	out, err := g.caller.Call(ctx, graderSettings.request(prompt, true))
	if err != nil {
		return domain.GradingResult{}, err
	}

	var raw rawGradingResult
	if err := json.Unmarshal([]byte(out), &raw); err != nil {
		return domain.GradingResult{}, domain.WrapError(domain.ErrMalformedResult, "grade essay", err)
	}
	result, err := req.Standard.Normalize(raw.toDomain())
	if err != nil {
		return domain.GradingResult{}, domain.WrapError(domain.ErrMalformedResult, "grade essay", err)
	}
	return result, nil
}

// BuildGradingPrompt renders the full grading instruction for one essay.
func BuildGradingPrompt(req ports.GradeRequest) string {
	style := strings.TrimSpace(req.PromptStyle)
	if style == "" {
		style = DefaultPromptStyle
	}

	var b strings.Builder
	b.WriteString(style)
	b.WriteString("\n\n你的任务是依据下面的【评分标准详情】，对【学生作文】进行打分和评价。\n\n")
	b.WriteString("【输出要求】\n你的回答必须且只能是一个符合【JSON输出格式】的完整JSON对象，JSON之外不要有任何文字。\n")
	if req.IsFromOCR {
		b.WriteString("\n")
		b.WriteString(ocrToleranceNote)
		b.WriteString("\n")
	}
	b.WriteString("\n---\n【学生作文】\n\n")
	b.WriteString(strings.TrimSpace(req.Text))
	b.WriteString("\n\n---\n【评分标准详情】\n\n")
	b.WriteString(FormatStandard(req.Standard))
	b.WriteString("\n---\n【JSON输出格式】\n\n")
	b.WriteString(gradingSchema)
	return b.String()
}

// FormatStandard lists dimensions in order with bands from the highest down.
func FormatStandard(s domain.GradingStandard) string {
	if len(s.Dimensions) == 0 {
		return "没有提供评分标准。"
	}
	var b strings.Builder
	fmt.Fprintf(&b, "作文题目: %s\n", s.Title)
	fmt.Fprintf(&b, "总分: %s\n\n", formatScore(s.TotalScore))
	for _, dim := range s.Dimensions {
		fmt.Fprintf(&b, "--- 维度: %s (满分: %s) ---\n", dim.Name, formatScore(dim.MaxScore))
		for _, band := range dim.SortedRubrics() {
			fmt.Fprintf(&b, "  - %s (%s~%s分): %s\n", band.LevelName, formatScore(band.MinScore), formatScore(band.MaxScore), band.Description)
		}
		b.WriteString("\n")
	}
	return b.String()
}

func formatScore(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

// flexScore accepts numbers and numeric strings; models emit both.
type flexScore float64

func (f *flexScore) UnmarshalJSON(data []byte) error {
	text := strings.TrimSpace(string(data))
	if text == "null" {
		*f = 0
		return nil
	}
	if unquoted, err := strconv.Unquote(text); err == nil {
		text = strings.TrimSpace(unquoted)
	}
	v, err := strconv.ParseFloat(text, 64)
	if err != nil {
		return fmt.Errorf("score %s is not a number", string(data))
	}
	*f = flexScore(v)
	return nil
}

type rawDimension struct {
	DimensionName                string                        `json:"dimension_name"`
	Score                        flexScore                     `json:"score"`
	SelectedRubricLevel          string                        `json:"selected_rubric_level"`
	Feedback                     string                        `json:"feedback"`
	ExampleGoodSentence          string                        `json:"example_good_sentence"`
	ExampleImprovementSuggestion *domain.ImprovementSuggestion `json:"example_improvement_suggestion"`
}

type rawGradingResult struct {
	TotalScore     flexScore      `json:"total_score"`
	OverallComment string         `json:"overall_comment"`
	Strengths      []string       `json:"strengths"`
	Improvements   []string       `json:"improvements"`
	Dimensions     []rawDimension `json:"dimensions"`
}

func (r rawGradingResult) toDomain() domain.GradingResult {
	out := domain.GradingResult{
		TotalScore:     float64(r.TotalScore),
		OverallComment: r.OverallComment,
		Strengths:      r.Strengths,
		Improvements:   r.Improvements,
		Dimensions:     make([]domain.DimensionResult, 0, len(r.Dimensions)),
	}
	for _, d := range r.Dimensions {
		suggestion := d.ExampleImprovementSuggestion
		if suggestion != nil && suggestion.Original == "" && suggestion.Suggested == "" {
			suggestion = nil
		}
		out.Dimensions = append(out.Dimensions, domain.DimensionResult{
			DimensionName:                d.DimensionName,
			Score:                        float64(d.Score),
			SelectedRubricLevel:          d.SelectedRubricLevel,
			Feedback:                     d.Feedback,
			ExampleGoodSentence:          d.ExampleGoodSentence,
			ExampleImprovementSuggestion: suggestion,
		})
	}
	return out
}
