package ai

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/kirillkom/essay-grading-pipeline/internal/core/domain"
)

// Matcher asks the model which roster student wrote each scan.
type Matcher struct {
	caller Caller
}

func NewMatcher(caller Caller) *Matcher {
	return &Matcher{caller: caller}
}

type matchItem struct {
	Filename string `json:"文件名"`
	Text     string `json:"识别文本"`
}

func (m *Matcher) MatchChunk(ctx context.Context, items []domain.MatchCandidate, roster []domain.RosterEntry) (map[string]*string, error) {
	if len(items) == 0 {
		return map[string]*string{}, nil
	}
	if len(roster) == 0 {
		return nil, domain.WrapError(domain.ErrInvalidInput, "match chunk", fmt.Errorf("roster is empty"))
	}

	prompt, err := buildMatchPrompt(items, roster)
	if err != nil {
		return nil, err
	}
	out, err := m.caller.Call(ctx, matcherSettings.request(prompt, true))
	if err != nil {
		return nil, err
	}

	var raw map[string]any
	if err := json.Unmarshal([]byte(out), &raw); err != nil {
		return nil, domain.WrapError(domain.ErrMalformedResult, "match chunk", err)
	}
	result := make(map[string]*string, len(items))
	for _, item := range items {
		value, ok := raw[item.Filename]
		if !ok {
			result[item.Filename] = nil
			continue
		}
		name, ok := value.(string)
		if !ok || strings.TrimSpace(name) == "" {
			result[item.Filename] = nil
			continue
		}
		name = strings.TrimSpace(name)
		result[item.Filename] = &name
	}
	return result, nil
}

func buildMatchPrompt(items []domain.MatchCandidate, roster []domain.RosterEntry) (string, error) {
	labels := make([]string, 0, len(roster))
	for _, entry := range roster {
		labels = append(labels, entry.Label())
	}
	rosterJSON, err := json.Marshal(labels)
	if err != nil {
		return "", fmt.Errorf("marshal roster: %w", err)
	}
	payload := make([]matchItem, 0, len(items))
	for _, item := range items {
		payload = append(payload, matchItem{Filename: item.Filename, Text: item.OCRText})
	}
	itemsJSON, err := json.MarshalIndent(payload, "  ", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal match items: %w", err)
	}

	var b strings.Builder
	b.WriteString("你是一名返回JSON的教师助手，需要把扫描作文识别出的文字与学生名单对应起来。\n\n")
	b.WriteString("学生名单: ")
	b.Write(rosterJSON)
	b.WriteString("\n待匹配内容:\n  ")
	b.Write(itemsJSON)
	b.WriteString("\n\n要求:\n")
	b.WriteString("1. 在每段识别文本中寻找学生姓名或学号。\n")
	b.WriteString("2. 识别文本可能有OCR错误，请做模糊匹配，例如“张こ”对应“张三”，“2o23o1”对应学号“202301”。\n")
	b.WriteString("3. 为每个文件名在学生名单中选出最匹配的一项；找不到任何可匹配的姓名或学号时返回 null。\n")
	// Same-name students can only be told apart by number, so the answer
	// must then carry the full roster line.
	if domain.NewRoster(roster).HasDuplicateNames() {
		b.WriteString("4. 名单中有重名学生。只返回一个JSON对象，key为文件名，value为名单中完整的一项，格式为“姓名 (学号: 学号)”，不要附加解释或Markdown。\n\n")
		b.WriteString("输出示例:\n{\"image1.jpg\": \"张三 (学号: 202301)\", \"image2.png\": null}")
		return b.String(), nil
	}
	b.WriteString("4. 只返回一个JSON对象，key为文件名，value为学生姓名（不含学号），不要附加解释或Markdown。\n\n")
	b.WriteString("输出示例:\n{\"image1.jpg\": \"张三\", \"image2.png\": null}")
	return b.String(), nil
}
