// Package ai holds the model-backed pipeline steps: OCR text correction,
// student matching and essay grading. Every call goes through llm.Provider.
package ai

import (
	"context"
	"strings"
	"time"

	"github.com/kirillkom/essay-grading-pipeline/internal/infrastructure/llm"
)

// Caller is the subset of llm.Provider the steps depend on.
type Caller interface {
	Call(ctx context.Context, req llm.Request) (string, error)
}

type callSettings struct {
	maxRetries  int
	timeout     time.Duration
	temperature float64
}

var (
	correctorSettings = callSettings{maxRetries: 2, timeout: 120 * time.Second, temperature: 0.2}
	matcherSettings   = callSettings{maxRetries: 2, timeout: 60 * time.Second, temperature: 0.1}
	graderSettings    = callSettings{maxRetries: 2, timeout: 180 * time.Second, temperature: 0.5}
)

func (s callSettings) request(prompt string, requireJSON bool) llm.Request {
	return llm.Request{
		Prompt:      prompt,
		MaxRetries:  s.maxRetries,
		Timeout:     s.timeout,
		RequireJSON: requireJSON,
		Temperature: s.temperature,
	}
}

func stripCodeFence(text string) string {
	trimmed := strings.TrimSpace(text)
	if !strings.HasPrefix(trimmed, "```") {
		return trimmed
	}
	trimmed = strings.TrimPrefix(trimmed, "```")
	if nl := strings.IndexByte(trimmed, '\n'); nl >= 0 {
		trimmed = trimmed[nl+1:]
	}
	trimmed = strings.TrimSuffix(strings.TrimSpace(trimmed), "```")
	return strings.TrimSpace(trimmed)
}
