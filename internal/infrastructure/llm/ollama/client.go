// Package ollama completes prompts against a local Ollama server.
package ollama

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/kirillkom/essay-grading-pipeline/internal/core/ports"
	"github.com/kirillkom/essay-grading-pipeline/internal/infrastructure/llm"
)

type Client struct {
	model    string
	generate llm.Endpoint
}

func New(baseURL, model string) *Client {
	return &Client{
		model: model,
		generate: llm.Endpoint{
			Provider: "ollama",
			URL:      strings.TrimRight(baseURL, "/") + "/api/generate",
			Client:   &http.Client{Timeout: 180 * time.Second},
		},
	}
}

type generateOptions struct {
	Temperature float64 `json:"temperature"`
}

type generateRequest struct {
	Model   string          `json:"model"`
	Prompt  string          `json:"prompt"`
	Stream  bool            `json:"stream"`
	Format  string          `json:"format,omitempty"`
	Options generateOptions `json:"options"`
}

type generateResponse struct {
	Response string `json:"response"`
}

func (c *Client) Complete(ctx context.Context, req ports.ChatRequest) (string, error) {
	payload := generateRequest{
		Model:   c.model,
		Prompt:  req.Prompt,
		Options: generateOptions{Temperature: req.Temperature},
	}
	if req.RequireJSON {
		payload.Format = "json"
	}

	var out generateResponse
	if err := c.generate.PostJSON(ctx, "generate", payload, &out); err != nil {
		return "", err
	}
	return strings.TrimSpace(out.Response), nil
}
