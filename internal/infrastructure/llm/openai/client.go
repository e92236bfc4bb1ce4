// Package openai talks to OpenAI-compatible chat completion endpoints such as DeepSeek.
package openai

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/kirillkom/essay-grading-pipeline/internal/core/ports"
	"github.com/kirillkom/essay-grading-pipeline/internal/infrastructure/llm"
)

const providerName = "deepseek"

var errEmptyChoices = errors.New("chat completion returned no choices")

type Config struct {
	Endpoint   string
	APIKey     string
	Model      string
	HTTPClient *http.Client
}

type Client struct {
	model string
	chat  llm.Endpoint
}

func New(cfg Config) *Client {
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 180 * time.Second}
	}
	return &Client{
		model: cfg.Model,
		chat: llm.Endpoint{
			Provider:    providerName,
			URL:         strings.TrimSpace(cfg.Endpoint),
			BearerToken: strings.TrimSpace(cfg.APIKey),
			Client:      httpClient,
		},
	}
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type responseFormat struct {
	Type string `json:"type"`
}

type chatRequest struct {
	Model          string          `json:"model"`
	Messages       []chatMessage   `json:"messages"`
	Temperature    float64         `json:"temperature"`
	Stream         bool            `json:"stream"`
	ResponseFormat *responseFormat `json:"response_format,omitempty"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
}

func (c *Client) Complete(ctx context.Context, req ports.ChatRequest) (string, error) {
	payload := chatRequest{
		Model:       c.model,
		Messages:    []chatMessage{{Role: "user", Content: req.Prompt}},
		Temperature: req.Temperature,
	}
	if req.RequireJSON {
		payload.ResponseFormat = &responseFormat{Type: "json_object"}
	}

	var out chatResponse
	if err := c.chat.PostJSON(ctx, "chat", payload, &out); err != nil {
		return "", err
	}
	if len(out.Choices) == 0 {
		return "", errEmptyChoices
	}
	return strings.TrimSpace(out.Choices[0].Message.Content), nil
}
