// Package llm wraps every model call in one retrying, JSON-enforcing contract.
package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/kirillkom/essay-grading-pipeline/internal/core/domain"
	"github.com/kirillkom/essay-grading-pipeline/internal/core/ports"
	"github.com/kirillkom/essay-grading-pipeline/internal/infrastructure/resilience"
)

type Request struct {
	Prompt      string
	MaxRetries  int
	Timeout     time.Duration
	RequireJSON bool
	Temperature float64
	// Strategy rewrites the prompt per attempt; defaults to JSONReminder.
	Strategy PromptStrategy
}

type Options struct {
	Executor *resilience.Executor
	// BackoffUnit is the wait before the first retry; later waits double.
	BackoffUnit time.Duration
	OnAttempt   func(outcome string)
	OnBackoff   func(attempt int, wait time.Duration)
}

type Provider struct {
	completer   ports.ChatCompleter
	executor    *resilience.Executor
	backoffUnit time.Duration
	onAttempt   func(string)
	onBackoff   func(int, time.Duration)
}

func NewProvider(completer ports.ChatCompleter, opts Options) *Provider {
	exec := opts.Executor
	if exec == nil {
		exec = resilience.NewExecutor(resilience.Config{})
	}
	unit := opts.BackoffUnit
	if unit <= 0 {
		unit = time.Second
	}
	return &Provider{
		completer:   completer,
		executor:    exec,
		backoffUnit: unit,
		onAttempt:   opts.OnAttempt,
		onBackoff:   opts.OnBackoff,
	}
}

// FormatError reports a response that is not the JSON object the caller required.
type FormatError struct {
	Content string
	Retry   bool
	Cause   error
}

func (e *FormatError) Error() string {
	return fmt.Sprintf("llm response is not valid json: %v", e.Cause)
}

func (e *FormatError) Unwrap() error {
	return e.Cause
}

// Call performs at most MaxRetries+1 attempts. Transport failures back off
// exponentially; a non-JSON answer earns a single corrective attempt from the
// same budget. Exhaustion yields ErrLLMConnection carrying the last cause.
func (p *Provider) Call(ctx context.Context, req Request) (string, error) {
	maxAttempts := max(req.MaxRetries, 0) + 1
	strategy := req.Strategy
	if strategy == nil {
		strategy = JSONReminder{}
	}

	var (
		attempt        int
		formatFailures int
		lastErr        error
		content        string
	)
	call := func(callCtx context.Context) error {
		prompt := strategy.Prompt(Attempt{
			Number:         attempt,
			Base:           req.Prompt,
			LastErr:        lastErr,
			FormatFailures: formatFailures,
		})
		attempt++

		attemptCtx := callCtx
		if req.Timeout > 0 {
			var cancel context.CancelFunc
			attemptCtx, cancel = context.WithTimeout(callCtx, req.Timeout)
			defer cancel()
		}

		out, err := p.completer.Complete(attemptCtx, ports.ChatRequest{
			Prompt:      prompt,
			Temperature: req.Temperature,
			RequireJSON: req.RequireJSON,
		})
		if err != nil {
			lastErr = err
			p.observe("transport_error")
			return err
		}
		if req.RequireJSON {
			cleaned := ExtractJSONObject(out)
			var decoded map[string]any
			if jsonErr := json.Unmarshal([]byte(cleaned), &decoded); jsonErr != nil {
				formatFailures++
				lastErr = &FormatError{Content: out, Retry: formatFailures == 1, Cause: jsonErr}
				p.observe("format_error")
				return lastErr
			}
			out = cleaned
		}
		p.observe("success")
		content = out
		return nil
	}

	policy := resilience.RetryPolicy{
		MaxAttempts:    maxAttempts,
		InitialBackoff: p.backoffUnit,
		MaxBackoff:     p.backoffUnit << min(maxAttempts, 16),
		Multiplier:     2,
		OnRetry: func(n int, wait time.Duration, _ error) {
			if p.onBackoff != nil {
				p.onBackoff(n, wait)
			}
		},
	}
	if err := p.executor.ExecutePolicy(ctx, "llm.call", policy, call, classifyLLMError); err != nil {
		if attempt == 0 {
			return "", domain.WrapError(domain.ErrLLMConnection, "llm call", err)
		}
		return "", domain.WrapError(domain.ErrLLMConnection, "llm call",
			fmt.Errorf("failed after %d attempts: %w", attempt, err))
	}
	return content, nil
}

func (p *Provider) observe(outcome string) {
	if p.onAttempt != nil {
		p.onAttempt(outcome)
	}
}

// IsFormatError reports whether err ended in a JSON format failure.
func IsFormatError(err error) bool {
	var fe *FormatError
	return errors.As(err, &fe)
}
