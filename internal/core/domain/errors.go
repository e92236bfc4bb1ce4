package domain

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound          = errors.New("not found")
	ErrInvalidInput      = errors.New("invalid input")
	ErrUnauthorized      = errors.New("unauthorized")
	ErrTemporary         = errors.New("temporary failure")
	ErrInvalidTransition = errors.New("invalid status transition")
	ErrLLMConnection     = errors.New("llm connection error")
	ErrPreprocess        = errors.New("image preprocessing failed")
	ErrOCR               = errors.New("ocr failed")
	ErrOCRTokenExpired   = errors.New("ocr access token expired")
	ErrRateLimited       = errors.New("rate limited")
	ErrQueueFull         = errors.New("task queue full")
	ErrMalformedResult   = errors.New("malformed model result")
)

// WrapError preserves typed semantic errors with operation context.
func WrapError(kind error, operation string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w: %w", operation, kind, err)
}

func IsKind(err error, kind error) bool {
	return errors.Is(err, kind)
}

// MaxErrorMessageRunes bounds error text persisted on submissions and essays.
const MaxErrorMessageRunes = 500

// TruncateMessage cuts msg to MaxErrorMessageRunes runes.
func TruncateMessage(msg string) string {
	runes := []rune(msg)
	if len(runes) <= MaxErrorMessageRunes {
		return msg
	}
	return string(runes[:MaxErrorMessageRunes])
}
