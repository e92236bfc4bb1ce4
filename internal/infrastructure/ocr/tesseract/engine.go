//go:build tesseract

// Package tesseract recognizes text locally through libtesseract.
package tesseract

import (
	"context"
	"fmt"
	"strings"

	"github.com/otiai10/gosseract/v2"

	"github.com/kirillkom/essay-grading-pipeline/internal/core/domain"
)

// Available reports whether the binary was built with Tesseract support.
const Available = true

type Engine struct {
	languages     []string
	clientFactory func() *gosseract.Client
}

func New(languages []string) *Engine {
	return &Engine{languages: languages, clientFactory: gosseract.NewClient}
}

// FetchToken is a no-op; the local engine needs no credentials.
func (e *Engine) FetchToken(context.Context) (string, error) {
	return "", nil
}

func (e *Engine) Recognize(ctx context.Context, image []byte, _ string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	c := e.clientFactory()
	defer c.Close()

	if err := c.SetImageFromBytes(image); err != nil {
		return "", domain.WrapError(domain.ErrOCR, "tesseract set image", err)
	}
	if len(e.languages) > 0 {
		if err := c.SetLanguage(e.languages...); err != nil {
			return "", domain.WrapError(domain.ErrOCR, "tesseract set languages", err)
		}
	}
	text, err := c.Text()
	if err != nil {
		return "", domain.WrapError(domain.ErrOCR, "tesseract recognize", fmt.Errorf("recognize text: %w", err))
	}
	return strings.TrimSpace(text), nil
}
