//go:build !tesseract

package tesseract

import (
	"context"
	"errors"

	"github.com/kirillkom/essay-grading-pipeline/internal/core/domain"
)

const Available = false

var errNotBuilt = errors.New("binary built without the tesseract tag")

type Engine struct{}

func New([]string) *Engine {
	return &Engine{}
}

func (e *Engine) FetchToken(context.Context) (string, error) {
	return "", domain.WrapError(domain.ErrOCR, "tesseract", errNotBuilt)
}

func (e *Engine) Recognize(context.Context, []byte, string) (string, error) {
	return "", domain.WrapError(domain.ErrOCR, "tesseract", errNotBuilt)
}
