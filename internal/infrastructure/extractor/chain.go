// Package extractor combines born-digital text extractors.
package extractor

import (
	"context"
	"fmt"

	"github.com/kirillkom/essay-grading-pipeline/internal/core/domain"
	"github.com/kirillkom/essay-grading-pipeline/internal/core/ports"
)

// Chain offers a file to each extractor in order; the first that accepts it wins.
type Chain struct {
	extractors []ports.DocumentTextExtractor
}

func NewChain(extractors ...ports.DocumentTextExtractor) *Chain {
	return &Chain{extractors: extractors}
}

func (c *Chain) CanExtract(filename string, data []byte) bool {
	return c.pick(filename, data) != nil
}

func (c *Chain) ExtractText(ctx context.Context, filename string, data []byte) (string, error) {
	ex := c.pick(filename, data)
	if ex == nil {
		return "", domain.WrapError(domain.ErrOCR, "extract text", fmt.Errorf("no extractor accepts the file"))
	}
	return ex.ExtractText(ctx, filename, data)
}

func (c *Chain) pick(filename string, data []byte) ports.DocumentTextExtractor {
	for _, ex := range c.extractors {
		if ex.CanExtract(filename, data) {
			return ex
		}
	}
	return nil
}
