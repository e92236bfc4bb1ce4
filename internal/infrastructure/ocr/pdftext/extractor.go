// Package pdftext reads the text layer of born-digital PDF submissions.
package pdftext

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/ledongthuc/pdf"

	"github.com/kirillkom/essay-grading-pipeline/internal/core/domain"
)

var pdfMagic = []byte("%PDF-")

type Extractor struct{}

func NewExtractor() *Extractor {
	return &Extractor{}
}

// CanExtract sniffs the PDF header; the filename is not trusted.
func (e *Extractor) CanExtract(_ string, data []byte) bool {
	return bytes.HasPrefix(data, pdfMagic)
}

// ExtractText returns the plain text of every page. A PDF without a text
// layer (a scan saved as PDF) is reported as an OCR failure.
func (e *Extractor) ExtractText(ctx context.Context, _ string, data []byte) (text string, err error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	// The parser panics on some malformed content streams.
	defer func() {
		if r := recover(); r != nil {
			text, err = "", domain.WrapError(domain.ErrOCR, "read pdf text", fmt.Errorf("malformed pdf: %v", r))
		}
	}()
	reader, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", domain.WrapError(domain.ErrOCR, "open pdf", err)
	}
	plain, err := reader.GetPlainText()
	if err != nil {
		return "", domain.WrapError(domain.ErrOCR, "read pdf text", err)
	}
	raw, err := io.ReadAll(plain)
	if err != nil {
		return "", domain.WrapError(domain.ErrOCR, "read pdf text", err)
	}
	text = normalizeWhitespace(string(raw))
	if text == "" {
		return "", domain.WrapError(domain.ErrOCR, "read pdf text", fmt.Errorf("pdf has no text layer"))
	}
	return text, nil
}

func normalizeWhitespace(s string) string {
	lines := strings.Split(strings.ReplaceAll(s, "\r\n", "\n"), "\n")
	out := make([]string, 0, len(lines))
	for _, line := range lines {
		line = strings.TrimSpace(line)
		if line != "" {
			out = append(out, line)
		}
	}
	return strings.Join(out, "\n")
}
