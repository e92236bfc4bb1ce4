// Package plaintext reads typed submissions uploaded as UTF-8 text files.
package plaintext

import (
	"bytes"
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"github.com/kirillkom/essay-grading-pipeline/internal/core/domain"
)

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

var textExtensions = map[string]bool{
	".txt":  true,
	".text": true,
	".md":   true,
}

type Extractor struct{}

func NewExtractor() *Extractor {
	return &Extractor{}
}

// CanExtract accepts text extensions whose content is valid UTF-8 without NUL bytes.
func (e *Extractor) CanExtract(filename string, data []byte) bool {
	if !textExtensions[strings.ToLower(filepath.Ext(filename))] {
		return false
	}
	return utf8.Valid(data) && bytes.IndexByte(data, 0) < 0
}

func (e *Extractor) ExtractText(ctx context.Context, _ string, data []byte) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if !utf8.Valid(data) {
		return "", domain.WrapError(domain.ErrOCR, "read text file", fmt.Errorf("file is not valid utf-8"))
	}

	raw := bytes.TrimPrefix(data, utf8BOM)
	text := strings.ReplaceAll(string(raw), "\r\n", "\n")
	text = strings.TrimSpace(text)
	if text == "" {
		return "", domain.WrapError(domain.ErrOCR, "read text file", fmt.Errorf("text file is empty"))
	}
	return text, nil
}
