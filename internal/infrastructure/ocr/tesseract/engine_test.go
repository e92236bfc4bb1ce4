//go:build tesseract

package tesseract

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/png"
	"os/exec"
	"testing"

	"github.com/kirillkom/essay-grading-pipeline/internal/core/domain"
)

func newEngine(t *testing.T) *Engine {
	t.Helper()
	if _, err := exec.LookPath("tesseract"); err != nil {
		t.Skip("tesseract is not installed")
	}
	return New([]string{"eng"})
}

func blankPage(t *testing.T) []byte {
	t.Helper()
	img := image.NewGray(image.Rect(0, 0, 200, 100))
	for i := range img.Pix {
		img.Pix[i] = color.White.Y
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("encode png: %v", err)
	}
	return buf.Bytes()
}

func TestEngineFetchTokenNeedsNoCredentials(t *testing.T) {
	if !Available {
		t.Fatalf("tagged build must report tesseract as available")
	}
	token, err := newEngine(t).FetchToken(context.Background())
	if err != nil || token != "" {
		t.Fatalf("unexpected token %q, err %v", token, err)
	}
}

func TestEngineRecognizesBlankPageAsEmpty(t *testing.T) {
	text, err := newEngine(t).Recognize(context.Background(), blankPage(t), "")
	if err != nil {
		t.Fatalf("recognize blank page: %v", err)
	}
	if text != "" {
		t.Fatalf("blank page produced %q", text)
	}
}

func TestEngineRejectsUndecodableImage(t *testing.T) {
	_, err := newEngine(t).Recognize(context.Background(), []byte("not an image"), "")
	if !domain.IsKind(err, domain.ErrOCR) {
		t.Fatalf("expected ErrOCR, got %v", err)
	}
}

func TestEngineHonoursCancelledContext(t *testing.T) {
	engine := newEngine(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := engine.Recognize(ctx, blankPage(t), ""); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}
