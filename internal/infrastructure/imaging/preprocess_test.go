package imaging

import (
	"bytes"
	"encoding/binary"
	"hash/crc32"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"math"
	"math/rand"
	"testing"

	"github.com/kirillkom/essay-grading-pipeline/internal/core/domain"
)

func encodePNG(t *testing.T, img image.Image) []byte {
	t.Helper()
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("png.Encode() error = %v", err)
	}
	return buf.Bytes()
}

// slantedLines draws dark strokes descending to the right at deg degrees.
func slantedLines(w, h int, deg float64) *image.Gray {
	img := image.NewGray(image.Rect(0, 0, w, h))
	for i := range img.Pix {
		img.Pix[i] = 240
	}
	slope := math.Tan(deg * math.Pi / 180)
	for line := 0; line < 6; line++ {
		baseY := float64(h)/4 + float64(line)*float64(h)/14
		for x := w / 6; x < w*5/6; x++ {
			y := int(baseY + slope*float64(x-w/6))
			for dy := 0; dy < 4; dy++ {
				if y+dy >= 0 && y+dy < h {
					img.Pix[(y+dy)*img.Stride+x] = 20
				}
			}
		}
	}
	return img
}

func noise(w, h int) *image.Gray {
	rng := rand.New(rand.NewSource(42))
	img := image.NewGray(image.Rect(0, 0, w, h))
	rng.Read(img.Pix)
	return img
}

func TestPreprocessRejectsUndecodableInput(t *testing.T) {
	_, err := New(DefaultOptions()).Preprocess([]byte("definitely not an image"))
	if !domain.IsKind(err, domain.ErrPreprocess) {
		t.Fatalf("expected ErrPreprocess, got %v", err)
	}
}

func TestPreprocessOutputSatisfiesLimitsAndIsStable(t *testing.T) {
	p := New(DefaultOptions())
	out, err := p.Preprocess(encodePNG(t, slantedLines(640, 480, 3)))
	if err != nil {
		t.Fatalf("Preprocess() error = %v", err)
	}
	assertWithinLimits(t, out, DefaultOptions())

	again, err := p.Preprocess(out)
	if err != nil {
		t.Fatalf("second Preprocess() error = %v", err)
	}
	assertWithinLimits(t, again, DefaultOptions())
}

func TestPreprocessDownscalesLongestEdge(t *testing.T) {
	opts := DefaultOptions()
	opts.MaxEdge = 500
	opts.DisableDeskew = true
	out, err := New(opts).Preprocess(encodePNG(t, slantedLines(1200, 300, 0)))
	if err != nil {
		t.Fatalf("Preprocess() error = %v", err)
	}
	cfg, err := jpeg.DecodeConfig(bytes.NewReader(out))
	if err != nil {
		t.Fatalf("DecodeConfig() error = %v", err)
	}
	if cfg.Width != 500 || cfg.Height != 125 {
		t.Fatalf("expected 500x125, got %dx%d", cfg.Width, cfg.Height)
	}
}

// withDeclaredSize rewrites the IHDR dimensions of a PNG without adding pixels.
func withDeclaredSize(t *testing.T, data []byte, w, h uint32) []byte {
	t.Helper()
	if len(data) < 33 || string(data[12:16]) != "IHDR" {
		t.Fatalf("unexpected png header")
	}
	out := append([]byte(nil), data...)
	binary.BigEndian.PutUint32(out[16:20], w)
	binary.BigEndian.PutUint32(out[20:24], h)
	binary.BigEndian.PutUint32(out[29:33], crc32.ChecksumIEEE(out[12:29]))
	return out
}

func TestPreprocessRejectsOversizedCanvasBeforeDecoding(t *testing.T) {
	huge := withDeclaredSize(t, encodePNG(t, slantedLines(16, 16, 0)), 20000, 20000)

	cfg, err := png.DecodeConfig(bytes.NewReader(huge))
	if err != nil || cfg.Width != 20000 {
		t.Fatalf("expected a 20000px declared canvas, got %+v err=%v", cfg, err)
	}

	_, err = New(DefaultOptions()).Preprocess(huge)
	if !domain.IsKind(err, domain.ErrPreprocess) {
		t.Fatalf("expected ErrPreprocess, got %v", err)
	}
}

func TestPreprocessHonoursPixelBudget(t *testing.T) {
	opts := DefaultOptions()
	opts.MaxPixels = 100 * 100
	p := New(opts)

	if _, err := p.Preprocess(encodePNG(t, slantedLines(100, 100, 0))); err != nil {
		t.Fatalf("image at the budget must pass, got %v", err)
	}
	if _, err := p.Preprocess(encodePNG(t, slantedLines(101, 100, 0))); !domain.IsKind(err, domain.ErrPreprocess) {
		t.Fatalf("expected ErrPreprocess over budget, got %v", err)
	}
}

func TestDefaultOptionsKeepMarginUnderProviderLimit(t *testing.T) {
	opts := DefaultOptions()
	if opts.MaxBytes != 4089446 {
		t.Fatalf("MaxBytes = %d, want 4089446", opts.MaxBytes)
	}
	if opts.MaxBytes >= 4<<20 || opts.MaxEdge >= 4096 {
		t.Fatalf("defaults must stay under 4MB and 4096px, got %+v", opts)
	}
}

func TestToGrayScalesBeforeEnhancement(t *testing.T) {
	gray := toGray(slantedLines(3000, 1000, 0), 600)
	if gray.Bounds().Dx() != 600 || gray.Bounds().Dy() != 200 {
		t.Fatalf("expected 600x200, got %v", gray.Bounds())
	}
}

func TestEncodeWithinLimitStepsQualityDown(t *testing.T) {
	img := noise(300, 300)
	opts := DefaultOptions()
	high, _, err := encodeWithinLimit(img, opts)
	if err != nil {
		t.Fatalf("encodeWithinLimit() error = %v", err)
	}

	opts.MaxBytes = len(high) - 1
	out, quality, err := encodeWithinLimit(img, opts)
	if err != nil {
		t.Fatalf("encodeWithinLimit() error = %v", err)
	}
	if quality >= opts.StartQuality {
		t.Fatalf("expected quality below %d, got %d", opts.StartQuality, quality)
	}
	if len(out) > opts.MaxBytes {
		t.Fatalf("expected output within %d bytes, got %d", opts.MaxBytes, len(out))
	}
}

func TestEncodeWithinLimitFailsAtQualityFloor(t *testing.T) {
	opts := DefaultOptions()
	opts.MaxBytes = 200
	_, quality, err := encodeWithinLimit(noise(400, 400), opts)
	if !domain.IsKind(err, domain.ErrPreprocess) {
		t.Fatalf("expected ErrPreprocess, got %v", err)
	}
	if quality != opts.MinQuality {
		t.Fatalf("expected to stop at quality %d, got %d", opts.MinQuality, quality)
	}
}

func TestEstimateSkewFindsLineAngle(t *testing.T) {
	for _, deg := range []float64{-8, 5, 12} {
		got, err := estimateSkew(slantedLines(800, 600, deg))
		if err != nil {
			t.Fatalf("estimateSkew(%v) error = %v", deg, err)
		}
		if math.Abs(got-deg) > 1 {
			t.Fatalf("estimateSkew(%v) = %v", deg, got)
		}
	}
}

func TestRotateStraightensSkewedLines(t *testing.T) {
	straightened := rotate(slantedLines(800, 600, 10), 10)
	got, err := estimateSkew(straightened)
	if err != nil {
		t.Fatalf("estimateSkew() error = %v", err)
	}
	if math.Abs(got) >= 1 {
		t.Fatalf("expected near-zero residual skew, got %v", got)
	}
}

func TestEstimateSkewFailsOnBlankPage(t *testing.T) {
	blank := image.NewGray(image.Rect(0, 0, 100, 100))
	for i := range blank.Pix {
		blank.Pix[i] = 255
	}
	if _, err := estimateSkew(blank); err == nil {
		t.Fatalf("expected error for blank page")
	}
}

func TestDeskewIgnoresSmallAngles(t *testing.T) {
	p := New(DefaultOptions())
	img := slantedLines(400, 300, 0.5)
	if got := p.deskew(img); got != img {
		t.Fatalf("expected image to be returned unrotated")
	}
}

func TestCLAHEWidensLocalContrast(t *testing.T) {
	img := image.NewGray(image.Rect(0, 0, 256, 256))
	for y := 0; y < 256; y++ {
		for x := 0; x < 256; x++ {
			v := uint8(100)
			if (x/2)%2 == 1 {
				v = 104
			}
			img.SetGray(x, y, color.Gray{Y: v})
		}
	}
	out := clahe(img, 2.0, 8)
	dark := out.GrayAt(128, 128).Y
	light := out.GrayAt(130, 128).Y
	if int(light)-int(dark) <= 4 {
		t.Fatalf("expected stripe contrast above 4 levels, got %d vs %d", dark, light)
	}
	if out.GrayAt(0, 0).Y != out.GrayAt(128, 0).Y {
		t.Fatalf("expected identical tiles to map identically")
	}
}

func assertWithinLimits(t *testing.T, data []byte, opts Options) {
	t.Helper()
	if len(data) > opts.MaxBytes {
		t.Fatalf("output %d bytes exceeds %d", len(data), opts.MaxBytes)
	}
	cfg, err := jpeg.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("output is not a jpeg: %v", err)
	}
	if max(cfg.Width, cfg.Height) > opts.MaxEdge {
		t.Fatalf("output edge %dx%d exceeds %d", cfg.Width, cfg.Height, opts.MaxEdge)
	}
}
