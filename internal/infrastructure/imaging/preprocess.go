// Package imaging prepares scanned essay pages for OCR providers with strict
// size and dimension limits.
package imaging

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	_ "image/gif"
	"image/jpeg"
	_ "image/png"
	"log/slog"
	"math"

	_ "golang.org/x/image/bmp"
	"golang.org/x/image/draw"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"

	"github.com/kirillkom/essay-grading-pipeline/internal/core/domain"
)

type Options struct {
	MaxBytes  int
	MaxEdge   int
	// MaxPixels rejects images whose declared canvas is larger, before decoding.
	MaxPixels int

	StartQuality int
	QualityStep  int
	MinQuality   int

	ClipLimit float64
	TileGrid  int

	DisableDeskew bool
	MinSkewDeg    float64
	MaxSkewDeg    float64
}

// DefaultOptions keeps a margin under the 4MB / 4096px limits of the OCR API.
func DefaultOptions() Options {
	return Options{
		MaxBytes:     3_900 * 1024 * 1024 / 1000,
		MaxEdge:      4095,
		MaxPixels:    64_000_000,
		StartQuality: 95,
		QualityStep:  10,
		MinQuality:   10,
		ClipLimit:    2.0,
		TileGrid:     8,
		MinSkewDeg:   1,
		MaxSkewDeg:   45,
	}
}

func (o Options) normalize() Options {
	def := DefaultOptions()
	if o.MaxBytes <= 0 {
		o.MaxBytes = def.MaxBytes
	}
	if o.MaxEdge <= 0 {
		o.MaxEdge = def.MaxEdge
	}
	if o.MaxPixels <= 0 {
		o.MaxPixels = def.MaxPixels
	}
	if o.StartQuality <= 0 || o.StartQuality > 100 {
		o.StartQuality = def.StartQuality
	}
	if o.QualityStep <= 0 {
		o.QualityStep = def.QualityStep
	}
	if o.MinQuality <= 0 || o.MinQuality > o.StartQuality {
		o.MinQuality = def.MinQuality
	}
	if o.ClipLimit <= 0 {
		o.ClipLimit = def.ClipLimit
	}
	if o.TileGrid <= 0 {
		o.TileGrid = def.TileGrid
	}
	if o.MinSkewDeg <= 0 {
		o.MinSkewDeg = def.MinSkewDeg
	}
	if o.MaxSkewDeg <= 0 {
		o.MaxSkewDeg = def.MaxSkewDeg
	}
	return o
}

type Preprocessor struct {
	opts Options
}

func New(opts Options) *Preprocessor {
	return &Preprocessor{opts: opts.normalize()}
}

// Preprocess returns a grayscale, contrast-enhanced, deskewed JPEG within the
// configured byte and edge limits.
func (p *Preprocessor) Preprocess(raw []byte) ([]byte, error) {
	cfg, _, err := image.DecodeConfig(bytes.NewReader(raw))
	if err != nil {
		return nil, domain.WrapError(domain.ErrPreprocess, "decode image", err)
	}
	if cfg.Width <= 0 || cfg.Height <= 0 {
		return nil, domain.WrapError(domain.ErrPreprocess, "decode image",
			fmt.Errorf("empty %dx%d image", cfg.Width, cfg.Height))
	}
	if int64(cfg.Width)*int64(cfg.Height) > int64(p.opts.MaxPixels) {
		return nil, domain.WrapError(domain.ErrPreprocess, "decode image",
			fmt.Errorf("%dx%d exceeds %d pixels", cfg.Width, cfg.Height, p.opts.MaxPixels))
	}

	img, format, err := image.Decode(bytes.NewReader(raw))
	if err != nil {
		return nil, domain.WrapError(domain.ErrPreprocess, "decode image", err)
	}

	// Enhancement and deskew run on the already downscaled page.
	gray := toGray(img, p.opts.MaxEdge)
	if gray.Bounds().Empty() {
		return nil, domain.WrapError(domain.ErrPreprocess, "decode image", fmt.Errorf("empty %s image", format))
	}
	enhanced := clahe(gray, p.opts.ClipLimit, p.opts.TileGrid)

	if !p.opts.DisableDeskew {
		enhanced = p.deskew(enhanced)
	}

	out, quality, err := encodeWithinLimit(enhanced, p.opts)
	if err != nil {
		return nil, err
	}
	slog.Debug("image_preprocessed",
		"format", format,
		"width", enhanced.Bounds().Dx(),
		"height", enhanced.Bounds().Dy(),
		"quality", quality,
		"bytes", len(out),
	)
	return out, nil
}

func (p *Preprocessor) deskew(img *image.Gray) *image.Gray {
	angle, err := estimateSkew(img)
	if err != nil {
		slog.Warn("image_deskew_skipped", "error", err)
		return img
	}
	abs := angle
	if abs < 0 {
		abs = -abs
	}
	if abs <= p.opts.MinSkewDeg || abs >= p.opts.MaxSkewDeg {
		return img
	}
	slog.Debug("image_deskewed", "angle_deg", angle)
	return rotate(img, angle)
}

// toGray flattens img onto white, so transparent regions read as paper, and
// scales it so the longest edge is at most maxEdge.
func toGray(img image.Image, maxEdge int) *image.Gray {
	b := img.Bounds()
	w, h := fitSize(b.Dx(), b.Dy(), maxEdge)
	gray := image.NewGray(image.Rect(0, 0, w, h))
	draw.Draw(gray, gray.Bounds(), image.NewUniform(color.White), image.Point{}, draw.Src)
	if w == b.Dx() && h == b.Dy() {
		draw.Draw(gray, gray.Bounds(), img, b.Min, draw.Over)
		return gray
	}
	draw.CatmullRom.Scale(gray, gray.Bounds(), img, b, draw.Over, nil)
	return gray
}

func fitSize(w, h, maxEdge int) (int, int) {
	longest := max(w, h)
	if longest <= maxEdge {
		return w, h
	}
	scale := float64(maxEdge) / float64(longest)
	nw := min(maxEdge, max(1, int(math.Round(float64(w)*scale))))
	nh := min(maxEdge, max(1, int(math.Round(float64(h)*scale))))
	return nw, nh
}

// encodeWithinLimit re-encodes with decreasing quality until the output fits.
func encodeWithinLimit(img image.Image, opts Options) ([]byte, int, error) {
	var buf bytes.Buffer
	quality := opts.StartQuality
	for {
		buf.Reset()
		if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: quality}); err != nil {
			return nil, quality, domain.WrapError(domain.ErrPreprocess, "encode jpeg", err)
		}
		if buf.Len() <= opts.MaxBytes {
			return buf.Bytes(), quality, nil
		}
		if quality <= opts.MinQuality {
			return nil, quality, domain.WrapError(domain.ErrPreprocess, "compress image",
				fmt.Errorf("%d bytes exceeds limit %d at minimum quality %d", buf.Len(), opts.MaxBytes, quality))
		}
		quality = max(quality-opts.QualityStep, opts.MinQuality)
	}
}
