package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"
)

func TestParseLevel(t *testing.T) {
	cases := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		" WARN ":  slog.LevelWarn,
		"warning": slog.LevelWarn,
		"error":   slog.LevelError,
		"":        slog.LevelInfo,
		"verbose": slog.LevelInfo,
	}
	for in, want := range cases {
		if got := ParseLevel(in); got != want {
			t.Fatalf("ParseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestContextLoggerCarriesAttributes(t *testing.T) {
	var buf bytes.Buffer
	base := slog.New(slog.NewJSONHandler(&buf, nil))
	ctx := With(WithLogger(context.Background(), base), "essay_id", int64(7))

	FromContext(ctx).Info("essay_graded")
	if !strings.Contains(buf.String(), `"essay_id":7`) {
		t.Fatalf("expected essay_id attribute, got %s", buf.String())
	}
	if FromContext(context.Background()) != slog.Default() {
		t.Fatalf("expected default logger without context value")
	}
}

func TestNewWritesServiceAndUTCTimestamp(t *testing.T) {
	var buf bytes.Buffer
	logger := New(&buf, "essay-api", "warn")

	logger.Info("dropped")
	logger.Warn("ocr_slow", "submission_id", int64(3))

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 1 {
		t.Fatalf("expected only the warn record, got %d lines: %s", len(lines), buf.String())
	}
	var rec map[string]any
	if err := json.Unmarshal([]byte(lines[0]), &rec); err != nil {
		t.Fatalf("decode record: %v", err)
	}
	if rec["service"] != "essay-api" || rec["msg"] != "ocr_slow" {
		t.Fatalf("unexpected record %v", rec)
	}
	ts, ok := rec["ts"].(string)
	if !ok || !strings.HasSuffix(ts, "Z") {
		t.Fatalf("expected UTC ts field, got %v", rec["ts"])
	}
	if _, ok := rec["time"]; ok {
		t.Fatalf("time key must be replaced by ts")
	}
}
