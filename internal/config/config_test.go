package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadIncludesPipelineDefaults(t *testing.T) {
	t.Setenv("CONFIG_FILE", "")
	t.Setenv("OCR_MAX_CONCURRENCY", "")
	t.Setenv("STATUS_RATE_LIMIT", "")
	t.Setenv("STATUS_RATE_WINDOW", "")
	t.Setenv("STATUS_RATE_TRUST_USER_HEADER", "")
	t.Setenv("DISPATCH_MODE", "")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.OCRMaxConcurrency != 5 {
		t.Fatalf("expected default ocr concurrency 5, got %d", cfg.OCRMaxConcurrency)
	}
	if cfg.StatusRateLimit != 30 {
		t.Fatalf("expected default status rate limit 30, got %d", cfg.StatusRateLimit)
	}
	if cfg.StatusRateWindow != 60*time.Second {
		t.Fatalf("expected default window 60s, got %s", cfg.StatusRateWindow)
	}
	if cfg.StatusRateTrustUserHeader {
		t.Fatalf("user header must not be trusted by default")
	}
	if cfg.DispatchMode != "inprocess" {
		t.Fatalf("expected default dispatch mode inprocess, got %q", cfg.DispatchMode)
	}
}

func TestLoadParsesOverridesAndIgnoresGarbage(t *testing.T) {
	t.Setenv("CONFIG_FILE", "")
	t.Setenv("AI_MAX_CONCURRENCY", "3")
	t.Setenv("OCR_QPS", "0.5")
	t.Setenv("TASK_QUEUE_SIZE", "not-a-number")
	t.Setenv("STATUS_RATE_WINDOW", "90s")
	t.Setenv("STATUS_RATE_TRUST_USER_HEADER", "true")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.AIMaxConcurrency != 3 {
		t.Fatalf("expected ai concurrency 3, got %d", cfg.AIMaxConcurrency)
	}
	if cfg.OCRQPS != 0.5 {
		t.Fatalf("expected ocr qps 0.5, got %v", cfg.OCRQPS)
	}
	if cfg.TaskQueueSize != 64 {
		t.Fatalf("expected fallback task queue size 64, got %d", cfg.TaskQueueSize)
	}
	if cfg.StatusRateWindow != 90*time.Second {
		t.Fatalf("expected window 90s, got %s", cfg.StatusRateWindow)
	}
	if !cfg.StatusRateTrustUserHeader {
		t.Fatalf("expected trusted user header")
	}
}

func TestLoadReadsConfigFileBelowEnvironment(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	body := "DEEPSEEK_MODEL_CHAT: deepseek-reasoner\nOCR_MAX_CONCURRENCY: 8\nLOG_LEVEL: debug\n"
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv("CONFIG_FILE", path)
	t.Setenv("DEEPSEEK_MODEL_CHAT", "")
	t.Setenv("OCR_MAX_CONCURRENCY", "")
	t.Setenv("LOG_LEVEL", "warn")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.DeepSeekModelChat != "deepseek-reasoner" {
		t.Fatalf("expected model from file, got %q", cfg.DeepSeekModelChat)
	}
	if cfg.OCRMaxConcurrency != 8 {
		t.Fatalf("expected concurrency from file, got %d", cfg.OCRMaxConcurrency)
	}
	if cfg.LogLevel != "warn" {
		t.Fatalf("expected env to win over file, got %q", cfg.LogLevel)
	}
}

func TestLoadFailsOnMissingConfigFile(t *testing.T) {
	t.Setenv("CONFIG_FILE", filepath.Join(t.TempDir(), "missing.yaml"))
	if _, err := Load(); err == nil {
		t.Fatalf("expected error for missing config file")
	}
}
