package config_test

import (
	"strings"
	"testing"
	"time"

	"github.com/invigil/invigil/internal/config"
)

func TestDefault_OnlyDatabaseMissing(t *testing.T) {
	t.Parallel()
	err := config.Validate(config.Default())
	if err == nil {
		t.Fatal("expected validation error for missing database.url, got nil")
	}
	if !strings.Contains(err.Error(), "database.url") {
		t.Errorf("error should mention database.url, got: %v", err)
	}
	if strings.Contains(err.Error(), "worker.") || strings.Contains(err.Error(), "vision.") {
		t.Errorf("defaults should satisfy every other rule, got: %v", err)
	}
}

func TestLoadFromReader_OverridesDefaults(t *testing.T) {
	t.Parallel()
	yaml := `
database:
  url: "postgres://localhost:5432/exams"
worker:
  count: 4
  poll_interval: 2s
vision:
  model_path: yolov8s.pt
`
	cfg, err := config.LoadFromReader(strings.NewReader(yaml))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Database.URL != "postgres://localhost:5432/exams" {
		t.Errorf("database.url = %q", cfg.Database.URL)
	}
	if cfg.Worker.Count != 4 {
		t.Errorf("worker.count = %d, want 4", cfg.Worker.Count)
	}
	if cfg.Worker.PollInterval.Std() != 2*time.Second {
		t.Errorf("worker.poll_interval = %v, want 2s", cfg.Worker.PollInterval.Std())
	}
	if cfg.Vision.ModelPath != "yolov8s.pt" {
		t.Errorf("vision.model_path = %q", cfg.Vision.ModelPath)
	}

	// Untouched fields keep their defaults.
	if cfg.Media.FFmpegPath != "ffmpeg" {
		t.Errorf("media.ffmpeg_path = %q, want default \"ffmpeg\"", cfg.Media.FFmpegPath)
	}
	if cfg.Worker.ErrorBackoff.Std() != 10*time.Second {
		t.Errorf("worker.error_backoff = %v, want default 10s", cfg.Worker.ErrorBackoff.Std())
	}
}

func TestLoadFromReader_RejectsUnknownFields(t *testing.T) {
	t.Parallel()
	yaml := `
database:
  url: "postgres://localhost/test"
  max_connections: 10
`
	_, err := config.LoadFromReader(strings.NewReader(yaml))
	if err == nil {
		t.Fatal("expected error for unknown field, got nil")
	}
}

func TestFromEnv_Overrides(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://env-host/exams")
	t.Setenv("MODEL_PATH", "yolov8m.pt")
	t.Setenv("VISION_SERVICE_URL", "http://vision:9824")
	t.Setenv("FFMPEG_PATH", "/opt/ffmpeg/bin/ffmpeg")
	t.Setenv("INVIGIL_WORKERS", "3")
	t.Setenv("INVIGIL_POLL_INTERVAL", "7s")

	cfg := config.Default()
	if err := config.FromEnv(cfg); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Database.URL != "postgres://env-host/exams" {
		t.Errorf("database.url = %q", cfg.Database.URL)
	}
	if cfg.Vision.ModelPath != "yolov8m.pt" {
		t.Errorf("vision.model_path = %q", cfg.Vision.ModelPath)
	}
	if cfg.Vision.ServiceURL != "http://vision:9824" {
		t.Errorf("vision.service_url = %q", cfg.Vision.ServiceURL)
	}
	if cfg.Media.FFmpegPath != "/opt/ffmpeg/bin/ffmpeg" {
		t.Errorf("media.ffmpeg_path = %q", cfg.Media.FFmpegPath)
	}
	if cfg.Worker.Count != 3 {
		t.Errorf("worker.count = %d, want 3", cfg.Worker.Count)
	}
	if cfg.Worker.PollInterval.Std() != 7*time.Second {
		t.Errorf("worker.poll_interval = %v, want 7s", cfg.Worker.PollInterval.Std())
	}

	if err := config.Validate(cfg); err != nil {
		t.Errorf("env-completed config should validate, got: %v", err)
	}
}

func TestFromEnv_BadValuesJoined(t *testing.T) {
	t.Setenv("INVIGIL_WORKERS", "many")
	t.Setenv("INVIGIL_JOB_TIMEOUT", "soon")

	err := config.FromEnv(config.Default())
	if err == nil {
		t.Fatal("expected error for unparseable env values, got nil")
	}
	if !strings.Contains(err.Error(), "INVIGIL_WORKERS") {
		t.Errorf("error should mention INVIGIL_WORKERS, got: %v", err)
	}
	if !strings.Contains(err.Error(), "INVIGIL_JOB_TIMEOUT") {
		t.Errorf("error should mention INVIGIL_JOB_TIMEOUT, got: %v", err)
	}
}

func TestValidate_CollectsAllFailures(t *testing.T) {
	t.Parallel()
	err := config.Validate(&config.Config{})
	if err == nil {
		t.Fatal("expected errors for zero config, got nil")
	}
	for _, want := range []string{
		"database.url",
		"worker.count",
		"worker.poll_interval",
		"media.ffmpeg_path",
		"vision.service_url",
		"vision.model_path",
	} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error should mention %s, got: %v", want, err)
		}
	}
}

func TestValidate_ServiceURLScheme(t *testing.T) {
	t.Parallel()
	cfg := config.Default()
	cfg.Database.URL = "postgres://localhost/test"
	cfg.Vision.ServiceURL = "ftp://models.internal"

	err := config.Validate(cfg)
	if err == nil {
		t.Fatal("expected error for non-http scheme, got nil")
	}
	if !strings.Contains(err.Error(), "http or https") {
		t.Errorf("error should mention the scheme requirement, got: %v", err)
	}
}

func TestValidate_BadLogLevel(t *testing.T) {
	t.Parallel()
	cfg := config.Default()
	cfg.Database.URL = "postgres://localhost/test"
	cfg.Ops.LogLevel = "loud"

	err := config.Validate(cfg)
	if err == nil {
		t.Fatal("expected error for bad log level, got nil")
	}
	if !strings.Contains(err.Error(), "ops.log_level") {
		t.Errorf("error should mention ops.log_level, got: %v", err)
	}
}
