package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"doc-queue/internal/logging"
	"doc-queue/internal/models"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}

	if cfg.Server.Addr != ":8080" {
		t.Errorf("expected addr :8080, got %s", cfg.Server.Addr)
	}
	if cfg.Queue.Concurrency != 3 {
		t.Errorf("expected concurrency 3, got %d", cfg.Queue.Concurrency)
	}
	if cfg.Queue.StageTimeout.Duration != 30*time.Second {
		t.Errorf("expected stage timeout 30s, got %s", cfg.Queue.StageTimeout.Duration)
	}
	if cfg.Storage.MaxUploadSizeBytes() != 10*1000*1000 {
		t.Errorf("expected 10MB upload limit, got %d", cfg.Storage.MaxUploadSizeBytes())
	}
	if !cfg.Storage.Allowed("application/pdf") || cfg.Storage.Allowed("text/plain") {
		t.Error("expected default allow-list to accept pdf and reject text")
	}

	opts := cfg.Queue.EnqueueOptions()
	if opts != models.DefaultEnqueueOptions() {
		t.Errorf("expected producer defaults, got %+v", opts)
	}
}

func TestLoad_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	content := `
[server]
addr = ":9090"

[queue]
concurrency = 5
backoff_type = "fixed"
backoff_delay = "500ms"
stage_timeout = "10s"

[storage]
max_upload_size = "2MB"
allowed_types = ["application/pdf"]

[logging]
level = "debug"
format = "json"
`
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}

	if cfg.Server.Addr != ":9090" {
		t.Errorf("expected addr :9090, got %s", cfg.Server.Addr)
	}
	if cfg.Queue.Concurrency != 5 {
		t.Errorf("expected concurrency 5, got %d", cfg.Queue.Concurrency)
	}
	if cfg.Queue.BackoffDelay.Duration != 500*time.Millisecond {
		t.Errorf("expected backoff delay 500ms, got %s", cfg.Queue.BackoffDelay.Duration)
	}
	if cfg.Storage.MaxUploadSizeBytes() != 2*1000*1000 {
		t.Errorf("expected 2MB, got %d", cfg.Storage.MaxUploadSizeBytes())
	}
	if cfg.Storage.Allowed("image/png") {
		t.Error("expected png to be rejected by configured allow-list")
	}
	if cfg.Logging.Level != logging.LevelDebug || cfg.Logging.Format != logging.FormatJSON {
		t.Errorf("unexpected logging config: %+v", cfg.Logging)
	}
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv(EnvQueueConcurrency, "7")
	t.Setenv(EnvStorageMaxUploadSize, "1MB")
	t.Setenv(EnvExtractTestFailures, "true")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}

	if cfg.Queue.Concurrency != 7 {
		t.Errorf("expected concurrency 7, got %d", cfg.Queue.Concurrency)
	}
	if cfg.Storage.MaxUploadSizeBytes() != 1000*1000 {
		t.Errorf("expected 1MB, got %d", cfg.Storage.MaxUploadSizeBytes())
	}
	if !cfg.Extract.EnableTestFailures {
		t.Error("expected test failures to be enabled")
	}
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
	}{
		{"bad upload size", map[string]string{EnvStorageMaxUploadSize: "lots"}},
		{"bad backend", map[string]string{EnvStorageBackend: "s3"}},
		{"gcs without bucket", map[string]string{EnvStorageBackend: "gcs"}},
		{"postgres without dsn", map[string]string{EnvDatabaseDocuments: "postgres"}},
		{"bad log level", map[string]string{EnvLogLevel: "loud"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			if _, err := Load(""); err == nil {
				t.Error("expected validation error")
			}
		})
	}
}

func TestQueueConfig_LeaseCoversPipeline(t *testing.T) {
	tests := []struct {
		name    string
		lease   time.Duration
		stage   time.Duration
		wantErr bool
	}{
		{"defaults", 0, 0, false},
		{"lease covers every stage", 4 * time.Minute, 30 * time.Second, false},
		{"lease covers one stage only", 45 * time.Second, 30 * time.Second, true},
		{"lease equals pipeline", 7 * 30 * time.Second, 30 * time.Second, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := QueueConfig{
				LeaseDuration: Duration{Duration: tt.lease},
				StageTimeout:  Duration{Duration: tt.stage},
			}
			err := cfg.finalize()
			if tt.wantErr && err == nil {
				t.Errorf("expected lease %s with stage timeout %s to be rejected", tt.lease, tt.stage)
			}
			if !tt.wantErr && err != nil {
				t.Errorf("expected no error, got %v", err)
			}
		})
	}
}

func TestLoad_MissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.toml")); err == nil {
		t.Error("expected error for missing file")
	}
}
