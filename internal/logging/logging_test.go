package logging

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"
)

func TestLevel_Validate(t *testing.T) {
	for _, l := range []Level{LevelDebug, LevelInfo, LevelWarn, LevelError} {
		if err := l.Validate(); err != nil {
			t.Errorf("expected %s to be valid, got %v", l, err)
		}
	}

	if err := Level("verbose").Validate(); err == nil {
		t.Error("expected unknown level to be rejected")
	}
}

func TestLevel_SlogLevel(t *testing.T) {
	if LevelWarn.SlogLevel() != slog.LevelWarn {
		t.Errorf("expected warn, got %v", LevelWarn.SlogLevel())
	}
	if Level("").SlogLevel() != slog.LevelInfo {
		t.Errorf("expected unknown level to default to info")
	}
}

func TestNewWithWriter_JSON(t *testing.T) {
	var buf bytes.Buffer
	logger := NewWithWriter(Config{Level: LevelInfo, Format: FormatJSON}, &buf)

	logger.Debug("hidden")
	logger.Info("job completed", "job_id", "job-1")

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 1 {
		t.Fatalf("expected 1 log line, got %d: %q", len(lines), buf.String())
	}

	var record map[string]interface{}
	if err := json.Unmarshal([]byte(lines[0]), &record); err != nil {
		t.Fatalf("expected JSON output, got %v", err)
	}
	if record["job_id"] != "job-1" {
		t.Errorf("expected job_id attribute, got %v", record["job_id"])
	}
}

func TestNewWithWriter_Text(t *testing.T) {
	var buf bytes.Buffer
	logger := NewWithWriter(Config{Level: LevelDebug, Format: FormatText}, &buf)

	logger.Debug("leasing", "worker", 2)

	if !strings.Contains(buf.String(), "worker=2") {
		t.Errorf("expected text output with worker=2, got %q", buf.String())
	}
}
