package models

import (
	"testing"
	"time"
)

func TestDocumentStatus_CanTransitionTo(t *testing.T) {
	tests := []struct {
		from, to DocumentStatus
		want     bool
	}{
		{DocumentUploaded, DocumentProcessing, true},
		{DocumentUploaded, DocumentCompleted, false},
		{DocumentUploaded, DocumentFailed, false},
		{DocumentProcessing, DocumentValidated, true},
		{DocumentProcessing, DocumentProcessed, true},
		{DocumentProcessing, DocumentFailed, true},
		{DocumentProcessing, DocumentCompleted, false},
		{DocumentValidated, DocumentCompleted, true},
		{DocumentFailed, DocumentProcessing, true},
		{DocumentFailed, DocumentFailed, true},
		{DocumentCompleted, DocumentProcessing, false},
		{DocumentProcessed, DocumentProcessing, false},
	}

	for _, tt := range tests {
		if got := tt.from.CanTransitionTo(tt.to); got != tt.want {
			t.Errorf("%s -> %s: expected %v, got %v", tt.from, tt.to, tt.want, got)
		}
	}
}

func TestDocumentStatus_Terminal(t *testing.T) {
	if !DocumentCompleted.Terminal() || !DocumentProcessed.Terminal() {
		t.Error("completed and processed should be terminal")
	}
	if DocumentFailed.Terminal() {
		t.Error("failed should not be terminal by status alone")
	}
}

func TestBackoff_Next(t *testing.T) {
	b := Backoff{Type: BackoffExponential, Delay: 2 * time.Second}

	expected := []time.Duration{2 * time.Second, 4 * time.Second, 8 * time.Second}
	for i, want := range expected {
		if got := b.Next(i + 1); got != want {
			t.Errorf("attempt %d: expected %v, got %v", i+1, want, got)
		}
	}

	fixed := Backoff{Type: BackoffFixed, Delay: time.Second}
	if got := fixed.Next(5); got != time.Second {
		t.Errorf("expected fixed delay 1s, got %v", got)
	}
}

func TestJob_Exhausted(t *testing.T) {
	job := &Job{AttemptsMade: 2, MaxAttempts: 3, State: JobPending}
	if job.Exhausted() {
		t.Error("job with remaining attempts should not be exhausted")
	}
	if job.Attempt() != 3 {
		t.Errorf("expected current attempt 3, got %d", job.Attempt())
	}

	job.AttemptsMade = 3
	if !job.Exhausted() {
		t.Error("job at max attempts should be exhausted")
	}

	permanent := &Job{AttemptsMade: 1, MaxAttempts: 3, State: JobExhausted}
	if !permanent.Exhausted() {
		t.Error("job in EXHAUSTED state should be exhausted")
	}
}
