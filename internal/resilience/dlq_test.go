package resilience

import (
	"errors"
	"testing"
	"time"
)

func TestDLQEntry_CanRetry(t *testing.T) {
	tests := []struct {
		name       string
		retryCount int
		maxRetries int
		want       bool
	}{
		{"below max", 0, 3, true},
		{"at max", 3, 3, false},
		{"above max", 5, 3, false},
		{"one below max", 2, 3, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := DLQEntry{
				RetryCount: tt.retryCount,
				MaxRetries: tt.maxRetries,
			}
			if got := e.CanRetry(); got != tt.want {
				t.Errorf("CanRetry() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestClassifyError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{"transient error", NewTransientError(errors.New("503"), 503), "transient"},
		{"permanent error", errors.New("invalid input"), "permanent"},
		{"connection reset", errors.New("connection reset by peer"), "transient"},
		{"sqlite busy", errors.New("database is locked"), "transient"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ClassifyError(tt.err); got != tt.want {
				t.Errorf("ClassifyError() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestRetryDelay(t *testing.T) {
	tests := []struct {
		retries int
		want    time.Duration
	}{
		{0, time.Minute},
		{1, 2 * time.Minute},
		{3, 8 * time.Minute},
		{10, 1024 * time.Minute},
		{11, 24 * time.Hour},
		{50, 24 * time.Hour},
	}
	for _, tt := range tests {
		if got := RetryDelay(tt.retries); got != tt.want {
			t.Errorf("RetryDelay(%d) = %v, want %v", tt.retries, got, tt.want)
		}
	}
}

func TestNewDLQEntry(t *testing.T) {
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	e := NewDLQEntry("/in/a.pdf", "INV-1", "matching", NewTransientError(errors.New("reference down"), 503), 3, now)

	if e.ID == "" {
		t.Error("expected an ID")
	}
	if e.DocumentPath != "/in/a.pdf" || e.RecordKey != "INV-1" || e.FailedStage != "matching" {
		t.Errorf("unexpected entry fields: %+v", e)
	}
	if e.ErrorType != ErrorTransient {
		t.Errorf("ErrorType = %q, want transient", e.ErrorType)
	}
	if e.Error != "reference down" {
		t.Errorf("Error = %q", e.Error)
	}
	if !e.NextRetryAt.Equal(now.Add(time.Minute)) {
		t.Errorf("NextRetryAt = %v, want one minute after now", e.NextRetryAt)
	}
	if e.RetryCount != 0 || e.MaxRetries != 3 || !e.CanRetry() {
		t.Errorf("unexpected retry bookkeeping: %+v", e)
	}
}
