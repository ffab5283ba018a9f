package resilience

import (
	"time"

	"github.com/google/uuid"
)

// Error types recorded on dead-letter entries.
const (
	ErrorTransient = "transient"
	ErrorPermanent = "permanent"
)

// DLQEntry is a document whose pipeline run ended in error.
type DLQEntry struct {
	ID           string    `json:"id"`
	DocumentPath string    `json:"document_path"`
	RecordKey    string    `json:"record_key,omitempty"`
	Error        string    `json:"error"`
	ErrorType    string    `json:"error_type"`
	FailedStage  string    `json:"failed_stage,omitempty"`
	RetryCount   int       `json:"retry_count"`
	MaxRetries   int       `json:"max_retries"`
	NextRetryAt  time.Time `json:"next_retry_at"`
	CreatedAt    time.Time `json:"created_at"`
	LastFailedAt time.Time `json:"last_failed_at"`
}

// DLQFilter selects dead-letter entries.
type DLQFilter struct {
	ErrorType string    `json:"error_type,omitempty"`
	DueBefore time.Time `json:"due_before,omitempty"`
	Limit     int       `json:"limit,omitempty"`
}

// NewDLQEntry builds an entry for a failed document, due for retry after
// the initial backoff.
func NewDLQEntry(path, key, stage string, err error, maxRetries int, now time.Time) DLQEntry {
	return DLQEntry{
		ID:           uuid.NewString(),
		DocumentPath: path,
		RecordKey:    key,
		Error:        err.Error(),
		ErrorType:    ClassifyError(err),
		FailedStage:  stage,
		MaxRetries:   maxRetries,
		NextRetryAt:  now.Add(RetryDelay(0)),
		CreatedAt:    now,
		LastFailedAt: now,
	}
}

// CanRetry reports whether the entry has retries left.
func (e *DLQEntry) CanRetry() bool {
	return e.RetryCount < e.MaxRetries
}

// RetryDelay is the wait before retry n+1: one minute doubling, capped at a day.
func RetryDelay(retryCount int) time.Duration {
	d := time.Minute << min(retryCount, 11)
	return min(d, 24*time.Hour)
}

// ClassifyError returns ErrorTransient or ErrorPermanent.
func ClassifyError(err error) string {
	if IsTransient(err) {
		return ErrorTransient
	}
	return ErrorPermanent
}
