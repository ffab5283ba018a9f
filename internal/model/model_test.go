package model

import (
	"encoding/json"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecordKey(t *testing.T) {
	clean := &InvoiceRecord{InvoiceNumber: " INV-001 ", DocumentPath: "a.pdf"}
	assert.Equal(t, "INV-001", RecordKey(clean))

	a := &InvoiceRecord{InvoiceNumber: SentinelUnreadable, Failure: FailureUnreadable, DocumentPath: "a.pdf"}
	b := &InvoiceRecord{InvoiceNumber: SentinelUnreadable, Failure: FailureUnreadable, DocumentPath: "b.pdf"}
	assert.NotEqual(t, RecordKey(a), RecordKey(b))
	assert.Contains(t, RecordKey(a), "UNREADABLE#")
	assert.Equal(t, RecordKey(a), RecordKey(a))

	empty := &InvoiceRecord{DocumentPath: "c.pdf"}
	assert.Contains(t, RecordKey(empty), "Unknown#")
}

func TestIsSentinel(t *testing.T) {
	for _, v := range []string{"Unknown", "Error", "INVALID", "ERROR", "FAILED"} {
		assert.True(t, IsSentinel(v), v)
	}
	assert.False(t, IsSentinel("Acme Ltd"))
	assert.False(t, IsSentinel("unknown"))
}

func TestClampConfidence(t *testing.T) {
	assert.Equal(t, 0.0, ClampConfidence(-1))
	assert.Equal(t, 1.0, ClampConfidence(3))
	assert.Equal(t, 0.5, ClampConfidence(0.5))
	assert.Equal(t, 0.0, ClampConfidence(math.NaN()))
}

func TestSeverityFor(t *testing.T) {
	assert.Equal(t, SeverityLow, SeverityFor(1))
	assert.Equal(t, SeverityMedium, SeverityFor(2))
	assert.Equal(t, SeverityHigh, SeverityFor(3))
	assert.Equal(t, SeverityHigh, SeverityFor(7))
}

func TestFallbackRecord(t *testing.T) {
	today := time.Date(2024, 3, 9, 15, 0, 0, 0, time.UTC)
	rec := FallbackRecord("x.pdf", SentinelUnknown, SentinelUnreadable, "GBP", "Document is empty or unreadable", FailureUnreadable, 0.1, today)

	assert.Equal(t, "2024-03-09", rec.InvoiceDate)
	assert.True(t, rec.TotalAmount.Valid)
	assert.True(t, rec.TotalAmount.Decimal.IsZero())
	assert.Equal(t, ReviewNeedsReview, rec.ReviewStatus)
	assert.True(t, rec.ShortCircuits())
}

func TestValidationResult_AnomaliesNestedUnderErrors(t *testing.T) {
	vr := NewValidationResult(map[string]string{"total_amount": "Amount must be positive"}, Anomalies{
		AnomalyInvalidAmount: {Reason: "Amount is zero or negative", Value: "-5"},
	})
	require.Equal(t, ValidationFailed, vr.Status)

	b, err := json.Marshal(vr)
	require.NoError(t, err)

	var raw map[string]any
	require.NoError(t, json.Unmarshal(b, &raw))
	errs := raw["errors"].(map[string]any)
	assert.Equal(t, "Amount must be positive", errs["total_amount"])
	nested := errs["anomalies"].(map[string]any)
	assert.Contains(t, nested, "invalid_amount")

	var back ValidationResult
	require.NoError(t, json.Unmarshal(b, &back))
	assert.Equal(t, vr.Errors, back.Errors)
	assert.Equal(t, "-5", back.Anomalies[AnomalyInvalidAmount].Value)
}

func TestValidationResult_FailedFields(t *testing.T) {
	vr := NewValidationResult(map[string]string{"vendor_name": "x", "currency": "y"}, Anomalies{AnomalyDuplicate: {}})
	assert.Equal(t, []string{"anomalies", "currency", "vendor_name"}, vr.FailedFields())

	clean := NewValidationResult(nil, nil)
	assert.True(t, clean.Valid())
	assert.Empty(t, clean.FailedFields())
}

func TestStageTimings_Set(t *testing.T) {
	var tm StageTimings
	tm.Set(StageExtraction, 1500*time.Millisecond)
	tm.Set(StageValidation, 500*time.Millisecond)
	assert.InDelta(t, 2.0, tm.Total, 1e-9)
	assert.Zero(t, tm.Matching)
	assert.Zero(t, tm.Review)
}
