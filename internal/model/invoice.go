// Package model defines the invoice records and stage results that flow
// through the processing pipeline.
package model

import (
	"crypto/sha256"
	"encoding/hex"
	"slices"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// ReviewStatus is the human-review state of an invoice.
type ReviewStatus string

const (
	ReviewPending     ReviewStatus = "pending"
	ReviewNeedsReview ReviewStatus = "needs_review"
	ReviewApproved    ReviewStatus = "approved"
	ReviewRejected    ReviewStatus = "rejected"
	ReviewSkipped     ReviewStatus = "skipped"
	ReviewError       ReviewStatus = "error"
)

// Valid reports whether s is a known review status.
func (s ReviewStatus) Valid() bool {
	switch s {
	case ReviewPending, ReviewNeedsReview, ReviewApproved, ReviewRejected, ReviewSkipped, ReviewError:
		return true
	}
	return false
}

// FailureKind tags a record whose fields are fallback values rather than
// data read from the document.
type FailureKind string

const (
	FailureNone       FailureKind = ""
	FailureUnreadable FailureKind = "unreadable"
	FailureNotInvoice FailureKind = "not_invoice"
	FailureOracle     FailureKind = "oracle_failed"
	FailureInternal   FailureKind = "internal"
	FailurePipeline   FailureKind = "pipeline"
)

// Sentinel field values written by fallback records.
const (
	SentinelUnknown    = "Unknown"
	SentinelError      = "Error"
	SentinelInvalid    = "INVALID"
	SentinelErrorUpper = "ERROR"
	SentinelFailed     = "FAILED"
	SentinelUnreadable = "UNREADABLE"
)

// DateLayout is the ISO calendar date layout used for invoice dates.
const DateLayout = "2006-01-02"

var reservedValues = []string{
	SentinelUnknown,
	SentinelError,
	SentinelInvalid,
	SentinelErrorUpper,
	SentinelFailed,
}

// IsSentinel reports whether v is one of the reserved failure values.
func IsSentinel(v string) bool {
	return slices.Contains(reservedValues, v)
}

// SimilarError records a match against a known-error sample.
type SimilarError struct {
	SampleID   string  `json:"sample_id"`
	Similarity float64 `json:"similarity"`
	Reason     string  `json:"reason,omitempty"`
}

// InvoiceRecord is the extracted invoice, mutated by each pipeline stage.
type InvoiceRecord struct {
	VendorName       string              `json:"vendor_name"`
	InvoiceNumber    string              `json:"invoice_number"`
	InvoiceDate      string              `json:"invoice_date"`
	TotalAmount      decimal.NullDecimal `json:"total_amount"`
	TaxAmount        decimal.NullDecimal `json:"tax_amount"`
	Currency         string              `json:"currency"`
	PONumber         string              `json:"po_number,omitempty"`
	Confidence       float64             `json:"confidence"`
	FieldConfidence  map[string]float64  `json:"field_confidence,omitempty"`
	ReviewStatus     ReviewStatus        `json:"review_status"`
	ErrorMessage     string              `json:"error_message,omitempty"`
	Failure          FailureKind         `json:"failure,omitempty"`
	DocumentPath     string              `json:"original_path"`
	RunID            string              `json:"run_id,omitempty"`
	ExtractionMethod string              `json:"extraction_method,omitempty"`
	SimilarError     *SimilarError       `json:"similar_error,omitempty"`
}

// ShortCircuits reports whether the pipeline should stop after extraction.
func (r *InvoiceRecord) ShortCircuits() bool {
	return r.Failure == FailureUnreadable || r.Failure == FailureNotInvoice
}

// ParsedDate parses InvoiceDate as an ISO date.
func (r *InvoiceRecord) ParsedDate() (time.Time, error) {
	return time.Parse(DateLayout, strings.TrimSpace(r.InvoiceDate))
}

// SetConfidence stores c clamped to [0,1].
func (r *InvoiceRecord) SetConfidence(c float64) {
	r.Confidence = ClampConfidence(c)
}

// ClampConfidence bounds c to [0,1].
func ClampConfidence(c float64) float64 {
	switch {
	case c != c: // NaN
		return 0
	case c < 0:
		return 0
	case c > 1:
		return 1
	}
	return c
}

// FallbackRecord builds a record filled with sentinel values for a document
// whose fields could not be read.
func FallbackRecord(path, vendor, number, currency, message string, kind FailureKind, confidence float64, today time.Time) *InvoiceRecord {
	return &InvoiceRecord{
		VendorName:    vendor,
		InvoiceNumber: number,
		InvoiceDate:   today.Format(DateLayout),
		TotalAmount:   decimal.NewNullDecimal(decimal.Zero),
		Currency:      currency,
		Confidence:    ClampConfidence(confidence),
		ReviewStatus:  ReviewNeedsReview,
		ErrorMessage:  message,
		Failure:       kind,
		DocumentPath:  path,
	}
}

// RecordKey returns the store key for rec. Records carrying a failure tag are
// suffixed with a short hash of the document path so distinct unreadable
// documents do not replace each other.
func RecordKey(rec *InvoiceRecord) string {
	number := strings.TrimSpace(rec.InvoiceNumber)
	if rec.Failure == FailureNone && number != "" {
		return number
	}
	if number == "" {
		number = SentinelUnknown
	}
	sum := sha256.Sum256([]byte(rec.DocumentPath))
	return number + "#" + hex.EncodeToString(sum[:])[:12]
}
