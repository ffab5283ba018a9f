package model

import "time"

// MatchStatus is the outcome of purchase-order matching.
type MatchStatus string

const (
	MatchMatched   MatchStatus = "matched"
	MatchUnmatched MatchStatus = "unmatched"
	MatchError     MatchStatus = "error"
	MatchSkipped   MatchStatus = "skipped"
)

// MatchResult is the purchase-order match for an invoice.
type MatchResult struct {
	Status        MatchStatus `json:"status"`
	PONumber      *string     `json:"po_number"`
	Confidence    float64     `json:"match_confidence"`
	MatchedVendor string      `json:"matched_vendor,omitempty"`
	Message       string      `json:"message,omitempty"`
}

// SkippedMatch is recorded when validation failed and matching did not run.
func SkippedMatch() *MatchResult {
	return &MatchResult{Status: MatchSkipped}
}

// PurchaseOrder is a row of the approved PO reference table.
type PurchaseOrder struct {
	VendorName string `json:"vendor_name"`
	PONumber   string `json:"po_number"`
}

// Priority orders the human review queue.
type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityMedium Priority = "medium"
	PriorityHigh   Priority = "high"
)

// ReviewDecision is the routing decision of the review stage.
type ReviewDecision struct {
	Status     ReviewStatus `json:"status"`
	Reasons    []string     `json:"reasons"`
	Priority   Priority     `json:"priority"`
	ReviewedAt *time.Time   `json:"reviewed_at,omitempty"`
}

// PipelineStatus is the furthest point a pipeline run reached.
type PipelineStatus string

const (
	StatusExtracted PipelineStatus = "extracted"
	StatusValidated PipelineStatus = "validated"
	StatusMatched   PipelineStatus = "matched"
	StatusCompleted PipelineStatus = "completed"
	StatusError     PipelineStatus = "error"
	StatusSkipped   PipelineStatus = "skipped"
)

// Stage names.
const (
	StageExtraction = "extraction"
	StageValidation = "validation"
	StageMatching   = "matching"
	StageReview     = "review"
)

// StageTimings are wall-clock stage durations in seconds. Unreached stages
// stay zero.
type StageTimings struct {
	Extraction float64 `json:"extraction_time"`
	Validation float64 `json:"validation_time"`
	Matching   float64 `json:"matching_time"`
	Review     float64 `json:"review_time"`
	Total      float64 `json:"total_time"`
}

// Set records d seconds for stage and recomputes the total.
func (t *StageTimings) Set(stage string, d time.Duration) {
	secs := d.Seconds()
	switch stage {
	case StageExtraction:
		t.Extraction = secs
	case StageValidation:
		t.Validation = secs
	case StageMatching:
		t.Matching = secs
	case StageReview:
		t.Review = secs
	}
	t.Total = t.Extraction + t.Validation + t.Matching + t.Review
}

// Resolution is the human verdict on a reviewed invoice.
type Resolution struct {
	Status     ReviewStatus `json:"status"`
	Notes      string       `json:"notes,omitempty"`
	ResolvedBy string       `json:"resolved_by,omitempty"`
	ResolvedAt time.Time    `json:"resolved_at"`
}

// Correction is one human edit to an extracted field.
type Correction struct {
	Field       string    `json:"field"`
	OldValue    string    `json:"old_value"`
	NewValue    string    `json:"new_value"`
	Notes       string    `json:"notes,omitempty"`
	CorrectedBy string    `json:"corrected_by,omitempty"`
	CorrectedAt time.Time `json:"corrected_at"`
}

// PipelineResult is the persisted record of one invoice.
type PipelineResult struct {
	Key         string            `json:"key"`
	RunID       string            `json:"run_id"`
	Status      PipelineStatus    `json:"status"`
	Invoice     InvoiceRecord     `json:"invoice"`
	Validation  *ValidationResult `json:"validation_result,omitempty"`
	Matching    *MatchResult      `json:"matching_result,omitempty"`
	Review      *ReviewDecision   `json:"review_result,omitempty"`
	Timings     StageTimings      `json:"timings"`
	Error       string            `json:"error,omitempty"`
	FailedStage string            `json:"failed_stage,omitempty"`
	Resolution  *Resolution       `json:"resolution,omitempty"`
	Corrections []Correction      `json:"corrections,omitempty"`
	CreatedAt   time.Time         `json:"created_at"`
	UpdatedAt   time.Time         `json:"updated_at"`
}
