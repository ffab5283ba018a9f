// Package review routes processed invoices to automatic approval or the
// human review queue, and applies human decisions.
package review

import (
	"context"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/sells-group/invoice-cli/internal/model"
)

// Review reasons.
const (
	ReasonLowConfidence    = "Low confidence score"
	ReasonValidation       = "Validation failed"
	ReasonAnomalies        = "Anomalies detected"
	ReasonVendorUnknown    = "Vendor could not be identified"
	ReasonNumberUnreadable = "Invoice number could not be read"
)

// DefaultThreshold is the confidence below which an invoice needs review.
const DefaultThreshold = 0.9

// Stage decides whether an invoice can be approved without a human.
type Stage struct {
	threshold float64
	now       func() time.Time
	log       *zap.Logger
}

// NewStage creates a review stage. A threshold outside (0,1] falls back to
// DefaultThreshold.
func NewStage(threshold float64) *Stage {
	if threshold <= 0 || threshold > 1 {
		threshold = DefaultThreshold
	}
	return &Stage{
		threshold: threshold,
		now:       time.Now,
		log:       zap.L().With(zap.String("component", "review")),
	}
}

// Review evaluates every condition and keeps all reasons. vr may be nil
// when validation did not run.
func (s *Stage) Review(_ context.Context, rec *model.InvoiceRecord, vr *model.ValidationResult) (*model.ReviewDecision, error) {
	var reasons []string

	if rec.Confidence < s.threshold {
		reasons = append(reasons, ReasonLowConfidence)
	}
	if vr != nil && !vr.Valid() {
		reason := ReasonValidation
		if fields := vr.FailedFields(); len(fields) > 0 {
			reason += ": " + strings.Join(fields, ", ")
		}
		reasons = append(reasons, reason)
	}
	if vr != nil && len(vr.Anomalies) > 0 {
		reasons = append(reasons, ReasonAnomalies)
	}
	failed := rec.Failure != model.FailureNone
	if failed || model.IsSentinel(rec.VendorName) {
		reasons = append(reasons, ReasonVendorUnknown)
	}
	if failed || model.IsSentinel(rec.InvoiceNumber) {
		reasons = append(reasons, ReasonNumberUnreadable)
	}

	d := &model.ReviewDecision{Reasons: reasons, Priority: priorityFor(len(reasons))}
	if len(reasons) == 0 {
		now := s.now().UTC()
		d.Status = model.ReviewApproved
		d.Reasons = []string{}
		d.ReviewedAt = &now
	} else {
		d.Status = model.ReviewNeedsReview
	}

	s.log.Info("review: complete",
		zap.String("invoice_number", rec.InvoiceNumber),
		zap.String("status", string(d.Status)),
		zap.String("priority", string(d.Priority)),
		zap.Strings("reasons", d.Reasons),
	)
	return d, nil
}

func priorityFor(n int) model.Priority {
	switch {
	case n > 2:
		return model.PriorityHigh
	case n > 1:
		return model.PriorityMedium
	}
	return model.PriorityLow
}
