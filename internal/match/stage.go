// Package match links invoices to approved purchase orders by vendor name.
package match

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/invoice-cli/internal/model"
	"github.com/sells-group/invoice-cli/internal/resilience"
)

const (
	// DefaultThreshold is the similarity a vendor must exceed to match.
	DefaultThreshold = 0.85

	msgNoPOData = "No PO data available"
)

// Stage matches an invoice's vendor against the PO reference table.
type Stage struct {
	ref       Reference
	threshold float64
	log       *zap.Logger
}

// NewStage creates a matching stage. A threshold outside (0,1] falls back
// to DefaultThreshold.
func NewStage(ref Reference, threshold float64) *Stage {
	if threshold <= 0 || threshold > 1 {
		threshold = DefaultThreshold
	}
	return &Stage{
		ref:       ref,
		threshold: threshold,
		log:       zap.L().With(zap.String("component", "match")),
	}
}

// Match returns the best PO whose vendor similarity exceeds the threshold.
// Reference problems are reported as a MatchError result; only transient
// load failures and cancellation are returned as errors.
func (s *Stage) Match(ctx context.Context, rec *model.InvoiceRecord) (*model.MatchResult, error) {
	start := time.Now()
	log := s.log.With(zap.String("invoice_number", rec.InvoiceNumber))

	if s.ref == nil {
		return &model.MatchResult{Status: model.MatchError, Message: msgNoPOData}, nil
	}

	pos, err := s.ref.PurchaseOrders(ctx)
	if err != nil {
		if resilience.IsTransient(err) || ctx.Err() != nil {
			return nil, eris.Wrap(err, "match: load reference")
		}
		msg := err.Error()
		if eris.Is(err, ErrNoReference) {
			msg = msgNoPOData
		}
		log.Warn("match: reference unavailable", zap.Error(err))
		return &model.MatchResult{Status: model.MatchError, Message: msg}, nil
	}

	var best *model.PurchaseOrder
	bestScore := 0.0
	for i := range pos {
		score := VendorSimilarity(rec.VendorName, pos[i].VendorName)
		if score > s.threshold && score > bestScore {
			best, bestScore = &pos[i], score
		}
	}

	result := &model.MatchResult{Status: model.MatchUnmatched}
	if best != nil {
		po := best.PONumber
		result = &model.MatchResult{
			Status:        model.MatchMatched,
			PONumber:      &po,
			Confidence:    bestScore,
			MatchedVendor: best.VendorName,
		}
	}

	log.Info("match: complete",
		zap.String("status", string(result.Status)),
		zap.Float64("confidence", result.Confidence),
		zap.Int("candidates", len(pos)),
		zap.Int64("duration_ms", time.Since(start).Milliseconds()),
	)
	return result, nil
}
