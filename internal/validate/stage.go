// Package validate applies business rules and anomaly detection to an
// extracted invoice.
package validate

import (
	"context"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/sells-group/invoice-cli/internal/anomaly"
	"github.com/sells-group/invoice-cli/internal/config"
	"github.com/sells-group/invoice-cli/internal/model"
)

// Field keys used in ValidationResult errors.
const (
	FieldVendorName    = "vendor_name"
	FieldInvoiceNumber = "invoice_number"
	FieldInvoiceDate   = "invoice_date"
	FieldTotalAmount   = "total_amount"
	FieldTaxAmount     = "tax_amount"
	FieldCurrency      = "currency"
)

const (
	msgMissing       = "Missing required field"
	msgNotPositive   = "Amount must be positive"
	msgOverMax       = "Amount exceeds maximum threshold"
	msgBadDate       = "Invalid date format (expected YYYY-MM-DD)"
	msgBadCurrency   = "Invalid currency code"
	msgNegativeTax   = "Tax amount cannot be negative"
	msgTaxOverTotal  = "Tax amount greater than total amount"
	msgSentinelValue = "Field contains a failure placeholder"
)

// Detector finds anomalies in a record. history may be nil.
type Detector interface {
	Detect(ctx context.Context, rec *model.InvoiceRecord, history anomaly.History) model.Anomalies
}

// Config holds the validation limits.
type Config struct {
	MaxAmount decimal.Decimal
	Currency  string
}

// DefaultConfig returns a 1,000,000 GBP ceiling.
func DefaultConfig() Config {
	return Config{MaxAmount: decimal.NewFromInt(1_000_000), Currency: "GBP"}
}

// ConfigFrom builds a Config from the application config.
func ConfigFrom(cfg *config.Config) Config {
	out := DefaultConfig()
	if cfg.Validation.MaxAmount > 0 {
		out.MaxAmount = decimal.NewFromFloat(cfg.Validation.MaxAmount)
	}
	if cfg.Extraction.Currency != "" {
		out.Currency = cfg.Extraction.Currency
	}
	return out
}

// Stage runs every rule against a record, then the anomaly detector.
type Stage struct {
	cfg      Config
	detector Detector
	log      *zap.Logger
}

// NewStage creates a validation stage. detector may be nil.
func NewStage(cfg Config, detector Detector) *Stage {
	if cfg.MaxAmount.IsZero() {
		cfg.MaxAmount = DefaultConfig().MaxAmount
	}
	return &Stage{
		cfg:      cfg,
		detector: detector,
		log:      zap.L().With(zap.String("component", "validate")),
	}
}

// Validate checks rec and marks it needs_review when any rule fails or any
// anomaly is found. history is the earlier-run view used for the duplicate
// check. Only context cancellation is returned as an error.
func (s *Stage) Validate(ctx context.Context, rec *model.InvoiceRecord, history anomaly.History) (*model.ValidationResult, error) {
	start := time.Now()
	errs := s.checkRules(rec)

	anomalies, err := s.detect(ctx, rec, history)
	if err != nil {
		return nil, err
	}

	vr := model.NewValidationResult(errs, anomalies)
	if !vr.Valid() {
		rec.ReviewStatus = model.ReviewNeedsReview
	}

	s.log.Info("validate: complete",
		zap.String("invoice_number", rec.InvoiceNumber),
		zap.String("status", string(vr.Status)),
		zap.Strings("failed", vr.FailedFields()),
		zap.Int64("duration_ms", time.Since(start).Milliseconds()),
	)
	return vr, nil
}

func (s *Stage) checkRules(rec *model.InvoiceRecord) map[string]string {
	errs := map[string]string{}

	required := map[string]string{
		FieldVendorName:    rec.VendorName,
		FieldInvoiceNumber: rec.InvoiceNumber,
		FieldInvoiceDate:   rec.InvoiceDate,
	}
	for field, v := range required {
		if strings.TrimSpace(v) == "" {
			errs[field] = msgMissing
		}
	}

	if !rec.TotalAmount.Valid {
		errs[FieldTotalAmount] = msgMissing
	} else {
		switch amt := rec.TotalAmount.Decimal; {
		case !amt.IsPositive():
			errs[FieldTotalAmount] = msgNotPositive
		case amt.GreaterThan(s.cfg.MaxAmount):
			errs[FieldTotalAmount] = msgOverMax
		}
	}

	if _, ok := errs[FieldInvoiceDate]; !ok {
		if _, err := rec.ParsedDate(); err != nil {
			errs[FieldInvoiceDate] = msgBadDate
		}
	}

	if strings.TrimSpace(rec.Currency) != s.cfg.Currency {
		errs[FieldCurrency] = msgBadCurrency
	}

	if rec.TaxAmount.Valid {
		tax := rec.TaxAmount.Decimal
		switch {
		case tax.IsNegative():
			errs[FieldTaxAmount] = msgNegativeTax
		case rec.TotalAmount.Valid && tax.GreaterThan(rec.TotalAmount.Decimal):
			errs[FieldTaxAmount] = msgTaxOverTotal
		}
	}

	for field, v := range map[string]string{
		FieldVendorName:    rec.VendorName,
		FieldInvoiceNumber: rec.InvoiceNumber,
	} {
		if _, ok := errs[field]; !ok && model.IsSentinel(v) {
			errs[field] = msgSentinelValue
		}
	}
	return errs
}

// detect runs the detector off the caller's goroutine so a slow history
// lookup can be abandoned on cancellation.
func (s *Stage) detect(ctx context.Context, rec *model.InvoiceRecord, history anomaly.History) (model.Anomalies, error) {
	if s.detector == nil {
		return nil, nil
	}
	snapshot := *rec
	done := make(chan model.Anomalies, 1)
	go func() {
		done <- s.detector.Detect(ctx, &snapshot, history)
	}()

	select {
	case found := <-done:
		if len(found) == 0 {
			return nil, nil
		}
		return found, nil
	case <-ctx.Done():
		return nil, eris.Wrap(ctx.Err(), "validate: anomaly detection")
	}
}
