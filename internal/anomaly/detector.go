// Package anomaly flags invoices whose contents look wrong for business
// reasons rather than for data-quality ones.
package anomaly

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/sells-group/invoice-cli/internal/config"
	"github.com/sells-group/invoice-cli/internal/model"
)

// History looks up previously stored invoices. The pipeline hands the
// detector a view taken before the current run first wrote its record.
type History interface {
	FindByInvoiceNumber(ctx context.Context, number string) ([]model.PipelineResult, error)
}

// Sink receives non-empty detection results.
type Sink interface {
	UpsertAnomaly(ctx context.Context, rec model.AnomalyRecord) error
}

// Config holds the detection thresholds.
type Config struct {
	ConfidenceThreshold float64
	HighAmount          decimal.Decimal
	StaleDays           int
	SuspiciousTaxRatio  decimal.Decimal
}

// DefaultConfig returns the standard thresholds.
func DefaultConfig() Config {
	return Config{
		ConfidenceThreshold: 0.9,
		HighAmount:          decimal.NewFromInt(1_000_000),
		StaleDays:           365,
		SuspiciousTaxRatio:  decimal.RequireFromString("0.3"),
	}
}

// ConfigFrom builds a Config from the application config, keeping defaults
// for unset values.
func ConfigFrom(cfg *config.Config) Config {
	out := DefaultConfig()
	if cfg.Review.ConfidenceThreshold > 0 {
		out.ConfidenceThreshold = cfg.Review.ConfidenceThreshold
	}
	if cfg.Anomaly.HighAmount > 0 {
		out.HighAmount = decimal.NewFromFloat(cfg.Anomaly.HighAmount)
	}
	if cfg.Anomaly.StaleDays > 0 {
		out.StaleDays = cfg.Anomaly.StaleDays
	}
	if cfg.Anomaly.SuspiciousTaxRatio > 0 {
		out.SuspiciousTaxRatio = decimal.NewFromFloat(cfg.Anomaly.SuspiciousTaxRatio)
	}
	return out
}

// Detector runs every anomaly rule against a record.
type Detector struct {
	cfg  Config
	sink Sink
	now  func() time.Time
	log  *zap.Logger
}

// NewDetector creates a Detector. sink may be nil.
func NewDetector(cfg Config, sink Sink) *Detector {
	return &Detector{
		cfg:  cfg,
		sink: sink,
		now:  time.Now,
		log:  zap.L().With(zap.String("component", "anomaly")),
	}
}

// Detect evaluates all rules and returns the anomalies found. An empty map
// means the record is clean. Non-empty results are written to the sink.
// A nil history skips the duplicate check.
func (d *Detector) Detect(ctx context.Context, rec *model.InvoiceRecord, history History) (found model.Anomalies) {
	found = model.Anomalies{}
	defer func() {
		if r := recover(); r != nil {
			d.log.Error("anomaly: detector panic", zap.Any("panic", r))
			found = model.Anomalies{
				model.AnomalyError: {Reason: fmt.Sprintf("anomaly detection failed: %v", r)},
			}
		}
	}()

	d.checkConfidence(rec, found)
	d.checkAmount(rec, found)
	d.checkDuplicate(ctx, rec, history, found)
	d.checkDate(rec, found)
	d.checkTax(rec, found)

	if len(found) == 0 {
		d.log.Debug("anomaly: none detected", zap.String("invoice_number", rec.InvoiceNumber))
		return found
	}

	d.log.Warn("anomaly: detected",
		zap.String("invoice_number", rec.InvoiceNumber),
		zap.Int("count", len(found)),
	)
	d.record(ctx, rec, found)
	return found
}

func (d *Detector) checkConfidence(rec *model.InvoiceRecord, found model.Anomalies) {
	if rec.Confidence >= d.cfg.ConfidenceThreshold {
		return
	}
	found[model.AnomalyLowConfidence] = model.AnomalyDetail{
		Reason:    fmt.Sprintf("Confidence score %.2f below threshold %.2f", rec.Confidence, d.cfg.ConfidenceThreshold),
		Value:     fmt.Sprintf("%.4f", rec.Confidence),
		Threshold: fmt.Sprintf("%.2f", d.cfg.ConfidenceThreshold),
	}
}

func (d *Detector) checkAmount(rec *model.InvoiceRecord, found model.Anomalies) {
	if !rec.TotalAmount.Valid {
		found[model.AnomalyInvalidAmount] = model.AnomalyDetail{Reason: "Total amount is missing"}
		return
	}
	total := rec.TotalAmount.Decimal
	switch {
	case total.GreaterThan(d.cfg.HighAmount):
		found[model.AnomalyHighAmount] = model.AnomalyDetail{
			Reason:    fmt.Sprintf("Amount %s exceeds threshold %s", total.StringFixed(2), d.cfg.HighAmount.StringFixed(2)),
			Value:     total.String(),
			Threshold: d.cfg.HighAmount.String(),
		}
	case !total.IsPositive():
		found[model.AnomalyInvalidAmount] = model.AnomalyDetail{
			Reason: "Amount must be positive",
			Value:  total.String(),
		}
	}
}

// checkDuplicate flags an earlier record with the same number and vendor.
// Records written by the same run, and failed attempts at the same document,
// are ignored.
func (d *Detector) checkDuplicate(ctx context.Context, rec *model.InvoiceRecord, history History, found model.Anomalies) {
	number := strings.TrimSpace(rec.InvoiceNumber)
	if history == nil || number == "" || rec.Failure != model.FailureNone || model.IsSentinel(number) {
		return
	}

	prior, err := history.FindByInvoiceNumber(ctx, number)
	if err != nil {
		d.log.Error("anomaly: history lookup failed", zap.String("invoice_number", number), zap.Error(err))
		found[model.AnomalyError] = model.AnomalyDetail{
			Reason: fmt.Sprintf("duplicate check failed: %v", err),
		}
		return
	}

	vendor := strings.TrimSpace(rec.VendorName)
	for _, p := range prior {
		if rec.RunID != "" && p.Invoice.RunID == rec.RunID {
			continue
		}
		if p.Status == model.StatusError && p.Invoice.DocumentPath == rec.DocumentPath {
			continue
		}
		if !strings.EqualFold(strings.TrimSpace(p.Invoice.VendorName), vendor) {
			continue
		}
		ref := &model.HistoricalReference{
			InvoiceDate:  p.Invoice.InvoiceDate,
			DocumentPath: p.Invoice.DocumentPath,
		}
		if p.Invoice.TotalAmount.Valid {
			ref.TotalAmount = p.Invoice.TotalAmount.Decimal.String()
		}
		found[model.AnomalyDuplicate] = model.AnomalyDetail{
			Reason:    "Invoice number already exists in system",
			Value:     number,
			Reference: ref,
		}
		return
	}
}

func (d *Detector) checkDate(rec *model.InvoiceRecord, found model.Anomalies) {
	date, err := rec.ParsedDate()
	if err != nil {
		found[model.AnomalyDateIssue] = model.AnomalyDetail{
			Reason: "Invalid date format",
			Code:   model.DateUnparsable,
			Value:  rec.InvoiceDate,
		}
		return
	}

	now := d.now()
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	if date.After(today) {
		found[model.AnomalyDateIssue] = model.AnomalyDetail{
			Reason: "Invoice date is in the future",
			Code:   model.DateFuture,
			Value:  rec.InvoiceDate,
		}
		return
	}

	age := int(today.Sub(date).Hours() / 24)
	if age > d.cfg.StaleDays {
		found[model.AnomalyDateIssue] = model.AnomalyDetail{
			Reason:    fmt.Sprintf("Invoice is over %d days old", d.cfg.StaleDays),
			Code:      model.DateStale,
			Value:     rec.InvoiceDate,
			AgeInDays: age,
		}
	}
}

func (d *Detector) checkTax(rec *model.InvoiceRecord, found model.Anomalies) {
	if !rec.TaxAmount.Valid {
		return
	}
	tax := rec.TaxAmount.Decimal

	if tax.IsNegative() {
		found[model.AnomalyInvalidTax] = model.AnomalyDetail{
			Reason: "Tax amount cannot be negative",
			Value:  tax.String(),
		}
		return
	}
	if !rec.TotalAmount.Valid {
		return
	}
	total := rec.TotalAmount.Decimal

	if tax.GreaterThan(total) {
		found[model.AnomalyInvalidTax] = model.AnomalyDetail{
			Reason:    "Tax amount greater than total amount",
			Value:     tax.String(),
			Threshold: total.String(),
		}
		return
	}
	if limit := total.Mul(d.cfg.SuspiciousTaxRatio); total.IsPositive() && tax.GreaterThan(limit) {
		found[model.AnomalySuspiciousTax] = model.AnomalyDetail{
			Reason:    "Tax amount unusually high relative to total",
			Value:     tax.String(),
			Threshold: limit.StringFixed(2),
		}
	}
}

// record writes the side-channel entry. Failures are logged only.
func (d *Detector) record(ctx context.Context, rec *model.InvoiceRecord, found model.Anomalies) {
	if d.sink == nil {
		return
	}
	entry := model.AnomalyRecord{
		InvoiceNumber: model.RecordKey(rec),
		Anomalies:     found,
		Severity:      model.SeverityFor(len(found)),
		DetectedAt:    d.now().UTC(),
	}
	if err := d.sink.UpsertAnomaly(ctx, entry); err != nil {
		d.log.Error("anomaly: record failed",
			zap.String("invoice_number", entry.InvoiceNumber),
			zap.Error(err),
		)
	}
}
