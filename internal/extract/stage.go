// Package extract reads invoice documents into structured records.
package extract

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/invoice-cli/internal/config"
	"github.com/sells-group/invoice-cli/internal/model"
	"github.com/sells-group/invoice-cli/internal/ocr"
	"github.com/sells-group/invoice-cli/internal/resilience"
	"github.com/sells-group/invoice-cli/internal/scorer"
)

// Extraction methods.
const (
	MethodRegex = "regex"
	MethodLLM   = "llm"
)

const (
	msgUnreadable   = "Document is empty or unreadable"
	msgNotInvoice   = "Document does not appear to be an invoice"
	msgLowQuality   = "Missing required fields or low confidence extraction"
	failedFieldConf = 0.1
	llmFieldConf    = 0.95
	llmCleanedConf  = 0.85
)

var invoiceIndicators = []string{"invoice", "bill", "total", "amount", "date", "payment"}

// Config controls the extraction stage.
type Config struct {
	Method              string
	Currency            string
	ConfidenceThreshold float64
	SimilarityPenalty   float64
}

// ConfigFrom builds a Config from the application config.
func ConfigFrom(cfg *config.Config) Config {
	return Config{
		Method:              cfg.Extraction.Method,
		Currency:            cfg.Extraction.Currency,
		ConfidenceThreshold: cfg.Review.ConfidenceThreshold,
		SimilarityPenalty:   cfg.Extraction.SimilarityPenalty,
	}
}

func (c Config) withDefaults() Config {
	if c.Method == "" {
		c.Method = MethodRegex
	}
	if c.Currency == "" {
		c.Currency = "GBP"
	}
	if c.ConfidenceThreshold <= 0 {
		c.ConfidenceThreshold = 0.9
	}
	if c.SimilarityPenalty <= 0 {
		c.SimilarityPenalty = 0.2
	}
	return c
}

// Stage turns a document path into an InvoiceRecord.
type Stage struct {
	cfg    Config
	text   ocr.Extractor
	oracle Oracle
	index  *ErrorIndex
	scorer *scorer.Scorer
	now    func() time.Time
	log    *zap.Logger
}

// NewStage creates an extraction stage. oracle is required for the llm
// method; index may be nil.
func NewStage(cfg Config, text ocr.Extractor, oracle Oracle, index *ErrorIndex) (*Stage, error) {
	cfg = cfg.withDefaults()
	switch cfg.Method {
	case MethodRegex:
	case MethodLLM:
		if oracle == nil {
			return nil, eris.New("extract: llm method requires an oracle")
		}
	default:
		return nil, eris.Errorf("extract: unknown method %q", cfg.Method)
	}
	if text == nil {
		return nil, eris.New("extract: text extractor is required")
	}
	return &Stage{
		cfg:    cfg,
		text:   text,
		oracle: oracle,
		index:  index,
		scorer: scorer.New(),
		now:    time.Now,
		log:    zap.L().With(zap.String("component", "extract")),
	}, nil
}

// Extract reads the document at path. Unreadable documents, non-invoices
// and failed oracle calls yield a fallback record rather than an error.
// Only transient oracle failures and cancellation are returned.
func (s *Stage) Extract(ctx context.Context, path string) (rec *model.InvoiceRecord, err error) {
	log := s.log.With(zap.String("path", path))
	defer func() {
		if r := recover(); r != nil {
			log.Error("extract: critical failure", zap.Any("panic", r))
			rec = s.fallback(path, model.SentinelError, model.SentinelErrorUpper,
				fmt.Sprintf("Critical error: %v", r), model.FailureInternal, 0.0)
			err = nil
		}
	}()

	text, err := s.text.ExtractText(ctx, path)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, eris.Wrap(ctxErr, "extract: text")
		}
		log.Warn("extract: text extraction failed", zap.Error(err))
		text = ""
	}

	if strings.TrimSpace(text) == "" {
		log.Warn("extract: no text extracted")
		return s.fallback(path, model.SentinelUnknown, model.SentinelUnreadable,
			msgUnreadable, model.FailureUnreadable, failedFieldConf), nil
	}
	if !looksLikeInvoice(text) {
		log.Warn("extract: document does not look like an invoice")
		return s.fallback(path, model.SentinelUnknown, model.SentinelInvalid,
			msgNotInvoice, model.FailureNotInvoice, failedFieldConf), nil
	}

	similar := s.index.Match(text)
	if similar != nil {
		log.Warn("extract: similar to known error",
			zap.String("sample", similar.SampleID),
			zap.Float64("similarity", similar.Similarity),
		)
	}

	var fields map[string]any
	switch s.cfg.Method {
	case MethodLLM:
		of, err := s.oracle.ExtractFields(ctx, text)
		if err != nil {
			if resilience.IsTransient(err) || ctx.Err() != nil {
				return nil, eris.Wrap(err, "extract: oracle")
			}
			log.Warn("extract: oracle failed, using fallback", zap.Error(err))
			return s.fallback(path, model.SentinelUnknown, model.SentinelFailed,
				"Extraction failed: "+err.Error(), model.FailureOracle, failedFieldConf), nil
		}
		fields = s.oracleFields(of)
	default:
		fields = regexFields(text, s.cfg.Currency)
	}

	rec = s.buildRecord(path, fields)
	confidence := s.scorer.Score(fields)
	if similar != nil {
		confidence = math.Max(failedFieldConf, confidence-s.cfg.SimilarityPenalty)
		rec.SimilarError = similar
	}
	rec.SetConfidence(confidence)

	if rec.InvoiceNumber == "" || !rec.TotalAmount.Valid || rec.Confidence < s.cfg.ConfidenceThreshold {
		rec.ReviewStatus = model.ReviewNeedsReview
		rec.ErrorMessage = msgLowQuality
	}

	log.Info("extract: complete",
		zap.String("invoice_number", rec.InvoiceNumber),
		zap.String("method", s.cfg.Method),
		zap.Float64("confidence", rec.Confidence),
		zap.String("review_status", string(rec.ReviewStatus)),
	)
	return rec, nil
}

func looksLikeInvoice(text string) bool {
	lower := strings.ToLower(text)
	for _, w := range invoiceIndicators {
		if strings.Contains(lower, w) {
			return true
		}
	}
	return false
}

func (s *Stage) fallback(path, vendor, number, message string, kind model.FailureKind, confidence float64) *model.InvoiceRecord {
	rec := model.FallbackRecord(path, vendor, number, s.cfg.Currency, message, kind, confidence, s.now())
	rec.ExtractionMethod = s.cfg.Method
	return rec
}

func (s *Stage) oracleFields(of *OracleFields) map[string]any {
	fields := map[string]any{
		scorer.FieldVendorName:    scorer.Annotated(strings.TrimSpace(of.VendorName), llmFieldConf),
		scorer.FieldInvoiceNumber: scorer.Annotated(strings.TrimSpace(of.InvoiceNumber), llmFieldConf),
		scorer.FieldInvoiceDate:   scorer.Annotated(normalizeDate(of.InvoiceDate), llmFieldConf),
		scorer.FieldCurrency:      scorer.Annotated(s.cfg.Currency, 1.0),
	}

	total := strings.TrimSpace(string(of.TotalAmount))
	totalConf := llmFieldConf
	if amount, cleaned, err := parseAmount(total); err == nil {
		if cleaned {
			totalConf = llmCleanedConf
		}
		total = amount.String()
	}
	fields[scorer.FieldTotalAmount] = scorer.Annotated(total, totalConf)

	if tax := strings.TrimSpace(string(of.TaxAmount)); tax != "" {
		fields[scorer.FieldTaxAmount] = scorer.Annotated(tax, llmFieldConf)
	}
	if po := strings.TrimSpace(of.PONumber); po != "" {
		fields[scorer.FieldPONumber] = scorer.Annotated(po, llmFieldConf)
	}
	return fields
}

func (s *Stage) buildRecord(path string, fields map[string]any) *model.InvoiceRecord {
	value := func(name string) string {
		if f, ok := fields[name].(scorer.Field); ok {
			if v, ok := f.Value.(string); ok {
				return v
			}
		}
		return ""
	}

	rec := &model.InvoiceRecord{
		VendorName:       value(scorer.FieldVendorName),
		InvoiceNumber:    value(scorer.FieldInvoiceNumber),
		InvoiceDate:      value(scorer.FieldInvoiceDate),
		TotalAmount:      nullAmount(value(scorer.FieldTotalAmount)),
		Currency:         s.cfg.Currency,
		PONumber:         value(scorer.FieldPONumber),
		ReviewStatus:     model.ReviewPending,
		DocumentPath:     path,
		ExtractionMethod: s.cfg.Method,
		FieldConfidence:  make(map[string]float64, len(fields)),
	}
	if tax := value(scorer.FieldTaxAmount); tax != "" {
		rec.TaxAmount = nullAmount(tax)
	}
	for name, f := range fields {
		if af, ok := f.(scorer.Field); ok {
			rec.FieldConfidence[name] = model.ClampConfidence(af.Confidence)
		}
	}
	return rec
}

