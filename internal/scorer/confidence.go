// Package scorer computes the overall confidence of an extracted invoice from
// its per-field values and confidences.
package scorer

import (
	"encoding/json"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Field names with scoring rules.
const (
	FieldInvoiceNumber = "invoice_number"
	FieldTotalAmount   = "total_amount"
	FieldVendorName    = "vendor_name"
	FieldInvoiceDate   = "invoice_date"
	FieldPONumber      = "po_number"
	FieldTaxAmount     = "tax_amount"
	FieldCurrency      = "currency"

	// KeyConfidence short-circuits scoring when it holds a numeric scalar.
	KeyConfidence = "confidence"
)

const (
	defaultWeight     = 1.0
	presentConfidence = 0.95
	absentConfidence  = 0.1
	fallbackScore     = 0.1

	unparsableAmountFactor  = 0.3
	nonPositiveAmountFactor = 0.5
	badDateFactor           = 0.5
	missingKeyFieldFactor   = 0.5
	minDateLength           = 8
)

// DefaultWeights returns the per-field weights. Fields not listed weigh 1.0.
func DefaultWeights() map[string]float64 {
	return map[string]float64{
		FieldInvoiceNumber: 2.0,
		FieldTotalAmount:   2.0,
		FieldVendorName:    1.5,
		FieldInvoiceDate:   1.5,
		FieldPONumber:      1.0,
		FieldTaxAmount:     1.0,
		FieldCurrency:      1.0,
	}
}

// Field is a value annotated with its extraction confidence.
type Field struct {
	Value      any
	Confidence float64
}

// Annotated pairs v with confidence c.
func Annotated(v any, c float64) Field {
	return Field{Value: v, Confidence: c}
}

// Scorer computes a weighted confidence score in [0,1].
type Scorer struct {
	weights map[string]float64
}

// New creates a Scorer with the default weights.
func New() *Scorer {
	return &Scorer{weights: DefaultWeights()}
}

// Score returns the weighted mean of per-field confidences, penalized for
// implausible amounts and dates and for missing key fields. A numeric
// "confidence" entry is returned as-is. Malformed input yields 0.1.
func (s *Scorer) Score(data map[string]any) (score float64) {
	defer func() {
		if r := recover(); r != nil {
			zap.L().Warn("scorer: recovered from panic", zap.Any("panic", r))
			score = fallbackScore
		}
	}()

	if raw, ok := data[KeyConfidence]; ok {
		if c, ok := asFloat(raw); ok {
			return clamp(c)
		}
	}

	var weighted, totalWeight float64
	for name, raw := range data {
		if name == KeyConfidence {
			continue
		}
		value, conf, explicit := unpack(raw)
		if !explicit {
			conf = presentConfidence
			if isEmpty(value) {
				conf = absentConfidence
			}
		}
		if !isEmpty(value) {
			conf *= plausibility(name, value)
		}

		w, ok := s.weights[name]
		if !ok {
			w = defaultWeight
		}
		weighted += clamp(conf) * w
		totalWeight += w
	}

	if totalWeight == 0 {
		return fallbackScore
	}
	score = weighted / totalWeight

	for _, key := range []string{FieldInvoiceNumber, FieldTotalAmount} {
		raw, ok := data[key]
		if !ok {
			score *= missingKeyFieldFactor
			continue
		}
		if v, _, _ := unpack(raw); isEmpty(v) {
			score *= missingKeyFieldFactor
		}
	}

	return clamp(score)
}

// plausibility returns the multiplicative penalty for a non-empty value.
func plausibility(name string, v any) float64 {
	switch name {
	case FieldTotalAmount:
		amt, ok := parseAmount(v)
		if !ok {
			return unparsableAmountFactor
		}
		if !amt.IsPositive() {
			return nonPositiveAmountFactor
		}
	case FieldInvoiceDate:
		switch d := v.(type) {
		case string:
			if len(strings.TrimSpace(d)) < minDateLength {
				return badDateFactor
			}
		case time.Time:
		default:
			return badDateFactor
		}
	}
	return 1.0
}

func unpack(raw any) (value any, conf float64, explicit bool) {
	switch f := raw.(type) {
	case Field:
		return f.Value, f.Confidence, true
	case *Field:
		if f == nil {
			return nil, 0, false
		}
		return f.Value, f.Confidence, true
	case map[string]any:
		if c, ok := asFloat(f["confidence"]); ok {
			return f["value"], c, true
		}
		if v, ok := f["value"]; ok {
			return v, 0, false
		}
	}
	return raw, 0, false
}

func isEmpty(v any) bool {
	switch x := v.(type) {
	case nil:
		return true
	case string:
		return strings.TrimSpace(x) == ""
	case *string:
		return x == nil || strings.TrimSpace(*x) == ""
	case decimal.NullDecimal:
		return !x.Valid
	case time.Time:
		return x.IsZero()
	}
	return false
}

func parseAmount(v any) (decimal.Decimal, bool) {
	switch x := v.(type) {
	case decimal.Decimal:
		return x, true
	case decimal.NullDecimal:
		return x.Decimal, x.Valid
	case string:
		d, err := decimal.NewFromString(strings.ReplaceAll(strings.TrimSpace(x), ",", ""))
		return d, err == nil
	case json.Number:
		d, err := decimal.NewFromString(x.String())
		return d, err == nil
	case float64:
		if math.IsNaN(x) || math.IsInf(x, 0) {
			return decimal.Zero, false
		}
		return decimal.NewFromFloat(x), true
	case float32:
		return parseAmount(float64(x))
	case int:
		return decimal.NewFromInt(int64(x)), true
	case int64:
		return decimal.NewFromInt(x), true
	case fmt.Stringer:
		return parseAmount(x.String())
	}
	return decimal.Zero, false
}

func asFloat(v any) (float64, bool) {
	switch x := v.(type) {
	case float64:
		return x, true
	case float32:
		return float64(x), true
	case int:
		return float64(x), true
	case int64:
		return float64(x), true
	case json.Number:
		f, err := x.Float64()
		return f, err == nil
	}
	return 0, false
}

func clamp(c float64) float64 {
	if math.IsNaN(c) || c < 0 {
		return 0
	}
	if c > 1 {
		return 1
	}
	return c
}
