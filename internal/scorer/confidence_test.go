package scorer

import (
	"math"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func completeFields() map[string]any {
	return map[string]any{
		FieldVendorName:    Annotated("Acme Ltd", 0.95),
		FieldInvoiceNumber: Annotated("INV-001", 0.95),
		FieldInvoiceDate:   Annotated("2024-01-15", 0.95),
		FieldTotalAmount:   Annotated("1,250.00", 0.95),
		FieldCurrency:      Annotated("GBP", 1.0),
	}
}

func TestScore_CompleteRecord(t *testing.T) {
	s := New()
	got := s.Score(completeFields())
	// (0.95*1.5 + 0.95*2 + 0.95*1.5 + 0.95*2 + 1.0*1) / 8
	assert.InDelta(t, 0.95625, got, 1e-9)
}

func TestScore_ShortCircuit(t *testing.T) {
	s := New()
	assert.Equal(t, 0.42, s.Score(map[string]any{"confidence": 0.42, FieldInvoiceNumber: ""}))
	assert.Equal(t, 1.0, s.Score(map[string]any{"confidence": 7.0}))
	assert.Equal(t, 0.0, s.Score(map[string]any{"confidence": -2}))
}

func TestScore_Penalties(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(map[string]any)
		want   float64
	}{
		{
			name:   "unparsable amount",
			mutate: func(m map[string]any) { m[FieldTotalAmount] = Annotated("twelve", 0.95) },
			want:   (0.95*1.5 + 0.95*2 + 0.95*1.5 + 0.95*0.3*2 + 1.0) / 8,
		},
		{
			name:   "negative amount",
			mutate: func(m map[string]any) { m[FieldTotalAmount] = Annotated(decimal.NewFromInt(-5), 0.95) },
			want:   (0.95*1.5 + 0.95*2 + 0.95*1.5 + 0.95*0.5*2 + 1.0) / 8,
		},
		{
			name:   "short date",
			mutate: func(m map[string]any) { m[FieldInvoiceDate] = Annotated("1/1/24", 0.95) },
			want:   (0.95*1.5 + 0.95*2 + 0.95*0.5*1.5 + 0.95*2 + 1.0) / 8,
		},
		{
			name:   "non-string date",
			mutate: func(m map[string]any) { m[FieldInvoiceDate] = Annotated(20240115, 0.95) },
			want:   (0.95*1.5 + 0.95*2 + 0.95*0.5*1.5 + 0.95*2 + 1.0) / 8,
		},
		{
			name:   "missing invoice number",
			mutate: func(m map[string]any) { m[FieldInvoiceNumber] = Annotated("", 0.1) },
			want:   (0.95*1.5 + 0.1*2 + 0.95*1.5 + 0.95*2 + 1.0) / 8 * 0.5,
		},
		{
			name: "both key fields absent",
			mutate: func(m map[string]any) {
				delete(m, FieldInvoiceNumber)
				delete(m, FieldTotalAmount)
			},
			want: (0.95*1.5 + 0.95*1.5 + 1.0) / 4 * 0.25,
		},
	}

	s := New()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fields := completeFields()
			tt.mutate(fields)
			assert.InDelta(t, tt.want, s.Score(fields), 1e-9)
		})
	}
}

func TestScore_RawValuesUseDefaultConfidence(t *testing.T) {
	s := New()
	got := s.Score(map[string]any{
		FieldInvoiceNumber: "INV-9",
		FieldTotalAmount:   "",
	})
	// (0.95*2 + 0.1*2) / 4, halved for the empty total.
	assert.InDelta(t, (0.95*2+0.1*2)/4*0.5, got, 1e-9)
}

func TestScore_MapPairs(t *testing.T) {
	s := New()
	got := s.Score(map[string]any{
		FieldInvoiceNumber: map[string]any{"value": "INV-1", "confidence": 0.9},
		FieldTotalAmount:   map[string]any{"value": "10.00", "confidence": 0.9},
	})
	assert.InDelta(t, 0.9, got, 1e-9)
}

func TestScore_AlwaysInRange(t *testing.T) {
	s := New()
	inputs := []map[string]any{
		nil,
		{},
		{FieldTotalAmount: Annotated("1", 50)},
		{FieldTotalAmount: Annotated(math.NaN(), -3)},
		{"unknown": []int{1, 2}},
		{FieldInvoiceDate: struct{}{}},
		{FieldInvoiceNumber: (*Field)(nil)},
	}
	for _, in := range inputs {
		got := s.Score(in)
		assert.GreaterOrEqual(t, got, 0.0)
		assert.LessOrEqual(t, got, 1.0)
	}
	assert.Equal(t, 0.1, s.Score(nil))
}
