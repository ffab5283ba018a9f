package model

import "time"

// AnomalyKind names a detected anomaly.
type AnomalyKind string

const (
	AnomalyLowConfidence AnomalyKind = "low_confidence"
	AnomalyHighAmount    AnomalyKind = "high_amount"
	AnomalyInvalidAmount AnomalyKind = "invalid_amount"
	AnomalyDuplicate     AnomalyKind = "duplicate"
	AnomalyDateIssue     AnomalyKind = "date_issue"
	AnomalyInvalidTax    AnomalyKind = "invalid_tax"
	AnomalySuspiciousTax AnomalyKind = "suspicious_tax"
	AnomalyError         AnomalyKind = "error"
)

// Date issue codes.
const (
	DateFuture     = "future"
	DateStale      = "stale"
	DateUnparsable = "unparsable"
)

// HistoricalReference points at the earlier record a duplicate collides with.
type HistoricalReference struct {
	InvoiceDate  string `json:"invoice_date"`
	TotalAmount  string `json:"total_amount"`
	DocumentPath string `json:"original_path,omitempty"`
}

// AnomalyDetail describes one anomaly.
type AnomalyDetail struct {
	Reason    string               `json:"reason"`
	Code      string               `json:"code,omitempty"`
	Value     string               `json:"value,omitempty"`
	Threshold string               `json:"threshold,omitempty"`
	AgeInDays int                  `json:"age_in_days,omitempty"`
	Reference *HistoricalReference `json:"reference,omitempty"`
}

// Anomalies maps kind to detail. An empty map means clean.
type Anomalies map[AnomalyKind]AnomalyDetail

// Severity grades an anomaly record by how many anomalies it holds.
type Severity string

const (
	SeverityLow    Severity = "low"
	SeverityMedium Severity = "medium"
	SeverityHigh   Severity = "high"
)

// SeverityFor grades n anomalies.
func SeverityFor(n int) Severity {
	switch {
	case n >= 3:
		return SeverityHigh
	case n == 2:
		return SeverityMedium
	default:
		return SeverityLow
	}
}

// AnomalyRecord is the persisted anomaly side-channel entry, keyed by
// invoice number.
type AnomalyRecord struct {
	InvoiceNumber   string     `json:"invoice_number"`
	Anomalies       Anomalies  `json:"anomalies"`
	Severity        Severity   `json:"severity"`
	DetectedAt      time.Time  `json:"detected_at"`
	Resolved        bool       `json:"resolved"`
	ResolvedAt      *time.Time `json:"resolved_at,omitempty"`
	ResolutionNotes string     `json:"resolution_notes,omitempty"`
}
