// Package store persists pipeline results, the anomaly side-channel, and the
// dead-letter queue.
package store

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/invoice-cli/internal/model"
	"github.com/sells-group/invoice-cli/internal/resilience"
)

// ErrNotFound is returned when a keyed lookup has no row.
var ErrNotFound = eris.New("store: not found")

// InvoiceFilter specifies criteria for listing invoices.
type InvoiceFilter struct {
	Status        model.PipelineStatus `json:"status,omitempty"`
	ReviewStatus  model.ReviewStatus   `json:"review_status,omitempty"`
	InvoiceNumber string               `json:"invoice_number,omitempty"`
	Since         time.Time            `json:"since,omitempty"`
	Limit         int                  `json:"limit,omitempty"`
	Offset        int                  `json:"offset,omitempty"`
}

// AnomalyFilter specifies criteria for listing anomaly records.
type AnomalyFilter struct {
	UnresolvedOnly bool           `json:"unresolved_only,omitempty"`
	Severity       model.Severity `json:"severity,omitempty"`
	Limit          int            `json:"limit,omitempty"`
}

// Store defines the persistence interface for the invoice pipeline.
type Store interface {
	// Invoices. UpsertInvoice replaces any record with the same key.
	UpsertInvoice(ctx context.Context, res *model.PipelineResult) error
	GetInvoice(ctx context.Context, key string) (*model.PipelineResult, error)
	ListInvoices(ctx context.Context, filter InvoiceFilter) ([]model.PipelineResult, error)
	FindByInvoiceNumber(ctx context.Context, number string) ([]model.PipelineResult, error)

	// Anomaly side-channel, keyed by invoice number.
	UpsertAnomaly(ctx context.Context, rec model.AnomalyRecord) error
	GetAnomaly(ctx context.Context, invoiceNumber string) (*model.AnomalyRecord, error)
	ListAnomalies(ctx context.Context, filter AnomalyFilter) ([]model.AnomalyRecord, error)
	ResolveAnomaly(ctx context.Context, invoiceNumber, notes string) error

	// Dead letter queue
	EnqueueDLQ(ctx context.Context, entry resilience.DLQEntry) error
	DequeueDLQ(ctx context.Context, filter resilience.DLQFilter) ([]resilience.DLQEntry, error)
	ListDLQ(ctx context.Context, limit int) ([]resilience.DLQEntry, error)
	IncrementDLQRetry(ctx context.Context, id string, nextRetryAt time.Time, lastErr string) error
	RemoveDLQ(ctx context.Context, id string) error
	CountDLQ(ctx context.Context) (int, error)

	// Lifecycle
	Ping(ctx context.Context) error
	Migrate(ctx context.Context) error
	Close() error
}

const defaultListLimit = 100

func listLimit(n int) int {
	if n <= 0 {
		return defaultListLimit
	}
	return n
}

// stamp fills the bookkeeping fields before a write.
func stamp(res *model.PipelineResult, now time.Time) {
	if res.Key == "" {
		res.Key = model.RecordKey(&res.Invoice)
	}
	if res.CreatedAt.IsZero() {
		res.CreatedAt = now
	}
	res.UpdatedAt = now
}
