// Package monitoring summarizes stored pipeline results and raises alerts
// when error rates or the review backlog cross their thresholds.
package monitoring

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/invoice-cli/internal/model"
	"github.com/sells-group/invoice-cli/internal/store"
)

const scanLimit = 10000

// MetricsSnapshot holds a point-in-time view of pipeline health.
type MetricsSnapshot struct {
	// Results created within the lookback window.
	Total        int                          `json:"total"`
	StatusCounts map[model.PipelineStatus]int `json:"status_counts"`
	ReviewCounts map[model.ReviewStatus]int   `json:"review_counts"`
	ErrorRate    float64                      `json:"error_rate"`
	ReviewRate   float64                      `json:"review_rate"`

	AvgConfidence float64            `json:"avg_confidence"`
	AvgTimings    model.StageTimings `json:"avg_timings"`

	// ReviewBacklog counts every invoice awaiting a human, regardless of age.
	ReviewBacklog int `json:"review_backlog"`

	UnresolvedAnomalies map[model.Severity]int `json:"unresolved_anomalies"`

	DLQDepth int `json:"dlq_depth"`

	LookbackHours int       `json:"lookback_hours"`
	CollectedAt   time.Time `json:"collected_at"`
}

// Source is the read side of the store the collector needs.
type Source interface {
	ListInvoices(ctx context.Context, filter store.InvoiceFilter) ([]model.PipelineResult, error)
	ListAnomalies(ctx context.Context, filter store.AnomalyFilter) ([]model.AnomalyRecord, error)
	CountDLQ(ctx context.Context) (int, error)
}

// Collector gathers metrics from the store.
type Collector struct {
	src Source
	now func() time.Time
}

// NewCollector creates a new metrics collector.
func NewCollector(src Source) *Collector {
	return &Collector{src: src, now: time.Now}
}

// Collect gathers a snapshot over the given lookback window.
func (c *Collector) Collect(ctx context.Context, lookbackHours int) (*MetricsSnapshot, error) {
	if lookbackHours <= 0 {
		lookbackHours = 24
	}
	now := c.now().UTC()
	snap := &MetricsSnapshot{
		StatusCounts:        map[model.PipelineStatus]int{},
		ReviewCounts:        map[model.ReviewStatus]int{},
		UnresolvedAnomalies: map[model.Severity]int{},
		LookbackHours:       lookbackHours,
		CollectedAt:         now,
	}

	results, err := c.src.ListInvoices(ctx, store.InvoiceFilter{
		Since: now.Add(-time.Duration(lookbackHours) * time.Hour),
		Limit: scanLimit,
	})
	if err != nil {
		return nil, eris.Wrap(err, "monitoring: list invoices")
	}

	snap.Total = len(results)
	var sumConfidence float64
	var sumTimings model.StageTimings
	for _, r := range results {
		snap.StatusCounts[r.Status]++
		snap.ReviewCounts[r.Invoice.ReviewStatus]++
		sumConfidence += r.Invoice.Confidence
		sumTimings.Extraction += r.Timings.Extraction
		sumTimings.Validation += r.Timings.Validation
		sumTimings.Matching += r.Timings.Matching
		sumTimings.Review += r.Timings.Review
		sumTimings.Total += r.Timings.Total
	}
	if n := float64(snap.Total); n > 0 {
		snap.ErrorRate = float64(snap.StatusCounts[model.StatusError]) / n
		snap.ReviewRate = float64(snap.ReviewCounts[model.ReviewNeedsReview]) / n
		snap.AvgConfidence = sumConfidence / n
		snap.AvgTimings = model.StageTimings{
			Extraction: sumTimings.Extraction / n,
			Validation: sumTimings.Validation / n,
			Matching:   sumTimings.Matching / n,
			Review:     sumTimings.Review / n,
			Total:      sumTimings.Total / n,
		}
	}

	backlog, err := c.src.ListInvoices(ctx, store.InvoiceFilter{ReviewStatus: model.ReviewNeedsReview, Limit: scanLimit})
	if err != nil {
		return nil, eris.Wrap(err, "monitoring: list review backlog")
	}
	snap.ReviewBacklog = len(backlog)

	anomalies, err := c.src.ListAnomalies(ctx, store.AnomalyFilter{UnresolvedOnly: true, Limit: scanLimit})
	if err != nil {
		return nil, eris.Wrap(err, "monitoring: list anomalies")
	}
	for _, a := range anomalies {
		snap.UnresolvedAnomalies[a.Severity]++
	}

	dlqCount, err := c.src.CountDLQ(ctx)
	if err != nil {
		return nil, eris.Wrap(err, "monitoring: count dlq")
	}
	snap.DLQDepth = dlqCount

	return snap, nil
}
