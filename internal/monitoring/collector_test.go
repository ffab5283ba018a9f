package monitoring

import (
	"context"
	"testing"
	"time"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/invoice-cli/internal/model"
	"github.com/sells-group/invoice-cli/internal/store"
)

type fakeSource struct {
	results   []model.PipelineResult
	anomalies []model.AnomalyRecord
	dlqCount  int
	listErr   error
	dlqErr    error
}

func (f *fakeSource) ListInvoices(_ context.Context, filter store.InvoiceFilter) ([]model.PipelineResult, error) {
	if f.listErr != nil {
		return nil, f.listErr
	}
	var out []model.PipelineResult
	for _, r := range f.results {
		if !filter.Since.IsZero() && r.CreatedAt.Before(filter.Since) {
			continue
		}
		if filter.ReviewStatus != "" && r.Invoice.ReviewStatus != filter.ReviewStatus {
			continue
		}
		out = append(out, r)
	}
	return out, nil
}

func (f *fakeSource) ListAnomalies(_ context.Context, filter store.AnomalyFilter) ([]model.AnomalyRecord, error) {
	var out []model.AnomalyRecord
	for _, a := range f.anomalies {
		if filter.UnresolvedOnly && a.Resolved {
			continue
		}
		out = append(out, a)
	}
	return out, nil
}

func (f *fakeSource) CountDLQ(context.Context) (int, error) {
	return f.dlqCount, f.dlqErr
}

var collectNow = time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

func result(status model.PipelineStatus, review model.ReviewStatus, confidence, total float64, age time.Duration) model.PipelineResult {
	return model.PipelineResult{
		Status:    status,
		Invoice:   model.InvoiceRecord{ReviewStatus: review, Confidence: confidence},
		Timings:   model.StageTimings{Extraction: total, Total: total},
		CreatedAt: collectNow.Add(-age),
	}
}

func newTestCollector(src Source) *Collector {
	c := NewCollector(src)
	c.now = func() time.Time { return collectNow }
	return c
}

func TestCollector_Collect(t *testing.T) {
	src := &fakeSource{
		results: []model.PipelineResult{
			result(model.StatusCompleted, model.ReviewApproved, 0.95, 2, time.Hour),
			result(model.StatusCompleted, model.ReviewNeedsReview, 0.85, 4, 2*time.Hour),
			result(model.StatusSkipped, model.ReviewNeedsReview, 0.1, 1, 3*time.Hour),
			result(model.StatusError, model.ReviewError, 0.9, 1, 4*time.Hour),
			result(model.StatusCompleted, model.ReviewNeedsReview, 0.5, 9, 72*time.Hour),
		},
		anomalies: []model.AnomalyRecord{
			{InvoiceNumber: "A", Severity: model.SeverityHigh},
			{InvoiceNumber: "B", Severity: model.SeverityLow},
			{InvoiceNumber: "C", Severity: model.SeverityHigh, Resolved: true},
		},
		dlqCount: 2,
	}

	snap, err := newTestCollector(src).Collect(context.Background(), 24)
	require.NoError(t, err)

	assert.Equal(t, 4, snap.Total)
	assert.Equal(t, 2, snap.StatusCounts[model.StatusCompleted])
	assert.Equal(t, 1, snap.StatusCounts[model.StatusError])
	assert.InDelta(t, 0.25, snap.ErrorRate, 1e-9)
	assert.InDelta(t, 0.5, snap.ReviewRate, 1e-9)
	assert.InDelta(t, 0.7, snap.AvgConfidence, 1e-9)
	assert.InDelta(t, 2.0, snap.AvgTimings.Total, 1e-9)
	assert.Equal(t, 3, snap.ReviewBacklog)
	assert.Equal(t, map[model.Severity]int{model.SeverityHigh: 1, model.SeverityLow: 1}, snap.UnresolvedAnomalies)
	assert.Equal(t, 2, snap.DLQDepth)
	assert.Equal(t, collectNow, snap.CollectedAt)
}

func TestCollector_Empty(t *testing.T) {
	snap, err := newTestCollector(&fakeSource{}).Collect(context.Background(), 0)
	require.NoError(t, err)
	assert.Zero(t, snap.Total)
	assert.Zero(t, snap.ErrorRate)
	assert.Equal(t, 24, snap.LookbackHours)
}

func TestCollector_Errors(t *testing.T) {
	_, err := newTestCollector(&fakeSource{listErr: eris.New("db down")}).Collect(context.Background(), 24)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "monitoring: list invoices")

	_, err = newTestCollector(&fakeSource{dlqErr: eris.New("db down")}).Collect(context.Background(), 24)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "monitoring: count dlq")
}
