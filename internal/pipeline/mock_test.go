package pipeline

import (
	"context"
	"sync"
	"time"

	"github.com/stretchr/testify/mock"

	"github.com/sells-group/invoice-cli/internal/anomaly"
	"github.com/sells-group/invoice-cli/internal/model"
	"github.com/sells-group/invoice-cli/internal/resilience"
)

type mockExtractor struct{ mock.Mock }

func (m *mockExtractor) Extract(ctx context.Context, path string) (*model.InvoiceRecord, error) {
	args := m.Called(ctx, path)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	rec := *args.Get(0).(*model.InvoiceRecord)
	return &rec, args.Error(1)
}

type mockValidator struct{ mock.Mock }

func (m *mockValidator) Validate(ctx context.Context, rec *model.InvoiceRecord, history anomaly.History) (*model.ValidationResult, error) {
	args := m.Called(ctx, rec, history)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.ValidationResult), args.Error(1)
}

type mockMatcher struct{ mock.Mock }

func (m *mockMatcher) Match(ctx context.Context, rec *model.InvoiceRecord) (*model.MatchResult, error) {
	args := m.Called(ctx, rec)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.MatchResult), args.Error(1)
}

type mockReviewer struct{ mock.Mock }

func (m *mockReviewer) Review(ctx context.Context, rec *model.InvoiceRecord, vr *model.ValidationResult) (*model.ReviewDecision, error) {
	args := m.Called(ctx, rec, vr)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.ReviewDecision), args.Error(1)
}

type mockQueue struct{ mock.Mock }

func (m *mockQueue) Enqueue(ctx context.Context, res *model.PipelineResult) error {
	return m.Called(ctx, res).Error(0)
}

type emptyText struct{}

func (emptyText) ExtractText(context.Context, string) (string, error) { return "", nil }

// memStore keeps every write so tests can inspect intermediate states.
type memStore struct {
	mu        sync.Mutex
	writes    []model.PipelineResult
	latest    map[string]model.PipelineResult
	dlq       map[string]resilience.DLQEntry
	upsertErr error
}

func newMemStore() *memStore {
	return &memStore{latest: map[string]model.PipelineResult{}, dlq: map[string]resilience.DLQEntry{}}
}

func (m *memStore) UpsertInvoice(_ context.Context, res *model.PipelineResult) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.upsertErr != nil {
		return m.upsertErr
	}
	if res.Key == "" {
		res.Key = model.RecordKey(&res.Invoice)
	}
	m.writes = append(m.writes, *res)
	m.latest[res.Key] = *res
	return nil
}

func (m *memStore) FindByInvoiceNumber(_ context.Context, number string) ([]model.PipelineResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []model.PipelineResult
	for _, r := range m.latest {
		if r.Invoice.InvoiceNumber == number {
			out = append(out, r)
		}
	}
	return out, nil
}

func (m *memStore) EnqueueDLQ(_ context.Context, e resilience.DLQEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.dlq[e.ID] = e
	return nil
}

func (m *memStore) DequeueDLQ(_ context.Context, f resilience.DLQFilter) ([]resilience.DLQEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []resilience.DLQEntry
	for _, e := range m.dlq {
		if f.DueBefore.IsZero() || !e.NextRetryAt.After(f.DueBefore) {
			out = append(out, e)
		}
	}
	return out, nil
}

func (m *memStore) IncrementDLQRetry(_ context.Context, id string, next time.Time, lastErr string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	e := m.dlq[id]
	e.RetryCount++
	e.NextRetryAt = next
	e.Error = lastErr
	m.dlq[id] = e
	return nil
}

func (m *memStore) RemoveDLQ(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.dlq, id)
	return nil
}

func (m *memStore) statuses() []model.PipelineStatus {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]model.PipelineStatus, len(m.writes))
	for i, w := range m.writes {
		out[i] = w.Status
	}
	return out
}
