package review

import (
	"context"
	"sync"

	"github.com/jomei/notionapi"
	"github.com/stretchr/testify/mock"

	"github.com/sells-group/invoice-cli/internal/model"
	"github.com/sells-group/invoice-cli/internal/store"
)

type memStore struct {
	mu   sync.Mutex
	data map[string]model.PipelineResult
}

func newMemStore(results ...*model.PipelineResult) *memStore {
	m := &memStore{data: map[string]model.PipelineResult{}}
	for _, r := range results {
		m.data[r.Key] = *r
	}
	return m
}

func (m *memStore) GetInvoice(_ context.Context, key string) (*model.PipelineResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.data[key]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &r, nil
}

func (m *memStore) UpsertInvoice(_ context.Context, res *model.PipelineResult) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[res.Key] = *res
	return nil
}

type mockNotion struct{ mock.Mock }

func (m *mockNotion) QueryDatabase(ctx context.Context, dbID string, req *notionapi.DatabaseQueryRequest) (*notionapi.DatabaseQueryResponse, error) {
	args := m.Called(ctx, dbID, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*notionapi.DatabaseQueryResponse), args.Error(1)
}

func (m *mockNotion) CreatePage(ctx context.Context, req *notionapi.PageCreateRequest) (*notionapi.Page, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*notionapi.Page), args.Error(1)
}

func (m *mockNotion) UpdatePage(ctx context.Context, pageID string, req *notionapi.PageUpdateRequest) (*notionapi.Page, error) {
	args := m.Called(ctx, pageID, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*notionapi.Page), args.Error(1)
}
