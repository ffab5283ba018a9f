package anomaly

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/sells-group/invoice-cli/internal/model"
)

type mockHistory struct{ mock.Mock }

func (m *mockHistory) FindByInvoiceNumber(ctx context.Context, number string) ([]model.PipelineResult, error) {
	args := m.Called(ctx, number)
	if v := args.Get(0); v != nil {
		return v.([]model.PipelineResult), args.Error(1)
	}
	return nil, args.Error(1)
}

type mockSink struct{ mock.Mock }

func (m *mockSink) UpsertAnomaly(ctx context.Context, rec model.AnomalyRecord) error {
	return m.Called(ctx, rec).Error(0)
}
