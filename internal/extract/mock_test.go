package extract

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/sells-group/invoice-cli/pkg/anthropic"
)

type mockText struct{ mock.Mock }

func (m *mockText) ExtractText(ctx context.Context, path string) (string, error) {
	args := m.Called(ctx, path)
	return args.String(0), args.Error(1)
}

type mockOracle struct{ mock.Mock }

func (m *mockOracle) ExtractFields(ctx context.Context, text string) (*OracleFields, error) {
	args := m.Called(ctx, text)
	if v := args.Get(0); v != nil {
		return v.(*OracleFields), args.Error(1)
	}
	return nil, args.Error(1)
}

type mockClient struct{ mock.Mock }

func (m *mockClient) CreateMessage(ctx context.Context, req anthropic.MessageRequest) (*anthropic.MessageResponse, error) {
	args := m.Called(ctx, req)
	if v := args.Get(0); v != nil {
		return v.(*anthropic.MessageResponse), args.Error(1)
	}
	return nil, args.Error(1)
}
