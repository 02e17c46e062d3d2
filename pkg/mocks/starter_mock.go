package mocks

import (
	"context"

	"github.com/dukex/flowgate/pkg/models"
	"github.com/dukex/flowgate/pkg/protocol"
	"github.com/stretchr/testify/mock"
)

// MockStarter is a mock implementation of protocol.Starter.
type MockStarter struct {
	mock.Mock
}

var _ protocol.Starter = (*MockStarter)(nil)

func (m *MockStarter) Trigger(ctx context.Context, workflow *models.Workflow, input any, opts protocol.TriggerOptions) (*models.Execution, error) {
	args := m.Called(ctx, workflow, input, opts)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).(*models.Execution), args.Error(1)
}
