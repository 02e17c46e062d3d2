// Package mocks provides testify mocks of the engine contracts.
package mocks

import (
	"context"
	"log/slog"

	"github.com/dukex/flowgate/pkg/models"
	"github.com/dukex/flowgate/pkg/protocol"
	"github.com/stretchr/testify/mock"
)

// MockProcessor is a mock implementation of protocol.Processor. Logger returns a
// discarding logger unless one is set.
type MockProcessor struct {
	mock.Mock

	Log *slog.Logger
}

var _ protocol.Processor = (*MockProcessor)(nil)

func (m *MockProcessor) Execution() *models.Execution {
	args := m.Called()
	if args.Get(0) == nil {
		return nil
	}

	return args.Get(0).(*models.Execution)
}

func (m *MockProcessor) Workflow() *models.Workflow {
	args := m.Called()
	if args.Get(0) == nil {
		return nil
	}

	return args.Get(0).(*models.Workflow)
}

func (m *MockProcessor) LastSavedJob() *models.Job {
	args := m.Called()
	if args.Get(0) == nil {
		return nil
	}

	return args.Get(0).(*models.Job)
}

func (m *MockProcessor) Scope() map[string]any {
	args := m.Called()
	if args.Get(0) == nil {
		return nil
	}

	return args.Get(0).(map[string]any)
}

func (m *MockProcessor) Logger() *slog.Logger {
	if m.Log == nil {
		m.Log = slog.New(slog.DiscardHandler)
	}

	return m.Log
}

func (m *MockProcessor) Exit(status models.ExecutionStatus) {
	m.Called(status)
}

func (m *MockProcessor) Trigger(ctx context.Context, workflow *models.Workflow, input any, opts protocol.TriggerOptions) (*models.Execution, error) {
	args := m.Called(ctx, workflow, input, opts)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).(*models.Execution), args.Error(1)
}

func (m *MockProcessor) EnabledWorkflow(key string) (*models.Workflow, bool) {
	args := m.Called(key)
	if args.Get(0) == nil {
		return nil, args.Bool(1)
	}

	return args.Get(0).(*models.Workflow), args.Bool(1)
}
