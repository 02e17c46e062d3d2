package workflow

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/dukex/flowgate/pkg/eventbus"
	"github.com/dukex/flowgate/pkg/events"
	"github.com/dukex/flowgate/pkg/models"
)

// Manager keeps triggers switched on for exactly the workflows in the enabled index.
type Manager struct {
	engine *Engine
	logger *slog.Logger

	mu     sync.Mutex
	active map[int64]*models.Workflow
}

func NewManager(engine *Engine) *Manager {
	return &Manager{
		engine: engine,
		logger: engine.logger.With("component", "trigger_manager"),
		active: map[int64]*models.Workflow{},
	}
}

// Start loads the enabled workflows and switches their triggers on.
func (m *Manager) Start(ctx context.Context) error {
	if err := m.engine.index.Rebuild(ctx, m.engine.persistence.WorkflowRepository()); err != nil {
		return err
	}

	return m.Sync(ctx)
}

// Sync turns triggers off for workflows that left the index and on for the new ones.
func (m *Manager) Sync(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	enabled := map[int64]*models.Workflow{}
	for _, workflow := range m.engine.index.All() {
		enabled[workflow.ID] = workflow
	}

	var errs []error

	for id, workflow := range m.active {
		if _, ok := enabled[id]; ok {
			continue
		}

		if err := m.switchTrigger(ctx, workflow, false); err != nil {
			errs = append(errs, err)
		}

		delete(m.active, id)
	}

	for id, workflow := range enabled {
		if _, ok := m.active[id]; ok {
			continue
		}

		if err := m.switchTrigger(ctx, workflow, true); err != nil {
			errs = append(errs, err)

			continue
		}

		m.active[id] = workflow
	}

	m.logger.InfoContext(ctx, "triggers synchronised", "active", len(m.active), "index_version", m.engine.index.Version())

	if len(errs) > 0 {
		return fmt.Errorf("failed to switch %d triggers: %w", len(errs), errs[0])
	}

	return nil
}

// Stop switches every active trigger off.
func (m *Manager) Stop(ctx context.Context) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for id, workflow := range m.active {
		if err := m.switchTrigger(ctx, workflow, false); err != nil {
			m.logger.ErrorContext(ctx, "failed to stop trigger", "workflow_id", id, "error", err)
		}

		delete(m.active, id)
	}
}

// Attach rebuilds the index and resynchronises triggers on every workflow change.
func (m *Manager) Attach(bus eventbus.EventSubscriber) error {
	return bus.Handle(events.WorkflowChangedEvent, func(ctx context.Context, event any) error {
		changed, ok := event.(*events.WorkflowChanged)
		if ok {
			m.logger.InfoContext(ctx, "workflow changed", "workflow_id", changed.WorkflowID, "key", changed.Key, "enabled", changed.Enabled)
		}

		if err := m.engine.index.Rebuild(ctx, m.engine.persistence.WorkflowRepository()); err != nil {
			return err
		}

		if err := m.Sync(ctx); err != nil {
			m.logger.ErrorContext(ctx, "failed to synchronise triggers", "error", err)
		}

		return nil
	})
}

func (m *Manager) switchTrigger(ctx context.Context, workflow *models.Workflow, on bool) error {
	trigger, ok := m.engine.triggers.Get(workflow.Type)
	if !ok {
		if on {
			m.logger.WarnContext(ctx, "no trigger registered for workflow type", "workflow_id", workflow.ID, "type", workflow.Type)
		}

		return nil
	}

	var err error
	if on {
		err = trigger.On(ctx, workflow)
	} else {
		err = trigger.Off(ctx, workflow)
	}

	if err != nil {
		return fmt.Errorf("workflow %d trigger %s: %w", workflow.ID, workflow.Type, err)
	}

	m.logger.DebugContext(ctx, "trigger switched", "workflow_id", workflow.ID, "type", workflow.Type, "on", on)

	return nil
}
