// Package action starts workflows on direct request, such as an API call.
package action

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/dukex/flowgate/pkg/models"
	"github.com/dukex/flowgate/pkg/persistence"
	"github.com/dukex/flowgate/pkg/protocol"
)

const Type = "action"

var ErrNotActionWorkflow = errors.New("workflow is not triggered by actions")

// Trigger starts the enabled version of an action workflow by key.
type Trigger struct {
	logger  *slog.Logger
	starter protocol.Starter
	index   protocol.WorkflowIndex
}

var _ protocol.Trigger = (*Trigger)(nil)

func New(logger *slog.Logger, starter protocol.Starter, index protocol.WorkflowIndex) *Trigger {
	return &Trigger{
		logger:  logger.With("module", "action_trigger"),
		starter: starter,
		index:   index,
	}
}

func (t *Trigger) On(ctx context.Context, workflow *models.Workflow) error {
	t.logger.DebugContext(ctx, "action workflow active", "workflow_id", workflow.ID, "key", workflow.Key)

	return nil
}

func (t *Trigger) Off(ctx context.Context, workflow *models.Workflow) error {
	t.logger.DebugContext(ctx, "action workflow inactive", "workflow_id", workflow.ID, "key", workflow.Key)

	return nil
}

// Fire starts the workflow enabled under key with input as its context. An async
// workflow returns its queued execution; a sync one returns once it finished or paused.
func (t *Trigger) Fire(ctx context.Context, key string, input any) (*models.Execution, error) {
	workflow, ok := t.index.Get(key)
	if !ok {
		return nil, &persistence.WorkflowError{Op: "Fire", Key: key, Err: persistence.ErrWorkflowNotFound}
	}

	if workflow.Type != Type {
		return nil, fmt.Errorf("%w: %s has type %s", ErrNotActionWorkflow, key, workflow.Type)
	}

	execution, err := t.starter.Trigger(ctx, workflow, input, protocol.TriggerOptions{})
	if err != nil {
		return execution, fmt.Errorf("failed to start workflow %s: %w", key, err)
	}

	if execution != nil {
		t.logger.InfoContext(ctx, "action fired", "workflow_id", workflow.ID, "key", key, "execution_id", execution.ID)
	}

	return execution, nil
}
