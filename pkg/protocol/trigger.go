package protocol

import (
	"context"

	"github.com/dukex/flowgate/pkg/models"
)

// Trigger recognises one kind of event and starts executions for it. A trigger is built
// once per engine and switched on and off per enabled workflow.
type Trigger interface {
	On(ctx context.Context, workflow *models.Workflow) error
	Off(ctx context.Context, workflow *models.Workflow) error
}

// ConfigValidator is implemented by triggers that check a workflow's trigger config.
type ConfigValidator interface {
	ValidateConfig(config map[string]any) error
}

// Starter starts executions on behalf of a trigger.
type Starter interface {
	Trigger(ctx context.Context, workflow *models.Workflow, input any, opts TriggerOptions) (*models.Execution, error)
}

// WorkflowIndex is the read side of the enabled workflow index shared with triggers.
type WorkflowIndex interface {
	Get(key string) (*models.Workflow, bool)
	ByType(triggerType string) []*models.Workflow
}
