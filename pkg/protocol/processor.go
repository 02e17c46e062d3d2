package protocol

import (
	"context"
	"log/slog"

	"github.com/dukex/flowgate/pkg/models"
)

// TriggerOptions controls how a workflow invocation runs.
type TriggerOptions struct {
	// Sync runs the execution on the caller's stack even when the workflow is async.
	Sync bool
	// Parent and ParentNode link a sub-workflow execution to the invoking node.
	Parent     *models.Execution
	ParentNode *models.Node
	// Force starts the workflow even when it is not the enabled version.
	Force bool
}

// Processor is the view of a running execution exposed to instructions.
type Processor interface {
	Execution() *models.Execution
	Workflow() *models.Workflow
	LastSavedJob() *models.Job
	// Scope is the data visible to path expressions: the execution context plus
	// $context, $jobsMapByNodeKey and $system.
	Scope() map[string]any
	Logger() *slog.Logger
	// Exit ends the execution with status once the current job is saved,
	// regardless of downstream nodes.
	Exit(status models.ExecutionStatus)
	// Trigger invokes another workflow from inside this execution.
	Trigger(ctx context.Context, workflow *models.Workflow, input any, opts TriggerOptions) (*models.Execution, error)
	// EnabledWorkflow resolves the enabled version of a workflow key.
	EnabledWorkflow(key string) (*models.Workflow, bool)
}
