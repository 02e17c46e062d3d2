package testutil

import (
	"context"
	"testing"

	"github.com/dukex/flowgate/pkg/instructions"
	"github.com/dukex/flowgate/pkg/log"
	"github.com/dukex/flowgate/pkg/models"
	"github.com/dukex/flowgate/pkg/persistence/file"
	"github.com/dukex/flowgate/pkg/workflow"
	"github.com/stretchr/testify/require"
)

// Environment is an engine with the built-in instructions over a temporary file store.
type Environment struct {
	Engine      *workflow.Engine
	Persistence *file.Persistence
}

func NewEnvironment(t testing.TB, opts ...workflow.Option) *Environment {
	t.Helper()

	p, err := file.NewPersistence(t.TempDir())
	require.NoError(t, err)

	engine, err := workflow.NewEngine(log.Discard(), p, opts...)
	require.NoError(t, err)

	instructions.RegisterDefaults(engine, nil)

	return &Environment{Engine: engine, Persistence: p}
}

// CreateWorkflow stores workflow and publishes it to the engine index.
func (e *Environment) CreateWorkflow(t testing.TB, workflow *models.Workflow) *models.Workflow {
	t.Helper()

	require.NoError(t, e.Persistence.WorkflowRepository().Create(context.Background(), workflow))
	e.Engine.Index().Put(workflow)

	return workflow
}

// Execution loads an execution with its jobs.
func (e *Environment) Execution(t testing.TB, id int64) *models.Execution {
	t.Helper()

	ctx := context.Background()

	execution, err := e.Persistence.ExecutionRepository().GetByID(ctx, id)
	require.NoError(t, err)

	execution.Jobs, err = e.Persistence.JobRepository().ListByExecution(ctx, id)
	require.NoError(t, err)

	return execution
}

// Executions lists the executions of a workflow with their jobs, oldest first.
func (e *Environment) Executions(t testing.TB, workflowID int64) []*models.Execution {
	t.Helper()

	executions, err := e.Persistence.ExecutionRepository().ListByWorkflow(context.Background(), workflowID)
	require.NoError(t, err)

	for i, execution := range executions {
		executions[i] = e.Execution(t, execution.ID)
	}

	return executions
}
