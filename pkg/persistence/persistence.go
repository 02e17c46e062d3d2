// Package persistence defines storage for workflows, executions and jobs.
package persistence

import (
	"context"

	"github.com/dukex/flowgate/pkg/models"
)

type Persistence interface {
	WorkflowRepository() WorkflowRepository
	ExecutionRepository() ExecutionRepository
	JobRepository() JobRepository

	HealthCheck(ctx context.Context) error
	Close(ctx context.Context) error
}

// WorkflowRepository stores workflow versions and their node graphs. Nodes are written
// once with the workflow and never updated.
type WorkflowRepository interface {
	// Create assigns ids to the workflow and its nodes, links the nodes in slice order
	// and stores them. Creating an enabled workflow disables the other versions of its key.
	Create(ctx context.Context, workflow *models.Workflow) error
	GetByID(ctx context.Context, id int64) (*models.Workflow, error)
	// ListByKey returns every version of a key in id order.
	ListByKey(ctx context.Context, key string) ([]*models.Workflow, error)
	List(ctx context.Context) ([]*models.Workflow, error)
	ListEnabled(ctx context.Context) ([]*models.Workflow, error)
	// SetEnabled switches a version on or off. Enabling disables every other version
	// of the same key in the same operation.
	SetEnabled(ctx context.Context, id int64, enabled bool) (*models.Workflow, error)
}

type ExecutionRepository interface {
	Create(ctx context.Context, execution *models.Execution) error
	// GetByID loads the execution without its jobs.
	GetByID(ctx context.Context, id int64) (*models.Execution, error)
	UpdateStatus(ctx context.Context, id int64, status models.ExecutionStatus) error
	ListByWorkflow(ctx context.Context, workflowID int64) ([]*models.Execution, error)
}

type JobRepository interface {
	// Create stores a new job and assigns its id. It fails with ErrPendingJobExists
	// when the execution already has a pending job.
	Create(ctx context.Context, job *models.Job) error
	// Update rewrites status and result of a stored job.
	Update(ctx context.Context, job *models.Job) error
	GetByID(ctx context.Context, id int64) (*models.Job, error)
	// ListByExecution returns the jobs of an execution ordered by index.
	ListByExecution(ctx context.Context, executionID int64) ([]*models.Job, error)
	// FindPending returns the pending job of an execution at a node.
	FindPending(ctx context.Context, executionID, nodeID int64) (*models.Job, error)
	// CompletePending sets status and result only if the job is still pending, as a
	// single atomic operation. Otherwise it returns ErrJobNotPending.
	CompletePending(ctx context.Context, id int64, status models.JobStatus, result any) (*models.Job, error)
}
