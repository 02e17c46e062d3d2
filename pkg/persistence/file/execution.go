package file

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"time"

	"github.com/dukex/flowgate/pkg/models"
	"github.com/dukex/flowgate/pkg/persistence"
)

// ExecutionRepository stores executions without their jobs.
type ExecutionRepository struct {
	p *Persistence
}

func (er *ExecutionRepository) Create(_ context.Context, execution *models.Execution) error {
	er.p.mu.Lock()
	defer er.p.mu.Unlock()

	id, err := er.p.next(executionsDir)
	if err != nil {
		return fmt.Errorf("failed to create execution: %w", err)
	}

	now := time.Now().UTC()
	execution.ID = id
	execution.CreatedAt = now
	execution.UpdatedAt = now

	return er.p.write(executionsDir, id, withoutJobs(execution))
}

func (er *ExecutionRepository) GetByID(_ context.Context, id int64) (*models.Execution, error) {
	er.p.mu.Lock()
	defer er.p.mu.Unlock()

	return er.get(id)
}

func (er *ExecutionRepository) get(id int64) (*models.Execution, error) {
	var execution models.Execution

	err := er.p.read(executionsDir, id, &execution)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("execution %d: %w", id, persistence.ErrExecutionNotFound)
	}

	if err != nil {
		return nil, err
	}

	return &execution, nil
}

func (er *ExecutionRepository) UpdateStatus(_ context.Context, id int64, status models.ExecutionStatus) error {
	er.p.mu.Lock()
	defer er.p.mu.Unlock()

	execution, err := er.get(id)
	if err != nil {
		return err
	}

	execution.Status = status
	execution.UpdatedAt = time.Now().UTC()

	return er.p.write(executionsDir, id, execution)
}

func (er *ExecutionRepository) ListByWorkflow(_ context.Context, workflowID int64) ([]*models.Execution, error) {
	er.p.mu.Lock()
	defer er.p.mu.Unlock()

	return readAll(er.p, executionsDir, func(e *models.Execution) bool { return e.WorkflowID == workflowID })
}

func withoutJobs(execution *models.Execution) *models.Execution {
	stored := *execution
	stored.Jobs = nil

	return &stored
}
