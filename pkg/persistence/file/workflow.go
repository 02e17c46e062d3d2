package file

import (
	"context"
	"errors"
	"io/fs"
	"time"

	"github.com/dukex/flowgate/pkg/models"
	"github.com/dukex/flowgate/pkg/persistence"
)

// WorkflowRepository handles workflow-related file operations.
type WorkflowRepository struct {
	p *Persistence
}

func (wr *WorkflowRepository) Create(_ context.Context, workflow *models.Workflow) error {
	wr.p.mu.Lock()
	defer wr.p.mu.Unlock()

	id, err := wr.p.next(workflowsDir)
	if err != nil {
		return persistence.NewWorkflowError("Create", 0, err)
	}

	workflow.ID = id

	for _, node := range workflow.Nodes {
		nodeID, err := wr.p.next("nodes")
		if err != nil {
			return persistence.NewWorkflowError("Create", id, err)
		}

		node.ID = nodeID
	}

	workflow.LinkNodes()

	now := time.Now().UTC()
	workflow.CreatedAt = now
	workflow.UpdatedAt = now

	if workflow.Enabled {
		if err := wr.disableOthers(workflow.Key, workflow.ID, now); err != nil {
			return persistence.NewWorkflowError("Create", id, err)
		}
	}

	if err := wr.p.write(workflowsDir, workflow.ID, workflow); err != nil {
		return persistence.NewWorkflowError("Create", id, err)
	}

	return nil
}

func (wr *WorkflowRepository) GetByID(_ context.Context, id int64) (*models.Workflow, error) {
	wr.p.mu.Lock()
	defer wr.p.mu.Unlock()

	return wr.get(id)
}

func (wr *WorkflowRepository) get(id int64) (*models.Workflow, error) {
	var workflow models.Workflow

	err := wr.p.read(workflowsDir, id, &workflow)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, persistence.NewWorkflowError("GetByID", id, persistence.ErrWorkflowNotFound)
	}

	if err != nil {
		return nil, persistence.NewWorkflowError("GetByID", id, err)
	}

	return &workflow, nil
}

func (wr *WorkflowRepository) ListByKey(_ context.Context, key string) ([]*models.Workflow, error) {
	wr.p.mu.Lock()
	defer wr.p.mu.Unlock()

	return readAll(wr.p, workflowsDir, func(w *models.Workflow) bool { return w.Key == key })
}

func (wr *WorkflowRepository) List(_ context.Context) ([]*models.Workflow, error) {
	wr.p.mu.Lock()
	defer wr.p.mu.Unlock()

	return readAll[models.Workflow](wr.p, workflowsDir, nil)
}

func (wr *WorkflowRepository) ListEnabled(_ context.Context) ([]*models.Workflow, error) {
	wr.p.mu.Lock()
	defer wr.p.mu.Unlock()

	return readAll(wr.p, workflowsDir, func(w *models.Workflow) bool { return w.Enabled })
}

func (wr *WorkflowRepository) SetEnabled(_ context.Context, id int64, enabled bool) (*models.Workflow, error) {
	wr.p.mu.Lock()
	defer wr.p.mu.Unlock()

	workflow, err := wr.get(id)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()

	if enabled {
		if err := wr.disableOthers(workflow.Key, workflow.ID, now); err != nil {
			return nil, persistence.NewWorkflowError("SetEnabled", id, err)
		}
	}

	workflow.Enabled = enabled
	workflow.UpdatedAt = now

	if err := wr.p.write(workflowsDir, workflow.ID, workflow); err != nil {
		return nil, persistence.NewWorkflowError("SetEnabled", id, err)
	}

	return workflow, nil
}

func (wr *WorkflowRepository) disableOthers(key string, keep int64, now time.Time) error {
	versions, err := readAll(wr.p, workflowsDir, func(w *models.Workflow) bool {
		return w.Key == key && w.ID != keep && w.Enabled
	})
	if err != nil {
		return err
	}

	for _, version := range versions {
		version.Enabled = false
		version.UpdatedAt = now

		if err := wr.p.write(workflowsDir, version.ID, version); err != nil {
			return err
		}
	}

	return nil
}
