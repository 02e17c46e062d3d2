package workflow

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/dukex/flowgate/pkg/models"
	"github.com/dukex/flowgate/pkg/persistence"
)

// Index is the in-memory view of enabled workflows, one per key. Every mutation bumps
// Version so holders can detect staleness.
type Index struct {
	mu      sync.RWMutex
	version uint64
	byKey   map[string]*models.Workflow
}

func NewIndex() *Index {
	return &Index{byKey: map[string]*models.Workflow{}}
}

// Rebuild replaces the index content with the enabled workflows in repo.
func (i *Index) Rebuild(ctx context.Context, repo persistence.WorkflowRepository) error {
	workflows, err := repo.ListEnabled(ctx)
	if err != nil {
		return fmt.Errorf("failed to load enabled workflows: %w", err)
	}

	byKey := make(map[string]*models.Workflow, len(workflows))
	for _, workflow := range workflows {
		byKey[workflow.Key] = workflow
	}

	i.mu.Lock()
	defer i.mu.Unlock()

	i.byKey = byKey
	i.version++

	return nil
}

// Put records a workflow change. A disabled workflow removes its key only if it was
// the indexed version.
func (i *Index) Put(workflow *models.Workflow) {
	i.mu.Lock()
	defer i.mu.Unlock()

	if workflow.Enabled {
		i.byKey[workflow.Key] = workflow
	} else if current, ok := i.byKey[workflow.Key]; ok && current.ID == workflow.ID {
		delete(i.byKey, workflow.Key)
	}

	i.version++
}

func (i *Index) Remove(key string) {
	i.mu.Lock()
	defer i.mu.Unlock()

	delete(i.byKey, key)
	i.version++
}

func (i *Index) Get(key string) (*models.Workflow, bool) {
	i.mu.RLock()
	defer i.mu.RUnlock()

	workflow, ok := i.byKey[key]

	return workflow, ok
}

// ByType returns the enabled workflows of a trigger type in id order.
func (i *Index) ByType(triggerType string) []*models.Workflow {
	i.mu.RLock()
	defer i.mu.RUnlock()

	var result []*models.Workflow

	for _, workflow := range i.byKey {
		if workflow.Type == triggerType {
			result = append(result, workflow)
		}
	}

	sortByID(result)

	return result
}

// All returns every enabled workflow in id order.
func (i *Index) All() []*models.Workflow {
	i.mu.RLock()
	defer i.mu.RUnlock()

	result := make([]*models.Workflow, 0, len(i.byKey))
	for _, workflow := range i.byKey {
		result = append(result, workflow)
	}

	sortByID(result)

	return result
}

func (i *Index) Version() uint64 {
	i.mu.RLock()
	defer i.mu.RUnlock()

	return i.version
}

func sortByID(workflows []*models.Workflow) {
	sort.Slice(workflows, func(a, b int) bool {
		return workflows[a].ID < workflows[b].ID
	})
}
