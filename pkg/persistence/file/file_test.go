package file

import (
	"context"
	"sync"
	"testing"

	"github.com/dukex/flowgate/pkg/models"
	"github.com/dukex/flowgate/pkg/persistence"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestPersistence(t *testing.T) *Persistence {
	t.Helper()

	p, err := NewPersistence("file://" + t.TempDir())
	require.NoError(t, err)

	return p
}

func newWorkflow(key string, enabled bool) *models.Workflow {
	return &models.Workflow{
		Key:     key,
		Title:   "Workflow " + key,
		Type:    "action",
		Enabled: enabled,
		Nodes: []*models.Node{
			{Key: "first", Type: "manual"},
			{Key: "second", Type: "end"},
		},
	}
}

func TestWorkflowRepository_CreateAndGet(t *testing.T) {
	ctx := context.Background()
	repo := newTestPersistence(t).WorkflowRepository()

	workflow := newWorkflow("orders", true)
	require.NoError(t, repo.Create(ctx, workflow))

	assert.Equal(t, int64(1), workflow.ID)
	assert.Equal(t, int64(1), workflow.Nodes[0].ID)
	assert.Equal(t, int64(2), workflow.Nodes[1].ID)
	assert.Equal(t, int64(2), *workflow.Nodes[0].DownstreamID)

	loaded, err := repo.GetByID(ctx, workflow.ID)
	require.NoError(t, err)
	assert.Equal(t, "orders", loaded.Key)
	require.Len(t, loaded.Nodes, 2)
	assert.Equal(t, "first", loaded.Head().Key)
	assert.Equal(t, workflow.ID, loaded.Nodes[1].WorkflowID)

	_, err = repo.GetByID(ctx, 99)
	require.ErrorIs(t, err, persistence.ErrWorkflowNotFound)
}

func TestWorkflowRepository_OneEnabledVersionPerKey(t *testing.T) {
	ctx := context.Background()
	repo := newTestPersistence(t).WorkflowRepository()

	v1 := newWorkflow("orders", true)
	require.NoError(t, repo.Create(ctx, v1))

	v2 := newWorkflow("orders", true)
	require.NoError(t, repo.Create(ctx, v2))

	other := newWorkflow("invoices", true)
	require.NoError(t, repo.Create(ctx, other))

	enabled, err := repo.ListEnabled(ctx)
	require.NoError(t, err)
	require.Len(t, enabled, 2)
	assert.Equal(t, v2.ID, enabled[0].ID)
	assert.Equal(t, other.ID, enabled[1].ID)

	updated, err := repo.SetEnabled(ctx, v1.ID, true)
	require.NoError(t, err)
	assert.True(t, updated.Enabled)

	versions, err := repo.ListByKey(ctx, "orders")
	require.NoError(t, err)
	require.Len(t, versions, 2)
	assert.True(t, versions[0].Enabled)
	assert.False(t, versions[1].Enabled)

	_, err = repo.SetEnabled(ctx, v1.ID, false)
	require.NoError(t, err)

	all, err := repo.List(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 3)

	enabled, err = repo.ListEnabled(ctx)
	require.NoError(t, err)
	assert.Len(t, enabled, 1)
}

func TestExecutionRepository(t *testing.T) {
	ctx := context.Background()
	repo := newTestPersistence(t).ExecutionRepository()

	execution := &models.Execution{
		WorkflowID: 3,
		Key:        "orders",
		Status:     models.ExecutionStarted,
		Context:    map[string]any{"id": "o-1"},
		Jobs:       []*models.Job{{ID: 1}},
	}
	require.NoError(t, repo.Create(ctx, execution))
	assert.Equal(t, int64(1), execution.ID)
	assert.Len(t, execution.Jobs, 1)

	require.NoError(t, repo.UpdateStatus(ctx, execution.ID, models.ExecutionResolved))

	loaded, err := repo.GetByID(ctx, execution.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ExecutionResolved, loaded.Status)
	assert.Equal(t, "o-1", loaded.Context["id"])
	assert.Empty(t, loaded.Jobs)

	list, err := repo.ListByWorkflow(ctx, 3)
	require.NoError(t, err)
	assert.Len(t, list, 1)

	_, err = repo.GetByID(ctx, 42)
	require.ErrorIs(t, err, persistence.ErrExecutionNotFound)
	require.ErrorIs(t, repo.UpdateStatus(ctx, 42, models.ExecutionFailed), persistence.ErrExecutionNotFound)
}

func TestJobRepository_SinglePendingJob(t *testing.T) {
	ctx := context.Background()
	repo := newTestPersistence(t).JobRepository()

	first := &models.Job{ExecutionID: 1, NodeID: 10, Index: 0, Status: models.JobPending}
	require.NoError(t, repo.Create(ctx, first))

	second := &models.Job{ExecutionID: 1, NodeID: 11, Index: 1, Status: models.JobPending}
	require.ErrorIs(t, repo.Create(ctx, second), persistence.ErrPendingJobExists)

	otherExecution := &models.Job{ExecutionID: 2, NodeID: 10, Status: models.JobPending}
	require.NoError(t, repo.Create(ctx, otherExecution))

	found, err := repo.FindPending(ctx, 1, 10)
	require.NoError(t, err)
	assert.Equal(t, first.ID, found.ID)

	_, err = repo.FindPending(ctx, 1, 11)
	require.ErrorIs(t, err, persistence.ErrJobNotFound)
}

func TestJobRepository_CompletePending(t *testing.T) {
	ctx := context.Background()
	repo := newTestPersistence(t).JobRepository()

	job := &models.Job{ExecutionID: 1, NodeID: 10, Status: models.JobPending}
	require.NoError(t, repo.Create(ctx, job))

	completed, err := repo.CompletePending(ctx, job.ID, models.JobResolved, map[string]any{"approved": true})
	require.NoError(t, err)
	assert.Equal(t, models.JobResolved, completed.Status)

	_, err = repo.CompletePending(ctx, job.ID, models.JobFailed, nil)
	require.ErrorIs(t, err, persistence.ErrJobNotPending)

	loaded, err := repo.GetByID(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobResolved, loaded.Status)
	assert.Equal(t, map[string]any{"approved": true}, loaded.Result)

	_, err = repo.CompletePending(ctx, 404, models.JobResolved, nil)
	require.ErrorIs(t, err, persistence.ErrJobNotFound)
}

func TestJobRepository_CompletePendingConcurrently(t *testing.T) {
	ctx := context.Background()
	repo := newTestPersistence(t).JobRepository()

	job := &models.Job{ExecutionID: 1, NodeID: 10, Status: models.JobPending}
	require.NoError(t, repo.Create(ctx, job))

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		successes int
	)

	for range 8 {
		wg.Add(1)

		go func() {
			defer wg.Done()

			if _, err := repo.CompletePending(ctx, job.ID, models.JobResolved, nil); err == nil {
				mu.Lock()
				successes++
				mu.Unlock()
			}
		}()
	}

	wg.Wait()
	assert.Equal(t, 1, successes)
}

func TestJobRepository_ListAndUpdate(t *testing.T) {
	ctx := context.Background()
	repo := newTestPersistence(t).JobRepository()

	second := &models.Job{ExecutionID: 1, NodeID: 11, Index: 1, Status: models.JobPending}
	first := &models.Job{ExecutionID: 1, NodeID: 10, Index: 0, Status: models.JobResolved}
	require.NoError(t, repo.Create(ctx, second))
	require.NoError(t, repo.Create(ctx, first))

	jobs, err := repo.ListByExecution(ctx, 1)
	require.NoError(t, err)
	require.Len(t, jobs, 2)
	assert.Equal(t, first.ID, jobs[0].ID)

	second.Status = models.JobResolved
	second.Result = "done"
	require.NoError(t, repo.Update(ctx, second))

	loaded, err := repo.GetByID(ctx, second.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobResolved, loaded.Status)
	assert.Equal(t, "done", loaded.Result)
}

func TestPersistence_SequencesSurviveReopen(t *testing.T) {
	ctx := context.Background()
	root := t.TempDir()

	p, err := NewPersistence(root)
	require.NoError(t, err)
	require.NoError(t, p.HealthCheck(ctx))

	require.NoError(t, p.WorkflowRepository().Create(ctx, newWorkflow("a", false)))

	reopened, err := NewPersistence(root)
	require.NoError(t, err)

	workflow := newWorkflow("b", false)
	require.NoError(t, reopened.WorkflowRepository().Create(ctx, workflow))
	assert.Equal(t, int64(2), workflow.ID)
	assert.Equal(t, int64(3), workflow.Nodes[0].ID)
}
