package postgresql_test

import (
	"context"
	"database/sql"
	"log/slog"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/dukex/flowgate/pkg/models"
	"github.com/dukex/flowgate/pkg/persistence"
	"github.com/dukex/flowgate/pkg/persistence/postgresql"
	_ "github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
)

var postgresContainer *postgres.PostgresContainer

func dropDb(ctx context.Context, t *testing.T, databaseURL string) {
	t.Helper()

	db, err := sql.Open("postgres", databaseURL)
	require.NoError(t, err)

	// Drop tables in reverse dependency order (children first, parents last)
	for _, table := range []string{"jobs", "executions", "flow_nodes", "workflows", "schema_migrations"} {
		_, err = db.ExecContext(ctx, "DROP TABLE IF EXISTS "+table+" CASCADE")
		require.NoError(t, err)
	}

	err = db.Close()
	require.NoError(t, err)
}

func setupTestDB(t *testing.T) (*postgresql.Persistence, context.Context, string) {
	t.Helper()

	testcontainers.SkipIfProviderIsNotHealthy(t)

	ctx, cancel := context.WithTimeout(context.Background(), 120*time.Second)

	if postgresContainer == nil || !postgresContainer.IsRunning() {
		var err error

		postgresContainer, err = postgres.Run(ctx,
			"postgres:16-alpine",
			postgres.WithDatabase("flowgate_test"),
			postgres.WithUsername("flowgate"),
			postgres.WithPassword("flowgate"),
			postgres.BasicWaitStrategies(),
		)
		require.NoError(t, err)
	}

	databaseURL, err := postgresContainer.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	dropDb(ctx, t, databaseURL)

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))

	p, err := postgresql.NewPersistence(ctx, logger, databaseURL)
	require.NoError(t, err)

	t.Cleanup(func() {
		dropDb(ctx, t, databaseURL)

		err = p.Close(ctx)
		require.NoError(t, err)

		cancel()
	})

	return p, ctx, databaseURL
}

func newWorkflow(key string, enabled bool) *models.Workflow {
	return &models.Workflow{
		Key:     key,
		Title:   "Workflow " + key,
		Type:    "request-interception",
		Enabled: enabled,
		Config:  map[string]any{"collection": "posts", "global": true},
		Nodes: []*models.Node{
			{Key: "check", Type: "condition", Config: map[string]any{"expression": "user != null"}},
			{Key: "stop", Type: "end", Config: map[string]any{"endStatus": float64(-1)}},
		},
	}
}

func TestNewPersistence_Migrations(t *testing.T) {
	p, ctx, databaseURL := setupTestDB(t)

	db, err := sql.Open("postgres", databaseURL)
	require.NoError(t, err)

	defer db.Close()

	var version int
	require.NoError(t, db.QueryRowContext(ctx, "SELECT MAX(version) FROM schema_migrations").Scan(&version))
	assert.Equal(t, 2, version)

	require.NoError(t, p.HealthCheck(ctx))

	// Running migrations again is a no-op.
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
	again, err := postgresql.NewPersistence(ctx, logger, databaseURL)
	require.NoError(t, err)
	require.NoError(t, again.Close(ctx))
}

func TestWorkflowRepository_CreateAndLoad(t *testing.T) {
	p, ctx, _ := setupTestDB(t)
	repo := p.WorkflowRepository()

	workflow := newWorkflow("gate", true)
	require.NoError(t, repo.Create(ctx, workflow))
	assert.NotZero(t, workflow.ID)

	loaded, err := repo.GetByID(ctx, workflow.ID)
	require.NoError(t, err)
	assert.Equal(t, "gate", loaded.Key)
	assert.True(t, loaded.ConfigBool("global"))
	require.Len(t, loaded.Nodes, 2)

	head := loaded.Head()
	require.NotNil(t, head)
	assert.Equal(t, "check", head.Key)
	require.NotNil(t, head.DownstreamID)
	assert.Equal(t, loaded.Nodes[1].ID, *head.DownstreamID)
	assert.Equal(t, float64(-1), loaded.Nodes[1].Config["endStatus"])

	_, err = repo.GetByID(ctx, 9999)
	require.ErrorIs(t, err, persistence.ErrWorkflowNotFound)
}

func TestWorkflowRepository_SingleEnabledVersion(t *testing.T) {
	p, ctx, _ := setupTestDB(t)
	repo := p.WorkflowRepository()

	v1 := newWorkflow("gate", true)
	require.NoError(t, repo.Create(ctx, v1))

	v2 := newWorkflow("gate", true)
	require.NoError(t, repo.Create(ctx, v2))

	enabled, err := repo.ListEnabled(ctx)
	require.NoError(t, err)
	require.Len(t, enabled, 1)
	assert.Equal(t, v2.ID, enabled[0].ID)

	_, err = repo.SetEnabled(ctx, v1.ID, true)
	require.NoError(t, err)

	versions, err := repo.ListByKey(ctx, "gate")
	require.NoError(t, err)
	require.Len(t, versions, 2)
	assert.True(t, versions[0].Enabled)
	assert.False(t, versions[1].Enabled)

	_, err = repo.SetEnabled(ctx, 9999, true)
	require.ErrorIs(t, err, persistence.ErrWorkflowNotFound)
}

func TestJobRepository_PendingLifecycle(t *testing.T) {
	p, ctx, _ := setupTestDB(t)

	workflow := newWorkflow("gate", true)
	require.NoError(t, p.WorkflowRepository().Create(ctx, workflow))

	execution := &models.Execution{
		WorkflowID: workflow.ID,
		Key:        workflow.Key,
		Status:     models.ExecutionStarted,
		Context:    map[string]any{"user": "ana"},
	}
	require.NoError(t, p.ExecutionRepository().Create(ctx, execution))

	jobs := p.JobRepository()

	first := &models.Job{ExecutionID: execution.ID, NodeID: workflow.Nodes[0].ID, NodeKey: "check", Index: 0, Status: models.JobPending}
	require.NoError(t, jobs.Create(ctx, first))

	second := &models.Job{ExecutionID: execution.ID, NodeID: workflow.Nodes[1].ID, NodeKey: "stop", Index: 1, Status: models.JobPending}
	require.ErrorIs(t, jobs.Create(ctx, second), persistence.ErrPendingJobExists)

	found, err := jobs.FindPending(ctx, execution.ID, workflow.Nodes[0].ID)
	require.NoError(t, err)
	assert.Equal(t, first.ID, found.ID)
	assert.Nil(t, found.Result)

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		successes int
	)

	for range 5 {
		wg.Add(1)

		go func() {
			defer wg.Done()

			if _, err := jobs.CompletePending(ctx, first.ID, models.JobResolved, map[string]any{"ok": true}); err == nil {
				mu.Lock()
				successes++
				mu.Unlock()
			}
		}()
	}

	wg.Wait()
	assert.Equal(t, 1, successes)

	_, err = jobs.CompletePending(ctx, first.ID, models.JobFailed, nil)
	require.ErrorIs(t, err, persistence.ErrJobNotPending)

	second.Status = models.JobResolved
	require.NoError(t, jobs.Create(ctx, second))

	list, err := jobs.ListByExecution(ctx, execution.ID)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, first.ID, list[0].ID)
	assert.Equal(t, map[string]any{"ok": true}, list[0].Result)

	require.NoError(t, p.ExecutionRepository().UpdateStatus(ctx, execution.ID, models.ExecutionResolved))

	loaded, err := p.ExecutionRepository().GetByID(ctx, execution.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ExecutionResolved, loaded.Status)
	assert.Equal(t, "ana", loaded.Context["user"])
	assert.Nil(t, loaded.ParentID)
}

func TestExecutionRepository_ParentLinkage(t *testing.T) {
	p, ctx, _ := setupTestDB(t)

	workflow := newWorkflow("gate", true)
	require.NoError(t, p.WorkflowRepository().Create(ctx, workflow))

	parent := &models.Execution{WorkflowID: workflow.ID, Key: "gate", Status: models.ExecutionStarted}
	require.NoError(t, p.ExecutionRepository().Create(ctx, parent))

	nodeID := workflow.Nodes[0].ID
	child := &models.Execution{
		WorkflowID:   workflow.ID,
		Key:          "gate",
		Status:       models.ExecutionQueueing,
		ParentID:     &parent.ID,
		ParentNodeID: &nodeID,
		Depth:        1,
	}
	require.NoError(t, p.ExecutionRepository().Create(ctx, child))

	loaded, err := p.ExecutionRepository().GetByID(ctx, child.ID)
	require.NoError(t, err)
	require.NotNil(t, loaded.ParentID)
	assert.Equal(t, parent.ID, *loaded.ParentID)
	assert.Equal(t, nodeID, *loaded.ParentNodeID)
	assert.Equal(t, 1, loaded.Depth)
	assert.Equal(t, models.ExecutionQueueing, loaded.Status)

	list, err := p.ExecutionRepository().ListByWorkflow(ctx, workflow.ID)
	require.NoError(t, err)
	assert.Len(t, list, 2)

	_, err = p.ExecutionRepository().GetByID(ctx, 9999)
	require.ErrorIs(t, err, persistence.ErrExecutionNotFound)
}
