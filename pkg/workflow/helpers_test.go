package workflow

import (
	"context"
	"errors"
	"testing"

	"github.com/dukex/flowgate/pkg/log"
	"github.com/dukex/flowgate/pkg/models"
	"github.com/dukex/flowgate/pkg/persistence/file"
	"github.com/dukex/flowgate/pkg/protocol"
	"github.com/stretchr/testify/require"
)

// echo resolves with node config "result", or passes its input result through.
type echo struct{}

func (echo) Run(_ context.Context, node *models.Node, input *models.Job, _ protocol.Processor) (*models.Job, error) {
	if result, ok := node.Config["result"]; ok {
		return models.NewJob(models.JobResolved, result), nil
	}

	return models.NewJob(models.JobResolved, input.Result), nil
}

func (echo) Resume(_ context.Context, _ *models.Node, job *models.Job, _ protocol.Processor) (*models.Job, error) {
	return job, nil
}

// wait pauses until an external caller completes the job.
type wait struct{}

func (wait) Run(_ context.Context, _ *models.Node, _ *models.Job, _ protocol.Processor) (*models.Job, error) {
	return models.NewJob(models.JobPending, nil), nil
}

func (wait) Resume(_ context.Context, _ *models.Node, job *models.Job, _ protocol.Processor) (*models.Job, error) {
	return job, nil
}

type fail struct{}

func (fail) Run(_ context.Context, node *models.Node, _ *models.Job, _ protocol.Processor) (*models.Job, error) {
	switch node.ConfigString("mode") {
	case "panic":
		panic("exploded")
	case "error":
		return nil, errors.New("broken instruction")
	case "nil":
		return nil, nil
	default:
		return models.NewJob(models.JobFailed, "rejected"), nil
	}
}

func (fail) Resume(_ context.Context, _ *models.Node, job *models.Job, _ protocol.Processor) (*models.Job, error) {
	return job, nil
}

// stop ends the execution with config "status" regardless of downstream nodes.
type stop struct{}

func (stop) Run(_ context.Context, node *models.Node, _ *models.Job, p protocol.Processor) (*models.Job, error) {
	status := models.ExecutionResolved
	if node.ConfigBool("fail") {
		status = models.ExecutionFailed
	}

	p.Exit(status)

	return models.NewJob(models.JobStatus(status), "stopped"), nil
}

func (stop) Resume(_ context.Context, _ *models.Node, job *models.Job, _ protocol.Processor) (*models.Job, error) {
	return job, nil
}

// call starts the workflow named by config "key". Sync calls fold the child's status;
// async calls wait for the child to finish.
type call struct{}

func (call) Run(ctx context.Context, node *models.Node, _ *models.Job, p protocol.Processor) (*models.Job, error) {
	target, ok := p.EnabledWorkflow(node.ConfigString("key"))
	if !ok {
		return models.NewJob(models.JobFailed, "target not found"), nil
	}

	execution, err := p.Trigger(ctx, target, map[string]any{"from": node.Key}, protocol.TriggerOptions{
		Sync:       node.ConfigBool("sync"),
		ParentNode: node,
	})
	if err != nil {
		return nil, err
	}

	if !target.Sync && !node.ConfigBool("sync") {
		return models.NewJob(models.JobPending, nil), nil
	}

	if execution.Status != models.ExecutionResolved {
		return models.NewJob(models.JobFailed, execution.Status.String()), nil
	}

	return models.NewJob(models.JobResolved, execution.LastSavedJob().Result), nil
}

func (call) Resume(_ context.Context, _ *models.Node, job *models.Job, _ protocol.Processor) (*models.Job, error) {
	return job, nil
}

type testEnv struct {
	engine      *Engine
	persistence *file.Persistence
}

func newTestEnv(t *testing.T, opts ...Option) *testEnv {
	t.Helper()

	p, err := file.NewPersistence(t.TempDir())
	require.NoError(t, err)

	engine, err := NewEngine(log.Discard(), p, opts...)
	require.NoError(t, err)

	engine.RegisterInstruction("echo", echo{})
	engine.RegisterInstruction("wait", wait{})
	engine.RegisterInstruction("fail", fail{})
	engine.RegisterInstruction("stop", stop{})
	engine.RegisterInstruction("call", call{})

	return &testEnv{engine: engine, persistence: p}
}

func (env *testEnv) createWorkflow(t *testing.T, key string, sync bool, nodes ...*models.Node) *models.Workflow {
	t.Helper()

	workflow := &models.Workflow{
		Key:     key,
		Title:   key,
		Type:    "action",
		Enabled: true,
		Sync:    sync,
		Nodes:   nodes,
	}

	require.NoError(t, env.persistence.WorkflowRepository().Create(context.Background(), workflow))
	env.engine.Index().Put(workflow)

	return workflow
}

func (env *testEnv) execution(t *testing.T, id int64) *models.Execution {
	t.Helper()

	ctx := context.Background()

	execution, err := env.persistence.ExecutionRepository().GetByID(ctx, id)
	require.NoError(t, err)

	execution.Jobs, err = env.persistence.JobRepository().ListByExecution(ctx, id)
	require.NoError(t, err)

	return execution
}

func node(key, nodeType string, config map[string]any) *models.Node {
	return &models.Node{Key: key, Type: nodeType, Config: config}
}
