package workflow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"runtime/debug"
	"time"

	"github.com/dukex/flowgate/pkg/events"
	"github.com/dukex/flowgate/pkg/models"
	"github.com/dukex/flowgate/pkg/otelhelper"
	"github.com/dukex/flowgate/pkg/protocol"
	"go.opentelemetry.io/otel/attribute"
)

// Processor walks one execution through its workflow, one node at a time. It is not
// safe for concurrent use; an execution has a single active cursor.
type Processor struct {
	engine     *Engine
	workflow   *models.Workflow
	execution  *models.Execution
	nodes      map[int64]*models.Node
	jobResults map[string]any
	exitStatus *models.ExecutionStatus
	afterSave  []func()
	logger     *slog.Logger
}

var _ protocol.Processor = (*Processor)(nil)

func newProcessor(engine *Engine, workflow *models.Workflow, execution *models.Execution) *Processor {
	models.SortJobs(execution.Jobs)

	p := &Processor{
		engine:     engine,
		workflow:   workflow,
		execution:  execution,
		nodes:      workflow.NodesMap(),
		jobResults: map[string]any{},
		logger: engine.logger.With(
			"workflow_id", workflow.ID,
			"workflow_key", workflow.Key,
			"execution_id", execution.ID,
		),
	}

	for _, job := range execution.Jobs {
		p.jobResults[job.NodeKey] = job.Result
	}

	return p
}

func (p *Processor) Execution() *models.Execution {
	return p.execution
}

func (p *Processor) Workflow() *models.Workflow {
	return p.workflow
}

func (p *Processor) LastSavedJob() *models.Job {
	return p.execution.LastSavedJob()
}

func (p *Processor) Logger() *slog.Logger {
	return p.logger
}

func (p *Processor) Exit(status models.ExecutionStatus) {
	p.exitStatus = &status
}

func (p *Processor) EnabledWorkflow(key string) (*models.Workflow, bool) {
	return p.engine.index.Get(key)
}

// Scope returns a copy of the execution context extended with $context,
// $jobsMapByNodeKey and $system.
func (p *Processor) Scope() map[string]any {
	scope := make(map[string]any, len(p.execution.Context)+3)
	maps.Copy(scope, p.execution.Context)

	scope["$context"] = p.execution.Context
	scope["$jobsMapByNodeKey"] = maps.Clone(p.jobResults)
	scope["$system"] = map[string]any{
		"now":         time.Now().UTC().Format(time.RFC3339),
		"executionId": p.execution.ID,
		"workflowId":  p.workflow.ID,
		"workflowKey": p.workflow.Key,
		"depth":       p.execution.Depth,
	}

	return scope
}

// Trigger starts another workflow as a child of this execution. The queued event of an
// async child is published only after the current job is saved.
func (p *Processor) Trigger(ctx context.Context, workflow *models.Workflow, input any, opts protocol.TriggerOptions) (*models.Execution, error) {
	if opts.Parent == nil {
		opts.Parent = p.execution
	}

	return p.engine.trigger(ctx, workflow, input, opts, func(publish func()) {
		p.afterSave = append(p.afterSave, publish)
	})
}

// start runs the execution from its head node.
func (p *Processor) start(ctx context.Context) error {
	if p.execution.Status == models.ExecutionQueueing {
		if err := p.setStatus(ctx, models.ExecutionStarted); err != nil {
			return err
		}
	}

	head := p.workflow.Head()
	if head == nil {
		return p.finish(ctx, models.ExecutionResolved)
	}

	input := models.NewJob(models.JobResolved, p.execution.Context)

	return p.run(ctx, head, input)
}

// resume continues the execution from a pending job whose outcome may already be
// attached.
func (p *Processor) resume(ctx context.Context, job *models.Job) error {
	node, ok := p.nodes[job.NodeID]
	if !ok {
		return p.configurationError(ctx, job.NodeID, ErrNodeNotFound)
	}

	instruction, ok := p.engine.instructions.Get(node.Type)
	if !ok {
		return p.configurationError(ctx, node.ID, fmt.Errorf("%w: %s", ErrInstructionNotFound, node.Type))
	}

	p.logger.InfoContext(ctx, "resuming job", "job_id", job.ID, "node_key", node.Key, "job_status", job.Status.String())

	result := p.invoke(ctx, "workflow.resume", node, func(ctx context.Context) (*models.Job, error) {
		return instruction.Resume(ctx, node, job, p)
	})

	// Resume always settles the job it was given.
	result.ID = job.ID
	result.Index = job.Index
	result.CreatedAt = job.CreatedAt

	if err := p.saveJob(ctx, node, result); err != nil {
		return err
	}

	next, err := p.advance(ctx, node, result)
	if err != nil || next == nil {
		return err
	}

	return p.run(ctx, next, result)
}

func (p *Processor) run(ctx context.Context, node *models.Node, input *models.Job) error {
	for node != nil {
		instruction, ok := p.engine.instructions.Get(node.Type)
		if !ok {
			return p.configurationError(ctx, node.ID, fmt.Errorf("%w: %s", ErrInstructionNotFound, node.Type))
		}

		job := p.invoke(ctx, "workflow.run", node, func(ctx context.Context) (*models.Job, error) {
			return instruction.Run(ctx, node, input, p)
		})

		if err := p.saveJob(ctx, node, job); err != nil {
			return err
		}

		next, err := p.advance(ctx, node, job)
		if err != nil {
			return err
		}

		node, input = next, job
	}

	return nil
}

// invoke calls an instruction hook. Errors and panics become ERROR jobs.
func (p *Processor) invoke(
	ctx context.Context,
	spanName string,
	node *models.Node,
	call func(ctx context.Context) (*models.Job, error),
) (job *models.Job) {
	started := time.Now()

	ctx, span := otelhelper.StartSpan(ctx, p.engine.tracer, spanName,
		attribute.Int64(otelhelper.ExecutionIDKey, p.execution.ID),
		attribute.Int64(otelhelper.NodeIDKey, node.ID),
		attribute.String(otelhelper.NodeTypeKey, node.Type),
	)

	defer func() {
		if recovered := recover(); recovered != nil {
			p.logger.ErrorContext(ctx, "instruction panicked",
				"node_key", node.Key,
				"node_type", node.Type,
				"panic", recovered,
				"stack", string(debug.Stack()),
			)

			job = models.NewJob(models.JobError, fmt.Sprintf("instruction panicked: %v", recovered))
		}

		span.SetAttributes(attribute.String(otelhelper.JobStatusKey, job.Status.String()))

		if job.Status == models.JobError {
			otelhelper.SetError(span, fmt.Errorf("node %s: %v", node.Key, job.Result))
		}

		span.End()
		p.engine.metrics.JobCompleted(node.Type, job.Status.String(), time.Since(started))
	}()

	job, err := call(ctx)
	if err != nil {
		p.logger.ErrorContext(ctx, "instruction failed", "node_key", node.Key, "node_type", node.Type, "error", err)

		return models.NewJob(models.JobError, err.Error())
	}

	if job == nil {
		return models.NewJob(models.JobError, "instruction returned no job")
	}

	return job
}

// saveJob persists a job produced for node, then runs the callbacks waiting for it.
func (p *Processor) saveJob(ctx context.Context, node *models.Node, job *models.Job) error {
	if p.execution.IsFinished() {
		return fmt.Errorf("%w: execution %d is %s", ErrExecutionFinished, p.execution.ID, p.execution.Status)
	}

	job.ExecutionID = p.execution.ID
	job.NodeID = node.ID
	job.NodeKey = node.Key

	jobs := p.engine.persistence.JobRepository()

	if job.ID == 0 {
		job.Index = 0
		if last := p.execution.LastSavedJob(); last != nil {
			job.Index = last.Index + 1
		}

		if err := jobs.Create(ctx, job); err != nil {
			return fmt.Errorf("failed to save job of node %s: %w", node.Key, err)
		}

		p.execution.Jobs = append(p.execution.Jobs, job)
	} else {
		if err := jobs.Update(ctx, job); err != nil {
			return fmt.Errorf("failed to update job %d: %w", job.ID, err)
		}

		p.replaceJob(job)
	}

	p.jobResults[node.Key] = job.Result

	p.logger.DebugContext(ctx, "job saved", "job_id", job.ID, "node_key", node.Key, "job_status", job.Status.String())

	callbacks := p.afterSave
	p.afterSave = nil

	for _, callback := range callbacks {
		callback()
	}

	return nil
}

func (p *Processor) replaceJob(job *models.Job) {
	for i, existing := range p.execution.Jobs {
		if existing.ID == job.ID {
			p.execution.Jobs[i] = job

			return
		}
	}

	p.execution.Jobs = append(p.execution.Jobs, job)
}

// advance decides what follows a saved job: the downstream node, a pause (nil, nil), or
// the end of the execution.
func (p *Processor) advance(ctx context.Context, node *models.Node, job *models.Job) (*models.Node, error) {
	if p.exitStatus != nil {
		return nil, p.finish(ctx, *p.exitStatus)
	}

	switch job.Status {
	case models.JobResolved:
		if node.DownstreamID == nil {
			return nil, p.finish(ctx, models.ExecutionResolved)
		}

		next, ok := p.nodes[*node.DownstreamID]
		if !ok {
			return nil, p.configurationError(ctx, *node.DownstreamID, ErrNodeNotFound)
		}

		return next, nil
	case models.JobPending:
		p.logger.InfoContext(ctx, "execution paused", "job_id", job.ID, "node_key", node.Key)

		return nil, nil
	default:
		return nil, p.finish(ctx, job.Status.ExecutionStatus())
	}
}

func (p *Processor) configurationError(ctx context.Context, nodeID int64, err error) error {
	configErr := &ConfigurationError{WorkflowID: p.workflow.ID, NodeID: nodeID, Err: err}

	p.logger.ErrorContext(ctx, "workflow configuration error", "node_id", nodeID, "error", err)

	if finishErr := p.finish(ctx, models.ExecutionError); finishErr != nil {
		return errors.Join(configErr, finishErr)
	}

	return configErr
}

func (p *Processor) setStatus(ctx context.Context, status models.ExecutionStatus) error {
	if err := p.engine.persistence.ExecutionRepository().UpdateStatus(ctx, p.execution.ID, status); err != nil {
		return fmt.Errorf("failed to update execution status: %w", err)
	}

	p.execution.Status = status

	return nil
}

// finish moves the execution to a terminal status and announces it.
func (p *Processor) finish(ctx context.Context, status models.ExecutionStatus) error {
	if p.execution.IsFinished() {
		return nil
	}

	if err := p.setStatus(ctx, status); err != nil {
		return err
	}

	p.engine.metrics.ExecutionFinished(p.workflow.Key, status.String())
	p.logger.InfoContext(ctx, "execution finished", "status", status.String(), "jobs", len(p.execution.Jobs))

	event := events.ExecutionFinished{
		BaseEvent:    events.NewBaseEvent(events.ExecutionFinishedEvent, p.workflow.ID),
		ExecutionID:  p.execution.ID,
		Status:       status,
		ParentID:     p.execution.ParentID,
		ParentNodeID: p.execution.ParentNodeID,
	}

	if err := p.engine.publish(ctx, p.execution.ID, event); err != nil {
		p.logger.ErrorContext(ctx, "failed to publish finished execution", "error", err)
	}

	return nil
}
