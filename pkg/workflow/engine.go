// Package workflow interprets workflow node graphs: it starts executions, runs nodes
// through their instructions, and resumes paused jobs.
package workflow

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/dukex/flowgate/pkg/eventbus"
	"github.com/dukex/flowgate/pkg/events"
	"github.com/dukex/flowgate/pkg/metrics"
	"github.com/dukex/flowgate/pkg/models"
	"github.com/dukex/flowgate/pkg/otelhelper"
	"github.com/dukex/flowgate/pkg/persistence"
	"github.com/dukex/flowgate/pkg/protocol"
	"github.com/dukex/flowgate/pkg/registry"
	"github.com/go-playground/validator/v10"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const DefaultMaxDepth = 10

// Config holds the engine limits.
type Config struct {
	MaxDepth int `validate:"gte=1,lte=1000"`
}

// Engine owns the registries, the enabled workflow index and the storage used by
// every processor.
type Engine struct {
	persistence  persistence.Persistence
	instructions *registry.Registry[protocol.Instruction]
	triggers     *registry.Registry[protocol.Trigger]
	index        *Index
	publisher    eventbus.EventPublisher
	metrics      *metrics.Metrics
	tracer       trace.Tracer
	logger       *slog.Logger
	config       Config
	dispatcher   *Dispatcher
}

type Option func(*Engine)

// WithPublisher sends queued and finished events through an event bus. Without it,
// events are dispatched in-process.
func WithPublisher(publisher eventbus.EventPublisher) Option {
	return func(e *Engine) {
		e.publisher = publisher
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(e *Engine) {
		e.metrics = m
	}
}

func WithTracer(tracer trace.Tracer) Option {
	return func(e *Engine) {
		e.tracer = tracer
	}
}

func WithIndex(index *Index) Option {
	return func(e *Engine) {
		e.index = index
	}
}

func WithConfig(config Config) Option {
	return func(e *Engine) {
		e.config = config
	}
}

func NewEngine(logger *slog.Logger, p persistence.Persistence, opts ...Option) (*Engine, error) {
	engine := &Engine{
		persistence:  p,
		instructions: registry.New[protocol.Instruction](),
		triggers:     registry.New[protocol.Trigger](),
		index:        NewIndex(),
		tracer:       otelhelper.Noop(),
		logger:       logger.With("module", "workflow_engine"),
		config:       Config{MaxDepth: DefaultMaxDepth},
	}

	for _, opt := range opts {
		opt(engine)
	}

	if err := validator.New(validator.WithRequiredStructEnabled()).Struct(engine.config); err != nil {
		return nil, fmt.Errorf("invalid engine config: %w", err)
	}

	engine.dispatcher = newDispatcher(engine)

	return engine, nil
}

// RegisterInstruction adds or replaces the instruction for a node type.
func (e *Engine) RegisterInstruction(name string, instruction protocol.Instruction) {
	e.instructions.Register(name, instruction)
}

// RegisterTrigger adds or replaces the trigger for a workflow type.
func (e *Engine) RegisterTrigger(name string, trigger protocol.Trigger) {
	e.triggers.Register(name, trigger)
}

func (e *Engine) Instructions() *registry.Registry[protocol.Instruction] {
	return e.instructions
}

func (e *Engine) Triggers() *registry.Registry[protocol.Trigger] {
	return e.triggers
}

func (e *Engine) Index() *Index {
	return e.index
}

func (e *Engine) Persistence() persistence.Persistence {
	return e.persistence
}

func (e *Engine) Dispatcher() *Dispatcher {
	return e.dispatcher
}

func (e *Engine) Logger() *slog.Logger {
	return e.logger
}

// Trigger starts an execution of workflow.
//
// A disabled workflow is not started: Trigger returns a nil execution and
// ErrWorkflowDisabled. A sync run (opts.Sync or workflow.Sync) advances the execution
// on the caller's stack until it finishes or pauses and returns it with its jobs. An
// async run returns the queued execution and lets a dispatcher start it.
func (e *Engine) Trigger(ctx context.Context, workflow *models.Workflow, input any, opts protocol.TriggerOptions) (*models.Execution, error) {
	return e.trigger(ctx, workflow, input, opts, nil)
}

// trigger implements Trigger. When afterSave is set, the queued event of an async run is
// handed to it instead of being published right away.
func (e *Engine) trigger(
	ctx context.Context,
	workflow *models.Workflow,
	input any,
	opts protocol.TriggerOptions,
	afterSave func(func()),
) (*models.Execution, error) {
	if workflow == nil {
		return nil, persistence.ErrWorkflowNotFound
	}

	if !workflow.Enabled && !opts.Force {
		return nil, ErrWorkflowDisabled
	}

	depth := 0
	if opts.Parent != nil {
		depth = opts.Parent.Depth + 1
	}

	if depth > e.config.MaxDepth {
		return nil, fmt.Errorf("%w: workflow %s at depth %d", ErrMaxDepthExceeded, workflow.Key, depth)
	}

	runSync := opts.Sync || workflow.Sync

	execution := &models.Execution{
		WorkflowID: workflow.ID,
		Key:        workflow.Key,
		Status:     models.ExecutionQueueing,
		Context:    models.ContextFromInput(input),
		Depth:      depth,
	}

	if runSync {
		execution.Status = models.ExecutionStarted
	}

	if opts.Parent != nil {
		parentID := opts.Parent.ID
		execution.ParentID = &parentID
	}

	if opts.ParentNode != nil {
		parentNodeID := opts.ParentNode.ID
		execution.ParentNodeID = &parentNodeID
	}

	ctx, span := otelhelper.StartSpan(ctx, e.tracer, "workflow.trigger",
		attribute.Int64(otelhelper.WorkflowIDKey, workflow.ID),
		attribute.String(otelhelper.WorkflowKeyKey, workflow.Key),
		attribute.Int(otelhelper.ExecutionDepth, depth),
	)
	defer span.End()

	if err := e.persistence.ExecutionRepository().Create(ctx, execution); err != nil {
		otelhelper.SetError(span, err)

		return nil, fmt.Errorf("failed to create execution: %w", err)
	}

	span.SetAttributes(attribute.Int64(otelhelper.ExecutionIDKey, execution.ID))
	e.metrics.ExecutionStarted(workflow.Key, runSync)

	logger := e.logger.With("workflow_id", workflow.ID, "workflow_key", workflow.Key, "execution_id", execution.ID)

	if !runSync {
		event := events.ExecutionQueued{
			BaseEvent:   events.NewBaseEvent(events.ExecutionQueuedEvent, workflow.ID),
			ExecutionID: execution.ID,
		}

		publish := func() {
			if err := e.publish(ctx, event.ExecutionID, event); err != nil {
				logger.ErrorContext(ctx, "failed to publish queued execution", "error", err)
			}
		}

		if afterSave != nil {
			afterSave(publish)
		} else {
			publish()
		}

		logger.InfoContext(ctx, "execution queued")

		return execution, nil
	}

	logger.InfoContext(ctx, "execution started", "depth", depth)

	processor := newProcessor(e, workflow, execution)

	if err := processor.start(ctx); err != nil {
		otelhelper.SetError(span, err)

		return execution, err
	}

	return execution, nil
}

// RequestResume queues an external outcome for a pending job. A dispatcher attached to
// the bus completes it; without a bus it is completed in-process in the background.
func (e *Engine) RequestResume(ctx context.Context, jobID int64, status models.JobStatus, result any) error {
	if status == models.JobPending || !status.Valid() {
		return fmt.Errorf("%w: %s", ErrInvalidStatus, status)
	}

	job, err := e.persistence.JobRepository().GetByID(ctx, jobID)
	if err != nil {
		return err
	}

	if job.Status != models.JobPending {
		return persistence.NewJobError("RequestResume", job.ExecutionID, job.ID, persistence.ErrJobNotPending)
	}

	event := events.JobResumeRequested{
		BaseEvent: events.NewBaseEvent(events.JobResumeRequestedEvent, 0),
		JobID:     jobID,
		Status:    status,
		Result:    result,
	}

	return e.publish(ctx, job.ExecutionID, event)
}

// publish sends an event through the configured bus, or hands it to the local
// dispatcher when no bus is configured.
func (e *Engine) publish(ctx context.Context, key int64, event eventbus.Event) error {
	if e.publisher != nil {
		return e.publisher.Publish(ctx, strconv.FormatInt(key, 10), event)
	}

	go e.dispatcher.handleLocal(context.WithoutCancel(ctx), event)

	return nil
}
