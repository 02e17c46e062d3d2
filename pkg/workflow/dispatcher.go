package workflow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/dukex/flowgate/pkg/dedup"
	"github.com/dukex/flowgate/pkg/eventbus"
	"github.com/dukex/flowgate/pkg/events"
	"github.com/dukex/flowgate/pkg/models"
	"github.com/dukex/flowgate/pkg/persistence"
)

// Dispatcher re-enters executions from storage: it starts queued executions, resumes
// paused jobs and reports finished sub-workflows to their parents. It is the only
// component that rebuilds a processor from persisted state.
type Dispatcher struct {
	engine *Engine
	guard  dedup.Guard
	logger *slog.Logger

	mu    sync.Mutex
	locks map[int64]*executionLock
}

type executionLock struct {
	sync.Mutex
	refs int
}

func newDispatcher(engine *Engine) *Dispatcher {
	return &Dispatcher{
		engine: engine,
		guard:  dedup.NewMemoryGuard(0),
		logger: engine.logger.With("component", "dispatcher"),
		locks:  map[int64]*executionLock{},
	}
}

// SetGuard replaces the duplicate delivery filter, e.g. with a Redis guard shared
// by every worker.
func (d *Dispatcher) SetGuard(guard dedup.Guard) {
	d.guard = guard
}

// Start runs a queued execution from its head node.
func (d *Dispatcher) Start(ctx context.Context, executionID int64) error {
	unlock := d.lock(executionID)
	defer unlock()

	processor, err := d.load(ctx, executionID)
	if err != nil {
		return err
	}

	if processor.execution.Status != models.ExecutionQueueing {
		return fmt.Errorf("%w: execution %d is %s", ErrResumeIgnored, executionID, processor.execution.Status)
	}

	return processor.start(ctx)
}

// Resume continues the execution of a paused job. It is a no-op returning
// ErrResumeIgnored when the execution already finished or when the job is no longer
// the latest job of its execution.
func (d *Dispatcher) Resume(ctx context.Context, jobID int64) error {
	job, err := d.engine.persistence.JobRepository().GetByID(ctx, jobID)
	if err != nil {
		return err
	}

	unlock := d.lock(job.ExecutionID)
	defer unlock()

	processor, err := d.load(ctx, job.ExecutionID)
	if err != nil {
		return err
	}

	if processor.execution.IsFinished() {
		d.engine.metrics.Resume("ignored")

		return fmt.Errorf("%w: execution %d is %s", ErrResumeIgnored, job.ExecutionID, processor.execution.Status)
	}

	latest := processor.execution.LastSavedJob()
	if latest == nil || latest.ID != jobID {
		d.engine.metrics.Resume("ignored")

		return fmt.Errorf("%w: job %d was already consumed", ErrResumeIgnored, jobID)
	}

	d.engine.metrics.Resume("resumed")

	return processor.resume(ctx, latest)
}

// Complete attaches an external outcome to a pending job and resumes it. Only one of
// several concurrent completions of the same job succeeds; the others get
// persistence.ErrJobNotPending.
func (d *Dispatcher) Complete(ctx context.Context, jobID int64, status models.JobStatus, result any) error {
	if status == models.JobPending || !status.Valid() {
		return fmt.Errorf("%w: %s", ErrInvalidStatus, status)
	}

	if _, err := d.engine.persistence.JobRepository().CompletePending(ctx, jobID, status, result); err != nil {
		return err
	}

	return d.Resume(ctx, jobID)
}

// ExecutionFinished hands the outcome of a finished sub-workflow execution to the
// parent job waiting for it. Executions without a parent are ignored.
func (d *Dispatcher) ExecutionFinished(ctx context.Context, executionID int64) error {
	child, err := d.engine.persistence.ExecutionRepository().GetByID(ctx, executionID)
	if err != nil {
		return err
	}

	if child.ParentID == nil || child.ParentNodeID == nil {
		return nil
	}

	if !child.IsFinished() {
		return fmt.Errorf("%w: execution %d is still %s", ErrResumeIgnored, executionID, child.Status)
	}

	parentJob, err := d.engine.persistence.JobRepository().FindPending(ctx, *child.ParentID, *child.ParentNodeID)
	if errors.Is(err, persistence.ErrJobNotFound) {
		// Sync sub-workflows already folded their outcome into the parent job.
		return fmt.Errorf("%w: no pending job waits for execution %d", ErrResumeIgnored, executionID)
	}

	if err != nil {
		return err
	}

	jobs, err := d.engine.persistence.JobRepository().ListByExecution(ctx, executionID)
	if err != nil {
		return err
	}

	child.Jobs = jobs

	status := models.JobFailed
	if child.Status == models.ExecutionResolved {
		status = models.JobResolved
	}

	var result any
	if last := child.LastSavedJob(); last != nil {
		result = last.Result
	}

	d.logger.InfoContext(ctx, "sub-workflow finished",
		"execution_id", executionID,
		"parent_execution_id", *child.ParentID,
		"parent_job_id", parentJob.ID,
		"status", child.Status.String(),
	)

	return d.Complete(ctx, parentJob.ID, status, result)
}

// Attach subscribes the dispatcher to the engine events on bus.
func (d *Dispatcher) Attach(bus eventbus.EventSubscriber) error {
	handlers := map[events.EventType]eventbus.EventHandler{
		events.ExecutionQueuedEvent:    d.onEvent,
		events.JobResumeRequestedEvent: d.onEvent,
		events.ExecutionFinishedEvent:  d.onEvent,
	}

	for eventType, handler := range handlers {
		if err := bus.Handle(eventType, handler); err != nil {
			return fmt.Errorf("failed to handle %s: %w", eventType, err)
		}
	}

	return nil
}

type identifiedEvent interface {
	EventID() string
}

// onEvent filters duplicate deliveries and dispatches the event. Only transient
// failures are returned, so the transport redelivers them.
func (d *Dispatcher) onEvent(ctx context.Context, event any) error {
	identified, ok := event.(identifiedEvent)
	if !ok {
		return nil
	}

	id := identified.EventID()

	first, err := d.guard.First(ctx, id)
	if err != nil {
		return err
	}

	if !first {
		d.engine.metrics.Resume("duplicate")
		d.logger.DebugContext(ctx, "duplicate event skipped", "event_id", id)

		return nil
	}

	err = d.dispatch(ctx, event)

	switch {
	case err == nil:
		return nil
	case errors.Is(err, ErrResumeIgnored):
		d.logger.DebugContext(ctx, "event ignored", "event_id", id, "reason", err)

		return nil
	case isPermanent(err):
		d.logger.WarnContext(ctx, "event not processed", "event_id", id, "error", err)

		return nil
	}

	d.engine.metrics.Resume("error")

	if releaseErr := d.guard.Release(ctx, id); releaseErr != nil {
		d.logger.ErrorContext(ctx, "failed to release event id", "event_id", id, "error", releaseErr)
	}

	return err
}

func (d *Dispatcher) dispatch(ctx context.Context, event any) error {
	switch e := event.(type) {
	case *events.ExecutionQueued:
		return d.Start(ctx, e.ExecutionID)
	case *events.JobResumeRequested:
		return d.Complete(ctx, e.JobID, e.Status, e.Result)
	case *events.ExecutionFinished:
		if e.ParentID == nil {
			return nil
		}

		return d.ExecutionFinished(ctx, e.ExecutionID)
	default:
		return nil
	}
}

// handleLocal processes an event published without a bus.
func (d *Dispatcher) handleLocal(ctx context.Context, event eventbus.Event) {
	var err error

	switch e := event.(type) {
	case events.ExecutionQueued:
		err = d.onEvent(ctx, &e)
	case events.ExecutionFinished:
		err = d.onEvent(ctx, &e)
	case events.JobResumeRequested:
		err = d.onEvent(ctx, &e)
	}

	if err != nil {
		d.logger.ErrorContext(ctx, "local event dispatch failed", "event_type", event.GetType(), "error", err)
	}
}

func isPermanent(err error) bool {
	return errors.Is(err, ErrResumeIgnored) ||
		errors.Is(err, ErrInvalidStatus) ||
		errors.Is(err, ErrExecutionFinished) ||
		IsConfigurationError(err) ||
		errors.Is(err, persistence.ErrJobNotPending) ||
		errors.Is(err, persistence.ErrJobNotFound) ||
		errors.Is(err, persistence.ErrExecutionNotFound) ||
		errors.Is(err, persistence.ErrWorkflowNotFound)
}

// load rebuilds a processor from storage using the workflow version the execution
// started with.
func (d *Dispatcher) load(ctx context.Context, executionID int64) (*Processor, error) {
	execution, err := d.engine.persistence.ExecutionRepository().GetByID(ctx, executionID)
	if err != nil {
		return nil, err
	}

	jobs, err := d.engine.persistence.JobRepository().ListByExecution(ctx, executionID)
	if err != nil {
		return nil, err
	}

	execution.Jobs = jobs

	workflow, err := d.engine.persistence.WorkflowRepository().GetByID(ctx, execution.WorkflowID)
	if err != nil {
		return nil, err
	}

	return newProcessor(d.engine, workflow, execution), nil
}

// lock serialises dispatcher work on one execution within this process.
func (d *Dispatcher) lock(executionID int64) func() {
	d.mu.Lock()

	l, ok := d.locks[executionID]
	if !ok {
		l = &executionLock{}
		d.locks[executionID] = l
	}

	l.refs++
	d.mu.Unlock()

	l.Lock()

	return func() {
		l.Unlock()

		d.mu.Lock()
		l.refs--

		if l.refs == 0 {
			delete(d.locks, executionID)
		}

		d.mu.Unlock()
	}
}
