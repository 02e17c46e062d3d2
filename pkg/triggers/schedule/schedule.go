// Package schedule starts workflows on cron schedules.
package schedule

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/dukex/flowgate/pkg/models"
	"github.com/dukex/flowgate/pkg/protocol"
	"github.com/robfig/cron/v3"
)

const Type = "schedule"

var ErrMissingCron = errors.New("schedule trigger cron expression is required")

// Trigger runs every enabled schedule workflow from one cron scheduler. Config "cron"
// is a standard five-field expression or a descriptor such as "@every 1m".
type Trigger struct {
	logger  *slog.Logger
	starter protocol.Starter
	cron    *cron.Cron

	mu      sync.Mutex
	entries map[int64]cron.EntryID
}

var (
	_ protocol.Trigger         = (*Trigger)(nil)
	_ protocol.ConfigValidator = (*Trigger)(nil)
)

func New(logger *slog.Logger, starter protocol.Starter) *Trigger {
	logger = logger.With("module", "schedule_trigger")
	cronLog := cronLogger{logger: logger}

	return &Trigger{
		logger:  logger,
		starter: starter,
		cron: cron.New(
			cron.WithLogger(cronLog),
			cron.WithChain(cron.SkipIfStillRunning(cronLog), cron.Recover(cronLog)),
		),
		entries: map[int64]cron.EntryID{},
	}
}

// Start runs the scheduler in its own goroutine.
func (t *Trigger) Start() {
	t.cron.Start()
}

// Stop halts the scheduler and waits for running jobs until ctx is done.
func (t *Trigger) Stop(ctx context.Context) error {
	done := t.cron.Stop()

	select {
	case <-done.Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (t *Trigger) ValidateConfig(config map[string]any) error {
	spec, _ := config["cron"].(string)
	if spec == "" {
		return ErrMissingCron
	}

	if _, err := cron.ParseStandard(spec); err != nil {
		return fmt.Errorf("invalid cron expression: %w", err)
	}

	return nil
}

func (t *Trigger) On(ctx context.Context, workflow *models.Workflow) error {
	if err := t.ValidateConfig(workflow.Config); err != nil {
		return err
	}

	spec := workflow.ConfigString("cron")

	t.mu.Lock()
	defer t.mu.Unlock()

	if id, ok := t.entries[workflow.ID]; ok {
		t.cron.Remove(id)
	}

	id, err := t.cron.AddJob(spec, cron.FuncJob(func() {
		t.Fire(context.Background(), workflow)
	}))
	if err != nil {
		return fmt.Errorf("failed to add cron job for workflow %d: %w", workflow.ID, err)
	}

	t.entries[workflow.ID] = id
	t.logger.InfoContext(ctx, "schedule registered", "workflow_id", workflow.ID, "key", workflow.Key, "cron", spec)

	return nil
}

func (t *Trigger) Off(ctx context.Context, workflow *models.Workflow) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	id, ok := t.entries[workflow.ID]
	if !ok {
		return nil
	}

	t.cron.Remove(id)
	delete(t.entries, workflow.ID)
	t.logger.InfoContext(ctx, "schedule removed", "workflow_id", workflow.ID, "key", workflow.Key)

	return nil
}

// Next reports the next activation of a registered workflow.
func (t *Trigger) Next(workflowID int64) (time.Time, bool) {
	t.mu.Lock()
	id, ok := t.entries[workflowID]
	t.mu.Unlock()

	if !ok {
		return time.Time{}, false
	}

	return t.cron.Entry(id).Next, true
}

// Fire starts one execution of workflow with the activation time as input.
func (t *Trigger) Fire(ctx context.Context, workflow *models.Workflow) {
	input := map[string]any{
		"timestamp": time.Now().UTC().Format(time.RFC3339),
		"cron":      workflow.ConfigString("cron"),
	}

	execution, err := t.starter.Trigger(ctx, workflow, input, protocol.TriggerOptions{})
	if err != nil {
		t.logger.ErrorContext(ctx, "failed to start scheduled workflow", "workflow_id", workflow.ID, "error", err)

		return
	}

	if execution != nil {
		t.logger.DebugContext(ctx, "scheduled workflow started", "workflow_id", workflow.ID, "execution_id", execution.ID)
	}
}

// cronLogger routes the scheduler's own logging to slog.
type cronLogger struct {
	logger *slog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.logger.Debug(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.logger.Error(msg, append(keysAndValues, "error", err)...)
}
