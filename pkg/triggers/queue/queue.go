// Package queue starts workflows from messages pushed onto Redis lists.
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/dukex/flowgate/pkg/models"
	"github.com/dukex/flowgate/pkg/protocol"
	redis "github.com/redis/go-redis/v9"
)

const (
	Type = "queue"

	defaultPopTimeout = time.Second
	retryInterval     = time.Second
)

var ErrMissingQueue = errors.New("queue trigger queue name is required")

type Option func(*Trigger)

// WithPopTimeout bounds each BLPOP call, and so how long Off waits for a consumer.
func WithPopTimeout(timeout time.Duration) Option {
	return func(t *Trigger) {
		t.popTimeout = timeout
	}
}

// Trigger runs one list consumer per enabled queue workflow. Config "queue" names the
// Redis list. Each message starts one execution; messages of a list are handled in order.
type Trigger struct {
	logger     *slog.Logger
	starter    protocol.Starter
	client     redis.UniversalClient
	popTimeout time.Duration

	mu        sync.Mutex
	consumers map[int64]*consumer
}

type consumer struct {
	cancel context.CancelFunc
	done   chan struct{}
}

var (
	_ protocol.Trigger         = (*Trigger)(nil)
	_ protocol.ConfigValidator = (*Trigger)(nil)
)

func New(logger *slog.Logger, starter protocol.Starter, client redis.UniversalClient, opts ...Option) *Trigger {
	t := &Trigger{
		logger:     logger.With("module", "queue_trigger"),
		starter:    starter,
		client:     client,
		popTimeout: defaultPopTimeout,
		consumers:  map[int64]*consumer{},
	}

	for _, opt := range opts {
		opt(t)
	}

	return t
}

func (t *Trigger) ValidateConfig(config map[string]any) error {
	if queue, _ := config["queue"].(string); queue == "" {
		return ErrMissingQueue
	}

	return nil
}

func (t *Trigger) On(ctx context.Context, workflow *models.Workflow) error {
	if err := t.ValidateConfig(workflow.Config); err != nil {
		return err
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if existing, ok := t.consumers[workflow.ID]; ok {
		existing.stop()
	}

	consumerCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	c := &consumer{cancel: cancel, done: make(chan struct{})}
	t.consumers[workflow.ID] = c

	go t.consume(consumerCtx, workflow, c.done)

	t.logger.InfoContext(ctx, "queue consumer started", "workflow_id", workflow.ID, "queue", workflow.ConfigString("queue"))

	return nil
}

func (t *Trigger) Off(ctx context.Context, workflow *models.Workflow) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	c, ok := t.consumers[workflow.ID]
	if !ok {
		return nil
	}

	c.stop()
	delete(t.consumers, workflow.ID)
	t.logger.InfoContext(ctx, "queue consumer stopped", "workflow_id", workflow.ID)

	return nil
}

// Stop stops every consumer. The Redis client is owned by the caller.
func (t *Trigger) Stop(ctx context.Context) {
	t.mu.Lock()
	defer t.mu.Unlock()

	for id, c := range t.consumers {
		c.stop()
		delete(t.consumers, id)
	}

	t.logger.InfoContext(ctx, "queue trigger stopped")
}

func (c *consumer) stop() {
	c.cancel()
	<-c.done
}

func (t *Trigger) consume(ctx context.Context, workflow *models.Workflow, done chan struct{}) {
	defer close(done)

	queue := workflow.ConfigString("queue")
	logger := t.logger.With("workflow_id", workflow.ID, "queue", queue)

	for ctx.Err() == nil {
		if err := t.processMessage(ctx, workflow, queue, logger); err != nil {
			logger.ErrorContext(ctx, "error processing message", "error", err)

			select {
			case <-ctx.Done():
			case <-time.After(retryInterval):
			}
		}
	}
}

func (t *Trigger) processMessage(ctx context.Context, workflow *models.Workflow, queue string, logger *slog.Logger) error {
	result, err := t.client.BLPop(ctx, t.popTimeout, queue).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) || ctx.Err() != nil {
			return nil
		}

		return fmt.Errorf("failed to pop message from queue: %w", err)
	}

	if len(result) < 2 {
		return nil
	}

	logger.DebugContext(ctx, "received message from queue")

	execution, err := t.starter.Trigger(ctx, workflow, Decode(result[1]), protocol.TriggerOptions{})
	if err != nil {
		logger.ErrorContext(ctx, "failed to start workflow for queued message", "error", err)

		return nil
	}

	if execution != nil {
		logger.DebugContext(ctx, "workflow started from queue", "execution_id", execution.ID)
	}

	return nil
}

// Decode turns a queued message into execution input. JSON objects are used as they
// are; anything else is wrapped as {"message": raw}. A timestamp is added when absent.
func Decode(message string) map[string]any {
	now := time.Now().UTC().Format(time.RFC3339)

	var data map[string]any
	if err := json.Unmarshal([]byte(message), &data); err != nil || data == nil {
		return map[string]any{
			"message":   message,
			"timestamp": now,
		}
	}

	if data["timestamp"] == nil {
		data["timestamp"] = now
	}

	return data
}
