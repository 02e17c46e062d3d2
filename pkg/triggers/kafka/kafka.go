// Package kafka starts workflows from messages on Kafka topics.
package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/IBM/sarama"
	"github.com/dukex/flowgate/pkg/models"
	"github.com/dukex/flowgate/pkg/protocol"
)

const (
	Type = "kafka"

	sessionTimeout    = 10 * time.Second
	heartbeatInterval = 3 * time.Second
	retryInterval     = 5 * time.Second
)

var (
	ErrMissingTopic   = errors.New("kafka trigger topic is required")
	ErrMissingBrokers = errors.New("kafka trigger brokers are required")
)

// GroupFactory opens a consumer group. It defaults to sarama.NewConsumerGroup.
type GroupFactory func(brokers []string, group string, config *sarama.Config) (sarama.ConsumerGroup, error)

type Option func(*Trigger)

func WithGroupFactory(factory GroupFactory) Option {
	return func(t *Trigger) {
		t.newGroup = factory
	}
}

// Trigger joins a consumer group per enabled kafka workflow. Config "topic" is
// required; "consumer_group" defaults to "flowgate-" plus the workflow key.
type Trigger struct {
	logger   *slog.Logger
	starter  protocol.Starter
	brokers  []string
	newGroup GroupFactory

	mu        sync.Mutex
	consumers map[int64]*consumer
}

type consumer struct {
	group  sarama.ConsumerGroup
	cancel context.CancelFunc
	done   chan struct{}
}

var (
	_ protocol.Trigger         = (*Trigger)(nil)
	_ protocol.ConfigValidator = (*Trigger)(nil)
)

func New(logger *slog.Logger, starter protocol.Starter, brokers []string, opts ...Option) *Trigger {
	t := &Trigger{
		logger:    logger.With("module", "kafka_trigger"),
		starter:   starter,
		brokers:   brokers,
		newGroup:  sarama.NewConsumerGroup,
		consumers: map[int64]*consumer{},
	}

	for _, opt := range opts {
		opt(t)
	}

	return t
}

func (t *Trigger) ValidateConfig(config map[string]any) error {
	if topic, _ := config["topic"].(string); topic == "" {
		return ErrMissingTopic
	}

	return nil
}

func GroupName(workflow *models.Workflow) string {
	if group := workflow.ConfigString("consumer_group"); group != "" {
		return group
	}

	return "flowgate-" + workflow.Key
}

func (t *Trigger) On(ctx context.Context, workflow *models.Workflow) error {
	if err := t.ValidateConfig(workflow.Config); err != nil {
		return err
	}

	if len(t.brokers) == 0 {
		return ErrMissingBrokers
	}

	config := sarama.NewConfig()
	config.Version = sarama.V2_6_0_0
	config.Consumer.Group.Session.Timeout = sessionTimeout
	config.Consumer.Group.Heartbeat.Interval = heartbeatInterval
	config.Consumer.Offsets.Initial = sarama.OffsetNewest
	config.Consumer.Return.Errors = true

	group, err := t.newGroup(t.brokers, GroupName(workflow), config)
	if err != nil {
		return fmt.Errorf("failed to create kafka consumer group: %w", err)
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if existing, ok := t.consumers[workflow.ID]; ok {
		t.stopConsumer(ctx, existing)
	}

	consumerCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	c := &consumer{group: group, cancel: cancel, done: make(chan struct{})}
	t.consumers[workflow.ID] = c

	go t.consume(consumerCtx, workflow, c)
	go t.monitorErrors(consumerCtx, group)

	t.logger.InfoContext(ctx, "kafka consumer started",
		"workflow_id", workflow.ID, "topic", workflow.ConfigString("topic"), "consumer_group", GroupName(workflow))

	return nil
}

func (t *Trigger) Off(ctx context.Context, workflow *models.Workflow) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	c, ok := t.consumers[workflow.ID]
	if !ok {
		return nil
	}

	t.stopConsumer(ctx, c)
	delete(t.consumers, workflow.ID)
	t.logger.InfoContext(ctx, "kafka consumer stopped", "workflow_id", workflow.ID)

	return nil
}

// Stop leaves every consumer group.
func (t *Trigger) Stop(ctx context.Context) {
	t.mu.Lock()
	defer t.mu.Unlock()

	for id, c := range t.consumers {
		t.stopConsumer(ctx, c)
		delete(t.consumers, id)
	}
}

func (t *Trigger) stopConsumer(ctx context.Context, c *consumer) {
	c.cancel()

	if err := c.group.Close(); err != nil {
		t.logger.ErrorContext(ctx, "error closing kafka consumer group", "error", err)
	}

	<-c.done
}

func (t *Trigger) consume(ctx context.Context, workflow *models.Workflow, c *consumer) {
	defer close(c.done)

	handler := &groupHandler{trigger: t, workflow: workflow}
	topics := []string{workflow.ConfigString("topic")}

	for ctx.Err() == nil {
		err := c.group.Consume(ctx, topics, handler)
		if err == nil {
			continue
		}

		if errors.Is(err, sarama.ErrClosedConsumerGroup) {
			return
		}

		t.logger.ErrorContext(ctx, "kafka consumer error", "workflow_id", workflow.ID, "error", err)

		select {
		case <-ctx.Done():
		case <-time.After(retryInterval):
		}
	}
}

func (t *Trigger) monitorErrors(ctx context.Context, group sarama.ConsumerGroup) {
	for {
		select {
		case err, ok := <-group.Errors():
			if !ok {
				return
			}

			t.logger.ErrorContext(ctx, "kafka consumer group error", "error", err)
		case <-ctx.Done():
			return
		}
	}
}

type groupHandler struct {
	trigger  *Trigger
	workflow *models.Workflow
}

func (h *groupHandler) Setup(session sarama.ConsumerGroupSession) error {
	h.trigger.logger.DebugContext(session.Context(), "kafka consumer group session started", "workflow_id", h.workflow.ID)

	return nil
}

func (h *groupHandler) Cleanup(session sarama.ConsumerGroupSession) error {
	h.trigger.logger.DebugContext(session.Context(), "kafka consumer group session ended", "workflow_id", h.workflow.ID)

	return nil
}

// ConsumeClaim starts one execution per message and marks the message once the
// execution was created.
func (h *groupHandler) ConsumeClaim(session sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	ctx := session.Context()

	for message := range claim.Messages() {
		execution, err := h.trigger.starter.Trigger(ctx, h.workflow, Decode(message), protocol.TriggerOptions{})
		if err != nil {
			h.trigger.logger.ErrorContext(ctx, "failed to start workflow for kafka message",
				"workflow_id", h.workflow.ID, "topic", message.Topic, "offset", message.Offset, "error", err)
		} else if execution != nil {
			h.trigger.logger.DebugContext(ctx, "workflow started from kafka message",
				"workflow_id", h.workflow.ID, "execution_id", execution.ID, "offset", message.Offset)
		}

		session.MarkMessage(message, "")
	}

	return nil
}

// Decode turns a Kafka message into execution input. A JSON value is kept under
// "message"; anything else is kept as {"raw_message": text}.
func Decode(message *sarama.ConsumerMessage) map[string]any {
	var data any

	if len(message.Value) > 0 {
		if err := json.Unmarshal(message.Value, &data); err != nil {
			data = map[string]any{"raw_message": string(message.Value)}
		}
	}

	headers := make(map[string]string, len(message.Headers))
	for _, header := range message.Headers {
		if header != nil {
			headers[string(header.Key)] = string(header.Value)
		}
	}

	timestamp := message.Timestamp
	if timestamp.IsZero() {
		timestamp = time.Now()
	}

	return map[string]any{
		"topic":     message.Topic,
		"partition": message.Partition,
		"offset":    message.Offset,
		"timestamp": timestamp.UTC().Format(time.RFC3339),
		"key":       string(message.Key),
		"message":   data,
		"headers":   headers,
	}
}
