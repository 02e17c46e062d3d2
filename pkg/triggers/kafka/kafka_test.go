package kafka

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/IBM/sarama"
	"github.com/dukex/flowgate/pkg/log"
	"github.com/dukex/flowgate/pkg/models"
	"github.com/dukex/flowgate/pkg/protocol"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingStarter struct {
	mu     sync.Mutex
	inputs []map[string]any
}

func (s *recordingStarter) Trigger(_ context.Context, _ *models.Workflow, input any, _ protocol.TriggerOptions) (*models.Execution, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.inputs = append(s.inputs, input.(map[string]any))

	return &models.Execution{ID: int64(len(s.inputs))}, nil
}

func (s *recordingStarter) received() []map[string]any {
	s.mu.Lock()
	defer s.mu.Unlock()

	return append([]map[string]any(nil), s.inputs...)
}

type fakeSession struct {
	sarama.ConsumerGroupSession

	ctx    context.Context
	mu     sync.Mutex
	marked []int64
}

func (s *fakeSession) Context() context.Context { return s.ctx }

func (s *fakeSession) MarkMessage(msg *sarama.ConsumerMessage, _ string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.marked = append(s.marked, msg.Offset)
}

type fakeClaim struct {
	sarama.ConsumerGroupClaim

	messages chan *sarama.ConsumerMessage
}

func (c *fakeClaim) Messages() <-chan *sarama.ConsumerMessage { return c.messages }

// fakeGroup delivers its messages in one session, then waits to be closed.
type fakeGroup struct {
	sarama.ConsumerGroup

	messages []*sarama.ConsumerMessage
	session  *fakeSession
	errs     chan error
	closed   chan struct{}
	once     sync.Once
	topics   []string
}

func newFakeGroup(messages ...*sarama.ConsumerMessage) *fakeGroup {
	return &fakeGroup{messages: messages, errs: make(chan error), closed: make(chan struct{})}
}

func (g *fakeGroup) Consume(ctx context.Context, topics []string, handler sarama.ConsumerGroupHandler) error {
	delivered := false

	g.once.Do(func() {
		g.topics = topics
		g.session = &fakeSession{ctx: ctx}

		claim := &fakeClaim{messages: make(chan *sarama.ConsumerMessage, len(g.messages))}
		for _, message := range g.messages {
			claim.messages <- message
		}
		close(claim.messages)

		_ = handler.Setup(g.session)
		_ = handler.ConsumeClaim(g.session, claim)
		_ = handler.Cleanup(g.session)

		delivered = true
	})

	if delivered {
		return nil
	}

	<-g.closed

	return sarama.ErrClosedConsumerGroup
}

func (g *fakeGroup) Errors() <-chan error { return g.errs }

func (g *fakeGroup) Close() error {
	close(g.closed)

	return nil
}

func kafkaWorkflow(config map[string]any) *models.Workflow {
	return &models.Workflow{ID: 1, Key: "orders", Type: Type, Enabled: true, Config: config}
}

func TestDecode(t *testing.T) {
	data := Decode(&sarama.ConsumerMessage{
		Topic:     "orders",
		Partition: 2,
		Offset:    10,
		Key:       []byte("o-1"),
		Value:     []byte(`{"id":"o-1"}`),
		Headers:   []*sarama.RecordHeader{{Key: []byte("source"), Value: []byte("shop")}},
		Timestamp: time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC),
	})

	assert.Equal(t, "orders", data["topic"])
	assert.Equal(t, int32(2), data["partition"])
	assert.Equal(t, int64(10), data["offset"])
	assert.Equal(t, "o-1", data["key"])
	assert.Equal(t, map[string]any{"id": "o-1"}, data["message"])
	assert.Equal(t, map[string]string{"source": "shop"}, data["headers"])
	assert.Equal(t, "2024-01-02T03:04:05Z", data["timestamp"])

	data = Decode(&sarama.ConsumerMessage{Value: []byte("not json")})
	assert.Equal(t, map[string]any{"raw_message": "not json"}, data["message"])
	assert.NotEmpty(t, data["timestamp"])

	data = Decode(&sarama.ConsumerMessage{})
	assert.Nil(t, data["message"])
}

func TestGroupName(t *testing.T) {
	assert.Equal(t, "flowgate-orders", GroupName(kafkaWorkflow(map[string]any{"topic": "orders"})))
	assert.Equal(t, "billing", GroupName(kafkaWorkflow(map[string]any{"topic": "orders", "consumer_group": "billing"})))
}

func TestTrigger_ValidateConfig(t *testing.T) {
	trigger := New(log.Discard(), &recordingStarter{}, []string{"localhost:9092"})

	require.NoError(t, trigger.ValidateConfig(map[string]any{"topic": "orders"}))
	require.ErrorIs(t, trigger.ValidateConfig(map[string]any{}), ErrMissingTopic)

	noBrokers := New(log.Discard(), &recordingStarter{}, nil)
	require.ErrorIs(t, noBrokers.On(context.Background(), kafkaWorkflow(map[string]any{"topic": "orders"})), ErrMissingBrokers)
}

func TestTrigger_GroupFactoryError(t *testing.T) {
	trigger := New(log.Discard(), &recordingStarter{}, []string{"localhost:9092"},
		WithGroupFactory(func([]string, string, *sarama.Config) (sarama.ConsumerGroup, error) {
			return nil, errors.New("no brokers reachable")
		}))

	err := trigger.On(context.Background(), kafkaWorkflow(map[string]any{"topic": "orders"}))
	require.ErrorContains(t, err, "no brokers reachable")
}

func TestTrigger_ConsumesMessages(t *testing.T) {
	ctx := context.Background()
	starter := &recordingStarter{}
	group := newFakeGroup(
		&sarama.ConsumerMessage{Topic: "orders", Offset: 1, Value: []byte(`{"id":"o-1"}`)},
		&sarama.ConsumerMessage{Topic: "orders", Offset: 2, Value: []byte(`{"id":"o-2"}`)},
	)

	var groupName string

	trigger := New(log.Discard(), starter, []string{"localhost:9092"},
		WithGroupFactory(func(_ []string, name string, _ *sarama.Config) (sarama.ConsumerGroup, error) {
			groupName = name

			return group, nil
		}))

	workflow := kafkaWorkflow(map[string]any{"topic": "orders"})
	require.NoError(t, trigger.On(ctx, workflow))

	assert.Eventually(t, func() bool { return len(starter.received()) == 2 }, 3*time.Second, 20*time.Millisecond)

	require.NoError(t, trigger.Off(ctx, workflow))

	assert.Equal(t, "flowgate-orders", groupName)
	assert.Equal(t, []string{"orders"}, group.topics)

	inputs := starter.received()
	assert.Equal(t, map[string]any{"id": "o-1"}, inputs[0]["message"])
	assert.Equal(t, map[string]any{"id": "o-2"}, inputs[1]["message"])
	assert.Equal(t, []int64{1, 2}, group.session.marked)
}
