package cmd

import (
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/dukex/flowgate/pkg/log"
	"github.com/dukex/flowgate/pkg/models"
	"github.com/dukex/flowgate/pkg/protocol"
	"github.com/dukex/flowgate/pkg/triggers/action"
	"github.com/dukex/flowgate/pkg/triggers/interception"
	"github.com/dukex/flowgate/pkg/triggers/queue"
	"github.com/dukex/flowgate/pkg/triggers/schedule"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParsePersistenceProvider(t *testing.T) {
	tests := []struct {
		url      string
		provider string
	}{
		{url: "postgres://user@localhost/flowgate", provider: "postgresql"},
		{url: "postgresql://user@localhost/flowgate", provider: "postgresql"},
		{url: "file:///var/lib/flowgate", provider: "file"},
		{url: "./data", provider: "file"},
		{url: "mysql://localhost", provider: "file"},
	}

	for _, tt := range tests {
		t.Run(tt.url, func(t *testing.T) {
			assert.Equal(t, tt.provider, parsePersistenceProvider(tt.url))
		})
	}
}

func TestNewEventBus_UnknownProvider(t *testing.T) {
	_, err := NewEventBus("carrier-pigeon", log.Discard(), nil, "flowgate")
	require.Error(t, err)

	_, err = NewEventBus(EventBusKafka, log.Discard(), nil, "flowgate")
	require.Error(t, err)
}

func TestNewChangesSubscriber(t *testing.T) {
	bus, err := NewEventBus(EventBusMemory, log.Discard(), nil, "flowgate")
	require.NoError(t, err)

	t.Cleanup(func() { _ = bus.Close() })

	changes, err := NewChangesSubscriber(EventBusMemory, log.Discard(), nil, "flowgate", bus)
	require.NoError(t, err)
	assert.Same(t, bus, changes)

	_, err = NewChangesSubscriber(EventBusKafka, log.Discard(), nil, "flowgate", bus)
	require.Error(t, err)
}

func TestRuntime_RunsQueuedExecutionsInProcess(t *testing.T) {
	ctx := t.Context()
	redisServer := miniredis.RunT(t)

	rt, err := NewRuntime(ctx, log.Discard(), Options{
		ServiceName: "flowgate-test",
		DatabaseURL: "file://" + t.TempDir(),
		EventBus:    EventBusMemory,
		RedisURL:    "redis://" + redisServer.Addr(),
		Background:  true,
	})
	require.NoError(t, err)

	t.Cleanup(func() { rt.Close(ctx) })

	for _, name := range []string{action.Type, interception.Type, schedule.Type, queue.Type} {
		_, ok := rt.Engine.Triggers().Get(name)
		assert.True(t, ok, name)
	}

	require.NoError(t, rt.Start(ctx, true))

	wf := &models.Workflow{
		Key:     "greet",
		Title:   "Greet",
		Type:    action.Type,
		Enabled: true,
		Nodes: []*models.Node{
			{Key: "done", Type: "end", Config: map[string]any{"result": "hello"}},
		},
	}
	require.NoError(t, rt.Persistence.WorkflowRepository().Create(ctx, wf))
	rt.Engine.Index().Put(wf)

	execution, err := rt.Engine.Trigger(ctx, wf, nil, protocol.TriggerOptions{})
	require.NoError(t, err)
	assert.Equal(t, models.ExecutionQueueing, execution.Status)

	assert.Eventually(t, func() bool {
		stored, err := rt.Persistence.ExecutionRepository().GetByID(ctx, execution.ID)

		return err == nil && stored.Status == models.ExecutionResolved
	}, 3*time.Second, 20*time.Millisecond)
}
