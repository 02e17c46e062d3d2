package message_test

import (
	"context"
	"testing"

	"github.com/dukex/flowgate/pkg/instructions/message"
	"github.com/dukex/flowgate/pkg/mocks"
	"github.com/dukex/flowgate/pkg/models"
	"github.com/dukex/flowgate/pkg/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMessage_AppendsRenderedMessages(t *testing.T) {
	processor := &mocks.MockProcessor{}
	processor.On("Scope").Return(map[string]any{
		"values": map[string]any{"title": "Hello"},
		"$jobsMapByNodeKey": map[string]any{
			"check": map[string]any{"result": false},
		},
	})

	node := testutil.CreateTestNode("explain", message.Type, testutil.WithConfig(map[string]any{
		"messages": []any{
			"title {{ values.title }} is taken",
			"check result: {{ $jobsMapByNodeKey.check.result }}",
		},
	}))

	input := models.NewJob(models.JobResolved, map[string]any{"messages": "first", "keep": "me"})

	job, err := message.New().Run(context.Background(), node, input, processor)
	require.NoError(t, err)

	assert.Equal(t, models.JobResolved, job.Status)
	assert.Equal(t, map[string]any{
		"keep":     "me",
		"messages": []string{"first", "title Hello is taken", "check result: false"},
	}, job.Result)
}

func TestMessage_NonObjectInput(t *testing.T) {
	processor := &mocks.MockProcessor{}
	processor.On("Scope").Return(map[string]any{})

	node := testutil.CreateTestNode("explain", message.Type, testutil.WithConfig(map[string]any{"messages": "denied"}))

	job, err := message.New().Run(context.Background(), node, models.NewJob(models.JobResolved, 42), processor)
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"messages": []string{"denied"}}, job.Result)
}
