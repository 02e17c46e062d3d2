package models

import (
	"testing"

	"github.com/go-playground/validator/v10"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func createTestWorkflow() *Workflow {
	return &Workflow{
		ID:    10,
		Key:   "wf-key",
		Title: "Test Workflow",
		Type:  "action",
		Nodes: []*Node{
			{ID: 1, Key: "a", Type: "manual"},
			{ID: 2, Key: "b", Type: "message"},
			{ID: 3, Key: "c", Type: "end"},
		},
	}
}

func TestWorkflow_LinkNodes(t *testing.T) {
	workflow := createTestWorkflow()
	workflow.LinkNodes()

	head := workflow.Head()
	require.NotNil(t, head)
	assert.Equal(t, int64(1), head.ID)
	assert.Nil(t, head.UpstreamID)
	require.NotNil(t, head.DownstreamID)
	assert.Equal(t, int64(2), *head.DownstreamID)

	middle := workflow.Node(2)
	require.NotNil(t, middle)
	assert.Equal(t, int64(1), *middle.UpstreamID)
	assert.Equal(t, int64(3), *middle.DownstreamID)

	tail := workflow.NodeByKey("c")
	require.NotNil(t, tail)
	assert.Nil(t, tail.DownstreamID)

	for _, node := range workflow.Nodes {
		assert.Equal(t, workflow.ID, node.WorkflowID)
	}

	assert.Len(t, workflow.NodesMap(), 3)
}

func TestWorkflow_HeadEmpty(t *testing.T) {
	workflow := &Workflow{}
	assert.Nil(t, workflow.Head())
}

func TestWorkflow_Validation(t *testing.T) {
	validate := validator.New(validator.WithRequiredStructEnabled())

	workflow := createTestWorkflow()
	require.NoError(t, validate.Struct(workflow))

	workflow.Key = ""
	require.Error(t, validate.Struct(workflow))

	workflow = createTestWorkflow()
	workflow.Nodes[1].Type = ""
	require.Error(t, validate.Struct(workflow))
}

func TestWorkflow_ConfigAccessors(t *testing.T) {
	workflow := &Workflow{Config: map[string]any{
		"collection": "posts",
		"global":     true,
		"actions":    []any{"create", 3, "update"},
	}}

	assert.Equal(t, "posts", workflow.ConfigString("collection"))
	assert.True(t, workflow.ConfigBool("global"))
	assert.Equal(t, []string{"create", "update"}, workflow.ConfigStrings("actions"))
	assert.Empty(t, workflow.ConfigString("missing"))
	assert.Nil(t, workflow.ConfigStrings("missing"))
}

func TestNode_ConfigInt(t *testing.T) {
	node := &Node{Config: map[string]any{"a": 3, "b": float64(4), "c": "5"}}

	assert.Equal(t, 3, node.ConfigInt("a", 0))
	assert.Equal(t, 4, node.ConfigInt("b", 0))
	assert.Equal(t, 7, node.ConfigInt("c", 7))
	assert.Equal(t, 1, node.ConfigInt("missing", 1))
}

func TestExecutionStatus_IsFinished(t *testing.T) {
	assert.False(t, ExecutionQueueing.IsFinished())
	assert.False(t, ExecutionStarted.IsFinished())
	assert.True(t, ExecutionResolved.IsFinished())
	assert.True(t, ExecutionFailed.IsFinished())
	assert.True(t, ExecutionRejected.IsFinished())
	assert.Equal(t, "resolved", ExecutionResolved.String())
	assert.Equal(t, "execution_status(42)", ExecutionStatus(42).String())
}

func TestJobStatus(t *testing.T) {
	status, ok := ParseJobStatus("rejected")
	assert.True(t, ok)
	assert.Equal(t, JobRejected, status)

	status, ok = ParseJobStatus("1")
	assert.True(t, ok)
	assert.Equal(t, JobResolved, status)

	_, ok = ParseJobStatus("7")
	assert.False(t, ok)

	_, ok = ParseJobStatus("bogus")
	assert.False(t, ok)

	assert.Equal(t, ExecutionFailed, JobFailed.ExecutionStatus())
	assert.Equal(t, ExecutionResolved, JobResolved.ExecutionStatus())
}

func TestExecution_LastSavedJob(t *testing.T) {
	execution := &Execution{}
	assert.Nil(t, execution.LastSavedJob())

	execution.Jobs = []*Job{
		{ID: 5, Index: 1, Status: JobPending},
		{ID: 4, Index: 0, Status: JobResolved},
	}

	assert.Equal(t, int64(5), execution.LastSavedJob().ID)
	assert.Len(t, execution.PendingJobs(), 1)

	SortJobs(execution.Jobs)
	assert.Equal(t, int64(4), execution.Jobs[0].ID)
}

func TestContextFromInput(t *testing.T) {
	assert.Equal(t, map[string]any{}, ContextFromInput(nil))
	assert.Equal(t, map[string]any{"a": 1}, ContextFromInput(map[string]any{"a": 1}))
	assert.Equal(t, map[string]any{"data": 5}, ContextFromInput(5))
}

func TestResultMessages(t *testing.T) {
	tests := []struct {
		name     string
		result   any
		expected []string
	}{
		{name: "nil result", result: nil, expected: nil},
		{name: "not an object", result: "text", expected: nil},
		{name: "single string", result: map[string]any{"messages": "denied"}, expected: []string{"denied"}},
		{name: "string list", result: map[string]any{"messages": []string{"a", "b"}}, expected: []string{"a", "b"}},
		{
			name:     "mixed list",
			result:   map[string]any{"messages": []any{"a", map[string]any{"message": "b"}, 3}},
			expected: []string{"a", "b", "3"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, ResultMessages(tt.result))
		})
	}
}
