package subflow_test

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"github.com/dukex/flowgate/pkg/instructions/subflow"
	"github.com/dukex/flowgate/pkg/log"
	"github.com/dukex/flowgate/pkg/mocks"
	"github.com/dukex/flowgate/pkg/models"
	"github.com/dukex/flowgate/pkg/protocol"
	"github.com/dukex/flowgate/pkg/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func TestInput(t *testing.T) {
	scope := map[string]any{
		"x":     5,
		"y":     "why",
		"order": map[string]any{"id": 7, "total": 12},
		"$jobsMapByNodeKey": map[string]any{
			"lookup": map[string]any{"customer": "c-1"},
		},
	}

	previous := models.NewJob(models.JobResolved, map[string]any{"carried": true})

	tests := []struct {
		name     string
		sources  []subflow.Source
		expected any
	}{
		{
			name:     "no sources passes the previous result",
			sources:  nil,
			expected: map[string]any{"carried": true},
		},
		{
			name:     "single keyed source",
			sources:  []subflow.Source{{KeyName: "a", SourcePath: "$.x"}},
			expected: map[string]any{"a": 5},
		},
		{
			name:     "single source without key passes the raw value",
			sources:  []subflow.Source{{SourcePath: "$.order"}},
			expected: map[string]any{"id": 7, "total": 12},
		},
		{
			name: "several sources are merged",
			sources: []subflow.Source{
				{KeyName: "a", SourcePath: "$.x"},
				{KeyName: "b", SourcePath: "y"},
				{SourcePath: "$.order"},
			},
			expected: map[string]any{"a": 5, "b": "why", "id": 7, "total": 12},
		},
		{
			name:     "scope variables",
			sources:  []subflow.Source{{KeyName: "customer", SourcePath: "$jobsMapByNodeKey.lookup.customer"}},
			expected: map[string]any{"customer": "c-1"},
		},
		{
			name:     "missing path maps to nil",
			sources:  []subflow.Source{{KeyName: "z", SourcePath: "$.nowhere"}},
			expected: map[string]any{"z": nil},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data, err := subflow.Input(tt.sources, previous, scope)
			require.NoError(t, err)
			assert.Equal(t, tt.expected, data)
		})
	}
}

func TestInput_InvalidPath(t *testing.T) {
	_, err := subflow.Input([]subflow.Source{{KeyName: "a", SourcePath: "$.["}}, nil, map[string]any{})
	require.Error(t, err)
}

func TestMapFields(t *testing.T) {
	child := map[string]any{"foo": map[string]any{"bar": 42}, "other": "dropped"}

	assert.Equal(t, map[string]any{"fb": 42}, subflow.MapFields(child, []subflow.Field{{Path: "foo.bar", Alias: "fb"}}))
	assert.Equal(t, map[string]any{"foo_bar": 42}, subflow.MapFields(child, []subflow.Field{{Path: "foo.bar"}}))
	assert.Equal(t, child, subflow.MapFields(child, nil))
	assert.Equal(t, "scalar", subflow.MapFields("scalar", []subflow.Field{{Path: "foo"}}))

	list := []any{
		map[string]any{"foo": map[string]any{"bar": 1}},
		[]any{map[string]any{"foo": map[string]any{"bar": 2}}},
	}

	assert.Equal(t, []any{
		map[string]any{"fb": 1},
		[]any{map[string]any{"fb": 2}},
	}, subflow.MapFields(list, []subflow.Field{{Path: "foo.bar", Alias: "fb"}}))
}

func TestFieldKey(t *testing.T) {
	assert.Equal(t, "a_b_c", subflow.Field{Path: "$.a.b.c"}.Key())
	assert.Equal(t, "alias", subflow.Field{Path: "a.b", Alias: "alias"}.Key())
}

func TestSubflow_SyncChildResult(t *testing.T) {
	env := testutil.NewEnvironment(t)

	env.CreateWorkflow(t, testutil.CreateTestWorkflow("V",
		testutil.WithSync(true),
		testutil.WithNodes(testutil.CreateTestNode("done", "end",
			testutil.WithConfig(map[string]any{"result": map[string]any{"status": "ok"}}))),
	))

	w := env.CreateWorkflow(t, testutil.CreateTestWorkflow("W",
		testutil.WithSync(true),
		testutil.WithNodes(testutil.CreateTestNode("call", subflow.Type,
			testutil.WithConfig(map[string]any{"workflow": "V"}))),
	))

	execution, err := env.Engine.Trigger(context.Background(), w, nil, protocol.TriggerOptions{})
	require.NoError(t, err)

	assert.Equal(t, models.ExecutionResolved, execution.Status)
	require.Len(t, execution.Jobs, 1)
	assert.Equal(t, models.JobResolved, execution.Jobs[0].Status)
	assert.Equal(t, map[string]any{"status": "ok"}, execution.Jobs[0].Result)

	stored := env.Execution(t, execution.ID)
	require.Len(t, stored.Jobs, 1)
	assert.Equal(t, map[string]any{"status": "ok"}, stored.Jobs[0].Result)
}

func TestSubflow_SyncChildFailureCarriesMessages(t *testing.T) {
	env := testutil.NewEnvironment(t)

	v := env.CreateWorkflow(t, testutil.CreateTestWorkflow("V",
		testutil.WithSync(true),
		testutil.WithNodes(testutil.CreateTestNode("reject", "end", testutil.WithConfig(map[string]any{
			"endStatus": -1,
			"messages":  []any{"order {{ order }} rejected"},
		}))),
	))

	w := env.CreateWorkflow(t, testutil.CreateTestWorkflow("W",
		testutil.WithSync(true),
		testutil.WithNodes(
			testutil.CreateTestNode("call", subflow.Type, testutil.WithConfig(map[string]any{"workflow": "V"})),
			testutil.CreateTestNode("after", "message", testutil.WithConfig(map[string]any{"messages": "unreachable"})),
		),
	))

	execution, err := env.Engine.Trigger(context.Background(), w, map[string]any{"order": "o-1"}, protocol.TriggerOptions{})
	require.NoError(t, err)

	assert.Equal(t, models.ExecutionFailed, execution.Status)
	require.Len(t, execution.Jobs, 1)
	assert.Equal(t, models.JobFailed, execution.Jobs[0].Status)
	assert.Equal(t, []string{"order o-1 rejected"}, models.ResultMessages(execution.Jobs[0].Result))

	children := env.Executions(t, v.ID)
	require.Len(t, children, 1)
	assert.Equal(t, execution.ID, *children[0].ParentID)
	assert.Equal(t, 1, children[0].Depth)
}

func TestSubflow_AsyncChildResumesParent(t *testing.T) {
	env := testutil.NewEnvironment(t)

	v := env.CreateWorkflow(t, testutil.CreateTestWorkflow("V",
		testutil.WithNodes(testutil.CreateTestNode("done", "end",
			testutil.WithConfig(map[string]any{"result": map[string]any{"status": "ok", "internal": 1}}))),
	))

	w := env.CreateWorkflow(t, testutil.CreateTestWorkflow("W",
		testutil.WithSync(true),
		testutil.WithNodes(testutil.CreateTestNode("call", subflow.Type, testutil.WithConfig(map[string]any{
			"workflow":    "V",
			"sourceArray": []any{map[string]any{"keyName": "id", "sourcePath": "$.id"}},
			"model":       []any{map[string]any{"path": "status", "alias": "childStatus"}},
		}))),
	))

	execution, err := env.Engine.Trigger(context.Background(), w, map[string]any{"id": "r-1"}, protocol.TriggerOptions{})
	require.NoError(t, err)

	assert.Equal(t, models.ExecutionStarted, execution.Status)
	require.Len(t, execution.Jobs, 1)
	assert.Equal(t, models.JobPending, execution.Jobs[0].Status)

	assert.Eventually(t, func() bool {
		return env.Execution(t, execution.ID).Status == models.ExecutionResolved
	}, 5*time.Second, 20*time.Millisecond)

	stored := env.Execution(t, execution.ID)
	require.Len(t, stored.Jobs, 1)
	assert.Equal(t, map[string]any{"childStatus": "ok"}, stored.Jobs[0].Result)

	children := env.Executions(t, v.ID)
	require.Len(t, children, 1)
	assert.Equal(t, map[string]any{"id": "r-1"}, children[0].Context)
}

func TestSubflow_TargetNotEnabled(t *testing.T) {
	processor := &mocks.MockProcessor{}
	processor.On("EnabledWorkflow", "missing").Return(nil, false)

	node := testutil.CreateTestNode("call", subflow.Type, testutil.WithConfig(map[string]any{"workflow": "missing"}))

	job, err := subflow.New().Run(context.Background(), node, models.NewJob(models.JobResolved, nil), processor)
	require.NoError(t, err)
	assert.Equal(t, models.JobFailed, job.Status)
	assert.Contains(t, job.Result, "missing")

	processor.AssertNotCalled(t, "Trigger", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestSubflow_InvocationFailures(t *testing.T) {
	target := testutil.CreateTestWorkflow("child", testutil.WithSync(true))
	target.ID = 3

	tests := []struct {
		name   string
		setup  func(call *mock.Call)
		substr string
	}{
		{
			name:   "trigger error",
			setup:  func(call *mock.Call) { call.Return(nil, errors.New("store down")) },
			substr: "store down",
		},
		{
			name:   "did not run",
			setup:  func(call *mock.Call) { call.Return(nil, nil) },
			substr: "did not run",
		},
		{
			name: "panic",
			setup: func(call *mock.Call) {
				call.Run(func(mock.Arguments) { panic("exploded") })
			},
			substr: "exploded",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			node := testutil.CreateTestNode("call", subflow.Type, testutil.WithConfig(map[string]any{"workflow": "child"}))

			processor := &mocks.MockProcessor{}
			processor.On("EnabledWorkflow", "child").Return(target, true)
			processor.On("Scope").Return(map[string]any{})
			tt.setup(processor.On("Trigger", mock.Anything, target, mock.Anything, protocol.TriggerOptions{ParentNode: node}))

			var (
				job *models.Job
				err error
			)

			require.NotPanics(t, func() {
				job, err = subflow.New().Run(context.Background(), node, models.NewJob(models.JobResolved, nil), processor)
			})
			require.NoError(t, err)

			assert.Equal(t, models.JobFailed, job.Status)
			assert.Contains(t, job.Result, tt.substr)
		})
	}
}

func TestSubflow_UnsafeTargetIsLogged(t *testing.T) {
	var buf bytes.Buffer

	target := testutil.CreateTestWorkflow("child",
		testutil.WithSync(true),
		testutil.WithNodes(
			testutil.CreateTestNode("shape", "transform"),
			testutil.CreateTestNode("done", "end"),
		),
	)

	node := testutil.CreateTestNode("call", subflow.Type, testutil.WithConfig(map[string]any{"workflow": "child"}))

	processor := &mocks.MockProcessor{Log: log.New(&buf, "debug")}
	processor.On("EnabledWorkflow", "child").Return(target, true)
	processor.On("Scope").Return(map[string]any{})
	processor.On("Trigger", mock.Anything, target, mock.Anything, mock.Anything).Return(&models.Execution{
		Status: models.ExecutionResolved,
		Jobs:   []*models.Job{{Status: models.JobResolved, Result: "fine"}},
	}, nil)

	job, err := subflow.New().Run(context.Background(), node, models.NewJob(models.JobResolved, nil), processor)
	require.NoError(t, err)

	assert.Equal(t, models.JobResolved, job.Status)
	assert.Equal(t, "fine", job.Result)
	assert.Contains(t, buf.String(), "arbitrary logic")
	assert.Contains(t, buf.String(), "shape")
	assert.Equal(t, []string{"shape"}, subflow.UnsafeNodes(target))
}

func TestSubflow_Resume(t *testing.T) {
	node := testutil.CreateTestNode("call", subflow.Type, testutil.WithConfig(map[string]any{
		"workflow": "child",
		"model":    []any{map[string]any{"path": "foo.bar"}},
	}))

	resolved := &models.Job{ID: 4, Status: models.JobResolved, Result: map[string]any{"foo": map[string]any{"bar": 42}}}

	job, err := subflow.New().Resume(context.Background(), node, resolved, &mocks.MockProcessor{})
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"foo_bar": 42}, job.Result)

	pending := &models.Job{ID: 5, Status: models.JobPending, Result: map[string]any{"executionId": 9}}

	job, err = subflow.New().Resume(context.Background(), node, pending, &mocks.MockProcessor{})
	require.NoError(t, err)
	assert.Equal(t, models.JobPending, job.Status)
	assert.Equal(t, map[string]any{"executionId": 9}, job.Result)
}

func TestFold_UnfinishedChild(t *testing.T) {
	job := subflow.Fold(&models.Execution{Key: "child", Status: models.ExecutionStarted}, nil)

	assert.Equal(t, models.JobFailed, job.Status)
	assert.Contains(t, job.Result, "did not finish")
}
