// Package end provides the instruction that terminates an execution.
package end

import (
	"context"
	"fmt"
	"maps"
	"math"

	"github.com/dukex/flowgate/pkg/expression"
	"github.com/dukex/flowgate/pkg/models"
	"github.com/dukex/flowgate/pkg/protocol"
)

const Type = "end"

// End finishes the execution with config "endStatus" (resolved by default) whatever
// nodes follow it. Its result is config "result", or the previous result, extended
// with the rendered config "messages".
type End struct{}

var _ protocol.Instruction = (*End)(nil)

func New() *End {
	return &End{}
}

func (e *End) Run(ctx context.Context, node *models.Node, input *models.Job, p protocol.Processor) (*models.Job, error) {
	status, err := Status(node.Config["endStatus"])
	if err != nil {
		return nil, err
	}

	result, ok := node.Config["result"]
	if !ok && input != nil {
		result = input.Result
	}

	if templates := Templates(node.Config["messages"]); len(templates) > 0 {
		scope := p.Scope()

		messages := models.ResultMessages(result)
		for _, template := range templates {
			messages = append(messages, expression.Render(template, scope))
		}

		result = withMessages(result, messages)
	}

	p.Logger().DebugContext(ctx, "execution ended by node", "node_key", node.Key, "status", status.String())
	p.Exit(status.ExecutionStatus())

	return models.NewJob(status, result), nil
}

func (e *End) Resume(_ context.Context, _ *models.Node, job *models.Job, _ protocol.Processor) (*models.Job, error) {
	return job, nil
}

func (e *End) Schema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"endStatus": map[string]any{
				"description": "Terminal status: 1 or \"resolved\", -1 or \"failed\", or another failure status.",
				"type":        []string{"integer", "string"},
			},
			"result": map[string]any{
				"description": "Result of the node. Defaults to the previous node's result.",
			},
			"messages": map[string]any{
				"description": "Caller-facing messages. {{ path }} placeholders are resolved against the execution scope.",
				"type":        []string{"array", "string"},
				"items":       map[string]any{"type": "string"},
			},
		},
	}
}

// Status parses an end status given as a number or a status name. Empty means resolved.
func Status(value any) (models.JobStatus, error) {
	var (
		status models.JobStatus
		ok     bool
	)

	switch v := value.(type) {
	case nil:
		return models.JobResolved, nil
	case int:
		status, ok = models.JobStatus(v), models.JobStatus(v).Valid()
	case int64:
		status, ok = models.JobStatus(v), models.JobStatus(v).Valid()
	case float64:
		if v != math.Trunc(v) {
			break
		}

		status, ok = models.JobStatus(int(v)), models.JobStatus(int(v)).Valid()
	case string:
		status, ok = models.ParseJobStatus(v)
	}

	if !ok || status == models.JobPending {
		return 0, fmt.Errorf("invalid end status %v", value)
	}

	return status, nil
}

// Templates reads a message list given as a string or a list of strings.
func Templates(value any) []string {
	switch v := value.(type) {
	case string:
		return []string{v}
	case []string:
		return v
	case []any:
		templates := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok {
				templates = append(templates, s)
			}
		}

		return templates
	default:
		return nil
	}
}

func withMessages(result any, messages []string) map[string]any {
	object, ok := result.(map[string]any)
	if !ok {
		object = map[string]any{}
		if result != nil {
			object["data"] = result
		}
	}

	extended := maps.Clone(object)
	extended["messages"] = messages

	return extended
}
