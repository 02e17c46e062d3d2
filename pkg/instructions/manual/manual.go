// Package manual provides the approval and notification gate instruction.
package manual

import (
	"context"

	"github.com/dukex/flowgate/pkg/expression"
	"github.com/dukex/flowgate/pkg/models"
	"github.com/dukex/flowgate/pkg/protocol"
)

const Type = "manual"

// Manual pauses the execution until a collaborator completes the job through the resume
// API. The pending job carries the rendered title and the configured assignees so the
// collaborator can build its own records from it.
type Manual struct{}

var _ protocol.Instruction = (*Manual)(nil)

func New() *Manual {
	return &Manual{}
}

func (m *Manual) Run(ctx context.Context, node *models.Node, _ *models.Job, p protocol.Processor) (*models.Job, error) {
	request := map[string]any{
		"title": expression.Render(node.ConfigString("title"), p.Scope()),
	}

	if assignees, ok := node.Config["assignees"]; ok {
		request["assignees"] = assignees
	}

	p.Logger().InfoContext(ctx, "waiting for manual action", "node_key", node.Key)

	return models.NewJob(models.JobPending, request), nil
}

// Resume accepts the outcome attached by the collaborator. A job that is still pending
// keeps the execution paused.
func (m *Manual) Resume(ctx context.Context, node *models.Node, job *models.Job, p protocol.Processor) (*models.Job, error) {
	p.Logger().InfoContext(ctx, "manual action received", "node_key", node.Key, "job_status", job.Status.String())

	return job, nil
}

func (m *Manual) Schema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"title": map[string]any{
				"type":        "string",
				"description": "Title shown to assignees. {{ path }} placeholders are resolved against the execution scope.",
			},
			"assignees": map[string]any{
				"type":  "array",
				"items": map[string]any{"type": []string{"string", "integer"}},
			},
		},
	}
}
