// Package message provides the instruction that collects caller-facing response messages.
package message

import (
	"context"
	"maps"

	"github.com/dukex/flowgate/pkg/expression"
	"github.com/dukex/flowgate/pkg/instructions/end"
	"github.com/dukex/flowgate/pkg/models"
	"github.com/dukex/flowgate/pkg/protocol"
)

const Type = "message"

// Message renders config "messages" and appends them to the "messages" list of the
// previous result. A following failing end node carries them to the caller.
type Message struct{}

var _ protocol.Instruction = (*Message)(nil)

func New() *Message {
	return &Message{}
}

func (m *Message) Run(_ context.Context, node *models.Node, input *models.Job, p protocol.Processor) (*models.Job, error) {
	var previous any
	if input != nil {
		previous = input.Result
	}

	scope := p.Scope()

	messages := models.ResultMessages(previous)
	for _, template := range end.Templates(node.Config["messages"]) {
		messages = append(messages, expression.Render(template, scope))
	}

	result := map[string]any{}
	if object, ok := previous.(map[string]any); ok {
		result = maps.Clone(object)
	}

	result["messages"] = messages

	return models.NewJob(models.JobResolved, result), nil
}

func (m *Message) Resume(_ context.Context, _ *models.Node, job *models.Job, _ protocol.Processor) (*models.Job, error) {
	return job, nil
}

func (m *Message) Schema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"messages": map[string]any{
				"type":  []string{"array", "string"},
				"items": map[string]any{"type": "string"},
			},
		},
		"required": []string{"messages"},
	}
}
