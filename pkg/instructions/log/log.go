// Package log provides the instruction that writes a rendered message to the execution
// logger.
package log

import (
	"context"
	"errors"
	"log/slog"

	"github.com/dukex/flowgate/pkg/expression"
	flowlog "github.com/dukex/flowgate/pkg/log"
	"github.com/dukex/flowgate/pkg/models"
	"github.com/dukex/flowgate/pkg/protocol"
)

const Type = "log"

var ErrMissingMessage = errors.New("missing required field 'message'")

type Log struct{}

var _ protocol.Instruction = (*Log)(nil)

func New() *Log {
	return &Log{}
}

func (l *Log) Run(ctx context.Context, node *models.Node, _ *models.Job, p protocol.Processor) (*models.Job, error) {
	template := node.ConfigString("message")
	if template == "" {
		return nil, ErrMissingMessage
	}

	level := node.ConfigString("level")
	if level == "" {
		level = "info"
	}

	message := expression.Render(template, p.Scope())

	p.Logger().Log(ctx, flowlog.ParseLevel(level), message, slog.String("node_key", node.Key), slog.String("node_type", Type))

	return models.NewJob(models.JobResolved, map[string]any{
		"message": message,
		"level":   level,
		"logged":  true,
	}), nil
}

func (l *Log) Resume(_ context.Context, _ *models.Node, job *models.Job, _ protocol.Processor) (*models.Job, error) {
	return job, nil
}

func (l *Log) Schema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"message": map[string]any{
				"type":      "string",
				"minLength": 1,
				"examples":  []string{"order {{ order.id }} approved by {{ $context.user.name }}"},
			},
			"level": map[string]any{
				"type": "string",
				"enum": []string{"debug", "info", "warn", "error"},
			},
		},
		"required": []string{"message"},
	}
}
