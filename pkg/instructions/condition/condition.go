// Package condition provides the instruction that evaluates a JMESPath predicate.
package condition

import (
	"context"
	"errors"

	"github.com/dukex/flowgate/pkg/expression"
	"github.com/dukex/flowgate/pkg/models"
	"github.com/dukex/flowgate/pkg/protocol"
)

const Type = "condition"

var ErrMissingExpression = errors.New("missing required field 'expression'")

// Condition evaluates config "expression" against the execution scope and resolves with
// {result: bool}. With config "rejectOnFalse" a false outcome fails the job and stops the
// execution.
type Condition struct{}

var _ protocol.Instruction = (*Condition)(nil)

func New() *Condition {
	return &Condition{}
}

func (c *Condition) Run(ctx context.Context, node *models.Node, _ *models.Job, p protocol.Processor) (*models.Job, error) {
	expr := node.ConfigString("expression")
	if expr == "" {
		return nil, ErrMissingExpression
	}

	value, err := expression.Evaluate(p.Scope(), expr)
	if err != nil {
		return nil, err
	}

	passed := expression.Truthy(value)

	p.Logger().DebugContext(ctx, "condition evaluated", "node_key", node.Key, "result", passed)

	result := map[string]any{"result": passed}

	if !passed && node.ConfigBool("rejectOnFalse") {
		return models.NewJob(models.JobFailed, result), nil
	}

	return models.NewJob(models.JobResolved, result), nil
}

func (c *Condition) Resume(_ context.Context, _ *models.Node, job *models.Job, _ protocol.Processor) (*models.Job, error) {
	return job, nil
}

func (c *Condition) Schema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"expression": map[string]any{
				"type":        "string",
				"minLength":   1,
				"description": "JMESPath expression evaluated against the execution scope.",
				"examples": []string{
					"order.total > `100`",
					"$context.user.role == 'admin'",
					"\"$jobsMapByNodeKey\".approve.approved",
				},
			},
			"rejectOnFalse": map[string]any{
				"type":        "boolean",
				"description": "Fail the job, and so the execution, when the expression is false.",
			},
		},
		"required": []string{"expression"},
	}
}
