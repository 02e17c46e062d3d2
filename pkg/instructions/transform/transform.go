// Package transform provides the data transformation instruction.
package transform

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/dukex/flowgate/pkg/expression"
	"github.com/dukex/flowgate/pkg/models"
	"github.com/dukex/flowgate/pkg/protocol"
)

const Type = "transform"

var ErrMissingMapping = errors.New("missing required field 'expression' or 'mapping'")

// Transform builds its result from the execution scope: config "expression" is a single
// JMESPath expression whose value becomes the result, config "mapping" is an object of
// target keys to expressions.
type Transform struct{}

var _ protocol.Instruction = (*Transform)(nil)

func New() *Transform {
	return &Transform{}
}

func (t *Transform) Run(_ context.Context, node *models.Node, _ *models.Job, p protocol.Processor) (*models.Job, error) {
	scope := p.Scope()

	if expr := node.ConfigString("expression"); expr != "" {
		result, err := expression.Evaluate(scope, expr)
		if err != nil {
			return models.NewJob(models.JobFailed, fmt.Sprintf("transformation failed: %v", err)), nil
		}

		return models.NewJob(models.JobResolved, result), nil
	}

	mapping, ok := node.Config["mapping"].(map[string]any)
	if !ok {
		return nil, ErrMissingMapping
	}

	keys := make([]string, 0, len(mapping))
	for key := range mapping {
		keys = append(keys, key)
	}

	sort.Strings(keys)

	result := make(map[string]any, len(mapping))

	for _, key := range keys {
		expr, ok := mapping[key].(string)
		if !ok {
			return nil, fmt.Errorf("mapping %q must be an expression string", key)
		}

		value, err := expression.Evaluate(scope, expr)
		if err != nil {
			return models.NewJob(models.JobFailed, fmt.Sprintf("transformation of %s failed: %v", key, err)), nil
		}

		result[key] = value
	}

	return models.NewJob(models.JobResolved, result), nil
}

func (t *Transform) Resume(_ context.Context, _ *models.Node, job *models.Job, _ protocol.Processor) (*models.Job, error) {
	return job, nil
}

func (t *Transform) Schema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"expression": map[string]any{
				"type":        "string",
				"description": "JMESPath expression producing the node result.",
				"examples": []string{
					"{id: order.id, total: order.total}",
					"items[?price > `10`].name",
				},
			},
			"mapping": map[string]any{
				"type":                 "object",
				"description":          "Target key to JMESPath expression.",
				"additionalProperties": map[string]any{"type": "string"},
			},
		},
		"anyOf": []any{
			map[string]any{"required": []string{"expression"}},
			map[string]any{"required": []string{"mapping"}},
		},
	}
}
