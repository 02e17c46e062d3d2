// Package protocol defines the contracts between the engine and pluggable instruction
// and trigger kinds.
package protocol

import (
	"context"

	"github.com/dukex/flowgate/pkg/models"
)

// Instruction is the behaviour of one node type.
//
// Run executes the node for the first time. input is the previous job of the execution;
// the head node receives an unsaved resolved job whose result is the execution context.
// Run must not block waiting for external events: it returns a
// job with models.JobPending and relies on Resume being called later.
//
// Resume continues a node that previously returned models.JobPending. job may already
// carry the result and status attached by the external caller.
type Instruction interface {
	Run(ctx context.Context, node *models.Node, input *models.Job, processor Processor) (*models.Job, error)
	Resume(ctx context.Context, node *models.Node, job *models.Job, processor Processor) (*models.Job, error)
}

// SchemaProvider is implemented by instructions that publish a JSON schema for
// their node configuration.
type SchemaProvider interface {
	Schema() map[string]any
}
