// Package testutil provides test data builders and a file-backed engine for tests.
package testutil

import (
	"github.com/dukex/flowgate/pkg/models"
)

// CreateTestNode creates a node with default values that can be overridden.
func CreateTestNode(key, nodeType string, overrides ...func(*models.Node)) *models.Node {
	node := &models.Node{
		Key:    key,
		Type:   nodeType,
		Title:  key,
		Config: map[string]any{},
	}

	for _, override := range overrides {
		override(node)
	}

	return node
}

// WithConfig sets the node configuration.
func WithConfig(config map[string]any) func(*models.Node) {
	return func(n *models.Node) {
		n.Config = config
	}
}

// CreateTestWorkflow creates an enabled, async action workflow.
func CreateTestWorkflow(key string, overrides ...func(*models.Workflow)) *models.Workflow {
	workflow := &models.Workflow{
		Key:     key,
		Title:   "Test " + key,
		Type:    "action",
		Enabled: true,
		Config:  map[string]any{},
	}

	for _, override := range overrides {
		override(workflow)
	}

	return workflow
}

func WithNodes(nodes ...*models.Node) func(*models.Workflow) {
	return func(w *models.Workflow) {
		w.Nodes = nodes
	}
}

func WithSync(sync bool) func(*models.Workflow) {
	return func(w *models.Workflow) {
		w.Sync = sync
	}
}

// WithTrigger sets the trigger type and its configuration.
func WithTrigger(triggerType string, config map[string]any) func(*models.Workflow) {
	return func(w *models.Workflow) {
		w.Type = triggerType
		w.Config = config
	}
}

func WithEnabled(enabled bool) func(*models.Workflow) {
	return func(w *models.Workflow) {
		w.Enabled = enabled
	}
}
