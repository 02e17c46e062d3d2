// Package models defines the persisted entities of the workflow engine.
package models

import "time"

// Workflow is a versioned template: a single-path node graph plus trigger configuration.
// Versions share a Key; at most one version per Key is enabled.
type Workflow struct {
	ID        int64          `json:"id"`
	Key       string         `json:"key"                validate:"required,min=1,max=255"`
	Title     string         `json:"title"              validate:"required,min=1"`
	Type      string         `json:"type"               validate:"required"`
	Enabled   bool           `json:"enabled"`
	Sync      bool           `json:"sync"`
	Config    map[string]any `json:"config,omitempty"`
	Nodes     []*Node        `json:"nodes"              validate:"dive"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
}

// Head returns the node without upstream, where every execution starts.
func (w *Workflow) Head() *Node {
	for _, node := range w.Nodes {
		if node.UpstreamID == nil {
			return node
		}
	}

	return nil
}

// NodesMap indexes the workflow nodes by id.
func (w *Workflow) NodesMap() map[int64]*Node {
	nodes := make(map[int64]*Node, len(w.Nodes))
	for _, node := range w.Nodes {
		nodes[node.ID] = node
	}

	return nodes
}

func (w *Workflow) Node(id int64) *Node {
	for _, node := range w.Nodes {
		if node.ID == id {
			return node
		}
	}

	return nil
}

// NodeByKey finds a node by its version-stable key.
func (w *Workflow) NodeByKey(key string) *Node {
	for _, node := range w.Nodes {
		if node.Key == key {
			return node
		}
	}

	return nil
}

// LinkNodes sets upstream and downstream pointers following the order of Nodes.
// Node ids must already be assigned.
func (w *Workflow) LinkNodes() {
	for i, node := range w.Nodes {
		node.WorkflowID = w.ID
		node.UpstreamID = nil
		node.DownstreamID = nil

		if i > 0 {
			id := w.Nodes[i-1].ID
			node.UpstreamID = &id
		}

		if i < len(w.Nodes)-1 {
			id := w.Nodes[i+1].ID
			node.DownstreamID = &id
		}
	}
}

// ConfigString reads a string entry from the trigger configuration.
func (w *Workflow) ConfigString(key string) string {
	value, _ := w.Config[key].(string)

	return value
}

// ConfigBool reads a boolean entry from the trigger configuration.
func (w *Workflow) ConfigBool(key string) bool {
	value, _ := w.Config[key].(bool)

	return value
}

// ConfigStrings reads a list of strings from the trigger configuration. Both []string
// and the []any shape produced by JSON decoding are accepted.
func (w *Workflow) ConfigStrings(key string) []string {
	return toStrings(w.Config[key])
}

func toStrings(value any) []string {
	switch v := value.(type) {
	case []string:
		return v
	case []any:
		result := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok {
				result = append(result, s)
			}
		}

		return result
	case string:
		if v == "" {
			return nil
		}

		return []string{v}
	default:
		return nil
	}
}
