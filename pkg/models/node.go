package models

// Node is one step of a workflow graph. Nodes are immutable once an execution references
// them; edits produce a new workflow version with new node ids.
type Node struct {
	ID           int64          `json:"id"`
	Key          string         `json:"key"                     validate:"required"`
	WorkflowID   int64          `json:"workflow_id"`
	Type         string         `json:"type"                    validate:"required"`
	Title        string         `json:"title,omitempty"`
	Config       map[string]any `json:"config,omitempty"`
	UpstreamID   *int64         `json:"upstream_id,omitempty"`
	DownstreamID *int64         `json:"downstream_id,omitempty"`
}

func (n *Node) ConfigString(key string) string {
	value, _ := n.Config[key].(string)

	return value
}

func (n *Node) ConfigBool(key string) bool {
	value, _ := n.Config[key].(bool)

	return value
}

// ConfigList reads a list of objects from the node configuration.
func (n *Node) ConfigList(key string) []map[string]any {
	switch v := n.Config[key].(type) {
	case []map[string]any:
		return v
	case []any:
		result := make([]map[string]any, 0, len(v))
		for _, item := range v {
			if m, ok := item.(map[string]any); ok {
				result = append(result, m)
			}
		}

		return result
	default:
		return nil
	}
}

// ConfigInt reads an integer from the node configuration. JSON-decoded numbers arrive as
// float64; fallback is returned for missing or non-numeric values.
func (n *Node) ConfigInt(key string, fallback int) int {
	switch v := n.Config[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	default:
		return fallback
	}
}
