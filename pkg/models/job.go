package models

import (
	"fmt"
	"time"
)

// Job records one node's execution within an execution. It is immutable once its
// status leaves JobPending.
type Job struct {
	ID          int64     `json:"id"`
	ExecutionID int64     `json:"execution_id"`
	NodeID      int64     `json:"node_id"`
	NodeKey     string    `json:"node_key"`
	Index       int       `json:"index"`
	Status      JobStatus `json:"status"`
	Result      any       `json:"result,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// NewJob builds an unsaved job outcome as returned by an instruction.
func NewJob(status JobStatus, result any) *Job {
	return &Job{Status: status, Result: result}
}

// ResultMessages extracts the caller-facing messages a job published in its result under
// "messages" (a string or a list of strings / {message} objects).
func ResultMessages(result any) []string {
	object, ok := result.(map[string]any)
	if !ok {
		return nil
	}

	switch v := object["messages"].(type) {
	case string:
		return []string{v}
	case []string:
		return v
	case []any:
		messages := make([]string, 0, len(v))
		for _, item := range v {
			switch m := item.(type) {
			case string:
				messages = append(messages, m)
			case map[string]any:
				if text, ok := m["message"]; ok {
					messages = append(messages, fmt.Sprint(text))
				}
			default:
				messages = append(messages, fmt.Sprint(m))
			}
		}

		return messages
	default:
		return nil
	}
}
