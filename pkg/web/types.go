// Package web provides the HTTP API of the workflow engine.
package web

import "github.com/dukex/flowgate/pkg/models"

// NodeRequest describes one node of a workflow version, in execution order.
type NodeRequest struct {
	Key    string         `json:"key"              validate:"required,min=1,max=255"`
	Type   string         `json:"type"             validate:"required"`
	Title  string         `json:"title,omitempty"`
	Config map[string]any `json:"config,omitempty"`
}

// CreateWorkflowRequest represents the request body for creating a workflow version.
type CreateWorkflowRequest struct {
	Key     string         `json:"key"              validate:"required,min=1,max=255"`
	Title   string         `json:"title"            validate:"required,min=1"`
	Type    string         `json:"type"             validate:"required"`
	Enabled bool           `json:"enabled"`
	Sync    bool           `json:"sync"`
	Config  map[string]any `json:"config,omitempty"`
	Nodes   []NodeRequest  `json:"nodes"            validate:"dive"`
}

// RevisionRequest represents the changes of a new version. Omitted fields are copied
// from the source version.
type RevisionRequest struct {
	Title  *string        `json:"title,omitempty"  validate:"omitempty,min=1"`
	Sync   *bool          `json:"sync,omitempty"`
	Config map[string]any `json:"config,omitempty"`
	Nodes  []NodeRequest  `json:"nodes,omitempty"  validate:"omitempty,dive"`
}

// ResumeJobRequest carries the outcome of a pending job: a status name ("resolved",
// "rejected", ...) or its number, and the job result.
type ResumeJobRequest struct {
	Status string `json:"status"           validate:"required"`
	Result any    `json:"result,omitempty"`
}

// TriggerResponse reports the execution started by a trigger request.
type TriggerResponse struct {
	ExecutionID int64  `json:"execution_id"`
	Status      string `json:"status"`
	Result      any    `json:"result,omitempty"`
}

func toNodes(requests []NodeRequest) []*models.Node {
	nodes := make([]*models.Node, 0, len(requests))
	for _, req := range requests {
		nodes = append(nodes, &models.Node{
			Key:    req.Key,
			Type:   req.Type,
			Title:  req.Title,
			Config: req.Config,
		})
	}

	return nodes
}

func (r CreateWorkflowRequest) toModel() *models.Workflow {
	return &models.Workflow{
		Key:     r.Key,
		Title:   r.Title,
		Type:    r.Type,
		Enabled: r.Enabled,
		Sync:    r.Sync,
		Config:  r.Config,
		Nodes:   toNodes(r.Nodes),
	}
}
