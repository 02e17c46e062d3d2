// Package events defines the messages exchanged between the engine, its triggers and
// the resume dispatcher.
package events

import (
	"time"

	"github.com/dukex/flowgate/pkg/models"
	"github.com/google/uuid"
)

type EventType string

const Topic = "flowgate.events"

const EventMetadataKey = "key"
const EventTypeMetadataKey = "event_type"

const (
	// Execution lifecycle events.
	ExecutionQueuedEvent   EventType = "execution.queued"
	ExecutionFinishedEvent EventType = "execution.finished"

	// Resume API.
	JobResumeRequestedEvent EventType = "job.resume.requested"

	// Workflow definition events.
	WorkflowChangedEvent EventType = "workflow.changed"
)

type BaseEvent struct {
	ID         string         `json:"id"`
	Type       EventType      `json:"type"`
	Timestamp  time.Time      `json:"timestamp"`
	WorkflowID int64          `json:"workflow_id"`
	Metadata   map[string]any `json:"metadata,omitempty"`
}

func NewBaseEvent(eventType EventType, workflowID int64) BaseEvent {
	return BaseEvent{
		ID:         uuid.NewString(),
		Type:       eventType,
		Timestamp:  time.Now().UTC(),
		WorkflowID: workflowID,
	}
}

func (b BaseEvent) EventID() string {
	return b.ID
}

// ExecutionQueued asks a worker to start an async execution from its head node.
type ExecutionQueued struct {
	BaseEvent

	ExecutionID int64 `json:"execution_id"`
}

func (e ExecutionQueued) GetType() EventType {
	return ExecutionQueuedEvent
}

// ExecutionFinished is published once an execution reaches a terminal status. When
// ParentID is set, the parent's pending job at ParentNodeID is waiting for it.
type ExecutionFinished struct {
	BaseEvent

	ExecutionID  int64                  `json:"execution_id"`
	Status       models.ExecutionStatus `json:"status"`
	ParentID     *int64                 `json:"parent_id,omitempty"`
	ParentNodeID *int64                 `json:"parent_node_id,omitempty"`
}

func (e ExecutionFinished) GetType() EventType {
	return ExecutionFinishedEvent
}

// JobResumeRequested carries an external outcome for a pending job.
type JobResumeRequested struct {
	BaseEvent

	JobID  int64            `json:"job_id"`
	Status models.JobStatus `json:"status"`
	Result any              `json:"result,omitempty"`
}

func (e JobResumeRequested) GetType() EventType {
	return JobResumeRequestedEvent
}

// WorkflowChanged is published after a workflow is created, enabled or disabled so
// every process can refresh its enabled workflow index and triggers.
type WorkflowChanged struct {
	BaseEvent

	Key     string `json:"key"`
	Enabled bool   `json:"enabled"`
}

func (e WorkflowChanged) GetType() EventType {
	return WorkflowChangedEvent
}

// New returns an empty event value for decoding a payload of the given type.
func New(eventType EventType) (any, bool) {
	switch eventType {
	case ExecutionQueuedEvent:
		return &ExecutionQueued{}, true
	case ExecutionFinishedEvent:
		return &ExecutionFinished{}, true
	case JobResumeRequestedEvent:
		return &JobResumeRequested{}, true
	case WorkflowChangedEvent:
		return &WorkflowChanged{}, true
	default:
		return nil, false
	}
}
