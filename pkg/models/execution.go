package models

import (
	"sort"
	"time"
)

// Execution is one run of a workflow. It is never deleted.
type Execution struct {
	ID           int64           `json:"id"`
	WorkflowID   int64           `json:"workflow_id"`
	Key          string          `json:"key"`
	Status       ExecutionStatus `json:"status"`
	Context      map[string]any  `json:"context,omitempty"`
	ParentID     *int64          `json:"parent_id,omitempty"`
	ParentNodeID *int64          `json:"parent_node_id,omitempty"`
	Depth        int             `json:"depth"`
	Jobs         []*Job          `json:"jobs,omitempty"`
	CreatedAt    time.Time       `json:"created_at"`
	UpdatedAt    time.Time       `json:"updated_at"`
}

func (e *Execution) IsFinished() bool {
	return e.Status.IsFinished()
}

// LastSavedJob returns the job with the highest index, or nil before the first step.
func (e *Execution) LastSavedJob() *Job {
	var last *Job

	for _, job := range e.Jobs {
		if last == nil || job.Index > last.Index {
			last = job
		}
	}

	return last
}

// PendingJobs returns the jobs still waiting for an external event.
func (e *Execution) PendingJobs() []*Job {
	var pending []*Job

	for _, job := range e.Jobs {
		if job.Status == JobPending {
			pending = append(pending, job)
		}
	}

	return pending
}

// SortJobs orders the jobs by traversal index.
func SortJobs(jobs []*Job) {
	sort.SliceStable(jobs, func(i, j int) bool {
		return jobs[i].Index < jobs[j].Index
	})
}

// ContextFromInput turns arbitrary trigger input into an execution context.
// Non-object input is kept under "data".
func ContextFromInput(input any) map[string]any {
	switch v := input.(type) {
	case nil:
		return map[string]any{}
	case map[string]any:
		return v
	default:
		return map[string]any{"data": v}
	}
}
