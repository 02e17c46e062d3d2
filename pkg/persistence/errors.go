package persistence

import (
	"errors"
	"fmt"
)

// Standard persistence error types that all implementations should use.
var (
	// ErrWorkflowNotFound indicates a workflow was not found by the given identifier.
	ErrWorkflowNotFound = errors.New("workflow not found")

	// ErrExecutionNotFound indicates an execution was not found by the given identifier.
	ErrExecutionNotFound = errors.New("execution not found")

	// ErrJobNotFound indicates a job was not found by the given identifier.
	ErrJobNotFound = errors.New("job not found")

	// ErrJobNotPending indicates a job already left the pending status.
	ErrJobNotPending = errors.New("job is not pending")

	// ErrPendingJobExists indicates the execution already waits on another pending job.
	ErrPendingJobExists = errors.New("execution already has a pending job")
)

// WorkflowError wraps workflow-related errors with additional context.
type WorkflowError struct {
	Op         string // Operation being performed (e.g., "GetByID", "Create", "SetEnabled")
	WorkflowID int64
	Key        string
	Err        error
}

func (e *WorkflowError) Error() string {
	target := fmt.Sprintf("%d", e.WorkflowID)
	if e.Key != "" {
		target = fmt.Sprintf("key %s", e.Key)
	}

	return fmt.Sprintf("%s operation failed for workflow %s: %v", e.Op, target, e.Err)
}

func (e *WorkflowError) Unwrap() error {
	return e.Err
}

// Is implements error comparison for workflow errors.
func (e *WorkflowError) Is(target error) bool {
	return errors.Is(e.Err, target)
}

func NewWorkflowError(op string, workflowID int64, err error) *WorkflowError {
	return &WorkflowError{
		Op:         op,
		WorkflowID: workflowID,
		Err:        err,
	}
}

// JobError wraps job-related errors with additional context.
type JobError struct {
	Op          string
	ExecutionID int64
	JobID       int64
	Err         error
}

func (e *JobError) Error() string {
	return fmt.Sprintf("%s operation failed for job %d in execution %d: %v", e.Op, e.JobID, e.ExecutionID, e.Err)
}

func (e *JobError) Unwrap() error {
	return e.Err
}

func (e *JobError) Is(target error) bool {
	return errors.Is(e.Err, target)
}

func NewJobError(op string, executionID, jobID int64, err error) *JobError {
	return &JobError{
		Op:          op,
		ExecutionID: executionID,
		JobID:       jobID,
		Err:         err,
	}
}

// IsWorkflowNotFound checks if an error indicates a workflow was not found.
func IsWorkflowNotFound(err error) bool {
	return errors.Is(err, ErrWorkflowNotFound)
}

func IsExecutionNotFound(err error) bool {
	return errors.Is(err, ErrExecutionNotFound)
}

func IsJobNotFound(err error) bool {
	return errors.Is(err, ErrJobNotFound)
}
