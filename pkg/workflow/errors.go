package workflow

import (
	"errors"
	"fmt"
)

var (
	// ErrWorkflowDisabled is returned by Trigger when the workflow is not the enabled
	// version of its key. The execution did not run.
	ErrWorkflowDisabled = errors.New("workflow is disabled")

	// ErrMaxDepthExceeded stops sub-workflow chains deeper than the engine limit.
	ErrMaxDepthExceeded = errors.New("maximum sub-workflow depth exceeded")

	// ErrInstructionNotFound means a node type has no registered instruction.
	ErrInstructionNotFound = errors.New("instruction not registered")

	// ErrNodeNotFound means a job or link references a node missing from the workflow.
	ErrNodeNotFound = errors.New("node not found in workflow")

	// ErrExecutionFinished rejects jobs for an execution in a terminal status.
	ErrExecutionFinished = errors.New("execution already finished")

	// ErrResumeIgnored reports a resume or start request that had nothing to do:
	// the execution finished, or the job was already consumed.
	ErrResumeIgnored = errors.New("resume ignored")

	// ErrInvalidStatus rejects completing a job with a pending or unknown status.
	ErrInvalidStatus = errors.New("invalid job status")
)

// ConfigurationError marks failures caused by workflow configuration rather than by the
// business outcome of a run.
type ConfigurationError struct {
	WorkflowID int64
	NodeID     int64
	Err        error
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("configuration error in workflow %d node %d: %v", e.WorkflowID, e.NodeID, e.Err)
}

func (e *ConfigurationError) Unwrap() error {
	return e.Err
}

func (e *ConfigurationError) Is(target error) bool {
	return errors.Is(e.Err, target)
}

// IsConfigurationError reports whether err was caused by workflow configuration.
func IsConfigurationError(err error) bool {
	var configErr *ConfigurationError

	return errors.As(err, &configErr)
}
