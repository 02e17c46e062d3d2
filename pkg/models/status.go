package models

import "strconv"

// ExecutionStatus is the overall state of an execution. Values below ExecutionStarted
// are failure outcomes.
type ExecutionStatus int

const (
	ExecutionQueueing    ExecutionStatus = -100
	ExecutionStarted     ExecutionStatus = 0
	ExecutionResolved    ExecutionStatus = 1
	ExecutionFailed      ExecutionStatus = -1
	ExecutionError       ExecutionStatus = -2
	ExecutionAborted     ExecutionStatus = -3
	ExecutionCanceled    ExecutionStatus = -4
	ExecutionRejected    ExecutionStatus = -5
	ExecutionRetryNeeded ExecutionStatus = -6
)

var executionStatusName = map[ExecutionStatus]string{
	ExecutionQueueing:    "queueing",
	ExecutionStarted:     "started",
	ExecutionResolved:    "resolved",
	ExecutionFailed:      "failed",
	ExecutionError:       "error",
	ExecutionAborted:     "aborted",
	ExecutionCanceled:    "canceled",
	ExecutionRejected:    "rejected",
	ExecutionRetryNeeded: "retry_needed",
}

func (s ExecutionStatus) String() string {
	if name, ok := executionStatusName[s]; ok {
		return name
	}

	return "execution_status(" + strconv.Itoa(int(s)) + ")"
}

// IsFinished reports a terminal state: resolved or any failure.
func (s ExecutionStatus) IsFinished() bool {
	return s == ExecutionResolved || (s < ExecutionStarted && s != ExecutionQueueing)
}

// JobStatus is the state of one node execution.
type JobStatus int

const (
	JobPending     JobStatus = 0
	JobResolved    JobStatus = 1
	JobFailed      JobStatus = -1
	JobError       JobStatus = -2
	JobAborted     JobStatus = -3
	JobCanceled    JobStatus = -4
	JobRejected    JobStatus = -5
	JobRetryNeeded JobStatus = -6
)

var jobStatusName = map[JobStatus]string{
	JobPending:     "pending",
	JobResolved:    "resolved",
	JobFailed:      "failed",
	JobError:       "error",
	JobAborted:     "aborted",
	JobCanceled:    "canceled",
	JobRejected:    "rejected",
	JobRetryNeeded: "retry_needed",
}

func (s JobStatus) String() string {
	if name, ok := jobStatusName[s]; ok {
		return name
	}

	return "job_status(" + strconv.Itoa(int(s)) + ")"
}

func (s JobStatus) Valid() bool {
	_, ok := jobStatusName[s]

	return ok
}

// ExecutionStatus maps a job outcome onto the execution status it terminates with.
func (s JobStatus) ExecutionStatus() ExecutionStatus {
	return ExecutionStatus(s)
}

// ParseJobStatus accepts a status name ("resolved") or its integer form.
func ParseJobStatus(value string) (JobStatus, bool) {
	for status, name := range jobStatusName {
		if name == value {
			return status, true
		}
	}

	n, err := strconv.Atoi(value)
	if err != nil {
		return 0, false
	}

	status := JobStatus(n)

	return status, status.Valid()
}
