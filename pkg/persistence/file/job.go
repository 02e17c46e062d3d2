package file

import (
	"context"
	"errors"
	"io/fs"
	"time"

	"github.com/dukex/flowgate/pkg/models"
	"github.com/dukex/flowgate/pkg/persistence"
)

// JobRepository stores jobs. Pending uniqueness is checked under the store mutex.
type JobRepository struct {
	p *Persistence
}

func (jr *JobRepository) Create(_ context.Context, job *models.Job) error {
	jr.p.mu.Lock()
	defer jr.p.mu.Unlock()

	if job.Status == models.JobPending {
		pending, err := jr.pending(job.ExecutionID, 0)
		if err != nil {
			return persistence.NewJobError("Create", job.ExecutionID, 0, err)
		}

		if pending != nil {
			return persistence.NewJobError("Create", job.ExecutionID, pending.ID, persistence.ErrPendingJobExists)
		}
	}

	id, err := jr.p.next(jobsDir)
	if err != nil {
		return persistence.NewJobError("Create", job.ExecutionID, 0, err)
	}

	now := time.Now().UTC()
	job.ID = id
	job.CreatedAt = now
	job.UpdatedAt = now

	return jr.p.write(jobsDir, id, job)
}

func (jr *JobRepository) Update(_ context.Context, job *models.Job) error {
	jr.p.mu.Lock()
	defer jr.p.mu.Unlock()

	stored, err := jr.get(job.ID)
	if err != nil {
		return err
	}

	if job.Status == models.JobPending {
		pending, err := jr.pending(stored.ExecutionID, 0)
		if err != nil {
			return persistence.NewJobError("Update", stored.ExecutionID, job.ID, err)
		}

		if pending != nil && pending.ID != job.ID {
			return persistence.NewJobError("Update", stored.ExecutionID, job.ID, persistence.ErrPendingJobExists)
		}
	}

	stored.Status = job.Status
	stored.Result = job.Result
	stored.UpdatedAt = time.Now().UTC()

	if err := jr.p.write(jobsDir, stored.ID, stored); err != nil {
		return err
	}

	job.UpdatedAt = stored.UpdatedAt

	return nil
}

func (jr *JobRepository) GetByID(_ context.Context, id int64) (*models.Job, error) {
	jr.p.mu.Lock()
	defer jr.p.mu.Unlock()

	return jr.get(id)
}

func (jr *JobRepository) get(id int64) (*models.Job, error) {
	var job models.Job

	err := jr.p.read(jobsDir, id, &job)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, persistence.NewJobError("GetByID", 0, id, persistence.ErrJobNotFound)
	}

	if err != nil {
		return nil, err
	}

	return &job, nil
}

func (jr *JobRepository) ListByExecution(_ context.Context, executionID int64) ([]*models.Job, error) {
	jr.p.mu.Lock()
	defer jr.p.mu.Unlock()

	jobs, err := readAll(jr.p, jobsDir, func(j *models.Job) bool { return j.ExecutionID == executionID })
	if err != nil {
		return nil, err
	}

	models.SortJobs(jobs)

	return jobs, nil
}

func (jr *JobRepository) FindPending(_ context.Context, executionID, nodeID int64) (*models.Job, error) {
	jr.p.mu.Lock()
	defer jr.p.mu.Unlock()

	job, err := jr.pending(executionID, nodeID)
	if err != nil {
		return nil, err
	}

	if job == nil {
		return nil, persistence.NewJobError("FindPending", executionID, 0, persistence.ErrJobNotFound)
	}

	return job, nil
}

func (jr *JobRepository) CompletePending(_ context.Context, id int64, status models.JobStatus, result any) (*models.Job, error) {
	jr.p.mu.Lock()
	defer jr.p.mu.Unlock()

	job, err := jr.get(id)
	if err != nil {
		return nil, err
	}

	if job.Status != models.JobPending {
		return nil, persistence.NewJobError("CompletePending", job.ExecutionID, id, persistence.ErrJobNotPending)
	}

	job.Status = status
	job.Result = result
	job.UpdatedAt = time.Now().UTC()

	if err := jr.p.write(jobsDir, id, job); err != nil {
		return nil, err
	}

	return job, nil
}

// pending finds the pending job of an execution, restricted to nodeID when non-zero.
func (jr *JobRepository) pending(executionID, nodeID int64) (*models.Job, error) {
	jobs, err := readAll(jr.p, jobsDir, func(j *models.Job) bool {
		return j.ExecutionID == executionID && j.Status == models.JobPending && (nodeID == 0 || j.NodeID == nodeID)
	})
	if err != nil || len(jobs) == 0 {
		return nil, err
	}

	return jobs[0], nil
}
