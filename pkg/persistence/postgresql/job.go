package postgresql

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/dukex/flowgate/pkg/models"
	"github.com/dukex/flowgate/pkg/persistence"
)

const (
	jobColumns = `
	id
  , execution_id
  , node_id
  , node_key
  , position
  , status
  , result
  , created_at
  , updated_at`

	singlePendingConstraint = "jobs_single_pending"
)

// JobRepository handles job rows. The partial unique index jobs_single_pending keeps
// at most one pending job per execution.
type JobRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

func NewJobRepository(db *sql.DB, logger *slog.Logger) *JobRepository {
	return &JobRepository{db: db, logger: logger}
}

func (r *JobRepository) Create(ctx context.Context, job *models.Job) error {
	now := time.Now().UTC()
	job.CreatedAt = now
	job.UpdatedAt = now

	resultJSON, err := marshalResult(job.Result)
	if err != nil {
		return persistence.NewJobError("Create", job.ExecutionID, 0, err)
	}

	err = r.db.QueryRowContext(ctx, `
		INSERT INTO jobs (execution_id, node_id, node_key, position, status, result, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id`,
		job.ExecutionID,
		job.NodeID,
		job.NodeKey,
		job.Index,
		job.Status,
		resultJSON,
		job.CreatedAt,
		job.UpdatedAt,
	).Scan(&job.ID)
	if err != nil {
		if isUniqueViolation(err, singlePendingConstraint) {
			return persistence.NewJobError("Create", job.ExecutionID, 0, persistence.ErrPendingJobExists)
		}

		return persistence.NewJobError("Create", job.ExecutionID, 0, err)
	}

	return nil
}

func (r *JobRepository) Update(ctx context.Context, job *models.Job) error {
	resultJSON, err := marshalResult(job.Result)
	if err != nil {
		return persistence.NewJobError("Update", job.ExecutionID, job.ID, err)
	}

	job.UpdatedAt = time.Now().UTC()

	result, err := r.db.ExecContext(ctx,
		"UPDATE jobs SET status = $2, result = $3, updated_at = $4 WHERE id = $1",
		job.ID, job.Status, resultJSON, job.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err, singlePendingConstraint) {
			return persistence.NewJobError("Update", job.ExecutionID, job.ID, persistence.ErrPendingJobExists)
		}

		return persistence.NewJobError("Update", job.ExecutionID, job.ID, err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return persistence.NewJobError("Update", job.ExecutionID, job.ID, err)
	}

	if affected == 0 {
		return persistence.NewJobError("Update", job.ExecutionID, job.ID, persistence.ErrJobNotFound)
	}

	return nil
}

func (r *JobRepository) GetByID(ctx context.Context, id int64) (*models.Job, error) {
	job, err := scanJob(r.db.QueryRowContext(ctx, "SELECT"+jobColumns+" FROM jobs WHERE id = $1", id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, persistence.NewJobError("GetByID", 0, id, persistence.ErrJobNotFound)
		}

		return nil, persistence.NewJobError("GetByID", 0, id, err)
	}

	return job, nil
}

func (r *JobRepository) ListByExecution(ctx context.Context, executionID int64) ([]*models.Job, error) {
	rows, err := r.db.QueryContext(ctx, "SELECT"+jobColumns+" FROM jobs WHERE execution_id = $1 ORDER BY position, id", executionID)
	if err != nil {
		return nil, fmt.Errorf("failed to query jobs: %w", err)
	}

	defer closeRows(ctx, r.logger, rows)

	jobs := make([]*models.Job, 0)

	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan job: %w", err)
		}

		jobs = append(jobs, job)
	}

	return jobs, rows.Err()
}

func (r *JobRepository) FindPending(ctx context.Context, executionID, nodeID int64) (*models.Job, error) {
	job, err := scanJob(r.db.QueryRowContext(ctx,
		"SELECT"+jobColumns+" FROM jobs WHERE execution_id = $1 AND node_id = $2 AND status = $3",
		executionID, nodeID, models.JobPending,
	))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, persistence.NewJobError("FindPending", executionID, 0, persistence.ErrJobNotFound)
		}

		return nil, persistence.NewJobError("FindPending", executionID, 0, err)
	}

	return job, nil
}

// CompletePending is a single conditional UPDATE, so concurrent completions of the
// same job resolve to exactly one winner.
func (r *JobRepository) CompletePending(ctx context.Context, id int64, status models.JobStatus, result any) (*models.Job, error) {
	resultJSON, err := marshalResult(result)
	if err != nil {
		return nil, persistence.NewJobError("CompletePending", 0, id, err)
	}

	job, err := scanJob(r.db.QueryRowContext(ctx, `
		UPDATE jobs SET status = $2, result = $3, updated_at = $4
		WHERE id = $1 AND status = $5
		RETURNING`+jobColumns,
		id, status, resultJSON, time.Now().UTC(), models.JobPending,
	))
	if err == nil {
		return job, nil
	}

	if !errors.Is(err, sql.ErrNoRows) {
		return nil, persistence.NewJobError("CompletePending", 0, id, err)
	}

	existing, err := r.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	return nil, persistence.NewJobError("CompletePending", existing.ExecutionID, id, persistence.ErrJobNotPending)
}

func scanJob(row scanner) (*models.Job, error) {
	var (
		job        models.Job
		resultJSON []byte
	)

	err := row.Scan(
		&job.ID,
		&job.ExecutionID,
		&job.NodeID,
		&job.NodeKey,
		&job.Index,
		&job.Status,
		&resultJSON,
		&job.CreatedAt,
		&job.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if len(resultJSON) > 0 {
		if err := json.Unmarshal(resultJSON, &job.Result); err != nil {
			return nil, fmt.Errorf("failed to unmarshal job result: %w", err)
		}
	}

	return &job, nil
}

// marshalResult returns a nil interface for a missing result so the column stays NULL.
func marshalResult(result any) (any, error) {
	if result == nil {
		return nil, nil
	}

	data, err := json.Marshal(result)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal job result: %w", err)
	}

	return string(data), nil
}
