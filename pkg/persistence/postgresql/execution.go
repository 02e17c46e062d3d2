package postgresql

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/dukex/flowgate/pkg/models"
	"github.com/dukex/flowgate/pkg/persistence"
)

const executionColumns = `
	id
  , workflow_id
  , key
  , status
  , context
  , parent_id
  , parent_node_id
  , depth
  , created_at
  , updated_at`

// ExecutionRepository handles execution rows. Jobs live in their own table.
type ExecutionRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

func NewExecutionRepository(db *sql.DB, logger *slog.Logger) *ExecutionRepository {
	return &ExecutionRepository{db: db, logger: logger}
}

func (r *ExecutionRepository) Create(ctx context.Context, execution *models.Execution) error {
	now := time.Now().UTC()
	execution.CreatedAt = now
	execution.UpdatedAt = now

	contextJSON, err := marshalObject(execution.Context)
	if err != nil {
		return fmt.Errorf("failed to marshal execution context: %w", err)
	}

	err = r.db.QueryRowContext(ctx, `
		INSERT INTO executions (workflow_id, key, status, context, parent_id, parent_node_id, depth, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING id`,
		execution.WorkflowID,
		execution.Key,
		execution.Status,
		contextJSON,
		nullInt64(execution.ParentID),
		nullInt64(execution.ParentNodeID),
		execution.Depth,
		execution.CreatedAt,
		execution.UpdatedAt,
	).Scan(&execution.ID)
	if err != nil {
		return fmt.Errorf("failed to insert execution: %w", err)
	}

	return nil
}

func (r *ExecutionRepository) GetByID(ctx context.Context, id int64) (*models.Execution, error) {
	row := r.db.QueryRowContext(ctx, "SELECT"+executionColumns+" FROM executions WHERE id = $1", id)

	execution, err := scanExecution(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("execution %d: %w", id, persistence.ErrExecutionNotFound)
		}

		return nil, fmt.Errorf("failed to scan execution: %w", err)
	}

	return execution, nil
}

func (r *ExecutionRepository) UpdateStatus(ctx context.Context, id int64, status models.ExecutionStatus) error {
	result, err := r.db.ExecContext(ctx, "UPDATE executions SET status = $2, updated_at = $3 WHERE id = $1", id, status, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to update execution %d: %w", id, err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to update execution %d: %w", id, err)
	}

	if affected == 0 {
		return fmt.Errorf("execution %d: %w", id, persistence.ErrExecutionNotFound)
	}

	return nil
}

func (r *ExecutionRepository) ListByWorkflow(ctx context.Context, workflowID int64) ([]*models.Execution, error) {
	rows, err := r.db.QueryContext(ctx, "SELECT"+executionColumns+" FROM executions WHERE workflow_id = $1 ORDER BY id", workflowID)
	if err != nil {
		return nil, fmt.Errorf("failed to query executions: %w", err)
	}

	defer closeRows(ctx, r.logger, rows)

	executions := make([]*models.Execution, 0)

	for rows.Next() {
		execution, err := scanExecution(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan execution: %w", err)
		}

		executions = append(executions, execution)
	}

	return executions, rows.Err()
}

func scanExecution(row scanner) (*models.Execution, error) {
	var (
		execution    models.Execution
		contextJSON  []byte
		parentID     sql.NullInt64
		parentNodeID sql.NullInt64
	)

	err := row.Scan(
		&execution.ID,
		&execution.WorkflowID,
		&execution.Key,
		&execution.Status,
		&contextJSON,
		&parentID,
		&parentNodeID,
		&execution.Depth,
		&execution.CreatedAt,
		&execution.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	execution.Context, err = unmarshalObject(contextJSON)
	if err != nil {
		return nil, fmt.Errorf("failed to unmarshal execution context: %w", err)
	}

	execution.ParentID = int64Ptr(parentID)
	execution.ParentNodeID = int64Ptr(parentNodeID)

	return &execution, nil
}
