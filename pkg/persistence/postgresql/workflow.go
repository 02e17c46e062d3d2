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

const workflowColumns = `
	id
  , key
  , title
  , type
  , enabled
  , sync
  , config
  , created_at
  , updated_at`

// WorkflowRepository handles workflow-related database operations.
type WorkflowRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewWorkflowRepository creates a new workflow repository.
func NewWorkflowRepository(db *sql.DB, logger *slog.Logger) *WorkflowRepository {
	return &WorkflowRepository{db: db, logger: logger}
}

// Create inserts the workflow and its nodes in one transaction.
func (r *WorkflowRepository) Create(ctx context.Context, workflow *models.Workflow) (err error) {
	now := time.Now().UTC()
	workflow.CreatedAt = now
	workflow.UpdatedAt = now

	configJSON, err := marshalObject(workflow.Config)
	if err != nil {
		return persistence.NewWorkflowError("Create", 0, fmt.Errorf("failed to marshal config: %w", err))
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if workflow.Enabled {
		_, err = tx.ExecContext(ctx, "UPDATE workflows SET enabled = false, updated_at = $2 WHERE key = $1 AND enabled", workflow.Key, now)
		if err != nil {
			return persistence.NewWorkflowError("Create", 0, fmt.Errorf("failed to disable other versions: %w", err))
		}
	}

	err = tx.QueryRowContext(ctx, `
		INSERT INTO workflows (key, title, type, enabled, sync, config, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id`,
		workflow.Key,
		workflow.Title,
		workflow.Type,
		workflow.Enabled,
		workflow.Sync,
		configJSON,
		workflow.CreatedAt,
		workflow.UpdatedAt,
	).Scan(&workflow.ID)
	if err != nil {
		return persistence.NewWorkflowError("Create", 0, fmt.Errorf("failed to insert workflow: %w", err))
	}

	for position, node := range workflow.Nodes {
		nodeConfig, marshalErr := marshalObject(node.Config)
		if marshalErr != nil {
			err = marshalErr

			return persistence.NewWorkflowError("Create", workflow.ID, fmt.Errorf("failed to marshal node config: %w", err))
		}

		err = tx.QueryRowContext(ctx, `
			INSERT INTO flow_nodes (workflow_id, key, type, title, config, position)
			VALUES ($1, $2, $3, $4, $5, $6)
			RETURNING id`,
			workflow.ID, node.Key, node.Type, node.Title, nodeConfig, position,
		).Scan(&node.ID)
		if err != nil {
			return persistence.NewWorkflowError("Create", workflow.ID, fmt.Errorf("failed to insert node %s: %w", node.Key, err))
		}
	}

	workflow.LinkNodes()

	for _, node := range workflow.Nodes {
		_, err = tx.ExecContext(ctx,
			"UPDATE flow_nodes SET upstream_id = $2, downstream_id = $3 WHERE id = $1",
			node.ID, nullInt64(node.UpstreamID), nullInt64(node.DownstreamID),
		)
		if err != nil {
			return persistence.NewWorkflowError("Create", workflow.ID, fmt.Errorf("failed to link node %s: %w", node.Key, err))
		}
	}

	err = tx.Commit()
	if err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	return nil
}

func (r *WorkflowRepository) GetByID(ctx context.Context, id int64) (*models.Workflow, error) {
	row := r.db.QueryRowContext(ctx, "SELECT"+workflowColumns+" FROM workflows WHERE id = $1", id)

	workflow, err := r.scanWorkflowBase(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, persistence.NewWorkflowError("GetByID", id, persistence.ErrWorkflowNotFound)
		}

		return nil, fmt.Errorf("failed to scan workflow: %w", err)
	}

	if err := r.loadNodes(ctx, workflow); err != nil {
		return nil, err
	}

	return workflow, nil
}

func (r *WorkflowRepository) ListByKey(ctx context.Context, key string) ([]*models.Workflow, error) {
	return r.list(ctx, "WHERE key = $1", key)
}

func (r *WorkflowRepository) List(ctx context.Context) ([]*models.Workflow, error) {
	return r.list(ctx, "")
}

func (r *WorkflowRepository) ListEnabled(ctx context.Context) ([]*models.Workflow, error) {
	return r.list(ctx, "WHERE enabled")
}

func (r *WorkflowRepository) SetEnabled(ctx context.Context, id int64, enabled bool) (_ *models.Workflow, err error) {
	now := time.Now().UTC()

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}

	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	var key string

	err = tx.QueryRowContext(ctx, "SELECT key FROM workflows WHERE id = $1 FOR UPDATE", id).Scan(&key)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, persistence.NewWorkflowError("SetEnabled", id, persistence.ErrWorkflowNotFound)
		}

		return nil, persistence.NewWorkflowError("SetEnabled", id, err)
	}

	if enabled {
		_, err = tx.ExecContext(ctx, "UPDATE workflows SET enabled = false, updated_at = $3 WHERE key = $1 AND id <> $2 AND enabled", key, id, now)
		if err != nil {
			return nil, persistence.NewWorkflowError("SetEnabled", id, err)
		}
	}

	_, err = tx.ExecContext(ctx, "UPDATE workflows SET enabled = $2, updated_at = $3 WHERE id = $1", id, enabled, now)
	if err != nil {
		return nil, persistence.NewWorkflowError("SetEnabled", id, err)
	}

	err = tx.Commit()
	if err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}

	return r.GetByID(ctx, id)
}

func (r *WorkflowRepository) list(ctx context.Context, where string, args ...any) ([]*models.Workflow, error) {
	rows, err := r.db.QueryContext(ctx, "SELECT"+workflowColumns+" FROM workflows "+where+" ORDER BY id", args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query workflows: %w", err)
	}

	defer closeRows(ctx, r.logger, rows)

	workflows := make([]*models.Workflow, 0)

	for rows.Next() {
		workflow, err := r.scanWorkflowBase(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan workflow: %w", err)
		}

		workflows = append(workflows, workflow)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating workflows: %w", err)
	}

	for _, workflow := range workflows {
		if err := r.loadNodes(ctx, workflow); err != nil {
			return nil, err
		}
	}

	return workflows, nil
}

func (r *WorkflowRepository) scanWorkflowBase(row scanner) (*models.Workflow, error) {
	var (
		workflow   models.Workflow
		configJSON []byte
	)

	err := row.Scan(
		&workflow.ID,
		&workflow.Key,
		&workflow.Title,
		&workflow.Type,
		&workflow.Enabled,
		&workflow.Sync,
		&configJSON,
		&workflow.CreatedAt,
		&workflow.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	workflow.Config, err = unmarshalObject(configJSON)
	if err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &workflow, nil
}

func (r *WorkflowRepository) loadNodes(ctx context.Context, workflow *models.Workflow) error {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, key, type, title, config, upstream_id, downstream_id
		FROM flow_nodes
		WHERE workflow_id = $1
		ORDER BY position`, workflow.ID)
	if err != nil {
		return fmt.Errorf("failed to query nodes of workflow %d: %w", workflow.ID, err)
	}

	defer closeRows(ctx, r.logger, rows)

	workflow.Nodes = make([]*models.Node, 0)

	for rows.Next() {
		var (
			node       models.Node
			configJSON []byte
			upstream   sql.NullInt64
			downstream sql.NullInt64
		)

		err := rows.Scan(&node.ID, &node.Key, &node.Type, &node.Title, &configJSON, &upstream, &downstream)
		if err != nil {
			return fmt.Errorf("failed to scan node: %w", err)
		}

		node.Config, err = unmarshalObject(configJSON)
		if err != nil {
			return fmt.Errorf("failed to unmarshal node config: %w", err)
		}

		node.WorkflowID = workflow.ID
		node.UpstreamID = int64Ptr(upstream)
		node.DownstreamID = int64Ptr(downstream)

		workflow.Nodes = append(workflow.Nodes, &node)
	}

	return rows.Err()
}
