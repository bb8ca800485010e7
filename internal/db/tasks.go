package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// TaskRepo persists tasks, always scoped to the ambient workspace.
type TaskRepo struct {
	client *Client
	logger *zap.Logger
}

func NewTaskRepo(client *Client, logger *zap.Logger) *TaskRepo {
	return &TaskRepo{client: client, logger: logger}
}

// TaskFilter narrows List results. Zero values mean "no filter".
type TaskFilter struct {
	AgentID       uuid.UUID
	Status        string
	CreatorScoped bool
	Limit         int
	Offset        int
}

// Create inserts a task, stamping workspace_id and created_by from the
// ambient scope. Caller-provided values for those fields are ignored.
func (r *TaskRepo) Create(ctx context.Context, t *Task) error {
	scope, err := ScopeFromContext(ctx)
	if err != nil {
		return err
	}
	if t.ID == uuid.Nil {
		t.ID = uuid.New()
	}
	now := time.Now().UTC()
	t.WorkspaceID = scope.WorkspaceID
	t.CreatedBy = scope.UserID
	t.CreatedAt = now
	t.UpdatedAt = now
	if t.Status == "" {
		t.Status = TaskStatusSubmitted
	}
	if t.Parameters == nil {
		t.Parameters = JSONB{}
	}
	if t.Metadata == nil {
		t.Metadata = JSONB{}
	}

	_, err = r.client.DB().ExecContext(ctx, `
		INSERT INTO tasks (
			id, workspace_id, created_by, agent_id, description, parameters,
			status, metadata, created_at, updated_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)`,
		t.ID, t.WorkspaceID, t.CreatedBy, t.AgentID, t.Description, t.Parameters,
		t.Status, t.Metadata, t.CreatedAt, t.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert task: %w", err)
	}
	return nil
}

// Get returns the task, or ErrNotFound for absent or cross-workspace rows.
func (r *TaskRepo) Get(ctx context.Context, id uuid.UUID) (*Task, error) {
	scope, err := ScopeFromContext(ctx)
	if err != nil {
		return nil, err
	}
	var t Task
	err = r.client.DB().GetContext(ctx, &t, `
		SELECT * FROM tasks WHERE id = $1 AND workspace_id = $2`,
		id, scope.WorkspaceID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get task: %w", err)
	}
	return &t, nil
}

// List returns workspace tasks, newest first.
func (r *TaskRepo) List(ctx context.Context, f TaskFilter) ([]*Task, error) {
	scope, err := ScopeFromContext(ctx)
	if err != nil {
		return nil, err
	}
	query := `SELECT * FROM tasks WHERE workspace_id = $1`
	args := []interface{}{scope.WorkspaceID}
	if f.AgentID != uuid.Nil {
		args = append(args, f.AgentID)
		query += fmt.Sprintf(" AND agent_id = $%d", len(args))
	}
	if f.Status != "" {
		args = append(args, f.Status)
		query += fmt.Sprintf(" AND status = $%d", len(args))
	}
	if f.CreatorScoped {
		args = append(args, scope.UserID)
		query += fmt.Sprintf(" AND created_by = $%d", len(args))
	}
	query += " ORDER BY created_at DESC"
	limit := f.Limit
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	args = append(args, limit)
	query += fmt.Sprintf(" LIMIT $%d", len(args))
	if f.Offset > 0 {
		args = append(args, f.Offset)
		query += fmt.Sprintf(" OFFSET $%d", len(args))
	}

	var tasks []*Task
	if err := r.client.DB().SelectContext(ctx, &tasks, query, args...); err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	return tasks, nil
}

// SetExecutionID records the engine workflow id and moves the task to
// running. The execution id is written exactly once.
func (r *TaskRepo) SetExecutionID(ctx context.Context, id uuid.UUID, executionID string) error {
	scope, err := ScopeFromContext(ctx)
	if err != nil {
		return err
	}
	res, err := r.client.DB().ExecContext(ctx, `
		UPDATE tasks
		SET execution_id = $1, status = $2, started_at = NOW(), updated_at = NOW()
		WHERE id = $3 AND workspace_id = $4 AND execution_id IS NULL`,
		executionID, TaskStatusRunning, id, scope.WorkspaceID)
	if err != nil {
		return fmt.Errorf("set execution id: %w", err)
	}
	return requireRow(res)
}

// UpdateStatus transitions the task status, stamping completed_at for
// terminal states. Writers re-read rather than blind-overwrite result/error.
func (r *TaskRepo) UpdateStatus(ctx context.Context, id uuid.UUID, status string, result JSONB, errMsg *string) error {
	scope, err := ScopeFromContext(ctx)
	if err != nil {
		return err
	}
	query := `
		UPDATE tasks SET
			status = $1,
			result = COALESCE($2, result),
			error = COALESCE($3, error),
			completed_at = CASE WHEN $1 IN ('completed','failed','cancelled') THEN NOW() ELSE completed_at END,
			updated_at = NOW()
		WHERE id = $4 AND workspace_id = $5`
	res, err := r.client.DB().ExecContext(ctx, query, status, result, errMsg, id, scope.WorkspaceID)
	if err != nil {
		return fmt.Errorf("update task status: %w", err)
	}
	return requireRow(res)
}

// Delete removes a task (and, by cascade, its events).
func (r *TaskRepo) Delete(ctx context.Context, id uuid.UUID) error {
	scope, err := ScopeFromContext(ctx)
	if err != nil {
		return err
	}
	res, err := r.client.DB().ExecContext(ctx,
		`DELETE FROM tasks WHERE id = $1 AND workspace_id = $2`, id, scope.WorkspaceID)
	if err != nil {
		return fmt.Errorf("delete task: %w", err)
	}
	return requireRow(res)
}

func requireRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
