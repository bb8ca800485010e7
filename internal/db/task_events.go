package db

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// TaskEventRepo persists the append-only per-task event log.
type TaskEventRepo struct {
	client *Client
	logger *zap.Logger
}

func NewTaskEventRepo(client *Client, logger *zap.Logger) *TaskEventRepo {
	return &TaskEventRepo{client: client, logger: logger}
}

// Append inserts an event exactly once; duplicate event ids (activity
// retries) are silently dropped by the primary key.
func (r *TaskEventRepo) Append(ctx context.Context, e *TaskEvent) error {
	scope, err := ScopeFromContext(ctx)
	if err != nil {
		return err
	}
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now().UTC()
	}
	if e.Data == nil {
		e.Data = JSONB{}
	}
	e.WorkspaceID = scope.WorkspaceID

	_, err = r.client.DB().ExecContext(ctx, `
		INSERT INTO task_events (id, task_id, workspace_id, event_type, timestamp, data, metadata, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,NOW())
		ON CONFLICT (id) DO NOTHING`,
		e.ID, e.TaskID, e.WorkspaceID, e.EventType, e.Timestamp, e.Data, e.Metadata)
	if err != nil {
		return fmt.Errorf("append task event: %w", err)
	}
	return nil
}

// ListByTask returns all events for a task ordered by (timestamp, seq):
// monotonic timestamps with insertion order breaking ties.
func (r *TaskEventRepo) ListByTask(ctx context.Context, taskID uuid.UUID) ([]*TaskEvent, error) {
	scope, err := ScopeFromContext(ctx)
	if err != nil {
		return nil, err
	}
	var events []*TaskEvent
	err = r.client.DB().SelectContext(ctx, &events, `
		SELECT * FROM task_events
		WHERE task_id = $1 AND workspace_id = $2
		ORDER BY timestamp ASC, seq ASC`,
		taskID, scope.WorkspaceID)
	if err != nil {
		return nil, fmt.Errorf("list task events: %w", err)
	}
	return events, nil
}

// Page returns a page of events for the history endpoint plus the total count.
func (r *TaskEventRepo) Page(ctx context.Context, taskID uuid.UUID, limit, offset int) ([]*TaskEvent, int, error) {
	scope, err := ScopeFromContext(ctx)
	if err != nil {
		return nil, 0, err
	}
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	var total int
	err = r.client.DB().GetContext(ctx, &total, `
		SELECT COUNT(*) FROM task_events WHERE task_id = $1 AND workspace_id = $2`,
		taskID, scope.WorkspaceID)
	if err != nil {
		return nil, 0, fmt.Errorf("count task events: %w", err)
	}
	var events []*TaskEvent
	err = r.client.DB().SelectContext(ctx, &events, `
		SELECT * FROM task_events
		WHERE task_id = $1 AND workspace_id = $2
		ORDER BY timestamp ASC, seq ASC
		LIMIT $3 OFFSET $4`,
		taskID, scope.WorkspaceID, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("page task events: %w", err)
	}
	return events, total, nil
}
