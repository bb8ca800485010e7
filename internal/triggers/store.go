package triggers

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/relay-run/relay/internal/db"
)

// Store persists triggers and their execution records. Cron and webhook
// variants share one wide row; Kind is the discriminator.
type Store struct {
	client *db.Client
	logger *zap.Logger
}

func NewStore(client *db.Client, logger *zap.Logger) *Store {
	return &Store{client: client, logger: logger}
}

const triggerColumns = `
	id, workspace_id, created_by, kind, name, description, agent_id, is_active,
	task_parameters, conditions, failure_threshold, consecutive_failures, last_execution_at,
	cron_expression, timezone, next_run_time,
	webhook_id, allowed_methods, webhook_type, validation_rules, webhook_config,
	created_at, updated_at`

// Filter narrows List results.
type Filter struct {
	AgentID       uuid.UUID
	Kind          Kind
	ActiveOnly    bool
	CreatorScoped bool
	Limit         int
}

// Create inserts the trigger, stamping scope and audit fields.
func (s *Store) Create(ctx context.Context, t *Trigger) error {
	scope, err := db.ScopeFromContext(ctx)
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
	if t.TaskParameters == nil {
		t.TaskParameters = db.JSONB{}
	}
	if t.Conditions == nil {
		t.Conditions = db.JSONB{}
	}
	if t.FailureThreshold == 0 {
		t.FailureThreshold = DefaultFailureThreshold
	}

	_, err = s.client.DB().ExecContext(ctx, `
		INSERT INTO triggers (`+triggerColumns+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20,$21,$22,$23)`,
		t.ID, t.WorkspaceID, t.CreatedBy, t.Kind, t.Name, t.Description, t.AgentID, t.IsActive,
		t.TaskParameters, t.Conditions, t.FailureThreshold, t.ConsecutiveFailures, t.LastExecutionAt,
		t.CronExpression, t.Timezone, t.NextRunTime,
		t.WebhookID, t.AllowedMethods, t.WebhookType, t.ValidationRules, t.WebhookConfig,
		t.CreatedAt, t.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert trigger: %w", err)
	}
	return nil
}

// Get returns the trigger, or ErrNotFound for absent/cross-workspace rows.
func (s *Store) Get(ctx context.Context, id uuid.UUID) (*Trigger, error) {
	scope, err := db.ScopeFromContext(ctx)
	if err != nil {
		return nil, err
	}
	var t Trigger
	err = s.client.DB().GetContext(ctx, &t, `
		SELECT `+triggerColumns+` FROM triggers WHERE id = $1 AND workspace_id = $2`,
		id, scope.WorkspaceID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get trigger: %w", err)
	}
	return &t, nil
}

// List returns workspace triggers, newest first.
func (s *Store) List(ctx context.Context, f Filter) ([]*Trigger, error) {
	scope, err := db.ScopeFromContext(ctx)
	if err != nil {
		return nil, err
	}
	query := `SELECT ` + triggerColumns + ` FROM triggers WHERE workspace_id = $1`
	args := []interface{}{scope.WorkspaceID}
	if f.AgentID != uuid.Nil {
		args = append(args, f.AgentID)
		query += fmt.Sprintf(" AND agent_id = $%d", len(args))
	}
	if f.Kind != "" {
		args = append(args, f.Kind)
		query += fmt.Sprintf(" AND kind = $%d", len(args))
	}
	if f.ActiveOnly {
		query += " AND is_active = true"
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

	var out []*Trigger
	if err := s.client.DB().SelectContext(ctx, &out, query, args...); err != nil {
		return nil, fmt.Errorf("list triggers: %w", err)
	}
	return out, nil
}

// ListByWebhookID returns every trigger bound to the public webhook id,
// oldest first. Multiple triggers may share one webhook endpoint; the
// router dispatches to each and conditions decide which fire.
func (s *Store) ListByWebhookID(ctx context.Context, webhookID string) ([]*Trigger, error) {
	scope, err := db.ScopeFromContext(ctx)
	if err != nil {
		return nil, err
	}
	var out []*Trigger
	err = s.client.DB().SelectContext(ctx, &out, `
		SELECT `+triggerColumns+` FROM triggers
		WHERE webhook_id = $1 AND workspace_id = $2 AND kind = 'webhook'
		ORDER BY created_at ASC`,
		webhookID, scope.WorkspaceID)
	if err != nil {
		return nil, fmt.Errorf("list triggers by webhook id: %w", err)
	}
	return out, nil
}

// LookupWebhook resolves a public webhook id without ambient scope; the
// ingest path is unauthenticated and the webhook id is the capability.
func (s *Store) LookupWebhook(ctx context.Context, webhookID string) ([]*Trigger, error) {
	var out []*Trigger
	err := s.client.DB().SelectContext(ctx, &out, `
		SELECT `+triggerColumns+` FROM triggers
		WHERE webhook_id = $1 AND kind = 'webhook'
		ORDER BY created_at ASC`,
		webhookID)
	if err != nil {
		return nil, fmt.Errorf("lookup webhook: %w", err)
	}
	return out, nil
}

// Update writes the mutable columns of a merged trigger row.
func (s *Store) Update(ctx context.Context, t *Trigger) error {
	scope, err := db.ScopeFromContext(ctx)
	if err != nil {
		return err
	}
	res, err := s.client.DB().ExecContext(ctx, `
		UPDATE triggers SET
			name = $1, description = $2, is_active = $3,
			task_parameters = $4, conditions = $5, failure_threshold = $6,
			cron_expression = $7, timezone = $8, next_run_time = $9,
			allowed_methods = $10, validation_rules = $11, webhook_config = $12,
			updated_at = NOW()
		WHERE id = $13 AND workspace_id = $14`,
		t.Name, t.Description, t.IsActive,
		t.TaskParameters, t.Conditions, t.FailureThreshold,
		t.CronExpression, t.Timezone, t.NextRunTime,
		t.AllowedMethods, t.ValidationRules, t.WebhookConfig,
		t.ID, scope.WorkspaceID)
	if err != nil {
		return fmt.Errorf("update trigger: %w", err)
	}
	return requireRow(res)
}

// Delete removes the trigger row; executions cascade.
func (s *Store) Delete(ctx context.Context, id uuid.UUID) error {
	scope, err := db.ScopeFromContext(ctx)
	if err != nil {
		return err
	}
	res, err := s.client.DB().ExecContext(ctx,
		`DELETE FROM triggers WHERE id = $1 AND workspace_id = $2`, id, scope.WorkspaceID)
	if err != nil {
		return fmt.Errorf("delete trigger: %w", err)
	}
	return requireRow(res)
}

// SetActive flips is_active and reports whether the value actually changed,
// so callers can publish transition events at most once.
func (s *Store) SetActive(ctx context.Context, id uuid.UUID, active bool) (bool, error) {
	scope, err := db.ScopeFromContext(ctx)
	if err != nil {
		return false, err
	}
	res, err := s.client.DB().ExecContext(ctx, `
		UPDATE triggers SET is_active = $1, updated_at = NOW()
		WHERE id = $2 AND workspace_id = $3 AND is_active <> $1`,
		active, id, scope.WorkspaceID)
	if err != nil {
		return false, fmt.Errorf("set trigger active: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	if n == 0 {
		// Distinguish "already in that state" from "not found".
		if _, err := s.Get(ctx, id); err != nil {
			return false, err
		}
		return false, nil
	}
	return true, nil
}

// UpdateExecutionTracking atomically stamps the last execution and the
// failure counter in one row write.
func (s *Store) UpdateExecutionTracking(ctx context.Context, id uuid.UUID, lastExecutionAt time.Time, consecutiveFailures int) error {
	scope, err := db.ScopeFromContext(ctx)
	if err != nil {
		return err
	}
	res, err := s.client.DB().ExecContext(ctx, `
		UPDATE triggers SET last_execution_at = $1, consecutive_failures = $2, updated_at = NOW()
		WHERE id = $3 AND workspace_id = $4`,
		lastExecutionAt, consecutiveFailures, id, scope.WorkspaceID)
	if err != nil {
		return fmt.Errorf("update execution tracking: %w", err)
	}
	return requireRow(res)
}

// IncrementFailures bumps the failure counter atomically and returns the new
// value. Concurrent executions on one trigger serialize at the row.
func (s *Store) IncrementFailures(ctx context.Context, id uuid.UUID, at time.Time) (int, error) {
	scope, err := db.ScopeFromContext(ctx)
	if err != nil {
		return 0, err
	}
	var count int
	err = s.client.DB().GetContext(ctx, &count, `
		UPDATE triggers
		SET consecutive_failures = consecutive_failures + 1, last_execution_at = $1, updated_at = NOW()
		WHERE id = $2 AND workspace_id = $3
		RETURNING consecutive_failures`,
		at, id, scope.WorkspaceID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, ErrNotFound
		}
		return 0, fmt.Errorf("increment failures: %w", err)
	}
	return count, nil
}

// SetNextRunTime records the engine-computed next firing, diagnostics only.
func (s *Store) SetNextRunTime(ctx context.Context, id uuid.UUID, next *time.Time) error {
	scope, err := db.ScopeFromContext(ctx)
	if err != nil {
		return err
	}
	_, err = s.client.DB().ExecContext(ctx, `
		UPDATE triggers SET next_run_time = $1, updated_at = NOW()
		WHERE id = $2 AND workspace_id = $3`,
		next, id, scope.WorkspaceID)
	if err != nil {
		return fmt.Errorf("set next run time: %w", err)
	}
	return nil
}

// ListCronDue returns cron rows whose recorded next_run_time has passed.
// Scheduling is engine-driven; this query exists for diagnostics.
func (s *Store) ListCronDue(ctx context.Context, now time.Time) ([]*Trigger, error) {
	scope, err := db.ScopeFromContext(ctx)
	if err != nil {
		return nil, err
	}
	var out []*Trigger
	err = s.client.DB().SelectContext(ctx, &out, `
		SELECT `+triggerColumns+` FROM triggers
		WHERE workspace_id = $1 AND kind = 'cron' AND is_active = true
		  AND next_run_time IS NOT NULL AND next_run_time <= $2
		ORDER BY next_run_time ASC`,
		scope.WorkspaceID, now)
	if err != nil {
		return nil, fmt.Errorf("list cron due: %w", err)
	}
	return out, nil
}

// ListActiveCronAll returns every active cron trigger across workspaces.
// Reconciler-only; it compares this set against the engine's schedules.
func (s *Store) ListActiveCronAll(ctx context.Context) ([]*Trigger, error) {
	var out []*Trigger
	err := s.client.DB().SelectContext(ctx, &out, `
		SELECT `+triggerColumns+` FROM triggers
		WHERE kind = 'cron' AND is_active = true
		ORDER BY created_at ASC`)
	if err != nil {
		return nil, fmt.Errorf("list active cron triggers: %w", err)
	}
	return out, nil
}

// CreateExecution appends an execution record. The success/error invariant
// is enforced here: a success row never carries an error message.
func (s *Store) CreateExecution(ctx context.Context, e *Execution) error {
	scope, err := db.ScopeFromContext(ctx)
	if err != nil {
		return err
	}
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	if e.ExecutedAt.IsZero() {
		e.ExecutedAt = time.Now().UTC()
	}
	if e.Status == ExecutionSuccess {
		e.ErrorMessage = nil
	}
	if e.TriggerData == nil {
		e.TriggerData = db.JSONB{}
	}
	e.WorkspaceID = scope.WorkspaceID

	_, err = s.client.DB().ExecContext(ctx, `
		INSERT INTO trigger_executions (
			id, trigger_id, workspace_id, executed_at, status, task_id,
			execution_time_ms, error_message, trigger_data, workflow_id, run_id, created_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,NOW())`,
		e.ID, e.TriggerID, e.WorkspaceID, e.ExecutedAt, e.Status, e.TaskID,
		e.ExecutionTimeMs, e.ErrorMessage, e.TriggerData, e.WorkflowID, e.RunID)
	if err != nil {
		return fmt.Errorf("insert trigger execution: %w", err)
	}
	return nil
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
