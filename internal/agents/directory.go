package agents

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

// Agent is a configured agent definition. Agent management lives outside
// this service; the directory is a read-only view used to resolve and
// validate agent references.
type Agent struct {
	ID           uuid.UUID `db:"id" json:"id"`
	WorkspaceID  uuid.UUID `db:"workspace_id" json:"workspace_id"`
	Name         string    `db:"name" json:"name"`
	Description  string    `db:"description" json:"description"`
	Model        string    `db:"model" json:"model"`
	SystemPrompt string    `db:"system_prompt" json:"system_prompt"`
	Tools        db.JSONB  `db:"tools" json:"tools"`
	Config       db.JSONB  `db:"config" json:"config"`
	CreatedAt    time.Time `db:"created_at" json:"created_at"`
	UpdatedAt    time.Time `db:"updated_at" json:"updated_at"`
}

// Directory resolves agents within the caller's workspace.
type Directory struct {
	client *db.Client
	logger *zap.Logger
}

func NewDirectory(client *db.Client, logger *zap.Logger) *Directory {
	return &Directory{client: client, logger: logger}
}

// Get returns the agent, or db.ErrNotFound for absent or cross-workspace
// agents.
func (d *Directory) Get(ctx context.Context, id uuid.UUID) (*Agent, error) {
	scope, err := db.ScopeFromContext(ctx)
	if err != nil {
		return nil, err
	}
	var a Agent
	err = d.client.DB().GetContext(ctx, &a, `
		SELECT * FROM agents WHERE id = $1 AND workspace_id = $2`,
		id, scope.WorkspaceID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, db.ErrNotFound
		}
		return nil, fmt.Errorf("get agent: %w", err)
	}
	return &a, nil
}

// Exists reports whether the agent is visible in the caller's workspace.
func (d *Directory) Exists(ctx context.Context, id uuid.UUID) error {
	scope, err := db.ScopeFromContext(ctx)
	if err != nil {
		return err
	}
	var one int
	err = d.client.DB().GetContext(ctx, &one, `
		SELECT 1 FROM agents WHERE id = $1 AND workspace_id = $2`,
		id, scope.WorkspaceID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return db.ErrNotFound
		}
		return fmt.Errorf("check agent: %w", err)
	}
	return nil
}

// List returns the workspace's agents, newest first.
func (d *Directory) List(ctx context.Context, limit int) ([]*Agent, error) {
	scope, err := db.ScopeFromContext(ctx)
	if err != nil {
		return nil, err
	}
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	var out []*Agent
	err = d.client.DB().SelectContext(ctx, &out, `
		SELECT * FROM agents WHERE workspace_id = $1
		ORDER BY created_at DESC LIMIT $2`,
		scope.WorkspaceID, limit)
	if err != nil {
		return nil, fmt.Errorf("list agents: %w", err)
	}
	return out, nil
}
