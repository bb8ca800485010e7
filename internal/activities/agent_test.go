package activities

import (
	"context"
	"database/sql"
	"encoding/json"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/relay-run/relay/internal/agents"
	"github.com/relay-run/relay/internal/db"
)

type activityFixture struct {
	acts *Activities
	mock sqlmock.Sqlmock
	ws   uuid.UUID
	user uuid.UUID
}

func newActivityFixture(t *testing.T) *activityFixture {
	t.Helper()
	rawDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = rawDB.Close() })

	client := db.NewClientFromDB(sqlx.NewDb(rawDB, "postgres"), zap.NewNop())
	return &activityFixture{
		acts: NewActivities(
			agents.NewDirectory(client, zap.NewNop()),
			db.NewTaskRepo(client, zap.NewNop()),
			nil, nil, nil, nil,
			zap.NewNop()),
		mock: mock,
		ws:   uuid.New(),
		user: uuid.New(),
	}
}

func (f *activityFixture) scope() Scope {
	return Scope{WorkspaceID: f.ws, UserID: f.user}
}

func (f *activityFixture) expectAgent(t *testing.T, id uuid.UUID, tools map[string]interface{}) {
	t.Helper()
	toolsJSON, err := json.Marshal(tools)
	require.NoError(t, err)
	now := time.Now()
	f.mock.ExpectQuery(`FROM agents WHERE id = \$1 AND workspace_id = \$2`).
		WithArgs(id, f.ws).
		WillReturnRows(sqlmock.NewRows([]string{
			"id", "workspace_id", "name", "description", "model", "system_prompt",
			"tools", "config", "created_at", "updated_at",
		}).AddRow(id, f.ws, "researcher", "", "claude-sonnet", "do research",
			toolsJSON, []byte(`{"max_depth":3}`), now, now))
}

func TestBuildAgentConfig(t *testing.T) {
	f := newActivityFixture(t)
	id := uuid.New()
	f.expectAgent(t, id, nil)

	cfg, err := f.acts.BuildAgentConfig(context.Background(), BuildAgentConfigInput{
		AgentID: id, Scope: f.scope(),
	})
	require.NoError(t, err)
	assert.Equal(t, id.String(), cfg.ID)
	assert.Equal(t, "claude-sonnet", cfg.ModelID)
	assert.Equal(t, "do research", cfg.SystemPrompt)
	assert.Equal(t, float64(3), cfg.ToolsConfig["max_depth"])
}

func TestBuildAgentConfigUnknownAgent(t *testing.T) {
	f := newActivityFixture(t)
	f.mock.ExpectQuery(`FROM agents`).WillReturnError(sql.ErrNoRows)

	_, err := f.acts.BuildAgentConfig(context.Background(), BuildAgentConfigInput{
		AgentID: uuid.New(), Scope: f.scope(),
	})
	assert.ErrorIs(t, err, db.ErrNotFound)
}

func TestDiscoverAvailableTools(t *testing.T) {
	f := newActivityFixture(t)
	id := uuid.New()
	f.expectAgent(t, id, map[string]interface{}{
		"tools": []interface{}{
			map[string]interface{}{
				"name":        "web_search",
				"description": "search the web",
				"parameters": map[string]interface{}{
					"type":       "object",
					"properties": map[string]interface{}{"q": map[string]interface{}{"type": "string"}},
				},
				"requires_user_confirmation": true,
				"server_instance_id":         "mcp-2",
			},
			map[string]interface{}{"description": "nameless entries are dropped"},
			"not even an object",
		},
	})

	defs, err := f.acts.DiscoverAvailableTools(context.Background(), DiscoverToolsInput{
		AgentID: id, Scope: f.scope(),
	})
	require.NoError(t, err)
	require.Len(t, defs, 1)
	assert.Equal(t, "web_search", defs[0].Name)
	assert.True(t, defs[0].RequiresConfirmation)
	assert.Equal(t, "mcp-2", defs[0].ServerInstanceID)
	assert.Contains(t, defs[0].Parameters, "properties")
}

func TestDiscoverAvailableToolsNoTools(t *testing.T) {
	f := newActivityFixture(t)
	id := uuid.New()
	f.expectAgent(t, id, map[string]interface{}{})

	defs, err := f.acts.DiscoverAvailableTools(context.Background(), DiscoverToolsInput{
		AgentID: id, Scope: f.scope(),
	})
	require.NoError(t, err)
	assert.Empty(t, defs)
}

func TestUpdateTaskStatus(t *testing.T) {
	f := newActivityFixture(t)
	taskID := uuid.New()

	f.mock.ExpectExec(`UPDATE tasks SET`).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := f.acts.UpdateTaskStatus(context.Background(), UpdateTaskStatusInput{
		TaskID: taskID,
		Scope:  f.scope(),
		Status: db.TaskStatusCompleted,
		Result: map[string]interface{}{"answer": "42"},
	})
	require.NoError(t, err)
	assert.NoError(t, f.mock.ExpectationsWereMet())
}
