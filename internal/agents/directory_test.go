package agents

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/relay-run/relay/internal/db"
)

func directoryFixture(t *testing.T) (*Directory, sqlmock.Sqlmock, context.Context, uuid.UUID) {
	t.Helper()
	rawDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = rawDB.Close() })

	dir := NewDirectory(db.NewClientFromDB(sqlx.NewDb(rawDB, "postgres"), zap.NewNop()), zap.NewNop())
	ws := uuid.New()
	ctx := db.ContextWithScope(context.Background(), ws, uuid.New())
	return dir, mock, ctx, ws
}

func agentColumns() []string {
	return []string{
		"id", "workspace_id", "name", "description", "model", "system_prompt",
		"tools", "config", "created_at", "updated_at",
	}
}

func TestDirectoryGet(t *testing.T) {
	dir, mock, ctx, ws := directoryFixture(t)
	id := uuid.New()
	now := time.Now()

	mock.ExpectQuery(`FROM agents WHERE id = \$1 AND workspace_id = \$2`).
		WithArgs(id, ws).
		WillReturnRows(sqlmock.NewRows(agentColumns()).AddRow(
			id, ws, "support-bot", "answers tickets", "gpt-4o", "be helpful",
			[]byte(`[]`), []byte(`{}`), now, now))

	a, err := dir.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "support-bot", a.Name)
	assert.Equal(t, ws, a.WorkspaceID)
}

func TestDirectoryGetOtherWorkspaceIsNotFound(t *testing.T) {
	dir, mock, ctx, _ := directoryFixture(t)
	id := uuid.New()

	// The scoped query returns nothing for an agent owned elsewhere.
	mock.ExpectQuery(`FROM agents`).WillReturnError(sql.ErrNoRows)

	_, err := dir.Get(ctx, id)
	assert.ErrorIs(t, err, db.ErrNotFound)
}

func TestDirectoryGetRequiresScope(t *testing.T) {
	dir, _, _, _ := directoryFixture(t)
	_, err := dir.Get(context.Background(), uuid.New())
	require.Error(t, err)
}

func TestDirectoryExists(t *testing.T) {
	dir, mock, ctx, ws := directoryFixture(t)
	id := uuid.New()

	mock.ExpectQuery(`SELECT 1 FROM agents`).
		WithArgs(id, ws).
		WillReturnRows(sqlmock.NewRows([]string{"?column?"}).AddRow(1))
	require.NoError(t, dir.Exists(ctx, id))

	mock.ExpectQuery(`SELECT 1 FROM agents`).
		WillReturnError(sql.ErrNoRows)
	assert.ErrorIs(t, dir.Exists(ctx, uuid.New()), db.ErrNotFound)
}

func TestDirectoryListClampsLimit(t *testing.T) {
	dir, mock, ctx, ws := directoryFixture(t)

	mock.ExpectQuery(`FROM agents WHERE workspace_id = \$1`).
		WithArgs(ws, 100).
		WillReturnRows(sqlmock.NewRows(agentColumns()))

	_, err := dir.List(ctx, -5)
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}
