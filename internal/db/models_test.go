package db

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relay-run/relay/internal/auth"
)

func TestTerminalTaskStatus(t *testing.T) {
	for _, s := range []string{TaskStatusCompleted, TaskStatusFailed, TaskStatusCancelled} {
		assert.True(t, TerminalTaskStatus(s), s)
	}
	for _, s := range []string{TaskStatusSubmitted, TaskStatusPending, TaskStatusRunning, TaskStatusPaused} {
		assert.False(t, TerminalTaskStatus(s), s)
	}
}

func TestJSONBRoundTrip(t *testing.T) {
	in := JSONB{"nested": map[string]interface{}{"n": float64(1)}, "s": "x"}
	v, err := in.Value()
	require.NoError(t, err)

	var out JSONB
	require.NoError(t, out.Scan(v))
	assert.Equal(t, in, out)
}

func TestJSONBScanNil(t *testing.T) {
	var out JSONB
	require.NoError(t, out.Scan(nil))
	assert.Nil(t, out)
}

func TestScopeRoundTrip(t *testing.T) {
	ws, user := uuid.New(), uuid.New()
	ctx := ContextWithScope(context.Background(), ws, user)

	scope, err := ScopeFromContext(ctx)
	require.NoError(t, err)
	assert.Equal(t, ws, scope.WorkspaceID)
	assert.Equal(t, user, scope.UserID)
}

func TestScopeMissing(t *testing.T) {
	_, err := ScopeFromContext(context.Background())
	assert.ErrorIs(t, err, auth.ErrMissingContext)
}
