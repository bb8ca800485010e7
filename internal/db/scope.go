package db

import (
	"context"

	"github.com/google/uuid"

	"github.com/relay-run/relay/internal/auth"
)

// Scope is the tenant scope every repository operation runs under.
type Scope struct {
	WorkspaceID uuid.UUID
	UserID      uuid.UUID
}

// ScopeFromContext extracts the mandatory workspace scope. Repositories call
// this on every operation; a missing scope is a programming error at the
// caller, surfaced as auth.ErrMissingContext.
func ScopeFromContext(ctx context.Context) (Scope, error) {
	uc, err := auth.FromContext(ctx)
	if err != nil {
		return Scope{}, err
	}
	return Scope{WorkspaceID: uc.WorkspaceID, UserID: uc.UserID}, nil
}

// ContextWithScope is the inverse, used by activity code where the scope
// arrives in serialized inputs rather than ambient context.
func ContextWithScope(ctx context.Context, workspaceID, userID uuid.UUID) context.Context {
	return auth.WithUserContext(ctx, &auth.UserContext{WorkspaceID: workspaceID, UserID: userID})
}
