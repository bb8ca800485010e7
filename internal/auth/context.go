package auth

import (
	"context"
	"errors"

	"github.com/google/uuid"
)

// ContextKey is the key type for context values
type ContextKey string

const (
	// UserContextKey is the context key for the authenticated principal
	UserContextKey ContextKey = "user"
)

// ErrMissingContext indicates a request reached the store layer without an
// authenticated workspace scope.
var ErrMissingContext = errors.New("workspace context missing")

// UserContext carries the tenant scope for a request. It is set once at the
// edge (HTTP middleware) and flows through every call path; the persistence
// layer refuses to operate without it.
type UserContext struct {
	UserID      uuid.UUID `json:"user_id"`
	WorkspaceID uuid.UUID `json:"workspace_id"`
	Email       string    `json:"email,omitempty"`
	Role        string    `json:"role,omitempty"`
}

// WithUserContext returns a child context carrying the principal.
func WithUserContext(ctx context.Context, uc *UserContext) context.Context {
	return context.WithValue(ctx, UserContextKey, uc)
}

// FromContext extracts the principal, or ErrMissingContext when unset or
// incomplete. Workspace is mandatory everywhere; there is deliberately no
// default substitution.
func FromContext(ctx context.Context) (*UserContext, error) {
	uc, ok := ctx.Value(UserContextKey).(*UserContext)
	if !ok || uc == nil {
		return nil, ErrMissingContext
	}
	if uc.WorkspaceID == uuid.Nil || uc.UserID == uuid.Nil {
		return nil, ErrMissingContext
	}
	return uc, nil
}
