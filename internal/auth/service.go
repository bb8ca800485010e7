package auth

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
)

var ErrInvalidAPIKey = errors.New("invalid API key")

// APIKey is a long-lived credential bound to a user and workspace.
// Only a bcrypt hash is stored; the sha256 prefix column narrows the lookup.
type APIKey struct {
	ID          uuid.UUID  `db:"id"`
	UserID      uuid.UUID  `db:"user_id"`
	WorkspaceID uuid.UUID  `db:"workspace_id"`
	Name        string     `db:"name"`
	KeyHash     string     `db:"key_hash"`
	KeyPrefix   string     `db:"key_prefix"`
	IsActive    bool       `db:"is_active"`
	LastUsedAt  *time.Time `db:"last_used_at"`
	CreatedAt   time.Time  `db:"created_at"`
}

// Service resolves credentials (API keys) against the database.
type Service struct {
	db     *sqlx.DB
	logger *zap.Logger
}

func NewService(db *sqlx.DB, logger *zap.Logger) *Service {
	return &Service{db: db, logger: logger}
}

// keyPrefix returns the indexed lookup prefix for a raw key.
func keyPrefix(raw string) string {
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:8])
}

// ValidateAPIKey checks a raw API key and returns the bound principal.
func (s *Service) ValidateAPIKey(ctx context.Context, raw string) (*UserContext, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, ErrInvalidAPIKey
	}

	var keys []APIKey
	err := s.db.SelectContext(ctx, &keys, `
		SELECT id, user_id, workspace_id, name, key_hash, key_prefix, is_active, last_used_at, created_at
		FROM api_keys
		WHERE key_prefix = $1 AND is_active = true`, keyPrefix(raw))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrInvalidAPIKey
		}
		return nil, fmt.Errorf("lookup api key: %w", err)
	}

	for _, k := range keys {
		if bcrypt.CompareHashAndPassword([]byte(k.KeyHash), []byte(raw)) == nil {
			// Touch last_used_at, best-effort.
			if _, err := s.db.ExecContext(ctx,
				`UPDATE api_keys SET last_used_at = NOW() WHERE id = $1`, k.ID); err != nil {
				s.logger.Warn("Failed to update api key last_used_at",
					zap.String("key_id", k.ID.String()), zap.Error(err))
			}
			return &UserContext{UserID: k.UserID, WorkspaceID: k.WorkspaceID}, nil
		}
	}
	return nil, ErrInvalidAPIKey
}

// CreateAPIKey mints a new key for a principal and returns the raw secret
// exactly once.
func (s *Service) CreateAPIKey(ctx context.Context, uc *UserContext, name string) (string, error) {
	raw := "rk_" + strings.ReplaceAll(uuid.NewString()+uuid.NewString(), "-", "")
	hash, err := bcrypt.GenerateFromPassword([]byte(raw), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("hash api key: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO api_keys (id, user_id, workspace_id, name, key_hash, key_prefix, is_active, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, true, NOW())`,
		uuid.New(), uc.UserID, uc.WorkspaceID, name, string(hash), keyPrefix(raw))
	if err != nil {
		return "", fmt.Errorf("insert api key: %w", err)
	}
	return raw, nil
}
