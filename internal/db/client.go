package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"go.uber.org/zap"
)

// ErrNotFound is returned for rows that do not exist in the caller's
// workspace. Cross-workspace rows are reported identically so existence
// cannot be probed.
var ErrNotFound = errors.New("not found")

// Config holds database configuration.
type Config struct {
	URL             string
	MaxConnections  int
	IdleConnections int
	MaxLifetime     time.Duration
}

// Client wraps the connection pool and exposes the unit-of-work helper.
type Client struct {
	db     *sqlx.DB
	logger *zap.Logger
	stopCh chan struct{}
}

// NewClient opens a Postgres pool and verifies connectivity.
func NewClient(cfg *Config, logger *zap.Logger) (*Client, error) {
	if cfg.MaxConnections == 0 {
		cfg.MaxConnections = 25
	}
	if cfg.IdleConnections == 0 {
		cfg.IdleConnections = 5
	}
	if cfg.MaxLifetime == 0 {
		cfg.MaxLifetime = 5 * time.Minute
	}

	db, err := sqlx.Open("postgres", cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	db.SetMaxOpenConns(cfg.MaxConnections)
	db.SetMaxIdleConns(cfg.IdleConnections)
	db.SetConnMaxLifetime(cfg.MaxLifetime)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	c := &Client{db: db, logger: logger, stopCh: make(chan struct{})}
	go c.healthCheck()

	logger.Info("Database client initialized",
		zap.Int("max_connections", cfg.MaxConnections),
	)
	return c, nil
}

// NewClientFromDB wraps an existing pool; used by tests with sqlmock.
func NewClientFromDB(db *sqlx.DB, logger *zap.Logger) *Client {
	return &Client{db: db, logger: logger, stopCh: make(chan struct{})}
}

// DB returns the underlying pool for repositories.
func (c *Client) DB() *sqlx.DB {
	return c.db
}

// WithTx runs fn inside a transaction: commit on nil, rollback on error or
// panic.
func (c *Client) WithTx(ctx context.Context, fn func(*sqlx.Tx) error) error {
	tx, err := c.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
	}()
	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return fmt.Errorf("rollback failed: %v, original error: %w", rbErr, err)
		}
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit failed: %w", err)
	}
	return nil
}

func (c *Client) healthCheck() {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-c.stopCh:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			if err := c.db.PingContext(ctx); err != nil {
				c.logger.Error("Database health check failed", zap.Error(err))
			}
			cancel()
		}
	}
}

// Close shuts the pool down.
func (c *Client) Close() error {
	close(c.stopCh)
	return c.db.Close()
}
