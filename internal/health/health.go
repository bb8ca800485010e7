package health

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"go.temporal.io/sdk/client"
	"go.uber.org/zap"

	"github.com/relay-run/relay/internal/db"
)

// Statuses reported per component.
const (
	StatusHealthy   = "healthy"
	StatusUnhealthy = "unhealthy"
)

const checkTimeout = 3 * time.Second

// Checker probes one dependency.
type Checker interface {
	Name() string
	Healthy(ctx context.Context) error
}

// Manager runs all registered checkers and aggregates their results. It
// satisfies the HTTP layer's health interface.
type Manager struct {
	mu       sync.RWMutex
	checkers []Checker
	logger   *zap.Logger
}

func NewManager(logger *zap.Logger) *Manager {
	return &Manager{logger: logger}
}

func (m *Manager) Register(c Checker) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.checkers = append(m.checkers, c)
}

// Check probes every dependency concurrently and returns per-component
// statuses.
func (m *Manager) Check(ctx context.Context) map[string]string {
	m.mu.RLock()
	checkers := make([]Checker, len(m.checkers))
	copy(checkers, m.checkers)
	m.mu.RUnlock()

	out := make(map[string]string, len(checkers))
	var (
		wg sync.WaitGroup
		mu sync.Mutex
	)
	for _, c := range checkers {
		wg.Add(1)
		go func(c Checker) {
			defer wg.Done()
			cctx, cancel := context.WithTimeout(ctx, checkTimeout)
			defer cancel()

			status := StatusHealthy
			if err := c.Healthy(cctx); err != nil {
				status = StatusUnhealthy
				m.logger.Warn("Health check failed",
					zap.String("component", c.Name()), zap.Error(err))
			}
			mu.Lock()
			out[c.Name()] = status
			mu.Unlock()
		}(c)
	}
	wg.Wait()
	return out
}

// LivenessHandler answers process liveness probes; it never checks
// dependencies.
func LivenessHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
}

// DatabaseChecker pings the connection pool.
type DatabaseChecker struct {
	client *db.Client
}

func NewDatabaseChecker(client *db.Client) *DatabaseChecker {
	return &DatabaseChecker{client: client}
}

func (c *DatabaseChecker) Name() string { return "database" }

func (c *DatabaseChecker) Healthy(ctx context.Context) error {
	return c.client.DB().PingContext(ctx)
}

// RedisChecker pings the event broker.
type RedisChecker struct {
	rdb *redis.Client
}

func NewRedisChecker(rdb *redis.Client) *RedisChecker {
	return &RedisChecker{rdb: rdb}
}

func (c *RedisChecker) Name() string { return "broker" }

func (c *RedisChecker) Healthy(ctx context.Context) error {
	return c.rdb.Ping(ctx).Err()
}

// EngineChecker verifies the workflow engine frontend answers.
type EngineChecker struct {
	tc client.Client
}

func NewEngineChecker(tc client.Client) *EngineChecker {
	return &EngineChecker{tc: tc}
}

func (c *EngineChecker) Name() string { return "workflow_engine" }

func (c *EngineChecker) Healthy(ctx context.Context) error {
	_, err := c.tc.CheckHealth(ctx, &client.CheckHealthRequest{})
	return err
}
