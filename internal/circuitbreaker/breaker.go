// Package circuitbreaker guards outbound calls to the LLM and tool services
// so a dead downstream fails fast instead of tying up activity slots.
package circuitbreaker

import (
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/relay-run/relay/internal/metrics"
)

type State int

const (
	StateClosed State = iota
	StateHalfOpen
	StateOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateHalfOpen:
		return "half-open"
	case StateOpen:
		return "open"
	default:
		return "unknown"
	}
}

// ErrOpen is returned without touching the downstream while the breaker is
// open.
var ErrOpen = errors.New("circuit breaker is open")

type Config struct {
	FailureThreshold int           // consecutive failures that open the breaker
	SuccessThreshold int           // half-open successes that close it again
	OpenTimeout      time.Duration // time open before probing half-open
}

func DefaultConfig() Config {
	return Config{
		FailureThreshold: 5,
		SuccessThreshold: 2,
		OpenTimeout:      30 * time.Second,
	}
}

// Breaker is a consecutive-failure breaker. Closed counts failures; open
// rejects everything until OpenTimeout passes; half-open lets probes through
// and closes after SuccessThreshold consecutive successes.
type Breaker struct {
	name   string
	cfg    Config
	logger *zap.Logger

	mu        sync.Mutex
	state     State
	failures  int
	successes int
	openedAt  time.Time
	now       func() time.Time // stubbed in tests
}

func New(name string, cfg Config, logger *zap.Logger) *Breaker {
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = DefaultConfig().FailureThreshold
	}
	if cfg.SuccessThreshold <= 0 {
		cfg.SuccessThreshold = DefaultConfig().SuccessThreshold
	}
	if cfg.OpenTimeout <= 0 {
		cfg.OpenTimeout = DefaultConfig().OpenTimeout
	}
	b := &Breaker{name: name, cfg: cfg, logger: logger, now: time.Now}
	metrics.CircuitBreakerState.WithLabelValues(name).Set(float64(StateClosed))
	return b
}

// Do runs fn under the breaker. fn's error both propagates and counts
// against the failure threshold.
func (b *Breaker) Do(fn func() error) error {
	if err := b.allow(); err != nil {
		return err
	}
	err := fn()
	b.record(err == nil)
	return err
}

// State reports the current state, applying the open->half-open transition
// if the timeout has elapsed.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.maybeHalfOpen()
	return b.state
}

func (b *Breaker) allow() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.maybeHalfOpen()
	if b.state == StateOpen {
		return fmt.Errorf("%s: %w", b.name, ErrOpen)
	}
	return nil
}

func (b *Breaker) maybeHalfOpen() {
	if b.state == StateOpen && b.now().Sub(b.openedAt) >= b.cfg.OpenTimeout {
		b.transition(StateHalfOpen)
	}
}

func (b *Breaker) record(ok bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if ok {
		b.failures = 0
		if b.state == StateHalfOpen {
			b.successes++
			if b.successes >= b.cfg.SuccessThreshold {
				b.transition(StateClosed)
			}
		}
		return
	}

	b.successes = 0
	switch b.state {
	case StateHalfOpen:
		b.transition(StateOpen)
	case StateClosed:
		b.failures++
		if b.failures >= b.cfg.FailureThreshold {
			b.transition(StateOpen)
		}
	}
}

// transition must be called with the lock held.
func (b *Breaker) transition(to State) {
	from := b.state
	b.state = to
	b.failures = 0
	b.successes = 0
	if to == StateOpen {
		b.openedAt = b.now()
	}
	metrics.CircuitBreakerState.WithLabelValues(b.name).Set(float64(to))
	b.logger.Warn("Circuit breaker state change",
		zap.String("breaker", b.name),
		zap.String("from", from.String()),
		zap.String("to", to.String()))
}

// RoundTripper applies a breaker to an HTTP transport. Transport errors and
// 5xx responses count as failures.
type RoundTripper struct {
	breaker *Breaker
	base    http.RoundTripper
}

func NewRoundTripper(breaker *Breaker, base http.RoundTripper) *RoundTripper {
	if base == nil {
		base = http.DefaultTransport
	}
	return &RoundTripper{breaker: breaker, base: base}
}

func (rt *RoundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	if err := rt.breaker.allow(); err != nil {
		return nil, err
	}
	resp, err := rt.base.RoundTrip(req)
	rt.breaker.record(err == nil && resp.StatusCode < http.StatusInternalServerError)
	return resp, err
}
