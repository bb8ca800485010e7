package circuitbreaker

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestBreaker(t *testing.T, cfg Config) (*Breaker, *time.Time) {
	t.Helper()
	b := New("test", cfg, zap.NewNop())
	now := time.Now()
	b.now = func() time.Time { return now }
	return b, &now
}

func TestBreakerOpensAfterConsecutiveFailures(t *testing.T) {
	b, _ := newTestBreaker(t, Config{FailureThreshold: 3, SuccessThreshold: 1, OpenTimeout: time.Minute})
	boom := errors.New("boom")

	for i := 0; i < 2; i++ {
		require.ErrorIs(t, b.Do(func() error { return boom }), boom)
		assert.Equal(t, StateClosed, b.State())
	}
	require.ErrorIs(t, b.Do(func() error { return boom }), boom)
	assert.Equal(t, StateOpen, b.State())

	// Calls are rejected without running fn.
	ran := false
	err := b.Do(func() error { ran = true; return nil })
	require.ErrorIs(t, err, ErrOpen)
	assert.False(t, ran)
}

func TestBreakerSuccessResetsFailureCount(t *testing.T) {
	b, _ := newTestBreaker(t, Config{FailureThreshold: 2, SuccessThreshold: 1, OpenTimeout: time.Minute})
	boom := errors.New("boom")

	require.Error(t, b.Do(func() error { return boom }))
	require.NoError(t, b.Do(func() error { return nil }))
	require.Error(t, b.Do(func() error { return boom }))
	assert.Equal(t, StateClosed, b.State(), "non-consecutive failures must not open")
}

func TestBreakerHalfOpenRecovery(t *testing.T) {
	b, now := newTestBreaker(t, Config{FailureThreshold: 1, SuccessThreshold: 2, OpenTimeout: 10 * time.Second})

	require.Error(t, b.Do(func() error { return errors.New("boom") }))
	require.Equal(t, StateOpen, b.State())

	*now = now.Add(11 * time.Second)
	assert.Equal(t, StateHalfOpen, b.State())

	require.NoError(t, b.Do(func() error { return nil }))
	assert.Equal(t, StateHalfOpen, b.State())
	require.NoError(t, b.Do(func() error { return nil }))
	assert.Equal(t, StateClosed, b.State())
}

func TestBreakerHalfOpenFailureReopens(t *testing.T) {
	b, now := newTestBreaker(t, Config{FailureThreshold: 1, SuccessThreshold: 2, OpenTimeout: 10 * time.Second})

	require.Error(t, b.Do(func() error { return errors.New("boom") }))
	*now = now.Add(11 * time.Second)
	require.Equal(t, StateHalfOpen, b.State())

	require.Error(t, b.Do(func() error { return errors.New("still down") }))
	assert.Equal(t, StateOpen, b.State())
}

func TestRoundTripperCountsServerErrors(t *testing.T) {
	var status atomic.Int64
	status.Store(http.StatusInternalServerError)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(int(status.Load()))
	}))
	defer srv.Close()

	b := New("http", Config{FailureThreshold: 2, SuccessThreshold: 1, OpenTimeout: time.Minute}, zap.NewNop())
	client := &http.Client{Transport: NewRoundTripper(b, nil)}

	for i := 0; i < 2; i++ {
		resp, err := client.Get(srv.URL)
		require.NoError(t, err)
		resp.Body.Close()
	}
	assert.Equal(t, StateOpen, b.State())

	_, err := client.Get(srv.URL)
	require.ErrorIs(t, err, ErrOpen)
}

func TestRoundTripperTreatsClientErrorsAsSuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	b := New("http404", Config{FailureThreshold: 1, SuccessThreshold: 1, OpenTimeout: time.Minute}, zap.NewNop())
	client := &http.Client{Transport: NewRoundTripper(b, nil)}

	resp, err := client.Get(srv.URL)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, StateClosed, b.State(), "4xx is the caller's problem, not the downstream's")
}
