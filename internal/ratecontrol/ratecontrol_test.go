package ratecontrol

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestAllowWithinBurst(t *testing.T) {
	l := New(1, 3, time.Minute)

	for i := 0; i < 3; i++ {
		assert.True(t, l.Allow("hook-a"), "request %d should fit in the burst", i)
	}
	assert.False(t, l.Allow("hook-a"))
}

func TestKeysAreIndependent(t *testing.T) {
	l := New(1, 1, time.Minute)

	assert.True(t, l.Allow("hook-a"))
	assert.False(t, l.Allow("hook-a"))
	assert.True(t, l.Allow("hook-b"), "exhausting one key must not affect another")
}

func TestRefillOverTime(t *testing.T) {
	l := New(10, 1, time.Minute)
	now := time.Now()
	l.now = func() time.Time { return now }

	assert.True(t, l.Allow("hook-a"))
	assert.False(t, l.Allow("hook-a"))

	now = now.Add(150 * time.Millisecond) // 10 rps refills one token in 100ms
	assert.True(t, l.Allow("hook-a"))
}

func TestIdleEviction(t *testing.T) {
	l := New(1, 1, time.Minute)
	now := time.Now()
	l.now = func() time.Time { return now }

	l.Allow("hook-a")
	l.Allow("hook-b")
	assert.Equal(t, 2, l.Len())

	now = now.Add(2 * time.Minute)
	l.Allow("hook-c") // new key triggers the sweep
	assert.Equal(t, 1, l.Len())
}
