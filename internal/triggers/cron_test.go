package triggers

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseCron(t *testing.T) {
	_, err := ParseCron("*/5 * * * *")
	assert.NoError(t, err)

	_, err = ParseCron("30 0 9 * * 1-5")
	assert.NoError(t, err)

	_, err = ParseCron("* * *")
	assert.Error(t, err)

	_, err = ParseCron("99 * * * *")
	assert.Error(t, err)
}

func TestNextRunHonorsTimezone(t *testing.T) {
	// 09:00 daily in New York; from noon UTC the next firing is 14:00 UTC
	// (09:00 EDT) the same day.
	now := time.Date(2026, 6, 15, 12, 0, 0, 0, time.UTC)
	next, err := NextRun("0 9 * * *", "America/New_York", now)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2026, 6, 15, 14, 0, 0, 0, time.UTC), next.UTC())
}

func TestNextRunUnknownTimezoneFallsBackToUTC(t *testing.T) {
	now := time.Date(2026, 6, 15, 8, 30, 0, 0, time.UTC)
	next, err := NextRun("0 9 * * *", "Nowhere/Invalid", now)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2026, 6, 15, 9, 0, 0, 0, time.UTC), next.UTC())
}
