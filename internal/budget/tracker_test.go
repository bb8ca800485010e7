package budget

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTrackerDefaults(t *testing.T) {
	tr := NewTracker(0, 0)
	assert.Equal(t, DefaultBudgetUSD, tr.BudgetUSD)
	assert.Equal(t, DefaultWarnAt, tr.WarnAt)
	assert.False(t, tr.IsExceeded())
}

func TestTrackerWarnsOncePerThreshold(t *testing.T) {
	tr := NewTracker(1.0, 0.8)

	assert.False(t, tr.Add(0.5))
	assert.False(t, tr.IsExceeded())

	assert.True(t, tr.Add(0.35), "crossing 0.8 warns")
	assert.False(t, tr.Add(0.05), "warning fires only once")
	assert.False(t, tr.IsExceeded())

	tr.Add(0.2)
	assert.True(t, tr.IsExceeded())
	assert.Zero(t, tr.Remaining())
}

func TestTrackerOverBudgetCallStillRecorded(t *testing.T) {
	tr := NewTracker(0.001, 0.8)
	tr.Add(0.0005)
	assert.False(t, tr.IsExceeded())
	tr.Add(0.0005)
	assert.True(t, tr.IsExceeded())
	assert.InDelta(t, 0.001, tr.SpentUSD, 1e-9)
}

func TestTrackerNegativeCostIgnored(t *testing.T) {
	tr := NewTracker(1.0, 0.8)
	tr.Add(-5)
	assert.Zero(t, tr.SpentUSD)
}
