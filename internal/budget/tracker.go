// Package budget tracks per-workflow LLM spend. The tracker lives inside
// workflow state, so it must stay deterministic: pure arithmetic, no clock,
// no I/O.
package budget

const (
	// DefaultBudgetUSD applies when a task carries no explicit budget.
	DefaultBudgetUSD = 10.0
	// DefaultWarnAt is the fraction of budget that triggers a warning event.
	DefaultWarnAt = 0.8
)

// Tracker accumulates cost against a fixed budget. Budget is checked
// between iterations, not mid-call: the call that crosses the line
// completes and its cost is recorded.
type Tracker struct {
	BudgetUSD float64 `json:"budget_usd"`
	WarnAt    float64 `json:"warn_at"`
	SpentUSD  float64 `json:"spent_usd"`

	warned bool
}

// NewTracker builds a tracker, substituting defaults for zero values.
func NewTracker(budgetUSD, warnAt float64) *Tracker {
	if budgetUSD <= 0 {
		budgetUSD = DefaultBudgetUSD
	}
	if warnAt <= 0 || warnAt >= 1 {
		warnAt = DefaultWarnAt
	}
	return &Tracker{BudgetUSD: budgetUSD, WarnAt: warnAt}
}

// Add records spend and reports whether the warning threshold was crossed
// by this addition. The warning fires once per tracker.
func (t *Tracker) Add(costUSD float64) (warned bool) {
	if costUSD < 0 {
		costUSD = 0
	}
	t.SpentUSD += costUSD
	if !t.warned && t.SpentUSD >= t.BudgetUSD*t.WarnAt {
		t.warned = true
		return true
	}
	return false
}

// IsExceeded reports whether spend has reached the budget.
func (t *Tracker) IsExceeded() bool {
	return t.SpentUSD >= t.BudgetUSD
}

// Remaining returns the unspent budget, floored at zero.
func (t *Tracker) Remaining() float64 {
	if r := t.BudgetUSD - t.SpentUSD; r > 0 {
		return r
	}
	return 0
}
