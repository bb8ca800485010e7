package schedules

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
)

var ErrScheduleNotFound = errors.New("schedule not found")

// TriggerScheduleInput is the payload the engine passes to every scheduled
// trigger execution workflow run. The cadence fields describe the schedule
// as it was when the action was registered; the per-firing scheduled time
// is not known at creation and travels as the engine's scheduled-start-time
// search attribute instead.
type TriggerScheduleInput struct {
	TriggerID      string `json:"trigger_id"`
	WorkspaceID    string `json:"workspace_id"`
	UserID         string `json:"user_id"`
	CronExpression string `json:"cron_expression"`
	Timezone       string `json:"timezone"`
}

// ScheduleID is the deterministic engine schedule id for a cron trigger.
// One trigger maps to exactly one schedule; recreating a trigger's schedule
// is idempotent on this id.
func ScheduleID(triggerID uuid.UUID) string {
	return fmt.Sprintf("cron-trigger-%s", triggerID.String())
}
