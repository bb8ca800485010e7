package workflows

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/workflow"

	"github.com/relay-run/relay/internal/activities"
	"github.com/relay-run/relay/internal/schedules"
)

// scheduledStartTimeKey is the search attribute the engine stamps on every
// schedule-started run.
var scheduledStartTimeKey = temporal.NewSearchAttributeKeyTime("TemporalScheduledStartTime")

// TriggerExecutionWorkflow is the action behind every cron trigger
// schedule. Each firing gets its own run; the heavy lifting happens in one
// activity so the firing is retried as a unit and recorded exactly once by
// the trigger service.
func TriggerExecutionWorkflow(ctx workflow.Context, in schedules.TriggerScheduleInput) (*activities.ExecuteTriggerResult, error) {
	logger := workflow.GetLogger(ctx)

	triggerID, err := uuid.Parse(in.TriggerID)
	if err != nil {
		return nil, fmt.Errorf("invalid trigger id %q: %w", in.TriggerID, err)
	}
	workspaceID, err := uuid.Parse(in.WorkspaceID)
	if err != nil {
		return nil, fmt.Errorf("invalid workspace id %q: %w", in.WorkspaceID, err)
	}
	userID, err := uuid.Parse(in.UserID)
	if err != nil {
		return nil, fmt.Errorf("invalid user id %q: %w", in.UserID, err)
	}

	// The schedule's action args are fixed at creation, so the per-firing
	// time comes from the engine's scheduled-start-time attribute; a run
	// started outside a schedule falls back to its own start time.
	scheduled := workflow.Now(ctx).UTC()
	if at, ok := workflow.GetTypedSearchAttributes(ctx).GetTime(scheduledStartTimeKey); ok {
		scheduled = at.UTC()
	}

	actCtx := workflow.WithActivityOptions(ctx, workflow.ActivityOptions{
		StartToCloseTimeout: 2 * time.Minute,
		RetryPolicy:         &temporal.RetryPolicy{MaximumAttempts: 3},
	})

	var result activities.ExecuteTriggerResult
	err = workflow.ExecuteActivity(actCtx, "ExecuteScheduledTrigger", activities.ExecuteTriggerInput{
		TriggerID: triggerID,
		Scope:     activities.Scope{WorkspaceID: workspaceID, UserID: userID},
		Payload: map[string]interface{}{
			"execution_time":  scheduled.Format(time.RFC3339),
			"cron_expression": in.CronExpression,
			"timezone":        in.Timezone,
		},
	}).Get(ctx, &result)
	if err != nil {
		logger.Error("Scheduled trigger execution failed",
			"trigger_id", in.TriggerID, "error", err)
		return nil, err
	}

	logger.Info("Scheduled trigger executed",
		"trigger_id", in.TriggerID,
		"status", result.Status,
		"task_id", result.TaskID)
	return &result, nil
}
