package workflows

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.temporal.io/sdk/activity"
	"go.temporal.io/sdk/testsuite"

	"github.com/relay-run/relay/internal/activities"
	"github.com/relay-run/relay/internal/schedules"
)

func scheduleInput() schedules.TriggerScheduleInput {
	return schedules.TriggerScheduleInput{
		TriggerID:      uuid.NewString(),
		WorkspaceID:    uuid.NewString(),
		UserID:         uuid.NewString(),
		CronExpression: "0 9 * * 1",
		Timezone:       "America/New_York",
	}
}

func TestTriggerExecutionPassesScheduleContext(t *testing.T) {
	ts := &testsuite.WorkflowTestSuite{}
	env := ts.NewTestWorkflowEnvironment()
	env.RegisterWorkflow(TriggerExecutionWorkflow)

	in := scheduleInput()
	var captured activities.ExecuteTriggerInput
	env.RegisterActivityWithOptions(
		func(ctx context.Context, actIn activities.ExecuteTriggerInput) (*activities.ExecuteTriggerResult, error) {
			captured = actIn
			return &activities.ExecuteTriggerResult{Status: "success", TaskID: uuid.NewString()}, nil
		},
		activity.RegisterOptions{Name: "ExecuteScheduledTrigger"},
	)

	env.ExecuteWorkflow(TriggerExecutionWorkflow, in)
	require.True(t, env.IsWorkflowCompleted())
	require.NoError(t, env.GetWorkflowError())

	assert.Equal(t, in.TriggerID, captured.TriggerID.String())
	assert.Equal(t, in.WorkspaceID, captured.Scope.WorkspaceID.String())
	assert.Equal(t, in.UserID, captured.Scope.UserID.String())
	assert.Equal(t, "0 9 * * 1", captured.Payload["cron_expression"])
	assert.Equal(t, "America/New_York", captured.Payload["timezone"])

	raw, ok := captured.Payload["execution_time"].(string)
	require.True(t, ok, "execution_time present")
	_, err := time.Parse(time.RFC3339, raw)
	assert.NoError(t, err)

	var result activities.ExecuteTriggerResult
	require.NoError(t, env.GetWorkflowResult(&result))
	assert.Equal(t, "success", result.Status)
}

func TestTriggerExecutionRejectsMalformedInput(t *testing.T) {
	ts := &testsuite.WorkflowTestSuite{}
	env := ts.NewTestWorkflowEnvironment()
	env.RegisterWorkflow(TriggerExecutionWorkflow)

	in := scheduleInput()
	in.TriggerID = "not-a-uuid"

	env.ExecuteWorkflow(TriggerExecutionWorkflow, in)
	require.True(t, env.IsWorkflowCompleted())
	require.Error(t, env.GetWorkflowError())
	assert.Contains(t, env.GetWorkflowError().Error(), "invalid trigger id")
}
