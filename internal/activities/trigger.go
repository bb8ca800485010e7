package activities

import (
	"context"
	"errors"
	"time"

	"github.com/relay-run/relay/internal/db"
	"github.com/relay-run/relay/internal/triggers"
)

// ExecuteScheduledTrigger runs one cron firing end to end through the
// trigger service. The service records the execution row and failure
// bookkeeping; the activity just reports the outcome.
func (a *Activities) ExecuteScheduledTrigger(ctx context.Context, in ExecuteTriggerInput) (*ExecuteTriggerResult, error) {
	ctx = db.ContextWithScope(ctx, in.Scope.WorkspaceID, in.Scope.UserID)

	payload := in.Payload
	if payload == nil {
		payload = map[string]interface{}{}
	}
	if _, ok := payload["execution_time"]; !ok {
		payload["execution_time"] = time.Now().UTC().Format(time.RFC3339)
	}
	payload["source"] = "cron"

	exec, err := a.triggers.Execute(ctx, in.TriggerID, "cron", payload)
	if err != nil {
		// A vanished or disabled trigger is not a retryable engine failure;
		// the schedule will be paused or removed by the reconciler.
		if errors.Is(err, triggers.ErrNotFound) || errors.Is(err, triggers.ErrTriggerInactive) {
			status := triggers.ExecutionFailed
			if exec != nil {
				status = exec.Status
			}
			return &ExecuteTriggerResult{Status: status}, nil
		}
		return nil, err
	}

	res := &ExecuteTriggerResult{Status: exec.Status}
	if exec.TaskID != nil {
		res.TaskID = exec.TaskID.String()
	}
	return res, nil
}
