package activities

import (
	"context"

	"go.uber.org/zap"

	"github.com/relay-run/relay/internal/db"
	"github.com/relay-run/relay/internal/eventbus"
)

// PublishWorkflowEvents flushes a batch of workflow events to the bus.
// Delivery is best-effort: per-event failures are logged and the activity
// still succeeds, because event publishing must never fail a workflow.
// Event ids come from the workflow, so a retried flush deduplicates at the
// durable log's primary key.
func (a *Activities) PublishWorkflowEvents(ctx context.Context, in PublishEventsInput) error {
	ctx = db.ContextWithScope(ctx, in.Scope.WorkspaceID, in.Scope.UserID)
	for _, e := range in.Events {
		err := a.bus.Publish(ctx, eventbus.Event{
			EventID:     e.EventID,
			TaskID:      in.TaskID,
			WorkspaceID: in.Scope.WorkspaceID,
			EventType:   e.EventType,
			Timestamp:   e.Timestamp,
			Data:        e.Data,
		})
		if err != nil {
			a.logger.Warn("Event publish failed",
				zap.String("task_id", in.TaskID.String()),
				zap.String("event_type", e.EventType),
				zap.Error(err))
		}
	}
	return nil
}

// UpdateTaskStatus writes the task row's status from workflow code.
func (a *Activities) UpdateTaskStatus(ctx context.Context, in UpdateTaskStatusInput) error {
	ctx = db.ContextWithScope(ctx, in.Scope.WorkspaceID, in.Scope.UserID)
	var result db.JSONB
	if in.Result != nil {
		result = db.JSONB(in.Result)
	}
	var errMsg *string
	if in.Error != "" {
		errMsg = &in.Error
	}
	return a.tasks.UpdateStatus(ctx, in.TaskID, in.Status, result, errMsg)
}
