package workflows

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/workflow"

	"github.com/relay-run/relay/internal/activities"
)

const maxRecentEvents = 200

// eventIDNamespace seeds deterministic per-run event ids.
var eventIDNamespace = uuid.MustParse("9f2c1a54-7b1e-4c14-9a91-3b6fb8d2f1aa")

// Emitter accumulates workflow events and flushes them through the
// PublishWorkflowEvents activity. Event ids are derived from the run id and
// a monotonic counter, so replays and flush retries produce identical ids
// and the durable log deduplicates.
type Emitter struct {
	taskID  uuid.UUID
	scope   activities.Scope
	runID   string
	counter int

	pending []activities.WorkflowEvent
	recent  []activities.WorkflowEvent
}

func NewEmitter(ctx workflow.Context, taskID uuid.UUID, scope activities.Scope) *Emitter {
	return &Emitter{
		taskID: taskID,
		scope:  scope,
		runID:  workflow.GetInfo(ctx).WorkflowExecution.RunID,
	}
}

// Emit queues one event. Data may be nil.
func (e *Emitter) Emit(ctx workflow.Context, eventType string, data map[string]interface{}) {
	e.counter++
	evt := activities.WorkflowEvent{
		EventID:   uuid.NewSHA1(eventIDNamespace, []byte(fmt.Sprintf("%s/%d", e.runID, e.counter))),
		EventType: eventType,
		Timestamp: workflow.Now(ctx).UTC(),
		Data:      data,
	}
	e.pending = append(e.pending, evt)
	e.recent = append(e.recent, evt)
	if len(e.recent) > maxRecentEvents {
		e.recent = e.recent[len(e.recent)-maxRecentEvents:]
	}
}

// Flush publishes pending events fire-and-forget: one attempt, short
// timeout, failure logged and dropped.
func (e *Emitter) Flush(ctx workflow.Context) {
	if len(e.pending) == 0 {
		return
	}
	batch := e.pending
	e.pending = nil

	actCtx := workflow.WithActivityOptions(ctx, workflow.ActivityOptions{
		StartToCloseTimeout: 5 * time.Second,
		RetryPolicy:         &temporal.RetryPolicy{MaximumAttempts: 1},
	})
	err := workflow.ExecuteActivity(actCtx, "PublishWorkflowEvents", activities.PublishEventsInput{
		TaskID: e.taskID,
		Scope:  e.scope,
		Events: batch,
	}).Get(ctx, nil)
	if err != nil {
		workflow.GetLogger(ctx).Warn("Event flush failed, dropping batch",
			"count", len(batch), "error", err)
	}
}

// Latest returns up to limit recent events, newest last.
func (e *Emitter) Latest(limit int) []activities.WorkflowEvent {
	if limit <= 0 || limit >= len(e.recent) {
		return e.recent
	}
	return e.recent[len(e.recent)-limit:]
}

// All returns every retained event.
func (e *Emitter) All() []activities.WorkflowEvent {
	return e.recent
}
