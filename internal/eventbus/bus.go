package eventbus

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/relay-run/relay/internal/db"
	"github.com/relay-run/relay/internal/metrics"
)

// Bus combines the durable event log, the broker, and the in-process
// manager. Publish is called from workflow activities only; workflow code
// stays deterministic.
type Bus struct {
	events  *db.TaskEventRepo
	broker  *Broker
	manager *Manager
	logger  *zap.Logger
}

func NewBus(events *db.TaskEventRepo, broker *Broker, manager *Manager, logger *zap.Logger) *Bus {
	return &Bus{events: events, broker: broker, manager: manager, logger: logger}
}

// Manager exposes the in-process manager for Last-Event-ID SSE replay.
func (b *Bus) Manager() *Manager { return b.manager }

// Publish appends the event durably (exactly-once by event id), then fans it
// out to the broker (at-least-once) and in-process subscribers. The durable
// write is the one that must succeed; fan-out failures are logged and
// swallowed.
func (b *Bus) Publish(ctx context.Context, evt Event) error {
	if evt.EventID == uuid.Nil {
		evt.EventID = uuid.New()
	}
	if evt.Timestamp.IsZero() {
		evt.Timestamp = time.Now().UTC()
	}

	row := &db.TaskEvent{
		ID:        evt.EventID,
		TaskID:    evt.TaskID,
		EventType: evt.EventType,
		Timestamp: evt.Timestamp,
		Data:      db.JSONB(evt.Data),
		Metadata:  db.JSONB(evt.Metadata),
	}
	if err := b.events.Append(ctx, row); err != nil {
		return err
	}
	metrics.EventsPublished.WithLabelValues(evt.EventType).Inc()

	if b.broker != nil {
		if err := b.broker.Publish(ctx, evt); err != nil {
			b.logger.Warn("Broker publish failed",
				zap.String("task_id", evt.TaskID.String()),
				zap.String("event_type", evt.EventType),
				zap.Error(err))
		}
	}
	b.manager.Publish(evt)
	return nil
}

// Subscribe yields the full event stream for a task: all persisted events in
// order, then live events, deduplicated by event id, closing after a
// terminal event or context cancellation.
//
// The ordering trick: open the broker subscription FIRST and buffer into its
// channel, then read the DB snapshot. Events that land between the snapshot
// read and the switch to live delivery are waiting in the buffer and are
// deduplicated by event id.
func (b *Bus) Subscribe(ctx context.Context, taskID uuid.UUID) (<-chan Event, error) {
	var sub *Subscription
	if b.broker != nil {
		var err error
		sub, err = b.broker.Subscribe(ctx, taskID)
		if err != nil {
			return nil, err
		}
	}

	rows, err := b.events.ListByTask(ctx, taskID)
	if err != nil {
		if sub != nil {
			_ = sub.Close()
		}
		return nil, err
	}

	out := make(chan Event, 64)
	go func() {
		defer close(out)
		if sub != nil {
			defer sub.Close()
		}

		seen := make(map[uuid.UUID]struct{}, len(rows))
		emit := func(evt Event) bool {
			if _, dup := seen[evt.EventID]; dup {
				return true
			}
			seen[evt.EventID] = struct{}{}
			select {
			case out <- evt:
			case <-ctx.Done():
				return false
			}
			return !IsTerminal(evt.EventType)
		}

		// Historical replay in (timestamp, insertion) order.
		for _, row := range rows {
			evt := Event{
				EventID:     row.ID,
				TaskID:      row.TaskID,
				WorkspaceID: row.WorkspaceID,
				EventType:   row.EventType,
				Timestamp:   row.Timestamp,
				Data:        map[string]interface{}(row.Data),
				Metadata:    map[string]interface{}(row.Metadata),
			}
			if !emit(evt) {
				return
			}
		}

		if sub == nil {
			return
		}
		// Live continuation; anything buffered during the snapshot read comes
		// first and dedupes against the replay.
		for {
			select {
			case <-ctx.Done():
				return
			case evt, ok := <-sub.Events():
				if !ok {
					return
				}
				if !emit(evt) {
					return
				}
			}
		}
	}()
	return out, nil
}
