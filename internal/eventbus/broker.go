package eventbus

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Broker fans events out across processes via Redis pub/sub, one channel per
// task. Delivery is at-least-once; subscribers deduplicate by event id.
type Broker struct {
	rdb    *redis.Client
	logger *zap.Logger
}

func NewBroker(rdb *redis.Client, logger *zap.Logger) *Broker {
	return &Broker{rdb: rdb, logger: logger}
}

// systemChannel carries workspace-level notifications (trigger lifecycle)
// that have no owning task.
const systemChannel = "relay:system:events"

func channelFor(taskID uuid.UUID) string {
	return fmt.Sprintf("relay:task:%s:events", taskID)
}

// Publish sends the event envelope to the task channel.
func (b *Broker) Publish(ctx context.Context, evt Event) error {
	if err := b.rdb.Publish(ctx, channelFor(evt.TaskID), evt.Marshal()).Err(); err != nil {
		return fmt.Errorf("broker publish: %w", err)
	}
	return nil
}

// PublishSystem sends the event to the shared system channel.
func (b *Broker) PublishSystem(ctx context.Context, evt Event) error {
	if err := b.rdb.Publish(ctx, systemChannel, evt.Marshal()).Err(); err != nil {
		return fmt.Errorf("system publish: %w", err)
	}
	return nil
}

// SubscribeSystem opens a live subscription to the system channel.
func (b *Broker) SubscribeSystem(ctx context.Context) (*Subscription, error) {
	return b.subscribe(ctx, systemChannel)
}

// Subscription is a live broker subscription for one task.
type Subscription struct {
	pubsub *redis.PubSub
	events chan Event
}

// Events yields decoded events until the subscription closes.
func (s *Subscription) Events() <-chan Event { return s.events }

// Close tears the subscription down.
func (s *Subscription) Close() error { return s.pubsub.Close() }

// Subscribe opens a live subscription filtered to one task id. It returns
// after the subscription is confirmed, so no event published afterwards is
// missed.
func (b *Broker) Subscribe(ctx context.Context, taskID uuid.UUID) (*Subscription, error) {
	return b.subscribe(ctx, channelFor(taskID))
}

func (b *Broker) subscribe(ctx context.Context, channel string) (*Subscription, error) {
	pubsub := b.rdb.Subscribe(ctx, channel)
	// Receive forces the SUBSCRIBE round-trip; from here on the channel is live.
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, fmt.Errorf("broker subscribe: %w", err)
	}

	sub := &Subscription{pubsub: pubsub, events: make(chan Event, 256)}
	go func() {
		defer close(sub.events)
		for msg := range pubsub.Channel() {
			var evt Event
			if err := json.Unmarshal([]byte(msg.Payload), &evt); err != nil {
				b.logger.Warn("Dropping undecodable broker event",
					zap.String("channel", channel), zap.Error(err))
				continue
			}
			select {
			case sub.events <- evt:
			case <-ctx.Done():
				return
			}
		}
	}()
	return sub, nil
}
