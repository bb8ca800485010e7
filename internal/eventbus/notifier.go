package eventbus

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/relay-run/relay/internal/triggers"
)

// DisableReasonFailureThreshold is the reason attached to auto-disable
// notifications.
const DisableReasonFailureThreshold = "consecutive_failures_threshold_exceeded"

// TriggerNotifier broadcasts trigger lifecycle events on the system channel.
// These are workspace-level notifications, not task events, so they bypass
// the durable per-task log.
type TriggerNotifier struct {
	broker *Broker
	logger *zap.Logger
}

func NewTriggerNotifier(broker *Broker, logger *zap.Logger) *TriggerNotifier {
	return &TriggerNotifier{broker: broker, logger: logger}
}

// TriggerAutoDisabled announces that a trigger crossed its failure threshold
// and was disabled. The trigger service guarantees at most one call per
// disable transition.
func (n *TriggerNotifier) TriggerAutoDisabled(ctx context.Context, t *triggers.Trigger, failures int) {
	n.logger.Warn("Trigger auto-disabled",
		zap.String("trigger_id", t.ID.String()),
		zap.String("trigger_name", t.Name),
		zap.String("workspace_id", t.WorkspaceID.String()),
		zap.Int("consecutive_failures", failures),
		zap.Int("threshold", t.FailureThreshold))

	if n.broker == nil {
		return
	}
	evt := Event{
		EventID:     uuid.New(),
		WorkspaceID: t.WorkspaceID,
		EventType:   TypeTriggerAutoDisabled,
		Timestamp:   time.Now().UTC(),
		Data: map[string]interface{}{
			"trigger_id":           t.ID.String(),
			"trigger_name":         t.Name,
			"trigger_kind":         string(t.Kind),
			"reason":               DisableReasonFailureThreshold,
			"consecutive_failures": failures,
			"failure_threshold":    t.FailureThreshold,
		},
	}
	if err := n.broker.PublishSystem(ctx, evt); err != nil {
		n.logger.Warn("System notification publish failed",
			zap.String("trigger_id", t.ID.String()), zap.Error(err))
	}
}
