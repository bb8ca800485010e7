package schedules

import (
	"context"
	"errors"
	"strings"
	"time"

	"go.temporal.io/sdk/client"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/relay-run/relay/internal/metrics"
	"github.com/relay-run/relay/internal/triggers"
)

const scheduleIDPrefix = "cron-trigger-"

// Reconciler periodically converges the engine's schedules with the trigger
// store: active cron triggers missing their schedule get one recreated, and
// engine schedules whose trigger is gone are removed. Engine calls are rate
// limited so a large sweep cannot saturate the frontend.
type Reconciler struct {
	manager  *Manager
	store    *triggers.Store
	interval time.Duration
	limiter  *rate.Limiter
	logger   *zap.Logger
}

func NewReconciler(manager *Manager, store *triggers.Store, interval time.Duration, logger *zap.Logger) *Reconciler {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	return &Reconciler{
		manager:  manager,
		store:    store,
		interval: interval,
		limiter:  rate.NewLimiter(rate.Limit(20), 5),
		logger:   logger,
	}
}

// Run sweeps until the context is cancelled. Intended as a goroutine from
// service startup.
func (r *Reconciler) Run(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	// One sweep at startup covers schedules lost while the service was down.
	r.sweep(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.sweep(ctx)
		}
	}
}

func (r *Reconciler) sweep(ctx context.Context) {
	active, err := r.store.ListActiveCronAll(ctx)
	if err != nil {
		r.logger.Error("Reconciler failed to list cron triggers", zap.Error(err))
		return
	}

	wanted := make(map[string]*triggers.Trigger, len(active))
	for _, t := range active {
		wanted[ScheduleID(t.ID)] = t
	}

	existing, err := r.listEngineSchedules(ctx)
	if err != nil {
		r.logger.Error("Reconciler failed to list engine schedules", zap.Error(err))
		return
	}

	created, removed := 0, 0
	for id, t := range wanted {
		if _, ok := existing[id]; ok {
			metrics.ScheduleReconciliations.WithLabelValues("noop").Inc()
			continue
		}
		if err := r.limiter.Wait(ctx); err != nil {
			return
		}
		if err := r.manager.CreateSchedule(ctx, t); err != nil {
			r.logger.Error("Reconciler failed to recreate schedule",
				zap.String("trigger_id", t.ID.String()), zap.Error(err))
			continue
		}
		metrics.ScheduleReconciliations.WithLabelValues("created").Inc()
		created++
	}

	for id := range existing {
		if _, ok := wanted[id]; ok {
			continue
		}
		if err := r.limiter.Wait(ctx); err != nil {
			return
		}
		handle := r.manager.temporalClient.ScheduleClient().GetHandle(ctx, id)
		if err := handle.Delete(ctx); err != nil && !isNotFound(err) {
			r.logger.Warn("Reconciler failed to remove orphaned schedule",
				zap.String("schedule_id", id), zap.Error(err))
			continue
		}
		metrics.ScheduleReconciliations.WithLabelValues("orphan_removed").Inc()
		removed++
	}

	if created > 0 || removed > 0 {
		r.logger.Info("Schedule reconciliation complete",
			zap.Int("recreated", created),
			zap.Int("orphans_removed", removed),
			zap.Int("active_triggers", len(active)))
	}
}

// listEngineSchedules returns the ids of all trigger-owned engine schedules.
func (r *Reconciler) listEngineSchedules(ctx context.Context) (map[string]struct{}, error) {
	iter, err := r.manager.temporalClient.ScheduleClient().List(ctx, client.ScheduleListOptions{
		PageSize: 100,
	})
	if err != nil {
		return nil, err
	}
	out := make(map[string]struct{})
	for iter.HasNext() {
		entry, err := iter.Next()
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return nil, err
			}
			r.logger.Warn("Schedule list iteration error", zap.Error(err))
			break
		}
		if strings.HasPrefix(entry.ID, scheduleIDPrefix) {
			out[entry.ID] = struct{}{}
		}
	}
	return out, nil
}
