package schedules

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	enumspb "go.temporal.io/api/enums/v1"
	"go.temporal.io/api/serviceerror"
	"go.temporal.io/sdk/client"
	"go.temporal.io/sdk/temporal"
	"go.uber.org/zap"

	"github.com/relay-run/relay/internal/triggers"
)

// Config holds schedule manager configuration.
type Config struct {
	TaskQueue  string        // trigger execution queue
	RunTimeout time.Duration // per-firing workflow run timeout
}

// Manager mirrors cron triggers into the workflow engine's native
// scheduler. Timer state lives in the engine; the trigger row is the
// source of truth for what should be scheduled.
type Manager struct {
	temporalClient client.Client
	config         Config
	logger         *zap.Logger
}

func NewManager(tc client.Client, cfg Config, logger *zap.Logger) *Manager {
	if cfg.RunTimeout == 0 {
		cfg.RunTimeout = 15 * time.Minute
	}
	return &Manager{temporalClient: tc, config: cfg, logger: logger}
}

// CreateSchedule registers the engine schedule for a cron trigger. The
// schedule id is deterministic per trigger, so a retry after a partial
// create is idempotent.
func (m *Manager) CreateSchedule(ctx context.Context, t *triggers.Trigger) error {
	if t.CronExpression == nil {
		return fmt.Errorf("trigger %s has no cron expression", t.ID)
	}
	timezone := "UTC"
	if t.Timezone != nil && *t.Timezone != "" {
		timezone = *t.Timezone
	}

	_, err := m.temporalClient.ScheduleClient().Create(ctx, client.ScheduleOptions{
		ID: ScheduleID(t.ID),
		Spec: client.ScheduleSpec{
			CronExpressions: []string{*t.CronExpression},
			TimeZoneName:    timezone,
		},
		Action: &client.ScheduleWorkflowAction{
			// Workflow ID omitted: the engine generates a unique id per run,
			// giving each firing its own history.
			Workflow:           "TriggerExecutionWorkflow",
			TaskQueue:          m.config.TaskQueue,
			WorkflowRunTimeout: m.config.RunTimeout,
			Args: []interface{}{
				TriggerScheduleInput{
					TriggerID:      t.ID.String(),
					WorkspaceID:    t.WorkspaceID.String(),
					UserID:         t.CreatedBy.String(),
					CronExpression: *t.CronExpression,
					Timezone:       timezone,
				},
			},
			Memo: map[string]interface{}{
				"trigger_id":   t.ID.String(),
				"workspace_id": t.WorkspaceID.String(),
			},
		},
		// Overlapping firings skip rather than pile up behind a slow run.
		Overlap: enumspb.SCHEDULE_OVERLAP_POLICY_SKIP,
		Paused:  !t.IsActive,
	})
	if err != nil {
		if errors.Is(err, temporal.ErrScheduleAlreadyRunning) {
			m.logger.Debug("Schedule already exists",
				zap.String("trigger_id", t.ID.String()))
			return nil
		}
		return fmt.Errorf("create engine schedule: %w", err)
	}

	m.logger.Info("Schedule created",
		zap.String("trigger_id", t.ID.String()),
		zap.String("schedule_id", ScheduleID(t.ID)),
		zap.String("cron", *t.CronExpression),
		zap.String("timezone", timezone))
	return nil
}

// UpdateSchedule pushes a changed cron expression or timezone to the engine.
func (m *Manager) UpdateSchedule(ctx context.Context, t *triggers.Trigger) error {
	if t.CronExpression == nil {
		return fmt.Errorf("trigger %s has no cron expression", t.ID)
	}
	timezone := "UTC"
	if t.Timezone != nil && *t.Timezone != "" {
		timezone = *t.Timezone
	}

	handle := m.temporalClient.ScheduleClient().GetHandle(ctx, ScheduleID(t.ID))
	err := handle.Update(ctx, client.ScheduleUpdateOptions{
		DoUpdate: func(input client.ScheduleUpdateInput) (*client.ScheduleUpdate, error) {
			spec := input.Description.Schedule.Spec
			if spec == nil {
				spec = &client.ScheduleSpec{}
			}
			// Describe returns compiled calendar specs; clear them so stale
			// firing times do not merge with the new expression.
			spec.Calendars = nil
			spec.Intervals = nil
			spec.CronExpressions = []string{*t.CronExpression}
			spec.TimeZoneName = timezone
			input.Description.Schedule.Spec = spec
			// Keep the cadence the action args advertise in step with the
			// new expression.
			if act, ok := input.Description.Schedule.Action.(*client.ScheduleWorkflowAction); ok {
				act.Args = []interface{}{
					TriggerScheduleInput{
						TriggerID:      t.ID.String(),
						WorkspaceID:    t.WorkspaceID.String(),
						UserID:         t.CreatedBy.String(),
						CronExpression: *t.CronExpression,
						Timezone:       timezone,
					},
				}
			}
			return &client.ScheduleUpdate{Schedule: &input.Description.Schedule}, nil
		},
	})
	if err != nil {
		if isNotFound(err) {
			// The schedule vanished out from under us; recreate from the row.
			return m.CreateSchedule(ctx, t)
		}
		return fmt.Errorf("update engine schedule: %w", err)
	}

	m.logger.Info("Schedule updated",
		zap.String("trigger_id", t.ID.String()),
		zap.String("cron", *t.CronExpression))
	return nil
}

// PauseSchedule stops future firings without losing the cadence.
func (m *Manager) PauseSchedule(ctx context.Context, triggerID uuid.UUID) error {
	handle := m.temporalClient.ScheduleClient().GetHandle(ctx, ScheduleID(triggerID))
	if err := handle.Pause(ctx, client.SchedulePauseOptions{Note: "trigger disabled"}); err != nil {
		if isNotFound(err) {
			return ErrScheduleNotFound
		}
		return fmt.Errorf("pause engine schedule: %w", err)
	}
	return nil
}

// UnpauseSchedule resumes firings for a re-enabled trigger.
func (m *Manager) UnpauseSchedule(ctx context.Context, triggerID uuid.UUID) error {
	handle := m.temporalClient.ScheduleClient().GetHandle(ctx, ScheduleID(triggerID))
	if err := handle.Unpause(ctx, client.ScheduleUnpauseOptions{Note: "trigger enabled"}); err != nil {
		if isNotFound(err) {
			return ErrScheduleNotFound
		}
		return fmt.Errorf("unpause engine schedule: %w", err)
	}
	return nil
}

// DeleteSchedule removes the engine schedule. An already-absent schedule is
// success; trigger deletion must not fail on a half-cleaned engine.
func (m *Manager) DeleteSchedule(ctx context.Context, triggerID uuid.UUID) error {
	handle := m.temporalClient.ScheduleClient().GetHandle(ctx, ScheduleID(triggerID))
	if err := handle.Delete(ctx); err != nil {
		if isNotFound(err) {
			m.logger.Debug("Schedule already absent",
				zap.String("trigger_id", triggerID.String()))
			return nil
		}
		return fmt.Errorf("delete engine schedule: %w", err)
	}
	m.logger.Info("Schedule deleted",
		zap.String("trigger_id", triggerID.String()))
	return nil
}

// Describe returns the engine's view of a trigger's schedule, including the
// authoritative next firing times.
func (m *Manager) Describe(ctx context.Context, triggerID uuid.UUID) (*client.ScheduleDescription, error) {
	handle := m.temporalClient.ScheduleClient().GetHandle(ctx, ScheduleID(triggerID))
	desc, err := handle.Describe(ctx)
	if err != nil {
		if isNotFound(err) {
			return nil, ErrScheduleNotFound
		}
		return nil, fmt.Errorf("describe engine schedule: %w", err)
	}
	return desc, nil
}

// NextActionTime returns the engine's next firing for diagnostics, or nil
// when the schedule is paused or exhausted.
func (m *Manager) NextActionTime(ctx context.Context, triggerID uuid.UUID) (*time.Time, error) {
	desc, err := m.Describe(ctx, triggerID)
	if err != nil {
		return nil, err
	}
	if len(desc.Info.NextActionTimes) == 0 {
		return nil, nil
	}
	next := desc.Info.NextActionTimes[0]
	return &next, nil
}

func isNotFound(err error) bool {
	var nf *serviceerror.NotFound
	return errors.As(err, &nf)
}
