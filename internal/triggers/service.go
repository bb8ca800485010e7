package triggers

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/relay-run/relay/internal/db"
	"github.com/relay-run/relay/internal/metrics"
)

// ScheduleManager mirrors a cron trigger's lifecycle into the workflow
// engine's native scheduler.
type ScheduleManager interface {
	CreateSchedule(ctx context.Context, t *Trigger) error
	UpdateSchedule(ctx context.Context, t *Trigger) error
	PauseSchedule(ctx context.Context, triggerID uuid.UUID) error
	UnpauseSchedule(ctx context.Context, triggerID uuid.UUID) error
	// DeleteSchedule treats an already-absent schedule as success.
	DeleteSchedule(ctx context.Context, triggerID uuid.UUID) error
}

// LaunchRequest asks the task layer to create and start one agent task on
// behalf of a trigger firing.
type LaunchRequest struct {
	WorkspaceID uuid.UUID
	UserID      uuid.UUID
	AgentID     uuid.UUID
	TriggerID   uuid.UUID
	Source      string
	Parameters  map[string]interface{}
	Payload     map[string]interface{}
}

// LaunchResult identifies the created task and its workflow execution.
type LaunchResult struct {
	TaskID     uuid.UUID
	WorkflowID string
	RunID      string
}

// TaskLauncher starts agent tasks for trigger firings.
type TaskLauncher interface {
	Launch(ctx context.Context, req LaunchRequest) (*LaunchResult, error)
}

// AgentDirectory validates agent references at trigger creation.
type AgentDirectory interface {
	Exists(ctx context.Context, agentID uuid.UUID) error
}

// Notifier publishes trigger lifecycle notifications. Trigger events carry
// no task id and bypass the per-task event log.
type Notifier interface {
	TriggerAutoDisabled(ctx context.Context, t *Trigger, failures int)
}

// Service owns trigger lifecycle and execution dispatch.
type Service struct {
	store      *Store
	schedules  ScheduleManager
	launcher   TaskLauncher
	agents     AgentDirectory
	conditions *ConditionEvaluator
	notifier   Notifier
	logger     *zap.Logger
}

func NewService(store *Store, schedules ScheduleManager, launcher TaskLauncher, agents AgentDirectory, conditions *ConditionEvaluator, notifier Notifier, logger *zap.Logger) *Service {
	return &Service{
		store:      store,
		schedules:  schedules,
		launcher:   launcher,
		agents:     agents,
		conditions: conditions,
		notifier:   notifier,
		logger:     logger,
	}
}

func (s *Service) Store() *Store { return s.store }

// Create validates the input, persists the trigger, and for cron triggers
// registers the engine schedule. Triggers are created active.
func (s *Service) Create(ctx context.Context, in *Create) (*Trigger, error) {
	if err := in.Validate(); err != nil {
		return nil, err
	}
	if err := s.agents.Exists(ctx, in.AgentID); err != nil {
		if err == db.ErrNotFound {
			return nil, &ValidationError{Field: "agent_id", Message: "unknown agent"}
		}
		return nil, err
	}

	t := &Trigger{
		Kind:             in.Kind,
		Name:             in.Name,
		Description:      in.Description,
		AgentID:          in.AgentID,
		IsActive:         true,
		TaskParameters:   db.JSONB(in.TaskParameters),
		Conditions:       db.JSONB(in.Conditions),
		FailureThreshold: in.FailureThreshold,
	}
	switch in.Kind {
	case KindCron:
		expr, tz := in.CronExpression, in.Timezone
		t.CronExpression = &expr
		t.Timezone = &tz
		if next, err := NextRun(expr, tz, time.Now()); err == nil {
			t.NextRunTime = &next
		}
	case KindWebhook:
		id := in.WebhookID
		t.WebhookID = &id
		t.AllowedMethods = NormalizedMethods(in.AllowedMethods)
		wt := in.WebhookType
		if wt == "" {
			wt = WebhookTypeGeneric
		}
		t.WebhookType = &wt
		t.ValidationRules = db.JSONB(in.ValidationRules)
		t.WebhookConfig = db.JSONB(in.WebhookConfig)
	}

	if err := s.store.Create(ctx, t); err != nil {
		return nil, err
	}

	if t.Kind == KindCron {
		// Scheduling failure does not roll back the row; the reconciler
		// recreates missing schedules on its next sweep.
		if err := s.schedules.CreateSchedule(ctx, t); err != nil {
			s.logger.Error("Failed to create engine schedule, reconciler will retry",
				zap.String("trigger_id", t.ID.String()), zap.Error(err))
		}
	}

	s.logger.Info("Trigger created",
		zap.String("trigger_id", t.ID.String()),
		zap.String("kind", string(t.Kind)),
		zap.String("name", t.Name))
	return t, nil
}

func (s *Service) Get(ctx context.Context, id uuid.UUID) (*Trigger, error) {
	return s.store.Get(ctx, id)
}

// LookupWebhook resolves a public webhook id to its triggers for the router.
func (s *Service) LookupWebhook(ctx context.Context, webhookID string) ([]*Trigger, error) {
	return s.store.LookupWebhook(ctx, webhookID)
}

func (s *Service) List(ctx context.Context, f Filter) ([]*Trigger, error) {
	return s.store.List(ctx, f)
}

// Update applies a partial update. Kind, agent and webhook_id are immutable;
// cron changes propagate to the engine schedule.
func (s *Service) Update(ctx context.Context, id uuid.UUID, in *Update) (*Trigger, error) {
	t, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	cronChanged := false
	if in.Name != nil {
		t.Name = *in.Name
	}
	if in.Description != nil {
		t.Description = *in.Description
	}
	if in.TaskParameters != nil {
		t.TaskParameters = db.JSONB(*in.TaskParameters)
	}
	if in.Conditions != nil {
		t.Conditions = db.JSONB(*in.Conditions)
	}
	if in.FailureThreshold != nil {
		t.FailureThreshold = *in.FailureThreshold
	}
	if in.CronExpression != nil {
		if t.Kind != KindCron {
			return nil, &ValidationError{Field: "cron_expression", Message: "not a cron trigger"}
		}
		if err := ValidateCronExpression(*in.CronExpression); err != nil {
			return nil, err
		}
		t.CronExpression = in.CronExpression
		cronChanged = true
	}
	if in.Timezone != nil {
		if t.Kind != KindCron {
			return nil, &ValidationError{Field: "timezone", Message: "not a cron trigger"}
		}
		if _, err := time.LoadLocation(*in.Timezone); err != nil {
			return nil, &ValidationError{Field: "timezone", Message: fmt.Sprintf("unknown IANA timezone %q", *in.Timezone)}
		}
		t.Timezone = in.Timezone
		cronChanged = true
	}
	if in.AllowedMethods != nil {
		if t.Kind != KindWebhook {
			return nil, &ValidationError{Field: "allowed_methods", Message: "not a webhook trigger"}
		}
		methods := NormalizedMethods(*in.AllowedMethods)
		if len(methods) == 0 {
			return nil, &ValidationError{Field: "allowed_methods", Message: "must not be empty"}
		}
		t.AllowedMethods = methods
	}
	if in.ValidationRules != nil {
		t.ValidationRules = db.JSONB(*in.ValidationRules)
	}
	if in.WebhookConfig != nil {
		t.WebhookConfig = db.JSONB(*in.WebhookConfig)
	}
	if in.IsActive != nil {
		t.IsActive = *in.IsActive
	}
	if err := validateMerged(t); err != nil {
		return nil, err
	}

	if cronChanged {
		if next, err := NextRun(*t.CronExpression, derefOr(t.Timezone, "UTC"), time.Now()); err == nil {
			t.NextRunTime = &next
		}
	}

	if err := s.store.Update(ctx, t); err != nil {
		return nil, err
	}

	if t.Kind == KindCron {
		if cronChanged {
			if err := s.schedules.UpdateSchedule(ctx, t); err != nil {
				return nil, fmt.Errorf("update schedule: %w", err)
			}
		}
		if in.IsActive != nil {
			if err := s.syncSchedulePause(ctx, t); err != nil {
				return nil, err
			}
		}
	}
	return t, nil
}

// Delete removes the trigger and, for cron, its engine schedule. A missing
// engine schedule does not fail the delete.
func (s *Service) Delete(ctx context.Context, id uuid.UUID) error {
	t, err := s.store.Get(ctx, id)
	if err != nil {
		return err
	}
	if t.Kind == KindCron {
		if err := s.schedules.DeleteSchedule(ctx, id); err != nil {
			return fmt.Errorf("delete schedule: %w", err)
		}
	}
	return s.store.Delete(ctx, id)
}

// Enable reactivates a trigger and resets its failure counter, so a
// repaired trigger gets a full window before the next auto-disable.
func (s *Service) Enable(ctx context.Context, id uuid.UUID) (*Trigger, error) {
	if _, err := s.store.SetActive(ctx, id, true); err != nil {
		return nil, err
	}
	t, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if t.ConsecutiveFailures != 0 {
		if err := s.store.UpdateExecutionTracking(ctx, id, timeOrNow(t.LastExecutionAt), 0); err != nil {
			return nil, err
		}
		t.ConsecutiveFailures = 0
	}
	if t.Kind == KindCron {
		if err := s.schedules.UnpauseSchedule(ctx, id); err != nil {
			return nil, fmt.Errorf("unpause schedule: %w", err)
		}
	}
	s.logger.Info("Trigger enabled", zap.String("trigger_id", id.String()))
	return t, nil
}

// Disable deactivates a trigger; cron schedules are paused, not deleted,
// so re-enabling restores the cadence.
func (s *Service) Disable(ctx context.Context, id uuid.UUID) (*Trigger, error) {
	if _, err := s.store.SetActive(ctx, id, false); err != nil {
		return nil, err
	}
	t, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if t.Kind == KindCron {
		if err := s.schedules.PauseSchedule(ctx, id); err != nil {
			return nil, fmt.Errorf("pause schedule: %w", err)
		}
	}
	s.logger.Info("Trigger disabled", zap.String("trigger_id", id.String()))
	return t, nil
}

// Execute runs one trigger firing end to end: active check, condition
// evaluation, task launch, execution record, failure bookkeeping. It is
// called from the webhook dispatch path and from the scheduled trigger
// execution workflow's activity.
func (s *Service) Execute(ctx context.Context, id uuid.UUID, source string, payload map[string]interface{}) (*Execution, error) {
	t, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	started := time.Now()
	if !t.IsActive {
		msg := "trigger inactive"
		exec := &Execution{
			TriggerID:    t.ID,
			ExecutedAt:   started.UTC(),
			Status:       ExecutionFailed,
			ErrorMessage: &msg,
			TriggerData:  db.JSONB(payload),
		}
		if err := s.store.CreateExecution(ctx, exec); err != nil {
			return nil, err
		}
		return exec, ErrTriggerInactive
	}

	if !s.conditions.Evaluate(ctx, t, payload) {
		exec := &Execution{
			TriggerID:       t.ID,
			ExecutedAt:      started.UTC(),
			Status:          ExecutionSkipped,
			ExecutionTimeMs: time.Since(started).Milliseconds(),
			TriggerData:     db.JSONB(payload),
		}
		if err := s.store.CreateExecution(ctx, exec); err != nil {
			return nil, err
		}
		metrics.TriggerExecutions.WithLabelValues(string(t.Kind), ExecutionSkipped).Inc()
		s.logger.Debug("Trigger conditions not met",
			zap.String("trigger_id", t.ID.String()), zap.String("source", source))
		return exec, nil
	}

	// Task parameters: the trigger's own parameters plus firing context.
	// Trigger-declared keys win over the injected ones.
	params := map[string]interface{}{
		"trigger_id":     t.ID.String(),
		"trigger_type":   string(t.Kind),
		"trigger_name":   t.Name,
		"execution_time": started.UTC().Format(time.RFC3339),
		"trigger_data":   payload,
	}
	for k, v := range t.TaskParameters {
		params[k] = v
	}

	res, launchErr := s.launcher.Launch(ctx, LaunchRequest{
		WorkspaceID: t.WorkspaceID,
		UserID:      t.CreatedBy,
		AgentID:     t.AgentID,
		TriggerID:   t.ID,
		Source:      source,
		Parameters:  params,
		Payload:     payload,
	})

	exec := &Execution{
		TriggerID:       t.ID,
		ExecutedAt:      started.UTC(),
		ExecutionTimeMs: time.Since(started).Milliseconds(),
		TriggerData:     db.JSONB(payload),
	}
	if launchErr != nil {
		exec.Status = ExecutionFailed
		msg := launchErr.Error()
		exec.ErrorMessage = &msg
	} else {
		exec.Status = ExecutionSuccess
		exec.TaskID = &res.TaskID
		exec.WorkflowID = &res.WorkflowID
		exec.RunID = &res.RunID
	}
	if err := s.store.CreateExecution(ctx, exec); err != nil {
		return nil, err
	}
	metrics.TriggerExecutions.WithLabelValues(string(t.Kind), exec.Status).Inc()
	metrics.TriggerExecutionDuration.WithLabelValues(string(t.Kind)).Observe(time.Since(started).Seconds())

	if launchErr != nil {
		s.recordFailure(ctx, t, started)
		return exec, launchErr
	}
	if err := s.store.UpdateExecutionTracking(ctx, t.ID, started.UTC(), 0); err != nil {
		s.logger.Warn("Failed to reset failure counter",
			zap.String("trigger_id", t.ID.String()), zap.Error(err))
	}
	if t.Kind == KindCron && t.CronExpression != nil {
		if next, err := NextRun(*t.CronExpression, derefOr(t.Timezone, "UTC"), time.Now()); err == nil {
			_ = s.store.SetNextRunTime(ctx, t.ID, &next)
		}
	}
	return exec, nil
}

// RecordOutcome records a terminal result reported after the fact, e.g. a
// scheduled execution that timed out in the engine.
func (s *Service) RecordOutcome(ctx context.Context, id uuid.UUID, exec *Execution) error {
	t, err := s.store.Get(ctx, id)
	if err != nil {
		return err
	}
	exec.TriggerID = t.ID
	if err := s.store.CreateExecution(ctx, exec); err != nil {
		return err
	}
	metrics.TriggerExecutions.WithLabelValues(string(t.Kind), exec.Status).Inc()
	switch exec.Status {
	case ExecutionSuccess:
		return s.store.UpdateExecutionTracking(ctx, t.ID, exec.ExecutedAt, 0)
	case ExecutionFailed, ExecutionTimeout:
		s.recordFailure(ctx, t, exec.ExecutedAt)
	}
	return nil
}

// recordFailure bumps the counter and auto-disables the trigger at the
// threshold. SetActive reports whether this call made the transition, so
// the auto_disabled notification fires at most once even under concurrent
// failures.
func (s *Service) recordFailure(ctx context.Context, t *Trigger, at time.Time) {
	count, err := s.store.IncrementFailures(ctx, t.ID, at.UTC())
	if err != nil {
		s.logger.Error("Failed to record trigger failure",
			zap.String("trigger_id", t.ID.String()), zap.Error(err))
		return
	}
	threshold := t.FailureThreshold
	if threshold <= 0 {
		threshold = DefaultFailureThreshold
	}
	if count < threshold {
		return
	}

	changed, err := s.store.SetActive(ctx, t.ID, false)
	if err != nil {
		s.logger.Error("Failed to auto-disable trigger",
			zap.String("trigger_id", t.ID.String()), zap.Error(err))
		return
	}
	if !changed {
		return
	}
	if t.Kind == KindCron {
		if err := s.schedules.PauseSchedule(ctx, t.ID); err != nil {
			s.logger.Error("Failed to pause schedule for auto-disabled trigger",
				zap.String("trigger_id", t.ID.String()), zap.Error(err))
		}
	}
	metrics.TriggersAutoDisabled.Inc()
	s.logger.Warn("Trigger auto-disabled after consecutive failures",
		zap.String("trigger_id", t.ID.String()),
		zap.Int("failures", count),
		zap.Int("threshold", threshold))
	if s.notifier != nil {
		s.notifier.TriggerAutoDisabled(ctx, t, count)
	}
}

func (s *Service) syncSchedulePause(ctx context.Context, t *Trigger) error {
	if t.IsActive {
		if err := s.schedules.UnpauseSchedule(ctx, t.ID); err != nil {
			return fmt.Errorf("unpause schedule: %w", err)
		}
		return nil
	}
	if err := s.schedules.PauseSchedule(ctx, t.ID); err != nil {
		return fmt.Errorf("pause schedule: %w", err)
	}
	return nil
}

// validateMerged re-checks row invariants after a partial update.
func validateMerged(t *Trigger) error {
	if len(t.Name) == 0 || len(t.Name) > maxNameLen {
		return &ValidationError{Field: "name", Message: fmt.Sprintf("must be 1-%d characters", maxNameLen)}
	}
	if len(t.Description) > maxDescriptionLen {
		return &ValidationError{Field: "description", Message: fmt.Sprintf("must be at most %d characters", maxDescriptionLen)}
	}
	if t.FailureThreshold < 1 || t.FailureThreshold > 100 {
		return &ValidationError{Field: "failure_threshold", Message: "must be between 1 and 100"}
	}
	return nil
}

func derefOr(s *string, def string) string {
	if s == nil || *s == "" {
		return def
	}
	return *s
}

func timeOrNow(t *time.Time) time.Time {
	if t != nil {
		return *t
	}
	return time.Now().UTC()
}
