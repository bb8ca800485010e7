package tasks

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	enumspb "go.temporal.io/api/enums/v1"
	"go.temporal.io/sdk/client"
	"go.uber.org/zap"

	"github.com/relay-run/relay/internal/agents"
	"github.com/relay-run/relay/internal/db"
	"github.com/relay-run/relay/internal/eventbus"
	"github.com/relay-run/relay/internal/metrics"
	"github.com/relay-run/relay/internal/triggers"
	"github.com/relay-run/relay/internal/workflows"
	"github.com/relay-run/relay/internal/workflows/control"
)

var (
	ErrNotFound     = db.ErrNotFound
	ErrTaskTerminal = errors.New("task is in a terminal state")
)

// Defaults applied when a task carries no explicit limits.
type Defaults struct {
	BudgetUSD      float64
	BudgetWarnAt   float64
	MaxIterations  int
	TimeoutSeconds int
}

// Orchestrator owns the task lifecycle: persist, start the engine
// workflow, relay control signals, and stream events.
type Orchestrator struct {
	tasks     *db.TaskRepo
	agents    *agents.Directory
	bus       *eventbus.Bus
	temporal  client.Client
	taskQueue string
	defaults  Defaults
	logger    *zap.Logger
}

func NewOrchestrator(
	tasks *db.TaskRepo,
	agentDir *agents.Directory,
	bus *eventbus.Bus,
	tc client.Client,
	taskQueue string,
	defaults Defaults,
	logger *zap.Logger,
) *Orchestrator {
	return &Orchestrator{
		tasks:     tasks,
		agents:    agentDir,
		bus:       bus,
		temporal:  tc,
		taskQueue: taskQueue,
		defaults:  defaults,
		logger:    logger,
	}
}

// CreateTaskInput is the orchestrator-level task creation request.
type CreateTaskInput struct {
	AgentID                  uuid.UUID
	Description              string
	Parameters               map[string]interface{}
	Metadata                 map[string]interface{}
	EnableAgentCommunication bool
	RequiresHumanApproval    bool
	BudgetUSD                float64
	Source                   string // api, webhook, cron, a2a
}

// WorkflowID is the deterministic engine workflow id for a task.
func WorkflowID(taskID uuid.UUID) string {
	return fmt.Sprintf("task-%s", taskID.String())
}

// CreateAndStart validates the agent, persists the task as pending, starts
// the engine workflow, and moves the task to running. An engine start
// failure leaves the task failed.
func (o *Orchestrator) CreateAndStart(ctx context.Context, in CreateTaskInput) (*db.Task, error) {
	scope, err := db.ScopeFromContext(ctx)
	if err != nil {
		return nil, err
	}
	if in.Description == "" {
		return nil, &triggers.ValidationError{Field: "description", Message: "must not be empty"}
	}
	if err := o.agents.Exists(ctx, in.AgentID); err != nil {
		if errors.Is(err, db.ErrNotFound) {
			return nil, &triggers.ValidationError{Field: "agent_id", Message: "unknown agent"}
		}
		return nil, err
	}

	task := &db.Task{
		AgentID:     in.AgentID,
		Description: in.Description,
		Parameters:  db.JSONB(in.Parameters),
		Metadata:    db.JSONB(in.Metadata),
		Status:      db.TaskStatusPending,
	}
	if err := o.tasks.Create(ctx, task); err != nil {
		return nil, err
	}

	workflowID := WorkflowID(task.ID)
	req := workflows.AgentExecutionRequest{
		TaskID:                   task.ID,
		AgentID:                  in.AgentID,
		UserID:                   scope.UserID,
		WorkspaceID:              scope.WorkspaceID,
		TaskQuery:                in.Description,
		TaskParameters:           in.Parameters,
		TimeoutSeconds:           o.defaults.TimeoutSeconds,
		MaxReasoningIterations:   o.defaults.MaxIterations,
		EnableAgentCommunication: in.EnableAgentCommunication,
		RequiresHumanApproval:    in.RequiresHumanApproval,
		BudgetUSD:                in.BudgetUSD,
		BudgetWarnAt:             o.defaults.BudgetWarnAt,
		WorkflowMetadata:         in.Metadata,
	}
	if req.BudgetUSD <= 0 {
		req.BudgetUSD = o.defaults.BudgetUSD
	}

	opts := client.StartWorkflowOptions{
		ID:        workflowID,
		TaskQueue: o.taskQueue,
	}
	if req.TimeoutSeconds > 0 {
		opts.WorkflowRunTimeout = time.Duration(req.TimeoutSeconds) * time.Second
	}
	_, err = o.temporal.ExecuteWorkflow(ctx, opts, "AgentExecutionWorkflow", req)
	if err != nil {
		o.logger.Error("Engine start failed",
			zap.String("task_id", task.ID.String()), zap.Error(err))
		msg := "workflow engine unavailable"
		if updErr := o.tasks.UpdateStatus(ctx, task.ID, db.TaskStatusFailed, nil, &msg); updErr != nil {
			o.logger.Error("Failed to mark task failed",
				zap.String("task_id", task.ID.String()), zap.Error(updErr))
		}
		return nil, fmt.Errorf("start workflow: %w", err)
	}

	if err := o.tasks.SetExecutionID(ctx, task.ID, workflowID); err != nil {
		o.logger.Error("Failed to record execution id",
			zap.String("task_id", task.ID.String()), zap.Error(err))
	}

	source := in.Source
	if source == "" {
		source = "api"
	}
	metrics.WorkflowsStarted.WithLabelValues(source).Inc()
	o.logger.Info("Task started",
		zap.String("task_id", task.ID.String()),
		zap.String("workflow_id", workflowID),
		zap.String("source", source))

	return o.tasks.Get(ctx, task.ID)
}

// Launch implements the trigger service's TaskLauncher. The ambient scope
// is rebound to the trigger owner before creation.
func (o *Orchestrator) Launch(ctx context.Context, req triggers.LaunchRequest) (*triggers.LaunchResult, error) {
	ctx = db.ContextWithScope(ctx, req.WorkspaceID, req.UserID)

	description, _ := req.Parameters["description"].(string)
	if description == "" {
		name, _ := req.Parameters["trigger_name"].(string)
		description = fmt.Sprintf("Triggered task: %s", name)
	}
	task, err := o.CreateAndStart(ctx, CreateTaskInput{
		AgentID:     req.AgentID,
		Description: description,
		Parameters:  req.Parameters,
		Metadata: map[string]interface{}{
			"trigger_id": req.TriggerID.String(),
			"source":     req.Source,
		},
		Source: req.Source,
	})
	if err != nil {
		return nil, err
	}
	res := &triggers.LaunchResult{TaskID: task.ID, WorkflowID: WorkflowID(task.ID)}
	if task.ExecutionID != nil {
		res.WorkflowID = *task.ExecutionID
	}
	return res, nil
}

// Get reads the task and, for a non-terminal task with a live execution,
// overlays the engine's current view of the status.
func (o *Orchestrator) Get(ctx context.Context, taskID uuid.UUID) (*db.Task, error) {
	task, err := o.tasks.Get(ctx, taskID)
	if err != nil {
		return nil, err
	}
	if task.ExecutionID == nil || db.TerminalTaskStatus(task.Status) {
		return task, nil
	}

	desc, err := o.temporal.DescribeWorkflowExecution(ctx, *task.ExecutionID, "")
	if err != nil {
		// Engine unavailable; the row is still authoritative.
		o.logger.Debug("Engine describe failed, serving stored status",
			zap.String("task_id", taskID.String()), zap.Error(err))
		return task, nil
	}
	if info := desc.GetWorkflowExecutionInfo(); info != nil {
		if mapped := engineStatus(info.GetStatus()); mapped != "" {
			task.Status = mapped
			if db.TerminalTaskStatus(mapped) {
				o.overlayResult(ctx, task)
			}
		}
	}
	return task, nil
}

// overlayResult fills in the outcome of a workflow the engine reports
// finished but whose row has not caught up yet. The run is already closed,
// so the fetch returns immediately.
func (o *Orchestrator) overlayResult(ctx context.Context, task *db.Task) {
	var res workflows.AgentExecutionResult
	if err := o.temporal.GetWorkflow(ctx, *task.ExecutionID, "").Get(ctx, &res); err != nil {
		// Failed and cancelled runs surface their cause here.
		if task.Error == nil {
			msg := err.Error()
			task.Error = &msg
		}
		return
	}
	if task.Result == nil {
		task.Result = db.JSONB{
			"response":   res.FinalResponse,
			"iterations": res.ReasoningIterationsUsed,
			"cost_usd":   res.TotalCostUSD,
		}
	}
}

// List returns workspace tasks.
func (o *Orchestrator) List(ctx context.Context, f db.TaskFilter) ([]*db.Task, error) {
	return o.tasks.List(ctx, f)
}

// Cancel propagates cancellation to the engine and marks the row. Returns
// false when the task was already terminal.
func (o *Orchestrator) Cancel(ctx context.Context, taskID uuid.UUID) (bool, error) {
	task, err := o.tasks.Get(ctx, taskID)
	if err != nil {
		return false, err
	}
	if db.TerminalTaskStatus(task.Status) {
		return false, nil
	}
	if task.ExecutionID != nil {
		if err := o.temporal.CancelWorkflow(ctx, *task.ExecutionID, ""); err != nil {
			o.logger.Warn("Engine cancel failed",
				zap.String("task_id", taskID.String()), zap.Error(err))
		}
	}
	if err := o.tasks.UpdateStatus(ctx, taskID, db.TaskStatusCancelled, nil, nil); err != nil {
		return false, err
	}
	return true, nil
}

// Pause suspends the workflow's reasoning loop at the next checkpoint.
func (o *Orchestrator) Pause(ctx context.Context, taskID uuid.UUID, reason string) error {
	return o.signal(ctx, taskID, control.SignalPause, control.PauseRequest{Reason: reason})
}

// Resume releases a paused or approval-gated workflow.
func (o *Orchestrator) Resume(ctx context.Context, taskID uuid.UUID, reason string) error {
	return o.signal(ctx, taskID, control.SignalResume, control.ResumeRequest{Reason: reason})
}

func (o *Orchestrator) signal(ctx context.Context, taskID uuid.UUID, name string, payload interface{}) error {
	task, err := o.tasks.Get(ctx, taskID)
	if err != nil {
		return err
	}
	if db.TerminalTaskStatus(task.Status) {
		return ErrTaskTerminal
	}
	if task.ExecutionID == nil {
		return fmt.Errorf("task %s has no execution", taskID)
	}
	if err := o.temporal.SignalWorkflow(ctx, *task.ExecutionID, "", name, payload); err != nil {
		return fmt.Errorf("signal %s: %w", name, err)
	}
	return nil
}

// QueryState returns the workflow's live state via the get_current_state
// query.
func (o *Orchestrator) QueryState(ctx context.Context, taskID uuid.UUID) (*workflows.CurrentState, error) {
	task, err := o.tasks.Get(ctx, taskID)
	if err != nil {
		return nil, err
	}
	if task.ExecutionID == nil {
		return nil, fmt.Errorf("task %s has no execution", taskID)
	}
	val, err := o.temporal.QueryWorkflow(ctx, *task.ExecutionID, "", control.QueryCurrentState)
	if err != nil {
		return nil, fmt.Errorf("query workflow state: %w", err)
	}
	var state workflows.CurrentState
	if err := val.Get(&state); err != nil {
		return nil, err
	}
	return &state, nil
}

// StreamEvents opens the replay+live event stream for a task. The task
// must be visible in the caller's workspace.
func (o *Orchestrator) StreamEvents(ctx context.Context, taskID uuid.UUID) (<-chan eventbus.Event, error) {
	if _, err := o.tasks.Get(ctx, taskID); err != nil {
		return nil, err
	}
	return o.bus.Subscribe(ctx, taskID)
}

// engineStatus maps the engine's execution status onto task statuses; an
// empty string means "keep the stored value".
func engineStatus(s enumspb.WorkflowExecutionStatus) string {
	switch s {
	case enumspb.WORKFLOW_EXECUTION_STATUS_RUNNING:
		return db.TaskStatusRunning
	case enumspb.WORKFLOW_EXECUTION_STATUS_COMPLETED:
		return db.TaskStatusCompleted
	case enumspb.WORKFLOW_EXECUTION_STATUS_FAILED, enumspb.WORKFLOW_EXECUTION_STATUS_TERMINATED, enumspb.WORKFLOW_EXECUTION_STATUS_TIMED_OUT:
		return db.TaskStatusFailed
	case enumspb.WORKFLOW_EXECUTION_STATUS_CANCELED:
		return db.TaskStatusCancelled
	default:
		return ""
	}
}
