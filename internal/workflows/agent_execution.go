package workflows

import (
	"fmt"
	"strings"
	"time"

	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/workflow"

	"github.com/relay-run/relay/internal/activities"
	"github.com/relay-run/relay/internal/budget"
	"github.com/relay-run/relay/internal/eventbus"
	"github.com/relay-run/relay/internal/workflows/control"
)

const defaultMaxIterations = 50

// AgentExecutionWorkflow runs one agent task as a durable ReAct loop:
// resolve the agent, discover tools, then iterate LLM turns and tool calls
// until the completion sentinel, the iteration cap, or the budget stops it.
// All I/O happens in activities; events accumulate in workflow state and
// flush between steps.
func AgentExecutionWorkflow(ctx workflow.Context, req AgentExecutionRequest) (*AgentExecutionResult, error) {
	logger := workflow.GetLogger(ctx)
	scope := activities.Scope{WorkspaceID: req.WorkspaceID, UserID: req.UserID}

	maxIterations := req.MaxReasoningIterations
	if maxIterations <= 0 {
		maxIterations = defaultMaxIterations
	}

	state := &CurrentState{Status: StatusInitializing}
	tracker := budget.NewTracker(req.BudgetUSD, req.BudgetWarnAt)
	emitter := NewEmitter(ctx, req.TaskID, scope)

	handler := &control.SignalHandler{Logger: logger}
	handler.Setup(ctx)

	if err := workflow.SetQueryHandler(ctx, control.QueryCurrentState, func() (CurrentState, error) {
		out := *state
		out.CostUSD = tracker.SpentUSD
		out.BudgetRemaining = tracker.Remaining()
		out.Paused = handler.IsPaused()
		if handler.State != nil {
			out.PauseReason = handler.State.PauseReason
		}
		return out, nil
	}); err != nil {
		return nil, err
	}
	if err := workflow.SetQueryHandler(ctx, control.QueryLatestEvents, func(limit int) ([]activities.WorkflowEvent, error) {
		return emitter.Latest(limit), nil
	}); err != nil {
		return nil, err
	}
	if err := workflow.SetQueryHandler(ctx, control.QueryWorkflowEvents, func() ([]activities.WorkflowEvent, error) {
		return emitter.All(), nil
	}); err != nil {
		return nil, err
	}

	run := &agentRun{
		req:     req,
		scope:   scope,
		state:   state,
		tracker: tracker,
		emitter: emitter,
		handler: handler,
	}

	emitter.Emit(ctx, eventbus.TypeWorkflowStarted, map[string]interface{}{
		"task_id":    req.TaskID.String(),
		"agent_id":   req.AgentID.String(),
		"task_query": req.TaskQuery,
		"budget_usd": tracker.BudgetUSD,
	})
	emitter.Flush(ctx)

	result, err := run.execute(ctx)
	if err != nil && temporal.IsCanceledError(err) {
		return run.finalizeCancelled(ctx, err)
	}
	return result, err
}

// agentRun carries the mutable loop state so the workflow function stays
// readable.
type agentRun struct {
	req     AgentExecutionRequest
	scope   activities.Scope
	state   *CurrentState
	tracker *budget.Tracker
	emitter *Emitter
	handler *control.SignalHandler

	config        *activities.AgentConfig
	tools         []activities.ToolDefinition
	messages      []activities.Message
	success       bool
	finalResponse string
}

func (r *agentRun) execute(ctx workflow.Context) (*AgentExecutionResult, error) {
	if err := r.initialize(ctx); err != nil {
		return r.finalizeFailed(ctx, err.Error(), "initialization_failed")
	}

	r.state.Status = StatusExecuting
	for r.shouldContinue() {
		if err := r.handler.CheckPausePoint(ctx); err != nil {
			return nil, err
		}
		r.state.CurrentIteration++
		if err := r.step(ctx); err != nil {
			if temporal.IsCanceledError(err) {
				return nil, err
			}
			return r.finalizeFailed(ctx, err.Error(), "execution_failed")
		}
		r.emitter.Flush(ctx)
	}

	if r.success {
		return r.finalizeCompleted(ctx)
	}
	if r.tracker.IsExceeded() {
		r.emitter.Emit(ctx, eventbus.TypeBudgetExceeded, map[string]interface{}{
			"spent_usd":  r.tracker.SpentUSD,
			"budget_usd": r.tracker.BudgetUSD,
			"iteration":  r.state.CurrentIteration,
		})
		return r.finalizeFailed(ctx,
			fmt.Sprintf("budget exceeded: spent $%.4f of $%.4f", r.tracker.SpentUSD, r.tracker.BudgetUSD),
			"budget_exceeded")
	}
	return r.finalizeFailed(ctx,
		fmt.Sprintf("max iterations reached (%d) without completion", r.state.CurrentIteration),
		"max_iterations")
}

// shouldContinue is the loop guard: success, iteration cap, budget.
func (r *agentRun) shouldContinue() bool {
	if r.success {
		return false
	}
	maxIterations := r.req.MaxReasoningIterations
	if maxIterations <= 0 {
		maxIterations = defaultMaxIterations
	}
	if r.state.CurrentIteration >= maxIterations {
		return false
	}
	return !r.tracker.IsExceeded()
}

func (r *agentRun) initialize(ctx workflow.Context) error {
	cfgCtx := withOptions(ctx, 5*time.Minute, 3)
	var config activities.AgentConfig
	err := workflow.ExecuteActivity(cfgCtx, "BuildAgentConfig", activities.BuildAgentConfigInput{
		AgentID: r.req.AgentID,
		Scope:   r.scope,
	}).Get(ctx, &config)
	if err != nil {
		return fmt.Errorf("build agent config: %w", err)
	}
	if config.ID == "" || config.Name == "" || config.ModelID == "" {
		return fmt.Errorf("agent config incomplete: id=%q name=%q model_id=%q",
			config.ID, config.Name, config.ModelID)
	}
	r.config = &config

	toolsCtx := withOptions(ctx, 5*time.Minute, 3)
	err = workflow.ExecuteActivity(toolsCtx, "DiscoverAvailableTools", activities.DiscoverToolsInput{
		AgentID: r.req.AgentID,
		Scope:   r.scope,
	}).Get(ctx, &r.tools)
	if err != nil {
		return fmt.Errorf("discover tools: %w", err)
	}
	return nil
}

func (r *agentRun) step(ctx workflow.Context) error {
	iteration := r.state.CurrentIteration
	r.emitter.Emit(ctx, eventbus.TypeIterationStarted, map[string]interface{}{
		"iteration": iteration,
	})

	if iteration == 1 {
		r.messages = []activities.Message{
			{Role: "system", Content: r.systemPrompt()},
			{Role: "user", Content: r.req.TaskQuery},
		}
	}

	r.emitter.Emit(ctx, eventbus.TypeLLMCallStarted, map[string]interface{}{
		"iteration": iteration,
		"model_id":  r.config.ModelID,
	})

	llmCtx := withOptions(ctx, 2*time.Minute, 3)
	var turn activities.LLMResult
	err := workflow.ExecuteActivity(llmCtx, "InvokeLLM", activities.InvokeLLMInput{
		Messages: r.messages,
		ModelID:  r.config.ModelID,
		Tools:    r.tools,
		Scope:    r.scope,
	}).Get(ctx, &turn)
	if err != nil {
		r.emitter.Emit(ctx, eventbus.TypeLLMCallFailed, map[string]interface{}{
			"iteration": iteration,
			"error":     err.Error(),
		})
		return fmt.Errorf("llm call: %w", err)
	}

	if warned := r.tracker.Add(turn.CostUSD); warned {
		r.emitter.Emit(ctx, eventbus.TypeBudgetWarning, map[string]interface{}{
			"spent_usd":  r.tracker.SpentUSD,
			"budget_usd": r.tracker.BudgetUSD,
		})
	}
	r.emitter.Emit(ctx, eventbus.TypeLLMCallCompleted, map[string]interface{}{
		"iteration":         iteration,
		"cost":              turn.CostUSD,
		"prompt_tokens":     turn.Usage.PromptTokens,
		"completion_tokens": turn.Usage.CompletionTokens,
	})

	r.messages = append(r.messages, activities.Message{
		Role:      "assistant",
		Content:   turn.Content,
		ToolCalls: turn.ToolCalls,
	})

	calls := ExtractToolCalls(&turn)
	if len(calls) == 0 {
		// Content-only turn: nudge the model toward the completion tool so
		// the loop converges instead of monologuing.
		r.messages = append(r.messages, activities.Message{
			Role:    "user",
			Content: "Continue working on the task. When finished, call the task_complete tool with your final result.",
		})
	}

	var completion *activities.ToolCall
	for i := range calls {
		call := calls[i]
		if IsCompletionCall(call.Name) {
			completion = &calls[i]
			continue
		}
		if err := r.invokeTool(ctx, call, iteration); err != nil {
			return err
		}
	}

	if completion != nil {
		r.success = true
		r.finalResponse = CompletionResult(completion.Arguments)
		if r.finalResponse == "" {
			r.finalResponse = turn.Content
		}
	}

	r.emitter.Emit(ctx, eventbus.TypeIterationCompleted, map[string]interface{}{
		"iteration": iteration,
		"cost_usd":  r.tracker.SpentUSD,
	})
	return nil
}

func (r *agentRun) invokeTool(ctx workflow.Context, call activities.ToolCall, iteration int) error {
	if err := r.gateApproval(ctx, call, iteration); err != nil {
		return err
	}

	r.emitter.Emit(ctx, eventbus.TypeToolCallStarted, map[string]interface{}{
		"iteration":    iteration,
		"tool_name":    call.Name,
		"tool_call_id": call.ID,
	})
	r.emitter.Flush(ctx)

	toolCtx := withOptions(ctx, 3*time.Minute, 3)
	var result activities.ToolResult
	err := workflow.ExecuteActivity(toolCtx, "InvokeTool", activities.InvokeToolInput{
		Name:             call.Name,
		Arguments:        call.Arguments,
		ServerInstanceID: r.toolServerInstance(call.Name),
		ToolsConfig:      r.config.ToolsConfig,
		Scope:            r.scope,
	}).Get(ctx, &result)
	if err != nil {
		if temporal.IsCanceledError(err) {
			return err
		}
		r.emitter.Emit(ctx, eventbus.TypeToolCallFailed, map[string]interface{}{
			"iteration":    iteration,
			"tool_name":    call.Name,
			"tool_call_id": call.ID,
			"error":        err.Error(),
		})
		// The model observes the failure and can adjust next iteration.
		r.messages = append(r.messages, activities.Message{
			Role:       "tool",
			ToolCallID: call.ID,
			Name:       call.Name,
			Content:    fmt.Sprintf("tool error: %s", err.Error()),
		})
		return nil
	}

	r.emitter.Emit(ctx, eventbus.TypeToolCallCompleted, map[string]interface{}{
		"iteration":    iteration,
		"tool_name":    call.Name,
		"tool_call_id": call.ID,
	})
	r.messages = append(r.messages, activities.Message{
		Role:       "tool",
		ToolCallID: call.ID,
		Name:       call.Name,
		Content:    result.Content,
	})
	return nil
}

// gateApproval pauses before a tool call when the task or the tool demands
// human signoff, resuming on the resume signal.
func (r *agentRun) gateApproval(ctx workflow.Context, call activities.ToolCall, iteration int) error {
	if !r.req.RequiresHumanApproval && !r.toolRequiresConfirmation(call.Name) {
		return nil
	}

	r.state.Status = StatusWaitingForApproval
	r.emitter.Emit(ctx, eventbus.TypeHumanApprovalRequested, map[string]interface{}{
		"iteration":    iteration,
		"tool_name":    call.Name,
		"tool_call_id": call.ID,
		"arguments":    call.Arguments,
	})
	r.emitter.Flush(ctx)

	if err := r.handler.AwaitResume(ctx); err != nil {
		return err
	}

	r.state.Status = StatusExecuting
	r.emitter.Emit(ctx, eventbus.TypeHumanApprovalReceived, map[string]interface{}{
		"iteration":    iteration,
		"tool_name":    call.Name,
		"tool_call_id": call.ID,
	})
	return nil
}

func (r *agentRun) toolRequiresConfirmation(name string) bool {
	for _, t := range r.tools {
		if t.Name == name {
			return t.RequiresConfirmation
		}
	}
	return false
}

func (r *agentRun) toolServerInstance(name string) string {
	for _, t := range r.tools {
		if t.Name == name {
			return t.ServerInstanceID
		}
	}
	return ""
}

// systemPrompt renders the ReAct framing: who the agent is, the goal, the
// success criterion, and the tool roster.
func (r *agentRun) systemPrompt() string {
	var b strings.Builder
	fmt.Fprintf(&b, "You are %s.\n", r.config.Name)
	if r.config.SystemPrompt != "" {
		b.WriteString(r.config.SystemPrompt)
		b.WriteString("\n\n")
	}
	b.WriteString("Work on the user's task step by step: reason about what to do next, act by calling a tool, observe the result, and repeat.\n")
	b.WriteString("When the task is done, call the task_complete tool with a `result` argument containing your final answer. The task is only finished once you call it.\n")
	if len(r.tools) > 0 {
		b.WriteString("\nAvailable tools:\n")
		for _, t := range r.tools {
			fmt.Fprintf(&b, "- %s: %s\n", t.Name, t.Description)
		}
	}
	return b.String()
}

func (r *agentRun) finalizeCompleted(ctx workflow.Context) (*AgentExecutionResult, error) {
	r.state.Status = StatusCompleted
	r.state.Success = true
	result := &AgentExecutionResult{
		TaskID:                  r.req.TaskID.String(),
		Success:                 true,
		FinalResponse:           r.finalResponse,
		ReasoningIterationsUsed: r.state.CurrentIteration,
		TotalCostUSD:            r.tracker.SpentUSD,
	}

	r.emitter.Emit(ctx, eventbus.TypeWorkflowCompleted, map[string]interface{}{
		"success":              true,
		"iterations_completed": r.state.CurrentIteration,
		"total_cost":           r.tracker.SpentUSD,
		"final_response":       r.finalResponse,
	})
	r.emitter.Flush(ctx)
	r.updateTask(ctx, StatusCompleted, map[string]interface{}{
		"response":   r.finalResponse,
		"iterations": r.state.CurrentIteration,
		"cost_usd":   r.tracker.SpentUSD,
	}, "")
	return result, nil
}

func (r *agentRun) finalizeFailed(ctx workflow.Context, errMsg, errType string) (*AgentExecutionResult, error) {
	r.state.Status = StatusFailed
	result := &AgentExecutionResult{
		TaskID:                  r.req.TaskID.String(),
		Success:                 false,
		ReasoningIterationsUsed: r.state.CurrentIteration,
		TotalCostUSD:            r.tracker.SpentUSD,
		Error:                   errMsg,
		ErrorType:               errType,
	}

	r.emitter.Emit(ctx, eventbus.TypeWorkflowFailed, map[string]interface{}{
		"success":              false,
		"iterations_completed": r.state.CurrentIteration,
		"total_cost":           r.tracker.SpentUSD,
		"error":                errMsg,
		"error_type":           errType,
	})
	r.emitter.Flush(ctx)
	r.updateTask(ctx, StatusFailed, nil, errMsg)
	return result, nil
}

func (r *agentRun) finalizeCancelled(ctx workflow.Context, cause error) (*AgentExecutionResult, error) {
	// The workflow context is cancelled; final bookkeeping needs a
	// disconnected one.
	dctx, _ := workflow.NewDisconnectedContext(ctx)
	r.state.Status = StatusCancelled

	r.emitter.Emit(dctx, eventbus.TypeWorkflowCancelled, map[string]interface{}{
		"iterations_completed": r.state.CurrentIteration,
		"total_cost":           r.tracker.SpentUSD,
	})
	r.emitter.Flush(dctx)
	r.updateTask(dctx, StatusCancelled, nil, "")
	return nil, cause
}

func (r *agentRun) updateTask(ctx workflow.Context, status string, result map[string]interface{}, errMsg string) {
	actCtx := withOptions(ctx, 30*time.Second, 3)
	err := workflow.ExecuteActivity(actCtx, "UpdateTaskStatus", activities.UpdateTaskStatusInput{
		TaskID: r.req.TaskID,
		Scope:  r.scope,
		Status: status,
		Result: result,
		Error:  errMsg,
	}).Get(ctx, nil)
	if err != nil {
		workflow.GetLogger(ctx).Error("Failed to update task status",
			"task_id", r.req.TaskID.String(), "status", status, "error", err)
	}
}

func withOptions(ctx workflow.Context, timeout time.Duration, attempts int32) workflow.Context {
	return workflow.WithActivityOptions(ctx, workflow.ActivityOptions{
		StartToCloseTimeout: timeout,
		RetryPolicy:         &temporal.RetryPolicy{MaximumAttempts: attempts},
	})
}
