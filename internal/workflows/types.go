package workflows

import (
	"github.com/google/uuid"
)

// Workflow status values surfaced by the get_current_state query.
const (
	StatusInitializing       = "initializing"
	StatusExecuting          = "executing"
	StatusWaitingForApproval = "waiting_for_approval"
	StatusCompleted          = "completed"
	StatusFailed             = "failed"
	StatusCancelled          = "cancelled"
)

// AgentExecutionRequest is the input to AgentExecutionWorkflow.
type AgentExecutionRequest struct {
	TaskID                   uuid.UUID              `json:"task_id"`
	AgentID                  uuid.UUID              `json:"agent_id"`
	UserID                   uuid.UUID              `json:"user_id"`
	WorkspaceID              uuid.UUID              `json:"workspace_id"`
	TaskQuery                string                 `json:"task_query"`
	TaskParameters           map[string]interface{} `json:"task_parameters,omitempty"`
	TimeoutSeconds           int                    `json:"timeout_seconds,omitempty"`
	MaxReasoningIterations   int                    `json:"max_reasoning_iterations,omitempty"`
	EnableAgentCommunication bool                   `json:"enable_agent_communication,omitempty"`
	RequiresHumanApproval    bool                   `json:"requires_human_approval,omitempty"`
	BudgetUSD                float64                `json:"budget_usd,omitempty"`
	BudgetWarnAt             float64                `json:"budget_warn_at,omitempty"`
	WorkflowMetadata         map[string]interface{} `json:"workflow_metadata,omitempty"`
}

// AgentExecutionResult is the workflow's return value.
type AgentExecutionResult struct {
	TaskID                  string  `json:"task_id"`
	Success                 bool    `json:"success"`
	FinalResponse           string  `json:"final_response,omitempty"`
	ReasoningIterationsUsed int     `json:"reasoning_iterations_used"`
	TotalCostUSD            float64 `json:"total_cost_usd"`
	Error                   string  `json:"error,omitempty"`
	ErrorType               string  `json:"error_type,omitempty"`
}

// CurrentState is the get_current_state query response.
type CurrentState struct {
	Status           string  `json:"status"`
	CurrentIteration int     `json:"current_iteration"`
	Success          bool    `json:"success"`
	CostUSD          float64 `json:"cost"`
	BudgetRemaining  float64 `json:"budget_remaining"`
	Paused           bool    `json:"paused"`
	PauseReason      string  `json:"pause_reason,omitempty"`
}
