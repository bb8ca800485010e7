package eventbus

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Event types emitted by the agent execution workflow, namespaced under
// "workflow.".
const (
	TypeWorkflowStarted        = "workflow.workflow_started"
	TypeIterationStarted       = "workflow.iteration_started"
	TypeLLMCallStarted         = "workflow.llm_call_started"
	TypeLLMCallCompleted       = "workflow.llm_call_completed"
	TypeLLMCallFailed          = "workflow.llm_call_failed"
	TypeToolCallStarted        = "workflow.tool_call_started"
	TypeToolCallCompleted      = "workflow.tool_call_completed"
	TypeToolCallFailed         = "workflow.tool_call_failed"
	TypeBudgetWarning          = "workflow.budget_warning"
	TypeBudgetExceeded         = "workflow.budget_exceeded"
	TypeHumanApprovalRequested = "workflow.human_approval_requested"
	TypeHumanApprovalReceived  = "workflow.human_approval_received"
	TypeIterationCompleted     = "workflow.iteration_completed"
	TypeWorkflowCompleted      = "workflow.workflow_completed"
	TypeWorkflowFailed         = "workflow.workflow_failed"
	TypeWorkflowCancelled      = "workflow.workflow_cancelled"
	TypeTaskCompleted          = "workflow.task_completed"
	TypeTaskFailed             = "workflow.task_failed"
	TypeTaskCancelled          = "workflow.task_cancelled"

	// Trigger lifecycle events.
	TypeTriggerAutoDisabled = "trigger.auto_disabled"
)

// IsTerminal reports whether an event type closes a task stream.
func IsTerminal(eventType string) bool {
	switch eventType {
	case TypeWorkflowCompleted, TypeWorkflowFailed, TypeWorkflowCancelled,
		TypeTaskCompleted, TypeTaskFailed, TypeTaskCancelled:
		return true
	}
	return false
}

// Event is the domain event flowing through the bus. EventID is globally
// unique and is the deduplication key across replay and live delivery.
type Event struct {
	EventID     uuid.UUID              `json:"event_id"`
	TaskID      uuid.UUID              `json:"task_id"`
	WorkspaceID uuid.UUID              `json:"workspace_id"`
	EventType   string                 `json:"event_type"`
	Timestamp   time.Time              `json:"timestamp"`
	Data        map[string]interface{} `json:"data"`
	Metadata    map[string]interface{} `json:"metadata,omitempty"`
	// Seq is assigned by the in-process manager for Last-Event-ID replay.
	Seq uint64 `json:"seq,omitempty"`
}

// Marshal returns the JSON envelope for SSE frames and broker payloads.
func (e Event) Marshal() []byte {
	b, _ := json.Marshal(e)
	return b
}
