package activities

import (
	"time"

	"github.com/google/uuid"
)

// AgentConfig is the resolved agent definition handed to the workflow.
type AgentConfig struct {
	ID           string                 `json:"id"`
	Name         string                 `json:"name"`
	ModelID      string                 `json:"model_id"`
	SystemPrompt string                 `json:"system_prompt"`
	ToolsConfig  map[string]interface{} `json:"tools_config,omitempty"`
}

// ToolDefinition describes one callable tool in the OpenAI function shape.
type ToolDefinition struct {
	Name                 string                 `json:"name"`
	Description          string                 `json:"description"`
	Parameters           map[string]interface{} `json:"parameters"`
	RequiresConfirmation bool                   `json:"requires_confirmation,omitempty"`
	ServerInstanceID     string                 `json:"server_instance_id,omitempty"`
}

// ToolCall is one tool invocation requested by the model.
type ToolCall struct {
	ID        string                 `json:"id"`
	Name      string                 `json:"name"`
	Arguments map[string]interface{} `json:"arguments"`
}

// Message is one turn in the conversation passed to the model.
type Message struct {
	Role       string     `json:"role"`
	Content    string     `json:"content"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
	ToolCallID string     `json:"tool_call_id,omitempty"`
	Name       string     `json:"name,omitempty"`
}

// TokenUsage is the model-reported token accounting for one call.
type TokenUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// LLMResult is the assistant turn returned by InvokeLLM.
type LLMResult struct {
	Role      string     `json:"role"`
	Content   string     `json:"content"`
	ToolCalls []ToolCall `json:"tool_calls,omitempty"`
	Usage     TokenUsage `json:"usage"`
	CostUSD   float64    `json:"cost_usd"`
}

// Scope carries tenant identity into activities; workflow inputs are the
// only channel, there is no ambient context across the engine boundary.
type Scope struct {
	WorkspaceID uuid.UUID `json:"workspace_id"`
	UserID      uuid.UUID `json:"user_id"`
}

// BuildAgentConfigInput loads an agent definition.
type BuildAgentConfigInput struct {
	AgentID uuid.UUID `json:"agent_id"`
	Scope   Scope     `json:"scope"`
}

// DiscoverToolsInput lists the tools available to an agent.
type DiscoverToolsInput struct {
	AgentID uuid.UUID `json:"agent_id"`
	Scope   Scope     `json:"scope"`
}

// InvokeLLMInput is one model call.
type InvokeLLMInput struct {
	Messages []Message        `json:"messages"`
	ModelID  string           `json:"model_id"`
	Tools    []ToolDefinition `json:"tools,omitempty"`
	Scope    Scope            `json:"scope"`
}

// InvokeToolInput is one tool call.
type InvokeToolInput struct {
	Name             string                 `json:"name"`
	Arguments        map[string]interface{} `json:"arguments"`
	ServerInstanceID string                 `json:"server_instance_id,omitempty"`
	ToolsConfig      map[string]interface{} `json:"tools_config,omitempty"`
	Scope            Scope                  `json:"scope"`
}

// ToolResult is the outcome of one tool call, fed back to the model.
type ToolResult struct {
	Content string `json:"content"`
	IsError bool   `json:"is_error,omitempty"`
}

// WorkflowEvent is one event accumulated in workflow state and flushed via
// PublishWorkflowEvents. EventID is assigned deterministically inside the
// workflow so an activity retry cannot double-persist.
type WorkflowEvent struct {
	EventID   uuid.UUID              `json:"event_id"`
	EventType string                 `json:"event_type"`
	Timestamp time.Time              `json:"timestamp"`
	Data      map[string]interface{} `json:"data,omitempty"`
}

// PublishEventsInput flushes accumulated workflow events to the bus.
type PublishEventsInput struct {
	TaskID uuid.UUID       `json:"task_id"`
	Scope  Scope           `json:"scope"`
	Events []WorkflowEvent `json:"events"`
}

// UpdateTaskStatusInput writes a task's terminal (or transitional) status.
type UpdateTaskStatusInput struct {
	TaskID uuid.UUID              `json:"task_id"`
	Scope  Scope                  `json:"scope"`
	Status string                 `json:"status"`
	Result map[string]interface{} `json:"result,omitempty"`
	Error  string                 `json:"error,omitempty"`
}

// ExecuteTriggerInput runs one scheduled trigger firing.
type ExecuteTriggerInput struct {
	TriggerID uuid.UUID              `json:"trigger_id"`
	Scope     Scope                  `json:"scope"`
	Payload   map[string]interface{} `json:"payload,omitempty"`
}

// ExecuteTriggerResult reports the firing outcome back to the workflow.
type ExecuteTriggerResult struct {
	Status string `json:"status"`
	TaskID string `json:"task_id,omitempty"`
}
