package activities

import (
	"context"
	"fmt"

	"github.com/relay-run/relay/internal/db"
)

// BuildAgentConfig resolves the agent definition for a workflow run. The
// workflow validates the returned config before using it.
func (a *Activities) BuildAgentConfig(ctx context.Context, in BuildAgentConfigInput) (*AgentConfig, error) {
	ctx = db.ContextWithScope(ctx, in.Scope.WorkspaceID, in.Scope.UserID)
	agent, err := a.agents.Get(ctx, in.AgentID)
	if err != nil {
		return nil, fmt.Errorf("load agent %s: %w", in.AgentID, err)
	}
	return &AgentConfig{
		ID:           agent.ID.String(),
		Name:         agent.Name,
		ModelID:      agent.Model,
		SystemPrompt: agent.SystemPrompt,
		ToolsConfig:  map[string]interface{}(agent.Config),
	}, nil
}

// DiscoverAvailableTools lists the agent's tools, normalized to the
// OpenAI-style function schema the model consumes.
func (a *Activities) DiscoverAvailableTools(ctx context.Context, in DiscoverToolsInput) ([]ToolDefinition, error) {
	ctx = db.ContextWithScope(ctx, in.Scope.WorkspaceID, in.Scope.UserID)
	agent, err := a.agents.Get(ctx, in.AgentID)
	if err != nil {
		return nil, fmt.Errorf("load agent %s: %w", in.AgentID, err)
	}

	raw, ok := agent.Tools["tools"].([]interface{})
	if !ok {
		return nil, nil
	}
	out := make([]ToolDefinition, 0, len(raw))
	for _, entry := range raw {
		spec, ok := entry.(map[string]interface{})
		if !ok {
			continue
		}
		def := ToolDefinition{
			Parameters: map[string]interface{}{"type": "object", "properties": map[string]interface{}{}},
		}
		if name, ok := spec["name"].(string); ok {
			def.Name = name
		}
		if def.Name == "" {
			continue
		}
		if desc, ok := spec["description"].(string); ok {
			def.Description = desc
		}
		if params, ok := spec["parameters"].(map[string]interface{}); ok {
			def.Parameters = params
		}
		if confirm, ok := spec["requires_user_confirmation"].(bool); ok {
			def.RequiresConfirmation = confirm
		}
		if server, ok := spec["server_instance_id"].(string); ok {
			def.ServerInstanceID = server
		}
		out = append(out, def)
	}
	return out, nil
}
