package activities

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/relay-run/relay/internal/circuitbreaker"
	"github.com/relay-run/relay/internal/interceptors"
)

// ToolInvoker executes a named tool against the tool serving layer.
type ToolInvoker interface {
	Invoke(ctx context.Context, in InvokeToolInput) (*ToolResult, error)
}

// HTTPToolInvoker is the production invoker against the tool gateway.
type HTTPToolInvoker struct {
	baseURL string
	client  *http.Client
	logger  *zap.Logger
}

func NewHTTPToolInvoker(baseURL string, logger *zap.Logger) *HTTPToolInvoker {
	breaker := circuitbreaker.New("tools", circuitbreaker.DefaultConfig(), logger)
	return &HTTPToolInvoker{
		baseURL: baseURL,
		client: &http.Client{
			Timeout: 170 * time.Second,
			Transport: interceptors.NewOutboundRoundTripper(
				circuitbreaker.NewRoundTripper(breaker, nil)),
		},
		logger: logger,
	}
}

type toolExecuteRequest struct {
	Name             string                 `json:"name"`
	Arguments        map[string]interface{} `json:"arguments"`
	ServerInstanceID string                 `json:"server_instance_id,omitempty"`
	WorkspaceID      string                 `json:"workspace_id"`
}

func (t *HTTPToolInvoker) Invoke(ctx context.Context, in InvokeToolInput) (*ToolResult, error) {
	payload, err := json.Marshal(toolExecuteRequest{
		Name:             in.Name,
		Arguments:        in.Arguments,
		ServerInstanceID: in.ServerInstanceID,
		WorkspaceID:      in.Scope.WorkspaceID.String(),
	})
	if err != nil {
		return nil, fmt.Errorf("marshal tool request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		t.baseURL+"/v1/tools/execute", bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("tool request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 10<<20))
	if err != nil {
		return nil, fmt.Errorf("read tool response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.logger.Warn("Tool call failed",
			zap.String("tool", in.Name),
			zap.Int("status", resp.StatusCode))
		return nil, fmt.Errorf("tool %s returned status %d", in.Name, resp.StatusCode)
	}

	var out ToolResult
	if err := json.Unmarshal(body, &out); err != nil {
		// Non-JSON tool output flows through verbatim.
		out = ToolResult{Content: string(body)}
	}
	return &out, nil
}

// InvokeTool is the activity wrapper around the invoker.
func (a *Activities) InvokeTool(ctx context.Context, in InvokeToolInput) (*ToolResult, error) {
	return a.tools.Invoke(ctx, in)
}
