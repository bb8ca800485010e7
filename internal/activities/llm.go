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

// LLMClient talks to the model serving layer. One call, one assistant turn.
type LLMClient interface {
	Complete(ctx context.Context, in InvokeLLMInput) (*LLMResult, error)
}

// HTTPLLMClient is the production client against the inference gateway.
type HTTPLLMClient struct {
	baseURL string
	client  *http.Client
	logger  *zap.Logger
}

func NewHTTPLLMClient(baseURL string, logger *zap.Logger) *HTTPLLMClient {
	breaker := circuitbreaker.New("llm", circuitbreaker.DefaultConfig(), logger)
	return &HTTPLLMClient{
		baseURL: baseURL,
		client: &http.Client{
			Timeout: 110 * time.Second,
			Transport: interceptors.NewOutboundRoundTripper(
				circuitbreaker.NewRoundTripper(breaker, nil)),
		},
		logger: logger,
	}
}

type completionRequest struct {
	Model       string           `json:"model"`
	Messages    []Message        `json:"messages"`
	Tools       []ToolDefinition `json:"tools,omitempty"`
	WorkspaceID string           `json:"workspace_id"`
}

type completionResponse struct {
	Role      string     `json:"role"`
	Content   string     `json:"content"`
	ToolCalls []ToolCall `json:"tool_calls,omitempty"`
	Usage     TokenUsage `json:"usage"`
	CostUSD   float64    `json:"cost_usd"`
}

func (c *HTTPLLMClient) Complete(ctx context.Context, in InvokeLLMInput) (*LLMResult, error) {
	payload, err := json.Marshal(completionRequest{
		Model:       in.ModelID,
		Messages:    in.Messages,
		Tools:       in.Tools,
		WorkspaceID: in.Scope.WorkspaceID.String(),
	})
	if err != nil {
		return nil, fmt.Errorf("marshal completion request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.baseURL+"/v1/completions", bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("llm request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 10<<20))
	if err != nil {
		return nil, fmt.Errorf("read llm response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		c.logger.Warn("LLM call failed",
			zap.Int("status", resp.StatusCode),
			zap.String("model", in.ModelID))
		return nil, fmt.Errorf("llm returned status %d", resp.StatusCode)
	}

	var out completionResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, fmt.Errorf("decode llm response: %w", err)
	}
	if out.Role == "" {
		out.Role = "assistant"
	}
	return &LLMResult{
		Role:      out.Role,
		Content:   out.Content,
		ToolCalls: out.ToolCalls,
		Usage:     out.Usage,
		CostUSD:   out.CostUSD,
	}, nil
}

// InvokeLLM is the activity wrapper around the client.
func (a *Activities) InvokeLLM(ctx context.Context, in InvokeLLMInput) (*LLMResult, error) {
	return a.llm.Complete(ctx, in)
}
