// Package interceptors decorates outbound HTTP calls made from activities
// with workflow identity and trace propagation headers, so the LLM and tool
// services can correlate their logs with a task run.
package interceptors

import (
	"net/http"

	"go.temporal.io/sdk/activity"

	"github.com/relay-run/relay/internal/tracing"
)

const (
	headerWorkflowID = "X-Workflow-ID"
	headerRunID      = "X-Run-ID"
)

// OutboundRoundTripper injects workflow execution headers and a W3C
// traceparent on every request. Outside an activity context (tests, direct
// calls) the request passes through untouched.
type OutboundRoundTripper struct {
	base http.RoundTripper
}

func NewOutboundRoundTripper(base http.RoundTripper) *OutboundRoundTripper {
	if base == nil {
		base = http.DefaultTransport
	}
	return &OutboundRoundTripper{base: base}
}

func (o *OutboundRoundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	ctx := req.Context()
	if activity.IsActivity(ctx) {
		info := activity.GetInfo(ctx)
		if info.WorkflowExecution.ID != "" {
			req.Header.Set(headerWorkflowID, info.WorkflowExecution.ID)
			req.Header.Set(headerRunID, info.WorkflowExecution.RunID)
		}
	}
	tracing.InjectTraceparent(ctx, req)
	return o.base.RoundTrip(req)
}
