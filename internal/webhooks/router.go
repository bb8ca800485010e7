package webhooks

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/relay-run/relay/internal/db"
	"github.com/relay-run/relay/internal/metrics"
	"github.com/relay-run/relay/internal/ratecontrol"
	"github.com/relay-run/relay/internal/triggers"
)

const maxBodyBytes = 1 << 20 // 1 MiB

// Per-webhook-id ingest budget.
const (
	defaultRPS     = 10
	defaultBurst   = 30
	limiterIdleTTL = 10 * time.Minute
)

// TriggerExecutor is the slice of the trigger service the router needs.
type TriggerExecutor interface {
	LookupWebhook(ctx context.Context, webhookID string) ([]*triggers.Trigger, error)
	Execute(ctx context.Context, id uuid.UUID, source string, payload map[string]interface{}) (*triggers.Execution, error)
}

// Router ingests public webhook requests and dispatches them to every
// trigger bound to the webhook id. Client-facing error messages are opaque;
// the detailed cause is logged and stored server-side.
type Router struct {
	service TriggerExecutor
	limiter *ratecontrol.Limiter
	logger  *zap.Logger
}

func NewRouter(service TriggerExecutor, logger *zap.Logger) *Router {
	return &Router{
		service: service,
		limiter: ratecontrol.New(defaultRPS, defaultBurst, limiterIdleTTL),
		logger:  logger,
	}
}

// Register mounts the ingest endpoint. The route is unauthenticated: the
// webhook id is the capability, so each id gets its own rate budget.
func (rt *Router) Register(r *mux.Router) {
	r.HandleFunc("/webhooks/{webhook_id}", rt.handle)
}

type dispatchResult struct {
	TriggerID string `json:"trigger_id"`
	Status    string `json:"status"`
	TaskID    string `json:"task_id,omitempty"`
}

func (rt *Router) handle(w http.ResponseWriter, r *http.Request) {
	webhookID := mux.Vars(r)["webhook_id"]

	if !rt.limiter.Allow(webhookID) {
		rt.fail(w, http.StatusTooManyRequests, "rate limited", "rate_limited")
		return
	}

	matched, err := rt.service.LookupWebhook(r.Context(), webhookID)
	if err != nil {
		rt.logger.Error("Webhook lookup failed",
			zap.String("webhook_id", webhookID), zap.Error(err))
		rt.fail(w, http.StatusInternalServerError, "internal error", "error")
		return
	}
	if len(matched) == 0 {
		rt.fail(w, http.StatusNotFound, "not found", "not_found")
		return
	}

	var active []*triggers.Trigger
	for _, t := range matched {
		if t.IsActive {
			active = append(active, t)
		}
	}
	if len(active) == 0 {
		rt.fail(w, http.StatusBadRequest, "inactive", "inactive")
		return
	}

	var methodOK []*triggers.Trigger
	for _, t := range active {
		if t.MethodAllowed(r.Method) {
			methodOK = append(methodOK, t)
		}
	}
	if len(methodOK) == 0 {
		rt.fail(w, http.StatusMethodNotAllowed, "method not allowed", "method_not_allowed")
		return
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		rt.fail(w, http.StatusBadRequest, "validation failed", "validation_failed")
		return
	}

	// All triggers on one endpoint share its validation posture; the request
	// must satisfy every matched trigger's rules before anything fires.
	for _, t := range methodOK {
		if vErr := validateRequest(t, r, body); vErr != nil {
			rt.logger.Warn("Webhook validation failed",
				zap.String("webhook_id", webhookID),
				zap.String("trigger_id", t.ID.String()),
				zap.Error(vErr))
			rt.fail(w, http.StatusBadRequest, "validation failed", "validation_failed")
			return
		}
	}

	results := make([]dispatchResult, 0, len(methodOK))
	var internalErr bool
	for _, t := range methodOK {
		payload := parsePayload(derefStr(t.WebhookType), r, body)

		// The ingest path carries no caller identity; executions run under
		// the trigger owner's scope.
		ctx := db.ContextWithScope(r.Context(), t.WorkspaceID, t.CreatedBy)
		exec, execErr := rt.service.Execute(ctx, t.ID, "webhook", payload)

		res := dispatchResult{TriggerID: t.ID.String()}
		switch {
		case execErr != nil && errors.Is(execErr, triggers.ErrTriggerInactive):
			res.Status = triggers.ExecutionFailed
		case execErr != nil:
			rt.logger.Error("Webhook trigger execution failed",
				zap.String("trigger_id", t.ID.String()), zap.Error(execErr))
			res.Status = triggers.ExecutionFailed
			if exec == nil {
				internalErr = true
			}
		default:
			res.Status = exec.Status
			if exec.TaskID != nil {
				res.TaskID = exec.TaskID.String()
			}
		}
		results = append(results, res)
	}

	if internalErr {
		rt.fail(w, http.StatusInternalServerError, "internal error", "error")
		return
	}

	metrics.WebhookRequests.WithLabelValues("success").Inc()
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(map[string]interface{}{
		"status":  "success",
		"results": results,
	})
}

func (rt *Router) fail(w http.ResponseWriter, code int, msg, outcome string) {
	metrics.WebhookRequests.WithLabelValues(outcome).Inc()
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": msg})
}

// validateRequest applies the trigger's validation_rules to the request.
// The returned error is for the server-side log only, never the client.
func validateRequest(t *triggers.Trigger, r *http.Request, body []byte) error {
	rules := t.ValidationRules
	if len(rules) == 0 {
		return nil
	}

	if raw, ok := rules["required_headers"]; ok {
		headers, ok := raw.([]interface{})
		if !ok {
			return errors.New("required_headers must be a list")
		}
		for _, h := range headers {
			name, _ := h.(string)
			if name == "" || r.Header.Get(name) == "" {
				return errors.New("missing required header " + name)
			}
		}
	}

	if raw, ok := rules["content_type"]; ok {
		want, _ := raw.(string)
		got := r.Header.Get("Content-Type")
		if want != "" && !strings.Contains(strings.ToLower(got), strings.ToLower(want)) {
			return errors.New("content type mismatch: " + got)
		}
	}

	if raw, ok := rules["body_format"]; ok {
		format, _ := raw.(string)
		if format == "json" {
			var js json.RawMessage
			if len(body) == 0 || json.Unmarshal(body, &js) != nil {
				return errors.New("body is not valid JSON")
			}
		}
	}
	return nil
}

func derefStr(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
