package webhooks

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/relay-run/relay/internal/db"
	"github.com/relay-run/relay/internal/triggers"
)

type fakeExecutor struct {
	triggers []*triggers.Trigger
	executed []uuid.UUID
	payloads map[uuid.UUID]map[string]interface{}
	// skipFor marks triggers whose conditions should not match.
	skipFor map[uuid.UUID]bool
}

func (f *fakeExecutor) LookupWebhook(_ context.Context, webhookID string) ([]*triggers.Trigger, error) {
	var out []*triggers.Trigger
	for _, t := range f.triggers {
		if t.WebhookID != nil && *t.WebhookID == webhookID {
			out = append(out, t)
		}
	}
	return out, nil
}

func (f *fakeExecutor) Execute(_ context.Context, id uuid.UUID, _ string, payload map[string]interface{}) (*triggers.Execution, error) {
	f.executed = append(f.executed, id)
	if f.payloads == nil {
		f.payloads = map[uuid.UUID]map[string]interface{}{}
	}
	f.payloads[id] = payload
	if f.skipFor[id] {
		return &triggers.Execution{TriggerID: id, Status: triggers.ExecutionSkipped}, nil
	}
	taskID := uuid.New()
	return &triggers.Execution{TriggerID: id, Status: triggers.ExecutionSuccess, TaskID: &taskID}, nil
}

func webhookTrigger(webhookID, webhookType string, active bool, methods []string, rules map[string]interface{}) *triggers.Trigger {
	wt := webhookType
	return &triggers.Trigger{
		ID:              uuid.New(),
		WorkspaceID:     uuid.New(),
		CreatedBy:       uuid.New(),
		Kind:            triggers.KindWebhook,
		IsActive:        active,
		WebhookID:       &webhookID,
		WebhookType:     &wt,
		AllowedMethods:  methods,
		ValidationRules: db.JSONB(rules),
	}
}

func serve(t *testing.T, exec *fakeExecutor, req *http.Request) *httptest.ResponseRecorder {
	t.Helper()
	r := mux.NewRouter()
	NewRouter(exec, zap.NewNop()).Register(r)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	return rec
}

func TestHandleUnknownWebhook(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/webhooks/nope", nil)
	rec := serve(t, &fakeExecutor{}, req)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHandleInactiveTrigger(t *testing.T) {
	exec := &fakeExecutor{triggers: []*triggers.Trigger{
		webhookTrigger("hook", "generic", false, []string{"POST"}, nil),
	}}
	req := httptest.NewRequest(http.MethodPost, "/webhooks/hook", nil)
	rec := serve(t, exec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Empty(t, exec.executed)
}

func TestHandleRateLimited(t *testing.T) {
	exec := &fakeExecutor{triggers: []*triggers.Trigger{
		webhookTrigger("hook", "generic", true, []string{"POST"}, nil),
	}}
	r := mux.NewRouter()
	NewRouter(exec, zap.NewNop()).Register(r)

	var last int
	for i := 0; i < defaultBurst+1; i++ {
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/webhooks/hook", nil))
		last = rec.Code
	}
	assert.Equal(t, http.StatusTooManyRequests, last)

	// A different webhook id is unaffected.
	exec.triggers = append(exec.triggers,
		webhookTrigger("other", "generic", true, []string{"POST"}, nil))
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/webhooks/other", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestHandleMethodNotAllowed(t *testing.T) {
	exec := &fakeExecutor{triggers: []*triggers.Trigger{
		webhookTrigger("hook", "generic", true, []string{"POST"}, nil),
	}}
	req := httptest.NewRequest(http.MethodGet, "/webhooks/hook", nil)
	rec := serve(t, exec, req)
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestHandleValidationRules(t *testing.T) {
	rules := map[string]interface{}{
		"required_headers": []interface{}{"X-Signature"},
		"content_type":     "application/json",
		"body_format":      "json",
	}
	exec := &fakeExecutor{triggers: []*triggers.Trigger{
		webhookTrigger("hook", "generic", true, []string{"POST"}, rules),
	}}

	// Missing header.
	req := httptest.NewRequest(http.MethodPost, "/webhooks/hook", bytes.NewBufferString(`{}`))
	req.Header.Set("Content-Type", "application/json")
	rec := serve(t, exec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "validation failed", "error message is opaque")

	// Malformed body.
	req = httptest.NewRequest(http.MethodPost, "/webhooks/hook", bytes.NewBufferString(`not json`))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Signature", "sig")
	rec = serve(t, exec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	// All rules satisfied.
	req = httptest.NewRequest(http.MethodPost, "/webhooks/hook", bytes.NewBufferString(`{"ok":true}`))
	req.Header.Set("Content-Type", "application/json; charset=utf-8")
	req.Header.Set("X-Signature", "sig")
	rec = serve(t, exec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, exec.executed, 1)
}

func TestHandleMultiTriggerDispatch(t *testing.T) {
	// Two triggers on one webhook id; conditions (simulated here by the
	// executor) let only the first fire, the second records a skip.
	w1 := webhookTrigger("deploy-hook", "generic", true, []string{"POST"}, nil)
	w2 := webhookTrigger("deploy-hook", "generic", true, []string{"POST"}, nil)
	exec := &fakeExecutor{
		triggers: []*triggers.Trigger{w1, w2},
		skipFor:  map[uuid.UUID]bool{w2.ID: true},
	}

	body := `{"ref":"refs/heads/main","branch":"main"}`
	req := httptest.NewRequest(http.MethodPost, "/webhooks/deploy-hook", bytes.NewBufferString(body))
	rec := serve(t, exec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, exec.executed, 2, "every matched trigger is invoked")

	var resp struct {
		Status  string `json:"status"`
		Results []struct {
			TriggerID string `json:"trigger_id"`
			Status    string `json:"status"`
			TaskID    string `json:"task_id"`
		} `json:"results"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Results, 2)

	byID := map[string]string{}
	tasks := 0
	for _, r := range resp.Results {
		byID[r.TriggerID] = r.Status
		if r.TaskID != "" {
			tasks++
		}
	}
	assert.Equal(t, triggers.ExecutionSuccess, byID[w1.ID.String()])
	assert.Equal(t, triggers.ExecutionSkipped, byID[w2.ID.String()])
	assert.Equal(t, 1, tasks, "exactly one task is created")
}

func TestParsePayloadGitHub(t *testing.T) {
	body := []byte(`{"action":"opened","repository":{"full_name":"relay-run/relay"},"sender":{"login":"octocat"}}`)
	req := httptest.NewRequest(http.MethodPost, "/webhooks/gh", bytes.NewBuffer(body))
	req.Header.Set("X-GitHub-Event", "pull_request")
	req.Header.Set("X-GitHub-Delivery", "d-123")

	data := parsePayload(triggers.WebhookTypeGitHub, req, body)
	gh := data["github"].(map[string]interface{})
	assert.Equal(t, "pull_request", gh["event"])
	assert.Equal(t, "d-123", gh["delivery"])
	assert.Equal(t, "relay-run/relay", gh["repository"])
	assert.Equal(t, "octocat", gh["sender"])
	assert.Equal(t, "opened", gh["action"])
}

func TestParsePayloadTelegram(t *testing.T) {
	body := []byte(`{"update_id":7,"message":{"chat":{"id":42},"from":{"id":9,"username":"ada"},"text":"hi","photo":[{}]}}`)
	req := httptest.NewRequest(http.MethodPost, "/webhooks/tg", bytes.NewBuffer(body))

	data := parsePayload(triggers.WebhookTypeTelegram, req, body)
	tg := data["telegram"].(map[string]interface{})
	assert.Equal(t, float64(7), tg["update_id"])
	assert.Equal(t, float64(42), tg["chat_id"])
	assert.Equal(t, "ada", tg["from_username"])
	assert.Equal(t, "hi", tg["text"])
	assert.Equal(t, "photo", tg["attachment_type"])
}

func TestParsePayloadMalformedBodyIsNonFatal(t *testing.T) {
	body := []byte(`{{{`)
	req := httptest.NewRequest(http.MethodPost, "/webhooks/x", bytes.NewBuffer(body))

	data := parsePayload(triggers.WebhookTypeGeneric, req, body)
	assert.Contains(t, data, "parse_error")
	assert.Equal(t, "{{{", data["raw_body"])
}
