package httpapi

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/relay-run/relay/internal/triggers"
)

// triggerResponse decorates the stored trigger with the rendered ingest URL
// for webhook triggers.
type triggerResponse struct {
	*triggers.Trigger
	WebhookURL string `json:"webhook_url,omitempty"`
}

func (s *Server) triggerBody(t *triggers.Trigger) *triggerResponse {
	resp := &triggerResponse{Trigger: t}
	if t.Kind == triggers.KindWebhook && t.WebhookID != nil {
		resp.WebhookURL = fmt.Sprintf("%s/webhooks/%s", s.webhookBaseURL, *t.WebhookID)
	}
	return resp
}

func (s *Server) createTrigger(w http.ResponseWriter, r *http.Request) {
	var in triggers.Create
	if err := decodeBody(r, &in); err != nil {
		s.writeError(w, r, err)
		return
	}
	t, err := s.triggers.Create(r.Context(), &in)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, s.triggerBody(t))
}

func (s *Server) listTriggers(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f := triggers.Filter{
		Kind:          triggers.Kind(q.Get("trigger_type")),
		ActiveOnly:    q.Get("active_only") == "true",
		CreatorScoped: q.Get("created_by") == "me",
	}
	if raw := q.Get("agent_id"); raw != "" {
		id, err := pathParseUUID(raw, "agent_id")
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		f.AgentID = id
	}
	if raw := q.Get("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil {
			f.Limit = n
		}
	}
	list, err := s.triggers.List(r.Context(), f)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	out := make([]*triggerResponse, len(list))
	for i, t := range list {
		out[i] = s.triggerBody(t)
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) getTrigger(w http.ResponseWriter, r *http.Request) {
	id, err := pathUUID(r, "id")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	t, err := s.triggers.Get(r.Context(), id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, s.triggerBody(t))
}

func (s *Server) updateTrigger(w http.ResponseWriter, r *http.Request) {
	id, err := pathUUID(r, "id")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	var in triggers.Update
	if err := decodeBody(r, &in); err != nil {
		s.writeError(w, r, err)
		return
	}
	t, err := s.triggers.Update(r.Context(), id, &in)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, s.triggerBody(t))
}

func (s *Server) deleteTrigger(w http.ResponseWriter, r *http.Request) {
	id, err := pathUUID(r, "id")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if err := s.triggers.Delete(r.Context(), id); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) enableTrigger(w http.ResponseWriter, r *http.Request) {
	s.setTriggerActive(w, r, s.triggers.Enable)
}

func (s *Server) disableTrigger(w http.ResponseWriter, r *http.Request) {
	s.setTriggerActive(w, r, s.triggers.Disable)
}

func (s *Server) setTriggerActive(w http.ResponseWriter, r *http.Request, op func(context.Context, uuid.UUID) (*triggers.Trigger, error)) {
	id, err := pathUUID(r, "id")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	t, err := op(r.Context(), id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"trigger_id": t.ID,
		"is_active":  t.IsActive,
	})
}

func (s *Server) listExecutions(w http.ResponseWriter, r *http.Request) {
	id, err := pathUUID(r, "id")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	q := r.URL.Query()
	f := triggers.ExecutionFilter{Status: q.Get("status")}
	if raw := q.Get("start_time"); raw != "" {
		ts, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			s.writeError(w, r, &triggers.ValidationError{Field: "start_time", Message: "must be RFC3339"})
			return
		}
		f.StartTime = &ts
	}
	if raw := q.Get("end_time"); raw != "" {
		ts, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			s.writeError(w, r, &triggers.ValidationError{Field: "end_time", Message: "must be RFC3339"})
			return
		}
		f.EndTime = &ts
	}
	f.Page, _ = strconv.Atoi(q.Get("page"))
	f.PageSize, _ = strconv.Atoi(q.Get("page_size"))
	if f.Page < 1 {
		f.Page = 1
	}
	if f.PageSize <= 0 {
		f.PageSize = 50
	}

	execs, total, err := s.analytics.ListExecutions(r.Context(), id, f)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"executions": execs,
		"total":      total,
		"page":       f.Page,
		"page_size":  f.PageSize,
		"has_next":   f.Page*f.PageSize < total,
	})
}

func (s *Server) triggerStatus(w http.ResponseWriter, r *http.Request) {
	id, err := pathUUID(r, "id")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	t, err := s.triggers.Get(r.Context(), id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	body := map[string]interface{}{
		"trigger_id":                     t.ID,
		"is_active":                      t.IsActive,
		"last_execution_at":              t.LastExecutionAt,
		"consecutive_failures":           t.ConsecutiveFailures,
		"should_disable_due_to_failures": t.ConsecutiveFailures >= t.FailureThreshold,
	}
	if t.Kind == triggers.KindCron {
		body["schedule_info"] = map[string]interface{}{
			"cron_expression": t.CronExpression,
			"timezone":        t.Timezone,
			"next_run_time":   t.NextRunTime,
		}
	}
	writeJSON(w, http.StatusOK, body)
}

// windowHours parses the ?hours window, clamped to [1, 168].
func windowHours(r *http.Request) (int, error) {
	raw := r.URL.Query().Get("hours")
	if raw == "" {
		return 24, nil
	}
	hours, err := strconv.Atoi(raw)
	if err != nil || hours < 1 || hours > 168 {
		return 0, &triggers.ValidationError{Field: "hours", Message: "must be between 1 and 168"}
	}
	return hours, nil
}

func (s *Server) triggerMetrics(w http.ResponseWriter, r *http.Request) {
	id, err := pathUUID(r, "id")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	hours, err := windowHours(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	m, err := s.analytics.Metrics(r.Context(), id, hours)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, m)
}

func (s *Server) triggerTimeline(w http.ResponseWriter, r *http.Request) {
	id, err := pathUUID(r, "id")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	hours, err := windowHours(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	bucket := 60
	if raw := r.URL.Query().Get("bucket_size_minutes"); raw != "" {
		bucket, err = strconv.Atoi(raw)
		if err != nil || bucket < 5 || bucket > 1440 {
			s.writeError(w, r, &triggers.ValidationError{Field: "bucket_size_minutes", Message: "must be between 5 and 1440"})
			return
		}
	}
	buckets, err := s.analytics.Timeline(r.Context(), id, hours, bucket)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"trigger_id":          id,
		"window_hours":        hours,
		"bucket_size_minutes": bucket,
		"buckets":             buckets,
	})
}

func (s *Server) triggersHealth(w http.ResponseWriter, r *http.Request) {
	components := map[string]string{}
	if s.health != nil {
		components = s.health.Check(r.Context())
	}
	status := "healthy"
	code := http.StatusOK
	for _, st := range components {
		if st != "healthy" {
			status = "degraded"
			code = http.StatusServiceUnavailable
		}
	}
	writeJSON(w, code, map[string]interface{}{
		"status":     status,
		"components": components,
		"timestamp":  time.Now().UTC(),
	})
}
