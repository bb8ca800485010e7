package httpapi

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/relay-run/relay/internal/db"
	"github.com/relay-run/relay/internal/eventbus"
	"github.com/relay-run/relay/internal/metrics"
	"github.com/relay-run/relay/internal/tasks"
	"github.com/relay-run/relay/internal/triggers"
)

// TriggerAPI is the slice of the trigger service the HTTP layer uses.
type TriggerAPI interface {
	Create(ctx context.Context, in *triggers.Create) (*triggers.Trigger, error)
	Get(ctx context.Context, id uuid.UUID) (*triggers.Trigger, error)
	List(ctx context.Context, f triggers.Filter) ([]*triggers.Trigger, error)
	Update(ctx context.Context, id uuid.UUID, in *triggers.Update) (*triggers.Trigger, error)
	Delete(ctx context.Context, id uuid.UUID) error
	Enable(ctx context.Context, id uuid.UUID) (*triggers.Trigger, error)
	Disable(ctx context.Context, id uuid.UUID) (*triggers.Trigger, error)
}

// TriggerAnalytics is the execution history slice, implemented by the
// trigger store.
type TriggerAnalytics interface {
	ListExecutions(ctx context.Context, triggerID uuid.UUID, f triggers.ExecutionFilter) ([]*triggers.Execution, int, error)
	Metrics(ctx context.Context, triggerID uuid.UUID, hours int) (*triggers.ExecutionMetrics, error)
	Timeline(ctx context.Context, triggerID uuid.UUID, hours, bucketMinutes int) ([]*triggers.TimelineBucket, error)
}

// TaskAPI is the slice of the task orchestrator the HTTP layer uses.
type TaskAPI interface {
	CreateAndStart(ctx context.Context, in tasks.CreateTaskInput) (*db.Task, error)
	Get(ctx context.Context, taskID uuid.UUID) (*db.Task, error)
	List(ctx context.Context, f db.TaskFilter) ([]*db.Task, error)
	Cancel(ctx context.Context, taskID uuid.UUID) (bool, error)
	Pause(ctx context.Context, taskID uuid.UUID, reason string) error
	Resume(ctx context.Context, taskID uuid.UUID, reason string) error
	StreamEvents(ctx context.Context, taskID uuid.UUID) (<-chan eventbus.Event, error)
}

// TaskEvents serves the persisted event history endpoint.
type TaskEvents interface {
	Page(ctx context.Context, taskID uuid.UUID, limit, offset int) ([]*db.TaskEvent, int, error)
}

// HealthChecker reports component health for the health document.
type HealthChecker interface {
	Check(ctx context.Context) map[string]string
}

// Server is the authenticated /v1 API surface. The unauthenticated webhook
// ingest route is mounted separately by the caller.
type Server struct {
	triggers  TriggerAPI
	analytics TriggerAnalytics
	tasks     TaskAPI
	events    TaskEvents
	health    HealthChecker

	webhookBaseURL string
	logger         *zap.Logger
}

func NewServer(
	triggerSvc TriggerAPI,
	analytics TriggerAnalytics,
	taskSvc TaskAPI,
	events TaskEvents,
	health HealthChecker,
	webhookBaseURL string,
	logger *zap.Logger,
) *Server {
	return &Server{
		triggers:       triggerSvc,
		analytics:      analytics,
		tasks:          taskSvc,
		events:         events,
		health:         health,
		webhookBaseURL: webhookBaseURL,
		logger:         logger,
	}
}

// Register mounts all /v1 routes on r. The router passed in should already
// carry the auth middleware.
func (s *Server) Register(r *mux.Router) {
	// Trigger management.
	r.HandleFunc("/v1/triggers", s.createTrigger).Methods(http.MethodPost)
	r.HandleFunc("/v1/triggers", s.listTriggers).Methods(http.MethodGet)
	r.HandleFunc("/v1/triggers/health", s.triggersHealth).Methods(http.MethodGet)
	r.HandleFunc("/v1/triggers/{id}", s.getTrigger).Methods(http.MethodGet)
	r.HandleFunc("/v1/triggers/{id}", s.updateTrigger).Methods(http.MethodPut)
	r.HandleFunc("/v1/triggers/{id}", s.deleteTrigger).Methods(http.MethodDelete)
	r.HandleFunc("/v1/triggers/{id}/enable", s.enableTrigger).Methods(http.MethodPost)
	r.HandleFunc("/v1/triggers/{id}/disable", s.disableTrigger).Methods(http.MethodPost)
	r.HandleFunc("/v1/triggers/{id}/executions", s.listExecutions).Methods(http.MethodGet)
	r.HandleFunc("/v1/triggers/{id}/status", s.triggerStatus).Methods(http.MethodGet)
	r.HandleFunc("/v1/triggers/{id}/metrics", s.triggerMetrics).Methods(http.MethodGet)
	r.HandleFunc("/v1/triggers/{id}/timeline", s.triggerTimeline).Methods(http.MethodGet)

	// Agent tasks.
	r.HandleFunc("/v1/agents/{agent_id}/tasks", s.createTaskStream).Methods(http.MethodPost)
	r.HandleFunc("/v1/agents/{agent_id}/tasks/sync", s.createTaskSync).Methods(http.MethodPost)
	r.HandleFunc("/v1/agents/{agent_id}/tasks", s.listTasks).Methods(http.MethodGet)
	r.HandleFunc("/v1/agents/{agent_id}/tasks/{task_id}", s.getTask).Methods(http.MethodGet)
	r.HandleFunc("/v1/agents/{agent_id}/tasks/{task_id}", s.cancelTask).Methods(http.MethodDelete)
	r.HandleFunc("/v1/agents/{agent_id}/tasks/{task_id}/status", s.taskStatus).Methods(http.MethodGet)
	r.HandleFunc("/v1/agents/{agent_id}/tasks/{task_id}/pause", s.pauseTask).Methods(http.MethodPost)
	r.HandleFunc("/v1/agents/{agent_id}/tasks/{task_id}/resume", s.resumeTask).Methods(http.MethodPost)
	r.HandleFunc("/v1/agents/{agent_id}/tasks/{task_id}/events", s.taskEvents).Methods(http.MethodGet)
	r.HandleFunc("/v1/agents/{agent_id}/tasks/{task_id}/events/stream", s.streamTaskEvents).Methods(http.MethodGet)
	r.HandleFunc("/v1/agents/{agent_id}/tasks/{task_id}/events/ws", s.taskEventsWS).Methods(http.MethodGet)

	// Agent-to-agent.
	r.HandleFunc("/v1/agents/{agent_id}/a2a/rpc", s.a2aRPC).Methods(http.MethodPost)
	r.HandleFunc("/v1/agents/{agent_id}/a2a/well-known", s.a2aWellKnown).Methods(http.MethodGet)
}

// Instrument wraps a handler with request duration metrics.
func Instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, code: http.StatusOK}
		next.ServeHTTP(rec, r)

		route := r.URL.Path
		if cur := mux.CurrentRoute(r); cur != nil {
			if tmpl, err := cur.GetPathTemplate(); err == nil {
				route = tmpl
			}
		}
		metrics.HTTPRequestDuration.
			WithLabelValues(route, r.Method, strconv.Itoa(rec.code)).
			Observe(time.Since(start).Seconds())
	})
}

type statusRecorder struct {
	http.ResponseWriter
	code int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.code = code
	r.ResponseWriter.WriteHeader(code)
}

// Flush forwards to the wrapped writer so SSE works behind the recorder.
func (r *statusRecorder) Flush() {
	if f, ok := r.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}
