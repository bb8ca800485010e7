package httpapi

import (
	"context"
	"net/http"
	"strconv"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/relay-run/relay/internal/db"
	"github.com/relay-run/relay/internal/tasks"
	"github.com/relay-run/relay/internal/triggers"
)

// createTaskRequest is the JSON body for both task creation endpoints.
type createTaskRequest struct {
	Description              string                 `json:"description"`
	Parameters               map[string]interface{} `json:"parameters"`
	EnableAgentCommunication bool                   `json:"enable_agent_communication"`
	RequiresHumanApproval    bool                   `json:"requires_human_approval"`
	BudgetUSD                float64                `json:"budget_usd"`
}

func (s *Server) taskInput(r *http.Request, agentID uuid.UUID) (tasks.CreateTaskInput, error) {
	var body createTaskRequest
	if err := decodeBody(r, &body); err != nil {
		return tasks.CreateTaskInput{}, err
	}
	return tasks.CreateTaskInput{
		AgentID:                  agentID,
		Description:              body.Description,
		Parameters:               body.Parameters,
		EnableAgentCommunication: body.EnableAgentCommunication,
		RequiresHumanApproval:    body.RequiresHumanApproval,
		BudgetUSD:                body.BudgetUSD,
		Source:                   "api",
	}, nil
}

// createTaskStream starts a task and streams its events as SSE until the
// workflow reaches a terminal event.
func (s *Server) createTaskStream(w http.ResponseWriter, r *http.Request) {
	agentID, err := pathUUID(r, "agent_id")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	in, err := s.taskInput(r, agentID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	task, err := s.tasks.CreateAndStart(r.Context(), in)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	events, err := s.tasks.StreamEvents(r.Context(), task.ID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	sse, err := newSSEWriter(w)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.logger.Debug("Task event stream opened",
		zap.String("task_id", task.ID.String()))
	sse.pump(r, events)
}

func (s *Server) createTaskSync(w http.ResponseWriter, r *http.Request) {
	agentID, err := pathUUID(r, "agent_id")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	in, err := s.taskInput(r, agentID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	task, err := s.tasks.CreateAndStart(r.Context(), in)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, task)
}

func (s *Server) listTasks(w http.ResponseWriter, r *http.Request) {
	agentID, err := pathUUID(r, "agent_id")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	q := r.URL.Query()
	f := db.TaskFilter{AgentID: agentID, Status: q.Get("status")}
	if raw := q.Get("limit"); raw != "" {
		f.Limit, _ = strconv.Atoi(raw)
	}
	if raw := q.Get("offset"); raw != "" {
		f.Offset, _ = strconv.Atoi(raw)
	}
	list, err := s.tasks.List(r.Context(), f)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

// taskForAgent loads the task and rejects agent/task mismatches as not
// found, so task ids cannot be probed across agents.
func (s *Server) taskForAgent(r *http.Request) (*db.Task, error) {
	agentID, err := pathUUID(r, "agent_id")
	if err != nil {
		return nil, err
	}
	taskID, err := pathUUID(r, "task_id")
	if err != nil {
		return nil, err
	}
	task, err := s.tasks.Get(r.Context(), taskID)
	if err != nil {
		return nil, err
	}
	if task.AgentID != agentID {
		return nil, db.ErrNotFound
	}
	return task, nil
}

func (s *Server) getTask(w http.ResponseWriter, r *http.Request) {
	task, err := s.taskForAgent(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, task)
}

func (s *Server) taskStatus(w http.ResponseWriter, r *http.Request) {
	task, err := s.taskForAgent(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	body := map[string]interface{}{
		"task_id":    task.ID,
		"status":     task.Status,
		"start_time": task.StartedAt,
		"end_time":   task.CompletedAt,
		"error":      task.Error,
		"result":     task.Result,
	}
	if task.StartedAt != nil && task.CompletedAt != nil {
		body["execution_time"] = task.CompletedAt.Sub(*task.StartedAt).Seconds()
	}
	writeJSON(w, http.StatusOK, body)
}

func (s *Server) cancelTask(w http.ResponseWriter, r *http.Request) {
	task, err := s.taskForAgent(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	cancelled, err := s.tasks.Cancel(r.Context(), task.ID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if !cancelled {
		s.writeError(w, r, &triggers.ValidationError{Field: "task_id", Message: "task is not cancellable"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": db.TaskStatusCancelled})
}

func (s *Server) pauseTask(w http.ResponseWriter, r *http.Request) {
	s.signalTask(w, r, s.tasks.Pause, "paused")
}

func (s *Server) resumeTask(w http.ResponseWriter, r *http.Request) {
	s.signalTask(w, r, s.tasks.Resume, "resuming")
}

func (s *Server) signalTask(w http.ResponseWriter, r *http.Request, op func(ctx context.Context, id uuid.UUID, reason string) error, state string) {
	task, err := s.taskForAgent(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	var body struct {
		Reason string `json:"reason"`
	}
	_ = decodeBody(r, &body)
	if err := op(r.Context(), task.ID, body.Reason); err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"task_id": task.ID.String(), "status": state})
}

func (s *Server) taskEvents(w http.ResponseWriter, r *http.Request) {
	task, err := s.taskForAgent(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	q := r.URL.Query()
	limit, _ := strconv.Atoi(q.Get("limit"))
	offset, _ := strconv.Atoi(q.Get("offset"))
	events, total, err := s.events.Page(r.Context(), task.ID, limit, offset)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"events": events,
		"total":  total,
		"limit":  limit,
		"offset": offset,
	})
}

func (s *Server) streamTaskEvents(w http.ResponseWriter, r *http.Request) {
	task, err := s.taskForAgent(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	events, err := s.tasks.StreamEvents(r.Context(), task.ID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	sse, err := newSSEWriter(w)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	sse.pump(r, events)
}
