package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"github.com/relay-run/relay/internal/db"
	"github.com/relay-run/relay/internal/tasks"
	"github.com/relay-run/relay/internal/triggers"
)

// JSON-RPC 2.0 error codes, plus the A2A-specific range.
const (
	rpcParseError     = -32700
	rpcInvalidRequest = -32600
	rpcMethodNotFound = -32601
	rpcInvalidParams  = -32602
	rpcInternalError  = -32603

	rpcTaskNotFound   = -32001
	rpcNotCancellable = -32002
)

type rpcRequest struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type rpcResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id"`
	Result  interface{}     `json:"result,omitempty"`
	Error   *rpcError       `json:"error,omitempty"`
}

func rpcOK(id json.RawMessage, result interface{}) rpcResponse {
	return rpcResponse{JSONRPC: "2.0", ID: id, Result: result}
}

func rpcFail(id json.RawMessage, code int, msg string) rpcResponse {
	return rpcResponse{JSONRPC: "2.0", ID: id, Error: &rpcError{Code: code, Message: msg}}
}

// a2aStatus maps internal task statuses to the A2A vocabulary.
func a2aStatus(status string) string {
	switch status {
	case db.TaskStatusRunning:
		return "working"
	case db.TaskStatusCancelled:
		return "canceled"
	case db.TaskStatusPending, db.TaskStatusSubmitted:
		return "submitted"
	case db.TaskStatusPaused:
		return "input-required"
	default:
		return status
	}
}

func a2aTask(t *db.Task) map[string]interface{} {
	return map[string]interface{}{
		"id": t.ID.String(),
		"status": map[string]interface{}{
			"state":     a2aStatus(t.Status),
			"timestamp": t.UpdatedAt,
		},
		"metadata": map[string]interface{}{
			"agent_id":     t.AgentID.String(),
			"execution_id": t.ExecutionID,
		},
	}
}

type a2aSendParams struct {
	ID      string `json:"id"`
	Message struct {
		Parts []struct {
			Kind string `json:"kind"`
			Text string `json:"text"`
		} `json:"parts"`
		Metadata map[string]interface{} `json:"metadata"`
	} `json:"message"`
}

func (p *a2aSendParams) text() string {
	for _, part := range p.Message.Parts {
		if part.Text != "" {
			return part.Text
		}
	}
	return ""
}

func (s *Server) a2aRPC(w http.ResponseWriter, r *http.Request) {
	agentID, err := pathUUID(r, "agent_id")
	if err != nil {
		writeJSON(w, http.StatusOK, rpcFail(nil, rpcInvalidParams, "agent_id must be a UUID"))
		return
	}

	var req rpcRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20)).Decode(&req); err != nil {
		writeJSON(w, http.StatusOK, rpcFail(nil, rpcParseError, "parse error"))
		return
	}
	if req.JSONRPC != "2.0" || req.Method == "" {
		writeJSON(w, http.StatusOK, rpcFail(req.ID, rpcInvalidRequest, "invalid request"))
		return
	}

	switch req.Method {
	case "tasks/send", "message/send":
		s.a2aSend(w, r, req, agentID, false)
	case "message/stream":
		s.a2aSend(w, r, req, agentID, true)
	case "tasks/get":
		s.a2aGet(w, r, req)
	case "tasks/cancel":
		s.a2aCancel(w, r, req)
	case "agent/authenticatedExtendedCard":
		writeJSON(w, http.StatusOK, rpcOK(req.ID, s.agentCard(agentID, true)))
	default:
		writeJSON(w, http.StatusOK, rpcFail(req.ID, rpcMethodNotFound, "method not found"))
	}
}

func (s *Server) a2aSend(w http.ResponseWriter, r *http.Request, req rpcRequest, agentID uuid.UUID, stream bool) {
	var params a2aSendParams
	if err := json.Unmarshal(req.Params, &params); err != nil || params.text() == "" {
		writeJSON(w, http.StatusOK, rpcFail(req.ID, rpcInvalidParams, "message text required"))
		return
	}

	task, err := s.tasks.CreateAndStart(r.Context(), tasks.CreateTaskInput{
		AgentID:     agentID,
		Description: params.text(),
		Parameters:  params.Message.Metadata,
		Source:      "a2a",
	})
	if err != nil {
		writeJSON(w, http.StatusOK, s.rpcFromError(req.ID, err))
		return
	}

	if !stream {
		writeJSON(w, http.StatusOK, rpcOK(req.ID, a2aTask(task)))
		return
	}

	events, err := s.tasks.StreamEvents(r.Context(), task.ID)
	if err != nil {
		writeJSON(w, http.StatusOK, s.rpcFromError(req.ID, err))
		return
	}
	sse, err := newSSEWriter(w)
	if err != nil {
		writeJSON(w, http.StatusOK, rpcFail(req.ID, rpcInternalError, "streaming unsupported"))
		return
	}
	sse.pump(r, events)
}

func (s *Server) a2aGet(w http.ResponseWriter, r *http.Request, req rpcRequest) {
	taskID, rerr := a2aTaskID(req.Params)
	if rerr != nil {
		writeJSON(w, http.StatusOK, rpcFail(req.ID, rerr.Code, rerr.Message))
		return
	}
	task, err := s.tasks.Get(r.Context(), taskID)
	if err != nil {
		writeJSON(w, http.StatusOK, s.rpcFromError(req.ID, err))
		return
	}
	writeJSON(w, http.StatusOK, rpcOK(req.ID, a2aTask(task)))
}

func (s *Server) a2aCancel(w http.ResponseWriter, r *http.Request, req rpcRequest) {
	taskID, rerr := a2aTaskID(req.Params)
	if rerr != nil {
		writeJSON(w, http.StatusOK, rpcFail(req.ID, rerr.Code, rerr.Message))
		return
	}
	cancelled, err := s.tasks.Cancel(r.Context(), taskID)
	if err != nil {
		writeJSON(w, http.StatusOK, s.rpcFromError(req.ID, err))
		return
	}
	if !cancelled {
		writeJSON(w, http.StatusOK, rpcFail(req.ID, rpcNotCancellable, "task cannot be canceled"))
		return
	}
	task, err := s.tasks.Get(r.Context(), taskID)
	if err != nil {
		writeJSON(w, http.StatusOK, s.rpcFromError(req.ID, err))
		return
	}
	writeJSON(w, http.StatusOK, rpcOK(req.ID, a2aTask(task)))
}

func a2aTaskID(params json.RawMessage) (uuid.UUID, *rpcError) {
	var p struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(params, &p); err != nil || p.ID == "" {
		return uuid.Nil, &rpcError{Code: rpcInvalidParams, Message: "task id required"}
	}
	id, err := uuid.Parse(p.ID)
	if err != nil {
		return uuid.Nil, &rpcError{Code: rpcInvalidParams, Message: "task id must be a UUID"}
	}
	return id, nil
}

func (s *Server) rpcFromError(id json.RawMessage, err error) rpcResponse {
	var verr *triggers.ValidationError
	switch {
	case errors.As(err, &verr):
		return rpcFail(id, rpcInvalidParams, verr.Error())
	case errors.Is(err, db.ErrNotFound):
		return rpcFail(id, rpcTaskNotFound, "task not found")
	case errors.Is(err, tasks.ErrTaskTerminal):
		return rpcFail(id, rpcNotCancellable, "task cannot be canceled")
	default:
		return rpcFail(id, rpcInternalError, "internal error")
	}
}

// agentCard renders the A2A agent card document.
func (s *Server) agentCard(agentID uuid.UUID, authenticated bool) map[string]interface{} {
	card := map[string]interface{}{
		"protocolVersion":    "0.2",
		"name":               "relay-agent",
		"url":                s.webhookBaseURL + "/v1/agents/" + agentID.String() + "/a2a/rpc",
		"preferredTransport": "JSONRPC",
		"capabilities": map[string]interface{}{
			"streaming":         true,
			"pushNotifications": false,
		},
		"defaultInputModes":  []string{"text/plain"},
		"defaultOutputModes": []string{"text/plain"},
	}
	if authenticated {
		card["supportsAuthenticatedExtendedCard"] = true
	}
	return card
}

func (s *Server) a2aWellKnown(w http.ResponseWriter, r *http.Request) {
	agentID, err := uuid.Parse(mux.Vars(r)["agent_id"])
	if err != nil {
		writeErrorMsg(w, http.StatusBadRequest, "agent_id must be a UUID")
		return
	}
	writeJSON(w, http.StatusOK, s.agentCard(agentID, false))
}
