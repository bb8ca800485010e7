package control

import "time"

// Signal and query names exposed by every agent execution workflow.
const (
	SignalPause  = "pause"
	SignalResume = "resume"
	SignalCancel = "cancel"

	QueryCurrentState   = "get_current_state"
	QueryLatestEvents   = "get_latest_events"
	QueryWorkflowEvents = "get_workflow_events"
)

// PauseRequest is sent when pausing a workflow.
type PauseRequest struct {
	Reason      string `json:"reason"`
	RequestedBy string `json:"requested_by"`
}

// ResumeRequest is sent when resuming a paused workflow. It also releases a
// workflow waiting for human approval.
type ResumeRequest struct {
	Reason      string `json:"reason"`
	RequestedBy string `json:"requested_by"`
}

// CancelRequest is sent when gracefully cancelling a workflow.
type CancelRequest struct {
	Reason      string `json:"reason"`
	RequestedBy string `json:"requested_by"`
}

// State tracks pause/cancel state for query handlers.
type State struct {
	IsPaused     bool      `json:"is_paused"`
	IsCancelled  bool      `json:"is_cancelled"`
	PausedAt     time.Time `json:"paused_at,omitempty"`
	PauseReason  string    `json:"pause_reason,omitempty"`
	PausedBy     string    `json:"paused_by,omitempty"`
	CancelReason string    `json:"cancel_reason,omitempty"`
	CancelledBy  string    `json:"cancelled_by,omitempty"`
}
