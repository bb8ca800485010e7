package control

import (
	"fmt"

	"go.temporal.io/sdk/log"
	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/workflow"
)

// SignalHandler manages pause/resume/cancel for a workflow. Signal receipt
// runs in a workflow.Go coroutine; workflow coroutines are cooperatively
// scheduled, so plain field writes are safe.
type SignalHandler struct {
	State  *State
	Logger log.Logger
}

// Setup registers signal channels and starts the receive loop.
func (h *SignalHandler) Setup(ctx workflow.Context) {
	h.State = &State{}

	pauseCh := workflow.GetSignalChannel(ctx, SignalPause)
	resumeCh := workflow.GetSignalChannel(ctx, SignalResume)
	cancelCh := workflow.GetSignalChannel(ctx, SignalCancel)

	workflow.Go(ctx, func(gCtx workflow.Context) {
		for {
			sel := workflow.NewSelector(gCtx)
			sel.AddReceive(pauseCh, func(c workflow.ReceiveChannel, more bool) {
				var req PauseRequest
				c.Receive(gCtx, &req)
				h.handlePause(gCtx, req)
			})
			sel.AddReceive(resumeCh, func(c workflow.ReceiveChannel, more bool) {
				var req ResumeRequest
				c.Receive(gCtx, &req)
				h.handleResume(req)
			})
			sel.AddReceive(cancelCh, func(c workflow.ReceiveChannel, more bool) {
				var req CancelRequest
				c.Receive(gCtx, &req)
				h.handleCancel(req)
			})
			sel.Select(gCtx)
		}
	})
}

func (h *SignalHandler) handlePause(ctx workflow.Context, req PauseRequest) {
	if h.State.IsPaused {
		h.Logger.Debug("Already paused, ignoring")
		return
	}
	h.State.IsPaused = true
	h.State.PausedAt = workflow.Now(ctx)
	h.State.PauseReason = req.Reason
	h.State.PausedBy = req.RequestedBy
	h.Logger.Info("Workflow paused", "reason", req.Reason)
}

func (h *SignalHandler) handleResume(req ResumeRequest) {
	if !h.State.IsPaused {
		h.Logger.Debug("Not paused, ignoring resume")
		return
	}
	h.State.IsPaused = false
	h.State.PauseReason = ""
	h.State.PausedBy = ""
	h.Logger.Info("Workflow resumed", "reason", req.Reason)
}

func (h *SignalHandler) handleCancel(req CancelRequest) {
	h.State.IsCancelled = true
	h.State.CancelReason = req.Reason
	h.State.CancelledBy = req.RequestedBy
	h.Logger.Info("Workflow cancel requested", "reason", req.Reason)
}

// CheckPausePoint blocks while paused and returns a CanceledError if the
// workflow was cancelled. Call between loop steps.
func (h *SignalHandler) CheckPausePoint(ctx workflow.Context) error {
	if h.State == nil {
		return nil
	}

	// Yield so signals received but not yet processed are applied first.
	_ = workflow.Sleep(ctx, 0)

	if h.State.IsCancelled {
		return temporal.NewCanceledError(fmt.Sprintf("workflow cancelled: %s", h.State.CancelReason))
	}
	if h.State.IsPaused {
		// Await blocks without polling; one history event on resume.
		_ = workflow.Await(ctx, func() bool {
			return !h.State.IsPaused || h.State.IsCancelled
		})
		if h.State.IsCancelled {
			return temporal.NewCanceledError(fmt.Sprintf("workflow cancelled while paused: %s", h.State.CancelReason))
		}
	}
	return nil
}

// AwaitResume blocks until a resume signal or cancellation arrives; used by
// human approval gating.
func (h *SignalHandler) AwaitResume(ctx workflow.Context) error {
	h.State.IsPaused = true
	_ = workflow.Await(ctx, func() bool {
		return !h.State.IsPaused || h.State.IsCancelled
	})
	if h.State.IsCancelled {
		return temporal.NewCanceledError(fmt.Sprintf("workflow cancelled while awaiting approval: %s", h.State.CancelReason))
	}
	return nil
}

// IsCancelled reports whether a cancel signal has been received.
func (h *SignalHandler) IsCancelled() bool {
	return h.State != nil && h.State.IsCancelled
}

// IsPaused reports whether the workflow is currently paused.
func (h *SignalHandler) IsPaused() bool {
	return h.State != nil && h.State.IsPaused
}
