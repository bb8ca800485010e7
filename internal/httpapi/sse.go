package httpapi

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/relay-run/relay/internal/eventbus"
	"github.com/relay-run/relay/internal/metrics"
)

// heartbeatInterval keeps idle SSE connections alive through proxies.
const heartbeatInterval = 15 * time.Second

// sseWriter frames events for an EventSource client.
type sseWriter struct {
	w       http.ResponseWriter
	flusher http.Flusher
}

// newSSEWriter sets the stream headers and returns a writer, or an error
// when the connection cannot stream.
func newSSEWriter(w http.ResponseWriter) (*sseWriter, error) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, fmt.Errorf("streaming unsupported by connection")
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()
	return &sseWriter{w: w, flusher: flusher}, nil
}

// envelope is the SSE payload: the event identity plus its data merged with
// the task id for clients that multiplex streams.
type envelope struct {
	EventType string                 `json:"event_type"`
	EventID   string                 `json:"event_id"`
	Timestamp time.Time              `json:"timestamp"`
	Data      map[string]interface{} `json:"data"`
}

// Event writes one `event:`/`data:` frame.
func (s *sseWriter) Event(evt eventbus.Event) error {
	data := evt.Data
	if data == nil {
		data = map[string]interface{}{}
	}
	data["task_id"] = evt.TaskID.String()

	payload, err := json.Marshal(envelope{
		EventType: evt.EventType,
		EventID:   evt.EventID.String(),
		Timestamp: evt.Timestamp,
		Data:      data,
	})
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintf(s.w, "event: %s\ndata: %s\n\n", evt.EventType, payload); err != nil {
		return err
	}
	s.flusher.Flush()
	return nil
}

// Done writes the stream terminator.
func (s *sseWriter) Done() {
	_, _ = fmt.Fprint(s.w, "data: [DONE]\n\n")
	s.flusher.Flush()
}

// Heartbeat writes an SSE comment frame.
func (s *sseWriter) Heartbeat() {
	_, _ = fmt.Fprint(s.w, ": heartbeat\n\n")
	s.flusher.Flush()
}

// pump forwards events to the client until the stream closes, the request
// context ends, or a write fails. It always writes the [DONE] terminator.
func (s *sseWriter) pump(r *http.Request, events <-chan eventbus.Event) {
	metrics.StreamSubscribers.Inc()
	defer metrics.StreamSubscribers.Dec()
	defer s.Done()

	heartbeat := time.NewTicker(heartbeatInterval)
	defer heartbeat.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-heartbeat.C:
			s.Heartbeat()
		case evt, ok := <-events:
			if !ok {
				return
			}
			if err := s.Event(evt); err != nil {
				return
			}
		}
	}
}
