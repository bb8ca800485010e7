package httpapi

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

var wsUpgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	// Token auth already ran in middleware; origin checks are delegated to
	// the ingress layer.
	CheckOrigin: func(r *http.Request) bool { return true },
}

const (
	wsWriteTimeout = 10 * time.Second
	wsPingInterval = 30 * time.Second
)

// taskEventsWS is the WebSocket rendition of the event stream: same
// envelope JSON as SSE data frames, one event per text message.
func (s *Server) taskEventsWS(w http.ResponseWriter, r *http.Request) {
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

	conn, err := wsUpgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Debug("WebSocket upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()

	// Drain client frames so pong/close handling works.
	go func() {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ping := time.NewTicker(wsPingInterval)
	defer ping.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-ping.C:
			_ = conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case evt, ok := <-events:
			if !ok {
				_ = conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
				_ = conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, "stream complete"))
				return
			}
			_ = conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
			if err := conn.WriteMessage(websocket.TextMessage, evt.Marshal()); err != nil {
				s.logger.Debug("WebSocket write failed",
					zap.String("task_id", task.ID.String()), zap.Error(err))
				return
			}
		}
	}
}
