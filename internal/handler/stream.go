package handler

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/flowbit-ai/chat-with-data/internal/model"
	"github.com/flowbit-ai/chat-with-data/internal/service"
	"github.com/flowbit-ai/chat-with-data/pkg/logger"
	"github.com/flowbit-ai/chat-with-data/pkg/metrics"
)

// DefaultHeartbeat is the interval between SSE heartbeats.
const DefaultHeartbeat = 30 * time.Second

// StreamHandler handles SSE streaming endpoints.
type StreamHandler struct {
	chat      *service.ChatService
	heartbeat time.Duration
	logger    *logger.Logger
}

// NewStreamHandler creates a new stream handler.
func NewStreamHandler(chat *service.ChatService, heartbeat time.Duration, log *logger.Logger) *StreamHandler {
	if heartbeat <= 0 {
		heartbeat = DefaultHeartbeat
	}
	return &StreamHandler{
		chat:      chat,
		heartbeat: heartbeat,
		logger:    log,
	}
}

// Stream handles GET /api/v1/chat/stream
// The current log is replayed as turn events, followed by replay_complete
// and then live turn and cleared events.
func (h *StreamHandler) Stream(w http.ResponseWriter, r *http.Request) {
	if !h.chat.Ready() {
		writeError(w, http.StatusServiceUnavailable, service.ErrNotReady.Error())
		return
	}

	if _, ok := w.(http.Flusher); !ok {
		writeError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	// Set SSE headers
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no") // Disable nginx buffering

	rc := http.NewResponseController(w)

	// The server WriteTimeout would otherwise end the stream.
	if err := rc.SetWriteDeadline(time.Time{}); err != nil {
		h.logger.Debug("cannot clear stream write deadline", zap.Error(err))
	}

	metrics.IncrementSSEConnections()
	defer metrics.DecrementSSEConnections()

	snapshot, events, unsubscribe := h.chat.Subscribe()
	defer unsubscribe()

	namespace := h.chat.Namespace()
	if err := sendSSEEvent(w, rc, "connected", map[string]string{
		"namespace": namespace,
	}); err != nil {
		return
	}

	for i := range snapshot {
		err := sendSSEEvent(w, rc, string(model.EventTypeTurn), &model.TurnEvent{
			Type:      model.EventTypeTurn,
			Namespace: namespace,
			Turn:      &snapshot[i],
			Sequence:  i + 1,
			CreatedAt: snapshot[i].CreatedAt,
		})
		if err != nil {
			return
		}
	}
	if err := sendSSEEvent(w, rc, "replay_complete", &model.ReplayCompleteEvent{
		TurnCount: len(snapshot),
	}); err != nil {
		return
	}

	h.logger.Debug("turn replay complete", zap.Int("turns_replayed", len(snapshot)))

	heartbeat := time.NewTicker(h.heartbeat)
	defer heartbeat.Stop()

	done := r.Context().Done()
	for {
		var err error
		select {
		case <-done:
			h.logger.Debug("SSE client disconnected")
			return

		case ev, ok := <-events:
			if !ok {
				sendSSEEvent(w, rc, "error", &model.ErrorEvent{
					Code:    "stream_closed",
					Message: "Stream closed, reconnect to resume",
				})
				return
			}
			err = sendSSEEvent(w, rc, string(ev.Type), &ev)

		case <-heartbeat.C:
			err = sendSSEEvent(w, rc, "heartbeat", &model.HeartbeatEvent{
				Timestamp: time.Now(),
			})
		}
		if err != nil {
			h.logger.Debug("SSE write failed", zap.Error(err))
			return
		}
	}
}

// sendSSEEvent sends a Server-Sent Event.
func sendSSEEvent(w http.ResponseWriter, rc *http.ResponseController, event string, data interface{}) error {
	jsonData, err := json.Marshal(data)
	if err != nil {
		return err
	}

	if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, jsonData); err != nil {
		return err
	}
	return rc.Flush()
}
