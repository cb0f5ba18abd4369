package handler

import (
	"context"
	"net/http"

	"github.com/flowbit-ai/chat-with-data/internal/model"
)

// Prober checks the upstream service.
type Prober interface {
	Probe(ctx context.Context) (*model.HealthStatus, error)
	Diagnose(ctx context.Context) *model.HealthStatus
}

// Readiness reports whether the conversation log has been restored.
type Readiness interface {
	Ready() bool
}

// HealthHandler handles health check endpoints.
type HealthHandler struct {
	chat     Readiness
	upstream Prober
}

// NewHealthHandler creates a new health handler.
func NewHealthHandler(chat Readiness, upstream Prober) *HealthHandler {
	return &HealthHandler{
		chat:     chat,
		upstream: upstream,
	}
}

// Health handles GET /health
func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status": "healthy",
	})
}

// Ready handles GET /ready
func (h *HealthHandler) Ready(w http.ResponseWriter, r *http.Request) {
	if !h.chat.Ready() {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"status": "not ready",
			"reason": "conversation not restored",
		})
		return
	}

	if _, err := h.upstream.Probe(r.Context()); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"status": "not ready",
			"reason": "upstream unavailable",
			"error":  err.Error(),
		})
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"status": "ready",
	})
}

// Upstream handles GET /api/v1/debug/upstream
// It always answers 200; the probe outcome is in the body.
func (h *HealthHandler) Upstream(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.upstream.Diagnose(r.Context()))
}
