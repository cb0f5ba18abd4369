// Package handler exposes the conversation over HTTP.
package handler

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/flowbit-ai/chat-with-data/internal/middleware"
	"github.com/flowbit-ai/chat-with-data/internal/model"
	"github.com/flowbit-ai/chat-with-data/internal/service"
	"github.com/flowbit-ai/chat-with-data/pkg/logger"
)

// ChatHandler handles conversation endpoints.
type ChatHandler struct {
	chat      *service.ChatService
	explainer *service.Explainer
	logger    *logger.Logger
}

// NewChatHandler creates a new chat handler. explainer may be nil.
func NewChatHandler(chat *service.ChatService, explainer *service.Explainer, log *logger.Logger) *ChatHandler {
	return &ChatHandler{
		chat:      chat,
		explainer: explainer,
		logger:    log,
	}
}

// Ask handles POST /api/v1/chat/questions
// With ?wait=true the request blocks until the answer is appended.
func (h *ChatHandler) Ask(w http.ResponseWriter, r *http.Request) {
	var req model.AskRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if err := middleware.ValidateQuestion(req.Question); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	question := strings.TrimSpace(req.Question)

	if wait, _ := strconv.ParseBool(r.URL.Query().Get("wait")); wait {
		turn, accepted, err := h.chat.Ask(r.Context(), question)
		if err != nil {
			h.serviceError(w, r, err)
			return
		}
		h.writeAccepted(w, accepted, http.StatusOK, turn)
		return
	}

	accepted, err := h.chat.Submit(r.Context(), question)
	if err != nil {
		h.serviceError(w, r, err)
		return
	}
	h.writeAccepted(w, accepted, http.StatusAccepted, nil)
}

func (h *ChatHandler) writeAccepted(w http.ResponseWriter, accepted bool, status int, turn *model.Turn) {
	if !accepted {
		status = http.StatusConflict
	}
	writeJSON(w, status, &model.AskResponse{
		Accepted: accepted,
		State:    string(h.chat.Status().State),
		Turn:     turn,
	})
}

// Turns handles GET /api/v1/chat/turns
func (h *ChatHandler) Turns(w http.ResponseWriter, r *http.Request) {
	turns, err := h.chat.Turns()
	if err != nil {
		h.serviceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, &model.ListTurnsResponse{
		Turns: turns,
		Total: len(turns),
	})
}

// Clear handles DELETE /api/v1/chat
func (h *ChatHandler) Clear(w http.ResponseWriter, r *http.Request) {
	if err := h.chat.Clear(r.Context()); err != nil {
		h.serviceError(w, r, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// Cancel handles DELETE /api/v1/chat/inflight
func (h *ChatHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]bool{
		"cancelled": h.chat.Cancel(),
	})
}

// State handles GET /api/v1/chat/state
func (h *ChatHandler) State(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.chat.Status())
}

// Context handles GET /api/v1/chat/context
func (h *ChatHandler) Context(w http.ResponseWriter, r *http.Request) {
	c, err := h.chat.Context()
	if err != nil {
		h.serviceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, c)
}

// Export handles GET /api/v1/chat/export
func (h *ChatHandler) Export(w http.ResponseWriter, r *http.Request) {
	exp, err := h.chat.Export(r.Context())
	if err != nil {
		h.serviceError(w, r, err)
		return
	}

	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	w.Header().Set("Content-Disposition", `attachment; filename="`+service.ExportFilename+`"`)
	w.Header().Set("Content-Length", strconv.Itoa(len(exp.Data)))
	w.Header().Set("X-Export-Source", exp.Source)
	w.WriteHeader(http.StatusOK)
	w.Write(exp.Data)
}

// Explain handles POST /api/v1/chat/explain
func (h *ChatHandler) Explain(w http.ResponseWriter, r *http.Request) {
	sql, err := h.chat.LastSQL()
	if err != nil {
		h.serviceError(w, r, err)
		return
	}

	resp, err := h.explainer.Explain(r.Context(), sql)
	if err != nil {
		h.serviceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, resp)
}

// serviceError maps orchestrator errors onto status codes.
func (h *ChatHandler) serviceError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, context.Canceled) && r.Context().Err() != nil:
		// client went away
		return
	case errors.Is(err, service.ErrEmptyQuestion):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, service.ErrNoSQL), errors.Is(err, service.ErrNothingToExport):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, service.ErrNotReady), errors.Is(err, service.ErrExplainUnavailable):
		writeError(w, http.StatusServiceUnavailable, err.Error())
	default:
		ctx := r.Context()
		h.logger.WithRequest(middleware.GetCorrelationID(ctx), middleware.GetUserID(ctx)).
			Error("request failed", zap.String("path", r.URL.Path), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}
