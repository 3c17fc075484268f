package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"restotrack/core/activity"
	"restotrack/core/utils"
)

type ActivityHandler struct {
	svc    *activity.Service
	logger *utils.Logger
}

func NewActivityHandler(svc *activity.Service, logger *utils.Logger) *ActivityHandler {
	return &ActivityHandler{svc: svc, logger: logger}
}

type logEventRequest struct {
	EventType string         `json:"event_type"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

func (h *ActivityHandler) Log(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorID(r)
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	id, ok := pathInt64(r, "id")
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid incident id")
		return
	}
	var req logEventRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	ev, err := h.svc.Log(r.Context(), id, strings.TrimSpace(req.EventType), &actor, req.Metadata)
	if err != nil {
		var unknown *activity.UnknownEventTypeError
		if errors.As(err, &unknown) {
			writeError(w, http.StatusBadRequest, unknown.Error())
			return
		}
		h.logger.Errorf("log activity incident %d: %v", id, err)
		writeError(w, http.StatusInternalServerError, "server error")
		return
	}
	writeJSON(w, http.StatusCreated, ev)
}

func (h *ActivityHandler) Timeline(w http.ResponseWriter, r *http.Request) {
	id, ok := pathInt64(r, "id")
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid incident id")
		return
	}
	limit := parseIntDefault(r.URL.Query().Get("limit"), 100)
	eventType := strings.TrimSpace(r.URL.Query().Get("event_type"))
	items, err := h.svc.Timeline(r.Context(), id, limit, eventType)
	if err != nil {
		h.logger.Errorf("timeline incident %d: %v", id, err)
		writeError(w, http.StatusInternalServerError, "server error")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items})
}
