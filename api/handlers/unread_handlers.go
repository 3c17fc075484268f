package handlers

import (
	"net/http"

	"restotrack/core/unread"
	"restotrack/core/utils"
)

type UnreadHandler struct {
	svc    *unread.Service
	logger *utils.Logger
}

func NewUnreadHandler(svc *unread.Service, logger *utils.Logger) *UnreadHandler {
	return &UnreadHandler{svc: svc, logger: logger}
}

func (h *UnreadHandler) HasUnread(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorID(r)
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	has, err := h.svc.HasUnread(r.Context(), actor)
	if err != nil {
		h.logger.Errorf("has unread user %d: %v", actor, err)
		writeError(w, http.StatusInternalServerError, "server error")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"has_unread": has})
}

func (h *UnreadHandler) Counts(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorID(r)
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	counts, err := h.svc.UnreadCounts(r.Context(), actor)
	if err != nil {
		h.logger.Errorf("unread counts user %d: %v", actor, err)
		writeError(w, http.StatusInternalServerError, "server error")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"incidents": counts})
}
