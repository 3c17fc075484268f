package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"restotrack/core/messages"
	"restotrack/core/unread"
	"restotrack/core/utils"
)

type MessagesHandler struct {
	svc    *messages.Service
	unread *unread.Service
	logger *utils.Logger
}

func NewMessagesHandler(svc *messages.Service, unreadSvc *unread.Service, logger *utils.Logger) *MessagesHandler {
	return &MessagesHandler{svc: svc, unread: unreadSvc, logger: logger}
}

type postMessageRequest struct {
	Body string `json:"body"`
}

func (h *MessagesHandler) Post(w http.ResponseWriter, r *http.Request) {
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
	var req postMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	msg, err := h.svc.Post(r.Context(), id, actor, req.Body)
	if err != nil {
		if errors.Is(err, messages.ErrEmptyBody) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		h.logger.Errorf("post message incident %d: %v", id, err)
		writeError(w, http.StatusInternalServerError, "server error")
		return
	}
	writeJSON(w, http.StatusCreated, msg)
}

func (h *MessagesHandler) Thread(w http.ResponseWriter, r *http.Request) {
	id, ok := pathInt64(r, "id")
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid incident id")
		return
	}
	limit := parseIntDefault(r.URL.Query().Get("limit"), 100)
	items, err := h.svc.Thread(r.Context(), id, limit)
	if err != nil {
		h.logger.Errorf("list messages incident %d: %v", id, err)
		writeError(w, http.StatusInternalServerError, "server error")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items})
}

func (h *MessagesHandler) MarkMessagesRead(w http.ResponseWriter, r *http.Request) {
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
	if err := h.unread.MarkMessagesRead(r.Context(), id, actor); err != nil {
		h.logger.Errorf("mark messages read incident %d: %v", id, err)
		writeError(w, http.StatusInternalServerError, "server error")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}

func (h *MessagesHandler) MarkActivityRead(w http.ResponseWriter, r *http.Request) {
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
	if err := h.unread.MarkActivityRead(r.Context(), id, actor); err != nil {
		h.logger.Errorf("mark activity read incident %d: %v", id, err)
		writeError(w, http.StatusInternalServerError, "server error")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}
