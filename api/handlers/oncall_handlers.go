package handlers

import (
	"encoding/json"
	"net/http"

	"restotrack/core/store"
	"restotrack/core/utils"
)

type OnCallHandler struct {
	oncall      store.OnCallStore
	escalations store.EscalationStore
	logger      *utils.Logger
}

func NewOnCallHandler(oncallStore store.OnCallStore, escalationStore store.EscalationStore, logger *utils.Logger) *OnCallHandler {
	return &OnCallHandler{oncall: oncallStore, escalations: escalationStore, logger: logger}
}

func (h *OnCallHandler) Get(w http.ResponseWriter, r *http.Request) {
	orgID, ok := pathInt64(r, "org_id")
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid organization id")
		return
	}
	cfg, err := h.oncall.GetOnCallConfiguration(r.Context(), orgID)
	if err != nil {
		h.logger.Errorf("get on-call config org %d: %v", orgID, err)
		writeError(w, http.StatusInternalServerError, "server error")
		return
	}
	if cfg == nil {
		writeError(w, http.StatusNotFound, "on-call configuration not found")
		return
	}
	contacts, err := h.oncall.ListEscalationContacts(r.Context(), cfg.ID)
	if err != nil {
		h.logger.Errorf("list escalation contacts org %d: %v", orgID, err)
		writeError(w, http.StatusInternalServerError, "server error")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"configuration": cfg, "contacts": contacts})
}

type putOnCallRequest struct {
	PrimaryUserID            int64   `json:"primary_user_id"`
	EscalationTimeoutMinutes int     `json:"escalation_timeout_minutes"`
	ContactUserIDs           []int64 `json:"contact_user_ids"`
}

// Put replaces the organization's on-call setup: primary user, timeout
// and the ordered escalation chain in one request.
func (h *OnCallHandler) Put(w http.ResponseWriter, r *http.Request) {
	if _, ok := actorID(r); !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	orgID, ok := pathInt64(r, "org_id")
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid organization id")
		return
	}
	var req putOnCallRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.PrimaryUserID <= 0 {
		writeError(w, http.StatusBadRequest, "primary_user_id is required")
		return
	}
	cfg := &store.OnCallConfiguration{
		OrganizationID:           orgID,
		PrimaryUserID:            req.PrimaryUserID,
		EscalationTimeoutMinutes: req.EscalationTimeoutMinutes,
	}
	if err := h.oncall.UpsertOnCallConfiguration(r.Context(), cfg); err != nil {
		h.logger.Errorf("upsert on-call config org %d: %v", orgID, err)
		writeError(w, http.StatusInternalServerError, "server error")
		return
	}
	contacts := make([]store.EscalationContact, 0, len(req.ContactUserIDs))
	for i, userID := range req.ContactUserIDs {
		contacts = append(contacts, store.EscalationContact{UserID: userID, Position: i + 1})
	}
	if err := h.oncall.SetEscalationContacts(r.Context(), cfg.ID, contacts); err != nil {
		h.logger.Errorf("set escalation contacts org %d: %v", orgID, err)
		writeError(w, http.StatusInternalServerError, "server error")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"configuration": cfg})
}

func (h *OnCallHandler) ListEscalations(w http.ResponseWriter, r *http.Request) {
	id, ok := pathInt64(r, "id")
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid incident id")
		return
	}
	items, err := h.escalations.ListEscalationEvents(r.Context(), id)
	if err != nil {
		h.logger.Errorf("list escalations incident %d: %v", id, err)
		writeError(w, http.StatusInternalServerError, "server error")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items})
}
