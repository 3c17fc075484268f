package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"restotrack/core/incidents"
	"restotrack/core/store"
	"restotrack/core/utils"
)

type IncidentsHandler struct {
	store  store.IncidentsStore
	svc    *incidents.Service
	logger *utils.Logger
}

func NewIncidentsHandler(incidentsStore store.IncidentsStore, svc *incidents.Service, logger *utils.Logger) *IncidentsHandler {
	return &IncidentsHandler{store: incidentsStore, svc: svc, logger: logger}
}

type createIncidentRequest struct {
	OrganizationID int64  `json:"organization_id"`
	PropertyID     *int64 `json:"property_id,omitempty"`
	Title          string `json:"title"`
	Description    string `json:"description"`
	ProjectType    string `json:"project_type"`
	Emergency      bool   `json:"emergency"`
}

func (h *IncidentsHandler) Create(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorID(r)
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	var req createIncidentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.OrganizationID <= 0 || strings.TrimSpace(req.Title) == "" {
		writeError(w, http.StatusBadRequest, "organization_id and title are required")
		return
	}
	projectType := strings.TrimSpace(req.ProjectType)
	if projectType == "" {
		projectType = incidents.ProjectTypeStandard
	}
	inc := &store.Incident{
		OrganizationID: req.OrganizationID,
		PropertyID:     req.PropertyID,
		Title:          req.Title,
		Description:    req.Description,
		ProjectType:    projectType,
		Emergency:      req.Emergency,
	}
	created, err := h.svc.Create(r.Context(), inc, actor)
	if err != nil {
		h.logger.Errorf("create incident: %v", err)
		writeError(w, http.StatusInternalServerError, "server error")
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

func (h *IncidentsHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, ok := pathInt64(r, "id")
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid incident id")
		return
	}
	inc, err := h.store.GetIncident(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "server error")
		return
	}
	if inc == nil {
		writeError(w, http.StatusNotFound, "incident not found")
		return
	}
	writeJSON(w, http.StatusOK, inc)
}

func (h *IncidentsHandler) List(w http.ResponseWriter, r *http.Request) {
	filter := store.IncidentFilter{
		OrganizationID: int64(parseIntDefault(r.URL.Query().Get("organization_id"), 0)),
		Status:         strings.ToLower(strings.TrimSpace(r.URL.Query().Get("status"))),
		EmergencyOnly:  r.URL.Query().Get("emergency") == "1",
		Limit:          parseIntDefault(r.URL.Query().Get("limit"), 0),
		Offset:         parseIntDefault(r.URL.Query().Get("offset"), 0),
	}
	items, err := h.store.ListIncidents(r.Context(), filter)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "server error")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items})
}

type transitionRequest struct {
	Status string `json:"status"`
}

// Transition moves the incident to a direct successor status. Illegal
// moves come back as 422 with the allowed successor list; a lost CAS
// race is a 409 the client resolves by reloading.
func (h *IncidentsHandler) Transition(w http.ResponseWriter, r *http.Request) {
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
	var req transitionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	requested := strings.ToLower(strings.TrimSpace(req.Status))
	if !incidents.KnownStatus(requested) {
		writeError(w, http.StatusBadRequest, "unknown status")
		return
	}
	updated, err := h.svc.Transition(r.Context(), id, requested, actor)
	if err != nil {
		var invalid *incidents.InvalidTransitionError
		switch {
		case errors.Is(err, incidents.ErrNotFound):
			writeError(w, http.StatusNotFound, "incident not found")
		case errors.As(err, &invalid):
			writeJSON(w, http.StatusUnprocessableEntity, map[string]any{
				"error":   invalid.Error(),
				"allowed": incidents.Successors(invalid.From),
			})
		case errors.Is(err, store.ErrConflict):
			writeError(w, http.StatusConflict, "incident was modified concurrently")
		default:
			h.logger.Errorf("transition incident %d: %v", id, err)
			writeError(w, http.StatusInternalServerError, "server error")
		}
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

type assignRequest struct {
	UserID int64 `json:"user_id"`
}

func (h *IncidentsHandler) Assign(w http.ResponseWriter, r *http.Request) {
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
	var req assignRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.UserID <= 0 {
		writeError(w, http.StatusBadRequest, "user_id is required")
		return
	}
	if err := h.svc.Assign(r.Context(), id, req.UserID, actor); err != nil {
		h.logger.Errorf("assign incident %d: %v", id, err)
		writeError(w, http.StatusInternalServerError, "server error")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}
