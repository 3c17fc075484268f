package incidents

import (
	"context"
	"errors"
	"time"

	"restotrack/core/activity"
	"restotrack/core/store"
	"restotrack/core/utils"
)

var ErrNotFound = errors.New("incident not found")

type Invalidator interface {
	ExpireForIncident(ctx context.Context, incidentID, excludeUserID int64)
}

type Service struct {
	store       store.IncidentsStore
	escalations store.EscalationStore
	activity    *activity.Service
	cache       Invalidator
	logger      *utils.Logger
}

func NewService(incidentsStore store.IncidentsStore, escalationStore store.EscalationStore, activitySvc *activity.Service, logger *utils.Logger) *Service {
	return &Service{store: incidentsStore, escalations: escalationStore, activity: activitySvc, logger: logger}
}

func (s *Service) SetInvalidator(inv Invalidator) {
	if s == nil {
		return
	}
	s.cache = inv
}

func (s *Service) Get(ctx context.Context, incidentID int64) (*store.Incident, error) {
	return s.store.GetIncident(ctx, incidentID)
}

// Transition applies a status change. The requested status must be a
// direct successor of the current one; validation failure mutates
// nothing. The status write, the status_changed event, the
// last-activity touch and the escalation resolution all land in one
// store transaction, serialized against racing actors by a
// compare-and-swap on the current status.
func (s *Service) Transition(ctx context.Context, incidentID int64, requested string, actorID int64) (*store.Incident, error) {
	inc, err := s.store.GetIncident(ctx, incidentID)
	if err != nil {
		return nil, err
	}
	if inc == nil {
		return nil, ErrNotFound
	}
	if !CanTransition(inc.ProjectType, inc.Status, requested) {
		return nil, &InvalidTransitionError{From: inc.Status, To: requested}
	}
	updated, err := s.store.TransitionIncident(ctx, incidentID, inc.Status, requested, actorID, requested == StatusActive)
	if err != nil {
		return nil, err
	}
	if s.cache != nil {
		s.cache.ExpireForIncident(ctx, incidentID, actorID)
	}
	return updated, nil
}

// Create inserts the incident at `new`, logs incident_created,
// auto-acknowledges it, and for emergencies enqueues the first
// escalation attempt at contact index 0, due immediately.
func (s *Service) Create(ctx context.Context, inc *store.Incident, actorID int64) (*store.Incident, error) {
	inc.Status = StatusNew
	if inc.CreatedBy == 0 {
		inc.CreatedBy = actorID
	}
	id, err := s.store.CreateIncident(ctx, inc)
	if err != nil {
		return nil, err
	}
	if _, err := s.activity.Log(ctx, id, activity.EventIncidentCreated, &actorID, map[string]any{
		"emergency":    inc.Emergency,
		"project_type": inc.ProjectType,
	}); err != nil {
		return nil, err
	}
	updated, err := s.Transition(ctx, id, StatusAcknowledged, actorID)
	if err != nil {
		return nil, err
	}
	if inc.Emergency {
		if _, err := s.escalations.ScheduleEscalationJob(ctx, id, 0, time.Now().UTC()); err != nil {
			return nil, err
		}
	}
	return updated, nil
}

func (s *Service) Assign(ctx context.Context, incidentID, userID, actorID int64) error {
	if err := s.store.AssignUser(ctx, incidentID, userID); err != nil {
		return err
	}
	_, err := s.activity.Log(ctx, incidentID, activity.EventUserAssigned, &actorID, map[string]any{
		"assigned_user_id": userID,
	})
	return err
}
