package activity

import (
	"context"
	"fmt"

	"restotrack/core/store"
	"restotrack/core/utils"
)

const (
	EventIncidentCreated     = "incident_created"
	EventStatusChanged       = "status_changed"
	EventEscalationAttempted = "escalation_attempted"
	EventEscalationSkipped   = "escalation_skipped"
	EventEscalationExhausted = "escalation_exhausted"
	EventActivityLogged      = "activity_logged"
	EventActivityUpdated     = "activity_updated"
	EventLaborCreated        = "labor_created"
	EventLaborUpdated        = "labor_updated"
	EventEquipmentPlaced     = "equipment_placed"
	EventEquipmentRemoved    = "equipment_removed"
	EventReadingRecorded     = "moisture_reading_recorded"
	EventUserAssigned        = "user_assigned"
	EventAttachmentUploaded  = "attachment_uploaded"
)

// knownEventTypes is a deliberate allow-list: timeline filtering and
// unread classification pattern-match on exact strings, so free-form
// types would silently break both.
var knownEventTypes = map[string]struct{}{
	EventIncidentCreated:     {},
	EventStatusChanged:       {},
	EventEscalationAttempted: {},
	EventEscalationSkipped:   {},
	EventEscalationExhausted: {},
	EventActivityLogged:      {},
	EventActivityUpdated:     {},
	EventLaborCreated:        {},
	EventLaborUpdated:        {},
	EventEquipmentPlaced:     {},
	EventEquipmentRemoved:    {},
	EventReadingRecorded:     {},
	EventUserAssigned:        {},
	EventAttachmentUploaded:  {},
}

// dailyLogUnreadTypes is the subset that counts toward the "Daily Log"
// unread badge: field-work entries only, administrative events like
// status_changed stay out of that count on purpose.
var dailyLogUnreadTypes = []string{
	EventActivityLogged,
	EventActivityUpdated,
	EventLaborCreated,
	EventLaborUpdated,
	EventEquipmentPlaced,
	EventEquipmentRemoved,
	EventReadingRecorded,
}

type UnknownEventTypeError struct {
	EventType string
}

func (e *UnknownEventTypeError) Error() string {
	return fmt.Sprintf("unknown activity event type %q", e.EventType)
}

func KnownEventType(eventType string) bool {
	_, ok := knownEventTypes[eventType]
	return ok
}

func DailyLogUnreadTypes() []string {
	out := make([]string, len(dailyLogUnreadTypes))
	copy(out, dailyLogUnreadTypes)
	return out
}

// Invalidator expires derived unread state after a write; the actor's
// own entry is skipped since their view is by definition current.
type Invalidator interface {
	ExpireForIncident(ctx context.Context, incidentID, excludeUserID int64)
}

type Service struct {
	store  store.ActivityStore
	cache  Invalidator
	logger *utils.Logger
}

func NewService(activityStore store.ActivityStore, logger *utils.Logger) *Service {
	return &Service{store: activityStore, logger: logger}
}

func (s *Service) SetInvalidator(inv Invalidator) {
	if s == nil {
		return
	}
	s.cache = inv
}

// Log appends one event to the incident's ledger. The event type must
// be on the allow-list; anything else is a programmer error surfaced
// as UnknownEventTypeError with nothing written.
func (s *Service) Log(ctx context.Context, incidentID int64, eventType string, actorID *int64, metadata map[string]any) (*store.ActivityEvent, error) {
	if !KnownEventType(eventType) {
		return nil, &UnknownEventTypeError{EventType: eventType}
	}
	ev := &store.ActivityEvent{
		IncidentID:  incidentID,
		EventType:   eventType,
		PerformedBy: actorID,
		Metadata:    metadata,
	}
	if _, err := s.store.AddActivityEvent(ctx, ev); err != nil {
		return nil, err
	}
	if s.cache != nil {
		var exclude int64
		if actorID != nil {
			exclude = *actorID
		}
		s.cache.ExpireForIncident(ctx, incidentID, exclude)
	}
	return ev, nil
}

func (s *Service) Timeline(ctx context.Context, incidentID int64, limit int, eventType string) ([]store.ActivityEvent, error) {
	return s.store.ListIncidentActivity(ctx, incidentID, limit, eventType)
}
