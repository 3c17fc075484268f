package escalation

import (
	"context"
	"time"

	"restotrack/config"
	"restotrack/core/activity"
	"restotrack/core/incidents"
	"restotrack/core/notify"
	"restotrack/core/store"
	"restotrack/core/utils"
)

const (
	StatusSent   = "sent"
	StatusFailed = "failed"

	reasonNoConfiguration = "no_on_call_configuration"
)

type Notifier interface {
	Notify(ctx context.Context, user *store.User, inc *store.Incident) bool
}

// Engine walks the on-call chain for incidents nobody has picked up.
// Attempts are driven by durable jobs: each attempt schedules the next
// one, and a job firing after the incident went active is a no-op.
type Engine struct {
	incidents   store.IncidentsStore
	oncall      store.OnCallStore
	escalations store.EscalationStore
	users       store.UsersStore
	activity    *activity.Service
	notifier    Notifier
	cfg         *config.AppConfig
	logger      *utils.Logger
}

func NewEngine(
	incidentsStore store.IncidentsStore,
	oncallStore store.OnCallStore,
	escalationStore store.EscalationStore,
	usersStore store.UsersStore,
	activitySvc *activity.Service,
	notifier Notifier,
	cfg *config.AppConfig,
	logger *utils.Logger,
) *Engine {
	return &Engine{
		incidents:   incidentsStore,
		oncall:      oncallStore,
		escalations: escalationStore,
		users:       usersStore,
		activity:    activitySvc,
		notifier:    notifier,
		cfg:         cfg,
		logger:      logger,
	}
}

// resolveContact maps a chain index to a user. Index 0 is the
// configuration's primary user and is never stored as a contact row;
// stored contacts are addressed 1..n by position. The second return is
// false once the index walks off the end of the chain.
func resolveContact(cfg *store.OnCallConfiguration, contacts []store.EscalationContact, index int) (int64, bool) {
	if cfg == nil || index < 0 {
		return 0, false
	}
	if index == 0 {
		return cfg.PrimaryUserID, true
	}
	for _, c := range contacts {
		if c.Position == index {
			return c.UserID, true
		}
	}
	return 0, false
}

// Escalate performs one attempt at the given chain index.
//
// An organization without an on-call configuration gets an
// escalation_skipped event on every attempt, never an EscalationEvent.
// Walking past the last contact logs escalation_exhausted and stops the
// chain. Otherwise the attempt notifies the resolved user, records an
// EscalationEvent (sent, or failed when no channel delivered) and
// schedules the next attempt after the organization's timeout. The
// incident's status is re-checked right before notifying: once it is
// active or beyond, nothing is sent and the chain ends.
func (e *Engine) Escalate(ctx context.Context, incidentID int64, contactIndex int) error {
	inc, err := e.incidents.GetIncident(ctx, incidentID)
	if err != nil {
		return err
	}
	if inc == nil {
		return nil
	}
	cfg, err := e.oncall.GetOnCallConfiguration(ctx, inc.OrganizationID)
	if err != nil {
		return err
	}
	if cfg == nil {
		_, err := e.activity.Log(ctx, incidentID, activity.EventEscalationSkipped, nil, map[string]any{
			"reason": reasonNoConfiguration,
		})
		return err
	}
	contacts, err := e.oncall.ListEscalationContacts(ctx, cfg.ID)
	if err != nil {
		return err
	}
	userID, ok := resolveContact(cfg, contacts, contactIndex)
	if !ok {
		_, err := e.activity.Log(ctx, incidentID, activity.EventEscalationExhausted, nil, map[string]any{
			"contacts_tried": contactIndex,
		})
		return err
	}
	if !incidents.BeforeActive(inc.Status) {
		return nil
	}
	user, err := e.users.GetUser(ctx, userID)
	if err != nil {
		return err
	}
	status := StatusFailed
	if user != nil && e.notifier != nil && e.notifier.Notify(ctx, user, inc) {
		status = StatusSent
	}
	ev := &store.EscalationEvent{
		IncidentID:    incidentID,
		UserID:        userID,
		ContactMethod: notify.PreferredMethod(user),
		Status:        status,
	}
	if _, err := e.escalations.AddEscalationEvent(ctx, ev); err != nil {
		return err
	}
	if _, err := e.activity.Log(ctx, incidentID, activity.EventEscalationAttempted, nil, map[string]any{
		"contact_index":  contactIndex,
		"user_id":        userID,
		"contact_method": ev.ContactMethod,
		"status":         status,
	}); err != nil {
		return err
	}
	timeout := e.cfg.EscalationTimeout(cfg.EscalationTimeoutMinutes)
	runAt := time.Now().UTC().Add(timeout)
	_, err = e.escalations.ScheduleEscalationJob(ctx, incidentID, contactIndex+1, runAt)
	return err
}
