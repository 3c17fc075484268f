package escalation

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"
	"time"

	"restotrack/config"
	"restotrack/core/activity"
	"restotrack/core/incidents"
	"restotrack/core/store"
)

type mockNotifier struct {
	delivered bool
	notified  []int64
}

func (m *mockNotifier) Notify(_ context.Context, user *store.User, _ *store.Incident) bool {
	m.notified = append(m.notified, user.ID)
	return m.delivered
}

type engineFixture struct {
	db          *sql.DB
	engine      *Engine
	incidents   *incidents.Service
	store       store.IncidentsStore
	oncall      store.OnCallStore
	escalations store.EscalationStore
	activity    store.ActivityStore
	users       store.UsersStore
	notifier    *mockNotifier
	orgID       int64
	actorID     int64
}

func newEngineFixture(t *testing.T) *engineFixture {
	t.Helper()
	cfg := &config.AppConfig{DBDriver: "sqlite", DBPath: filepath.Join(t.TempDir(), "test.db")}
	cfg.Escalation.DefaultTimeoutMinutes = 10
	db, err := store.NewDB(cfg, nil)
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	if err := store.ApplyMigrations(context.Background(), db, cfg, nil); err != nil {
		t.Fatalf("migrations: %v", err)
	}

	usersStore := store.NewUsersStore(db)
	incidentsStore := store.NewIncidentsStore(db)
	oncallStore := store.NewOnCallStore(db)
	escalationStore := store.NewEscalationStore(db)
	activityStore := store.NewActivityStore(db)
	activitySvc := activity.NewService(activityStore, nil)
	incidentsSvc := incidents.NewService(incidentsStore, escalationStore, activitySvc, nil)
	notifier := &mockNotifier{delivered: true}
	engine := NewEngine(incidentsStore, oncallStore, escalationStore, usersStore, activitySvc, notifier, cfg, nil)

	ctx := context.Background()
	orgID, err := usersStore.CreateOrganization(ctx, &store.Organization{Name: "Flood Response"})
	if err != nil {
		t.Fatalf("create org: %v", err)
	}
	actorID, err := usersStore.CreateUser(ctx, &store.User{
		OrganizationID: orgID, Username: "desk", FullName: "Front Desk", Email: "desk@example.com", Active: true,
	})
	if err != nil {
		t.Fatalf("create actor: %v", err)
	}
	return &engineFixture{
		db:          db,
		engine:      engine,
		incidents:   incidentsSvc,
		store:       incidentsStore,
		oncall:      oncallStore,
		escalations: escalationStore,
		activity:    activityStore,
		users:       usersStore,
		notifier:    notifier,
		orgID:       orgID,
		actorID:     actorID,
	}
}

func (f *engineFixture) addUser(t *testing.T, username, phone string) int64 {
	t.Helper()
	id, err := f.users.CreateUser(context.Background(), &store.User{
		OrganizationID: f.orgID,
		Username:       username,
		FullName:       username,
		Email:          username + "@example.com",
		Phone:          phone,
		Active:         true,
	})
	if err != nil {
		t.Fatalf("create user %s: %v", username, err)
	}
	return id
}

func (f *engineFixture) createEmergency(t *testing.T) *store.Incident {
	t.Helper()
	inc, err := f.incidents.Create(context.Background(), &store.Incident{
		OrganizationID: f.orgID,
		Title:          "Sewage backup",
		Emergency:      true,
	}, f.actorID)
	if err != nil {
		t.Fatalf("create incident: %v", err)
	}
	return inc
}

func (f *engineFixture) configureOnCall(t *testing.T, primary int64, chain ...int64) {
	t.Helper()
	ctx := context.Background()
	cfg := &store.OnCallConfiguration{OrganizationID: f.orgID, PrimaryUserID: primary, EscalationTimeoutMinutes: 10}
	if err := f.oncall.UpsertOnCallConfiguration(ctx, cfg); err != nil {
		t.Fatalf("upsert on-call config: %v", err)
	}
	contacts := make([]store.EscalationContact, 0, len(chain))
	for i, userID := range chain {
		contacts = append(contacts, store.EscalationContact{UserID: userID, Position: i + 1})
	}
	if err := f.oncall.SetEscalationContacts(ctx, cfg.ID, contacts); err != nil {
		t.Fatalf("set contacts: %v", err)
	}
}

func (f *engineFixture) eventTypes(t *testing.T, incidentID int64, eventType string) []store.ActivityEvent {
	t.Helper()
	events, err := f.activity.ListIncidentActivity(context.Background(), incidentID, 0, eventType)
	if err != nil {
		t.Fatalf("list activity: %v", err)
	}
	return events
}

func TestEscalateWithoutConfigurationSkips(t *testing.T) {
	f := newEngineFixture(t)
	inc := f.createEmergency(t)

	if err := f.engine.Escalate(context.Background(), inc.ID, 0); err != nil {
		t.Fatalf("escalate: %v", err)
	}
	skipped := f.eventTypes(t, inc.ID, activity.EventEscalationSkipped)
	if len(skipped) != 1 {
		t.Fatalf("expected one escalation_skipped event, got %d", len(skipped))
	}
	if skipped[0].Metadata["reason"] != "no_on_call_configuration" {
		t.Fatalf("skip reason = %v", skipped[0].Metadata["reason"])
	}
	events, err := f.escalations.ListEscalationEvents(context.Background(), inc.ID)
	if err != nil {
		t.Fatalf("list escalation events: %v", err)
	}
	if len(events) != 0 {
		t.Fatalf("no EscalationEvent expected without configuration, got %d", len(events))
	}
	if len(f.notifier.notified) != 0 {
		t.Fatalf("nobody should have been notified, got %v", f.notifier.notified)
	}
}

func TestEscalateSkipsEveryTickWhileUnconfigured(t *testing.T) {
	f := newEngineFixture(t)
	inc := f.createEmergency(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if err := f.engine.Escalate(ctx, inc.ID, 0); err != nil {
			t.Fatalf("escalate #%d: %v", i, err)
		}
	}
	if got := len(f.eventTypes(t, inc.ID, activity.EventEscalationSkipped)); got != 3 {
		t.Fatalf("expected 3 escalation_skipped events, got %d", got)
	}
}

func TestEscalatePrimaryContact(t *testing.T) {
	f := newEngineFixture(t)
	primary := f.addUser(t, "oncall-primary", "")
	f.configureOnCall(t, primary)
	inc := f.createEmergency(t)
	ctx := context.Background()

	if err := f.engine.Escalate(ctx, inc.ID, 0); err != nil {
		t.Fatalf("escalate: %v", err)
	}
	if len(f.notifier.notified) != 1 || f.notifier.notified[0] != primary {
		t.Fatalf("notified = %v, want [%d]", f.notifier.notified, primary)
	}
	events, err := f.escalations.ListEscalationEvents(ctx, inc.ID)
	if err != nil {
		t.Fatalf("list escalation events: %v", err)
	}
	if len(events) != 1 {
		t.Fatalf("expected one escalation event, got %d", len(events))
	}
	if events[0].UserID != primary || events[0].Status != StatusSent || events[0].ContactMethod != "email" {
		t.Fatalf("unexpected event: %+v", events[0])
	}
	attempts := f.eventTypes(t, inc.ID, activity.EventEscalationAttempted)
	if len(attempts) != 1 {
		t.Fatalf("expected one escalation_attempted event, got %d", len(attempts))
	}
	if attempts[0].Metadata["contact_index"] != float64(0) {
		t.Fatalf("contact_index metadata = %v", attempts[0].Metadata["contact_index"])
	}
	jobs, err := f.escalations.ListDueEscalationJobs(ctx, time.Now().UTC().Add(time.Hour), 10)
	if err != nil {
		t.Fatalf("list jobs: %v", err)
	}
	var next *store.EscalationJob
	for i := range jobs {
		if jobs[i].ContactIndex == 1 {
			next = &jobs[i]
		}
	}
	if next == nil {
		t.Fatalf("expected a follow-up job at contact index 1, jobs: %+v", jobs)
	}
	if next.RunAt.Before(time.Now().UTC().Add(9 * time.Minute)) {
		t.Fatalf("follow-up due too early: %s", next.RunAt)
	}
}

func TestEscalatePrefersSMSWhenPhonePresent(t *testing.T) {
	f := newEngineFixture(t)
	primary := f.addUser(t, "oncall-sms", "+15551230000")
	f.configureOnCall(t, primary)
	inc := f.createEmergency(t)
	ctx := context.Background()

	if err := f.engine.Escalate(ctx, inc.ID, 0); err != nil {
		t.Fatalf("escalate: %v", err)
	}
	events, err := f.escalations.ListEscalationEvents(ctx, inc.ID)
	if err != nil {
		t.Fatalf("list escalation events: %v", err)
	}
	if len(events) != 1 || events[0].ContactMethod != "sms" {
		t.Fatalf("expected sms contact method, got %+v", events)
	}
}

func TestEscalateRecordsFailureWhenNothingDelivers(t *testing.T) {
	f := newEngineFixture(t)
	f.notifier.delivered = false
	primary := f.addUser(t, "oncall-unreachable", "")
	f.configureOnCall(t, primary)
	inc := f.createEmergency(t)
	ctx := context.Background()

	if err := f.engine.Escalate(ctx, inc.ID, 0); err != nil {
		t.Fatalf("escalate: %v", err)
	}
	events, err := f.escalations.ListEscalationEvents(ctx, inc.ID)
	if err != nil {
		t.Fatalf("list escalation events: %v", err)
	}
	if len(events) != 1 || events[0].Status != StatusFailed {
		t.Fatalf("expected failed escalation event, got %+v", events)
	}
	// A failed attempt still advances the chain.
	jobs, err := f.escalations.ListDueEscalationJobs(ctx, time.Now().UTC().Add(time.Hour), 10)
	if err != nil {
		t.Fatalf("list jobs: %v", err)
	}
	found := false
	for _, job := range jobs {
		if job.ContactIndex == 1 {
			found = true
		}
	}
	if !found {
		t.Fatal("expected a follow-up job after failed delivery")
	}
}

func TestEscalateExhaustsAfterChainEnd(t *testing.T) {
	f := newEngineFixture(t)
	primary := f.addUser(t, "oncall-a", "")
	backup := f.addUser(t, "oncall-b", "")
	f.configureOnCall(t, primary, backup)
	inc := f.createEmergency(t)
	ctx := context.Background()

	// Index 2 walks past the single stored contact.
	if err := f.engine.Escalate(ctx, inc.ID, 2); err != nil {
		t.Fatalf("escalate: %v", err)
	}
	exhausted := f.eventTypes(t, inc.ID, activity.EventEscalationExhausted)
	if len(exhausted) != 1 {
		t.Fatalf("expected one escalation_exhausted event, got %d", len(exhausted))
	}
	if exhausted[0].Metadata["contacts_tried"] != float64(2) {
		t.Fatalf("contacts_tried = %v", exhausted[0].Metadata["contacts_tried"])
	}
	if len(f.notifier.notified) != 0 {
		t.Fatalf("no notification expected past chain end, got %v", f.notifier.notified)
	}
	jobs, err := f.escalations.ListDueEscalationJobs(ctx, time.Now().UTC().Add(time.Hour), 10)
	if err != nil {
		t.Fatalf("list jobs: %v", err)
	}
	for _, job := range jobs {
		if job.ContactIndex > 2 {
			t.Fatalf("no follow-up job expected after exhaustion, got %+v", job)
		}
	}
}

func TestEscalateNoopOnceIncidentActive(t *testing.T) {
	f := newEngineFixture(t)
	primary := f.addUser(t, "oncall-late", "")
	f.configureOnCall(t, primary)
	inc := f.createEmergency(t)
	ctx := context.Background()

	if _, err := f.incidents.Transition(ctx, inc.ID, incidents.StatusActive, f.actorID); err != nil {
		t.Fatalf("transition to active: %v", err)
	}
	if err := f.engine.Escalate(ctx, inc.ID, 0); err != nil {
		t.Fatalf("escalate: %v", err)
	}
	if len(f.notifier.notified) != 0 {
		t.Fatalf("no notification expected after incident went active, got %v", f.notifier.notified)
	}
	events, err := f.escalations.ListEscalationEvents(ctx, inc.ID)
	if err != nil {
		t.Fatalf("list escalation events: %v", err)
	}
	if len(events) != 0 {
		t.Fatalf("no escalation event expected after incident went active, got %+v", events)
	}
}

func TestSchedulerTickCompletesJobs(t *testing.T) {
	f := newEngineFixture(t)
	primary := f.addUser(t, "oncall-tick", "")
	f.configureOnCall(t, primary)
	inc := f.createEmergency(t)
	ctx := context.Background()

	cfg := &config.AppConfig{}
	cfg.Scheduler.MaxJobsPerTick = 10
	scheduler := NewScheduler(f.engine, f.escalations, cfg, nil)
	scheduler.Tick(ctx)

	if len(f.notifier.notified) != 1 || f.notifier.notified[0] != primary {
		t.Fatalf("tick should have notified the primary, got %v", f.notifier.notified)
	}
	jobs, err := f.escalations.ListDueEscalationJobs(ctx, time.Now().UTC(), 10)
	if err != nil {
		t.Fatalf("list jobs: %v", err)
	}
	for _, job := range jobs {
		if job.IncidentID == inc.ID && job.ContactIndex == 0 {
			t.Fatalf("initial job should be completed, still due: %+v", job)
		}
	}
}

func TestEmergencyLifecycleEndToEnd(t *testing.T) {
	f := newEngineFixture(t)
	primary := f.addUser(t, "oncall-primary", "")
	backup := f.addUser(t, "oncall-backup", "")
	f.configureOnCall(t, primary, backup)
	inc := f.createEmergency(t)
	ctx := context.Background()

	if inc.Status != incidents.StatusAcknowledged {
		t.Fatalf("emergency incident should auto-acknowledge, got %s", inc.Status)
	}

	// The creation-time job at index 0 is due immediately.
	cfg := &config.AppConfig{}
	cfg.Scheduler.MaxJobsPerTick = 10
	scheduler := NewScheduler(f.engine, f.escalations, cfg, nil)
	scheduler.Tick(ctx)

	if len(f.notifier.notified) != 1 || f.notifier.notified[0] != primary {
		t.Fatalf("primary should be notified first, got %v", f.notifier.notified)
	}
	events, err := f.escalations.ListEscalationEvents(ctx, inc.ID)
	if err != nil {
		t.Fatalf("list escalation events: %v", err)
	}
	if len(events) != 1 || events[0].ResolvedAt != nil {
		t.Fatalf("expected one open escalation event, got %+v", events)
	}
	jobs, err := f.escalations.ListDueEscalationJobs(ctx, time.Now().UTC().Add(time.Hour), 10)
	if err != nil {
		t.Fatalf("list jobs: %v", err)
	}
	if len(jobs) != 1 || jobs[0].ContactIndex != 1 {
		t.Fatalf("expected one follow-up job at index 1, got %+v", jobs)
	}

	// A manager acknowledges the incident before the follow-up fires.
	if _, err := f.incidents.Transition(ctx, inc.ID, incidents.StatusActive, f.actorID); err != nil {
		t.Fatalf("transition to active: %v", err)
	}
	events, err = f.escalations.ListEscalationEvents(ctx, inc.ID)
	if err != nil {
		t.Fatalf("list escalation events: %v", err)
	}
	if events[0].ResolvedAt == nil || *events[0].ResolutionReason != store.ResolutionIncidentMarkedActive {
		t.Fatalf("escalation event should be resolved as incident_marked_active, got %+v", events[0])
	}

	// The durable follow-up fires anyway and must detect the active
	// status instead of notifying the backup.
	if err := f.engine.Escalate(ctx, inc.ID, 1); err != nil {
		t.Fatalf("follow-up escalate: %v", err)
	}
	if len(f.notifier.notified) != 1 {
		t.Fatalf("backup must not be notified after acknowledgement, notified %v", f.notifier.notified)
	}
	events, err = f.escalations.ListEscalationEvents(ctx, inc.ID)
	if err != nil {
		t.Fatalf("list escalation events: %v", err)
	}
	if len(events) != 1 {
		t.Fatalf("no new escalation event expected, got %d", len(events))
	}
}

func TestResolveContactAddressing(t *testing.T) {
	cfg := &store.OnCallConfiguration{PrimaryUserID: 7}
	contacts := []store.EscalationContact{
		{UserID: 11, Position: 1},
		{UserID: 12, Position: 2},
	}
	if id, ok := resolveContact(cfg, contacts, 0); !ok || id != 7 {
		t.Fatalf("index 0 = (%d,%v), want primary 7", id, ok)
	}
	if id, ok := resolveContact(cfg, contacts, 1); !ok || id != 11 {
		t.Fatalf("index 1 = (%d,%v), want 11", id, ok)
	}
	if id, ok := resolveContact(cfg, contacts, 2); !ok || id != 12 {
		t.Fatalf("index 2 = (%d,%v), want 12", id, ok)
	}
	if _, ok := resolveContact(cfg, contacts, 3); ok {
		t.Fatal("index 3 should be past the chain end")
	}
	if _, ok := resolveContact(nil, contacts, 0); ok {
		t.Fatal("nil configuration should resolve nothing")
	}
}
