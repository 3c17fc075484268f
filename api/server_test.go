package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strconv"
	"testing"

	"restotrack/config"
	"restotrack/core/activity"
	"restotrack/core/incidents"
	"restotrack/core/messages"
	"restotrack/core/store"
	"restotrack/core/unread"
)

type openVisibility struct{}

func (openVisibility) CanView(context.Context, int64, *store.Incident) (bool, error) {
	return true, nil
}

func (openVisibility) VisibleUserIDs(context.Context, *store.Incident) ([]int64, error) {
	return nil, nil
}

func newTestServer(t *testing.T) (*Server, int64, int64) {
	t.Helper()
	cfg := &config.AppConfig{DBDriver: "sqlite", DBPath: filepath.Join(t.TempDir(), "test.db"), ListenAddr: "127.0.0.1:0"}
	db, err := store.NewDB(cfg, nil)
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	ctx := context.Background()
	if err := store.ApplyMigrations(ctx, db, cfg, nil); err != nil {
		t.Fatalf("migrations: %v", err)
	}

	usersStore := store.NewUsersStore(db)
	incidentsStore := store.NewIncidentsStore(db)
	escalationStore := store.NewEscalationStore(db)
	messagesStore := store.NewMessagesStore(db)
	activitySvc := activity.NewService(store.NewActivityStore(db), nil)
	incidentsSvc := incidents.NewService(incidentsStore, escalationStore, activitySvc, nil)
	messagesSvc := messages.NewService(messagesStore, nil)
	unreadSvc, err := unread.NewService(incidentsStore, messagesStore, store.NewActivityStore(db), store.NewReadStateStore(db), openVisibility{}, 16, nil)
	if err != nil {
		t.Fatalf("unread service: %v", err)
	}
	activitySvc.SetInvalidator(unreadSvc)
	incidentsSvc.SetInvalidator(unreadSvc)
	messagesSvc.SetInvalidator(unreadSvc)

	orgID, err := usersStore.CreateOrganization(ctx, &store.Organization{Name: "API Test Org"})
	if err != nil {
		t.Fatalf("create org: %v", err)
	}
	userID, err := usersStore.CreateUser(ctx, &store.User{OrganizationID: orgID, Username: "api", FullName: "API User", Email: "api@example.com", Active: true})
	if err != nil {
		t.Fatalf("create user: %v", err)
	}

	server := NewServer(cfg, Deps{
		IncidentsStore:  incidentsStore,
		OnCallStore:     store.NewOnCallStore(db),
		EscalationStore: escalationStore,
		IncidentsSvc:    incidentsSvc,
		ActivitySvc:     activitySvc,
		MessagesSvc:     messagesSvc,
		UnreadSvc:       unreadSvc,
	}, nil)
	return server, orgID, userID
}

func doJSON(t *testing.T, handler http.Handler, method, path string, userID int64, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	if userID > 0 {
		req.Header.Set("X-User-ID", strconv.FormatInt(userID, 10))
	}
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func TestCreateAndTransitionIncident(t *testing.T) {
	server, orgID, userID := newTestServer(t)
	router := server.Router()

	rec := doJSON(t, router, http.MethodPost, "/api/incidents", userID, map[string]any{
		"organization_id": orgID,
		"title":           "Garage flood",
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("create status = %d, body %s", rec.Code, rec.Body.String())
	}
	var created store.Incident
	if err := json.Unmarshal(rec.Body.Bytes(), &created); err != nil {
		t.Fatalf("decode created: %v", err)
	}
	if created.Status != incidents.StatusAcknowledged {
		t.Fatalf("created status = %s, want acknowledged", created.Status)
	}

	path := "/api/incidents/" + strconv.FormatInt(created.ID, 10) + "/transition"
	rec = doJSON(t, router, http.MethodPost, path, userID, map[string]any{"status": "active"})
	if rec.Code != http.StatusOK {
		t.Fatalf("transition status = %d, body %s", rec.Code, rec.Body.String())
	}

	rec = doJSON(t, router, http.MethodPost, path, userID, map[string]any{"status": "paid"})
	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("illegal transition status = %d, want 422", rec.Code)
	}
	var resp map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode error body: %v", err)
	}
	if _, ok := resp["allowed"]; !ok {
		t.Fatalf("422 body should list allowed successors, got %v", resp)
	}
}

func TestTransitionRequiresActor(t *testing.T) {
	server, _, _ := newTestServer(t)
	rec := doJSON(t, server.Router(), http.MethodPost, "/api/incidents/1/transition", 0, map[string]any{"status": "active"})
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rec.Code)
	}
}

func TestUnknownStatusRejected(t *testing.T) {
	server, orgID, userID := newTestServer(t)
	router := server.Router()
	rec := doJSON(t, router, http.MethodPost, "/api/incidents", userID, map[string]any{
		"organization_id": orgID,
		"title":           "Attic leak",
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("create status = %d", rec.Code)
	}
	var created store.Incident
	if err := json.Unmarshal(rec.Body.Bytes(), &created); err != nil {
		t.Fatalf("decode: %v", err)
	}
	path := "/api/incidents/" + strconv.FormatInt(created.ID, 10) + "/transition"
	rec = doJSON(t, router, http.MethodPost, path, userID, map[string]any{"status": "archived"})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("unknown status = %d, want 400", rec.Code)
	}
}

func TestMessagesAndUnreadFlow(t *testing.T) {
	server, orgID, userID := newTestServer(t)
	router := server.Router()

	rec := doJSON(t, router, http.MethodPost, "/api/incidents", userID, map[string]any{
		"organization_id": orgID,
		"title":           "Hall ceiling",
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("create status = %d", rec.Code)
	}
	var created store.Incident
	if err := json.Unmarshal(rec.Body.Bytes(), &created); err != nil {
		t.Fatalf("decode: %v", err)
	}
	base := "/api/incidents/" + strconv.FormatInt(created.ID, 10)

	rec = doJSON(t, router, http.MethodPost, base+"/messages", userID, map[string]any{"body": "crew dispatched"})
	if rec.Code != http.StatusCreated {
		t.Fatalf("post message status = %d, body %s", rec.Code, rec.Body.String())
	}
	rec = doJSON(t, router, http.MethodPost, base+"/messages", userID, map[string]any{"body": "   "})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("blank message status = %d, want 400", rec.Code)
	}

	otherUser := userID + 1000
	rec = doJSON(t, router, http.MethodGet, "/api/unread", otherUser, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("unread status = %d", rec.Code)
	}
	var unreadResp map[string]bool
	if err := json.Unmarshal(rec.Body.Bytes(), &unreadResp); err != nil {
		t.Fatalf("decode unread: %v", err)
	}
	if !unreadResp["has_unread"] {
		t.Fatal("other user should see the new message as unread")
	}

	rec = doJSON(t, router, http.MethodPost, base+"/read/messages", otherUser, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("mark read status = %d", rec.Code)
	}
	rec = doJSON(t, router, http.MethodGet, "/api/unread", otherUser, nil)
	if err := json.Unmarshal(rec.Body.Bytes(), &unreadResp); err != nil {
		t.Fatalf("decode unread: %v", err)
	}
	if unreadResp["has_unread"] {
		t.Fatal("other user should be caught up after marking read")
	}
}
