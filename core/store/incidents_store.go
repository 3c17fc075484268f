package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

var ErrConflict = errors.New("conflict")

// ResolutionIncidentMarkedActive is the only resolution reason this
// service writes itself; handlers may record others.
const ResolutionIncidentMarkedActive = "incident_marked_active"

type Incident struct {
	ID             int64      `json:"id"`
	OrganizationID int64      `json:"organization_id"`
	PropertyID     *int64     `json:"property_id,omitempty"`
	Title          string     `json:"title"`
	Description    string     `json:"description"`
	Status         string     `json:"status"`
	ProjectType    string     `json:"project_type"`
	Emergency      bool       `json:"emergency"`
	LastActivityAt *time.Time `json:"last_activity_at,omitempty"`
	CreatedBy      int64      `json:"created_by"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
}

type IncidentFilter struct {
	OrganizationID int64
	Status         string
	EmergencyOnly  bool
	Limit          int
	Offset         int
}

type IncidentsStore interface {
	CreateIncident(ctx context.Context, incident *Incident) (int64, error)
	GetIncident(ctx context.Context, id int64) (*Incident, error)
	ListIncidents(ctx context.Context, filter IncidentFilter) ([]Incident, error)

	// TransitionIncident applies a status change as one atomic unit:
	// compare-and-swap on the current status, the status_changed
	// activity event, the last-activity touch and, when requested, the
	// bulk resolution of open escalation events. Returns ErrConflict
	// when the incident is no longer at fromStatus.
	TransitionIncident(ctx context.Context, incidentID int64, fromStatus, toStatus string, actorID int64, resolveEscalations bool) (*Incident, error)

	AssignUser(ctx context.Context, incidentID, userID int64) error
	ListAssignedUserIDs(ctx context.Context, incidentID int64) ([]int64, error)
}

type incidentsStore struct {
	db *sql.DB
}

func NewIncidentsStore(db *sql.DB) IncidentsStore {
	return &incidentsStore{db: db}
}

func (s *incidentsStore) CreateIncident(ctx context.Context, incident *Incident) (int64, error) {
	if strings.TrimSpace(incident.Status) == "" {
		incident.Status = "new"
	}
	if strings.TrimSpace(incident.ProjectType) == "" {
		incident.ProjectType = "standard"
	}
	now := time.Now().UTC()
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO incidents(organization_id, property_id, title, description, status, project_type, emergency, last_activity_at, created_by, created_at, updated_at)
		VALUES(?,?,?,?,?,?,?,?,?,?,?)`,
		incident.OrganizationID, nullableID(incident.PropertyID), strings.TrimSpace(incident.Title), incident.Description,
		incident.Status, incident.ProjectType, boolToInt(incident.Emergency), now, incident.CreatedBy, now, now)
	if err != nil {
		return 0, err
	}
	id, _ := res.LastInsertId()
	incident.ID = id
	incident.LastActivityAt = &now
	incident.CreatedAt = now
	incident.UpdatedAt = now
	return id, nil
}

func (s *incidentsStore) GetIncident(ctx context.Context, id int64) (*Incident, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, organization_id, property_id, title, description, status, project_type, emergency, last_activity_at, created_by, created_at, updated_at
		FROM incidents WHERE id=?`, id)
	return scanIncident(row)
}

func (s *incidentsStore) ListIncidents(ctx context.Context, filter IncidentFilter) ([]Incident, error) {
	var clauses []string
	var args []any
	if filter.OrganizationID > 0 {
		clauses = append(clauses, "organization_id=?")
		args = append(args, filter.OrganizationID)
	}
	if filter.Status != "" {
		clauses = append(clauses, "status=?")
		args = append(args, filter.Status)
	}
	if filter.EmergencyOnly {
		clauses = append(clauses, "emergency=1")
	}
	query := `SELECT id, organization_id, property_id, title, description, status, project_type, emergency, last_activity_at, created_by, created_at, updated_at FROM incidents`
	if len(clauses) > 0 {
		query += " WHERE " + strings.Join(clauses, " AND ")
	}
	query += " ORDER BY last_activity_at DESC, id DESC"
	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", filter.Limit)
		if filter.Offset > 0 {
			query += fmt.Sprintf(" OFFSET %d", filter.Offset)
		}
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []Incident
	for rows.Next() {
		inc, err := scanIncidentRow(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, inc)
	}
	return res, rows.Err()
}

func (s *incidentsStore) TransitionIncident(ctx context.Context, incidentID int64, fromStatus, toStatus string, actorID int64, resolveEscalations bool) (*Incident, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	now := time.Now().UTC()
	res, err := tx.ExecContext(ctx, `
		UPDATE incidents SET status=?, updated_at=?
		WHERE id=? AND status=?`,
		toStatus, now, incidentID, fromStatus)
	if err != nil {
		tx.Rollback()
		return nil, err
	}
	if affected, _ := res.RowsAffected(); affected == 0 {
		tx.Rollback()
		return nil, ErrConflict
	}
	eventAt, err := touchLastActivityTx(ctx, tx, incidentID, now)
	if err != nil {
		tx.Rollback()
		return nil, err
	}
	meta, _ := json.Marshal(map[string]any{"old_status": fromStatus, "new_status": toStatus})
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO activity_events(incident_id, event_type, performed_by_user_id, metadata_json, created_at)
		VALUES(?,?,?,?,?)`,
		incidentID, "status_changed", actorID, string(meta), eventAt); err != nil {
		tx.Rollback()
		return nil, err
	}
	if resolveEscalations {
		// Only open events pick up the resolution; already-resolved
		// rows keep their original reason and timestamp.
		if _, err := tx.ExecContext(ctx, `
			UPDATE escalation_events
			SET resolved_at=?, resolved_by_user_id=?, resolution_reason=?
			WHERE incident_id=? AND resolved_at IS NULL`,
			now, actorID, ResolutionIncidentMarkedActive, incidentID); err != nil {
			tx.Rollback()
			return nil, err
		}
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return s.GetIncident(ctx, incidentID)
}

func (s *incidentsStore) AssignUser(ctx context.Context, incidentID, userID int64) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO incident_assignments(incident_id, user_id) VALUES(?,?)
		ON CONFLICT (incident_id, user_id) DO NOTHING`, incidentID, userID)
	return err
}

func (s *incidentsStore) ListAssignedUserIDs(ctx context.Context, incidentID int64) ([]int64, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT user_id FROM incident_assignments WHERE incident_id=? ORDER BY user_id ASC`, incidentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		res = append(res, id)
	}
	return res, rows.Err()
}

// touchLastActivityTx advances last_activity_at without ever moving it
// backwards, and returns the timestamp the caller should stamp on the
// event row so per-incident event time stays monotonic.
//
// The read-then-write pair is unlocked: on sqlite the single writer
// connection (see NewDB) serializes it. Running this against postgres
// requires a SELECT ... FOR UPDATE on the incident row, or two
// concurrent touches can both read the same last_activity_at.
// TODO: switch the read to FOR UPDATE once the postgres path gets a
// query rewriter for the ? placeholders.
func touchLastActivityTx(ctx context.Context, tx *sql.Tx, incidentID int64, now time.Time) (time.Time, error) {
	var last sql.NullTime
	if err := tx.QueryRowContext(ctx, `SELECT last_activity_at FROM incidents WHERE id=?`, incidentID).Scan(&last); err != nil {
		return time.Time{}, err
	}
	at := now
	if last.Valid && last.Time.After(at) {
		at = last.Time.UTC()
	}
	if _, err := tx.ExecContext(ctx, `UPDATE incidents SET last_activity_at=?, updated_at=? WHERE id=?`, at, now, incidentID); err != nil {
		return time.Time{}, err
	}
	return at, nil
}

func scanIncident(row *sql.Row) (*Incident, error) {
	var inc Incident
	var property sql.NullInt64
	var lastActivity sql.NullTime
	var emergency int
	if err := row.Scan(&inc.ID, &inc.OrganizationID, &property, &inc.Title, &inc.Description, &inc.Status, &inc.ProjectType, &emergency, &lastActivity, &inc.CreatedBy, &inc.CreatedAt, &inc.UpdatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	if property.Valid {
		inc.PropertyID = &property.Int64
	}
	if lastActivity.Valid {
		t := lastActivity.Time.UTC()
		inc.LastActivityAt = &t
	}
	inc.Emergency = emergency == 1
	return &inc, nil
}

func scanIncidentRow(rows *sql.Rows) (Incident, error) {
	var inc Incident
	var property sql.NullInt64
	var lastActivity sql.NullTime
	var emergency int
	if err := rows.Scan(&inc.ID, &inc.OrganizationID, &property, &inc.Title, &inc.Description, &inc.Status, &inc.ProjectType, &emergency, &lastActivity, &inc.CreatedBy, &inc.CreatedAt, &inc.UpdatedAt); err != nil {
		return inc, err
	}
	if property.Valid {
		inc.PropertyID = &property.Int64
	}
	if lastActivity.Valid {
		t := lastActivity.Time.UTC()
		inc.LastActivityAt = &t
	}
	inc.Emergency = emergency == 1
	return inc, nil
}

func nullableID(v *int64) any {
	if v == nil {
		return nil
	}
	return *v
}

func boolToInt(v bool) int {
	if v {
		return 1
	}
	return 0
}
