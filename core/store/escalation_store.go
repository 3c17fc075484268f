package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/gofrs/uuid/v5"
)

type EscalationEvent struct {
	ID               int64      `json:"id"`
	IncidentID       int64      `json:"incident_id"`
	UserID           int64      `json:"user_id"`
	ContactMethod    string     `json:"contact_method"`
	Status           string     `json:"status"`
	AttemptedAt      time.Time  `json:"attempted_at"`
	ResolvedAt       *time.Time `json:"resolved_at,omitempty"`
	ResolvedByUserID *int64     `json:"resolved_by_user_id,omitempty"`
	ResolutionReason *string    `json:"resolution_reason,omitempty"`
}

// EscalationJob is a durable follow-up: there is no cancel API, a job
// that fires after the incident went active no-ops on the status
// re-check instead.
type EscalationJob struct {
	ID           string     `json:"id"`
	IncidentID   int64      `json:"incident_id"`
	ContactIndex int        `json:"contact_index"`
	RunAt        time.Time  `json:"run_at"`
	CreatedAt    time.Time  `json:"created_at"`
	CompletedAt  *time.Time `json:"completed_at,omitempty"`
}

type EscalationStore interface {
	AddEscalationEvent(ctx context.Context, ev *EscalationEvent) (int64, error)
	ListEscalationEvents(ctx context.Context, incidentID int64) ([]EscalationEvent, error)
	// ResolveOpenEscalations stamps every unresolved event for the
	// incident; resolved rows are never overwritten.
	ResolveOpenEscalations(ctx context.Context, incidentID, resolvedBy int64, reason string) (int64, error)

	ScheduleEscalationJob(ctx context.Context, incidentID int64, contactIndex int, runAt time.Time) (*EscalationJob, error)
	ListDueEscalationJobs(ctx context.Context, now time.Time, limit int) ([]EscalationJob, error)
	CompleteEscalationJob(ctx context.Context, jobID string) error
}

type escalationStore struct {
	db *sql.DB
}

func NewEscalationStore(db *sql.DB) EscalationStore {
	return &escalationStore{db: db}
}

func (s *escalationStore) AddEscalationEvent(ctx context.Context, ev *EscalationEvent) (int64, error) {
	if ev.AttemptedAt.IsZero() {
		ev.AttemptedAt = time.Now().UTC()
	}
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO escalation_events(incident_id, user_id, contact_method, status, attempted_at, resolved_at, resolved_by_user_id, resolution_reason)
		VALUES(?,?,?,?,?,NULL,NULL,NULL)`,
		ev.IncidentID, ev.UserID, ev.ContactMethod, ev.Status, ev.AttemptedAt)
	if err != nil {
		return 0, err
	}
	id, _ := res.LastInsertId()
	ev.ID = id
	return id, nil
}

func (s *escalationStore) ListEscalationEvents(ctx context.Context, incidentID int64) ([]EscalationEvent, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, incident_id, user_id, contact_method, status, attempted_at, resolved_at, resolved_by_user_id, resolution_reason
		FROM escalation_events WHERE incident_id=? ORDER BY attempted_at ASC, id ASC`, incidentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []EscalationEvent
	for rows.Next() {
		var ev EscalationEvent
		var resolvedAt sql.NullTime
		var resolvedBy sql.NullInt64
		var reason sql.NullString
		if err := rows.Scan(&ev.ID, &ev.IncidentID, &ev.UserID, &ev.ContactMethod, &ev.Status, &ev.AttemptedAt, &resolvedAt, &resolvedBy, &reason); err != nil {
			return nil, err
		}
		if resolvedAt.Valid {
			t := resolvedAt.Time.UTC()
			ev.ResolvedAt = &t
		}
		if resolvedBy.Valid {
			ev.ResolvedByUserID = &resolvedBy.Int64
		}
		if reason.Valid {
			ev.ResolutionReason = &reason.String
		}
		ev.AttemptedAt = ev.AttemptedAt.UTC()
		res = append(res, ev)
	}
	return res, rows.Err()
}

func (s *escalationStore) ResolveOpenEscalations(ctx context.Context, incidentID, resolvedBy int64, reason string) (int64, error) {
	now := time.Now().UTC()
	res, err := s.db.ExecContext(ctx, `
		UPDATE escalation_events
		SET resolved_at=?, resolved_by_user_id=?, resolution_reason=?
		WHERE incident_id=? AND resolved_at IS NULL`,
		now, resolvedBy, reason, incidentID)
	if err != nil {
		return 0, err
	}
	affected, _ := res.RowsAffected()
	return affected, nil
}

func (s *escalationStore) ScheduleEscalationJob(ctx context.Context, incidentID int64, contactIndex int, runAt time.Time) (*EscalationJob, error) {
	if contactIndex < 0 {
		return nil, fmt.Errorf("negative contact index %d", contactIndex)
	}
	id, err := uuid.NewV4()
	if err != nil {
		return nil, err
	}
	now := time.Now().UTC()
	job := &EscalationJob{
		ID:           id.String(),
		IncidentID:   incidentID,
		ContactIndex: contactIndex,
		RunAt:        runAt.UTC(),
		CreatedAt:    now,
	}
	if _, err := s.db.ExecContext(ctx, `
		INSERT INTO escalation_jobs(id, incident_id, contact_index, run_at, created_at, completed_at)
		VALUES(?,?,?,?,?,NULL)`,
		job.ID, job.IncidentID, job.ContactIndex, job.RunAt, job.CreatedAt); err != nil {
		return nil, err
	}
	return job, nil
}

func (s *escalationStore) ListDueEscalationJobs(ctx context.Context, now time.Time, limit int) ([]EscalationJob, error) {
	query := `
		SELECT id, incident_id, contact_index, run_at, created_at, completed_at
		FROM escalation_jobs
		WHERE completed_at IS NULL AND run_at<=?
		ORDER BY run_at ASC, created_at ASC`
	if limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", limit)
	}
	rows, err := s.db.QueryContext(ctx, query, now.UTC())
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []EscalationJob
	for rows.Next() {
		var job EscalationJob
		var completed sql.NullTime
		if err := rows.Scan(&job.ID, &job.IncidentID, &job.ContactIndex, &job.RunAt, &job.CreatedAt, &completed); err != nil {
			return nil, err
		}
		if completed.Valid {
			t := completed.Time.UTC()
			job.CompletedAt = &t
		}
		job.RunAt = job.RunAt.UTC()
		res = append(res, job)
	}
	return res, rows.Err()
}

func (s *escalationStore) CompleteEscalationJob(ctx context.Context, jobID string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE escalation_jobs SET completed_at=? WHERE id=? AND completed_at IS NULL`,
		time.Now().UTC(), jobID)
	if err != nil {
		return err
	}
	if affected, _ := res.RowsAffected(); affected == 0 {
		return errors.Join(ErrConflict, fmt.Errorf("job %s already completed", jobID))
	}
	return nil
}
