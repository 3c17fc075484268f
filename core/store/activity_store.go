package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// ActivityEvent rows are immutable once written; corrections are new,
// compensating events.
type ActivityEvent struct {
	ID          int64          `json:"id"`
	IncidentID  int64          `json:"incident_id"`
	EventType   string         `json:"event_type"`
	PerformedBy *int64         `json:"performed_by_user_id,omitempty"`
	Metadata    map[string]any `json:"metadata,omitempty"`
	CreatedAt   time.Time      `json:"created_at"`
}

type ActivityStore interface {
	// AddActivityEvent appends the event and advances the incident's
	// last_activity_at in the same transaction.
	AddActivityEvent(ctx context.Context, ev *ActivityEvent) (int64, error)
	ListIncidentActivity(ctx context.Context, incidentID int64, limit int, eventType string) ([]ActivityEvent, error)
	// CountUnreadActivity counts events of the given types created
	// after `since` (or all of them when since is nil) by someone other
	// than userID.
	CountUnreadActivity(ctx context.Context, incidentID, userID int64, eventTypes []string, since *time.Time) (int, error)
}

type activityStore struct {
	db *sql.DB
}

func NewActivityStore(db *sql.DB) ActivityStore {
	return &activityStore{db: db}
}

func (s *activityStore) AddActivityEvent(ctx context.Context, ev *ActivityEvent) (int64, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	now := time.Now().UTC()
	at, err := touchLastActivityTx(ctx, tx, ev.IncidentID, now)
	if err != nil {
		tx.Rollback()
		return 0, err
	}
	meta := "{}"
	if len(ev.Metadata) > 0 {
		if b, mErr := json.Marshal(ev.Metadata); mErr == nil {
			meta = string(b)
		}
	}
	res, err := tx.ExecContext(ctx, `
		INSERT INTO activity_events(incident_id, event_type, performed_by_user_id, metadata_json, created_at)
		VALUES(?,?,?,?,?)`,
		ev.IncidentID, strings.TrimSpace(ev.EventType), nullableID(ev.PerformedBy), meta, at)
	if err != nil {
		tx.Rollback()
		return 0, err
	}
	if err := tx.Commit(); err != nil {
		return 0, err
	}
	id, _ := res.LastInsertId()
	ev.ID = id
	ev.CreatedAt = at
	return id, nil
}

func (s *activityStore) ListIncidentActivity(ctx context.Context, incidentID int64, limit int, eventType string) ([]ActivityEvent, error) {
	query := `
		SELECT id, incident_id, event_type, performed_by_user_id, metadata_json, created_at
		FROM activity_events WHERE incident_id=?`
	args := []any{incidentID}
	if strings.TrimSpace(eventType) != "" {
		query += " AND event_type=?"
		args = append(args, eventType)
	}
	query += " ORDER BY created_at DESC, id DESC"
	if limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", limit)
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []ActivityEvent
	for rows.Next() {
		var ev ActivityEvent
		var performedBy sql.NullInt64
		var metaRaw string
		if err := rows.Scan(&ev.ID, &ev.IncidentID, &ev.EventType, &performedBy, &metaRaw, &ev.CreatedAt); err != nil {
			return nil, err
		}
		if performedBy.Valid {
			ev.PerformedBy = &performedBy.Int64
		}
		if strings.TrimSpace(metaRaw) != "" {
			_ = json.Unmarshal([]byte(metaRaw), &ev.Metadata)
		}
		ev.CreatedAt = ev.CreatedAt.UTC()
		res = append(res, ev)
	}
	return res, rows.Err()
}

func (s *activityStore) CountUnreadActivity(ctx context.Context, incidentID, userID int64, eventTypes []string, since *time.Time) (int, error) {
	if len(eventTypes) == 0 {
		return 0, nil
	}
	placeholders := strings.TrimRight(strings.Repeat("?,", len(eventTypes)), ",")
	query := fmt.Sprintf(`
		SELECT COUNT(1) FROM activity_events
		WHERE incident_id=? AND event_type IN (%s)
		AND (performed_by_user_id IS NULL OR performed_by_user_id!=?)`, placeholders)
	args := []any{incidentID}
	for _, t := range eventTypes {
		args = append(args, t)
	}
	args = append(args, userID)
	if since != nil {
		query += " AND created_at>?"
		args = append(args, since.UTC())
	}
	var count int
	if err := s.db.QueryRowContext(ctx, query, args...).Scan(&count); err != nil {
		return 0, err
	}
	return count, nil
}
