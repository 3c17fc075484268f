package store

import (
	"context"
	"database/sql"
	"errors"
	"time"
)

// IncidentReadState holds per-user watermarks for the messages tab and
// the activity tab; nil means the user never opened that tab.
type IncidentReadState struct {
	IncidentID         int64      `json:"incident_id"`
	UserID             int64      `json:"user_id"`
	LastMessageReadAt  *time.Time `json:"last_message_read_at,omitempty"`
	LastActivityReadAt *time.Time `json:"last_activity_read_at,omitempty"`
	UpdatedAt          time.Time  `json:"updated_at"`
}

type ReadStateStore interface {
	GetReadState(ctx context.Context, incidentID, userID int64) (*IncidentReadState, error)
	MarkMessagesRead(ctx context.Context, incidentID, userID int64, at time.Time) error
	MarkActivityRead(ctx context.Context, incidentID, userID int64, at time.Time) error
}

type readStateStore struct {
	db *sql.DB
}

func NewReadStateStore(db *sql.DB) ReadStateStore {
	return &readStateStore{db: db}
}

func (s *readStateStore) GetReadState(ctx context.Context, incidentID, userID int64) (*IncidentReadState, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT incident_id, user_id, last_message_read_at, last_activity_read_at, updated_at
		FROM incident_read_states WHERE incident_id=? AND user_id=?`, incidentID, userID)
	var st IncidentReadState
	var msgAt, actAt sql.NullTime
	if err := row.Scan(&st.IncidentID, &st.UserID, &msgAt, &actAt, &st.UpdatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	if msgAt.Valid {
		t := msgAt.Time.UTC()
		st.LastMessageReadAt = &t
	}
	if actAt.Valid {
		t := actAt.Time.UTC()
		st.LastActivityReadAt = &t
	}
	return &st, nil
}

func (s *readStateStore) MarkMessagesRead(ctx context.Context, incidentID, userID int64, at time.Time) error {
	now := time.Now().UTC()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO incident_read_states(incident_id, user_id, last_message_read_at, last_activity_read_at, updated_at)
		VALUES(?,?,?,NULL,?)
		ON CONFLICT (incident_id, user_id)
		DO UPDATE SET last_message_read_at=excluded.last_message_read_at, updated_at=excluded.updated_at`,
		incidentID, userID, at.UTC(), now)
	return err
}

func (s *readStateStore) MarkActivityRead(ctx context.Context, incidentID, userID int64, at time.Time) error {
	now := time.Now().UTC()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO incident_read_states(incident_id, user_id, last_message_read_at, last_activity_read_at, updated_at)
		VALUES(?,?,NULL,?,?)
		ON CONFLICT (incident_id, user_id)
		DO UPDATE SET last_activity_read_at=excluded.last_activity_read_at, updated_at=excluded.updated_at`,
		incidentID, userID, at.UTC(), now)
	return err
}
