package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"
)

type Message struct {
	ID           int64     `json:"id"`
	IncidentID   int64     `json:"incident_id"`
	AuthorUserID int64     `json:"author_user_id"`
	Body         string    `json:"body"`
	CreatedAt    time.Time `json:"created_at"`
}

type MessagesStore interface {
	CreateMessage(ctx context.Context, msg *Message) (int64, error)
	ListIncidentMessages(ctx context.Context, incidentID int64, limit int) ([]Message, error)
	CountUnreadMessages(ctx context.Context, incidentID, userID int64, since *time.Time) (int, error)
}

type messagesStore struct {
	db *sql.DB
}

func NewMessagesStore(db *sql.DB) MessagesStore {
	return &messagesStore{db: db}
}

func (s *messagesStore) CreateMessage(ctx context.Context, msg *Message) (int64, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	now := time.Now().UTC()
	at, err := touchLastActivityTx(ctx, tx, msg.IncidentID, now)
	if err != nil {
		tx.Rollback()
		return 0, err
	}
	res, err := tx.ExecContext(ctx, `
		INSERT INTO messages(incident_id, author_user_id, body, created_at)
		VALUES(?,?,?,?)`,
		msg.IncidentID, msg.AuthorUserID, strings.TrimSpace(msg.Body), at)
	if err != nil {
		tx.Rollback()
		return 0, err
	}
	if err := tx.Commit(); err != nil {
		return 0, err
	}
	id, _ := res.LastInsertId()
	msg.ID = id
	msg.CreatedAt = at
	return id, nil
}

func (s *messagesStore) ListIncidentMessages(ctx context.Context, incidentID int64, limit int) ([]Message, error) {
	query := `
		SELECT id, incident_id, author_user_id, body, created_at
		FROM messages WHERE incident_id=? ORDER BY created_at DESC, id DESC`
	if limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", limit)
	}
	rows, err := s.db.QueryContext(ctx, query, incidentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []Message
	for rows.Next() {
		var m Message
		if err := rows.Scan(&m.ID, &m.IncidentID, &m.AuthorUserID, &m.Body, &m.CreatedAt); err != nil {
			return nil, err
		}
		m.CreatedAt = m.CreatedAt.UTC()
		res = append(res, m)
	}
	return res, rows.Err()
}

func (s *messagesStore) CountUnreadMessages(ctx context.Context, incidentID, userID int64, since *time.Time) (int, error) {
	query := `SELECT COUNT(1) FROM messages WHERE incident_id=? AND author_user_id!=?`
	args := []any{incidentID, userID}
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
