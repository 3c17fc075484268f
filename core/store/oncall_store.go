package store

import (
	"context"
	"database/sql"
	"errors"
	"sort"
	"time"
)

// OnCallConfiguration is optional per organization; an organization
// without one never escalates.
type OnCallConfiguration struct {
	ID                       int64     `json:"id"`
	OrganizationID           int64     `json:"organization_id"`
	PrimaryUserID            int64     `json:"primary_user_id"`
	EscalationTimeoutMinutes int       `json:"escalation_timeout_minutes"`
	CreatedAt                time.Time `json:"created_at"`
	UpdatedAt                time.Time `json:"updated_at"`
}

// EscalationContact positions are 1-based and contiguous; position 0
// is not stored — it addresses the configuration's primary user.
type EscalationContact struct {
	ID                    int64 `json:"id"`
	OnCallConfigurationID int64 `json:"on_call_configuration_id"`
	UserID                int64 `json:"user_id"`
	Position              int   `json:"position"`
}

type OnCallStore interface {
	GetOnCallConfiguration(ctx context.Context, organizationID int64) (*OnCallConfiguration, error)
	UpsertOnCallConfiguration(ctx context.Context, cfg *OnCallConfiguration) error
	ListEscalationContacts(ctx context.Context, configurationID int64) ([]EscalationContact, error)
	// SetEscalationContacts replaces the chain, renumbering positions
	// to 1..n in the given order.
	SetEscalationContacts(ctx context.Context, configurationID int64, contacts []EscalationContact) error
}

type onCallStore struct {
	db *sql.DB
}

func NewOnCallStore(db *sql.DB) OnCallStore {
	return &onCallStore{db: db}
}

func (s *onCallStore) GetOnCallConfiguration(ctx context.Context, organizationID int64) (*OnCallConfiguration, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, organization_id, primary_user_id, escalation_timeout_minutes, created_at, updated_at
		FROM on_call_configurations WHERE organization_id=?`, organizationID)
	var cfg OnCallConfiguration
	if err := row.Scan(&cfg.ID, &cfg.OrganizationID, &cfg.PrimaryUserID, &cfg.EscalationTimeoutMinutes, &cfg.CreatedAt, &cfg.UpdatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &cfg, nil
}

func (s *onCallStore) UpsertOnCallConfiguration(ctx context.Context, cfg *OnCallConfiguration) error {
	now := time.Now().UTC()
	if cfg.EscalationTimeoutMinutes <= 0 {
		cfg.EscalationTimeoutMinutes = 10
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE on_call_configurations SET primary_user_id=?, escalation_timeout_minutes=?, updated_at=?
		WHERE organization_id=?`,
		cfg.PrimaryUserID, cfg.EscalationTimeoutMinutes, now, cfg.OrganizationID)
	if err != nil {
		return err
	}
	if affected, _ := res.RowsAffected(); affected > 0 {
		existing, err := s.GetOnCallConfiguration(ctx, cfg.OrganizationID)
		if err != nil {
			return err
		}
		cfg.ID = existing.ID
		cfg.UpdatedAt = now
		return nil
	}
	ins, err := s.db.ExecContext(ctx, `
		INSERT INTO on_call_configurations(organization_id, primary_user_id, escalation_timeout_minutes, created_at, updated_at)
		VALUES(?,?,?,?,?)`,
		cfg.OrganizationID, cfg.PrimaryUserID, cfg.EscalationTimeoutMinutes, now, now)
	if err != nil {
		return err
	}
	id, _ := ins.LastInsertId()
	cfg.ID = id
	cfg.CreatedAt = now
	cfg.UpdatedAt = now
	return nil
}

func (s *onCallStore) ListEscalationContacts(ctx context.Context, configurationID int64) ([]EscalationContact, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, on_call_configuration_id, user_id, position
		FROM escalation_contacts WHERE on_call_configuration_id=? ORDER BY position ASC`, configurationID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []EscalationContact
	for rows.Next() {
		var c EscalationContact
		if err := rows.Scan(&c.ID, &c.OnCallConfigurationID, &c.UserID, &c.Position); err != nil {
			return nil, err
		}
		res = append(res, c)
	}
	return res, rows.Err()
}

func (s *onCallStore) SetEscalationContacts(ctx context.Context, configurationID int64, contacts []EscalationContact) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM escalation_contacts WHERE on_call_configuration_id=?`, configurationID); err != nil {
		tx.Rollback()
		return err
	}
	ordered := make([]EscalationContact, len(contacts))
	copy(ordered, contacts)
	sort.SliceStable(ordered, func(i, j int) bool { return ordered[i].Position < ordered[j].Position })
	for i, c := range ordered {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO escalation_contacts(on_call_configuration_id, user_id, position)
			VALUES(?,?,?)`, configurationID, c.UserID, i+1); err != nil {
			tx.Rollback()
			return err
		}
	}
	return tx.Commit()
}
