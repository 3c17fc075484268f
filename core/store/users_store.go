package store

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"
)

type Organization struct {
	ID        int64     `json:"id"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
}

type User struct {
	ID             int64     `json:"id"`
	OrganizationID int64     `json:"organization_id"`
	Username       string    `json:"username"`
	FullName       string    `json:"full_name"`
	Email          string    `json:"email"`
	Phone          string    `json:"phone,omitempty"`
	Role           string    `json:"role"`
	Active         bool      `json:"active"`
	CreatedAt      time.Time `json:"created_at"`
}

type UsersStore interface {
	CreateOrganization(ctx context.Context, org *Organization) (int64, error)
	CreateUser(ctx context.Context, user *User) (int64, error)
	GetUser(ctx context.Context, id int64) (*User, error)
	ListOrganizationUsers(ctx context.Context, organizationID int64) ([]User, error)
}

type usersStore struct {
	db *sql.DB
}

func NewUsersStore(db *sql.DB) UsersStore {
	return &usersStore{db: db}
}

func (s *usersStore) CreateOrganization(ctx context.Context, org *Organization) (int64, error) {
	now := time.Now().UTC()
	res, err := s.db.ExecContext(ctx, `INSERT INTO organizations(name, created_at) VALUES(?,?)`,
		strings.TrimSpace(org.Name), now)
	if err != nil {
		return 0, err
	}
	id, _ := res.LastInsertId()
	org.ID = id
	org.CreatedAt = now
	return id, nil
}

func (s *usersStore) CreateUser(ctx context.Context, user *User) (int64, error) {
	if strings.TrimSpace(user.Role) == "" {
		user.Role = "member"
	}
	now := time.Now().UTC()
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO users(organization_id, username, full_name, email, phone, role, active, created_at)
		VALUES(?,?,?,?,?,?,?,?)`,
		user.OrganizationID, strings.TrimSpace(user.Username), strings.TrimSpace(user.FullName),
		strings.TrimSpace(user.Email), strings.TrimSpace(user.Phone), user.Role, boolToInt(user.Active), now)
	if err != nil {
		return 0, err
	}
	id, _ := res.LastInsertId()
	user.ID = id
	user.CreatedAt = now
	return id, nil
}

func (s *usersStore) GetUser(ctx context.Context, id int64) (*User, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, organization_id, username, full_name, email, phone, role, active, created_at
		FROM users WHERE id=?`, id)
	var u User
	var active int
	if err := row.Scan(&u.ID, &u.OrganizationID, &u.Username, &u.FullName, &u.Email, &u.Phone, &u.Role, &active, &u.CreatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	u.Active = active == 1
	return &u, nil
}

func (s *usersStore) ListOrganizationUsers(ctx context.Context, organizationID int64) ([]User, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, organization_id, username, full_name, email, phone, role, active, created_at
		FROM users WHERE organization_id=? AND active=1 ORDER BY id ASC`, organizationID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []User
	for rows.Next() {
		var u User
		var active int
		if err := rows.Scan(&u.ID, &u.OrganizationID, &u.Username, &u.FullName, &u.Email, &u.Phone, &u.Role, &active, &u.CreatedAt); err != nil {
			return nil, err
		}
		u.Active = active == 1
		res = append(res, u)
	}
	return res, rows.Err()
}
