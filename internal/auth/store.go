package auth

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/gridsight/gridsight/internal/store"
)

// ErrNotFound is returned when a user does not exist.
var ErrNotFound = errors.New("auth: user not found")

// ErrInvalidCredentials is returned on any authentication failure. It is one
// error for both unknown-user and wrong-password so responses cannot be used
// to enumerate accounts.
var ErrInvalidCredentials = errors.New("auth: invalid credentials")

const userColumns = `id, username, name, email, password_hash, role, alerts_enabled, created_at, last_login, disabled`

// UserStore provides persistence for user accounts.
type UserStore struct {
	db *sql.DB
}

// NewUserStore creates a UserStore and runs auth migrations.
func NewUserStore(ctx context.Context, s *store.SQLiteStore) (*UserStore, error) {
	if err := s.Migrate(ctx, "auth", migrations()); err != nil {
		return nil, fmt.Errorf("auth migrations: %w", err)
	}
	return &UserStore{db: s.DB()}, nil
}

// CreateUser inserts a new user. Passwords must already be hashed.
func (s *UserStore) CreateUser(ctx context.Context, u *User) error {
	if !ValidRoles[u.Role] {
		return fmt.Errorf("auth: invalid role %q", u.Role)
	}
	if u.ID == "" {
		u.ID = uuid.NewString()
	}
	if u.CreatedAt.IsZero() {
		u.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO auth_users (id, username, name, email, password_hash, role, alerts_enabled, created_at, disabled)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		u.ID, u.Username, u.Name, u.Email, u.PasswordHash, string(u.Role),
		u.AlertsEnabled, u.CreatedAt, u.Disabled,
	)
	if err != nil {
		return fmt.Errorf("create user: %w", err)
	}
	return nil
}

// GetUser returns a user by username.
func (s *UserStore) GetUser(ctx context.Context, username string) (*User, error) {
	return s.scanUser(s.db.QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM auth_users WHERE username = ?`, username))
}

// ListUsers returns all users ordered by creation time.
func (s *UserStore) ListUsers(ctx context.Context) ([]User, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+userColumns+` FROM auth_users ORDER BY created_at`)
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	defer rows.Close()

	var users []User
	for rows.Next() {
		u, err := scanUserRow(rows)
		if err != nil {
			return nil, err
		}
		users = append(users, *u)
	}
	return users, rows.Err()
}

// Authenticate verifies credentials and records the login time. Disabled
// accounts and bad passwords both map to ErrInvalidCredentials.
func (s *UserStore) Authenticate(ctx context.Context, username, password string) (*User, error) {
	u, err := s.GetUser(ctx, username)
	if errors.Is(err, ErrNotFound) {
		// Burn a hash comparison anyway to keep timing comparable.
		CheckPassword("$2a$10$invalidinvalidinvalidinvalidinvalidinvalidinvalidinv", password)
		return nil, ErrInvalidCredentials
	}
	if err != nil {
		return nil, err
	}
	if u.Disabled || !CheckPassword(u.PasswordHash, password) {
		return nil, ErrInvalidCredentials
	}

	now := time.Now().UTC()
	if _, err := s.db.ExecContext(ctx,
		`UPDATE auth_users SET last_login = ? WHERE id = ?`, now, u.ID); err != nil {
		return nil, fmt.Errorf("record login: %w", err)
	}
	u.LastLogin = now
	return u, nil
}

// ChangePassword verifies the old password and replaces it with a hash of the
// new one.
func (s *UserStore) ChangePassword(ctx context.Context, username, oldPassword, newPassword string) error {
	u, err := s.GetUser(ctx, username)
	if err != nil {
		return err
	}
	if !CheckPassword(u.PasswordHash, oldPassword) {
		return ErrInvalidCredentials
	}
	if err := ValidatePassword(newPassword); err != nil {
		return err
	}
	hash, err := HashPassword(newPassword, 0)
	if err != nil {
		return err
	}
	if _, err := s.db.ExecContext(ctx,
		`UPDATE auth_users SET password_hash = ? WHERE id = ?`, hash, u.ID); err != nil {
		return fmt.Errorf("change password: %w", err)
	}
	return nil
}

// UpdateRole changes a user's role.
func (s *UserStore) UpdateRole(ctx context.Context, username string, role Role) error {
	if !ValidRoles[role] {
		return fmt.Errorf("auth: invalid role %q", role)
	}
	return s.updateField(ctx, username, `role`, string(role))
}

// UpdateEmail changes a user's email address.
func (s *UserStore) UpdateEmail(ctx context.Context, username, email string) error {
	return s.updateField(ctx, username, `email`, email)
}

// SetAlertsEnabled toggles whether the user receives alert emails.
func (s *UserStore) SetAlertsEnabled(ctx context.Context, username string, enabled bool) error {
	return s.updateField(ctx, username, `alerts_enabled`, enabled)
}

// DeleteUser removes a user account. The bootstrap admin cannot be deleted.
func (s *UserStore) DeleteUser(ctx context.Context, username string) error {
	if username == "admin" {
		return fmt.Errorf("auth: cannot delete admin user")
	}
	res, err := s.db.ExecContext(ctx, `DELETE FROM auth_users WHERE username = ?`, username)
	if err != nil {
		return fmt.Errorf("delete user: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete user: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// AlertRecipients returns the email addresses of users with alerts enabled.
func (s *UserStore) AlertRecipients(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT email FROM auth_users
		WHERE alerts_enabled = 1 AND disabled = 0 AND email != ''
		ORDER BY username`)
	if err != nil {
		return nil, fmt.Errorf("alert recipients: %w", err)
	}
	defer rows.Close()

	var emails []string
	for rows.Next() {
		var email string
		if err := rows.Scan(&email); err != nil {
			return nil, fmt.Errorf("scan recipient: %w", err)
		}
		emails = append(emails, email)
	}
	return emails, rows.Err()
}

// EnsureDefaultUsers bootstraps the admin, operator, and viewer accounts the
// first time the service starts with an empty user table.
func (s *UserStore) EnsureDefaultUsers(ctx context.Context) error {
	var count int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM auth_users`).Scan(&count); err != nil {
		return fmt.Errorf("count users: %w", err)
	}
	if count > 0 {
		return nil
	}

	defaults := []struct {
		username, name, email, password string
		role                            Role
		alerts                          bool
	}{
		{"admin", "Administrator", "admin@gridsight.local", "admin-changeme", RoleAdmin, true},
		{"operator", "Grid Operator", "operator@gridsight.local", "operator-changeme", RoleOperator, true},
		{"viewer", "Data Viewer", "viewer@gridsight.local", "viewer-changeme", RoleViewer, false},
	}
	for _, d := range defaults {
		hash, err := HashPassword(d.password, 0)
		if err != nil {
			return err
		}
		u := &User{
			Username:      d.username,
			Name:          d.name,
			Email:         d.email,
			PasswordHash:  hash,
			Role:          d.role,
			AlertsEnabled: d.alerts,
		}
		if err := s.CreateUser(ctx, u); err != nil {
			return err
		}
	}
	return nil
}

func (s *UserStore) updateField(ctx context.Context, username, column string, value any) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE auth_users SET `+column+` = ? WHERE username = ?`, value, username)
	if err != nil {
		return fmt.Errorf("update %s: %w", column, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update %s: %w", column, err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func (s *UserStore) scanUser(row *sql.Row) (*User, error) {
	u, err := scanUserRow(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return u, err
}

func scanUserRow(row rowScanner) (*User, error) {
	var u User
	var role string
	var lastLogin sql.NullTime
	if err := row.Scan(
		&u.ID, &u.Username, &u.Name, &u.Email, &u.PasswordHash,
		&role, &u.AlertsEnabled, &u.CreatedAt, &lastLogin, &u.Disabled,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, sql.ErrNoRows
		}
		return nil, fmt.Errorf("scan user: %w", err)
	}
	u.Role = Role(role)
	if lastLogin.Valid {
		u.LastLogin = lastLogin.Time
	}
	return &u, nil
}
