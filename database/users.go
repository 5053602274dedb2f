package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"warrn-service/models"
)

// CreateUser inserts a new user. The first user ever registered is
// promoted to admin; the promotion check runs inside the registration
// transaction so two concurrent first registrations cannot both become
// admin.
func (d *Database) CreateUser(ctx context.Context, username, email, passwordHash, role string) (*models.User, error) {
	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var count int
	if err := tx.QueryRowContext(ctx, "SELECT COUNT(*) FROM users FOR UPDATE").Scan(&count); err != nil {
		return nil, fmt.Errorf("failed to count users: %w", err)
	}
	if count == 0 {
		role = models.RoleAdmin
	}
	if role == "" {
		role = models.RoleResponder
	}

	result, err := tx.ExecContext(ctx,
		"INSERT INTO users (username, email, password_hash, role) VALUES (?, ?, ?, ?)",
		username, email, passwordHash, role)
	if err != nil {
		return nil, fmt.Errorf("failed to insert user: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("failed to get user id: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}

	return &models.User{
		ID:       id,
		Username: username,
		Email:    email,
		Role:     role,
	}, nil
}

// GetUserByUsername fetches a user by username for login.
func (d *Database) GetUserByUsername(ctx context.Context, username string) (*models.User, error) {
	var u models.User
	err := d.db.QueryRowContext(ctx,
		"SELECT id, username, email, password_hash, role, created_at FROM users WHERE username = ?",
		username).Scan(&u.ID, &u.Username, &u.Email, &u.PasswordHash, &u.Role, &u.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, errors.New("user not found")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query user %s: %w", username, err)
	}
	return &u, nil
}

// GetUser fetches a user by id.
func (d *Database) GetUser(ctx context.Context, id int64) (*models.User, error) {
	var u models.User
	err := d.db.QueryRowContext(ctx,
		"SELECT id, username, email, password_hash, role, created_at FROM users WHERE id = ?",
		id).Scan(&u.ID, &u.Username, &u.Email, &u.PasswordHash, &u.Role, &u.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, errors.New("user not found")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query user %d: %w", id, err)
	}
	return &u, nil
}

// UserExists checks whether a username or email is already taken.
func (d *Database) UserExists(ctx context.Context, username, email string) (bool, error) {
	var count int
	err := d.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM users WHERE username = ? OR email = ?",
		username, email).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("failed to check user existence: %w", err)
	}
	return count > 0, nil
}

// ListResponderEmails returns the email addresses of all responders, used
// for the new-report notification blast.
func (d *Database) ListResponderEmails(ctx context.Context) ([]string, error) {
	rows, err := d.db.QueryContext(ctx, "SELECT email FROM users WHERE role = ?", models.RoleResponder)
	if err != nil {
		return nil, fmt.Errorf("failed to list responder emails: %w", err)
	}
	defer rows.Close()

	var emails []string
	for rows.Next() {
		var email string
		if err := rows.Scan(&email); err != nil {
			return nil, fmt.Errorf("failed to scan responder email: %w", err)
		}
		emails = append(emails, email)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate responder emails: %w", err)
	}
	return emails, nil
}
