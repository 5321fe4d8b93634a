package storage

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"flightplan-gateway/internal/apperr"
	"flightplan-gateway/internal/models"
)

type userRow struct {
	ID           string         `db:"id"`
	Email        string         `db:"email"`
	Name         string         `db:"name"`
	AvatarURL    sql.NullString `db:"avatar_url"`
	PasswordHash string         `db:"password_hash"`
	CreatedAt    int64          `db:"created_at"`
	UpdatedAt    int64          `db:"updated_at"`
}

func (r userRow) model() *models.User {
	return &models.User{
		ID:        r.ID,
		Email:     r.Email,
		Name:      r.Name,
		AvatarURL: r.AvatarURL.String,
		CreatedAt: fromMillis(r.CreatedAt),
		UpdatedAt: fromMillis(r.UpdatedAt),
	}
}

const userColumns = `id, email, name, avatar_url, password_hash, created_at, updated_at`

// CreateUser inserts a user. The email must already be normalized.
func (q *queries) CreateUser(ctx context.Context, user *models.User, passwordHash string) error {
	_, err := q.exec(ctx, `
		INSERT INTO users (id, email, name, avatar_url, password_hash, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, user.ID, user.Email, user.Name, nullIfEmpty(user.AvatarURL), passwordHash,
		toMillis(user.CreatedAt), toMillis(user.UpdatedAt))
	if err != nil {
		if isUniqueViolation(err) {
			return apperr.ErrEmailTaken
		}
		return err
	}
	return nil
}

func (q *queries) GetUser(ctx context.Context, id string) (*models.User, error) {
	var row userRow
	err := q.get(ctx, &row, `SELECT `+userColumns+` FROM users WHERE id = ?`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.ErrUserNotFound
	}
	if err != nil {
		return nil, err
	}
	return row.model(), nil
}

// GetUserCredentials returns the user registered under email and its password hash.
func (q *queries) GetUserCredentials(ctx context.Context, email string) (*models.User, string, error) {
	var row userRow
	err := q.get(ctx, &row, `SELECT `+userColumns+` FROM users WHERE email = ?`, email)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, "", apperr.ErrUserNotFound
	}
	if err != nil {
		return nil, "", err
	}
	return row.model(), row.PasswordHash, nil
}

// UpdateUserProfile sets the name and, when avatarURL is non-nil, the avatar.
func (q *queries) UpdateUserProfile(ctx context.Context, id, name string, avatarURL *string, now time.Time) (*models.User, error) {
	var n int64
	var err error
	if avatarURL != nil {
		n, err = q.exec(ctx, `UPDATE users SET name = ?, avatar_url = ?, updated_at = ? WHERE id = ?`,
			name, nullIfEmpty(*avatarURL), toMillis(now), id)
	} else {
		n, err = q.exec(ctx, `UPDATE users SET name = ?, updated_at = ? WHERE id = ?`,
			name, toMillis(now), id)
	}
	if err != nil {
		return nil, err
	}
	if n == 0 {
		return nil, apperr.ErrUserNotFound
	}
	return q.GetUser(ctx, id)
}
