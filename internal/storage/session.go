package storage

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"flightplan-gateway/internal/apperr"
	"flightplan-gateway/internal/models"
)

type sessionRow struct {
	ID                   string         `db:"id"`
	UserID               string         `db:"user_id"`
	ActiveOrganizationID sql.NullString `db:"active_organization_id"`
	ExpiresAt            int64          `db:"expires_at"`
	CreatedAt            int64          `db:"created_at"`
}

func (q *queries) CreateSession(ctx context.Context, session *models.Session) error {
	_, err := q.exec(ctx, `
		INSERT INTO sessions (id, user_id, active_organization_id, expires_at, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, session.ID, session.UserID, nullIfEmpty(session.ActiveOrganizationID),
		toMillis(session.ExpiresAt), toMillis(session.CreatedAt), toMillis(session.CreatedAt))
	return err
}

func (q *queries) GetSession(ctx context.Context, id string) (*models.Session, error) {
	var row sessionRow
	err := q.get(ctx, &row, `
		SELECT id, user_id, active_organization_id, expires_at, created_at
		FROM sessions
		WHERE id = ?
	`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.ErrSessionNotFound
	}
	if err != nil {
		return nil, err
	}
	return &models.Session{
		ID:                   row.ID,
		UserID:               row.UserID,
		ActiveOrganizationID: row.ActiveOrganizationID.String,
		ExpiresAt:            fromMillis(row.ExpiresAt),
		CreatedAt:            fromMillis(row.CreatedAt),
	}, nil
}

// DeleteSession removes a session. Deleting a missing session is not an error.
func (q *queries) DeleteSession(ctx context.Context, id string) error {
	_, err := q.exec(ctx, `DELETE FROM sessions WHERE id = ?`, id)
	return err
}

// SetActiveOrganization points the session at orgID, or clears it when orgID is empty.
func (q *queries) SetActiveOrganization(ctx context.Context, sessionID, orgID string, now time.Time) error {
	n, err := q.exec(ctx, `UPDATE sessions SET active_organization_id = ?, updated_at = ? WHERE id = ?`,
		nullIfEmpty(orgID), toMillis(now), sessionID)
	if err != nil {
		return err
	}
	if n == 0 {
		return apperr.ErrSessionNotFound
	}
	return nil
}

// SetActiveOrganizationIfUnset writes orgID only when the session has no active
// organization yet, and returns whichever value is stored afterwards.
func (q *queries) SetActiveOrganizationIfUnset(ctx context.Context, sessionID, orgID string, now time.Time) (string, error) {
	if _, err := q.exec(ctx, `
		UPDATE sessions
		SET active_organization_id = ?, updated_at = ?
		WHERE id = ? AND active_organization_id IS NULL
	`, orgID, toMillis(now), sessionID); err != nil {
		return "", err
	}

	var active sql.NullString
	err := q.get(ctx, &active, `SELECT active_organization_id FROM sessions WHERE id = ?`, sessionID)
	if errors.Is(err, sql.ErrNoRows) {
		return "", apperr.ErrSessionNotFound
	}
	if err != nil {
		return "", err
	}
	return active.String, nil
}

// ClearActiveOrganization unsets the session's pointer if it still names orgID.
func (q *queries) ClearActiveOrganization(ctx context.Context, sessionID, orgID string, now time.Time) error {
	_, err := q.exec(ctx, `
		UPDATE sessions
		SET active_organization_id = NULL, updated_at = ?
		WHERE id = ? AND active_organization_id = ?
	`, toMillis(now), sessionID, orgID)
	return err
}

// ClearActiveOrganizationForUser unsets orgID on every session of userID.
func (q *queries) ClearActiveOrganizationForUser(ctx context.Context, userID, orgID string, now time.Time) error {
	_, err := q.exec(ctx, `
		UPDATE sessions
		SET active_organization_id = NULL, updated_at = ?
		WHERE user_id = ? AND active_organization_id = ?
	`, toMillis(now), userID, orgID)
	return err
}

func (q *queries) DeleteExpiredSessions(ctx context.Context, now time.Time) (int64, error) {
	return q.exec(ctx, `DELETE FROM sessions WHERE expires_at <= ?`, toMillis(now))
}
