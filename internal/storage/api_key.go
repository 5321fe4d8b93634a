package storage

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"flightplan-gateway/internal/apperr"
	"flightplan-gateway/internal/models"
)

type apiKeyRow struct {
	ID             string         `db:"id"`
	UserID         string         `db:"user_id"`
	OrganizationID sql.NullString `db:"organization_id"`
	Name           string         `db:"name"`
	KeyPrefix      string         `db:"key_prefix"`
	KeyHash        string         `db:"key_hash"`
	CreatedAt      int64          `db:"created_at"`
	LastUsedAt     sql.NullInt64  `db:"last_used_at"`
	RevokedAt      sql.NullInt64  `db:"revoked_at"`
}

func (r apiKeyRow) model() models.APIKey {
	return models.APIKey{
		ID:             r.ID,
		UserID:         r.UserID,
		OrganizationID: r.OrganizationID.String,
		Name:           r.Name,
		KeyPrefix:      r.KeyPrefix,
		KeyHash:        r.KeyHash,
		CreatedAt:      fromMillis(r.CreatedAt),
		LastUsedAt:     optionalMillis(r.LastUsedAt),
		RevokedAt:      optionalMillis(r.RevokedAt),
	}
}

func optionalMillis(v sql.NullInt64) *time.Time {
	if !v.Valid {
		return nil
	}
	t := fromMillis(v.Int64)
	return &t
}

const apiKeyColumns = `id, user_id, organization_id, name, key_prefix, key_hash, created_at, last_used_at, revoked_at`

func (q *queries) CreateAPIKey(ctx context.Context, key *models.APIKey) error {
	_, err := q.exec(ctx, `
		INSERT INTO api_keys (id, user_id, organization_id, name, key_prefix, key_hash, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, key.ID, key.UserID, nullIfEmpty(key.OrganizationID), key.Name, key.KeyPrefix, key.KeyHash, toMillis(key.CreatedAt))
	return err
}

func (q *queries) GetAPIKey(ctx context.Context, id string) (*models.APIKey, error) {
	var row apiKeyRow
	err := q.get(ctx, &row, `SELECT `+apiKeyColumns+` FROM api_keys WHERE id = ?`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.ErrAPIKeyNotFound
	}
	if err != nil {
		return nil, err
	}
	key := row.model()
	return &key, nil
}

// ListAPIKeys returns every key owned by userID, newest first. Revoked keys
// are included and report Enabled() == false.
func (q *queries) ListAPIKeys(ctx context.Context, userID string) ([]models.APIKey, error) {
	var rows []apiKeyRow
	err := q.selectAll(ctx, &rows, `
		SELECT `+apiKeyColumns+`
		FROM api_keys
		WHERE user_id = ?
		ORDER BY created_at DESC, id DESC
	`, userID)
	if err != nil {
		return nil, err
	}
	result := make([]models.APIKey, 0, len(rows))
	for _, row := range rows {
		result = append(result, row.model())
	}
	return result, nil
}

// ListAPIKeysByPrefix returns candidate keys for a presented secret.
func (q *queries) ListAPIKeysByPrefix(ctx context.Context, prefix string) ([]models.APIKey, error) {
	var rows []apiKeyRow
	err := q.selectAll(ctx, &rows, `SELECT `+apiKeyColumns+` FROM api_keys WHERE key_prefix = ?`, prefix)
	if err != nil {
		return nil, err
	}
	result := make([]models.APIKey, 0, len(rows))
	for _, row := range rows {
		result = append(result, row.model())
	}
	return result, nil
}

// RevokeAPIKey sets revoked_at once; revoking again leaves the first timestamp.
func (q *queries) RevokeAPIKey(ctx context.Context, id string, now time.Time) error {
	_, err := q.exec(ctx, `UPDATE api_keys SET revoked_at = ? WHERE id = ? AND revoked_at IS NULL`, toMillis(now), id)
	return err
}

func (q *queries) TouchAPIKey(ctx context.Context, id string, now time.Time) error {
	_, err := q.exec(ctx, `UPDATE api_keys SET last_used_at = ? WHERE id = ?`, toMillis(now), id)
	return err
}
