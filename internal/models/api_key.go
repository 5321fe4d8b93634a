package models

import "time"

// APIKey is the stored metadata of a bearer credential. The plaintext secret
// is never part of it; KeyHash is not serialized.
type APIKey struct {
	ID             string     `json:"id"`
	UserID         string     `json:"user_id"`
	OrganizationID string     `json:"organization_id,omitempty"`
	Name           string     `json:"name"`
	KeyPrefix      string     `json:"prefix"`
	KeyHash        string     `json:"-"`
	CreatedAt      time.Time  `json:"created_at"`
	LastUsedAt     *time.Time `json:"last_used_at,omitempty"`
	RevokedAt      *time.Time `json:"revoked_at,omitempty"`
}

func (k APIKey) Enabled() bool {
	return k.RevokedAt == nil
}

type CreateAPIKeyInput struct {
	Name string `json:"name"`
}

// CreateAPIKeyResponse is the only place the plaintext key ever appears.
type CreateAPIKeyResponse struct {
	APIKeyView
	Key string `json:"key"`
}

// APIKeyView is the listing shape of a key.
type APIKeyView struct {
	ID             string     `json:"id"`
	Name           string     `json:"name"`
	Prefix         string     `json:"prefix"`
	Enabled        bool       `json:"enabled"`
	OrganizationID string     `json:"organization_id,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
	LastUsedAt     *time.Time `json:"last_used_at,omitempty"`
}

func (k APIKey) View() APIKeyView {
	return APIKeyView{
		ID:             k.ID,
		Name:           k.Name,
		Prefix:         k.KeyPrefix,
		Enabled:        k.Enabled(),
		OrganizationID: k.OrganizationID,
		CreatedAt:      k.CreatedAt,
		LastUsedAt:     k.LastUsedAt,
	}
}
