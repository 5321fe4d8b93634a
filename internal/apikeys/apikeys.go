// Package apikeys issues, lists, revokes and authenticates API keys.
package apikeys

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/crypto/bcrypt"

	"flightplan-gateway/internal/apperr"
	"flightplan-gateway/internal/models"
	"flightplan-gateway/internal/storage"
	"flightplan-gateway/internal/telemetry"
	"flightplan-gateway/internal/validate"
)

const (
	SecretPrefix       = "fp_"
	secretLength       = 32
	lookupPrefixLength = 12
)

// GenerateKey returns a new secret, its lookup prefix and its bcrypt hash.
func GenerateKey(cost int) (secret string, prefix string, hash string, err error) {
	bytes := make([]byte, secretLength)
	if _, err = rand.Read(bytes); err != nil {
		return "", "", "", err
	}

	secret = SecretPrefix + hex.EncodeToString(bytes)
	prefix = secret[:lookupPrefixLength]

	hashBytes, err := bcrypt.GenerateFromPassword([]byte(secret), cost)
	if err != nil {
		return "", "", "", err
	}

	return secret, prefix, string(hashBytes), nil
}

// wellFormed reports whether secret has the shape GenerateKey produces.
func wellFormed(secret string) bool {
	if !strings.HasPrefix(secret, SecretPrefix) || len(secret) != len(SecretPrefix)+2*secretLength {
		return false
	}
	_, err := hex.DecodeString(secret[len(SecretPrefix):])
	return err == nil
}

type Service struct {
	store  *storage.Storage
	cost   int
	now    func() time.Time
	tracer trace.Tracer
}

func NewService(store *storage.Storage, bcryptCost int) *Service {
	if bcryptCost == 0 {
		bcryptCost = bcrypt.DefaultCost
	}
	return &Service{
		store:  store,
		cost:   bcryptCost,
		now:    time.Now,
		tracer: telemetry.Tracer("apikeys"),
	}
}

// SetClock replaces the time source.
func (s *Service) SetClock(now func() time.Time) {
	s.now = now
}

// Create issues a key for actorID, scoped to activeOrgID when it is set. The
// plaintext key is only ever present in the returned response.
func (s *Service) Create(ctx context.Context, actorID, activeOrgID, name string) (resp *models.CreateAPIKeyResponse, err error) {
	ctx, span := s.tracer.Start(ctx, "apikeys.Create", trace.WithAttributes(
		attribute.String("user.id", actorID),
		attribute.String("organization.id", activeOrgID),
	))
	defer func() { telemetry.End(span, err) }()

	name, ok := validate.Name(name)
	if !ok {
		return nil, apperr.Invalid("name must be 1-255 characters")
	}
	if activeOrgID != "" {
		if _, err := s.store.GetMembership(ctx, activeOrgID, actorID); err != nil {
			if errors.Is(err, apperr.ErrMemberNotFound) {
				return nil, apperr.ErrNotAMember
			}
			return nil, apperr.Unavailable("load membership", err)
		}
	}

	secret, prefix, hash, err := GenerateKey(s.cost)
	if err != nil {
		return nil, apperr.Unavailable("generate api key", err)
	}

	key := models.APIKey{
		ID:             uuid.NewString(),
		UserID:         actorID,
		OrganizationID: activeOrgID,
		Name:           name,
		KeyPrefix:      prefix,
		KeyHash:        hash,
		CreatedAt:      s.now().UTC(),
	}
	if err := s.store.CreateAPIKey(ctx, &key); err != nil {
		return nil, apperr.Unavailable("create api key", err)
	}

	log.Printf("INFO apikeys: created key id=%s user=%s prefix=%s", key.ID, actorID, prefix)
	return &models.CreateAPIKeyResponse{
		APIKeyView: key.View(),
		Key:        secret,
	}, nil
}

// List returns the actor's keys without secrets or hashes.
func (s *Service) List(ctx context.Context, actorID string) ([]models.APIKeyView, error) {
	keys, err := s.store.ListAPIKeys(ctx, actorID)
	if err != nil {
		return nil, apperr.Unavailable("list api keys", err)
	}
	views := make([]models.APIKeyView, 0, len(keys))
	for _, key := range keys {
		views = append(views, key.View())
	}
	return views, nil
}

// Revoke disables keyID. The owner of the key may revoke it, as may an owner
// or admin of the organization the key is scoped to. Anyone else gets
// ErrAPIKeyNotFound. Revoking twice succeeds.
func (s *Service) Revoke(ctx context.Context, actorID, keyID string) (err error) {
	ctx, span := s.tracer.Start(ctx, "apikeys.Revoke", trace.WithAttributes(
		attribute.String("user.id", actorID),
		attribute.String("api_key.id", keyID),
	))
	defer func() { telemetry.End(span, err) }()

	key, err := s.store.GetAPIKey(ctx, keyID)
	if err != nil {
		if errors.Is(err, apperr.ErrAPIKeyNotFound) {
			return err
		}
		return apperr.Unavailable("load api key", err)
	}
	if key.UserID != actorID {
		allowed, err := s.managesOrganization(ctx, key.OrganizationID, actorID)
		if err != nil {
			return err
		}
		if !allowed {
			return apperr.ErrAPIKeyNotFound
		}
	}

	if err := s.store.RevokeAPIKey(ctx, keyID, s.now().UTC()); err != nil {
		return apperr.Unavailable("revoke api key", err)
	}
	log.Printf("INFO apikeys: revoked key id=%s by=%s", keyID, actorID)
	return nil
}

func (s *Service) managesOrganization(ctx context.Context, orgID, userID string) (bool, error) {
	if orgID == "" {
		return false, nil
	}
	m, err := s.store.GetMembership(ctx, orgID, userID)
	if err != nil {
		if errors.Is(err, apperr.ErrMemberNotFound) {
			return false, nil
		}
		return false, apperr.Unavailable("load membership", err)
	}
	return m.Role.CanManageMembers(), nil
}

// Authenticate returns the enabled key matching secret. Every rejection,
// whatever its cause, is ErrInvalidCredential.
func (s *Service) Authenticate(ctx context.Context, secret string) (*models.APIKey, error) {
	if !wellFormed(secret) {
		return nil, apperr.ErrInvalidCredential
	}

	candidates, err := s.store.ListAPIKeysByPrefix(ctx, secret[:lookupPrefixLength])
	if err != nil {
		return nil, apperr.Unavailable("load api keys", err)
	}
	for i := range candidates {
		key := candidates[i]
		if bcrypt.CompareHashAndPassword([]byte(key.KeyHash), []byte(secret)) != nil {
			continue
		}
		if !key.Enabled() {
			return nil, apperr.ErrInvalidCredential
		}
		now := s.now().UTC()
		if err := s.store.TouchAPIKey(ctx, key.ID, now); err != nil {
			log.Printf("WARN apikeys: touch key id=%s: %v", key.ID, err)
		} else {
			key.LastUsedAt = &now
		}
		return &key, nil
	}
	return nil, apperr.ErrInvalidCredential
}
