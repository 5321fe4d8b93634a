package session

import (
	"context"
	"errors"
	"log"
	"time"

	"flightplan-gateway/internal/apperr"
	"flightplan-gateway/internal/auth"
	"flightplan-gateway/internal/models"
	"flightplan-gateway/internal/storage"
)

// KeyAuthenticator validates API key secrets.
type KeyAuthenticator interface {
	Authenticate(ctx context.Context, secret string) (*models.APIKey, error)
}

type Resolver struct {
	store    *storage.Storage
	issuer   *auth.Issuer
	keys     KeyAuthenticator
	selector *Selector
	now      func() time.Time
}

func NewResolver(store *storage.Storage, issuer *auth.Issuer, keys KeyAuthenticator, selector *Selector) *Resolver {
	return &Resolver{
		store:    store,
		issuer:   issuer,
		keys:     keys,
		selector: selector,
		now:      time.Now,
	}
}

// SetClock replaces the time source.
func (r *Resolver) SetClock(now func() time.Time) {
	r.now = now
}

// Resolve returns the principal behind creds. Missing, malformed, expired or
// revoked credentials yield (nil, nil). Storage faults are Unavailable errors.
func (r *Resolver) Resolve(ctx context.Context, creds Credentials) (*Context, error) {
	switch {
	case creds.APIKey != "":
		return r.resolveAPIKey(ctx, creds.APIKey)
	case creds.SessionToken != "":
		return r.resolveSession(ctx, creds.SessionToken)
	default:
		return nil, nil
	}
}

func (r *Resolver) resolveSession(ctx context.Context, token string) (*Context, error) {
	claims, err := r.issuer.Parse(token)
	if err != nil {
		return nil, nil
	}

	sess, err := r.store.GetSession(ctx, claims.SessionID())
	if err != nil {
		if errors.Is(err, apperr.ErrSessionNotFound) {
			return nil, nil
		}
		return nil, apperr.Unavailable("load session", err)
	}
	if sess.UserID != claims.UserID() || !r.now().Before(sess.ExpiresAt) {
		return nil, nil
	}

	user, err := r.loadUser(ctx, sess.UserID)
	if err != nil || user == nil {
		return nil, err
	}

	orgs, err := r.store.ListOrganizationsForUser(ctx, user.ID)
	if err != nil {
		return nil, apperr.Unavailable("list organizations", err)
	}
	sc := &Context{User: user, Session: sess, Organizations: orgs}

	activeID := sess.ActiveOrganizationID
	if activeID == "" && len(orgs) == 1 {
		activeID, err = r.selector.AutoSelect(ctx, sess, orgs)
		if err != nil {
			return nil, err
		}
	}
	if activeID != "" {
		found, err := r.attachActive(ctx, sc, activeID)
		if err != nil {
			return nil, err
		}
		if !found {
			if err := r.store.ClearActiveOrganization(ctx, sess.ID, activeID, r.now().UTC()); err != nil {
				log.Printf("WARN session: clear stale active organization session=%s org=%s: %v", sess.ID, activeID, err)
			}
			sess.ActiveOrganizationID = ""
		}
	}
	sc.NeedsOrganizationSelection = sc.ActiveOrganization == nil && len(orgs) > 1
	return sc, nil
}

func (r *Resolver) resolveAPIKey(ctx context.Context, secret string) (*Context, error) {
	if r.keys == nil {
		return nil, nil
	}
	key, err := r.keys.Authenticate(ctx, secret)
	if err != nil {
		if errors.Is(err, apperr.ErrInvalidCredential) {
			return nil, nil
		}
		return nil, apperr.Unavailable("authenticate api key", err)
	}

	user, err := r.loadUser(ctx, key.UserID)
	if err != nil || user == nil {
		return nil, err
	}
	orgs, err := r.store.ListOrganizationsForUser(ctx, user.ID)
	if err != nil {
		return nil, apperr.Unavailable("list organizations", err)
	}

	sc := &Context{User: user, Organizations: orgs, APIKeyID: key.ID}
	if key.OrganizationID != "" {
		if _, err := r.attachActive(ctx, sc, key.OrganizationID); err != nil {
			return nil, err
		}
	}
	sc.NeedsOrganizationSelection = sc.ActiveOrganization == nil && len(orgs) > 1
	return sc, nil
}

func (r *Resolver) loadUser(ctx context.Context, id string) (*models.User, error) {
	user, err := r.store.GetUser(ctx, id)
	if err != nil {
		if errors.Is(err, apperr.ErrUserNotFound) {
			return nil, nil
		}
		return nil, apperr.Unavailable("load user", err)
	}
	return user, nil
}

// attachActive loads orgID with its members onto sc when the user still
// belongs to it. It reports false when the membership is gone.
func (r *Resolver) attachActive(ctx context.Context, sc *Context, orgID string) (bool, error) {
	membership, err := r.store.GetMembership(ctx, orgID, sc.User.ID)
	if err != nil {
		if errors.Is(err, apperr.ErrMemberNotFound) {
			return false, nil
		}
		return false, apperr.Unavailable("load membership", err)
	}
	org, err := r.store.GetOrganization(ctx, orgID)
	if err != nil {
		if errors.Is(err, apperr.ErrOrganizationNotFound) {
			return false, nil
		}
		return false, apperr.Unavailable("load organization", err)
	}
	members, err := r.store.ListMembers(ctx, orgID)
	if err != nil {
		return false, apperr.Unavailable("list members", err)
	}
	sc.ActiveOrganization = &models.OrganizationDetail{Organization: *org, Members: members}
	sc.Role = membership.Role
	return true, nil
}
