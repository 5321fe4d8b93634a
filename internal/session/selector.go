package session

import (
	"context"
	"errors"
	"time"

	"flightplan-gateway/internal/apperr"
	"flightplan-gateway/internal/models"
	"flightplan-gateway/internal/storage"
)

// Selector lists a user's organizations and changes the session's active one.
type Selector struct {
	store *storage.Storage
	now   func() time.Time
}

func NewSelector(store *storage.Storage) *Selector {
	return &Selector{store: store, now: time.Now}
}

// SetClock replaces the time source.
func (s *Selector) SetClock(now func() time.Time) {
	s.now = now
}

// List returns userID's organizations in the order the memberships were created.
func (s *Selector) List(ctx context.Context, userID string) ([]models.Organization, error) {
	orgs, err := s.store.ListOrganizationsForUser(ctx, userID)
	if err != nil {
		return nil, apperr.Unavailable("list organizations", err)
	}
	return orgs, nil
}

// SetActive points the principal's session at orgID and returns the updated
// session. API-key principals have no session to change.
func (s *Selector) SetActive(ctx context.Context, principal *Context, orgID string) (*models.Session, error) {
	if principal == nil || principal.User == nil {
		return nil, apperr.ErrUnauthenticated
	}
	if principal.IsAPIKey() || principal.Session == nil {
		return nil, apperr.New(apperr.CodeForbidden, "api keys cannot change the active organization")
	}

	if _, err := s.store.GetMembership(ctx, orgID, principal.User.ID); err != nil {
		if errors.Is(err, apperr.ErrMemberNotFound) {
			return nil, apperr.ErrNotAMember
		}
		return nil, apperr.Unavailable("load membership", err)
	}
	if err := s.store.SetActiveOrganization(ctx, principal.Session.ID, orgID, s.now().UTC()); err != nil {
		if errors.Is(err, apperr.ErrSessionNotFound) {
			return nil, apperr.ErrUnauthenticated
		}
		return nil, apperr.Unavailable("set active organization", err)
	}

	updated := *principal.Session
	updated.ActiveOrganizationID = orgID
	return &updated, nil
}

// AutoSelect activates the only organization of a session that has none.
// The write is conditional, so concurrent callers converge on the first
// stored value, which is returned. With zero or several organizations, or an
// already active one, it returns the current value unchanged.
func (s *Selector) AutoSelect(ctx context.Context, sess *models.Session, orgs []models.Organization) (string, error) {
	if sess.ActiveOrganizationID != "" || len(orgs) != 1 {
		return sess.ActiveOrganizationID, nil
	}
	active, err := s.store.SetActiveOrganizationIfUnset(ctx, sess.ID, orgs[0].ID, s.now().UTC())
	if err != nil {
		return "", apperr.Unavailable("auto-select organization", err)
	}
	sess.ActiveOrganizationID = active
	return active, nil
}
