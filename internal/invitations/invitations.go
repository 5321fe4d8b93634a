// Package invitations runs the invitation lifecycle: create or resend,
// list, cancel and accept.
package invitations

import (
	"context"
	"errors"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"flightplan-gateway/internal/apperr"
	"flightplan-gateway/internal/events"
	"flightplan-gateway/internal/models"
	"flightplan-gateway/internal/storage"
	"flightplan-gateway/internal/telemetry"
	"flightplan-gateway/internal/validate"
)

const DefaultTTL = 48 * time.Hour

type Service struct {
	store  *storage.Storage
	events events.Publisher
	ttl    time.Duration
	now    func() time.Time
	tracer trace.Tracer
}

func NewService(store *storage.Storage, publisher events.Publisher, ttl time.Duration) *Service {
	if publisher == nil {
		publisher = events.Nop{}
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Service{
		store:  store,
		events: publisher,
		ttl:    ttl,
		now:    time.Now,
		tracer: telemetry.Tracer("invitations"),
	}
}

// SetClock replaces the time source.
func (s *Service) SetClock(now func() time.Time) {
	s.now = now
}

// Result is the outcome of inviting one address in a batch.
type Result struct {
	Email      string             `json:"email"`
	Invitation *models.Invitation `json:"invitation,omitempty"`
	Resent     bool               `json:"resent"`
	Err        error              `json:"-"`
}

// Create invites email into orgID with role. An open invitation for the same
// address is refreshed instead of duplicated; the second return value
// reports whether that happened.
func (s *Service) Create(ctx context.Context, actor *models.User, orgID, email, role string) (inv *models.Invitation, resent bool, err error) {
	ctx, span := s.tracer.Start(ctx, "invitations.Create", trace.WithAttributes(
		attribute.String("user.id", actor.ID),
		attribute.String("organization.id", orgID),
	))
	defer func() { telemetry.End(span, err) }()

	if !validate.Email(email) {
		return nil, false, apperr.ErrInvalidEmail
	}
	email = validate.NormalizeEmail(email)
	r, ok := models.ParseRole(role)
	if !ok {
		return nil, false, apperr.ErrInvalidRole
	}
	return s.create(ctx, actor, orgID, email, r)
}

// CreateMany invites every distinct address in emails. Authorization and the
// role are checked once for the batch; per-address failures are reported in
// the matching Result.
func (s *Service) CreateMany(ctx context.Context, actor *models.User, orgID string, emails []string, role string) ([]Result, error) {
	r, ok := models.ParseRole(role)
	if !ok {
		return nil, apperr.ErrInvalidRole
	}
	if err := s.authorize(ctx, s.store, orgID, actor.ID, r); err != nil {
		return nil, err
	}

	seen := make(map[string]bool, len(emails))
	results := make([]Result, 0, len(emails))
	for _, raw := range emails {
		email := validate.NormalizeEmail(raw)
		if email == "" || seen[email] {
			continue
		}
		seen[email] = true

		res := Result{Email: email}
		if !validate.Email(email) {
			res.Err = apperr.ErrInvalidEmail
		} else {
			res.Invitation, res.Resent, res.Err = s.create(ctx, actor, orgID, email, r)
		}
		results = append(results, res)
	}
	if len(results) == 0 {
		return nil, apperr.Invalid("at least one email is required")
	}
	return results, nil
}

func (s *Service) create(ctx context.Context, actor *models.User, orgID, email string, role models.Role) (*models.Invitation, bool, error) {
	var (
		inv    *models.Invitation
		resent bool
		org    *models.Organization
		err    error
	)
	// A concurrent insert for the same recipient can win the pending slot
	// between our read and write; the second attempt then refreshes it.
	for attempt := 0; attempt < 2; attempt++ {
		now := s.now().UTC()
		err = s.store.InTx(ctx, func(tx *storage.Tx) error {
			if err := lockOrganization(ctx, tx, orgID); err != nil {
				return err
			}
			if err := s.authorize(ctx, tx, orgID, actor.ID, role); err != nil {
				return err
			}
			var err error
			if org, err = tx.GetOrganization(ctx, orgID); err != nil {
				return err
			}
			if _, err := tx.GetMember(ctx, orgID, email); err == nil {
				return apperr.ErrAlreadyMember
			} else if !errors.Is(err, apperr.ErrMemberNotFound) {
				return err
			}
			if _, err := tx.ExpireStalePendingInvitations(ctx, orgID, email, now); err != nil {
				return err
			}

			expiresAt := now.Add(s.ttl)
			existing, err := tx.GetPendingInvitation(ctx, orgID, email)
			switch {
			case err == nil:
				ok, err := tx.RefreshInvitation(ctx, existing.ID, actor.ID, role, expiresAt, now)
				if err != nil {
					return err
				}
				if !ok {
					return apperr.ErrInvitationNotPending
				}
				existing.InviterID, existing.Role = actor.ID, role
				existing.ExpiresAt, existing.UpdatedAt = expiresAt, now
				inv, resent = existing, true
				return nil
			case errors.Is(err, apperr.ErrInvitationNotFound):
				fresh := &models.Invitation{
					ID:             uuid.NewString(),
					OrganizationID: orgID,
					InviterID:      actor.ID,
					Email:          email,
					Role:           role,
					Status:         models.InvitationPending,
					ExpiresAt:      expiresAt,
					CreatedAt:      now,
					UpdatedAt:      now,
				}
				if err := tx.CreateInvitation(ctx, fresh); err != nil {
					return err
				}
				inv, resent = fresh, false
				return nil
			default:
				return err
			}
		})
		if err == nil || !storage.IsDuplicatePending(err) {
			break
		}
	}
	if err != nil {
		return nil, false, apperr.Classify("create invitation", err)
	}

	eventType := events.InvitationCreated
	if resent {
		eventType = events.InvitationResent
	}
	log.Printf("INFO invitations: %s id=%s org=%s email=%s role=%s", eventType, inv.ID, orgID, email, role)
	events.Emit(ctx, s.events, events.Event{
		Type:             eventType,
		OrganizationID:   orgID,
		OrganizationName: org.Name,
		InvitationID:     inv.ID,
		Email:            inv.Email,
		Role:             string(inv.Role),
		ActorID:          actor.ID,
		ActorEmail:       actor.Email,
		ActorName:        actor.Name,
		ExpiresAt:        inv.ExpiresAt,
		OccurredAt:       inv.UpdatedAt,
	})
	return inv, resent, nil
}

// ListPending returns the organization's open invitations, oldest first.
func (s *Service) ListPending(ctx context.Context, actorID, orgID string) ([]models.Invitation, error) {
	if _, err := requireMember(ctx, s.store, orgID, actorID); err != nil {
		return nil, err
	}
	invs, err := s.store.ListPendingInvitations(ctx, orgID, s.now().UTC())
	if err != nil {
		return nil, apperr.Unavailable("list invitations", err)
	}
	return invs, nil
}

// Details returns the public view of an open invitation. Accepted, canceled,
// expired and missing invitations are all ErrInvitationNotFound.
func (s *Service) Details(ctx context.Context, id string) (*models.InvitationDetails, error) {
	details, err := s.store.GetInvitationDetails(ctx, id, s.now().UTC())
	if err != nil {
		return nil, apperr.Classify("load invitation", err)
	}
	return details, nil
}

// Cancel withdraws a pending invitation. Canceling a canceled invitation
// succeeds without effect.
func (s *Service) Cancel(ctx context.Context, actorID, id string) (err error) {
	ctx, span := s.tracer.Start(ctx, "invitations.Cancel", trace.WithAttributes(
		attribute.String("user.id", actorID),
		attribute.String("invitation.id", id),
	))
	defer func() { telemetry.End(span, err) }()

	inv, err := s.store.GetInvitation(ctx, id)
	if err != nil {
		return apperr.Classify("load invitation", err)
	}
	if _, err := requireManager(ctx, s.store, inv.OrganizationID, actorID); err != nil {
		return err
	}

	now := s.now().UTC()
	if inv.Status == models.InvitationPending {
		ok, err := s.store.TransitionInvitation(ctx, id, models.InvitationCanceled, "", now)
		if err != nil {
			return apperr.Unavailable("cancel invitation", err)
		}
		if ok {
			log.Printf("INFO invitations: canceled id=%s org=%s by=%s", id, inv.OrganizationID, actorID)
			events.Emit(ctx, s.events, events.Event{
				Type:           events.InvitationCanceled,
				OrganizationID: inv.OrganizationID,
				InvitationID:   id,
				Email:          inv.Email,
				ActorID:        actorID,
				OccurredAt:     now,
			})
			return nil
		}
		if inv, err = s.store.GetInvitation(ctx, id); err != nil {
			return apperr.Classify("load invitation", err)
		}
	}

	if inv.Status == models.InvitationCanceled {
		return nil
	}
	return apperr.ErrInvitationNotPending
}

// Accept joins user to the invitation's organization with the invited role.
// Accepting an invitation the user already accepted returns the existing
// membership. An existing owner keeps the owner role.
func (s *Service) Accept(ctx context.Context, user *models.User, id string) (membership *models.Membership, err error) {
	ctx, span := s.tracer.Start(ctx, "invitations.Accept", trace.WithAttributes(
		attribute.String("user.id", user.ID),
		attribute.String("invitation.id", id),
	))
	defer func() { telemetry.End(span, err) }()

	var (
		inv      *models.Invitation
		accepted bool
	)
	now := s.now().UTC()
	err = s.store.InTx(ctx, func(tx *storage.Tx) error {
		var err error
		if inv, err = tx.GetInvitation(ctx, id); err != nil {
			return err
		}
		if !strings.EqualFold(strings.TrimSpace(user.Email), inv.Email) {
			return apperr.ErrEmailMismatch
		}
		if err := tx.LockOrganization(ctx, inv.OrganizationID); err != nil {
			if errors.Is(err, apperr.ErrOrganizationNotFound) {
				return apperr.ErrInvitationNotFound
			}
			return err
		}
		// Re-read under the organization lock.
		if inv, err = tx.GetInvitation(ctx, id); err != nil {
			return err
		}

		if inv.Status == models.InvitationPending {
			if !now.Before(inv.ExpiresAt) {
				return apperr.ErrInvitationExpired
			}
			ok, err := tx.TransitionInvitation(ctx, id, models.InvitationAccepted, user.ID, now)
			if err != nil {
				return err
			}
			if ok {
				membership, err = tx.UpsertMembership(ctx, &models.Membership{
					ID:             uuid.NewString(),
					OrganizationID: inv.OrganizationID,
					UserID:         user.ID,
					Role:           inv.Role,
					CreatedAt:      now,
				})
				accepted = err == nil
				return err
			}
			if inv, err = tx.GetInvitation(ctx, id); err != nil {
				return err
			}
		}

		if inv.Status != models.InvitationAccepted {
			return apperr.ErrInvitationNotPending
		}
		membership, err = tx.GetMembership(ctx, inv.OrganizationID, user.ID)
		if errors.Is(err, apperr.ErrMemberNotFound) {
			return apperr.ErrInvitationNotPending
		}
		return err
	})
	if err != nil {
		return nil, apperr.Classify("accept invitation", err)
	}

	if accepted {
		log.Printf("INFO invitations: accepted id=%s org=%s user=%s role=%s", id, inv.OrganizationID, user.ID, membership.Role)
		events.Emit(ctx, s.events, events.Event{
			Type:           events.InvitationAccepted,
			OrganizationID: inv.OrganizationID,
			InvitationID:   id,
			UserID:         user.ID,
			Email:          inv.Email,
			Role:           string(membership.Role),
			ActorID:        user.ID,
			ActorEmail:     user.Email,
			OccurredAt:     now,
		})
	}
	return membership, nil
}

// membershipReader is satisfied by both *storage.Storage and *storage.Tx.
type membershipReader interface {
	GetMembership(ctx context.Context, orgID, userID string) (*models.Membership, error)
}

// authorize checks that actorID may invite into orgID with role.
func (s *Service) authorize(ctx context.Context, q membershipReader, orgID, actorID string, role models.Role) error {
	actor, err := requireManager(ctx, q, orgID, actorID)
	if err != nil {
		return err
	}
	if role == models.RoleOwner && actor.Role != models.RoleOwner {
		return apperr.New(apperr.CodeForbidden, "only owners can invite owners")
	}
	return nil
}

func requireMember(ctx context.Context, q membershipReader, orgID, userID string) (*models.Membership, error) {
	m, err := q.GetMembership(ctx, orgID, userID)
	if err != nil {
		if errors.Is(err, apperr.ErrMemberNotFound) {
			return nil, apperr.ErrNotAMember
		}
		return nil, apperr.Unavailable("load membership", err)
	}
	return m, nil
}

func requireManager(ctx context.Context, q membershipReader, orgID, userID string) (*models.Membership, error) {
	m, err := requireMember(ctx, q, orgID, userID)
	if err != nil {
		return nil, err
	}
	if !m.Role.CanManageMembers() {
		return nil, apperr.ErrForbidden
	}
	return m, nil
}

func lockOrganization(ctx context.Context, tx *storage.Tx, orgID string) error {
	err := tx.LockOrganization(ctx, orgID)
	if errors.Is(err, apperr.ErrOrganizationNotFound) {
		return apperr.ErrNotAMember
	}
	return err
}
