// Package orgs creates organizations and manages their memberships.
package orgs

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

type Service struct {
	store  *storage.Storage
	events events.Publisher
	now    func() time.Time
	tracer trace.Tracer
}

func NewService(store *storage.Storage, publisher events.Publisher) *Service {
	if publisher == nil {
		publisher = events.Nop{}
	}
	return &Service{
		store:  store,
		events: publisher,
		now:    time.Now,
		tracer: telemetry.Tracer("orgs"),
	}
}

// SetClock replaces the time source.
func (s *Service) SetClock(now func() time.Time) {
	s.now = now
}

// Create makes actor the owner of a new organization. An empty slug is
// derived from the name. When sessionID is set the new organization becomes
// that session's active one.
func (s *Service) Create(ctx context.Context, actor *models.User, sessionID string, input models.CreateOrganizationInput) (detail *models.OrganizationDetail, err error) {
	ctx, span := s.tracer.Start(ctx, "orgs.Create", trace.WithAttributes(attribute.String("user.id", actor.ID)))
	defer func() { telemetry.End(span, err) }()

	name, ok := validate.Name(input.Name)
	if !ok {
		return nil, apperr.Invalid("name must be 1-255 characters")
	}
	slug := strings.TrimSpace(input.Slug)
	if slug == "" {
		slug = validate.GenerateSlug(name)
	}
	if !validate.Slug(slug) {
		return nil, apperr.ErrInvalidSlug
	}

	now := s.now().UTC()
	org := &models.Organization{
		ID:        uuid.NewString(),
		Name:      name,
		Slug:      slug,
		LogoURL:   strings.TrimSpace(input.LogoURL),
		CreatedAt: now,
	}
	owner := &models.Membership{
		ID:             uuid.NewString(),
		OrganizationID: org.ID,
		UserID:         actor.ID,
		Role:           models.RoleOwner,
		CreatedAt:      now,
	}

	err = s.store.InTx(ctx, func(tx *storage.Tx) error {
		if err := tx.CreateOrganization(ctx, org, owner); err != nil {
			return err
		}
		if sessionID != "" {
			return tx.SetActiveOrganization(ctx, sessionID, org.ID, now)
		}
		return nil
	})
	if err != nil {
		return nil, apperr.Classify("create organization", err)
	}

	log.Printf("INFO orgs: created organization id=%s slug=%s owner=%s", org.ID, org.Slug, actor.ID)
	events.Emit(ctx, s.events, events.Event{
		Type:             events.OrganizationCreated,
		OrganizationID:   org.ID,
		OrganizationName: org.Name,
		ActorID:          actor.ID,
		ActorEmail:       actor.Email,
		OccurredAt:       now,
	})

	return &models.OrganizationDetail{
		Organization: *org,
		Members: []models.MemberDetail{{
			Membership: *owner,
			Email:      actor.Email,
			Name:       actor.Name,
			AvatarURL:  actor.AvatarURL,
		}},
	}, nil
}

// GetFull returns the organization and its members to one of its members.
func (s *Service) GetFull(ctx context.Context, actorID, orgID string) (*models.OrganizationDetail, error) {
	if _, err := s.requireMember(ctx, s.store, orgID, actorID); err != nil {
		return nil, err
	}
	org, err := s.store.GetOrganization(ctx, orgID)
	if err != nil {
		return nil, apperr.Classify("load organization", err)
	}
	members, err := s.store.ListMembers(ctx, orgID)
	if err != nil {
		return nil, apperr.Unavailable("list members", err)
	}
	return &models.OrganizationDetail{Organization: *org, Members: members}, nil
}

// RemoveMember removes the member identified by membership id or email.
// Checks run in a fixed order inside one transaction. The actor must belong
// to the organization and the target must exist. The sole owner is never
// removed, whatever the actor's role. After that the actor must manage
// members, nobody removes themselves here, and only owners remove owners.
func (s *Service) RemoveMember(ctx context.Context, actorID, orgID, target string) (removed *models.MemberDetail, err error) {
	ctx, span := s.tracer.Start(ctx, "orgs.RemoveMember", trace.WithAttributes(
		attribute.String("user.id", actorID),
		attribute.String("organization.id", orgID),
	))
	defer func() { telemetry.End(span, err) }()

	target = strings.TrimSpace(target)
	if strings.Contains(target, "@") {
		target = validate.NormalizeEmail(target)
	}
	now := s.now().UTC()

	err = s.store.InTx(ctx, func(tx *storage.Tx) error {
		if err := lockForMember(ctx, tx, orgID); err != nil {
			return err
		}
		actor, err := s.requireMember(ctx, tx, orgID, actorID)
		if err != nil {
			return err
		}
		member, err := tx.GetMember(ctx, orgID, target)
		if err != nil {
			return err
		}
		if member.Role == models.RoleOwner {
			owners, err := tx.CountOwners(ctx, orgID)
			if err != nil {
				return err
			}
			if owners <= 1 {
				return apperr.ErrCannotRemoveOwner
			}
		}
		if !actor.Role.CanManageMembers() {
			return apperr.ErrForbidden
		}
		if member.UserID == actorID {
			return apperr.ErrCannotRemoveSelf
		}
		if member.Role == models.RoleOwner && actor.Role != models.RoleOwner {
			return apperr.ErrForbidden
		}
		if err := tx.DeleteMembership(ctx, member.ID); err != nil {
			return err
		}
		if err := tx.ClearActiveOrganizationForUser(ctx, member.UserID, orgID, now); err != nil {
			return err
		}
		removed = member
		return nil
	})
	if err != nil {
		return nil, apperr.Classify("remove member", err)
	}

	log.Printf("INFO orgs: removed member org=%s user=%s by=%s", orgID, removed.UserID, actorID)
	events.Emit(ctx, s.events, events.Event{
		Type:           events.MemberRemoved,
		OrganizationID: orgID,
		UserID:         removed.UserID,
		Email:          removed.Email,
		Role:           string(removed.Role),
		ActorID:        actorID,
		OccurredAt:     now,
	})
	return removed, nil
}

// UpdateMemberRole changes another member's role. Only owners grant or
// revoke owner, and the sole owner cannot be demoted.
func (s *Service) UpdateMemberRole(ctx context.Context, actorID, orgID, memberID, role string) (updated *models.MemberDetail, err error) {
	ctx, span := s.tracer.Start(ctx, "orgs.UpdateMemberRole", trace.WithAttributes(
		attribute.String("user.id", actorID),
		attribute.String("organization.id", orgID),
	))
	defer func() { telemetry.End(span, err) }()

	newRole, ok := models.ParseRole(role)
	if !ok {
		return nil, apperr.ErrInvalidRole
	}
	memberID = strings.TrimSpace(memberID)
	if strings.Contains(memberID, "@") {
		memberID = validate.NormalizeEmail(memberID)
	}

	err = s.store.InTx(ctx, func(tx *storage.Tx) error {
		if err := lockForMember(ctx, tx, orgID); err != nil {
			return err
		}
		actor, err := s.requireManager(ctx, tx, orgID, actorID)
		if err != nil {
			return err
		}
		member, err := tx.GetMember(ctx, orgID, memberID)
		if err != nil {
			return err
		}
		if member.UserID == actorID {
			return apperr.ErrCannotChangeOwnRole
		}
		if (member.Role == models.RoleOwner || newRole == models.RoleOwner) && actor.Role != models.RoleOwner {
			return apperr.ErrForbidden
		}
		if member.Role == models.RoleOwner && newRole != models.RoleOwner {
			owners, err := tx.CountOwners(ctx, orgID)
			if err != nil {
				return err
			}
			if owners <= 1 {
				return apperr.ErrCannotDemoteOwner
			}
		}
		if member.Role != newRole {
			if err := tx.UpdateMembershipRole(ctx, member.ID, newRole); err != nil {
				return err
			}
		}
		member.Role = newRole
		updated = member
		return nil
	})
	if err != nil {
		return nil, apperr.Classify("update member role", err)
	}

	events.Emit(ctx, s.events, events.Event{
		Type:           events.MemberRoleChanged,
		OrganizationID: orgID,
		UserID:         updated.UserID,
		Email:          updated.Email,
		Role:           string(updated.Role),
		ActorID:        actorID,
		OccurredAt:     s.now().UTC(),
	})
	return updated, nil
}

// membershipReader is satisfied by both *storage.Storage and *storage.Tx.
type membershipReader interface {
	GetMembership(ctx context.Context, orgID, userID string) (*models.Membership, error)
}

func (s *Service) requireMember(ctx context.Context, q membershipReader, orgID, userID string) (*models.Membership, error) {
	m, err := q.GetMembership(ctx, orgID, userID)
	if err != nil {
		if errors.Is(err, apperr.ErrMemberNotFound) {
			return nil, apperr.ErrNotAMember
		}
		return nil, apperr.Unavailable("load membership", err)
	}
	return m, nil
}

func (s *Service) requireManager(ctx context.Context, q membershipReader, orgID, userID string) (*models.Membership, error) {
	m, err := s.requireMember(ctx, q, orgID, userID)
	if err != nil {
		return nil, err
	}
	if !m.Role.CanManageMembers() {
		return nil, apperr.ErrForbidden
	}
	return m, nil
}

// lockForMember locks the organization row. A missing organization is
// reported as NotAMember so callers cannot discover which organization ids exist.
func lockForMember(ctx context.Context, tx *storage.Tx, orgID string) error {
	err := tx.LockOrganization(ctx, orgID)
	if errors.Is(err, apperr.ErrOrganizationNotFound) {
		return apperr.ErrNotAMember
	}
	return err
}
