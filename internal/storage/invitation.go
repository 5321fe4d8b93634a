package storage

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"flightplan-gateway/internal/apperr"
	"flightplan-gateway/internal/models"
)

type invitationRow struct {
	ID             string         `db:"id"`
	OrganizationID string         `db:"organization_id"`
	InviterID      string         `db:"inviter_id"`
	Email          string         `db:"email"`
	Role           string         `db:"role"`
	Status         string         `db:"status"`
	ExpiresAt      int64          `db:"expires_at"`
	AcceptedBy     sql.NullString `db:"accepted_by"`
	CreatedAt      int64          `db:"created_at"`
	UpdatedAt      int64          `db:"updated_at"`
}

func (r invitationRow) model() *models.Invitation {
	return &models.Invitation{
		ID:             r.ID,
		OrganizationID: r.OrganizationID,
		InviterID:      r.InviterID,
		Email:          r.Email,
		Role:           models.Role(r.Role),
		Status:         models.InvitationStatus(r.Status),
		ExpiresAt:      fromMillis(r.ExpiresAt),
		AcceptedBy:     r.AcceptedBy.String,
		CreatedAt:      fromMillis(r.CreatedAt),
		UpdatedAt:      fromMillis(r.UpdatedAt),
	}
}

const invitationColumns = `id, organization_id, inviter_id, email, role, status, expires_at, accepted_by, created_at, updated_at`

func (q *queries) CreateInvitation(ctx context.Context, inv *models.Invitation) error {
	_, err := q.exec(ctx, `
		INSERT INTO invitations (`+invitationColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, inv.ID, inv.OrganizationID, inv.InviterID, inv.Email, string(inv.Role), string(inv.Status),
		toMillis(inv.ExpiresAt), nullIfEmpty(inv.AcceptedBy), toMillis(inv.CreatedAt), toMillis(inv.UpdatedAt))
	return err
}

// IsDuplicatePending reports whether err came from a second pending
// invitation for the same organization and email.
func IsDuplicatePending(err error) bool {
	return isUniqueViolation(err)
}

func (q *queries) GetInvitation(ctx context.Context, id string) (*models.Invitation, error) {
	var row invitationRow
	err := q.get(ctx, &row, `SELECT `+invitationColumns+` FROM invitations WHERE id = ?`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.ErrInvitationNotFound
	}
	if err != nil {
		return nil, err
	}
	return row.model(), nil
}

// GetPendingInvitation returns the stored pending row for (orgID, email)
// regardless of expiry.
func (q *queries) GetPendingInvitation(ctx context.Context, orgID, email string) (*models.Invitation, error) {
	var row invitationRow
	err := q.get(ctx, &row, `
		SELECT `+invitationColumns+`
		FROM invitations
		WHERE organization_id = ? AND email = ? AND status = 'pending'
	`, orgID, email)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.ErrInvitationNotFound
	}
	if err != nil {
		return nil, err
	}
	return row.model(), nil
}

// ListPendingInvitations returns unexpired pending invitations, oldest first.
func (q *queries) ListPendingInvitations(ctx context.Context, orgID string, now time.Time) ([]models.Invitation, error) {
	var rows []invitationRow
	err := q.selectAll(ctx, &rows, `
		SELECT `+invitationColumns+`
		FROM invitations
		WHERE organization_id = ? AND status = 'pending' AND expires_at > ?
		ORDER BY created_at ASC, id ASC
	`, orgID, toMillis(now))
	if err != nil {
		return nil, err
	}
	result := make([]models.Invitation, 0, len(rows))
	for _, row := range rows {
		result = append(result, *row.model())
	}
	return result, nil
}

// ExpireStalePendingInvitations flips pending rows for (orgID, email) whose
// expiry has passed to expired, freeing the pending slot.
func (q *queries) ExpireStalePendingInvitations(ctx context.Context, orgID, email string, now time.Time) (int64, error) {
	return q.exec(ctx, `
		UPDATE invitations
		SET status = 'expired', updated_at = ?
		WHERE organization_id = ? AND email = ? AND status = 'pending' AND expires_at <= ?
	`, toMillis(now), orgID, email, toMillis(now))
}

// RefreshInvitation re-arms a pending invitation. It reports false when the
// row is no longer pending.
func (q *queries) RefreshInvitation(ctx context.Context, id, inviterID string, role models.Role, expiresAt, now time.Time) (bool, error) {
	n, err := q.exec(ctx, `
		UPDATE invitations
		SET inviter_id = ?, role = ?, expires_at = ?, updated_at = ?
		WHERE id = ? AND status = 'pending'
	`, inviterID, string(role), toMillis(expiresAt), toMillis(now), id)
	return n > 0, err
}

// TransitionInvitation moves a pending invitation to status. It reports false
// when another writer changed the row first.
func (q *queries) TransitionInvitation(ctx context.Context, id string, status models.InvitationStatus, acceptedBy string, now time.Time) (bool, error) {
	n, err := q.exec(ctx, `
		UPDATE invitations
		SET status = ?, accepted_by = ?, updated_at = ?
		WHERE id = ? AND status = 'pending'
	`, string(status), nullIfEmpty(acceptedBy), toMillis(now), id)
	return n > 0, err
}

// DeleteExpiredInvitations removes invitations that were never accepted and
// whose expiry is before cutoff.
func (q *queries) DeleteExpiredInvitations(ctx context.Context, cutoff time.Time) (int64, error) {
	return q.exec(ctx, `
		DELETE FROM invitations
		WHERE status <> 'accepted' AND expires_at < ?
	`, toMillis(cutoff))
}

type invitationDetailsRow struct {
	ID               string `db:"id"`
	Email            string `db:"email"`
	Role             string `db:"role"`
	Status           string `db:"status"`
	ExpiresAt        int64  `db:"expires_at"`
	OrganizationID   string `db:"organization_id"`
	OrganizationName string `db:"organization_name"`
	OrganizationSlug string `db:"organization_slug"`
	InviterName      string `db:"inviter_name"`
	InviterEmail     string `db:"inviter_email"`
}

// GetInvitationDetails returns the public view of a pending invitation that
// has not expired at now. Anything else is ErrInvitationNotFound.
func (q *queries) GetInvitationDetails(ctx context.Context, id string, now time.Time) (*models.InvitationDetails, error) {
	var row invitationDetailsRow
	err := q.get(ctx, &row, `
		SELECT i.id, i.email, i.role, i.status, i.expires_at, i.organization_id,
			o.name AS organization_name, o.slug AS organization_slug,
			u.name AS inviter_name, u.email AS inviter_email
		FROM invitations i
		JOIN organizations o ON o.id = i.organization_id
		JOIN users u ON u.id = i.inviter_id
		WHERE i.id = ? AND i.status = 'pending' AND i.expires_at > ?
	`, id, toMillis(now))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.ErrInvitationNotFound
	}
	if err != nil {
		return nil, err
	}
	return &models.InvitationDetails{
		ID:               row.ID,
		Email:            row.Email,
		Role:             models.Role(row.Role),
		OrganizationID:   row.OrganizationID,
		OrganizationName: row.OrganizationName,
		OrganizationSlug: row.OrganizationSlug,
		InviterName:      row.InviterName,
		InviterEmail:     row.InviterEmail,
		ExpiresAt:        fromMillis(row.ExpiresAt),
	}, nil
}
