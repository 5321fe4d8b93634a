package storage

import (
	"context"
	"database/sql"
	"errors"

	"flightplan-gateway/internal/apperr"
	"flightplan-gateway/internal/models"
)

type organizationRow struct {
	ID        string         `db:"id"`
	Name      string         `db:"name"`
	Slug      string         `db:"slug"`
	LogoURL   sql.NullString `db:"logo_url"`
	CreatedAt int64          `db:"created_at"`
}

func (r organizationRow) model() models.Organization {
	return models.Organization{
		ID:        r.ID,
		Name:      r.Name,
		Slug:      r.Slug,
		LogoURL:   r.LogoURL.String,
		CreatedAt: fromMillis(r.CreatedAt),
	}
}

type membershipRow struct {
	ID             string `db:"id"`
	OrganizationID string `db:"organization_id"`
	UserID         string `db:"user_id"`
	Role           string `db:"role"`
	CreatedAt      int64  `db:"created_at"`
}

func (r membershipRow) model() models.Membership {
	return models.Membership{
		ID:             r.ID,
		OrganizationID: r.OrganizationID,
		UserID:         r.UserID,
		Role:           models.Role(r.Role),
		CreatedAt:      fromMillis(r.CreatedAt),
	}
}

type memberDetailRow struct {
	membershipRow
	Email     string         `db:"email"`
	Name      string         `db:"name"`
	AvatarURL sql.NullString `db:"avatar_url"`
}

func (r memberDetailRow) model() models.MemberDetail {
	return models.MemberDetail{
		Membership: r.membershipRow.model(),
		Email:      r.Email,
		Name:       r.Name,
		AvatarURL:  r.AvatarURL.String,
	}
}

const memberDetailQuery = `
	SELECT m.id, m.organization_id, m.user_id, m.role, m.created_at, u.email, u.name, u.avatar_url
	FROM memberships m
	JOIN users u ON u.id = m.user_id
`

// CreateOrganization inserts org and the owner membership of ownerID.
// Run it inside a transaction so both rows land together.
func (q *queries) CreateOrganization(ctx context.Context, org *models.Organization, owner *models.Membership) error {
	_, err := q.exec(ctx, `
		INSERT INTO organizations (id, name, slug, logo_url, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, org.ID, org.Name, org.Slug, nullIfEmpty(org.LogoURL), toMillis(org.CreatedAt), toMillis(org.CreatedAt))
	if err != nil {
		if isUniqueViolation(err) {
			return apperr.ErrSlugTaken
		}
		return err
	}
	return q.CreateMembership(ctx, owner)
}

func (q *queries) GetOrganization(ctx context.Context, id string) (*models.Organization, error) {
	var row organizationRow
	err := q.get(ctx, &row, `SELECT id, name, slug, logo_url, created_at FROM organizations WHERE id = ?`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.ErrOrganizationNotFound
	}
	if err != nil {
		return nil, err
	}
	org := row.model()
	return &org, nil
}

// LockOrganization serializes writers touching the organization's memberships
// and invitations for the rest of the transaction. SQLite connections are
// already serialized, so there the lock is only an existence check.
func (q *queries) LockOrganization(ctx context.Context, id string) error {
	query := `SELECT id FROM organizations WHERE id = ?`
	if q.driver == DriverPostgres {
		query += ` FOR UPDATE`
	}
	var locked string
	err := q.get(ctx, &locked, query, id)
	if errors.Is(err, sql.ErrNoRows) {
		return apperr.ErrOrganizationNotFound
	}
	return err
}

// ListOrganizationsForUser returns the user's organizations ordered by when
// the user joined them.
func (q *queries) ListOrganizationsForUser(ctx context.Context, userID string) ([]models.Organization, error) {
	var rows []organizationRow
	err := q.selectAll(ctx, &rows, `
		SELECT o.id, o.name, o.slug, o.logo_url, o.created_at
		FROM organizations o
		JOIN memberships m ON m.organization_id = o.id
		WHERE m.user_id = ?
		ORDER BY m.created_at ASC, m.id ASC
	`, userID)
	if err != nil {
		return nil, err
	}
	result := make([]models.Organization, 0, len(rows))
	for _, row := range rows {
		result = append(result, row.model())
	}
	return result, nil
}

func (q *queries) CreateMembership(ctx context.Context, m *models.Membership) error {
	_, err := q.exec(ctx, `
		INSERT INTO memberships (id, organization_id, user_id, role, created_at)
		VALUES (?, ?, ?, ?, ?)
	`, m.ID, m.OrganizationID, m.UserID, string(m.Role), toMillis(m.CreatedAt))
	if err != nil {
		if isUniqueViolation(err) {
			return apperr.ErrAlreadyMember
		}
		return err
	}
	return nil
}

// UpsertMembership grants m.Role to m.UserID. An existing owner is never
// downgraded. The stored membership is returned.
func (q *queries) UpsertMembership(ctx context.Context, m *models.Membership) (*models.Membership, error) {
	_, err := q.exec(ctx, `
		INSERT INTO memberships (id, organization_id, user_id, role, created_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (organization_id, user_id)
		DO UPDATE SET role = excluded.role
		WHERE memberships.role <> 'owner'
	`, m.ID, m.OrganizationID, m.UserID, string(m.Role), toMillis(m.CreatedAt))
	if err != nil {
		return nil, err
	}
	return q.GetMembership(ctx, m.OrganizationID, m.UserID)
}

// GetMembership returns ErrMemberNotFound when userID does not belong to orgID.
func (q *queries) GetMembership(ctx context.Context, orgID, userID string) (*models.Membership, error) {
	var row membershipRow
	err := q.get(ctx, &row, `
		SELECT id, organization_id, user_id, role, created_at
		FROM memberships
		WHERE organization_id = ? AND user_id = ?
	`, orgID, userID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.ErrMemberNotFound
	}
	if err != nil {
		return nil, err
	}
	m := row.model()
	return &m, nil
}

// GetMember finds a member of orgID either by membership id or by email.
func (q *queries) GetMember(ctx context.Context, orgID, idOrEmail string) (*models.MemberDetail, error) {
	var row memberDetailRow
	err := q.get(ctx, &row, memberDetailQuery+`
		WHERE m.organization_id = ? AND (m.id = ? OR u.email = ?)
		LIMIT 1
	`, orgID, idOrEmail, idOrEmail)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.ErrMemberNotFound
	}
	if err != nil {
		return nil, err
	}
	m := row.model()
	return &m, nil
}

func (q *queries) ListMembers(ctx context.Context, orgID string) ([]models.MemberDetail, error) {
	var rows []memberDetailRow
	err := q.selectAll(ctx, &rows, memberDetailQuery+`
		WHERE m.organization_id = ?
		ORDER BY m.created_at ASC, m.id ASC
	`, orgID)
	if err != nil {
		return nil, err
	}
	result := make([]models.MemberDetail, 0, len(rows))
	for _, row := range rows {
		result = append(result, row.model())
	}
	return result, nil
}

func (q *queries) CountOwners(ctx context.Context, orgID string) (int, error) {
	var n int
	err := q.get(ctx, &n, `SELECT COUNT(*) FROM memberships WHERE organization_id = ? AND role = 'owner'`, orgID)
	return n, err
}

func (q *queries) DeleteMembership(ctx context.Context, id string) error {
	n, err := q.exec(ctx, `DELETE FROM memberships WHERE id = ?`, id)
	if err != nil {
		return err
	}
	if n == 0 {
		return apperr.ErrMemberNotFound
	}
	return nil
}

func (q *queries) UpdateMembershipRole(ctx context.Context, id string, role models.Role) error {
	n, err := q.exec(ctx, `UPDATE memberships SET role = ? WHERE id = ?`, string(role), id)
	if err != nil {
		return err
	}
	if n == 0 {
		return apperr.ErrMemberNotFound
	}
	return nil
}
