package models

import "time"

type InvitationStatus string

const (
	InvitationPending  InvitationStatus = "pending"
	InvitationAccepted InvitationStatus = "accepted"
	InvitationCanceled InvitationStatus = "canceled"
	InvitationExpired  InvitationStatus = "expired"
)

// Invitation is a pending offer of membership bound to an email.
type Invitation struct {
	ID             string           `json:"id"`
	OrganizationID string           `json:"organization_id"`
	InviterID      string           `json:"inviter_id"`
	Email          string           `json:"email"`
	Role           Role             `json:"role"`
	Status         InvitationStatus `json:"status"`
	ExpiresAt      time.Time        `json:"expires_at"`
	AcceptedBy     string           `json:"accepted_by,omitempty"`
	CreatedAt      time.Time        `json:"created_at"`
	UpdatedAt      time.Time        `json:"updated_at"`
}

// Open reports whether the invitation can still be accepted at now.
// A stored pending status is not enough: expiry is always re-evaluated.
func (i Invitation) Open(now time.Time) bool {
	return i.Status == InvitationPending && now.Before(i.ExpiresAt)
}

// EffectiveStatus folds the clock into the stored status.
func (i Invitation) EffectiveStatus(now time.Time) InvitationStatus {
	if i.Status == InvitationPending && !now.Before(i.ExpiresAt) {
		return InvitationExpired
	}
	return i.Status
}

// InvitationDetails is the public view shown on the accept page.
type InvitationDetails struct {
	ID               string    `json:"id"`
	Email            string    `json:"email"`
	Role             Role      `json:"role"`
	OrganizationID   string    `json:"organization_id"`
	OrganizationName string    `json:"organization_name"`
	OrganizationSlug string    `json:"organization_slug"`
	InviterName      string    `json:"inviter_name"`
	InviterEmail     string    `json:"inviter_email"`
	ExpiresAt        time.Time `json:"expires_at"`
}

type CreateInvitationsInput struct {
	Email  string   `json:"email"`
	Emails []string `json:"emails"`
	Role   string   `json:"role"`
}
