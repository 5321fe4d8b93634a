// Package notify delivers invitation links to invitees.
package notify

import (
	"context"
	"fmt"
	"strings"
	"time"

	"flightplan-gateway/internal/events"
)

// Invite is what a Sender needs to tell someone they were invited.
type Invite struct {
	InvitationID     string
	Email            string
	Role             string
	OrganizationName string
	InviterName      string
	InviterEmail     string
	Link             string
	ExpiresAt        time.Time
	Resent           bool
}

// Sender delivers an invitation to its recipient.
type Sender interface {
	Send(ctx context.Context, invite Invite) error
}

// InvitationLink returns the page an invitee opens to accept.
func InvitationLink(baseURL, invitationID string) string {
	return strings.TrimRight(baseURL, "/") + "/accept-invitation/" + invitationID
}

// Notifier turns invitation events into deliveries.
type Notifier struct {
	sender  Sender
	baseURL string
}

func NewNotifier(sender Sender, baseURL string) *Notifier {
	if sender == nil {
		sender = LogSender{}
	}
	return &Notifier{sender: sender, baseURL: baseURL}
}

// Handle sends created and resent invitations. Other events are ignored.
func (n *Notifier) Handle(ctx context.Context, ev events.Event) error {
	if ev.Type != events.InvitationCreated && ev.Type != events.InvitationResent {
		return nil
	}
	if ev.InvitationID == "" || ev.Email == "" {
		return fmt.Errorf("invitation event without id or email")
	}
	return n.sender.Send(ctx, Invite{
		InvitationID:     ev.InvitationID,
		Email:            ev.Email,
		Role:             ev.Role,
		OrganizationName: ev.OrganizationName,
		InviterName:      ev.ActorName,
		InviterEmail:     ev.ActorEmail,
		Link:             InvitationLink(n.baseURL, ev.InvitationID),
		ExpiresAt:        ev.ExpiresAt,
		Resent:           ev.Type == events.InvitationResent,
	})
}

// Direct is an events.Publisher that notifies in-process. It is used when no
// message bus is configured.
type Direct struct {
	notifier *Notifier
}

func NewDirect(notifier *Notifier) *Direct {
	return &Direct{notifier: notifier}
}

func (d *Direct) Publish(ctx context.Context, ev events.Event) error {
	return d.notifier.Handle(ctx, ev)
}
