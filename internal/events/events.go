// Package events defines the domain events the gateway emits.
package events

import (
	"context"
	"log"
	"time"

	"github.com/vmihailenco/msgpack/v5"
)

const (
	InvitationCreated   = "invitation.created"
	InvitationResent    = "invitation.resent"
	InvitationCanceled  = "invitation.canceled"
	InvitationAccepted  = "invitation.accepted"
	OrganizationCreated = "organization.created"
	MemberRemoved       = "member.removed"
	MemberRoleChanged   = "member.role_changed"
)

type Event struct {
	Type             string    `msgpack:"type"`
	OrganizationID   string    `msgpack:"organization_id"`
	OrganizationName string    `msgpack:"organization_name,omitempty"`
	InvitationID     string    `msgpack:"invitation_id,omitempty"`
	UserID           string    `msgpack:"user_id,omitempty"`
	Email            string    `msgpack:"email,omitempty"`
	Role             string    `msgpack:"role,omitempty"`
	ActorID          string    `msgpack:"actor_id,omitempty"`
	ActorEmail       string    `msgpack:"actor_email,omitempty"`
	ActorName        string    `msgpack:"actor_name,omitempty"`
	ExpiresAt        time.Time `msgpack:"expires_at,omitempty"`
	OccurredAt       time.Time `msgpack:"occurred_at"`
}

func Encode(ev Event) ([]byte, error) {
	return msgpack.Marshal(&ev)
}

func Decode(data []byte) (Event, error) {
	var ev Event
	err := msgpack.Unmarshal(data, &ev)
	return ev, err
}

// Publisher delivers events to whoever reacts to them.
type Publisher interface {
	Publish(ctx context.Context, ev Event) error
}

// Emit publishes ev and logs, rather than returns, a failure. Events never
// fail the operation that produced them.
func Emit(ctx context.Context, pub Publisher, ev Event) {
	if pub == nil {
		return
	}
	if err := pub.Publish(ctx, ev); err != nil {
		log.Printf("WARN events: publish type=%s org=%s: %v", ev.Type, ev.OrganizationID, err)
	}
}

// Nop discards events.
type Nop struct{}

func (Nop) Publish(context.Context, Event) error { return nil }
