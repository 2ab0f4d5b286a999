package ports

import (
	"context"

	"github.com/triboar/guild-sync/internal/core/domain"
)

// GuildPlatform performs role operations for the configured guild and role.
// Implementations map platform failures to domain.ErrMemberNotFound and
// domain.ErrPermissionDenied.
type GuildPlatform interface {
	HasRole(ctx context.Context, memberID string) (bool, error)
	AddRole(ctx context.Context, memberID, reason string) error
	RemoveRole(ctx context.Context, memberID, reason string) error
}

// EmbedField is a name/value pair shown inside a message.
type EmbedField struct {
	Name   string
	Value  string
	Inline bool
}

// Message is the platform-neutral structured direct message.
type Message struct {
	Title       string
	Description string
	Color       int
	Fields      []EmbedField
	Footer      string
	ActionLabel string
	ActionURL   string // optional link button
}

// DirectMessenger delivers a Message to a user's private channel.
// Implementations map failures to domain.ErrRecipientUnreachable and
// domain.ErrDeliveryBlocked.
type DirectMessenger interface {
	SendDirect(ctx context.Context, userID string, msg Message) error
}

// MessageRenderer turns a notification kind and its variable fields into a Message.
type MessageRenderer interface {
	Render(kind domain.NotificationKind, payload domain.NotificationPayload) (Message, error)
}
