package ports

import (
	"context"

	"github.com/triboar/guild-sync/internal/core/domain"
)

// AuditRecord is a bot action written to the backend audit log.
type AuditRecord struct {
	UserID    string
	DiscordID string
	Action    string // stored as eventType "bot.<Action>"
	Payload   map[string]any
}

// BackendClient is the billing backend, the sole source of truth for subscriber state.
// List queries fail with domain.ErrFetchFailure; writes fail with domain.ErrMutationFailure.
type BackendClient interface {
	// ActiveSubscribers returns the full Active list.
	ActiveSubscribers(ctx context.Context) ([]domain.SubscriberRecord, error)
	// GraceSubscribers returns the full Grace list.
	GraceSubscribers(ctx context.Context) ([]domain.SubscriberRecord, error)

	EnterGracePeriod(ctx context.Context, userID, discordID string) error
	ExitGracePeriod(ctx context.Context, userID, discordID string) error
	ExpireGracePeriod(ctx context.Context, userID, discordID string) error

	// ResolveUserID looks up the backend user id for a Discord id.
	// Returns domain.ErrUserNotFound when no user matches.
	ResolveUserID(ctx context.Context, discordID string) (string, error)
	SetGraceReminderPreference(ctx context.Context, userID string, enabled bool) error

	WriteAudit(ctx context.Context, rec AuditRecord) error
}
