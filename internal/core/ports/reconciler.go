package ports

import (
	"context"

	"github.com/triboar/guild-sync/internal/core/domain"
)

// RoleMutator converges one member's role presence.
type RoleMutator interface {
	Ensure(ctx context.Context, memberID string, present bool) domain.RoleOutcome
}

// NotificationDispatcher delivers lifecycle notifications.
type NotificationDispatcher interface {
	Send(ctx context.Context, n domain.Notification) domain.DeliveryOutcome
}

// BillingEventInput is the DTO passed from the transport layer to the engine.
type BillingEventInput struct {
	Type      string
	DiscordID string
}

// Reconciler is the reconciliation engine's entry points.
type Reconciler interface {
	FullSync(ctx context.Context, trigger string) (*domain.Run, error)
	IncrementalSync(ctx context.Context, discordID string, kind domain.BillingEventKind) (*domain.Run, error)
	HandleMemberJoin(ctx context.Context, memberID string) (*domain.Run, error)
	SetReminderPreference(ctx context.Context, discordID string, enabled bool) error
}

// RunRepository stores run summaries for operators.
type RunRepository interface {
	Save(ctx context.Context, summary domain.RunSummary) error
	Recent(ctx context.Context, limit int) ([]domain.RunSummary, error)
}
