package service

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/triboar/guild-sync/internal/core/domain"
	"github.com/triboar/guild-sync/internal/core/ports"
	"github.com/triboar/guild-sync/internal/metrics"
)

// NotificationLedger abstracts the at-most-once store (Redis).
type NotificationLedger interface {
	// Claim records key and reports whether this call was the first to do so.
	Claim(ctx context.Context, key string) (bool, error)
	// Release forgets key so a later attempt may deliver again.
	Release(ctx context.Context, key string) error
}

type notificationDispatcher struct {
	renderer  ports.MessageRenderer
	messenger ports.DirectMessenger
	ledger    NotificationLedger // optional
	log       zerolog.Logger
}

// NewNotificationDispatcher returns a NotificationDispatcher. ledger may be nil,
// in which case delivery is at-least-once under concurrent triggers.
func NewNotificationDispatcher(
	renderer ports.MessageRenderer,
	messenger ports.DirectMessenger,
	ledger NotificationLedger,
	log zerolog.Logger,
) ports.NotificationDispatcher {
	return &notificationDispatcher{
		renderer:  renderer,
		messenger: messenger,
		ledger:    ledger,
		log:       log.With().Str("component", "notification_dispatcher").Logger(),
	}
}

// Send delivers one notification. Delivery failures are terminal for this call.
func (d *notificationDispatcher) Send(ctx context.Context, n domain.Notification) domain.DeliveryOutcome {
	out := d.send(ctx, n)
	metrics.NotificationsTotal.WithLabelValues(string(n.Kind), string(out.Status)).Inc()

	evt := d.log.Info()
	if out.Failed() {
		evt = d.log.Warn().Err(out.Err).Str("error_class", string(domain.ClassOf(out.Err)))
	}
	evt.Str("user_id", n.DiscordID).
		Str("kind", string(n.Kind)).
		Str("outcome", string(out.Status)).
		Str("reason", out.Reason).
		Msg("notification dispatched")
	return out
}

func (d *notificationDispatcher) send(ctx context.Context, n domain.Notification) domain.DeliveryOutcome {
	if n.Kind.RespectsPreference() && !n.RemindersEnabled {
		return domain.DeliverySkippedOutcome(domain.SkipOptedOut)
	}

	msg, err := d.renderer.Render(n.Kind, n.Payload)
	if err != nil {
		return domain.DeliveryFailedOutcome(fmt.Errorf("render %s: %w", n.Kind, err))
	}

	claimed := false
	if d.ledger != nil && n.DedupKey != "" {
		first, err := d.ledger.Claim(ctx, n.DedupKey)
		switch {
		case err != nil:
			d.log.Warn().Err(err).Str("user_id", n.DiscordID).Msg("dedup claim failed, sending anyway")
		case !first:
			metrics.NotificationDedupTotal.WithLabelValues("hit").Inc()
			return domain.DeliverySkippedOutcome(domain.SkipDuplicate)
		default:
			metrics.NotificationDedupTotal.WithLabelValues("miss").Inc()
			claimed = true
		}
	}

	if err := d.messenger.SendDirect(ctx, n.DiscordID, msg); err != nil {
		if claimed {
			// Let the next trigger try again.
			if relErr := d.ledger.Release(context.WithoutCancel(ctx), n.DedupKey); relErr != nil {
				d.log.Warn().Err(relErr).Str("user_id", n.DiscordID).Msg("failed to release dedup key")
			}
		}
		return domain.DeliveryFailedOutcome(fmt.Errorf("send %s: %w", n.Kind, err))
	}
	return domain.DeliverySentOutcome()
}
