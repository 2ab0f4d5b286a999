package service

import (
	"context"
	"fmt"

	"github.com/triboar/guild-sync/internal/core/domain"
)

// IncrementalSync converges a single user after a billing event.
func (r *reconciler) IncrementalSync(ctx context.Context, discordID string, kind domain.BillingEventKind) (*domain.Run, error) {
	run := domain.NewRun(domain.RunIncremental, string(kind), r.now())
	defer r.finish(ctx, run)

	if discordID == "" {
		run.RecordError(discordID, domain.StepValidate, fmt.Errorf("%s event: %w", kind, domain.ErrInvalidRecord))
		return run, nil
	}

	switch kind {
	case domain.BillingActivated, domain.BillingRenewed:
		// Renewals for members who already hold the role stop at the idempotent ensure.
		if out := r.ensureRole(ctx, run, discordID, true); out.Status == domain.RoleApplied {
			r.audit(ctx, "", discordID, "role_granted", map[string]any{"run_id": run.ID, "event": string(kind)})
			r.notify(ctx, run, activationEvent(discordID, run.StartedAt), true, domain.NotificationPayload{})
		}
		r.exitGraceIfListed(ctx, run, discordID)

	case domain.BillingGracePeriodStarted:
		if !r.opts.GraceNotificationsEnabled {
			r.log.Debug().Str("user_id", discordID).Msg("grace notifications disabled, no first reminder")
			return run, nil
		}
		days := r.opts.GracePeriodDays
		r.notify(ctx, run, reminderEvent(discordID, days, run.StartedAt), true,
			domain.NotificationPayload{DaysRemaining: days})

	case domain.BillingCancelled:
		// The backend moves the user into Grace; the next pass picks that up.
		r.log.Info().Str("user_id", discordID).Msg("subscription cancelled")

	default:
		return run, fmt.Errorf("incremental sync: %w: %q", domain.ErrUnknownEventType, kind)
	}
	return run, nil
}

// HandleMemberJoin grants the role and welcomes a joining member who is already
// an active subscriber.
func (r *reconciler) HandleMemberJoin(ctx context.Context, memberID string) (*domain.Run, error) {
	run := domain.NewRun(domain.RunMemberJoin, "guild_member_add", r.now())
	defer r.finish(ctx, run)

	active, err := r.backend.ActiveSubscribers(ctx)
	if err != nil {
		return run, r.abort(run, "active", err)
	}

	subscribed := false
	for _, rec := range active {
		if rec.DiscordID == memberID {
			subscribed = true
			break
		}
	}
	if !subscribed {
		r.log.Debug().Str("user_id", memberID).Msg("joining member is not a subscriber")
		return run, nil
	}

	if out := r.ensureRole(ctx, run, memberID, true); out.Status == domain.RoleApplied {
		r.audit(ctx, "", memberID, "role_granted", map[string]any{"run_id": run.ID, "event": "member_join"})
		r.notify(ctx, run, activationEvent(memberID, run.StartedAt), true, domain.NotificationPayload{})
	}
	return run, nil
}

// SetReminderPreference records a member's grace reminder opt-in/opt-out in the backend.
func (r *reconciler) SetReminderPreference(ctx context.Context, discordID string, enabled bool) error {
	userID, err := r.resolveUserID(ctx, domain.SubscriberRecord{DiscordID: discordID})
	if err != nil {
		return fmt.Errorf("set reminder preference: %w", err)
	}

	sctx, cancel := r.stepCtx(ctx)
	err = r.backend.SetGraceReminderPreference(sctx, userID, enabled)
	cancel()
	if err != nil {
		return fmt.Errorf("set reminder preference: %w", err)
	}

	r.audit(ctx, userID, discordID, "grace_dm_preference", map[string]any{"enabled": enabled})
	r.log.Info().Str("user_id", discordID).Bool("enabled", enabled).Msg("grace reminder preference updated")
	return nil
}
