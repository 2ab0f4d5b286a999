package service

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/triboar/guild-sync/internal/core/domain"
)

// syncGrace handles one Grace-list user: keep the role and remind while days
// remain, otherwise expire the grace period.
func (r *reconciler) syncGrace(ctx context.Context, run *domain.Run, rec domain.SubscriberRecord, now time.Time) {
	days := rec.DaysRemaining(now)
	if days <= 0 {
		r.expireGrace(ctx, run, rec)
		return
	}

	if out := r.ensureRole(ctx, run, rec.DiscordID, true); out.Status == domain.RoleApplied {
		r.audit(ctx, rec.UserID, rec.DiscordID, "role_restored", map[string]any{"run_id": run.ID, "status": "grace"})
	}
	if !r.opts.GraceNotificationsEnabled {
		return
	}
	r.notify(ctx, run, reminderEvent(rec.DiscordID, days, now), rec.NotifyPreference,
		domain.NotificationPayload{DaysRemaining: days})
}

// expireGrace moves rec to Expired in the backend, then revokes the role, then
// sends the expiration notice. A failed backend write stops here so the next
// run retries the whole transition.
func (r *reconciler) expireGrace(ctx context.Context, run *domain.Run, rec domain.SubscriberRecord) {
	if !rec.Status.CanTransitionTo(domain.StatusExpired) {
		run.RecordError(rec.DiscordID, domain.StepGraceExpire,
			fmt.Errorf("%w: %s to %s", domain.ErrInvalidTransition, rec.Status, domain.StatusExpired))
		return
	}

	userID, err := r.resolveUserID(ctx, rec)
	if err != nil {
		run.RecordError(rec.DiscordID, domain.StepResolveUser, err)
		return
	}

	sctx, cancel := r.stepCtx(ctx)
	err = r.backend.ExpireGracePeriod(sctx, userID, rec.DiscordID)
	cancel()
	if err != nil {
		run.RecordError(rec.DiscordID, domain.StepGraceExpire, err)
		return
	}
	run.Record(domain.UserResult{DiscordID: rec.DiscordID, Step: domain.StepGraceExpire, Status: string(domain.StatusExpired)})

	r.ensureRole(ctx, run, rec.DiscordID, false)
	r.audit(ctx, userID, rec.DiscordID, "grace_expired", map[string]any{
		"run_id":        run.ID,
		"grace_ends_at": rec.GraceEndsAt.UTC().Format(time.RFC3339),
	})

	// The notice belongs to the backend transition, which has happened even if
	// the role revoke failed; that failure is already on the run and in the audit log.
	evt := domain.LifecycleEvent{
		Kind:       domain.GracePeriodExpired,
		DiscordID:  rec.DiscordID,
		OccurredAt: run.StartedAt,
		Token:      strconv.FormatInt(rec.GraceEndsAt.Unix(), 10),
	}
	r.notify(ctx, run, evt, rec.NotifyPreference, domain.NotificationPayload{})
}

// exitGraceIfListed realises Grace -> Active after a payment: when the user is
// still on the Grace list, the backend is told the grace period is over.
func (r *reconciler) exitGraceIfListed(ctx context.Context, run *domain.Run, discordID string) {
	sctx, cancel := r.stepCtx(ctx)
	grace, err := r.backend.GraceSubscribers(sctx)
	cancel()
	if err != nil {
		run.RecordError(discordID, domain.StepGraceLookup, err)
		return
	}

	var rec *domain.SubscriberRecord
	for i := range grace {
		if grace[i].DiscordID == discordID {
			rec = &grace[i]
			break
		}
	}
	if rec == nil {
		return
	}
	if !rec.Status.CanTransitionTo(domain.StatusActive) {
		run.RecordError(discordID, domain.StepGraceExit,
			fmt.Errorf("%w: %s to %s", domain.ErrInvalidTransition, rec.Status, domain.StatusActive))
		return
	}

	userID, err := r.resolveUserID(ctx, *rec)
	if err != nil {
		run.RecordError(discordID, domain.StepResolveUser, err)
		return
	}

	sctx, cancel = r.stepCtx(ctx)
	err = r.backend.ExitGracePeriod(sctx, userID, discordID)
	cancel()
	if err != nil {
		run.RecordError(discordID, domain.StepGraceExit, err)
		return
	}
	run.Record(domain.UserResult{DiscordID: discordID, Step: domain.StepGraceExit, Status: string(domain.StatusActive)})
}
