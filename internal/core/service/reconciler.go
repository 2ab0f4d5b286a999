package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/triboar/guild-sync/internal/core/domain"
	"github.com/triboar/guild-sync/internal/core/ports"
	"github.com/triboar/guild-sync/internal/metrics"
)

const (
	defaultConcurrency = 8
	defaultGraceDays   = 7
	runSaveTimeout     = 5 * time.Second
)

// Dependencies are the collaborators of the reconciliation engine, built once at startup.
type Dependencies struct {
	Backend  ports.BackendClient
	Roles    ports.RoleMutator
	Notifier ports.NotificationDispatcher
	Runs     ports.RunRepository // optional
	Now      func() time.Time    // defaults to time.Now
	Log      zerolog.Logger
}

// Options are the deployment-wide engine settings.
type Options struct {
	// GraceNotificationsEnabled gates every grace reminder, scheduled or event driven.
	GraceNotificationsEnabled bool
	// GracePeriodDays is the grace length announced when a grace period starts.
	GracePeriodDays int
	MembershipName  string
	// Concurrency bounds the number of users processed at once during FullSync.
	Concurrency int
	// StepTimeout bounds each per-user network step. Zero means no extra bound.
	StepTimeout time.Duration
}

type reconciler struct {
	backend  ports.BackendClient
	roles    ports.RoleMutator
	notifier ports.NotificationDispatcher
	runs     ports.RunRepository
	now      func() time.Time
	opts     Options
	log      zerolog.Logger
}

// NewReconciler returns the reconciliation engine.
func NewReconciler(deps Dependencies, opts Options) ports.Reconciler {
	if opts.Concurrency <= 0 {
		opts.Concurrency = defaultConcurrency
	}
	if opts.GracePeriodDays <= 0 {
		opts.GracePeriodDays = defaultGraceDays
	}
	now := deps.Now
	if now == nil {
		now = time.Now
	}
	return &reconciler{
		backend:  deps.Backend,
		roles:    deps.Roles,
		notifier: deps.Notifier,
		runs:     deps.Runs,
		now:      now,
		opts:     opts,
		log:      deps.Log.With().Str("component", "reconciler").Logger(),
	}
}

// FullSync fetches both authoritative lists and converges every listed user.
// A failed fetch aborts the run before anything is applied; per-user failures
// are recorded on the run and never abort it.
func (r *reconciler) FullSync(ctx context.Context, trigger string) (*domain.Run, error) {
	run := domain.NewRun(domain.RunFull, trigger, r.now())
	defer r.finish(ctx, run)

	active, err := r.backend.ActiveSubscribers(ctx)
	if err != nil {
		return run, r.abort(run, "active", err)
	}
	grace, err := r.backend.GraceSubscribers(ctx)
	if err != nil {
		return run, r.abort(run, "grace", err)
	}

	r.log.Info().
		Str("run_id", run.ID).
		Int("active", len(active)).
		Int("grace", len(grace)).
		Msg("full sync started")

	now := run.StartedAt
	seen := make(map[string]struct{}, len(active)+len(grace))

	var g errgroup.Group
	g.SetLimit(r.opts.Concurrency)

	for _, rec := range active {
		if !r.admit(run, seen, rec) {
			continue
		}
		g.Go(func() error {
			r.syncActive(ctx, run, rec, now)
			return nil
		})
	}
	for _, rec := range grace {
		if !r.admit(run, seen, rec) {
			continue
		}
		g.Go(func() error {
			r.syncGrace(ctx, run, rec, now)
			return nil
		})
	}
	_ = g.Wait()

	return run, nil
}

// admit validates rec and makes sure each user is handled once per run.
// The Active list wins when a user shows up in both lists.
func (r *reconciler) admit(run *domain.Run, seen map[string]struct{}, rec domain.SubscriberRecord) bool {
	if err := rec.Validate(); err != nil {
		run.RecordError(rec.DiscordID, domain.StepValidate, fmt.Errorf("%s record: %w", rec.Status, err))
		return false
	}
	if _, dup := seen[rec.DiscordID]; dup {
		r.log.Warn().
			Str("run_id", run.ID).
			Str("user_id", rec.DiscordID).
			Str("status", string(rec.Status)).
			Msg("user listed more than once, keeping first occurrence")
		return false
	}
	seen[rec.DiscordID] = struct{}{}
	return true
}

func (r *reconciler) syncActive(ctx context.Context, run *domain.Run, rec domain.SubscriberRecord, now time.Time) {
	out := r.ensureRole(ctx, run, rec.DiscordID, true)
	if out.Status != domain.RoleApplied {
		return
	}
	// No role was present before this run: first observed activation.
	r.audit(ctx, rec.UserID, rec.DiscordID, "role_granted", map[string]any{"run_id": run.ID})
	r.notify(ctx, run, activationEvent(rec.DiscordID, now), rec.NotifyPreference, domain.NotificationPayload{})
}

func (r *reconciler) abort(run *domain.Run, list string, err error) error {
	if !errors.Is(err, domain.ErrFetchFailure) {
		err = fmt.Errorf("%w: %w", domain.ErrFetchFailure, err)
	}
	err = fmt.Errorf("fetch %s list: %w", list, err)
	run.FetchErr = err
	r.log.Error().Err(err).Str("run_id", run.ID).Str("kind", string(run.Kind)).Msg("run aborted, nothing applied")
	return err
}

// ensureRole calls the RoleMutator and records the step on run.
func (r *reconciler) ensureRole(ctx context.Context, run *domain.Run, discordID string, present bool) domain.RoleOutcome {
	step := domain.StepRoleRevoke
	if present {
		step = domain.StepRoleGrant
	}

	sctx, cancel := r.stepCtx(ctx)
	out := r.roles.Ensure(sctx, discordID, present)
	cancel()

	if out.Failed() {
		run.RecordError(discordID, step, out.Err)
		r.audit(ctx, "", discordID, "role_mutation_failed", map[string]any{
			"run_id":      run.ID,
			"step":        string(step),
			"error_class": string(domain.ClassOf(out.Err)),
		})
		return out
	}
	run.Record(domain.UserResult{DiscordID: discordID, Step: step, Status: string(out.Status)})
	return out
}

// notify dispatches the notification announcing evt and records the step on run.
func (r *reconciler) notify(
	ctx context.Context,
	run *domain.Run,
	evt domain.LifecycleEvent,
	remindersEnabled bool,
	payload domain.NotificationPayload,
) {
	payload.MembershipName = r.opts.MembershipName

	sctx, cancel := r.stepCtx(ctx)
	out := r.notifier.Send(sctx, domain.Notification{
		DiscordID:        evt.DiscordID,
		Kind:             evt.Notification(),
		Payload:          payload,
		RemindersEnabled: remindersEnabled,
		DedupKey:         evt.DedupKey(),
	})
	cancel()

	if out.Failed() {
		run.RecordError(evt.DiscordID, domain.StepNotify, out.Err)
		return
	}
	status := string(out.Status)
	if out.Reason != "" {
		status += ":" + out.Reason
	}
	run.Record(domain.UserResult{DiscordID: evt.DiscordID, Step: domain.StepNotify, Status: status})
}

// audit writes a best-effort audit record; failures are only logged.
func (r *reconciler) audit(ctx context.Context, userID, discordID, action string, payload map[string]any) {
	sctx, cancel := r.stepCtx(context.WithoutCancel(ctx))
	defer cancel()

	err := r.backend.WriteAudit(sctx, ports.AuditRecord{
		UserID:    userID,
		DiscordID: discordID,
		Action:    action,
		Payload:   payload,
	})
	if err != nil {
		r.log.Warn().Err(err).Str("user_id", discordID).Str("action", action).Msg("failed to write audit record")
	}
}

// resolveUserID returns the backend user id of rec, looking it up when the list omitted it.
func (r *reconciler) resolveUserID(ctx context.Context, rec domain.SubscriberRecord) (string, error) {
	if rec.UserID != "" {
		return rec.UserID, nil
	}
	sctx, cancel := r.stepCtx(ctx)
	defer cancel()
	return r.backend.ResolveUserID(sctx, rec.DiscordID)
}

func (r *reconciler) stepCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	if r.opts.StepTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, r.opts.StepTimeout)
}

func (r *reconciler) finish(ctx context.Context, run *domain.Run) {
	run.Finish(r.now())

	kind := string(run.Kind)
	result := "success"
	if !run.Succeeded() {
		result = "fetch_failure"
	}
	metrics.SyncRunsTotal.WithLabelValues(kind, result).Inc()
	metrics.SyncRunDuration.WithLabelValues(kind).Observe(run.Duration().Seconds())
	if run.Kind == domain.RunFull && run.Succeeded() {
		metrics.SyncLastSuccess.Set(float64(run.FinishedAt.Unix()))
	}

	summary := run.Summary()
	for _, f := range summary.Failures {
		metrics.SyncUserFailuresTotal.WithLabelValues(string(f.Step), string(f.Class)).Inc()
	}

	r.log.Info().
		Str("run_id", run.ID).
		Str("kind", kind).
		Str("trigger", run.Trigger).
		Bool("succeeded", summary.Succeeded).
		Int("steps", summary.Steps).
		Int("failures", len(summary.Failures)).
		Dur("duration", run.Duration()).
		Msg("reconciliation run finished")

	if r.runs == nil {
		return
	}
	saveCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), runSaveTimeout)
	defer cancel()
	if err := r.runs.Save(saveCtx, summary); err != nil {
		r.log.Warn().Err(err).Str("run_id", run.ID).Msg("failed to store run summary")
	}
}

// activationEvent is keyed by day so the scheduled pass and a webhook racing it
// share one dedup key.
func activationEvent(discordID string, now time.Time) domain.LifecycleEvent {
	return domain.LifecycleEvent{Kind: domain.SubscriptionActivated, DiscordID: discordID, OccurredAt: now}
}

// reminderEvent is keyed by days remaining and day, giving at most one reminder per day.
func reminderEvent(discordID string, days int, now time.Time) domain.LifecycleEvent {
	return domain.LifecycleEvent{
		Kind:       domain.GracePeriodEntered,
		DiscordID:  discordID,
		OccurredAt: now,
		Token:      fmt.Sprintf("d%d:%s", days, now.UTC().Format(time.DateOnly)),
	}
}
