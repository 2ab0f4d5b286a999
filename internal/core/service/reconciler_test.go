package service

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/triboar/guild-sync/internal/core/domain"
	"github.com/triboar/guild-sync/internal/core/ports"
)

var testNow = time.Date(2026, 3, 10, 23, 59, 0, 0, time.UTC)

// ---------------------------------------------------------------------------
// Harness
// ---------------------------------------------------------------------------

type harness struct {
	backend   *stubBackend
	platform  *stubPlatform
	messenger *stubMessenger
	ledger    *stubLedger
	roles     *recordingRoles
	notifier  *recordingNotifier
	log       *callLog
	engine    ports.Reconciler
}

func newHarness(backend *stubBackend, platform *stubPlatform, opts Options) *harness {
	h := &harness{
		backend:   backend,
		platform:  platform,
		messenger: &stubMessenger{errs: map[string]error{}},
		ledger:    newStubLedger(),
		log:       &callLog{},
	}
	backend.log = h.log
	h.roles = &recordingRoles{
		inner: NewRoleMutator(platform, zerolog.Nop()),
		log:   h.log,
		calls: make(map[string]int),
	}
	h.notifier = &recordingNotifier{
		inner: NewNotificationDispatcher(stubRenderer{}, h.messenger, h.ledger, zerolog.Nop()),
		log:   h.log,
	}
	h.engine = NewReconciler(Dependencies{
		Backend:  backend,
		Roles:    h.roles,
		Notifier: h.notifier,
		Now:      func() time.Time { return testNow },
		Log:      zerolog.Nop(),
	}, opts)
	return h
}

func defaultOpts() Options {
	return Options{GraceNotificationsEnabled: true, GracePeriodDays: 7, MembershipName: "Triboar Guildhall"}
}

func activeRec(id string) domain.SubscriberRecord {
	exp := testNow.Add(30 * 24 * time.Hour)
	return domain.SubscriberRecord{UserID: "u-" + id, DiscordID: id, Status: domain.StatusActive, ExpiresAt: &exp, NotifyPreference: true}
}

func graceRec(id string, endsIn time.Duration, notify bool) domain.SubscriberRecord {
	end := testNow.Add(endsIn)
	return domain.SubscriberRecord{UserID: "u-" + id, DiscordID: id, Status: domain.StatusGrace, GraceEndsAt: &end, NotifyPreference: notify}
}

func failuresFor(run *domain.Run, id string) []domain.UserResult {
	var out []domain.UserResult
	for _, f := range run.Failures() {
		if f.DiscordID == id {
			out = append(out, f)
		}
	}
	return out
}

// ---------------------------------------------------------------------------
// FullSync
// ---------------------------------------------------------------------------

func TestFullSync_ActiveUsersEnsuredExactlyOnce(t *testing.T) {
	backend := &stubBackend{active: []domain.SubscriberRecord{activeRec("A"), activeRec("D"), activeRec("D")}}
	platform := newStubPlatform(map[string]bool{"A": true, "D": false})
	h := newHarness(backend, platform, defaultOpts())

	run, err := h.engine.FullSync(context.Background(), "test")

	require.NoError(t, err)
	assert.True(t, run.Succeeded())
	assert.Equal(t, 1, h.roles.count("A", true))
	assert.Equal(t, 1, h.roles.count("D", true))
	assert.True(t, platform.has("D"))

	// Only the member without a prior role is welcomed.
	assert.Empty(t, h.notifier.forUser("A"))
	notes := h.notifier.forUser("D")
	require.Len(t, notes, 1)
	assert.Equal(t, domain.NotifyConfirmation, notes[0].Kind)
	assert.Equal(t, "Triboar Guildhall", notes[0].Payload.MembershipName)
}

func TestFullSync_ActiveAndGraceReminderScenario(t *testing.T) {
	backend := &stubBackend{
		active: []domain.SubscriberRecord{activeRec("A")},
		grace:  []domain.SubscriberRecord{graceRec("B", 48*time.Hour, true)},
	}
	platform := newStubPlatform(map[string]bool{"A": true, "B": true})
	h := newHarness(backend, platform, defaultOpts())

	_, err := h.engine.FullSync(context.Background(), "test")
	require.NoError(t, err)

	assert.Equal(t, 1, h.roles.count("A", true))
	assert.Empty(t, h.messenger.sentTo("A"))

	assert.Equal(t, 1, h.roles.count("B", true))
	assert.Equal(t, 0, h.roles.count("B", false))
	assert.True(t, platform.has("B"))
	msgs := h.messenger.sentTo("B")
	require.Len(t, msgs, 1)
	assert.Equal(t, "grace_reminder:2", msgs[0].Title)
	assert.Empty(t, backend.expired)
}

func TestFullSync_ExpiredGraceOrderingIgnoresOptOut(t *testing.T) {
	backend := &stubBackend{grace: []domain.SubscriberRecord{graceRec("B", -time.Hour, false)}}
	platform := newStubPlatform(map[string]bool{"B": true})
	h := newHarness(backend, platform, defaultOpts())

	run, err := h.engine.FullSync(context.Background(), "test")
	require.NoError(t, err)

	assert.Equal(t, []string{"u-B/B"}, backend.expired)
	assert.Equal(t, []string{"expire:B", "ensure:B:false", "notify:B:expiration"}, h.log.forUser("B"))
	assert.False(t, platform.has("B"))

	msgs := h.messenger.sentTo("B")
	require.Len(t, msgs, 1)
	assert.Equal(t, "expiration:0", msgs[0].Title)
	assert.Empty(t, run.Failures())
}

func TestFullSync_OptedOutGraceUserKeepsRoleWithoutReminder(t *testing.T) {
	backend := &stubBackend{grace: []domain.SubscriberRecord{graceRec("B", 3*24*time.Hour, false)}}
	platform := newStubPlatform(map[string]bool{"B": true})
	h := newHarness(backend, platform, defaultOpts())

	_, err := h.engine.FullSync(context.Background(), "test")
	require.NoError(t, err)

	assert.Empty(t, h.messenger.sentTo("B"))
	assert.True(t, platform.has("B"))
	assert.Equal(t, 1, h.roles.count("B", true))
}

func TestFullSync_GraceNotificationsDisabled(t *testing.T) {
	backend := &stubBackend{grace: []domain.SubscriberRecord{graceRec("B", 2*24*time.Hour, true)}}
	platform := newStubPlatform(map[string]bool{"B": true})
	opts := defaultOpts()
	opts.GraceNotificationsEnabled = false
	h := newHarness(backend, platform, opts)

	_, err := h.engine.FullSync(context.Background(), "test")
	require.NoError(t, err)

	assert.Empty(t, h.notifier.forUser("B"))
	assert.True(t, platform.has("B"))
}

func TestFullSync_PermissionDeniedIsolatedToOneUser(t *testing.T) {
	backend := &stubBackend{active: []domain.SubscriberRecord{activeRec("X"), activeRec("Y"), activeRec("Z")}}
	platform := newStubPlatform(map[string]bool{"X": false, "Y": false, "Z": false})
	platform.addErr["X"] = fmt.Errorf("discord 50013: %w", domain.ErrPermissionDenied)
	h := newHarness(backend, platform, defaultOpts())

	run, err := h.engine.FullSync(context.Background(), "test")

	require.NoError(t, err)
	assert.True(t, run.Succeeded())
	assert.True(t, platform.has("Y"))
	assert.True(t, platform.has("Z"))
	assert.False(t, platform.has("X"))

	fails := failuresFor(run, "X")
	require.Len(t, fails, 1)
	assert.Equal(t, domain.StepRoleGrant, fails[0].Step)
	assert.Equal(t, domain.ClassPermissionDenied, fails[0].Class)
	assert.Empty(t, h.notifier.forUser("X"))

	audited := false
	for _, a := range backend.audits {
		if a.DiscordID == "X" && a.Action == "role_mutation_failed" {
			audited = true
		}
	}
	assert.True(t, audited, "permission failures should reach the audit log")
}

func TestFullSync_FetchFailureAppliesNothing(t *testing.T) {
	backend := &stubBackend{
		active:   []domain.SubscriberRecord{activeRec("A")},
		graceErr: errors.New("connection refused"),
	}
	platform := newStubPlatform(map[string]bool{"A": false})
	h := newHarness(backend, platform, defaultOpts())

	run, err := h.engine.FullSync(context.Background(), "test")

	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrFetchFailure)
	assert.False(t, run.Succeeded())
	assert.Equal(t, 0, h.roles.count("A", true), "no partial application after a failed fetch")
	assert.False(t, platform.has("A"))
	assert.False(t, run.FinishedAt.IsZero())
}

func TestFullSync_ExpireFailureLeavesRoleForNextRun(t *testing.T) {
	backend := &stubBackend{
		grace:     []domain.SubscriberRecord{graceRec("B", -time.Hour, true)},
		expireErr: map[string]error{"B": fmt.Errorf("%w: status 500", domain.ErrMutationFailure)},
	}
	platform := newStubPlatform(map[string]bool{"B": true})
	h := newHarness(backend, platform, defaultOpts())

	run, err := h.engine.FullSync(context.Background(), "test")

	require.NoError(t, err)
	assert.True(t, platform.has("B"))
	assert.Empty(t, h.notifier.forUser("B"))
	fails := failuresFor(run, "B")
	require.Len(t, fails, 1)
	assert.Equal(t, domain.StepGraceExpire, fails[0].Step)
	assert.Equal(t, domain.ClassMutationFailure, fails[0].Class)
}

func TestFullSync_ResolvesMissingBackendUserID(t *testing.T) {
	rec := graceRec("B", -time.Hour, true)
	rec.UserID = ""
	backend := &stubBackend{grace: []domain.SubscriberRecord{rec}, users: map[string]string{"B": "user-42"}}
	platform := newStubPlatform(map[string]bool{"B": true})
	h := newHarness(backend, platform, defaultOpts())

	_, err := h.engine.FullSync(context.Background(), "test")

	require.NoError(t, err)
	assert.Equal(t, []string{"user-42/B"}, backend.expired)
}

func TestFullSync_InvalidRecordRecorded(t *testing.T) {
	bad := domain.SubscriberRecord{DiscordID: "B", Status: domain.StatusGrace}
	backend := &stubBackend{active: []domain.SubscriberRecord{activeRec("A")}, grace: []domain.SubscriberRecord{bad}}
	platform := newStubPlatform(map[string]bool{"A": true, "B": true})
	h := newHarness(backend, platform, defaultOpts())

	run, err := h.engine.FullSync(context.Background(), "test")

	require.NoError(t, err)
	fails := failuresFor(run, "B")
	require.Len(t, fails, 1)
	assert.Equal(t, domain.ClassInvalidRecord, fails[0].Class)
	assert.Equal(t, 0, h.roles.count("B", true))
	assert.Equal(t, 1, h.roles.count("A", true))
}

func TestFullSync_DeliveryFailureDoesNotAbort(t *testing.T) {
	backend := &stubBackend{grace: []domain.SubscriberRecord{
		graceRec("B", -time.Hour, true),
		graceRec("E", -time.Hour, true),
	}}
	platform := newStubPlatform(map[string]bool{"B": true, "E": true})
	h := newHarness(backend, platform, defaultOpts())
	h.messenger.errs["B"] = domain.ErrDeliveryBlocked

	run, err := h.engine.FullSync(context.Background(), "test")

	require.NoError(t, err)
	assert.False(t, platform.has("B"))
	assert.False(t, platform.has("E"))
	assert.Len(t, h.messenger.sentTo("E"), 1)
	fails := failuresFor(run, "B")
	require.Len(t, fails, 1)
	assert.Equal(t, domain.ClassDeliveryBlocked, fails[0].Class)
}

func TestFullSync_OverlappingRunsRemindOnce(t *testing.T) {
	backend := &stubBackend{grace: []domain.SubscriberRecord{graceRec("B", 48*time.Hour, true)}}
	platform := newStubPlatform(map[string]bool{"B": true})
	h := newHarness(backend, platform, defaultOpts())

	_, err := h.engine.FullSync(context.Background(), "schedule")
	require.NoError(t, err)
	_, err = h.engine.FullSync(context.Background(), "manual")
	require.NoError(t, err)

	assert.Len(t, h.notifier.forUser("B"), 2)
	assert.Len(t, h.messenger.sentTo("B"), 1)
}

func TestFullSync_SavesRunSummary(t *testing.T) {
	backend := &stubBackend{active: []domain.SubscriberRecord{activeRec("A")}}
	platform := newStubPlatform(map[string]bool{"A": true})
	repo := &stubRunRepo{}
	engine := NewReconciler(Dependencies{
		Backend:  backend,
		Roles:    NewRoleMutator(platform, zerolog.Nop()),
		Notifier: NewNotificationDispatcher(stubRenderer{}, &stubMessenger{}, nil, zerolog.Nop()),
		Runs:     repo,
		Now:      func() time.Time { return testNow },
		Log:      zerolog.Nop(),
	}, defaultOpts())

	run, err := engine.FullSync(context.Background(), "schedule")

	require.NoError(t, err)
	require.Len(t, repo.saved, 1)
	assert.Equal(t, run.ID, repo.saved[0].ID)
	assert.Equal(t, domain.RunFull, repo.saved[0].Kind)
	assert.True(t, repo.saved[0].Succeeded)
}

type stubRunRepo struct {
	saved []domain.RunSummary
}

func (r *stubRunRepo) Save(_ context.Context, s domain.RunSummary) error {
	r.saved = append(r.saved, s)
	return nil
}

func (r *stubRunRepo) Recent(_ context.Context, limit int) ([]domain.RunSummary, error) {
	return r.saved, nil
}
