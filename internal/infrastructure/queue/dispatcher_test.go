package queue

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/triboar/guild-sync/internal/core/domain"
	"github.com/triboar/guild-sync/internal/core/ports"
)

type recordingReconciler struct {
	mu     sync.Mutex
	events map[string][]domain.BillingEventKind
	done   chan struct{}
}

func newRecordingReconciler(buffer int) *recordingReconciler {
	return &recordingReconciler{events: make(map[string][]domain.BillingEventKind), done: make(chan struct{}, buffer)}
}

func (r *recordingReconciler) FullSync(context.Context, string) (*domain.Run, error) { return nil, nil }

func (r *recordingReconciler) IncrementalSync(_ context.Context, discordID string, kind domain.BillingEventKind) (*domain.Run, error) {
	r.mu.Lock()
	r.events[discordID] = append(r.events[discordID], kind)
	r.mu.Unlock()
	r.done <- struct{}{}
	return domain.NewRun(domain.RunIncremental, string(kind), time.Now()), nil
}

func (r *recordingReconciler) HandleMemberJoin(context.Context, string) (*domain.Run, error) {
	return nil, nil
}

func (r *recordingReconciler) SetReminderPreference(context.Context, string, bool) error { return nil }

func waitFor(t *testing.T, ch <-chan struct{}, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		select {
		case <-ch:
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out after %d of %d events", i, n)
		}
	}
}

func TestShardIndexStable(t *testing.T) {
	d := NewDispatcher(4, nil, zerolog.Nop())
	first := d.shardIndex("123456789")
	for i := 0; i < 10; i++ {
		assert.Equal(t, first, d.shardIndex("123456789"))
	}
	assert.GreaterOrEqual(t, first, 0)
	assert.Less(t, first, 4)
}

func TestDispatcher_PerUserOrdering(t *testing.T) {
	rec := newRecordingReconciler(64)
	d := NewDispatcher(3, rec, zerolog.Nop())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	d.Start(ctx)

	sequence := []string{"subscription.activated", "grace_period.started", "subscription.renewed"}
	users := []string{"1", "2", "3", "4"}
	for _, typ := range sequence {
		for _, u := range users {
			require.NoError(t, d.Enqueue(ctx, ports.BillingEventInput{Type: typ, DiscordID: u}))
		}
	}
	waitFor(t, rec.done, len(sequence)*len(users))

	rec.mu.Lock()
	defer rec.mu.Unlock()
	for _, u := range users {
		got := make([]string, 0, len(sequence))
		for _, k := range rec.events[u] {
			got = append(got, string(k))
		}
		assert.Equal(t, sequence, got, fmt.Sprintf("user %s", u))
	}
}

func TestDispatcher_UnknownTypeIgnored(t *testing.T) {
	rec := newRecordingReconciler(8)
	d := NewDispatcher(1, rec, zerolog.Nop())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	d.Start(ctx)

	require.NoError(t, d.Enqueue(ctx, ports.BillingEventInput{Type: "invoice.paid", DiscordID: "1"}))
	require.NoError(t, d.Enqueue(ctx, ports.BillingEventInput{Type: "subscription.cancelled", DiscordID: "1"}))
	waitFor(t, rec.done, 1)

	rec.mu.Lock()
	defer rec.mu.Unlock()
	assert.Equal(t, []domain.BillingEventKind{domain.BillingCancelled}, rec.events["1"])
}

func TestDispatcher_StopsOnCancel(t *testing.T) {
	d := NewDispatcher(2, newRecordingReconciler(1), zerolog.Nop())
	ctx, cancel := context.WithCancel(context.Background())
	d.Start(ctx)
	cancel()

	stopped := make(chan struct{})
	go func() {
		d.Wait()
		close(stopped)
	}()
	select {
	case <-stopped:
	case <-time.After(2 * time.Second):
		t.Fatal("workers did not stop")
	}
}
