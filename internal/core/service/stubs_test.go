package service

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/triboar/guild-sync/internal/core/domain"
	"github.com/triboar/guild-sync/internal/core/ports"
)

// ---------------------------------------------------------------------------
// Call log shared by stubs so tests can assert cross-component ordering.
// ---------------------------------------------------------------------------

type callLog struct {
	mu    sync.Mutex
	calls []string
}

func (l *callLog) add(format string, args ...any) {
	if l == nil {
		return
	}
	l.mu.Lock()
	l.calls = append(l.calls, fmt.Sprintf(format, args...))
	l.mu.Unlock()
}

// forUser returns the calls whose second field is user, in order.
func (l *callLog) forUser(user string) []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []string
	for _, c := range l.calls {
		if parts := strings.Split(c, ":"); len(parts) > 1 && parts[1] == user {
			out = append(out, c)
		}
	}
	return out
}

// ---------------------------------------------------------------------------
// Backend
// ---------------------------------------------------------------------------

type stubBackend struct {
	mu        sync.Mutex
	log       *callLog
	active    []domain.SubscriberRecord
	grace     []domain.SubscriberRecord
	activeErr error
	graceErr  error
	expireErr map[string]error
	users     map[string]string // discord id -> backend user id

	expired []string
	exited  []string
	prefs   map[string]bool
	audits  []ports.AuditRecord
}

func (b *stubBackend) ActiveSubscribers(context.Context) ([]domain.SubscriberRecord, error) {
	if b.activeErr != nil {
		return nil, b.activeErr
	}
	return append([]domain.SubscriberRecord(nil), b.active...), nil
}

func (b *stubBackend) GraceSubscribers(context.Context) ([]domain.SubscriberRecord, error) {
	if b.graceErr != nil {
		return nil, b.graceErr
	}
	return append([]domain.SubscriberRecord(nil), b.grace...), nil
}

func (b *stubBackend) EnterGracePeriod(context.Context, string, string) error { return nil }

func (b *stubBackend) ExitGracePeriod(_ context.Context, _, discordID string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.log.add("exit:%s", discordID)
	b.exited = append(b.exited, discordID)
	return nil
}

func (b *stubBackend) ExpireGracePeriod(_ context.Context, userID, discordID string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.expireErr[discordID]; err != nil {
		return err
	}
	b.log.add("expire:%s", discordID)
	b.expired = append(b.expired, userID+"/"+discordID)
	return nil
}

func (b *stubBackend) ResolveUserID(_ context.Context, discordID string) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	id, ok := b.users[discordID]
	if !ok {
		return "", domain.ErrUserNotFound
	}
	return id, nil
}

func (b *stubBackend) SetGraceReminderPreference(_ context.Context, userID string, enabled bool) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.prefs == nil {
		b.prefs = make(map[string]bool)
	}
	b.prefs[userID] = enabled
	return nil
}

func (b *stubBackend) WriteAudit(_ context.Context, rec ports.AuditRecord) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.audits = append(b.audits, rec)
	return nil
}

// ---------------------------------------------------------------------------
// Platform: roles and direct messages
// ---------------------------------------------------------------------------

// stubPlatform tracks role presence per member; a member missing from roles is not in the guild.
type stubPlatform struct {
	mu      sync.Mutex
	roles   map[string]bool
	addErr  map[string]error
	adds    map[string]int
	removes map[string]int
}

func newStubPlatform(roles map[string]bool) *stubPlatform {
	return &stubPlatform{
		roles:   roles,
		addErr:  make(map[string]error),
		adds:    make(map[string]int),
		removes: make(map[string]int),
	}
}

func (p *stubPlatform) HasRole(_ context.Context, memberID string) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	has, ok := p.roles[memberID]
	if !ok {
		return false, domain.ErrMemberNotFound
	}
	return has, nil
}

func (p *stubPlatform) AddRole(_ context.Context, memberID, _ string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.adds[memberID]++
	if err := p.addErr[memberID]; err != nil {
		return err
	}
	p.roles[memberID] = true
	return nil
}

func (p *stubPlatform) RemoveRole(_ context.Context, memberID, _ string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.removes[memberID]++
	p.roles[memberID] = false
	return nil
}

func (p *stubPlatform) has(memberID string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.roles[memberID]
}

type sentMessage struct {
	userID string
	msg    ports.Message
}

type stubMessenger struct {
	mu   sync.Mutex
	errs map[string]error
	sent []sentMessage
}

func (m *stubMessenger) SendDirect(_ context.Context, userID string, msg ports.Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.errs[userID]; err != nil {
		return err
	}
	m.sent = append(m.sent, sentMessage{userID: userID, msg: msg})
	return nil
}

func (m *stubMessenger) sentTo(userID string) []ports.Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []ports.Message
	for _, s := range m.sent {
		if s.userID == userID {
			out = append(out, s.msg)
		}
	}
	return out
}

// stubRenderer encodes kind and days into the title so tests can inspect them.
type stubRenderer struct {
	err error
}

func (r stubRenderer) Render(kind domain.NotificationKind, p domain.NotificationPayload) (ports.Message, error) {
	if r.err != nil {
		return ports.Message{}, r.err
	}
	return ports.Message{Title: fmt.Sprintf("%s:%d", kind, p.DaysRemaining), Description: p.MembershipName}, nil
}

type stubLedger struct {
	mu       sync.Mutex
	claimed  map[string]bool
	claimErr error
	released []string
}

func newStubLedger() *stubLedger { return &stubLedger{claimed: make(map[string]bool)} }

func (l *stubLedger) Claim(_ context.Context, key string) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.claimErr != nil {
		return false, l.claimErr
	}
	if l.claimed[key] {
		return false, nil
	}
	l.claimed[key] = true
	return true, nil
}

func (l *stubLedger) Release(_ context.Context, key string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.claimed, key)
	l.released = append(l.released, key)
	return nil
}

// ---------------------------------------------------------------------------
// Recording wrappers around the real mutator and dispatcher.
// ---------------------------------------------------------------------------

type recordingRoles struct {
	inner ports.RoleMutator
	log   *callLog
	mu    sync.Mutex
	calls map[string]int // "id:true" -> count
}

func (r *recordingRoles) Ensure(ctx context.Context, memberID string, present bool) domain.RoleOutcome {
	r.mu.Lock()
	r.calls[fmt.Sprintf("%s:%t", memberID, present)]++
	r.mu.Unlock()
	r.log.add("ensure:%s:%t", memberID, present)
	return r.inner.Ensure(ctx, memberID, present)
}

func (r *recordingRoles) count(memberID string, present bool) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.calls[fmt.Sprintf("%s:%t", memberID, present)]
}

type recordingNotifier struct {
	inner ports.NotificationDispatcher
	log   *callLog
	mu    sync.Mutex
	sent  []domain.Notification
}

func (n *recordingNotifier) Send(ctx context.Context, note domain.Notification) domain.DeliveryOutcome {
	n.mu.Lock()
	n.sent = append(n.sent, note)
	n.mu.Unlock()
	n.log.add("notify:%s:%s", note.DiscordID, note.Kind)
	return n.inner.Send(ctx, note)
}

func (n *recordingNotifier) forUser(discordID string) []domain.Notification {
	n.mu.Lock()
	defer n.mu.Unlock()
	var out []domain.Notification
	for _, s := range n.sent {
		if s.DiscordID == discordID {
			out = append(out, s)
		}
	}
	return out
}
