package domain

import (
	"fmt"
	"time"
)

// BillingEventKind is the subset of billing webhook types the engine reacts to.
type BillingEventKind string

const (
	BillingActivated          BillingEventKind = "subscription.activated"
	BillingRenewed            BillingEventKind = "subscription.renewed"
	BillingCancelled          BillingEventKind = "subscription.cancelled"
	BillingGracePeriodStarted BillingEventKind = "grace_period.started"
)

// ParseBillingEventKind maps a webhook type string to a BillingEventKind.
func ParseBillingEventKind(s string) (BillingEventKind, error) {
	switch k := BillingEventKind(s); k {
	case BillingActivated, BillingRenewed, BillingCancelled, BillingGracePeriodStarted:
		return k, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownEventType, s)
}

// LifecycleKind tags a subscriber state transition.
type LifecycleKind string

const (
	SubscriptionActivated LifecycleKind = "subscription_activated"
	SubscriptionRenewed   LifecycleKind = "subscription_renewed"
	GracePeriodEntered    LifecycleKind = "grace_period_entered"
	GracePeriodExpired    LifecycleKind = "grace_period_expired"
)

// LifecycleEvent is one observed transition. It drives at most one notification.
type LifecycleEvent struct {
	Kind       LifecycleKind
	DiscordID  string
	OccurredAt time.Time
	// Token distinguishes occurrences of the same kind for the same user,
	// e.g. the grace end time for an expiration.
	Token string
}

// Notification returns the notification kind this transition announces.
func (e LifecycleEvent) Notification() NotificationKind {
	switch e.Kind {
	case GracePeriodEntered:
		return NotifyGraceReminder
	case GracePeriodExpired:
		return NotifyExpiration
	default:
		return NotifyConfirmation
	}
}

// DedupKey identifies this transition occurrence across overlapping runs.
func (e LifecycleEvent) DedupKey() string {
	token := e.Token
	if token == "" {
		token = e.OccurredAt.UTC().Format(time.DateOnly)
	}
	return fmt.Sprintf("%s:%s:%s", e.DiscordID, e.Kind, token)
}

// NotificationKind selects one of the fixed message templates.
type NotificationKind string

const (
	NotifyConfirmation  NotificationKind = "confirmation"
	NotifyGraceReminder NotificationKind = "grace_reminder"
	NotifyExpiration    NotificationKind = "expiration"
)

// RespectsPreference reports whether the subscriber's reminder opt-out applies.
// Only grace reminders are opt-out; confirmations and expirations always go out.
func (k NotificationKind) RespectsPreference() bool {
	return k == NotifyGraceReminder
}

// NotificationPayload carries the variable fields of a template.
type NotificationPayload struct {
	DaysRemaining  int
	MembershipName string
}

// Notification is a single request to the dispatcher.
type Notification struct {
	DiscordID        string
	Kind             NotificationKind
	Payload          NotificationPayload
	RemindersEnabled bool
	// DedupKey, when set, makes delivery at-most-once per key within the ledger TTL.
	DedupKey string
}
