package domain

import (
	"math"
	"time"
)

// SubscriberStatus represents where a subscriber sits in the grace-period lifecycle.
type SubscriberStatus string

const (
	StatusActive  SubscriberStatus = "active"
	StatusGrace   SubscriberStatus = "grace"
	StatusExpired SubscriberStatus = "expired"
)

// validTransitions defines the grace-period state machine.
// Expired -> Active is a new subscription modelled by the backend, not a resurrection.
var validTransitions = map[SubscriberStatus][]SubscriberStatus{
	StatusActive:  {StatusGrace},
	StatusGrace:   {StatusActive, StatusExpired},
	StatusExpired: {StatusActive},
}

// CanTransitionTo reports whether a transition from the current status to next is valid.
func (s SubscriberStatus) CanTransitionTo(next SubscriberStatus) bool {
	for _, allowed := range validTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// EntitledToRole reports whether a subscriber in this status should hold the guild role.
func (s SubscriberStatus) EntitledToRole() bool {
	return s == StatusActive || s == StatusGrace
}

// SubscriberRecord mirrors one entry of the billing backend's subscriber lists.
// The backend owns this data; the engine only reads it for the duration of a run.
type SubscriberRecord struct {
	UserID           string // backend user id; may be empty and resolved on demand
	DiscordID        string
	Status           SubscriberStatus
	ExpiresAt        *time.Time // set for active subscribers when the backend reports it
	GraceEndsAt      *time.Time // present iff Status == StatusGrace
	NotifyPreference bool
}

// DesiredRoleState is the role presence a run must converge a member to.
type DesiredRoleState struct {
	DiscordID string
	HasRole   bool
}

// DesiredRole derives the desired role presence from the record's status.
func (r SubscriberRecord) DesiredRole() DesiredRoleState {
	return DesiredRoleState{DiscordID: r.DiscordID, HasRole: r.Status.EntitledToRole()}
}

// Validate checks the record invariants the engine relies on.
func (r SubscriberRecord) Validate() error {
	if r.DiscordID == "" {
		return ErrInvalidRecord
	}
	if r.Status == StatusGrace && r.GraceEndsAt == nil {
		return ErrInvalidRecord
	}
	return nil
}

// DaysRemaining returns the whole days left in the grace period at now, rounded up.
// A value <= 0 means the grace period is over. Records without GraceEndsAt return 0.
func (r SubscriberRecord) DaysRemaining(now time.Time) int {
	if r.GraceEndsAt == nil {
		return 0
	}
	return DaysUntil(*r.GraceEndsAt, now)
}

// DaysUntil returns ceil((t - now) / 24h).
func DaysUntil(t, now time.Time) int {
	days := t.Sub(now).Hours() / 24
	return int(math.Ceil(days))
}
