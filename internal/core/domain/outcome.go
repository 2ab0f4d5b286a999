package domain

// RoleStatus is the result of a single RoleMutator.Ensure call.
type RoleStatus string

const (
	RoleApplied        RoleStatus = "applied"
	RoleAlreadyCorrect RoleStatus = "already_correct"
	RoleFailed         RoleStatus = "failed"
)

// RoleOutcome reports what Ensure did. Err is set iff Status is RoleFailed.
type RoleOutcome struct {
	Status RoleStatus
	Err    error
}

func RoleAppliedOutcome() RoleOutcome        { return RoleOutcome{Status: RoleApplied} }
func RoleAlreadyCorrectOutcome() RoleOutcome { return RoleOutcome{Status: RoleAlreadyCorrect} }
func RoleFailedOutcome(err error) RoleOutcome {
	return RoleOutcome{Status: RoleFailed, Err: err}
}

// Failed reports whether the mutation failed.
func (o RoleOutcome) Failed() bool { return o.Status == RoleFailed }

// DeliveryStatus is the result of a single NotificationDispatcher.Send call.
type DeliveryStatus string

const (
	DeliverySent    DeliveryStatus = "sent"
	DeliverySkipped DeliveryStatus = "skipped"
	DeliveryFailed  DeliveryStatus = "failed"
)

// Skip reasons.
const (
	SkipOptedOut  = "opted_out"
	SkipDuplicate = "duplicate"
)

// DeliveryOutcome reports what Send did. Reason is set for skips, Err for failures.
type DeliveryOutcome struct {
	Status DeliveryStatus
	Reason string
	Err    error
}

func DeliverySentOutcome() DeliveryOutcome { return DeliveryOutcome{Status: DeliverySent} }
func DeliverySkippedOutcome(reason string) DeliveryOutcome {
	return DeliveryOutcome{Status: DeliverySkipped, Reason: reason}
}
func DeliveryFailedOutcome(err error) DeliveryOutcome {
	return DeliveryOutcome{Status: DeliveryFailed, Err: err}
}

// Failed reports whether delivery failed.
func (o DeliveryOutcome) Failed() bool { return o.Status == DeliveryFailed }
