package domain

import (
	"context"
	"errors"
)

var (
	ErrFetchFailure         = errors.New("backend list fetch failed")
	ErrMutationFailure      = errors.New("backend mutation failed")
	ErrMemberNotFound       = errors.New("guild member not found")
	ErrPermissionDenied     = errors.New("role mutation not permitted")
	ErrRecipientUnreachable = errors.New("recipient unreachable")
	ErrDeliveryBlocked      = errors.New("direct message delivery blocked")
	ErrUserNotFound         = errors.New("backend user not found")
	ErrInvalidTransition    = errors.New("invalid subscriber status transition")
	ErrInvalidRecord        = errors.New("invalid subscriber record")
	ErrUnknownEventType     = errors.New("unknown billing event type")
	ErrRunInProgress        = errors.New("full sync already in progress")
)

// ErrorClass is the stable label attached to failures in logs, metrics and run results.
type ErrorClass string

const (
	ClassNone                 ErrorClass = ""
	ClassFetchFailure         ErrorClass = "fetch_failure"
	ClassMutationFailure      ErrorClass = "mutation_failure"
	ClassMemberNotFound       ErrorClass = "member_not_found"
	ClassPermissionDenied     ErrorClass = "permission_denied"
	ClassRecipientUnreachable ErrorClass = "recipient_unreachable"
	ClassDeliveryBlocked      ErrorClass = "delivery_blocked"
	ClassUserNotFound         ErrorClass = "user_not_found"
	ClassInvalidRecord        ErrorClass = "invalid_record"
	ClassInvalidTransition    ErrorClass = "invalid_transition"
	ClassTimeout              ErrorClass = "timeout"
	ClassUnknown              ErrorClass = "unknown"
)

var classes = []struct {
	err   error
	class ErrorClass
}{
	{ErrMemberNotFound, ClassMemberNotFound},
	{ErrPermissionDenied, ClassPermissionDenied},
	{ErrRecipientUnreachable, ClassRecipientUnreachable},
	{ErrDeliveryBlocked, ClassDeliveryBlocked},
	{ErrUserNotFound, ClassUserNotFound},
	{ErrInvalidRecord, ClassInvalidRecord},
	{ErrInvalidTransition, ClassInvalidTransition},
	{context.DeadlineExceeded, ClassTimeout},
	{ErrFetchFailure, ClassFetchFailure},
	{ErrMutationFailure, ClassMutationFailure},
}

// ClassOf maps err to its ErrorClass. Specific kinds win over the generic
// fetch/mutation wrappers they may be nested in.
func ClassOf(err error) ErrorClass {
	if err == nil {
		return ClassNone
	}
	for _, c := range classes {
		if errors.Is(err, c.err) {
			return c.class
		}
	}
	return ClassUnknown
}
