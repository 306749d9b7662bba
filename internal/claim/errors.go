package claim

import (
	"errors"
	"fmt"
)

// Kind classifies why a claim failed.
type Kind string

const (
	KindUnauthenticated    Kind = "unauthenticated"
	KindInvalidInput       Kind = "invalid_input"
	KindDeviceNotFound     Kind = "device_not_found"
	KindFarmNotFound       Kind = "farm_not_found"
	KindForbidden          Kind = "forbidden"
	KindAlreadyClaimed     Kind = "already_claimed"
	KindOwnedByAnotherUser Kind = "owned_by_another_user"
	KindClaimRaceLost      Kind = "claim_race_lost"
	KindUnexpected         Kind = "unexpected"
)

// Error is the failure returned by ClaimDevice. Message is safe to show to
// the caller; err is kept for logs only.
type Error struct {
	Kind    Kind
	Message string
	err     error
}

func (e *Error) Error() string {
	if e.err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	return e.err
}

func newError(kind Kind, msg string, err error) *Error {
	return &Error{Kind: kind, Message: msg, err: err}
}

// NewError builds a failure of kind for checks made before the workflow runs,
// such as request decoding.
func NewError(kind Kind, msg string) *Error {
	return newError(kind, msg, nil)
}

// KindOf returns the Kind carried by err, or KindUnexpected for any other error.
func KindOf(err error) Kind {
	var cerr *Error
	if errors.As(err, &cerr) {
		return cerr.Kind
	}
	return KindUnexpected
}

// Retryable reports whether the caller may sensibly retry the same request.
func (k Kind) Retryable() bool {
	return k == KindClaimRaceLost
}
