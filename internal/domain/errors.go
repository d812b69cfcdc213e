package domain

import (
	"errors"
	"fmt"
)

type Kind int

const (
	KindInternal Kind = iota
	KindValidation
	KindNotFound
	KindConflict
	KindExpired
	KindForbidden
	KindRateLimited
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindNotFound:
		return "not_found"
	case KindConflict:
		return "conflict"
	case KindExpired:
		return "expired"
	case KindForbidden:
		return "forbidden"
	case KindRateLimited:
		return "rate_limited"
	}
	return "internal"
}

// Error is the error type returned by services. Message is safe to show to clients
// for every kind except KindInternal.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Err }

// Is lets errors.Is match sentinels below by kind and message.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Kind == t.Kind && (t.Message == "" || e.Message == t.Message)
}

func Validationf(format string, args ...interface{}) *Error {
	return &Error{Kind: KindValidation, Message: fmt.Sprintf(format, args...)}
}

func NotFoundf(format string, args ...interface{}) *Error {
	return &Error{Kind: KindNotFound, Message: fmt.Sprintf(format, args...)}
}

func Conflictf(format string, args ...interface{}) *Error {
	return &Error{Kind: KindConflict, Message: fmt.Sprintf(format, args...)}
}

func Forbiddenf(format string, args ...interface{}) *Error {
	return &Error{Kind: KindForbidden, Message: fmt.Sprintf(format, args...)}
}

// Internal wraps a store or transport failure.
func Internal(msg string, err error) *Error {
	return &Error{Kind: KindInternal, Message: msg, Err: err}
}

var (
	ErrInvalidResource  = &Error{Kind: KindValidation, Message: "unknown resource"}
	ErrReceiverNotFound = &Error{Kind: KindNotFound, Message: "receiver not found"}
	ErrSenderNotFound   = &Error{Kind: KindNotFound, Message: "sender not found"}
	ErrUserNotFound     = &Error{Kind: KindNotFound, Message: "user not found"}
	ErrReservationGone  = &Error{Kind: KindNotFound, Message: "reservation not found"}
	ErrInvitationGone   = &Error{Kind: KindNotFound, Message: "invitation not found or expired"}
	ErrDuplicateInvite  = &Error{Kind: KindConflict, Message: "user has already been invited to this reservation"}
	ErrAlreadyResponded = &Error{Kind: KindConflict, Message: "invitation has already been answered"}
	ErrExpired          = &Error{Kind: KindExpired, Message: "invitation has expired"}
	ErrRateLimited      = &Error{Kind: KindRateLimited, Message: "too many invitations, try again later"}
)

// KindOf returns the kind of the first *Error in err's chain, KindInternal otherwise.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// PublicMessage hides internal details from clients.
func PublicMessage(err error) string {
	var e *Error
	if errors.As(err, &e) && e.Kind != KindInternal {
		return e.Message
	}
	return "internal server error"
}
