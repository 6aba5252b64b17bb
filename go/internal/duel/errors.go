package duel

import (
	"errors"
	"fmt"
)

// Kind classifies failures callers can act on.
type Kind string

const (
	KindRoomNotFound           Kind = "ROOM_NOT_FOUND"
	KindRoomFull               Kind = "ROOM_FULL"
	KindMatchNotActive         Kind = "MATCH_NOT_ACTIVE"
	KindAlreadyDecided         Kind = "ALREADY_DECIDED"
	KindExternalServiceFailure Kind = "EXTERNAL_SERVICE_FAILURE"
	KindTransportUnavailable   Kind = "TRANSPORT_UNAVAILABLE"
	KindNotParticipant         Kind = "NOT_PARTICIPANT"
	KindInvalidArgument        Kind = "INVALID_ARGUMENT"
	KindUnauthenticated        Kind = "UNAUTHENTICATED"
	KindInternal               Kind = "INTERNAL"
)

// Error is the typed error returned by room operations.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	msg := e.Message
	if msg == "" {
		msg = string(e.Kind)
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches any *Error of the same kind, so errors.Is(err, ErrRoomFull) works
// regardless of message.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

// Retryable is true for failures that may succeed if repeated unchanged.
func (e *Error) Retryable() bool {
	return e.Kind == KindExternalServiceFailure || e.Kind == KindTransportUnavailable
}

// Sentinels for errors.Is.
var (
	ErrRoomNotFound           = &Error{Kind: KindRoomNotFound}
	ErrRoomFull               = &Error{Kind: KindRoomFull}
	ErrMatchNotActive         = &Error{Kind: KindMatchNotActive}
	ErrAlreadyDecided         = &Error{Kind: KindAlreadyDecided}
	ErrExternalServiceFailure = &Error{Kind: KindExternalServiceFailure}
	ErrTransportUnavailable   = &Error{Kind: KindTransportUnavailable}
	ErrNotParticipant         = &Error{Kind: KindNotParticipant}
	ErrInvalidArgument        = &Error{Kind: KindInvalidArgument}
	ErrUnauthenticated        = &Error{Kind: KindUnauthenticated}
)

func newError(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

func wrapError(kind Kind, err error, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), Err: err}
}

// KindOf extracts the kind of err, or KindInternal for untyped errors.
func KindOf(err error) Kind {
	var de *Error
	if errors.As(err, &de) {
		return de.Kind
	}
	return KindInternal
}
