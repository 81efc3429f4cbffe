package errors

import (
	stderrors "errors"
	"fmt"
)

var (
	ErrWorkerPanic = fmt.Errorf("worker panic")
	ErrEmptyWords  = fmt.Errorf("no words have been found")

	// Relay taxonomy. Each one maps to a close code and an HTTP status.
	ErrAuthFailed          = fmt.Errorf("authentication failed")
	ErrRoomNotFound        = fmt.Errorf("room not found")
	ErrRoomAccessDenied    = fmt.Errorf("room access denied")
	ErrMalformedPayload    = fmt.Errorf("malformed payload")
	ErrStoreUnavailable    = fmt.Errorf("message store unavailable")
	ErrSlowConsumerEvicted = fmt.Errorf("slow consumer evicted")
	ErrSessionClosed       = fmt.Errorf("session closed")
	ErrInvalidTransition   = fmt.Errorf("invalid session state transition")
	ErrRateLimited         = fmt.Errorf("rate limit exceeded")

	// Collaborators
	ErrInvalidCredentials = fmt.Errorf("invalid credentials")
	ErrUserAlreadyExists  = fmt.Errorf("user already exists")
	ErrUserNotFound       = fmt.Errorf("user not found")
	ErrInvalidPassword    = fmt.Errorf("password does not meet complexity requirements")
	ErrTokenGeneration    = fmt.Errorf("token generation failed")
	ErrRoomAlreadyExists  = fmt.Errorf("room name already exists")
	ErrInvalidRoom        = fmt.Errorf("invalid room")
	ErrUnknownBackend     = fmt.Errorf("unknown store backend")
	ErrNotConnected       = fmt.Errorf("not connected")
)

// Is reports whether any error in err's tree matches target.
func Is(err, target error) bool {
	return stderrors.Is(err, target)
}

// As finds the first error in err's tree that matches target.
func As(err error, target any) bool {
	return stderrors.As(err, target)
}
