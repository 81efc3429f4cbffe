package domain

import "chat-relay/errors"

// CloseCode is the WebSocket close status sent to a client.
// Application codes live in the 4000-4999 private range.
type CloseCode int

const (
	NormalClosure       CloseCode = 1000
	GoingAway           CloseCode = 1001
	InternalError       CloseCode = 1011
	AuthFailed          CloseCode = 4001
	RoomAccessDenied    CloseCode = 4003
	RoomNotFound        CloseCode = 4004
	SlowConsumerEvicted CloseCode = 4008
)

func (c CloseCode) String() string {
	switch c {
	case NormalClosure:
		return "normal_closure"
	case GoingAway:
		return "going_away"
	case InternalError:
		return "internal_error"
	case AuthFailed:
		return "auth_failed"
	case RoomAccessDenied:
		return "room_access_denied"
	case RoomNotFound:
		return "room_not_found"
	case SlowConsumerEvicted:
		return "slow_consumer_evicted"
	default:
		return "unknown"
	}
}

// Retryable tells a client whether reconnecting can succeed without user action.
func (c CloseCode) Retryable() bool {
	switch c {
	case AuthFailed, RoomAccessDenied, RoomNotFound:
		return false
	default:
		return true
	}
}

// CloseCodeFor maps an error of the relay taxonomy to its close code.
func CloseCodeFor(err error) CloseCode {
	switch {
	case err == nil:
		return NormalClosure
	case errors.Is(err, errors.ErrAuthFailed):
		return AuthFailed
	case errors.Is(err, errors.ErrRoomNotFound):
		return RoomNotFound
	case errors.Is(err, errors.ErrRoomAccessDenied):
		return RoomAccessDenied
	case errors.Is(err, errors.ErrSlowConsumerEvicted):
		return SlowConsumerEvicted
	case errors.Is(err, errors.ErrSessionClosed):
		return NormalClosure
	default:
		return InternalError
	}
}
