package domain

import (
	"chat-relay/errors"
	"fmt"
)

type SessionState int

const (
	Connecting SessionState = iota
	Authenticated
	Active
	Closing
	Closed
)

func (s SessionState) String() string {
	switch s {
	case Connecting:
		return "connecting"
	case Authenticated:
		return "authenticated"
	case Active:
		return "active"
	case Closing:
		return "closing"
	case Closed:
		return "closed"
	default:
		return fmt.Sprintf("unknown(%d)", int(s))
	}
}

// transitions lists the allowed moves of the session lifecycle.
// Any state but Closed may go to Closing, a session rejected before
// activation is torn down the same way as an active one.
var transitions = map[SessionState][]SessionState{
	Connecting:    {Authenticated, Closing},
	Authenticated: {Active, Closing},
	Active:        {Closing},
	Closing:       {Closed},
	Closed:        {},
}

func (s SessionState) CanTransition(to SessionState) bool {
	for _, allowed := range transitions[s] {
		if allowed == to {
			return true
		}
	}
	return false
}

// Transition validates the move from s to next.
func (s SessionState) Transition(next SessionState) (SessionState, error) {
	if !s.CanTransition(next) {
		return s, fmt.Errorf("%w: %s -> %s", errors.ErrInvalidTransition, s, next)
	}
	return next, nil
}
