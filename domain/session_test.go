package domain

import (
	"chat-relay/errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSessionState_Lifecycle(t *testing.T) {
	req := require.New(t)

	// Given a new session walking the nominal path
	state := Connecting
	var err error
	for _, next := range []SessionState{Authenticated, Active, Closing, Closed} {
		state, err = state.Transition(next)
		req.NoError(err)
	}

	// Then nothing leaves Closed
	for _, next := range []SessionState{Connecting, Authenticated, Active, Closing, Closed} {
		_, err = state.Transition(next)
		req.ErrorIs(err, errors.ErrInvalidTransition)
	}
}

func TestSessionState_Rejects_Illegal_Transitions(t *testing.T) {
	req := require.New(t)

	// Skipping authentication is refused and the state is kept
	state, err := Connecting.Transition(Active)
	req.ErrorIs(err, errors.ErrInvalidTransition)
	req.Equal(Connecting, state)

	_, err = Active.Transition(Authenticated)
	req.ErrorIs(err, errors.ErrInvalidTransition)

	// A rejected connection can still be torn down
	req.True(Connecting.CanTransition(Closing))
	req.True(Authenticated.CanTransition(Closing))
	req.Equal("unknown(9)", SessionState(9).String())
}
