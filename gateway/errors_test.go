package gateway

import (
	"chat-relay/errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestHTTPStatusFor(t *testing.T) {
	tests := []struct {
		err    error
		status int
	}{
		{nil, http.StatusOK},
		{errors.ErrAuthFailed, http.StatusUnauthorized},
		{errors.ErrInvalidCredentials, http.StatusUnauthorized},
		{errors.ErrRoomAccessDenied, http.StatusForbidden},
		{fmt.Errorf("%w: 12", errors.ErrRoomNotFound), http.StatusNotFound},
		{errors.ErrMalformedPayload, http.StatusBadRequest},
		{errors.ErrInvalidPassword, http.StatusBadRequest},
		{errors.ErrRoomAlreadyExists, http.StatusConflict},
		{errors.ErrRateLimited, http.StatusTooManyRequests},
		{fmt.Errorf("%w: disk", errors.ErrStoreUnavailable), http.StatusServiceUnavailable},
		{fmt.Errorf("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprint(tt.err), func(t *testing.T) {
			require.Equal(t, tt.status, HTTPStatusFor(tt.err))
		})
	}
}
