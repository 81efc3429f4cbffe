package gateway

import (
	"chat-relay/errors"
	"net/http"

	"github.com/gin-gonic/gin"
)

// HTTPStatusFor maps an error of the relay to the status of a REST response.
func HTTPStatusFor(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, errors.ErrAuthFailed), errors.Is(err, errors.ErrInvalidCredentials):
		return http.StatusUnauthorized
	case errors.Is(err, errors.ErrRoomAccessDenied):
		return http.StatusForbidden
	case errors.Is(err, errors.ErrRoomNotFound), errors.Is(err, errors.ErrUserNotFound):
		return http.StatusNotFound
	case errors.Is(err, errors.ErrMalformedPayload),
		errors.Is(err, errors.ErrInvalidPassword),
		errors.Is(err, errors.ErrInvalidRoom):
		return http.StatusBadRequest
	case errors.Is(err, errors.ErrUserAlreadyExists), errors.Is(err, errors.ErrRoomAlreadyExists):
		return http.StatusConflict
	case errors.Is(err, errors.ErrRateLimited):
		return http.StatusTooManyRequests
	case errors.Is(err, errors.ErrStoreUnavailable):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

type errorResponse struct {
	Error string `json:"error"`
}

// abort answers with the status of err. Internal errors are not detailed.
func (g *Gateway) abort(c *gin.Context, err error) {
	status := HTTPStatusFor(err)
	message := err.Error()
	if status == http.StatusInternalServerError {
		g.log.Error("Request failed", "path", c.FullPath(), "error", err)
		message = http.StatusText(status)
	}
	c.AbortWithStatusJSON(status, errorResponse{Error: message})
}
