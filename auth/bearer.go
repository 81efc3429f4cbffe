package auth

import (
	"net/http"
	"strings"
)

const bearerPrefix = "bearer "

// ExtractToken reads the token of a request from the Authorization header,
// falling back to the token query parameter used by browsers opening a
// websocket.
func ExtractToken(r *http.Request) string {
	header := r.Header.Get("Authorization")
	if len(header) > len(bearerPrefix) && strings.EqualFold(header[:len(bearerPrefix)], bearerPrefix) {
		return strings.TrimSpace(header[len(bearerPrefix):])
	}
	return r.URL.Query().Get("token")
}
