package gateway

import (
	"chat-relay/auth"
	"chat-relay/domain"
	"chat-relay/errors"
	"net/http"
	"net/url"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/samber/lo"
)

const userIDKey = "user_id"

// requireUser rejects requests without a valid token and stores the user id
// in the gin context.
func (g *Gateway) requireUser() gin.HandlerFunc {
	return func(c *gin.Context) {
		token := auth.ExtractToken(c.Request)
		if token == "" {
			g.abort(c, errors.ErrAuthFailed)
			return
		}
		userID, err := g.authenticator.ValidateToken(c.Request.Context(), token)
		if err != nil {
			g.abort(c, err)
			return
		}
		c.Set(userIDKey, userID)
		c.Next()
	}
}

func currentUser(c *gin.Context) domain.UserID {
	return c.MustGet(userIDKey).(domain.UserID)
}

// checkOrigin accepts requests without an Origin header (non browser
// clients) and origins listed in allowed. "*" allows everything.
func checkOrigin(allowed []string) func(r *http.Request) bool {
	allowAll := lo.Contains(allowed, "*")
	normalized := lo.Map(allowed, func(item string, _ int) string {
		return strings.TrimRight(strings.ToLower(strings.TrimSpace(item)), "/")
	})
	return func(r *http.Request) bool {
		if allowAll {
			return true
		}
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		u, err := url.Parse(origin)
		if err != nil || u.Host == "" {
			return false
		}
		return lo.Contains(normalized, strings.ToLower(u.Scheme+"://"+u.Host))
	}
}
