package middleware

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"client-portal/internal/auth"
	"github.com/gin-gonic/gin"
)

const (
	sessionContextKey = "session"

	// SessionCookie carries the session token between browser requests.
	SessionCookie = "portal-session"
)

type SessionResolver interface {
	Resolve(ctx context.Context, token string) (auth.Session, error)
}

func SessionFromContext(c *gin.Context) (auth.Session, bool) {
	v, ok := c.Get(sessionContextKey)
	if !ok {
		return auth.Session{}, false
	}
	sess, ok := v.(auth.Session)
	return sess, ok && sess.Subject != ""
}

// TokenFromRequest reads the session token from the cookie, falling back to
// a bearer Authorization header.
func TokenFromRequest(c *gin.Context) string {
	if tok, err := c.Cookie(SessionCookie); err == nil && tok != "" {
		return tok
	}
	parts := strings.SplitN(c.GetHeader("Authorization"), " ", 2)
	if len(parts) == 2 && strings.EqualFold(parts[0], "Bearer") {
		return strings.TrimSpace(parts[1])
	}
	return ""
}

// RequireSession rejects requests without a valid session before any
// handler code runs.
func RequireSession(resolver SessionResolver) gin.HandlerFunc {
	return func(c *gin.Context) {
		sess, err := resolver.Resolve(c.Request.Context(), TokenFromRequest(c))
		if err != nil {
			if errors.Is(err, auth.ErrInvalidToken) {
				c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": auth.ErrInvalidToken.Error()})
				return
			}
			slog.Default().ErrorContext(c.Request.Context(), "session lookup failed", "error", err)
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "Something went wrong, please try again"})
			return
		}

		c.Set(sessionContextKey, sess)
		c.Next()
	}
}

// SetSession stores sess on the context; used by handlers that establish a
// session mid-request and by tests.
func SetSession(c *gin.Context, sess auth.Session) {
	c.Set(sessionContextKey, sess)
}
