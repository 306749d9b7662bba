package mw

import (
	"context"
	"net/http"
	"strings"

	"github.com/pkg/errors"

	"github.com/gin-gonic/gin"

	"farm-dashboard-backend/internal/auth"
)

const (
	// SessionCookie is the cookie a browser presents its session token in.
	SessionCookie = "session"
	sessionKey    = "session"
)

// Authenticator turns a session token into the session of an existing user.
type Authenticator interface {
	Authenticate(ctx context.Context, token string) (*auth.Session, error)
}

// Session resolves the bearer token or session cookie into an auth.Session.
// Requests without a valid token, or whose user no longer exists, pass
// through anonymously.
func Session(authn Authenticator) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := bearerToken(c.GetHeader("Authorization"))
		if token == "" {
			token, _ = c.Cookie(SessionCookie)
		}
		if token != "" {
			s, err := authn.Authenticate(c.Request.Context(), token)
			switch {
			case err == nil:
				c.Set(sessionKey, s)
			case !errors.Is(err, auth.ErrInvalidSession):
				c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
				return
			}
		}
		c.Next()
	}
}

func bearerToken(header string) string {
	const prefix = "bearer "
	if len(header) > len(prefix) && strings.EqualFold(header[:len(prefix)], prefix) {
		return strings.TrimSpace(header[len(prefix):])
	}
	return ""
}

// SessionFrom returns the session attached by Session.
func SessionFrom(c *gin.Context) (*auth.Session, bool) {
	v, ok := c.Get(sessionKey)
	if !ok {
		return nil, false
	}
	s, ok := v.(*auth.Session)
	return s, ok
}

// RequireSession rejects anonymous requests.
func RequireSession() gin.HandlerFunc {
	return func(c *gin.Context) {
		if _, ok := SessionFrom(c); !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "authentication required"})
			return
		}
		c.Next()
	}
}

// RequireAdmin rejects requests whose session is not an administrator.
func RequireAdmin() gin.HandlerFunc {
	return func(c *gin.Context) {
		s, ok := SessionFrom(c)
		if !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "authentication required"})
			return
		}
		if !s.IsAdmin() {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "administrator role required"})
			return
		}
		c.Next()
	}
}
