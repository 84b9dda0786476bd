package middleware

import (
	"strings"

	"investhub-platform/pkg/errutil"
	"investhub-platform/pkg/security"

	"github.com/gin-gonic/gin"
)

const principalKey = "principal"

// Authenticate resolves the bearer token into a security.Principal. When a
// resolver is given, the principal is refreshed from the account on every request.
func Authenticate(issuer *security.TokenIssuer, resolver security.PrincipalResolver) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		raw, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || raw == "" {
			_ = c.Error(errutil.Unauthorized("missing bearer token", nil))
			c.Abort()
			return
		}

		p, err := issuer.Verify(strings.TrimSpace(raw))
		if err != nil {
			_ = c.Error(errutil.Unauthorized("invalid bearer token", err))
			c.Abort()
			return
		}

		if resolver != nil {
			p, err = resolver.ResolvePrincipal(c.Request.Context(), *p)
			if err != nil {
				_ = c.Error(err)
				c.Abort()
				return
			}
		}

		c.Set(principalKey, p)
		c.Next()
	}
}

func Principal(c *gin.Context) *security.Principal {
	if v, ok := c.Get(principalKey); ok {
		if p, ok := v.(*security.Principal); ok {
			return p
		}
	}
	return nil
}

// UserID returns the authenticated user id, or "" for anonymous requests.
func UserID(c *gin.Context) string {
	if p := Principal(c); p != nil {
		return p.UserID
	}
	return ""
}
