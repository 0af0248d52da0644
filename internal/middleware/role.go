package middleware

import (
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/foxford/dispatchd/pkg/response"
)

// RequireServiceLabel allows only callers whose account id carries one of
// the given service labels ("event", "conference", "storage", ...). Account
// ids take the form "<label>.<audience>"; the authz proxy performs the
// stricter audience match itself, this middleware only gates the route.
func RequireServiceLabel(labels ...string) gin.HandlerFunc {
	allowed := make(map[string]struct{})
	for _, l := range labels {
		allowed[l] = struct{}{}
	}
	return func(c *gin.Context) {
		account := Account(c)
		if account == "" {
			response.Fail(c, 401, "authentication_failed", "Authentication failed", "missing caller account")
			c.Abort()
			return
		}
		label, _, _ := strings.Cut(account, ".")
		if _, ok := allowed[label]; !ok {
			response.Fail(c, 403, "access_denied", "Access denied", "caller service is not allowed here")
			c.Abort()
			return
		}
		c.Next()
	}
}
