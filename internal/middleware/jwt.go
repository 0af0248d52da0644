package middleware

import (
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"

	"github.com/foxford/dispatchd/pkg/response"
)

const (
	// ContextAccount is the key under which the authenticated caller's
	// account id (the bearer token's subject) is stored in gin context.
	ContextAccount = "account"
)

// Bearer returns a middleware that extracts the caller account from the
// bearer JWT's subject. Credential issuance and authz client configuration
// live outside this service; all that is needed here is a verified subject.
func Bearer(secret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		if header == "" {
			response.Fail(c, 401, "authentication_failed", "Authentication failed", "missing authorization header")
			c.Abort()
			return
		}
		parts := strings.SplitN(header, " ", 2)
		if len(parts) != 2 || parts[0] != "Bearer" {
			response.Fail(c, 401, "authentication_failed", "Authentication failed", "invalid authorization header")
			c.Abort()
			return
		}

		token, err := jwt.Parse(parts[1], func(t *jwt.Token) (interface{}, error) {
			if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, jwt.ErrSignatureInvalid
			}
			return []byte(secret), nil
		})
		if err != nil || !token.Valid {
			response.Fail(c, 401, "authentication_failed", "Authentication failed", "invalid or expired token")
			c.Abort()
			return
		}
		subject, err := token.Claims.GetSubject()
		if err != nil || subject == "" {
			response.Fail(c, 401, "authentication_failed", "Authentication failed", "token carries no subject")
			c.Abort()
			return
		}

		c.Set(ContextAccount, subject)
		c.Next()
	}
}

// Account returns the authenticated account id set by Bearer, or "" when
// the middleware did not run on this route.
func Account(c *gin.Context) string {
	v, ok := c.Get(ContextAccount)
	if !ok {
		return ""
	}
	account, _ := v.(string)
	return account
}
