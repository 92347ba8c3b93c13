// Package auth gates the read-only HTTP status/metrics surface with a
// single shared-secret bearer token, per SPEC_FULL.md's reduction of the
// teacher's full RBAC service: this surface has no mutation endpoints,
// so roles/permissions/JWT/basic/client-secret negotiation has no
// component left to protect.
package auth

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

// Middleware checks every request's Authorization header against a single
// configured token. An empty Token disables the check entirely.
type Middleware struct {
	Token string
}

func New(token string) *Middleware { return &Middleware{Token: token} }

// GinAuth returns a Gin middleware enforcing the bearer token.
func (m *Middleware) GinAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		if m.Token == "" {
			c.Next()
			return
		}
		if !m.authenticate(c.Request) {
			c.JSON(http.StatusUnauthorized, gin.H{
				"error":   "authentication_failed",
				"message": "valid bearer token required",
			})
			c.Abort()
			return
		}
		c.Next()
	}
}

func (m *Middleware) authenticate(r *http.Request) bool {
	header := r.Header.Get("Authorization")
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(parts[1]), []byte(m.Token)) == 1
}
