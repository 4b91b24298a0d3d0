package api

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

// requireClientKey checks the X-Api-Key header against want, matching
// spec.md §6's `X-API-Key` auth column for the dispatch surface. An empty
// want disables the check (single-tenant local deployments).
func requireClientKey(want string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if want == "" {
			c.Next()
			return
		}
		got := c.GetHeader("x-api-key")
		if got == "" {
			got = bearerToken(c.GetHeader("Authorization"))
		}
		if subtle.ConstantTimeCompare([]byte(got), []byte(want)) != 1 {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": gin.H{"kind": "invalid_auth", "message": "missing or invalid api key"}})
			return
		}
		c.Next()
	}
}

// requireAdminToken checks `Authorization: Bearer <token>` against want,
// matching spec.md §6's "Admin Bearer" auth column. An empty want closes
// the admin surface entirely rather than leaving it open.
func requireAdminToken(want string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if want == "" || subtle.ConstantTimeCompare([]byte(bearerToken(c.GetHeader("Authorization"))), []byte(want)) != 1 {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": gin.H{"kind": "invalid_auth", "message": "missing or invalid admin token"}})
			return
		}
		c.Next()
	}
}

func bearerToken(header string) string {
	const prefix = "Bearer "
	if !strings.HasPrefix(header, prefix) {
		return ""
	}
	return strings.TrimPrefix(header, prefix)
}
