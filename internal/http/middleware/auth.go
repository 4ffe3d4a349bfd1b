package middleware

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

// HeaderAPIKey carries the shared admin key.
const HeaderAPIKey = "X-API-Key"

const clientKey = "client"

// ClientFrom returns the authenticated client identity, or "".
func ClientFrom(c *gin.Context) string {
	v, _ := c.Get(clientKey)
	s, _ := v.(string)
	return s
}

// APIKey admits requests presenting key in X-API-Key or as a bearer token.
// The client identity recorded for logs and rate limiting is a short hash
// of the key, never the key itself.
func APIKey(key string) gin.HandlerFunc {
	sum := sha256.Sum256([]byte(key))
	id := "key:" + hex.EncodeToString(sum[:4])

	return func(c *gin.Context) {
		got := c.GetHeader(HeaderAPIKey)
		if got == "" {
			got = strings.TrimSpace(strings.TrimPrefix(c.GetHeader("Authorization"), "Bearer "))
		}
		if key == "" || subtle.ConstantTimeCompare([]byte(got), []byte(key)) != 1 {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"request_id": c.Writer.Header().Get(requestIDHeader),
				"code":       "unauthorized",
				"message":    "missing or invalid API key",
			})
			return
		}
		c.Set(clientKey, id)
		c.Next()
	}
}
