package middleware

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
)

// ExtractBearerToken extracts the token from an Authorization header value.
// Returns empty string if the header is not a valid Bearer token.
func ExtractBearerToken(authHeader string) string {
	const prefix = "Bearer "
	if len(authHeader) < len(prefix) {
		return ""
	}
	if !strings.EqualFold(authHeader[:len(prefix)], prefix) {
		return ""
	}
	return strings.TrimSpace(authHeader[len(prefix):])
}

// AdminAuth returns a middleware that requires the shared admin secret as a
// bearer credential. The compare is constant-time; a single shared secret is
// the deliberate trust model for this small operator tool.
func AdminAuth(adminSecret string, logger zerolog.Logger) gin.HandlerFunc {
	log := logger.With().Str("component", "admin_auth").Logger()

	return func(c *gin.Context) {
		token := ExtractBearerToken(c.GetHeader("Authorization"))
		if token == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"message": "admin authentication required"})
			return
		}

		if subtle.ConstantTimeCompare([]byte(token), []byte(adminSecret)) != 1 {
			log.Warn().Str("client_ip", c.ClientIP()).Str("path", c.Request.URL.Path).Msg("invalid admin credential")
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"message": "invalid admin credential"})
			return
		}

		c.Next()
	}
}
