package middleware

import (
	"crypto/subtle"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
)

// HeaderEventSecret authenticates invalidation webhooks from the data
// layer's event triggers.
const HeaderEventSecret = "X-Event-Secret"

// WithEventSecret rejects requests whose shared secret header does not
// match. An empty configured secret disables the routes entirely rather
// than leaving them open.
func WithEventSecret(secret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if secret == "" {
			AbortWithError(c, http.StatusServiceUnavailable, errors.New("event secret is not configured"))
			return
		}

		provided := c.GetHeader(HeaderEventSecret)
		if subtle.ConstantTimeCompare([]byte(provided), []byte(secret)) != 1 {
			AbortWithError(c, http.StatusUnauthorized, errors.New("invalid event secret"))
			return
		}

		c.Next()
	}
}
