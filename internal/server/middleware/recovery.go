package middleware

import (
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/openconf/authhub/internal/log"
	"github.com/openconf/authhub/internal/objects"
)

// Recovery converts panics into a JSON 500 response instead of killing
// the connection.
func Recovery() gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if r := recover(); r != nil {
				err, ok := r.(error)
				if !ok {
					err = fmt.Errorf("panic: %v", r)
				}

				log.Error(c.Request.Context(), "panic recovered",
					log.String("path", c.Request.URL.Path),
					log.Cause(err),
					log.Stack("stack"),
				)

				c.AbortWithStatusJSON(http.StatusInternalServerError, objects.ErrorResponse{
					Error: objects.Error{
						Type:    http.StatusText(http.StatusInternalServerError),
						Message: "internal server error",
					},
				})
			}
		}()

		c.Next()
	}
}
