package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"go.uber.org/fx"

	"github.com/openconf/authhub/internal/build"
	"github.com/openconf/authhub/internal/contexts"
)

type SystemHandlersParams struct {
	fx.In

	Redis redis.UniversalClient `optional:"true"`
}

func NewSystemHandlers(params SystemHandlersParams) *SystemHandlers {
	return &SystemHandlers{Redis: params.Redis}
}

type SystemHandlers struct {
	Redis redis.UniversalClient
}

// Health reports liveness plus the health of the cache backend. The
// service can still answer auth requests without redis, so a failed
// ping degrades the report instead of failing it.
func (h *SystemHandlers) Health(c *gin.Context) {
	ctx := c.Request.Context()

	cache := "ok"

	if h.Redis != nil {
		if err := h.Redis.Ping(ctx).Err(); err != nil {
			contexts.AddError(ctx, err)

			cache = "unavailable"
		}
	}

	c.JSON(http.StatusOK, gin.H{
		"status": "ok",
		"cache":  cache,
	})
}

// Version reports build information.
func (h *SystemHandlers) Version(c *gin.Context) {
	c.JSON(http.StatusOK, build.GetBuildInfo())
}
