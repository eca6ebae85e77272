package server

import (
	"github.com/gin-contrib/cors"
	"go.uber.org/fx"

	"github.com/openconf/authhub/internal/server/api"
	"github.com/openconf/authhub/internal/server/middleware"
	cachesync "github.com/openconf/authhub/internal/server/sync"
)

type Handlers struct {
	fx.In

	System *api.SystemHandlers
	Auth   *api.AuthHandlers
	Sync   *cachesync.Handlers
}

func SetupRoutes(server *Server, handlers Handlers) {
	server.Use(middleware.AccessLog())
	server.Use(middleware.WithLoggingTracing(server.Config.Trace))

	if server.Config.CORS.Enabled {
		corsConfig := cors.DefaultConfig()
		corsConfig.AllowOrigins = server.Config.CORS.AllowedOrigins
		corsConfig.AllowMethods = server.Config.CORS.AllowedMethods
		corsConfig.AllowHeaders = server.Config.CORS.AllowedHeaders
		corsConfig.ExposeHeaders = server.Config.CORS.ExposedHeaders
		corsConfig.AllowCredentials = server.Config.CORS.AllowCredentials
		corsConfig.MaxAge = server.Config.CORS.MaxAge

		corsHandler := cors.New(corsConfig)
		server.Use(corsHandler)
		server.OPTIONS("*any", corsHandler)
	}

	publicGroup := server.Group("", middleware.WithTimeout(server.Config.RequestTimeout))
	{
		// Health and version - no authentication required
		publicGroup.GET("/healthz", handlers.System.Health)
		publicGroup.GET("/version", handlers.System.Version)

		// Auth webhook called by the row-level-security engine. The
		// engine forwards the original caller's headers in the body, so
		// the route itself carries no credential.
		publicGroup.POST("/auth", handlers.Auth.Authenticate)
	}

	syncGroup := server.Group("/cache/update",
		middleware.WithTimeout(server.Config.RequestTimeout),
		middleware.WithEventSecret(server.Config.EventSecret),
	)
	{
		syncGroup.POST("/conference", handlers.Sync.Conference)
		syncGroup.POST("/subconference", handlers.Sync.Subconference)
		syncGroup.POST("/registrant", handlers.Sync.Registrant)
		syncGroup.POST("/subconference_membership", handlers.Sync.SubconferenceMembership)
		syncGroup.POST("/user", handlers.Sync.User)
		syncGroup.POST("/room", handlers.Sync.Room)
		syncGroup.POST("/room_membership", handlers.Sync.RoomMembership)
	}
}
