package api

import (
	"context"

	"github.com/gin-gonic/gin"
	"github.com/opentracing/opentracing-go"

	"github.com/credstack/credstack/api/handlers"
	"github.com/credstack/credstack/api/middleware"
	"github.com/credstack/credstack/internal/tracing"
	"github.com/credstack/credstack/services"
	"github.com/credstack/credstack/services/broadcast"
)

// RegisterRoutes sets up all API endpoints
func RegisterRoutes(ctx context.Context, r *gin.Engine, s *services.Services, apikey string) {
	if s == nil {
		panic("Services cannot be nil")
	}

	// Add recovery middlewares
	r.Use(gin.Recovery())
	r.Use(tracing.RecoveryWithJaeger(opentracing.GlobalTracer()))

	apiHandlers := handlers.InitHandlers(s)

	// Health check endpoint (no custom context needed)
	r.GET("/health", handlers.HealthCheck)

	apiKeyMiddleware := middleware.APIKeyMiddleware(middleware.APIKeyConfig{
		HeaderName:  "X-CREDSTACK-API-KEY",
		ValidAPIKey: apikey,
	})

	// API group with version and custom context
	api := r.Group("/v1")
	api.Use(apiKeyMiddleware)
	api.Use(middleware.UserIdMiddleware())
	api.Use(middleware.CustomContextMiddleware("credstack"))
	api.Use(middleware.TracingMiddleware())
	{
		// Vaulted account endpoints
		accounts := api.Group("/accounts")
		{
			accounts.GET("", apiHandlers.Accounts.List())
			accounts.POST("", apiHandlers.Accounts.Create())
			accounts.GET("/:id", apiHandlers.Accounts.Get())
			accounts.PUT("/:id", apiHandlers.Accounts.Update())
			accounts.DELETE("/:id", apiHandlers.Accounts.Delete())
			accounts.GET("/:id/reveal", apiHandlers.Accounts.Reveal())
			accounts.GET("/:id/otp", apiHandlers.Accounts.Otp())

			// Sharing endpoints
			accounts.GET("/:id/grants", apiHandlers.Grants.List())
			accounts.POST("/:id/grants", apiHandlers.Grants.Share())
			accounts.DELETE("/:id/grants/:userId", apiHandlers.Grants.Revoke())
		}

		// Mailbox link endpoints
		links := api.Group("/links")
		{
			links.GET("", apiHandlers.Links.List())
			links.POST("", apiHandlers.Links.Link())
			links.POST("/:id/deactivate", apiHandlers.Links.Deactivate())
			links.DELETE("/:id", apiHandlers.Links.Unlink())
		}

		// Live code delivery
		api.GET("/ws", broadcast.HandleWebSocket(s.Hub))
	}
}
