package router // package router defines how HTTP routes are registered for the API

import (
	"github.com/labstack/echo/v4"
	"github.com/redis/go-redis/v9"

	"github.com/showgrounds/startnumber-service/internal/config"
	"github.com/showgrounds/startnumber-service/internal/handler"
	"github.com/showgrounds/startnumber-service/internal/middleware"
	"github.com/showgrounds/startnumber-service/internal/model"
)

// RegisterRoutes registers routes that do not require authentication on
// the provided Echo instance.  Currently it exposes only a health check.
func RegisterRoutes(e *echo.Echo) {
	e.GET("/healthz", handler.Health)
}

// RegisterAuth registers the login endpoint and the authenticated /v1/me
// probe.  Unauthenticated operations live under /v1/auth, protected
// endpoints under /v1.
func RegisterAuth(e *echo.Echo, a *handler.AuthHandler, jwtSecret string) {
	g := e.Group("/v1/auth")
	g.POST("/login", a.Login)

	auth := e.Group("/v1", middleware.JWTAuth(jwtSecret))
	auth.GET("/me", a.Me)
}

// RegisterStartNumbers registers the allocation endpoints under /v1.
// All routes require a valid JWT; mutations additionally pass the Redis
// token-bucket rate limiter, and override requires the ADMIN role.
func RegisterStartNumbers(e *echo.Echo, h *handler.StartNumberHandler, jwtSecret string, rl config.RateLimitConfig, rdb *redis.Client) {
	g := e.Group("/v1", middleware.JWTAuth(jwtSecret))
	limited := middleware.NewTokenBucket(rl, rdb)

	// ---- Allocation ----
	g.POST("/events/:id/start-numbers", h.Assign, limited)
	g.DELETE("/start-numbers/:id", h.Release, limited)
	g.POST("/start-numbers/:id/lock", h.Lock, limited)
	g.POST("/events/:id/start-numbers/override", h.Override,
		middleware.RequireRole(model.RoleAdmin), limited)

	// ---- Simulation ----
	g.POST("/events/:id/start-numbers/validate", h.Validate)
	g.GET("/events/:id/start-numbers/preview", h.Preview)
	g.GET("/events/:id/numbering-rule", h.EffectiveRule)

	// ---- Bindings ----
	g.GET("/bindings/:display", h.ResolveBinding)
}
