package router

import (
	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/iliyamo/storefront-identity/internal/handler"
	"github.com/iliyamo/storefront-identity/internal/middleware"
)

// RegisterRoutes registers the unauthenticated operational endpoints.
func RegisterRoutes(e *echo.Echo, h *handler.HealthHandler, gatherer prometheus.Gatherer) {
	e.GET("/healthz", h.Health)
	e.GET("/readyz", h.Ready)
	if gatherer != nil {
		e.GET("/metrics", echo.WrapHandler(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))
	}
}

// RegisterAuth registers the credential endpoints. limit guards the ones an
// attacker could use to guess passwords or probe accounts.
func RegisterAuth(e *echo.Echo, a *handler.AuthHandler, tokens middleware.TokenDecoder, limit echo.MiddlewareFunc) {
	g := e.Group("/v1/auth")
	// Register is public; a signed-in actor may request a role.
	g.POST("/register", a.Register, middleware.OptionalAuth(tokens), limit)
	g.POST("/login", a.Login, limit)
	// Refresh decodes the possibly expired bearer token itself.
	g.POST("/refresh", a.Refresh)
	g.POST("/logout", a.Logout, middleware.JWTAuth(tokens))
	g.POST("/verify/request", a.RequestVerification, limit)
	g.POST("/verify", a.VerifyEmail, limit)

	auth := e.Group("/v1")
	auth.Use(middleware.JWTAuth(tokens))
	auth.GET("/me", a.Me)
}

// RegisterTickets registers the ticket endpoints. Reads are rate limited
// because access codes are short.
func RegisterTickets(e *echo.Echo, t *handler.TicketHandler, tokens middleware.TokenDecoder, limit echo.MiddlewareFunc) {
	g := e.Group("/v1/tickets")
	g.POST("", t.Create, middleware.OptionalAuth(tokens))
	g.GET("/:id", t.Get, middleware.OptionalAuth(tokens), limit)
	g.PATCH("/:id/status", t.UpdateStatus, middleware.JWTAuth(tokens), middleware.RequireElevated())
}
