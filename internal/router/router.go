package router

import (
	"github.com/labstack/echo/v4"

	"github.com/iliyamo/waitlist-admin/internal/handler"
	"github.com/iliyamo/waitlist-admin/internal/metrics"
	"github.com/iliyamo/waitlist-admin/internal/middleware"
	"github.com/iliyamo/waitlist-admin/internal/model"
)

// RegisterRoutes registers the unauthenticated operational endpoints:
// liveness, readiness and, when m is non-nil, prometheus metrics.
func RegisterRoutes(e *echo.Echo, health *handler.HealthHandler, m *metrics.Metrics) {
	e.GET("/healthz", handler.Health)
	if health != nil {
		e.GET("/readyz", health.Ready)
	}
	if m != nil {
		e.GET("/metrics", echo.WrapHandler(m.Handler()))
	}
}

// RegisterAuth mounts the session endpoints under /v1/auth, plus the
// super_admin-only account routes.  Logout sits outside the per-origin
// throttle so that it always succeeds.
//
//	POST /v1/auth/login     establish a session
//	POST /v1/auth/logout    clear the session cookie
//	GET  /v1/auth/me        who-am-I
//	POST /v1/auth/register  bootstrap or super_admin account creation
//	POST /v1/admins/:id/deactivate
func RegisterAuth(e *echo.Echo, a *handler.AuthHandler, throttle echo.MiddlewareFunc) {
	e.POST("/v1/auth/logout", a.Logout)

	g := e.Group("/v1/auth", throttle)
	g.POST("/login", a.Login)
	g.GET("/me", a.Me)
	g.POST("/register", a.Register, middleware.SessionAuth(a.Session, false))

	admins := e.Group("/v1/admins",
		middleware.SessionAuth(a.Session, true),
		middleware.RequireRole(model.RoleSuperAdmin),
	)
	admins.POST("/:id/deactivate", a.Deactivate)
}
