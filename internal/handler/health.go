package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
)

// Pinger reports whether a dependency is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// PingerFunc adapts a function to Pinger.
type PingerFunc func(ctx context.Context) error

func (f PingerFunc) Ping(ctx context.Context) error { return f(ctx) }

// HealthHandler serves liveness and readiness probes.
type HealthHandler struct {
	Deps map[string]Pinger // name -> dependency checked by Ready
}

// Health is the liveness probe used by load balancers; it never touches
// dependencies.
func Health(c echo.Context) error {
	return c.String(http.StatusOK, "ok")
}

// Ready pings every dependency and answers 503 if any of them is down.
func (h *HealthHandler) Ready(c echo.Context) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), 2*time.Second)
	defer cancel()

	status := http.StatusOK
	checks := make(map[string]string, len(h.Deps))
	for name, p := range h.Deps {
		if err := p.Ping(ctx); err != nil {
			c.Logger().Warnf("readiness: %s: %v", name, err)
			checks[name] = "down"
			status = http.StatusServiceUnavailable
			continue
		}
		checks[name] = "up"
	}
	return c.JSON(status, echo.Map{"checks": checks})
}
