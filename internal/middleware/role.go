package middleware

import (
	"net/http"

	"github.com/labstack/echo/v4"
)

// RequireRole lets the request through only when SessionAuth stored one of
// roles for the caller.  Anonymous callers get 401, others 403.
func RequireRole(roles ...string) echo.MiddlewareFunc {
	allowed := make(map[string]bool, len(roles))
	for _, r := range roles {
		allowed[r] = true
	}
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			role, ok := c.Get(ctxRole).(string)
			if !ok {
				return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthenticated"})
			}
			if !allowed[role] {
				c.Logger().Warnf("forbidden: account=%s role=%s path=%s", accountLabel(c), role, c.Path())
				return c.JSON(http.StatusForbidden, echo.Map{"error": "forbidden"})
			}
			return next(c)
		}
	}
}
