package middleware

import (
	"context"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/waitlist-admin/internal/session"
)

// SessionAuth resolves the session cookie and stores the account in the
// request context (see CurrentAccount).  With required=false a missing or
// invalid session lets the request through anonymously; with required=true
// it is answered with 401.
func SessionAuth(auth session.Authenticator, required bool) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
			defer cancel()

			acct, err := auth.Authenticate(ctx, c)
			switch {
			case err == nil:
				setAccount(c, acct)
			case session.IsUnauthenticated(err):
				if required {
					return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthenticated"})
				}
			default:
				c.Logger().Errorf("session lookup: %v", err)
				return c.JSON(http.StatusInternalServerError, echo.Map{"error": "internal server error"})
			}
			return next(c)
		}
	}
}
