package middleware

// Helpers shared by middleware and handlers for reading who is calling.

import (
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/waitlist-admin/internal/model"
)

const (
	ctxAccount   = "account"
	ctxAccountID = "account_id"
	ctxRole      = "role"
)

func setAccount(c echo.Context, acct model.Account) {
	c.Set(ctxAccount, acct)
	c.Set(ctxAccountID, acct.ID)
	c.Set(ctxRole, acct.Role)
}

// CurrentAccount returns the account SessionAuth attached to c.
func CurrentAccount(c echo.Context) (model.Account, bool) {
	acct, ok := c.Get(ctxAccount).(model.Account)
	return acct, ok
}

// Origin is the client address used for throttling and audit events.
func Origin(c echo.Context) string {
	if ip := c.RealIP(); ip != "" {
		return ip
	}
	return "unknown"
}

// accountLabel names the caller in logs: the account id, or "guest".
func accountLabel(c echo.Context) string {
	if id, ok := c.Get(ctxAccountID).(uint64); ok && id != 0 {
		return strconv.FormatUint(id, 10)
	}
	return "guest"
}
