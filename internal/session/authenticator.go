package session

import (
	"context"
	"errors"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/waitlist-admin/internal/model"
	"github.com/iliyamo/waitlist-admin/internal/repository"
)

// ErrNoSession is returned when the request carries no session cookie.
var ErrNoSession = errors.New("no session")

// AccountLoader reloads the account a token was issued for.  It must
// report missing and inactive accounts as repository.ErrAccountNotFound.
type AccountLoader interface {
	ActiveAccountByID(ctx context.Context, id uint64) (model.Account, error)
}

// Authenticator turns a request cookie into the current account.  The
// account is fetched again on every call so deactivation takes effect on
// sessions issued before it.
type Authenticator struct {
	Tokens   *TokenService
	Cookies  CookieTransport
	Accounts AccountLoader
}

// Authenticate resolves the session of the request in c.
func (a Authenticator) Authenticate(ctx context.Context, c echo.Context) (model.Account, error) {
	raw, ok := a.Cookies.Read(c)
	if !ok {
		return model.Account{}, ErrNoSession
	}
	claims, err := a.Tokens.Verify(raw)
	if err != nil {
		return model.Account{}, err
	}
	return a.Accounts.ActiveAccountByID(ctx, claims.AccountID)
}

// IsUnauthenticated reports whether err means "no valid session" rather
// than an infrastructure failure.
func IsUnauthenticated(err error) bool {
	return errors.Is(err, ErrNoSession) ||
		errors.Is(err, ErrInvalidToken) ||
		errors.Is(err, ErrTokenExpired) ||
		errors.Is(err, repository.ErrAccountNotFound)
}
