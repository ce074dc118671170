package session

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/iliyamo/waitlist-admin/internal/model"
	"github.com/iliyamo/waitlist-admin/internal/repository"
)

type loaderFunc func(ctx context.Context, id uint64) (model.Account, error)

func (f loaderFunc) ActiveAccountByID(ctx context.Context, id uint64) (model.Account, error) {
	return f(ctx, id)
}

func TestAuthenticator(t *testing.T) {
	now := time.Now().UTC()
	tokens := newService(time.Second, &now)
	cookies := NewCookieTransport("auth-token", false, "lax")
	tok := issue(t, tokens, time.Hour)

	active := loaderFunc(func(_ context.Context, id uint64) (model.Account, error) {
		return model.Account{ID: id, Identifier: "ops@example.com", Active: true}, nil
	})
	gone := loaderFunc(func(context.Context, uint64) (model.Account, error) {
		return model.Account{}, repository.ErrAccountNotFound
	})
	broken := loaderFunc(func(context.Context, uint64) (model.Account, error) {
		return model.Account{}, errors.New("db down")
	})

	request := func(cookie string) *http.Request {
		req := httptest.NewRequest(http.MethodGet, "/v1/auth/me", nil)
		if cookie != "" {
			req.AddCookie(&http.Cookie{Name: "auth-token", Value: cookie})
		}
		return req
	}

	tests := []struct {
		name   string
		cookie string
		loader AccountLoader
		unauth bool
		ok     bool
	}{
		{"valid session", tok.Value, active, false, true},
		{"no cookie", "", active, true, false},
		{"garbage cookie", "x.y.z", active, true, false},
		{"deactivated account", tok.Value, gone, true, false},
		{"store failure", tok.Value, broken, false, false},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			c, _ := newCtx(request(tc.cookie))
			a := Authenticator{Tokens: tokens, Cookies: cookies, Accounts: tc.loader}
			acct, err := a.Authenticate(context.Background(), c)
			if tc.ok {
				require.NoError(t, err)
				require.Equal(t, uint64(42), acct.ID)
				return
			}
			require.Error(t, err)
			require.Equal(t, tc.unauth, IsUnauthenticated(err))
		})
	}
}
