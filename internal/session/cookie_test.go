package session

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/require"
)

func newCtx(req *http.Request) (echo.Context, *httptest.ResponseRecorder) {
	rec := httptest.NewRecorder()
	return echo.New().NewContext(req, rec), rec
}

func TestCookieTransport_Attach(t *testing.T) {
	now := time.Date(2026, 10, 16, 10, 0, 0, 0, time.UTC)
	tr := NewCookieTransport("auth-token", true, "strict")
	tr.now = func() time.Time { return now }

	c, rec := newCtx(httptest.NewRequest(http.MethodPost, "/", nil))
	tr.Attach(c, Token{Value: "abc", ExpiresAt: now.Add(2 * time.Hour)})

	res := rec.Result()
	cookies := res.Cookies()
	require.Len(t, cookies, 1)
	ck := cookies[0]
	require.Equal(t, "auth-token", ck.Name)
	require.Equal(t, "abc", ck.Value)
	require.True(t, ck.HttpOnly)
	require.True(t, ck.Secure)
	require.Equal(t, http.SameSiteStrictMode, ck.SameSite)
	require.Equal(t, 7200, ck.MaxAge)
	require.Equal(t, "/", ck.Path)
}

func TestCookieTransport_Clear(t *testing.T) {
	tr := NewCookieTransport("auth-token", false, "lax")
	c, rec := newCtx(httptest.NewRequest(http.MethodPost, "/", nil))
	tr.Clear(c)

	header := rec.Header().Get("Set-Cookie")
	require.Contains(t, header, "auth-token=;")
	require.Contains(t, header, "Max-Age=0")
	require.Contains(t, header, "HttpOnly")
	require.Contains(t, header, "SameSite=Lax")
}

func TestCookieTransport_Read(t *testing.T) {
	tr := NewCookieTransport("auth-token", false, "")

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	c, _ := newCtx(req)
	_, ok := tr.Read(c)
	require.False(t, ok)

	req = httptest.NewRequest(http.MethodGet, "/", nil)
	req.AddCookie(&http.Cookie{Name: "auth-token", Value: "tok"})
	c, _ = newCtx(req)
	v, ok := tr.Read(c)
	require.True(t, ok)
	require.Equal(t, "tok", v)
}
