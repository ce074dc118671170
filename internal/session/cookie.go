package session

import (
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
)

// CookieTransport carries the token in a single HttpOnly cookie.
type CookieTransport struct {
	Name     string
	Secure   bool
	SameSite http.SameSite
	now      func() time.Time
}

// NewCookieTransport maps the configured SameSite string ("lax" or
// "strict") onto http.SameSite; anything else becomes Lax.
func NewCookieTransport(name string, secure bool, sameSite string) CookieTransport {
	ss := http.SameSiteLaxMode
	if sameSite == "strict" {
		ss = http.SameSiteStrictMode
	}
	return CookieTransport{Name: name, Secure: secure, SameSite: ss, now: time.Now}
}

func (t CookieTransport) clock() time.Time {
	if t.now == nil {
		return time.Now()
	}
	return t.now()
}

// Attach sets the session cookie; it expires together with the token.
func (t CookieTransport) Attach(c echo.Context, tok Token) {
	maxAge := int(tok.ExpiresAt.Sub(t.clock()).Seconds())
	if maxAge < 1 {
		maxAge = 1
	}
	c.SetCookie(&http.Cookie{
		Name:     t.Name,
		Value:    tok.Value,
		Path:     "/",
		Expires:  tok.ExpiresAt.UTC(),
		MaxAge:   maxAge,
		HttpOnly: true,
		Secure:   t.Secure,
		SameSite: t.SameSite,
	})
}

// Clear overwrites the cookie with an empty, already expired one.
func (t CookieTransport) Clear(c echo.Context) {
	c.SetCookie(&http.Cookie{
		Name:     t.Name,
		Value:    "",
		Path:     "/",
		Expires:  time.Unix(0, 0).UTC(),
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   t.Secure,
		SameSite: t.SameSite,
	})
}

// Read returns the raw token from the request cookie, if any.
func (t CookieTransport) Read(c echo.Context) (string, bool) {
	ck, err := c.Cookie(t.Name)
	if err != nil || ck.Value == "" {
		return "", false
	}
	return ck.Value, true
}
