// Package api is the HTTP client for the session endpoints.  It keeps the
// session cookie in a cookie jar and maps responses onto the error
// taxonomy the client state machine needs: "no session" and "bad
// credentials" are distinct from transport failures.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/iliyamo/waitlist-admin/internal/model"
)

var (
	ErrUnauthenticated    = errors.New("unauthenticated")
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrRateLimited        = errors.New("rate limited")
	ErrValidation         = errors.New("validation failed")
	// ErrTransport covers network failures, 5xx answers and bodies that do
	// not parse.  It never means "logged out".
	ErrTransport = errors.New("transport error")
)

// RateLimitedError carries the server's retry hint.  It matches
// ErrRateLimited with errors.Is.
type RateLimitedError struct {
	RetryAfter time.Duration
	ResetAt    time.Time
}

func (e *RateLimitedError) Error() string {
	return fmt.Sprintf("rate limited, retry in %s", e.RetryAfter)
}

func (e *RateLimitedError) Is(target error) bool { return target == ErrRateLimited }

// Client talks to one server.
type Client struct {
	base *url.URL
	http *http.Client
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the underlying client.  Its Jar is replaced by a
// fresh cookie jar when nil.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// New returns a client for baseURL (scheme and host, optional path prefix).
func New(baseURL string, opts ...Option) (*Client, error) {
	u, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("api: invalid base url %q", baseURL)
	}
	c := &Client{base: u, http: &http.Client{Timeout: 10 * time.Second}}
	for _, o := range opts {
		o(c)
	}
	if c.http.Jar == nil {
		jar, err := cookiejar.New(nil)
		if err != nil {
			return nil, err
		}
		c.http.Jar = jar
	}
	return c, nil
}

// Cookies returns the cookies the jar holds for the server.
func (c *Client) Cookies() []*http.Cookie { return c.http.Jar.Cookies(c.base) }

// SetCookies seeds the jar, e.g. from a saved session.
func (c *Client) SetCookies(cookies []*http.Cookie) { c.http.Jar.SetCookies(c.base, cookies) }

type errorBody struct {
	Error      string `json:"error"`
	RetryAfter int    `json:"retry_after"`
	ResetAt    string `json:"reset_at"`
}

type accountBody struct {
	Account *model.AccountSummary `json:"account"`
}

// WhoAmI returns the account of the current session.
func (c *Client) WhoAmI(ctx context.Context) (model.AccountSummary, error) {
	resp, err := c.do(ctx, http.MethodGet, "/v1/auth/me", nil)
	if err != nil {
		return model.AccountSummary{}, err
	}
	defer resp.Body.Close()
	switch {
	case resp.StatusCode == http.StatusOK:
		return decodeAccount(resp.Body)
	case resp.StatusCode == http.StatusUnauthorized:
		return model.AccountSummary{}, ErrUnauthenticated
	default:
		return model.AccountSummary{}, statusError(resp)
	}
}

// Login establishes a session; the jar keeps the cookie.
func (c *Client) Login(ctx context.Context, identifier, secret string) (model.AccountSummary, error) {
	body, err := json.Marshal(map[string]string{"identifier": identifier, "secret": secret})
	if err != nil {
		return model.AccountSummary{}, err
	}
	resp, err := c.do(ctx, http.MethodPost, "/v1/auth/login", body)
	if err != nil {
		return model.AccountSummary{}, err
	}
	defer resp.Body.Close()
	switch resp.StatusCode {
	case http.StatusOK:
		return decodeAccount(resp.Body)
	case http.StatusUnauthorized:
		return model.AccountSummary{}, ErrInvalidCredentials
	case http.StatusTooManyRequests:
		return model.AccountSummary{}, rateLimited(resp)
	case http.StatusBadRequest:
		var eb errorBody
		_ = json.NewDecoder(resp.Body).Decode(&eb)
		return model.AccountSummary{}, fmt.Errorf("%w: %s", ErrValidation, eb.Error)
	default:
		return model.AccountSummary{}, statusError(resp)
	}
}

// Logout asks the server to clear the cookie.
func (c *Client) Logout(ctx context.Context) error {
	resp, err := c.do(ctx, http.MethodPost, "/v1/auth/logout", nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return statusError(resp)
	}
	return nil
}

func (c *Client) do(ctx context.Context, method, path string, body []byte) (*http.Response, error) {
	var r io.Reader
	if body != nil {
		r = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.base.String()+path, r)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %s %s: %v", ErrTransport, method, path, err)
	}
	return resp, nil
}

func decodeAccount(r io.Reader) (model.AccountSummary, error) {
	var ab accountBody
	if err := json.NewDecoder(r).Decode(&ab); err != nil {
		return model.AccountSummary{}, fmt.Errorf("%w: decode account: %v", ErrTransport, err)
	}
	if ab.Account == nil || ab.Account.ID == 0 {
		return model.AccountSummary{}, fmt.Errorf("%w: response has no account", ErrTransport)
	}
	return *ab.Account, nil
}

func rateLimited(resp *http.Response) error {
	var eb errorBody
	_ = json.NewDecoder(resp.Body).Decode(&eb)
	e := &RateLimitedError{RetryAfter: time.Duration(eb.RetryAfter) * time.Second}
	if e.RetryAfter <= 0 {
		if secs, err := strconv.Atoi(resp.Header.Get("Retry-After")); err == nil {
			e.RetryAfter = time.Duration(secs) * time.Second
		}
	}
	if t, err := time.Parse(time.RFC3339, eb.ResetAt); err == nil {
		e.ResetAt = t
	}
	return e
}

// statusError turns any unexpected status into a transport error.
func statusError(resp *http.Response) error {
	return fmt.Errorf("%w: unexpected status %d", ErrTransport, resp.StatusCode)
}
