package handler

import (
	"context"
	"errors"
	"math"
	"net/http"
	"net/mail"
	"strconv"
	"strings"
	"sync"
	"time"
	"unicode"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/waitlist-admin/internal/credential"
	"github.com/iliyamo/waitlist-admin/internal/metrics"
	"github.com/iliyamo/waitlist-admin/internal/middleware"
	"github.com/iliyamo/waitlist-admin/internal/model"
	"github.com/iliyamo/waitlist-admin/internal/queue"
	"github.com/iliyamo/waitlist-admin/internal/ratelimit"
	"github.com/iliyamo/waitlist-admin/internal/repository"
	"github.com/iliyamo/waitlist-admin/internal/session"
)

// msgInvalidCredentials is the one message for every rejected login.
const msgInvalidCredentials = "invalid identifier or secret"

// maxSecretBytes is bcrypt's input limit.
const maxSecretBytes = 72

// AuthOptions carries the tunables and optional collaborators of AuthHandler.
type AuthOptions struct {
	TTL     time.Duration // session lifetime
	KeyMode string        // ratelimit.KeyIdentifier or ratelimit.KeyIdentifierOrigin
	// LockoutWindow is reported as the retry delay when the limiter backend
	// is unavailable and the attempt is refused.
	LockoutWindow time.Duration
	Audit         queue.Recorder   // optional
	Metrics       *metrics.Metrics // optional
}

// AuthHandler bundles dependencies for auth endpoints.
type AuthHandler struct {
	Creds   *credential.Adapter
	Limiter ratelimit.Limiter
	Session session.Authenticator
	Opts    AuthOptions

	now         func() time.Time
	bootstrapMu sync.Mutex
}

func NewAuthHandler(creds *credential.Adapter, limiter ratelimit.Limiter, sess session.Authenticator, opts AuthOptions) *AuthHandler {
	if opts.TTL <= 0 {
		opts.TTL = 24 * time.Hour
	}
	if opts.LockoutWindow <= 0 {
		opts.LockoutWindow = 15 * time.Minute
	}
	return &AuthHandler{Creds: creds, Limiter: limiter, Session: sess, Opts: opts, now: time.Now}
}

// ----- DTOs -----

// loginReq accepts the email/password spelling as well.
type loginReq struct {
	Identifier string `json:"identifier"`
	Secret     string `json:"secret"`
	Email      string `json:"email"`
	Password   string `json:"password"`
}

func (r loginReq) credentials() (string, string) {
	id, secret := r.Identifier, r.Secret
	if id == "" {
		id = r.Email
	}
	if secret == "" {
		secret = r.Password
	}
	return repository.NormalizeIdentifier(id), secret
}

type registerReq struct {
	loginReq
	Name string `json:"name"`
	Role string `json:"role"`
}

// Login: lockout check, credential check, then token + cookie.
func (h *AuthHandler) Login(c echo.Context) error {
	var req loginReq
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid body"})
	}
	identifier, secret := req.credentials()
	if identifier == "" || secret == "" {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "identifier and secret are required"})
	}

	ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()

	origin := middleware.Origin(c)
	key := ratelimit.Key(h.Opts.KeyMode, identifier, origin)

	dec, err := h.Limiter.Check(ctx, key)
	if err != nil {
		c.Logger().Errorf("login limiter check failed for %q: %v", identifier, err)
		h.audit(identifier, origin, metrics.OutcomeRateLimited, "limiter_unavailable")
		return h.rateLimited(c, h.now().Add(h.Opts.LockoutWindow))
	}
	if !dec.Allowed {
		c.Logger().Warnf("login refused for %q from %s: rate_limited", identifier, origin)
		h.audit(identifier, origin, metrics.OutcomeRateLimited, "rate_limited")
		return h.rateLimited(c, dec.RetryAfter)
	}

	acct, failure, err := h.Creds.Authenticate(ctx, identifier, secret)
	if errors.Is(err, credential.ErrInvalidCredentials) {
		if ferr := h.Limiter.RecordFailure(ctx, key); ferr != nil {
			c.Logger().Errorf("login limiter record failure for %q: %v", identifier, ferr)
		}
		c.Logger().Warnf("login failed for %q from %s: %s", identifier, origin, failure)
		h.audit(identifier, origin, metrics.OutcomeInvalid, string(failure))
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": msgInvalidCredentials})
	}
	if err != nil {
		if rerr := h.Limiter.Release(ctx, key); rerr != nil {
			c.Logger().Warnf("login limiter release for %q: %v", identifier, rerr)
		}
		c.Logger().Errorf("login lookup for %q: %v", identifier, err)
		h.audit(identifier, origin, metrics.OutcomeError, "store_error")
		return internalError(c)
	}

	if err := h.Limiter.RecordSuccess(ctx, key); err != nil {
		c.Logger().Warnf("login limiter reset for %q: %v", identifier, err)
	}
	if updated, err := h.Creds.RecordSuccessfulLogin(ctx, acct); err != nil {
		c.Logger().Warnf("%v", err)
	} else {
		acct = updated
	}

	tok, err := h.Session.Tokens.Issue(session.Identity{
		AccountID:  acct.ID,
		Identifier: acct.Identifier,
		Role:       acct.Role,
	}, h.Opts.TTL)
	if err != nil {
		c.Logger().Errorf("issue token for account %d: %v", acct.ID, err)
		h.audit(identifier, origin, metrics.OutcomeError, "token_error")
		return internalError(c)
	}
	h.Session.Cookies.Attach(c, tok)
	h.audit(identifier, origin, metrics.OutcomeSuccess, "")

	return c.JSON(http.StatusOK, echo.Map{
		"message": "logged in",
		"account": acct.Summary(),
	})
}

// Logout always succeeds and leaves the client without a usable cookie.
func (h *AuthHandler) Logout(c echo.Context) error {
	h.Session.Cookies.Clear(c)
	return c.JSON(http.StatusOK, echo.Map{"message": "logged out"})
}

// Me is the who-am-I endpoint the client state machine polls.
func (h *AuthHandler) Me(c echo.Context) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()

	acct, err := h.Session.Authenticate(ctx, c)
	if err != nil {
		if session.IsUnauthenticated(err) {
			if !errors.Is(err, session.ErrNoSession) {
				h.Session.Cookies.Clear(c)
			}
			return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthenticated"})
		}
		c.Logger().Errorf("who-am-i: %v", err)
		return internalError(c)
	}
	return c.JSON(http.StatusOK, echo.Map{"account": acct.Summary()})
}

// Register creates an account.  The first account is created without a
// session and becomes super_admin; afterwards only a super_admin may add
// accounts.  Expects SessionAuth(…, false) in front of it.
func (h *AuthHandler) Register(c echo.Context) error {
	var req registerReq
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid body"})
	}
	identifier, secret := req.credentials()
	name := strings.TrimSpace(req.Name)
	if msg := validateRegistration(identifier, secret, name); msg != "" {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": msg})
	}
	role := strings.ToLower(strings.TrimSpace(req.Role))
	if role != model.RoleSuperAdmin {
		role = model.RoleAdmin
	}

	ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()

	// Serialises the empty-store check with the insert below.
	h.bootstrapMu.Lock()
	defer h.bootstrapMu.Unlock()

	n, err := h.Creds.AccountCount(ctx)
	if err != nil {
		c.Logger().Errorf("register: count accounts: %v", err)
		return internalError(c)
	}
	if n == 0 {
		role = model.RoleSuperAdmin
	} else {
		caller, ok := middleware.CurrentAccount(c)
		if !ok {
			return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthenticated"})
		}
		if caller.Role != model.RoleSuperAdmin {
			return c.JSON(http.StatusForbidden, echo.Map{"error": "forbidden"})
		}
	}

	acct, err := h.Creds.CreateAccount(ctx, identifier, name, role, secret)
	if err != nil {
		if errors.Is(err, repository.ErrIdentifierExists) {
			return c.JSON(http.StatusConflict, echo.Map{"error": "identifier already exists"})
		}
		c.Logger().Errorf("register %q: %v", identifier, err)
		return internalError(c)
	}
	c.Logger().Infof("account %d (%s) created with role %s", acct.ID, acct.Identifier, acct.Role)
	return c.JSON(http.StatusCreated, echo.Map{"account": acct.Summary()})
}

// Deactivate clears an account's active flag (super_admin only).
func (h *AuthHandler) Deactivate(c echo.Context) error {
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil || id == 0 {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid id"})
	}
	if caller, ok := middleware.CurrentAccount(c); ok && caller.ID == id {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "cannot deactivate your own account"})
	}

	ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()

	if err := h.Creds.Deactivate(ctx, id); err != nil {
		if errors.Is(err, repository.ErrAccountNotFound) {
			return c.JSON(http.StatusNotFound, echo.Map{"error": "account not found"})
		}
		c.Logger().Errorf("deactivate account %d: %v", id, err)
		return internalError(c)
	}
	return c.JSON(http.StatusOK, echo.Map{"message": "account deactivated"})
}

// rateLimited writes the 429 for a refusal lasting until retryAt.
func (h *AuthHandler) rateLimited(c echo.Context, retryAt time.Time) error {
	h.Opts.Metrics.LoginAttempt(metrics.OutcomeRateLimited)
	secs := int(math.Ceil(retryAt.Sub(h.now()).Seconds()))
	if secs < 1 {
		secs = 1
	}
	c.Response().Header().Set("Retry-After", strconv.Itoa(secs))
	return c.JSON(http.StatusTooManyRequests, echo.Map{
		"error":       "too many login attempts",
		"retry_after": secs,
		"reset_at":    retryAt.UTC().Format(time.RFC3339),
	})
}

// audit records the attempt in metrics and, when configured, on the queue.
// Rate-limited attempts are counted by rateLimited.
func (h *AuthHandler) audit(identifier, origin, outcome, reason string) {
	if outcome != metrics.OutcomeRateLimited {
		h.Opts.Metrics.LoginAttempt(outcome)
	}
	if h.Opts.Audit == nil {
		return
	}
	h.Opts.Audit.Record(queue.LoginEvent{
		Identifier: identifier,
		Origin:     origin,
		Outcome:    outcome,
		Reason:     reason,
		At:         h.now().UTC(),
	})
}

func internalError(c echo.Context) error {
	return c.JSON(http.StatusInternalServerError, echo.Map{"error": "internal server error"})
}

func validateRegistration(identifier, secret, name string) string {
	if identifier == "" || secret == "" || name == "" {
		return "name, identifier and secret are required"
	}
	if addr, err := mail.ParseAddress(identifier); err != nil || addr.Address != identifier {
		return "identifier must be a valid email address"
	}
	if len(secret) < 8 {
		return "secret must be at least 8 characters"
	}
	if len(secret) > maxSecretBytes {
		return "secret must be at most 72 bytes"
	}
	var letter, digit bool
	for _, r := range secret {
		switch {
		case unicode.IsLetter(r):
			letter = true
		case unicode.IsDigit(r):
			digit = true
		}
	}
	if !letter || !digit {
		return "secret must contain a letter and a digit"
	}
	return ""
}
