// Package ratelimit guards the login endpoint against brute force.
//
// The login Limiter counts attempts per key inside a fixed window.  Check
// admits an attempt and counts it at once, so a burst of parallel requests
// cannot all slip past before their failures are recorded.  The admitted
// attempt is then settled by RecordFailure (it stays counted), RecordSuccess
// (the key is cleared) or Release (it is handed back, for attempts that ended
// without a verdict).  Once failures plus unsettled attempts reach the
// threshold every further attempt is denied until the window that started
// with the first attempt ends, whether or not it would have succeeded.
//
// Two backends share these semantics: Memory keeps the table in process
// (lost on restart) and Redis shares it between replicas.
package ratelimit

import (
	"context"
	"errors"
	"strings"
	"time"
)

// ErrUnavailable wraps backend failures.  Callers must treat it as a denial.
var ErrUnavailable = errors.New("rate limiter unavailable")

// Decision is the outcome of Check.  RetryAfter is set only on denials.
type Decision struct {
	Allowed    bool
	RetryAfter time.Time
}

// Limiter is the attempt-based lockout used by the login handler.
type Limiter interface {
	Check(ctx context.Context, key string) (Decision, error)
	RecordFailure(ctx context.Context, key string) error
	RecordSuccess(ctx context.Context, key string) error
	Release(ctx context.Context, key string) error
}

// Policy is the threshold and window shared by every backend.
type Policy struct {
	MaxAttempts int
	Window      time.Duration
}

// Key modes understood by Key.
const (
	KeyIdentifier       = "identifier"
	KeyIdentifierOrigin = "identifier_origin"
)

// Key builds the limiter key for a login attempt.  The identifier-only mode
// is the default: the origin value is client-influenced (X-Forwarded-For),
// so mixing it in would let an attacker reset their budget by rotating it.
// Origin throttling is left to the coarse per-origin bucket.
func Key(mode, identifier, origin string) string {
	id := strings.ToLower(strings.TrimSpace(identifier))
	if mode != KeyIdentifierOrigin {
		return "id:" + id
	}
	if origin == "" {
		origin = "unknown"
	}
	return "id:" + id + ":origin:" + origin
}
