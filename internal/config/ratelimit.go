package config

import (
    "strings"
    "time"
)

// RateLimitConfig drives the coarse per-origin token bucket that sits in
// front of every /v1/auth route.  RATE_LIMIT_BURST and
// RATE_LIMIT_REFILL_EVERY are shorthands for capacity and a one-token
// refill interval.
type RateLimitConfig struct {
    Enabled        bool
    Capacity       int
    RefillTokens   int
    RefillInterval time.Duration
    TTL            time.Duration // bucket key expiry, at least five refills
    Prefix         string
    Debug          bool // log bucket errors and blocks
}

// LoginLimitConfig drives the attempt-based lockout in front of the
// credential check.
type LoginLimitConfig struct {
    MaxAttempts int           // failures tolerated inside Window
    Window      time.Duration // fixed window and lockout length
    Backend     string        // "memory" or "redis"
    KeyMode     string        // "identifier" or "identifier_origin"
    Prefix      string        // redis key prefix
}

func LoadRateLimitConfig() RateLimitConfig {
    rl := RateLimitConfig{
        Enabled:        envBool("RATE_LIMIT_ENABLED", true),
        Capacity:       envInt("RATE_LIMIT_BURST", envInt("RATE_LIMIT_CAPACITY", 30)),
        RefillTokens:   envInt("RATE_LIMIT_REFILL_TOKENS", 1),
        RefillInterval: envDur("RATE_LIMIT_REFILL_INTERVAL", 2*time.Second),
        TTL:            envDur("RATE_LIMIT_TTL", 10*time.Minute),
        Prefix:         envStr("RATE_LIMIT_PREFIX", "rl:auth"),
        Debug:          envBool("RATE_LIMIT_DEBUG", false),
    }
    if every := envDur("RATE_LIMIT_REFILL_EVERY", 0); every > 0 {
        rl.RefillTokens, rl.RefillInterval = 1, every
    }
    rl.Capacity = atLeast(rl.Capacity, 1)
    rl.RefillTokens = atLeast(rl.RefillTokens, 1)
    if rl.RefillInterval <= 0 {
        rl.RefillInterval = time.Second
    }
    rl.TTL = atLeast(rl.TTL, 5*rl.RefillInterval)
    return rl
}

func LoadLoginLimitConfig() LoginLimitConfig {
    ll := LoginLimitConfig{
        MaxAttempts: atLeast(envInt("LOGIN_MAX_ATTEMPTS", 5), 1),
        Window:      envDur("LOGIN_WINDOW", 15*time.Minute),
        Backend:     "memory",
        KeyMode:     "identifier",
        Prefix:      envStr("LOGIN_LIMIT_PREFIX", "login"),
    }
    if ll.Window <= 0 {
        ll.Window = 15 * time.Minute
    }
    if strings.EqualFold(envStr("LOGIN_LIMIT_BACKEND", ""), "redis") {
        ll.Backend = "redis"
    }
    if strings.EqualFold(envStr("LOGIN_LIMIT_KEY", ""), "identifier_origin") {
        ll.KeyMode = "identifier_origin"
    }
    return ll
}
