package config

// Redis backs the shared login limiter and the per-origin token bucket.

import (
    "context"
    "crypto/tls"
    "fmt"
    "net"
    "os"
    "time"

    "github.com/redis/go-redis/v9"
)

// RedisConfig is the connection target.  LoadRedisConfig resolves it from
// REDIS_ADDR, or REDIS_HOST plus REDIS_PORT (which win when both are set),
// falling back to localhost:6379; REDIS_PASSWORD, REDIS_DB and REDIS_TLS
// fill the rest.
type RedisConfig struct {
    Addr     string
    Password string
    DB       int
    TLS      bool
}

func LoadRedisConfig() RedisConfig {
    rc := RedisConfig{
        Addr:     envStr("REDIS_ADDR", "localhost:6379"),
        Password: os.Getenv("REDIS_PASSWORD"),
        DB:       envInt("REDIS_DB", 0),
        TLS:      envBool("REDIS_TLS", false),
    }
    if host, port := envStr("REDIS_HOST", ""), envStr("REDIS_PORT", ""); host != "" && port != "" {
        rc.Addr = net.JoinHostPort(host, port)
    }
    return rc
}

// NewRedisClient builds a client and pings it with a short timeout.  The
// client is returned even when the ping fails: go-redis reconnects lazily,
// so callers decide whether an unreachable server at startup is fatal,
// degrades a feature, or should be treated as a denial.
func NewRedisClient(rc RedisConfig) (*redis.Client, error) {
    var tlsConf *tls.Config
    if rc.TLS {
        tlsConf = &tls.Config{MinVersion: tls.VersionTLS12, ServerName: hostOf(rc.Addr)}
    }
    client := redis.NewClient(&redis.Options{
        Addr:      rc.Addr,
        Password:  rc.Password,
        DB:        rc.DB,
        TLSConfig: tlsConf,
    })
    ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
    defer cancel()
    if err := client.Ping(ctx).Err(); err != nil {
        return client, fmt.Errorf("redis ping %s: %w", rc.Addr, err)
    }
    return client, nil
}

func hostOf(addr string) string {
    host, _, err := net.SplitHostPort(addr)
    if err != nil {
        return addr
    }
    return host
}
