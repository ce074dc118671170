package config

import (
    "os"
    "strconv"
    "strings"
    "time"
)

// Lookup helpers: an unset, empty or unparsable variable yields the default.

func envStr(key, def string) string {
    if v := strings.TrimSpace(os.Getenv(key)); v != "" {
        return v
    }
    return def
}

func envBool(key string, def bool) bool {
    switch strings.ToLower(envStr(key, "")) {
    case "1", "true", "yes", "on":
        return true
    case "0", "false", "no", "off":
        return false
    default:
        return def
    }
}

func envInt(key string, def int) int {
    n, err := strconv.Atoi(envStr(key, ""))
    if err != nil {
        return def
    }
    return n
}

func envDur(key string, def time.Duration) time.Duration {
    d, err := time.ParseDuration(envStr(key, ""))
    if err != nil {
        return def
    }
    return d
}

func atLeast[T int | time.Duration](v, min T) T {
    if v < min {
        return min
    }
    return v
}
