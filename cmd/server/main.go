package main

import (
	"context"
	"database/sql"
	"errors"
	"log"
	"net/http"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	glog "github.com/labstack/gommon/log"
	"github.com/redis/go-redis/v9"

	"github.com/iliyamo/waitlist-admin/internal/config"
	"github.com/iliyamo/waitlist-admin/internal/credential"
	"github.com/iliyamo/waitlist-admin/internal/database"
	"github.com/iliyamo/waitlist-admin/internal/handler"
	"github.com/iliyamo/waitlist-admin/internal/metrics"
	"github.com/iliyamo/waitlist-admin/internal/middleware"
	"github.com/iliyamo/waitlist-admin/internal/queue"
	"github.com/iliyamo/waitlist-admin/internal/ratelimit"
	"github.com/iliyamo/waitlist-admin/internal/repository"
	"github.com/iliyamo/waitlist-admin/internal/router"
	"github.com/iliyamo/waitlist-admin/internal/session"
)

func main() {
	cfg := config.Load()
	loginCfg := config.LoadLoginLimitConfig()
	rlCfg := config.LoadRateLimitConfig()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	e := echo.New()
	e.HideBanner = true
	e.Logger.SetLevel(logLevel(cfg.LogLevel))
	e.Use(echomw.Recover())

	health := &handler.HealthHandler{Deps: map[string]handler.Pinger{}}

	// Account store: MySQL when configured, otherwise in memory.
	var store repository.AccountStore
	if cfg.UseDatabase() {
		db, err := database.Open(cfg.DBUser, cfg.DBPass, cfg.DBHost, cfg.DBPort, cfg.DBName)
		if err != nil {
			log.Fatalf("database: %v", err)
		}
		defer db.Close()
		if err := database.EnsureSchema(ctx, db); err != nil {
			log.Fatalf("database: %v", err)
		}
		store = repository.NewAccountRepo(db)
		health.Deps["mysql"] = pingDB(db)
	} else {
		log.Printf("DB_HOST not set; using in-memory account store")
		store = repository.NewMemoryAccountRepo()
	}

	creds, err := credential.NewAdapter(store, cfg.BcryptCost)
	if err != nil {
		log.Fatal(err)
	}
	created, err := creds.EnsureBootstrapAdmin(ctx, cfg.Bootstrap.Email, cfg.Bootstrap.Name, cfg.Bootstrap.Password)
	if err != nil {
		log.Fatalf("bootstrap admin: %v", err)
	}
	if created {
		log.Printf("bootstrap super admin %s created", cfg.Bootstrap.Email)
	}

	// Redis backs the shared login limiter and the per-origin bucket.
	var rdb *redis.Client
	if loginCfg.Backend == "redis" || rlCfg.Enabled {
		rdb, err = config.NewRedisClient(config.LoadRedisConfig())
		if err != nil {
			log.Printf("redis: %v (login limiter fails closed, origin throttle fails open)", err)
		}
		defer rdb.Close()
		health.Deps["redis"] = handler.PingerFunc(func(ctx context.Context) error { return rdb.Ping(ctx).Err() })
	}

	policy := ratelimit.Policy{MaxAttempts: loginCfg.MaxAttempts, Window: loginCfg.Window}
	var limiter ratelimit.Limiter
	if loginCfg.Backend == "redis" {
		limiter = ratelimit.NewRedis(rdb, policy, loginCfg.Prefix)
	} else {
		mem := ratelimit.NewMemory(policy)
		go mem.RunSweeper(ctx, time.Minute)
		limiter = mem
	}
	var throttle echo.MiddlewareFunc
	if rdb != nil {
		throttle = middleware.NewOriginThrottle(rlCfg, ratelimit.NewBucket(rdb, ratelimit.BucketConfig{
			Capacity:       rlCfg.Capacity,
			RefillTokens:   rlCfg.RefillTokens,
			RefillInterval: rlCfg.RefillInterval,
			TTL:            rlCfg.TTL,
		}))
	} else {
		throttle = middleware.NewOriginThrottle(rlCfg, nil)
	}

	m := metrics.New()
	e.Use(middleware.RequestMetrics(m))

	opts := handler.AuthOptions{
		TTL:           cfg.Session.TTL,
		KeyMode:       loginCfg.KeyMode,
		LockoutWindow: loginCfg.Window,
		Metrics:       m,
	}
	if cfg.Audit.Enabled {
		pub := queue.NewAMQPPublisher(cfg.Audit.URL)
		defer pub.Close()
		async := queue.NewAsyncPublisher(pub, 256)
		go async.Run(ctx)
		go func() {
			if err := queue.StartLoginConsumer(ctx, cfg.Audit.URL, "logs"); err != nil && !errors.Is(err, context.Canceled) {
				log.Printf("audit consumer stopped: %v", err)
			}
		}()
		opts.Audit = async
	}

	sess := session.Authenticator{
		Tokens:   session.NewTokenService(cfg.Session.Secret, cfg.Session.ClockSkew),
		Cookies:  session.NewCookieTransport(cfg.Session.CookieName, cfg.Session.CookieSecure, cfg.Session.SameSite),
		Accounts: creds,
	}
	auth := handler.NewAuthHandler(creds, limiter, sess, opts)

	router.RegisterRoutes(e, health, m)
	router.RegisterAuth(e, auth, throttle)

	addr := ":" + cfg.Port
	log.Printf("listening on %s (env=%s, limiter=%s, key=%s)", addr, cfg.Env, loginCfg.Backend, loginCfg.KeyMode)
	go func() {
		if err := e.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal(err)
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		log.Printf("shutdown: %v", err)
	}
	log.Printf("server stopped")
}

func pingDB(db *sql.DB) handler.Pinger {
	return handler.PingerFunc(db.PingContext)
}

func logLevel(s string) glog.Lvl {
	switch strings.ToLower(s) {
	case "debug":
		return glog.DEBUG
	case "warn", "warning":
		return glog.WARN
	case "error":
		return glog.ERROR
	case "off":
		return glog.OFF
	default:
		return glog.INFO
	}
}
