package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"sentra.org/internal/authz"
	"sentra.org/internal/cache"
	"sentra.org/internal/config"
	"sentra.org/internal/httpapi"
	"sentra.org/internal/iam"
	"sentra.org/internal/obs"
	"sentra.org/internal/session"
	"sentra.org/internal/store/pg"
)

var (
	version = "0.3.0"
	commit  = "dev"
)

func main() {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	obs.Init()
	obs.InitBuildInfo(version, commit)

	if cfg.PostgresDSN == "" {
		log.Fatal("SENTRA_PG_DSN is required")
	}
	store, err := pg.Open(cfg.PostgresDSN)
	if err != nil {
		log.Fatalf("open postgres: %v", err)
	}
	defer store.Close()

	// The permission cache tolerates a missing backend, so Redis is
	// optional; without it every closure lookup hits Postgres.
	var backend cache.Cache
	if cfg.RedisAddr != "" {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		redisCache, err := cache.Open(ctx, cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		cancel()
		if err != nil {
			log.Fatalf("open redis: %v", err)
		}
		backend = redisCache
	}

	signer, err := session.NewJWTSigner(cfg.JWTSecret, cfg.Issuer, cfg.AccessTTL)
	if err != nil {
		log.Fatalf("token signer: %v", err)
	}

	sessions, err := session.NewService(store, store, store, store, signer,
		session.WithLockoutPolicy(session.LockoutPolicy{
			Threshold: cfg.LockoutThreshold,
			Duration:  cfg.LockoutDuration,
		}),
		session.WithRefreshTTL(cfg.RefreshTTL),
	)
	if err != nil {
		log.Fatalf("session service: %v", err)
	}

	permCache := authz.NewPermissionCache(backend, store, cfg.PermissionCacheTTL)
	access, err := authz.NewAuthorizer(store, permCache)
	if err != nil {
		log.Fatalf("authorizer: %v", err)
	}

	directory, err := iam.NewService(store, permCache, iam.WithBcryptCost(cfg.BcryptCost))
	if err != nil {
		log.Fatalf("iam service: %v", err)
	}

	api := httpapi.New(
		httpapi.ReadyProbe{DB: store.DB()},
		version,
		sessions,
		access,
		directory,
		httpapi.WithRateLimit(cfg.RateBurst, cfg.RatePerSecond),
	)

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           api.Handler(),
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	log.Printf("Starting sentra-api %s on %s", version, srv.Addr)

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("listen: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	<-stop
	log.Println("Shutting down...")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	_ = srv.Shutdown(ctx)
	log.Println("Stopped")
}
