package main

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"farmstall/backend/internal/cache"
	"farmstall/backend/internal/config"
	"farmstall/backend/internal/httpapi"
	"farmstall/backend/internal/service"
	"farmstall/backend/internal/store"
	"farmstall/backend/internal/store/memory"
	"farmstall/backend/internal/store/postgres"
)

const version = "1.0.0"

func main() {
	if err := run(); err != nil {
		log.Fatalf("[server] FATAL: %v", err)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	repo, cleanup, err := openRepository(ctx, cfg)
	if err != nil {
		return err
	}
	defer cleanup()

	statsCache := openStatsCache(cfg)

	svc := service.New(repo, statsCache, cfg.DefaultMarkupPercent, cfg.BarcodePrefix)
	if err := svc.EnsureDefaults(ctx); err != nil {
		return err
	}

	auth := httpapi.NewAuthManager(repo, authSecret(cfg), cfg.AccessTokenTTL)
	if err := auth.SeedFirstAdmin(ctx, cfg.AdminUser, cfg.AdminPass); err != nil {
		return err
	}

	api := httpapi.New(svc, auth, repo, cfg.AdminToken, cfg.AllowedOrigin, version)

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           api.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Printf("[server] listening on %s", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	log.Printf("[server] shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func openRepository(ctx context.Context, cfg *config.Config) (store.Repository, func(), error) {
	if cfg.DatabaseURL == "" {
		log.Printf("[server] WARN: DATABASE_URL not set, using in-memory store")
		return memory.NewSeeded(), func() {}, nil
	}

	pg, err := postgres.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, nil, err
	}
	if err := pg.Migrate(ctx); err != nil {
		_ = pg.Close()
		return nil, nil, err
	}
	return pg, func() { _ = pg.Close() }, nil
}

func openStatsCache(cfg *config.Config) cache.StatsCache {
	if cfg.RedisAddr == "" {
		return cache.NoopStatsCache{}
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	return cache.NewRedisStatsCache(client, cfg.StatsCacheTTL)
}

// authSecret returns the configured signing secret, or an ephemeral random
// one. The random fallback invalidates every token on restart.
func authSecret(cfg *config.Config) []byte {
	if cfg.AuthSecret != "" {
		return []byte(cfg.AuthSecret)
	}
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		log.Fatalf("[server] FATAL: generate auth secret: %v", err)
	}
	log.Printf("[server] WARN: AUTH_SECRET not set, using ephemeral secret (prefix %s)", hex.EncodeToString(buf[:4]))
	return buf
}
