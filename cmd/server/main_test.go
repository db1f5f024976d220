package main

import (
	"testing"

	"farmstall/backend/internal/cache"
	"farmstall/backend/internal/config"
)

func TestAuthSecretFallback(t *testing.T) {
	secret := authSecret(&config.Config{})
	if len(secret) != 32 {
		t.Fatalf("ephemeral secret length = %d, want 32", len(secret))
	}

	configured := authSecret(&config.Config{AuthSecret: "super-secret"})
	if string(configured) != "super-secret" {
		t.Fatalf("configured secret = %q", configured)
	}
}

func TestOpenStatsCache(t *testing.T) {
	if _, ok := openStatsCache(&config.Config{}).(cache.NoopStatsCache); !ok {
		t.Fatal("expected noop cache without redis address")
	}
	if _, ok := openStatsCache(&config.Config{RedisAddr: "localhost:6379"}).(*cache.RedisStatsCache); !ok {
		t.Fatal("expected redis cache with redis address")
	}
}
