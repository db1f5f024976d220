// Package config loads server settings from the environment, with an optional
// .env file for local development.
package config

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
)

type Config struct {
	Port          string
	AllowedOrigin string

	// DatabaseURL empty means the in-memory store.
	DatabaseURL string

	RedisAddr     string
	RedisPassword string
	RedisDB       int
	StatsCacheTTL time.Duration

	AuthSecret     string
	AccessTokenTTL time.Duration

	// AdminUser/AdminPass seed the first admin account when the user table
	// is empty.
	AdminUser string
	AdminPass string

	// AdminToken gates the CSV export endpoints. Empty disables them.
	AdminToken string

	DefaultMarkupPercent decimal.Decimal
	BarcodePrefix        string
}

func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.Printf("[config] WARN: .env not loaded: %v", err)
	}

	cfg := &Config{
		Port:          getenv("PORT", "8080"),
		AllowedOrigin: getenv("ALLOWED_ORIGIN", "*"),
		DatabaseURL:   os.Getenv("DATABASE_URL"),
		RedisAddr:     os.Getenv("REDIS_ADDR"),
		RedisPassword: os.Getenv("REDIS_PASSWORD"),
		AuthSecret:    os.Getenv("AUTH_SECRET"),
		AdminUser:     getenv("ADMIN_USER", "admin"),
		AdminPass:     os.Getenv("ADMIN_PASS"),
		AdminToken:    os.Getenv("ADMIN_TOKEN"),
		BarcodePrefix: getenv("BARCODE_PREFIX", "200"),
	}

	redisDB, err := getint("REDIS_DB", 0)
	if err != nil {
		return nil, err
	}
	cfg.RedisDB = redisDB

	ttlMinutes, err := getint("ACCESS_TOKEN_TTL_MINUTES", 720)
	if err != nil {
		return nil, err
	}
	if ttlMinutes <= 0 {
		return nil, fmt.Errorf("ACCESS_TOKEN_TTL_MINUTES must be positive, got %d", ttlMinutes)
	}
	cfg.AccessTokenTTL = time.Duration(ttlMinutes) * time.Minute

	cacheSeconds, err := getint("STATS_CACHE_TTL_SECONDS", 30)
	if err != nil {
		return nil, err
	}
	if cacheSeconds < 0 {
		return nil, fmt.Errorf("STATS_CACHE_TTL_SECONDS must not be negative, got %d", cacheSeconds)
	}
	cfg.StatsCacheTTL = time.Duration(cacheSeconds) * time.Second

	markup := getenv("DEFAULT_MARKUP_PERCENT", "20")
	parsed, err := decimal.NewFromString(markup)
	if err != nil || parsed.IsNegative() {
		return nil, fmt.Errorf("DEFAULT_MARKUP_PERCENT must be a non-negative number, got %q", markup)
	}
	cfg.DefaultMarkupPercent = parsed

	return cfg, nil
}

func getenv(key string, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getint(key string, fallback int) (int, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("%s must be an integer, got %q", key, raw)
	}
	return n, nil
}
