// Package cache provides optional caching for the reporting aggregator.
package cache

import (
	"context"

	"farmstall/backend/internal/domain"
)

// StatsCache stores computed range statistics keyed by the report window.
// Implementations must treat a miss as (nil, nil).
type StatsCache interface {
	Get(ctx context.Context, key string) (*domain.RangeStats, error)
	Set(ctx context.Context, key string, stats *domain.RangeStats) error
}

// NoopStatsCache satisfies StatsCache without storing anything. Used when no
// Redis address is configured.
type NoopStatsCache struct{}

func (NoopStatsCache) Get(ctx context.Context, key string) (*domain.RangeStats, error) {
	return nil, nil
}

func (NoopStatsCache) Set(ctx context.Context, key string, stats *domain.RangeStats) error {
	return nil
}
