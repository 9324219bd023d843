package cache

import (
	"context"
	"time"

	"kasirdapur/backend/internal/domain"
)

type StatsCache interface {
	Get(ctx context.Context, key string) (*domain.SalesStats, bool, error)
	Set(ctx context.Context, key string, value *domain.SalesStats, ttl time.Duration) error
}

type NoopStatsCache struct{}

func (NoopStatsCache) Get(_ context.Context, _ string) (*domain.SalesStats, bool, error) {
	return nil, false, nil
}

func (NoopStatsCache) Set(_ context.Context, _ string, _ *domain.SalesStats, _ time.Duration) error {
	return nil
}
