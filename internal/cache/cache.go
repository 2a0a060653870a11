package cache

import (
	"context"
	"time"

	"fueldesk/backend/internal/domain"
)

// StatsCache holds the latest stats snapshot of each unit. Writers invalidate
// after every ledger mutation; readers repopulate on miss.
type StatsCache interface {
	Get(ctx context.Context, unit domain.BusinessUnit) (*domain.StatsSnapshot, bool, error)
	Set(ctx context.Context, unit domain.BusinessUnit, value *domain.StatsSnapshot, ttl time.Duration) error
	Invalidate(ctx context.Context, unit domain.BusinessUnit) error
}

type NoopStatsCache struct{}

func (NoopStatsCache) Get(_ context.Context, _ domain.BusinessUnit) (*domain.StatsSnapshot, bool, error) {
	return nil, false, nil
}

func (NoopStatsCache) Set(_ context.Context, _ domain.BusinessUnit, _ *domain.StatsSnapshot, _ time.Duration) error {
	return nil
}

func (NoopStatsCache) Invalidate(_ context.Context, _ domain.BusinessUnit) error {
	return nil
}
