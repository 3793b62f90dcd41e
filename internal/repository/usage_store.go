package repository

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"MarketSync/internal/domain/models"
	"MarketSync/internal/domain/repository"
	"MarketSync/pkg/cache"
)

const usageKey = "usage:ledger"

// Ledger snapshots only need to outlive a restart, not a budget month twice
// over; the TTL just keeps abandoned keys from lingering forever.
const usageTTL = 62 * 24 * time.Hour

// CacheUsageStore persists ledger snapshots through the cache service, which
// in production is Redis-backed and survives process restarts.
type CacheUsageStore struct {
	cache cache.Service
}

// NewCacheUsageStore creates a usage store over the given cache.
func NewCacheUsageStore(c cache.Service) repository.UsageStore {
	return &CacheUsageStore{cache: c}
}

func (s *CacheUsageStore) Load(ctx context.Context) (*models.UsageSnapshot, error) {
	var raw []byte
	if err := s.cache.Get(ctx, usageKey, &raw); err != nil {
		if errors.Is(err, cache.ErrCacheMiss) {
			return nil, nil
		}
		return nil, err
	}

	var snap models.UsageSnapshot
	if err := json.Unmarshal(raw, &snap); err != nil {
		return nil, err
	}
	return &snap, nil
}

func (s *CacheUsageStore) Save(ctx context.Context, snap *models.UsageSnapshot) error {
	raw, err := json.Marshal(snap)
	if err != nil {
		return err
	}
	return s.cache.Set(ctx, usageKey, raw, usageTTL)
}
