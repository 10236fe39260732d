package identity

import (
	"context"
	"log"
	"strconv"
	"time"

	"github.com/shoplium/shoplium/internal/pkg/cache"
	"github.com/shoplium/shoplium/internal/pkg/env"
)

const planCacheKeyPrefix = "identity:plan:"

// CachedProvider wraps a Provider with a Redis read-through cache for plan
// lookups. Writes go straight to the underlying provider and invalidate the
// cached entry, so a stale plan survives at most one TTL.
type CachedProvider struct {
	inner Provider
	ttl   time.Duration
}

func NewCachedProvider(inner Provider) *CachedProvider {
	ttl := 5 * time.Minute
	if raw := env.GetEnv("IDENTITY_PLAN_CACHE_TTL_SECONDS", ""); raw != "" {
		if secs, err := strconv.Atoi(raw); err == nil && secs > 0 {
			ttl = time.Duration(secs) * time.Second
		}
	}
	return &CachedProvider{inner: inner, ttl: ttl}
}

func (c *CachedProvider) GetPlan(ctx context.Context, userID string) (string, error) {
	key := planCacheKeyPrefix + userID
	if plan, err := cache.Get(key); err == nil && plan != "" {
		return plan, nil
	} else if err != nil && !cache.IsNotFound(err) {
		log.Printf("[Identity] plan cache read failed for %s: %v", userID, err)
	}

	plan, err := c.inner.GetPlan(ctx, userID)
	if err != nil {
		return "", err
	}

	if err := cache.Set(key, plan, c.ttl); err != nil {
		log.Printf("[Identity] plan cache write failed for %s: %v", userID, err)
	}
	return plan, nil
}

func (c *CachedProvider) SetPlan(ctx context.Context, userID, plan string) error {
	if err := c.inner.SetPlan(ctx, userID, plan); err != nil {
		return err
	}
	if err := cache.Delete(planCacheKeyPrefix + userID); err != nil {
		log.Printf("[Identity] plan cache invalidation failed for %s: %v", userID, err)
	}
	return nil
}
