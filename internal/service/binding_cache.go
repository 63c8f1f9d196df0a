package service

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/showgrounds/startnumber-service/internal/model"
)

// BindingCache is a Redis lookaside cache for printed-number lookups.
// Marshals and signage scan bibs far more often than numbers change,
// so resolved bindings are cached and explicitly invalidated whenever
// a release or override retires a display string.  With a nil Redis
// client the cache degrades to a no-op and every lookup hits the
// database.
type BindingCache struct {
	rdb *redis.Client
	ttl time.Duration
}

// NewBindingCache wraps the given client.  rdb may be nil.
func NewBindingCache(rdb *redis.Client, ttl time.Duration) *BindingCache {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &BindingCache{rdb: rdb, ttl: ttl}
}

func bindingKey(display string) string { return "binding:" + display }

// Get returns the cached assignment for a display string, or ok=false
// on miss, decode failure or Redis unavailability.
func (c *BindingCache) Get(ctx context.Context, display string) (*model.StartNumberAssignment, bool) {
	if c == nil || c.rdb == nil {
		return nil, false
	}
	raw, err := c.rdb.Get(ctx, bindingKey(display)).Bytes()
	if err != nil {
		return nil, false
	}
	var a model.StartNumberAssignment
	if err := json.Unmarshal(raw, &a); err != nil {
		// Stale encoding from an older build; drop it.
		_ = c.rdb.Del(ctx, bindingKey(display)).Err()
		return nil, false
	}
	return &a, true
}

// Set stores the resolved assignment under its display string.
func (c *BindingCache) Set(ctx context.Context, a *model.StartNumberAssignment) {
	if c == nil || c.rdb == nil || a == nil {
		return
	}
	raw, err := json.Marshal(a)
	if err != nil {
		return
	}
	_ = c.rdb.Set(ctx, bindingKey(a.DisplayNumber), raw, c.ttl).Err()
}

// Invalidate drops cached bindings for the given display strings.
// Called after release and override so scanners never see a retired
// binding for longer than one failed lookup.
func (c *BindingCache) Invalidate(ctx context.Context, displays ...string) {
	if c == nil || c.rdb == nil || len(displays) == 0 {
		return
	}
	keys := make([]string, 0, len(displays))
	for _, d := range displays {
		if d != "" {
			keys = append(keys, bindingKey(d))
		}
	}
	if len(keys) > 0 {
		_ = c.rdb.Del(ctx, keys...).Err()
	}
}
