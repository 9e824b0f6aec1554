package main

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"

	"tlr.org/internal/config"
	"tlr.org/internal/jobs"
	"tlr.org/internal/obs"
)

// deduper shares notification claims through Redis whenever it is reachable,
// so repeated runs skip mail already sent whether or not delivery is inline.
// The returned func closes the client.
func deduper(ctx context.Context, cfg config.RedisConfig, ttl time.Duration) (jobs.Deduper, func()) {
	if cfg.Addr == "" {
		obs.Warn("no redis configured, notifications are only deduplicated within this run", nil)
		return jobs.NewMemoryDeduper(), func() {}
	}
	rdb := redis.NewClient(&redis.Options{Addr: cfg.Addr, Password: cfg.Password, DB: cfg.DB})
	pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		obs.Warn("redis unreachable, notifications are only deduplicated within this run", map[string]any{
			"addr":  cfg.Addr,
			"error": err.Error(),
		})
		return jobs.NewMemoryDeduper(), func() {}
	}
	return jobs.NewRedisDeduper(rdb, ttl), func() { _ = rdb.Close() }
}
