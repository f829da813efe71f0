package infrastructure

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const profileKeyPrefix = "recommend:profile:cv:"

type profileFetcher interface {
	BatchFetch(ctx context.Context, ids []string) (map[string]json.RawMessage, error)
}

// CachedProfiles is a Redis read-through cache in front of the recruit service's batched
// profile lookup. Redis errors fall back to the recruit service; a failed lookup still returns
// whatever was cached.
type CachedProfiles struct {
	rdb    *goredis.Client
	next   profileFetcher
	ttl    time.Duration
	logger *zap.Logger
}

// NewRedisClient connects to addr and verifies the connection.
func NewRedisClient(ctx context.Context, addr string) (*goredis.Client, error) {
	addr = strings.TrimSpace(addr)
	if addr == "" {
		return nil, fmt.Errorf("redis address is required")
	}
	rdb := goredis.NewClient(&goredis.Options{
		Addr:        addr,
		DialTimeout: 5 * time.Second,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return rdb, nil
}

func NewCachedProfiles(rdb *goredis.Client, next profileFetcher, ttl time.Duration, logger *zap.Logger) *CachedProfiles {
	return &CachedProfiles{rdb: rdb, next: next, ttl: ttl, logger: logger.Named("profile_cache")}
}

func (c *CachedProfiles) BatchFetch(ctx context.Context, ids []string) (map[string]json.RawMessage, error) {
	out := make(map[string]json.RawMessage, len(ids))
	if len(ids) == 0 {
		return out, nil
	}

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = profileKeyPrefix + id
	}

	missing := ids
	cached, err := c.rdb.MGet(ctx, keys...).Result()
	if err != nil {
		c.logger.Warn("profile cache read failed", zap.Error(err))
	} else {
		missing = make([]string, 0, len(ids))
		for i, v := range cached {
			s, ok := v.(string)
			if !ok || s == "" {
				missing = append(missing, ids[i])
				continue
			}
			out[ids[i]] = json.RawMessage(s)
		}
	}
	if len(missing) == 0 {
		return out, nil
	}

	fetched, err := c.next.BatchFetch(ctx, missing)
	if err != nil {
		if len(out) == 0 {
			return nil, err
		}
		c.logger.Warn("profile lookup failed, serving cached profiles only",
			zap.Int("cached", len(out)), zap.Int("missing", len(missing)), zap.Error(err))
		return out, nil
	}

	pipe := c.rdb.Pipeline()
	for id, profile := range fetched {
		out[id] = profile
		pipe.Set(ctx, profileKeyPrefix+id, string(profile), c.ttl)
	}
	if len(fetched) > 0 {
		if _, err := pipe.Exec(ctx); err != nil {
			c.logger.Warn("profile cache write failed", zap.Error(err))
		}
	}
	return out, nil
}
