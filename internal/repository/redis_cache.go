package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/choiwab/promptsmith/internal/domain"
	"github.com/choiwab/promptsmith/internal/logging"
)

// RedisHistoryCache wraps a Repository and mirrors ListHistory pages into
// Redis, the same "cache in front of the source of truth" shape as the
// teacher's RedisStateStore in orchestration/workflow_state.go. A cache
// miss or Redis error always falls through to the wrapped Repository, so
// Redis unavailability degrades latency, not correctness.
type RedisHistoryCache struct {
	Repository
	client *redis.Client
	ttl    time.Duration
	log    logging.Logger
}

// NewRedisHistoryCache wraps repo with a Redis-backed history cache. addr
// is a standard "host:port" Redis address.
func NewRedisHistoryCache(repo Repository, addr string, log logging.Logger) *RedisHistoryCache {
	if log == nil {
		log = logging.NoOp{}
	}
	return &RedisHistoryCache{
		Repository: repo,
		client:     redis.NewClient(&redis.Options{Addr: addr}),
		ttl:        5 * time.Minute,
		log:        log.With("repository.redis_history_cache"),
	}
}

type historyPage struct {
	Items      []*domain.Commit `json:"items"`
	NextCursor string           `json:"next_cursor"`
}

func (c *RedisHistoryCache) cacheKey(projectID string, limit int, cursor string) string {
	return fmt.Sprintf("promptsmith:history:%s:%d:%s", projectID, limit, cursor)
}

// ListHistory serves from Redis when a fresh page is cached, otherwise
// delegates to the wrapped Repository and populates the cache. Writes that
// invalidate history (commit creation, subtree delete) are not mirrored
// here on purpose: the TTL bounds staleness instead, since the spec's
// cursor pagination only needs "newest first" consistency within a single
// poll loop, not linearizability across writers.
func (c *RedisHistoryCache) ListHistory(ctx context.Context, projectID string, limit int, cursor string) ([]*domain.Commit, string, error) {
	key := c.cacheKey(projectID, limit, cursor)

	if data, err := c.client.Get(ctx, key).Bytes(); err == nil {
		var page historyPage
		if jsonErr := json.Unmarshal(data, &page); jsonErr == nil {
			return page.Items, page.NextCursor, nil
		}
	}

	items, next, err := c.Repository.ListHistory(ctx, projectID, limit, cursor)
	if err != nil {
		return nil, "", err
	}

	if data, err := json.Marshal(historyPage{Items: items, NextCursor: next}); err == nil {
		if err := c.client.Set(ctx, key, data, c.ttl).Err(); err != nil {
			c.log.WarnContext(ctx, "history cache write failed", map[string]interface{}{"error": err.Error()})
		}
	}
	return items, next, nil
}
