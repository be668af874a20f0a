package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"phishdetect/internal/domain"
)

// RedisStore caches terminal verdicts with a TTL so repeat checks across
// restarts skip postgres and the pipeline entirely.
type RedisStore struct {
	client *redis.Client
}

func NewRedisStore(addr string) *RedisStore {
	rdb := redis.NewClient(&redis.Options{Addr: addr})
	return &RedisStore{client: rdb}
}

func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func verdictKey(sessionID, urlHash string) string {
	return fmt.Sprintf("verdict:%s:%s", sessionID, urlHash)
}

// CacheVerdict records a terminal verdict with the given TTL. Non-terminal
// results are never cached here.
func (s *RedisStore) CacheVerdict(ctx context.Context, sessionID, urlHash string, result domain.Result, ttl time.Duration) error {
	if !result.Terminal() {
		return nil
	}
	return s.client.Set(ctx, verdictKey(sessionID, urlHash), string(result), ttl).Err()
}

// CachedVerdict returns a previously cached terminal verdict, or false when
// none exists (or redis is unavailable, which callers treat the same way).
func (s *RedisStore) CachedVerdict(ctx context.Context, sessionID, urlHash string) (domain.Result, bool) {
	val, err := s.client.Get(ctx, verdictKey(sessionID, urlHash)).Result()
	if err != nil {
		return "", false
	}
	return domain.Result(val), true
}
