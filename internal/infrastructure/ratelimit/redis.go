package ratelimit

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const windowKeyTpl = "essay:ratelimit:%s" // essay:ratelimit:${key}

// RedisStore shares windows between processes using one sorted set per key,
// scored by request time in microseconds.
type RedisStore struct {
	redis *redis.Client
}

func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{redis: client}
}

func (s *RedisStore) Admit(ctx context.Context, key string, now time.Time, window time.Duration, limit int) (Admission, error) {
	zkey := fmt.Sprintf(windowKeyTpl, key)
	cutoff := now.Add(-window).UnixMicro()

	pipe := s.redis.TxPipeline()
	pipe.ZRemRangeByScore(ctx, zkey, "-inf", strconv.FormatInt(cutoff, 10))
	count := pipe.ZCard(ctx, zkey)
	oldest := pipe.ZRangeWithScores(ctx, zkey, 0, 0)
	if _, err := pipe.Exec(ctx); err != nil {
		return Admission{}, fmt.Errorf("read window: %w", err)
	}

	n := int(count.Val())
	oldestAt := now
	if entries := oldest.Val(); len(entries) > 0 {
		oldestAt = time.UnixMicro(int64(entries[0].Score))
	}
	if n >= limit {
		return Admission{Allowed: false, Count: n, Oldest: oldestAt}, nil
	}

	pipe = s.redis.TxPipeline()
	pipe.ZAdd(ctx, zkey, redis.Z{Score: float64(now.UnixMicro()), Member: uuid.NewString()})
	pipe.Expire(ctx, zkey, window)
	if _, err := pipe.Exec(ctx); err != nil {
		return Admission{}, fmt.Errorf("record request: %w", err)
	}
	return Admission{Allowed: true, Count: n + 1, Oldest: oldestAt}, nil
}
