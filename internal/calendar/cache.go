package calendar

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

// Cache stores per-day answers. found is false on a miss.
type Cache interface {
	Get(ctx context.Context, day string) (open bool, found bool, err error)
	Set(ctx context.Context, day string, open bool) error
}

// MemoryCache keeps answers in process memory.
type MemoryCache struct {
	mu   sync.RWMutex
	days map[string]bool
}

func NewMemoryCache() *MemoryCache {
	return &MemoryCache{days: map[string]bool{}}
}

func (m *MemoryCache) Get(_ context.Context, day string) (bool, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	open, ok := m.days[day]
	return open, ok, nil
}

func (m *MemoryCache) Set(_ context.Context, day string, open bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.days[day] = open
	return nil
}

// RedisCache stores answers as "1"/"0" strings under prefix+day with a TTL.
type RedisCache struct {
	rdb    *redis.Client
	prefix string
	ttl    time.Duration
}

// NewRedisCache creates a cache. An empty prefix defaults to "qdii:calendar:", a zero ttl to 48h.
func NewRedisCache(rdb *redis.Client, prefix string, ttl time.Duration) *RedisCache {
	if prefix == "" {
		prefix = "qdii:calendar:"
	}
	if ttl <= 0 {
		ttl = 48 * time.Hour
	}
	return &RedisCache{rdb: rdb, prefix: prefix, ttl: ttl}
}

func (c *RedisCache) Get(ctx context.Context, day string) (bool, bool, error) {
	v, err := c.rdb.Get(ctx, c.prefix+day).Result()
	if errors.Is(err, redis.Nil) {
		return false, false, nil
	}
	if err != nil {
		return false, false, err
	}
	return v == "1", true, nil
}

func (c *RedisCache) Set(ctx context.Context, day string, open bool) error {
	v := "0"
	if open {
		v = "1"
	}
	return c.rdb.Set(ctx, c.prefix+day, v, c.ttl).Err()
}

// Cached puts a per-day cache in front of an oracle. Cache errors fall through to the source.
type Cached struct {
	Source Oracle
	Cache  Cache
}

func NewCached(source Oracle, cache Cache) *Cached {
	return &Cached{Source: source, Cache: cache}
}

func (c *Cached) IsTradingDay(ctx context.Context, date time.Time) (bool, error) {
	day := DayKey(date)
	open, found, err := c.Cache.Get(ctx, day)
	if err != nil {
		log.Warn().Err(err).Str("day", day).Msg("calendar cache read failed")
	} else if found {
		return open, nil
	}

	open, err = c.Source.IsTradingDay(ctx, date)
	if err != nil {
		return false, err
	}
	if err := c.Cache.Set(ctx, day, open); err != nil {
		log.Warn().Err(err).Str("day", day).Msg("calendar cache write failed")
	}
	return open, nil
}

// Refresh recomputes the answer for date from the source and overwrites the cache.
func (c *Cached) Refresh(ctx context.Context, date time.Time) (bool, error) {
	open, err := c.Source.IsTradingDay(ctx, date)
	if err != nil {
		return false, err
	}
	if err := c.Cache.Set(ctx, DayKey(date), open); err != nil {
		return open, err
	}
	return open, nil
}
