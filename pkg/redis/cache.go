package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"
)

// Predefined TTLs
const (
	TTLShort  = 1 * time.Minute // 최신 봉
	TTLMedium = 5 * time.Minute // 가격 이력
	TTLLong   = 1 * time.Hour   // 일별 이력
)

// ErrorHandler 캐시 읽기/쓰기 실패 보고 (op: "get" | "set" | "delete")
type ErrorHandler func(op, key string, err error)

// Cache provides typed JSON caching with hit/miss accounting
// ⭐ SSOT: 가격 캐시 키/TTL은 여기서만
type Cache struct {
	client  *Client
	prefix  string
	onError ErrorHandler

	hits   atomic.Int64
	misses atomic.Int64
	errs   atomic.Int64
}

// CacheStats 누적 캐시 통계
type CacheStats struct {
	Hits    int64 `json:"hits"`
	Misses  int64 `json:"misses"`
	Errors  int64 `json:"errors"`
	Enabled bool  `json:"enabled"`
}

// NewCache creates a new cache helper
func NewCache(client *Client, prefix string) *Cache {
	return &Cache{
		client: client,
		prefix: prefix,
	}
}

// WithErrorHandler sets the callback for cache failures
func (c *Cache) WithErrorHandler(fn ErrorHandler) *Cache {
	c.onError = fn
	return c
}

func (c *Cache) key(key string) string {
	return fmt.Sprintf("%s:cache:%s", c.prefix, key)
}

func (c *Cache) report(op, key string, err error) {
	c.errs.Add(1)
	if c.onError != nil {
		c.onError(op, key, err)
	}
}

// Get retrieves a cached value; a miss is (false, nil)
func (c *Cache) Get(ctx context.Context, key string, dest interface{}) (bool, error) {
	if !c.client.Enabled() {
		return false, nil
	}

	data, err := c.client.Redis().Get(ctx, c.key(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		c.misses.Add(1)
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("cache get failed: %w", err)
	}

	if err := json.Unmarshal(data, dest); err != nil {
		return false, fmt.Errorf("cache unmarshal failed: %w", err)
	}

	c.hits.Add(1)
	return true, nil
}

// Set stores a value in cache with TTL
func (c *Cache) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	if !c.client.Enabled() {
		return nil
	}

	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("cache marshal failed: %w", err)
	}

	return c.client.Redis().Set(ctx, c.key(key), data, ttl).Err()
}

// Delete removes cached values
func (c *Cache) Delete(ctx context.Context, keys ...string) error {
	if !c.client.Enabled() || len(keys) == 0 {
		return nil
	}

	full := make([]string, len(keys))
	for i, k := range keys {
		full[i] = c.key(k)
	}
	return c.client.Redis().Del(ctx, full...).Err()
}

// Stats returns cumulative counters
func (c *Cache) Stats() CacheStats {
	return CacheStats{
		Hits:    c.hits.Load(),
		Misses:  c.misses.Load(),
		Errors:  c.errs.Load(),
		Enabled: c.client.Enabled(),
	}
}

// ReadThrough returns the cached value for key, or loads and caches it
// 캐시 실패는 ErrorHandler로만 보고하고 load 결과를 그대로 사용
// keep이 false를 반환하면 저장하지 않음 (빈 이력 등)
func ReadThrough[T any](
	ctx context.Context,
	c *Cache,
	key string,
	ttl time.Duration,
	load func(context.Context) (T, error),
	keep func(T) bool,
) (T, error) {
	var cached T
	if c != nil {
		hit, err := c.Get(ctx, key, &cached)
		if err != nil {
			c.report("get", key, err)
		} else if hit {
			return cached, nil
		}
	}

	v, err := load(ctx)
	if err != nil {
		return v, err
	}

	if c != nil && (keep == nil || keep(v)) {
		if err := c.Set(ctx, key, v, ttl); err != nil {
			c.report("set", key, err)
		}
	}
	return v, nil
}

// PriceHistoryKey 종목별 가격 이력 캐시 키
func PriceHistoryKey(instrument string) string {
	return fmt.Sprintf("price:history:%s", instrument)
}

// LatestBarsKey 종목별 최근 봉 캐시 키 (봉 수는 프로세스 설정으로 고정)
func LatestBarsKey(instrument string) string {
	return fmt.Sprintf("price:bars:%s", instrument)
}

// InstrumentKeys 종목의 모든 가격 캐시 키 (새 봉 유입 시 무효화용)
func InstrumentKeys(instrument string) []string {
	return []string{PriceHistoryKey(instrument), LatestBarsKey(instrument)}
}
