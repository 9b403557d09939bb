package redis

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wonny/aegis-risk/pkg/config"
)

func TestNewClient_Disabled(t *testing.T) {
	client, err := New(context.Background(), config.RedisConfig{Enabled: false})
	require.NoError(t, err)
	assert.False(t, client.Enabled())
	assert.NoError(t, client.Close())
}

func TestRateLimiter_Disabled(t *testing.T) {
	limiter := NewRateLimiter(Disabled(), "test")
	cfg := AlertRateLimit("var_breach", 3, time.Minute)

	allowed, remaining, err := limiter.Allow(context.Background(), cfg)
	require.NoError(t, err)
	assert.True(t, allowed, "all events allowed when Redis disabled")
	assert.Equal(t, 3, remaining)
	assert.False(t, limiter.Enabled())
}

func TestCache_Disabled(t *testing.T) {
	cache := NewCache(Disabled(), "test")
	ctx := context.Background()

	require.NoError(t, cache.Set(ctx, "key", []float64{1, 2}, TTLShort))

	var result []float64
	found, err := cache.Get(ctx, "key", &result)
	require.NoError(t, err)
	assert.False(t, found)
	assert.NoError(t, cache.Delete(ctx, "key"))
}

func TestCacheKeys(t *testing.T) {
	tests := []struct {
		name     string
		got      string
		expected string
	}{
		{"PriceHistoryKey", PriceHistoryKey("EUR_USD"), "price:history:EUR_USD"},
		{"LatestBarsKey", LatestBarsKey("XAU_USD"), "price:bars:XAU_USD"},
		{"InstrumentKeys", strings.Join(InstrumentKeys("EUR_USD"), ","), "price:history:EUR_USD,price:bars:EUR_USD"},
		{"AlertRateLimit", AlertRateLimit("stress", 1, time.Second).Key, "alert:stress"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, tt.got)
		})
	}
}

func TestReadThrough_Disabled(t *testing.T) {
	ctx := context.Background()

	var loads int
	load := func(context.Context) ([]float64, error) {
		loads++
		return []float64{1.1, 1.2}, nil
	}

	for _, cache := range []*Cache{NewCache(Disabled(), "test"), nil} {
		got, err := ReadThrough(ctx, cache, PriceHistoryKey("EUR_USD"), TTLMedium, load, nil)
		require.NoError(t, err)
		assert.Equal(t, []float64{1.1, 1.2}, got)
	}
	assert.Equal(t, 2, loads, "no caching when Redis disabled")

	stats := NewCache(Disabled(), "test").Stats()
	assert.False(t, stats.Enabled)
	assert.Zero(t, stats.Hits+stats.Misses+stats.Errors)
}

func TestReadThrough_LoadError(t *testing.T) {
	wantErr := errors.New("db down")
	_, err := ReadThrough(context.Background(), NewCache(Disabled(), "test"), "k", TTLShort,
		func(context.Context) (int, error) { return 0, wantErr }, nil)
	assert.ErrorIs(t, err, wantErr)
}
