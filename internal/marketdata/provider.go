package marketdata

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/wonny/aegis-risk/internal/contracts"
	"github.com/wonny/aegis-risk/pkg/logger"
	"github.com/wonny/aegis-risk/pkg/redis"
)

// HistoryProvider serves price history for VaR/correlation with a Redis read-through cache
// 캐시 실패는 Cache의 ErrorHandler로 보고되고 DB 결과 사용
type HistoryProvider struct {
	reader BarReader
	cache  *redis.Cache
	bars   int
	ttl    time.Duration
	log    *logger.Logger
}

// NewHistoryProvider creates a provider returning the latest bars per instrument
func NewHistoryProvider(reader BarReader, cache *redis.Cache, bars int, ttl time.Duration, log *logger.Logger) *HistoryProvider {
	if ttl <= 0 {
		ttl = redis.TTLMedium
	}
	return &HistoryProvider{
		reader: reader,
		cache:  cache,
		bars:   bars,
		ttl:    ttl,
		log:    log.WithComponent("price_history"),
	}
}

// GetPriceHistory returns the price series for an instrument
func (p *HistoryProvider) GetPriceHistory(ctx context.Context, instrument string) ([]contracts.PriceBar, error) {
	bars, err := redis.ReadThrough(ctx, p.cache, redis.PriceHistoryKey(instrument), p.ttl,
		func(ctx context.Context) ([]contracts.PriceBar, error) {
			return p.reader.RecentBars(ctx, instrument, p.bars)
		},
		nonEmpty,
	)
	if err != nil {
		p.log.WithError(err).WithField("instrument", instrument).Debug("price history load failed")
		return nil, fmt.Errorf("price history for %s: %w", instrument, err)
	}
	return bars, nil
}

// nonEmpty 빈 이력은 캐시하지 않음 (신규 종목이 TTL 동안 가려지지 않도록)
func nonEmpty(bars []contracts.PriceBar) bool {
	return len(bars) > 0
}

// ErrNoMarketData 모든 종목 조회 실패
var ErrNoMarketData = errors.New("no market data available")

// Feed supplies the latest bars for every monitored instrument
type Feed struct {
	reader BarReader
	cache  *redis.Cache
	bars   int
	log    *logger.Logger
}

// NewFeed creates a market data feed returning bars per instrument
func NewFeed(reader BarReader, cache *redis.Cache, bars int, log *logger.Logger) *Feed {
	return &Feed{
		reader: reader,
		cache:  cache,
		bars:   bars,
		log:    log.WithComponent("market_feed"),
	}
}

// FetchMarketData returns latest bars keyed by instrument
// 개별 종목 실패는 건너뛰고, 전부 실패하면 ErrNoMarketData
func (f *Feed) FetchMarketData(ctx context.Context) (map[string][]contracts.PriceBar, error) {
	instruments, err := f.reader.Instruments(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list instruments: %w", err)
	}

	out := make(map[string][]contracts.PriceBar, len(instruments))
	var failures int
	for _, instrument := range instruments {
		bars, err := f.latestBars(ctx, instrument)
		if err != nil {
			failures++
			f.log.WithError(err).WithField("instrument", instrument).Warn("market data fetch failed")
			continue
		}
		if len(bars) > 0 {
			out[instrument] = bars
		}
	}

	if failures > 0 && failures == len(instruments) {
		return nil, ErrNoMarketData
	}
	return out, nil
}

func (f *Feed) latestBars(ctx context.Context, instrument string) ([]contracts.PriceBar, error) {
	return redis.ReadThrough(ctx, f.cache, redis.LatestBarsKey(instrument), redis.TTLShort,
		func(ctx context.Context) ([]contracts.PriceBar, error) {
			return f.reader.RecentBars(ctx, instrument, f.bars)
		},
		nonEmpty,
	)
}
