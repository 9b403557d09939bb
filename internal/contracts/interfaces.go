package contracts

import "context"

// PriceHistoryProvider supplies a time-ordered price series per instrument
// ⭐ SSOT: 가격 이력 조회 인터페이스 (외부 협력자)
// 이력이 없으면 (nil, nil) 반환 가능
type PriceHistoryProvider interface {
	GetPriceHistory(ctx context.Context, instrument string) ([]PriceBar, error)
}

// MarketDataSource supplies the latest bars for every monitored instrument
// ⭐ SSOT: 스트레스 모니터 루프 입력
type MarketDataSource interface {
	FetchMarketData(ctx context.Context) (map[string][]PriceBar, error)
}

// PortfolioSource returns the tracker's current snapshot
type PortfolioSource interface {
	CurrentPortfolio(ctx context.Context) (*PortfolioState, error)
}

// AlertDispatcher delivers structured alerts
// ⭐ SSOT: 알림 전달 인터페이스 (채널 라우팅은 구현체 책임)
type AlertDispatcher interface {
	Dispatch(ctx context.Context, alert Alert) error
}

// AlertDispatcherFunc adapts a function to AlertDispatcher
type AlertDispatcherFunc func(ctx context.Context, alert Alert) error

// Dispatch calls f
func (f AlertDispatcherFunc) Dispatch(ctx context.Context, alert Alert) error {
	return f(ctx, alert)
}
