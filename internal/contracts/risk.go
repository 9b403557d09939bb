package contracts

import (
	"sort"
	"time"
)

// Direction 포지션 방향
type Direction string

const (
	DirectionLong  Direction = "LONG"
	DirectionShort Direction = "SHORT"
)

// Position represents an open position owned by the external portfolio tracker
// ⭐ 계약: 리스크 코어는 읽기만 함 (UnrealizedPnL만 외부 트래커가 갱신)
type Position struct {
	ID            string    `json:"id"`
	Instrument    string    `json:"instrument"`
	Direction     Direction `json:"direction"`
	EntryPrice    float64   `json:"entry_price"`
	Size          float64   `json:"size"`
	StopLoss      float64   `json:"stop_loss"`
	TakeProfit    float64   `json:"take_profit"`
	EntryTime     time.Time `json:"entry_time"`
	Strategy      string    `json:"strategy"`
	UnrealizedPnL float64   `json:"unrealized_pnl"`
}

// Notional 포지션 명목 가치 (|size| × price)
// price가 0 이하면 진입가 사용
func (p Position) Notional(price float64) float64 {
	if price <= 0 {
		price = p.EntryPrice
	}
	size := p.Size
	if size < 0 {
		size = -size
	}
	return size * price
}

// PortfolioState is a read-only snapshot produced by the portfolio tracker
// ⭐ SSOT: VaR/상관관계 엔진의 유일한 포트폴리오 입력
type PortfolioState struct {
	TotalBalance       float64                       `json:"total_balance"`
	AvailableBalance   float64                       `json:"available_balance"`
	RiskFraction       float64                       `json:"risk_fraction"`
	Positions          map[string]Position           `json:"positions"` // instrument → position
	StrategyAllocation map[string]float64            `json:"strategy_allocation"`
	CorrelationMatrix  map[string]map[string]float64 `json:"correlation_matrix,omitempty"`
	Timestamp          time.Time                     `json:"timestamp"`
}

// Instruments returns the instruments with open positions, sorted
func (s *PortfolioState) Instruments() []string {
	if s == nil {
		return nil
	}
	out := make([]string, 0, len(s.Positions))
	for instrument := range s.Positions {
		out = append(out, instrument)
	}
	sort.Strings(out)
	return out
}

// PositionIDs returns the IDs of all open positions, sorted
func (s *PortfolioState) PositionIDs() []string {
	if s == nil {
		return nil
	}
	out := make([]string, 0, len(s.Positions))
	for _, p := range s.Positions {
		out = append(out, p.ID)
	}
	sort.Strings(out)
	return out
}

// PriceBar OHLCV 봉 하나
type PriceBar struct {
	Time   time.Time `json:"time"`
	Open   float64   `json:"open"`
	High   float64   `json:"high"`
	Low    float64   `json:"low"`
	Close  float64   `json:"close"`
	Volume float64   `json:"volume"`
}

// Closes extracts close prices in time order
func Closes(bars []PriceBar) []float64 {
	out := make([]float64, len(bars))
	for i, b := range bars {
		out[i] = b.Close
	}
	return out
}
