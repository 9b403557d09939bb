package risk

import "time"

// =============================================================================
// VaR Types
// =============================================================================

// Method VaR 계산 방식 태그
type Method string

const (
	MethodHistorical Method = "historical"
	MethodParametric Method = "parametric"
	MethodMonteCarlo Method = "monte_carlo"
)

// AllMethods 고정된 계산 방식 집합 (보고/알림 순서)
var AllMethods = []Method{MethodHistorical, MethodParametric, MethodMonteCarlo}

// PortfolioInstrument 포트폴리오 합산 결과의 instrument 값
const PortfolioInstrument = "PORTFOLIO"

// VaRConvention VaR 부호 규약
// ⭐ SSOT: Loss를 양수 금액으로 표현 (Amount=200 → 신뢰수준에서 200 손실 가능)
const VaRConvention = "loss_positive"

// VaRResult VaR 계산 결과 (매 계산마다 새로 생성, 불변)
type VaRResult struct {
	Method       Method    `json:"method"`
	Amount       float64   `json:"amount"`        // 손실 추정 금액 (양수)
	Confidence   float64   `json:"confidence"`    // 신뢰수준 (예: 0.95)
	Timestamp    time.Time `json:"timestamp"`
	Instrument   string    `json:"instrument"`    // 종목 또는 "PORTFOLIO"
	PositionSize float64   `json:"position_size"` // 포지션 명목 가치
	Volatility   float64   `json:"volatility"`    // lookback 수익률 표준편차
}

// IsPortfolio reports whether r is the aggregate result
func (r VaRResult) IsPortfolio() bool {
	return r.Instrument == PortfolioInstrument
}

// Summary VaR 모니터 상태 요약 (대시보드용)
type Summary struct {
	PortfolioValue    float64              `json:"portfolio_value"`
	TargetDailyVaR    float64              `json:"target_daily_var"`
	Results           map[Method]VaRResult `json:"results"`
	VaRFraction       map[Method]float64   `json:"var_fraction"` // VaR / 포트폴리오 가치
	LastBreaches      map[Method]bool      `json:"last_breaches"`
	BreachCount       int                  `json:"breach_count"`
	LastBreachAt      *time.Time           `json:"last_breach_at,omitempty"`
	MultiMethodBreach bool                 `json:"multi_method_breach"`
	CalculatedAt      *time.Time           `json:"calculated_at,omitempty"`
}
