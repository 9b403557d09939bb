package risk

import (
	"math"
	"sort"
)

// =============================================================================
// VaR Methods - 공통 계약 (returns, positionValue, confidence) -> lossAmount
// =============================================================================

// Calculator 하나의 VaR 계산 방식
// 반환값은 항상 >= 0, 관측치가 부족하면 정확히 0
type Calculator func(returns []float64, positionValue, confidence float64) float64

// MethodParams 계산 방식 공통 파라미터
type MethodParams struct {
	Lookback        int   // 최근 N개 수익률만 사용 (기본: 252)
	MinObservations int   // 최소 수익률 수 (기본: 30)
	Simulations     int   // Monte Carlo 샘플 수 (기본: 10000)
	Seed            int64 // Monte Carlo 시드 (재현성)
}

// DefaultMethodParams 기본 파라미터
func DefaultMethodParams() MethodParams {
	return MethodParams{
		Lookback:        252,
		MinObservations: 30,
		Simulations:     10000,
		Seed:            42,
	}
}

// NewCalculators 태그 → 계산 함수 테이블 생성
// ⭐ 상속 대신 닫힌 태그 집합으로 선택
func NewCalculators(p MethodParams) map[Method]Calculator {
	return map[Method]Calculator{
		MethodHistorical: func(returns []float64, value, confidence float64) float64 {
			return HistoricalVaR(returns, value, confidence, p)
		},
		MethodParametric: func(returns []float64, value, confidence float64) float64 {
			return ParametricVaR(returns, value, confidence, p)
		},
		MethodMonteCarlo: func(returns []float64, value, confidence float64) float64 {
			return MonteCarloVaR(returns, value, confidence, p)
		},
	}
}

// window 최근 lookback개 수익률
// 관측치가 MinObservations 미만이면 nil
func window(returns []float64, p MethodParams) []float64 {
	if len(returns) < p.MinObservations || len(returns) == 0 {
		return nil
	}
	if p.Lookback > 0 && len(returns) > p.Lookback {
		return returns[len(returns)-p.Lookback:]
	}
	return returns
}

// HistoricalVaR 과거 수익률 기반 VaR (Historical Simulation)
// loss = |percentile(returns, (1-confidence)·100)| × positionValue
func HistoricalVaR(returns []float64, positionValue, confidence float64, p MethodParams) float64 {
	w := window(returns, p)
	if w == nil || positionValue <= 0 {
		return 0
	}

	sorted := make([]float64, len(w))
	copy(sorted, w)
	sort.Float64s(sorted)

	q := Percentile(sorted, (1-confidence)*100)
	return math.Abs(q) * positionValue
}

// ParametricVaR 정규분포 가정 VaR
// loss = |mean + z·std| × positionValue
func ParametricVaR(returns []float64, positionValue, confidence float64, p MethodParams) float64 {
	w := window(returns, p)
	if w == nil || positionValue <= 0 {
		return 0
	}

	z := ZScore(confidence)
	return math.Abs(Mean(w)+z*StdDev(w)) * positionValue
}

// ZScore 신뢰수준에 대한 표준정규 하위 분위수
// 95%: -1.645, 99%: -2.326, 그 외는 두 점을 잇는 선형 근사
func ZScore(confidence float64) float64 {
	switch confidence {
	case 0.95:
		return -1.645
	case 0.99:
		return -2.326
	}

	slope := (-2.326 - -1.645) / (0.99 - 0.95)
	return -1.645 + slope*(confidence-0.95)
}
