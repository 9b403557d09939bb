package risk

import (
	"math"
	"math/rand"
	"sort"
)

// MonteCarloVaR 정규분포 Monte Carlo VaR
// lookback 구간에 맞춘 N(mean, std)에서 Simulations개 수익률을 뽑아 P&L 분포의 하위 백분위수 사용
// ⭐ 재현성: 호출마다 같은 Seed로 새 rng 생성 (동시 호출에도 안전)
func MonteCarloVaR(returns []float64, positionValue, confidence float64, p MethodParams) float64 {
	w := window(returns, p)
	if w == nil || positionValue <= 0 || p.Simulations <= 0 {
		return 0
	}

	mean := Mean(w)
	std := StdDev(w)

	rng := rand.New(rand.NewSource(p.Seed))
	pnl := make([]float64, p.Simulations)
	for i := range pnl {
		pnl[i] = (mean + std*rng.NormFloat64()) * positionValue
	}
	sort.Float64s(pnl)

	return math.Abs(Percentile(pnl, (1-confidence)*100))
}
