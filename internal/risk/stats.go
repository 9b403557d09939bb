package risk

import (
	"errors"
	"math"
	"sort"
)

// =============================================================================
// 통계 유틸리티
// =============================================================================

// ErrDegenerateSeries 분산이 0이거나 길이가 맞지 않는 시계열
var ErrDegenerateSeries = errors.New("degenerate series")

// Mean 평균 계산
func Mean(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	var sum float64
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}

// StdDev 표본 표준편차 (n-1)
func StdDev(values []float64) float64 {
	if len(values) < 2 {
		return 0
	}
	mean := Mean(values)
	var sumSq float64
	for _, v := range values {
		diff := v - mean
		sumSq += diff * diff
	}
	return math.Sqrt(sumSq / float64(len(values)-1))
}

// Percentile 백분위수 계산 (선형 보간, sorted는 오름차순)
func Percentile(sorted []float64, p float64) float64 {
	if len(sorted) == 0 {
		return 0
	}
	if p <= 0 {
		return sorted[0]
	}
	if p >= 100 {
		return sorted[len(sorted)-1]
	}

	idx := p / 100.0 * float64(len(sorted)-1)
	lower := int(math.Floor(idx))
	upper := lower + 1

	if upper >= len(sorted) {
		return sorted[len(sorted)-1]
	}

	weight := idx - float64(lower)
	return sorted[lower]*(1-weight) + sorted[upper]*weight
}

// PercentileOf 정렬되지 않은 값의 백분위수 (입력은 변경하지 않음)
func PercentileOf(values []float64, p float64) float64 {
	sorted := make([]float64, len(values))
	copy(sorted, values)
	sort.Float64s(sorted)
	return Percentile(sorted, p)
}

// SimpleReturns 가격 → 단순 수익률 (P1 - P0) / P0
// 0 이하 가격이나 NaN은 해당 구간을 건너뜀
func SimpleReturns(prices []float64) []float64 {
	if len(prices) < 2 {
		return nil
	}
	out := make([]float64, 0, len(prices)-1)
	for i := 1; i < len(prices); i++ {
		prev, cur := prices[i-1], prices[i]
		if prev <= 0 || math.IsNaN(prev) || math.IsNaN(cur) || math.IsInf(cur, 0) {
			continue
		}
		out = append(out, (cur-prev)/prev)
	}
	return out
}

// Pearson 피어슨 상관계수
// 길이가 다르거나 2 미만, 분산 0이면 ErrDegenerateSeries
func Pearson(x, y []float64) (float64, error) {
	if len(x) != len(y) || len(x) < 2 {
		return 0, ErrDegenerateSeries
	}

	mx, my := Mean(x), Mean(y)
	var sxy, sxx, syy float64
	for i := range x {
		dx := x[i] - mx
		dy := y[i] - my
		sxy += dx * dy
		sxx += dx * dx
		syy += dy * dy
	}

	if sxx == 0 || syy == 0 {
		return 0, ErrDegenerateSeries
	}

	r := sxy / math.Sqrt(sxx*syy)
	if math.IsNaN(r) {
		return 0, ErrDegenerateSeries
	}

	// 부동소수 오차로 [-1, 1]을 벗어나는 경우 보정
	return math.Max(-1, math.Min(1, r)), nil
}
