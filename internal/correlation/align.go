package correlation

import (
	"math"

	"github.com/wonny/aegis-risk/internal/contracts"
)

// windowReturns 최근 window개 수익률 (유효하지 않은 가격 구간은 제외)
func windowReturns(bars []contracts.PriceBar, window int) []float64 {
	if window > 0 && len(bars) > window+1 {
		bars = bars[len(bars)-window-1:]
	}

	out := make([]float64, 0, len(bars))
	for i := 1; i < len(bars); i++ {
		if r, ok := simpleReturn(bars[i-1].Close, bars[i].Close); ok {
			out = append(out, r)
		}
	}
	return out
}

// alignedReturns 두 시계열의 공통 시각만 남긴 뒤 최근 window개 구간의 수익률 쌍
// 한쪽이라도 유효하지 않은 구간은 양쪽에서 함께 제외
func alignedReturns(a, b []contracts.PriceBar, window int) ([]float64, []float64) {
	byTime := make(map[int64]float64, len(b))
	for _, bar := range b {
		byTime[bar.Time.UnixNano()] = bar.Close
	}

	var ca, cb []float64
	for _, bar := range a {
		if closeB, ok := byTime[bar.Time.UnixNano()]; ok {
			ca = append(ca, bar.Close)
			cb = append(cb, closeB)
		}
	}

	if window > 0 && len(ca) > window+1 {
		ca = ca[len(ca)-window-1:]
		cb = cb[len(cb)-window-1:]
	}

	ra := make([]float64, 0, len(ca))
	rb := make([]float64, 0, len(cb))
	for i := 1; i < len(ca); i++ {
		x, okA := simpleReturn(ca[i-1], ca[i])
		y, okB := simpleReturn(cb[i-1], cb[i])
		if !okA || !okB {
			continue
		}
		ra = append(ra, x)
		rb = append(rb, y)
	}
	return ra, rb
}

func simpleReturn(prev, cur float64) (float64, bool) {
	if prev <= 0 || math.IsNaN(prev) || math.IsNaN(cur) || math.IsInf(cur, 0) || math.IsInf(prev, 0) {
		return 0, false
	}
	return (cur - prev) / prev, true
}
