package risk

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

// knownTailReturns 100개 수익률, 5번째 백분위수 = -0.02
func knownTailReturns() []float64 {
	returns := make([]float64, 0, 100)
	for i := 0; i < 4; i++ {
		returns = append(returns, -0.05)
	}
	for i := 0; i < 6; i++ {
		returns = append(returns, -0.02)
	}
	for len(returns) < 100 {
		returns = append(returns, 0.01)
	}
	return returns
}

func mixedReturns(n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		switch i % 5 {
		case 0:
			out[i] = -0.012
		case 1:
			out[i] = 0.008
		case 2:
			out[i] = -0.003
		case 3:
			out[i] = 0.011
		default:
			out[i] = 0.002
		}
	}
	return out
}

func TestHistoricalVaR_KnownPercentile(t *testing.T) {
	got := HistoricalVaR(knownTailReturns(), 10000, 0.95, DefaultMethodParams())
	assert.InDelta(t, 200.0, got, 1e-9)
}

func TestHistoricalVaR_UsesLookbackWindow(t *testing.T) {
	// 오래된 극단값은 lookback 밖으로 밀려남
	returns := append([]float64{-0.5, -0.5, -0.5}, knownTailReturns()...)
	p := DefaultMethodParams()
	p.Lookback = 100

	got := HistoricalVaR(returns, 10000, 0.95, p)
	assert.InDelta(t, 200.0, got, 1e-9)
}

func TestCalculators_NonNegative(t *testing.T) {
	calcs := NewCalculators(DefaultMethodParams())

	inputs := []struct {
		name    string
		returns []float64
		value   float64
		conf    float64
	}{
		{"known tail", knownTailReturns(), 10000, 0.95},
		{"mixed 99%", mixedReturns(252), 50000, 0.99},
		{"all gains", func() []float64 {
			r := mixedReturns(60)
			for i := range r {
				r[i] = 0.01 + float64(i%3)*0.001
			}
			return r
		}(), 1000, 0.95},
		{"zero value", mixedReturns(60), 0, 0.95},
		{"long window", mixedReturns(500), 12345, 0.975},
	}

	for _, in := range inputs {
		for _, method := range AllMethods {
			t.Run(in.name+"/"+string(method), func(t *testing.T) {
				got := calcs[method](in.returns, in.value, in.conf)
				assert.GreaterOrEqual(t, got, 0.0)
			})
		}
	}
}

func TestCalculators_InsufficientObservations(t *testing.T) {
	calcs := NewCalculators(DefaultMethodParams())

	for _, n := range []int{0, 1, 10, 29} {
		for _, method := range AllMethods {
			got := calcs[method](mixedReturns(n), 10000, 0.95)
			assert.Equal(t, 0.0, got, "method=%s n=%d", method, n)
		}
	}

	for _, method := range AllMethods {
		assert.Greater(t, calcs[method](mixedReturns(30), 10000, 0.95), 0.0, "method=%s n=30", method)
	}
}

func TestParametricVaR(t *testing.T) {
	returns := mixedReturns(100)
	want := (Mean(returns) + -1.645*StdDev(returns)) * -10000

	got := ParametricVaR(returns, 10000, 0.95, DefaultMethodParams())
	assert.InDelta(t, want, got, 1e-9)
}

func TestZScore(t *testing.T) {
	assert.Equal(t, -1.645, ZScore(0.95))
	assert.Equal(t, -2.326, ZScore(0.99))

	mid := ZScore(0.97)
	assert.Less(t, mid, -1.645)
	assert.Greater(t, mid, -2.326)
	assert.InDelta(t, (-1.645+-2.326)/2, mid, 1e-9)
}

func TestMonteCarloVaR_Reproducible(t *testing.T) {
	p := DefaultMethodParams()
	returns := mixedReturns(252)

	first := MonteCarloVaR(returns, 10000, 0.95, p)
	second := MonteCarloVaR(returns, 10000, 0.95, p)
	assert.Equal(t, first, second)

	// 모수 VaR과 같은 분포에서 뽑으므로 근사적으로 일치
	parametric := ParametricVaR(returns, 10000, 0.95, p)
	assert.InDelta(t, parametric, first, parametric*0.1)

	p.Seed = 7
	assert.NotEqual(t, first, MonteCarloVaR(returns, 10000, 0.95, p))
}
