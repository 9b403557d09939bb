package correlation

import (
	"context"
	"errors"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wonny/aegis-risk/internal/contracts"
	"github.com/wonny/aegis-risk/pkg/config"
	"github.com/wonny/aegis-risk/pkg/logger"
)

type fakePrices struct {
	bars map[string][]contracts.PriceBar
	errs map[string]error
}

func (f *fakePrices) GetPriceHistory(ctx context.Context, instrument string) ([]contracts.PriceBar, error) {
	if err := f.errs[instrument]; err != nil {
		return nil, err
	}
	return f.bars[instrument], nil
}

type fakeStore struct {
	mu      sync.Mutex
	saved   []Sample
	recent  []Sample
	loadErr error
}

func (s *fakeStore) SaveCorrelationSample(ctx context.Context, sample Sample) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.saved = append(s.saved, sample)
	return nil
}

func (s *fakeStore) RecentCorrelationSamples(ctx context.Context, limit int) ([]Sample, error) {
	return s.recent, s.loadErr
}

var start = time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)

func barsFromReturns(returns []float64) []contracts.PriceBar {
	price := 100.0
	bars := []contracts.PriceBar{{Time: start, Close: price}}
	for i, r := range returns {
		price *= 1 + r
		bars = append(bars, contracts.PriceBar{Time: start.AddDate(0, 0, i+1), Close: price})
	}
	return bars
}

// correlatedPair 표본 상관계수가 정확히 rho인 수익률 쌍
// x(주기 2)와 z(주기 4)는 평균 0, 서로 직교하고 분산이 같음 → corr(x, x+k·z) = 1/√(1+k²)
func correlatedPair(n int, rho float64) ([]float64, []float64) {
	k := math.Sqrt(1/(rho*rho) - 1)
	x := make([]float64, n)
	y := make([]float64, n)
	for i := 0; i < n; i++ {
		xi := 0.01
		if i%2 == 1 {
			xi = -0.01
		}
		zi := 0.01
		if i%4 >= 2 {
			zi = -0.01
		}
		x[i] = xi
		y[i] = xi + k*zi
	}
	return x, y
}

// independentSeries 다른 주기의 직교 패턴 (주기 8)
func independentSeries(n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		if i%8 < 4 {
			out[i] = 0.01
		} else {
			out[i] = -0.01
		}
	}
	return out
}

func portfolioOf(sizes map[string]float64) *contracts.PortfolioState {
	positions := make(map[string]contracts.Position, len(sizes))
	for inst, size := range sizes {
		positions[inst] = contracts.Position{ID: "pos-" + inst, Instrument: inst, Size: size, EntryPrice: 1}
	}
	return &contracts.PortfolioState{TotalBalance: 100000, Positions: positions}
}

func newTestManager(prices contracts.PriceHistoryProvider, store Store) *Manager {
	return NewManager(config.DefaultRiskConfig().Correlation, prices, store, nil, logger.Nop())
}

func TestCalculateCorrelationMatrix_Bounded(t *testing.T) {
	x, y := correlatedPair(60, 0.5)
	prices := &fakePrices{bars: map[string][]contracts.PriceBar{
		"EUR_USD": barsFromReturns(x),
		"GBP_USD": barsFromReturns(y),
		"USD_JPY": barsFromReturns(independentSeries(60)),
	}}
	store := &fakeStore{}
	m := newTestManager(prices, store)

	matrix := m.CalculateCorrelationMatrix(context.Background(),
		portfolioOf(map[string]float64{"EUR_USD": 1000, "GBP_USD": 2000, "USD_JPY": 500}))

	require.Len(t, matrix.Instruments, 3)
	for _, a := range matrix.Instruments {
		diag, ok := matrix.Get(a, a)
		require.True(t, ok)
		assert.Equal(t, 1.0, diag)
		for _, b := range matrix.Instruments {
			v, ok := matrix.Get(a, b)
			if !ok {
				continue
			}
			assert.LessOrEqual(t, math.Abs(v), 1.0)
			w, _ := matrix.Get(b, a)
			assert.Equal(t, v, w)
		}
	}

	corr, ok := matrix.Get("EUR_USD", "GBP_USD")
	require.True(t, ok)
	assert.InDelta(t, 0.5, corr, 1e-3)

	m.Wait()
	assert.Len(t, store.saved, 1)
	assert.Equal(t, 1, m.Summary().HistoryLength)
}

func TestCalculateCorrelationMatrix_Insufficient(t *testing.T) {
	x, y := correlatedPair(60, 0.5)

	tests := []struct {
		name      string
		prices    *fakePrices
		positions map[string]float64
	}{
		{
			name:      "single instrument",
			prices:    &fakePrices{bars: map[string][]contracts.PriceBar{"EUR_USD": barsFromReturns(x)}},
			positions: map[string]float64{"EUR_USD": 1},
		},
		{
			name: "second instrument short",
			prices: &fakePrices{bars: map[string][]contracts.PriceBar{
				"EUR_USD": barsFromReturns(x),
				"GBP_USD": barsFromReturns(y[:20]),
			}},
			positions: map[string]float64{"EUR_USD": 1, "GBP_USD": 1},
		},
		{
			name: "provider failure",
			prices: &fakePrices{
				bars: map[string][]contracts.PriceBar{"EUR_USD": barsFromReturns(x)},
				errs: map[string]error{"GBP_USD": errors.New("timeout")},
			},
			positions: map[string]float64{"EUR_USD": 1, "GBP_USD": 1},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := newTestManager(tt.prices, nil)
			matrix := m.CalculateCorrelationMatrix(context.Background(), portfolioOf(tt.positions))

			assert.True(t, matrix.Empty())
			assert.Empty(t, matrix.Pairs())
			assert.Nil(t, m.LastMatrix())
			assert.Equal(t, 0, m.Summary().HistoryLength)
		})
	}
}

func TestCalculateCorrelationMatrix_DegeneratePairOmitted(t *testing.T) {
	x, _ := correlatedPair(60, 0.5)
	flat := make([]float64, 60)
	prices := &fakePrices{bars: map[string][]contracts.PriceBar{
		"EUR_USD": barsFromReturns(x),
		"USD_CHF": barsFromReturns(flat),
		"USD_JPY": barsFromReturns(independentSeries(60)),
	}}
	m := newTestManager(prices, nil)

	matrix := m.CalculateCorrelationMatrix(context.Background(),
		portfolioOf(map[string]float64{"EUR_USD": 1, "USD_CHF": 1, "USD_JPY": 1}))

	require.Len(t, matrix.Instruments, 3)
	_, ok := matrix.Get("EUR_USD", "USD_CHF")
	assert.False(t, ok)
	_, ok = matrix.Get("EUR_USD", "USD_JPY")
	assert.True(t, ok)
	assert.Len(t, matrix.Pairs(), 1)
}

func TestScenario_ModerateCorrelationBreach(t *testing.T) {
	x, y := correlatedPair(60, 0.5)
	prices := &fakePrices{bars: map[string][]contracts.PriceBar{
		"EUR_USD": barsFromReturns(x),
		"GBP_USD": barsFromReturns(y),
	}}
	m := newTestManager(prices, nil)
	state := portfolioOf(map[string]float64{"EUR_USD": 1000, "GBP_USD": 3000})

	matrix := m.CalculateCorrelationMatrix(context.Background(), state)

	alerts := m.DetectCorrelationBreaches(matrix)
	require.Len(t, alerts, 1)
	assert.Equal(t, contracts.SeverityHigh, alerts[0].Severity)
	assert.Equal(t, 0.4, alerts[0].Threshold)
	assert.InDelta(t, 0.5, alerts[0].Correlation, 1e-3)

	adjustments := m.SuggestPositionAdjustments(state, matrix)
	require.Len(t, adjustments, 1)
	assert.Equal(t, "GBP_USD", adjustments[0].Instrument)
	assert.Equal(t, BreachRatio, adjustments[0].AdjustmentRatio)
	assert.InDelta(t, 2100.0, adjustments[0].RecommendedSize, 1e-9)
	assert.Equal(t, 1, m.Summary().BreachCount)
}

func TestDetectCorrelationBreaches_Tiers(t *testing.T) {
	cfg := config.DefaultRiskConfig().Correlation
	m := NewManager(cfg, &fakePrices{}, nil, nil, nil)

	tests := []struct {
		corr         float64
		wantSeverity contracts.Severity
		wantRatio    float64
	}{
		{0.65, contracts.SeverityCritical, SevereRatio},
		{-0.7, contracts.SeverityCritical, SevereRatio},
		{0.5, contracts.SeverityHigh, BreachRatio},
		{0.38, contracts.SeverityMedium, EarlyWarningRatio},
		{0.35, "", 0},
		{0.1, "", 0},
	}

	for _, tt := range tests {
		matrix := NewMatrix([]string{"A", "B"}, start)
		matrix.Set("A", "B", tt.corr)
		state := portfolioOf(map[string]float64{"A": 10, "B": 20})

		alerts := m.DetectCorrelationBreaches(matrix)
		adjustments := m.SuggestPositionAdjustments(state, matrix)

		if tt.wantSeverity == "" {
			assert.Empty(t, alerts, "corr=%v", tt.corr)
			assert.Empty(t, adjustments, "corr=%v", tt.corr)
			continue
		}
		require.Len(t, alerts, 1, "corr=%v", tt.corr)
		assert.Equal(t, tt.wantSeverity, alerts[0].Severity)
		assert.Equal(t, math.Abs(tt.corr), alerts[0].Correlation)

		require.Len(t, adjustments, 1)
		assert.Equal(t, "B", adjustments[0].Instrument)
		assert.Equal(t, tt.wantRatio, adjustments[0].AdjustmentRatio)
		assert.Equal(t, adjustments[0].CurrentSize*adjustments[0].AdjustmentRatio, adjustments[0].RecommendedSize)
	}
}

func TestSuggestPositionAdjustments_OncePerInstrument(t *testing.T) {
	m := newTestManager(&fakePrices{}, nil)

	// A가 세 쌍 모두에 참여
	matrix := NewMatrix([]string{"A", "B", "C", "D"}, start)
	matrix.Set("A", "B", 0.9)
	matrix.Set("A", "C", 0.8)
	matrix.Set("A", "D", 0.5)
	matrix.Set("C", "D", 0.45)
	state := portfolioOf(map[string]float64{"A": 100, "B": 50, "C": 10, "D": 30})

	adjustments := m.SuggestPositionAdjustments(state, matrix)

	seen := make(map[string]bool)
	for _, adj := range adjustments {
		assert.False(t, seen[adj.Instrument], "duplicate adjustment for %s", adj.Instrument)
		seen[adj.Instrument] = true
		assert.Greater(t, adj.AdjustmentRatio, 0.0)
		assert.LessOrEqual(t, adj.AdjustmentRatio, 1.0)
	}

	require.Len(t, adjustments, 2)
	assert.Equal(t, "A", adjustments[0].Instrument)
	assert.Equal(t, SevereRatio, adjustments[0].AdjustmentRatio)
	assert.Equal(t, "D", adjustments[1].Instrument)
	assert.Equal(t, BreachRatio, adjustments[1].AdjustmentRatio)
}

func TestSuggestPositionAdjustments_SmallerLegExcluded(t *testing.T) {
	m := newTestManager(&fakePrices{}, nil)

	// B는 A-B 쌍에서 축소되지 않았지만 B-C 쌍도 건너뜀
	matrix := NewMatrix([]string{"A", "B", "C"}, start)
	matrix.Set("A", "B", 0.9)
	matrix.Set("B", "C", 0.7)
	matrix.Set("A", "C", 0.1)
	state := portfolioOf(map[string]float64{"A": 100, "B": 50, "C": 10})

	adjustments := m.SuggestPositionAdjustments(state, matrix)

	require.Len(t, adjustments, 1)
	assert.Equal(t, "A", adjustments[0].Instrument)
}

func TestMonitorCorrelationDrift(t *testing.T) {
	m := newTestManager(&fakePrices{}, nil)

	matrix := NewMatrix([]string{"A", "B", "C"}, start)
	matrix.Set("A", "B", 0.6)
	matrix.Set("A", "C", -0.2)
	matrix.Set("B", "C", 0.1)

	drift := m.MonitorCorrelationDrift(matrix)
	assert.InDelta(t, 0.6, drift.MaxCorrelation, 1e-12)
	assert.InDelta(t, 0.3, drift.AvgCorrelation, 1e-12)
	assert.Equal(t, 3, drift.PairCount)
	assert.Equal(t, TrendStable, drift.Trend)

	for _, v := range []float64{0.2, 0.3, 0.4} {
		m.history.Push(Sample{MaxCorrelation: v})
	}
	assert.Equal(t, TrendIncreasing, m.MonitorCorrelationDrift(matrix).Trend)

	for _, v := range []float64{0.5, 0.45, 0.3} {
		m.history.Push(Sample{MaxCorrelation: v})
	}
	assert.Equal(t, TrendDecreasing, m.MonitorCorrelationDrift(matrix).Trend)

	m.history.Push(Sample{MaxCorrelation: 0.3})
	assert.Equal(t, TrendStable, m.MonitorCorrelationDrift(matrix).Trend)
	require.NotNil(t, m.Summary().LastDrift)
}

func TestApplyEmergencyCorrelationProtocol(t *testing.T) {
	t.Run("two severe pairs", func(t *testing.T) {
		m := newTestManager(&fakePrices{}, nil)
		matrix := NewMatrix([]string{"A", "B", "C"}, start)
		matrix.Set("A", "B", 0.7)
		matrix.Set("B", "C", -0.65)
		matrix.Set("A", "C", 0.2)

		assert.True(t, m.ApplyEmergencyCorrelationProtocol(matrix))
		assert.True(t, m.EmergencyActive())
	})

	t.Run("one severe pair", func(t *testing.T) {
		m := newTestManager(&fakePrices{}, nil)
		matrix := NewMatrix([]string{"A", "B"}, start)
		matrix.Set("A", "B", 0.7)

		assert.False(t, m.ApplyEmergencyCorrelationProtocol(matrix))
	})

	tests := []struct {
		name    string
		history []float64
		want    bool
	}{
		{"rising above breach", []float64{0.2, 0.25, 0.3, 0.38, 0.45}, true},
		{"rising below breach", []float64{0.1, 0.15, 0.2, 0.3, 0.39}, false},
		{"not strictly rising", []float64{0.2, 0.3, 0.3, 0.4, 0.5}, false},
		{"too short", []float64{0.3, 0.4, 0.5, 0.55}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := newTestManager(&fakePrices{}, nil)
			for _, v := range tt.history {
				m.history.Push(Sample{MaxCorrelation: v})
			}
			assert.Equal(t, tt.want, m.ApplyEmergencyCorrelationProtocol(NewMatrix(nil, start)))
		})
	}
}

func TestLoadHistory(t *testing.T) {
	store := &fakeStore{recent: []Sample{{MaxCorrelation: 0.3}, {MaxCorrelation: 0.4}}}
	m := newTestManager(&fakePrices{}, store)

	require.NoError(t, m.LoadHistory(context.Background()))
	history := m.History()
	require.Len(t, history, 2)
	assert.Equal(t, 0.4, history[1].MaxCorrelation)

	failing := newTestManager(&fakePrices{}, &fakeStore{loadErr: errors.New("db down")})
	assert.Error(t, failing.LoadHistory(context.Background()))

	assert.NoError(t, newTestManager(&fakePrices{}, nil).LoadHistory(context.Background()))
}

func TestHistoryBounded(t *testing.T) {
	x, y := correlatedPair(60, 0.5)
	prices := &fakePrices{bars: map[string][]contracts.PriceBar{
		"EUR_USD": barsFromReturns(x),
		"GBP_USD": barsFromReturns(y),
	}}
	cfg := config.DefaultRiskConfig().Correlation
	cfg.HistorySize = 5
	m := NewManager(cfg, prices, nil, nil, logger.Nop())
	state := portfolioOf(map[string]float64{"EUR_USD": 1, "GBP_USD": 1})

	for i := 0; i < 12; i++ {
		m.CalculateCorrelationMatrix(context.Background(), state)
	}
	assert.Len(t, m.History(), 5)
}

func TestProtocolAlert(t *testing.T) {
	drift := DriftMetrics{MaxCorrelation: 0.82, AvgCorrelation: 0.61, Trend: TrendIncreasing, Timestamp: time.Now()}
	adjustments := []PositionAdjustment{{Instrument: "EUR_USD"}, {Instrument: "AUD_USD"}}

	alert := ProtocolAlert("id-1", drift, adjustments)

	assert.Equal(t, contracts.AlertCorrelationProtocol, alert.Type)
	assert.Equal(t, contracts.SeverityCritical, alert.Severity)
	assert.Equal(t, []string{"EUR_USD", "AUD_USD"}, alert.Context["instruments"])
	assert.True(t, alert.HasTag("emergency"))
}
