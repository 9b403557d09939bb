package emergency

import (
	"context"
	"errors"
	"math"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wonny/aegis-risk/internal/contracts"
	"github.com/wonny/aegis-risk/internal/metrics"
	"github.com/wonny/aegis-risk/pkg/config"
	"github.com/wonny/aegis-risk/pkg/logger"
)

type recordingDispatcher struct {
	mu     sync.Mutex
	alerts []contracts.Alert
	err    error
}

func (d *recordingDispatcher) Dispatch(ctx context.Context, alert contracts.Alert) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.alerts = append(d.alerts, alert)
	return d.err
}

func (d *recordingDispatcher) ofType(t contracts.AlertType) []contracts.Alert {
	d.mu.Lock()
	defer d.mu.Unlock()
	var out []contracts.Alert
	for _, a := range d.alerts {
		if a.Type == t {
			out = append(out, a)
		}
	}
	return out
}

type memStore struct {
	mu          sync.Mutex
	transitions []Transition
	stress      []StressEvent
	values      []PortfolioValue
	err         error
}

func (s *memStore) SaveTransition(ctx context.Context, t Transition) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.transitions = append(s.transitions, t)
	return s.err
}

func (s *memStore) SaveStressEvents(ctx context.Context, events []StressEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stress = append(s.stress, events...)
	return s.err
}

func (s *memStore) SavePortfolioValue(ctx context.Context, v PortfolioValue) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.values = append(s.values, v)
	return s.err
}

type staticPortfolio struct {
	state *contracts.PortfolioState
	err   error
}

func (p *staticPortfolio) CurrentPortfolio(ctx context.Context) (*contracts.PortfolioState, error) {
	return p.state, p.err
}

func testConfig() config.EmergencyConfig {
	cfg := config.DefaultRiskConfig().Emergency
	cfg.MonitorInterval = 10 * time.Millisecond
	cfg.RetryBackoff = 5 * time.Millisecond
	return cfg
}

func newTestManager(store Store, dispatcher contracts.AlertDispatcher, portfolio contracts.PortfolioSource) *Manager {
	return NewManager(testConfig(), 100000, nil, portfolio, store, dispatcher, nil, logger.Nop())
}

var t0 = time.Date(2026, 5, 4, 9, 0, 0, 0, time.UTC)

// rangeBar 종가 close, high/low로 true range를 지정한 봉
func rangeBar(i int, high, low, close float64) contracts.PriceBar {
	return contracts.PriceBar{Time: t0.Add(time.Duration(i) * time.Minute), Open: close, High: high, Low: low, Close: close}
}

// feedCalm 거래 범위 1% 봉 n개를 순서대로 입력
func feedCalm(m *Manager, instruments []string, n int) int {
	for i := 0; i < n; i++ {
		data := make(map[string][]contracts.PriceBar, len(instruments))
		for _, inst := range instruments {
			data[inst] = []contracts.PriceBar{rangeBar(i-1, 101, 100, 100), rangeBar(i, 101, 100, 100)}
		}
		m.MonitorStressEvents(data)
	}
	return n
}

func TestScenario_DrawdownEscalation(t *testing.T) {
	store := &memStore{}
	dispatcher := &recordingDispatcher{}
	portfolio := &staticPortfolio{state: &contracts.PortfolioState{
		Positions: map[string]contracts.Position{
			"EUR_USD": {ID: "p-1", Instrument: "EUR_USD"},
			"GBP_USD": {ID: "p-2", Instrument: "GBP_USD"},
		},
	}}
	m := newTestManager(store, dispatcher, portfolio)

	steps := []struct {
		value     float64
		wantLevel Level
		wantStop  bool
	}{
		{95000, LevelNormal, false},
		{88000, Level1, false},
		{82000, Level2, false},
		{78000, Level3, false},
		{74000, Level4, true},
	}

	for _, step := range steps {
		level := m.UpdatePortfolioValue(step.value)
		m.Wait()

		status := m.GetEmergencyStatus()
		assert.Equal(t, step.wantLevel, level)
		assert.Equal(t, step.wantLevel, status.Level)
		assert.Equal(t, step.wantStop, status.Protocol.StopTrading, "value=%v", step.value)
		assert.Equal(t, step.wantStop, status.TradingHalted, "value=%v", step.value)
	}

	status := m.GetEmergencyStatus()
	require.Len(t, status.RecentTransitions, 4)
	for i, tr := range status.RecentTransitions {
		assert.Equal(t, Level(i), tr.From)
		assert.Equal(t, Level(i+1), tr.To)
		assert.True(t, tr.Escalation)
	}
	assert.InDelta(t, 0.26, status.Drawdown, 1e-12)
	assert.Equal(t, []string{"p-1", "p-2"}, status.PositionsUnderReview)

	store.mu.Lock()
	assert.Len(t, store.transitions, 4)
	assert.Len(t, store.values, 5)
	store.mu.Unlock()

	levelAlerts := dispatcher.ofType(contracts.AlertEmergencyLevel)
	haltAlerts := dispatcher.ofType(contracts.AlertTradingHalt)
	assert.Len(t, levelAlerts, 3)
	require.Len(t, haltAlerts, 1)
	assert.Equal(t, contracts.SeverityCritical, haltAlerts[0].Severity)
}

func TestUpdatePortfolioValue_RecoveryKeepsHalt(t *testing.T) {
	m := newTestManager(nil, nil, nil)

	m.UpdatePortfolioValue(70000)
	require.True(t, m.GetEmergencyStatus().TradingHalted)
	assert.ErrorIs(t, m.ResumeTrading("ops"), ErrHaltActive)

	// 드로다운 회복 → 레벨은 즉시 NORMAL, 거래 중단은 유지
	assert.Equal(t, LevelNormal, m.UpdatePortfolioValue(99000))
	status := m.GetEmergencyStatus()
	assert.True(t, status.TradingHalted)
	assert.Empty(t, status.PositionsUnderReview)
	assert.Equal(t, 0.0, m.CalculatePositionSize(100, "EUR_USD", 0, 0))

	require.NoError(t, m.ResumeTrading("ops"))
	assert.False(t, m.GetEmergencyStatus().TradingHalted)
	assert.Equal(t, 100.0, m.CalculatePositionSize(100, "EUR_USD", 0, 0))

	// 이미 재개된 상태에서는 no-op
	assert.NoError(t, m.ResumeTrading("ops"))
}

func TestUpdatePortfolioValue_RejectsInvalid(t *testing.T) {
	tests := []struct {
		name  string
		value float64
	}{
		{"nan", math.NaN()},
		{"positive inf", math.Inf(1)},
		{"negative inf", math.Inf(-1)},
		{"zero", 0},
		{"negative", -5000},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := &memStore{}
			dispatcher := &recordingDispatcher{}
			m := newTestManager(store, dispatcher, nil)

			require.Equal(t, Level4, m.UpdatePortfolioValue(70000))
			m.Wait()
			before := m.GetEmergencyStatus()

			assert.Equal(t, Level4, m.UpdatePortfolioValue(tt.value))
			m.Wait()

			after := m.GetEmergencyStatus()
			assert.Equal(t, Level4, after.Level)
			assert.InDelta(t, 0.30, after.Drawdown, 1e-12)
			assert.Equal(t, 70000.0, after.PortfolioValue)
			assert.True(t, after.TradingHalted)
			assert.Len(t, after.RecentTransitions, len(before.RecentTransitions))

			store.mu.Lock()
			assert.Len(t, store.values, 1)
			store.mu.Unlock()
		})
	}
}

func TestUpdatePortfolioValue_Flapping(t *testing.T) {
	dispatcher := &recordingDispatcher{}
	m := newTestManager(nil, dispatcher, nil)

	for i := 0; i < 3; i++ {
		m.UpdatePortfolioValue(89900)
		m.UpdatePortfolioValue(90100)
	}
	m.Wait()

	// 히스테리시스 없음: 임계치 주변 진동마다 전이가 기록됨
	status := m.GetEmergencyStatus()
	assert.Len(t, status.RecentTransitions, 6)
	assert.Len(t, dispatcher.ofType(contracts.AlertEmergencyLevel), 6)
	assert.Equal(t, LevelNormal, status.Level)
}

func TestUpdatePortfolioValue_Metrics(t *testing.T) {
	rec := metrics.NewRecorder()
	m := NewManager(testConfig(), 100000, nil, nil, &memStore{err: errors.New("db down")}, nil, rec, logger.Nop())

	m.UpdatePortfolioValue(84000)
	m.Wait()

	status := m.GetEmergencyStatus()
	assert.Equal(t, Level2, status.Level)
	assert.InDelta(t, 0.16, status.Drawdown, 1e-12)
}

func TestScenario_FlashCrash(t *testing.T) {
	store := &memStore{}
	m := newTestManager(store, &recordingDispatcher{}, nil)

	n := feedCalm(m, []string{"EUR_USD"}, 25)

	// true range 6 / close 100 = 0.06 → 기준 0.01의 6배
	events := m.MonitorStressEvents(map[string][]contracts.PriceBar{
		"EUR_USD": {rangeBar(n-1, 101, 100, 100), rangeBar(n, 106, 100, 100)},
	})

	require.Len(t, events, 1)
	assert.Equal(t, StressFlashCrash, events[0].Type)
	assert.InDelta(t, 6.0, events[0].Severity, 1e-9)
	assert.Equal(t, []string{"EUR_USD"}, events[0].AffectedInstruments)
	assert.InDelta(t, 0.02, events[0].ThresholdVolatility, 1e-12)

	m.Wait()
	status := m.GetEmergencyStatus()
	assert.Len(t, status.ActiveStressEvents, 1)
	store.mu.Lock()
	assert.Len(t, store.stress, 1)
	store.mu.Unlock()

	// 다음 정상 사이클에서 활성 목록 교체
	m.MonitorStressEvents(map[string][]contracts.PriceBar{
		"EUR_USD": {rangeBar(n, 106, 100, 100), rangeBar(n+1, 101, 100, 100)},
	})
	assert.Empty(t, m.GetEmergencyStatus().ActiveStressEvents)
}

func TestMonitorStressEvents_ThresholdIndependentOfLevel(t *testing.T) {
	tests := []struct {
		name       string
		value      float64
		wantLevel  Level
		high       float64
		wantEvents int
	}{
		{"normal 1.9x", 100000, LevelNormal, 101.9, 0},
		{"level 1 1.9x", 89000, Level1, 101.9, 0},
		{"level 3 1.9x", 79000, Level3, 101.9, 0},
		{"level 1 2.1x", 89000, Level1, 102.1, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := newTestManager(nil, nil, nil)
			require.Equal(t, tt.wantLevel, m.UpdatePortfolioValue(tt.value))

			n := feedCalm(m, []string{"EUR_USD"}, 25)
			events := m.MonitorStressEvents(map[string][]contracts.PriceBar{
				"EUR_USD": {rangeBar(n-1, 101, 100, 100), rangeBar(n, tt.high, 100, 100)},
			})

			require.Len(t, events, tt.wantEvents)
			if tt.wantEvents > 0 {
				assert.InDelta(t, 0.02, events[0].ThresholdVolatility, 1e-12)
			}
			m.Wait()
		})
	}
}

func TestMonitorStressEvents_Classification(t *testing.T) {
	tests := []struct {
		name     string
		high     float64
		wantType StressType
		wantNone bool
	}{
		{"below threshold", 101.5, "", true},
		{"spike", 104, StressVolatilitySpike, false},
		{"below flash crash", 104.5, StressVolatilitySpike, false},
		{"flash crash", 108, StressFlashCrash, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := newTestManager(nil, nil, nil)
			n := feedCalm(m, []string{"USD_JPY"}, 20)

			events := m.MonitorStressEvents(map[string][]contracts.PriceBar{
				"USD_JPY": {rangeBar(n-1, 101, 100, 100), rangeBar(n, tt.high, 100, 100)},
			})
			if tt.wantNone {
				assert.Empty(t, events)
				return
			}
			require.Len(t, events, 1)
			assert.Equal(t, tt.wantType, events[0].Type)
		})
	}
}

func TestMonitorStressEvents_NeedsBaseline(t *testing.T) {
	m := newTestManager(nil, nil, nil)
	n := feedCalm(m, []string{"EUR_USD"}, 10)

	events := m.MonitorStressEvents(map[string][]contracts.PriceBar{
		"EUR_USD": {rangeBar(n-1, 101, 100, 100), rangeBar(n, 110, 100, 100)},
	})
	assert.Empty(t, events)
}

func TestMonitorStressEvents_SameBarIgnored(t *testing.T) {
	m := newTestManager(nil, nil, nil)
	feedCalm(m, []string{"EUR_USD"}, 20)

	bars := []contracts.PriceBar{rangeBar(19, 101, 100, 100), rangeBar(20, 110, 100, 100)}
	require.Len(t, m.MonitorStressEvents(map[string][]contracts.PriceBar{"EUR_USD": bars}), 1)
	assert.Empty(t, m.MonitorStressEvents(map[string][]contracts.PriceBar{"EUR_USD": bars}))
}

func TestMonitorStressEvents_CorrelationBreakdown(t *testing.T) {
	m := newTestManager(nil, nil, nil)

	// 최근 10개 수익률이 서로 직교하는 세 패턴
	patterns := map[string][]float64{
		"EUR_USD": {1, -1, 1, -1, 1, -1, 1, -1, 1, -1},
		"GBP_USD": {1, 1, -1, -1, 1, 1, -1, -1, 0, 0},
		"AUD_USD": {1, 1, 1, 1, -1, -1, -1, -1, 0, 0},
	}
	closes := map[string]float64{"EUR_USD": 100, "GBP_USD": 100, "AUD_USD": 100}
	prev := map[string]float64{"EUR_USD": 100, "GBP_USD": 100, "AUD_USD": 100}

	var last []StressEvent
	for i := 0; i <= 30; i++ {
		data := make(map[string][]contracts.PriceBar, len(patterns))
		for inst, pattern := range patterns {
			if i > 20 {
				closes[inst] = prev[inst] * (1 + 0.01*pattern[i-21])
			}
			c := closes[inst]
			high := c * 1.03
			if i == 30 {
				high = c * 1.30
			}
			data[inst] = []contracts.PriceBar{
				rangeBar(i-1, prev[inst]*1.03, prev[inst], prev[inst]),
				rangeBar(i, high, c, c),
			}
			prev[inst] = c
		}
		last = m.MonitorStressEvents(data)
	}

	require.Len(t, last, 4)
	counts := make(map[StressType]int)
	for _, ev := range last {
		counts[ev.Type]++
	}
	assert.Equal(t, 3, counts[StressFlashCrash])
	require.Equal(t, 1, counts[StressCorrelationBreakdown])

	breakdown := last[3]
	assert.Equal(t, StressCorrelationBreakdown, breakdown.Type)
	assert.Less(t, breakdown.CurrentVolatility, 0.1)
	assert.Len(t, breakdown.AffectedInstruments, 3)
}

func TestCalculatePositionSize(t *testing.T) {
	tests := []struct {
		name        string
		value       float64 // 포트폴리오 가치 (초기 100000)
		currentVol  float64
		correlation float64
		want        float64
	}{
		{"normal no penalties", 100000, 0, 0, 100},
		{"normal correlation", 100000, 0, 0.3, 70},
		{"correlation penalty floor", 100000, 0, 0.8, 50},
		{"negative correlation no boost", 100000, 0, -0.5, 100},
		{"calm volatility no change", 100000, 0.005, 0, 100},
		{"volatility penalty", 100000, 0.02, 0, 50},
		{"level 2 combined", 84000, 0.02, 0.6, 15},
		{"level 3 hits floor", 79000, 0.02, 0.9, 10},
		{"level 4 halted", 70000, 0, 0, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := newTestManager(nil, nil, nil)
			feedCalm(m, []string{"EUR_USD"}, 20) // 기준 변동성 0.01
			m.UpdatePortfolioValue(tt.value)

			got := m.CalculatePositionSize(100, "EUR_USD", tt.currentVol, tt.correlation)
			assert.InDelta(t, tt.want, got, 1e-9)
		})
	}

	m := newTestManager(nil, nil, nil)
	assert.Equal(t, 0.0, m.CalculatePositionSize(0, "EUR_USD", 0, 0))
	assert.Equal(t, 100.0, m.CalculatePositionSize(100, "UNKNOWN", 0.5, 0))
}

func TestEvaluateRiskSignals(t *testing.T) {
	dispatcher := &recordingDispatcher{}
	m := newTestManager(nil, dispatcher, nil)

	assert.Nil(t, m.EvaluateRiskSignals(RiskSignals{VaRMultiMethodBreach: true}))

	w := m.EvaluateRiskSignals(RiskSignals{VaRMultiMethodBreach: true, CorrelationEmergency: true})
	require.NotNil(t, w)
	assert.Equal(t, []string{"var_multi_method_breach", "correlation_emergency"}, w.Signals)

	// 같은 신호 조합은 재알림 없음
	m.EvaluateRiskSignals(RiskSignals{VaRMultiMethodBreach: true, CorrelationEmergency: true})
	m.Wait()
	composite := dispatcher.ofType(contracts.AlertCompositeRisk)
	require.Len(t, composite, 1)
	assert.Equal(t, contracts.SeverityCritical, composite[0].Severity)

	// 레벨은 변경되지 않음
	status := m.GetEmergencyStatus()
	assert.Equal(t, LevelNormal, status.Level)
	require.NotNil(t, status.CompositeWarning)

	// 드로다운 레벨도 신호로 계산
	m.UpdatePortfolioValue(88000)
	w = m.EvaluateRiskSignals(RiskSignals{CorrelationEmergency: true})
	require.NotNil(t, w)
	assert.Contains(t, w.Signals, "drawdown_level_1")
	assert.Equal(t, Level1, m.GetEmergencyStatus().Level)

	assert.Nil(t, m.EvaluateRiskSignals(RiskSignals{}))
	assert.Nil(t, m.GetEmergencyStatus().CompositeWarning)
}

type countingMarket struct {
	calls    int32
	failures int32
}

func (c *countingMarket) FetchMarketData(ctx context.Context) (map[string][]contracts.PriceBar, error) {
	n := atomic.AddInt32(&c.calls, 1)
	if n <= atomic.LoadInt32(&c.failures) {
		return nil, errors.New("feed unavailable")
	}
	return map[string][]contracts.PriceBar{
		"EUR_USD": {rangeBar(int(n)-1, 101, 100, 100), rangeBar(int(n), 101, 100, 100)},
	}, nil
}

func TestMonitorLoop_StartStop(t *testing.T) {
	market := &countingMarket{failures: 2}
	m := NewManager(testConfig(), 100000, market, nil, nil, nil, nil, logger.Nop())

	require.NoError(t, m.Start(context.Background()))
	assert.ErrorIs(t, m.Start(context.Background()), ErrAlreadyRunning)
	assert.True(t, m.Running())

	// 실패 후에도 루프는 계속 동작
	require.Eventually(t, func() bool {
		return atomic.LoadInt32(&market.calls) >= 4
	}, 2*time.Second, 5*time.Millisecond)
	assert.True(t, m.GetEmergencyStatus().Monitoring)
	assert.NotNil(t, m.GetEmergencyStatus().LastCycleAt)

	m.Stop()
	assert.False(t, m.Running())
	calls := atomic.LoadInt32(&market.calls)
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, calls, atomic.LoadInt32(&market.calls))

	m.Stop()
}

func TestMonitorLoop_ParentCancel(t *testing.T) {
	m := NewManager(testConfig(), 100000, &countingMarket{}, nil, nil, nil, nil, logger.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, m.Start(ctx))
	cancel()

	require.Eventually(t, func() bool { return !m.Running() }, time.Second, 5*time.Millisecond)
	require.NoError(t, m.Start(context.Background()))
	m.Stop()
}

func TestRunCycle_NoSource(t *testing.T) {
	m := newTestManager(nil, nil, nil)
	assert.Error(t, m.RunCycle(context.Background()))
}
