package emergency

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/wonny/aegis-risk/internal/contracts"
	"github.com/wonny/aegis-risk/internal/metrics"
	"github.com/wonny/aegis-risk/internal/risk"
	"github.com/wonny/aegis-risk/pkg/background"
	"github.com/wonny/aegis-risk/pkg/config"
	"github.com/wonny/aegis-risk/pkg/logger"
	"github.com/wonny/aegis-risk/pkg/ringbuf"
)

const (
	// transitionHistory 메모리에 보관하는 전이 기록 수
	transitionHistory = 100
	// minCorrelationPenalty 상관관계 페널티 하한
	minCorrelationPenalty = 0.5
	// minSizeFraction 포지션 크기 하한 (base 대비)
	minSizeFraction = 0.1
)

// Manager owns the emergency level state machine and instrument stress detection
// ⭐ SSOT: 현재 비상 레벨/거래 중단 여부는 여기서만 결정
type Manager struct {
	cfg        config.EmergencyConfig
	initial    float64
	market     contracts.MarketDataSource
	portfolio  contracts.PortfolioSource
	store      Store
	dispatcher contracts.AlertDispatcher
	metrics    *metrics.Recorder
	logger     *logger.Logger
	bg         *background.Group
	now        func() time.Time

	mu          sync.RWMutex
	level       Level
	value       float64
	drawdown    float64
	halted      bool
	active      []StressEvent
	instruments map[string]*instrumentState
	transitions *ringbuf.Ring[Transition]
	underReview []string
	composite   *CompositeWarning
	lastCycleAt *time.Time

	loopMu sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// NewManager creates the emergency manager at NORMAL
// portfolio, store, dispatcher, rec는 nil 허용
func NewManager(
	cfg config.EmergencyConfig,
	initialValue float64,
	market contracts.MarketDataSource,
	portfolio contracts.PortfolioSource,
	store Store,
	dispatcher contracts.AlertDispatcher,
	rec *metrics.Recorder,
	log *logger.Logger,
) *Manager {
	if log == nil {
		log = logger.Nop()
	}
	log = log.WithComponent("emergency_manager")

	timeout := cfg.PersistTimeout
	bg := background.New(log, timeout)
	bg.OnError = func(name string, err error) { rec.IncPersistenceFailure(name) }

	rec.SetEmergencyLevel(int(LevelNormal))
	rec.SetTradingHalted(false)

	return &Manager{
		cfg:         cfg,
		initial:     initialValue,
		market:      market,
		portfolio:   portfolio,
		store:       store,
		dispatcher:  dispatcher,
		metrics:     rec,
		logger:      log,
		bg:          bg,
		now:         time.Now,
		level:       LevelNormal,
		value:       initialValue,
		instruments: make(map[string]*instrumentState),
		transitions: ringbuf.New[Transition](transitionHistory),
	}
}

// =============================================================================
// Stress detection
// =============================================================================

// MonitorStressEvents scans each instrument's latest bar for abnormal volatility
// 감지된 이벤트가 이번 사이클의 활성 스트레스 목록을 대체함
func (m *Manager) MonitorStressEvents(marketData map[string][]contracts.PriceBar) []StressEvent {
	now := m.now()

	names := make([]string, 0, len(marketData))
	for name := range marketData {
		names = append(names, name)
	}
	sort.Strings(names)

	m.mu.Lock()
	multiplier := m.cfg.SpikeMultiplier

	var events []StressEvent
	for _, name := range names {
		bars := marketData[name]
		if len(bars) == 0 {
			continue
		}
		last := bars[len(bars)-1]
		st := m.instrumentLocked(name)
		if !last.Time.IsZero() && last.Time.Equal(st.lastBar) {
			continue
		}

		current, ok := trueRangeRatio(bars)
		if !ok {
			m.logger.WithField("instrument", name).Warn("invalid bar skipped in stress scan")
			continue
		}

		if st.volatility.Len() >= m.cfg.BaselineWindow {
			baseline := risk.Mean(st.volatility.Last(m.cfg.BaselineWindow))
			if ev, ok := detectSpike(name, current, baseline, multiplier, now); ok {
				events = append(events, ev)
			}
		}

		st.volatility.Push(current)
		st.closes.Push(last.Close)
		st.lastBar = last.Time
	}

	if len(events) >= minBreakdownInstruments {
		if ev, ok := m.correlationBreakdownLocked(events, now); ok {
			events = append(events, ev)
		}
	}

	m.active = events
	m.lastCycleAt = &now
	m.mu.Unlock()

	m.metrics.SetActiveStressEvents(len(events))
	for _, ev := range events {
		m.metrics.IncStressEvent(string(ev.Type))
		m.logger.WithFields(map[string]interface{}{
			"type":        string(ev.Type),
			"severity":    ev.Severity,
			"instruments": ev.AffectedInstruments,
		}).Warn("stress event detected")
		m.dispatch(ev.ToAlert())
	}

	if len(events) > 0 && m.store != nil {
		persisted := append([]StressEvent(nil), events...)
		m.bg.Go("stress_events", func(ctx context.Context) error {
			return m.store.SaveStressEvents(ctx, persisted)
		})
	}

	return append([]StressEvent(nil), events...)
}

func (m *Manager) instrumentLocked(name string) *instrumentState {
	st, ok := m.instruments[name]
	if !ok {
		st = &instrumentState{
			volatility: ringbuf.New[float64](m.cfg.VolatilityHistory),
			closes:     ringbuf.New[float64](m.cfg.VolatilityHistory),
		}
		m.instruments[name] = st
	}
	return st
}

// correlationBreakdownLocked 다수 종목이 동시에 스트레스일 때 상관 붕괴 여부 판정
// BaselineWindow 이상 샘플을 가진 종목들의 최근 BreakdownPeriods 수익률 평균 |상관|이 임계치 미만이면 이벤트
func (m *Manager) correlationBreakdownLocked(stressed []StressEvent, now time.Time) (StressEvent, bool) {
	returns := make(map[string][]float64)
	for name, st := range m.instruments {
		if st.volatility.Len() < m.cfg.BaselineWindow {
			continue
		}
		r := risk.SimpleReturns(st.closes.Last(m.cfg.BreakdownPeriods + 1))
		if len(r) >= 2 {
			returns[name] = r
		}
	}
	if len(returns) < minBreakdownInstruments {
		return StressEvent{}, false
	}

	avg, ok := averageAbsCorrelation(returns)
	if !ok || avg >= m.cfg.BreakdownThreshold {
		return StressEvent{}, false
	}

	affected := make([]string, 0, len(returns))
	for name := range returns {
		affected = append(affected, name)
	}
	sort.Strings(affected)

	var severity float64
	for _, ev := range stressed {
		severity += ev.Severity
	}

	return StressEvent{
		ID:                  uuid.New().String(),
		Type:                StressCorrelationBreakdown,
		Severity:            severity / float64(len(stressed)),
		DetectedAt:          now,
		CurrentVolatility:   avg,
		ThresholdVolatility: m.cfg.BreakdownThreshold,
		AffectedInstruments: affected,
		RecommendedAction:   recommendedAction(StressCorrelationBreakdown),
	}, true
}

// =============================================================================
// Level state machine
// =============================================================================

// UpdatePortfolioValue recomputes drawdown and the active level
// 레벨은 순간 드로다운의 순수 함수 (상승/하강 모두 즉시 반영)
// NaN/Inf/0 이하 값은 상태를 바꾸지 않고 현재 레벨 반환
func (m *Manager) UpdatePortfolioValue(value float64) Level {
	if !validPortfolioValue(value) {
		m.mu.RLock()
		level := m.level
		m.mu.RUnlock()

		m.logger.WithFields(map[string]interface{}{
			"value": fmt.Sprint(value),
			"level": level.String(),
		}).Warn("invalid portfolio value rejected")
		return level
	}

	now := m.now()

	m.mu.Lock()
	drawdown := 0.0
	if m.initial > 0 {
		drawdown = (m.initial - value) / m.initial
	}
	m.value = value
	m.drawdown = drawdown

	var transition *Transition
	if target := LevelForDrawdown(drawdown); target != m.level {
		t := m.changeLevel(target, drawdown, value, now)
		transition = &t
	}
	level := m.level
	halted := m.halted
	m.mu.Unlock()

	m.metrics.ObserveDrawdown(drawdown)
	m.metrics.SetEmergencyLevel(int(level))
	m.metrics.SetTradingHalted(halted)

	if m.store != nil {
		point := PortfolioValue{Timestamp: now, Value: value, Drawdown: drawdown, Level: level}
		m.bg.Go("portfolio_values", func(ctx context.Context) error {
			return m.store.SavePortfolioValue(ctx, point)
		})
	}

	if transition != nil {
		m.afterTransition(*transition)
	}

	return level
}

func validPortfolioValue(v float64) bool {
	return v > 0 && !math.IsNaN(v) && !math.IsInf(v, 0)
}

// changeLevel records the transition and applies protocol state (caller holds mu)
func (m *Manager) changeLevel(to Level, drawdown, value float64, now time.Time) Transition {
	from := m.level
	protocol := ProtocolFor(to)

	t := Transition{
		ID:             uuid.New().String(),
		From:           from,
		To:             to,
		Drawdown:       drawdown,
		PortfolioValue: value,
		Protocol:       protocol,
		Escalation:     to > from,
		Timestamp:      now,
	}
	m.transitions.Push(t)
	m.level = to

	// 거래 중단은 레벨이 내려가도 ResumeTrading 전까지 유지
	if protocol.StopTrading {
		m.halted = true
	}
	if to < Level3 {
		m.underReview = nil
	}

	log := m.logger.WithFields(map[string]interface{}{
		"from":       from.String(),
		"to":         to.String(),
		"drawdown":   drawdown,
		"multiplier": protocol.PositionSizeMultiplier,
	})
	switch {
	case protocol.StopTrading:
		log.Error("emergency level changed: trading halted")
	case t.Escalation:
		log.Warn("emergency level escalated")
	default:
		log.Info("emergency level relaxed")
	}

	return t
}

// afterTransition runs the side effects of a transition off the decision path
func (m *Manager) afterTransition(t Transition) {
	m.metrics.IncLevelTransition(t.To.String())

	if m.store != nil {
		m.bg.Go("emergency_transitions", func(ctx context.Context) error {
			return m.store.SaveTransition(ctx, t)
		})
	}

	m.dispatch(transitionAlert(t))

	if t.To >= Level3 && m.portfolio != nil {
		m.bg.Go("closure_review", m.reviewPositions)
	}
}

// reviewPositions LEVEL_3 이상에서 열린 포지션을 청산 검토 대상으로 표시
func (m *Manager) reviewPositions(ctx context.Context) error {
	state, err := m.portfolio.CurrentPortfolio(ctx)
	if err != nil {
		return fmt.Errorf("closure review: %w", err)
	}

	ids := state.PositionIDs()

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.level < Level3 {
		return nil
	}
	m.underReview = ids

	m.logger.WithField("positions", len(ids)).Warn("open positions flagged for closure review")
	return nil
}

func transitionAlert(t Transition) contracts.Alert {
	alertType := contracts.AlertEmergencyLevel
	tags := []string{"emergency", t.To.String()}
	if t.Protocol.StopTrading {
		alertType = contracts.AlertTradingHalt
		tags = append(tags, "trading_halt")
	}

	return contracts.Alert{
		ID:       t.ID,
		Type:     alertType,
		Severity: t.Protocol.AlertPriority,
		Title:    fmt.Sprintf("Emergency level %s → %s", t.From, t.To),
		Message: fmt.Sprintf("drawdown %.2f%%: %s (position size ×%.1f)",
			t.Drawdown*100, t.Protocol.Description, t.Protocol.PositionSizeMultiplier),
		Context: map[string]interface{}{
			"from":            t.From.String(),
			"to":              t.To.String(),
			"drawdown":        t.Drawdown,
			"portfolio_value": t.PortfolioValue,
			"stop_trading":    t.Protocol.StopTrading,
			"escalation":      t.Escalation,
		},
		Tags:      tags,
		CreatedAt: t.Timestamp,
	}
}

// =============================================================================
// Position sizing & signals
// =============================================================================

// CalculatePositionSize applies, in order: protocol multiplier, volatility penalty,
// correlation penalty, a 10% floor, and the trading-halt override
func (m *Manager) CalculatePositionSize(baseSize float64, instrument string, currentVolatility, portfolioCorrelation float64) float64 {
	if baseSize <= 0 {
		return 0
	}

	m.mu.RLock()
	protocol := ProtocolFor(m.level)
	halted := m.halted
	baseline := m.baselineLocked(instrument)
	m.mu.RUnlock()

	size := baseSize * protocol.PositionSizeMultiplier

	if baseline > 0 && currentVolatility > baseline {
		size *= baseline / currentVolatility
	}

	corr := math.Min(1, math.Max(0, portfolioCorrelation))
	size *= math.Max(minCorrelationPenalty, 1-corr)

	size = math.Max(size, baseSize*minSizeFraction)

	if protocol.StopTrading || halted {
		return 0
	}
	return size
}

func (m *Manager) baselineLocked(instrument string) float64 {
	st, ok := m.instruments[instrument]
	if !ok || st.volatility.Len() == 0 {
		return 0
	}
	return risk.Mean(st.volatility.Last(m.cfg.BaselineWindow))
}

// EvaluateRiskSignals raises a composite warning when two or more independent
// risk signals are active; the drawdown-derived level is never changed here
func (m *Manager) EvaluateRiskSignals(signals RiskSignals) *CompositeWarning {
	now := m.now()

	m.mu.Lock()
	var names []string
	if signals.VaRMultiMethodBreach {
		names = append(names, "var_multi_method_breach")
	}
	if signals.CorrelationEmergency {
		names = append(names, "correlation_emergency")
	}
	if len(m.active) > 0 {
		names = append(names, "stress_events")
	}
	if m.level >= Level1 {
		names = append(names, "drawdown_"+strings.ToLower(m.level.String()))
	}

	if len(names) < 2 {
		m.composite = nil
		m.mu.Unlock()
		return nil
	}

	changed := m.composite == nil || strings.Join(m.composite.Signals, ",") != strings.Join(names, ",")
	if changed {
		m.composite = &CompositeWarning{Signals: names, DetectedAt: now}
	}
	warning := *m.composite
	level := m.level
	m.mu.Unlock()

	if changed {
		m.logger.WithField("signals", names).Error("multiple risk signals active")
		m.dispatch(contracts.Alert{
			ID:       uuid.New().String(),
			Type:     contracts.AlertCompositeRisk,
			Severity: contracts.SeverityCritical,
			Title:    "Multiple risk signals active",
			Message:  fmt.Sprintf("%d signals at %s: %s", len(names), level, strings.Join(names, ", ")),
			Context: map[string]interface{}{
				"signals": names,
				"level":   level.String(),
			},
			Tags:      []string{"composite"},
			CreatedAt: now,
		})
	}

	return &warning
}

// ResumeTrading clears a sticky trading halt after external review
// 활성 프로토콜이 여전히 거래 중단이면 ErrHaltActive
func (m *Manager) ResumeTrading(operator string) error {
	m.mu.Lock()
	level := m.level
	if ProtocolFor(level).StopTrading {
		m.mu.Unlock()
		return ErrHaltActive
	}
	if !m.halted {
		m.mu.Unlock()
		return nil
	}
	m.halted = false
	m.mu.Unlock()

	m.metrics.SetTradingHalted(false)
	m.logger.WithFields(map[string]interface{}{
		"operator": operator,
		"level":    level.String(),
	}).Warn("trading resumed")

	m.dispatch(contracts.Alert{
		ID:        uuid.New().String(),
		Type:      contracts.AlertTradingHalt,
		Severity:  contracts.SeverityMedium,
		Title:     "Trading resumed",
		Message:   fmt.Sprintf("halt cleared by %s at %s", operator, level),
		Context:   map[string]interface{}{"operator": operator, "level": level.String()},
		Tags:      []string{"emergency", "resume"},
		CreatedAt: m.now(),
	})
	return nil
}

// GetEmergencyStatus returns a read-only snapshot
func (m *Manager) GetEmergencyStatus() Status {
	m.mu.RLock()
	defer m.mu.RUnlock()

	s := Status{
		Level:                m.level,
		Drawdown:             m.drawdown,
		PortfolioValue:       m.value,
		InitialValue:         m.initial,
		Protocol:             ProtocolFor(m.level),
		TradingHalted:        m.halted,
		ActiveStressEvents:   append([]StressEvent{}, m.active...),
		PositionsUnderReview: append([]string(nil), m.underReview...),
		RecentTransitions:    m.transitions.Values(),
		Monitoring:           m.Running(),
	}
	if m.composite != nil {
		w := *m.composite
		s.CompositeWarning = &w
	}
	if m.lastCycleAt != nil {
		t := *m.lastCycleAt
		s.LastCycleAt = &t
	}
	return s
}

func (m *Manager) dispatch(alert contracts.Alert) {
	if m.dispatcher == nil {
		return
	}
	m.bg.Go("risk_alerts", func(ctx context.Context) error {
		// 전달 실패는 전이 결정에 영향 없음
		if err := m.dispatcher.Dispatch(ctx, alert); err != nil {
			m.logger.WithError(err).WithField("alert_type", string(alert.Type)).Warn("alert dispatch failed")
		}
		return nil
	})
}

// Wait blocks until pending persistence, alerts and reviews complete
func (m *Manager) Wait() {
	m.bg.Wait()
}
