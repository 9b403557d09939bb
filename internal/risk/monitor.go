package risk

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/wonny/aegis-risk/internal/contracts"
	"github.com/wonny/aegis-risk/internal/metrics"
	"github.com/wonny/aegis-risk/pkg/background"
	"github.com/wonny/aegis-risk/pkg/config"
	"github.com/wonny/aegis-risk/pkg/logger"
)

// Store persists VaR calculations (append-only)
type Store interface {
	SaveVaRResults(ctx context.Context, results []VaRResult) error
}

// VaRMonitor computes per-position and portfolio VaR and evaluates the daily target
// ⭐ SSOT: VaR 계산/브리치 판정은 여기서만
// 비상 레벨(emergency level)은 절대 변경하지 않음 → 알림만 생성
type VaRMonitor struct {
	cfg         config.VaRConfig
	prices      contracts.PriceHistoryProvider
	store       Store
	calculators map[Method]Calculator
	metrics     *metrics.Recorder
	logger      *logger.Logger
	bg          *background.Group
	now         func() time.Time

	mu                 sync.RWMutex
	lastResults        map[Method]VaRResult
	lastPortfolioValue float64
	lastBreaches       map[Method]bool
	breachCount        int
	lastBreachAt       *time.Time
	calculatedAt       *time.Time
}

// NewVaRMonitor creates a new VaR monitor; store and rec may be nil
func NewVaRMonitor(cfg config.VaRConfig, prices contracts.PriceHistoryProvider, store Store, rec *metrics.Recorder, log *logger.Logger) *VaRMonitor {
	if log == nil {
		log = logger.Nop()
	}
	log = log.WithComponent("var_monitor")

	bg := background.New(log, 0)
	bg.OnError = func(name string, err error) { rec.IncPersistenceFailure(name) }

	return &VaRMonitor{
		cfg:    cfg,
		prices: prices,
		store:  store,
		calculators: NewCalculators(MethodParams{
			Lookback:        cfg.Lookback,
			MinObservations: cfg.MinObservations,
			Simulations:     cfg.Simulations,
			Seed:            cfg.Seed,
		}),
		metrics:      rec,
		logger:       log,
		bg:           bg,
		now:          time.Now,
		lastResults:  make(map[Method]VaRResult),
		lastBreaches: make(map[Method]bool),
	}
}

// instrumentSeries 종목별 수익률 + 최신 종가
type instrumentSeries struct {
	returns   []float64
	lastClose float64
}

// CalculatePortfolioVaR computes VaR for every open position with every method
// and sums per-method position VaRs into a PORTFOLIO result
// 포지션이 없거나 모든 종목의 데이터가 부족하면 빈 map
func (m *VaRMonitor) CalculatePortfolioVaR(ctx context.Context, state *contracts.PortfolioState) map[Method]VaRResult {
	out := make(map[Method]VaRResult)
	if state == nil || len(state.Positions) == 0 {
		m.resetLast()
		return out
	}

	series := m.fetchSeries(ctx, state.Instruments())
	now := m.now()

	totals := make(map[Method]float64, len(AllMethods))
	var positionResults []VaRResult
	var totalNotional float64
	covered := 0

	for _, instrument := range state.Instruments() {
		s, ok := series[instrument]
		if !ok {
			continue
		}

		pos := state.Positions[instrument]
		value := pos.Notional(s.lastClose)
		totalNotional += value

		if len(s.returns) < m.cfg.MinObservations {
			m.logger.WithFields(map[string]interface{}{
				"instrument":   instrument,
				"observations": len(s.returns),
				"required":     m.cfg.MinObservations,
			}).Warn("insufficient return history, VaR degraded to zero")
			continue
		}
		covered++

		vol := StdDev(window(s.returns, MethodParams{Lookback: m.cfg.Lookback, MinObservations: m.cfg.MinObservations}))
		for _, method := range AllMethods {
			amount := m.calculators[method](s.returns, value, m.cfg.Confidence)
			if math.IsNaN(amount) || math.IsInf(amount, 0) {
				m.logger.WithField("instrument", instrument).WithField("method", string(method)).Warn("non-finite VaR discarded")
				amount = 0
			}
			totals[method] += amount
			positionResults = append(positionResults, VaRResult{
				Method:       method,
				Amount:       amount,
				Confidence:   m.cfg.Confidence,
				Timestamp:    now,
				Instrument:   instrument,
				PositionSize: value,
				Volatility:   vol,
			})
		}
	}

	if covered == 0 {
		m.resetLast()
		return out
	}

	// ⭐ 단순 합산 (상관관계 상쇄 없음): 목표치 0.31%가 이 방식으로 보정됨
	for _, method := range AllMethods {
		out[method] = VaRResult{
			Method:       method,
			Amount:       totals[method],
			Confidence:   m.cfg.Confidence,
			Timestamp:    now,
			Instrument:   PortfolioInstrument,
			PositionSize: totalNotional,
		}
	}

	portfolioValue := state.TotalBalance
	if portfolioValue <= 0 {
		portfolioValue = totalNotional
	}

	m.mu.Lock()
	m.lastResults = out
	m.lastPortfolioValue = portfolioValue
	m.calculatedAt = &now
	m.mu.Unlock()

	for method, r := range out {
		if portfolioValue > 0 {
			m.metrics.ObserveVaR(string(method), r.Amount/portfolioValue)
		}
	}

	m.persist(append(positionResults, portfolioResults(out)...))

	m.logger.WithFields(map[string]interface{}{
		"positions":       len(state.Positions),
		"covered":         covered,
		"portfolio_value": portfolioValue,
		"historical":      out[MethodHistorical].Amount,
	}).Debug("portfolio VaR calculated")

	return copyResults(out)
}

// resetLast clears the previous result so stale breaches are not re-reported
func (m *VaRMonitor) resetLast() {
	now := m.now()

	m.mu.Lock()
	m.lastResults = make(map[Method]VaRResult)
	m.lastPortfolioValue = 0
	m.lastBreaches = make(map[Method]bool)
	m.calculatedAt = &now
	m.mu.Unlock()
}

// fetchSeries loads price history concurrently
// 종목별 실패는 로그 후 제외 (전체 계산을 중단하지 않음)
func (m *VaRMonitor) fetchSeries(ctx context.Context, instruments []string) map[string]instrumentSeries {
	var mu sync.Mutex
	out := make(map[string]instrumentSeries, len(instruments))

	g, gctx := errgroup.WithContext(ctx)
	if m.cfg.FetchParallel > 0 {
		g.SetLimit(m.cfg.FetchParallel)
	}

	for _, instrument := range instruments {
		instrument := instrument
		g.Go(func() error {
			bars, err := m.prices.GetPriceHistory(gctx, instrument)
			if err != nil {
				m.logger.WithError(err).WithField("instrument", instrument).Warn("price history unavailable")
				return nil
			}
			if len(bars) == 0 {
				m.logger.WithField("instrument", instrument).Warn("no price history")
				return nil
			}

			s := instrumentSeries{
				returns:   SimpleReturns(contracts.Closes(bars)),
				lastClose: bars[len(bars)-1].Close,
			}

			mu.Lock()
			out[instrument] = s
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	return out
}

func (m *VaRMonitor) persist(results []VaRResult) {
	if m.store == nil || len(results) == 0 {
		return
	}
	m.bg.Go("var_calculations", func(ctx context.Context) error {
		return m.store.SaveVaRResults(ctx, results)
	})
}

// CheckVaRBreaches compares the last portfolio VaR (as a fraction of portfolio value)
// with the daily target; each breaching method increments the breach counter
func (m *VaRMonitor) CheckVaRBreaches() map[Method]bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	breaches := make(map[Method]bool, len(m.lastResults))
	if len(m.lastResults) == 0 || m.lastPortfolioValue <= 0 {
		m.lastBreaches = breaches
		return breaches
	}

	now := m.now()
	for method, r := range m.lastResults {
		breached := r.Amount/m.lastPortfolioValue > m.cfg.TargetDailyVaR
		breaches[method] = breached
		if breached {
			m.breachCount++
			m.lastBreachAt = &now
			m.metrics.IncVaRBreach(string(method))
		}
	}
	m.lastBreaches = breaches

	return copyBreaches(breaches)
}

// GenerateVaRAlerts builds one alert per breaching method
// HIGH: VaR > HighMultiplier × target, 그 외 MEDIUM
// 2개 이상 방식이 동시에 브리치하면 "multi_method" 태그 → 비상 관리자가 복합 신호로 사용
func (m *VaRMonitor) GenerateVaRAlerts(breaches map[Method]bool) []contracts.Alert {
	m.mu.RLock()
	results := m.lastResults
	value := m.lastPortfolioValue
	m.mu.RUnlock()

	breaching := 0
	for _, b := range breaches {
		if b {
			breaching++
		}
	}

	alerts := make([]contracts.Alert, 0, breaching)
	if breaching == 0 || value <= 0 {
		return alerts
	}

	now := m.now()
	for _, method := range AllMethods {
		if !breaches[method] {
			continue
		}
		r := results[method]
		fraction := r.Amount / value

		severity := contracts.SeverityMedium
		if fraction > m.cfg.TargetDailyVaR*m.cfg.HighMultiplier {
			severity = contracts.SeverityHigh
		}

		tags := []string{"var", string(method)}
		if breaching >= 2 {
			tags = append(tags, "multi_method")
		}

		alerts = append(alerts, contracts.Alert{
			ID:       uuid.New().String(),
			Type:     contracts.AlertVaRBreach,
			Severity: severity,
			Title:    fmt.Sprintf("VaR breach (%s)", method),
			Message: fmt.Sprintf("%s VaR %.2f is %.3f%% of portfolio, target %.3f%%",
				method, r.Amount, fraction*100, m.cfg.TargetDailyVaR*100),
			Context: map[string]interface{}{
				"method":           string(method),
				"var_amount":       r.Amount,
				"var_fraction":     fraction,
				"target":           m.cfg.TargetDailyVaR,
				"confidence":       r.Confidence,
				"portfolio_value":  value,
				"breaching_method": breaching,
			},
			Tags:      tags,
			CreatedAt: now,
		})
	}

	return alerts
}

// MultiMethodBreach reports whether the last breach check flagged >= 2 methods
func (m *VaRMonitor) MultiMethodBreach() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return countTrue(m.lastBreaches) >= 2
}

// Summary returns a dashboard snapshot
func (m *VaRMonitor) Summary() Summary {
	m.mu.RLock()
	defer m.mu.RUnlock()

	s := Summary{
		PortfolioValue:    m.lastPortfolioValue,
		TargetDailyVaR:    m.cfg.TargetDailyVaR,
		Results:           copyResults(m.lastResults),
		VaRFraction:       make(map[Method]float64, len(m.lastResults)),
		LastBreaches:      copyBreaches(m.lastBreaches),
		BreachCount:       m.breachCount,
		MultiMethodBreach: countTrue(m.lastBreaches) >= 2,
	}
	for method, r := range m.lastResults {
		if m.lastPortfolioValue > 0 {
			s.VaRFraction[method] = r.Amount / m.lastPortfolioValue
		}
	}
	if m.lastBreachAt != nil {
		t := *m.lastBreachAt
		s.LastBreachAt = &t
	}
	if m.calculatedAt != nil {
		t := *m.calculatedAt
		s.CalculatedAt = &t
	}
	return s
}

// Wait blocks until pending persistence completes
func (m *VaRMonitor) Wait() {
	m.bg.Wait()
}

func portfolioResults(results map[Method]VaRResult) []VaRResult {
	out := make([]VaRResult, 0, len(results))
	for _, method := range AllMethods {
		if r, ok := results[method]; ok {
			out = append(out, r)
		}
	}
	return out
}

func copyResults(in map[Method]VaRResult) map[Method]VaRResult {
	out := make(map[Method]VaRResult, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

func copyBreaches(in map[Method]bool) map[Method]bool {
	out := make(map[Method]bool, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

func countTrue(in map[Method]bool) int {
	n := 0
	for _, v := range in {
		if v {
			n++
		}
	}
	return n
}
