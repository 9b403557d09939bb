package correlation

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/wonny/aegis-risk/internal/contracts"
	"github.com/wonny/aegis-risk/internal/metrics"
	"github.com/wonny/aegis-risk/internal/risk"
	"github.com/wonny/aegis-risk/pkg/background"
	"github.com/wonny/aegis-risk/pkg/config"
	"github.com/wonny/aegis-risk/pkg/logger"
	"github.com/wonny/aegis-risk/pkg/ringbuf"
)

// 축소 비율 (심각 → 브리치 → 조기 경고)
const (
	SevereRatio       = 0.5
	BreachRatio       = 0.7
	EarlyWarningRatio = 0.85

	// trendPeriods 추세 판정에 쓰는 최근 max 상관관계 개수
	trendPeriods = 3
	// escalationPeriods 연속 상승 판정 구간
	escalationPeriods = 5
)

// Store persists correlation samples and serves trend queries
type Store interface {
	SaveCorrelationSample(ctx context.Context, sample Sample) error
	RecentCorrelationSamples(ctx context.Context, limit int) ([]Sample, error)
}

// Manager tracks pairwise correlation across open positions
// ⭐ SSOT: 상관관계 행렬/드리프트/축소 권고는 여기서만
type Manager struct {
	cfg     config.CorrelationConfig
	prices  contracts.PriceHistoryProvider
	store   Store
	metrics *metrics.Recorder
	logger  *logger.Logger
	bg      *background.Group
	now     func() time.Time

	fetchParallel int

	mu          sync.RWMutex
	last        *Matrix
	history     *ringbuf.Ring[Sample]
	breachCount int
	lastDrift   *DriftMetrics
	emergency   bool
}

// NewManager creates a correlation manager; store and rec may be nil
func NewManager(cfg config.CorrelationConfig, prices contracts.PriceHistoryProvider, store Store, rec *metrics.Recorder, log *logger.Logger) *Manager {
	if log == nil {
		log = logger.Nop()
	}
	log = log.WithComponent("correlation_manager")

	bg := background.New(log, 0)
	bg.OnError = func(name string, err error) { rec.IncPersistenceFailure(name) }

	return &Manager{
		cfg:           cfg,
		prices:        prices,
		store:         store,
		metrics:       rec,
		logger:        log,
		bg:            bg,
		now:           time.Now,
		fetchParallel: 4,
		history:       ringbuf.New[Sample](cfg.HistorySize),
	}
}

// LoadHistory seeds the in-memory history from the store (oldest → newest)
func (m *Manager) LoadHistory(ctx context.Context) error {
	if m.store == nil {
		return nil
	}

	samples, err := m.store.RecentCorrelationSamples(ctx, m.history.Cap())
	if err != nil {
		return fmt.Errorf("failed to load correlation history: %w", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	for _, s := range samples {
		m.history.Push(s)
	}

	m.logger.WithField("samples", len(samples)).Info("correlation history loaded")
	return nil
}

// CalculateCorrelationMatrix computes Pearson correlation for every pair of open
// instruments with enough aligned return history inside the rolling window
// 충분한 이력을 가진 종목이 2개 미만이면 빈 행렬
func (m *Manager) CalculateCorrelationMatrix(ctx context.Context, state *contracts.PortfolioState) *Matrix {
	now := m.now()
	if state == nil || len(state.Positions) < 2 {
		return NewMatrix(nil, now)
	}

	closes := m.fetchCloses(ctx, state.Instruments())

	var eligible []string
	for _, inst := range state.Instruments() {
		series, ok := closes[inst]
		if !ok {
			continue
		}
		if n := len(windowReturns(series, m.cfg.WindowDays)); n < m.cfg.MinObservations {
			m.logger.WithFields(map[string]interface{}{
				"instrument":   inst,
				"observations": n,
				"required":     m.cfg.MinObservations,
			}).Warn("insufficient history for correlation")
			continue
		}
		eligible = append(eligible, inst)
	}

	if len(eligible) < 2 {
		return NewMatrix(nil, now)
	}

	matrix := NewMatrix(eligible, now)
	for i := 0; i < len(matrix.Instruments); i++ {
		for j := i + 1; j < len(matrix.Instruments); j++ {
			a, b := matrix.Instruments[i], matrix.Instruments[j]
			corr, err := m.pairCorrelation(closes[a], closes[b])
			if err != nil {
				m.logger.WithError(err).WithFields(map[string]interface{}{
					"instrument_a": a,
					"instrument_b": b,
				}).Warn("pair correlation skipped")
				continue
			}
			matrix.Set(a, b, corr)
		}
	}

	maxAbs, avgAbs, pairs := upperStats(matrix)
	sample := Sample{
		Timestamp:      now,
		MaxCorrelation: maxAbs,
		AvgCorrelation: avgAbs,
		PairCount:      pairs,
		Matrix:         matrix.Values,
	}

	m.mu.Lock()
	m.last = matrix
	m.history.Push(sample)
	m.mu.Unlock()

	m.metrics.ObserveCorrelation(maxAbs, avgAbs)

	if m.store != nil {
		m.bg.Go("correlation_samples", func(ctx context.Context) error {
			return m.store.SaveCorrelationSample(ctx, sample)
		})
	}

	return matrix
}

// pairCorrelation aligns two close series by timestamp and correlates the
// returns of the last WindowDays common observations
func (m *Manager) pairCorrelation(a, b []contracts.PriceBar) (float64, error) {
	ra, rb := alignedReturns(a, b, m.cfg.WindowDays)
	if len(ra) < m.cfg.MinObservations {
		return 0, fmt.Errorf("%w: %d aligned returns", risk.ErrDegenerateSeries, len(ra))
	}
	return risk.Pearson(ra, rb)
}

func (m *Manager) fetchCloses(ctx context.Context, instruments []string) map[string][]contracts.PriceBar {
	var mu sync.Mutex
	out := make(map[string][]contracts.PriceBar, len(instruments))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(m.fetchParallel)

	for _, instrument := range instruments {
		instrument := instrument
		g.Go(func() error {
			bars, err := m.prices.GetPriceHistory(gctx, instrument)
			if err != nil {
				m.logger.WithError(err).WithField("instrument", instrument).Warn("price history unavailable")
				return nil
			}
			if len(bars) == 0 {
				return nil
			}
			mu.Lock()
			out[instrument] = bars
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	return out
}

// MonitorCorrelationDrift summarizes the upper triangle and classifies the trend
// from the three most recent historical max-correlation readings
func (m *Manager) MonitorCorrelationDrift(matrix *Matrix) DriftMetrics {
	maxAbs, avgAbs, pairs := upperStats(matrix)

	m.mu.Lock()
	defer m.mu.Unlock()

	drift := DriftMetrics{
		MaxCorrelation: maxAbs,
		AvgCorrelation: avgAbs,
		PairCount:      pairs,
		Trend:          trendOf(maxSeries(m.history.Last(trendPeriods))),
		Timestamp:      m.now(),
	}
	m.lastDrift = &drift

	return drift
}

// DetectCorrelationBreaches classifies every pair by absolute correlation
// > severe → CRITICAL, > breach → HIGH, > rebalance → MEDIUM
func (m *Manager) DetectCorrelationBreaches(matrix *Matrix) []CorrelationAlert {
	now := m.now()
	var alerts []CorrelationAlert

	for _, p := range matrix.Pairs() {
		abs := p.Abs()
		severity, threshold, ok := m.classify(abs)
		if !ok {
			continue
		}

		alerts = append(alerts, CorrelationAlert{
			InstrumentA:    p.A,
			InstrumentB:    p.B,
			Correlation:    abs,
			Threshold:      threshold,
			Timestamp:      now,
			Severity:       severity,
			Recommendation: recommendation(severity),
		})
		m.metrics.IncCorrelationBreach(string(severity))
	}

	if len(alerts) > 0 {
		m.mu.Lock()
		m.breachCount += len(alerts)
		m.mu.Unlock()

		m.logger.WithField("breaches", len(alerts)).Warn("correlation breaches detected")
	}

	return alerts
}

func (m *Manager) classify(abs float64) (contracts.Severity, float64, bool) {
	switch {
	case abs > m.cfg.SevereThreshold:
		return contracts.SeverityCritical, m.cfg.SevereThreshold, true
	case abs > m.cfg.BreachThreshold:
		return contracts.SeverityHigh, m.cfg.BreachThreshold, true
	case abs > m.cfg.RebalanceThreshold:
		return contracts.SeverityMedium, m.cfg.RebalanceThreshold, true
	default:
		return "", 0, false
	}
}

func recommendation(severity contracts.Severity) string {
	switch severity {
	case contracts.SeverityCritical:
		return "reduce immediately"
	case contracts.SeverityHigh:
		return "reduce exposure on the larger leg"
	default:
		return "monitor and rebalance if it persists"
	}
}

// SuggestPositionAdjustments proposes greedy size reductions, highest correlation first
// ⭐ 한 호출에서 종목당 최대 1회 조정, 이미 조정된 종목을 포함한 쌍은 건너뜀
// 축소되지 않은 작은 쪽 종목도 조정된 쌍에 속했으므로 이후 쌍에서 제외됨
func (m *Manager) SuggestPositionAdjustments(state *contracts.PortfolioState, matrix *Matrix) []PositionAdjustment {
	if state == nil {
		return nil
	}

	var candidates []Pair
	for _, p := range matrix.Pairs() {
		if p.Abs() > m.cfg.RebalanceThreshold {
			candidates = append(candidates, p)
		}
	}
	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].Abs() > candidates[j].Abs()
	})

	adjusted := make(map[string]bool)
	var out []PositionAdjustment

	for _, p := range candidates {
		if adjusted[p.A] || adjusted[p.B] {
			continue
		}
		posA, okA := state.Positions[p.A]
		posB, okB := state.Positions[p.B]
		if !okA || !okB {
			continue
		}

		target := posA
		if math.Abs(posB.Size) > math.Abs(posA.Size) {
			target = posB
		}

		ratio, priority := m.reduction(p.Abs())
		out = append(out, PositionAdjustment{
			Instrument:      target.Instrument,
			CurrentSize:     target.Size,
			RecommendedSize: target.Size * ratio,
			AdjustmentRatio: ratio,
			Reason:          fmt.Sprintf("|corr| %.3f between %s and %s", p.Abs(), p.A, p.B),
			Priority:        priority,
		})
		adjusted[p.A] = true
		adjusted[p.B] = true
	}

	return out
}

func (m *Manager) reduction(abs float64) (float64, contracts.Severity) {
	switch {
	case abs > m.cfg.SevereThreshold:
		return SevereRatio, contracts.SeverityCritical
	case abs > m.cfg.BreachThreshold:
		return BreachRatio, contracts.SeverityHigh
	default:
		return EarlyWarningRatio, contracts.SeverityMedium
	}
}

// ApplyEmergencyCorrelationProtocol reports whether correlation alone justifies an
// emergency: >= 2 severe pairs at once, or the last 5 max readings strictly rising
// with the latest above the breach threshold
func (m *Manager) ApplyEmergencyCorrelationProtocol(matrix *Matrix) bool {
	severe := 0
	for _, p := range matrix.Pairs() {
		if p.Abs() > m.cfg.SevereThreshold {
			severe++
		}
	}

	m.mu.Lock()
	recent := maxSeries(m.history.Last(escalationPeriods))
	rising := len(recent) == escalationPeriods && strictlyIncreasing(recent) &&
		recent[len(recent)-1] > m.cfg.BreachThreshold
	triggered := severe >= 2 || rising
	m.emergency = triggered
	m.mu.Unlock()

	if triggered {
		m.logger.WithFields(map[string]interface{}{
			"severe_pairs": severe,
			"rising":       rising,
		}).Error("correlation emergency protocol triggered")
	}

	return triggered
}

// EmergencyActive reports the result of the last protocol evaluation
func (m *Manager) EmergencyActive() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.emergency
}

// LastMatrix returns the last non-empty matrix
func (m *Manager) LastMatrix() *Matrix {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.last
}

// History returns the retained samples oldest → newest
func (m *Manager) History() []Sample {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.history.Values()
}

// Summary returns a dashboard snapshot
func (m *Manager) Summary() Summary {
	m.mu.RLock()
	defer m.mu.RUnlock()

	s := Summary{
		HistoryLength: m.history.Len(),
		BreachCount:   m.breachCount,
		Emergency:     m.emergency,
		Matrix:        m.last,
	}
	if m.last != nil {
		s.Instruments = append([]string(nil), m.last.Instruments...)
		ts := m.last.Timestamp
		s.CalculatedAt = &ts
	}
	if m.lastDrift != nil {
		d := *m.lastDrift
		s.LastDrift = &d
	}
	return s
}

// Wait blocks until pending persistence completes
func (m *Manager) Wait() {
	m.bg.Wait()
}

// upperStats max/avg |corr| over the upper triangle, diagonal excluded
func upperStats(matrix *Matrix) (maxAbs, avgAbs float64, n int) {
	var sum float64
	for _, p := range matrix.Pairs() {
		abs := p.Abs()
		sum += abs
		if abs > maxAbs {
			maxAbs = abs
		}
		n++
	}
	if n > 0 {
		avgAbs = sum / float64(n)
	}
	return maxAbs, avgAbs, n
}

func maxSeries(samples []Sample) []float64 {
	out := make([]float64, len(samples))
	for i, s := range samples {
		out[i] = s.MaxCorrelation
	}
	return out
}

func trendOf(values []float64) Trend {
	if len(values) < trendPeriods {
		return TrendStable
	}
	switch {
	case strictlyIncreasing(values):
		return TrendIncreasing
	case strictlyDecreasing(values):
		return TrendDecreasing
	default:
		return TrendStable
	}
}

func strictlyIncreasing(values []float64) bool {
	for i := 1; i < len(values); i++ {
		if values[i] <= values[i-1] {
			return false
		}
	}
	return true
}

func strictlyDecreasing(values []float64) bool {
	for i := 1; i < len(values); i++ {
		if values[i] >= values[i-1] {
			return false
		}
	}
	return true
}
