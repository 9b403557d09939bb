package storage

import (
	"context"
	"sync"

	"github.com/wonny/aegis-risk/internal/contracts"
	"github.com/wonny/aegis-risk/internal/correlation"
	"github.com/wonny/aegis-risk/internal/emergency"
	"github.com/wonny/aegis-risk/internal/risk"
	"github.com/wonny/aegis-risk/pkg/ringbuf"
)

// DefaultMemoryCapacity 컬렉션별 기본 보관 개수
const DefaultMemoryCapacity = 1000

// Memory is an in-process store used when DATABASE_URL is not set
// 컬렉션마다 최근 capacity개만 보관
type Memory struct {
	mu           sync.RWMutex
	transitions  *ringbuf.Ring[emergency.Transition]
	stressEvents *ringbuf.Ring[emergency.StressEvent]
	values       *ringbuf.Ring[emergency.PortfolioValue]
	varResults   *ringbuf.Ring[risk.VaRResult]
	samples      *ringbuf.Ring[correlation.Sample]
	alerts       *ringbuf.Ring[contracts.Alert]
}

// NewMemory creates an in-memory store
func NewMemory(capacity int) *Memory {
	if capacity <= 0 {
		capacity = DefaultMemoryCapacity
	}
	return &Memory{
		transitions:  ringbuf.New[emergency.Transition](capacity),
		stressEvents: ringbuf.New[emergency.StressEvent](capacity),
		values:       ringbuf.New[emergency.PortfolioValue](capacity),
		varResults:   ringbuf.New[risk.VaRResult](capacity),
		samples:      ringbuf.New[correlation.Sample](capacity),
		alerts:       ringbuf.New[contracts.Alert](capacity),
	}
}

func (m *Memory) SaveTransition(_ context.Context, t emergency.Transition) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.transitions.Push(t)
	return nil
}

func (m *Memory) SaveStressEvents(_ context.Context, events []emergency.StressEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, ev := range events {
		m.stressEvents.Push(ev)
	}
	return nil
}

func (m *Memory) SavePortfolioValue(_ context.Context, v emergency.PortfolioValue) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.values.Push(v)
	return nil
}

func (m *Memory) SaveVaRResults(_ context.Context, results []risk.VaRResult) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range results {
		m.varResults.Push(r)
	}
	return nil
}

func (m *Memory) SaveCorrelationSample(_ context.Context, s correlation.Sample) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.samples.Push(s)
	return nil
}

// RecentCorrelationSamples returns up to limit samples, oldest → newest
func (m *Memory) RecentCorrelationSamples(_ context.Context, limit int) ([]correlation.Sample, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.samples.Last(limit), nil
}

func (m *Memory) SaveAlert(_ context.Context, alert contracts.Alert) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.alerts.Push(alert)
	return nil
}

// RecentAlerts returns up to limit alerts, newest first
func (m *Memory) RecentAlerts(_ context.Context, limit int) ([]contracts.Alert, error) {
	m.mu.RLock()
	last := m.alerts.Last(limit)
	m.mu.RUnlock()

	out := make([]contracts.Alert, len(last))
	for i, a := range last {
		out[len(last)-1-i] = a
	}
	return out, nil
}

// Transitions 보관 중인 레벨 전이 (오래된 순)
func (m *Memory) Transitions() []emergency.Transition {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.transitions.Values()
}

// StressEvents 보관 중인 스트레스 이벤트 (오래된 순)
func (m *Memory) StressEvents() []emergency.StressEvent {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.stressEvents.Values()
}

// PortfolioValues 보관 중인 가치 시계열 (오래된 순)
func (m *Memory) PortfolioValues() []emergency.PortfolioValue {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.values.Values()
}

// VaRResults 보관 중인 VaR 결과 (오래된 순)
func (m *Memory) VaRResults() []risk.VaRResult {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.varResults.Values()
}
