package marketdata

import (
	"context"
	"sort"
	"sync"

	"github.com/wonny/aegis-risk/internal/contracts"
	"github.com/wonny/aegis-risk/pkg/ringbuf"
)

// Memory holds pushed bars in process (DB 없이 운영할 때 API로 주입)
type Memory struct {
	mu       sync.RWMutex
	capacity int
	bars     map[string]*ringbuf.Ring[contracts.PriceBar]
}

// NewMemory creates an in-memory bar store keeping capacity bars per instrument
func NewMemory(capacity int) *Memory {
	if capacity <= 0 {
		capacity = 500
	}
	return &Memory{
		capacity: capacity,
		bars:     make(map[string]*ringbuf.Ring[contracts.PriceBar]),
	}
}

// Append adds bars for an instrument; bars not newer than the latest are ignored
func (m *Memory) Append(instrument string, bars ...contracts.PriceBar) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	ring, ok := m.bars[instrument]
	if !ok {
		ring = ringbuf.New[contracts.PriceBar](m.capacity)
		m.bars[instrument] = ring
	}

	added := 0
	for _, b := range bars {
		if latest, ok := ring.Latest(); ok && !b.Time.After(latest.Time) {
			continue
		}
		ring.Push(b)
		added++
	}
	return added
}

// RecentBars returns up to limit most recent bars, oldest → newest
func (m *Memory) RecentBars(_ context.Context, instrument string, limit int) ([]contracts.PriceBar, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	ring, ok := m.bars[instrument]
	if !ok {
		return nil, nil
	}
	return ring.Last(limit), nil
}

// Instruments returns every instrument with at least one bar, sorted
func (m *Memory) Instruments(_ context.Context) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]string, 0, len(m.bars))
	for instrument := range m.bars {
		out = append(out, instrument)
	}
	sort.Strings(out)
	return out, nil
}
