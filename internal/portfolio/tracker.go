package portfolio

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/wonny/aegis-risk/internal/contracts"
)

// ErrNoSnapshot 아직 스냅샷이 없음
var ErrNoSnapshot = errors.New("no portfolio snapshot")

// Tracker holds the latest snapshot pushed by the external tracker
// DB 없이 운영할 때 API로 주입
type Tracker struct {
	mu    sync.RWMutex
	state *contracts.PortfolioState
}

// NewTracker creates an empty tracker seeded with a balance
func NewTracker(initialBalance float64) *Tracker {
	return &Tracker{
		state: &contracts.PortfolioState{
			TotalBalance:       initialBalance,
			AvailableBalance:   initialBalance,
			Positions:          make(map[string]contracts.Position),
			StrategyAllocation: make(map[string]float64),
			Timestamp:          time.Now(),
		},
	}
}

// Update replaces the snapshot
func (t *Tracker) Update(state contracts.PortfolioState) {
	if state.Positions == nil {
		state.Positions = make(map[string]contracts.Position)
	}
	if state.StrategyAllocation == nil {
		state.StrategyAllocation = make(map[string]float64)
		fillAllocation(&state)
	}
	if state.Timestamp.IsZero() {
		state.Timestamp = time.Now()
	}

	t.mu.Lock()
	t.state = &state
	t.mu.Unlock()
}

// CurrentPortfolio returns a copy of the latest snapshot
func (t *Tracker) CurrentPortfolio(_ context.Context) (*contracts.PortfolioState, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	if t.state == nil {
		return nil, ErrNoSnapshot
	}

	cp := *t.state
	cp.Positions = make(map[string]contracts.Position, len(t.state.Positions))
	for k, v := range t.state.Positions {
		cp.Positions[k] = v
	}
	cp.StrategyAllocation = make(map[string]float64, len(t.state.StrategyAllocation))
	for k, v := range t.state.StrategyAllocation {
		cp.StrategyAllocation[k] = v
	}
	return &cp, nil
}
