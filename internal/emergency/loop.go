package emergency

import (
	"context"
	"fmt"
	"time"
)

// Start launches the monitoring loop in the background
// 루프는 Stop 또는 ctx 취소로만 종료되며, 사이클 실패는 backoff 후 재시도
func (m *Manager) Start(ctx context.Context) error {
	m.loopMu.Lock()
	defer m.loopMu.Unlock()

	if m.runningLocked() {
		return ErrAlreadyRunning
	}

	loopCtx, cancel := context.WithCancel(ctx)
	m.cancel = cancel
	m.done = make(chan struct{})

	go m.run(loopCtx, m.done)

	m.logger.WithFields(map[string]interface{}{
		"interval": m.cfg.MonitorInterval.String(),
		"backoff":  m.cfg.RetryBackoff.String(),
	}).Info("emergency monitor started")
	return nil
}

// Stop cancels the loop and waits for the current cycle to finish
func (m *Manager) Stop() {
	m.loopMu.Lock()
	cancel, done := m.cancel, m.done
	m.cancel, m.done = nil, nil
	m.loopMu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done

	m.logger.Info("emergency monitor stopped")
}

// Running reports whether the loop is active
func (m *Manager) Running() bool {
	m.loopMu.Lock()
	defer m.loopMu.Unlock()
	return m.runningLocked()
}

// runningLocked 부모 ctx 취소로 루프가 끝난 경우도 false
func (m *Manager) runningLocked() bool {
	if m.done == nil {
		return false
	}
	select {
	case <-m.done:
		return false
	default:
		return true
	}
}

func (m *Manager) run(ctx context.Context, done chan struct{}) {
	defer close(done)

	timer := time.NewTimer(0)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
		}

		wait := m.cfg.MonitorInterval
		if err := m.RunCycle(ctx); err != nil {
			if ctx.Err() != nil {
				return
			}
			m.logger.WithError(err).Warn("monitor cycle failed, backing off")
			wait = m.cfg.RetryBackoff
		}
		timer.Reset(wait)
	}
}

// RunCycle performs one monitoring iteration: fetch market data and scan for stress
func (m *Manager) RunCycle(ctx context.Context) error {
	if m.market == nil {
		return fmt.Errorf("no market data source configured")
	}

	start := time.Now()
	data, err := m.market.FetchMarketData(ctx)
	if err != nil {
		return fmt.Errorf("failed to fetch market data: %w", err)
	}

	events := m.MonitorStressEvents(data)

	elapsed := time.Since(start)
	m.metrics.ObserveMonitorCycle(elapsed)
	m.logger.WithFields(map[string]interface{}{
		"instruments":   len(data),
		"stress_events": len(events),
		"duration_ms":   elapsed.Milliseconds(),
	}).Debug("monitor cycle completed")

	return nil
}
