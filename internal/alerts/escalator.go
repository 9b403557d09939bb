package alerts

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/wonny/aegis-risk/internal/contracts"
	"github.com/wonny/aegis-risk/pkg/logger"
)

// Condition reports whether the alerted condition still holds at wake time
type Condition func() bool

// DefaultDelays 심각도별 재알림 지연
func DefaultDelays() map[contracts.Severity]time.Duration {
	return map[contracts.Severity]time.Duration{
		contracts.SeverityCritical: 1 * time.Minute,
		contracts.SeverityHigh:     5 * time.Minute,
		contracts.SeverityMedium:   15 * time.Minute,
	}
}

// Escalator re-sends an alert after a severity-dependent delay while its condition persists
// ⭐ 취소는 암묵적: 깨어났을 때 조건이 해소되었으면 아무것도 하지 않음
type Escalator struct {
	next    contracts.AlertDispatcher
	delays  map[contracts.Severity]time.Duration
	logger  *logger.Logger
	timeout time.Duration

	mu      sync.Mutex
	pending map[string]*time.Timer
	stopped bool
	wg      sync.WaitGroup
}

// NewEscalator creates an escalator; nil delays uses DefaultDelays
func NewEscalator(next contracts.AlertDispatcher, delays map[contracts.Severity]time.Duration, log *logger.Logger) *Escalator {
	if delays == nil {
		delays = DefaultDelays()
	}
	if log == nil {
		log = logger.Nop()
	}
	return &Escalator{
		next:    next,
		delays:  delays,
		logger:  log.WithComponent("alert_escalator"),
		timeout: 10 * time.Second,
		pending: make(map[string]*time.Timer),
	}
}

// Schedule arms a re-alert for alert; one pending re-alert per alert key
// 지연이 정의되지 않은 심각도(LOW)나 이미 대기 중인 키는 false
func (e *Escalator) Schedule(alert contracts.Alert, stillActive Condition) bool {
	delay, ok := e.delays[alert.Severity]
	if !ok || delay <= 0 {
		return false
	}

	key := Key(alert)

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.stopped {
		return false
	}
	if _, exists := e.pending[key]; exists {
		return false
	}

	e.wg.Add(1)
	e.pending[key] = time.AfterFunc(delay, func() {
		defer e.wg.Done()
		e.fire(key, alert, stillActive)
	})
	return true
}

func (e *Escalator) fire(key string, alert contracts.Alert, stillActive Condition) {
	e.mu.Lock()
	delete(e.pending, key)
	stopped := e.stopped
	e.mu.Unlock()

	if stopped || !stillActive() {
		e.logger.WithField("key", key).Debug("condition resolved, re-alert skipped")
		return
	}

	realert := alert
	realert.ID = uuid.New().String()
	realert.Title = "[Re-alert] " + alert.Title
	realert.Tags = append(append([]string(nil), alert.Tags...), "escalated")
	realert.CreatedAt = time.Now()

	ctx, cancel := context.WithTimeout(context.Background(), e.timeout)
	defer cancel()
	if err := e.next.Dispatch(ctx, realert); err != nil {
		e.logger.WithError(err).WithField("key", key).Warn("re-alert dispatch failed")
	}
}

// Pending returns the number of armed re-alerts
func (e *Escalator) Pending() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.pending)
}

// Stop cancels all armed re-alerts and rejects new ones
func (e *Escalator) Stop() {
	e.mu.Lock()
	e.stopped = true
	for key, t := range e.pending {
		if t.Stop() {
			e.wg.Done()
		}
		delete(e.pending, key)
	}
	e.mu.Unlock()

	e.wg.Wait()
}
