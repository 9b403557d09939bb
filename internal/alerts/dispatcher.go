package alerts

import (
	"context"
	"errors"
	"fmt"

	"github.com/wonny/aegis-risk/internal/contracts"
	"github.com/wonny/aegis-risk/internal/metrics"
	"github.com/wonny/aegis-risk/pkg/logger"
)

// Store persists dispatched alerts (risk_alerts)
type Store interface {
	SaveAlert(ctx context.Context, alert contracts.Alert) error
}

// LogDispatcher writes alerts as structured log entries
// 심각도 → 로그 레벨: CRITICAL=error, HIGH/MEDIUM=warn, LOW=info
type LogDispatcher struct {
	logger *logger.Logger
}

// NewLogDispatcher creates a log dispatcher
func NewLogDispatcher(log *logger.Logger) *LogDispatcher {
	if log == nil {
		log = logger.Nop()
	}
	return &LogDispatcher{logger: log.WithComponent("alerts")}
}

// Dispatch logs the alert
func (d *LogDispatcher) Dispatch(ctx context.Context, alert contracts.Alert) error {
	entry := d.logger.WithFields(map[string]interface{}{
		"alert_id": alert.ID,
		"type":     string(alert.Type),
		"severity": string(alert.Severity),
		"title":    alert.Title,
		"tags":     alert.Tags,
		"context":  alert.Context,
	})

	switch alert.Severity {
	case contracts.SeverityCritical:
		entry.Error(alert.Message)
	case contracts.SeverityHigh, contracts.SeverityMedium:
		entry.Warn(alert.Message)
	default:
		entry.Info(alert.Message)
	}
	return nil
}

// StoreDispatcher appends alerts to the risk_alerts collection
type StoreDispatcher struct {
	store Store
}

// NewStoreDispatcher creates a persisting dispatcher
func NewStoreDispatcher(store Store) *StoreDispatcher {
	return &StoreDispatcher{store: store}
}

// Dispatch saves the alert
func (d *StoreDispatcher) Dispatch(ctx context.Context, alert contracts.Alert) error {
	if err := d.store.SaveAlert(ctx, alert); err != nil {
		return fmt.Errorf("failed to persist alert %s: %w", alert.ID, err)
	}
	return nil
}

// MultiDispatcher fans an alert out to every target
// ⭐ 한 채널의 실패가 다른 채널 전달을 막지 않음 (에러는 합쳐서 반환)
type MultiDispatcher struct {
	targets []contracts.AlertDispatcher
	metrics *metrics.Recorder
}

// NewMultiDispatcher creates a fan-out dispatcher; nil targets are skipped
func NewMultiDispatcher(rec *metrics.Recorder, targets ...contracts.AlertDispatcher) *MultiDispatcher {
	kept := make([]contracts.AlertDispatcher, 0, len(targets))
	for _, t := range targets {
		if t != nil {
			kept = append(kept, t)
		}
	}
	return &MultiDispatcher{targets: kept, metrics: rec}
}

// Dispatch delivers to all targets
func (d *MultiDispatcher) Dispatch(ctx context.Context, alert contracts.Alert) error {
	var errs []error
	for _, t := range d.targets {
		if err := t.Dispatch(ctx, alert); err != nil {
			errs = append(errs, err)
		}
	}

	if len(errs) > 0 {
		d.metrics.IncAlertFailure(string(alert.Type))
		return errors.Join(errs...)
	}
	d.metrics.IncAlertDispatched(string(alert.Type), string(alert.Severity))
	return nil
}
