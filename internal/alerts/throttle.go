package alerts

import (
	"context"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/wonny/aegis-risk/internal/contracts"
	"github.com/wonny/aegis-risk/pkg/logger"
	"github.com/wonny/aegis-risk/pkg/redis"
)

// ThrottledDispatcher suppresses repeated alerts with the same key
// Redis가 활성화되면 sliding window (프로세스 간 공유), 아니면 프로세스 내 토큰 버킷
// CRITICAL 알림은 제한하지 않음
type ThrottledDispatcher struct {
	next    contracts.AlertDispatcher
	limiter *redis.RateLimiter
	limit   int
	window  time.Duration
	logger  *logger.Logger

	mu    sync.Mutex
	local map[string]*rate.Limiter
}

// NewThrottledDispatcher wraps next; limiter may be nil (local fallback only)
func NewThrottledDispatcher(next contracts.AlertDispatcher, limiter *redis.RateLimiter, limit int, window time.Duration, log *logger.Logger) *ThrottledDispatcher {
	if log == nil {
		log = logger.Nop()
	}
	if limit <= 0 {
		limit = 1
	}
	if window <= 0 {
		window = time.Minute
	}
	return &ThrottledDispatcher{
		next:    next,
		limiter: limiter,
		limit:   limit,
		window:  window,
		logger:  log.WithComponent("alert_throttle"),
		local:   make(map[string]*rate.Limiter),
	}
}

// Key groups alerts that describe the same condition
func Key(alert contracts.Alert) string {
	parts := append([]string{string(alert.Type), string(alert.Severity)}, alert.Tags...)
	return strings.Join(parts, ":")
}

// Dispatch forwards the alert unless its key exceeded the limit
func (d *ThrottledDispatcher) Dispatch(ctx context.Context, alert contracts.Alert) error {
	if alert.Severity == contracts.SeverityCritical || d.allow(ctx, Key(alert)) {
		return d.next.Dispatch(ctx, alert)
	}

	d.logger.WithFields(map[string]interface{}{
		"type":     string(alert.Type),
		"severity": string(alert.Severity),
	}).Debug("alert throttled")
	return nil
}

func (d *ThrottledDispatcher) allow(ctx context.Context, key string) bool {
	if d.limiter != nil && d.limiter.Enabled() {
		allowed, _, err := d.limiter.Allow(ctx, redis.AlertRateLimit(key, d.limit, d.window))
		if err == nil {
			return allowed
		}
		d.logger.WithError(err).Warn("redis rate limit failed, using local limiter")
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	l, ok := d.local[key]
	if !ok {
		l = rate.NewLimiter(rate.Every(d.window/time.Duration(d.limit)), d.limit)
		d.local[key] = l
	}
	return l.Allow()
}
