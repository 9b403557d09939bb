package commands

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/wonny/aegis-risk/internal/alerts"
	"github.com/wonny/aegis-risk/internal/api"
	"github.com/wonny/aegis-risk/internal/api/handlers"
	"github.com/wonny/aegis-risk/internal/contracts"
	"github.com/wonny/aegis-risk/internal/correlation"
	"github.com/wonny/aegis-risk/internal/emergency"
	"github.com/wonny/aegis-risk/internal/marketdata"
	"github.com/wonny/aegis-risk/internal/metrics"
	"github.com/wonny/aegis-risk/internal/portfolio"
	"github.com/wonny/aegis-risk/internal/risk"
	"github.com/wonny/aegis-risk/internal/scheduler"
	"github.com/wonny/aegis-risk/internal/scheduler/jobs"
	"github.com/wonny/aegis-risk/internal/storage"
	"github.com/wonny/aegis-risk/pkg/config"
	"github.com/wonny/aegis-risk/pkg/database"
	"github.com/wonny/aegis-risk/pkg/httputil"
	"github.com/wonny/aegis-risk/pkg/logger"
	"github.com/wonny/aegis-risk/pkg/redis"
)

// keyPrefix Redis 키 접두사
const keyPrefix = "aegis-risk"

// runtime 리스크 코어 전체 조립 결과
// ⭐ SSOT: 컴포넌트 배선은 여기서만
type runtime struct {
	cfg     *config.Config
	logger  *logger.Logger
	metrics *metrics.Recorder

	store   storage.Store
	cache   *redis.Cache
	tracker *portfolio.Tracker // in-memory 모드에서만
	prices  *marketdata.Memory // in-memory 모드에서만

	hub        *alerts.Hub
	dispatcher contracts.AlertDispatcher
	escalator  *alerts.Escalator

	varMonitor  *risk.VaRMonitor
	correlation *correlation.Manager
	emergency   *emergency.Manager

	scheduler  *scheduler.Scheduler
	assessment *jobs.RiskAssessmentJob
	valueJob   *jobs.PortfolioValueJob

	closers []func()
}

// newRuntime wires storage, market data, alerting, engines and jobs
func newRuntime(ctx context.Context, cfg *config.Config, log *logger.Logger) (*runtime, error) {
	rt := &runtime{cfg: cfg, logger: log}
	if cfg.MetricsEnabled {
		rt.metrics = metrics.NewRecorder()
	}

	riskCfg := cfg.Risk
	historyN := max(riskCfg.VaR.Lookback, riskCfg.Correlation.WindowDays) + 1

	var reader marketdata.BarReader
	var source contracts.PortfolioSource

	// 1. Storage (PostgreSQL or in-memory)
	db, err := database.New(ctx, cfg.Database)
	switch {
	case errors.Is(err, database.ErrNotConfigured):
		log.Warn("DATABASE_URL not set, using in-memory storage")
		rt.store = storage.NewMemory(storage.DefaultMemoryCapacity)
		rt.prices = marketdata.NewMemory(historyN)
		rt.tracker = portfolio.NewTracker(riskCfg.InitialBalance)
		reader = rt.prices
		source = rt.tracker
	case err != nil:
		return nil, fmt.Errorf("connect to database: %w", err)
	default:
		rt.closers = append(rt.closers, db.Close)
		if err := storage.EnsureSchema(ctx, db.Pool); err != nil {
			rt.close()
			return nil, err
		}
		rt.store = storage.NewRepository(db.Pool)
		reader = marketdata.NewRepository(db.Pool)
		source = portfolio.NewRepository(db.Pool)
		log.Info("Connected to database")
	}

	// 2. Redis (실패 시 캐시/분산 제한 없이 계속)
	rc, err := redis.New(ctx, cfg.Redis)
	if err != nil {
		log.WithError(err).Warn("Redis unavailable, continuing without cache")
		rc = redis.Disabled()
	}
	rt.closers = append(rt.closers, func() { _ = rc.Close() })
	rt.cache = redis.NewCache(rc, keyPrefix).WithErrorHandler(func(op, key string, err error) {
		log.WithError(err).WithFields(map[string]interface{}{
			"op":  op,
			"key": key,
		}).Warn("price cache operation failed")
	})
	limiter := redis.NewRateLimiter(rc, keyPrefix)

	history := marketdata.NewHistoryProvider(reader, rt.cache, historyN, riskCfg.PriceCacheTTL, log)
	feed := marketdata.NewFeed(reader, rt.cache, riskCfg.Emergency.MarketDataBars, log)

	// 3. Alerting: log + store + websocket (+ webhook) → throttle → escalation
	rt.hub = alerts.NewHub(50, log)
	targets := []contracts.AlertDispatcher{
		alerts.NewLogDispatcher(log),
		alerts.NewStoreDispatcher(rt.store),
		rt.hub,
	}
	if riskCfg.AlertWebhookURL != "" {
		client := httputil.New(riskCfg.AlertWebhookTimeout, log)
		targets = append(targets, alerts.NewWebhookDispatcher(client, riskCfg.AlertWebhookURL, contracts.SeverityMedium))
	}
	rt.dispatcher = alerts.NewThrottledDispatcher(
		alerts.NewMultiDispatcher(rt.metrics, targets...),
		limiter, riskCfg.AlertThrottleLimit, riskCfg.AlertThrottleWindow, log,
	)
	rt.escalator = alerts.NewEscalator(rt.dispatcher, nil, log)

	// 4. Engines
	rt.varMonitor = risk.NewVaRMonitor(riskCfg.VaR, history, rt.store, rt.metrics, log)
	rt.correlation = correlation.NewManager(riskCfg.Correlation, history, rt.store, rt.metrics, log)
	if err := rt.correlation.LoadHistory(ctx); err != nil {
		log.WithError(err).Warn("Failed to load correlation history")
	}
	rt.emergency = emergency.NewManager(
		riskCfg.Emergency, riskCfg.InitialBalance, feed, source, rt.store, rt.dispatcher, rt.metrics, log,
	)

	// 5. Jobs
	rt.scheduler = scheduler.New(log, rt.metrics)
	rt.assessment = jobs.NewRiskAssessmentJob(
		source, rt.varMonitor, rt.correlation, rt.emergency, rt.dispatcher, rt.escalator, riskCfg.Schedule, log,
	)
	rt.valueJob = jobs.NewPortfolioValueJob(source, rt.emergency, riskCfg.PortfolioSchedule, log)
	for _, job := range []scheduler.Job{rt.valueJob, rt.assessment} {
		if err := rt.scheduler.AddJob(job); err != nil {
			rt.close()
			return nil, err
		}
	}

	return rt, nil
}

// router builds the API handler
func (rt *runtime) router() http.Handler {
	h := handlers.NewRiskHandler(handlers.RiskDeps{
		VaR:         rt.varMonitor,
		Correlation: rt.correlation,
		Emergency:   rt.emergency,
		Assessment:  rt.assessment,
		Scheduler:   rt.scheduler,
		Alerts:      rt.store,
		Tracker:     rt.tracker,
		Prices:      rt.prices,
		Cache:       rt.cache,
	}, rt.logger)

	return api.NewRouter(h, rt.hub.ServeWS, rt.logger)
}

// metricsHandler /metrics 전용 핸들러
func (rt *runtime) metricsHandler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", rt.metrics.Handler())
	return mux
}

// drain waits for background persistence and alerts
func (rt *runtime) drain() {
	rt.escalator.Stop()
	rt.varMonitor.Wait()
	rt.correlation.Wait()
	rt.emergency.Wait()
}

// close releases connections in reverse order
func (rt *runtime) close() {
	for i := len(rt.closers) - 1; i >= 0; i-- {
		rt.closers[i]()
	}
}
