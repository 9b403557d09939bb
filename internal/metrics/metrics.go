package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Recorder owns the risk-core Prometheus collectors
// ⭐ SSOT: 리스크 메트릭 정의는 여기서만
// nil Recorder의 모든 메서드는 no-op (메트릭 비활성화 시 엔진에 nil 전달)
type Recorder struct {
	registry *prometheus.Registry

	varFraction         *prometheus.GaugeVec
	varBreaches         *prometheus.CounterVec
	correlationMax      prometheus.Gauge
	correlationAvg      prometheus.Gauge
	correlationBreaches *prometheus.CounterVec
	drawdown            prometheus.Gauge
	emergencyLevel      prometheus.Gauge
	tradingHalted       prometheus.Gauge
	levelTransitions    *prometheus.CounterVec
	activeStress        prometheus.Gauge
	stressEvents        *prometheus.CounterVec
	alertsDispatched    *prometheus.CounterVec
	alertFailures       *prometheus.CounterVec
	persistFailures     *prometheus.CounterVec
	monitorCycle        prometheus.Gauge
	jobRuns             *prometheus.CounterVec
	jobDuration         *prometheus.HistogramVec
}

// NewRecorder creates collectors on a dedicated registry
func NewRecorder() *Recorder {
	r := &Recorder{
		registry: prometheus.NewRegistry(),
		varFraction: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "risk_var_fraction",
			Help: "Latest portfolio VaR as a fraction of portfolio value",
		}, []string{"method"}),
		varBreaches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "risk_var_breaches_total",
			Help: "Cumulative VaR target breaches",
		}, []string{"method"}),
		correlationMax: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "risk_correlation_max",
			Help: "Max absolute pairwise correlation of open positions",
		}),
		correlationAvg: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "risk_correlation_avg",
			Help: "Average absolute pairwise correlation of open positions",
		}),
		correlationBreaches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "risk_correlation_breaches_total",
			Help: "Cumulative correlation breaches",
		}, []string{"severity"}),
		drawdown: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "risk_drawdown",
			Help: "Fractional drawdown from initial portfolio value",
		}),
		emergencyLevel: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "risk_emergency_level",
			Help: "Active emergency level (0=NORMAL to 4=LEVEL_4)",
		}),
		tradingHalted: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "risk_trading_halted",
			Help: "1 when the emergency protocol halted trading",
		}),
		levelTransitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "risk_emergency_transitions_total",
			Help: "Level transitions by target level",
		}, []string{"to"}),
		activeStress: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "risk_active_stress_events",
			Help: "Stress events detected in the latest cycle",
		}),
		stressEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "risk_stress_events_total",
			Help: "Cumulative stress events by type",
		}, []string{"type"}),
		alertsDispatched: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "risk_alerts_dispatched_total",
			Help: "Alerts handed to the dispatcher",
		}, []string{"type", "severity"}),
		alertFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "risk_alert_failures_total",
			Help: "Alert dispatch errors",
		}, []string{"type"}),
		persistFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "risk_persistence_failures_total",
			Help: "Errors persisting risk records",
		}, []string{"collection"}),
		monitorCycle: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "risk_monitor_cycle_ms",
			Help: "Duration of the latest monitoring cycle",
		}),
		jobRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "risk_job_runs_total",
			Help: "Scheduled job executions by status",
		}, []string{"job", "status"}),
		jobDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "risk_job_duration_seconds",
			Help:    "Scheduled job wall time",
			Buckets: prometheus.DefBuckets,
		}, []string{"job"}),
	}

	r.registry.MustRegister(
		collectors.NewGoCollector(),
		r.varFraction,
		r.varBreaches,
		r.correlationMax,
		r.correlationAvg,
		r.correlationBreaches,
		r.drawdown,
		r.emergencyLevel,
		r.tradingHalted,
		r.levelTransitions,
		r.activeStress,
		r.stressEvents,
		r.alertsDispatched,
		r.alertFailures,
		r.persistFailures,
		r.monitorCycle,
		r.jobRuns,
		r.jobDuration,
	)

	return r
}

// Handler exposes the registry for scraping
func (r *Recorder) Handler() http.Handler {
	if r == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{})
}

func (r *Recorder) ObserveVaR(method string, fraction float64) {
	if r == nil {
		return
	}
	r.varFraction.WithLabelValues(method).Set(fraction)
}

func (r *Recorder) IncVaRBreach(method string) {
	if r == nil {
		return
	}
	r.varBreaches.WithLabelValues(method).Inc()
}

func (r *Recorder) ObserveCorrelation(maxAbs, avgAbs float64) {
	if r == nil {
		return
	}
	r.correlationMax.Set(maxAbs)
	r.correlationAvg.Set(avgAbs)
}

func (r *Recorder) IncCorrelationBreach(severity string) {
	if r == nil {
		return
	}
	r.correlationBreaches.WithLabelValues(severity).Inc()
}

func (r *Recorder) ObserveDrawdown(drawdown float64) {
	if r == nil {
		return
	}
	r.drawdown.Set(drawdown)
}

func (r *Recorder) SetEmergencyLevel(level int) {
	if r == nil {
		return
	}
	r.emergencyLevel.Set(float64(level))
}

func (r *Recorder) SetTradingHalted(halted bool) {
	if r == nil {
		return
	}
	if halted {
		r.tradingHalted.Set(1)
		return
	}
	r.tradingHalted.Set(0)
}

func (r *Recorder) IncLevelTransition(to string) {
	if r == nil {
		return
	}
	r.levelTransitions.WithLabelValues(to).Inc()
}

func (r *Recorder) SetActiveStressEvents(n int) {
	if r == nil {
		return
	}
	r.activeStress.Set(float64(n))
}

func (r *Recorder) IncStressEvent(eventType string) {
	if r == nil {
		return
	}
	r.stressEvents.WithLabelValues(eventType).Inc()
}

func (r *Recorder) IncAlertDispatched(alertType, severity string) {
	if r == nil {
		return
	}
	r.alertsDispatched.WithLabelValues(alertType, severity).Inc()
}

func (r *Recorder) IncAlertFailure(alertType string) {
	if r == nil {
		return
	}
	r.alertFailures.WithLabelValues(alertType).Inc()
}

func (r *Recorder) IncPersistenceFailure(collection string) {
	if r == nil {
		return
	}
	r.persistFailures.WithLabelValues(collection).Inc()
}

func (r *Recorder) ObserveMonitorCycle(d time.Duration) {
	if r == nil {
		return
	}
	r.monitorCycle.Set(d.Seconds() * 1000)
}

func (r *Recorder) ObserveJob(job string, success bool, d time.Duration) {
	if r == nil {
		return
	}
	status := "success"
	if !success {
		status = "failure"
	}
	r.jobRuns.WithLabelValues(job, status).Inc()
	r.jobDuration.WithLabelValues(job).Observe(d.Seconds())
}
