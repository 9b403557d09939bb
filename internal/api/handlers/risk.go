package handlers

import (
	"context"
	"net/http"
	"strconv"

	"github.com/wonny/aegis-risk/internal/contracts"
	"github.com/wonny/aegis-risk/internal/correlation"
	"github.com/wonny/aegis-risk/internal/emergency"
	"github.com/wonny/aegis-risk/internal/marketdata"
	"github.com/wonny/aegis-risk/internal/portfolio"
	"github.com/wonny/aegis-risk/internal/risk"
	"github.com/wonny/aegis-risk/internal/scheduler"
	"github.com/wonny/aegis-risk/internal/scheduler/jobs"
	"github.com/wonny/aegis-risk/pkg/logger"
	"github.com/wonny/aegis-risk/pkg/redis"
)

// AlertHistory reads persisted alerts
type AlertHistory interface {
	RecentAlerts(ctx context.Context, limit int) ([]contracts.Alert, error)
}

// RiskDeps 핸들러 의존성 묶음 (Tracker/Prices는 in-memory 운영 시에만)
type RiskDeps struct {
	VaR         *risk.VaRMonitor
	Correlation *correlation.Manager
	Emergency   *emergency.Manager
	Assessment  *jobs.RiskAssessmentJob
	Scheduler   *scheduler.Scheduler
	Alerts      AlertHistory
	Tracker     *portfolio.Tracker
	Prices      *marketdata.Memory
	Cache       *redis.Cache
}

// RiskHandler handles risk dashboard endpoints
// ⭐ SSOT: 리스크 API 핸들러는 이 구조체에서만
type RiskHandler struct {
	deps   RiskDeps
	logger *logger.Logger
}

// NewRiskHandler creates a new risk handler
func NewRiskHandler(deps RiskDeps, log *logger.Logger) *RiskHandler {
	return &RiskHandler{
		deps:   deps,
		logger: log.WithComponent("risk_api"),
	}
}

// ============================================================
// Status
// ============================================================

// HealthResponse 서비스 상태 (거래 중단이어도 서비스 자체는 ok)
type HealthResponse struct {
	Status        string            `json:"status"`
	Service       string            `json:"service"`
	Level         emergency.Level   `json:"level"`
	TradingHalted bool              `json:"trading_halted"`
	Monitoring    bool              `json:"monitoring"`
	Cache         *redis.CacheStats `json:"cache,omitempty"`
}

// Health returns liveness plus the current emergency level
// GET /health
func (h *RiskHandler) Health(w http.ResponseWriter, r *http.Request) {
	status := h.deps.Emergency.GetEmergencyStatus()
	resp := HealthResponse{
		Status:        "ok",
		Service:       "aegis-risk",
		Level:         status.Level,
		TradingHalted: status.TradingHalted,
		Monitoring:    status.Monitoring,
	}
	if h.deps.Cache != nil {
		stats := h.deps.Cache.Stats()
		resp.Cache = &stats
	}
	respondJSON(w, http.StatusOK, resp)
}

// GetEmergencyStatus returns the emergency snapshot
// GET /api/risk/emergency
func (h *RiskHandler) GetEmergencyStatus(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, h.deps.Emergency.GetEmergencyStatus())
}

// GetVaR returns the latest VaR summary
// GET /api/risk/var
func (h *RiskHandler) GetVaR(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, h.deps.VaR.Summary())
}

// CorrelationResponse 상관관계 요약 + 최근 조정 권고
type CorrelationResponse struct {
	correlation.Summary
	Adjustments []correlation.PositionAdjustment `json:"adjustments"`
}

// GetCorrelation returns the correlation summary
// GET /api/risk/correlation
func (h *RiskHandler) GetCorrelation(w http.ResponseWriter, r *http.Request) {
	resp := CorrelationResponse{
		Summary:     h.deps.Correlation.Summary(),
		Adjustments: []correlation.PositionAdjustment{},
	}
	if h.deps.Assessment != nil {
		resp.Adjustments = h.deps.Assessment.Adjustments()
	}
	respondJSON(w, http.StatusOK, resp)
}

// GetStressEvents returns the active stress events
// GET /api/risk/stress
func (h *RiskHandler) GetStressEvents(w http.ResponseWriter, r *http.Request) {
	status := h.deps.Emergency.GetEmergencyStatus()
	events := status.ActiveStressEvents
	if events == nil {
		events = []emergency.StressEvent{}
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"events": events,
		"count":  len(events),
	})
}

// GetProtocols returns the emergency protocol ladder
// GET /api/risk/protocols
func (h *RiskHandler) GetProtocols(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, emergency.Protocols())
}

// GetAlerts returns recent alerts
// GET /api/risk/alerts?limit=50
func (h *RiskHandler) GetAlerts(w http.ResponseWriter, r *http.Request) {
	if h.deps.Alerts == nil {
		respondError(w, http.StatusNotImplemented, "Alert history not configured")
		return
	}

	limit := 50
	if s := r.URL.Query().Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n <= 0 || n > 1000 {
			respondError(w, http.StatusBadRequest, "limit must be between 1 and 1000")
			return
		}
		limit = n
	}

	alerts, err := h.deps.Alerts.RecentAlerts(r.Context(), limit)
	if err != nil {
		h.logger.WithError(err).Error("Failed to get alerts")
		respondError(w, http.StatusInternalServerError, "Failed to retrieve alerts")
		return
	}
	if alerts == nil {
		alerts = []contracts.Alert{}
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"alerts": alerts,
		"count":  len(alerts),
	})
}

// GetJobs returns scheduler statistics
// GET /api/risk/jobs
func (h *RiskHandler) GetJobs(w http.ResponseWriter, r *http.Request) {
	if h.deps.Scheduler == nil {
		respondJSON(w, http.StatusOK, map[string]scheduler.JobStats{})
		return
	}
	respondJSON(w, http.StatusOK, h.deps.Scheduler.GetJobStats())
}
