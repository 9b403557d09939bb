package handlers

import (
	"errors"
	"math"
	"net/http"
	"strings"

	"github.com/gorilla/mux"

	"github.com/wonny/aegis-risk/internal/contracts"
	"github.com/wonny/aegis-risk/internal/emergency"
	"github.com/wonny/aegis-risk/pkg/redis"
)

// PortfolioValueRequest POST /api/risk/portfolio-value
type PortfolioValueRequest struct {
	Value float64 `json:"value"`
}

// UpdatePortfolioValue pushes a portfolio value into the drawdown ladder
// POST /api/risk/portfolio-value
func (h *RiskHandler) UpdatePortfolioValue(w http.ResponseWriter, r *http.Request) {
	var req PortfolioValueRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if req.Value <= 0 || math.IsNaN(req.Value) || math.IsInf(req.Value, 0) {
		respondError(w, http.StatusBadRequest, "value must be a positive number")
		return
	}

	level := h.deps.Emergency.UpdatePortfolioValue(req.Value)
	status := h.deps.Emergency.GetEmergencyStatus()

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"level":          level,
		"drawdown":       status.Drawdown,
		"trading_halted": status.TradingHalted,
		"protocol":       status.Protocol,
	})
}

// PositionSizeRequest POST /api/risk/position-size
type PositionSizeRequest struct {
	BaseSize             float64 `json:"base_size"`
	Instrument           string  `json:"instrument"`
	CurrentVolatility    float64 `json:"current_volatility"`
	PortfolioCorrelation float64 `json:"portfolio_correlation"`
}

// CalculatePositionSize returns the risk-adjusted size
// POST /api/risk/position-size
func (h *RiskHandler) CalculatePositionSize(w http.ResponseWriter, r *http.Request) {
	var req PositionSizeRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if req.Instrument == "" || req.BaseSize < 0 || req.CurrentVolatility < 0 {
		respondError(w, http.StatusBadRequest, "instrument is required and sizes must be non-negative")
		return
	}

	size := h.deps.Emergency.CalculatePositionSize(req.BaseSize, req.Instrument, req.CurrentVolatility, req.PortfolioCorrelation)
	status := h.deps.Emergency.GetEmergencyStatus()

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"instrument":    req.Instrument,
		"base_size":     req.BaseSize,
		"adjusted_size": size,
		"level":         status.Level,
	})
}

// ResumeRequest POST /api/risk/trading/resume
type ResumeRequest struct {
	Operator string `json:"operator"`
}

// ResumeTrading clears a sticky halt
// POST /api/risk/trading/resume
func (h *RiskHandler) ResumeTrading(w http.ResponseWriter, r *http.Request) {
	var req ResumeRequest
	if err := decodeJSON(r, &req); err != nil || strings.TrimSpace(req.Operator) == "" {
		respondError(w, http.StatusBadRequest, "operator is required")
		return
	}

	if err := h.deps.Emergency.ResumeTrading(req.Operator); err != nil {
		if errors.Is(err, emergency.ErrHaltActive) {
			respondError(w, http.StatusConflict, err.Error())
			return
		}
		h.logger.WithError(err).Error("Failed to resume trading")
		respondError(w, http.StatusInternalServerError, "Failed to resume trading")
		return
	}

	respondJSON(w, http.StatusOK, h.deps.Emergency.GetEmergencyStatus())
}

// RunJob runs a scheduled job immediately
// POST /api/risk/jobs/{name}/run
func (h *RiskHandler) RunJob(w http.ResponseWriter, r *http.Request) {
	if h.deps.Scheduler == nil {
		respondError(w, http.StatusNotImplemented, "Scheduler not configured")
		return
	}

	name := mux.Vars(r)["name"]
	result, err := h.deps.Scheduler.RunJob(name)
	if err != nil {
		respondError(w, http.StatusNotFound, err.Error())
		return
	}

	status := http.StatusOK
	if !result.Success {
		status = http.StatusBadGateway
	}
	respondJSON(w, status, result)
}

// UpdatePortfolio replaces the in-memory portfolio snapshot
// PUT /api/risk/portfolio
func (h *RiskHandler) UpdatePortfolio(w http.ResponseWriter, r *http.Request) {
	if h.deps.Tracker == nil {
		respondError(w, http.StatusNotImplemented, "Portfolio is read from the database")
		return
	}

	var state contracts.PortfolioState
	if err := decodeJSON(r, &state); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	for instrument, p := range state.Positions {
		if p.Instrument == "" {
			p.Instrument = instrument
			state.Positions[instrument] = p
		}
		if p.Instrument != instrument {
			respondError(w, http.StatusBadRequest, "position key must match its instrument")
			return
		}
	}

	h.deps.Tracker.Update(state)
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"positions": len(state.Positions),
	})
}

// AppendPrices appends bars to the in-memory price store
// POST /api/risk/prices/{instrument}
func (h *RiskHandler) AppendPrices(w http.ResponseWriter, r *http.Request) {
	if h.deps.Prices == nil {
		respondError(w, http.StatusNotImplemented, "Prices are read from the database")
		return
	}

	var bars []contracts.PriceBar
	if err := decodeJSON(r, &bars); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	instrument := mux.Vars(r)["instrument"]
	added := h.deps.Prices.Append(instrument, bars...)

	if added > 0 && h.deps.Cache != nil {
		if err := h.deps.Cache.Delete(r.Context(), redis.InstrumentKeys(instrument)...); err != nil {
			h.logger.WithError(err).WithField("instrument", instrument).Warn("price cache invalidation failed")
		}
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"instrument": instrument,
		"added":      added,
	})
}
