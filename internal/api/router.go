package api

import (
	"bufio"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/wonny/aegis-risk/internal/api/handlers"
	"github.com/wonny/aegis-risk/pkg/logger"
)

// NewRouter creates and configures the HTTP router
// ⭐ SSOT: 라우팅 설정은 이 함수에서만
// ws가 nil이면 /ws/alerts 미등록
func NewRouter(riskHandler *handlers.RiskHandler, ws http.HandlerFunc, log *logger.Logger) http.Handler {
	r := mux.NewRouter()

	// Health check
	r.HandleFunc("/health", riskHandler.Health).Methods("GET")

	api := r.PathPrefix("/api/risk").Subrouter()

	// Status endpoints
	api.HandleFunc("/emergency", riskHandler.GetEmergencyStatus).Methods("GET")
	api.HandleFunc("/var", riskHandler.GetVaR).Methods("GET")
	api.HandleFunc("/correlation", riskHandler.GetCorrelation).Methods("GET")
	api.HandleFunc("/stress", riskHandler.GetStressEvents).Methods("GET")
	api.HandleFunc("/protocols", riskHandler.GetProtocols).Methods("GET")
	api.HandleFunc("/alerts", riskHandler.GetAlerts).Methods("GET")
	api.HandleFunc("/jobs", riskHandler.GetJobs).Methods("GET")

	// Command endpoints
	api.HandleFunc("/portfolio-value", riskHandler.UpdatePortfolioValue).Methods("POST")
	api.HandleFunc("/position-size", riskHandler.CalculatePositionSize).Methods("POST")
	api.HandleFunc("/trading/resume", riskHandler.ResumeTrading).Methods("POST")
	api.HandleFunc("/jobs/{name}/run", riskHandler.RunJob).Methods("POST")

	// Feed endpoints (in-memory 운영 시 외부 트래커/가격 피드 주입)
	api.HandleFunc("/portfolio", riskHandler.UpdatePortfolio).Methods("PUT")
	api.HandleFunc("/prices/{instrument}", riskHandler.AppendPrices).Methods("POST")

	if ws != nil {
		r.HandleFunc("/ws/alerts", ws).Methods("GET")
	}

	// Apply middleware
	r.Use(loggingMiddleware(log))
	r.Use(recoveryMiddleware(log))

	return r
}

// statusRecorder captures the response code for logging
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// Hijack keeps /ws/alerts upgradable behind the middleware
func (r *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := r.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, fmt.Errorf("response writer does not support hijacking")
	}
	r.status = http.StatusSwitchingProtocols
	return h.Hijack()
}

// loggingMiddleware logs HTTP requests
func loggingMiddleware(log *logger.Logger) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

			next.ServeHTTP(rec, r)

			entry := log.WithFields(map[string]interface{}{
				"method":   r.Method,
				"path":     r.URL.Path,
				"status":   rec.status,
				"duration": time.Since(start),
			})
			if rec.status >= http.StatusInternalServerError {
				entry.Warn("HTTP request failed")
				return
			}
			entry.Debug("HTTP request")
		})
	}
}

// recoveryMiddleware recovers from panics
func recoveryMiddleware(log *logger.Logger) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if err := recover(); err != nil {
					log.WithFields(map[string]interface{}{
						"error": err,
						"path":  r.URL.Path,
					}).Error("Panic recovered")

					w.Header().Set("Content-Type", "application/json")
					w.WriteHeader(http.StatusInternalServerError)
					json.NewEncoder(w).Encode(map[string]string{
						"error": "Internal server error",
					})
				}
			}()

			next.ServeHTTP(w, r)
		})
	}
}
