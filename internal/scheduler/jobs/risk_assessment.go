package jobs

import (
	"context"
	"fmt"
	"math"
	"sync"

	"github.com/google/uuid"

	"github.com/wonny/aegis-risk/internal/alerts"
	"github.com/wonny/aegis-risk/internal/contracts"
	"github.com/wonny/aegis-risk/internal/correlation"
	"github.com/wonny/aegis-risk/internal/emergency"
	"github.com/wonny/aegis-risk/internal/risk"
	"github.com/wonny/aegis-risk/pkg/logger"
)

// RiskAssessmentJob runs one VaR → correlation → composite signal pass
// ⭐ 순서: VaR 브리치와 상관관계 비상 판단이 끝난 뒤 복합 신호를 비상 관리자에 전달
type RiskAssessmentJob struct {
	portfolio   contracts.PortfolioSource
	varMonitor  *risk.VaRMonitor
	correlation *correlation.Manager
	emergency   *emergency.Manager
	dispatcher  contracts.AlertDispatcher
	escalator   *alerts.Escalator
	schedule    string
	logger      *logger.Logger

	mu             sync.RWMutex
	adjustments    []correlation.PositionAdjustment
	protocolActive bool
}

// NewRiskAssessmentJob creates a new risk assessment job; escalator may be nil
func NewRiskAssessmentJob(
	portfolio contracts.PortfolioSource,
	varMonitor *risk.VaRMonitor,
	corr *correlation.Manager,
	em *emergency.Manager,
	dispatcher contracts.AlertDispatcher,
	escalator *alerts.Escalator,
	schedule string,
	log *logger.Logger,
) *RiskAssessmentJob {
	return &RiskAssessmentJob{
		portfolio:   portfolio,
		varMonitor:  varMonitor,
		correlation: corr,
		emergency:   em,
		dispatcher:  dispatcher,
		escalator:   escalator,
		schedule:    schedule,
		logger:      log.WithComponent("risk_assessment"),
	}
}

// Name returns the job name
func (j *RiskAssessmentJob) Name() string {
	return "risk_assessment"
}

// Schedule returns the cron schedule
func (j *RiskAssessmentJob) Schedule() string {
	return j.schedule
}

// Run executes one assessment pass
func (j *RiskAssessmentJob) Run(ctx context.Context) error {
	state, err := j.portfolio.CurrentPortfolio(ctx)
	if err != nil {
		return fmt.Errorf("failed to load portfolio: %w", err)
	}

	j.assessVaR(ctx, state)
	j.assessCorrelation(ctx, state)

	j.emergency.EvaluateRiskSignals(emergency.RiskSignals{
		VaRMultiMethodBreach: j.varMonitor.MultiMethodBreach(),
		CorrelationEmergency: j.correlation.EmergencyActive(),
	})

	return nil
}

func (j *RiskAssessmentJob) assessVaR(ctx context.Context, state *contracts.PortfolioState) {
	j.varMonitor.CalculatePortfolioVaR(ctx, state)
	breaches := j.varMonitor.CheckVaRBreaches()

	for _, alert := range j.varMonitor.GenerateVaRAlerts(breaches) {
		j.dispatch(ctx, alert)

		method := risk.Method(fmt.Sprint(alert.Context["method"]))
		j.escalate(alert, func() bool {
			return j.varMonitor.Summary().LastBreaches[method]
		})
	}
}

func (j *RiskAssessmentJob) assessCorrelation(ctx context.Context, state *contracts.PortfolioState) {
	matrix := j.correlation.CalculateCorrelationMatrix(ctx, state)
	if matrix.Empty() {
		j.mu.Lock()
		j.adjustments = nil
		j.mu.Unlock()
		return
	}

	drift := j.correlation.MonitorCorrelationDrift(matrix)

	for _, breach := range j.correlation.DetectCorrelationBreaches(matrix) {
		alert := breach.ToAlert(uuid.New().String())
		j.dispatch(ctx, alert)

		if breach.Severity == contracts.SeverityCritical {
			a, b, threshold := breach.InstrumentA, breach.InstrumentB, breach.Threshold
			j.escalate(alert, func() bool {
				last := j.correlation.LastMatrix()
				if last == nil {
					return false
				}
				v, ok := last.Get(a, b)
				return ok && math.Abs(v) > threshold
			})
		}
	}

	adjustments := j.correlation.SuggestPositionAdjustments(state, matrix)
	triggered := j.correlation.ApplyEmergencyCorrelationProtocol(matrix)

	j.mu.Lock()
	j.adjustments = adjustments
	raise := triggered && !j.protocolActive
	j.protocolActive = triggered
	j.mu.Unlock()

	if raise {
		j.dispatch(ctx, correlation.ProtocolAlert(uuid.New().String(), drift, adjustments))
	}
}

// dispatch 알림 실패는 잡 실패로 취급하지 않음
func (j *RiskAssessmentJob) dispatch(ctx context.Context, alert contracts.Alert) {
	if err := j.dispatcher.Dispatch(ctx, alert); err != nil {
		j.logger.WithError(err).WithFields(map[string]interface{}{
			"alert_type": alert.Type,
			"severity":   alert.Severity,
		}).Warn("alert dispatch failed")
	}
}

func (j *RiskAssessmentJob) escalate(alert contracts.Alert, stillActive alerts.Condition) {
	if j.escalator == nil {
		return
	}
	j.escalator.Schedule(alert, stillActive)
}

// Adjustments returns the latest advisory position adjustments
func (j *RiskAssessmentJob) Adjustments() []correlation.PositionAdjustment {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return append([]correlation.PositionAdjustment(nil), j.adjustments...)
}
