package jobs

import (
	"context"
	"fmt"
	"math"

	"github.com/wonny/aegis-risk/internal/contracts"
	"github.com/wonny/aegis-risk/internal/emergency"
	"github.com/wonny/aegis-risk/pkg/logger"
)

// PortfolioValueJob feeds mark-to-market equity into the drawdown ladder
type PortfolioValueJob struct {
	portfolio contracts.PortfolioSource
	emergency *emergency.Manager
	schedule  string
	logger    *logger.Logger
}

// NewPortfolioValueJob creates a new portfolio value job
func NewPortfolioValueJob(portfolio contracts.PortfolioSource, em *emergency.Manager, schedule string, log *logger.Logger) *PortfolioValueJob {
	return &PortfolioValueJob{
		portfolio: portfolio,
		emergency: em,
		schedule:  schedule,
		logger:    log.WithComponent("portfolio_value"),
	}
}

// Name returns the job name
func (j *PortfolioValueJob) Name() string {
	return "portfolio_value"
}

// Schedule returns the cron schedule
func (j *PortfolioValueJob) Schedule() string {
	return j.schedule
}

// Run reads the snapshot and updates the emergency level
func (j *PortfolioValueJob) Run(ctx context.Context) error {
	state, err := j.portfolio.CurrentPortfolio(ctx)
	if err != nil {
		return fmt.Errorf("failed to load portfolio: %w", err)
	}

	value := Equity(state)
	if value <= 0 || math.IsNaN(value) || math.IsInf(value, 0) {
		j.logger.WithField("value", fmt.Sprint(value)).Warn("invalid portfolio value skipped")
		return nil
	}

	level := j.emergency.UpdatePortfolioValue(value)
	j.logger.WithFields(map[string]interface{}{
		"value": value,
		"level": level.String(),
	}).Debug("portfolio value updated")

	return nil
}

// Equity 잔고 + 미실현 손익
func Equity(state *contracts.PortfolioState) float64 {
	if state == nil {
		return 0
	}
	equity := state.TotalBalance
	for _, p := range state.Positions {
		equity += p.UnrealizedPnL
	}
	return equity
}
