package storage

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wonny/aegis-risk/internal/contracts"
	"github.com/wonny/aegis-risk/internal/correlation"
	"github.com/wonny/aegis-risk/internal/emergency"
	"github.com/wonny/aegis-risk/internal/risk"
	"github.com/wonny/aegis-risk/pkg/config"
	"github.com/wonny/aegis-risk/pkg/database"
)

func newTestRepository(t *testing.T) (*Repository, context.Context) {
	t.Helper()
	url := os.Getenv("TEST_DATABASE_URL")
	if url == "" {
		t.Skip("TEST_DATABASE_URL not set, skipping integration test")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	t.Cleanup(cancel)

	db, err := database.New(ctx, config.DatabaseConfig{URL: url, MaxConns: 2})
	require.NoError(t, err)
	t.Cleanup(db.Close)

	require.NoError(t, EnsureSchema(ctx, db.Pool))
	return NewRepository(db.Pool), ctx
}

func TestRepository_RoundTrip(t *testing.T) {
	repo, ctx := newTestRepository(t)
	now := time.Now().UTC().Truncate(time.Microsecond)

	require.NoError(t, repo.SaveTransition(ctx, emergency.Transition{
		ID:             uuid.NewString(),
		From:           emergency.LevelNormal,
		To:             emergency.Level2,
		Drawdown:       0.16,
		PortfolioValue: 84000,
		Protocol:       emergency.ProtocolFor(emergency.Level2),
		Escalation:     true,
		Timestamp:      now,
	}))

	require.NoError(t, repo.SaveStressEvents(ctx, []emergency.StressEvent{{
		ID:                  uuid.NewString(),
		Type:                emergency.StressVolatilitySpike,
		Severity:            3.2,
		DetectedAt:          now,
		AffectedInstruments: []string{"EUR_USD"},
		RecommendedAction:   "reduce exposure",
	}}))

	require.NoError(t, repo.SavePortfolioValue(ctx, emergency.PortfolioValue{
		Timestamp: now, Value: 84000, Drawdown: 0.16, Level: emergency.Level2,
	}))

	require.NoError(t, repo.SaveVaRResults(ctx, []risk.VaRResult{{
		Method: risk.MethodHistorical, Instrument: "EUR_USD", Amount: 150, Confidence: 0.95, Timestamp: now,
	}}))

	require.NoError(t, repo.SaveCorrelationSample(ctx, correlation.Sample{
		Timestamp:      now,
		MaxCorrelation: 0.55,
		AvgCorrelation: 0.3,
		PairCount:      1,
		Matrix: map[string]map[string]float64{
			"EUR_USD": {"EUR_USD": 1, "GBP_USD": 0.55},
			"GBP_USD": {"EUR_USD": 0.55, "GBP_USD": 1},
		},
	}))

	samples, err := repo.RecentCorrelationSamples(ctx, 1)
	require.NoError(t, err)
	require.Len(t, samples, 1)
	assert.InDelta(t, 0.55, samples[0].Matrix["EUR_USD"]["GBP_USD"], 1e-12)

	alertID := uuid.NewString()
	require.NoError(t, repo.SaveAlert(ctx, contracts.Alert{
		ID:        alertID,
		Type:      contracts.AlertEmergencyLevel,
		Severity:  contracts.SeverityHigh,
		Title:     "Emergency level LEVEL_2",
		Message:   "drawdown 16.00%",
		Context:   map[string]interface{}{"drawdown": 0.16},
		Tags:      []string{"emergency"},
		CreatedAt: now,
	}))

	alerts, err := repo.RecentAlerts(ctx, 20)
	require.NoError(t, err)
	found := false
	for _, a := range alerts {
		if a.ID == alertID {
			found = true
			assert.Equal(t, contracts.SeverityHigh, a.Severity)
			assert.Equal(t, []string{"emergency"}, a.Tags)
		}
	}
	assert.True(t, found)
}
