package emergency

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wonny/aegis-risk/internal/contracts"
)

func TestTrueRangeRatio(t *testing.T) {
	tests := []struct {
		name string
		bars []contracts.PriceBar
		want float64
		ok   bool
	}{
		{"empty", nil, 0, false},
		{"single bar uses high-low", []contracts.PriceBar{{High: 102, Low: 98, Close: 100}}, 0.04, true},
		{"gap up uses previous close", []contracts.PriceBar{
			{Close: 100},
			{High: 110, Low: 108, Close: 109},
		}, 10.0 / 109, true},
		{"gap down", []contracts.PriceBar{
			{Close: 100},
			{High: 95, Low: 90, Close: 92},
		}, 10.0 / 92, true},
		{"zero close", []contracts.PriceBar{{High: 1, Low: 0, Close: 0}}, 0, false},
		{"nan close", []contracts.PriceBar{{High: 1, Low: 0, Close: math.NaN()}}, 0, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := trueRangeRatio(tt.bars)
			assert.Equal(t, tt.ok, ok)
			assert.InDelta(t, tt.want, got, 1e-12)
		})
	}
}

func TestAverageAbsCorrelation(t *testing.T) {
	avg, ok := averageAbsCorrelation(map[string][]float64{
		"A": {1, 2, 3, 4},
		"B": {2, 4, 6, 8},
		"C": {4, 3, 2, 1},
	})
	require.True(t, ok)
	assert.InDelta(t, 1.0, avg, 1e-12)

	_, ok = averageAbsCorrelation(map[string][]float64{"A": {1, 1, 1}, "B": {1, 2, 3}})
	assert.False(t, ok)
}

func TestStressEvent_ToAlert(t *testing.T) {
	ev := StressEvent{
		ID:                  "ev-1",
		Type:                StressFlashCrash,
		Severity:            6,
		AffectedInstruments: []string{"EUR_USD"},
		RecommendedAction:   recommendedAction(StressFlashCrash),
	}

	alert := ev.ToAlert()
	assert.Equal(t, contracts.AlertStressEvent, alert.Type)
	assert.Equal(t, contracts.SeverityCritical, alert.Severity)
	assert.True(t, alert.HasTag("EUR_USD"))
	assert.Equal(t, "ev-1", alert.ID)

	ev.Type = StressVolatilitySpike
	assert.Equal(t, contracts.SeverityHigh, ev.ToAlert().Severity)
}
