package contracts

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestPosition_Notional(t *testing.T) {
	long := Position{Instrument: "EUR_USD", Size: 1000, EntryPrice: 1.10}
	short := Position{Instrument: "XAU_USD", Size: -2, EntryPrice: 1900}

	assert.InDelta(t, 1200.0, long.Notional(1.20), 1e-9)
	assert.InDelta(t, 1100.0, long.Notional(0), 1e-9, "falls back to entry price")
	assert.InDelta(t, 3900.0, short.Notional(1950), 1e-9, "uses absolute size")
}

func TestPortfolioState_Instruments(t *testing.T) {
	state := &PortfolioState{
		Positions: map[string]Position{
			"XAU_USD": {ID: "p2", Instrument: "XAU_USD"},
			"EUR_USD": {ID: "p1", Instrument: "EUR_USD"},
		},
	}

	assert.Equal(t, []string{"EUR_USD", "XAU_USD"}, state.Instruments())
	assert.Equal(t, []string{"p1", "p2"}, state.PositionIDs())

	var nilState *PortfolioState
	assert.Nil(t, nilState.Instruments())
}

func TestCloses(t *testing.T) {
	now := time.Now()
	bars := []PriceBar{{Time: now, Close: 1}, {Time: now.Add(time.Hour), Close: 2}}
	assert.Equal(t, []float64{1, 2}, Closes(bars))
}

func TestSeverity_Rank(t *testing.T) {
	assert.Less(t, SeverityLow.Rank(), SeverityMedium.Rank())
	assert.Less(t, SeverityMedium.Rank(), SeverityHigh.Rank())
	assert.Less(t, SeverityHigh.Rank(), SeverityCritical.Rank())
	assert.Equal(t, 0, Severity("UNKNOWN").Rank())
}

func TestAlert_HasTagAndDispatcherFunc(t *testing.T) {
	alert := Alert{Type: AlertVaRBreach, Tags: []string{"var", "multi_method"}}
	assert.True(t, alert.HasTag("multi_method"))
	assert.False(t, alert.HasTag("stress"))

	var got Alert
	d := AlertDispatcherFunc(func(ctx context.Context, a Alert) error {
		got = a
		return nil
	})
	assert.NoError(t, d.Dispatch(context.Background(), alert))
	assert.Equal(t, AlertVaRBreach, got.Type)
}
