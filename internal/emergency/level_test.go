package emergency

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLevelForDrawdown(t *testing.T) {
	tests := []struct {
		drawdown float64
		want     Level
	}{
		{-0.05, LevelNormal},
		{0, LevelNormal},
		{0.09, LevelNormal},
		{0.10, Level1},
		{0.12, Level1},
		{0.15, Level2},
		{0.18, Level2},
		{0.20, Level3},
		{0.24, Level3},
		{0.25, Level4},
		{0.90, Level4},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, LevelForDrawdown(tt.drawdown), "drawdown=%v", tt.drawdown)
	}
}

func TestLevelForDrawdown_Monotonic(t *testing.T) {
	prev := LevelNormal
	for d := 0.0; d <= 0.5; d += 0.001 {
		got := LevelForDrawdown(d)
		assert.GreaterOrEqual(t, got, prev, "drawdown=%v", d)
		prev = got
	}
	assert.Equal(t, Level4, prev)
}

func TestProtocols_Table(t *testing.T) {
	table := Protocols()
	require.Len(t, table, 5)

	multipliers := []float64{1.0, 0.8, 0.6, 0.3, 0.0}
	for i, p := range table {
		assert.Equal(t, Level(i), p.Level)
		assert.Equal(t, multipliers[i], p.PositionSizeMultiplier)
		assert.Equal(t, i == 4, p.StopTrading)
		if i > 0 {
			assert.Greater(t, p.DrawdownThreshold, table[i-1].DrawdownThreshold)
		}
		assert.Equal(t, 2.0, p.VolatilityThreshold)
	}

	// 복사본 변경이 전역 테이블에 영향 없음
	table[0].PositionSizeMultiplier = 9
	assert.Equal(t, 1.0, ProtocolFor(LevelNormal).PositionSizeMultiplier)
	assert.Equal(t, LevelNormal, ProtocolFor(Level(42)).Level)
}

func TestLevel_Text(t *testing.T) {
	assert.Equal(t, "LEVEL_3", Level3.String())
	assert.Equal(t, "Level(9)", Level(9).String())

	data, err := json.Marshal(map[string]Level{"level": Level2})
	require.NoError(t, err)
	assert.JSONEq(t, `{"level":"LEVEL_2"}`, string(data))

	var decoded struct {
		Level Level `json:"level"`
	}
	require.NoError(t, json.Unmarshal([]byte(`{"level":"level_4"}`), &decoded))
	assert.Equal(t, Level4, decoded.Level)

	_, err = ParseLevel("LEVEL_9")
	assert.Error(t, err)
}
