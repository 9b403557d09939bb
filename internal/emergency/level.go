package emergency

import (
	"fmt"
	"strings"

	"github.com/wonny/aegis-risk/internal/contracts"
)

// Level 비상 레벨 (심각도 순서)
type Level int

const (
	LevelNormal Level = iota
	Level1
	Level2
	Level3
	Level4
)

var levelNames = [...]string{"NORMAL", "LEVEL_1", "LEVEL_2", "LEVEL_3", "LEVEL_4"}

// String returns the level name
func (l Level) String() string {
	if l < LevelNormal || l > Level4 {
		return fmt.Sprintf("Level(%d)", int(l))
	}
	return levelNames[l]
}

// MarshalText encodes the level by name (JSON, map keys)
func (l Level) MarshalText() ([]byte, error) {
	return []byte(l.String()), nil
}

// UnmarshalText decodes a level name
func (l *Level) UnmarshalText(text []byte) error {
	parsed, err := ParseLevel(string(text))
	if err != nil {
		return err
	}
	*l = parsed
	return nil
}

// ParseLevel converts a level name
func ParseLevel(s string) (Level, error) {
	for i, name := range levelNames {
		if strings.EqualFold(s, name) {
			return Level(i), nil
		}
	}
	return LevelNormal, fmt.Errorf("unknown emergency level %q", s)
}

// Protocol 레벨별 보호 조치
type Protocol struct {
	Level                  Level              `json:"level"`
	DrawdownThreshold      float64            `json:"drawdown_threshold"`
	VolatilityThreshold    float64            `json:"volatility_threshold"` // 스트레스 판정 배수 (현재/기준, 전 레벨 동일)
	PositionSizeMultiplier float64            `json:"position_size_multiplier"`
	StopTrading            bool               `json:"stop_trading"`
	AlertPriority          contracts.Severity `json:"alert_priority"`
	Description            string             `json:"description"`
}

// spikeMultiplier 기본 스트레스 판정 배수 (EmergencyConfig.SpikeMultiplier 기본값과 동일)
const spikeMultiplier = 2.0

// protocols 프로세스 전역 고정 테이블 (런타임 변경 불가, 값 복사로만 노출)
// ⭐ SSOT: 드로다운 구간/배수 정의
var protocols = [...]Protocol{
	{
		Level:                  LevelNormal,
		DrawdownThreshold:      0.00,
		VolatilityThreshold:    spikeMultiplier,
		PositionSizeMultiplier: 1.0,
		AlertPriority:          contracts.SeverityLow,
		Description:            "normal operations",
	},
	{
		Level:                  Level1,
		DrawdownThreshold:      0.10,
		VolatilityThreshold:    spikeMultiplier,
		PositionSizeMultiplier: 0.8,
		AlertPriority:          contracts.SeverityMedium,
		Description:            "elevated risk: position sizes reduced",
	},
	{
		Level:                  Level2,
		DrawdownThreshold:      0.15,
		VolatilityThreshold:    spikeMultiplier,
		PositionSizeMultiplier: 0.6,
		AlertPriority:          contracts.SeverityHigh,
		Description:            "high risk: defensive sizing",
	},
	{
		Level:                  Level3,
		DrawdownThreshold:      0.20,
		VolatilityThreshold:    spikeMultiplier,
		PositionSizeMultiplier: 0.3,
		AlertPriority:          contracts.SeverityCritical,
		Description:            "crisis mode: minimal exposure, open positions under closure review",
	},
	{
		Level:                  Level4,
		DrawdownThreshold:      0.25,
		VolatilityThreshold:    spikeMultiplier,
		PositionSizeMultiplier: 0.0,
		StopTrading:            true,
		AlertPriority:          contracts.SeverityCritical,
		Description:            "trading halted",
	},
}

// ProtocolFor returns the protocol of a level (NORMAL for unknown levels)
func ProtocolFor(l Level) Protocol {
	if l < LevelNormal || l > Level4 {
		return protocols[LevelNormal]
	}
	return protocols[l]
}

// Protocols returns a copy of the whole table, NORMAL first
func Protocols() []Protocol {
	out := make([]Protocol, len(protocols))
	copy(out, protocols[:])
	return out
}

// LevelForDrawdown derives the level from instantaneous drawdown
// 히스테리시스 없음: 같은 드로다운이면 항상 같은 레벨
func LevelForDrawdown(drawdown float64) Level {
	for i := len(protocols) - 1; i > 0; i-- {
		if drawdown >= protocols[i].DrawdownThreshold {
			return protocols[i].Level
		}
	}
	return LevelNormal
}
