package emergency

import (
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/wonny/aegis-risk/internal/contracts"
	"github.com/wonny/aegis-risk/internal/risk"
	"github.com/wonny/aegis-risk/pkg/ringbuf"
)

// StressType 스트레스 이벤트 유형
type StressType string

const (
	StressVolatilitySpike      StressType = "VOLATILITY_SPIKE"
	StressFlashCrash           StressType = "FLASH_CRASH"
	StressCorrelationBreakdown StressType = "CORRELATION_BREAKDOWN"
	StressLiquidityCrisis      StressType = "LIQUIDITY_CRISIS"
	StressMarketFreeze         StressType = "MARKET_FREEZE"
)

const (
	// flashCrashSeverity 이 배수를 넘는 급변동은 FLASH_CRASH
	flashCrashSeverity = 5.0
	// minBreakdownInstruments 상관 붕괴 판단 최소 종목 수
	minBreakdownInstruments = 3
)

// StressEvent 종목 단위 이상 변동성/상관 붕괴 감지 결과
type StressEvent struct {
	ID                  string     `json:"id"`
	Type                StressType `json:"type"`
	Severity            float64    `json:"severity"` // 현재/기준 변동성 비율
	DetectedAt          time.Time  `json:"detected_at"`
	CurrentVolatility   float64    `json:"current_volatility"`
	ThresholdVolatility float64    `json:"threshold_volatility"`
	AffectedInstruments []string   `json:"affected_instruments"`
	RecommendedAction   string     `json:"recommended_action"`
}

// ToAlert converts a stress event to a dispatcher alert
func (e StressEvent) ToAlert() contracts.Alert {
	severity := contracts.SeverityHigh
	if e.Type == StressFlashCrash || e.Type == StressCorrelationBreakdown {
		severity = contracts.SeverityCritical
	}
	return contracts.Alert{
		ID:       e.ID,
		Type:     contracts.AlertStressEvent,
		Severity: severity,
		Title:    fmt.Sprintf("%s on %s", e.Type, strings.Join(e.AffectedInstruments, ",")),
		Message:  fmt.Sprintf("severity %.2f: %s", e.Severity, e.RecommendedAction),
		Context: map[string]interface{}{
			"stress_type":          string(e.Type),
			"severity":             e.Severity,
			"current_volatility":   e.CurrentVolatility,
			"threshold_volatility": e.ThresholdVolatility,
		},
		Tags:      append([]string{"stress", string(e.Type)}, e.AffectedInstruments...),
		CreatedAt: e.DetectedAt,
	}
}

func recommendedAction(t StressType) string {
	switch t {
	case StressFlashCrash:
		return "halt new entries on the instrument and tighten stops"
	case StressCorrelationBreakdown:
		return "diversification assumptions invalid: reduce gross exposure"
	default:
		return "reduce position size on the instrument"
	}
}

// instrumentState 종목별 변동성/종가 이력
type instrumentState struct {
	volatility *ringbuf.Ring[float64]
	closes     *ringbuf.Ring[float64]
	lastBar    time.Time
}

// trueRangeRatio 최신 봉의 true range / 종가
// 이전 봉이 없으면 high-low만 사용
func trueRangeRatio(bars []contracts.PriceBar) (float64, bool) {
	if len(bars) == 0 {
		return 0, false
	}
	last := bars[len(bars)-1]
	if last.Close <= 0 || math.IsNaN(last.Close) {
		return 0, false
	}

	tr := last.High - last.Low
	if len(bars) > 1 {
		prevClose := bars[len(bars)-2].Close
		tr = math.Max(tr, math.Abs(last.High-prevClose))
		tr = math.Max(tr, math.Abs(last.Low-prevClose))
	}
	if tr < 0 || math.IsNaN(tr) || math.IsInf(tr, 0) {
		return 0, false
	}
	return tr / last.Close, true
}

// detectSpike compares current volatility with the trailing baseline
// 기준치는 현재 샘플을 넣기 전 최근 baselineWindow개 평균
func detectSpike(instrument string, current, baseline, multiplier float64, now time.Time) (StressEvent, bool) {
	if baseline <= 0 || current <= multiplier*baseline {
		return StressEvent{}, false
	}

	severity := current / baseline
	eventType := StressVolatilitySpike
	if severity > flashCrashSeverity {
		eventType = StressFlashCrash
	}

	return StressEvent{
		ID:                  uuid.New().String(),
		Type:                eventType,
		Severity:            severity,
		DetectedAt:          now,
		CurrentVolatility:   current,
		ThresholdVolatility: multiplier * baseline,
		AffectedInstruments: []string{instrument},
		RecommendedAction:   recommendedAction(eventType),
	}, true
}

// averageAbsCorrelation 최근 periods개 수익률로 계산한 종목 쌍 평균 |상관|
// 계산 가능한 쌍이 없으면 ok=false
func averageAbsCorrelation(returns map[string][]float64) (float64, bool) {
	names := make([]string, 0, len(returns))
	for name := range returns {
		names = append(names, name)
	}
	sort.Strings(names)

	var sum float64
	n := 0
	for i := 0; i < len(names); i++ {
		for j := i + 1; j < len(names); j++ {
			corr, err := risk.Pearson(returns[names[i]], returns[names[j]])
			if err != nil {
				continue
			}
			sum += math.Abs(corr)
			n++
		}
	}
	if n == 0 {
		return 0, false
	}
	return sum / float64(n), true
}
