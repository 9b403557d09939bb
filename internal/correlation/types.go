package correlation

import (
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/wonny/aegis-risk/internal/contracts"
)

// Trend 상관관계 방향성
type Trend string

const (
	TrendIncreasing Trend = "increasing"
	TrendDecreasing Trend = "decreasing"
	TrendStable     Trend = "stable"
)

// Pair 상삼각 한 쌍
type Pair struct {
	A           string  `json:"a"`
	B           string  `json:"b"`
	Correlation float64 `json:"correlation"` // 부호 포함
}

// Abs returns the correlation magnitude
func (p Pair) Abs() float64 {
	return math.Abs(p.Correlation)
}

// Matrix 대칭 피어슨 상관계수 행렬
// 대각선은 항상 1.0, 계산에 실패한 쌍은 존재하지 않음
type Matrix struct {
	Instruments []string                      `json:"instruments"`
	Values      map[string]map[string]float64 `json:"values"`
	Timestamp   time.Time                     `json:"timestamp"`
}

// NewMatrix creates an empty matrix over instruments (diagonal set)
func NewMatrix(instruments []string, ts time.Time) *Matrix {
	sorted := append([]string(nil), instruments...)
	sort.Strings(sorted)

	m := &Matrix{
		Instruments: sorted,
		Values:      make(map[string]map[string]float64, len(sorted)),
		Timestamp:   ts,
	}
	for _, inst := range sorted {
		m.Values[inst] = map[string]float64{inst: 1.0}
	}
	return m
}

// Set stores a symmetric entry
func (m *Matrix) Set(a, b string, corr float64) {
	if m.Values[a] == nil {
		m.Values[a] = map[string]float64{a: 1.0}
	}
	if m.Values[b] == nil {
		m.Values[b] = map[string]float64{b: 1.0}
	}
	m.Values[a][b] = corr
	m.Values[b][a] = corr
}

// Get returns the entry for a pair
func (m *Matrix) Get(a, b string) (float64, bool) {
	if m == nil {
		return 0, false
	}
	v, ok := m.Values[a][b]
	return v, ok
}

// Empty reports whether the matrix holds no pairs
func (m *Matrix) Empty() bool {
	return m == nil || len(m.Instruments) < 2
}

// Pairs returns the upper triangle (computed pairs only), ordered by instrument
func (m *Matrix) Pairs() []Pair {
	if m.Empty() {
		return nil
	}
	var out []Pair
	for i := 0; i < len(m.Instruments); i++ {
		for j := i + 1; j < len(m.Instruments); j++ {
			a, b := m.Instruments[i], m.Instruments[j]
			if v, ok := m.Values[a][b]; ok {
				out = append(out, Pair{A: a, B: b, Correlation: v})
			}
		}
	}
	return out
}

// DriftMetrics 상관관계 드리프트 요약
type DriftMetrics struct {
	MaxCorrelation float64   `json:"max_correlation"`
	AvgCorrelation float64   `json:"avg_correlation"`
	PairCount      int       `json:"pair_count"`
	Trend          Trend     `json:"trend"`
	Timestamp      time.Time `json:"timestamp"`
}

// Sample 이력 버퍼/저장소에 기록되는 상관관계 스냅샷
type Sample struct {
	Timestamp      time.Time                     `json:"timestamp"`
	MaxCorrelation float64                       `json:"max_correlation"`
	AvgCorrelation float64                       `json:"avg_correlation"`
	PairCount      int                           `json:"pair_count"`
	Matrix         map[string]map[string]float64 `json:"matrix,omitempty"`
}

// CorrelationAlert 임계치를 넘은 쌍
type CorrelationAlert struct {
	InstrumentA    string             `json:"instrument_a"`
	InstrumentB    string             `json:"instrument_b"`
	Correlation    float64            `json:"correlation"` // 절대값 [0,1]
	Threshold      float64            `json:"threshold"`
	Timestamp      time.Time          `json:"timestamp"`
	Severity       contracts.Severity `json:"severity"`
	Recommendation string             `json:"recommendation"`
}

// ToAlert converts a pair breach to a dispatcher alert
func (a CorrelationAlert) ToAlert(id string) contracts.Alert {
	return contracts.Alert{
		ID:       id,
		Type:     contracts.AlertCorrelationBreach,
		Severity: a.Severity,
		Title:    fmt.Sprintf("Correlation breach %s/%s", a.InstrumentA, a.InstrumentB),
		Message: fmt.Sprintf("|corr| %.3f above %.2f: %s",
			a.Correlation, a.Threshold, a.Recommendation),
		Context: map[string]interface{}{
			"instrument_a": a.InstrumentA,
			"instrument_b": a.InstrumentB,
			"correlation":  a.Correlation,
			"threshold":    a.Threshold,
		},
		Tags:      []string{"correlation", a.InstrumentA, a.InstrumentB},
		CreatedAt: a.Timestamp,
	}
}

// PositionAdjustment 포지션 축소 권고 (자문용, 주문은 외부 실행 계층 책임)
// RecommendedSize = CurrentSize × AdjustmentRatio
type PositionAdjustment struct {
	Instrument      string             `json:"instrument"`
	CurrentSize     float64            `json:"current_size"`
	RecommendedSize float64            `json:"recommended_size"`
	AdjustmentRatio float64            `json:"adjustment_ratio"` // (0, 1]
	Reason          string             `json:"reason"`
	Priority        contracts.Severity `json:"priority"`
}

// Summary 대시보드용 상태 요약
type Summary struct {
	Instruments   []string      `json:"instruments"`
	HistoryLength int           `json:"history_length"`
	BreachCount   int           `json:"breach_count"`
	LastDrift     *DriftMetrics `json:"last_drift,omitempty"`
	Emergency     bool          `json:"emergency"`
	CalculatedAt  *time.Time    `json:"calculated_at,omitempty"`
	Matrix        *Matrix       `json:"matrix,omitempty"`
}

// ProtocolAlert builds the alert raised when the correlation emergency protocol triggers
func ProtocolAlert(id string, drift DriftMetrics, adjustments []PositionAdjustment) contracts.Alert {
	instruments := make([]string, 0, len(adjustments))
	for _, a := range adjustments {
		instruments = append(instruments, a.Instrument)
	}

	return contracts.Alert{
		ID:       id,
		Type:     contracts.AlertCorrelationProtocol,
		Severity: contracts.SeverityCritical,
		Title:    "Correlation emergency protocol",
		Message: fmt.Sprintf("max |corr| %.3f (avg %.3f, %s), %d position(s) to reduce",
			drift.MaxCorrelation, drift.AvgCorrelation, drift.Trend, len(adjustments)),
		Context: map[string]interface{}{
			"max_correlation": drift.MaxCorrelation,
			"avg_correlation": drift.AvgCorrelation,
			"trend":           string(drift.Trend),
			"instruments":     instruments,
		},
		Tags:      []string{"correlation", "emergency"},
		CreatedAt: drift.Timestamp,
	}
}
