package emergency

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrAlreadyRunning 모니터 루프 중복 시작
	ErrAlreadyRunning = errors.New("emergency monitor already running")
	// ErrHaltActive 활성 프로토콜이 아직 거래 중단 상태
	ErrHaltActive = errors.New("active protocol still stops trading")
)

// Store persists emergency decisions (append-only)
type Store interface {
	SaveTransition(ctx context.Context, t Transition) error
	SaveStressEvents(ctx context.Context, events []StressEvent) error
	SavePortfolioValue(ctx context.Context, v PortfolioValue) error
}

// Transition 레벨 전이 기록 (상승/하강 모두)
type Transition struct {
	ID             string    `json:"id"`
	From           Level     `json:"from"`
	To             Level     `json:"to"`
	Drawdown       float64   `json:"drawdown"`
	PortfolioValue float64   `json:"portfolio_value"`
	Protocol       Protocol  `json:"protocol"`
	Escalation     bool      `json:"escalation"`
	Timestamp      time.Time `json:"timestamp"`
}

// PortfolioValue 포트폴리오 가치/드로다운 시계열 한 점
type PortfolioValue struct {
	Timestamp time.Time `json:"timestamp"`
	Value     float64   `json:"value"`
	Drawdown  float64   `json:"drawdown"`
	Level     Level     `json:"level"`
}

// RiskSignals 다른 엔진에서 올라온 위험 신호
type RiskSignals struct {
	VaRMultiMethodBreach bool `json:"var_multi_method_breach"`
	CorrelationEmergency bool `json:"correlation_emergency"`
}

// CompositeWarning 복수 위험 신호 동시 발생 기록
// 레벨은 드로다운으로만 결정되므로 경고만 남김
type CompositeWarning struct {
	Signals    []string  `json:"signals"`
	DetectedAt time.Time `json:"detected_at"`
}

// Status 비상 상태 스냅샷 (다른 서브시스템이 폴링하는 기본 인터페이스)
type Status struct {
	Level                Level             `json:"level"`
	Drawdown             float64           `json:"drawdown"`
	PortfolioValue       float64           `json:"portfolio_value"`
	InitialValue         float64           `json:"initial_value"`
	Protocol             Protocol          `json:"protocol"`
	TradingHalted        bool              `json:"trading_halted"`
	ActiveStressEvents   []StressEvent     `json:"active_stress_events"`
	PositionsUnderReview []string          `json:"positions_under_review,omitempty"`
	RecentTransitions    []Transition      `json:"recent_transitions"`
	CompositeWarning     *CompositeWarning `json:"composite_warning,omitempty"`
	Monitoring           bool              `json:"monitoring"`
	LastCycleAt          *time.Time        `json:"last_cycle_at,omitempty"`
}
