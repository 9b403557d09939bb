package contracts

import "time"

// Severity 알림 심각도
type Severity string

const (
	SeverityLow      Severity = "LOW"
	SeverityMedium   Severity = "MEDIUM"
	SeverityHigh     Severity = "HIGH"
	SeverityCritical Severity = "CRITICAL"
)

// Rank orders severities (LOW=1 … CRITICAL=4, unknown=0)
func (s Severity) Rank() int {
	switch s {
	case SeverityLow:
		return 1
	case SeverityMedium:
		return 2
	case SeverityHigh:
		return 3
	case SeverityCritical:
		return 4
	default:
		return 0
	}
}

// AlertType 알림 유형
type AlertType string

const (
	AlertVaRBreach           AlertType = "VAR_BREACH"
	AlertCorrelationBreach   AlertType = "CORRELATION_BREACH"
	AlertCorrelationProtocol AlertType = "CORRELATION_EMERGENCY"
	AlertStressEvent         AlertType = "STRESS_EVENT"
	AlertEmergencyLevel      AlertType = "EMERGENCY_LEVEL"
	AlertTradingHalt         AlertType = "TRADING_HALT"
	AlertCompositeRisk       AlertType = "COMPOSITE_RISK"
)

// Alert is the structured alert handed to the external dispatcher
// ⭐ 계약: 코어는 "알릴지/심각도"만 결정, 전달 채널은 Dispatcher 책임
type Alert struct {
	ID        string                 `json:"id"`
	Type      AlertType              `json:"type"`
	Severity  Severity               `json:"severity"`
	Title     string                 `json:"title"`
	Message   string                 `json:"message"`
	Context   map[string]interface{} `json:"context,omitempty"`
	Tags      []string               `json:"tags,omitempty"`
	CreatedAt time.Time              `json:"created_at"`
}

// HasTag reports whether the alert carries tag
func (a Alert) HasTag(tag string) bool {
	for _, t := range a.Tags {
		if t == tag {
			return true
		}
	}
	return false
}
