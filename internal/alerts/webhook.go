package alerts

import (
	"context"
	"fmt"

	"github.com/wonny/aegis-risk/internal/contracts"
	"github.com/wonny/aegis-risk/pkg/httputil"
)

// WebhookDispatcher posts alerts to an external webhook (Slack 호환 "text" 필드 포함)
// minSeverity 미만 알림은 전송하지 않음
type WebhookDispatcher struct {
	client      *httputil.Client
	url         string
	minSeverity contracts.Severity
}

// webhookPayload 웹훅 본문
type webhookPayload struct {
	Text  string          `json:"text"`
	Alert contracts.Alert `json:"alert"`
}

// NewWebhookDispatcher creates a webhook dispatcher
func NewWebhookDispatcher(client *httputil.Client, url string, minSeverity contracts.Severity) *WebhookDispatcher {
	if minSeverity == "" {
		minSeverity = contracts.SeverityMedium
	}
	return &WebhookDispatcher{
		client:      client,
		url:         url,
		minSeverity: minSeverity,
	}
}

// Dispatch posts the alert
func (d *WebhookDispatcher) Dispatch(ctx context.Context, alert contracts.Alert) error {
	if alert.Severity.Rank() < d.minSeverity.Rank() {
		return nil
	}

	payload := webhookPayload{
		Text:  fmt.Sprintf("[%s] %s: %s", alert.Severity, alert.Title, alert.Message),
		Alert: alert,
	}
	if err := d.client.PostJSON(ctx, d.url, payload); err != nil {
		return fmt.Errorf("webhook delivery for alert %s: %w", alert.ID, err)
	}
	return nil
}
