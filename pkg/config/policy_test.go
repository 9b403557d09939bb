package config

import (
	"errors"
	"testing"
	"time"
)

func TestLoadRiskPolicy(t *testing.T) {
	base := DefaultRiskConfig()

	risk, data, err := LoadRiskPolicy("testdata/risk_policy.yaml", base)
	if err != nil {
		t.Fatalf("LoadRiskPolicy failed: %v", err)
	}
	if len(data) == 0 {
		t.Error("expected raw yaml bytes")
	}

	if risk.InitialBalance != 250000 {
		t.Errorf("expected initial balance 250000, got %v", risk.InitialBalance)
	}
	if risk.VaR.Confidence != 0.99 || risk.VaR.Lookback != 120 {
		t.Errorf("unexpected VaR overlay: %+v", risk.VaR)
	}
	if risk.Correlation.SevereThreshold != 0.7 {
		t.Errorf("expected severe 0.7, got %v", risk.Correlation.SevereThreshold)
	}
	if risk.Emergency.MonitorInterval != 15*time.Second {
		t.Errorf("expected monitor interval 15s, got %v", risk.Emergency.MonitorInterval)
	}
	if risk.AlertThrottleWindow != 5*time.Minute {
		t.Errorf("expected throttle window 5m, got %v", risk.AlertThrottleWindow)
	}

	// 파일에 없는 필드는 그대로
	if risk.VaR.Simulations != base.VaR.Simulations {
		t.Errorf("expected simulations %d, got %d", base.VaR.Simulations, risk.VaR.Simulations)
	}
	if risk.Correlation.RebalanceThreshold != base.Correlation.RebalanceThreshold {
		t.Errorf("rebalance threshold changed: %v", risk.Correlation.RebalanceThreshold)
	}
}

func TestLoadRiskPolicyErrors(t *testing.T) {
	tests := []struct {
		name    string
		path    string
		wantCfg bool
	}{
		{"unknown field", "testdata/risk_policy_typo.yaml", true},
		{"fails validation", "testdata/risk_policy_invalid.yaml", true},
		{"missing file", "testdata/does_not_exist.yaml", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			base := DefaultRiskConfig()
			risk, _, err := LoadRiskPolicy(tt.path, base)
			if err == nil {
				t.Fatal("expected error")
			}
			if tt.wantCfg && !errors.Is(err, ErrInvalidConfig) {
				t.Errorf("expected ErrInvalidConfig, got %v", err)
			}
			if risk != base {
				t.Error("base config must be returned on error")
			}
		})
	}
}

func TestHashRisk(t *testing.T) {
	a := DefaultRiskConfig()
	b := DefaultRiskConfig()

	ha, err := HashRisk(a)
	if err != nil {
		t.Fatalf("HashRisk failed: %v", err)
	}
	if len(ha) != 64 {
		t.Errorf("expected 64 char hash, got %d", len(ha))
	}

	hb, _ := HashRisk(b)
	if ha != hb {
		t.Error("hash not deterministic")
	}

	b.AlertWebhookURL = "https://hooks.example.com/x"
	hb, _ = HashRisk(b)
	if ha != hb {
		t.Error("webhook URL must not affect the hash")
	}

	b.VaR.Confidence = 0.99
	hb, _ = HashRisk(b)
	if ha == hb {
		t.Error("expected different hash after change")
	}
}

func TestLoadWithRiskPolicyFile(t *testing.T) {
	t.Setenv("ENV", "development")
	t.Setenv("VAR_CONFIDENCE", "0.9")
	t.Setenv("RISK_POLICY_FILE", "testdata/risk_policy.yaml")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}

	// 정책 파일이 환경변수보다 우선
	if cfg.Risk.VaR.Confidence != 0.99 {
		t.Errorf("expected policy confidence 0.99, got %v", cfg.Risk.VaR.Confidence)
	}
	if cfg.RiskPolicyHash == "" {
		t.Error("expected policy hash")
	}
}
