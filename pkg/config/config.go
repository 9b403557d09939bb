package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// ErrInvalidConfig 설정 검증 실패
var ErrInvalidConfig = errors.New("invalid configuration")

// Config holds all configuration for the risk core
// ⭐ SSOT: 모든 환경변수는 여기서만 읽음
type Config struct {
	// Server (risk dashboard API)
	Port string
	Env  string // development, staging, production

	// Database
	Database DatabaseConfig

	// Redis
	Redis RedisConfig

	// Logging
	LogLevel  string
	LogFormat string

	// Monitoring
	MetricsEnabled bool
	MetricsPort    string

	// Risk engines
	Risk           RiskConfig
	RiskPolicyFile string // YAML 정책 파일 (비어있으면 환경변수만)
	RiskPolicyHash string // 적용된 리스크 설정 해시 (감사용)
}

// RedisConfig holds Redis configuration
type RedisConfig struct {
	Host     string
	Port     string
	Password string
	DB       int
	Enabled  bool
}

// DatabaseConfig holds PostgreSQL configuration
// URL이 비어있으면 in-memory 저장소로 동작
type DatabaseConfig struct {
	URL string

	// Connection Pool
	MaxConns        int
	MinConns        int
	MaxConnLifetime time.Duration
	MaxConnIdleTime time.Duration
}

// RiskConfig 리스크 엔진 설정 묶음
type RiskConfig struct {
	InitialBalance float64 `yaml:"initial_balance" json:"initial_balance"` // 드로다운 기준 초기 포트폴리오 가치

	VaR         VaRConfig         `yaml:"var" json:"var"`
	Correlation CorrelationConfig `yaml:"correlation" json:"correlation"`
	Emergency   EmergencyConfig   `yaml:"emergency" json:"emergency"`

	Schedule            string        `yaml:"schedule" json:"schedule"`                           // VaR/상관관계 평가 cron 표현식
	PortfolioSchedule   string        `yaml:"portfolio_schedule" json:"portfolio_schedule"`       // 포트폴리오 가치 폴링 cron 표현식
	PriceCacheTTL       time.Duration `yaml:"price_cache_ttl" json:"price_cache_ttl"`             // 가격 이력 캐시 TTL
	AlertThrottleLimit  int           `yaml:"alert_throttle_limit" json:"alert_throttle_limit"`   // 알림 키당 허용 횟수
	AlertThrottleWindow time.Duration `yaml:"alert_throttle_window" json:"alert_throttle_window"` // 알림 제한 윈도우
	AlertWebhookURL     string        `yaml:"-" json:"-"`                                         // 외부 알림 웹훅 (비어있으면 비활성, 환경변수 전용)
	AlertWebhookTimeout time.Duration `yaml:"alert_webhook_timeout" json:"alert_webhook_timeout"` // 웹훅 요청 타임아웃
}

// VaRConfig VaRMonitor 설정
type VaRConfig struct {
	Confidence      float64 `yaml:"confidence" json:"confidence"`             // 신뢰수준 (기본: 0.95)
	TargetDailyVaR  float64 `yaml:"target_daily_var" json:"target_daily_var"` // 목표 일간 VaR (포트폴리오 대비 비율, 기본: 0.0031)
	Lookback        int     `yaml:"lookback" json:"lookback"`                 // 수익률 lookback (기본: 252)
	MinObservations int     `yaml:"min_observations" json:"min_observations"` // 최소 수익률 수 (기본: 30)
	Simulations     int     `yaml:"simulations" json:"simulations"`           // Monte Carlo 시뮬레이션 수 (기본: 10000)
	Seed            int64   `yaml:"seed" json:"seed"`                         // Monte Carlo 시드 (재현성)
	HighMultiplier  float64 `yaml:"high_multiplier" json:"high_multiplier"`   // HIGH 심각도 배수 (기본: 1.5)
	FetchParallel   int     `yaml:"fetch_parallel" json:"fetch_parallel"`     // 가격 이력 동시 조회 수
}

// CorrelationConfig CorrelationManager 설정
type CorrelationConfig struct {
	WindowDays         int     `yaml:"window_days" json:"window_days"`                 // 롤링 윈도우 (기본: 60)
	MinObservations    int     `yaml:"min_observations" json:"min_observations"`       // 최소 정렬 수익률 수 (기본: 30)
	BreachThreshold    float64 `yaml:"breach_threshold" json:"breach_threshold"`       // HIGH (기본: 0.4)
	RebalanceThreshold float64 `yaml:"rebalance_threshold" json:"rebalance_threshold"` // MEDIUM (기본: 0.35)
	SevereThreshold    float64 `yaml:"severe_threshold" json:"severe_threshold"`       // CRITICAL (기본: 0.6)
	HistorySize        int     `yaml:"history_size" json:"history_size"`               // 이력 보관 개수 (기본: 100)
}

// EmergencyConfig EmergencyRiskManager 설정
type EmergencyConfig struct {
	MonitorInterval    time.Duration `yaml:"monitor_interval" json:"monitor_interval"`       // 모니터 루프 주기 (기본: 30s)
	RetryBackoff       time.Duration `yaml:"retry_backoff" json:"retry_backoff"`             // 실패 후 대기 (기본: 5s)
	VolatilityHistory  int           `yaml:"volatility_history" json:"volatility_history"`   // 변동성 이력 크기 (기본: 100)
	BaselineWindow     int           `yaml:"baseline_window" json:"baseline_window"`         // 기준 변동성 윈도우 (기본: 20)
	BreakdownPeriods   int           `yaml:"breakdown_periods" json:"breakdown_periods"`     // 상관 붕괴 판단 기간 (기본: 10)
	BreakdownThreshold float64       `yaml:"breakdown_threshold" json:"breakdown_threshold"` // 평균 |상관| 하한 (기본: 0.1)
	MarketDataBars     int           `yaml:"market_data_bars" json:"market_data_bars"`       // 사이클당 조회 봉 수
	PersistTimeout     time.Duration `yaml:"persist_timeout" json:"persist_timeout"`         // 비동기 저장 타임아웃
	SpikeMultiplier    float64       `yaml:"spike_multiplier" json:"spike_multiplier"`       // 스트레스 판정 배수 (현재/기준, 기본: 2.0)
}

// Load reads configuration from environment variables
// ⭐ SSOT: 이 함수만 os.Getenv()를 호출함
func Load() (*Config, error) {
	loadEnvFile()

	cfg := &Config{
		Port: getEnv("PORT", "8090"),
		Env:  getEnv("ENV", "development"),

		Database: DatabaseConfig{
			URL:             getEnv("DATABASE_URL", ""),
			MaxConns:        getEnvAsInt("DB_MAX_CONNS", 10),
			MinConns:        getEnvAsInt("DB_MIN_CONNS", 2),
			MaxConnLifetime: getEnvAsDuration("DB_MAX_CONN_LIFETIME", "1h"),
			MaxConnIdleTime: getEnvAsDuration("DB_MAX_CONN_IDLE_TIME", "30m"),
		},

		Redis: RedisConfig{
			Host:     getEnv("REDIS_HOST", "localhost"),
			Port:     getEnv("REDIS_PORT", "6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvAsInt("REDIS_DB", 0),
			Enabled:  getEnvAsBool("REDIS_ENABLED", false),
		},

		LogLevel:  getEnv("LOG_LEVEL", "info"),
		LogFormat: getEnv("LOG_FORMAT", "json"),

		MetricsEnabled: getEnvAsBool("METRICS_ENABLED", true),
		MetricsPort:    getEnv("METRICS_PORT", "9090"),

		Risk: RiskConfig{
			InitialBalance: getEnvAsFloat("RISK_INITIAL_BALANCE", 100000),
			VaR: VaRConfig{
				Confidence:      getEnvAsFloat("VAR_CONFIDENCE", 0.95),
				TargetDailyVaR:  getEnvAsFloat("VAR_TARGET_DAILY", 0.0031),
				Lookback:        getEnvAsInt("VAR_LOOKBACK", 252),
				MinObservations: getEnvAsInt("VAR_MIN_OBSERVATIONS", 30),
				Simulations:     getEnvAsInt("VAR_MC_SIMULATIONS", 10000),
				Seed:            int64(getEnvAsInt("VAR_MC_SEED", 42)),
				HighMultiplier:  getEnvAsFloat("VAR_HIGH_MULTIPLIER", 1.5),
				FetchParallel:   getEnvAsInt("VAR_FETCH_PARALLEL", 4),
			},
			Correlation: CorrelationConfig{
				WindowDays:         getEnvAsInt("CORR_WINDOW_DAYS", 60),
				MinObservations:    getEnvAsInt("CORR_MIN_OBSERVATIONS", 30),
				BreachThreshold:    getEnvAsFloat("CORR_BREACH_THRESHOLD", 0.4),
				RebalanceThreshold: getEnvAsFloat("CORR_REBALANCE_THRESHOLD", 0.35),
				SevereThreshold:    getEnvAsFloat("CORR_SEVERE_THRESHOLD", 0.6),
				HistorySize:        getEnvAsInt("CORR_HISTORY_SIZE", 100),
			},
			Emergency: EmergencyConfig{
				MonitorInterval:    getEnvAsDuration("EMERGENCY_MONITOR_INTERVAL", "30s"),
				RetryBackoff:       getEnvAsDuration("EMERGENCY_RETRY_BACKOFF", "5s"),
				VolatilityHistory:  getEnvAsInt("EMERGENCY_VOL_HISTORY", 100),
				BaselineWindow:     getEnvAsInt("EMERGENCY_BASELINE_WINDOW", 20),
				BreakdownPeriods:   getEnvAsInt("EMERGENCY_BREAKDOWN_PERIODS", 10),
				BreakdownThreshold: getEnvAsFloat("EMERGENCY_BREAKDOWN_THRESHOLD", 0.1),
				MarketDataBars:     getEnvAsInt("EMERGENCY_MARKET_BARS", 30),
				PersistTimeout:     getEnvAsDuration("EMERGENCY_PERSIST_TIMEOUT", "5s"),
				SpikeMultiplier:    getEnvAsFloat("EMERGENCY_SPIKE_MULTIPLIER", 2.0),
			},
			Schedule:            getEnv("RISK_SCHEDULE", "@every 30s"),
			PortfolioSchedule:   getEnv("RISK_PORTFOLIO_SCHEDULE", "@every 10s"),
			PriceCacheTTL:       getEnvAsDuration("RISK_PRICE_CACHE_TTL", "5m"),
			AlertThrottleLimit:  getEnvAsInt("ALERT_THROTTLE_LIMIT", 3),
			AlertThrottleWindow: getEnvAsDuration("ALERT_THROTTLE_WINDOW", "10m"),
			AlertWebhookURL:     getEnv("ALERT_WEBHOOK_URL", ""),
			AlertWebhookTimeout: getEnvAsDuration("ALERT_WEBHOOK_TIMEOUT", "5s"),
		},
	}

	cfg.RiskPolicyFile = getEnv("RISK_POLICY_FILE", "")
	if cfg.RiskPolicyFile != "" {
		risk, _, err := LoadRiskPolicy(cfg.RiskPolicyFile, cfg.Risk)
		if err != nil {
			return nil, fmt.Errorf("load risk policy %s: %w", cfg.RiskPolicyFile, err)
		}
		cfg.Risk = risk
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	hash, err := HashRisk(cfg.Risk)
	if err != nil {
		return nil, fmt.Errorf("hash risk config: %w", err)
	}
	cfg.RiskPolicyHash = hash

	return cfg, nil
}

// Default 환경변수 없이 기본값만으로 구성된 설정 (라이브러리/테스트용)
func Default() *Config {
	return &Config{
		Port:           "8090",
		Env:            "development",
		LogLevel:       "info",
		LogFormat:      "json",
		MetricsEnabled: false,
		MetricsPort:    "9090",
		Risk:           DefaultRiskConfig(),
	}
}

// DefaultRiskConfig 기본 리스크 설정
func DefaultRiskConfig() RiskConfig {
	return RiskConfig{
		InitialBalance: 100000,
		VaR: VaRConfig{
			Confidence:      0.95,
			TargetDailyVaR:  0.0031,
			Lookback:        252,
			MinObservations: 30,
			Simulations:     10000,
			Seed:            42,
			HighMultiplier:  1.5,
			FetchParallel:   4,
		},
		Correlation: CorrelationConfig{
			WindowDays:         60,
			MinObservations:    30,
			BreachThreshold:    0.4,
			RebalanceThreshold: 0.35,
			SevereThreshold:    0.6,
			HistorySize:        100,
		},
		Emergency: EmergencyConfig{
			MonitorInterval:    30 * time.Second,
			RetryBackoff:       5 * time.Second,
			VolatilityHistory:  100,
			BaselineWindow:     20,
			BreakdownPeriods:   10,
			BreakdownThreshold: 0.1,
			MarketDataBars:     30,
			PersistTimeout:     5 * time.Second,
			SpikeMultiplier:    2.0,
		},
		Schedule:            "@every 30s",
		PortfolioSchedule:   "@every 10s",
		PriceCacheTTL:       5 * time.Minute,
		AlertThrottleLimit:  3,
		AlertThrottleWindow: 10 * time.Minute,
		AlertWebhookTimeout: 5 * time.Second,
	}
}

// validate checks if configuration values are usable
func (c *Config) validate() error {
	if c.Env != "development" && c.Env != "staging" && c.Env != "production" {
		return fmt.Errorf("%w: ENV must be one of: development, staging, production", ErrInvalidConfig)
	}

	return c.Risk.Validate()
}

// Validate 리스크 파라미터 범위 검사
func (r RiskConfig) Validate() error {
	if r.InitialBalance <= 0 {
		return fmt.Errorf("%w: RISK_INITIAL_BALANCE must be > 0", ErrInvalidConfig)
	}
	if r.VaR.Confidence <= 0 || r.VaR.Confidence >= 1 {
		return fmt.Errorf("%w: VAR_CONFIDENCE must be between 0 and 1", ErrInvalidConfig)
	}
	if r.VaR.TargetDailyVaR <= 0 {
		return fmt.Errorf("%w: VAR_TARGET_DAILY must be > 0", ErrInvalidConfig)
	}
	if r.VaR.Lookback < r.VaR.MinObservations {
		return fmt.Errorf("%w: VAR_LOOKBACK must be >= VAR_MIN_OBSERVATIONS", ErrInvalidConfig)
	}
	if r.VaR.Simulations <= 0 {
		return fmt.Errorf("%w: VAR_MC_SIMULATIONS must be > 0", ErrInvalidConfig)
	}

	corr := r.Correlation
	if !(corr.RebalanceThreshold < corr.BreachThreshold && corr.BreachThreshold < corr.SevereThreshold) {
		return fmt.Errorf("%w: correlation thresholds must satisfy rebalance < breach < severe", ErrInvalidConfig)
	}
	if corr.SevereThreshold > 1 {
		return fmt.Errorf("%w: CORR_SEVERE_THRESHOLD must be <= 1", ErrInvalidConfig)
	}
	if corr.HistorySize <= 0 || corr.WindowDays < corr.MinObservations {
		return fmt.Errorf("%w: CORR_WINDOW_DAYS must be >= CORR_MIN_OBSERVATIONS", ErrInvalidConfig)
	}

	em := r.Emergency
	if em.MonitorInterval <= 0 || em.RetryBackoff <= 0 {
		return fmt.Errorf("%w: emergency intervals must be > 0", ErrInvalidConfig)
	}
	if em.SpikeMultiplier <= 1 {
		return fmt.Errorf("%w: EMERGENCY_SPIKE_MULTIPLIER must be > 1", ErrInvalidConfig)
	}
	if em.BaselineWindow <= 0 || em.VolatilityHistory < em.BaselineWindow {
		return fmt.Errorf("%w: EMERGENCY_VOL_HISTORY must be >= EMERGENCY_BASELINE_WINDOW", ErrInvalidConfig)
	}

	return nil
}

// Helper functions (private, only used within this file)

// loadEnvFile tries to load .env from multiple locations
func loadEnvFile() {
	paths := []string{".env"}

	if exe, err := os.Executable(); err == nil {
		exeDir := filepath.Dir(exe)
		paths = append(paths,
			filepath.Join(exeDir, ".env"),
			filepath.Join(exeDir, "..", ".env"),
		)
	}

	for _, path := range paths {
		if _, err := os.Stat(path); err == nil {
			_ = godotenv.Load(path)
			return
		}
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}

	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}

	return value
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}

	value, err := strconv.ParseFloat(valueStr, 64)
	if err != nil {
		return defaultValue
	}

	return value
}

func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}

	value, err := strconv.ParseBool(valueStr)
	if err != nil {
		return defaultValue
	}

	return value
}

func getEnvAsDuration(key string, defaultValue string) time.Duration {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		valueStr = defaultValue
	}

	duration, err := time.ParseDuration(valueStr)
	if err != nil {
		duration, _ = time.ParseDuration(defaultValue)
	}

	return duration
}
