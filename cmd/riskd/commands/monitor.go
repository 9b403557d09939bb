package commands

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/wonny/aegis-risk/internal/api"
)

// monitorCmd represents the monitor command
var monitorCmd = &cobra.Command{
	Use:   "monitor",
	Short: "리스크 모니터 데몬 시작",
	Long: `리스크 코어를 데몬으로 실행합니다.

이 명령어는:
- 비상 모니터 루프 (스트레스 감지, 30초 주기)
- VaR/상관관계 평가 스케줄 (RISK_SCHEDULE)
- 포트폴리오 가치 폴링 스케줄 (RISK_PORTFOLIO_SCHEDULE)
- 대시보드 API + 알림 WebSocket
- Prometheus /metrics (METRICS_ENABLED)

Endpoints:
  GET  /health
  GET  /api/risk/emergency | var | correlation | stress | protocols | alerts | jobs
  POST /api/risk/portfolio-value | position-size | trading/resume | jobs/{name}/run
  PUT  /api/risk/portfolio            (in-memory 모드)
  POST /api/risk/prices/{instrument}  (in-memory 모드)
  GET  /ws/alerts

Example:
  go run ./cmd/riskd monitor
  go run ./cmd/riskd monitor --port 8091`,
	RunE: runMonitor,
}

var (
	monitorPort string
)

func init() {
	rootCmd.AddCommand(monitorCmd)

	monitorCmd.Flags().StringVar(&monitorPort, "port", "", "API 서버 포트 (기본: PORT)")
}

func runMonitor(cmd *cobra.Command, args []string) error {
	cfg, log, err := loadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if monitorPort != "" {
		cfg.Port = monitorPort
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rt, err := newRuntime(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer rt.close()

	apiServer := api.New("api", cfg.Port, rt.router(), log)
	var metricsServer *api.Server
	if cfg.MetricsEnabled {
		metricsServer = api.New("metrics", cfg.MetricsPort, rt.metricsHandler(), log)
	}

	if err := rt.emergency.Start(ctx); err != nil {
		return fmt.Errorf("start emergency monitor: %w", err)
	}
	rt.scheduler.Start()

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		rt.hub.Run(gctx)
		return nil
	})
	g.Go(apiServer.Start)
	if metricsServer != nil {
		g.Go(metricsServer.Start)
	}

	log.WithFields(map[string]interface{}{
		"port":          cfg.Port,
		"env":           cfg.Env,
		"in_memory":     rt.tracker != nil,
		"metrics_port":  cfg.MetricsPort,
		"risk_schedule": cfg.Risk.Schedule,
		"policy_file":   cfg.RiskPolicyFile,
		"policy_hash":   cfg.RiskPolicyHash,
	}).Info("Risk monitor started")

	// Shutdown: 시그널 또는 서버 실패
	g.Go(func() error {
		<-gctx.Done()

		log.Info("Shutting down risk monitor...")
		rt.scheduler.Stop()
		rt.emergency.Stop()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := apiServer.Shutdown(shutdownCtx); err != nil {
			log.WithError(err).Warn("API server shutdown failed")
		}
		if metricsServer != nil {
			if err := metricsServer.Shutdown(shutdownCtx); err != nil {
				log.WithError(err).Warn("Metrics server shutdown failed")
			}
		}
		return nil
	})

	err = g.Wait()
	rt.drain()
	log.Info("Risk monitor stopped")
	return err
}
