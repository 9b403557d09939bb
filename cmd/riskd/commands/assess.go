package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
)

// assessCmd represents the assess command
var assessCmd = &cobra.Command{
	Use:   "assess",
	Short: "리스크 평가 1회 실행",
	Long: `포트폴리오 가치 갱신과 VaR/상관관계 평가를 한 번 실행하고 결과를 JSON으로 출력합니다.

Example:
  go run ./cmd/riskd assess`,
	RunE: runAssess,
}

var assessTimeout time.Duration

func init() {
	rootCmd.AddCommand(assessCmd)

	assessCmd.Flags().DurationVar(&assessTimeout, "timeout", 60*time.Second, "평가 제한 시간")
}

// assessReport assess 출력
type assessReport struct {
	Emergency   interface{} `json:"emergency"`
	VaR         interface{} `json:"var"`
	Correlation interface{} `json:"correlation"`
	Adjustments interface{} `json:"adjustments"`
}

func runAssess(cmd *cobra.Command, args []string) error {
	cfg, log, err := loadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), assessTimeout)
	defer cancel()

	rt, err := newRuntime(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer rt.close()

	if err := rt.valueJob.Run(ctx); err != nil {
		return fmt.Errorf("portfolio value: %w", err)
	}
	if err := rt.assessment.Run(ctx); err != nil {
		return fmt.Errorf("risk assessment: %w", err)
	}
	rt.drain()

	report := assessReport{
		Emergency:   rt.emergency.GetEmergencyStatus(),
		VaR:         rt.varMonitor.Summary(),
		Correlation: rt.correlation.Summary(),
		Adjustments: rt.assessment.Adjustments(),
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(report)
}
