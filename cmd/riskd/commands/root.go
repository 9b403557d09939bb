package commands

import (
	"github.com/spf13/cobra"
)

var (
	// Global flags
	env     string
	verbose bool
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "riskd",
	Short: "Aegis Risk - 포트폴리오 리스크 코어",
	Long: `Aegis Risk CLI

VaR 모니터, 상관관계 관리자, 비상 리스크 관리자를 실행합니다.
DATABASE_URL이 없으면 in-memory 저장소로 동작합니다.

Usage:
  go run ./cmd/riskd [command]

Examples:
  go run ./cmd/riskd monitor
  go run ./cmd/riskd assess
  go run ./cmd/riskd protocols
  go run ./cmd/riskd check-db --migrate`,
	SilenceUsage: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		applyGlobalFlags(cmd)
	},
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&env, "env", "", "environment (development|staging|production)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "debug logging")
}
