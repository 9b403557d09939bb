package commands

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/wonny/aegis-risk/internal/emergency"
)

// protocolsCmd represents the protocols command
var protocolsCmd = &cobra.Command{
	Use:   "protocols",
	Short: "비상 프로토콜 표 출력",
	Long: `드로다운 구간별 비상 프로토콜(사이즈 배수, 거래 중단 여부)을 출력합니다.

Example:
  go run ./cmd/riskd protocols`,
	RunE: runProtocols,
}

func init() {
	rootCmd.AddCommand(protocolsCmd)
}

func runProtocols(cmd *cobra.Command, args []string) error {
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "LEVEL\tDRAWDOWN\tVOL x\tSIZE x\tSTOP\tPRIORITY\tDESCRIPTION")
	for _, p := range emergency.Protocols() {
		fmt.Fprintf(w, "%s\t>= %.0f%%\t%.1f\t%.1f\t%v\t%s\t%s\n",
			p.Level, p.DrawdownThreshold*100, p.VolatilityThreshold, p.PositionSizeMultiplier,
			p.StopTrading, p.AlertPriority, p.Description)
	}
	return w.Flush()
}
