package commands

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/wonny/aegis-risk/pkg/config"
	"github.com/wonny/aegis-risk/pkg/logger"
)

// applyGlobalFlags 플래그를 환경변수로 반영 (config.Load가 유일한 설정 진입점)
func applyGlobalFlags(_ *cobra.Command) {
	if env != "" {
		_ = os.Setenv("ENV", env)
	}
	if verbose {
		_ = os.Setenv("LOG_LEVEL", "debug")
	}
}

// loadConfig loads config and creates the service logger
func loadConfig() (*config.Config, *logger.Logger, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, err
	}
	return cfg, logger.New(cfg), nil
}
