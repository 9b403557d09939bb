package commands

import (
	"context"
	"fmt"
	"net/url"
	"time"

	"github.com/spf13/cobra"

	"github.com/wonny/aegis-risk/internal/storage"
	"github.com/wonny/aegis-risk/pkg/database"
)

// checkDBCmd represents the check-db command
var checkDBCmd = &cobra.Command{
	Use:   "check-db",
	Short: "PostgreSQL 연결 확인",
	Long: `데이터베이스 연결을 확인하고 풀 통계를 표시합니다.

이 명령어는:
- config에서 DATABASE_URL 로드
- Health Check 실행
- --migrate 시 risk 스키마 생성

Example:
  go run ./cmd/riskd check-db
  go run ./cmd/riskd check-db --migrate`,
	RunE: runCheckDB,
}

var checkDBMigrate bool

func init() {
	rootCmd.AddCommand(checkDBCmd)

	checkDBCmd.Flags().BoolVar(&checkDBMigrate, "migrate", false, "risk 스키마 생성")
}

func runCheckDB(cmd *cobra.Command, args []string) error {
	cfg, _, err := loadConfig()
	if err != nil {
		return fmt.Errorf("❌ Failed to load config: %w", err)
	}
	fmt.Printf("✅ Config loaded (ENV: %s)\n", cfg.Env)
	fmt.Printf("   Database URL: %s\n\n", maskPassword(cfg.Database.URL))

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	db, err := database.New(ctx, cfg.Database)
	if err != nil {
		return fmt.Errorf("❌ Failed to connect to database: %w", err)
	}
	defer db.Close()
	fmt.Println("✅ Database connection established")

	status, err := db.HealthCheck(ctx)
	if err != nil {
		return fmt.Errorf("❌ Health check failed: %w", err)
	}
	fmt.Println("✅ Health Check Results:")
	fmt.Printf("   Response Time: %v\n", status.ResponseTime)
	fmt.Printf("   Max Connections: %d\n", status.Stats.MaxConns)
	fmt.Printf("   Total Connections: %d\n", status.Stats.TotalConns)
	fmt.Printf("   Idle Connections: %d\n", status.Stats.IdleConns)

	if checkDBMigrate {
		if err := storage.EnsureSchema(ctx, db.Pool); err != nil {
			return fmt.Errorf("❌ %w", err)
		}
		fmt.Println("✅ risk schema ready")
	}

	return nil
}

// maskPassword masks the password in the database URL for display
func maskPassword(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.User == nil {
		return raw
	}
	if _, ok := u.User.Password(); ok {
		u.User = url.UserPassword(u.User.Username(), "***")
	}
	return u.String()
}
