// Package portfolio supplies read-only portfolio snapshots to the risk core
package portfolio

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/wonny/aegis-risk/internal/contracts"
)

// Repository reads the tracker's positions and balances
// ⭐ SSOT: portfolio 스키마 조회는 여기서만 (쓰기는 외부 트래커 책임)
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates a new portfolio repository
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// CurrentPortfolio builds a snapshot from open positions and the latest balance
func (r *Repository) CurrentPortfolio(ctx context.Context) (*contracts.PortfolioState, error) {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{AccessMode: pgx.ReadOnly, IsoLevel: pgx.RepeatableRead})
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	state := &contracts.PortfolioState{
		Positions:          make(map[string]contracts.Position),
		StrategyAllocation: make(map[string]float64),
	}

	balanceQuery := `
		SELECT total_balance, available_balance, risk_fraction, updated_at
		FROM portfolio.balances
		ORDER BY updated_at DESC
		LIMIT 1
	`
	err = tx.QueryRow(ctx, balanceQuery).Scan(
		&state.TotalBalance, &state.AvailableBalance, &state.RiskFraction, &state.Timestamp,
	)
	if err != nil && !errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("failed to get balance: %w", err)
	}

	positionQuery := `
		SELECT
			id, instrument, direction, entry_price, size, stop_loss, take_profit,
			entry_time, strategy, unrealized_pnl
		FROM portfolio.positions
		WHERE closed_at IS NULL
		ORDER BY entry_time ASC
	`
	rows, err := tx.Query(ctx, positionQuery)
	if err != nil {
		return nil, fmt.Errorf("failed to query positions: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var p contracts.Position
		var direction string
		err := rows.Scan(
			&p.ID, &p.Instrument, &direction, &p.EntryPrice, &p.Size, &p.StopLoss, &p.TakeProfit,
			&p.EntryTime, &p.Strategy, &p.UnrealizedPnL,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan position: %w", err)
		}
		p.Direction = contracts.Direction(direction)
		// 종목당 포지션 하나 (같은 종목이 여러 개면 마지막 진입 기준)
		state.Positions[p.Instrument] = p
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows: %w", err)
	}

	fillAllocation(state)
	if state.Timestamp.IsZero() {
		state.Timestamp = time.Now()
	}

	return state, nil
}

// fillAllocation 전략별 명목 비중 계산 (진입가 기준)
func fillAllocation(state *contracts.PortfolioState) {
	var total float64
	notional := make(map[string]float64)
	for _, p := range state.Positions {
		n := p.Notional(0)
		notional[p.Strategy] += n
		total += n
	}
	if total == 0 {
		return
	}
	for strategy, n := range notional {
		state.StrategyAllocation[strategy] = n / total
	}
}
