// Package marketdata supplies price history and latest bars to the risk engines
package marketdata

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/wonny/aegis-risk/internal/contracts"
)

// BarReader reads stored OHLCV bars
type BarReader interface {
	// RecentBars returns up to limit most recent bars, oldest → newest
	RecentBars(ctx context.Context, instrument string, limit int) ([]contracts.PriceBar, error)
	// Instruments returns the instruments under monitoring
	Instruments(ctx context.Context) ([]string, error)
}

// Repository reads bars from PostgreSQL
// ⭐ SSOT: market.price_bars 조회는 여기서만
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates a new price bar repository
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// RecentBars retrieves the latest bars for an instrument
func (r *Repository) RecentBars(ctx context.Context, instrument string, limit int) ([]contracts.PriceBar, error) {
	query := `
		SELECT bar_time, open_price, high_price, low_price, close_price, volume
		FROM (
			SELECT bar_time, open_price, high_price, low_price, close_price, volume
			FROM market.price_bars
			WHERE instrument = $1
			ORDER BY bar_time DESC
			LIMIT $2
		) recent
		ORDER BY bar_time ASC
	`

	rows, err := r.pool.Query(ctx, query, instrument, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query price bars: %w", err)
	}
	defer rows.Close()

	var bars []contracts.PriceBar
	for rows.Next() {
		var b contracts.PriceBar
		if err := rows.Scan(&b.Time, &b.Open, &b.High, &b.Low, &b.Close, &b.Volume); err != nil {
			return nil, fmt.Errorf("failed to scan price bar: %w", err)
		}
		bars = append(bars, b)
	}
	return bars, rows.Err()
}

// Instruments retrieves active instruments
func (r *Repository) Instruments(ctx context.Context) ([]string, error) {
	query := `
		SELECT instrument
		FROM market.instruments
		WHERE is_active = true
		ORDER BY instrument
	`

	rows, err := r.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query instruments: %w", err)
	}
	defer rows.Close()

	var instruments []string
	for rows.Next() {
		var instrument string
		if err := rows.Scan(&instrument); err != nil {
			return nil, fmt.Errorf("failed to scan instrument: %w", err)
		}
		instruments = append(instruments, instrument)
	}
	return instruments, rows.Err()
}
