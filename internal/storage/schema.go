package storage

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// schemaStatements risk 스키마 (append-only 컬렉션)
var schemaStatements = []string{
	`CREATE SCHEMA IF NOT EXISTS risk`,
	`CREATE TABLE IF NOT EXISTS risk.emergency_transitions (
		id              UUID PRIMARY KEY,
		from_level      TEXT NOT NULL,
		to_level        TEXT NOT NULL,
		drawdown        DOUBLE PRECISION NOT NULL,
		portfolio_value DOUBLE PRECISION NOT NULL,
		escalation      BOOLEAN NOT NULL,
		protocol        JSONB NOT NULL,
		created_at      TIMESTAMPTZ NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS risk.stress_events (
		id                   UUID PRIMARY KEY,
		event_type           TEXT NOT NULL,
		severity             DOUBLE PRECISION NOT NULL,
		current_volatility   DOUBLE PRECISION NOT NULL,
		threshold_volatility DOUBLE PRECISION NOT NULL,
		instruments          TEXT[] NOT NULL,
		recommended_action   TEXT NOT NULL,
		detected_at          TIMESTAMPTZ NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS risk.portfolio_values (
		id         BIGSERIAL PRIMARY KEY,
		value      DOUBLE PRECISION NOT NULL,
		drawdown   DOUBLE PRECISION NOT NULL,
		level      TEXT NOT NULL,
		created_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS risk.var_calculations (
		id            BIGSERIAL PRIMARY KEY,
		method        TEXT NOT NULL,
		instrument    TEXT NOT NULL,
		amount        DOUBLE PRECISION NOT NULL,
		confidence    DOUBLE PRECISION NOT NULL,
		position_size DOUBLE PRECISION NOT NULL,
		volatility    DOUBLE PRECISION NOT NULL,
		calculated_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS risk.correlation_samples (
		id              BIGSERIAL PRIMARY KEY,
		max_correlation DOUBLE PRECISION NOT NULL,
		avg_correlation DOUBLE PRECISION NOT NULL,
		pair_count      INTEGER NOT NULL,
		matrix          JSONB,
		sampled_at      TIMESTAMPTZ NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS risk.risk_alerts (
		id         UUID PRIMARY KEY,
		alert_type TEXT NOT NULL,
		severity   TEXT NOT NULL,
		title      TEXT NOT NULL,
		message    TEXT NOT NULL,
		context    JSONB,
		tags       TEXT[],
		created_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_correlation_samples_sampled_at ON risk.correlation_samples (sampled_at DESC)`,
	`CREATE INDEX IF NOT EXISTS idx_portfolio_values_created_at ON risk.portfolio_values (created_at DESC)`,
	`CREATE INDEX IF NOT EXISTS idx_risk_alerts_created_at ON risk.risk_alerts (created_at DESC)`,
}

// EnsureSchema creates the risk tables if missing
func EnsureSchema(ctx context.Context, pool *pgxpool.Pool) error {
	for _, stmt := range schemaStatements {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("failed to apply risk schema: %w", err)
		}
	}
	return nil
}
