package storage

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/wonny/aegis-risk/internal/contracts"
	"github.com/wonny/aegis-risk/internal/correlation"
	"github.com/wonny/aegis-risk/internal/emergency"
	"github.com/wonny/aegis-risk/internal/risk"
)

// Repository persists risk decisions to PostgreSQL
// ⭐ SSOT: risk 스키마 읽기/쓰기는 여기서만
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates a new risk repository
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// SaveTransition appends an emergency level transition
func (r *Repository) SaveTransition(ctx context.Context, t emergency.Transition) error {
	protocolJSON, err := json.Marshal(t.Protocol)
	if err != nil {
		return fmt.Errorf("failed to marshal protocol: %w", err)
	}

	query := `
		INSERT INTO risk.emergency_transitions (
			id, from_level, to_level, drawdown, portfolio_value, escalation, protocol, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`

	_, err = r.pool.Exec(ctx, query,
		parseID(t.ID), t.From.String(), t.To.String(), t.Drawdown, t.PortfolioValue,
		t.Escalation, protocolJSON, t.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("failed to save transition: %w", err)
	}

	return nil
}

// SaveStressEvents appends stress events in one batch
func (r *Repository) SaveStressEvents(ctx context.Context, events []emergency.StressEvent) error {
	if len(events) == 0 {
		return nil
	}

	query := `
		INSERT INTO risk.stress_events (
			id, event_type, severity, current_volatility, threshold_volatility,
			instruments, recommended_action, detected_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`

	batch := &pgx.Batch{}
	for _, ev := range events {
		batch.Queue(query,
			parseID(ev.ID), string(ev.Type), ev.Severity, ev.CurrentVolatility, ev.ThresholdVolatility,
			ev.AffectedInstruments, ev.RecommendedAction, ev.DetectedAt,
		)
	}

	if err := r.pool.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("failed to save stress events: %w", err)
	}

	return nil
}

// SavePortfolioValue appends a portfolio value / drawdown point
func (r *Repository) SavePortfolioValue(ctx context.Context, v emergency.PortfolioValue) error {
	query := `
		INSERT INTO risk.portfolio_values (value, drawdown, level, created_at)
		VALUES ($1, $2, $3, $4)
	`

	if _, err := r.pool.Exec(ctx, query, v.Value, v.Drawdown, v.Level.String(), v.Timestamp); err != nil {
		return fmt.Errorf("failed to save portfolio value: %w", err)
	}

	return nil
}

// SaveVaRResults appends VaR results (per position and PORTFOLIO)
func (r *Repository) SaveVaRResults(ctx context.Context, results []risk.VaRResult) error {
	if len(results) == 0 {
		return nil
	}

	rows := make([][]interface{}, 0, len(results))
	for _, res := range results {
		rows = append(rows, []interface{}{
			string(res.Method), res.Instrument, res.Amount, res.Confidence,
			res.PositionSize, res.Volatility, res.Timestamp,
		})
	}

	_, err := r.pool.CopyFrom(ctx,
		pgx.Identifier{"risk", "var_calculations"},
		[]string{"method", "instrument", "amount", "confidence", "position_size", "volatility", "calculated_at"},
		pgx.CopyFromRows(rows),
	)
	if err != nil {
		return fmt.Errorf("failed to save VaR results: %w", err)
	}

	return nil
}

// SaveCorrelationSample appends a correlation snapshot
func (r *Repository) SaveCorrelationSample(ctx context.Context, s correlation.Sample) error {
	matrixJSON, err := json.Marshal(s.Matrix)
	if err != nil {
		return fmt.Errorf("failed to marshal matrix: %w", err)
	}

	query := `
		INSERT INTO risk.correlation_samples (max_correlation, avg_correlation, pair_count, matrix, sampled_at)
		VALUES ($1, $2, $3, $4, $5)
	`

	if _, err := r.pool.Exec(ctx, query, s.MaxCorrelation, s.AvgCorrelation, s.PairCount, matrixJSON, s.Timestamp); err != nil {
		return fmt.Errorf("failed to save correlation sample: %w", err)
	}

	return nil
}

// RecentCorrelationSamples returns the latest samples ordered oldest → newest
func (r *Repository) RecentCorrelationSamples(ctx context.Context, limit int) ([]correlation.Sample, error) {
	query := `
		SELECT max_correlation, avg_correlation, pair_count, matrix, sampled_at
		FROM (
			SELECT max_correlation, avg_correlation, pair_count, matrix, sampled_at
			FROM risk.correlation_samples
			ORDER BY sampled_at DESC
			LIMIT $1
		) recent
		ORDER BY sampled_at ASC
	`

	rows, err := r.pool.Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query correlation samples: %w", err)
	}
	defer rows.Close()

	var samples []correlation.Sample
	for rows.Next() {
		var s correlation.Sample
		var matrixJSON []byte
		if err := rows.Scan(&s.MaxCorrelation, &s.AvgCorrelation, &s.PairCount, &matrixJSON, &s.Timestamp); err != nil {
			return nil, fmt.Errorf("failed to scan correlation sample: %w", err)
		}
		if len(matrixJSON) > 0 {
			if err := json.Unmarshal(matrixJSON, &s.Matrix); err != nil {
				return nil, fmt.Errorf("failed to unmarshal matrix: %w", err)
			}
		}
		samples = append(samples, s)
	}

	return samples, rows.Err()
}

// SaveAlert appends a dispatched alert
func (r *Repository) SaveAlert(ctx context.Context, alert contracts.Alert) error {
	contextJSON, err := json.Marshal(alert.Context)
	if err != nil {
		return fmt.Errorf("failed to marshal alert context: %w", err)
	}

	query := `
		INSERT INTO risk.risk_alerts (id, alert_type, severity, title, message, context, tags, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (id) DO NOTHING
	`

	_, err = r.pool.Exec(ctx, query,
		parseID(alert.ID), string(alert.Type), string(alert.Severity), alert.Title, alert.Message,
		contextJSON, alert.Tags, alert.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to save alert: %w", err)
	}

	return nil
}

// RecentAlerts returns the latest alerts, newest first
func (r *Repository) RecentAlerts(ctx context.Context, limit int) ([]contracts.Alert, error) {
	query := `
		SELECT id, alert_type, severity, title, message, context, tags, created_at
		FROM risk.risk_alerts
		ORDER BY created_at DESC
		LIMIT $1
	`

	rows, err := r.pool.Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query alerts: %w", err)
	}
	defer rows.Close()

	var alerts []contracts.Alert
	for rows.Next() {
		var a contracts.Alert
		var id uuid.UUID
		var alertType, severity string
		var contextJSON []byte
		if err := rows.Scan(&id, &alertType, &severity, &a.Title, &a.Message, &contextJSON, &a.Tags, &a.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan alert: %w", err)
		}
		a.ID = id.String()
		a.Type = contracts.AlertType(alertType)
		a.Severity = contracts.Severity(severity)
		if len(contextJSON) > 0 {
			if err := json.Unmarshal(contextJSON, &a.Context); err != nil {
				return nil, fmt.Errorf("failed to unmarshal alert context: %w", err)
			}
		}
		alerts = append(alerts, a)
	}

	return alerts, rows.Err()
}

// parseID 외부에서 만든 ID가 UUID가 아니면 새 UUID 사용
func parseID(id string) uuid.UUID {
	parsed, err := uuid.Parse(id)
	if err != nil {
		return uuid.New()
	}
	return parsed
}
