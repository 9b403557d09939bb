// Package storage persists risk decisions (PostgreSQL or in-memory)
package storage

import (
	"context"

	"github.com/wonny/aegis-risk/internal/alerts"
	"github.com/wonny/aegis-risk/internal/contracts"
	"github.com/wonny/aegis-risk/internal/correlation"
	"github.com/wonny/aegis-risk/internal/emergency"
	"github.com/wonny/aegis-risk/internal/risk"
)

// Store is the union of every engine's persistence port plus alert history
type Store interface {
	risk.Store
	correlation.Store
	emergency.Store
	alerts.Store
	RecentAlerts(ctx context.Context, limit int) ([]contracts.Alert, error)
}

var (
	_ Store = (*Repository)(nil)
	_ Store = (*Memory)(nil)
)
