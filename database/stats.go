package database

import (
	"context"
	"database/sql"

	"github.com/switchyard-finance/switchyard/internal/apierror"
	"github.com/switchyard-finance/switchyard/model"
)

// GetRailStats returns the persisted rolling statistics for a rail. A rail
// with no recorded outcomes yet gets zero-valued stats, not an error.
func (d Datasource) GetRailStats(ctx context.Context, rail model.Rail) (*model.RailStats, error) {
	row := d.Conn.QueryRowContext(ctx, `
		SELECT rail, success_count, failure_count, consecutive_failures, average_latency_ms, last_used_at
		FROM rail_stats
		WHERE rail = $1
	`, rail)

	railStats := &model.RailStats{}
	var lastUsedAt sql.NullTime
	err := row.Scan(&railStats.Rail, &railStats.SuccessCount, &railStats.FailureCount, &railStats.ConsecutiveFailures, &railStats.AverageLatencyMs, &lastUsedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return &model.RailStats{Rail: rail}, nil
		}
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to read rail stats", err)
	}
	if lastUsedAt.Valid {
		railStats.LastUsedAt = lastUsedAt.Time
	}
	return railStats, nil
}

// SaveRailStats upserts the statistics row for a rail. Stats must be durable
// before the call returns, since the next ranking may run in a different
// process.
func (d Datasource) SaveRailStats(ctx context.Context, railStats *model.RailStats) error {
	_, err := d.Conn.ExecContext(ctx, `
		INSERT INTO rail_stats(rail, success_count, failure_count, consecutive_failures, average_latency_ms, last_used_at)
		VALUES ($1,$2,$3,$4,$5,$6)
		ON CONFLICT (rail) DO UPDATE SET
			success_count = EXCLUDED.success_count,
			failure_count = EXCLUDED.failure_count,
			consecutive_failures = EXCLUDED.consecutive_failures,
			average_latency_ms = EXCLUDED.average_latency_ms,
			last_used_at = EXCLUDED.last_used_at
	`, railStats.Rail, railStats.SuccessCount, railStats.FailureCount, railStats.ConsecutiveFailures, railStats.AverageLatencyMs, railStats.LastUsedAt)
	if err != nil {
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to save rail stats", err)
	}
	return nil
}
