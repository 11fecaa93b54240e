package postgres

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// CleanupService handles retention of completed workflows and their
// terminal purchase orders, keeping the workflows table from growing
// unbounded once the janitor has finalized stuck and orphaned rows.
type CleanupService struct {
	Pool          *pgxpool.Pool
	RetentionDays int
}

// NewCleanupService creates a new cleanup service.
func NewCleanupService(pool *pgxpool.Pool, retentionDays int) *CleanupService {
	if retentionDays <= 0 {
		retentionDays = 90 // default 90 days
	}
	return &CleanupService{Pool: pool, RetentionDays: retentionDays}
}

// CleanupOldData removes completed/failed workflows and their purchase
// orders older than the retention period. Product drafts cascade from
// purchase_orders via a foreign key.
func (s *CleanupService) CleanupOldData(ctx context.Context) error {
	cutoff := time.Now().AddDate(0, 0, -s.RetentionDays)

	tx, err := s.Pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("cleanup begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	var deletedPOs int64
	err = tx.QueryRow(ctx, `
		WITH deleted AS (
			DELETE FROM purchase_orders
			WHERE id IN (
				SELECT purchase_order_id FROM workflows
				WHERE status IN ('completed', 'failed') AND updated_at < $1
				AND purchase_order_id IS NOT NULL
			)
			RETURNING 1
		)
		SELECT count(*) FROM deleted
	`, cutoff).Scan(&deletedPOs)
	if err != nil {
		slog.Debug("no purchase orders to delete", slog.Any("error", err))
	}

	var deletedWorkflows int64
	err = tx.QueryRow(ctx, `
		WITH deleted AS (
			DELETE FROM workflows
			WHERE status IN ('completed', 'failed') AND updated_at < $1
			RETURNING 1
		)
		SELECT count(*) FROM deleted
	`, cutoff).Scan(&deletedWorkflows)
	if err != nil {
		slog.Debug("no workflows to delete", slog.Any("error", err))
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("cleanup commit: %w", err)
	}

	slog.Info("data cleanup completed",
		slog.Int64("deleted_workflows", deletedWorkflows),
		slog.Int64("deleted_purchase_orders", deletedPOs),
		slog.Time("cutoff", cutoff),
	)

	return nil
}

// RunPeriodic starts a periodic cleanup job.
func (s *CleanupService) RunPeriodic(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 24 * time.Hour // daily by default
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	if err := s.CleanupOldData(ctx); err != nil {
		slog.Error("initial cleanup failed", slog.Any("error", err))
	}

	for {
		select {
		case <-ctx.Done():
			slog.Info("cleanup service stopping")
			return
		case <-ticker.C:
			if err := s.CleanupOldData(ctx); err != nil {
				slog.Error("periodic cleanup failed", slog.Any("error", err))
			}
		}
	}
}
