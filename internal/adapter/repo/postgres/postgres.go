// Package postgres provides PostgreSQL database adapters implementing the
// Persistence Service: workflow tracking, purchase orders, suppliers, and
// product drafts, each with OpenTelemetry-traced, type-safe operations atop
// a pgx connection pool.
package postgres

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// PgxPool is a minimal subset of pgxpool.Pool used by the repos, kept as an
// interface for easy fake-backed testing.
type PgxPool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	BeginTx(ctx context.Context, txOptions pgx.TxOptions) (pgx.Tx, error)
}
