// Package pgconn manages the pgxpool connection used by the persistence
// service: pool construction, a warmup protocol that exercises the pool
// before declaring readiness, and a retry envelope for transient
// connection failures.
package pgconn

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/exaring/otelpgx"
	pgxconn "github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/fairyhunter13/po-workflow-core/internal/domain"
)

// RetryConfig controls the exponential-backoff envelope applied to
// transient connection operations.
type RetryConfig struct {
	MaxElapsedTime  time.Duration
	InitialInterval time.Duration
	MaxInterval     time.Duration
	Multiplier      float64
}

func (c RetryConfig) toExponentialBackOff() *backoff.ExponentialBackOff {
	expo := backoff.NewExponentialBackOff()
	if c.MaxElapsedTime > 0 {
		expo.MaxElapsedTime = c.MaxElapsedTime
	}
	if c.InitialInterval > 0 {
		expo.InitialInterval = c.InitialInterval
	}
	if c.MaxInterval > 0 {
		expo.MaxInterval = c.MaxInterval
	}
	if c.Multiplier > 0 {
		expo.Multiplier = c.Multiplier
	}
	return expo
}

// Manager owns a pgxpool.Pool, re-checking it with a ping when it goes
// stale and wrapping individual operations in retry.
type Manager struct {
	mu     sync.RWMutex
	pool   *pgxpool.Pool
	dsn    string
	retry  RetryConfig
	staleAfter time.Duration
	lastHealthy time.Time
}

// NewManager builds a pool for dsn, applying the teacher's pooling
// defaults (MaxConns=10, MaxConnIdleTime=5m) plus OTel instrumentation via
// otelpgx, and runs the warmup protocol before returning.
func NewManager(ctx context.Context, dsn string, retry RetryConfig) (*Manager, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("op=pgconn.parse_config: %w", err)
	}
	cfg.MaxConns = 10
	cfg.MaxConnIdleTime = 5 * time.Minute
	cfg.ConnConfig.Tracer = otelpgx.NewTracer(otelpgx.WithTrimSQLInSpanName())

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("op=pgconn.new_pool: %w", err)
	}
	if err := otelpgx.RecordStats(pool); err != nil {
		slog.Warn("pgconn: failed to record pool stats", slog.Any("error", err))
	}

	m := &Manager{
		pool:       pool,
		dsn:        dsn,
		retry:      retry,
		staleAfter: 30 * time.Second,
	}
	if err := m.warmup(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("op=pgconn.warmup: %w", err)
	}
	return m, nil
}

// warmup pings the pool and primes at least one connection, so the first
// real query issued by the application does not pay a cold-connect cost.
func (m *Manager) warmup(ctx context.Context) error {
	return m.WithRetry(ctx, func(ctx context.Context) error {
		return m.pool.Ping(ctx)
	})
}

// Pool returns the underlying pool, first running RefreshIfStale so a pool
// with no recent successful health ping is pinged again.
func (m *Manager) Pool(ctx context.Context) (*pgxpool.Pool, error) {
	if err := m.RefreshIfStale(ctx); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.pool, nil
}

// RefreshIfStale re-pings the pool under WithRetry if no ping has succeeded
// within staleAfter. A ping that still fails after the retries is returned
// as an error; the pool itself is not closed or rebuilt.
func (m *Manager) RefreshIfStale(ctx context.Context) error {
	m.mu.RLock()
	stale := time.Since(m.lastHealthy) > m.staleAfter
	m.mu.RUnlock()
	if !stale {
		return nil
	}
	return m.WithRetry(ctx, func(ctx context.Context) error {
		m.mu.RLock()
		pool := m.pool
		m.mu.RUnlock()
		if err := pool.Ping(ctx); err != nil {
			return err
		}
		m.mu.Lock()
		m.lastHealthy = time.Now()
		m.mu.Unlock()
		return nil
	})
}

// WithRetry runs op under an exponential backoff, retrying only errors
// classified as transient (network/connection errors); persistent errors
// (constraint violations, bad SQL) are returned immediately via
// backoff.Permanent so the retry loop does not waste time on them.
func (m *Manager) WithRetry(ctx context.Context, op func(ctx context.Context) error) error {
	expo := m.retry.toExponentialBackOff()
	bo := backoff.WithContext(expo, ctx)

	attempt := 0
	wrapped := func() error {
		attempt++
		err := op(ctx)
		if err == nil {
			return nil
		}
		if !isRetryableConnError(err) {
			return backoff.Permanent(err)
		}
		slog.Warn("pgconn: retrying transient connection error", slog.Int("attempt", attempt), slog.Any("error", err))
		return err
	}

	if err := backoff.Retry(wrapped, bo); err != nil {
		var perr *backoff.PermanentError
		if errors.As(err, &perr) {
			return fmt.Errorf("op=pgconn.with_retry: %w", perr.Err)
		}
		return fmt.Errorf("op=pgconn.with_retry: %w", domain.ErrTransient)
	}
	return nil
}

// isRetryableConnError classifies errors the connection manager should
// retry: anything that looks like a transport-level failure rather than a
// query-semantics failure.
func isRetryableConnError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return false
	}
	var pgErr *pgxconn.PgError
	if errors.As(err, &pgErr) {
		// Server-reported errors are query-semantics failures unless they are
		// connection exceptions (class 08), insufficient resources such as
		// too many clients (class 53), or "cannot connect now" (57P03).
		return strings.HasPrefix(pgErr.Code, "08") || strings.HasPrefix(pgErr.Code, "53") || pgErr.Code == "57P03"
	}
	return true
}

// Close closes the underlying pool.
func (m *Manager) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pool.Close()
}
