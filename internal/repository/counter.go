package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/lexcomms/internal/logger"
)

// CounterRepository hands out monotonically increasing values per
// (scope_id, name). The scope is a conversation or organization id, so
// contention stays local to the scope.
type CounterRepository struct {
	pool *pgxpool.Pool
}

func NewCounterRepository(pool *pgxpool.Pool) *CounterRepository {
	return &CounterRepository{pool: pool}
}

// Allocate returns the next value for (scopeID, name), creating the counter
// row on first use. The read-increment-write is a single upsert, so two
// concurrent callers never observe the same value: the second blocks on the
// row lock until the first commits. Returns ErrConflict when the statement
// loses a serialization race and should be retried.
func (r *CounterRepository) Allocate(ctx context.Context, scopeID, name string) (int64, error) {
	defer logger.DeferLogDuration("counter.Allocate", time.Now())()
	var next int64
	err := r.pool.QueryRow(ctx,
		`INSERT INTO counters (scope_id, name, next_value) VALUES ($1, $2, 1)
		 ON CONFLICT (scope_id, name) DO UPDATE SET next_value = counters.next_value + 1
		 RETURNING next_value`,
		scopeID, name,
	).Scan(&next)
	if err != nil {
		if isRetryable(err) {
			return 0, ErrConflict
		}
		return 0, fmt.Errorf("counterRepo.Allocate: %w", err)
	}
	return next, nil
}

// allocateTx is Allocate inside an existing transaction (used by message
// ingestion so the seq and the row commit or roll back together).
func allocateTx(ctx context.Context, tx pgx.Tx, scopeID, name string) (int64, error) {
	var next int64
	err := tx.QueryRow(ctx,
		`INSERT INTO counters (scope_id, name, next_value) VALUES ($1, $2, 1)
		 ON CONFLICT (scope_id, name) DO UPDATE SET next_value = counters.next_value + 1
		 RETURNING next_value`,
		scopeID, name,
	).Scan(&next)
	if err != nil {
		if isRetryable(err) {
			return 0, ErrConflict
		}
		return 0, fmt.Errorf("counter allocate: %w", err)
	}
	return next, nil
}

// Peek returns the current value without advancing it (0 if the counter
// does not exist yet). Diagnostic use only.
func (r *CounterRepository) Peek(ctx context.Context, scopeID, name string) (int64, error) {
	var val int64
	err := r.pool.QueryRow(ctx,
		`SELECT next_value FROM counters WHERE scope_id = $1 AND name = $2`,
		scopeID, name,
	).Scan(&val)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("counterRepo.Peek: %w", err)
	}
	return val, nil
}
