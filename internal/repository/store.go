package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ayo6706/referral-commerce/internal/domain"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

const (
	sqlStateUniqueViolation      = "23505"
	sqlStateSerializationFailure = "40001"
	sqlStateDeadlockDetected     = "40P01"
	sqlStateLockNotAvailable     = "55P03"
	sqlStateQueryCanceled        = "57014"
)

// Store provides access to the query set and transaction scoping.
type Store struct {
	db      *pgxpool.Pool
	queries *Queries
	timeout time.Duration
}

// NewStore creates a store wrapper around a pgx connection pool. A positive timeout bounds
// every unit of work run through RunInTx or Read.
func NewStore(db *pgxpool.Pool, timeout time.Duration) *Store {
	return &Store{
		db:      db,
		queries: New(db),
		timeout: timeout,
	}
}

// Queries returns the non-transactional query set. It carries no timeout; services read
// through Read instead.
func (s *Store) Queries() *Queries {
	return s.queries
}

// Read runs fn against the pool under the same timeout and error classification as RunInTx,
// without opening a transaction. Rows must be consumed inside fn.
func (s *Store) Read(ctx context.Context, fn func(q *Queries) error) error {
	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}
	return Classify(fn(New(scopedDB{db: s.db, scope: ctx})))
}

// Pool exposes the underlying pool for health checks.
func (s *Store) Pool() *pgxpool.Pool {
	return s.db
}

// RunInTx executes fn within a database transaction. Errors from the driver are classified
// into the domain taxonomy; errors returned by fn pass through untouched.
func (s *Store) RunInTx(ctx context.Context, fn func(q *Queries) error) error {
	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	tx, err := s.db.Begin(ctx)
	if err != nil {
		return Classify(fmt.Errorf("begin transaction: %w", err))
	}
	defer tx.Rollback(ctx)

	if err := fn(New(scopedDB{db: tx, scope: ctx})); err != nil {
		return Classify(err)
	}

	if err := tx.Commit(ctx); err != nil {
		return Classify(fmt.Errorf("commit transaction: %w", err))
	}
	return nil
}

// scopedDB runs every statement of a unit of work under the unit's context, which carries the
// store timeout, whatever context the query method was handed.
type scopedDB struct {
	db    DBTX
	scope context.Context
}

func (s scopedDB) Exec(_ context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error) {
	return s.db.Exec(s.scope, sql, args...)
}

func (s scopedDB) Query(_ context.Context, sql string, args ...interface{}) (pgx.Rows, error) {
	return s.db.Query(s.scope, sql, args...)
}

func (s scopedDB) QueryRow(_ context.Context, sql string, args ...interface{}) pgx.Row {
	return s.db.QueryRow(s.scope, sql, args...)
}

// Classify tags driver errors with a domain error class. Errors that already carry a class,
// and errors it does not recognize, are returned unchanged.
func Classify(err error) error {
	if err == nil || domain.Class(err) != nil {
		return err
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case sqlStateUniqueViolation:
			return fmt.Errorf("%w: %w", domain.ErrConflict, err)
		case sqlStateSerializationFailure, sqlStateDeadlockDetected, sqlStateLockNotAvailable, sqlStateQueryCanceled:
			return fmt.Errorf("%w: %w", domain.ErrTransient, err)
		}
		return err
	}

	if errors.Is(err, context.DeadlineExceeded) || pgconn.Timeout(err) || pgconn.SafeToRetry(err) {
		return fmt.Errorf("%w: %w", domain.ErrTransient, err)
	}
	var connErr *pgconn.ConnectError
	if errors.As(err, &connErr) {
		return fmt.Errorf("%w: %w", domain.ErrTransient, err)
	}
	return err
}

// IsUniqueViolation reports whether err carries a unique constraint violation.
func IsUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == sqlStateUniqueViolation
}

// IsNoRows reports whether err is pgx.ErrNoRows.
func IsNoRows(err error) bool {
	return errors.Is(err, pgx.ErrNoRows)
}
