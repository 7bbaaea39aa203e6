package pg

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/sethvargo/go-retry"

	"sourcedesk.io/internal/auth"
	"sourcedesk.io/internal/magiclink"
	"sourcedesk.io/internal/obs"
	"sourcedesk.io/internal/portal"
)

const (
	pgErrUniqueViolation      = "23505"
	pgErrSerializationFailure = "40001"
	pgErrDeadlockDetected     = "40P01"
	pgErrClassConnection      = "08"

	defaultMaxRetries = 3
	defaultRetryBase  = 50 * time.Millisecond
)

// Store is the PostgreSQL implementation of the link store, the tenant
// directory and repository, the operator store and the portal unit of work.
type Store struct {
	db      *sql.DB
	backoff func() retry.Backoff
}

var (
	_ magiclink.Store     = (*Store)(nil)
	_ magiclink.Directory = (*Store)(nil)
	_ portal.Repository   = (*Store)(nil)
	_ portal.UnitOfWork   = (*Store)(nil)
	_ auth.OperatorStore  = (*Store)(nil)

	_ magiclink.Store   = queries{}
	_ portal.Repository = queries{}
)

// Option tunes the pool and retry policy.
type Option func(*options)

type options struct {
	maxOpen int
	maxIdle int
	retries uint64
}

// WithPool overrides the connection pool limits.
func WithPool(maxOpen, maxIdle int) Option {
	return func(o *options) {
		if maxOpen > 0 {
			o.maxOpen = maxOpen
		}
		if maxIdle >= 0 {
			o.maxIdle = maxIdle
		}
	}
}

// WithRetries sets how many times a transient failure is retried.
func WithRetries(n int) Option {
	return func(o *options) {
		if n >= 0 {
			o.retries = uint64(n)
		}
	}
}

// Open connects through the pgx stdlib driver and verifies the connection.
func Open(ctx context.Context, dsn string, opts ...Option) (*Store, error) {
	o := options{maxOpen: 50, maxIdle: 25, retries: defaultMaxRetries}
	for _, opt := range opts {
		opt(&o)
	}
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	// Tuned pool defaults; adjust under load tests
	db.SetMaxOpenConns(o.maxOpen)
	db.SetMaxIdleConns(o.maxIdle)
	db.SetConnMaxLifetime(15 * time.Minute)
	db.SetConnMaxIdleTime(5 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	s := New(db)
	retries := o.retries
	s.backoff = func() retry.Backoff {
		return retry.WithMaxRetries(retries, retry.NewExponential(defaultRetryBase))
	}
	return s, nil
}

// New wraps an existing handle.
func New(db *sql.DB) *Store {
	return &Store{
		db: db,
		backoff: func() retry.Backoff {
			return retry.WithMaxRetries(defaultMaxRetries, retry.NewExponential(defaultRetryBase))
		},
	}
}

func (s *Store) Close() error { return s.db.Close() }

// Ping reports whether the database answers; used by readiness checks.
func (s *Store) Ping(ctx context.Context) error { return s.db.PingContext(ctx) }

// dbtx is satisfied by both *sql.DB and *sql.Tx.
type dbtx interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// withTx runs fn in a transaction, committing on success and rolling back on
// error or panic.
func withTx(ctx context.Context, db *sql.DB, opts *sql.TxOptions, fn func(ctx context.Context, tx dbtx) error) (err error) {
	tx, err := db.BeginTx(ctx, opts)
	if err != nil {
		return err
	}
	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
		if err != nil {
			_ = tx.Rollback()
			return
		}
		err = tx.Commit()
	}()
	return fn(ctx, tx)
}

// withRetry runs fn, retrying transient database failures with backoff. A
// failure that stays transient is reported as ErrStoreUnavailable.
func (s *Store) withRetry(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	err := retry.Do(ctx, s.backoff(), func(ctx context.Context) error {
		err := fn(ctx)
		if err != nil && transient(err) {
			obs.ObserveStoreRetry(op)
			obs.Logger().WarnContext(ctx, "transient store failure",
				slog.String("operation", op), slog.String("error", err.Error()))
			return retry.RetryableError(err)
		}
		return err
	})
	if err != nil && transient(err) {
		return fmt.Errorf("%w: %s: %v", magiclink.ErrStoreUnavailable, op, err)
	}
	return err
}

// Do implements portal.UnitOfWork. The whole unit is retried on transient
// failures; a rolled back attempt leaves no trace.
func (s *Store) Do(ctx context.Context, fn func(ctx context.Context, links magiclink.Store, repo portal.Repository) error) error {
	return s.withRetry(ctx, "portal_tx", func(ctx context.Context) error {
		return withTx(ctx, s.db, nil, func(ctx context.Context, tx dbtx) error {
			q := queries{db: tx}
			return fn(ctx, q, q)
		})
	})
}

func transient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	if errors.Is(err, driver.ErrBadConn) || pgconn.SafeToRetry(err) {
		return true
	}
	if pgErr, ok := maybePgError(err); ok {
		switch {
		case pgErr.Code == pgErrSerializationFailure, pgErr.Code == pgErrDeadlockDetected:
			return true
		case strings.HasPrefix(pgErr.Code, pgErrClassConnection):
			return true
		}
	}
	return false
}

func maybePgError(err error) (*pgconn.PgError, bool) {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr, true
	}
	return nil, false
}

func nullIfEmpty(s string) sql.NullString {
	s = strings.TrimSpace(s)
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func nullString(p *string) sql.NullString {
	if p == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *p, Valid: true}
}

func stringPtr(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	v := ns.String
	return &v
}
