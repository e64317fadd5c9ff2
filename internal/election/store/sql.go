package store

import (
	"context"
	"database/sql"
	"embed"
	"time"

	"ballotbox/internal/platform/storage"
	"ballotbox/pkg/platform/tx"
)

//go:embed migrations
var migrationsFS embed.FS

// Migrate applies the election schema for dialect.
func Migrate(ctx context.Context, db *sql.DB, dialect storage.Dialect) error {
	return storage.ApplyMigrations(ctx, db, dialect, migrationsFS, "migrations/"+string(dialect))
}

// SQLStore persists elections in PostgreSQL or SQLite. Methods run inside the
// transaction carried by ctx when there is one.
type SQLStore struct {
	db        *sql.DB
	dialect   storage.Dialect
	txTimeout time.Duration
}

type SQLOption func(*SQLStore)

// WithTxTimeout bounds transactions whose context has no deadline.
func WithTxTimeout(d time.Duration) SQLOption {
	return func(s *SQLStore) {
		s.txTimeout = d
	}
}

func NewSQL(db *sql.DB, dialect storage.Dialect, opts ...SQLOption) *SQLStore {
	s := &SQLStore{db: db, dialect: dialect}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func NewPostgres(db *sql.DB, opts ...SQLOption) *SQLStore {
	return NewSQL(db, storage.DialectPostgres, opts...)
}

func NewSQLite(db *sql.DB, opts ...SQLOption) *SQLStore {
	return NewSQL(db, storage.DialectSQLite, opts...)
}

// RunInTx runs fn in one database transaction. Store calls made with the
// context passed to fn join it.
func (s *SQLStore) RunInTx(ctx context.Context, fn func(txCtx context.Context) error) error {
	return tx.Run(ctx, s.db, s.txTimeout, fn)
}

func (s *SQLStore) q(ctx context.Context) tx.Querier {
	return tx.QuerierFrom(ctx, s.db)
}

func (s *SQLStore) exec(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return s.q(ctx).ExecContext(ctx, s.dialect.Rebind(query), args...)
}

func (s *SQLStore) query(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	return s.q(ctx).QueryContext(ctx, s.dialect.Rebind(query), args...)
}

func (s *SQLStore) queryRow(ctx context.Context, query string, args ...any) *sql.Row {
	return s.q(ctx).QueryRowContext(ctx, s.dialect.Rebind(query), args...)
}

func (s *SQLStore) count(ctx context.Context, query string, args ...any) (int, error) {
	var n int
	if err := s.queryRow(ctx, query, args...).Scan(&n); err != nil {
		return 0, err
	}
	return n, nil
}

func toMillis(t time.Time) int64 {
	return t.UTC().UnixMilli()
}

func fromMillis(ms int64) time.Time {
	return time.UnixMilli(ms).UTC()
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

type scanner interface {
	Scan(dest ...any) error
}
