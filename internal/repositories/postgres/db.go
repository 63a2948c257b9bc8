// Package postgres implements the marketplace repositories on PostgreSQL. Units of work run in a single
// sql.Tx carried on the context; products read inside one are locked with SELECT ... FOR UPDATE.
package postgres

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"embed"
	"errors"
	"fmt"
	"strings"

	"github.com/golang-migrate/migrate/v4"
	migratepg "github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/lib/pq"

	"github.com/mercado-field/api/internal/platform/config"
	"github.com/mercado-field/api/internal/repositories"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

const migrationsTable = "marketplace_schema_migrations"

// DB wraps the connection pool and implements repositories.UnitOfWork.
type DB struct {
	db *sql.DB
}

// Open connects to cfg.DSN and pings the server.
func Open(ctx context.Context, cfg config.PostgresConfig) (*DB, error) {
	dsn := strings.TrimSpace(cfg.DSN)
	if dsn == "" {
		return nil, errors.New("postgres: dsn is required")
	}
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres: open: %w", err)
	}
	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("postgres: ping: %w", err)
	}
	return &DB{db: db}, nil
}

// Migrate applies the embedded schema migrations.
func (d *DB) Migrate() error {
	source, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("postgres: migration source: %w", err)
	}
	target, err := migratepg.WithInstance(d.db, &migratepg.Config{MigrationsTable: migrationsTable})
	if err != nil {
		return fmt.Errorf("postgres: migration driver: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", source, "postgres", target)
	if err != nil {
		return fmt.Errorf("postgres: migrate instance: %w", err)
	}
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("postgres: migrate up: %w", err)
	}
	return nil
}

// Ping checks connectivity for readiness probes.
func (d *DB) Ping(ctx context.Context) error {
	return d.db.PingContext(ctx)
}

// Close releases the pool.
func (d *DB) Close(context.Context) error {
	return d.db.Close()
}

type txKey struct{}

type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// RunInTx runs fn inside a READ COMMITTED transaction. Nested calls join the outer transaction.
func (d *DB) RunInTx(ctx context.Context, fn func(ctx context.Context) error) (err error) {
	if _, ok := ctx.Value(txKey{}).(*sql.Tx); ok {
		return fn(ctx)
	}
	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return classify("begin", err)
	}
	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
		if err != nil {
			_ = tx.Rollback()
		}
	}()
	if err = fn(context.WithValue(ctx, txKey{}, tx)); err != nil {
		return err
	}
	if err = tx.Commit(); err != nil {
		return classify("commit", err)
	}
	return nil
}

// conn returns the transaction bound to ctx, or the pool. locking reports whether reads should lock rows.
func (d *DB) conn(ctx context.Context) (q querier, locking bool) {
	if tx, ok := ctx.Value(txKey{}).(*sql.Tx); ok {
		return tx, true
	}
	return d.db, false
}

// classify maps driver errors onto repository error kinds.
func classify(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	if errors.Is(err, sql.ErrNoRows) {
		return repositories.NewError(op, repositories.KindNotFound, err)
	}
	if errors.Is(err, driver.ErrBadConn) || errors.Is(err, sql.ErrConnDone) {
		return repositories.NewError(op, repositories.KindUnavailable, err)
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch pqErr.Code.Class() {
		case "23":
			// unique_violation, foreign_key_violation, check_violation
			return repositories.NewError(op, repositories.KindConflict, err)
		case "40":
			// serialization_failure, deadlock_detected
			return repositories.NewError(op, repositories.KindConflict, err)
		case "08", "53", "57":
			return repositories.NewError(op, repositories.KindUnavailable, err)
		}
	}
	return repositories.NewError(op, repositories.KindUnknown, err)
}
