// Package database implements the ledger's storage.Store on top of
// database/sql, for sqlite and postgres.
package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/lib/pq"           // PostgreSQL driver
	_ "github.com/mattn/go-sqlite3" // SQLite driver
	"go.uber.org/zap"

	"github.com/shizukutanaka/curvedex/internal/storage"
)

var ErrUnsupportedDriver = errors.New("database: unsupported driver")

// Store keeps every bucket in one table keyed by (bucket, item).
type Store struct {
	logger *zap.Logger
	db     *sql.DB
	driver string
	slow   time.Duration

	getQuery    string
	scanQuery   string
	upsertQuery string
}

var _ storage.Store = (*Store)(nil)

// New opens the database, checks connectivity and creates the schema.
func New(ctx context.Context, logger *zap.Logger, config Config) (*Store, error) {
	driver := config.Driver
	switch driver {
	case "sqlite", "sqlite3":
		driver = "sqlite3"
	case "postgres", "postgresql":
		driver = "postgres"
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedDriver, config.Driver)
	}

	db, err := sql.Open(driver, config.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if driver == "sqlite3" {
		// sqlite serialises writers; one connection avoids SQLITE_BUSY on commit.
		db.SetMaxOpenConns(1)
	} else if config.MaxOpenConns > 0 {
		db.SetMaxOpenConns(config.MaxOpenConns)
	} else {
		db.SetMaxOpenConns(10)
	}
	if config.MaxIdleConns > 0 {
		db.SetMaxIdleConns(config.MaxIdleConns)
	}
	if config.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(config.ConnMaxLifetime)
	} else {
		db.SetConnMaxLifetime(30 * time.Minute)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	slow := config.SlowQueryThreshold
	if slow <= 0 {
		slow = 100 * time.Millisecond
	}

	s := &Store{
		logger: logger.Named("database"),
		db:     db,
		driver: driver,
		slow:   slow,
	}
	order := "ORDER BY item"
	if driver == "postgres" {
		order = `ORDER BY item COLLATE "C"`
	}
	s.getQuery = rebind(driver, "SELECT value FROM ledger_entries WHERE bucket = ? AND item = ?")
	s.scanQuery = rebind(driver, "SELECT item, value FROM ledger_entries WHERE bucket = ? "+order)
	s.upsertQuery = rebind(driver, "INSERT INTO ledger_entries (bucket, item, value) VALUES (?, ?, ?) "+
		"ON CONFLICT (bucket, item) DO UPDATE SET value = excluded.value")

	if err := s.initializeSchema(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	s.logger.Info("Database connected", zap.String("driver", driver))
	return s, nil
}

// Driver returns the normalised driver name.
func (s *Store) Driver() string { return s.driver }

// Ping checks database connectivity.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *Store) Get(ctx context.Context, bucket, key string) ([]byte, error) {
	start := time.Now()
	var value []byte
	err := s.db.QueryRowContext(ctx, s.getQuery, bucket, key).Scan(&value)
	s.observe("get", start)

	switch {
	case errors.Is(err, sql.ErrNoRows):
		return nil, storage.ErrNotFound
	case err != nil:
		return nil, s.wrap(err)
	}
	return value, nil
}

func (s *Store) Scan(ctx context.Context, bucket string, fn func(key string, value []byte) error) error {
	start := time.Now()
	rows, err := s.db.QueryContext(ctx, s.scanQuery, bucket)
	if err != nil {
		return s.wrap(err)
	}

	type entry struct {
		key   string
		value []byte
	}
	var entries []entry
	for rows.Next() {
		var e entry
		if err := rows.Scan(&e.key, &e.value); err != nil {
			rows.Close()
			return fmt.Errorf("scan %s: %w", bucket, err)
		}
		entries = append(entries, e)
	}
	err = rows.Err()
	rows.Close()
	s.observe("scan", start)
	if err != nil {
		return s.wrap(err)
	}

	// The rows are released before fn runs so callbacks may query the store.
	for _, e := range entries {
		if err := fn(e.key, e.value); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) Apply(ctx context.Context, batch *storage.Batch) error {
	start := time.Now()
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return s.wrap(err)
	}

	stmt, err := tx.PrepareContext(ctx, s.upsertQuery)
	if err != nil {
		tx.Rollback()
		return fmt.Errorf("prepare upsert: %w", err)
	}

	err = batch.ForEach(func(bucket, key string, value []byte) error {
		if _, err := stmt.ExecContext(ctx, bucket, key, value); err != nil {
			return fmt.Errorf("upsert %s/%s: %w", bucket, key, err)
		}
		return nil
	})
	stmt.Close()
	if err != nil {
		tx.Rollback()
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit batch: %w", err)
	}
	s.observe("apply", start, zap.Int("entries", batch.Len()))
	return nil
}

// Close closes the underlying pool.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) observe(op string, start time.Time, fields ...zap.Field) {
	duration := time.Since(start)
	if duration > s.slow {
		s.logger.Warn("Slow query",
			append([]zap.Field{zap.String("op", op), zap.Duration("duration", duration)}, fields...)...,
		)
	}
}

func (s *Store) wrap(err error) error {
	return fmt.Errorf("database %s: %w", s.driver, err)
}
