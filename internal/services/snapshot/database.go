package snapshot

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"regexp"
	"time"

	_ "github.com/go-sql-driver/mysql"
	_ "github.com/lib/pq"
)

// Dialect selects the SQL flavour and driver of an SQLBackend.
type Dialect string

const (
	MySQL      Dialect = "mysql"
	PostgreSQL Dialect = "postgresql"
)

func (d Dialect) driver() (string, error) {
	switch d {
	case MySQL:
		return "mysql", nil
	case PostgreSQL:
		return "postgres", nil
	}
	return "", fmt.Errorf("unsupported database type: %s", d)
}

var tablePattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// SQLBackend stores blobs in a two-column table through database/sql.
type SQLBackend struct {
	db      *sql.DB
	dialect Dialect
	q       queries
}

type queries struct {
	create, get, upsert, del string
}

func queriesFor(d Dialect, table string) (queries, error) {
	if !tablePattern.MatchString(table) {
		return queries{}, fmt.Errorf("invalid table name %q", table)
	}
	switch d {
	case MySQL:
		return queries{
			create: fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
	snapshot_key VARCHAR(191) NOT NULL PRIMARY KEY,
	payload TEXT NOT NULL,
	updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP ON UPDATE CURRENT_TIMESTAMP
)`, table),
			get:    fmt.Sprintf(`SELECT payload FROM %s WHERE snapshot_key = ?`, table),
			upsert: fmt.Sprintf(`INSERT INTO %s (snapshot_key, payload) VALUES (?, ?) ON DUPLICATE KEY UPDATE payload = VALUES(payload)`, table),
			del:    fmt.Sprintf(`DELETE FROM %s WHERE snapshot_key = ?`, table),
		}, nil
	case PostgreSQL:
		return postgresQueries(table), nil
	}
	return queries{}, fmt.Errorf("unsupported database type: %s", d)
}

func postgresQueries(table string) queries {
	return queries{
		create: fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
	snapshot_key TEXT PRIMARY KEY,
	payload TEXT NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
)`, table),
		get:    fmt.Sprintf(`SELECT payload FROM %s WHERE snapshot_key = $1`, table),
		upsert: fmt.Sprintf(`INSERT INTO %s (snapshot_key, payload) VALUES ($1, $2) ON CONFLICT (snapshot_key) DO UPDATE SET payload = EXCLUDED.payload, updated_at = NOW()`, table),
		del:    fmt.Sprintf(`DELETE FROM %s WHERE snapshot_key = $1`, table),
	}
}

// OpenSQL connects, pings and creates the table if needed.
func OpenSQL(ctx context.Context, dialect Dialect, dsn, table string) (*SQLBackend, error) {
	driver, err := dialect.driver()
	if err != nil {
		return nil, err
	}
	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s failed: %w", dialect, err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping %s failed: %w", dialect, err)
	}
	db.SetMaxOpenConns(5)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(5 * time.Minute)

	b, err := NewSQLBackend(db, dialect, table)
	if err != nil {
		db.Close()
		return nil, err
	}
	if err := b.Init(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return b, nil
}

// NewSQLBackend wraps an open handle; call Init before first use on a fresh database.
func NewSQLBackend(db *sql.DB, dialect Dialect, table string) (*SQLBackend, error) {
	q, err := queriesFor(dialect, table)
	if err != nil {
		return nil, err
	}
	return &SQLBackend{db: db, dialect: dialect, q: q}, nil
}

func (s *SQLBackend) Init(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, s.q.create); err != nil {
		return fmt.Errorf("create snapshot table failed: %w", err)
	}
	return nil
}

func (s *SQLBackend) Get(ctx context.Context, key string) ([]byte, bool, error) {
	var payload string
	err := s.db.QueryRowContext(ctx, s.q.get, key).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("select %s failed: %w", key, err)
	}
	return []byte(payload), true, nil
}

func (s *SQLBackend) Set(ctx context.Context, key string, value []byte) error {
	if _, err := s.db.ExecContext(ctx, s.q.upsert, key, string(value)); err != nil {
		return fmt.Errorf("upsert %s failed: %w", key, err)
	}
	return nil
}

func (s *SQLBackend) Delete(ctx context.Context, key string) error {
	if _, err := s.db.ExecContext(ctx, s.q.del, key); err != nil {
		return fmt.Errorf("delete %s failed: %w", key, err)
	}
	return nil
}

func (s *SQLBackend) Close() error { return s.db.Close() }
