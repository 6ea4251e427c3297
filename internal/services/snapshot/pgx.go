package snapshot

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PgxBackend is the PostgreSQL backend on a native pgx pool.
type PgxBackend struct {
	pool *pgxpool.Pool
	q    queries
}

func OpenPgx(ctx context.Context, databaseURL, table string) (*PgxBackend, error) {
	if !tablePattern.MatchString(table) {
		return nil, fmt.Errorf("invalid table name %q", table)
	}
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("pgx pool failed: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pgx ping failed: %w", err)
	}
	b := &PgxBackend{pool: pool, q: postgresQueries(table)}
	if _, err := pool.Exec(ctx, b.q.create); err != nil {
		pool.Close()
		return nil, fmt.Errorf("create snapshot table failed: %w", err)
	}
	return b, nil
}

func (p *PgxBackend) Get(ctx context.Context, key string) ([]byte, bool, error) {
	var payload string
	err := p.pool.QueryRow(ctx, p.q.get, key).Scan(&payload)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("select %s failed: %w", key, err)
	}
	return []byte(payload), true, nil
}

func (p *PgxBackend) Set(ctx context.Context, key string, value []byte) error {
	if _, err := p.pool.Exec(ctx, p.q.upsert, key, string(value)); err != nil {
		return fmt.Errorf("upsert %s failed: %w", key, err)
	}
	return nil
}

func (p *PgxBackend) Delete(ctx context.Context, key string) error {
	if _, err := p.pool.Exec(ctx, p.q.del, key); err != nil {
		return fmt.Errorf("delete %s failed: %w", key, err)
	}
	return nil
}

func (p *PgxBackend) Close() error {
	if p.pool != nil {
		p.pool.Close()
	}
	return nil
}
