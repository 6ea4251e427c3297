package snapshot

import (
	"context"
	"fmt"
	"strings"
)

// BackendConfig selects and configures a Backend.
type BackendConfig struct {
	Kind  string `mapstructure:"kind"` // memory | file | mysql | postgresql | pgx
	Path  string `mapstructure:"path"`
	DSN   string `mapstructure:"dsn"`
	Table string `mapstructure:"table"`
}

// OpenBackend builds the backend named by cfg.Kind.
func OpenBackend(ctx context.Context, cfg BackendConfig) (Backend, error) {
	table := cfg.Table
	if table == "" {
		table = "dashboard_snapshots"
	}
	switch strings.ToLower(strings.TrimSpace(cfg.Kind)) {
	case "", "memory":
		return NewMemoryBackend(), nil
	case "file":
		path := cfg.Path
		if path == "" {
			path = "./data/snapshots"
		}
		return NewFileBackend(path)
	case "mysql":
		return OpenSQL(ctx, MySQL, cfg.DSN, table)
	case "postgres", "postgresql":
		return OpenSQL(ctx, PostgreSQL, cfg.DSN, table)
	case "pgx":
		return OpenPgx(ctx, cfg.DSN, table)
	}
	return nil, fmt.Errorf("unsupported snapshot backend: %s", cfg.Kind)
}
