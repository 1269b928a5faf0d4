package ledger

import (
	"context"
	"database/sql"
	"fmt"
)

// Config selects the ledger backend.
type Config struct {
	// Driver is one of memory, sqlite or postgres.
	Driver string `mapstructure:"driver" yaml:"driver"`
	DSN    string `mapstructure:"dsn"    yaml:"dsn"`
}

// DefaultConfig keeps the ledger in a local SQLite file.
func DefaultConfig() Config {
	return Config{
		Driver: "sqlite",
		DSN:    "file:fdc-validator.db?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)",
	}
}

// Open returns the ledger described by cfg.
func Open(ctx context.Context, cfg Config) (Ledger, error) {
	switch cfg.Driver {
	case "", "memory":
		return NewMemory(), nil
	case string(DialectSQLite), string(DialectPostgres):
	default:
		return nil, fmt.Errorf("unknown ledger driver %q", cfg.Driver)
	}
	if cfg.DSN == "" {
		return nil, fmt.Errorf("ledger driver %s requires a dsn", cfg.Driver)
	}

	db, err := sql.Open(cfg.Driver, cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s ledger: %w", cfg.Driver, err)
	}
	if cfg.Driver == string(DialectSQLite) {
		// SQLite allows a single writer; one connection also keeps
		// :memory: databases shared.
		db.SetMaxOpenConns(1)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to connect to %s ledger: %w", cfg.Driver, err)
	}

	l, err := NewSQL(ctx, db, Dialect(cfg.Driver))
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return l, nil
}
