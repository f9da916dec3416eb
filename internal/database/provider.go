// Package database opens the two handles the tool works with: a pgx pool for online
// statements and a database/sql handle for introspection and the migration tool.
package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	_ "github.com/go-sql-driver/mysql"
	_ "github.com/jackc/pgx/v5/stdlib"
	_ "github.com/lib/pq"
	_ "github.com/microsoft/go-mssqldb"
	_ "github.com/sijms/go-ora/v2"
)

// Config holds connection settings for one database.
type Config struct {
	Driver          string
	DSN             string
	MaxConns        int32
	MinConns        int32
	MaxConnIdleTime time.Duration
}

// Provider owns both handles. Pool is nil for drivers other than postgres.
type Provider struct {
	pool *pgxpool.Pool
	db   *sql.DB
}

// Open connects both handles and pings them.
func Open(ctx context.Context, cfg Config) (*Provider, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("database dsn is required")
	}

	db, err := sql.Open(cfg.Driver, cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to open db: %w", err)
	}
	if cfg.MaxConns > 0 {
		db.SetMaxOpenConns(int(cfg.MaxConns))
	}
	db.SetMaxIdleConns(2)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to db: %w", err)
	}

	p := &Provider{db: db}
	if !IsPostgres(cfg.Driver) {
		return p, nil
	}

	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("parse pg config: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnIdleTime > 0 {
		poolCfg.MaxConnIdleTime = cfg.MaxConnIdleTime
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("create pg pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		db.Close()
		return nil, fmt.Errorf("ping pg: %w", err)
	}
	p.pool = pool
	return p, nil
}

// IsPostgres reports drivers that speak to PostgreSQL/TimescaleDB.
func IsPostgres(driver string) bool {
	return driver == "postgres" || driver == "pgx"
}

// Pool returns the pooled handle used for online statements.
func (p *Provider) Pool() *pgxpool.Pool { return p.pool }

// DB returns the blocking handle used for introspection and by the migration tool.
func (p *Provider) DB() *sql.DB { return p.db }

// Close closes both handles.
func (p *Provider) Close() error {
	if p.pool != nil {
		p.pool.Close()
	}
	return p.db.Close()
}
