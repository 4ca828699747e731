package postgres

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ekaya-inc/finsql-engine/pkg/adapters/datasource"
	sqlpkg "github.com/ekaya-inc/finsql-engine/pkg/sql"
)

// Adapter serves read-only queries from a PostgreSQL pool.
type Adapter struct {
	database string
	pool     *pgxpool.Pool
}

var _ datasource.Store = (*Adapter)(nil)

// poolConfig makes every session read-only by default, on top of the
// read-only transaction each query opens.
func poolConfig(cfg *Config) (*pgxpool.Config, error) {
	pc, err := pgxpool.ParseConfig(cfg.URL())
	if err != nil {
		return nil, fmt.Errorf("parse postgres config: %w", err)
	}
	pc.MaxConns = cfg.PoolMaxConns
	pc.ConnConfig.RuntimeParams["application_name"] = "finsql-engine"
	pc.ConnConfig.RuntimeParams["default_transaction_read_only"] = "on"
	// The static SQL check lexes literals with standard rules; keep the server in step.
	pc.ConnConfig.RuntimeParams["standard_conforming_strings"] = "on"
	return pc, nil
}

// NewAdapter opens a pool and verifies it reaches the configured database.
func NewAdapter(ctx context.Context, cfg *Config) (*Adapter, error) {
	pc, err := poolConfig(cfg)
	if err != nil {
		return nil, err
	}
	pool, err := pgxpool.NewWithConfig(ctx, pc)
	if err != nil {
		return nil, fmt.Errorf("connect to postgres: %w", err)
	}

	a := &Adapter{database: cfg.Database, pool: pool}
	if err := a.TestConnection(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return a, nil
}

// NewWithPool wraps an existing pool. The adapter closes it on Close.
func NewWithPool(pool *pgxpool.Pool, database string) *Adapter {
	return &Adapter{database: database, pool: pool}
}

// TestConnection pings the server and checks the session landed on the
// expected database rather than a default one.
func (a *Adapter) TestConnection(ctx context.Context) error {
	if err := a.pool.Ping(ctx); err != nil {
		return classify(fmt.Errorf("ping failed: %w", err))
	}

	var current string
	if err := a.pool.QueryRow(ctx, "SELECT current_database()").Scan(&current); err != nil {
		return classify(fmt.Errorf("read current database: %w", err))
	}
	if a.database != "" && !strings.EqualFold(current, a.database) {
		return fmt.Errorf("connected to wrong database: expected %q but connected to %q", a.database, current)
	}
	return nil
}

func (a *Adapter) Dialect() sqlpkg.Dialect {
	return sqlpkg.DialectPostgres
}

func (a *Adapter) Close() error {
	if a.pool != nil {
		a.pool.Close()
	}
	return nil
}
