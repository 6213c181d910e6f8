package postgres

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/dochost/dochost/pkg/poolstats"
)

const appnameKey = `application_name`

// Connect initializes a pgxpool.Pool for connString and registers its pool
// statistics with the default Prometheus registry under appname.
func Connect(ctx context.Context, connString, appname string) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, fmt.Errorf("postgres: failed to parse connection string: %w", err)
	}
	if cfg.MaxConns == 0 {
		cfg.MaxConns = 30
	}
	if _, ok := cfg.ConnConfig.RuntimeParams[appnameKey]; !ok {
		cfg.ConnConfig.RuntimeParams[appnameKey] = appname
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("postgres: failed to create pool: %w", err)
	}
	if err := prometheus.Register(poolstats.NewCollector(pool, appname)); err != nil {
		slog.InfoContext(ctx, "pool metrics already registered", "appname", appname)
	}
	return pool, nil
}
