package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/remind101/migrate"

	"github.com/dochost/dochost/metadatastore/postgres/migrations"
)

// InitStore connects to connString and, if runMigrations is true, brings the
// schema up to the current ladder before returning a ready-to-use Store.
func InitStore(ctx context.Context, connString, appname string, runMigrations bool) (*Store, error) {
	pool, err := Connect(ctx, connString, appname)
	if err != nil {
		return nil, err
	}
	if runMigrations {
		if err := runMigrationLadder(ctx, pool); err != nil {
			pool.Close()
			return nil, fmt.Errorf("postgres: migrations failed: %w", err)
		}
	}
	return New(pool), nil
}

func runMigrationLadder(_ context.Context, pool *pgxpool.Pool) error {
	db := stdlib.OpenDB(*pool.Config().ConnConfig)
	defer db.Close()
	migrator := migrate.NewPostgresMigrator(db)
	migrator.Table = migrations.MigrationTable
	return migrator.Exec(migrate.Up, migrations.Migrations...)
}
