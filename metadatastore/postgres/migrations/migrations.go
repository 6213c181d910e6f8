// Package migrations contains the database migration ladder for the
// Metadata Store.
//
// It's expected that github.com/remind101/migrate is used to apply these,
// but nothing stops an operator from running the .sql files by hand if they
// need something specific done out of band.
package migrations

import (
	"database/sql"
	"embed"
	"fmt"
	"io"
	"io/fs"
	"path"
	"strings"

	"github.com/remind101/migrate"
)

// MigrationTable is the canonical name of the table tracking applied
// migrations.
const MigrationTable = "dochost_migrations"

// Migrations holds the loaded ladder, in order.
var Migrations []migrate.Migration

func init() {
	Migrations = loadMigrations("schema")
}

//go:embed schema/*.sql
var sys embed.FS

func loadMigrations(dir string) []migrate.Migration {
	ents, err := fs.ReadDir(sys, dir)
	if err != nil {
		panic(fmt.Errorf("programmer error: unable to read embed: %w", err))
	}

	ms := make([]migrate.Migration, 0, len(ents))
	id := 1
	for _, ent := range ents {
		if path.Ext(ent.Name()) != ".sql" || !ent.Type().IsRegular() {
			continue
		}
		p := path.Join(dir, ent.Name())
		ms = append(ms, migrate.Migration{
			ID: id,
			Up: func(tx *sql.Tx) error {
				f, err := sys.Open(p)
				if err != nil {
					return fmt.Errorf("unable to open migration %q: %w", p, err)
				}
				defer f.Close()
				var b strings.Builder
				if _, err := io.Copy(&b, f); err != nil {
					return fmt.Errorf("unable to read migration %q: %w", p, err)
				}
				if _, err := tx.Exec(b.String()); err != nil {
					return fmt.Errorf("unable to exec migration %q: %w", p, err)
				}
				return nil
			},
		})
		id++
	}
	return ms
}
