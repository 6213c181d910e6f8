package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/dochost/dochost"
)

// ArtifactDeleter is the subset of artifactstore.Store used when cascading a
// crate or version deletion. Declared here, rather than importing
// artifactstore, to keep the metadata store decoupled from the artifact
// store's implementation.
type ArtifactDeleter interface {
	DeletePrefix(ctx context.Context, prefix string) error
}

// InitializeCrate upserts a Crate by normalized name and returns its id.
//
// Called on first queue insertion (Crate lifecycle).
func (s *Store) InitializeCrate(ctx context.Context, name string) (id int64, err error) {
	ctx, done := s.method(ctx, &err)
	defer done()

	norm := dochost.NormalizeName(name)
	err = s.pool.QueryRow(ctx, loadQuery("crate_initialize"), name, norm).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("upsert crate %q: %w", name, err)
	}
	return id, nil
}

// GetCrateByName loads a Crate by its requested (not necessarily canonical)
// name.
func (s *Store) GetCrateByName(ctx context.Context, name string) (c *dochost.Crate, err error) {
	ctx, done := s.method(ctx, &err)
	defer done()

	norm := dochost.NormalizeName(name)
	c = &dochost.Crate{}
	err = s.pool.QueryRow(ctx, loadQuery("crate_get_by_name"), norm).
		Scan(&c.ID, &c.Name, &c.NormalizedName, &c.LatestReleaseID)
	switch {
	case errors.Is(err, pgx.ErrNoRows):
		return nil, &dochost.Error{Kind: dochost.ErrNotFound, Op: "GetCrateByName", Message: name}
	case err != nil:
		return nil, err
	}
	return c, nil
}

// DeleteCrate removes a Crate and every row that depends on it, then issues
// prefix deletions against artifacts for every one of its released
// versions. This is the only way a Crate is ever removed.
func (s *Store) DeleteCrate(ctx context.Context, name string, artifacts ArtifactDeleter) (err error) {
	ctx, done := s.method(ctx, &err)
	defer done()

	norm := dochost.NormalizeName(name)
	versions, lerr := s.listReleaseVersions(ctx, norm)
	if lerr != nil {
		return lerr
	}

	var id int64
	err = s.pool.QueryRow(ctx, loadQuery("crate_delete"), norm).Scan(&id)
	switch {
	case errors.Is(err, pgx.ErrNoRows):
		return &dochost.Error{Kind: dochost.ErrNotFound, Op: "DeleteCrate", Message: name}
	case err != nil:
		return err
	}

	for _, v := range versions {
		if err := artifacts.DeletePrefix(ctx, "rustdoc/"+norm+"/"+v); err != nil {
			return fmt.Errorf("delete rustdoc artifacts for %s@%s: %w", norm, v, err)
		}
		if err := artifacts.DeletePrefix(ctx, "sources/"+norm+"/"+v); err != nil {
			return fmt.Errorf("delete source artifacts for %s@%s: %w", norm, v, err)
		}
	}
	if _, err := s.pool.Exec(ctx, `DELETE FROM queue_entries WHERE name = $1;`, norm); err != nil {
		return fmt.Errorf("delete queue entries for %s: %w", norm, err)
	}
	return nil
}

func (s *Store) listReleaseVersions(ctx context.Context, normalizedName string) ([]string, error) {
	const q = `SELECT r.version FROM releases r JOIN crates c ON c.id = r.crate_id WHERE c.normalized_name = $1;`
	rows, err := s.pool.Query(ctx, q, normalizedName)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, rows.Err()
}
