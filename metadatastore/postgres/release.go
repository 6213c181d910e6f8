package postgres

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/Masterminds/semver"
	"github.com/jackc/pgx/v5"
	"github.com/package-url/packageurl-go"

	"github.com/dochost/dochost"
)

// InitializeRelease upserts a Release placeholder in the in-progress state,
// created the moment a builder claims the queue entry.
func (s *Store) InitializeRelease(ctx context.Context, crateID int64, version string) (id int64, err error) {
	ctx, done := s.method(ctx, &err)
	defer done()

	err = s.pool.QueryRow(ctx, loadQuery("release_initialize"), crateID, version).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("upsert release %d@%s: %w", crateID, version, err)
	}
	return id, nil
}

// ListReleases returns every Release of crateID, most recent release_time
// first. Callers needing semver order should use [SortReleasesBySemver].
func (s *Store) ListReleases(ctx context.Context, crateID int64) (out []*dochost.Release, err error) {
	ctx, done := s.method(ctx, &err)
	defer done()

	rows, err := s.pool.Query(ctx, loadQuery("release_list_by_crate"), crateID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		r := &dochost.Release{}
		var deps []string
		if err := rows.Scan(&r.ID, &r.CrateID, &r.Version, &r.ReleaseTime, &r.Yanked, &r.Status,
			&r.Library, &r.License, &r.DefaultTarget, &r.DocumentedTargets, &r.ArchiveStorage,
			&r.SourceSize, &r.Features, &deps, &r.Description, &r.Readme, &r.Repository); err != nil {
			return nil, err
		}
		for _, d := range deps {
			if purl, err := packageurl.FromString(d); err == nil {
				r.Dependencies = append(r.Dependencies, purl)
			}
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// SortReleasesBySemver orders releases by parsed semantic version,
// descending, the order the resolver's match algorithm requires.
// Unparseable versions sort last.
func SortReleasesBySemver(rs []*dochost.Release) {
	sort.SliceStable(rs, func(i, j int) bool {
		vi, ei := semver.NewVersion(rs[i].Version)
		vj, ej := semver.NewVersion(rs[j].Version)
		switch {
		case ei != nil && ej != nil:
			return false
		case ei != nil:
			return false
		case ej != nil:
			return true
		default:
			return vi.GreaterThan(vj)
		}
	})
}

// FinishRelease finalizes Release metadata and recomputes the crate's
// latest-release pointer, in one transaction.
func (s *Store) FinishRelease(ctx context.Context, crateID, releaseID int64, meta ReleaseMetadata) (err error) {
	ctx, done := s.method(ctx, &err)
	defer done()

	deps := make([]string, 0, len(meta.Dependencies))
	for _, d := range meta.Dependencies {
		deps = append(deps, d.ToString())
	}

	err = pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		const q = `
			UPDATE releases SET
				status = $3, library = $4, license = $5, default_target = $6,
				documented_targets = $7, archive_storage = $8, source_size = $9,
				features = $10, dependencies = $11, description = $12, readme = $13,
				repository = $14
			WHERE id = $1 AND crate_id = $2;`
		_, err := tx.Exec(ctx, q, releaseID, crateID, meta.Status, meta.Library, meta.License,
			meta.DefaultTarget, meta.DocumentedTargets, meta.ArchiveStorage, meta.SourceSize,
			meta.Features, deps, meta.Description, meta.Readme, meta.Repository)
		if err != nil {
			return fmt.Errorf("finish release: %w", err)
		}
		return recomputeLatest(ctx, tx, crateID)
	})
	return err
}

// ReleaseMetadata is the set of fields [Store.FinishRelease] persists.
type ReleaseMetadata struct {
	Status            dochost.RustdocStatus
	Library           bool
	License           string
	DefaultTarget     string
	DocumentedTargets []string
	ArchiveStorage    bool
	SourceSize        int64
	Features          []string
	Dependencies      []packageurl.PackageURL
	Description       string
	Readme            string
	Repository        string
}

// UpdateLatestVersionID recomputes a crate's cached latest-release pointer.
// Any mutation that could change it must call this in the same transaction
// (ownership graph).
func (s *Store) UpdateLatestVersionID(ctx context.Context, crateID int64) (err error) {
	ctx, done := s.method(ctx, &err)
	defer done()
	return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		return recomputeLatest(ctx, tx, crateID)
	})
}

// recomputeLatest picks the highest-version release among
// non-yanked, non-prerelease releases; falling back to the highest
// non-yanked release; falling back to the highest release overall.
func recomputeLatest(ctx context.Context, tx pgx.Tx, crateID int64) error {
	const q = `
		SELECT id, version, yanked
		FROM releases
		WHERE crate_id = $1;`
	rows, err := tx.Query(ctx, q, crateID)
	if err != nil {
		return err
	}
	defer rows.Close()

	type cand struct {
		id     int64
		ver    *semver.Version
		yanked bool
	}
	var all []cand
	for rows.Next() {
		var id int64
		var vs string
		var yanked bool
		if err := rows.Scan(&id, &vs, &yanked); err != nil {
			return err
		}
		v, err := semver.NewVersion(vs)
		if err != nil {
			continue
		}
		all = append(all, cand{id, v, yanked})
	}
	if err := rows.Err(); err != nil {
		return err
	}

	pick := func(filter func(cand) bool) (int64, bool) {
		var best cand
		found := false
		for _, c := range all {
			if !filter(c) {
				continue
			}
			if !found || c.ver.GreaterThan(best.ver) {
				best, found = c, true
			}
		}
		return best.id, found
	}

	id, ok := pick(func(c cand) bool { return !c.yanked && c.ver.Prerelease() == "" })
	if !ok {
		id, ok = pick(func(c cand) bool { return !c.yanked })
	}
	if !ok {
		id, ok = pick(func(cand) bool { return true })
	}
	var arg any
	if ok {
		arg = id
	}
	_, err = tx.Exec(ctx, `UPDATE crates SET latest_release_id = $2 WHERE id = $1;`, crateID, arg)
	return err
}

// SetYanked updates a release's yanked flag, then recomputes the crate's
// latest-release pointer in the same transaction, since yanking can change
// which release the pointer selects. The registry watcher is the usual
// caller.
func (s *Store) SetYanked(ctx context.Context, name, version string, yanked bool) (err error) {
	ctx, done := s.method(ctx, &err)
	defer done()

	norm := dochost.NormalizeName(name)
	return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		var crateID int64
		const q = `
			UPDATE releases r SET yanked = $3
			FROM crates c
			WHERE c.id = r.crate_id AND c.normalized_name = $1 AND r.version = $2
			RETURNING c.id;`
		if err := tx.QueryRow(ctx, q, norm, version, yanked).Scan(&crateID); err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return &dochost.Error{Kind: dochost.ErrNotFound, Op: "SetYanked", Message: name + "@" + version}
			}
			return err
		}
		return recomputeLatest(ctx, tx, crateID)
	})
}

// DeleteVersion removes a single Release (and, through the foreign key,
// every Build referencing it), then the corresponding artifacts. Only
// invoked by explicit operator action.
func (s *Store) DeleteVersion(ctx context.Context, name, version string, artifacts ArtifactDeleter) (err error) {
	ctx, done := s.method(ctx, &err)
	defer done()

	norm := dochost.NormalizeName(name)
	err = pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		var id, crateID int64
		err := tx.QueryRow(ctx, loadQuery("release_delete_version"), norm, version).Scan(&id, &crateID)
		switch {
		case errors.Is(err, pgx.ErrNoRows):
			return &dochost.Error{Kind: dochost.ErrNotFound, Op: "DeleteVersion", Message: name + "@" + version}
		case err != nil:
			return err
		}
		// Removing a release can change which one the cached pointer names.
		return recomputeLatest(ctx, tx, crateID)
	})
	if err != nil {
		return err
	}

	if err := artifacts.DeletePrefix(ctx, "rustdoc/"+norm+"/"+version); err != nil {
		return fmt.Errorf("delete rustdoc artifacts: %w", err)
	}
	if err := artifacts.DeletePrefix(ctx, "sources/"+norm+"/"+version); err != nil {
		return fmt.Errorf("delete source artifacts: %w", err)
	}
	if _, err := s.pool.Exec(ctx, `DELETE FROM queue_entries WHERE name = $1 AND version = $2;`, norm, version); err != nil {
		return fmt.Errorf("delete queue entry: %w", err)
	}
	return nil
}

// RefreshReleaseActivity recomputes the 90-day release count backing the
// home page's recent-releases feed.
func (s *Store) RefreshReleaseActivity(ctx context.Context, crateID int64) (err error) {
	ctx, done := s.method(ctx, &err)
	defer done()
	const q = `
		INSERT INTO release_activity (crate_id, release_count_90d, refreshed_at)
		SELECT $1, count(*), now()
		FROM releases
		WHERE crate_id = $1 AND release_time > now() - interval '90 days'
		ON CONFLICT (crate_id) DO UPDATE SET
			release_count_90d = EXCLUDED.release_count_90d,
			refreshed_at = EXCLUDED.refreshed_at;`
	_, err = s.pool.Exec(ctx, q, crateID)
	return err
}
