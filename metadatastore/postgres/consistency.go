package postgres

import (
	"context"

	"github.com/dochost/dochost"
)

// ReleaseArtifactRecord is what the Metadata Store believes about one
// Release's on-disk shape, for [Store.IterReleaseArtifacts] to feed a
// consistency check against the Artifact Store (see
// buildpipeline.Reconcile).
type ReleaseArtifactRecord struct {
	CrateName      string
	Version        string
	Status         dochost.RustdocStatus
	ArchiveStorage bool
}

// IterReleaseArtifacts streams a ReleaseArtifactRecord for every Release
// whose rustdoc status is success, the only releases expected to have
// artifacts at all.
func (s *Store) IterReleaseArtifacts(ctx context.Context, fn func(ReleaseArtifactRecord) error) (err error) {
	ctx, done := s.method(ctx, &err)
	defer done()

	const q = `
		SELECT c.normalized_name, r.version, r.status, r.archive_storage
		FROM releases r
		JOIN crates c ON c.id = r.crate_id
		WHERE r.status = 'success';`
	rows, err := s.pool.Query(ctx, q)
	if err != nil {
		return err
	}
	defer rows.Close()
	for rows.Next() {
		var rec ReleaseArtifactRecord
		if err := rows.Scan(&rec.CrateName, &rec.Version, &rec.Status, &rec.ArchiveStorage); err != nil {
			return err
		}
		if err := fn(rec); err != nil {
			return err
		}
	}
	return rows.Err()
}
