package postgres

import (
	"context"
	"time"

	"github.com/dochost/dochost"
)

// EnqueueInvalidation records an intent to purge a CDN path pattern for a
// crate, to be drained by whatever submits to the actual CDN API.
func (s *Store) EnqueueInvalidation(ctx context.Context, crateName, distribution, pathPattern string) (id int64, err error) {
	ctx, done := s.method(ctx, &err)
	defer done()
	err = s.pool.QueryRow(ctx, loadQuery("invalidation_enqueue"), crateName, distribution, pathPattern).Scan(&id)
	return id, err
}

// PendingInvalidations returns up to limit not-yet-submitted intents,
// oldest first.
func (s *Store) PendingInvalidations(ctx context.Context, limit int) (out []*dochost.InvalidationIntent, err error) {
	ctx, done := s.method(ctx, &err)
	defer done()

	rows, err := s.pool.Query(ctx, loadQuery("invalidation_pending"), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		in := &dochost.InvalidationIntent{}
		var submittedAt *time.Time
		if err := rows.Scan(&in.ID, &in.CrateName, &in.Distribution, &in.PathPattern,
			&in.QueuedAt, &submittedAt, &in.ExternalRef); err != nil {
			return nil, err
		}
		if submittedAt != nil {
			in.SubmittedAt = *submittedAt
		}
		out = append(out, in)
	}
	return out, rows.Err()
}

// MarkInvalidationSubmitted records that an intent was handed to the CDN,
// along with whatever reference id the CDN API returned.
func (s *Store) MarkInvalidationSubmitted(ctx context.Context, id int64, externalRef string) (err error) {
	ctx, done := s.method(ctx, &err)
	defer done()
	_, err = s.pool.Exec(ctx, loadQuery("invalidation_mark_submitted"), id, externalRef)
	return err
}
