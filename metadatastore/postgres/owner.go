package postgres

import (
	"context"

	"github.com/jackc/pgx/v5"

	"github.com/dochost/dochost"
)

// SetCrateOwners replaces the full set of Owners attributed to a crate,
// upserting each Owner row and relinking in one transaction. Registries
// report the complete owner list on every sync, so this is a
// replace-not-merge operation.
func (s *Store) SetCrateOwners(ctx context.Context, crateID int64, owners []dochost.Owner) (err error) {
	ctx, done := s.method(ctx, &err)
	defer done()

	return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, loadQuery("owner_unlink_all"), crateID); err != nil {
			return err
		}
		for _, o := range owners {
			var ownerID int64
			if err := tx.QueryRow(ctx, loadQuery("owner_upsert"), o.Login, o.Name, o.Avatar).Scan(&ownerID); err != nil {
				return err
			}
			if _, err := tx.Exec(ctx, loadQuery("owner_link"), crateID, ownerID); err != nil {
				return err
			}
		}
		return nil
	})
}

// ListCrateOwners returns the Owners currently linked to a crate.
func (s *Store) ListCrateOwners(ctx context.Context, crateID int64) (out []*dochost.Owner, err error) {
	ctx, done := s.method(ctx, &err)
	defer done()

	rows, err := s.pool.Query(ctx, loadQuery("owner_list_by_crate"), crateID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		o := &dochost.Owner{}
		if err := rows.Scan(&o.ID, &o.Login, &o.Name, &o.Avatar); err != nil {
			return nil, err
		}
		out = append(out, o)
	}
	return out, rows.Err()
}
