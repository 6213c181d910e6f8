package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/dochost/dochost"
)

// UpsertSandboxOverride sets per-crate sandbox resource caps, for crates
// that need more memory or wall-clock than the default sandbox profile
// allows.
func (s *Store) UpsertSandboxOverride(ctx context.Context, o dochost.SandboxOverride) (err error) {
	ctx, done := s.method(ctx, &err)
	defer done()

	var mem *int64
	if o.MaxMemoryBytes > 0 {
		mem = &o.MaxMemoryBytes
	}
	var wall *int32
	if o.MaxWallClock > 0 {
		w := int32(o.MaxWallClock / time.Second)
		wall = &w
	}
	var targets *int32
	if o.MaxTargets > 0 {
		t := int32(o.MaxTargets)
		targets = &t
	}
	_, err = s.pool.Exec(ctx, loadQuery("override_upsert"), dochost.NormalizeName(o.CrateName), mem, wall, targets)
	return err
}

// GetSandboxOverride returns the override for a crate, if one exists.
func (s *Store) GetSandboxOverride(ctx context.Context, crateName string) (o *dochost.SandboxOverride, err error) {
	ctx, done := s.method(ctx, &err)
	defer done()

	var name string
	var mem *int64
	var wall, targets *int32
	row := s.pool.QueryRow(ctx, loadQuery("override_get"), dochost.NormalizeName(crateName))
	err = row.Scan(&name, &mem, &wall, &targets)
	switch {
	case errors.Is(err, pgx.ErrNoRows):
		return nil, &dochost.Error{Kind: dochost.ErrNotFound, Op: "GetSandboxOverride", Message: crateName}
	case err != nil:
		return nil, err
	}
	o = &dochost.SandboxOverride{CrateName: name}
	if mem != nil {
		o.MaxMemoryBytes = *mem
	}
	if wall != nil {
		o.MaxWallClock = time.Duration(*wall) * time.Second
	}
	if targets != nil {
		o.MaxTargets = int(*targets)
	}
	return o, nil
}

// DeleteSandboxOverride removes a crate's sandbox override, reverting it to
// the builder's default caps.
func (s *Store) DeleteSandboxOverride(ctx context.Context, crateName string) (err error) {
	ctx, done := s.method(ctx, &err)
	defer done()
	_, err = s.pool.Exec(ctx, loadQuery("override_delete"), dochost.NormalizeName(crateName))
	return err
}
