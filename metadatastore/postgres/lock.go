package postgres

import (
	"context"
	"time"
)

// LockPipeline sets the administrative pause flag: while locked, the
// drainer sleeps without
// claiming queue entries. by identifies the actor requesting the pause, for
// operator visibility; it has no behavioral effect.
func (s *Store) LockPipeline(ctx context.Context, by string) (err error) {
	ctx, done := s.method(ctx, &err)
	defer done()
	const q = `UPDATE pipeline_lock SET locked = true, locked_by = $1, locked_at = now();`
	_, err = s.pool.Exec(ctx, q, by)
	return err
}

// UnlockPipeline clears the administrative pause flag.
func (s *Store) UnlockPipeline(ctx context.Context) (err error) {
	ctx, done := s.method(ctx, &err)
	defer done()
	const q = `UPDATE pipeline_lock SET locked = false, locked_by = '', locked_at = NULL;`
	_, err = s.pool.Exec(ctx, q)
	return err
}

// PipelineLockState reports whether the drainer is administratively paused,
// and since when.
type PipelineLockState struct {
	Locked   bool
	LockedBy string
	LockedAt time.Time
}

// IsLocked reads the current administrative pause flag.
func (s *Store) IsLocked(ctx context.Context) (state PipelineLockState, err error) {
	ctx, done := s.method(ctx, &err)
	defer done()
	const q = `SELECT locked, locked_by, locked_at FROM pipeline_lock;`
	var lockedAt *time.Time
	err = s.pool.QueryRow(ctx, q).Scan(&state.Locked, &state.LockedBy, &lockedAt)
	if lockedAt != nil {
		state.LockedAt = *lockedAt
	}
	return state, err
}
