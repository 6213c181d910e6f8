package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/dochost/dochost"
	"github.com/dochost/dochost/pkg/ctxlock"
)

// candidateWindow bounds how many queue rows ClaimNext inspects per call
// before giving up; the common case is that the first candidate's advisory
// lock is free.
const candidateWindow = 25

// Enqueue admits a crate version to the build queue, assigning it a
// priority from the matching priority rule. Enqueuing
// an already-queued name@version bumps its priority in place rather than
// creating a duplicate row.
func (s *Store) Enqueue(ctx context.Context, name, version, registry string) (id int64, err error) {
	ctx, done := s.method(ctx, &err)
	defer done()

	norm := dochost.NormalizeName(name)
	priority, err := matchPriority(ctx, s, norm)
	if err != nil {
		return 0, fmt.Errorf("match priority for %s: %w", norm, err)
	}
	err = s.pool.QueryRow(ctx, loadQuery("queue_enqueue"), norm, version, priority, registry).Scan(&id)
	if err != nil {
		return 0, err
	}
	// The Crate row exists from the first queue insertion on.
	if _, err := s.InitializeCrate(ctx, norm); err != nil {
		return 0, fmt.Errorf("initialize crate %s: %w", norm, err)
	}
	return id, nil
}

// Claim is a queue entry held under an advisory lock. Release must be
// called exactly once, whether or not the build it guards succeeded; not
// calling it leaks the lock until the holding connection is recycled.
type Claim struct {
	Entry   *dochost.QueueEntry
	Ctx     context.Context
	Release context.CancelFunc
}

// ClaimNext finds the highest-priority eligible queue entry and locks it
// against concurrent claims using a Postgres advisory lock keyed on
// name@version (pkg/ctxlock). Crash safety comes from the lock itself: if
// the builder holding the Claim dies, its connection drops, Postgres
// releases the advisory lock, and the entry is eligible again on the next
// ClaimNext call -- no lease expiry or heartbeat bookkeeping is needed.
//
// Returns (nil, nil) if no eligible, lockable entry is currently available.
func (s *Store) ClaimNext(ctx context.Context, locker *ctxlock.Locker, maxAttempts int32) (claim *Claim, err error) {
	ctx, done := s.method(ctx, &err)
	defer done()

	rows, err := s.pool.Query(ctx, loadQuery("queue_candidates"), candidateWindow, maxAttempts)
	if err != nil {
		return nil, err
	}
	var candidates []*dochost.QueueEntry
	for rows.Next() {
		e := &dochost.QueueEntry{}
		var lastAttempt *time.Time
		if err := rows.Scan(&e.ID, &e.Name, &e.Version, &e.Priority, &e.Attempt, &lastAttempt, &e.Registry); err != nil {
			rows.Close()
			return nil, err
		}
		if lastAttempt != nil {
			e.LastAttempt = *lastAttempt
		}
		candidates = append(candidates, e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	rows.Close()

	for _, e := range candidates {
		key := lockKey(e.Name, e.Version)
		lctx, cancel := locker.TryLock(ctx, key)
		if lctx.Err() != nil {
			cancel()
			continue
		}
		if _, err := s.pool.Exec(ctx, loadQuery("queue_mark_attempt"), e.ID); err != nil {
			cancel()
			return nil, err
		}
		e.Attempt++
		return &Claim{Entry: e, Ctx: lctx, Release: cancel}, nil
	}
	return nil, nil
}

// DeleteQueueEntry removes a queue entry, typically after its build
// reaches a terminal state.
func (s *Store) DeleteQueueEntry(ctx context.Context, id int64) (err error) {
	ctx, done := s.method(ctx, &err)
	defer done()
	_, err = s.pool.Exec(ctx, loadQuery("queue_delete"), id)
	return err
}

func lockKey(name, version string) string {
	return "queue:" + dochost.NormalizeName(name) + "@" + version
}
