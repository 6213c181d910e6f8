// Package ctxlock provides a locking mechanism based on context cancellation
// and backed by PostgreSQL advisory locks.
//
// Contexts derived from a Locker are canceled when the underlying connection
// to the database is lost, or when the parent context is canceled. This is
// what gives the build pipeline's queue claim (see buildpipeline) its
// crash-safety: if a builder process dies, its connection drops, the
// advisory lock is released by Postgres itself, and the entry becomes
// eligible again without any lease-expiry bookkeeping.
package ctxlock

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"log/slog"
	"runtime"
	"runtime/pprof"
	"runtime/trace"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

const (
	pkgname    = `github.com/dochost/dochost/pkg/ctxlock`
	tracelabel = pkgname + `.Locker`
)

var profile = pprof.NewProfile(pkgname + `.Lock`)

// keyify hashes key to the int64 pg_advisory_lock expects.
func keyify(key string) []byte {
	h := fnv.New64a()
	h.Write([]byte(key))
	return h.Sum(make([]byte, 0, 8))
}

// New creates a Locker that pulls connections from the provided pool.
//
// The provided context is only used for logging and initial setup. Close
// must be called to release held resources.
func New(ctx context.Context, p *pgxpool.Pool) (*Locker, error) {
	l := &Locker{
		p:  p,
		rc: sync.NewCond(&sync.Mutex{}),
	}
	_, file, line, _ := runtime.Caller(1)
	runtime.SetFinalizer(l, func(l *Locker) {
		panic(fmt.Sprintf("%s:%d: ctxlock.Locker not closed", file, line))
	})
	go l.run(ctx)
	go l.ping(ctx)

	ready := make(chan struct{})
	go func() {
		pprof.SetGoroutineLabels(pprof.WithLabels(ctx, pprof.Labels(tracelabel, `ready`)))
		l.rc.L.Lock()
		defer l.rc.L.Unlock()
		for l.conn == nil && l.gen != -1 {
			l.rc.Wait()
		}
		close(ready)
	}()
	select {
	case <-ready:
	case <-ctx.Done():
		l.Close(ctx)
		return nil, ctx.Err()
	}
	return l, nil
}

// Locker provides context-scoped advisory locks.
type Locker struct {
	p *pgxpool.Pool

	rc   *sync.Cond
	conn *pgconn.PgConn
	cur  map[string]struct{}
	gone chan struct{}
	gen  int
}

var (
	errExiting    = errors.New("ctxlock: exiting")
	errLockFail   = errors.New("ctxlock: lock acquisition failed")
	errDoubleLock = errors.New("ctxlock: lock already held")
	errConnGone   = errors.New("ctxlock: connection gone")
)

func (l *Locker) run(ctx context.Context) {
	ctx = pprof.WithLabels(ctx, pprof.Labels(tracelabel, `run`))
	pprof.SetGoroutineLabels(ctx)
	for {
		tctx, done := context.WithTimeout(ctx, 5*time.Second)
		err := l.p.AcquireFunc(tctx, l.reconnect(ctx))
		done()
		switch {
		case errors.Is(err, errExiting):
			slog.DebugContext(ctx, "ctxlocker exiting")
			return
		case errors.Is(err, nil):
			return
		case errors.Is(err, context.DeadlineExceeded):
			slog.InfoContext(ctx, "retrying immediately", "reason", err)
		default:
			slog.WarnContext(ctx, "unexpected error; retrying immediately", "reason", err)
		}
	}
}

// Close spins down background goroutines and frees resources.
func (l *Locker) Close(_ context.Context) error {
	runtime.SetFinalizer(l, nil)
	l.rc.L.Lock()
	defer l.rc.L.Unlock()
	l.gen = -1
	l.rc.Broadcast()
	return nil
}

func (l *Locker) reconnect(ctx context.Context) func(*pgxpool.Conn) error {
	return func(c *pgxpool.Conn) error {
		l.rc.L.Lock()
		defer l.rc.L.Unlock()
		l.conn = c.Conn().PgConn()
		l.gone = make(chan struct{})
		l.cur = make(map[string]struct{}, 100)
		l.gen++
		log := slog.With(slog.Int("gen", l.gen))
		defer func() {
			close(l.gone)
			l.gone = nil
			l.conn = nil
			l.cur = nil
			log.DebugContext(ctx, "torn down")
		}()
		log.DebugContext(ctx, "set up")
		l.rc.Broadcast()

		for l.gen > 0 {
			ctx, done := context.WithTimeout(ctx, time.Second)
			err := c.Ping(ctx)
			done()
			if err != nil {
				log.WarnContext(ctx, "liveness check failed", "reason", err)
				return err
			}
			l.rc.Wait()
		}
		return errExiting
	}
}

func (l *Locker) ping(ctx context.Context) {
	pprof.SetGoroutineLabels(pprof.WithLabels(ctx, pprof.Labels(tracelabel, `ping`)))
	t := time.NewTicker(5 * time.Second)
	defer t.Stop()
	leave := false
	for !leave {
		<-t.C
		l.rc.L.Lock()
		leave = l.gen < 0
		l.rc.L.Unlock()
		l.rc.Broadcast()
	}
}

// TryLock attempts to lock on the provided key.
//
// If unsuccessful, an already-canceled Context is returned.
func (l *Locker) TryLock(parent context.Context, key string) (context.Context, context.CancelFunc) {
	a := slog.String("key", key)
	slog.DebugContext(parent, "trying lock", a)
	defer trace.StartRegion(parent, pkgname+".TryLock").End()
	child, done := context.WithCancel(parent)
	w, err := l.try(parent, key, done)
	switch {
	case errors.Is(err, nil):
		return child, w.Unwatch
	case errors.Is(err, errConnGone) || errors.Is(err, errLockFail) || errors.Is(err, errDoubleLock):
		slog.DebugContext(parent, "lock failed", a, "reason", err)
	default:
		slog.InfoContext(parent, "checking lock liveness", a, "reason", err)
		l.rc.Broadcast()
	}
	done()
	return child, done
}

// Lock obtains the named lock, blocking with backoff until it succeeds or
// the passed Context is canceled.
func (l *Locker) Lock(parent context.Context, key string) (context.Context, context.CancelFunc) {
	a := slog.String("key", key)
	slog.DebugContext(parent, "locking", a)
	defer trace.StartRegion(parent, pkgname+".Lock").End()
	child, done := context.WithCancel(parent)
	for wait := 500 * time.Millisecond; ; backoff(&wait) {
		w, err := l.try(parent, key, done)
		switch {
		case errors.Is(err, nil):
			return child, w.Unwatch
		case errors.Is(err, errConnGone) || errors.Is(err, errLockFail) || errors.Is(err, errDoubleLock):
			slog.DebugContext(parent, "lock failed", a, "reason", err)
		default:
			slog.InfoContext(parent, "checking lock liveness", a, "reason", err)
			l.rc.Broadcast()
		}

		t := time.NewTimer(wait)
		select {
		case <-parent.Done():
			t.Stop()
			done()
			return parent, noop
		case <-t.C:
			t.Stop()
		}
	}
}

func noop() {}

func backoff(w *time.Duration) {
	const max = 10 * time.Second
	(*w) *= 2
	if *w > max {
		*w = max
	}
}

func (l *Locker) try(ctx context.Context, key string, cf context.CancelFunc) (*watcher, error) {
	const query = `SELECT lock FROM pg_try_advisory_lock($1) lock WHERE lock = true;`
	kb := keyify(key)
	trace.Logf(ctx, pkgname+".try", "trying lock for %q (%016x)", key, kb)
	l.rc.L.Lock()
	defer l.rc.L.Unlock()
	if l.conn == nil {
		return nil, errConnGone
	}
	if _, ok := l.cur[key]; ok {
		return nil, errDoubleLock
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	tag, err := l.conn.ExecParams(ctx, query, [][]byte{kb}, nil, []int16{1}, nil).Close()
	if err != nil {
		return nil, err
	}
	if tag.RowsAffected() == 0 {
		return nil, errLockFail
	}
	l.cur[key] = struct{}{}
	w := newWatcher(l.unlock(ctx, key, kb, l.gen, cf))
	go w.Watch(ctx, l.gone)
	return w, nil
}

func (l *Locker) unlock(ctx context.Context, key string, kb []byte, gen int, next context.CancelFunc) context.CancelFunc {
	const query = `SELECT lock FROM pg_advisory_unlock($1) lock WHERE lock = true;`
	return func() {
		defer next()
		l.rc.L.Lock()
		defer l.rc.L.Unlock()

		switch {
		case gen < l.gen:
			return
		case l.conn == nil || l.gen < 0:
			return
		}

		var done context.CancelFunc
		if err := ctx.Err(); err != nil {
			ctx, done = context.WithTimeout(context.Background(), 5*time.Second)
			defer done()
		}

		tag, err := l.conn.ExecParams(ctx, query, [][]byte{kb}, nil, []int16{1}, nil).Close()
		if err != nil {
			slog.DebugContext(ctx, "error during unlock", "reason", err)
			l.rc.Broadcast()
			return
		}
		if _, ok := l.cur[key]; !ok || tag.RowsAffected() == 0 {
			slog.ErrorContext(ctx, "lock protocol botch", "key", key)
		}
		delete(l.cur, key)
	}
}
