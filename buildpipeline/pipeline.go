package buildpipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/dochost/dochost/artifactstore"
	"github.com/dochost/dochost/buildpipeline/controller"
	"github.com/dochost/dochost/buildpipeline/driver"
	"github.com/dochost/dochost/internal/ctxlog"
	"github.com/dochost/dochost/metadatastore/postgres"
	"github.com/dochost/dochost/pkg/ctxlock"
)

// Default tunables. DefaultMaxAttempts and DefaultEmptyQueueSleep are
// overridden by [Options] fields of the same name sans the Default prefix;
// DefaultPanicCooldown has no Options field and is always used.
const (
	DefaultMaxAttempts     = 5
	DefaultEmptyQueueSleep = 30 * time.Second
	DefaultPanicCooldown   = time.Minute
)

// Options configures a [Pipeline]. Meta, Artifacts, Sandbox, Source,
// Workspace, and Locker are required; the rest have defaults.
type Options struct {
	Meta      *postgres.Store
	Artifacts *artifactstore.Store
	Sandbox   driver.Sandbox
	Source    controller.SourceFetcher
	Workspace *Workspace
	Locker    *ctxlock.Locker

	// BuildServer identifies this builder process in recorded Build rows.
	BuildServer string
	// Distribution is the CDN distribution identifier attached to every
	// invalidation intent this pipeline enqueues.
	Distribution string
	// MaxAttempts bounds how many times a single (name, version) may be
	// attempted before the queue entry is abandoned.
	MaxAttempts int32
	// EmptyQueueSleep is how long the drainer sleeps after finding nothing
	// eligible to claim.
	EmptyQueueSleep time.Duration
	// KeepScratch disables per-build scratch directory cleanup, for
	// operator debugging.
	KeepScratch bool
}

// Pipeline implements the Build Pipeline: enqueue,
// drain, and the administrative pause flag.
type Pipeline struct {
	*Options
}

// New validates opts and constructs a Pipeline.
func New(opts *Options) (*Pipeline, error) {
	switch {
	case opts.Meta == nil:
		return nil, errors.New("buildpipeline: Meta is required")
	case opts.Artifacts == nil:
		return nil, errors.New("buildpipeline: Artifacts is required")
	case opts.Sandbox == nil:
		return nil, errors.New("buildpipeline: Sandbox is required")
	case opts.Source == nil:
		return nil, errors.New("buildpipeline: Source is required")
	case opts.Workspace == nil:
		return nil, errors.New("buildpipeline: Workspace is required")
	case opts.Locker == nil:
		return nil, errors.New("buildpipeline: Locker is required")
	}
	if opts.MaxAttempts == 0 {
		opts.MaxAttempts = DefaultMaxAttempts
	}
	if opts.EmptyQueueSleep == 0 {
		opts.EmptyQueueSleep = DefaultEmptyQueueSleep
	}
	return &Pipeline{Options: opts}, nil
}

// Close releases the pipeline's locker. The Metadata Store and Artifact
// Store pools are owned by the caller, not the Pipeline, and are not
// closed here.
func (p *Pipeline) Close(ctx context.Context) error {
	return p.Locker.Close(ctx)
}

// Enqueue admits (name, version) to the build queue, idempotently: calling
// it twice in succession for the same pair
// leaves a single row.
func (p *Pipeline) Enqueue(ctx context.Context, name, version, registry string) (int64, error) {
	return p.Meta.Enqueue(ctx, name, version, registry)
}

// Outcome reports what [Pipeline.ProcessNext] did.
type Outcome int

// Defined outcomes.
const (
	// OutcomeEmpty means no eligible entry was available to claim, either
	// because the queue is empty or because the pipeline is locked.
	OutcomeEmpty Outcome = iota
	OutcomeCompleted
	OutcomeFailed
)

// ProcessNext atomically claims the highest-priority unattempted queue
// entry and runs the full per-build algorithm against it.
func (p *Pipeline) ProcessNext(ctx context.Context) (Outcome, error) {
	state, err := p.Meta.IsLocked(ctx)
	if err != nil {
		return OutcomeEmpty, fmt.Errorf("buildpipeline: check lock: %w", err)
	}
	if state.Locked {
		return OutcomeEmpty, nil
	}

	claim, err := p.Meta.ClaimNext(ctx, p.Locker, p.MaxAttempts)
	if err != nil {
		return OutcomeEmpty, fmt.Errorf("buildpipeline: claim next: %w", err)
	}
	if claim == nil {
		return OutcomeEmpty, nil
	}
	defer claim.Release()

	ctx = ctxlog.With(claim.Ctx, "crate", claim.Entry.Name, "version", claim.Entry.Version)
	entry := controller.Entry{
		QueueEntryID: claim.Entry.ID,
		Name:         claim.Entry.Name,
		Version:      claim.Entry.Version,
		Registry:     claim.Entry.Registry,
		Attempt:      claim.Entry.Attempt,
		MaxAttempts:  p.MaxAttempts,
	}
	out, err := controller.New(p.controllerDeps(), entry).Run(ctx)
	switch out {
	case controller.OutcomeCompleted:
		slog.InfoContext(ctx, "build completed")
		return OutcomeCompleted, err
	default:
		if err != nil {
			slog.WarnContext(ctx, "build failed", "reason", err)
		}
		return OutcomeFailed, err
	}
}

func (p *Pipeline) controllerDeps() *controller.Deps {
	return &controller.Deps{
		Meta:         p.Meta,
		Artifacts:    p.Artifacts,
		Sandbox:      p.Sandbox,
		Source:       p.Source,
		Workspace:    p.Workspace,
		BuildServer:  p.BuildServer,
		Distribution: p.Distribution,
		KeepScratch:  p.KeepScratch,
	}
}

// BuildLocal runs the full pipeline against an on-disk source tree,
// bypassing the queue entirely, for operator use.
func (p *Pipeline) BuildLocal(ctx context.Context, name, version, path string) (Outcome, error) {
	deps := p.controllerDeps()
	deps.Source = localFetcher{path: path}
	entry := controller.Entry{
		Name:        name,
		Version:     version,
		MaxAttempts: 1,
	}
	out, err := controller.New(deps, entry).Run(ctx)
	switch out {
	case controller.OutcomeCompleted:
		return OutcomeCompleted, err
	default:
		return OutcomeFailed, err
	}
}

// localFetcher implements [controller.SourceFetcher] by copying an
// already-present local directory, ignoring the registry/name/version the
// controller would otherwise fetch by.
type localFetcher struct{ path string }

func (l localFetcher) Fetch(_ context.Context, _, _, _, destDir string) error {
	return copyTree(l.path, destDir)
}

// Lock sets the administrative pause flag: while locked, the drainer sleeps
// without claiming (`lock()`).
func (p *Pipeline) Lock(ctx context.Context, by string) error {
	return p.Meta.LockPipeline(ctx, by)
}

// Unlock clears the administrative pause flag (`unlock()`).
func (p *Pipeline) Unlock(ctx context.Context) error {
	return p.Meta.UnlockPipeline(ctx)
}

// IsLocked reports the current administrative pause state (`is_locked()`).
func (p *Pipeline) IsLocked(ctx context.Context) (postgres.PipelineLockState, error) {
	return p.Meta.IsLocked(ctx)
}

// Drain runs [Pipeline.ProcessNext] in a loop until ctx is canceled,
// sleeping when the queue is empty or locked. A panic in the inner loop
// locks the queue and cools off before resuming.
func (p *Pipeline) Drain(ctx context.Context) {
	for ctx.Err() == nil {
		p.drainOnce(ctx)
	}
}

func (p *Pipeline) drainOnce(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			slog.ErrorContext(ctx, "drainer panic; locking queue and cooling off", "reason", r)
			// The sentinel survives a process kill during the cool-off, so
			// the next Startup comes up locked too.
			if err := p.Workspace.writeSentinel(fmt.Sprint(r)); err != nil {
				slog.ErrorContext(ctx, "failed to write panic sentinel", "reason", err)
			}
			if err := p.Meta.LockPipeline(ctx, "panic-recovery"); err != nil {
				slog.ErrorContext(ctx, "failed to lock queue after panic", "reason", err)
			}
			select {
			case <-time.After(DefaultPanicCooldown):
			case <-ctx.Done():
			}
		}
	}()

	for ctx.Err() == nil {
		out, err := p.ProcessNext(ctx)
		if err != nil {
			slog.ErrorContext(ctx, "process next error", "reason", err)
		}
		if out == OutcomeEmpty {
			select {
			case <-time.After(p.EmptyQueueSleep):
			case <-ctx.Done():
			}
		}
	}
}
