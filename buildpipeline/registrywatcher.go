package buildpipeline

import (
	"context"
	"log/slog"
	"time"

	"golang.org/x/time/rate"

	"github.com/dochost/dochost/metadatastore/postgres"
)

// IndexEntry is one line of difference the registry index reported since
// the watcher's last poll: either a newly published release to enqueue, or
// a yank-status change to record.
type IndexEntry struct {
	Name     string
	Version  string
	Registry string
	Yanked   bool
	// New is true for a release the watcher has not reported before;
	// false means only its Yanked status changed.
	New bool
}

// IndexSource abstracts over the VCS-backed registry index: a list of
// crate versions, polled to produce queue entries. Cloning and diffing
// the actual git index is an external collaborator's job; this interface
// is the seam the Registry Watcher polls through.
type IndexSource interface {
	// Diff reports every entry that changed since cursor, and the cursor
	// to resume from on the next call.
	Diff(ctx context.Context, cursor string) (entries []IndexEntry, nextCursor string, err error)
}

// RegistryMetadataStore is the subset of [postgres.Store] the watcher
// needs, declared here so the polling/diff-application logic can be
// exercised against a fake without a database.
type RegistryMetadataStore interface {
	Enqueue(ctx context.Context, name, version, registry string) (int64, error)
	SetYanked(ctx context.Context, name, version string, yanked bool) error
}

var _ RegistryMetadataStore = (*postgres.Store)(nil)

// RegistryWatcher is the periodic task that polls the registry index and
// turns diffs into queue admissions and yank-status updates.
type RegistryWatcher struct {
	Meta    RegistryMetadataStore
	Index   IndexSource
	Limiter *rate.Limiter

	cursor string
}

// NewRegistryWatcher constructs a watcher polling as often as limiter
// allows; a nil limiter makes Run poll at most once a minute.
func NewRegistryWatcher(meta RegistryMetadataStore, index IndexSource, limiter *rate.Limiter) *RegistryWatcher {
	return &RegistryWatcher{Meta: meta, Index: index, Limiter: limiter}
}

// Run polls in a loop until ctx is canceled. It never builds anything
// itself; new releases only become queue entries, for a Pipeline's drainer
// to pick up separately.
func (w *RegistryWatcher) Run(ctx context.Context) {
	if w.Limiter == nil {
		w.Limiter = rate.NewLimiter(rate.Every(time.Minute), 1)
	}
	for {
		if err := w.Limiter.Wait(ctx); err != nil {
			return // context canceled
		}
		if err := w.pollOnce(ctx); err != nil {
			slog.ErrorContext(ctx, "registry watcher poll failed", "reason", err)
		}
	}
}

func (w *RegistryWatcher) pollOnce(ctx context.Context) error {
	entries, next, err := w.Index.Diff(ctx, w.cursor)
	if err != nil {
		return err
	}
	for _, e := range entries {
		if e.New {
			// The release row doesn't exist until a builder claims the
			// entry, so a new release's yank flag is picked up from the
			// registry API during the build, not here.
			if _, err := w.Meta.Enqueue(ctx, e.Name, e.Version, e.Registry); err != nil {
				slog.ErrorContext(ctx, "registry watcher: enqueue failed", "crate", e.Name, "version", e.Version, "reason", err)
			}
			continue
		}
		// Yank status can flip in both directions.
		if err := w.Meta.SetYanked(ctx, e.Name, e.Version, e.Yanked); err != nil {
			slog.ErrorContext(ctx, "registry watcher: set yank status failed", "crate", e.Name, "version", e.Version, "reason", err)
		}
	}
	w.cursor = next
	return nil
}
