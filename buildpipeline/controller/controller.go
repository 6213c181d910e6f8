// Package controller implements the per-build algorithm: given a claimed
// queue entry, prepare a workspace, run the sandboxed documentation
// generator, ingest the result, and record the outcome. Modeled as a
// small finite state machine, one stateFunc per state.
package controller

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/dochost/dochost"
	"github.com/dochost/dochost/artifactstore"
	"github.com/dochost/dochost/buildpipeline/driver"
	"github.com/dochost/dochost/metadatastore/postgres"
)

// MetadataStore is the subset of [postgres.Store] the controller needs to
// run one build. Declared here, as a small capability interface, so the
// controller can be exercised against a fake without a database. The
// concrete *postgres.Store is the only production implementation.
type MetadataStore interface {
	InitializeCrate(ctx context.Context, name string) (int64, error)
	InitializeRelease(ctx context.Context, crateID int64, version string) (int64, error)
	InitializeBuild(ctx context.Context, releaseID int64, buildServer string) (string, error)
	GetSandboxOverride(ctx context.Context, crateName string) (*dochost.SandboxOverride, error)
	FinishBuild(ctx context.Context, buildID string, releaseID int64, result postgres.BuildResult) error
	FinishRelease(ctx context.Context, crateID, releaseID int64, meta postgres.ReleaseMetadata) error
	EnqueueInvalidation(ctx context.Context, crateName, distribution, pathPattern string) (int64, error)
	DeleteQueueEntry(ctx context.Context, id int64) error
}

var _ MetadataStore = (*postgres.Store)(nil)

// State is one stage of the per-build FSM.
type State int

// Defined states and their transitions.
const (
	// Terminal halts the FSM and returns the controller's accumulated result.
	Terminal State = iota
	// PrepareWorkspace ensures the toolchain and essential files are ready.
	// Transitions: FetchSource.
	PrepareWorkspace
	// FetchSource pulls the crate's source tarball into a scratch directory.
	// Transitions: ResolveConfig.
	FetchSource
	// ResolveConfig parses the crate-declared build metadata.
	// Transitions: BuildTargets.
	ResolveConfig
	// BuildTargets runs the sandboxed generator for the default target, then
	// every extra target if the default succeeded and the crate is a
	// library. Transitions: IngestArtifacts, RecordOutcome (on failure).
	BuildTargets
	// IngestArtifacts stores the documentation and source trees.
	// Transitions: RecordOutcome.
	IngestArtifacts
	// RecordOutcome writes the Build row, updates the Release, enqueues a
	// CDN invalidation, and resolves the QueueEntry. Transitions: Terminal.
	RecordOutcome
)

var stateToStateFunc = map[State]func(context.Context, *Controller) (State, error){
	PrepareWorkspace: prepareWorkspace,
	FetchSource:      fetchSource,
	ResolveConfig:    resolveConfig,
	BuildTargets:     buildTargets,
	IngestArtifacts:  ingestArtifacts,
	RecordOutcome:    recordOutcome,
}

var startState = PrepareWorkspace

// SourceFetcher retrieves a crate's published source into destDir.
type SourceFetcher interface {
	Fetch(ctx context.Context, registry, name, version, destDir string) error
}

// Workspace is what the controller needs from the build pipeline's
// persistent workspace: toolchain upkeep and scratch directories. See
// buildpipeline.Workspace for the concrete implementation; kept as an
// interface here so controller has no import-time dependency on its
// parent package.
type Workspace interface {
	// EnsureReady brings the toolchain up to date if the reinit interval
	// has elapsed, and (re-)ingests essential files if the toolchain
	// version changed. Returns the toolchain version now installed.
	EnsureReady(ctx context.Context) (toolchainVersion string, err error)
	// Scratch creates a fresh per-build scratch directory and returns it
	// along with a cleanup func the caller must run when done.
	Scratch(ctx context.Context) (dir string, cleanup func(), err error)
}

// ArtifactPutter is the subset of artifactstore.Store the controller uses.
type ArtifactPutter interface {
	PutTree(ctx context.Context, prefix, localDir string, archive bool) (files []string, compressionSet []artifactstore.CompressionID, err error)
	StoreOne(ctx context.Context, logicalPath string, data []byte) error
}

// Entry is the claimed work item the controller builds.
type Entry struct {
	QueueEntryID int64
	Name         string
	Version      string
	Registry     string
	Attempt      int32
	MaxAttempts  int32
}

// Deps are the controller's dependencies, analogous to an indexer.Opts: one
// struct shared across every build this pipeline instance runs.
type Deps struct {
	Meta         MetadataStore
	Artifacts    ArtifactPutter
	Sandbox      driver.Sandbox
	Source       SourceFetcher
	Workspace    Workspace
	BuildServer  string
	Distribution string // CDN distribution identifier for invalidation intents
	KeepScratch  bool
}

// Outcome is what Run reports about a completed build.
type Outcome int

// Defined outcomes.
const (
	OutcomeCompleted Outcome = iota
	OutcomeFailed
)

// Controller drives one build through the per-build FSM.
type Controller struct {
	*Deps

	entry Entry

	crateID, releaseID int64
	buildID            string

	scratchDir   string
	scratchDone  func()
	docDir       string
	toolchain    string
	cfg          driver.ConfigurationSet
	limits       driver.Limits
	library      bool

	documentedTargets []string
	sourceSize        int64
	docSize           int64
	archiveStorage    bool
	finished          bool

	logBuf  []byte
	logs    []targetLog
	outcome Outcome
	err     error
}

// targetLog is one sandbox invocation's captured output, kept per target so
// each can be stored under its own build-logs key.
type targetLog struct {
	target string
	text   string
}

// New constructs a Controller for one claimed entry.
func New(deps *Deps, entry Entry) *Controller {
	return &Controller{Deps: deps, entry: entry}
}

// Run executes the full per-build algorithm and reports its outcome.
func (c *Controller) Run(ctx context.Context) (Outcome, error) {
	var err error
	c.crateID, err = c.Meta.InitializeCrate(ctx, c.entry.Name)
	if err != nil {
		return OutcomeFailed, fmt.Errorf("controller: initialize crate: %w", err)
	}
	c.releaseID, err = c.Meta.InitializeRelease(ctx, c.crateID, c.entry.Version)
	if err != nil {
		return OutcomeFailed, fmt.Errorf("controller: initialize release: %w", err)
	}
	c.buildID, err = c.Meta.InitializeBuild(ctx, c.releaseID, c.BuildServer)
	if err != nil {
		return OutcomeFailed, fmt.Errorf("controller: initialize build: %w", err)
	}

	override, err := c.Meta.GetSandboxOverride(ctx, c.entry.Name)
	switch {
	case err == nil:
		c.limits = driver.ResolveLimits(override)
	case errors.Is(err, dochost.ErrNotFound):
		c.limits = driver.ResolveLimits(nil)
	default:
		return OutcomeFailed, fmt.Errorf("controller: get sandbox override: %w", err)
	}

	if !c.KeepScratch {
		defer func() {
			if c.scratchDone != nil {
				c.scratchDone()
			}
			if c.docDir != "" {
				os.RemoveAll(c.docDir)
			}
		}()
	}

	state := startState
	for state != Terminal {
		fn, ok := stateToStateFunc[state]
		if !ok {
			c.err = fmt.Errorf("controller: no stateFunc for state %d", state)
			state = Terminal
			break
		}
		next, err := fn(ctx, c)
		if err != nil {
			c.err = err
			state = Terminal
			break
		}
		state = next
	}
	if c.err != nil {
		c.outcome = OutcomeFailed
		c.finalizeAborted(ctx)
	}
	return c.outcome, c.err
}

// finalizeAborted closes out the in-progress Build row when the FSM stopped
// on an infrastructure error before reaching recordOutcome. The queue entry
// is left alone so the attempt counter governs retry. Best-effort: a failure
// here just means the rollup recompute happens on the next attempt instead.
func (c *Controller) finalizeAborted(ctx context.Context) {
	if c.finished || c.buildID == "" {
		return
	}
	if ctx.Err() != nil {
		// A canceled build still gets its failure row.
		var done context.CancelFunc
		ctx, done = context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
		defer done()
	}
	log := string(c.logBuf)
	if log != "" {
		log += "\n"
	}
	log += c.err.Error()
	_ = c.Meta.FinishBuild(ctx, c.buildID, c.releaseID, postgres.BuildResult{
		Status:           dochost.BuildFailure,
		ToolchainVersion: c.toolchain,
		BuilderVersion:   builderVersion,
		ErrorLog:         log,
	})
}
