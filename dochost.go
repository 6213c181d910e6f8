// Package dochost implements the core of a documentation-hosting platform
// for a package registry: it discovers newly published releases, builds
// their API documentation in a sandboxed toolchain, persists the resulting
// static assets, and serves them through a versioned, semver-aware HTTP
// surface with CDN-friendly caching.
//
// This package holds the domain types shared by every other package in the
// module. The subsystems themselves live in [buildpipeline], [artifactstore],
// [resolver], and [metadatastore/postgres].
package dochost

import (
	"strings"
	"time"

	"github.com/package-url/packageurl-go"
)

// RustdocStatus is the derived build state of a [Release].
type RustdocStatus string

// Defined rustdoc statuses.
const (
	StatusUnbuilt    RustdocStatus = "unbuilt"
	StatusInProgress RustdocStatus = "in-progress"
	StatusSuccess    RustdocStatus = "success"
	StatusFailure    RustdocStatus = "failure"
)

// NormalizeName canonicalizes a crate name: ASCII-lowercase with every
// underscore replaced by a hyphen.
//
// Two names that normalize to the same string are the same [Crate].
func NormalizeName(name string) string {
	b := []byte(strings.ToLower(name))
	for i, c := range b {
		if c == '_' {
			b[i] = '-'
		}
	}
	return string(b)
}

// Crate is a published package identity.
//
// Identity is [NormalizeName] applied to the registry's name for the crate.
// A Crate is created on first successful queue insertion. Deleting its
// Releases does not remove it; only an explicit crate delete
// (metadatastore/postgres.Store.DeleteCrate) does.
type Crate struct {
	ID   int64
	Name string
	// NormalizedName is NormalizeName(Name), stored so lookups can use a
	// plain equality index instead of a functional one at query time.
	NormalizedName string
	// LatestReleaseID is a cached derivation, recomputed any time a
	// mutation to Releases could change it: the highest-version Release
	// that is neither a pre-release nor yanked, else the highest non-yanked
	// Release, else the highest Release. Zero if the crate has no Release
	// with a parseable version.
	LatestReleaseID int64
}

// Release is a specific (crate, version) pair.
//
// (CrateID, Version) is unique. Version must parse as a full semver triple
// with optional pre-release and build metadata.
type Release struct {
	ID      int64
	CrateID int64
	Version string

	ReleaseTime time.Time
	Yanked      bool
	Status      RustdocStatus

	// Library reports whether this release produces a library target (and
	// therefore whether extra targets beyond DefaultTarget are built).
	Library bool
	License string

	DefaultTarget     string
	DocumentedTargets []string

	// ArchiveStorage reports whether this Release's rustdoc and source
	// trees are stored as a packed zip + sidecar index (true) or as
	// per-file blobs (false). See artifactstore.Store.PutTree.
	ArchiveStorage bool

	SourceSize int64

	Features     []string
	Dependencies []packageurl.PackageURL
	Description  string
	Readme       string
	Repository   string
}

// DocumentsTarget reports whether target is in DocumentedTargets.
func (r *Release) DocumentsTarget(target string) bool {
	for _, t := range r.DocumentedTargets {
		if t == target {
			return true
		}
	}
	return false
}

// BuildStatus is the per-attempt status of a [Build].
type BuildStatus string

// Defined build statuses.
const (
	BuildInProgress BuildStatus = "in-progress"
	BuildSuccess    BuildStatus = "success"
	BuildFailure    BuildStatus = "failure"
)

// Build records a single attempt to build a [Release].
//
// Builds are append-only except for finalization (Status, FinishedAt,
// DocumentationSize, ErrorLog). At most one in-progress Build exists per
// Release at a time, per builder.
type Build struct {
	ID              string // UUID, see metadatastore/postgres.
	ReleaseID       int64
	StartedAt       time.Time
	FinishedAt      time.Time // zero until finalized
	BuildServer     string
	ToolchainVersion string
	BuilderVersion  string
	Status          BuildStatus
	ErrorLog        string
	DocumentationSize int64
}

// QueueEntry is a pending or in-flight build request.
//
// (Name, Version) is unique. Attempt must stay below MaxAttempts; the
// drainer in [buildpipeline] enforces this.
type QueueEntry struct {
	ID            int64
	Name          string
	Version       string
	Priority      int32
	Attempt       int32
	LastAttempt   time.Time
	Registry      string
}

// PriorityRule maps a crate-name SQL LIKE pattern to an enqueue priority.
//
// The first rule (by precedence) whose Pattern matches a crate name supplies
// the priority used at enqueue time; if none match, priority 0 is used.
type PriorityRule struct {
	ID       int64
	Pattern  string
	Priority int32
}

// SandboxOverride holds per-crate resource caps for the documentation
// generator invocation. A zero field takes the platform default.
type SandboxOverride struct {
	CrateName     string
	MaxMemoryBytes int64
	MaxWallClock   time.Duration
	MaxTargets     int
}

// Owner is a registry account (user or team) associated with a Crate,
// upserted from the registry API.
type Owner struct {
	ID     int64
	Login  string
	Name   string
	Avatar string
}

// InvalidationIntent records a pending or in-flight CDN purge keyed by crate
// name (the crate's surrogate key, see resolver.CachePolicy).
type InvalidationIntent struct {
	ID           int64
	CrateName    string
	Distribution string
	PathPattern  string
	QueuedAt     time.Time
	SubmittedAt  time.Time // zero until submitted
	ExternalRef  string
}
