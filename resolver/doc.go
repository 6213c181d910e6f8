// Package resolver implements the read path: it maps a (crate, version
// expression, path) tuple to a concrete release, canonicalizes the URL,
// selects the correct documented target, and serves artifacts with
// CDN-friendly cache directives.
//
// The match algorithm loads the crate by normalized name, tries an exact
// version match first, then falls back to interpreting the request as a
// semver range over non-yanked, non-in-progress releases, then
// non-yanked releases, with a special case for requirement "*" over an
// all-prerelease release set.
package resolver

import (
	"context"

	"github.com/dochost/dochost"
	"github.com/dochost/dochost/metadatastore/postgres"
)

// MetadataStore is the subset of metadatastore/postgres.Store the resolver
// reads from. A capability interface, not the concrete store, so the match
// algorithm and router can be tested against a fake.
type MetadataStore interface {
	GetCrateByName(ctx context.Context, name string) (*dochost.Crate, error)
	ListReleases(ctx context.Context, crateID int64) ([]*dochost.Release, error)
	ListBuilds(ctx context.Context, releaseID int64) ([]*dochost.Build, error)
	GetBuild(ctx context.Context, buildID string) (*dochost.Build, error)
}

var _ MetadataStore = (*postgres.Store)(nil)
