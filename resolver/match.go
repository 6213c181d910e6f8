package resolver

import (
	"context"

	"github.com/Masterminds/semver"

	"github.com/dochost/dochost"
	"github.com/dochost/dochost/metadatastore/postgres"
)

// MatchResult is the outcome of resolving a (name, version expression)
// pair against the Metadata Store.
type MatchResult struct {
	// Name is the name as stored (possibly different from the requested
	// name; see CorrectedName).
	Name string
	// CorrectedName is set when the requested name only matched after
	// normalizing underscores/hyphens; it carries the canonical stored
	// name so the caller can redirect.
	CorrectedName string
	// Requested is the expression as parsed from the URL.
	Requested VersionExpression
	Release   *dochost.Release
	// AllReleases holds every release of the crate, newest first, for
	// callers (crate-details, builds list) that need the full set after a
	// single match.
	AllReleases []*dochost.Release
}

// Corrected reports whether the match required a name correction.
func (m *MatchResult) Corrected() bool { return m.CorrectedName != "" }

// Match resolves name and expr against meta. It implements the match
// algorithm: an Exact expression first tries a literal version match
// (returned even if yanked or in-progress); any other expression is
// interpreted as a semver requirement and matched first against releases
// that are neither yanked nor in-progress, then (as a fallback) against
// releases that are merely non-yanked, with a special case returning the
// newest pre-release when the requirement is "*" and only pre-releases
// exist.
func Match(ctx context.Context, meta MetadataStore, name string, expr VersionExpression) (*MatchResult, error) {
	crate, err := meta.GetCrateByName(ctx, name)
	if err != nil {
		return nil, err
	}

	releases, err := meta.ListReleases(ctx, crate.ID)
	if err != nil {
		return nil, err
	}
	if len(releases) == 0 {
		return nil, &dochost.Error{Kind: dochost.ErrNotFound, Op: "Match", Message: name}
	}
	postgres.SortReleasesBySemver(releases)

	var corrected string
	if crate.Name != name {
		corrected = crate.Name
	}

	result := func(r *dochost.Release) *MatchResult {
		return &MatchResult{
			Name:          crate.Name,
			CorrectedName: corrected,
			Requested:     expr,
			Release:       r,
			AllReleases:   releases,
		}
	}

	if expr.Kind == Exact {
		for _, r := range releases {
			if r.Version == expr.Raw {
				return result(r), nil
			}
		}
		// Not a literal match; fall through and try it as a semver
		// requirement (a bare "1.2.3" is equivalent to a caret range).
		c, err := semver.NewConstraint("^" + expr.Raw)
		if err != nil {
			return nil, &dochost.Error{Kind: dochost.ErrNotFound, Op: "Match", Message: name + "@" + expr.Raw}
		}
		expr = VersionExpression{Kind: Semver, Raw: expr.Raw, Constraint: c}
	} else if expr.Kind == Latest {
		expr.Constraint, _ = semver.NewConstraint("*")
	}

	star := expr.Kind == Latest || isStar(expr)

	if r := semverMatch(releases, expr.Constraint, star, func(r *dochost.Release) bool {
		return r.Status != dochost.StatusInProgress && !r.Yanked
	}); r != nil {
		return result(r), nil
	}
	if r := semverMatch(releases, expr.Constraint, star, func(r *dochost.Release) bool {
		return !r.Yanked
	}); r != nil {
		return result(r), nil
	}

	return nil, &dochost.Error{Kind: dochost.ErrNotFound, Op: "Match", Message: name + "@" + expr.Raw}
}

// semverMatch returns the highest release (releases is already
// version-descending) satisfying constraint and filter. When star is true
// and no release satisfies constraint under filter, it falls back to the
// newest release satisfying filter alone: "*" does not match pre-releases,
// so an all-prerelease release set would otherwise match nothing.
func semverMatch(releases []*dochost.Release, constraint *semver.Constraints, star bool, filter func(*dochost.Release) bool) *dochost.Release {
	if constraint == nil {
		return nil
	}
	for _, r := range releases {
		if !filter(r) {
			continue
		}
		v, err := semver.NewVersion(r.Version)
		if err != nil {
			continue
		}
		if constraint.Check(v) {
			return r
		}
	}
	if !star {
		return nil
	}
	for _, r := range releases {
		if filter(r) {
			return r
		}
	}
	return nil
}
