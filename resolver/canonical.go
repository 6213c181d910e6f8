package resolver

import "github.com/dochost/dochost"

// Canonical computes the canonical version expression for a match: Exact
// and Latest are preserved; a Semver requirement equal to "*" becomes
// Latest; any other Semver requirement becomes Exact(matched.version).
//
// This mirrors into_canonical_req_version: the caller compares the result
// against m.Requested, and redirects when they differ rather than
// rendering, per the idempotence invariant (resolving a canonical
// expression must yield itself).
func (m *MatchResult) Canonical() VersionExpression {
	switch m.Requested.Kind {
	case Exact:
		return m.Requested
	case Latest:
		// "" and "newest" spellings canonicalize to "latest".
		return VersionExpression{Kind: Latest, Raw: "latest"}
	default: // Semver
		if isStar(m.Requested) {
			return VersionExpression{Kind: Latest, Raw: "latest"}
		}
		return VersionExpression{Kind: Exact, Raw: m.Release.Version}
	}
}

// IsCanonical reports whether the requested expression already equals its
// canonical form (same kind and raw text).
func (m *MatchResult) IsCanonical() bool {
	c := m.Canonical()
	return c.Kind == m.Requested.Kind && c.Raw == m.Requested.Raw
}

// CanonicalTarget resolves the documented target to serve, and reports
// whether the URL should be redirected because the caller asked for the
// default target explicitly: the default target is always served at the
// root, so a request naming it is redirected to the URL with the triple
// removed.
func CanonicalTarget(release *dochost.Release, requested string) (target string, isDefault bool, ok bool) {
	if requested == "" {
		return release.DefaultTarget, false, true
	}
	if !release.DocumentsTarget(requested) {
		return "", false, false
	}
	return requested, requested == release.DefaultTarget, true
}
