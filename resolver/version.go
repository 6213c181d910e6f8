package resolver

import (
	"strings"

	"github.com/Masterminds/semver"
)

// ExpressionKind is the closed set of shapes a version expression in a URL
// path segment can take.
type ExpressionKind int

const (
	// Latest matches the literal "latest", "newest", or an empty segment.
	Latest ExpressionKind = iota
	// Semver matches any other well-formed range, including "*".
	Semver
	// Exact matches a full X.Y.Z[-pre][+meta].
	Exact
)

func (k ExpressionKind) String() string {
	switch k {
	case Latest:
		return "latest"
	case Semver:
		return "semver"
	case Exact:
		return "exact"
	default:
		return "unknown"
	}
}

// VersionExpression is the parsed form of the version segment of a crate
// URL: one of Latest, a semver range, or an exact version string.
type VersionExpression struct {
	Kind ExpressionKind
	// Raw is the original, unparsed text (used for rendering the
	// expression back into a URL when it is already canonical).
	Raw string
	// Constraint is populated for Kind == Semver.
	Constraint *semver.Constraints
}

// ParseVersionExpression classifies a URL path segment. An empty segment,
// "latest", or "newest" parse as Latest. Anything that parses as a full
// semver version (no operators, no wildcards) parses as Exact. Everything
// else is attempted as a semver range; a range that fails to parse is still
// returned as Semver with a nil Constraint, and callers must treat that as
// a bad request.
func ParseVersionExpression(seg string) VersionExpression {
	switch seg {
	case "", "latest", "newest":
		// Raw keeps the original spelling so the router can detect that
		// "" and "newest" need a redirect to the canonical "latest".
		return VersionExpression{Kind: Latest, Raw: seg}
	}
	if isExactVersion(seg) {
		return VersionExpression{Kind: Exact, Raw: seg}
	}
	c, err := semver.NewConstraint(seg)
	if err != nil {
		return VersionExpression{Kind: Semver, Raw: seg}
	}
	return VersionExpression{Kind: Semver, Raw: seg, Constraint: c}
}

// isExactVersion reports whether seg parses as a single concrete semver
// version rather than a range: no comparison operators, and a full X.Y.Z
// triple (a bare "1.2" is a range even though it parses as a version).
func isExactVersion(seg string) bool {
	if strings.ContainsAny(seg, "<>=^~*,| ") {
		return false
	}
	core := seg
	if i := strings.IndexAny(core, "-+"); i >= 0 {
		core = core[:i]
	}
	if strings.Count(core, ".") != 2 {
		return false
	}
	_, err := semver.NewVersion(seg)
	return err == nil
}

// isStar reports whether expr is the semver requirement equivalent to "*":
// the literal star, or an unparsed/empty constraint that means "any".
func isStar(expr VersionExpression) bool {
	return expr.Kind == Semver && (expr.Raw == "*" || expr.Raw == "")
}
