package driver

import (
	"time"

	"github.com/dochost/dochost"
)

// DefaultLimits are the sandbox caps applied when a crate has no
// [dochost.SandboxOverride].
var DefaultLimits = Limits{
	MaxMemoryBytes: 3 << 30, // 3 GiB
	MaxWallClock:   15 * time.Minute,
	MaxTargets:     10,
	Network:        NetworkRegistryOnly,
}

// ResolveLimits overlays a crate's SandboxOverride, if any, onto the
// platform defaults field by field.
func ResolveLimits(override *dochost.SandboxOverride) Limits {
	l := DefaultLimits
	if override == nil {
		return l
	}
	if override.MaxMemoryBytes > 0 {
		l.MaxMemoryBytes = override.MaxMemoryBytes
	}
	if override.MaxWallClock > 0 {
		l.MaxWallClock = override.MaxWallClock
	}
	if override.MaxTargets > 0 {
		l.MaxTargets = override.MaxTargets
	}
	return l
}
