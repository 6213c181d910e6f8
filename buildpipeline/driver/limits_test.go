package driver

import (
	"testing"
	"time"

	"github.com/dochost/dochost"
)

func TestResolveLimitsNilOverride(t *testing.T) {
	got := ResolveLimits(nil)
	if got != DefaultLimits {
		t.Errorf("got %+v, want defaults %+v", got, DefaultLimits)
	}
}

func TestResolveLimitsPartialOverride(t *testing.T) {
	override := &dochost.SandboxOverride{
		CrateName:  "huge-crate",
		MaxTargets: 50,
	}
	got := ResolveLimits(override)

	if got.MaxTargets != 50 {
		t.Errorf("got MaxTargets %d, want 50", got.MaxTargets)
	}
	if got.MaxMemoryBytes != DefaultLimits.MaxMemoryBytes {
		t.Errorf("unset MaxMemoryBytes should fall through to default, got %d", got.MaxMemoryBytes)
	}
	if got.MaxWallClock != DefaultLimits.MaxWallClock {
		t.Errorf("unset MaxWallClock should fall through to default, got %s", got.MaxWallClock)
	}
}

func TestResolveLimitsFullOverride(t *testing.T) {
	override := &dochost.SandboxOverride{
		CrateName:      "huge-crate",
		MaxMemoryBytes: 8 << 30,
		MaxWallClock:   30 * time.Minute,
		MaxTargets:     20,
	}
	got := ResolveLimits(override)

	if got.MaxMemoryBytes != 8<<30 {
		t.Errorf("got MaxMemoryBytes %d", got.MaxMemoryBytes)
	}
	if got.MaxWallClock != 30*time.Minute {
		t.Errorf("got MaxWallClock %s", got.MaxWallClock)
	}
	if got.MaxTargets != 20 {
		t.Errorf("got MaxTargets %d", got.MaxTargets)
	}
	if got.Network != DefaultLimits.Network {
		t.Errorf("Network is not an overridable field, got %v", got.Network)
	}
}
