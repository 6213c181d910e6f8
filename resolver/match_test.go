package resolver

import (
	"context"
	"testing"

	"github.com/dochost/dochost"
)

type fakeMeta struct {
	crate    *dochost.Crate
	releases map[int64][]*dochost.Release
}

func (f *fakeMeta) GetCrateByName(_ context.Context, name string) (*dochost.Crate, error) {
	if f.crate == nil || f.crate.NormalizedName != dochost.NormalizeName(name) {
		return nil, &dochost.Error{Kind: dochost.ErrNotFound, Op: "GetCrateByName", Message: name}
	}
	return f.crate, nil
}

func (f *fakeMeta) ListReleases(_ context.Context, crateID int64) ([]*dochost.Release, error) {
	return f.releases[crateID], nil
}

func (f *fakeMeta) ListBuilds(context.Context, int64) ([]*dochost.Build, error) { return nil, nil }
func (f *fakeMeta) GetBuild(context.Context, string) (*dochost.Build, error)    { return nil, nil }

func release(version string, status dochost.RustdocStatus, yanked bool) *dochost.Release {
	return &dochost.Release{CrateID: 1, Version: version, Status: status, Yanked: yanked}
}

func newFake(crateName string, releases ...*dochost.Release) *fakeMeta {
	return &fakeMeta{
		crate:    &dochost.Crate{ID: 1, Name: crateName, NormalizedName: dochost.NormalizeName(crateName)},
		releases: map[int64][]*dochost.Release{1: releases},
	}
}

func mustMatch(t *testing.T, meta MetadataStore, name, version string) *MatchResult {
	t.Helper()
	m, err := Match(context.Background(), meta, name, ParseVersionExpression(version))
	if err != nil {
		t.Fatalf("Match(%q, %q): unexpected error: %v", name, version, err)
	}
	return m
}

func TestMatchExact(t *testing.T) {
	meta := newFake("foo",
		release("0.1.0", dochost.StatusSuccess, false),
		release("0.2.0", dochost.StatusSuccess, false),
		release("0.3.0-pre", dochost.StatusSuccess, false),
	)

	if m := mustMatch(t, meta, "foo", "0.2.0"); m.Release.Version != "0.2.0" {
		t.Errorf("got %s, want 0.2.0", m.Release.Version)
	}
	if m := mustMatch(t, meta, "foo", "0.3.0-pre"); m.Release.Version != "0.3.0-pre" {
		t.Errorf("got %s, want 0.3.0-pre", m.Release.Version)
	}
}

func TestMatchSemverFallback(t *testing.T) {
	meta := newFake("foo",
		release("0.1.0", dochost.StatusSuccess, false),
		release("0.2.0", dochost.StatusSuccess, false),
		release("0.3.0-pre", dochost.StatusSuccess, false),
	)
	if m := mustMatch(t, meta, "foo", "*"); m.Release.Version != "0.2.0" {
		t.Errorf("got %s, want 0.2.0", m.Release.Version)
	}

	onlyPre := newFake("foo", release("0.3.0-pre", dochost.StatusSuccess, false))
	if m := mustMatch(t, onlyPre, "foo", "*"); m.Release.Version != "0.3.0-pre" {
		t.Errorf("got %s, want 0.3.0-pre (only-prerelease fallback)", m.Release.Version)
	}
}

func TestMatchYankedExclusion(t *testing.T) {
	meta := newFake("foo",
		release("0.2.0", dochost.StatusSuccess, false),
		release("0.3.0", dochost.StatusSuccess, true),
	)
	if m := mustMatch(t, meta, "foo", "*"); m.Release.Version != "0.2.0" {
		t.Errorf("got %s, want 0.2.0 (yanked 0.3.0 excluded)", m.Release.Version)
	}
	if m := mustMatch(t, meta, "foo", "0.3.0"); m.Release.Version != "0.3.0" {
		t.Errorf("exact match must still find yanked release, got %s", m.Release.Version)
	}
}

func TestMatchInProgressSkippedNormally(t *testing.T) {
	meta := newFake("foo",
		release("1.0.0", dochost.StatusSuccess, false),
		release("1.1.0", dochost.StatusInProgress, false),
	)
	if m := mustMatch(t, meta, "foo", "*"); m.Release.Version != "1.0.0" {
		t.Errorf("got %s, want 1.0.0 (in-progress skipped)", m.Release.Version)
	}
	if m := mustMatch(t, meta, "foo", "=1.1.0"); m.Release.Version != "1.1.0" {
		t.Errorf("explicit exact-range request should still reach the in-progress release, got %s", m.Release.Version)
	}
}

func TestMatchAllYankedIsVersionNotFound(t *testing.T) {
	meta := newFake("foo", release("0.1.0", dochost.StatusSuccess, true))
	if _, err := Match(context.Background(), meta, "foo", ParseVersionExpression("*")); err == nil {
		t.Fatal("expected error when every release is yanked")
	}
}

func TestMatchNameCorrection(t *testing.T) {
	meta := newFake("foo-bar", release("1.0.0", dochost.StatusSuccess, false))
	m := mustMatch(t, meta, "foo_bar", "latest")
	if !m.Corrected() {
		t.Fatal("expected a name correction for foo_bar -> foo-bar")
	}
	if m.CorrectedName != "foo-bar" {
		t.Errorf("got corrected name %q, want foo-bar", m.CorrectedName)
	}
}

func TestCanonicalIdempotent(t *testing.T) {
	meta := newFake("foo",
		release("0.1.0", dochost.StatusSuccess, false),
		release("0.2.0", dochost.StatusSuccess, false),
	)
	m := mustMatch(t, meta, "foo", "^0.1")
	canon := m.Canonical()
	if canon.Kind != Exact || canon.Raw != m.Release.Version {
		t.Fatalf("canonical form of a range should be Exact(matched version), got %+v", canon)
	}

	// Resolving the canonical form again must be a no-op.
	m2 := mustMatch(t, meta, "foo", canon.Raw)
	if m2.Release.Version != m.Release.Version {
		t.Fatalf("resolving canonical form changed the match: %s -> %s", m.Release.Version, m2.Release.Version)
	}
	if m2.Canonical() != (VersionExpression{Kind: Exact, Raw: canon.Raw}) {
		t.Fatalf("canonical form is not a fixed point: %+v", m2.Canonical())
	}
}

func TestCanonicalStarBecomesLatest(t *testing.T) {
	meta := newFake("foo", release("1.0.0", dochost.StatusSuccess, false))
	m := mustMatch(t, meta, "foo", "*")
	if canon := m.Canonical(); canon.Kind != Latest {
		t.Fatalf("canonical form of * should be Latest, got %+v", canon)
	}
}
