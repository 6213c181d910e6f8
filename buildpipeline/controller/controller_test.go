package controller

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/dochost/dochost"
	"github.com/dochost/dochost/artifactstore"
	"github.com/dochost/dochost/buildpipeline/driver"
	"github.com/dochost/dochost/metadatastore/postgres"
)

// fakeMeta is a MetadataStore in memory, enough to drive the FSM without a
// database.
type fakeMeta struct {
	sandboxOverride *dochost.SandboxOverride

	finishedBuild    *postgres.BuildResult
	finishedRelease  *postgres.ReleaseMetadata
	invalidations    []string
	deletedQueueIDs  []int64
}

func (f *fakeMeta) InitializeCrate(ctx context.Context, name string) (int64, error) { return 1, nil }
func (f *fakeMeta) InitializeRelease(ctx context.Context, crateID int64, version string) (int64, error) {
	return 2, nil
}
func (f *fakeMeta) InitializeBuild(ctx context.Context, releaseID int64, buildServer string) (string, error) {
	return "build-1", nil
}
func (f *fakeMeta) GetSandboxOverride(ctx context.Context, crateName string) (*dochost.SandboxOverride, error) {
	if f.sandboxOverride == nil {
		return nil, &dochost.Error{Kind: dochost.ErrNotFound}
	}
	return f.sandboxOverride, nil
}
func (f *fakeMeta) FinishBuild(ctx context.Context, buildID string, releaseID int64, result postgres.BuildResult) error {
	f.finishedBuild = &result
	return nil
}
func (f *fakeMeta) FinishRelease(ctx context.Context, crateID, releaseID int64, meta postgres.ReleaseMetadata) error {
	f.finishedRelease = &meta
	return nil
}
func (f *fakeMeta) EnqueueInvalidation(ctx context.Context, crateName, distribution, pathPattern string) (int64, error) {
	f.invalidations = append(f.invalidations, pathPattern)
	return int64(len(f.invalidations)), nil
}
func (f *fakeMeta) DeleteQueueEntry(ctx context.Context, id int64) error {
	f.deletedQueueIDs = append(f.deletedQueueIDs, id)
	return nil
}

var _ MetadataStore = (*fakeMeta)(nil)

// fakeSource writes a minimal crate layout into destDir: a Cargo.toml and a
// src/lib.rs, so resolveConfig detects a library.
type fakeSource struct {
	cargoToml string
}

func (f fakeSource) Fetch(_ context.Context, _, _, _, destDir string) error {
	if err := os.MkdirAll(filepath.Join(destDir, "src"), 0o755); err != nil {
		return err
	}
	if err := os.WriteFile(filepath.Join(destDir, "src", "lib.rs"), []byte("// empty\n"), 0o644); err != nil {
		return err
	}
	toml := f.cargoToml
	if toml == "" {
		toml = "[package]\nname = \"demo\"\nversion = \"0.1.0\"\n"
	}
	return os.WriteFile(filepath.Join(destDir, "Cargo.toml"), []byte(toml), 0o644)
}

// fakeWorkspace hands out real temp directories so the controller's
// filesystem-touching states (resolveConfig, buildTargets, ingestArtifacts)
// run against a real, isolated directory tree.
type fakeWorkspace struct {
	root    string
	version string
}

func newFakeWorkspace(t *testing.T) *fakeWorkspace {
	return &fakeWorkspace{root: t.TempDir(), version: "toolchain-1"}
}

func (w *fakeWorkspace) EnsureReady(_ context.Context) (string, error) { return w.version, nil }
func (w *fakeWorkspace) Scratch(_ context.Context) (string, func(), error) {
	dir, err := os.MkdirTemp(w.root, "scratch-")
	if err != nil {
		return "", nil, err
	}
	return dir, func() { os.RemoveAll(dir) }, nil
}

// fakeSandbox records every request it was asked to run and returns a
// per-target canned outcome, defaulting to success.
type fakeSandbox struct {
	outcomes map[string]driver.Outcome
	requests []driver.RunRequest
}

func (s *fakeSandbox) Run(_ context.Context, req driver.RunRequest) (*driver.RunResult, error) {
	s.requests = append(s.requests, req)
	out := driver.OutcomeSuccess
	if s.outcomes != nil {
		if o, ok := s.outcomes[req.Target]; ok {
			out = o
		}
	}
	// Simulate the generator writing some output so ingest has files to
	// pack, the way a real rustdoc invocation would.
	if out == driver.OutcomeSuccess {
		if err := os.MkdirAll(req.OutputDir, 0o755); err != nil {
			return nil, err
		}
		if err := os.WriteFile(filepath.Join(req.OutputDir, req.Target+".html"), []byte("<html></html>"), 0o644); err != nil {
			return nil, err
		}
	}
	return &driver.RunResult{Outcome: out, Log: "built " + req.Target}, nil
}

// fakeArtifacts records every PutTree/StoreOne call's arguments without an
// Artifact Store backend.
type fakeArtifacts struct {
	puts []fakePut
}

type fakePut struct {
	prefix  string
	dir     string
	archive bool
	files   []string
}

func (a *fakeArtifacts) PutTree(_ context.Context, prefix, localDir string, archive bool) ([]string, []artifactstore.CompressionID, error) {
	var files []string
	entries, err := os.ReadDir(localDir)
	if err != nil {
		return nil, nil, err
	}
	var walk func(string, string) error
	walk = func(dir, rel string) error {
		ents, err := os.ReadDir(dir)
		if err != nil {
			return err
		}
		for _, e := range ents {
			p := filepath.Join(rel, e.Name())
			if e.IsDir() {
				if err := walk(filepath.Join(dir, e.Name()), p); err != nil {
					return err
				}
				continue
			}
			files = append(files, p)
		}
		return nil
	}
	_ = entries
	if err := walk(localDir, ""); err != nil {
		return nil, nil, err
	}
	a.puts = append(a.puts, fakePut{prefix: prefix, dir: localDir, archive: archive, files: files})
	return files, []artifactstore.CompressionID{artifactstore.Stored}, nil
}

func (a *fakeArtifacts) StoreOne(_ context.Context, logicalPath string, data []byte) error {
	return nil
}

func newTestDeps(t *testing.T) (*Deps, *fakeMeta, *fakeArtifacts, *fakeSandbox) {
	meta := &fakeMeta{}
	arts := &fakeArtifacts{}
	sandbox := &fakeSandbox{}
	deps := &Deps{
		Meta:         meta,
		Artifacts:    arts,
		Sandbox:      sandbox,
		Source:       fakeSource{},
		Workspace:    newFakeWorkspace(t),
		BuildServer:  "test-builder",
		Distribution: "dist-1",
	}
	return deps, meta, arts, sandbox
}

func TestControllerRunSuccess(t *testing.T) {
	deps, meta, arts, sandbox := newTestDeps(t)
	entry := Entry{QueueEntryID: 42, Name: "Demo_Crate", Version: "0.1.0", Attempt: 0, MaxAttempts: 5}

	c := New(deps, entry)
	outcome, err := c.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if outcome != OutcomeCompleted {
		t.Fatalf("outcome = %v, want OutcomeCompleted", outcome)
	}

	if len(sandbox.requests) != 1 {
		t.Fatalf("sandbox invoked %d times, want 1 (no extra targets declared)", len(sandbox.requests))
	}
	if meta.finishedBuild == nil || meta.finishedBuild.Status != dochost.BuildSuccess {
		t.Fatalf("finished build = %+v, want status success", meta.finishedBuild)
	}
	if meta.finishedRelease == nil || meta.finishedRelease.Status != dochost.StatusSuccess {
		t.Fatalf("finished release = %+v, want status success", meta.finishedRelease)
	}
	if !meta.finishedRelease.Library {
		t.Fatal("finished release should be marked as a library (src/lib.rs present)")
	}
	wantTargets := []string{platformDefaultTarget}
	if diff := cmp.Diff(wantTargets, meta.finishedRelease.DocumentedTargets); diff != "" {
		t.Fatalf("documented targets mismatch (-want +got):\n%s", diff)
	}
	if len(meta.invalidations) != 1 || meta.invalidations[0] != "/demo-crate/*" {
		t.Fatalf("invalidations = %v, want exactly one for the normalized name", meta.invalidations)
	}
	if len(meta.deletedQueueIDs) != 1 || meta.deletedQueueIDs[0] != 42 {
		t.Fatalf("deleted queue ids = %v, want [42]", meta.deletedQueueIDs)
	}

	// Exactly two PutTree calls: documentation tree, then source tree. The
	// source tree must not contain the documentation output -- this is the
	// bug ingestArtifacts used to have when doc output was nested under the
	// fetched source scratch directory instead of a sibling directory.
	if len(arts.puts) != 2 {
		t.Fatalf("PutTree called %d times, want 2", len(arts.puts))
	}
	docPut, srcPut := arts.puts[0], arts.puts[1]
	if docPut.prefix != "rustdoc/demo-crate/0.1.0" {
		t.Fatalf("doc prefix = %q", docPut.prefix)
	}
	if srcPut.prefix != "sources/demo-crate/0.1.0" {
		t.Fatalf("source prefix = %q", srcPut.prefix)
	}
	for _, f := range srcPut.files {
		if f == filepath.Join(platformDefaultTarget+".html") || filepath.Base(f) == platformDefaultTarget+".html" {
			t.Fatalf("source tree ingest picked up documentation output: %v", srcPut.files)
		}
	}
}

func TestControllerRunBuildFailure(t *testing.T) {
	deps, meta, arts, sandbox := newTestDeps(t)
	sandbox.outcomes = map[string]driver.Outcome{platformDefaultTarget: driver.OutcomeBuildFailure}
	entry := Entry{QueueEntryID: 7, Name: "demo", Version: "0.2.0", Attempt: 0, MaxAttempts: 5}

	c := New(deps, entry)
	outcome, err := c.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if outcome != OutcomeFailed {
		t.Fatalf("outcome = %v, want OutcomeFailed", outcome)
	}
	if meta.finishedBuild == nil || meta.finishedBuild.Status != dochost.BuildFailure {
		t.Fatalf("finished build = %+v, want status failure", meta.finishedBuild)
	}
	if len(arts.puts) != 0 {
		t.Fatalf("artifacts should not be ingested on a failed build, got %d PutTree calls", len(arts.puts))
	}
	// Attempt 0 of 5: the entry still has attempts left, so it stays queued.
	if len(meta.deletedQueueIDs) != 0 {
		t.Fatalf("queue entry should remain for retry, got deletions %v", meta.deletedQueueIDs)
	}
}

func TestControllerRunAttemptExhaustion(t *testing.T) {
	deps, meta, _, sandbox := newTestDeps(t)
	sandbox.outcomes = map[string]driver.Outcome{platformDefaultTarget: driver.OutcomeBuildFailure}
	// Attempt counts this run, the way ClaimNext hands entries out: 5 of 5
	// means this was the final permitted attempt.
	entry := Entry{QueueEntryID: 9, Name: "demo", Version: "0.2.0", Attempt: 5, MaxAttempts: 5}

	c := New(deps, entry)
	outcome, err := c.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if outcome != OutcomeFailed {
		t.Fatalf("outcome = %v, want OutcomeFailed", outcome)
	}
	if len(meta.deletedQueueIDs) != 1 || meta.deletedQueueIDs[0] != 9 {
		t.Fatalf("deleted queue ids = %v, want [9] after attempt exhaustion", meta.deletedQueueIDs)
	}
}

func TestControllerRunSandboxInfraError(t *testing.T) {
	deps, meta, arts, _ := newTestDeps(t)
	deps.Sandbox = erroringSandbox{}
	entry := Entry{QueueEntryID: 1, Name: "demo", Version: "0.1.0", MaxAttempts: 5}

	c := New(deps, entry)
	outcome, err := c.Run(context.Background())
	if err == nil {
		t.Fatal("expected an error from a sandbox infrastructure failure")
	}
	if outcome != OutcomeFailed {
		t.Fatalf("outcome = %v, want OutcomeFailed", outcome)
	}
	// An infra error aborts the FSM before RecordOutcome, but the opened
	// Build row must still be closed out as a failure.
	if meta.finishedBuild == nil || meta.finishedBuild.Status != dochost.BuildFailure {
		t.Fatalf("finished build = %+v, want an aborted-build failure row", meta.finishedBuild)
	}
	if len(arts.puts) != 0 {
		t.Fatal("no artifacts should be ingested on a sandbox infra error")
	}
	// The queue entry is left for the attempt counter to govern retry.
	if len(meta.deletedQueueIDs) != 0 {
		t.Fatalf("queue entry should remain for retry, got deletions %v", meta.deletedQueueIDs)
	}
}

type erroringSandbox struct{}

func (erroringSandbox) Run(context.Context, driver.RunRequest) (*driver.RunResult, error) {
	return nil, errors.New("exec: sandbox unavailable")
}

func TestControllerSandboxOverrideAppliedToLimits(t *testing.T) {
	deps, meta, _, sandbox := newTestDeps(t)
	meta.sandboxOverride = &dochost.SandboxOverride{CrateName: "demo", MaxTargets: 1}
	entry := Entry{QueueEntryID: 1, Name: "demo", Version: "0.1.0", MaxAttempts: 5}

	c := New(deps, entry)
	if _, err := c.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(sandbox.requests) == 0 {
		t.Fatal("expected at least one sandbox request")
	}
	if sandbox.requests[0].Limits.MaxTargets != 1 {
		t.Fatalf("limits.MaxTargets = %d, want override value 1", sandbox.requests[0].Limits.MaxTargets)
	}
}
