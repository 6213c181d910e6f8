package buildpipeline

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/dochost/dochost/artifactstore"
)

// DefaultReinitInterval is how often [Workspace.EnsureReady] refreshes the
// toolchain and purges accumulated scratch space when no interval is
// configured.
const DefaultReinitInterval = 24 * time.Hour

// scratchPrefix names every per-build scratch directory this package
// creates, so a crashed process's leftovers can be recognized and purged on
// the next startup or reinit.
const scratchPrefix = "scratch-"

// panicSentinel is the file [Pipeline.Startup] checks for: if present, a
// previous process's drainer panicked mid-build and the queue should come
// up locked.
const panicSentinel = "panic.sentinel"

// ToolchainInstaller installs and reports the documentation toolchain the
// sandboxed generator runs under, and compiles a throwaway crate to harvest
// the static resources (style sheets, fonts) every rustdoc output tree
// shares. Installing and invoking the actual toolchain (cargo/rustup/
// rustdoc) is an external collaborator; this interface is the seam.
type ToolchainInstaller interface {
	// Install brings the toolchain up to date and reports its version
	// string.
	Install(ctx context.Context) (version string, err error)
	// CompileDummy builds a minimal crate and writes whatever static
	// resources its rustdoc output carries into outDir.
	CompileDummy(ctx context.Context, toolchainVersion, outDir string) error
}

// Workspace is the Build Pipeline's persistent on-disk directory: it
// caches toolchain and
// dependency artifacts between builds and hands out fresh per-build
// scratch directories. One Workspace is owned by exactly one builder
// process; sharing a root across builders is unsupported.
type Workspace struct {
	root       string
	installer  ToolchainInstaller
	artifacts  *artifactstore.Store
	reinitEvery time.Duration

	mu         sync.Mutex
	toolchain  string
	lastReinit time.Time
	essentialsDone map[string]bool
}

// NewWorkspace roots a Workspace at dir, creating it if necessary.
func NewWorkspace(dir string, installer ToolchainInstaller, artifacts *artifactstore.Store, reinitEvery time.Duration) (*Workspace, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("buildpipeline: create workspace root: %w", err)
	}
	if reinitEvery == 0 {
		reinitEvery = DefaultReinitInterval
	}
	return &Workspace{
		root:           dir,
		installer:      installer,
		artifacts:      artifacts,
		reinitEvery:    reinitEvery,
		essentialsDone: make(map[string]bool),
	}, nil
}

// EnsureReady brings the toolchain up to date if the reinit interval has
// elapsed since the last check, then ensures essential files have been
// ingested for whatever toolchain version is now current. Implements
// [controller.Workspace].
func (w *Workspace) EnsureReady(ctx context.Context) (string, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	stale := w.lastReinit.IsZero() || time.Since(w.lastReinit) > w.reinitEvery
	if stale {
		if err := w.purgeStaleLocked(); err != nil {
			slog.WarnContext(ctx, "workspace: purge stale scratch dirs", "reason", err)
		}
		version, err := w.installer.Install(ctx)
		if err != nil {
			return "", fmt.Errorf("buildpipeline: install toolchain: %w", err)
		}
		w.toolchain = version
		w.lastReinit = time.Now()
	}

	if !w.essentialsDone[w.toolchain] {
		if err := w.ensureEssentialFilesLocked(ctx, w.toolchain); err != nil {
			return "", err
		}
		w.essentialsDone[w.toolchain] = true
	}
	return w.toolchain, nil
}

// EnsureEssentialFiles compiles a dummy crate for toolchainVersion and
// ingests its static resources into the Artifact Store under a
// toolchain-suffixed key, unless that toolchain version's essentials were
// already ingested by this Workspace.
func (w *Workspace) EnsureEssentialFiles(ctx context.Context, toolchainVersion string) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.essentialsDone[toolchainVersion] {
		return nil
	}
	if err := w.ensureEssentialFilesLocked(ctx, toolchainVersion); err != nil {
		return err
	}
	w.essentialsDone[toolchainVersion] = true
	return nil
}

func (w *Workspace) ensureEssentialFilesLocked(ctx context.Context, toolchainVersion string) error {
	prefix := "rustdoc-essential/" + toolchainVersion
	exists, err := w.artifacts.Exists(ctx, prefix)
	if err != nil {
		return fmt.Errorf("buildpipeline: check essential files: %w", err)
	}
	if exists {
		return nil
	}

	dummyOut, err := os.MkdirTemp(w.root, "dummy-")
	if err != nil {
		return fmt.Errorf("buildpipeline: dummy crate scratch dir: %w", err)
	}
	defer os.RemoveAll(dummyOut)

	if err := w.installer.CompileDummy(ctx, toolchainVersion, dummyOut); err != nil {
		return fmt.Errorf("buildpipeline: compile dummy crate: %w", err)
	}
	if _, _, err := w.artifacts.PutTree(ctx, prefix, dummyOut, false); err != nil {
		return fmt.Errorf("buildpipeline: ingest essential files: %w", err)
	}
	slog.InfoContext(ctx, "ingested toolchain essential files", "toolchain", toolchainVersion)
	return nil
}

// Scratch creates a fresh per-build scratch directory. Implements
// [controller.Workspace].
func (w *Workspace) Scratch(_ context.Context) (dir string, cleanup func(), err error) {
	dir, err = os.MkdirTemp(w.root, scratchPrefix)
	if err != nil {
		return "", nil, fmt.Errorf("buildpipeline: create scratch dir: %w", err)
	}
	return dir, func() { os.RemoveAll(dir) }, nil
}

// purgeStaleLocked removes every scratch-* directory under the workspace
// root. Called both periodically (on reinit) and once at process startup.
func (w *Workspace) purgeStaleLocked() error {
	ents, err := os.ReadDir(w.root)
	if err != nil {
		return err
	}
	for _, e := range ents {
		if !e.IsDir() {
			continue
		}
		name := e.Name()
		if len(name) >= len(scratchPrefix) && name[:len(scratchPrefix)] == scratchPrefix {
			if err := os.RemoveAll(filepath.Join(w.root, name)); err != nil {
				return err
			}
		}
	}
	return nil
}

// PurgeStale is the exported entry point for startup-time cleanup, before
// any build has set w.toolchain. It takes the workspace lock itself.
func (w *Workspace) PurgeStale() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.purgeStaleLocked()
}

// writeSentinel records that a drainer panic happened, with its message as
// the file body for the operator.
func (w *Workspace) writeSentinel(msg string) error {
	return os.WriteFile(filepath.Join(w.root, panicSentinel), []byte(msg+"\n"), 0o644)
}

// Startup performs the pipeline's startup reinitialization and
// reconciliation: purge stale scratch directories,
// lock the queue if a previous process panicked mid-build, and verify the
// toolchain is installed.
func (p *Pipeline) Startup(ctx context.Context) error {
	if err := p.Workspace.PurgeStale(); err != nil {
		return fmt.Errorf("buildpipeline: startup purge: %w", err)
	}

	sentinel := filepath.Join(p.Workspace.root, panicSentinel)
	if _, err := os.Stat(sentinel); err == nil {
		slog.WarnContext(ctx, "panic sentinel present; starting locked")
		if err := p.Meta.LockPipeline(ctx, "startup-panic-sentinel"); err != nil {
			return fmt.Errorf("buildpipeline: lock after panic sentinel: %w", err)
		}
		if err := os.Remove(sentinel); err != nil {
			slog.WarnContext(ctx, "failed to remove panic sentinel", "reason", err)
		}
	}

	if _, err := p.Workspace.EnsureReady(ctx); err != nil {
		return fmt.Errorf("buildpipeline: verify toolchain: %w", err)
	}
	return nil
}

// copyTree recursively copies src onto dst, creating dst if necessary. Used
// by [Pipeline.BuildLocal] to stage an already-present source tree into a
// fresh scratch directory the same way a registry fetch would.
func copyTree(src, dst string) error {
	return filepath.Walk(src, func(p string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(src, p)
		if err != nil {
			return err
		}
		target := filepath.Join(dst, rel)
		if info.IsDir() {
			return os.MkdirAll(target, 0o755)
		}
		in, err := os.Open(p)
		if err != nil {
			return err
		}
		defer in.Close()
		if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
			return err
		}
		out, err := os.Create(target)
		if err != nil {
			return err
		}
		defer out.Close()
		_, err = io.Copy(out, in)
		return err
	})
}
