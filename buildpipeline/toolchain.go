package buildpipeline

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
)

// ExecToolchainInstaller drives the toolchain's own installer (e.g. rustup)
// and compiles a throwaway crate through it to harvest rustdoc's shared
// static resources. The generator and package manager themselves are
// external collaborators; this type only shells out to
// whatever the operator configured.
type ExecToolchainInstaller struct {
	// UpdateCmd installs/updates the toolchain, e.g.
	// {"rustup", "update", "nightly"}.
	UpdateCmd []string
	// VersionCmd prints the installed toolchain's version string to
	// stdout, e.g. {"rustc", "+nightly", "--version"}.
	VersionCmd []string
	// DocCmd builds documentation for the dummy crate created in a scratch
	// dir, e.g. {"cargo", "doc", "--no-deps"}. Run with the scratch dir as
	// its working directory and "--out-dir", outDir appended.
	DocCmd []string
}

var _ ToolchainInstaller = (*ExecToolchainInstaller)(nil)

// Install implements [ToolchainInstaller].
func (t *ExecToolchainInstaller) Install(ctx context.Context) (string, error) {
	if len(t.UpdateCmd) > 0 {
		if err := runQuiet(ctx, "", t.UpdateCmd); err != nil {
			return "", fmt.Errorf("buildpipeline: update toolchain: %w", err)
		}
	}
	if len(t.VersionCmd) == 0 {
		return "unknown", nil
	}
	var out bytes.Buffer
	cmd := exec.CommandContext(ctx, t.VersionCmd[0], t.VersionCmd[1:]...)
	cmd.Stdout = &out
	cmd.Stderr = &out
	if err := cmd.Run(); err != nil {
		return "", fmt.Errorf("buildpipeline: toolchain version: %w: %s", err, out.String())
	}
	return strings.TrimSpace(out.String()), nil
}

// CompileDummy implements [ToolchainInstaller].
func (t *ExecToolchainInstaller) CompileDummy(ctx context.Context, _ string, outDir string) error {
	dir, err := os.MkdirTemp("", "dochost-dummy-")
	if err != nil {
		return err
	}
	defer os.RemoveAll(dir)

	if err := os.MkdirAll(filepath.Join(dir, "src"), 0o755); err != nil {
		return err
	}
	manifest := "[package]\nname = \"dochost-dummy\"\nversion = \"0.0.0\"\nedition = \"2021\"\n"
	if err := os.WriteFile(filepath.Join(dir, "Cargo.toml"), []byte(manifest), 0o644); err != nil {
		return err
	}
	if err := os.WriteFile(filepath.Join(dir, "src", "lib.rs"), []byte("//! dummy crate used to harvest rustdoc's shared static resources\n"), 0o644); err != nil {
		return err
	}

	if len(t.DocCmd) == 0 {
		return nil
	}
	args := append(append([]string{}, t.DocCmd[1:]...), "--out-dir", outDir)
	cmd := exec.CommandContext(ctx, t.DocCmd[0], args...)
	cmd.Dir = dir
	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("buildpipeline: compile dummy crate: %w: %s", err, out.String())
	}
	return nil
}

func runQuiet(ctx context.Context, dir string, argv []string) error {
	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	cmd.Dir = dir
	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("%w: %s", err, out.String())
	}
	return nil
}
