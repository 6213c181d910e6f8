package buildpipeline

import (
	"os"
	"path/filepath"
	"testing"
)

func TestExecToolchainInstallerInstallTrimsVersionOutput(t *testing.T) {
	inst := &ExecToolchainInstaller{
		VersionCmd: []string{"echo", "  rustc 1.80.0-nightly (abcdef 2024-05-01)  "},
	}
	version, err := inst.Install(t.Context())
	if err != nil {
		t.Fatalf("Install: %v", err)
	}
	if version != "rustc 1.80.0-nightly (abcdef 2024-05-01)" {
		t.Fatalf("version = %q, want trimmed output", version)
	}
}

func TestExecToolchainInstallerInstallNoVersionCmd(t *testing.T) {
	inst := &ExecToolchainInstaller{}
	version, err := inst.Install(t.Context())
	if err != nil {
		t.Fatalf("Install: %v", err)
	}
	if version != "unknown" {
		t.Fatalf("version = %q, want %q when no VersionCmd is configured", version, "unknown")
	}
}

func TestExecToolchainInstallerInstallRunsUpdateFirst(t *testing.T) {
	marker := filepath.Join(t.TempDir(), "ran")
	inst := &ExecToolchainInstaller{
		UpdateCmd: []string{"touch", marker},
		// cat fails unless UpdateCmd already created the marker.
		VersionCmd: []string{"cat", marker},
	}
	if _, err := inst.Install(t.Context()); err != nil {
		t.Fatalf("Install: %v", err)
	}
	if _, err := os.Stat(marker); err != nil {
		t.Fatalf("UpdateCmd should have run before VersionCmd: %v", err)
	}
}

func TestExecToolchainInstallerInstallUpdateFailure(t *testing.T) {
	inst := &ExecToolchainInstaller{
		UpdateCmd:  []string{"false"},
		VersionCmd: []string{"echo", "1.0.0"},
	}
	if _, err := inst.Install(t.Context()); err == nil {
		t.Fatal("expected an error when UpdateCmd fails")
	}
}

func TestExecToolchainInstallerCompileDummyWithoutDocCmd(t *testing.T) {
	inst := &ExecToolchainInstaller{} // no DocCmd: CompileDummy should still stage the dummy crate
	outDir := t.TempDir()
	if err := inst.CompileDummy(t.Context(), "1.80.0", outDir); err != nil {
		t.Fatalf("CompileDummy: %v", err)
	}
}

func TestExecToolchainInstallerCompileDummyRunsDocCmd(t *testing.T) {
	outDir := t.TempDir()
	marker := filepath.Join(outDir, "ran-doc")
	inst := &ExecToolchainInstaller{
		DocCmd: []string{"sh", "-c", "touch " + marker},
	}
	if err := inst.CompileDummy(t.Context(), "1.80.0", outDir); err != nil {
		t.Fatalf("CompileDummy: %v", err)
	}
	if _, err := os.Stat(marker); err != nil {
		t.Fatalf("DocCmd should have run: %v", err)
	}
}
