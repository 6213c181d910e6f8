package controller

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
	packageurl "github.com/package-url/packageurl-go"

	"github.com/dochost/dochost"
	"github.com/dochost/dochost/metadatastore/postgres"
)

// cargoManifest is the subset of Cargo.toml fields a release's metadata is
// harvested from, independent of the docs.rs-specific build configuration
// parsed in [driver.ResolveConfigurationSet].
type cargoManifest struct {
	Package struct {
		Description string `toml:"description"`
		License     string `toml:"license"`
		Repository  string `toml:"repository"`
		Readme      string `toml:"readme"`
	} `toml:"package"`
	Dependencies map[string]tomlDependency `toml:"dependencies"`
}

// tomlDependency supports both `dep = "1.0"` and `dep = { version = "1.0" }`
// forms. UnmarshalTOML makes this ambiguity invisible to callers.
type tomlDependency struct {
	Version string
}

func (d *tomlDependency) UnmarshalTOML(data interface{}) error {
	switch v := data.(type) {
	case string:
		d.Version = v
	case map[string]interface{}:
		if s, ok := v["version"].(string); ok {
			d.Version = s
		}
	}
	return nil
}

func readCargoManifest(scratchDir string) cargoManifest {
	var m cargoManifest
	data, err := os.ReadFile(filepath.Join(scratchDir, "Cargo.toml"))
	if err != nil {
		return m
	}
	toml.Unmarshal(data, &m)
	return m
}

func recordOutcome(ctx context.Context, c *Controller) (State, error) {
	status := dochost.StatusFailure
	buildStatus := dochost.BuildFailure
	if c.outcome == OutcomeCompleted {
		status = dochost.StatusSuccess
		buildStatus = dochost.BuildSuccess
	}

	if err := c.Meta.FinishBuild(ctx, c.buildID, c.releaseID, postgres.BuildResult{
		Status:            buildStatus,
		ToolchainVersion:  c.toolchain,
		BuilderVersion:    builderVersion,
		ErrorLog:          string(c.logBuf),
		DocumentationSize: c.docSize,
	}); err != nil {
		return Terminal, err
	}
	c.finished = true

	// Per-target logs are kept as artifacts too, for the build-detail page.
	// Losing one is not worth failing an otherwise-recorded build over.
	for _, l := range c.logs {
		key := "build-logs/" + c.buildID + "/" + l.target + ".txt"
		if err := c.Artifacts.StoreOne(ctx, key, []byte(l.text)); err != nil {
			slog.WarnContext(ctx, "failed to store build log", "key", key, "reason", err)
		}
	}

	manifest := readCargoManifest(c.scratchDir)
	var deps []packageurl.PackageURL
	for name, dep := range manifest.Dependencies {
		deps = append(deps, packageurl.PackageURL{
			Type:    "cargo",
			Name:    name,
			Version: dep.Version,
		})
	}

	if err := c.Meta.FinishRelease(ctx, c.crateID, c.releaseID, postgres.ReleaseMetadata{
		Status:            status,
		Library:           c.library,
		License:           manifest.Package.License,
		DefaultTarget:     c.cfg.DefaultTarget,
		DocumentedTargets: c.documentedTargets,
		ArchiveStorage:    c.archiveStorage,
		SourceSize:        c.sourceSize,
		Features:          c.cfg.Features,
		Dependencies:      deps,
		Description:       manifest.Package.Description,
		Readme:            readReadme(c.scratchDir, manifest.Package.Readme),
		Repository:        manifest.Package.Repository,
	}); err != nil {
		return Terminal, err
	}

	if _, err := c.Meta.EnqueueInvalidation(ctx, c.entry.Name, c.Distribution, "/"+dochost.NormalizeName(c.entry.Name)+"/*"); err != nil {
		return Terminal, err
	}

	// Attempt already counts this run (it was incremented at claim time).
	attemptsLeft := c.entry.Attempt < c.entry.MaxAttempts
	if c.outcome == OutcomeCompleted || !attemptsLeft {
		if err := c.Meta.DeleteQueueEntry(ctx, c.entry.QueueEntryID); err != nil {
			return Terminal, err
		}
	}
	return Terminal, nil
}

func readReadme(scratchDir, name string) string {
	if name == "" {
		name = "README.md"
	}
	b, err := os.ReadFile(filepath.Join(scratchDir, name))
	if err != nil {
		return ""
	}
	return string(b)
}

// builderVersion identifies this build pipeline's generator integration;
// bumped whenever the sandboxed invocation contract changes.
const builderVersion = "dochost-builder/1"
