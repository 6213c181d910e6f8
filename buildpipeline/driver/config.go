// Package driver holds the sandboxed documentation-generator contract: the
// configuration a build runs with, and the Sandbox interface that executes
// it under resource limits.
package driver

import (
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
)

// ConfigurationSet is the resolved set of build options a single release
// builds with: what a crate author declared in `[package.metadata.docs.rs]`
// layered over the platform's defaults.
type ConfigurationSet struct {
	Features          []string
	AllFeatures       bool
	NoDefaultFeatures bool
	DefaultTarget     string
	ExtraTargets      []string
	RustcArgs         []string
	RustdocArgs       []string
}

// manifestMetadata mirrors the `[package.metadata.docs.rs]` table a crate
// author may declare in Cargo.toml. Every field is optional; an absent
// field falls through to the platform default.
type manifestMetadata struct {
	Package struct {
		Metadata struct {
			Docs struct {
				RS struct {
					Features          []string `toml:"features"`
					AllFeatures       bool     `toml:"all-features"`
					NoDefaultFeatures bool     `toml:"no-default-features"`
					DefaultTarget     string   `toml:"default-target"`
					ExtraTargets      []string `toml:"extra-targets"`
					RustcArgs         []string `toml:"rustc-args"`
					RustdocArgs       []string `toml:"rustdoc-args"`
				} `toml:"rs"`
			} `toml:"docs"`
		} `toml:"metadata"`
	} `toml:"package"`
}

// ResolveConfigurationSet computes the configuration a build runs with:
// fields declared in the crate's manifest (preferring "Cargo.toml.orig",
// the pre-registry-normalization copy published alongside every crate
// source tarball, falling back to "Cargo.toml") take precedence over
// platform defaults, field by field. A manifest that cannot be found or
// parsed yields the defaults unchanged rather than failing the build --
// malformed crate-declared metadata should not be able to block a build
// from running at all.
func ResolveConfigurationSet(sourceDir string, defaults ConfigurationSet) ConfigurationSet {
	m, ok := readManifestMetadata(sourceDir)
	if !ok {
		return defaults
	}
	cfg := defaults
	rs := m.Package.Metadata.Docs.RS
	if rs.Features != nil {
		cfg.Features = rs.Features
	}
	if rs.AllFeatures {
		cfg.AllFeatures = true
	}
	if rs.NoDefaultFeatures {
		cfg.NoDefaultFeatures = true
	}
	if rs.DefaultTarget != "" {
		cfg.DefaultTarget = rs.DefaultTarget
	}
	if rs.ExtraTargets != nil {
		cfg.ExtraTargets = rs.ExtraTargets
	}
	if rs.RustcArgs != nil {
		cfg.RustcArgs = rs.RustcArgs
	}
	if rs.RustdocArgs != nil {
		cfg.RustdocArgs = rs.RustdocArgs
	}
	return cfg
}

func readManifestMetadata(sourceDir string) (manifestMetadata, bool) {
	var m manifestMetadata
	for _, name := range []string{"Cargo.toml.orig", "Cargo.toml"} {
		data, err := os.ReadFile(filepath.Join(sourceDir, name))
		if err != nil {
			continue
		}
		if err := toml.Unmarshal(data, &m); err != nil {
			continue
		}
		return m, true
	}
	return m, false
}
