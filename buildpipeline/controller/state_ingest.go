package controller

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/klauspost/compress/zstd"

	"github.com/dochost/dochost"
)

// archiveThreshold is the file count above which a tree is packed into a
// zip + sidecar index instead of stored as per-file blobs: small releases
// get per-file, others archive mode.
const archiveThreshold = 64

func ingestArtifacts(ctx context.Context, c *Controller) (State, error) {
	if c.outcome != OutcomeCompleted {
		return RecordOutcome, nil
	}
	norm := dochost.NormalizeName(c.entry.Name)

	docPrefix := "rustdoc/" + norm + "/" + c.entry.Version
	docArchive := countFiles(c.docDir) > archiveThreshold
	if _, _, err := c.Artifacts.PutTree(ctx, docPrefix, c.docDir, docArchive); err != nil {
		return Terminal, fmt.Errorf("controller: ingest documentation: %w", err)
	}
	c.archiveStorage = docArchive
	c.docSize = dirSize(c.docDir)

	srcPrefix := "sources/" + norm + "/" + c.entry.Version
	srcArchive := countFiles(c.scratchDir) > archiveThreshold
	if _, _, err := c.Artifacts.PutTree(ctx, srcPrefix, c.scratchDir, srcArchive); err != nil {
		return Terminal, fmt.Errorf("controller: ingest source: %w", err)
	}
	c.sourceSize = dirSize(c.scratchDir)

	if err := c.ingestJSONOutputs(ctx, norm); err != nil {
		return Terminal, err
	}

	return RecordOutcome, nil
}

// ingestJSONOutputs stores any machine-readable documentation the generator
// emitted alongside the HTML. rustdoc's JSON output is one file per target,
// carrying its own format_version; each is zstd-compressed and stored under
// rustdoc-json/<crate>/<version>/<target>/<format-version>.json.zst.
func (c *Controller) ingestJSONOutputs(ctx context.Context, norm string) error {
	for _, target := range c.documentedTargets {
		dir := c.docDir
		if target != c.cfg.DefaultTarget {
			dir = filepath.Join(c.docDir, target)
		}
		entries, err := os.ReadDir(dir)
		if err != nil {
			continue
		}
		for _, e := range entries {
			if e.IsDir() || filepath.Ext(e.Name()) != ".json" {
				continue
			}
			raw, err := os.ReadFile(filepath.Join(dir, e.Name()))
			if err != nil {
				return fmt.Errorf("controller: read json output %s: %w", e.Name(), err)
			}
			var probe struct {
				FormatVersion int `json:"format_version"`
			}
			if err := json.Unmarshal(raw, &probe); err != nil || probe.FormatVersion == 0 {
				continue
			}
			compressed, err := zstdCompress(raw)
			if err != nil {
				return fmt.Errorf("controller: compress json output %s: %w", e.Name(), err)
			}
			key := fmt.Sprintf("rustdoc-json/%s/%s/%s/%d.json.zst", norm, c.entry.Version, target, probe.FormatVersion)
			if err := c.Artifacts.StoreOne(ctx, key, compressed); err != nil {
				return fmt.Errorf("controller: store json output %s: %w", key, err)
			}
		}
	}
	return nil
}

func zstdCompress(raw []byte) ([]byte, error) {
	w, err := zstd.NewWriter(nil)
	if err != nil {
		return nil, err
	}
	defer w.Close()
	return w.EncodeAll(raw, nil), nil
}

func countFiles(dir string) int {
	n := 0
	filepath.Walk(dir, func(_ string, info os.FileInfo, err error) error {
		if err == nil && !info.IsDir() {
			n++
		}
		return nil
	})
	return n
}

func dirSize(dir string) int64 {
	var total int64
	filepath.Walk(dir, func(_ string, info os.FileInfo, err error) error {
		if err == nil && !info.IsDir() {
			total += info.Size()
		}
		return nil
	})
	return total
}
