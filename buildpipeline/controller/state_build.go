package controller

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/dochost/dochost/buildpipeline/driver"
)

// extraTargetConcurrency bounds how many extra-target documentation builds
// run at once per release: each target's rustdoc invocation is independent
// and disk/CPU-bound rather than contending for the same resource the
// default-target build used, so running them concurrently (bounded) is
// safe where running them strictly in sequence would only add latency.
const extraTargetConcurrency = 4

const platformDefaultTarget = "x86_64-unknown-linux-gnu"

func resolveConfig(_ context.Context, c *Controller) (State, error) {
	defaults := driver.ConfigurationSet{DefaultTarget: platformDefaultTarget}
	c.cfg = driver.ResolveConfigurationSet(c.scratchDir, defaults)
	if c.cfg.DefaultTarget == "" {
		c.cfg.DefaultTarget = platformDefaultTarget
	}

	if _, err := os.Stat(filepath.Join(c.scratchDir, "src", "lib.rs")); err == nil {
		c.library = true
	}
	return BuildTargets, nil
}

func buildTargets(ctx context.Context, c *Controller) (State, error) {
	// Documentation is written to a directory that is a sibling of, not
	// nested under, the fetched source tree: rustdoc's --out-dir accepts
	// any path, and keeping it out of c.scratchDir means the later source
	// ingest in ingestArtifacts doesn't pick up the build output as part
	// of the published source.
	out, err := os.MkdirTemp(filepath.Dir(c.scratchDir), "docout-")
	if err != nil {
		return Terminal, fmt.Errorf("controller: create doc output dir: %w", err)
	}
	c.docDir = out
	req := driver.RunRequest{
		SourceDir: c.scratchDir,
		OutputDir: out,
		Target:    c.cfg.DefaultTarget,
		Config:    c.cfg,
		Limits:    c.limits,
	}
	res, err := c.Sandbox.Run(ctx, req)
	if err != nil {
		return Terminal, fmt.Errorf("controller: sandbox run: %w", err)
	}
	c.appendLog(c.cfg.DefaultTarget, res.Log)
	if res.Outcome != driver.OutcomeSuccess {
		c.outcome = OutcomeFailed
		return RecordOutcome, nil
	}
	c.documentedTargets = append(c.documentedTargets, c.cfg.DefaultTarget)

	if c.library {
		extra := c.cfg.ExtraTargets
		if len(extra) > c.limits.MaxTargets {
			extra = extra[:c.limits.MaxTargets]
		}
		if err := c.buildExtraTargets(ctx, out, extra); err != nil {
			return Terminal, err
		}
	}

	c.outcome = OutcomeCompleted
	return IngestArtifacts, nil
}

// buildExtraTargets runs the sandboxed generator for every extra target
// concurrently, bounded by extraTargetConcurrency. A failing extra target
// does not fail the whole build -- the default target's documentation is
// still usable -- so only infrastructure errors (the Sandbox itself
// returning an error) abort the group.
func (c *Controller) buildExtraTargets(ctx context.Context, outDir string, targets []string) error {
	if len(targets) == 0 {
		return nil
	}
	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(extraTargetConcurrency)
	for _, target := range targets {
		target := target
		g.Go(func() error {
			// Non-default targets are served under a target-named
			// subdirectory, so their output lands there too.
			req := driver.RunRequest{
				SourceDir: c.scratchDir,
				OutputDir: filepath.Join(outDir, target),
				Target:    target,
				Config:    c.cfg,
				Limits:    c.limits,
			}
			res, err := c.Sandbox.Run(gctx, req)
			if err != nil {
				return fmt.Errorf("controller: sandbox run %s: %w", target, err)
			}
			mu.Lock()
			defer mu.Unlock()
			c.appendLog(target, res.Log)
			if res.Outcome == driver.OutcomeSuccess {
				c.documentedTargets = append(c.documentedTargets, target)
			}
			return nil
		})
	}
	return g.Wait()
}

func (c *Controller) appendLog(target, s string) {
	if s == "" {
		return
	}
	c.logs = append(c.logs, targetLog{target: target, text: s})
	if len(c.logBuf) > 0 {
		c.logBuf = append(c.logBuf, '\n')
	}
	c.logBuf = append(c.logBuf, s...)
}
