package controller

import "context"

func prepareWorkspace(ctx context.Context, c *Controller) (State, error) {
	toolchain, err := c.Workspace.EnsureReady(ctx)
	if err != nil {
		return Terminal, err
	}
	c.toolchain = toolchain

	dir, cleanup, err := c.Workspace.Scratch(ctx)
	if err != nil {
		return Terminal, err
	}
	c.scratchDir = dir
	c.scratchDone = cleanup
	return FetchSource, nil
}

func fetchSource(ctx context.Context, c *Controller) (State, error) {
	if err := c.Source.Fetch(ctx, c.entry.Registry, c.entry.Name, c.entry.Version, c.scratchDir); err != nil {
		return Terminal, err
	}
	return ResolveConfig, nil
}
