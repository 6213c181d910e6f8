/*
Package buildpipeline implements the Build Pipeline:
an idempotent, retrying, crash-safe pipeline that drains [postgres.Store]'s
persistent queue, materializes a clean toolchain [Workspace], invokes an
external documentation generator through a [driver.Sandbox] under per-crate
resource limits, and ingests the output into [artifactstore.Store].

[Pipeline] is the top-level type: construction validates required
dependencies, Close tears down held resources, and the one blocking
operation ([Pipeline.ProcessNext]) locks before delegating to a
per-unit-of-work controller ([buildpipeline/controller]).
*/
package buildpipeline
