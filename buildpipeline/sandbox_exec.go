package buildpipeline

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/dochost/dochost/buildpipeline/driver"
)

// ExecSandbox runs the documentation generator as a subprocess, enforcing
// the sandbox contract with what's available without a
// container runtime: a wall-clock timeout via context, and a virtual-memory
// cap enforced with `ulimit -v` in an intermediate shell, since Go's exec
// package has no portable pre-exec rlimit hook. Network restriction is
// best-effort: if NetworkIsolationCmd is set, it's prepended to the command
// line whenever the request asks for [driver.NetworkDisabled].
type ExecSandbox struct {
	// Command is the generator invocation, e.g. {"cargo", "doc"}. Target,
	// output dir, feature flags, and rustc args from the request are
	// appended; rustdoc args are passed in the RUSTDOCFLAGS environment
	// variable.
	Command []string
	// NetworkIsolationCmd, if set, is prepended to Command whenever the
	// request's Limits.Network is [driver.NetworkDisabled] -- typically
	// {"unshare", "-n", "--"} on a Linux host with user namespaces
	// available. Left nil, network restriction is not enforced; the
	// sandbox contract's memory and wall-clock caps still apply.
	NetworkIsolationCmd []string
}

var _ driver.Sandbox = (*ExecSandbox)(nil)

// Run implements [driver.Sandbox].
func (s *ExecSandbox) Run(ctx context.Context, req driver.RunRequest) (*driver.RunResult, error) {
	if len(s.Command) == 0 {
		return nil, errors.New("buildpipeline: ExecSandbox.Command is empty")
	}

	wall := req.Limits.MaxWallClock
	if wall <= 0 {
		wall = driver.DefaultLimits.MaxWallClock
	}
	ctx, cancel := context.WithTimeout(ctx, wall)
	defer cancel()

	args := append([]string{}, s.Command[1:]...)
	args = append(args, "--target", req.Target, "--out-dir", req.OutputDir)
	if req.Config.AllFeatures {
		args = append(args, "--all-features")
	}
	if req.Config.NoDefaultFeatures {
		args = append(args, "--no-default-features")
	}
	for _, f := range req.Config.Features {
		args = append(args, "--features", f)
	}
	for _, a := range req.Config.RustcArgs {
		args = append(args, "--", a)
	}

	line := append([]string{s.Command[0]}, args...)
	if req.Limits.Network == driver.NetworkDisabled && len(s.NetworkIsolationCmd) > 0 {
		line = append(append([]string{}, s.NetworkIsolationCmd...), line...)
	}

	var cmdName string
	var cmdArgs []string
	if req.Limits.MaxMemoryBytes > 0 {
		kb := req.Limits.MaxMemoryBytes / 1024
		cmdName = "sh"
		cmdArgs = []string{"-c", fmt.Sprintf("ulimit -v %d; exec \"$@\"", kb), "--"}
		cmdArgs = append(cmdArgs, line...)
	} else {
		cmdName, cmdArgs = line[0], line[1:]
	}

	start := time.Now()
	cmd := exec.CommandContext(ctx, cmdName, cmdArgs...)
	cmd.Dir = req.SourceDir
	cmd.Env = append(os.Environ(), "RUSTDOCFLAGS="+strings.Join(req.Config.RustdocArgs, " "))
	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out

	err := cmd.Run()
	dur := time.Since(start)
	res := &driver.RunResult{Log: out.String(), Duration: dur}

	switch {
	case errors.Is(ctx.Err(), context.DeadlineExceeded):
		res.Outcome = driver.OutcomeLimitExceeded
		return res, nil
	case err == nil:
		res.Outcome = driver.OutcomeSuccess
		return res, nil
	}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		if exitErr.ExitCode() == 137 || strings.Contains(out.String(), "Cannot allocate memory") {
			res.Outcome = driver.OutcomeLimitExceeded
		} else {
			res.Outcome = driver.OutcomeBuildFailure
		}
		return res, nil
	}

	// Failure to even start the subprocess (missing binary, bad Dir, ...)
	// is an infrastructure fault, not a build-script error -- the failure
	// taxonomy's "transient (sandbox-infra)" bucket.
	res.Outcome = driver.OutcomeTransient
	return res, fmt.Errorf("buildpipeline: exec sandbox: %w", err)
}
