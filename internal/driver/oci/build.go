package oci

import (
	"context"
	"fmt"
	"io"
	"os"
	"sort"

	"github.com/hatchctl/hatch/internal/driver"
)

// BuildImage builds a container image from a Dockerfile.
// For Docker, it tries `docker buildx build` first and falls back to `docker build`
// when buildx fails; when opts.BuildKitMode is "never" only `docker build` is run.
// The fallback is taken even when opts.Push or opts.Output is set; the plain build
// passes --push but not --output.
// For Podman, it uses `podman build` directly.
func (d *OCIDriver) BuildImage(ctx context.Context, workspaceID string, opts *driver.BuildOptions) error {
	imageName := opts.Image
	if imageName == "" {
		tag := "latest"
		if opts.PrebuildHash != "" {
			tag = opts.PrebuildHash
		}
		imageName = ImageName(workspaceID, tag)
	}

	stdout, stderr := buildWriters(opts)

	useBuildKit := opts.BuildKitMode != "never"
	if !useBuildKit && (opts.CacheFrom != nil || opts.CacheTo != "") {
		d.logger.Warn("--cache-from/--cache-to require BuildKit; dropping cache options because BuildKit mode is \"never\"")
		trimmed := *opts
		trimmed.CacheFrom, trimmed.CacheTo = nil, ""
		opts = &trimmed
	}

	if d.runtime == RuntimeDocker {
		if useBuildKit {
			args := d.buildBuildArgs(imageName, opts, true)
			if err := d.helper.Run(ctx, args, nil, stdout, stderr); err != nil {
				d.logger.Warn("buildx failed, falling back to docker build", "error", err)
				args = d.buildBuildArgs(imageName, opts, false)
				if err := d.helper.Run(ctx, args, nil, stdout, stderr); err != nil {
					return fmt.Errorf("building image for workspace %s: %w", workspaceID, err)
				}
			}
			return nil
		}
		args := d.buildBuildArgs(imageName, opts, false)
		if err := d.helper.Run(ctx, args, nil, stdout, stderr); err != nil {
			return fmt.Errorf("building image for workspace %s: %w", workspaceID, err)
		}
		return nil
	}

	// Podman always uses plain build.
	args := d.buildBuildArgs(imageName, opts, false)
	if err := d.helper.Run(ctx, args, nil, stdout, stderr); err != nil {
		return fmt.Errorf("building image for workspace %s: %w", workspaceID, err)
	}
	return nil
}

// buildWriters returns the stdout and stderr writers from opts, falling back to os.Stderr.
func buildWriters(opts *driver.BuildOptions) (io.Writer, io.Writer) {
	stdout := io.Writer(os.Stderr)
	stderr := io.Writer(os.Stderr)
	if opts.Stdout != nil {
		stdout = opts.Stdout
	}
	if opts.Stderr != nil {
		stderr = opts.Stderr
	}
	return stdout, stderr
}

// buildBuildArgs constructs the argument list for a build command.
// When useBuildx is true, it uses `buildx build --load` (Docker only).
func (d *OCIDriver) buildBuildArgs(imageName string, opts *driver.BuildOptions, useBuildx bool) []string {
	var args []string
	if useBuildx {
		args = []string{"buildx", "build"}
		if opts.Push {
			args = append(args, "--push")
		} else if opts.Output != "" {
			args = append(args, "--output", opts.Output)
		} else {
			args = append(args, "--load")
		}
	} else {
		args = []string{"build"}
		if opts.Push {
			args = append(args, "--push")
		}
	}

	// Dockerfile.
	if opts.Dockerfile != "" {
		args = append(args, "-f", opts.Dockerfile)
	}

	// Tags: the explicit set if provided, else the single resolved image name.
	tags := opts.Tags
	if len(tags) == 0 {
		tags = []string{imageName}
	}
	for _, t := range tags {
		args = append(args, "-t", t)
	}

	// Target.
	if opts.Target != "" {
		args = append(args, "--target", opts.Target)
	}

	// Build args (sorted for determinism).
	argKeys := make([]string, 0, len(opts.Args))
	for k := range opts.Args {
		argKeys = append(argKeys, k)
	}
	sort.Strings(argKeys)
	for _, k := range argKeys {
		args = append(args, "--build-arg", k+"="+opts.Args[k])
	}

	// Labels (sorted for determinism), each overriding any prior key.
	labelKeys := make([]string, 0, len(opts.Labels))
	for k := range opts.Labels {
		labelKeys = append(labelKeys, k)
	}
	sort.Strings(labelKeys)
	for _, k := range labelKeys {
		args = append(args, "--label", k+"="+opts.Labels[k])
	}

	if opts.NoCache {
		args = append(args, "--no-cache")
	} else {
		// Cache from/to require BuildKit; the caller has already dropped
		// these when BuildKit is unavailable, so it's safe to always emit
		// them here.
		for _, c := range opts.CacheFrom {
			args = append(args, "--cache-from", c)
		}
		if opts.CacheTo != "" && useBuildx {
			args = append(args, "--cache-to", opts.CacheTo)
		}
	}

	if opts.Platform != "" && useBuildx {
		args = append(args, "--platform", opts.Platform)
	}

	// Extra options from build.options (before context).
	args = append(args, opts.Options...)

	// Build context (required, must be last).
	buildCtx := opts.Context
	if buildCtx == "" {
		buildCtx = "."
	}
	args = append(args, buildCtx)

	return args
}
