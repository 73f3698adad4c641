package engine

import (
	"context"
	"fmt"
	"os"

	"github.com/hatchctl/hatch/internal/cerr"
	"github.com/hatchctl/hatch/internal/config"
	"github.com/hatchctl/hatch/internal/driver"
	"github.com/hatchctl/hatch/internal/workspace"
)

// BuildOptions controls the explicit "hatch build" command, as distinct from
// the build step implicitly run by "hatch up" (engine.UpOptions).
type BuildOptions struct {
	// Tags are the --image-name values, in declaration order. A literal
	// duplicate is a validation error (DuplicateTag); distinct tags are
	// deduplicated preserving first occurrence.
	Tags []string

	// Labels are --label k=v entries; later entries override earlier ones
	// for the same key.
	Labels map[string]string

	Push         bool
	Output       string
	Platform     string
	CacheFrom    []string
	CacheTo      string
	NoCache      bool
	BuildKitMode string // "auto" (default) or "never"
}

// BuildResult is the structured outcome of an explicit build.
type BuildResult struct {
	Tags         []string
	Pushed       []string
	ArchivePath  string
	UsedBuildKit bool
}

// Build runs the explicit image build for a workspace's devcontainer config,
// independent of container creation. It validates tag/flag combinations up
// front so nothing is built on an invalid invocation.
func (e *Engine) Build(ctx context.Context, ws *workspace.Workspace, opts BuildOptions) (*BuildResult, error) {
	cfg, _, err := e.parseAndSubstitute(ws, nil)
	if err != nil {
		return nil, err
	}

	if len(cfg.DockerComposeFile) > 0 {
		return e.buildCompose(ctx, cfg, opts)
	}

	tags, err := dedupTags(opts.Tags)
	if err != nil {
		return nil, err
	}

	if opts.Push && opts.Output != "" {
		return nil, cerr.New(cerr.ConflictingOutputs, "--push and --output are mutually exclusive")
	}

	mode := opts.BuildKitMode
	if mode == "" {
		mode = "auto"
	}
	buildKitAvailable := effectiveBuildKit(mode)
	if !buildKitAvailable && (opts.CacheTo != "" || len(opts.CacheFrom) > 0) {
		e.logger.Warn("--cache-from/--cache-to require BuildKit; dropping because BuildKit is unavailable in this mode")
		opts.CacheFrom, opts.CacheTo = nil, ""
	}
	if opts.Output != "" && !buildKitAvailable {
		return nil, cerr.New(cerr.BuildKitRequired, "--output requires BuildKit, which is unavailable in mode \"never\"")
	}

	if opts.Output != "" {
		if dir := outputDestDir(opts.Output); dir != "" {
			if err := checkWritableDir(dir); err != nil {
				return nil, cerr.Wrap(cerr.OutputDestinationUnwritable, "output destination is not writable", err)
			}
		}
	}

	res, err := e.buildImageWithOptions(ctx, ws, cfg, &driver.BuildOptions{
		Tags:         tags,
		Labels:       opts.Labels,
		Push:         opts.Push,
		Output:       opts.Output,
		Platform:     opts.Platform,
		CacheFrom:    opts.CacheFrom,
		CacheTo:      opts.CacheTo,
		NoCache:      opts.NoCache,
		BuildKitMode: mode,
	})
	if err != nil {
		return nil, err
	}

	finalTags := tags
	if len(finalTags) == 0 {
		finalTags = []string{res.imageName}
	}

	result := &BuildResult{Tags: finalTags, UsedBuildKit: buildKitAvailable}
	if opts.Push {
		result.Pushed = finalTags
	}
	if opts.Output != "" {
		result.ArchivePath = outputDestPath(opts.Output)
	}
	return result, nil
}

// buildCompose rejects the subset of build flags that don't make sense
// against a Compose-managed service image, per the Compose build contract.
func (e *Engine) buildCompose(_ context.Context, cfg *config.DevContainerConfig, opts BuildOptions) (*BuildResult, error) {
	if cfg.Service == "" {
		return nil, cerr.New(cerr.ComposeServiceMissing, "dockerComposeFile is set but service is not specified")
	}
	if opts.Push {
		return nil, cerr.New(cerr.UnsupportedInComposeMode, "--push is not supported in Compose mode")
	}
	if opts.Output != "" {
		return nil, cerr.New(cerr.UnsupportedInComposeMode, "--output is not supported in Compose mode")
	}
	if opts.Platform != "" {
		return nil, cerr.New(cerr.UnsupportedInComposeMode, "--platform is not supported in Compose mode")
	}
	if opts.CacheTo != "" {
		return nil, cerr.New(cerr.UnsupportedInComposeMode, "--cache-to is not supported in Compose mode")
	}
	return nil, fmt.Errorf("explicit build of a Compose service image is not supported; use 'hatch up' to build and start it")
}

// dedupTags deduplicates tags preserving first occurrence. A literal repeat
// (the same tag passed twice) is a hard validation error.
func dedupTags(tags []string) ([]string, error) {
	seen := make(map[string]int, len(tags))
	out := make([]string, 0, len(tags))
	for _, t := range tags {
		if _, ok := seen[t]; ok {
			return nil, cerr.New(cerr.DuplicateTag, fmt.Sprintf("duplicate tag %q", t))
		}
		seen[t] = 1
		out = append(out, t)
	}
	return out, nil
}

// effectiveBuildKit resolves whether BuildKit is in effect for mode "auto"
// (honoring DOCKER_BUILDKIT) or "never" (always legacy).
func effectiveBuildKit(mode string) bool {
	if mode == "never" {
		return false
	}
	return os.Getenv("DOCKER_BUILDKIT") != "0"
}

// outputDestDir extracts the "dest=" directory component of a --output spec,
// e.g. "type=tar,dest=out/image.tar" -> "out".
func outputDestDir(spec string) string {
	path := outputDestPath(spec)
	if path == "" {
		return ""
	}
	if idx := lastSlash(path); idx >= 0 {
		return path[:idx]
	}
	return "."
}

// outputDestPath extracts the "dest=" value from a --output spec.
func outputDestPath(spec string) string {
	for _, part := range splitComma(spec) {
		if k, v, ok := cutEquals(part); ok && k == "dest" {
			return v
		}
	}
	return ""
}

func splitComma(s string) []string {
	var out []string
	start := 0
	for i := 0; i < len(s); i++ {
		if s[i] == ',' {
			out = append(out, s[start:i])
			start = i + 1
		}
	}
	out = append(out, s[start:])
	return out
}

func cutEquals(s string) (string, string, bool) {
	for i := 0; i < len(s); i++ {
		if s[i] == '=' {
			return s[:i], s[i+1:], true
		}
	}
	return "", "", false
}

func lastSlash(s string) int {
	for i := len(s) - 1; i >= 0; i-- {
		if s[i] == '/' {
			return i
		}
	}
	return -1
}

// checkWritableDir verifies dir exists and is writable, creating it if absent.
func checkWritableDir(dir string) error {
	if dir == "" || dir == "." {
		return nil
	}
	info, err := os.Stat(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return os.MkdirAll(dir, 0o755)
		}
		return err
	}
	if !info.IsDir() {
		return fmt.Errorf("%s is not a directory", dir)
	}
	probe := dir + "/.hatch-write-check"
	f, err := os.Create(probe)
	if err != nil {
		return err
	}
	_ = f.Close()
	_ = os.Remove(probe)
	return nil
}
