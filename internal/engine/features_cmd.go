package engine

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/hatchctl/hatch/internal/cerr"
	"github.com/hatchctl/hatch/internal/driver"
	"github.com/hatchctl/hatch/internal/feature"
	"github.com/hatchctl/hatch/internal/publish"
	"github.com/hatchctl/hatch/internal/workspace"
)

// FeaturesPlanOptions controls "hatch features plan".
type FeaturesPlanOptions struct {
	WorkspaceFolder string
	OverrideConfig  string
	IDLabels        map[string]string
}

// PlannedFeature describes one feature's position in the install order.
type PlannedFeature struct {
	ID      string `json:"id"`
	Folder  string `json:"folder"`
	Version string `json:"version,omitempty"`
}

// Plan resolves and orders a workspace's features without building or
// starting anything.
func (e *Engine) Plan(_ context.Context, ws *workspace.Workspace, opts FeaturesPlanOptions) ([]PlannedFeature, error) {
	cfg, _, err := e.parseAndSubstituteWithOverride(ws, opts.IDLabels, opts.OverrideConfig)
	if err != nil {
		return nil, err
	}

	configDir := filepath.Dir(cfg.Origin)
	ordered, err := e.resolveFeatures(cfg, configDir)
	if err != nil {
		return nil, err
	}

	plan := make([]PlannedFeature, 0, len(ordered))
	for _, f := range ordered {
		plan = append(plan, PlannedFeature{ID: f.ConfigID, Folder: f.Folder, Version: f.Config.Version})
	}
	return plan, nil
}

// FeaturesTestOptions controls "hatch features test".
type FeaturesTestOptions struct {
	// FeatureDir is the local directory holding the feature under test
	// (devcontainer-feature.json, install.sh, optionally test.sh).
	FeatureDir string

	// BaseImage is the image the feature is installed on top of.
	BaseImage string

	// Options are the devcontainer.json-style option values to install the
	// feature with.
	Options any
}

// FeaturesTestResult is the outcome of running a feature's test.sh.
type FeaturesTestResult struct {
	FeatureID string
	ImageName string
	Passed    bool
	Output    string
}

// testScript is the name a feature's test harness runs, if present.
const testScript = "test.sh"

// Test builds a throwaway image with a single feature installed on top of
// BaseImage, runs it, and executes the feature's test.sh inside it. A
// feature with no test.sh always passes (nothing to verify).
func (e *Engine) Test(ctx context.Context, opts FeaturesTestOptions) (*FeaturesTestResult, error) {
	fc, err := feature.ParseFeatureConfig(opts.FeatureDir)
	if err != nil {
		return nil, fmt.Errorf("parsing feature config: %w", err)
	}

	fs := &feature.FeatureSet{ConfigID: fc.ID, Folder: opts.FeatureDir, Config: fc, Options: opts.Options}
	content, prefix := feature.GenerateDockerfile([]*feature.FeatureSet{fs}, "root", "root")
	prefix = strings.ReplaceAll(prefix, "=placeholder", "="+opts.BaseImage)
	dockerfileContent := prefix + "\n" + content

	contextDir, err := os.MkdirTemp("", "hatch-feature-test-*")
	if err != nil {
		return nil, fmt.Errorf("creating build context: %w", err)
	}
	defer func() { _ = os.RemoveAll(contextDir) }()

	if _, err := feature.PrepareContext(contextDir, []*feature.FeatureSet{fs}, "root", "root"); err != nil {
		return nil, fmt.Errorf("preparing feature context: %w", err)
	}

	dockerfilePath := filepath.Join(contextDir, ".hatch-Dockerfile")
	if err := os.WriteFile(dockerfilePath, []byte(dockerfileContent), 0o644); err != nil {
		return nil, fmt.Errorf("writing generated Dockerfile: %w", err)
	}

	workspaceID := "feature-test-" + sanitizeID(fc.ID)
	imageName := "hatch-feature-test:" + sanitizeID(fc.ID)

	e.reportProgress("Building feature test image for " + fc.ID)
	if err := e.driver.BuildImage(ctx, workspaceID, &driver.BuildOptions{
		Image:      imageName,
		Dockerfile: dockerfilePath,
		Context:    contextDir,
		Stdout:     e.stdout,
		Stderr:     e.stderr,
	}); err != nil {
		return nil, cerr.Wrap(cerr.RuntimeUnavailable, "building feature test image", err)
	}

	result := &FeaturesTestResult{FeatureID: fc.ID, ImageName: imageName}

	if _, err := os.Stat(filepath.Join(opts.FeatureDir, testScript)); err != nil {
		result.Passed = true
		result.Output = "no test.sh present; nothing to verify"
		return result, nil
	}

	if err := e.driver.RunContainer(ctx, workspaceID, &driver.RunOptions{
		Image:      imageName,
		Entrypoint: "sleep",
		Cmd:        []string{"infinity"},
	}); err != nil {
		return nil, cerr.Wrap(cerr.RuntimeUnavailable, "starting feature test container", err)
	}
	defer func() {
		if c, findErr := e.driver.FindContainer(ctx, workspaceID); findErr == nil && c != nil {
			_ = e.driver.DeleteContainer(ctx, workspaceID, c.ID)
		}
	}()

	container, err := e.driver.FindContainer(ctx, workspaceID)
	if err != nil || container == nil {
		return nil, cerr.New(cerr.RuntimeUnavailable, "feature test container did not start")
	}

	var out strings.Builder
	runErr := e.driver.ExecContainer(ctx, workspaceID, container.ID,
		[]string{"sh", "-c", "cd /tmp/build-features/0 && chmod +x " + testScript + " && ./" + testScript},
		nil, &out, &out, nil, "")

	result.Output = out.String()
	result.Passed = runErr == nil
	return result, nil
}

// sanitizeID lowercases and strips characters unsafe for use in an image tag.
func sanitizeID(id string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(id) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '-', r == '_':
			b.WriteRune(r)
		default:
			b.WriteRune('-')
		}
	}
	return b.String()
}

// FeaturesPackageOptions controls "hatch features package".
type FeaturesPackageOptions struct {
	FeatureDir string
	OutputDir  string
}

// Package tars and gzips a single feature directory into OutputDir, named
// "<feature-id>.tgz".
func (e *Engine) Package(_ context.Context, opts FeaturesPackageOptions) (string, error) {
	fc, err := feature.ParseFeatureConfig(opts.FeatureDir)
	if err != nil {
		return "", fmt.Errorf("parsing feature config: %w", err)
	}
	if err := os.MkdirAll(opts.OutputDir, 0o755); err != nil {
		return "", fmt.Errorf("creating output directory: %w", err)
	}
	return feature.PackageDir(opts.FeatureDir, filepath.Join(opts.OutputDir, fc.ID+".tgz"))
}

// FeaturesPublishOptions controls "hatch features publish".
type FeaturesPublishOptions struct {
	FeaturesDir string
	Registry    string
	DryRun      bool
}

// Publish packages and republishes every feature under FeaturesDir to an OCI
// registry, skipping features whose published tags are already current.
func (e *Engine) Publish(ctx context.Context, opts FeaturesPublishOptions) (*publish.Result, error) {
	return publish.Publish(ctx, &feature.OCIResolver{}, publish.Options{
		FeaturesDir: opts.FeaturesDir,
		Registry:    opts.Registry,
		DryRun:      opts.DryRun,
	})
}

// Info fetches a feature's devcontainer-feature.json metadata directly from
// an OCI registry reference, without installing it.
func (e *Engine) Info(ctx context.Context, ref string) (*feature.FeatureConfig, error) {
	r := &feature.OCIResolver{}
	return r.FetchMetadata(ctx, ref)
}
