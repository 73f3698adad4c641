// Package publish implements the feature packaging and publishing pipeline:
// tar+gzip packaging of a devcontainer-feature.json directory, a
// devcontainer-collection.json manifest aggregating a directory of features,
// semantic-tag derivation, and idempotent, dry-run-capable publishing to an
// OCI registry.
package publish

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/Masterminds/semver/v3"

	"github.com/hatchctl/hatch/internal/cerr"
	"github.com/hatchctl/hatch/internal/feature"
)

// registry is the subset of feature.OCIResolver's registry operations that
// publishing needs; satisfied by *feature.OCIResolver, mocked in tests.
type registry interface {
	ListTags(ctx context.Context, repoRef string) ([]string, error)
	PushArtifact(ctx context.Context, featureDir string, refs []string) error
}

// Options controls a publish run.
type Options struct {
	// FeaturesDir contains one subdirectory per feature, each with its own
	// devcontainer-feature.json.
	FeaturesDir string

	// Registry is the OCI repository namespace features are published
	// under, e.g. "ghcr.io/myorg/features". Each feature is pushed to
	// "<Registry>/<feature-id>:<tag>".
	Registry string

	// DryRun computes the publish plan (tags, pushes) without performing
	// any registry writes.
	DryRun bool
}

// FeatureResult describes the outcome for a single feature.
type FeatureResult struct {
	ID            string   `json:"id"`
	Version       string   `json:"version"`
	Tags          []string `json:"tags"`
	Published     bool     `json:"published"`
	AlreadyCurrent bool    `json:"alreadyCurrent"`
}

// Result is the aggregate outcome of a publish run.
type Result struct {
	Features           []FeatureResult `json:"features"`
	CollectionJSON     []byte          `json:"-"`
	CollectionJSONPath string          `json:"collectionPath,omitempty"`
}

// collectionManifest is the devcontainer-collection.json schema: an ordered
// list of feature metadata, one entry per published feature.
type collectionManifest struct {
	SourceInformation map[string]string        `json:"sourceInformation,omitempty"`
	Features          []*feature.FeatureConfig `json:"features"`
}

// Publish discovers every feature under opts.FeaturesDir, derives its
// semantic tag set, and republishes it to opts.Registry unless the
// registry's current tags already include every tag of the locally computed
// set. Already-current features are skipped (idempotent republish). Writes/overwrites
// devcontainer-collection.json in FeaturesDir on success (or would-write, in
// dry-run mode).
func Publish(ctx context.Context, reg registry, opts Options) (*Result, error) {
	entries, err := os.ReadDir(opts.FeaturesDir)
	if err != nil {
		return nil, fmt.Errorf("reading features directory: %w", err)
	}

	var featureDirs []string
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		dir := filepath.Join(opts.FeaturesDir, e.Name())
		if _, err := os.Stat(filepath.Join(dir, feature.FeatureFileName)); err == nil {
			featureDirs = append(featureDirs, dir)
		}
	}
	sort.Strings(featureDirs)

	result := &Result{}
	var collected []*feature.FeatureConfig

	for _, dir := range featureDirs {
		cfg, err := feature.ParseFeatureConfig(dir)
		if err != nil {
			return nil, fmt.Errorf("parsing %s: %w", dir, err)
		}
		collected = append(collected, cfg)

		fr, err := publishFeature(ctx, reg, opts, dir, cfg)
		if err != nil {
			return nil, err
		}
		result.Features = append(result.Features, *fr)
	}

	manifest := collectionManifest{Features: collected}
	data, err := json.MarshalIndent(manifest, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encoding devcontainer-collection.json: %w", err)
	}
	result.CollectionJSON = data
	result.CollectionJSONPath = filepath.Join(opts.FeaturesDir, "devcontainer-collection.json")

	if !opts.DryRun {
		if err := os.WriteFile(result.CollectionJSONPath, data, 0o644); err != nil {
			return nil, fmt.Errorf("writing devcontainer-collection.json: %w", err)
		}
	}

	return result, nil
}

// publishFeature derives the tag set for one feature and republishes it
// unless the registry already holds every tag of that set for this feature.
func publishFeature(ctx context.Context, reg registry, opts Options, dir string, cfg *feature.FeatureConfig) (*FeatureResult, error) {
	tags, err := SemanticTags(cfg.Version)
	if err != nil {
		return nil, cerr.Wrap(cerr.InvalidVersion, "feature "+cfg.ID+" has an invalid version", err)
	}

	repoRef := opts.Registry + "/" + cfg.ID
	fr := &FeatureResult{ID: cfg.ID, Version: cfg.Version, Tags: tags}

	existing, err := reg.ListTags(ctx, repoRef)
	if err != nil {
		// A not-yet-published feature has no repository to list tags
		// from; treat a lookup failure as "nothing published yet" rather
		// than a hard publish error, since a registry 404 for an unknown
		// repository surfaces the same way as other registry errors.
		existing = nil
	}

	if tagSetEqual(existing, tags) {
		fr.AlreadyCurrent = true
		return fr, nil
	}

	if opts.DryRun {
		fr.Published = false
		return fr, nil
	}

	refs := make([]string, 0, len(tags))
	for _, t := range tags {
		refs = append(refs, repoRef+":"+t)
	}
	if err := reg.PushArtifact(ctx, dir, refs); err != nil {
		return nil, cerr.Wrap(cerr.PublishConflict, "publishing feature "+cfg.ID, err)
	}

	fr.Published = true
	return fr, nil
}

// SemanticTags derives the {X, X.Y, X.Y.Z, latest} tag set for a semantic
// version string, in that order.
func SemanticTags(version string) ([]string, error) {
	v, err := semver.NewVersion(version)
	if err != nil {
		return nil, fmt.Errorf("parsing version %q: %w", version, err)
	}
	return []string{
		fmt.Sprintf("%d", v.Major()),
		fmt.Sprintf("%d.%d", v.Major(), v.Minor()),
		fmt.Sprintf("%d.%d.%d", v.Major(), v.Minor(), v.Patch()),
		"latest",
	}, nil
}

// tagSetEqual reports whether existing already contains every tag in wanted,
// regardless of order or extra unrelated tags the registry may hold.
func tagSetEqual(existing, wanted []string) bool {
	have := make(map[string]bool, len(existing))
	for _, t := range existing {
		have[t] = true
	}
	for _, t := range wanted {
		if !have[t] {
			return false
		}
	}
	return true
}
