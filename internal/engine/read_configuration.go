package engine

import (
	"fmt"
	"path/filepath"

	"github.com/hatchctl/hatch/internal/config"
	"github.com/hatchctl/hatch/internal/feature"
	"github.com/hatchctl/hatch/internal/workspace"
)

// ReadConfigurationOptions controls the "hatch read-configuration" command.
type ReadConfigurationOptions struct {
	WorkspaceFolder            string
	OverrideConfig             string
	IDLabels                   map[string]string
	AdditionalFeatures         map[string]any
	IncludeFeaturesConfig      bool
	IncludeMergedConfiguration bool
}

// ReadConfigurationResult mirrors the devcontainer CLI's read-configuration
// JSON contract.
type ReadConfigurationResult struct {
	Configuration        *config.DevContainerConfig
	FeaturesConfiguration []*feature.FeatureSet
	MergedConfiguration   *config.DevContainerConfig
	Workspace             string
}

// ReadConfiguration parses, substitutes, and optionally resolves features for
// a workspace's devcontainer config without creating or touching a container.
func (e *Engine) ReadConfiguration(ws *workspace.Workspace, opts ReadConfigurationOptions) (*ReadConfigurationResult, error) {
	cfgPath := filepath.Join(ws.Source, ws.DevContainerPath)
	raw, err := config.ParseWithOverride(cfgPath, opts.OverrideConfig)
	if err != nil {
		return nil, fmt.Errorf("parsing devcontainer config: %w", err)
	}

	if len(opts.AdditionalFeatures) > 0 {
		if raw.Features == nil {
			raw.Features = make(map[string]any, len(opts.AdditionalFeatures))
		}
		for id, o := range opts.AdditionalFeatures {
			raw.Features[id] = o
		}
	}

	cfg, workspaceFolder, err := e.parseAndSubstituteWithOverride(ws, opts.IDLabels, opts.OverrideConfig)
	if err != nil {
		return nil, err
	}
	if opts.WorkspaceFolder != "" {
		workspaceFolder = opts.WorkspaceFolder
	}
	if len(opts.AdditionalFeatures) > 0 {
		if cfg.Features == nil {
			cfg.Features = make(map[string]any, len(opts.AdditionalFeatures))
		}
		for id, o := range opts.AdditionalFeatures {
			cfg.Features[id] = o
		}
	}

	result := &ReadConfigurationResult{
		Configuration: raw,
		Workspace:     workspaceFolder,
	}

	if opts.IncludeFeaturesConfig {
		configDir := filepath.Dir(cfg.Origin)
		features, err := e.resolveFeatures(cfg, configDir)
		if err != nil {
			return nil, fmt.Errorf("resolving features: %w", err)
		}
		result.FeaturesConfiguration = features
	}

	if opts.IncludeMergedConfiguration {
		result.MergedConfiguration = cfg
	}

	return result, nil
}
