package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/tidwall/jsonc"
)

// Find searches for a devcontainer.json starting from the given folder.
// Search order:
//  1. .devcontainer/devcontainer.json
//  2. .devcontainer.json
//  3. .devcontainer/{subfolder}/devcontainer.json (one level deep)
//
// Returns the absolute path to the config file, or empty string if not found.
func Find(folder string) (string, error) {
	absFolder, err := filepath.Abs(folder)
	if err != nil {
		return "", fmt.Errorf("resolving folder path: %w", err)
	}

	// 1. .devcontainer/devcontainer.json
	p := filepath.Join(absFolder, ".devcontainer", "devcontainer.json")
	if fileExists(p) {
		return p, nil
	}

	// 2. .devcontainer.json
	p = filepath.Join(absFolder, ".devcontainer.json")
	if fileExists(p) {
		return p, nil
	}

	// 3. .devcontainer/{subfolder}/devcontainer.json (one level deep)
	devcontainerDir := filepath.Join(absFolder, ".devcontainer")
	entries, err := os.ReadDir(devcontainerDir)
	if err == nil {
		for _, entry := range entries {
			if !entry.IsDir() {
				continue
			}
			p = filepath.Join(devcontainerDir, entry.Name(), "devcontainer.json")
			if fileExists(p) {
				return p, nil
			}
		}
	}

	return "", nil
}

// Parse reads and parses a devcontainer.json file at the given path,
// resolving its "extends" chain (if any) depth-first before unmarshaling.
// Supports JSONC (comments and trailing commas).
func Parse(path string) (*DevContainerConfig, error) {
	return ParseWithOverride(path, "")
}

// ParseWithOverride parses a devcontainer.json file, resolves its extends
// chain, and then applies overridePath as a final overlay layer using the
// same merge rules (shallow merge for scalars/objects, ordered-append for
// arrays), as --override-config does. overridePath may be empty.
func ParseWithOverride(path, overridePath string) (*DevContainerConfig, error) {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolving path: %w", err)
	}

	doc, err := resolveExtendsChain(absPath, nil)
	if err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}

	if overridePath != "" {
		doc, err = applyOverrideConfig(doc, overridePath)
		if err != nil {
			return nil, fmt.Errorf("applying override config %s: %w", overridePath, err)
		}
	}

	raw, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("re-marshaling merged config: %w", err)
	}

	config, err := ParseBytes(raw)
	if err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	config.Origin = absPath

	return config, nil
}

// ParseBytes parses devcontainer.json content from bytes.
// Supports JSONC (comments and trailing commas).
func ParseBytes(data []byte) (*DevContainerConfig, error) {
	// Strip JSONC comments and trailing commas.
	cleaned := jsonc.ToJSON(data)

	var config DevContainerConfig
	if err := json.Unmarshal(cleaned, &config); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	replaceLegacy(&config)

	return &config, nil
}

// FindAndParse finds a devcontainer.json from the given folder and parses it.
// Returns ErrNotFound if no config file is found.
func FindAndParse(folder string) (*DevContainerConfig, error) {
	path, err := Find(folder)
	if err != nil {
		return nil, err
	}
	if path == "" {
		return nil, ErrNotFound
	}
	return Parse(path)
}

// replaceLegacy migrates deprecated fields to their modern equivalents.
// - extensions -> customizations.vscode.extensions
// - settings -> customizations.vscode.settings
// - containerEnv -> remoteEnv, for keys remoteEnv doesn't already define
func replaceLegacy(config *DevContainerConfig) {
	if len(config.Extensions) > 0 || len(config.Settings) > 0 {
		if config.Customizations == nil {
			config.Customizations = make(map[string]any)
		}

		vscode, ok := config.Customizations["vscode"].(map[string]any)
		if !ok {
			vscode = make(map[string]any)
		}

		if len(config.Extensions) > 0 {
			vscode["extensions"] = config.Extensions
			config.Extensions = nil
		}

		if len(config.Settings) > 0 {
			vscode["settings"] = config.Settings
			config.Settings = nil
		}

		config.Customizations["vscode"] = vscode
	}

	// containerEnv is upgraded into remoteEnv wherever remoteEnv doesn't
	// already define the key; an explicit remoteEnv entry always wins.
	// containerEnv itself is left untouched (it still drives the image build).
	if len(config.ContainerEnv) > 0 {
		if config.RemoteEnv == nil {
			config.RemoteEnv = make(map[string]string, len(config.ContainerEnv))
		}
		for k, v := range config.ContainerEnv {
			if _, exists := config.RemoteEnv[k]; !exists {
				config.RemoteEnv[k] = v
			}
		}
	}
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}
