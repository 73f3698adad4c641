package cmd

import (
	"bufio"
	"os"
	"path/filepath"
	"strings"
)

// hatchRC holds values loaded from a .hatchrc file.
type hatchRC struct {
	Config string // devcontainer config directory (same as --config / -C)
}

// loadHatchRC reads a .hatchrc file from cwd. Returns nil, nil if not found.
// Format: simple "key = value" pairs, lines starting with # are comments.
func loadHatchRC() (*hatchRC, error) {
	cwd, err := os.Getwd()
	if err != nil {
		return nil, err
	}

	f, err := os.Open(filepath.Join(cwd, ".hatchrc"))
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	defer func() { _ = f.Close() }()

	rc := &hatchRC{}
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		key, val, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		switch strings.TrimSpace(key) {
		case "config":
			rc.Config = strings.TrimSpace(val)
		}
	}
	return rc, scanner.Err()
}
